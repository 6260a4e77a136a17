// Package sqlite implements store.Backend on SQLite.
//
// Each document is one row of the documents table: the JSON state plus
// indexed system columns. Find compiles the pushdown Select with package
// querysql; everything else is plain parameterized SQL.
package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"time"

	sqlite3 "github.com/mattn/go-sqlite3"

	"github.com/roach88/nxdoc/internal/model"
	"github.com/roach88/nxdoc/internal/queryir"
	"github.com/roach88/nxdoc/internal/querysql"
	"github.com/roach88/nxdoc/internal/store"
)

//go:embed schema.sql
var schemaSQL string

// Schema version tracking:
// 0 - Initial schema (pre-migration)
// 1 - Added idx_documents_type_kind
const currentSchemaVersion = 1

// Store is a SQLite-backed document store.
type Store struct {
	db       *sql.DB
	compiler *querysql.SQLCompiler
}

var _ store.Backend = (*Store)(nil)

// Open creates or opens a SQLite database at the given path.
// Applies required pragmas and migrations automatically.
//
// The database is configured with:
//   - WAL mode for concurrent reads during writes
//   - NORMAL synchronous mode (balance durability/performance)
//   - 5-second busy timeout for lock contention
//   - Foreign key enforcement
//
// This function is idempotent - safe to call multiple times.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// SQLite only supports one writer at a time
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply pragmas: %w", err)
	}

	if err := applySchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return &Store{db: db, compiler: querysql.NewSQLCompiler()}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// DB returns the underlying sql.DB for direct queries.
// Use with caution - prefer using Store methods when available.
func (s *Store) DB() *sql.DB {
	return s.db
}

// applyPragmas sets required SQLite configuration.
func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}

	return nil
}

// applySchema creates tables if they don't exist and runs migrations.
func applySchema(db *sql.DB) error {
	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}

	if err := runMigrations(db); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// runMigrations applies incremental schema migrations based on user_version.
func runMigrations(db *sql.DB) error {
	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("get user_version: %w", err)
	}

	if version < 1 {
		if err := migrateToV1(db); err != nil {
			return err
		}
	}

	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}

	return nil
}

// migrateToV1 adds the type/kind index to databases created before it
// was part of schema.sql.
func migrateToV1(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_documents_type_kind
		ON documents(type, kind)
	`)
	if err != nil {
		return fmt.Errorf("migrate to v1: %w", err)
	}
	return nil
}

// verifyPragma checks that a pragma is set to the expected value.
// Used for testing.
func (s *Store) verifyPragma(name, expected string) error {
	var value string
	query := fmt.Sprintf("PRAGMA %s", name)
	if err := s.db.QueryRow(query).Scan(&value); err != nil {
		return fmt.Errorf("failed to query %s: %w", name, err)
	}
	if value != expected {
		return fmt.Errorf("%s = %q, expected %q", name, value, expected)
	}
	return nil
}

// Get returns a document by id.
func (s *Store) Get(ctx context.Context, id string) (*model.State, error) {
	states, err := s.Find(ctx, &queryir.Select{Where: []queryir.Condition{
		&queryir.Equals{Field: queryir.Field{Column: queryir.ColumnID}, Value: model.String(id)},
	}})
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", id, err)
	}
	if len(states) == 0 {
		return nil, store.NotFound(id)
	}
	return states[0], nil
}

// GetChild returns the child of parentID named name.
func (s *Store) GetChild(ctx context.Context, parentID, name string) (*model.State, error) {
	states, err := s.Find(ctx, &queryir.Select{Where: []queryir.Condition{
		&queryir.Equals{Field: queryir.Field{Column: queryir.ColumnParentID}, Value: model.String(parentID)},
		&queryir.Equals{Field: queryir.Field{Column: queryir.ColumnName}, Value: model.String(name)},
	}})
	if err != nil {
		return nil, fmt.Errorf("get child %q of %s: %w", name, parentID, err)
	}
	if len(states) == 0 {
		return nil, store.ChildNotFound(parentID, name)
	}
	return states[0], nil
}

// GetChildren returns the children of parentID ordered by id.
func (s *Store) GetChildren(ctx context.Context, parentID string) ([]*model.State, error) {
	states, err := s.Find(ctx, &queryir.Select{Where: []queryir.Condition{
		&queryir.Equals{Field: queryir.Field{Column: queryir.ColumnParentID}, Value: model.String(parentID)},
	}})
	if err != nil {
		return nil, fmt.Errorf("get children of %s: %w", parentID, err)
	}
	return states, nil
}

// Find returns the documents matching sel, ordered by id.
func (s *Store) Find(ctx context.Context, sel *queryir.Select) ([]*model.State, error) {
	query, params, err := s.compiler.Compile(sel)
	if err != nil {
		return nil, fmt.Errorf("find: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, params...)
	if err != nil {
		return nil, fmt.Errorf("find: %w", err)
	}
	defer rows.Close()

	var out []*model.State
	for rows.Next() {
		st, err := scanState(rows)
		if err != nil {
			return nil, fmt.Errorf("find: %w", err)
		}
		out = append(out, st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("find: iterate: %w", err)
	}
	return out, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanState(row scanner) (*model.State, error) {
	var (
		data    string
		owner   sql.NullString
		created sql.NullString
	)
	if err := row.Scan(&data, &owner, &created); err != nil {
		return nil, fmt.Errorf("scan: %w", err)
	}
	st, err := model.UnmarshalState([]byte(data))
	if err != nil {
		return nil, err
	}
	if owner.Valid {
		lock, err := parseLock(owner.String, created.String)
		if err != nil {
			return nil, fmt.Errorf("document %s: %w", st.ID, err)
		}
		st.Lock = lock
	}
	return st, nil
}

func parseLock(owner, created string) (*model.Lock, error) {
	t, err := time.Parse(time.RFC3339Nano, created)
	if err != nil {
		return nil, fmt.Errorf("parse lock time: %w", err)
	}
	return &model.Lock{Owner: owner, Created: t.UTC()}, nil
}

// Apply writes a batch in one transaction.
func (s *Store) Apply(ctx context.Context, batch store.Batch) error {
	if batch.Empty() {
		return nil
	}
	if err := store.ValidateBatch(batch); err != nil {
		return fmt.Errorf("apply: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("apply: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	for _, id := range batch.Deletes {
		if _, err := tx.ExecContext(ctx, `DELETE FROM documents WHERE id = ?`, id); err != nil {
			return fmt.Errorf("apply: delete %s: %w", id, err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM locks WHERE id = ?`, id); err != nil {
			return fmt.Errorf("apply: delete lock %s: %w", id, err)
		}
	}

	for _, st := range batch.Updates {
		data, err := model.MarshalState(st)
		if err != nil {
			return fmt.Errorf("apply: %w", err)
		}
		res, err := tx.ExecContext(ctx, `
			UPDATE documents SET
				kind = ?, type = ?, parent_id = ?, name = ?, series_id = ?,
				target_id = ?, lifecycle_state = ?, change_token = ?, state = ?
			WHERE id = ?
		`,
			int64(st.Kind), st.Type, nullable(st.ParentID), nullable(st.Name), nullable(st.SeriesID),
			nullable(st.TargetID), nullable(st.LifecycleState), st.ChangeToken, string(data),
			st.ID,
		)
		if err != nil {
			return fmt.Errorf("apply: update %s: %w", st.ID, constraintError(st, err))
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("apply: update %s: rows affected: %w", st.ID, err)
		}
		if n == 0 {
			return fmt.Errorf("apply: %w", store.MissingForUpdate(st.ID))
		}
	}

	for _, st := range batch.Creates {
		var exists bool
		if err := tx.QueryRowContext(ctx,
			`SELECT EXISTS(SELECT 1 FROM documents WHERE id = ?)`, st.ID,
		).Scan(&exists); err != nil {
			return fmt.Errorf("apply: create %s: %w", st.ID, err)
		}
		if exists {
			return fmt.Errorf("apply: %w", store.AlreadyExists(st.ID))
		}
		data, err := model.MarshalState(st)
		if err != nil {
			return fmt.Errorf("apply: %w", err)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO documents
			(id, kind, type, parent_id, name, series_id, target_id, lifecycle_state, change_token, state)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`,
			st.ID, int64(st.Kind), st.Type, nullable(st.ParentID), nullable(st.Name), nullable(st.SeriesID),
			nullable(st.TargetID), nullable(st.LifecycleState), st.ChangeToken, string(data),
		)
		if err != nil {
			return fmt.Errorf("apply: create %s: %w", st.ID, constraintError(st, err))
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("apply: commit: %w", err)
	}
	return nil
}

// constraintError maps a parent/name uniqueness violation to the
// backend-independent conflict error.
func constraintError(st *model.State, err error) error {
	var se sqlite3.Error
	if errors.As(err, &se) && se.ExtendedCode == sqlite3.ErrConstraintUnique {
		return store.NameTaken(st.ParentID, st.Name)
	}
	return err
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// SetLock locks id unless it is already locked.
func (s *Store) SetLock(ctx context.Context, id string, lock model.Lock) (*model.Lock, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("set lock: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	var exists bool
	if err := tx.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM documents WHERE id = ?)`, id,
	).Scan(&exists); err != nil {
		return nil, fmt.Errorf("set lock %s: %w", id, err)
	}
	if !exists {
		return nil, store.NotFound(id)
	}

	res, err := tx.ExecContext(ctx, `
		INSERT INTO locks (id, owner, created) VALUES (?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`, id, lock.Owner, lock.Created.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return nil, fmt.Errorf("set lock %s: insert: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("set lock %s: rows affected: %w", id, err)
	}

	var existing *model.Lock
	if n == 0 {
		existing, err = readLock(ctx, tx, id)
		if err != nil {
			return nil, fmt.Errorf("set lock %s: %w", id, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("set lock %s: commit: %w", id, err)
	}
	return existing, nil
}

// RemoveLock removes the lock of id. A non-empty owner must match.
func (s *Store) RemoveLock(ctx context.Context, id, owner string) (*model.Lock, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("remove lock: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	existing, err := readLock(ctx, tx, id)
	if err != nil {
		return nil, fmt.Errorf("remove lock %s: %w", id, err)
	}
	if existing == nil {
		return nil, nil
	}
	if owner != "" && existing.Owner != owner {
		return nil, store.LockedBy(id, existing)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM locks WHERE id = ?`, id); err != nil {
		return nil, fmt.Errorf("remove lock %s: delete: %w", id, err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("remove lock %s: commit: %w", id, err)
	}
	return existing, nil
}

func readLock(ctx context.Context, tx *sql.Tx, id string) (*model.Lock, error) {
	var owner, created string
	err := tx.QueryRowContext(ctx, `SELECT owner, created FROM locks WHERE id = ?`, id).Scan(&owner, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read lock: %w", err)
	}
	return parseLock(owner, created)
}
