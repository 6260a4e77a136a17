// Package bolt implements store.Backend on bbolt, as a schemaless document
// store.
//
// Buckets:
//
//	documents  id -> JSON state
//	children   parent_id 0x00 name -> id
//	locks      id -> JSON lock
//
// bbolt keeps keys in byte order, so scanning the documents bucket yields
// the id order the contract requires. Find filters with queryir.Match.
package bolt

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/roach88/nxdoc/internal/model"
	"github.com/roach88/nxdoc/internal/queryir"
	"github.com/roach88/nxdoc/internal/store"
)

// Bucket is a bbolt bucket name.
type Bucket []byte

var (
	bucketDocuments = Bucket("documents")
	bucketChildren  = Bucket("children")
	bucketLocks     = Bucket("locks")
)

// Store is a bbolt-backed document store.
type Store struct {
	db   *bolt.DB
	path string

	// bucketQueue contains the buckets to create upon Open.
	bucketQueue []Bucket
}

var _ store.Backend = (*Store)(nil)

// Open opens or creates the database file at path and creates the buckets.
func Open(path string) (*Store, error) {
	s := &Store{path: path}
	s.RegisterBuckets(bucketDocuments, bucketChildren, bucketLocks)

	if err := os.MkdirAll(filepath.Dir(path), 0o777); err != nil {
		return nil, fmt.Errorf("mkdir %s: %w", filepath.Dir(path), err)
	}
	db, err := bolt.Open(path, 0o666, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open file %s: %w", path, err)
	}
	s.db = db

	if err := s.initializeBuckets(s.bucketQueue...); err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing buckets: %w", err)
	}
	s.bucketQueue = nil
	return s, nil
}

// RegisterBuckets queues up buckets to be created when the database is
// opened.
func (s *Store) RegisterBuckets(buckets ...Bucket) {
	s.bucketQueue = append(s.bucketQueue, buckets...)
}

func (s *Store) initializeBuckets(buckets ...Bucket) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		for _, b := range buckets {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return fmt.Errorf("creating bucket %s: %w", b, err)
			}
		}
		return nil
	})
}

// Close closes the database.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Path returns the database file path.
func (s *Store) Path() string { return s.path }

// view runs fn in a read-only transaction, checking ctx first.
func (s *Store) view(ctx context.Context, fn func(tx *bolt.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.View(fn)
}

// update runs fn in a writable transaction, checking ctx first.
func (s *Store) update(ctx context.Context, fn func(tx *bolt.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(fn)
}

// Get returns a document by id.
func (s *Store) Get(ctx context.Context, id string) (*model.State, error) {
	var st *model.State
	err := s.view(ctx, func(tx *bolt.Tx) error {
		var err error
		st, err = load(tx, []byte(id))
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", id, err)
	}
	if st == nil {
		return nil, store.NotFound(id)
	}
	return st, nil
}

// GetChild returns the child of parentID named name.
func (s *Store) GetChild(ctx context.Context, parentID, name string) (*model.State, error) {
	var st *model.State
	err := s.view(ctx, func(tx *bolt.Tx) error {
		id := tx.Bucket(bucketChildren).Get(childKey(parentID, name))
		if id == nil {
			return nil
		}
		var err error
		st, err = load(tx, id)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("get child %q of %s: %w", name, parentID, err)
	}
	if st == nil {
		return nil, store.ChildNotFound(parentID, name)
	}
	return st, nil
}

// GetChildren returns the children of parentID ordered by id.
func (s *Store) GetChildren(ctx context.Context, parentID string) ([]*model.State, error) {
	var out []*model.State
	err := s.view(ctx, func(tx *bolt.Tx) error {
		prefix := childKey(parentID, "")
		c := tx.Bucket(bucketChildren).Cursor()
		for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			st, err := load(tx, v)
			if err != nil {
				return err
			}
			if st != nil {
				out = append(out, st)
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("get children of %s: %w", parentID, err)
	}
	store.SortByID(out)
	return out, nil
}

// Find scans the documents bucket and returns the states matching sel.
func (s *Store) Find(ctx context.Context, sel *queryir.Select) ([]*model.State, error) {
	var out []*model.State
	err := s.view(ctx, func(tx *bolt.Tx) error {
		return tx.Bucket(bucketDocuments).ForEach(func(k, v []byte) error {
			st, err := model.UnmarshalState(v)
			if err != nil {
				return fmt.Errorf("document %s: %w", k, err)
			}
			if !queryir.Match(sel, st) {
				return nil
			}
			if err := attachLock(tx, st); err != nil {
				return err
			}
			out = append(out, st)
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("find: %w", err)
	}
	return out, nil
}

// Apply writes a batch in one bbolt transaction.
func (s *Store) Apply(ctx context.Context, batch store.Batch) error {
	if batch.Empty() {
		return nil
	}
	if err := store.ValidateBatch(batch); err != nil {
		return fmt.Errorf("apply: %w", err)
	}

	err := s.update(ctx, func(tx *bolt.Tx) error {
		docs := tx.Bucket(bucketDocuments)
		children := tx.Bucket(bucketChildren)
		locks := tx.Bucket(bucketLocks)

		for _, id := range batch.Deletes {
			old, err := load(tx, []byte(id))
			if err != nil {
				return err
			}
			if old == nil {
				continue
			}
			if err := unindex(children, old); err != nil {
				return err
			}
			if err := docs.Delete([]byte(id)); err != nil {
				return fmt.Errorf("delete %s: %w", id, err)
			}
			if err := locks.Delete([]byte(id)); err != nil {
				return fmt.Errorf("delete lock %s: %w", id, err)
			}
		}

		for _, st := range batch.Updates {
			old, err := load(tx, []byte(st.ID))
			if err != nil {
				return err
			}
			if old == nil {
				return store.MissingForUpdate(st.ID)
			}
			if err := unindex(children, old); err != nil {
				return err
			}
			if err := put(docs, children, st); err != nil {
				return err
			}
		}

		for _, st := range batch.Creates {
			if docs.Get([]byte(st.ID)) != nil {
				return store.AlreadyExists(st.ID)
			}
			if err := put(docs, children, st); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("apply: %w", err)
	}
	return nil
}

func put(docs, children *bolt.Bucket, st *model.State) error {
	data, err := model.MarshalState(st)
	if err != nil {
		return err
	}
	if st.ParentID != "" {
		key := childKey(st.ParentID, st.Name)
		if id := children.Get(key); id != nil && string(id) != st.ID {
			return store.NameTaken(st.ParentID, st.Name)
		}
		if err := children.Put(key, []byte(st.ID)); err != nil {
			return fmt.Errorf("index %s: %w", st.ID, err)
		}
	}
	if err := docs.Put([]byte(st.ID), data); err != nil {
		return fmt.Errorf("put %s: %w", st.ID, err)
	}
	return nil
}

func unindex(children *bolt.Bucket, st *model.State) error {
	if st.ParentID == "" {
		return nil
	}
	key := childKey(st.ParentID, st.Name)
	if id := children.Get(key); id != nil && string(id) == st.ID {
		if err := children.Delete(key); err != nil {
			return fmt.Errorf("unindex %s: %w", st.ID, err)
		}
	}
	return nil
}

// childKey is parentID 0x00 name; ids never contain 0x00.
func childKey(parentID, name string) []byte {
	k := make([]byte, 0, len(parentID)+1+len(name))
	k = append(k, parentID...)
	k = append(k, 0)
	return append(k, name...)
}

// load reads a state and attaches its lock. It returns nil when absent.
func load(tx *bolt.Tx, id []byte) (*model.State, error) {
	data := tx.Bucket(bucketDocuments).Get(id)
	if data == nil {
		return nil, nil
	}
	st, err := model.UnmarshalState(data)
	if err != nil {
		return nil, fmt.Errorf("document %s: %w", id, err)
	}
	if err := attachLock(tx, st); err != nil {
		return nil, err
	}
	return st, nil
}

func attachLock(tx *bolt.Tx, st *model.State) error {
	lock, err := getLock(tx, st.ID)
	if err != nil {
		return err
	}
	st.Lock = lock
	return nil
}

func getLock(tx *bolt.Tx, id string) (*model.Lock, error) {
	data := tx.Bucket(bucketLocks).Get([]byte(id))
	if data == nil {
		return nil, nil
	}
	var lock model.Lock
	if err := json.Unmarshal(data, &lock); err != nil {
		return nil, fmt.Errorf("lock %s: %w", id, err)
	}
	return &lock, nil
}

// SetLock locks id unless it is already locked.
func (s *Store) SetLock(ctx context.Context, id string, lock model.Lock) (*model.Lock, error) {
	var existing *model.Lock
	err := s.update(ctx, func(tx *bolt.Tx) error {
		if tx.Bucket(bucketDocuments).Get([]byte(id)) == nil {
			return store.NotFound(id)
		}
		var err error
		existing, err = getLock(tx, id)
		if err != nil || existing != nil {
			return err
		}
		lock.Created = lock.Created.UTC()
		data, err := json.Marshal(lock)
		if err != nil {
			return fmt.Errorf("marshal lock: %w", err)
		}
		return tx.Bucket(bucketLocks).Put([]byte(id), data)
	})
	if err != nil {
		return nil, fmt.Errorf("set lock %s: %w", id, err)
	}
	return existing, nil
}

// RemoveLock removes the lock of id. A non-empty owner must match.
func (s *Store) RemoveLock(ctx context.Context, id, owner string) (*model.Lock, error) {
	var existing *model.Lock
	err := s.update(ctx, func(tx *bolt.Tx) error {
		var err error
		existing, err = getLock(tx, id)
		if err != nil || existing == nil {
			return err
		}
		if owner != "" && existing.Owner != owner {
			return store.LockedBy(id, existing)
		}
		return tx.Bucket(bucketLocks).Delete([]byte(id))
	})
	if err != nil {
		return nil, fmt.Errorf("remove lock %s: %w", id, err)
	}
	return existing, nil
}
