package cli

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/roach88/nxdoc/internal/blob"
	"github.com/roach88/nxdoc/internal/core"
	"github.com/roach88/nxdoc/internal/event"
	"github.com/roach88/nxdoc/internal/metrics"
	"github.com/roach88/nxdoc/internal/schema"
	"github.com/roach88/nxdoc/internal/scroll"
	"github.com/roach88/nxdoc/internal/security"
	"github.com/roach88/nxdoc/internal/store"
	"github.com/roach88/nxdoc/internal/store/bolt"
	"github.com/roach88/nxdoc/internal/store/sqlite"
)

// env is an open repository with everything a command needs.
type env struct {
	cfg      Config
	repo     *core.Repository
	backend  store.Backend
	logger   *slog.Logger
	registry *prometheus.Registry
	closers  []io.Closer
}

// newLogger returns the text logger of the CLI. Logs go to w so that they
// never mix with command output.
func newLogger(w io.Writer, verbose bool) *slog.Logger {
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

// loadRegistry loads the configured schema directory, or the built-in
// registry.
func loadRegistry(dir string) (*schema.Registry, error) {
	if dir == "" {
		return schema.Default(), nil
	}
	return schema.LoadDir(dir)
}

// openEnv opens the backend, blob store and repository described by opts.
func openEnv(ctx context.Context, opts *RootOptions, errOut io.Writer) (*env, error) {
	cfg, err := LoadConfig(opts.Config)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to load config", err)
	}
	if opts.Data != "" {
		cfg.Data = opts.Data
	}
	if opts.Backend != "" {
		cfg.Backend = opts.Backend
		if err := cfg.Validate(); err != nil {
			return nil, WrapExitError(ExitCommandError, "invalid --backend", err)
		}
	}
	logger := newLogger(errOut, opts.Verbose)

	reg, err := loadRegistry(cfg.Schemas)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to load schemas", err)
	}
	if err := os.MkdirAll(cfg.Data, 0o755); err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to create data directory", err)
	}

	e := &env{cfg: cfg, logger: logger, registry: prometheus.NewRegistry()}
	switch cfg.Backend {
	case BackendBolt:
		st, err := bolt.Open(filepath.Join(cfg.Data, "nxdoc.bolt"))
		if err != nil {
			return nil, WrapExitError(ExitCommandError, "failed to open bolt backend", err)
		}
		e.backend = st
		e.closers = append(e.closers, st)
	default:
		st, err := sqlite.Open(filepath.Join(cfg.Data, "nxdoc.db"))
		if err != nil {
			return nil, WrapExitError(ExitCommandError, "failed to open sqlite backend", err)
		}
		e.backend = st
		e.closers = append(e.closers, st)
	}

	blobs, err := blob.Open(filepath.Join(cfg.Data, "blobs"))
	if err != nil {
		e.Close()
		return nil, WrapExitError(ExitCommandError, "failed to open blob store", err)
	}
	m := metrics.New(e.registry)
	repo, err := core.Open(ctx, e.backend, reg,
		core.WithLogger(logger),
		core.WithMetrics(m),
		core.WithEventSink(event.LogSink{Logger: logger}),
		core.WithBlobs(blobs),
		core.WithCleanupWorkers(cfg.Workers),
		core.WithScrolls(scroll.NewRegistry(
			scroll.WithLogger(logger),
			scroll.WithMetrics(m))),
	)
	if err != nil {
		e.Close()
		return nil, WrapExitError(ExitCommandError, "failed to open repository", err)
	}
	e.repo = repo
	logger.Debug("repository ready", "backend", cfg.Backend, "data", cfg.Data)
	return e, nil
}

// Close waits for async repository work, then closes the backend.
func (e *env) Close() {
	if e.repo != nil {
		if err := e.repo.Close(); err != nil {
			e.logger.Error("error closing repository", "error", err)
		}
	}
	for _, c := range e.closers {
		if err := c.Close(); err != nil {
			e.logger.Error("error closing backend", "error", err)
		}
	}
	if e.logger.Enabled(context.Background(), slog.LevelDebug) {
		e.logMetrics()
	}
}

// logMetrics logs the repository counters gathered during the command.
func (e *env) logMetrics() {
	families, err := e.registry.Gather()
	if err != nil {
		e.logger.Warn("gather metrics", "error", err)
		return
	}
	for _, fam := range families {
		for _, m := range fam.GetMetric() {
			var value float64
			switch {
			case m.GetCounter() != nil:
				value = m.GetCounter().GetValue()
			case m.GetGauge() != nil:
				value = m.GetGauge().GetValue()
			case m.GetHistogram() != nil:
				value = float64(m.GetHistogram().GetSampleCount())
			}
			var labels []string
			for _, l := range m.GetLabel() {
				labels = append(labels, l.GetName()+"="+l.GetValue())
			}
			e.logger.Debug("metric", "name", fam.GetName(), "labels", strings.Join(labels, ","), "value", value)
		}
	}
}

// session opens a session for the principal named by the global flags.
func (e *env) session(opts *RootOptions) (*core.Session, error) {
	s, err := e.repo.NewSession(opts.Principal())
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open session", err)
	}
	return s, nil
}

// Principal returns the principal named by the global flags.
func (o *RootOptions) Principal() security.Principal {
	if o.Admin {
		return security.Principal{
			Name:          o.User,
			Groups:        append([]string{core.AdministratorsGroup}, o.Groups...),
			Administrator: true,
		}
	}
	return security.Principal{
		Name:   o.User,
		Groups: append([]string{core.MembersGroup}, o.Groups...),
	}
}

// commandContext returns the command context, or a background one.
func commandContext(ctx context.Context) context.Context {
	if ctx == nil {
		return context.Background()
	}
	return ctx
}
