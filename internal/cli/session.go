package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/roach88/normstore/internal/cell"
	"github.com/roach88/normstore/internal/config"
	"github.com/roach88/normstore/internal/entity"
	"github.com/roach88/normstore/internal/kv"
	"github.com/roach88/normstore/internal/persist"
	"github.com/roach88/normstore/internal/record"
)

// session is one attached collection: the config, the record cell and the
// adapter mirroring it into the configured backend.
type session struct {
	cfg     *config.Config
	ents    *entity.Adapter[record.Record, string]
	cell    *cell.Cell[*record.State]
	adapter *persist.Adapter[*record.State]
	backend kv.Backend
	metrics *prometheus.Registry
	log     *slog.Logger
}

// sessionError carries the CLI error code for a session that failed to open.
type sessionError struct {
	code string
	err  error
}

func (e *sessionError) Error() string { return e.err.Error() }
func (e *sessionError) Unwrap() error { return e.err }

// openSession loads the config and attaches the collection cell. Backend
// failures during attach are logged by the adapter and leave the collection
// empty.
func openSession(ctx context.Context, opts *RootOptions, logger *slog.Logger) (*session, error) {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return nil, &sessionError{code: ErrCodeConfigInvalid, err: err}
	}

	ents, err := record.NewAdapter(cfg.Sort.Field, cfg.Sort.Order)
	if err != nil {
		return nil, &sessionError{code: ErrCodeConfigInvalid, err: err}
	}

	backend, err := cfg.OpenBackend(ctx)
	if err != nil {
		return nil, &sessionError{code: ErrCodeBackend, err: err}
	}

	c := cell.New(cell.Key(cfg.Key), ents.Initial(), cell.WithEqual(cell.Same[record.State]))
	registry := prometheus.NewRegistry()
	adapter, err := persist.New(c, backend, persist.Options[*record.State]{
		DatabaseName: cfg.Database,
		StoreName:    cfg.Store,
		Key:          cfg.Key,
		Cleanup:      cfg.CleanupPredicate(),
		Timeout:      cfg.TimeoutDuration(),
		Logger:       logger,
		Metrics:      persist.NewMetrics(registry),
	})
	if err != nil {
		_ = backend.Close()
		return nil, &sessionError{code: ErrCodeConfigInvalid, err: err}
	}

	logger.Debug("attaching collection",
		"backend", cfg.Backend,
		"database", cfg.Database,
		"store", cfg.Store,
		"key", cfg.Key,
	)
	if err := adapter.Attach(ctx); err != nil {
		_ = backend.Close()
		return nil, &sessionError{code: ErrCodeGeneric, err: err}
	}

	return &session{
		cfg:     cfg,
		ents:    ents,
		cell:    c,
		adapter: adapter,
		backend: backend,
		metrics: registry,
		log:     logger,
	}, nil
}

// State returns the current collection.
func (s *session) State() *record.State {
	return s.cell.Get()
}

// Apply runs fn against the collection and returns the states before and
// after. They are the same pointer when fn changed nothing, in which case
// nothing is written.
func (s *session) Apply(fn func(*record.State) *record.State) (before, after *record.State) {
	s.cell.Update(func(prev *record.State) *record.State {
		before = prev
		after = fn(prev)
		return after
	})
	return before, after
}

// Close waits for pending writes, detaches the adapter and closes the backend.
func (s *session) Close(ctx context.Context) error {
	var errs []error
	if err := s.adapter.Flush(ctx); err != nil {
		errs = append(errs, fmt.Errorf("flush: %w", err))
	}
	if err := s.adapter.Close(ctx); err != nil {
		errs = append(errs, fmt.Errorf("close adapter: %w", err))
	}
	if err := s.backend.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close backend: %w", err))
	}
	s.logMetrics()
	return errors.Join(errs...)
}

// logMetrics writes the session's persistence counters at debug level.
func (s *session) logMetrics() {
	if !s.log.Enabled(context.Background(), slog.LevelDebug) {
		return
	}
	families, err := s.metrics.Gather()
	if err != nil {
		s.log.Debug("gather metrics failed", "error", err)
		return
	}
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			attrs := []any{"metric", mf.GetName()}
			for _, lp := range m.GetLabel() {
				attrs = append(attrs, lp.GetName(), lp.GetValue())
			}
			if c := m.GetCounter(); c != nil {
				attrs = append(attrs, "value", c.GetValue())
			}
			if h := m.GetHistogram(); h != nil {
				attrs = append(attrs, "count", h.GetSampleCount(), "sum_seconds", h.GetSampleSum())
			}
			s.log.Debug("persist metric", attrs...)
		}
	}
}

// withSession opens a session for cmd, runs fn and closes the session. Open
// failures are reported through formatter.
func withSession(cmd *cobra.Command, opts *RootOptions, formatter *OutputFormatter, fn func(*session) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	logger := opts.logger(cmd)

	s, err := openSession(ctx, opts, logger)
	if err != nil {
		code := ErrCodeGeneric
		var se *sessionError
		if errors.As(err, &se) {
			code = se.code
		}
		details := interface{}(nil)
		var ve *config.ValidationError
		if errors.As(err, &ve) {
			details = ve.Issues
		}
		return formatter.Fail(ExitCommandError, code, err.Error(), details)
	}

	runErr := fn(s)
	if err := s.Close(ctx); err != nil {
		logger.Warn("session close failed", "error", err)
	}
	return runErr
}
