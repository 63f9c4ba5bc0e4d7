package storage

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"PlumFinder/internal/domain"
	"PlumFinder/internal/ports"
)

// FallbackOpener opens the store used after the primary fails.
type FallbackOpener func(ctx context.Context) (ports.SeenStore, error)

// FailoverStore forwards to the primary until its first failure, then
// switches to the fallback for the rest of its lifetime and repeats the
// failed operation there. Fallback errors are returned as-is.
type FailoverStore struct {
	mu           sync.Mutex
	primary      ports.SeenStore
	fallback     ports.SeenStore
	openFallback FallbackOpener
	failedOver   bool
	logger       *zap.Logger
}

var _ ports.SeenStore = (*FailoverStore)(nil)

// NewFailoverStore wraps a primary store with a lazily opened fallback.
func NewFailoverStore(primary ports.SeenStore, openFallback FallbackOpener, logger *zap.Logger) *FailoverStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FailoverStore{primary: primary, openFallback: openFallback, logger: logger}
}

// Backend reports the store currently serving requests.
func (f *FailoverStore) Backend() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failedOver {
		return BackendName(f.fallback)
	}
	return BackendName(f.primary)
}

// FailedOver reports whether the primary was abandoned.
func (f *FailoverStore) FailedOver() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.failedOver
}

func (f *FailoverStore) active() (ports.SeenStore, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failedOver {
		return f.fallback, false
	}
	return f.primary, true
}

func (f *FailoverStore) switchOver(ctx context.Context, op string, cause error) (ports.SeenStore, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failedOver {
		return f.fallback, nil
	}

	fallback, err := f.openFallback(ctx)
	if err != nil {
		return nil, fmt.Errorf("open fallback store: %w", errors.Join(cause, err))
	}
	f.logger.Warn("primary seen store failed, switching to local",
		zap.String("op", op),
		zap.String("primary", BackendName(f.primary)),
		zap.Error(cause))

	if closeErr := f.primary.Close(); closeErr != nil {
		f.logger.Debug("close primary seen store", zap.Error(closeErr))
	}
	f.fallback = fallback
	f.failedOver = true
	return fallback, nil
}

func (f *FailoverStore) do(ctx context.Context, op string, fn func(ports.SeenStore) error) error {
	store, onPrimary := f.active()
	err := fn(store)
	if err == nil || !onPrimary || ctx.Err() != nil {
		return err
	}

	fallback, switchErr := f.switchOver(ctx, op, err)
	if switchErr != nil {
		return switchErr
	}
	return fn(fallback)
}

func (f *FailoverStore) Exists(ctx context.Context, fingerprint string) (bool, error) {
	var ok bool
	err := f.do(ctx, "exists", func(s ports.SeenStore) error {
		var err error
		ok, err = s.Exists(ctx, fingerprint)
		return err
	})
	return ok, err
}

func (f *FailoverStore) ExistsMany(ctx context.Context, fingerprints []string) (map[string]bool, error) {
	var seen map[string]bool
	err := f.do(ctx, "exists_many", func(s ports.SeenStore) error {
		var err error
		seen, err = s.ExistsMany(ctx, fingerprints)
		return err
	})
	return seen, err
}

func (f *FailoverStore) Record(ctx context.Context, rec domain.SeenRecord) (bool, error) {
	var inserted bool
	err := f.do(ctx, "record", func(s ports.SeenStore) error {
		var err error
		inserted, err = s.Record(ctx, rec)
		return err
	})
	return inserted, err
}

func (f *FailoverStore) Reset(ctx context.Context) error {
	return f.do(ctx, "reset", func(s ports.SeenStore) error {
		return s.Reset(ctx)
	})
}

func (f *FailoverStore) Prune(ctx context.Context, olderThan time.Time) (int64, error) {
	var n int64
	err := f.do(ctx, "prune", func(s ports.SeenStore) error {
		var err error
		n, err = s.Prune(ctx, olderThan)
		return err
	})
	return n, err
}

func (f *FailoverStore) Count(ctx context.Context) (int64, error) {
	var n int64
	err := f.do(ctx, "count", func(s ports.SeenStore) error {
		var err error
		n, err = s.Count(ctx)
		return err
	})
	return n, err
}

// Close closes whichever store is active.
func (f *FailoverStore) Close() error {
	store, _ := f.active()
	return store.Close()
}
