package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"PlumFinder/internal/config"
	"PlumFinder/internal/domain"
	"PlumFinder/internal/ports"
)

type memStore struct {
	name    string
	records map[string]domain.SeenRecord
	err     error
	calls   int
	closed  bool
}

func newMemStore(name string) *memStore {
	return &memStore{name: name, records: make(map[string]domain.SeenRecord)}
}

func (m *memStore) Backend() string { return m.name }

func (m *memStore) Exists(_ context.Context, fp string) (bool, error) {
	m.calls++
	if m.err != nil {
		return false, m.err
	}
	_, ok := m.records[fp]
	return ok, nil
}

func (m *memStore) ExistsMany(_ context.Context, fps []string) (map[string]bool, error) {
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	out := make(map[string]bool)
	for _, fp := range fps {
		if _, ok := m.records[fp]; ok {
			out[fp] = true
		}
	}
	return out, nil
}

func (m *memStore) Record(_ context.Context, rec domain.SeenRecord) (bool, error) {
	m.calls++
	if m.err != nil {
		return false, m.err
	}
	if _, ok := m.records[rec.Fingerprint]; ok {
		return false, nil
	}
	m.records[rec.Fingerprint] = rec
	return true, nil
}

func (m *memStore) Reset(context.Context) error {
	m.calls++
	if m.err != nil {
		return m.err
	}
	m.records = make(map[string]domain.SeenRecord)
	return nil
}

func (m *memStore) Prune(context.Context, time.Time) (int64, error) {
	m.calls++
	return 0, m.err
}

func (m *memStore) Count(context.Context) (int64, error) {
	m.calls++
	if m.err != nil {
		return 0, m.err
	}
	return int64(len(m.records)), nil
}

func (m *memStore) Close() error {
	m.closed = true
	return nil
}

func TestFailoverSwitchesOnPrimaryErrorAndRetries(t *testing.T) {
	primary := newMemStore("postgres")
	local := newMemStore("sqlite")
	opened := 0
	store := NewFailoverStore(primary, func(context.Context) (ports.SeenStore, error) {
		opened++
		return local, nil
	}, zaptest.NewLogger(t))
	ctx := context.Background()

	inserted, err := store.Record(ctx, domain.SeenRecord{Fingerprint: "ebay:1", Source: "ebay"})
	require.NoError(t, err)
	assert.True(t, inserted)
	assert.Equal(t, "postgres", store.Backend())

	primary.err = errors.New("connection reset")
	inserted, err = store.Record(ctx, domain.SeenRecord{Fingerprint: "ebay:2", Source: "ebay"})
	require.NoError(t, err)
	assert.True(t, inserted, "failed op is retried on local")
	assert.True(t, store.FailedOver())
	assert.Equal(t, "sqlite", store.Backend())
	assert.True(t, primary.closed)

	// The primary is never consulted again, even once healthy.
	primary.err = nil
	primaryCalls := primary.calls
	_, err = store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, primaryCalls, primary.calls)
	assert.Equal(t, 1, opened)
}

func TestFailoverLocalErrorIsFatal(t *testing.T) {
	primary := newMemStore("redis")
	primary.err = errors.New("primary down")
	local := newMemStore("sqlite")
	local.err = errors.New("disk full")

	store := NewFailoverStore(primary, func(context.Context) (ports.SeenStore, error) {
		return local, nil
	}, nil)

	_, err := store.Exists(context.Background(), "x")
	require.Error(t, err)
	assert.ErrorContains(t, err, "disk full")
}

func TestFailoverOpenErrorJoinsCause(t *testing.T) {
	primary := newMemStore("redis")
	primary.err = errors.New("primary down")
	store := NewFailoverStore(primary, func(context.Context) (ports.SeenStore, error) {
		return nil, errors.New("read-only fs")
	}, nil)

	err := store.Reset(context.Background())
	require.Error(t, err)
	assert.ErrorContains(t, err, "primary down")
	assert.ErrorContains(t, err, "read-only fs")
	assert.False(t, store.FailedOver())
}

func TestFailoverCanceledContextDoesNotSwitch(t *testing.T) {
	primary := newMemStore("postgres")
	primary.err = context.Canceled
	store := NewFailoverStore(primary, func(context.Context) (ports.SeenStore, error) {
		t.Fatal("fallback must not open on cancellation")
		return nil, nil
	}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := store.Count(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestOpenSelectsBackends(t *testing.T) {
	ctx := context.Background()
	logger := zaptest.NewLogger(t)
	localPath := filepath.Join(t.TempDir(), "seen.db")

	t.Run("empty dsn uses local", func(t *testing.T) {
		store, err := Open(ctx, config.StoreConfig{LocalPath: localPath}, logger)
		require.NoError(t, err)
		defer store.Close()
		assert.Equal(t, "sqlite", BackendName(store))
	})

	t.Run("unreachable primary uses local", func(t *testing.T) {
		store, err := Open(ctx, config.StoreConfig{
			DSN:         "redis://127.0.0.1:1/0",
			LocalPath:   localPath,
			ConnTimeout: 200 * time.Millisecond,
		}, logger)
		require.NoError(t, err)
		defer store.Close()
		assert.Equal(t, "sqlite", BackendName(store))
	})

	t.Run("reachable redis is wrapped with failover", func(t *testing.T) {
		mr := miniredis.RunT(t)
		store, err := Open(ctx, config.StoreConfig{
			DSN:         "redis://" + mr.Addr() + "/0",
			LocalPath:   localPath,
			ConnTimeout: time.Second,
		}, logger)
		require.NoError(t, err)
		defer store.Close()
		assert.IsType(t, &FailoverStore{}, store)
		assert.Equal(t, "redis", BackendName(store))
	})

	t.Run("unknown scheme without local fails", func(t *testing.T) {
		_, err := Open(ctx, config.StoreConfig{DSN: "mysql://x"}, logger)
		assert.ErrorContains(t, err, "mysql")
	})

	t.Run("nothing configured", func(t *testing.T) {
		_, err := Open(ctx, config.StoreConfig{}, logger)
		assert.ErrorIs(t, err, ErrNoBackend)
	})
}
