package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"PlumFinder/internal/config"
	"PlumFinder/internal/ports"
)

// ErrNoBackend means neither a primary DSN nor a local path was configured.
var ErrNoBackend = errors.New("no seen store backend configured")

// Backend is implemented by stores that can name their engine.
type Backend interface {
	Backend() string
}

// BackendName returns the engine of a store or "unknown".
func BackendName(store ports.SeenStore) string {
	if b, ok := store.(Backend); ok {
		return b.Backend()
	}
	return "unknown"
}

// Open selects the seen store for this run. A reachable primary is wrapped so
// that a later primary error switches the remainder of the run to the local
// SQLite file. An unreachable primary selects local right away.
func Open(ctx context.Context, cfg config.StoreConfig, logger *zap.Logger) (ports.SeenStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	openLocal := func(ctx context.Context) (ports.SeenStore, error) {
		return OpenSQLite(ctx, cfg.LocalPath)
	}

	dsn := strings.TrimSpace(cfg.DSN)
	if dsn == "" {
		if cfg.LocalPath == "" {
			return nil, ErrNoBackend
		}
		logger.Info("seen store selected", zap.String("backend", string(DialectSQLite)), zap.String("path", cfg.LocalPath))
		return openLocal(ctx)
	}

	primary, err := openPrimary(ctx, dsn, cfg.ConnTimeout)
	if err != nil {
		if cfg.LocalPath == "" {
			return nil, fmt.Errorf("primary seen store: %w", err)
		}
		logger.Warn("primary seen store unreachable, using local",
			zap.String("path", cfg.LocalPath), zap.Error(err))
		return openLocal(ctx)
	}

	logger.Info("seen store selected", zap.String("backend", BackendName(primary)))
	if cfg.LocalPath == "" {
		return primary, nil
	}
	return NewFailoverStore(primary, openLocal, logger), nil
}

func openPrimary(ctx context.Context, dsn string, timeout time.Duration) (ports.SeenStore, error) {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	switch {
	case strings.HasPrefix(dsn, "postgres://"), strings.HasPrefix(dsn, "postgresql://"):
		return OpenPostgres(pingCtx, dsn)
	case strings.HasPrefix(dsn, "redis://"), strings.HasPrefix(dsn, "rediss://"):
		client, err := NewRedisClient(dsn, timeout)
		if err != nil {
			return nil, err
		}
		store := NewRedisStore(client, "")
		if err := store.Ping(pingCtx); err != nil {
			_ = store.Close()
			return nil, err
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unsupported seen store dsn scheme %q", schemeOf(dsn))
	}
}

// OpenPostgres connects, pings and migrates a Postgres store.
func OpenPostgres(ctx context.Context, dsn string) (*SQLStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	store := NewSQLStore(db, DialectPostgres)
	if err := store.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// OpenSQLite opens the local file store, creating parent directories.
func OpenSQLite(ctx context.Context, path string) (*SQLStore, error) {
	if path == "" {
		return nil, ErrNoBackend
	}
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create store dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", "file:"+path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	store := NewSQLStore(db, DialectSQLite)
	if err := store.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func schemeOf(dsn string) string {
	if scheme, _, ok := strings.Cut(dsn, "://"); ok {
		return scheme
	}
	return dsn
}
