package ports

import (
	"context"
	"image"
	"time"

	"PlumFinder/internal/domain"
)

// SeenStore persists fingerprints of items that were already delivered.
type SeenStore interface {
	Exists(ctx context.Context, fingerprint string) (bool, error)
	// ExistsMany returns the subset of fingerprints already recorded.
	ExistsMany(ctx context.Context, fingerprints []string) (map[string]bool, error)
	// Record is an idempotent upsert; it reports whether a new row was written.
	Record(ctx context.Context, rec domain.SeenRecord) (bool, error)
	Reset(ctx context.Context) error
	Prune(ctx context.Context, olderThan time.Time) (int64, error)
	Count(ctx context.Context) (int64, error)
	Close() error
}

// SeenStoreOpener selects and opens the seen store for one run.
type SeenStoreOpener func(ctx context.Context) (SeenStore, error)

// Deliverer hands the ranked digest to a notification channel.
type Deliverer interface {
	Channel() string
	Deliver(ctx context.Context, items []domain.DeliveryItem) (domain.DeliveryReceipt, error)
}

// ImageFetcher downloads and decodes a listing image.
type ImageFetcher interface {
	Fetch(ctx context.Context, url string) (image.Image, error)
}

// Scheduler controls when pipelines execute.
type Scheduler interface {
	Start(ctx context.Context, job func(time.Time)) error
	Stop(ctx context.Context) error
}
