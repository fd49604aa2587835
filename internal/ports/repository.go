package ports

import (
	"context"

	"btcQuant/internal/domain"
)

// DatasetStore persists the last good dataset and the refresh attempt log.
type DatasetStore interface {
	// SaveDataset upserts the dataset's candles keyed by (symbol, timeframe, time).
	SaveDataset(ctx context.Context, ds *domain.Dataset) error
	// LoadDataset returns the newest limit candles for symbol/timeframe.
	// Returns nil, nil when nothing is stored.
	LoadDataset(ctx context.Context, symbol, timeframe string, limit int) (*domain.Dataset, error)
	// RecordAttempt appends one refresh attempt to the log.
	RecordAttempt(ctx context.Context, a domain.Attempt) error
	// RecentAttempts returns the newest attempts first.
	RecentAttempts(ctx context.Context, limit int) ([]domain.Attempt, error)
	Close() error
}

// SnapshotCache mirrors the latest dataset into a shared cache.
type SnapshotCache interface {
	Put(ctx context.Context, ds *domain.Dataset) error
	// Get returns ErrCacheMiss when no entry exists.
	Get(ctx context.Context, symbol, timeframe string) (*domain.Dataset, error)
}

// SnapshotPublisher fans each newly published snapshot out to other consumers.
type SnapshotPublisher interface {
	Publish(ctx context.Context, snap *domain.Snapshot) error
}
