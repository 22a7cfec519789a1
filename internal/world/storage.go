package world

import (
	"fmt"
	"log/slog"

	"voxeledit/internal/config"
)

// BlockStorage provides persistent storage for chunk column data.
type BlockStorage interface {
	LoadColumn(index int) (Column, bool, error)
	SaveColumn(index int, col Column) error
	Delete(index int) error
	ForEach(fn func(index int, col Column) bool) error
	Close() error
}

// StorageProvider creates block storage instances for chunks.
type StorageProvider interface {
	NewStorage(key ChunkCoord, bounds Bounds, dim Dimensions) (BlockStorage, error)
	Close() error
}

// NewStorageProvider builds the provider selected by cfg.Backend.
func NewStorageProvider(cfg config.StorageConfig, region Region, logger *slog.Logger) (StorageProvider, error) {
	switch cfg.Backend {
	case "", config.StorageMemory:
		return NewMemoryStorageProvider(), nil
	case config.StorageDisk:
		return NewDiskStorageProvider(cfg.Path, region, cfg.SyncWrites)
	case config.StorageBadger:
		return OpenBadgerStorageProvider(BadgerOptions{
			Path:       cfg.Path,
			SyncWrites: cfg.SyncWrites,
			Logger:     logger,
		})
	default:
		return nil, fmt.Errorf("unsupported storage backend %q", cfg.Backend)
	}
}
