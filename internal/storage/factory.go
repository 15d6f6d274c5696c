package storage

import (
	"os"

	"glata-widget/internal/config"
	"glata-widget/pkg/logger"
)

// New builds the configured backend and falls back to memory if the
// persistent one cannot initialize, mirroring degraded-but-running
// behavior over a hard failure.
func New(cfg config.StorageConfig) Store {
	var store Store

	switch cfg.Type {
	case "disk":
		store = NewDiskStore(cfg.DataDir)
	case "sqlite":
		os.MkdirAll(cfg.DataDir, 0700)
		store = NewSQLiteStore(cfg.DataDir)
	default:
		store = NewMemoryStore()
	}

	if err := store.Init(); err != nil {
		logger.Errorf("storage init failed, falling back to memory: %v", err)
		store = NewMemoryStore()
		store.Init()
	}
	return store
}
