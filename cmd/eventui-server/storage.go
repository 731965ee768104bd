package main

import (
	"fmt"

	"github.com/eventui/server/internal/config"
	"github.com/eventui/server/internal/database"
	"github.com/eventui/server/internal/storage"
	"github.com/eventui/server/internal/storage/gormstore"
	"github.com/eventui/server/internal/storage/memory"
)

func initStorage() error {
	Logger.Debug("Initializing storage")

	storageCfg := config.GetStorageConfig()

	backend, err := createStorageBackend(storageCfg)
	if err != nil {
		Logger.Error("Failed to create storage backend", "error", err)
		return err
	}
	storageBackend = backend
	if err := storageBackend.Init(); err != nil {
		Logger.Error("Failed to initialize storage backend", "error", err)
		return err
	}
	return nil
}

// createStorageBackend opens the backend selected by storage.type. SQL
// backends share dbManager so the connection can be closed on shutdown.
func createStorageBackend(storageCfg config.StorageConfig) (storage.Backend, error) {
	switch storageCfg.Type {
	case "postgres", "sqlite":
		dbManager = database.NewManager(SlogManager.Component("database"))
		if err := dbManager.Connect(storageCfg); err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}

		gormCfg := gormstore.Config{AuditEvents: storageCfg.AuditEvents}
		if dbManager.InMemory {
			gormCfg.DumpPath = storageCfg.SQLite.DumpPath
			gormCfg.DumpInterval = storageCfg.SQLite.DumpInterval
		}
		Logger.Info("GORM storage backend initialized",
			"dialect", dbManager.Dialect(),
			"inMemory", dbManager.InMemory,
			"auditEvents", storageCfg.AuditEvents)
		return gormstore.New(dbManager.DB, gormCfg, SlogManager.Component("gormstore")), nil

	case "memory", "":
		Logger.Info("Memory storage backend initialized")
		return memory.New(storageCfg.AuditEvents), nil

	default:
		return nil, fmt.Errorf("unknown storage type: %s", storageCfg.Type)
	}
}

// closeStorage closes the backend and then its connection.
func closeStorage() {
	if storageBackend != nil {
		if err := storageBackend.Close(); err != nil {
			Logger.Error("Failed to close storage backend", "error", err)
		}
	}
	if dbManager != nil {
		if err := dbManager.Close(); err != nil {
			Logger.Error("Failed to close database", "error", err)
		}
	}
}
