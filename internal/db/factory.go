package db

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/leafsii/nft-marketplace/internal/db/backends/memory"
	"github.com/leafsii/nft-marketplace/internal/db/interfaces"
)

// Config holds database configuration
type Config struct {
	Type   string // only "memory" is supported for the state store
	Logger *zap.SugaredLogger
}

// NewDatabase creates a new database instance based on configuration
func NewDatabase(config *Config) (interfaces.Database, error) {
	if config == nil {
		config = &Config{}
	}

	switch config.Type {
	case "", "memory":
		return memory.NewDatabase(memory.WithLogger(config.Logger)), nil
	default:
		return nil, fmt.Errorf("unsupported database type: %s", config.Type)
	}
}

// NewInMemoryDatabase creates a new in-memory database instance
func NewInMemoryDatabase() interfaces.Database {
	return memory.NewDatabase()
}

// ConnectAndMigrate connects to the database and creates every marketplace table
func ConnectAndMigrate(ctx context.Context, db interfaces.Database, schemas []*interfaces.Schema) error {
	if err := db.Connect(ctx); err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	if !db.IsHealthy(ctx) {
		return fmt.Errorf("database health check failed")
	}

	if err := db.Migrate(ctx, schemas); err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}

	return nil
}
