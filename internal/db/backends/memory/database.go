package memory

import (
	"context"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/leafsii/nft-marketplace/internal/db/interfaces"
)

type table map[string]map[string]interface{} // recordID -> record

// Database is an in-memory implementation of interfaces.Database. Transactions
// snapshot every table and restore the snapshot on rollback.
type Database struct {
	mu        sync.RWMutex
	tables    map[string]table
	schemas   map[string]*interfaces.Schema
	connected bool
	logger    *zap.SugaredLogger
}

// Option configures a Database.
type Option func(*Database)

// WithLogger attaches a logger; the default discards output.
func WithLogger(logger *zap.SugaredLogger) Option {
	return func(db *Database) {
		if logger != nil {
			db.logger = logger
		}
	}
}

// NewDatabase creates a new in-memory database
func NewDatabase(opts ...Option) *Database {
	db := &Database{
		tables:  make(map[string]table),
		schemas: make(map[string]*interfaces.Schema),
		logger:  zap.NewNop().Sugar(),
	}
	for _, opt := range opts {
		opt(db)
	}
	return db
}

func (db *Database) Connect(ctx context.Context) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	db.connected = true
	db.logger.Debugw("Connected to in-memory database")
	return nil
}

func (db *Database) Disconnect(ctx context.Context) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	db.connected = false
	db.tables = make(map[string]table)
	db.schemas = make(map[string]*interfaces.Schema)
	db.logger.Debugw("Disconnected from in-memory database")
	return nil
}

func (db *Database) IsHealthy(ctx context.Context) bool {
	db.mu.RLock()
	defer db.mu.RUnlock()

	return db.connected
}

// Transaction executes fn within a snapshot transaction. Callers that need
// isolation between concurrent transactions must serialize them; see db.Executor.
func (db *Database) Transaction(ctx context.Context, fn func(ctx context.Context, tx interfaces.Transaction) error) (err error) {
	if !db.IsHealthy(ctx) {
		return interfaces.ErrDatabaseNotConnected
	}

	tx := NewTransaction(db)

	defer func() {
		if r := recover(); r != nil {
			_ = tx.Rollback(ctx)
			panic(r)
		}
	}()

	if err := fn(ctx, tx); err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil {
			db.logger.Errorw("Rollback failed", "error", rbErr)
		}
		return err
	}

	return tx.Commit(ctx)
}

// Repository returns a repository for the given schema
func (db *Database) Repository(schema *interfaces.Schema) interfaces.Repository {
	db.mu.Lock()
	db.schemas[schema.TableName] = schema
	db.mu.Unlock()

	return NewRepository(db, schema)
}

// Migrate creates missing tables
func (db *Database) Migrate(ctx context.Context, schemas []*interfaces.Schema) error {
	if !db.IsHealthy(ctx) {
		return interfaces.ErrDatabaseNotConnected
	}

	db.mu.Lock()
	defer db.mu.Unlock()

	for _, schema := range schemas {
		db.schemas[schema.TableName] = schema
		if _, exists := db.tables[schema.TableName]; !exists {
			db.tables[schema.TableName] = make(table)
			db.logger.Debugw("Created in-memory table", "table", schema.TableName)
		}
	}

	db.logger.Infow("Migration completed", "schemas", len(schemas))
	return nil
}

// Seed inserts data into schema's table. Records that fail validation are logged and skipped.
func (db *Database) Seed(ctx context.Context, schema *interfaces.Schema, data []map[string]interface{}) error {
	if !db.IsHealthy(ctx) {
		return interfaces.ErrDatabaseNotConnected
	}

	repo := db.Repository(schema)
	seeded := 0
	for i, record := range data {
		if _, err := repo.Create(ctx, record); err != nil {
			db.logger.Warnw("Failed to seed record", "table", schema.TableName, "index", i, "error", err)
			continue
		}
		seeded++
	}

	db.logger.Infow("Seeded table", "table", schema.TableName, "records", seeded)
	return nil
}

// GetTables returns all table names in sorted order
func (db *Database) GetTables() []string {
	db.mu.RLock()
	defer db.mu.RUnlock()

	tables := make([]string, 0, len(db.tables))
	for name := range db.tables {
		tables = append(tables, name)
	}
	sort.Strings(tables)
	return tables
}

// GetTableData returns a copy of every record in tableName
func (db *Database) GetTableData(tableName string) map[string]map[string]interface{} {
	db.mu.RLock()
	defer db.mu.RUnlock()

	t, exists := db.tables[tableName]
	if !exists {
		return nil
	}
	return t.clone()
}

// Clear removes all data from all tables
func (db *Database) Clear() {
	db.mu.Lock()
	defer db.mu.Unlock()

	for name := range db.tables {
		db.tables[name] = make(table)
	}
}

func (t table) clone() table {
	out := make(table, len(t))
	for id, record := range t {
		out[id] = copyRecord(record)
	}
	return out
}

func copyRecord(record map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(record))
	for k, v := range record {
		out[k] = v
	}
	return out
}
