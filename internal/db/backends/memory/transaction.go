package memory

import (
	"context"
	"sync"

	"github.com/leafsii/nft-marketplace/internal/db/interfaces"
)

// Transaction holds a copy of every table taken when it began.
type Transaction struct {
	mu         sync.Mutex
	db         *Database
	snapshot   map[string]table
	committed  bool
	rolledBack bool
}

// NewTransaction snapshots db
func NewTransaction(db *Database) *Transaction {
	db.mu.RLock()
	snapshot := make(map[string]table, len(db.tables))
	for name, t := range db.tables {
		snapshot[name] = t.clone()
	}
	db.mu.RUnlock()

	return &Transaction{db: db, snapshot: snapshot}
}

func (tx *Transaction) Commit(ctx context.Context) error {
	tx.mu.Lock()
	defer tx.mu.Unlock()

	if tx.committed || tx.rolledBack {
		return interfaces.ErrTransactionCompleted
	}

	tx.committed = true
	tx.snapshot = nil
	return nil
}

// Rollback restores the snapshot
func (tx *Transaction) Rollback(ctx context.Context) error {
	tx.mu.Lock()
	defer tx.mu.Unlock()

	if tx.committed || tx.rolledBack {
		return interfaces.ErrTransactionCompleted
	}

	tx.db.mu.Lock()
	tx.db.tables = tx.snapshot
	tx.db.mu.Unlock()

	tx.rolledBack = true
	tx.snapshot = nil
	return nil
}

func (tx *Transaction) IsCompleted() bool {
	tx.mu.Lock()
	defer tx.mu.Unlock()

	return tx.committed || tx.rolledBack
}
