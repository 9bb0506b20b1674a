package db

import (
	"context"
	"sync"

	"github.com/leafsii/nft-marketplace/internal/db/interfaces"
)

type executorKey struct{}

// Executor runs state transitions one at a time, each inside a single
// transaction. A call made from inside Atomic joins the enclosing
// transaction instead of opening a new one, so the ledger, the registry and
// the marketplace commit or roll back together.
type Executor struct {
	mu sync.Mutex
	db interfaces.Database
}

func NewExecutor(db interfaces.Database) *Executor {
	return &Executor{db: db}
}

// Database returns the underlying store for building repositories.
func (e *Executor) Database() interfaces.Database {
	return e.db
}

// Atomic runs fn as one indivisible unit. Any error returned by fn undoes all
// of its writes.
func (e *Executor) Atomic(ctx context.Context, fn func(ctx context.Context) error) error {
	if e.joined(ctx) {
		return fn(ctx)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	return e.db.Transaction(ctx, func(ctx context.Context, _ interfaces.Transaction) error {
		return fn(context.WithValue(ctx, executorKey{}, e))
	})
}

// View runs a read-only fn serialized against Atomic, so it never observes a
// transaction half way through.
func (e *Executor) View(ctx context.Context, fn func(ctx context.Context) error) error {
	if e.joined(ctx) {
		return fn(ctx)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	return fn(context.WithValue(ctx, executorKey{}, e))
}

func (e *Executor) joined(ctx context.Context) bool {
	owner, _ := ctx.Value(executorKey{}).(*Executor)
	return owner == e
}
