package db

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/leafsii/nft-marketplace/internal/db/entities"
	"github.com/leafsii/nft-marketplace/internal/db/interfaces"
)

func newTestDatabase(t *testing.T) interfaces.Database {
	t.Helper()
	ctx := context.Background()

	db := NewInMemoryDatabase()
	if err := ConnectAndMigrate(ctx, db, AllSchemas()); err != nil {
		t.Fatalf("Failed to connect and migrate: %v", err)
	}
	t.Cleanup(func() { _ = db.Disconnect(ctx) })
	return db
}

func TestInMemoryDatabase(t *testing.T) {
	ctx := context.Background()
	db := newTestDatabase(t)

	if !db.IsHealthy(ctx) {
		t.Fatal("Database should be healthy")
	}

	t.Run("CRUD Operations", func(t *testing.T) {
		testCRUDOperations(t, ctx, db.Repository(entities.BalanceSchema))
	})

	t.Run("Query Operations", func(t *testing.T) {
		testQueryOperations(t, ctx, db)
	})

	t.Run("Constraint Validation", func(t *testing.T) {
		testConstraintValidation(t, ctx, db)
	})

	t.Run("Transactions", func(t *testing.T) {
		testTransactions(t, ctx, db, db.Repository(entities.BalanceSchema))
	})
}

func testCRUDOperations(t *testing.T, ctx context.Context, repo interfaces.Repository) {
	addr := "0x00000000000000000000000000000000000000b1"
	bal := entities.Balance{Address: addr, Amount: decimal.NewFromInt(100)}

	created, err := repo.Create(ctx, bal.ToRecord())
	if err != nil {
		t.Fatalf("Failed to create balance: %v", err)
	}
	if created["id"] != addr {
		t.Errorf("Expected id %q, got %v", addr, created["id"])
	}

	retrieved, err := repo.GetByID(ctx, interfaces.StringID(addr))
	if err != nil {
		t.Fatalf("Failed to get balance by ID: %v", err)
	}
	got, err := entities.BalanceFromRecord(retrieved)
	if err != nil {
		t.Fatalf("Failed to decode balance: %v", err)
	}
	if !got.Amount.Equal(decimal.NewFromInt(100)) {
		t.Errorf("Expected amount 100, got %s", got.Amount)
	}

	updated, err := repo.Update(ctx, interfaces.StringID(addr), map[string]interface{}{"amount": "250"})
	if err != nil {
		t.Fatalf("Failed to update balance: %v", err)
	}
	if updated["amount"] != "250" {
		t.Errorf("Expected amount '250', got '%v'", updated["amount"])
	}

	if _, err := repo.Update(ctx, interfaces.StringID(addr), map[string]interface{}{"amount": 250}); err == nil {
		t.Error("Expected type validation error for non-string amount")
	}

	if err := repo.Delete(ctx, interfaces.StringID(addr)); err != nil {
		t.Fatalf("Failed to delete balance: %v", err)
	}
	if _, err := repo.GetByID(ctx, interfaces.StringID(addr)); !errors.Is(err, interfaces.ErrNotFound) {
		t.Errorf("Expected ErrNotFound after deletion, got: %v", err)
	}
}

func testQueryOperations(t *testing.T, ctx context.Context, db interfaces.Database) {
	assets := db.Repository(entities.AssetSchema)
	listings := db.Repository(entities.ListingSchema)

	sellers := []string{
		"0x00000000000000000000000000000000000000a1",
		"0x00000000000000000000000000000000000000a2",
		"0x00000000000000000000000000000000000000a1",
	}
	for i, seller := range sellers {
		tokenID := int64(10 - i)
		if _, err := assets.Create(ctx, entities.Asset{TokenID: tokenID, Owner: seller, Minter: seller}.ToRecord()); err != nil {
			t.Fatalf("Failed to create asset: %v", err)
		}
		record, err := entities.Listing{
			AssetID:    tokenID,
			Seller:     seller,
			ShareCount: 1,
			Price:      decimal.NewFromInt(int64(100 * (i + 1))),
		}.ToRecord()
		if err != nil {
			t.Fatalf("Failed to encode listing: %v", err)
		}
		if _, err := listings.Create(ctx, record); err != nil {
			t.Fatalf("Failed to create listing: %v", err)
		}
	}

	result, err := listings.FindMany(ctx, &interfaces.Query{
		Where: interfaces.Where(map[string]interface{}{"seller": sellers[0]}),
	})
	if err != nil {
		t.Fatalf("Failed to filter listings: %v", err)
	}
	if result.Total != 2 {
		t.Errorf("Expected 2 listings for seller, got %d", result.Total)
	}

	result, err = listings.FindMany(ctx, &interfaces.Query{
		OrderBy: []interfaces.OrderBy{{Field: "asset_id", Direction: "asc"}},
	})
	if err != nil {
		t.Fatalf("Failed to sort listings: %v", err)
	}
	if len(result.Data) != 3 || result.Data[0]["asset_id"] != int64(8) || result.Data[2]["asset_id"] != int64(10) {
		t.Errorf("Unexpected order: %v", result.Data)
	}

	limit, offset := 1, 1
	result, err = listings.FindMany(ctx, &interfaces.Query{
		OrderBy: []interfaces.OrderBy{{Field: "asset_id", Direction: "desc"}},
		Limit:   &limit,
		Offset:  &offset,
	})
	if err != nil {
		t.Fatalf("Failed to paginate listings: %v", err)
	}
	if len(result.Data) != 1 || result.Data[0]["asset_id"] != int64(9) {
		t.Errorf("Expected asset 9 on page 2, got %v", result.Data)
	}
	if result.Total != 3 || result.Page != 2 {
		t.Errorf("Expected total 3 page 2, got total %d page %d", result.Total, result.Page)
	}

	count, err := listings.Count(ctx, &interfaces.Query{
		Where: &interfaces.Filters{
			Conditions: []interfaces.Filter{
				{Field: "asset_id", Operator: &interfaces.FilterOperator{Gte: int64(9)}},
			},
		},
	})
	if err != nil {
		t.Fatalf("Failed to count listings: %v", err)
	}
	if count != 2 {
		t.Errorf("Expected count 2, got %d", count)
	}
}

func testConstraintValidation(t *testing.T, ctx context.Context, db interfaces.Database) {
	allowances := db.Repository(entities.AllowanceSchema)
	assets := db.Repository(entities.AssetSchema)
	listings := db.Repository(entities.ListingSchema)

	owner := "0x00000000000000000000000000000000000000c1"
	spender := "0x00000000000000000000000000000000000000c2"

	if _, err := allowances.Create(ctx, entities.Allowance{Owner: owner, Spender: spender, Amount: decimal.NewFromInt(5)}.ToRecord()); err != nil {
		t.Fatalf("Failed to create allowance: %v", err)
	}
	_, err := allowances.Create(ctx, entities.Allowance{Owner: owner, Spender: spender, Amount: decimal.NewFromInt(7)}.ToRecord())
	if !errors.Is(err, interfaces.ErrUniqueConstraint) {
		t.Errorf("Expected unique constraint error for duplicate allowance, got %v", err)
	}

	record, _ := entities.Listing{AssetID: 404, Seller: owner, ShareCount: 1, Price: decimal.NewFromInt(1)}.ToRecord()
	if _, err := listings.Create(ctx, record); !errors.Is(err, interfaces.ErrForeignKeyConstraint) {
		t.Errorf("Expected foreign key error for listing of unknown asset, got %v", err)
	}

	if _, err := assets.Create(ctx, entities.Asset{TokenID: 404, Owner: owner, Minter: owner}.ToRecord()); err != nil {
		t.Fatalf("Failed to create asset: %v", err)
	}
	if _, err := listings.Create(ctx, record); err != nil {
		t.Fatalf("Failed to create listing with valid foreign key: %v", err)
	}
	if err := assets.Delete(ctx, interfaces.IntID(404)); !errors.Is(err, interfaces.ErrForeignKeyConstraint) {
		t.Errorf("Expected foreign key error deleting a listed asset, got %v", err)
	}

	if _, err := listings.Create(ctx, map[string]interface{}{"seller": owner}); err == nil {
		t.Error("Expected validation error for missing fields")
	}
	if _, err := listings.Create(ctx, map[string]interface{}{"bogus": true}); !errors.Is(err, interfaces.ErrInvalidQuery) {
		t.Errorf("Expected invalid query for unknown field, got %v", err)
	}
}

func testTransactions(t *testing.T, ctx context.Context, db interfaces.Database, repo interfaces.Repository) {
	committed := entities.Balance{Address: "0x00000000000000000000000000000000000000d1", Amount: decimal.NewFromInt(1)}
	err := db.Transaction(ctx, func(ctx context.Context, tx interfaces.Transaction) error {
		_, err := repo.Create(ctx, committed.ToRecord())
		return err
	})
	if err != nil {
		t.Fatalf("Transaction should succeed: %v", err)
	}
	if _, err := repo.GetByID(ctx, interfaces.StringID(committed.Address)); err != nil {
		t.Errorf("Expected committed balance, got %v", err)
	}

	rolledBack := entities.Balance{Address: "0x00000000000000000000000000000000000000d2", Amount: decimal.NewFromInt(1)}
	err = db.Transaction(ctx, func(ctx context.Context, tx interfaces.Transaction) error {
		if _, err := repo.Create(ctx, rolledBack.ToRecord()); err != nil {
			return err
		}
		if _, err := repo.Update(ctx, interfaces.StringID(committed.Address), map[string]interface{}{"amount": "99"}); err != nil {
			return err
		}
		return interfaces.ErrInvalidQuery
	})
	if !errors.Is(err, interfaces.ErrInvalidQuery) {
		t.Errorf("Transaction should fail with the callback error, got %v", err)
	}
	if _, err := repo.GetByID(ctx, interfaces.StringID(rolledBack.Address)); !errors.Is(err, interfaces.ErrNotFound) {
		t.Errorf("Expected rolled back insert to be gone, got %v", err)
	}
	record, _ := repo.GetByID(ctx, interfaces.StringID(committed.Address))
	if record["amount"] != "1" {
		t.Errorf("Expected rolled back update to restore amount 1, got %v", record["amount"])
	}
}

func TestExecutorNestedCallsShareTransaction(t *testing.T) {
	ctx := context.Background()
	db := newTestDatabase(t)
	exec := NewExecutor(db)
	repo := db.Repository(entities.BalanceSchema)

	inner := entities.Balance{Address: "0x00000000000000000000000000000000000000e1", Amount: decimal.NewFromInt(3)}
	errBoom := errors.New("boom")

	err := exec.Atomic(ctx, func(ctx context.Context) error {
		if err := exec.Atomic(ctx, func(ctx context.Context) error {
			_, err := repo.Create(ctx, inner.ToRecord())
			return err
		}); err != nil {
			return err
		}
		return errBoom
	})
	if !errors.Is(err, errBoom) {
		t.Fatalf("Expected outer error, got %v", err)
	}
	if _, err := repo.GetByID(ctx, interfaces.StringID(inner.Address)); !errors.Is(err, interfaces.ErrNotFound) {
		t.Errorf("Inner write should roll back with the outer transaction, got %v", err)
	}

	if err := exec.Atomic(ctx, func(ctx context.Context) error {
		_, err := repo.Create(ctx, inner.ToRecord())
		return err
	}); err != nil {
		t.Fatalf("Atomic should commit: %v", err)
	}
	if err := exec.View(ctx, func(ctx context.Context) error {
		_, err := repo.GetByID(ctx, interfaces.StringID(inner.Address))
		return err
	}); err != nil {
		t.Errorf("View should see committed record: %v", err)
	}
}

func TestExecutorSerializesConcurrentUpdates(t *testing.T) {
	ctx := context.Background()
	db := newTestDatabase(t)
	exec := NewExecutor(db)
	repo := db.Repository(entities.BalanceSchema)

	addr := "0x00000000000000000000000000000000000000f1"
	if _, err := repo.Create(ctx, entities.Balance{Address: addr, Amount: decimal.Zero}.ToRecord()); err != nil {
		t.Fatalf("Failed to create balance: %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = exec.Atomic(ctx, func(ctx context.Context) error {
				record, err := repo.GetByID(ctx, interfaces.StringID(addr))
				if err != nil {
					return err
				}
				bal, err := entities.BalanceFromRecord(record)
				if err != nil {
					return err
				}
				_, err = repo.Update(ctx, interfaces.StringID(addr), map[string]interface{}{
					"amount": bal.Amount.Add(decimal.NewFromInt(1)).String(),
				})
				return err
			})
		}()
	}
	wg.Wait()

	record, _ := repo.GetByID(ctx, interfaces.StringID(addr))
	if record["amount"] != "50" {
		t.Errorf("Expected 50 serialized increments, got %v", record["amount"])
	}
}
