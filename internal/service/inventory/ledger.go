// Package inventory holds the purchase settlement rules of the central and
// store nodes.
package inventory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmehdipour/stock-sync/internal/model"
	"github.com/jmehdipour/stock-sync/internal/repository"
	"github.com/jmoiron/sqlx"
)

const (
	DefaultPageSize = 20
	MaxPageSize     = 1000
)

// Enqueuer records an announcement in the caller's transaction.
type Enqueuer interface {
	Enqueue(ctx context.Context, tx *sqlx.Tx, stream string, t model.EventType, payload any) (model.Event[any], error)
}

// Liveness answers whether a store is reachable right now.
type Liveness interface {
	IsAlive(ctx context.Context, storeID string) (bool, error)
}

// ledger is the transactional core shared by both node kinds.
type ledger struct {
	db   *sqlx.DB
	repo repository.InventoryRepository
}

// withTx runs fn in a new transaction, committed only if fn succeeds.
func (l ledger) withTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := l.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

func (l ledger) get(ctx context.Context, q sqlx.QueryerContext, storeID, productID string) (model.InventoryItem, error) {
	it, err := l.repo.Get(ctx, q, storeID, productID)
	if errors.Is(err, sql.ErrNoRows) {
		return model.InventoryItem{}, notFound(storeID, productID)
	}
	if err != nil {
		return model.InventoryItem{}, fmt.Errorf("get item: %w", err)
	}
	return it, nil
}

func (l ledger) list(ctx context.Context, page, size int) ([]model.InventoryItem, error) {
	if page < 0 {
		return nil, fmt.Errorf("%w: page must be >= 0", ErrValidation)
	}
	if size <= 0 {
		size = DefaultPageSize
	}
	if size > MaxPageSize {
		size = MaxPageSize
	}
	items, err := l.repo.List(ctx, l.db, size, page*size)
	if err != nil {
		return nil, fmt.Errorf("list items: %w", err)
	}
	return items, nil
}

// decrement takes qty off the item with one conditional statement, so two
// concurrent purchases serialize in the database. When nothing was updated
// the row is read to tell a missing item from a short one.
func (l ledger) decrement(ctx context.Context, tx *sqlx.Tx, storeID, productID string, qty int) (model.InventoryItem, error) {
	n, err := l.repo.DecrementIfSufficient(ctx, tx, storeID, productID, qty)
	if err != nil {
		return model.InventoryItem{}, fmt.Errorf("decrement: %w", err)
	}
	it, err := l.get(ctx, tx, storeID, productID)
	if err != nil {
		return model.InventoryItem{}, err
	}
	if n == 0 {
		return model.InventoryItem{}, &InsufficientStockError{
			StoreID:   storeID,
			ProductID: productID,
			Current:   it.Quantity,
			Requested: qty,
		}
	}
	return it, nil
}

func validateIDs(ids ...string) error {
	for _, id := range ids {
		if id == "" {
			return fmt.Errorf("%w: empty id", ErrValidation)
		}
	}
	return nil
}

func validateDelta(qty int) error {
	if qty <= 0 {
		return fmt.Errorf("%w: quantity must be positive, got %d", ErrValidation, qty)
	}
	return nil
}
