package repository

import (
	"context"

	"github.com/jmehdipour/stock-sync/internal/model"
	"github.com/jmoiron/sqlx"
)

// InventoryRepository is the per-node ledger of (store, product) -> quantity.
// Reads take any queryer so they can run inside or outside a transaction;
// writes always run in the caller's transaction.
type InventoryRepository interface {
	Get(ctx context.Context, q sqlx.QueryerContext, storeID, productID string) (model.InventoryItem, error)
	List(ctx context.Context, q sqlx.QueryerContext, limit, offset int) ([]model.InventoryItem, error)
	Insert(ctx context.Context, tx *sqlx.Tx, item model.InventoryItem) (model.InventoryItem, error)
	SetQuantityIfExists(ctx context.Context, tx *sqlx.Tx, storeID, productID string, quantity int) (int64, error)
	DecrementIfSufficient(ctx context.Context, tx *sqlx.Tx, storeID, productID string, delta int) (int64, error)
}

type inventoryRepo struct{}

func NewInventoryRepository() InventoryRepository { return &inventoryRepo{} }

// Get returns sql.ErrNoRows when the pair does not exist.
func (r *inventoryRepo) Get(ctx context.Context, q sqlx.QueryerContext, storeID, productID string) (model.InventoryItem, error) {
	var it model.InventoryItem
	err := sqlx.GetContext(ctx, q, &it, `
		SELECT id, store_id, product_id, quantity
		FROM inventory_item
		WHERE store_id = ? AND product_id = ?
	`, storeID, productID)
	return it, err
}

func (r *inventoryRepo) List(ctx context.Context, q sqlx.QueryerContext, limit, offset int) ([]model.InventoryItem, error) {
	items := make([]model.InventoryItem, 0, limit)
	err := sqlx.SelectContext(ctx, q, &items, `
		SELECT id, store_id, product_id, quantity
		FROM inventory_item
		ORDER BY id ASC
		LIMIT ? OFFSET ?
	`, limit, offset)
	return items, err
}

// Insert creates the pair. A second insert of the same pair fails with ErrDuplicate.
func (r *inventoryRepo) Insert(ctx context.Context, tx *sqlx.Tx, item model.InventoryItem) (model.InventoryItem, error) {
	res, err := tx.ExecContext(ctx, `
		INSERT INTO inventory_item (store_id, product_id, quantity)
		VALUES (?, ?, ?)
	`, item.StoreID, item.ProductID, item.Quantity)
	if err != nil {
		if isDuplicate(err) {
			return model.InventoryItem{}, ErrDuplicate
		}
		return model.InventoryItem{}, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return model.InventoryItem{}, err
	}
	item.ID = id
	return item, nil
}

// SetQuantityIfExists returns the number of rows changed; 0 means the pair is absent.
func (r *inventoryRepo) SetQuantityIfExists(ctx context.Context, tx *sqlx.Tx, storeID, productID string, quantity int) (int64, error) {
	// MySQL counts changed rows, not matched ones, so a zero is confirmed
	// with a lookup.
	res, err := tx.ExecContext(ctx, `
		UPDATE inventory_item
		SET quantity = ?
		WHERE store_id = ? AND product_id = ?
	`, quantity, storeID, productID)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil || n > 0 {
		return n, err
	}
	var one int
	err = tx.QueryRowxContext(ctx,
		`SELECT 1 FROM inventory_item WHERE store_id = ? AND product_id = ?`, storeID, productID,
	).Scan(&one)
	if err != nil {
		return 0, ignoreNoRows(err)
	}
	return 1, nil
}

// DecrementIfSufficient subtracts delta in one statement guarded by the
// current stock. 0 rows means the pair is absent or the stock is too low.
func (r *inventoryRepo) DecrementIfSufficient(ctx context.Context, tx *sqlx.Tx, storeID, productID string, delta int) (int64, error) {
	res, err := tx.ExecContext(ctx, `
		UPDATE inventory_item
		SET quantity = quantity - ?
		WHERE store_id = ? AND product_id = ? AND quantity >= ?
	`, delta, storeID, productID, delta)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
