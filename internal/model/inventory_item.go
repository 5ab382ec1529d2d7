package model

// InventoryItem is one ledger entry: the stock of a product at a store.
// (store_id, product_id) is unique.
type InventoryItem struct {
	ID        int64  `db:"id"         json:"id"`
	StoreID   string `db:"store_id"   json:"storeId"`
	ProductID string `db:"product_id" json:"productId"`
	Quantity  int    `db:"quantity"   json:"quantity"`
}
