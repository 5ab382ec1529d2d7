package http

import "github.com/jmehdipour/stock-sync/internal/model"

func inventoryItem(storeID, productID string, qty int) model.InventoryItem {
	return model.InventoryItem{StoreID: storeID, ProductID: productID, Quantity: qty}
}
