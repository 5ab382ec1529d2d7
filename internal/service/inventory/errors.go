package inventory

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrConflict          = errors.New("already exists")
	ErrUnavailable       = errors.New("store unavailable")
	ErrValidation        = errors.New("validation failed")
	ErrInsufficientStock = errors.New("insufficient stock")
)

// InsufficientStockError carries the stock seen when a decrement was refused.
type InsufficientStockError struct {
	StoreID   string
	ProductID string
	Current   int
	Requested int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for %s/%s: have %d, requested %d", e.StoreID, e.ProductID, e.Current, e.Requested)
}

func (e *InsufficientStockError) Is(target error) bool { return target == ErrInsufficientStock }

func notFound(storeID, productID string) error {
	return fmt.Errorf("%w: product %s in store %s", ErrNotFound, productID, storeID)
}
