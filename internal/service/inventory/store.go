package inventory

import (
	"context"
	"errors"
	"fmt"

	"github.com/jmehdipour/stock-sync/internal/dispatcher"
	"github.com/jmehdipour/stock-sync/internal/metrics"
	"github.com/jmehdipour/stock-sync/internal/model"
	"github.com/jmehdipour/stock-sync/internal/repository"
	"github.com/jmehdipour/stock-sync/internal/stream"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
)

// Store owns one store's authoritative stock. Every change is announced to
// central in the same transaction.
type Store struct {
	ledger
	id     string
	outbox Enqueuer
	names  stream.Names
	logger *zap.Logger
}

func NewStore(
	db *sqlx.DB,
	repo repository.InventoryRepository,
	outbox Enqueuer,
	names stream.Names,
	storeID string,
	logger *zap.Logger,
) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		ledger: ledger{db: db, repo: repo},
		id:     storeID,
		outbox: outbox,
		names:  names,
		logger: logger.With(zap.String("store_id", storeID)),
	}
}

func (s *Store) ID() string { return s.id }

func (s *Store) GetItem(ctx context.Context, productID string) (model.InventoryItem, error) {
	return s.get(ctx, s.db, s.id, productID)
}

func (s *Store) ListItems(ctx context.Context, page, size int) ([]model.InventoryItem, error) {
	return s.list(ctx, page, size)
}

// CreateItem adds a product with zero stock and announces it.
func (s *Store) CreateItem(ctx context.Context, productID string) (model.InventoryItem, error) {
	if err := validateIDs(productID); err != nil {
		return model.InventoryItem{}, err
	}

	var item model.InventoryItem
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		it, err := s.repo.Insert(ctx, tx, model.InventoryItem{StoreID: s.id, ProductID: productID})
		if errors.Is(err, repository.ErrDuplicate) {
			return fmt.Errorf("%w: product %s in store %s", ErrConflict, productID, s.id)
		}
		if err != nil {
			return fmt.Errorf("insert item: %w", err)
		}
		if _, err := s.outbox.Enqueue(ctx, tx, s.names.StoreToCentral(s.id), model.EventItemCreated,
			model.ItemCreated{StoreID: s.id, ProductID: productID}); err != nil {
			return err
		}
		item = it
		return nil
	})
	if err != nil {
		return model.InventoryItem{}, err
	}

	s.logger.Info("item created", zap.String("product_id", productID))
	return item, nil
}

// SetQuantity overwrites a product's stock and announces the new value.
func (s *Store) SetQuantity(ctx context.Context, productID string, qty int) (model.InventoryItem, error) {
	if err := validateIDs(productID); err != nil {
		return model.InventoryItem{}, err
	}
	if qty < 0 {
		return model.InventoryItem{}, fmt.Errorf("%w: quantity must be >= 0, got %d", ErrValidation, qty)
	}

	item := model.InventoryItem{StoreID: s.id, ProductID: productID, Quantity: qty}
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		n, err := s.repo.SetQuantityIfExists(ctx, tx, s.id, productID, qty)
		if err != nil {
			return fmt.Errorf("set quantity: %w", err)
		}
		if n == 0 {
			return notFound(s.id, productID)
		}
		_, err = s.announceQuantity(ctx, tx, productID, qty)
		return err
	})
	if err != nil {
		return model.InventoryItem{}, err
	}
	return item, nil
}

// PurchaseLocal sells qty units from this store.
func (s *Store) PurchaseLocal(ctx context.Context, productID string, qty int) (model.InventoryItem, error) {
	item, err := s.purchase(ctx, productID, qty)
	metrics.PurchasesTotal.WithLabelValues("local", purchaseOutcome(err)).Inc()
	return item, err
}

// ApplyRemotePurchase applies a purchase central already accepted. Only the
// resulting quantity is announced back, never another purchase.
func (s *Store) ApplyRemotePurchase(ctx context.Context, ev model.Event[model.ItemRemotePurchase]) error {
	p := ev.Payload
	if p.StoreID != s.id {
		s.logger.Warn("remote purchase for another store ignored",
			zap.String("event_id", ev.ID),
			zap.String("target_store_id", p.StoreID),
			zap.String("product_id", p.ProductID),
		)
		return nil
	}
	_, err := s.purchase(ctx, p.ProductID, p.QuantityDelta)
	metrics.PurchasesTotal.WithLabelValues("applied", purchaseOutcome(err)).Inc()
	return err
}

func (s *Store) purchase(ctx context.Context, productID string, qty int) (model.InventoryItem, error) {
	if err := validateIDs(productID); err != nil {
		return model.InventoryItem{}, err
	}
	if err := validateDelta(qty); err != nil {
		return model.InventoryItem{}, err
	}

	var item model.InventoryItem
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		it, err := s.decrement(ctx, tx, s.id, productID, qty)
		if err != nil {
			return err
		}
		if _, err := s.announceQuantity(ctx, tx, productID, it.Quantity); err != nil {
			return err
		}
		item = it
		return nil
	})
	if err != nil {
		return model.InventoryItem{}, err
	}

	s.logger.Info("purchase processed",
		zap.String("product_id", productID),
		zap.Int("quantity_delta", qty),
		zap.Int("resulting_quantity", item.Quantity),
	)
	return item, nil
}

func (s *Store) announceQuantity(ctx context.Context, tx *sqlx.Tx, productID string, qty int) (model.Event[any], error) {
	return s.outbox.Enqueue(ctx, tx, s.names.StoreToCentral(s.id), model.EventItemUpdated,
		model.ItemUpdated{StoreID: s.id, ProductID: productID, Quantity: qty})
}

// Echo sends a diagnostic message to central.
func (s *Store) Echo(ctx context.Context, msg string) (model.Event[any], error) {
	var ev model.Event[any]
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		var err error
		ev, err = s.outbox.Enqueue(ctx, tx, s.names.StoreToCentral(s.id), model.EventEcho, msg)
		return err
	})
	return ev, err
}

// Handlers is the store node's dispatch table.
func (s *Store) Handlers() []dispatcher.Handler {
	return []dispatcher.Handler{
		dispatcher.On(model.EventItemRemotePurchase, s.ApplyRemotePurchase),
		dispatcher.On(model.EventEcho, echoHandler(s.logger)),
	}
}
