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

// Central owns the mirror of every store's stock and accepts remote
// purchases on their behalf.
type Central struct {
	ledger
	outbox   Enqueuer
	liveness Liveness
	names    stream.Names
	stores   map[string]struct{}
	logger   *zap.Logger
}

func NewCentral(
	db *sqlx.DB,
	repo repository.InventoryRepository,
	outbox Enqueuer,
	liveness Liveness,
	names stream.Names,
	stores []string,
	logger *zap.Logger,
) *Central {
	if logger == nil {
		logger = zap.NewNop()
	}
	known := make(map[string]struct{}, len(stores))
	for _, s := range stores {
		known[s] = struct{}{}
	}
	return &Central{
		ledger:   ledger{db: db, repo: repo},
		outbox:   outbox,
		liveness: liveness,
		names:    names,
		stores:   known,
		logger:   logger,
	}
}

func (c *Central) checkStore(storeID string) error {
	if _, ok := c.stores[storeID]; !ok {
		return fmt.Errorf("%w: store %s", ErrNotFound, storeID)
	}
	return nil
}

func (c *Central) GetItem(ctx context.Context, storeID, productID string) (model.InventoryItem, error) {
	if err := c.checkStore(storeID); err != nil {
		return model.InventoryItem{}, err
	}
	return c.get(ctx, c.db, storeID, productID)
}

func (c *Central) ListItems(ctx context.Context, page, size int) ([]model.InventoryItem, error) {
	return c.list(ctx, page, size)
}

// PurchaseRemote sells qty units of a store's product from the central
// mirror. The store must have a fresh heartbeat. The decrement and the
// remote-purchase announcement to the store commit together.
func (c *Central) PurchaseRemote(ctx context.Context, storeID, productID string, qty int) (model.InventoryItem, error) {
	item, err := c.purchaseRemote(ctx, storeID, productID, qty)
	metrics.PurchasesTotal.WithLabelValues("remote", purchaseOutcome(err)).Inc()
	return item, err
}

func (c *Central) purchaseRemote(ctx context.Context, storeID, productID string, qty int) (model.InventoryItem, error) {
	if err := validateIDs(storeID, productID); err != nil {
		return model.InventoryItem{}, err
	}
	if err := validateDelta(qty); err != nil {
		return model.InventoryItem{}, err
	}
	if err := c.checkStore(storeID); err != nil {
		return model.InventoryItem{}, err
	}

	alive, err := c.liveness.IsAlive(ctx, storeID)
	if err != nil {
		return model.InventoryItem{}, fmt.Errorf("%w: %s: %v", ErrUnavailable, storeID, err)
	}
	if !alive {
		return model.InventoryItem{}, fmt.Errorf("%w: %s", ErrUnavailable, storeID)
	}

	var item model.InventoryItem
	err = c.withTx(ctx, func(tx *sqlx.Tx) error {
		it, err := c.decrement(ctx, tx, storeID, productID, qty)
		if err != nil {
			return err
		}
		_, err = c.outbox.Enqueue(ctx, tx, c.names.CentralToStore(storeID), model.EventItemRemotePurchase,
			model.ItemRemotePurchase{StoreID: storeID, ProductID: productID, QuantityDelta: qty})
		if err != nil {
			return err
		}
		item = it
		return nil
	})
	if err != nil {
		return model.InventoryItem{}, err
	}

	c.logger.Info("remote purchase accepted",
		zap.String("store_id", storeID),
		zap.String("product_id", productID),
		zap.Int("quantity_delta", qty),
		zap.Int("resulting_quantity", item.Quantity),
	)
	return item, nil
}

// Broadcast announces a diagnostic message to every store.
func (c *Central) Broadcast(ctx context.Context, msg string) (model.Event[any], error) {
	var ev model.Event[any]
	err := c.withTx(ctx, func(tx *sqlx.Tx) error {
		var err error
		ev, err = c.outbox.Enqueue(ctx, tx, c.names.CentralBroadcast(), model.EventEcho, msg)
		return err
	})
	return ev, err
}

// ApplyItemCreated mirrors a store's new product. An existing row means the
// mirror already has it.
func (c *Central) ApplyItemCreated(ctx context.Context, ev model.Event[model.ItemCreated]) error {
	p := ev.Payload
	if err := validateIDs(p.StoreID, p.ProductID); err != nil {
		return err
	}
	err := c.withTx(ctx, func(tx *sqlx.Tx) error {
		_, err := c.repo.Insert(ctx, tx, model.InventoryItem{StoreID: p.StoreID, ProductID: p.ProductID})
		return err
	})
	if errors.Is(err, repository.ErrDuplicate) {
		c.logger.Info("item already mirrored", zap.String("store_id", p.StoreID), zap.String("product_id", p.ProductID))
		return nil
	}
	return err
}

// ApplyItemUpdated copies a store's quantity into the mirror, creating the
// row if the create announcement has not been seen. No stock check applies.
func (c *Central) ApplyItemUpdated(ctx context.Context, ev model.Event[model.ItemUpdated]) error {
	p := ev.Payload
	if err := validateIDs(p.StoreID, p.ProductID); err != nil {
		return err
	}
	if p.Quantity < 0 {
		return fmt.Errorf("%w: negative quantity %d", ErrValidation, p.Quantity)
	}
	return c.withTx(ctx, func(tx *sqlx.Tx) error {
		n, err := c.repo.SetQuantityIfExists(ctx, tx, p.StoreID, p.ProductID, p.Quantity)
		if err != nil {
			return err
		}
		if n > 0 {
			return nil
		}
		_, err = c.repo.Insert(ctx, tx, model.InventoryItem{StoreID: p.StoreID, ProductID: p.ProductID, Quantity: p.Quantity})
		return err
	})
}

// Handlers is the central node's dispatch table.
func (c *Central) Handlers() []dispatcher.Handler {
	return []dispatcher.Handler{
		dispatcher.On(model.EventItemCreated, c.ApplyItemCreated),
		dispatcher.On(model.EventItemUpdated, c.ApplyItemUpdated),
		dispatcher.On(model.EventEcho, echoHandler(c.logger)),
	}
}

func echoHandler(logger *zap.Logger) func(context.Context, model.Event[string]) error {
	return func(_ context.Context, ev model.Event[string]) error {
		logger.Info("echo", zap.String("event_id", ev.ID), zap.String("stream", ev.Stream), zap.String("message", ev.Payload))
		return nil
	}
}

func purchaseOutcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrInsufficientStock):
		return "insufficient"
	case errors.Is(err, ErrUnavailable):
		return "unavailable"
	case errors.Is(err, ErrValidation):
		return "invalid"
	default:
		return "error"
	}
}
