package inventory

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/jmehdipour/stock-sync/internal/db"
	"github.com/jmehdipour/stock-sync/internal/dispatcher"
	"github.com/jmehdipour/stock-sync/internal/model"
	"github.com/jmehdipour/stock-sync/internal/outbox"
	"github.com/jmehdipour/stock-sync/internal/repository"
	"github.com/jmehdipour/stock-sync/internal/stream"
	"github.com/jmehdipour/stock-sync/internal/stream/streamtest"
	"github.com/jmehdipour/stock-sync/internal/worker"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var names = stream.Names{
	StoreToCentralTmpl:   "inventory.store.{storeId}.to-central",
	CentralToStoreTmpl:   "inventory.central.to-store.{storeId}",
	CentralBroadcastName: "inventory.central.broadcast",
	StoreToStoreTmpl:     "inventory.store.{fromStoreId}.to-store.{toStoreId}",
	StoreBroadcastTmpl:   "inventory.store.{storeId}.broadcast",
}

type fakeLiveness struct {
	mu    sync.Mutex
	alive map[string]bool
}

func (f *fakeLiveness) set(storeID string, v bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.alive[storeID] = v
}

func (f *fakeLiveness) IsAlive(_ context.Context, storeID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.alive[storeID], nil
}

type node struct {
	db       *sqlx.DB
	pub      *outbox.Publisher
	sub      *streamtest.Subscription
	consumer *worker.Consumer
}

// cluster is one central node and one store node sharing an in-process log.
type cluster struct {
	log      *streamtest.Log
	liveness *fakeLiveness
	central  *Central
	store    *Store
	c, s     node
}

func newNode(t *testing.T, log *streamtest.Log, inbound []string) node {
	t.Helper()
	d, err := db.NewMemorySQLite(context.Background())
	require.NoError(t, err)
	t.Cleanup(func() { _ = d.Close() })

	return node{
		db:  d,
		pub: outbox.NewPublisher(repository.NewOutboxRepository(d), log, nil, outbox.Config{}),
		sub: log.Subscribe(inbound...),
	}
}

func newCluster(t *testing.T) *cluster {
	t.Helper()
	log := streamtest.NewLog()
	live := &fakeLiveness{alive: map[string]bool{"store-1": true}}
	repo := repository.NewInventoryRepository()

	cn := newNode(t, log, names.CentralInbound([]string{"store-1"}))
	sn := newNode(t, log, names.StoreInbound("store-1"))

	central := NewCentral(cn.db, repo, cn.pub, live, names, []string{"store-1"}, nil)
	store := NewStore(sn.db, repo, sn.pub, names, "store-1", nil)

	cd, err := dispatcher.New(dispatcher.NewMemoryDedup(), nil, central.Handlers())
	require.NoError(t, err)
	sd, err := dispatcher.New(dispatcher.NewMemoryDedup(), nil, store.Handlers())
	require.NoError(t, err)
	cn.consumer = worker.NewConsumer(cn.sub, cd, nil)
	sn.consumer = worker.NewConsumer(sn.sub, sd, nil)

	return &cluster{log: log, liveness: live, central: central, store: store, c: cn, s: sn}
}

// settle flushes both outboxes and drains both subscriptions until quiet.
func (cl *cluster) settle(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	for round := 0; round < 20; round++ {
		require.NoError(t, cl.c.pub.Flush(ctx))
		require.NoError(t, cl.s.pub.Flush(ctx))

		moved := false
		for _, n := range []node{cl.c, cl.s} {
			for {
				d, ok := n.sub.TryFetch()
				if !ok {
					break
				}
				n.consumer.Handle(ctx, d)
				moved = true
			}
		}
		if !moved {
			return
		}
	}
	t.Fatal("cluster did not settle")
}

func (cl *cluster) stock(t *testing.T, n node) int {
	t.Helper()
	it, err := repository.NewInventoryRepository().Get(context.Background(), n.db, "store-1", "p1")
	require.NoError(t, err)
	return it.Quantity
}

func outboxCount(t *testing.T, d *sqlx.DB) int {
	t.Helper()
	var n int
	require.NoError(t, d.Get(&n, `SELECT COUNT(*) FROM outbox_event`))
	return n
}

// stocked creates p1 at store-1 with qty units and lets central mirror it.
func (cl *cluster) stocked(t *testing.T, qty int) {
	t.Helper()
	ctx := context.Background()
	_, err := cl.store.CreateItem(ctx, "p1")
	require.NoError(t, err)
	_, err = cl.store.SetQuantity(ctx, "p1", qty)
	require.NoError(t, err)
	cl.settle(t)
	require.Equal(t, qty, cl.stock(t, cl.c))
}

func TestCreateItem_ReachesCentralMirror(t *testing.T) {
	cl := newCluster(t)
	ctx := context.Background()

	it, err := cl.store.CreateItem(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, 0, it.Quantity)

	_, err = cl.central.GetItem(ctx, "store-1", "p1")
	assert.ErrorIs(t, err, ErrNotFound)

	cl.settle(t)

	got, err := cl.central.GetItem(ctx, "store-1", "p1")
	require.NoError(t, err)
	assert.Equal(t, model.InventoryItem{ID: got.ID, StoreID: "store-1", ProductID: "p1", Quantity: 0}, got)
}

func TestCreateItem_Conflict(t *testing.T) {
	cl := newCluster(t)
	ctx := context.Background()

	_, err := cl.store.CreateItem(ctx, "p1")
	require.NoError(t, err)
	_, err = cl.store.CreateItem(ctx, "p1")
	assert.ErrorIs(t, err, ErrConflict)
	assert.Equal(t, 1, outboxCount(t, cl.s.db))
}

func TestRemotePurchase_SettlesOnStore(t *testing.T) {
	cl := newCluster(t)
	ctx := context.Background()
	cl.stocked(t, 5)

	it, err := cl.central.PurchaseRemote(ctx, "store-1", "p1", 3)
	require.NoError(t, err)
	assert.Equal(t, 2, it.Quantity)
	assert.Equal(t, 2, cl.stock(t, cl.c))
	assert.Equal(t, 5, cl.stock(t, cl.s), "store applies the purchase asynchronously")

	recs := cl.log.Records(names.CentralToStore("store-1"))
	require.Len(t, recs, 0, "nothing leaves central before a flush")

	cl.settle(t)

	assert.Equal(t, 2, cl.stock(t, cl.s))
	assert.Equal(t, 2, cl.stock(t, cl.c))

	recs = cl.log.Records(names.CentralToStore("store-1"))
	require.Len(t, recs, 1)
	assert.Equal(t, "INVENTORY_ITEM_REMOTE_PURCHASE", recs[0].Type)
	assert.JSONEq(t, `{"storeId":"store-1","productId":"p1","quantityDelta":3}`, recs[0].Payload)

	// the store answers with an update, never with another purchase
	for _, r := range cl.log.Records(names.StoreToCentral("store-1")) {
		assert.NotEqual(t, "INVENTORY_ITEM_REMOTE_PURCHASE", r.Type)
	}
}

func TestRemotePurchase_StoreUnavailable(t *testing.T) {
	cl := newCluster(t)
	ctx := context.Background()
	cl.stocked(t, 5)
	before := outboxCount(t, cl.c.db)

	cl.liveness.set("store-1", false)

	_, err := cl.central.PurchaseRemote(ctx, "store-1", "p1", 3)
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.Equal(t, 5, cl.stock(t, cl.c))
	assert.Equal(t, before, outboxCount(t, cl.c.db))
}

func TestRemotePurchase_Rejections(t *testing.T) {
	cl := newCluster(t)
	ctx := context.Background()
	cl.stocked(t, 5)

	_, err := cl.central.PurchaseRemote(ctx, "store-1", "p1", 6)
	var ise *InsufficientStockError
	require.ErrorAs(t, err, &ise)
	assert.ErrorIs(t, err, ErrInsufficientStock)
	assert.Equal(t, 5, ise.Current)
	assert.Equal(t, 6, ise.Requested)

	_, err = cl.central.PurchaseRemote(ctx, "store-1", "nope", 1)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = cl.central.PurchaseRemote(ctx, "store-2", "p1", 1)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = cl.central.PurchaseRemote(ctx, "store-1", "p1", 0)
	assert.ErrorIs(t, err, ErrValidation)

	assert.Equal(t, 5, cl.stock(t, cl.c))
	assert.Empty(t, cl.log.Records(names.CentralToStore("store-1")))
}

// The in-memory database has a single connection, so the two purchases'
// transactions run one after the other. This checks the outcome of a race,
// not the statement-level guard; TestInventory_DecrementGuardUsesStoredStock
// in the repository package covers that.
func TestLocalPurchase_ConcurrentOneWins(t *testing.T) {
	cl := newCluster(t)
	ctx := context.Background()
	cl.stocked(t, 10)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = cl.store.PurchaseLocal(ctx, "p1", 6)
		}(i)
	}
	wg.Wait()

	ok, short := 0, 0
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, ErrInsufficientStock):
			short++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, 1, short)
	assert.Equal(t, 4, cl.stock(t, cl.s))

	cl.settle(t)
	assert.Equal(t, 4, cl.stock(t, cl.c))
}

type failingEnqueuer struct{}

func (failingEnqueuer) Enqueue(context.Context, *sqlx.Tx, string, model.EventType, any) (model.Event[any], error) {
	return model.Event[any]{}, outbox.ErrSerialization
}

func TestLocalPurchase_RollbackHidesBoth(t *testing.T) {
	cl := newCluster(t)
	ctx := context.Background()
	cl.stocked(t, 10)
	before := outboxCount(t, cl.s.db)

	broken := NewStore(cl.s.db, repository.NewInventoryRepository(), failingEnqueuer{}, names, "store-1", nil)
	_, err := broken.PurchaseLocal(ctx, "p1", 3)
	assert.ErrorIs(t, err, outbox.ErrSerialization)

	assert.Equal(t, 10, cl.stock(t, cl.s))
	assert.Equal(t, before, outboxCount(t, cl.s.db))
}

func TestRemotePurchase_RedeliveryAppliedOnce(t *testing.T) {
	cl := newCluster(t)
	ctx := context.Background()
	cl.stocked(t, 5)

	_, err := cl.central.PurchaseRemote(ctx, "store-1", "p1", 3)
	require.NoError(t, err)
	require.NoError(t, cl.c.pub.Flush(ctx))

	d, ok := cl.s.sub.TryFetch()
	require.True(t, ok)
	assert.Equal(t, dispatcher.Processed, cl.s.consumer.Handle(ctx, d))
	assert.Equal(t, dispatcher.Duplicate, cl.s.consumer.Handle(ctx, d))
	assert.Equal(t, 2, cl.stock(t, cl.s))
}

func TestRemotePurchase_ShortStoreStaysPending(t *testing.T) {
	cl := newCluster(t)
	ctx := context.Background()
	cl.stocked(t, 5)

	// the store sells locally before the remote purchase arrives
	_, err := cl.central.PurchaseRemote(ctx, "store-1", "p1", 3)
	require.NoError(t, err)
	_, err = cl.store.PurchaseLocal(ctx, "p1", 4)
	require.NoError(t, err)
	require.NoError(t, cl.c.pub.Flush(ctx))

	d, ok := cl.s.sub.TryFetch()
	require.True(t, ok)
	assert.Equal(t, dispatcher.HandlerFailed, cl.s.consumer.Handle(ctx, d))
	assert.Equal(t, 1, cl.stock(t, cl.s))
	assert.Equal(t, 1, cl.s.sub.Pending())
}

func TestStore_DisconnectedHoldsAnnouncements(t *testing.T) {
	cl := newCluster(t)
	ctx := context.Background()
	cl.stocked(t, 5)

	cl.s.pub.SetDisconnected(true)
	_, err := cl.store.SetQuantity(ctx, "p1", 9)
	require.NoError(t, err)
	cl.settle(t)
	assert.Equal(t, 5, cl.stock(t, cl.c))

	cl.s.pub.SetDisconnected(false)
	cl.settle(t)
	assert.Equal(t, 9, cl.stock(t, cl.c))
}

func TestStore_Validation(t *testing.T) {
	cl := newCluster(t)
	ctx := context.Background()

	_, err := cl.store.SetQuantity(ctx, "p1", 3)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = cl.store.CreateItem(ctx, "")
	assert.ErrorIs(t, err, ErrValidation)

	_, err = cl.store.SetQuantity(ctx, "p1", -1)
	assert.ErrorIs(t, err, ErrValidation)

	_, err = cl.store.PurchaseLocal(ctx, "p1", -2)
	assert.ErrorIs(t, err, ErrValidation)

	_, err = cl.store.PurchaseLocal(ctx, "p1", 1)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCentral_UpdateBeforeCreate(t *testing.T) {
	cl := newCluster(t)
	ctx := context.Background()

	err := cl.central.ApplyItemUpdated(ctx, model.Event[model.ItemUpdated]{
		Payload: model.ItemUpdated{StoreID: "store-1", ProductID: "p1", Quantity: 7},
	})
	require.NoError(t, err)
	assert.Equal(t, 7, cl.stock(t, cl.c))

	err = cl.central.ApplyItemCreated(ctx, model.Event[model.ItemCreated]{
		Payload: model.ItemCreated{StoreID: "store-1", ProductID: "p1"},
	})
	require.NoError(t, err)
	assert.Equal(t, 7, cl.stock(t, cl.c))
}

func TestListItems_Paging(t *testing.T) {
	cl := newCluster(t)
	ctx := context.Background()
	for _, p := range []string{"a", "b", "c"} {
		_, err := cl.store.CreateItem(ctx, p)
		require.NoError(t, err)
	}

	items, err := cl.store.ListItems(ctx, 1, 2)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "c", items[0].ProductID)

	items, err = cl.store.ListItems(ctx, 0, 0)
	require.NoError(t, err)
	assert.Len(t, items, 3)

	_, err = cl.store.ListItems(ctx, -1, 10)
	assert.ErrorIs(t, err, ErrValidation)
}

func TestEcho_Broadcast(t *testing.T) {
	cl := newCluster(t)
	ctx := context.Background()

	ev, err := cl.central.Broadcast(ctx, "ping")
	require.NoError(t, err)
	assert.Equal(t, names.CentralBroadcast(), ev.Stream)

	_, err = cl.store.Echo(ctx, "pong")
	require.NoError(t, err)

	cl.settle(t)
	assert.Len(t, cl.log.Records(names.CentralBroadcast()), 1)
	assert.Len(t, cl.log.Records(names.StoreToCentral("store-1")), 1)
	assert.Zero(t, cl.s.sub.Pending())
	assert.Zero(t, cl.c.sub.Pending())
}
