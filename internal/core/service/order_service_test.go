package service

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/rl1809/inventory-engine/internal/adapter/storage"
	"github.com/rl1809/inventory-engine/internal/clock"
	"github.com/rl1809/inventory-engine/internal/core/domain"
	"github.com/rl1809/inventory-engine/internal/port"
)

type testEnv struct {
	inventory *InventoryService
	products  *ProductService
}

func newTestEnv(t *testing.T, opts ...InventoryOption) *testEnv {
	t.Helper()
	logger := zaptest.NewLogger(t)
	store := storage.NewMemoryStore()
	coordinator := NewRetryCoordinator(logger)
	return &testEnv{
		inventory: NewInventoryService(store, coordinator, logger, opts...),
		products:  NewProductService(store, coordinator, logger),
	}
}

func (e *testEnv) seed(t *testing.T, name string, stock int) domain.Product {
	t.Helper()
	p, err := e.products.CreateProduct(context.Background(), ProductInput{
		Name:          name,
		Price:         decimal.NewFromFloat(2.5),
		StockQuantity: stock,
	})
	require.NoError(t, err)
	return p
}

func (e *testEnv) stock(t *testing.T, id int64) int {
	t.Helper()
	p, err := e.products.GetProduct(context.Background(), id)
	require.NoError(t, err)
	return p.StockQuantity
}

func TestPlaceOrder_ReservesStock(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	p := env.seed(t, "apple", 10)

	order, err := env.inventory.PlaceOrder(ctx, []OrderItemInput{{ProductID: p.ID, Quantity: 2}})
	require.NoError(t, err)
	require.NotZero(t, order.ID)
	require.Equal(t, domain.OrderStatusPendingFulfillment, order.Status)
	require.Equal(t, []domain.OrderItem{{OrderID: order.ID, ProductID: p.ID, Quantity: 2}}, order.Items)
	require.NotEmpty(t, order.Version)
	require.Equal(t, 8, env.stock(t, p.ID))
}

func TestPlaceOrder_UsesClock(t *testing.T) {
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	env := newTestEnv(t, WithClock(clock.NewFixed(at)))
	p := env.seed(t, "apple", 1)

	order, err := env.inventory.PlaceOrder(context.Background(), []OrderItemInput{{ProductID: p.ID, Quantity: 1}})
	require.NoError(t, err)
	require.Equal(t, at, order.OrderDate)
}

func TestPlaceOrder_UnknownProduct(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.inventory.PlaceOrder(context.Background(), []OrderItemInput{{ProductID: 99, Quantity: 1}})
	require.ErrorIs(t, err, domain.ErrNotFound)
	require.EqualError(t, err, "product with id 99 not found")
}

func TestPlaceOrder_InsufficientStock(t *testing.T) {
	env := newTestEnv(t)
	p := env.seed(t, "apple", 1)

	_, err := env.inventory.PlaceOrder(context.Background(), []OrderItemInput{{ProductID: p.ID, Quantity: 5}})
	require.ErrorIs(t, err, domain.ErrBadRequest)
	require.ErrorContains(t, err, "insufficient stock")
	require.Equal(t, 1, env.stock(t, p.ID))
}

func TestPlaceOrder_LaterItemFailureCommitsNothing(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	apple := env.seed(t, "apple", 10)
	pear := env.seed(t, "pear", 1)

	_, err := env.inventory.PlaceOrder(ctx, []OrderItemInput{
		{ProductID: apple.ID, Quantity: 2},
		{ProductID: pear.ID, Quantity: 5},
	})
	require.ErrorIs(t, err, domain.ErrBadRequest)

	_, err = env.inventory.PlaceOrder(ctx, []OrderItemInput{
		{ProductID: apple.ID, Quantity: 2},
		{ProductID: 404, Quantity: 1},
	})
	require.ErrorIs(t, err, domain.ErrNotFound)

	require.Equal(t, 10, env.stock(t, apple.ID))
	require.Equal(t, 1, env.stock(t, pear.ID))

	pending, err := env.inventory.GetPendingOrders(ctx)
	require.NoError(t, err)
	require.Empty(t, pending)
}

func TestPlaceOrder_Validation(t *testing.T) {
	env := newTestEnv(t)
	p := env.seed(t, "apple", 10)

	cases := map[string][]OrderItemInput{
		"no items":      nil,
		"zero quantity": {{ProductID: p.ID, Quantity: 0}},
		"bad product":   {{ProductID: 0, Quantity: 1}},
	}
	for name, items := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := env.inventory.PlaceOrder(context.Background(), items)
			require.ErrorIs(t, err, domain.ErrBadRequest)
		})
	}
	require.Equal(t, 10, env.stock(t, p.ID))
}

func TestCancelOrder_RestoresStock(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	p := env.seed(t, "apple", 10)

	order, err := env.inventory.PlaceOrder(ctx, []OrderItemInput{{ProductID: p.ID, Quantity: 2}})
	require.NoError(t, err)
	require.NoError(t, env.inventory.CancelOrder(ctx, order.ID))

	require.Equal(t, 10, env.stock(t, p.ID))
	got, err := env.inventory.GetOrder(ctx, order.ID)
	require.NoError(t, err)
	require.Equal(t, domain.OrderStatusCancelled, got.Status)
	require.False(t, got.Version.Equal(order.Version))
}

func TestCancelOrder_NotFound(t *testing.T) {
	env := newTestEnv(t)

	err := env.inventory.CancelOrder(context.Background(), 12)
	require.ErrorIs(t, err, domain.ErrNotFound)
	require.EqualError(t, err, "order with id 12 not found")
}

func TestCancelOrder_SkipsDeletedProducts(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	apple := env.seed(t, "apple", 10)
	pear := env.seed(t, "pear", 10)

	order, err := env.inventory.PlaceOrder(ctx, []OrderItemInput{
		{ProductID: apple.ID, Quantity: 3},
		{ProductID: pear.ID, Quantity: 4},
	})
	require.NoError(t, err)
	require.NoError(t, env.products.DeleteProduct(ctx, pear.ID))

	require.NoError(t, env.inventory.CancelOrder(ctx, order.ID))
	require.Equal(t, 10, env.stock(t, apple.ID))

	_, err = env.products.GetProduct(ctx, pear.ID)
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestTerminalOrderGuard(t *testing.T) {
	ctx := context.Background()

	t.Run("enabled rejects changes to terminal orders", func(t *testing.T) {
		env := newTestEnv(t)
		p := env.seed(t, "apple", 10)
		order, err := env.inventory.PlaceOrder(ctx, []OrderItemInput{{ProductID: p.ID, Quantity: 2}})
		require.NoError(t, err)

		require.NoError(t, env.inventory.CancelOrder(ctx, order.ID))
		err = env.inventory.CancelOrder(ctx, order.ID)
		require.ErrorIs(t, err, domain.ErrConflict)
		require.EqualError(t, err, "order already Cancelled")

		_, err = env.inventory.UpdateOrder(ctx, order.ID, UpdateOrderInput{Status: domain.OrderStatusFulfilled})
		require.ErrorIs(t, err, domain.ErrConflict)
		require.Equal(t, 10, env.stock(t, p.ID))
	})

	t.Run("disabled re-applies cancellation", func(t *testing.T) {
		env := newTestEnv(t, WithTerminalOrderGuard(false))
		p := env.seed(t, "apple", 10)
		order, err := env.inventory.PlaceOrder(ctx, []OrderItemInput{{ProductID: p.ID, Quantity: 2}})
		require.NoError(t, err)

		require.NoError(t, env.inventory.CancelOrder(ctx, order.ID))
		require.NoError(t, env.inventory.CancelOrder(ctx, order.ID))
		require.Equal(t, 12, env.stock(t, p.ID))

		updated, err := env.inventory.UpdateOrder(ctx, order.ID, UpdateOrderInput{Status: domain.OrderStatusFulfilled})
		require.NoError(t, err)
		require.Equal(t, domain.OrderStatusFulfilled, updated.Status)
	})
}

func TestUpdateOrder(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	apple := env.seed(t, "apple", 10)
	pear := env.seed(t, "pear", 10)

	order, err := env.inventory.PlaceOrder(ctx, []OrderItemInput{{ProductID: apple.ID, Quantity: 2}})
	require.NoError(t, err)

	updated, err := env.inventory.UpdateOrder(ctx, order.ID, UpdateOrderInput{
		Status: domain.OrderStatusPendingFulfillment,
		Items:  []OrderItemInput{{ProductID: pear.ID, Quantity: 1}},
	})
	require.NoError(t, err)
	require.Equal(t, []domain.OrderItem{{OrderID: order.ID, ProductID: pear.ID, Quantity: 1}}, updated.Items)

	// Stock is settled at placement and never moves on update.
	require.Equal(t, 8, env.stock(t, apple.ID))
	require.Equal(t, 10, env.stock(t, pear.ID))

	fulfilled, err := env.inventory.UpdateOrder(ctx, order.ID, UpdateOrderInput{Status: domain.OrderStatusFulfilled})
	require.NoError(t, err)
	require.Equal(t, domain.OrderStatusFulfilled, fulfilled.Status)
	require.Equal(t, updated.Items, fulfilled.Items)

	pending, err := env.inventory.GetPendingOrders(ctx)
	require.NoError(t, err)
	require.Empty(t, pending)
}

func TestUpdateOrder_Errors(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	p := env.seed(t, "apple", 10)
	order, err := env.inventory.PlaceOrder(ctx, []OrderItemInput{{ProductID: p.ID, Quantity: 1}})
	require.NoError(t, err)

	_, err = env.inventory.UpdateOrder(ctx, order.ID, UpdateOrderInput{Status: "Shipped"})
	require.ErrorIs(t, err, domain.ErrBadRequest)

	_, err = env.inventory.UpdateOrder(ctx, order.ID, UpdateOrderInput{
		Status: domain.OrderStatusFulfilled,
		Items:  []OrderItemInput{},
	})
	require.ErrorIs(t, err, domain.ErrBadRequest)

	_, err = env.inventory.UpdateOrder(ctx, 999, UpdateOrderInput{Status: domain.OrderStatusFulfilled})
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestGetPendingOrders(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	p := env.seed(t, "apple", 10)

	var ids []int64
	for i := 0; i < 3; i++ {
		o, err := env.inventory.PlaceOrder(ctx, []OrderItemInput{{ProductID: p.ID, Quantity: 1}})
		require.NoError(t, err)
		ids = append(ids, o.ID)
	}
	require.NoError(t, env.inventory.CancelOrder(ctx, ids[1]))

	pending, err := env.inventory.GetPendingOrders(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	require.Equal(t, ids[0], pending[0].ID)
	require.Equal(t, ids[2], pending[1].ID)
}

// interleavedStore runs hooks[n] just before the n-th commit of any unit of
// work it opened, standing in for another writer that commits between this
// unit's reads and its commit. A hook error is returned from that commit
// without touching the store.
type interleavedStore struct {
	port.Store
	hooks   []func(ctx context.Context) error
	commits int
}

func (s *interleavedStore) Begin(ctx context.Context) (port.UnitOfWork, error) {
	uow, err := s.Store.Begin(ctx)
	if err != nil {
		return nil, err
	}
	return &interleavedUnit{UnitOfWork: uow, store: s}, nil
}

type interleavedUnit struct {
	port.UnitOfWork
	store *interleavedStore
}

func (u *interleavedUnit) Commit(ctx context.Context) (int, error) {
	n := u.store.commits
	u.store.commits++
	if n < len(u.store.hooks) && u.store.hooks[n] != nil {
		if err := u.store.hooks[n](ctx); err != nil {
			return 0, err
		}
	}
	return u.UnitOfWork.Commit(ctx)
}

// raceEnv pairs a service whose commits are interleaved with a second
// service writing straight to the same store.
type raceEnv struct {
	*testEnv
	store *interleavedStore
	racer *InventoryService
}

func newRaceEnv(t *testing.T, opts ...InventoryOption) *raceEnv {
	t.Helper()
	logger := zaptest.NewLogger(t)
	base := storage.NewMemoryStore()
	wrapped := &interleavedStore{Store: base}
	coordinator := NewRetryCoordinator(logger)
	return &raceEnv{
		testEnv: &testEnv{
			inventory: NewInventoryService(wrapped, coordinator, logger, opts...),
			products:  NewProductService(base, coordinator, logger),
		},
		store: wrapped,
		racer: NewInventoryService(base, coordinator, logger, opts...),
	}
}

func (e *raceEnv) status(t *testing.T, id int64) domain.OrderStatus {
	t.Helper()
	o, err := e.racer.GetOrder(context.Background(), id)
	require.NoError(t, err)
	return o.Status
}

func TestFulfillRacingCancel(t *testing.T) {
	ctx := context.Background()

	t.Run("guard keeps the cancellation", func(t *testing.T) {
		env := newRaceEnv(t)
		p := env.seed(t, "apple", 10)
		order, err := env.racer.PlaceOrder(ctx, []OrderItemInput{{ProductID: p.ID, Quantity: 2}})
		require.NoError(t, err)

		env.store.hooks = []func(context.Context) error{
			func(ctx context.Context) error { return env.racer.CancelOrder(ctx, order.ID) },
		}
		_, err = env.inventory.UpdateOrder(ctx, order.ID, UpdateOrderInput{Status: domain.OrderStatusFulfilled})
		require.ErrorIs(t, err, domain.ErrConflict)
		require.EqualError(t, err, "order already Cancelled")

		require.Equal(t, 1, env.store.commits)
		require.Equal(t, domain.OrderStatusCancelled, env.status(t, order.ID))
		require.Equal(t, 10, env.stock(t, p.ID))
	})

	t.Run("guard disabled lets the retry overwrite", func(t *testing.T) {
		env := newRaceEnv(t, WithTerminalOrderGuard(false))
		p := env.seed(t, "apple", 10)
		order, err := env.racer.PlaceOrder(ctx, []OrderItemInput{{ProductID: p.ID, Quantity: 2}})
		require.NoError(t, err)

		env.store.hooks = []func(context.Context) error{
			func(ctx context.Context) error { return env.racer.CancelOrder(ctx, order.ID) },
		}
		_, err = env.inventory.UpdateOrder(ctx, order.ID, UpdateOrderInput{Status: domain.OrderStatusFulfilled})
		require.NoError(t, err)
		require.Equal(t, 2, env.store.commits)
		require.Equal(t, domain.OrderStatusFulfilled, env.status(t, order.ID))
	})
}

func TestCancelRacingFulfill(t *testing.T) {
	ctx := context.Background()
	env := newRaceEnv(t)
	p := env.seed(t, "apple", 10)
	order, err := env.racer.PlaceOrder(ctx, []OrderItemInput{{ProductID: p.ID, Quantity: 2}})
	require.NoError(t, err)

	env.store.hooks = []func(context.Context) error{
		func(ctx context.Context) error {
			_, err := env.racer.UpdateOrder(ctx, order.ID, UpdateOrderInput{Status: domain.OrderStatusFulfilled})
			return err
		},
	}
	err = env.inventory.CancelOrder(ctx, order.ID)
	require.ErrorIs(t, err, domain.ErrConflict)
	require.EqualError(t, err, "order already Fulfilled")

	require.Equal(t, domain.OrderStatusFulfilled, env.status(t, order.ID))
	require.Equal(t, 8, env.stock(t, p.ID))
}

func TestPlaceOrder_RetriesTransientConflict(t *testing.T) {
	ctx := context.Background()
	env := newRaceEnv(t)
	apple := env.seed(t, "apple", 10)
	pear := env.seed(t, "pear", 10)

	// Another writer places an order on a different product, then the
	// commit reports a conflict on apple whose latest version is unchanged.
	env.store.hooks = []func(context.Context) error{
		func(ctx context.Context) error {
			if _, err := env.racer.PlaceOrder(ctx, []OrderItemInput{{ProductID: pear.ID, Quantity: 3}}); err != nil {
				return err
			}
			current, err := env.products.GetProduct(ctx, apple.ID)
			if err != nil {
				return err
			}
			return &port.ConflictError{Entries: []port.ConflictEntry{{
				Kind:          port.EntityProduct,
				ID:            apple.ID,
				Latest:        current,
				LatestVersion: current.Version,
			}}}
		},
	}

	order, err := env.inventory.PlaceOrder(ctx, []OrderItemInput{{ProductID: apple.ID, Quantity: 2}})
	require.NoError(t, err)
	require.NotZero(t, order.ID)
	require.Equal(t, 2, env.store.commits)

	require.Equal(t, 8, env.stock(t, apple.ID))
	require.Equal(t, 7, env.stock(t, pear.ID))
	pending, err := env.racer.GetPendingOrders(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 2)
}

func TestCancelOrder_ProductDeletedDuringRetry(t *testing.T) {
	ctx := context.Background()
	env := newRaceEnv(t)
	p := env.seed(t, "apple", 10)
	order, err := env.racer.PlaceOrder(ctx, []OrderItemInput{{ProductID: p.ID, Quantity: 2}})
	require.NoError(t, err)

	env.store.hooks = []func(context.Context) error{
		func(ctx context.Context) error {
			_, err := env.racer.PlaceOrder(ctx, []OrderItemInput{{ProductID: p.ID, Quantity: 1}})
			return err
		},
		func(ctx context.Context) error { return env.products.DeleteProduct(ctx, p.ID) },
	}

	err = env.inventory.CancelOrder(ctx, order.ID)
	require.ErrorIs(t, err, domain.ErrConflict)
	require.EqualError(t, err, "record deleted by another writer")
	require.Equal(t, 2, env.store.commits)
	require.Equal(t, domain.OrderStatusPendingFulfillment, env.status(t, order.ID))
}
