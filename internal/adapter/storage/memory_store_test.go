package storage

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/rl1809/inventory-engine/internal/core/domain"
	"github.com/rl1809/inventory-engine/internal/port"
)

func seedProduct(t *testing.T, s *MemoryStore, name string, stock int) domain.Product {
	t.Helper()
	ctx := context.Background()

	uow, err := s.Begin(ctx)
	require.NoError(t, err)
	p := &domain.Product{
		Name:          name,
		Price:         decimal.NewFromInt(5),
		StockQuantity: stock,
		Version:       domain.NewVersion(),
	}
	uow.AddProduct(p)
	n, err := uow.Commit(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	return *p
}

func TestMemoryStore_AssignsIDs(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	a := seedProduct(t, s, "apple", 1)
	b := seedProduct(t, s, "banana", 1)
	require.Equal(t, int64(1), a.ID)
	require.Equal(t, int64(2), b.ID)

	uow, err := s.Begin(ctx)
	require.NoError(t, err)
	order := &domain.Order{
		Status:  domain.OrderStatusPendingFulfillment,
		Items:   []domain.OrderItem{{ProductID: a.ID, Quantity: 1}},
		Version: domain.NewVersion(),
	}
	uow.AddOrder(order)
	_, err = uow.Commit(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1), order.ID)
	require.Equal(t, order.ID, order.Items[0].OrderID)

	// The committed order is now tracked under its id.
	got, err := uow.GetOrder(ctx, order.ID)
	require.NoError(t, err)
	require.Same(t, order, got)
}

func TestMemoryStore_GetMissingReturnsNil(t *testing.T) {
	ctx := context.Background()
	uow, err := NewMemoryStore().Begin(ctx)
	require.NoError(t, err)

	p, err := uow.GetProduct(ctx, 42)
	require.NoError(t, err)
	require.Nil(t, p)

	o, err := uow.GetOrder(ctx, 42)
	require.NoError(t, err)
	require.Nil(t, o)
}

func TestMemoryStore_IdentityMap(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	seeded := seedProduct(t, s, "apple", 3)

	uow, err := s.Begin(ctx)
	require.NoError(t, err)
	first, err := uow.GetProduct(ctx, seeded.ID)
	require.NoError(t, err)
	second, err := uow.GetProduct(ctx, seeded.ID)
	require.NoError(t, err)
	require.Same(t, first, second)

	// Staged changes stay private until commit.
	first.StockQuantity = 0
	other, err := s.Begin(ctx)
	require.NoError(t, err)
	fresh, err := other.GetProduct(ctx, seeded.ID)
	require.NoError(t, err)
	require.Equal(t, 3, fresh.StockQuantity)
}

func TestMemoryStore_VersionConflict(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	seeded := seedProduct(t, s, "apple", 10)

	a, _ := s.Begin(ctx)
	b, _ := s.Begin(ctx)
	pa, err := a.GetProduct(ctx, seeded.ID)
	require.NoError(t, err)
	pb, err := b.GetProduct(ctx, seeded.ID)
	require.NoError(t, err)

	pa.Reserve(2)
	a.UpdateProduct(pa)
	_, err = a.Commit(ctx)
	require.NoError(t, err)

	pb.Reserve(3)
	b.UpdateProduct(pb)
	_, err = b.Commit(ctx)

	var conflict *port.ConflictError
	require.ErrorAs(t, err, &conflict)
	require.Len(t, conflict.Entries, 1)
	entry := conflict.Entries[0]
	require.Equal(t, port.EntityProduct, entry.Kind)
	require.Equal(t, seeded.ID, entry.ID)
	require.False(t, entry.Deleted())
	require.Equal(t, 8, entry.Latest.(domain.Product).StockQuantity)
	require.Equal(t, 7, entry.Proposed.(domain.Product).StockQuantity)
	require.True(t, entry.LatestVersion.Equal(pa.Version))

	// After moving the baseline the staged value wins.
	b.ResetBaseline(entry)
	_, err = b.Commit(ctx)
	require.NoError(t, err)

	check, _ := s.Begin(ctx)
	got, err := check.GetProduct(ctx, seeded.ID)
	require.NoError(t, err)
	require.Equal(t, 7, got.StockQuantity)
}

func TestMemoryStore_DeletedConflict(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	seeded := seedProduct(t, s, "apple", 10)

	a, _ := s.Begin(ctx)
	p, err := a.GetProduct(ctx, seeded.ID)
	require.NoError(t, err)

	b, _ := s.Begin(ctx)
	b.DeleteProduct(seeded.ID)
	_, err = b.Commit(ctx)
	require.NoError(t, err)

	p.Restock(1)
	a.UpdateProduct(p)
	_, err = a.Commit(ctx)

	var conflict *port.ConflictError
	require.ErrorAs(t, err, &conflict)
	require.Len(t, conflict.Entries, 1)
	require.True(t, conflict.Entries[0].Deleted())
}

func TestMemoryStore_ConstraintViolations(t *testing.T) {
	ctx := context.Background()

	t.Run("duplicate name", func(t *testing.T) {
		s := NewMemoryStore()
		seedProduct(t, s, "apple", 1)

		uow, _ := s.Begin(ctx)
		uow.AddProduct(&domain.Product{Name: "apple", Version: domain.NewVersion()})
		_, err := uow.Commit(ctx)

		var rejected *port.PersistenceError
		require.ErrorAs(t, err, &rejected)
		require.True(t, errors.Is(err, errDuplicateName))
	})

	t.Run("negative stock", func(t *testing.T) {
		s := NewMemoryStore()
		seeded := seedProduct(t, s, "apple", 1)

		uow, _ := s.Begin(ctx)
		p, err := uow.GetProduct(ctx, seeded.ID)
		require.NoError(t, err)
		p.Reserve(2)
		uow.UpdateProduct(p)
		_, err = uow.Commit(ctx)
		require.ErrorIs(t, err, errNegativeStock)
	})

	t.Run("unknown product on new order", func(t *testing.T) {
		s := NewMemoryStore()
		uow, _ := s.Begin(ctx)
		uow.AddOrder(&domain.Order{
			Status:  domain.OrderStatusPendingFulfillment,
			Items:   []domain.OrderItem{{ProductID: 99, Quantity: 1}},
			Version: domain.NewVersion(),
		})
		_, err := uow.Commit(ctx)
		require.ErrorIs(t, err, errUnknownProduct)
	})

	t.Run("failed commit leaves store untouched", func(t *testing.T) {
		s := NewMemoryStore()
		seeded := seedProduct(t, s, "apple", 5)

		uow, _ := s.Begin(ctx)
		p, err := uow.GetProduct(ctx, seeded.ID)
		require.NoError(t, err)
		p.Reserve(1)
		uow.UpdateProduct(p)
		uow.AddProduct(&domain.Product{Name: "apple", Version: domain.NewVersion()})
		_, err = uow.Commit(ctx)
		require.Error(t, err)

		check, _ := s.Begin(ctx)
		got, err := check.GetProduct(ctx, seeded.ID)
		require.NoError(t, err)
		require.Equal(t, 5, got.StockQuantity)
		all, err := check.ListProducts(ctx)
		require.NoError(t, err)
		require.Len(t, all, 1)
	})
}

func TestMemoryStore_PendingOrders(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	p := seedProduct(t, s, "apple", 10)

	uow, _ := s.Begin(ctx)
	for _, status := range []domain.OrderStatus{
		domain.OrderStatusPendingFulfillment,
		domain.OrderStatusFulfilled,
		domain.OrderStatusPendingFulfillment,
	} {
		uow.AddOrder(&domain.Order{
			Status:  status,
			Items:   []domain.OrderItem{{ProductID: p.ID, Quantity: 1}},
			Version: domain.NewVersion(),
		})
	}
	_, err := uow.Commit(ctx)
	require.NoError(t, err)

	pending, err := uow.PendingOrders(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	require.Equal(t, int64(1), pending[0].ID)
	require.Equal(t, int64(3), pending[1].ID)

	all, err := uow.ListOrders(ctx)
	require.NoError(t, err)
	require.Len(t, all, 3)
}

func TestMemoryStore_CommitHonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	s := NewMemoryStore()
	uow, err := s.Begin(ctx)
	require.NoError(t, err)
	uow.AddProduct(&domain.Product{Name: "apple", Version: domain.NewVersion()})

	cancel()
	_, err = uow.Commit(ctx)
	require.ErrorIs(t, err, context.Canceled)
}
