package service

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/rl1809/inventory-engine/internal/clock"
	"github.com/rl1809/inventory-engine/internal/core/domain"
	"github.com/rl1809/inventory-engine/internal/port"
)

type OrderItemInput struct {
	ProductID int64
	Quantity  int
}

// UpdateOrderInput replaces the order status. A nil Items keeps the current
// items; a non-nil slice replaces them.
type UpdateOrderInput struct {
	Status domain.OrderStatus
	Items  []OrderItemInput
}

// InventoryService places, updates and cancels orders, moving product stock
// through the store. Every operation is one unit of work committed through
// the RetryCoordinator.
type InventoryService struct {
	store          port.Store
	coordinator    *RetryCoordinator
	clock          clock.Clock
	logger         *zap.Logger
	rejectTerminal bool
}

type InventoryOption func(*InventoryService)

// WithTerminalOrderGuard controls whether UpdateOrder and CancelOrder reject
// orders that are already Fulfilled or Cancelled. Enabled by default; when
// disabled a repeated cancellation restocks the items again.
func WithTerminalOrderGuard(enabled bool) InventoryOption {
	return func(s *InventoryService) {
		s.rejectTerminal = enabled
	}
}

func WithClock(clk clock.Clock) InventoryOption {
	return func(s *InventoryService) {
		if clk != nil {
			s.clock = clk
		}
	}
}

func NewInventoryService(store port.Store, coordinator *RetryCoordinator, logger *zap.Logger, opts ...InventoryOption) *InventoryService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if coordinator == nil {
		coordinator = NewRetryCoordinator(logger)
	}
	s := &InventoryService{
		store:          store,
		coordinator:    coordinator,
		clock:          clock.NewSystem(),
		logger:         logger,
		rejectTerminal: true,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// PlaceOrder reserves stock for every item and records a pending order.
//
// Stock is decremented item by item on the unit of work's tracked copies, so
// when a later item is missing or short, earlier products are already reduced
// in memory. Nothing reaches the store in that case: the commit is the only
// boundary at which the decrements become visible, and it never runs.
func (s *InventoryService) PlaceOrder(ctx context.Context, items []OrderItemInput) (result domain.Order, err error) {
	ctx, span := tracer.Start(ctx, "InventoryService.PlaceOrder")
	span.SetAttributes(attribute.Int("order.item_count", len(items)))
	defer func() { endSpan(span, err) }()

	s.logger.Info("placing order", zap.Int("item_count", len(items)))

	if err := validateItems(items); err != nil {
		return domain.Order{}, err
	}

	uow, err := s.store.Begin(ctx)
	if err != nil {
		return domain.Order{}, domain.Internal(err)
	}

	order := &domain.Order{
		OrderDate: s.clock.Now(),
		Status:    domain.OrderStatusPendingFulfillment,
		Version:   domain.NewVersion(),
		Items:     make([]domain.OrderItem, 0, len(items)),
	}

	for _, item := range items {
		product, err := uow.GetProduct(ctx, item.ProductID)
		if err != nil {
			return domain.Order{}, domain.Internal(err)
		}
		if product == nil {
			s.logger.Warn("product not found", zap.Int64("product_id", item.ProductID))
			return domain.Order{}, domain.NotFoundf("product with id %d not found", item.ProductID)
		}
		if !product.HasStock(item.Quantity) {
			s.logger.Warn("insufficient stock",
				zap.Int64("product_id", item.ProductID),
				zap.Int("available", product.StockQuantity),
				zap.Int("requested", item.Quantity),
			)
			return domain.Order{}, domain.BadRequestf("insufficient stock for product %s", product.Name)
		}

		product.Reserve(item.Quantity)
		uow.UpdateProduct(product)
		order.Items = append(order.Items, domain.OrderItem{
			ProductID: item.ProductID,
			Quantity:  item.Quantity,
		})
	}

	uow.AddOrder(order)
	if _, err := s.commit(ctx, uow); err != nil {
		s.logger.Error("failed to place order", zap.Error(err))
		return domain.Order{}, err
	}

	span.SetAttributes(attribute.Int64("order.id", order.ID))
	s.logger.Info("placed order", zap.Int64("order_id", order.ID))
	return order.Clone(), nil
}

// UpdateOrder sets the order status and optionally its items. Stock is never
// touched here: it was settled when the order was placed.
func (s *InventoryService) UpdateOrder(ctx context.Context, id int64, in UpdateOrderInput) (result domain.Order, err error) {
	ctx, span := tracer.Start(ctx, "InventoryService.UpdateOrder")
	span.SetAttributes(attribute.Int64("order.id", id), attribute.String("order.status", string(in.Status)))
	defer func() { endSpan(span, err) }()

	s.logger.Info("updating order", zap.Int64("order_id", id), zap.String("status", string(in.Status)))

	if !in.Status.Valid() {
		return domain.Order{}, domain.BadRequestf("invalid order status %q", in.Status)
	}
	if in.Items != nil {
		if err := validateItems(in.Items); err != nil {
			return domain.Order{}, err
		}
	}

	uow, err := s.store.Begin(ctx)
	if err != nil {
		return domain.Order{}, domain.Internal(err)
	}

	order, err := s.loadOrder(ctx, uow, id)
	if err != nil {
		return domain.Order{}, err
	}

	order.Status = in.Status
	if in.Items != nil {
		order.Items = make([]domain.OrderItem, 0, len(in.Items))
		for _, item := range in.Items {
			order.Items = append(order.Items, domain.OrderItem{
				OrderID:   id,
				ProductID: item.ProductID,
				Quantity:  item.Quantity,
			})
		}
	}
	order.Version = domain.NewVersion()

	uow.UpdateOrder(order)
	if _, err := s.commit(ctx, uow); err != nil {
		s.logger.Error("failed to update order", zap.Int64("order_id", id), zap.Error(err))
		return domain.Order{}, err
	}

	s.logger.Info("updated order", zap.Int64("order_id", id))
	return order.Clone(), nil
}

// CancelOrder restocks every item whose product still exists and marks the
// order Cancelled.
func (s *InventoryService) CancelOrder(ctx context.Context, id int64) (err error) {
	ctx, span := tracer.Start(ctx, "InventoryService.CancelOrder")
	span.SetAttributes(attribute.Int64("order.id", id))
	defer func() { endSpan(span, err) }()

	s.logger.Info("cancelling order", zap.Int64("order_id", id))

	uow, err := s.store.Begin(ctx)
	if err != nil {
		return domain.Internal(err)
	}

	order, err := s.loadOrder(ctx, uow, id)
	if err != nil {
		return err
	}

	for _, item := range order.Items {
		product, err := uow.GetProduct(ctx, item.ProductID)
		if err != nil {
			return domain.Internal(err)
		}
		if product == nil {
			s.logger.Warn("skipping restock for missing product",
				zap.Int64("order_id", id),
				zap.Int64("product_id", item.ProductID),
			)
			continue
		}
		product.Restock(item.Quantity)
		uow.UpdateProduct(product)
	}

	order.Status = domain.OrderStatusCancelled
	order.Version = domain.NewVersion()
	uow.UpdateOrder(order)

	if _, err := s.commit(ctx, uow); err != nil {
		s.logger.Error("failed to cancel order", zap.Int64("order_id", id), zap.Error(err))
		return err
	}

	s.logger.Info("cancelled order", zap.Int64("order_id", id))
	return nil
}

func (s *InventoryService) GetPendingOrders(ctx context.Context) (orders []domain.Order, err error) {
	ctx, span := tracer.Start(ctx, "InventoryService.GetPendingOrders")
	defer func() { endSpan(span, err) }()

	uow, err := s.store.Begin(ctx)
	if err != nil {
		return nil, domain.Internal(err)
	}
	orders, err = uow.PendingOrders(ctx)
	if err != nil {
		return nil, domain.Internal(err)
	}

	span.SetAttributes(attribute.Int("order.pending_count", len(orders)))
	s.logger.Debug("fetched pending orders", zap.Int("count", len(orders)))
	return orders, nil
}

func (s *InventoryService) GetOrder(ctx context.Context, id int64) (domain.Order, error) {
	uow, err := s.store.Begin(ctx)
	if err != nil {
		return domain.Order{}, domain.Internal(err)
	}
	order, err := uow.GetOrder(ctx, id)
	if err != nil {
		return domain.Order{}, domain.Internal(err)
	}
	if order == nil {
		return domain.Order{}, domain.NotFoundf("order with id %d not found", id)
	}
	return order.Clone(), nil
}

// commit runs the unit of work through the coordinator. With the terminal
// guard on, an order another writer moved to a terminal state since it was
// read fails the commit instead of being overwritten on retry.
func (s *InventoryService) commit(ctx context.Context, uow port.UnitOfWork) (int, error) {
	if !s.rejectTerminal {
		return s.coordinator.Commit(ctx, uow)
	}
	return s.coordinator.Commit(ctx, uow, rejectTerminalOrder)
}

func rejectTerminalOrder(entry port.ConflictEntry) error {
	if entry.Kind != port.EntityOrder {
		return nil
	}
	latest, ok := entry.Latest.(domain.Order)
	if ok && latest.Status.Terminal() {
		return domain.Conflictf("order already %s", latest.Status)
	}
	return nil
}

// loadOrder fetches the order for a mutation and applies the terminal guard.
func (s *InventoryService) loadOrder(ctx context.Context, uow port.UnitOfWork, id int64) (*domain.Order, error) {
	order, err := uow.GetOrder(ctx, id)
	if err != nil {
		return nil, domain.Internal(err)
	}
	if order == nil {
		s.logger.Warn("order not found", zap.Int64("order_id", id))
		return nil, domain.NotFoundf("order with id %d not found", id)
	}
	if s.rejectTerminal && order.Status.Terminal() {
		s.logger.Warn("order is in a terminal state",
			zap.Int64("order_id", id),
			zap.String("status", string(order.Status)),
		)
		return nil, domain.Conflictf("order already %s", order.Status)
	}
	return order, nil
}

func validateItems(items []OrderItemInput) error {
	if len(items) == 0 {
		return domain.BadRequestf("at least one item is required")
	}
	for _, item := range items {
		if item.ProductID <= 0 {
			return domain.BadRequestf("product id must be greater than 0")
		}
		if item.Quantity <= 0 {
			return domain.BadRequestf("quantity for product %d must be greater than 0", item.ProductID)
		}
	}
	return nil
}
