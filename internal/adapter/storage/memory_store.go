package storage

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/rl1809/inventory-engine/internal/core/domain"
	"github.com/rl1809/inventory-engine/internal/port"
)

var (
	errDuplicateName   = errors.New("duplicate product name")
	errNegativeStock   = errors.New("stock quantity must not be negative")
	errUnknownProduct  = errors.New("order item references unknown product")
	errDuplicateItem   = errors.New("duplicate order item")
	errInvalidQuantity = errors.New("order item quantity must be positive")
)

// MemoryStore keeps products and orders in process memory. Commits are
// serialized by a mutex and checked against record versions.
type MemoryStore struct {
	mu            sync.Mutex
	products      map[int64]domain.Product
	orders        map[int64]domain.Order
	nextProductID int64
	nextOrderID   int64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		products: make(map[int64]domain.Product),
		orders:   make(map[int64]domain.Order),
	}
}

func (s *MemoryStore) Begin(ctx context.Context) (port.UnitOfWork, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &memoryUnit{store: s, tracker: newTracker()}, nil
}

type memoryUnit struct {
	store   *MemoryStore
	tracker *tracker
}

func (u *memoryUnit) GetProduct(ctx context.Context, id int64) (*domain.Product, error) {
	if p, ok := u.tracker.product(id); ok {
		return p, nil
	}
	u.store.mu.Lock()
	p, ok := u.store.products[id]
	u.store.mu.Unlock()
	if !ok {
		return nil, nil
	}
	return u.tracker.attachProduct(p), nil
}

func (u *memoryUnit) GetProductByName(ctx context.Context, name string) (*domain.Product, error) {
	u.store.mu.Lock()
	var found *domain.Product
	for _, p := range u.store.products {
		if p.Name == name {
			cp := p
			found = &cp
			break
		}
	}
	u.store.mu.Unlock()
	if found == nil {
		return nil, nil
	}
	return u.tracker.attachProduct(*found), nil
}

func (u *memoryUnit) ListProducts(ctx context.Context) ([]domain.Product, error) {
	u.store.mu.Lock()
	defer u.store.mu.Unlock()

	out := make([]domain.Product, 0, len(u.store.products))
	for _, id := range slices.Sorted(maps.Keys(u.store.products)) {
		p := u.store.products[id]
		p.Version = p.Version.Clone()
		out = append(out, p)
	}
	return out, nil
}

func (u *memoryUnit) AddProduct(p *domain.Product)    { u.tracker.addProduct(p) }
func (u *memoryUnit) UpdateProduct(p *domain.Product) { u.tracker.updateProduct(p) }
func (u *memoryUnit) DeleteProduct(id int64)          { u.tracker.deleteProduct(id) }

func (u *memoryUnit) GetOrder(ctx context.Context, id int64) (*domain.Order, error) {
	if o, ok := u.tracker.order(id); ok {
		return o, nil
	}
	u.store.mu.Lock()
	o, ok := u.store.orders[id]
	u.store.mu.Unlock()
	if !ok {
		return nil, nil
	}
	return u.tracker.attachOrder(o), nil
}

func (u *memoryUnit) ListOrders(ctx context.Context) ([]domain.Order, error) {
	return u.orders(func(domain.Order) bool { return true }), nil
}

func (u *memoryUnit) PendingOrders(ctx context.Context) ([]domain.Order, error) {
	return u.orders(func(o domain.Order) bool {
		return o.Status == domain.OrderStatusPendingFulfillment
	}), nil
}

func (u *memoryUnit) orders(keep func(domain.Order) bool) []domain.Order {
	u.store.mu.Lock()
	defer u.store.mu.Unlock()

	var out []domain.Order
	for _, id := range slices.Sorted(maps.Keys(u.store.orders)) {
		o := u.store.orders[id]
		if keep(o) {
			out = append(out, o.Clone())
		}
	}
	return out
}

func (u *memoryUnit) AddOrder(o *domain.Order)    { u.tracker.addOrder(o) }
func (u *memoryUnit) UpdateOrder(o *domain.Order) { u.tracker.updateOrder(o) }

func (u *memoryUnit) ResetBaseline(entry port.ConflictEntry) {
	u.tracker.resetBaseline(entry)
}

func (u *memoryUnit) Commit(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	pending := u.tracker.pending()
	if len(pending) == 0 {
		return 0, nil
	}

	s := u.store
	s.mu.Lock()
	defer s.mu.Unlock()

	if conflicts := s.checkVersions(pending); len(conflicts) > 0 {
		return 0, &port.ConflictError{Entries: conflicts}
	}

	// Writes go to copies of the tables so a constraint failure leaves the
	// store untouched.
	products := maps.Clone(s.products)
	orders := maps.Clone(s.orders)
	nextProductID, nextOrderID := s.nextProductID, s.nextOrderID
	assigned := make(map[*entry]int64)

	for _, e := range pending {
		switch {
		case e.product != nil && e.state == stateAdded:
			nextProductID++
			assigned[e] = nextProductID
			p := *e.product
			p.ID = nextProductID
			p.Version = p.Version.Clone()
			products[p.ID] = p
		case e.product != nil && e.state == stateModified:
			p := *e.product
			p.Version = p.Version.Clone()
			products[p.ID] = p
		case e.product != nil && e.state == stateDeleted:
			delete(products, e.key.id)
		case e.order != nil && e.state == stateAdded:
			nextOrderID++
			assigned[e] = nextOrderID
			o := e.order.Clone()
			o.ID = nextOrderID
			for i := range o.Items {
				o.Items[i].OrderID = o.ID
			}
			orders[o.ID] = o
		case e.order != nil && e.state == stateModified:
			orders[e.key.id] = e.order.Clone()
		}
	}

	if err := validate(products, pending); err != nil {
		return 0, &port.PersistenceError{Op: "commit", Err: err}
	}

	for e, id := range assigned {
		if e.product != nil {
			e.product.ID = id
			continue
		}
		e.order.ID = id
		for i := range e.order.Items {
			e.order.Items[i].OrderID = id
		}
	}

	s.products, s.orders = products, orders
	s.nextProductID, s.nextOrderID = nextProductID, nextOrderID
	u.tracker.accept()
	return len(pending), nil
}

func (s *MemoryStore) checkVersions(pending []*entry) []port.ConflictEntry {
	var conflicts []port.ConflictEntry
	for _, e := range pending {
		if e.state != stateModified && e.state != stateDeleted {
			continue
		}
		var latest any
		var latestVersion domain.Version
		switch e.key.kind {
		case port.EntityProduct:
			if p, ok := s.products[e.key.id]; ok {
				latest, latestVersion = p, p.Version
			}
		case port.EntityOrder:
			if o, ok := s.orders[e.key.id]; ok {
				latest, latestVersion = o.Clone(), o.Version
			}
		}
		if latest == nil {
			if e.state == stateModified || e.baseline != nil {
				conflicts = append(conflicts, conflictFor(e, nil, nil))
			}
			continue
		}
		if e.baseline != nil && !e.baseline.Equal(latestVersion) {
			conflicts = append(conflicts, conflictFor(e, latest, latestVersion))
		}
	}
	return conflicts
}

// validate enforces the constraints a relational schema would: unique product
// names, non-negative stock, and well-formed items on the orders written now.
// Product references are only checked when an order is inserted.
func validate(products map[int64]domain.Product, written []*entry) error {
	names := make(map[string]int64, len(products))
	for id, p := range products {
		if other, ok := names[p.Name]; ok {
			return fmt.Errorf("%w: %q used by products %d and %d", errDuplicateName, p.Name, other, id)
		}
		names[p.Name] = id
		if p.StockQuantity < 0 {
			return fmt.Errorf("%w: product %d", errNegativeStock, id)
		}
	}
	for _, e := range written {
		if e.order == nil || e.state == stateDeleted {
			continue
		}
		o := e.order
		seen := make(map[int64]bool, len(o.Items))
		for _, item := range o.Items {
			if seen[item.ProductID] {
				return fmt.Errorf("%w: product %d", errDuplicateItem, item.ProductID)
			}
			if _, ok := products[item.ProductID]; !ok && e.state == stateAdded {
				return fmt.Errorf("%w: product %d", errUnknownProduct, item.ProductID)
			}
			seen[item.ProductID] = true
			if item.Quantity <= 0 {
				return fmt.Errorf("%w: product %d", errInvalidQuantity, item.ProductID)
			}
		}
	}
	return nil
}
