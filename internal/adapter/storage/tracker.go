package storage

import (
	"github.com/rl1809/inventory-engine/internal/core/domain"
	"github.com/rl1809/inventory-engine/internal/port"
)

type entryState int

const (
	stateUnchanged entryState = iota
	stateAdded
	stateModified
	stateDeleted
)

type entityKey struct {
	kind port.EntityKind
	id   int64
}

// entry is one tracked record. baseline is the version the unit of work last
// observed; a nil baseline skips the version check.
type entry struct {
	key      entityKey
	state    entryState
	baseline domain.Version
	product  *domain.Product
	order    *domain.Order
}

func (e *entry) proposed() any {
	if e.product != nil {
		return *e.product
	}
	if e.order != nil {
		return e.order.Clone()
	}
	return nil
}

// tracker is the staged-changes buffer shared by the store adapters.
type tracker struct {
	byKey   map[entityKey]*entry
	ordered []*entry
}

func newTracker() *tracker {
	return &tracker{byKey: make(map[entityKey]*entry)}
}

func (t *tracker) product(id int64) (*domain.Product, bool) {
	e, ok := t.byKey[entityKey{port.EntityProduct, id}]
	if !ok || e.product == nil {
		return nil, false
	}
	return e.product, true
}

func (t *tracker) order(id int64) (*domain.Order, bool) {
	e, ok := t.byKey[entityKey{port.EntityOrder, id}]
	if !ok || e.order == nil {
		return nil, false
	}
	return e.order, true
}

func (t *tracker) attachProduct(p domain.Product) *domain.Product {
	if tracked, ok := t.product(p.ID); ok {
		return tracked
	}
	cp := p
	cp.Version = p.Version.Clone()
	t.track(&entry{
		key:      entityKey{port.EntityProduct, p.ID},
		baseline: p.Version.Clone(),
		product:  &cp,
	})
	return &cp
}

func (t *tracker) attachOrder(o domain.Order) *domain.Order {
	if tracked, ok := t.order(o.ID); ok {
		return tracked
	}
	cp := o.Clone()
	t.track(&entry{
		key:      entityKey{port.EntityOrder, o.ID},
		baseline: o.Version.Clone(),
		order:    &cp,
	})
	return &cp
}

func (t *tracker) track(e *entry) {
	if e.key.id != 0 {
		t.byKey[e.key] = e
	}
	t.ordered = append(t.ordered, e)
}

func (t *tracker) addProduct(p *domain.Product) {
	t.track(&entry{key: entityKey{kind: port.EntityProduct}, state: stateAdded, product: p})
}

func (t *tracker) addOrder(o *domain.Order) {
	t.track(&entry{key: entityKey{kind: port.EntityOrder}, state: stateAdded, order: o})
}

// updateProduct stages p. A pointer that was never read through this unit of
// work is written without a version check.
func (t *tracker) updateProduct(p *domain.Product) {
	e, ok := t.byKey[entityKey{port.EntityProduct, p.ID}]
	if !ok {
		t.track(&entry{key: entityKey{port.EntityProduct, p.ID}, state: stateModified, product: p})
		return
	}
	e.product = p
	if e.state == stateUnchanged {
		e.state = stateModified
	}
}

func (t *tracker) updateOrder(o *domain.Order) {
	e, ok := t.byKey[entityKey{port.EntityOrder, o.ID}]
	if !ok {
		t.track(&entry{key: entityKey{port.EntityOrder, o.ID}, state: stateModified, order: o})
		return
	}
	e.order = o
	if e.state == stateUnchanged {
		e.state = stateModified
	}
}

func (t *tracker) deleteProduct(id int64) {
	e, ok := t.byKey[entityKey{port.EntityProduct, id}]
	if !ok {
		t.track(&entry{key: entityKey{port.EntityProduct, id}, state: stateDeleted, product: &domain.Product{ID: id}})
		return
	}
	e.state = stateDeleted
}

func (t *tracker) pending() []*entry {
	var out []*entry
	for _, e := range t.ordered {
		if e.state != stateUnchanged {
			out = append(out, e)
		}
	}
	return out
}

func (t *tracker) resetBaseline(c port.ConflictEntry) {
	if e, ok := t.byKey[entityKey{c.Kind, c.ID}]; ok {
		e.baseline = c.LatestVersion.Clone()
	}
}

// accept marks every staged write as persisted. Added entries must already
// carry their assigned ids.
func (t *tracker) accept() {
	kept := t.ordered[:0]
	for _, e := range t.ordered {
		switch e.state {
		case stateDeleted:
			delete(t.byKey, e.key)
			continue
		case stateAdded:
			if e.product != nil {
				e.key.id = e.product.ID
			} else {
				e.key.id = e.order.ID
			}
			t.byKey[e.key] = e
		}
		e.state = stateUnchanged
		if e.product != nil {
			e.baseline = e.product.Version.Clone()
		} else {
			e.baseline = e.order.Version.Clone()
		}
		kept = append(kept, e)
	}
	t.ordered = kept
}

func conflictFor(e *entry, latest any, latestVersion domain.Version) port.ConflictEntry {
	return port.ConflictEntry{
		Kind:          e.key.kind,
		ID:            e.key.id,
		Proposed:      e.proposed(),
		Latest:        latest,
		LatestVersion: latestVersion.Clone(),
	}
}
