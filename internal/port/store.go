package port

import (
	"context"
	"fmt"

	"github.com/rl1809/inventory-engine/internal/core/domain"
)

type Store interface {
	// Begin opens a unit of work. Entities read through it are private copies;
	// writes are staged and only reach the store on Commit.
	Begin(ctx context.Context) (UnitOfWork, error)
}

// UnitOfWork tracks entities read during one logical operation. Get methods
// return nil with a nil error when the record does not exist. Reading the same
// id twice returns the same tracked pointer.
type UnitOfWork interface {
	GetProduct(ctx context.Context, id int64) (*domain.Product, error)
	GetProductByName(ctx context.Context, name string) (*domain.Product, error)
	ListProducts(ctx context.Context) ([]domain.Product, error)
	AddProduct(product *domain.Product)
	UpdateProduct(product *domain.Product)
	DeleteProduct(id int64)

	GetOrder(ctx context.Context, id int64) (*domain.Order, error)
	ListOrders(ctx context.Context) ([]domain.Order, error)
	PendingOrders(ctx context.Context) ([]domain.Order, error)
	AddOrder(order *domain.Order)
	UpdateOrder(order *domain.Order)

	// Commit applies every staged write atomically and returns the number of
	// records written. It fails with *ConflictError when a staged record's
	// baseline version no longer matches the stored one, and with
	// *PersistenceError when the store rejects the write itself.
	Commit(ctx context.Context) (int, error)

	// ResetBaseline makes the next Commit compare the entry's record against
	// its latest stored version instead of the one originally read.
	ResetBaseline(entry ConflictEntry)
}

type EntityKind string

const (
	EntityProduct EntityKind = "product"
	EntityOrder   EntityKind = "order"
)

// ConflictEntry describes one record that failed the version check. Latest is
// nil when the record was deleted by another writer.
type ConflictEntry struct {
	Kind          EntityKind
	ID            int64
	Proposed      any
	Latest        any
	LatestVersion domain.Version
}

func (e ConflictEntry) Deleted() bool {
	return e.Latest == nil
}

type ConflictError struct {
	Entries []ConflictEntry
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("version conflict on %d record(s)", len(e.Entries))
}

// PersistenceError is a non-concurrency rejection such as a uniqueness or
// constraint violation.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}
