package repositories

import (
	"context"
	"time"

	domain "github.com/cuvejm/stockengine/internal/domain"
)

// Registry exposes typed repository accessors and lifecycle hooks for dependency injection.
type Registry interface {
	Close(ctx context.Context) error

	Products() ProductRepository
	Orders() OrderRepository
	Ledger() LedgerRepository
	Counters() CounterRepository
	AuditLogs() AuditLogRepository
	Health() HealthRepository
}

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// ProductRepository reads catalogue entries. Stock fields are only written through LedgerRepository.
type ProductRepository interface {
	FindByID(ctx context.Context, productID string) (domain.Product, error)
	// FindByIDs returns the products found; missing ids are absent from the map.
	FindByIDs(ctx context.Context, productIDs []string) (map[string]domain.Product, error)
	// ListLowStock returns active products with stock <= minStock ordered by stock ascending.
	ListLowStock(ctx context.Context) ([]domain.Product, error)
}

// OrderMutation receives the stored order inside a transaction and returns the version to write.
// It may run more than once when the store retries on contention.
type OrderMutation func(current domain.Order) (domain.Order, error)

// OrderRepository persists order documents.
type OrderRepository interface {
	Insert(ctx context.Context, order domain.Order) error
	FindByID(ctx context.Context, orderID string) (domain.Order, error)
	// Transition reads the order and writes the mutation's result atomically.
	Transition(ctx context.Context, orderID string, mutate OrderMutation) (domain.Order, error)
	Delete(ctx context.Context, orderID string) error
	List(ctx context.Context, filter OrderListFilter) (domain.CursorPage[domain.Order], error)
	SequenceScanner
}

// OrderListFilter narrows order listings. Results are ordered by createdAt descending.
type OrderListFilter struct {
	CustomerID  string
	Status      domain.OrderStatus
	CreatedFrom *time.Time
	CreatedTo   *time.Time
	Pagination  domain.Pagination
}

// LedgerMutation receives the stored product inside a transaction and returns the movement to append
// together with the product carrying its new stock fields. It may run more than once.
type LedgerMutation func(product domain.Product) (domain.StockMovement, domain.Product, error)

// LedgerRepository appends stock movements and updates the owning product atomically.
type LedgerRepository interface {
	Apply(ctx context.Context, productID string, mutate LedgerMutation) (domain.StockMovement, domain.Product, error)
	ListByProduct(ctx context.Context, productID string, pager domain.Pagination) (domain.CursorPage[domain.StockMovement], error)
	ListByType(ctx context.Context, movementType domain.MovementType, pager domain.Pagination) (domain.CursorPage[domain.StockMovement], error)
	// ListChain returns every movement of a product ordered by sequence ascending.
	ListChain(ctx context.Context, productID string) ([]domain.StockMovement, error)
	// ListCreatedBetween returns movements with from <= createdAt < to ordered by createdAt ascending.
	ListCreatedBetween(ctx context.Context, from, to time.Time) ([]domain.StockMovement, error)
	SequenceScanner
}

// SequenceScanner finds the highest numeric suffix already used for PREFIX-YEAR identifiers.
type SequenceScanner interface {
	HighestSequence(ctx context.Context, prefix string, year int) (int64, error)
}

// CounterRepository provides transaction-safe sequence numbers.
type CounterRepository interface {
	Next(ctx context.Context, counterID string, step int64) (int64, error)
	// Seed creates the counter with floor as its current value when it does not exist yet.
	// It reports whether the counter was created.
	Seed(ctx context.Context, counterID string, floor int64) (bool, error)
	// Exists reports whether the counter document has been created.
	Exists(ctx context.Context, counterID string) (bool, error)
}

// AuditLogRepository persists immutable audit trail entries.
type AuditLogRepository interface {
	Append(ctx context.Context, entry domain.AuditLogEntry) error
	List(ctx context.Context, filter AuditLogFilter) (domain.CursorPage[domain.AuditLogEntry], error)
}

// AuditLogFilter narrows audit listings. Entries are returned newest first.
type AuditLogFilter struct {
	TargetRef  string
	Action     string
	Pagination domain.Pagination
}

// HealthRepository exposes status of downstream dependencies for health checks.
type HealthRepository interface {
	Collect(ctx context.Context) (domain.SystemHealthReport, error)
}
