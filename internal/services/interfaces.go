package services

import (
	"context"
	"time"

	domain "github.com/cuvejm/stockengine/internal/domain"
)

type (
	Order              = domain.Order
	Product            = domain.Product
	StockMovement      = domain.StockMovement
	ItemResult         = domain.ItemResult
	ChainReport        = domain.ChainReport
	ArchiveResult      = domain.ArchiveResult
	SystemHealthReport = domain.SystemHealthReport
	AuditLogEntry      = domain.AuditLogEntry
)

// Metrics receives engine counters. observability.EngineMetrics satisfies it.
type Metrics interface {
	SequenceDegraded(ctx context.Context, prefix string)
	MovementRecorded(ctx context.Context, movementType string)
	ItemFailed(ctx context.Context, operation string)
	OrderTransitioned(ctx context.Context, from, to string)
}

// OrderEventPublisher publishes order domain events for downstream consumers.
type OrderEventPublisher interface {
	PublishOrderEvent(ctx context.Context, event OrderEvent) error
}

// OrderEvent captures metadata for emitted order domain events.
type OrderEvent struct {
	Type           string         `json:"type"`
	OrderID        string         `json:"orderId"`
	OrderNumber    string         `json:"orderNumber"`
	PreviousStatus string         `json:"previousStatus,omitempty"`
	CurrentStatus  string         `json:"currentStatus"`
	ActorID        string         `json:"actorId"`
	OccurredAt     time.Time      `json:"occurredAt"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}

// StockEventPublisher publishes ledger events for downstream consumers.
type StockEventPublisher interface {
	PublishStockEvent(ctx context.Context, event StockEvent) error
}

// StockEvent describes a committed stock change.
type StockEvent struct {
	Type          string    `json:"type"`
	ProductID     string    `json:"productId"`
	ProductName   string    `json:"productName"`
	MovementID    string    `json:"movementId,omitempty"`
	MovementType  string    `json:"movementType,omitempty"`
	Quantity      int64     `json:"quantity"`
	PreviousStock int64     `json:"previousStock"`
	NewStock      int64     `json:"newStock"`
	MinStock      int64     `json:"minStock"`
	IsActive      bool      `json:"isActive"`
	OrderID       string    `json:"orderId,omitempty"`
	ReceiptNumber string    `json:"receiptNumber,omitempty"`
	ActorID       string    `json:"actorId"`
	OccurredAt    time.Time `json:"occurredAt"`
}

// SequenceService allocates PREFIX-YEAR-NNN business identifiers.
type SequenceService interface {
	Next(ctx context.Context, prefix string, year int) (SequenceAllocation, error)
	NextOrderNumber(ctx context.Context) (SequenceAllocation, error)
	NextReceiptNumber(ctx context.Context) (SequenceAllocation, error)
}

// StockLedgerService is the only writer of product stock.
type StockLedgerService interface {
	Apply(ctx context.Context, cmd ApplyMovementCommand) (StockMovement, error)
	Receive(ctx context.Context, cmd ReceiveStockCommand) (ReceptionResult, error)
	Adjust(ctx context.Context, cmd AdjustStockCommand) (StockMovement, error)
	GetProduct(ctx context.Context, productID string) (Product, error)
	ListLowStock(ctx context.Context) ([]Product, error)
	ListMovementsByProduct(ctx context.Context, productID string, pager domain.Pagination) (domain.CursorPage[StockMovement], error)
	ListMovementsByType(ctx context.Context, movementType domain.MovementType, pager domain.Pagination) (domain.CursorPage[StockMovement], error)
	VerifyChain(ctx context.Context, productID string) (ChainReport, error)
}

// OrderService creates orders and drives them through their lifecycle.
type OrderService interface {
	Create(ctx context.Context, cmd CreateOrderCommand) (Order, error)
	GetOrder(ctx context.Context, orderID string) (Order, error)
	UpdateStatus(ctx context.Context, cmd UpdateOrderStatusCommand) (StatusChangeResult, error)
	DeleteOrder(ctx context.Context, orderID string, actor domain.Actor) error
	ListOrdersByCustomer(ctx context.Context, customerID string, pager domain.Pagination) (domain.CursorPage[Order], error)
	ListOrdersByStatus(ctx context.Context, status domain.OrderStatus, pager domain.Pagination) (domain.CursorPage[Order], error)
	ListOrdersToday(ctx context.Context) ([]Order, error)
	ListRecentOrders(ctx context.Context, limit int) ([]Order, error)
}

// LedgerArchiveService exports ledger movements to object storage.
type LedgerArchiveService interface {
	ExportDay(ctx context.Context, day time.Time) (ArchiveResult, error)
}

// AuditLogService records who changed what. Record never fails the caller's operation.
type AuditLogService interface {
	Record(ctx context.Context, record AuditLogRecord)
	List(ctx context.Context, filter AuditLogFilter) (domain.CursorPage[AuditLogEntry], error)
}

// SystemService exposes health information.
type SystemService interface {
	HealthReport(ctx context.Context) (SystemHealthReport, error)
}

// ApplyMovementCommand appends one movement. Quantity is the signed stock delta.
type ApplyMovementCommand struct {
	ProductID             string
	Type                  domain.MovementType
	AdjustmentType        domain.AdjustmentType
	Quantity              int64
	Reason                string
	Notes                 string
	ReceiptNumber         string
	ReceiptNumberDegraded bool
	Supplier              string
	ReceiptDate           *time.Time
	OrderID               string
	OrderNumber           string
	Actor                 domain.Actor
}

// ReceiveLine is one product of a supplier delivery.
type ReceiveLine struct {
	ProductID string
	Quantity  int64
}

// ReceiveStockCommand records a supplier delivery under one receipt number.
type ReceiveStockCommand struct {
	Items       []ReceiveLine
	Supplier    string
	ReceiptDate *time.Time
	Notes       string
	Actor       domain.Actor
}

// ReceptionResult reports the receipt number and the outcome of every line.
type ReceptionResult struct {
	ReceiptNumber         string
	ReceiptNumberDegraded bool
	Items                 []ItemResult
}

// PartialFailure returns an error wrapping ErrPartialFailure when any line failed.
func (r ReceptionResult) PartialFailure() error {
	return partialFailure(r.Items)
}

// AdjustStockCommand records a manual stock correction.
type AdjustStockCommand struct {
	ProductID      string
	AdjustmentType domain.AdjustmentType
	Quantity       int64
	Reason         string
	Notes          string
	Actor          domain.Actor
}

// OrderLine is one requested product of a new order. UnitPrice overrides the catalogue price when set.
type OrderLine struct {
	ProductID string
	Quantity  int64
	UnitPrice *int64
}

// CreateOrderCommand places a new order.
type CreateOrderCommand struct {
	CustomerID    string
	CustomerName  string
	Items         []OrderLine
	PaymentMethod string
	Notes         string
	Actor         domain.Actor
}

// UpdateOrderStatusCommand moves an order to Status.
type UpdateOrderStatusCommand struct {
	OrderID string
	Status  domain.OrderStatus
	Reason  string
	Notes   string
	Actor   domain.Actor
}

// StatusChangeResult carries the committed order and the outcome of its stock effects.
type StatusChangeResult struct {
	Order   Order
	From    domain.OrderStatus
	To      domain.OrderStatus
	Effects []TransitionEffect
	Items   []ItemResult
}

// PartialFailure returns an error wrapping ErrPartialFailure when any stock effect failed.
func (r StatusChangeResult) PartialFailure() error {
	return partialFailure(r.Items)
}

// AuditLogRecord is one entry submitted to the audit log. Values under SensitiveMetadataKeys and
// SensitiveDiffKeys are stored as keyed digests.
type AuditLogRecord struct {
	Actor                 string
	ActorType             string
	Action                string
	TargetRef             string
	Severity              string
	RequestID             string
	OccurredAt            time.Time
	Metadata              map[string]any
	Diff                  map[string]AuditLogDiff
	SensitiveMetadataKeys []string
	SensitiveDiffKeys     []string
}

// AuditLogDiff holds the before and after value of one changed field.
type AuditLogDiff struct {
	Before any
	After  any
}

// AuditLogFilter narrows audit log listings.
type AuditLogFilter struct {
	TargetRef  string
	Action     string
	Pagination domain.Pagination
}
