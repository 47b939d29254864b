package domain

import "time"

// ProductCategory classifies catalogue items.
type ProductCategory string

const (
	ProductCategoryTank      ProductCategory = "tank"
	ProductCategoryPump      ProductCategory = "pump"
	ProductCategoryAccessory ProductCategory = "accessory"
)

// Product is the stock-bearing catalogue entry. Stock is only changed through ledger movements.
type Product struct {
	ID        string
	Name      string
	Category  ProductCategory
	Price     int64
	Stock     int64
	MinStock  int64
	IsActive  bool
	CreatedAt time.Time
	UpdatedAt time.Time

	// LedgerSequence counts the movements applied to the product; LedgerHead is the hash of the last one.
	LedgerSequence int64
	LedgerHead     string
}

// IsLowStock reports whether an active product is at or under its alert threshold.
func (p Product) IsLowStock() bool {
	return p.IsActive && p.Stock <= p.MinStock
}

// MovementType names why stock moved.
type MovementType string

const (
	MovementReception  MovementType = "reception"
	MovementSale       MovementType = "sale"
	MovementAdjustment MovementType = "adjustment"
	MovementLoss       MovementType = "loss"
	MovementReturn     MovementType = "return"
	MovementCorrection MovementType = "correction"
)

// Valid reports whether t is a known movement type.
func (t MovementType) Valid() bool {
	switch t {
	case MovementReception, MovementSale, MovementAdjustment, MovementLoss, MovementReturn, MovementCorrection:
		return true
	}
	return false
}

// AdjustmentType qualifies a manual adjustment.
type AdjustmentType string

const (
	AdjustmentPositive   AdjustmentType = "positive"
	AdjustmentNegative   AdjustmentType = "negative"
	AdjustmentCorrection AdjustmentType = "correction"
)

// Valid reports whether t is a known adjustment type.
func (t AdjustmentType) Valid() bool {
	switch t {
	case AdjustmentPositive, AdjustmentNegative, AdjustmentCorrection:
		return true
	}
	return false
}

// Reason codes recorded on movements created by the order lifecycle.
const (
	ReasonOrderDelivered        = "order-delivered"
	ReasonOrderCancelledRestore = "order-cancelled-restore"
)

// StockMovement is one immutable ledger entry. NewStock = max(0, PreviousStock+Quantity).
type StockMovement struct {
	ID             string
	ProductID      string
	ProductName    string
	Type           MovementType
	AdjustmentType AdjustmentType
	Quantity       int64
	PreviousStock  int64
	NewStock       int64
	Reason         string
	Notes          string
	ReceiptNumber  string
	Supplier       string
	ReceiptDate    *time.Time
	OrderID        string
	OrderNumber    string
	CreatedBy      string
	CreatedByName  string
	CreatedAt      time.Time

	// ReceiptNumberDegraded marks receipt numbers produced by the timestamp fallback.
	ReceiptNumberDegraded bool

	Sequence     int64
	PreviousHash string
	Hash         string
}

// ItemResult reports the outcome of one line of a multi item operation.
type ItemResult struct {
	ProductID string
	Quantity  int64
	Movement  *StockMovement
	Err       error
}

// Succeeded reports whether the item was applied.
func (r ItemResult) Succeeded() bool {
	return r.Err == nil
}

// ChainReport is the outcome of re-hashing a product's movement chain.
type ChainReport struct {
	ProductID string
	Movements int
	Head      string
	Valid     bool
	// BrokenAt is the sequence of the first movement whose hash does not match, zero when valid.
	BrokenAt int64
	Reason   string
}

// ArchiveResult describes an exported ledger archive object.
type ArchiveResult struct {
	Bucket string
	Object string
	Count  int
	Day    time.Time
}
