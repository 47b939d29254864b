package domain

import (
	"sort"
	"time"
)

// OrderStatus enumerates lifecycle states.
type OrderStatus string

const (
	OrderStatusPending    OrderStatus = "pending"
	OrderStatusConfirmed  OrderStatus = "confirmed"
	OrderStatusProcessing OrderStatus = "processing"
	OrderStatusShipped    OrderStatus = "shipped"
	OrderStatusDelivered  OrderStatus = "delivered"
	OrderStatusCancelled  OrderStatus = "cancelled"
)

// OrderStatuses lists every status in lifecycle order, cancelled last.
var OrderStatuses = []OrderStatus{
	OrderStatusPending,
	OrderStatusConfirmed,
	OrderStatusProcessing,
	OrderStatusShipped,
	OrderStatusDelivered,
	OrderStatusCancelled,
}

// Valid reports whether s is a known status.
func (s OrderStatus) Valid() bool {
	for _, candidate := range OrderStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// History notes written by the engine itself.
const (
	HistoryNoteCreated = "Commande créée"
	HistoryNoteInitial = "Statut initial"
)

// PaymentMethodCash is the default payment method recorded on new orders.
const PaymentMethodCash = "cash"

// OrderItem is a line snapshot taken when the order is placed.
type OrderItem struct {
	ProductID   string
	ProductName string
	Quantity    int64
	UnitPrice   int64
	LineTotal   int64
}

// OrderStatusChange is one append-only history entry.
type OrderStatusChange struct {
	Status    OrderStatus
	ChangedAt time.Time
	ChangedBy string
	Reason    string
	Notes     string
}

// Order captures the order header, its line snapshots and its status history. StockDeducted is set
// while the order's lines are counted as sold in the ledger.
type Order struct {
	ID                  string
	OrderNumber         string
	OrderNumberDegraded bool
	CustomerID          string
	CustomerName        string
	Items               []OrderItem
	Subtotal            int64
	Tax                 int64
	Total               int64
	Status              OrderStatus
	PaymentMethod       string
	Notes               string
	CancellationReason  *string
	StockDeducted       bool
	StatusHistory       []OrderStatusChange
	CreatedBy           string
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// SortedHistory returns the history ordered by ChangedAt ascending without mutating the order.
func (o Order) SortedHistory() []OrderStatusChange {
	history := append([]OrderStatusChange(nil), o.StatusHistory...)
	sort.SliceStable(history, func(i, j int) bool {
		return history[i].ChangedAt.Before(history[j].ChangedAt)
	})
	return history
}
