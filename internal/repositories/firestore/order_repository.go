package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	domain "github.com/cuvejm/stockengine/internal/domain"
	pfirestore "github.com/cuvejm/stockengine/internal/platform/firestore"
	"github.com/cuvejm/stockengine/internal/repositories"
)

const ordersCollection = "orders"

// OrderRepository persists orders with their embedded status history.
type OrderRepository struct {
	provider *pfirestore.Provider
	orders   *pfirestore.Collection[orderDocument]
}

var _ repositories.OrderRepository = (*OrderRepository)(nil)

// NewOrderRepository constructs a Firestore-backed order repository.
func NewOrderRepository(provider *pfirestore.Provider) (*OrderRepository, error) {
	if provider == nil {
		return nil, errors.New("order repository requires firestore provider")
	}
	return &OrderRepository{
		provider: provider,
		orders:   pfirestore.NewCollection[orderDocument](provider, ordersCollection),
	}, nil
}

func (r *OrderRepository) Insert(ctx context.Context, order domain.Order) error {
	if strings.TrimSpace(order.ID) == "" {
		return errors.New("order repository: order id is required")
	}
	return r.orders.Create(ctx, order.ID, newOrderDocument(order))
}

func (r *OrderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	doc, err := r.orders.Get(ctx, strings.TrimSpace(orderID))
	if err != nil {
		return domain.Order{}, err
	}
	return doc.Data.toDomain(doc.ID), nil
}

// Transition reads the order, hands it to mutate and writes the result in one transaction.
// Errors returned by mutate are passed back unchanged.
func (r *OrderRepository) Transition(ctx context.Context, orderID string, mutate repositories.OrderMutation) (domain.Order, error) {
	if mutate == nil {
		return domain.Order{}, errors.New("order repository: mutation is required")
	}
	id := strings.TrimSpace(orderID)

	var updated domain.Order
	var mutateErr error
	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		ref, err := r.orders.Doc(ctx, id)
		if err != nil {
			return err
		}
		snap, err := tx.Get(ref)
		if err != nil {
			return err
		}
		doc, err := pfirestore.Decode[orderDocument](snap)
		if err != nil {
			return err
		}

		next, err := mutate(doc.Data.toDomain(doc.ID))
		if err != nil {
			mutateErr = err
			return err
		}
		next.ID = doc.ID
		if err := tx.Set(ref, newOrderDocument(next)); err != nil {
			return err
		}
		updated = next
		return nil
	})
	if mutateErr != nil {
		return domain.Order{}, mutateErr
	}
	if err != nil {
		return domain.Order{}, pfirestore.WrapError("orders.transition", err)
	}
	return updated, nil
}

func (r *OrderRepository) Delete(ctx context.Context, orderID string) error {
	return r.orders.Delete(ctx, strings.TrimSpace(orderID))
}

func (r *OrderRepository) List(ctx context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
	size, cursor, err := pageWindow(filter.Pagination)
	if err != nil {
		return domain.CursorPage[domain.Order]{}, err
	}
	docs, err := r.orders.Query(ctx, func(q firestore.Query) firestore.Query {
		if customerID := strings.TrimSpace(filter.CustomerID); customerID != "" {
			q = q.Where("customerId", "==", customerID)
		}
		if filter.Status != "" {
			q = q.Where("status", "==", string(filter.Status))
		}
		if filter.CreatedFrom != nil {
			q = q.Where("createdAt", ">=", filter.CreatedFrom.UTC())
		}
		if filter.CreatedTo != nil {
			q = q.Where("createdAt", "<", filter.CreatedTo.UTC())
		}
		return newestFirst(q, size, cursor)
	})
	if err != nil {
		return domain.CursorPage[domain.Order]{}, err
	}
	orders := make([]domain.Order, 0, len(docs))
	for _, doc := range docs {
		orders = append(orders, doc.Data.toDomain(doc.ID))
	}
	return trimPage(orders, size, func(o domain.Order) (time.Time, string) { return o.CreatedAt, o.ID })
}

// HighestSequence scans order numbers of the given year. Numbers minted by the timestamp fallback are
// ignored so they do not push the counter into the millions.
func (r *OrderRepository) HighestSequence(ctx context.Context, prefix string, year int) (int64, error) {
	start, end := sequenceRange(prefix, year)
	docs, err := r.orders.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("orderNumber", ">=", start).Where("orderNumber", "<", end).
			Select("orderNumber", "orderNumberDegraded")
	})
	if err != nil {
		return 0, err
	}
	var highest int64
	for _, doc := range docs {
		if doc.Data.OrderNumberDegraded {
			continue
		}
		if value, ok := sequenceSuffix(doc.Data.OrderNumber, prefix, year); ok && value > highest {
			highest = value
		}
	}
	return highest, nil
}

type orderDocument struct {
	OrderNumber         string                 `firestore:"orderNumber"`
	OrderNumberDegraded bool                   `firestore:"orderNumberDegraded"`
	CustomerID          string                 `firestore:"customerId"`
	CustomerName        string                 `firestore:"customerName"`
	Items               []orderItemDocument    `firestore:"items"`
	Subtotal            int64                  `firestore:"subtotal"`
	Tax                 int64                  `firestore:"tax"`
	Total               int64                  `firestore:"total"`
	Status              string                 `firestore:"status"`
	PaymentMethod       string                 `firestore:"paymentMethod"`
	Notes               string                 `firestore:"notes,omitempty"`
	CancellationReason  *string                `firestore:"cancellationReason"`
	StockDeducted       bool                   `firestore:"stockDeducted"`
	StatusHistory       []statusChangeDocument `firestore:"statusHistory"`
	CreatedBy           string                 `firestore:"createdBy,omitempty"`
	CreatedAt           time.Time              `firestore:"createdAt"`
	UpdatedAt           time.Time              `firestore:"updatedAt"`
}

type orderItemDocument struct {
	ProductID   string `firestore:"productId"`
	ProductName string `firestore:"productName"`
	Quantity    int64  `firestore:"quantity"`
	UnitPrice   int64  `firestore:"unitPrice"`
	LineTotal   int64  `firestore:"total"`
}

type statusChangeDocument struct {
	Status    string    `firestore:"status"`
	ChangedAt time.Time `firestore:"changedAt"`
	ChangedBy string    `firestore:"changedBy"`
	Reason    string    `firestore:"reason,omitempty"`
	Notes     string    `firestore:"notes,omitempty"`
}

func newOrderDocument(o domain.Order) orderDocument {
	items := make([]orderItemDocument, len(o.Items))
	for i, item := range o.Items {
		items[i] = orderItemDocument{
			ProductID:   item.ProductID,
			ProductName: item.ProductName,
			Quantity:    item.Quantity,
			UnitPrice:   item.UnitPrice,
			LineTotal:   item.LineTotal,
		}
	}
	history := make([]statusChangeDocument, len(o.StatusHistory))
	for i, change := range o.StatusHistory {
		history[i] = statusChangeDocument{
			Status:    string(change.Status),
			ChangedAt: change.ChangedAt.UTC(),
			ChangedBy: change.ChangedBy,
			Reason:    change.Reason,
			Notes:     change.Notes,
		}
	}
	return orderDocument{
		OrderNumber:         o.OrderNumber,
		OrderNumberDegraded: o.OrderNumberDegraded,
		CustomerID:          o.CustomerID,
		CustomerName:        o.CustomerName,
		Items:               items,
		Subtotal:            o.Subtotal,
		Tax:                 o.Tax,
		Total:               o.Total,
		Status:              string(o.Status),
		PaymentMethod:       o.PaymentMethod,
		Notes:               o.Notes,
		CancellationReason:  o.CancellationReason,
		StockDeducted:       o.StockDeducted,
		StatusHistory:       history,
		CreatedBy:           o.CreatedBy,
		CreatedAt:           o.CreatedAt.UTC(),
		UpdatedAt:           o.UpdatedAt.UTC(),
	}
}

func (d orderDocument) toDomain(id string) domain.Order {
	items := make([]domain.OrderItem, len(d.Items))
	for i, item := range d.Items {
		lineTotal := item.LineTotal
		if lineTotal == 0 {
			lineTotal = item.Quantity * item.UnitPrice
		}
		items[i] = domain.OrderItem{
			ProductID:   item.ProductID,
			ProductName: item.ProductName,
			Quantity:    item.Quantity,
			UnitPrice:   item.UnitPrice,
			LineTotal:   lineTotal,
		}
	}
	history := make([]domain.OrderStatusChange, len(d.StatusHistory))
	for i, change := range d.StatusHistory {
		history[i] = domain.OrderStatusChange{
			Status:    domain.OrderStatus(change.Status),
			ChangedAt: change.ChangedAt.UTC(),
			ChangedBy: change.ChangedBy,
			Reason:    change.Reason,
			Notes:     change.Notes,
		}
	}
	return domain.Order{
		ID:                  id,
		OrderNumber:         d.OrderNumber,
		OrderNumberDegraded: d.OrderNumberDegraded,
		CustomerID:          d.CustomerID,
		CustomerName:        d.CustomerName,
		Items:               items,
		Subtotal:            d.Subtotal,
		Tax:                 d.Tax,
		Total:               d.Total,
		Status:              domain.OrderStatus(d.Status),
		PaymentMethod:       d.PaymentMethod,
		Notes:               d.Notes,
		CancellationReason:  d.CancellationReason,
		StockDeducted:       d.StockDeducted,
		StatusHistory:       history,
		CreatedBy:           d.CreatedBy,
		CreatedAt:           d.CreatedAt.UTC(),
		UpdatedAt:           d.UpdatedAt.UTC(),
	}
}
