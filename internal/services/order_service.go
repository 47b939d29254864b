package services

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/cuvejm/stockengine/internal/domain"
	"github.com/cuvejm/stockengine/internal/platform/pagination"
	"github.com/cuvejm/stockengine/internal/platform/textutil"
	"github.com/cuvejm/stockengine/internal/repositories"
)

const (
	orderEventCreated       = "order.created"
	orderEventStatusChanged = "order.status.changed"
	orderEventDeleted       = "order.deleted"

	orderIDPrefix = "ord_"

	defaultRecentOrders  = 10
	maxCustomerNameRunes = 200
	maxTodayPages        = 20
)

var (
	// ErrOrderInvalidInput signals the caller provided invalid data.
	ErrOrderInvalidInput = newKindError(ErrValidation, "order: invalid input")
	// ErrOrderNotFound indicates the order could not be located.
	ErrOrderNotFound = newKindError(ErrNotFound, "order: not found")
)

// OrderServiceDeps bundles collaborators required to construct the order service.
type OrderServiceDeps struct {
	Orders      repositories.OrderRepository
	Products    repositories.ProductRepository
	Stock       StockLedgerService
	Sequences   SequenceService
	Events      OrderEventPublisher
	Audit       AuditLogService
	Location    *time.Location
	RecentLimit int
	Clock       func() time.Time
	IDGenerator func() string
	Metrics     Metrics
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

type orderService struct {
	orders      repositories.OrderRepository
	products    repositories.ProductRepository
	stock       StockLedgerService
	sequences   SequenceService
	events      OrderEventPublisher
	audit       AuditLogService
	location    *time.Location
	recentLimit int
	clock       func() time.Time
	newID       func() string
	metrics     Metrics
	logger      func(context.Context, string, map[string]any)
}

var _ OrderService = (*orderService)(nil)

// NewOrderService wires dependencies into a concrete OrderService implementation.
func NewOrderService(deps OrderServiceDeps) (OrderService, error) {
	if deps.Orders == nil {
		return nil, errors.New("order service: order repository is required")
	}
	if deps.Products == nil {
		return nil, errors.New("order service: product repository is required")
	}
	if deps.Stock == nil {
		return nil, errors.New("order service: stock ledger service is required")
	}
	if deps.Sequences == nil {
		return nil, errors.New("order service: sequence service is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string {
			return ulid.Make().String()
		}
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	location := deps.Location
	if location == nil {
		location = time.UTC
	}
	recent := deps.RecentLimit
	if recent <= 0 {
		recent = defaultRecentOrders
	}

	return &orderService{
		orders:      deps.Orders,
		products:    deps.Products,
		stock:       deps.Stock,
		sequences:   deps.Sequences,
		events:      deps.Events,
		audit:       deps.Audit,
		location:    location,
		recentLimit: recent,
		clock: func() time.Time {
			return clock().UTC().Truncate(time.Microsecond)
		},
		newID:   idGen,
		metrics: deps.Metrics,
		logger:  logger,
	}, nil
}

func (s *orderService) Create(ctx context.Context, cmd CreateOrderCommand) (Order, error) {
	customerID := strings.TrimSpace(cmd.CustomerID)
	if customerID == "" {
		return Order{}, fmt.Errorf("%w: customer id is required", ErrOrderInvalidInput)
	}
	if len(cmd.Items) == 0 {
		return Order{}, fmt.Errorf("%w: at least one item is required", ErrOrderInvalidInput)
	}

	ids := make([]string, 0, len(cmd.Items))
	requested := make(map[string]int64, len(cmd.Items))
	for i, line := range cmd.Items {
		productID := strings.TrimSpace(line.ProductID)
		if productID == "" {
			return Order{}, fmt.Errorf("%w: item %d product id is required", ErrOrderInvalidInput, i)
		}
		if line.Quantity <= 0 {
			return Order{}, fmt.Errorf("%w: quantity for %s must be positive", ErrOrderInvalidInput, productID)
		}
		if line.UnitPrice != nil && *line.UnitPrice < 0 {
			return Order{}, fmt.Errorf("%w: unit price for %s must not be negative", ErrOrderInvalidInput, productID)
		}
		ids = append(ids, productID)
		requested[productID] += line.Quantity
	}

	products, err := s.products.FindByIDs(ctx, ids)
	if err != nil {
		return Order{}, mapStoreError(err, ErrProductNotFound)
	}
	if missing := missingProducts(ids, products); len(missing) > 0 {
		return Order{}, fmt.Errorf("%w: %s", ErrProductNotFound, strings.Join(missing, ", "))
	}
	for _, id := range ids {
		product := products[id]
		if !product.IsActive {
			return Order{}, fmt.Errorf("%w: product %s is not available", ErrOrderInvalidInput, id)
		}
		if want := requested[id]; want > product.Stock {
			return Order{}, fmt.Errorf("%w: insufficient stock for %s (requested %d, available %d)", ErrOrderInvalidInput, id, want, product.Stock)
		}
	}

	items := make([]domain.OrderItem, 0, len(cmd.Items))
	var subtotal int64
	for _, line := range cmd.Items {
		product := products[strings.TrimSpace(line.ProductID)]
		price := product.Price
		if line.UnitPrice != nil {
			price = *line.UnitPrice
		}
		item := domain.OrderItem{
			ProductID:   product.ID,
			ProductName: product.Name,
			Quantity:    line.Quantity,
			UnitPrice:   price,
			LineTotal:   price * line.Quantity,
		}
		subtotal += item.LineTotal
		items = append(items, item)
	}

	allocation, err := s.sequences.NextOrderNumber(ctx)
	if err != nil {
		return Order{}, err
	}

	now := s.clock()
	actorID := cmd.Actor.ID()
	paymentMethod := strings.ToLower(strings.TrimSpace(cmd.PaymentMethod))
	if paymentMethod == "" {
		paymentMethod = domain.PaymentMethodCash
	}
	order := Order{
		ID:                  orderIDPrefix + s.newID(),
		OrderNumber:         allocation.Identifier,
		OrderNumberDegraded: allocation.Degraded,
		CustomerID:          customerID,
		CustomerName:        textutil.CleanText(cmd.CustomerName, maxCustomerNameRunes),
		Items:               items,
		Subtotal:            subtotal,
		Tax:                 0,
		Total:               subtotal,
		Status:              domain.OrderStatusPending,
		PaymentMethod:       paymentMethod,
		Notes:               textutil.CleanText(cmd.Notes, maxNotesRunes),
		StatusHistory: []domain.OrderStatusChange{{
			Status:    domain.OrderStatusPending,
			ChangedAt: now,
			ChangedBy: actorID,
			Notes:     domain.HistoryNoteCreated,
		}},
		CreatedBy: actorID,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := s.orders.Insert(ctx, order); err != nil {
		return Order{}, mapStoreError(err, nil)
	}

	s.logger(ctx, orderEventCreated, map[string]any{
		"orderId":     order.ID,
		"orderNumber": order.OrderNumber,
		"degraded":    order.OrderNumberDegraded,
		"total":       order.Total,
		"items":       len(order.Items),
	})
	s.recordAudit(ctx, AuditLogRecord{
		Actor:      actorID,
		Action:     orderEventCreated,
		TargetRef:  orderTargetRef(order.ID),
		OccurredAt: now,
		Metadata: map[string]any{
			"orderNumber":  order.OrderNumber,
			"customerId":   order.CustomerID,
			"customerName": order.CustomerName,
			"total":        order.Total,
			"items":        len(order.Items),
		},
		SensitiveMetadataKeys: []string{"customerName"},
	})
	s.publishEvent(ctx, OrderEvent{
		Type:          orderEventCreated,
		OrderID:       order.ID,
		OrderNumber:   order.OrderNumber,
		CurrentStatus: string(order.Status),
		ActorID:       actorID,
		OccurredAt:    now,
		Metadata:      map[string]any{"total": order.Total, "customerId": order.CustomerID},
	})
	return order, nil
}

func (s *orderService) GetOrder(ctx context.Context, orderID string) (Order, error) {
	id := strings.TrimSpace(orderID)
	if id == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	order, err := s.orders.FindByID(ctx, id)
	if err != nil {
		return Order{}, mapStoreError(err, ErrOrderNotFound)
	}
	order.StatusHistory = historyWithInitial(order)
	return order, nil
}

// UpdateStatus accepts any target status. It commits the status change first and applies its stock
// effects afterwards, one movement per line. Stock failures do not undo the status change; they are
// reported per item.
func (s *orderService) UpdateStatus(ctx context.Context, cmd UpdateOrderStatusCommand) (StatusChangeResult, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return StatusChangeResult{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	target := domain.OrderStatus(strings.ToLower(strings.TrimSpace(string(cmd.Status))))
	if !target.Valid() {
		return StatusChangeResult{}, fmt.Errorf("%w: unknown status %q", ErrOrderInvalidInput, cmd.Status)
	}
	reason := textutil.CleanText(cmd.Reason, maxReasonRunes)
	notes := textutil.CleanText(cmd.Notes, maxNotesRunes)
	actorID := cmd.Actor.ID()
	now := s.clock()

	var (
		from           domain.OrderStatus
		applied        []TransitionEffect
		wasDeducted    bool
		previousReason *string
	)
	order, err := s.orders.Transition(ctx, orderID, func(current domain.Order) (domain.Order, error) {
		from = current.Status
		wasDeducted = current.StockDeducted
		previousReason = current.CancellationReason
		effects := transitionEffects(from, current.StockDeducted, target)

		next := current
		next.StatusHistory = append(historyWithInitial(current), domain.OrderStatusChange{
			Status:    target,
			ChangedAt: now,
			ChangedBy: actorID,
			Reason:    reason,
			Notes:     notes,
		})
		applied = applied[:0]
		for _, effect := range effects {
			switch effect {
			case EffectSetCancellationReason:
				if reason == "" {
					continue
				}
				value := reason
				next.CancellationReason = &value
			case EffectClearCancellationReason:
				next.CancellationReason = nil
			}
			applied = append(applied, effect)
		}
		next.Status = target
		next.StockDeducted = stockDeductedAfter(from, current.StockDeducted, effects)
		next.UpdatedAt = now
		return next, nil
	})
	if err != nil {
		if errors.Is(err, ErrValidation) {
			return StatusChangeResult{}, err
		}
		return StatusChangeResult{}, mapStoreError(err, ErrOrderNotFound)
	}

	result := StatusChangeResult{
		Order:   order,
		From:    from,
		To:      target,
		Effects: append([]TransitionEffect(nil), applied...),
	}
	for _, effect := range result.Effects {
		switch effect {
		case EffectDeductStock:
			result.Items = append(result.Items, s.applyStockEffect(ctx, order, domain.MovementSale, domain.ReasonOrderDelivered, -1, cmd.Actor)...)
		case EffectRestoreStock:
			result.Items = append(result.Items, s.applyStockEffect(ctx, order, domain.MovementReturn, domain.ReasonOrderCancelledRestore, 1, cmd.Actor)...)
		}
	}

	if s.metrics != nil {
		s.metrics.OrderTransitioned(ctx, string(from), string(target))
	}
	failed := countFailed(result.Items)
	s.logger(ctx, orderEventStatusChanged, map[string]any{
		"orderId":     order.ID,
		"orderNumber": order.OrderNumber,
		"from":        string(from),
		"to":          string(target),
		"effects":     len(result.Effects),
		"failedItems": failed,
	})
	metadata := map[string]any{}
	if len(result.Effects) > 0 {
		names := make([]string, len(result.Effects))
		for i, effect := range result.Effects {
			names[i] = string(effect)
		}
		metadata["effects"] = names
	}
	if failed > 0 {
		metadata["failedItems"] = failed
	}
	if reason != "" {
		metadata["reason"] = reason
	}
	s.recordAudit(ctx, AuditLogRecord{
		Actor:      actorID,
		Action:     orderEventStatusChanged,
		TargetRef:  orderTargetRef(order.ID),
		OccurredAt: now,
		Metadata:   withOrderNumber(metadata, order.OrderNumber),
		Diff: map[string]AuditLogDiff{
			"status":             {Before: string(from), After: string(target)},
			"stockDeducted":      {Before: wasDeducted, After: order.StockDeducted},
			"cancellationReason": {Before: derefString(previousReason), After: derefString(order.CancellationReason)},
		},
	})
	s.publishEvent(ctx, OrderEvent{
		Type:           orderEventStatusChanged,
		OrderID:        order.ID,
		OrderNumber:    order.OrderNumber,
		PreviousStatus: string(from),
		CurrentStatus:  string(target),
		ActorID:        actorID,
		OccurredAt:     now,
		Metadata:       metadata,
	})
	return result, nil
}

// applyStockEffect records one movement per order line. sign is -1 for deductions and 1 for restorations.
func (s *orderService) applyStockEffect(ctx context.Context, order Order, movementType domain.MovementType, reason string, sign int64, actor domain.Actor) []ItemResult {
	results := make([]ItemResult, 0, len(order.Items))
	for _, line := range order.Items {
		item := ItemResult{ProductID: line.ProductID, Quantity: line.Quantity}
		movement, err := s.stock.Apply(ctx, ApplyMovementCommand{
			ProductID:   line.ProductID,
			Type:        movementType,
			Quantity:    sign * line.Quantity,
			Reason:      reason,
			Notes:       "Commande " + order.OrderNumber,
			OrderID:     order.ID,
			OrderNumber: order.OrderNumber,
			Actor:       actor,
		})
		if err != nil {
			item.Err = err
			if s.metrics != nil {
				s.metrics.ItemFailed(ctx, reason)
			}
			s.logger(ctx, "order.stock.item.failed", map[string]any{
				"orderId":     order.ID,
				"orderNumber": order.OrderNumber,
				"productId":   line.ProductID,
				"quantity":    line.Quantity,
				"reason":      reason,
				"error":       err,
			})
		} else {
			item.Movement = &movement
		}
		results = append(results, item)
	}
	return results
}

// DeleteOrder removes the order document. Movements already recorded for it stay in the ledger.
func (s *orderService) DeleteOrder(ctx context.Context, orderID string, actor domain.Actor) error {
	id := strings.TrimSpace(orderID)
	if id == "" {
		return fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	order, err := s.orders.FindByID(ctx, id)
	if err != nil {
		return mapStoreError(err, ErrOrderNotFound)
	}
	if err := s.orders.Delete(ctx, id); err != nil {
		return mapStoreError(err, ErrOrderNotFound)
	}

	now := s.clock()
	s.logger(ctx, orderEventDeleted, map[string]any{
		"orderId":     order.ID,
		"orderNumber": order.OrderNumber,
		"status":      string(order.Status),
		"actor":       actor.ID(),
	})
	s.recordAudit(ctx, AuditLogRecord{
		Actor:                 actor.ID(),
		Action:                orderEventDeleted,
		TargetRef:             orderTargetRef(order.ID),
		Severity:              "warn",
		OccurredAt:            now,
		Metadata:              orderSnapshot(order),
		SensitiveMetadataKeys: []string{"customerName"},
	})
	s.publishEvent(ctx, OrderEvent{
		Type:          orderEventDeleted,
		OrderID:       order.ID,
		OrderNumber:   order.OrderNumber,
		CurrentStatus: string(order.Status),
		ActorID:       actor.ID(),
		OccurredAt:    now,
	})
	return nil
}

func (s *orderService) ListOrdersByCustomer(ctx context.Context, customerID string, pager domain.Pagination) (domain.CursorPage[Order], error) {
	id := strings.TrimSpace(customerID)
	if id == "" {
		return domain.CursorPage[Order]{}, fmt.Errorf("%w: customer id is required", ErrOrderInvalidInput)
	}
	return s.list(ctx, repositories.OrderListFilter{CustomerID: id, Pagination: pager})
}

func (s *orderService) ListOrdersByStatus(ctx context.Context, status domain.OrderStatus, pager domain.Pagination) (domain.CursorPage[Order], error) {
	if !status.Valid() {
		return domain.CursorPage[Order]{}, fmt.Errorf("%w: unknown status %q", ErrOrderInvalidInput, status)
	}
	return s.list(ctx, repositories.OrderListFilter{Status: status, Pagination: pager})
}

// ListOrdersToday returns orders created since local midnight in the engine location.
func (s *orderService) ListOrdersToday(ctx context.Context) ([]Order, error) {
	local := s.clock().In(s.location)
	start := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, s.location)
	end := start.AddDate(0, 0, 1)

	filter := repositories.OrderListFilter{
		CreatedFrom: &start,
		CreatedTo:   &end,
		Pagination:  domain.Pagination{PageSize: pagination.DefaultMaxPageSize},
	}
	var orders []Order
	for range maxTodayPages {
		page, err := s.list(ctx, filter)
		if err != nil {
			return nil, err
		}
		orders = append(orders, page.Items...)
		if page.NextPageToken == "" {
			return orders, nil
		}
		filter.Pagination.PageToken = page.NextPageToken
	}
	s.logger(ctx, "order.list.today.truncated", map[string]any{"returned": len(orders)})
	return orders, nil
}

func (s *orderService) ListRecentOrders(ctx context.Context, limit int) ([]Order, error) {
	if limit <= 0 {
		limit = s.recentLimit
	}
	limit = min(limit, pagination.DefaultMaxPageSize)
	page, err := s.list(ctx, repositories.OrderListFilter{Pagination: domain.Pagination{PageSize: limit}})
	if err != nil {
		return nil, err
	}
	return page.Items, nil
}

func (s *orderService) list(ctx context.Context, filter repositories.OrderListFilter) (domain.CursorPage[Order], error) {
	page, err := s.orders.List(ctx, filter)
	if err != nil {
		if errors.Is(err, pagination.ErrInvalidPageToken) {
			return domain.CursorPage[Order]{}, fmt.Errorf("%w: %v", ErrOrderInvalidInput, err)
		}
		return domain.CursorPage[Order]{}, mapStoreError(err, nil)
	}
	for i := range page.Items {
		page.Items[i].StatusHistory = historyWithInitial(page.Items[i])
	}
	return page, nil
}

func (s *orderService) recordAudit(ctx context.Context, record AuditLogRecord) {
	if s.audit == nil {
		return
	}
	s.audit.Record(ctx, record)
}

func orderTargetRef(orderID string) string {
	return "orders/" + orderID
}

// orderSnapshot keeps what a deleted order leaves behind: its identity, final state, lines and history.
func orderSnapshot(order Order) map[string]any {
	items := make([]map[string]any, 0, len(order.Items))
	for _, line := range order.Items {
		items = append(items, map[string]any{
			"productId": line.ProductID,
			"quantity":  line.Quantity,
			"unitPrice": line.UnitPrice,
		})
	}
	history := make([]map[string]any, 0, len(order.StatusHistory)+1)
	for _, change := range historyWithInitial(order) {
		entry := map[string]any{
			"status":    string(change.Status),
			"changedAt": change.ChangedAt.UTC().Format(time.RFC3339Nano),
			"changedBy": change.ChangedBy,
		}
		if change.Reason != "" {
			entry["reason"] = change.Reason
		}
		if change.Notes != "" {
			entry["notes"] = change.Notes
		}
		history = append(history, entry)
	}
	snapshot := map[string]any{
		"orderNumber":   order.OrderNumber,
		"status":        string(order.Status),
		"customerId":    order.CustomerID,
		"customerName":  order.CustomerName,
		"total":         order.Total,
		"stockDeducted": order.StockDeducted,
		"createdAt":     order.CreatedAt.UTC().Format(time.RFC3339Nano),
		"items":         items,
		"statusHistory": history,
	}
	if order.CancellationReason != nil {
		snapshot["cancellationReason"] = *order.CancellationReason
	}
	return snapshot
}

func withOrderNumber(metadata map[string]any, orderNumber string) map[string]any {
	out := maps.Clone(metadata)
	if out == nil {
		out = map[string]any{}
	}
	out["orderNumber"] = orderNumber
	return out
}

func derefString(value *string) string {
	if value == nil {
		return ""
	}
	return *value
}

func (s *orderService) publishEvent(ctx context.Context, event OrderEvent) {
	if s.events == nil {
		return
	}
	if event.Metadata != nil {
		event.Metadata = maps.Clone(event.Metadata)
	}
	if err := s.events.PublishOrderEvent(ctx, event); err != nil {
		s.logger(ctx, "order.event.publish.failed", map[string]any{
			"type":   event.Type,
			"order":  event.OrderID,
			"error":  err,
			"status": event.CurrentStatus,
		})
	}
}
