package services

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	domain "github.com/cuvejm/stockengine/internal/domain"
	"github.com/cuvejm/stockengine/internal/repositories"
)

type storeError struct {
	op          string
	notFound    bool
	unavailable bool
}

func (e *storeError) Error() string {
	switch {
	case e.notFound:
		return e.op + ": not found"
	case e.unavailable:
		return e.op + ": unavailable"
	}
	return e.op + ": failed"
}

func (e *storeError) IsNotFound() bool    { return e.notFound }
func (e *storeError) IsConflict() bool    { return false }
func (e *storeError) IsUnavailable() bool { return e.unavailable }

var _ repositories.RepositoryError = (*storeError)(nil)

// memoryStore keeps products, movements, orders and counters behind one mutex so every
// repository call behaves like a committed transaction.
type memoryStore struct {
	mu        sync.Mutex
	products  map[string]domain.Product
	movements []domain.StockMovement
	orders    map[string]domain.Order
	counters  map[string]int64

	counterErr error
	applyErr   map[string]error
}

func newMemoryStore(products ...domain.Product) *memoryStore {
	store := &memoryStore{
		products: make(map[string]domain.Product),
		orders:   make(map[string]domain.Order),
		counters: make(map[string]int64),
		applyErr: make(map[string]error),
	}
	for _, product := range products {
		store.products[product.ID] = product
	}
	return store
}

func (s *memoryStore) product(id string) domain.Product {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.products[id]
}

func (s *memoryStore) movementsFor(productID string) []domain.StockMovement {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.StockMovement
	for _, movement := range s.movements {
		if movement.ProductID == productID {
			out = append(out, movement)
		}
	}
	return out
}

func (s *memoryStore) order(id string) domain.Order {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneOrder(s.orders[id])
}

func (s *memoryStore) putOrder(order domain.Order) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.orders[order.ID] = cloneOrder(order)
}

func cloneOrder(order domain.Order) domain.Order {
	order.Items = append([]domain.OrderItem(nil), order.Items...)
	order.StatusHistory = append([]domain.OrderStatusChange(nil), order.StatusHistory...)
	if order.CancellationReason != nil {
		reason := *order.CancellationReason
		order.CancellationReason = &reason
	}
	return order
}

type memoryProducts struct{ store *memoryStore }

func (r memoryProducts) FindByID(_ context.Context, productID string) (domain.Product, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	product, ok := r.store.products[productID]
	if !ok {
		return domain.Product{}, &storeError{op: "products.find", notFound: true}
	}
	return product, nil
}

func (r memoryProducts) FindByIDs(_ context.Context, productIDs []string) (map[string]domain.Product, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	found := make(map[string]domain.Product, len(productIDs))
	for _, id := range productIDs {
		if product, ok := r.store.products[id]; ok {
			found[id] = product
		}
	}
	return found, nil
}

func (r memoryProducts) ListLowStock(context.Context) ([]domain.Product, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	var out []domain.Product
	for _, product := range r.store.products {
		if product.IsLowStock() {
			out = append(out, product)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Stock != out[j].Stock {
			return out[i].Stock < out[j].Stock
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

type memoryLedger struct{ store *memoryStore }

func (r memoryLedger) Apply(_ context.Context, productID string, mutate repositories.LedgerMutation) (domain.StockMovement, domain.Product, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	if err := r.store.applyErr[productID]; err != nil {
		return domain.StockMovement{}, domain.Product{}, err
	}
	current, ok := r.store.products[productID]
	if !ok {
		return domain.StockMovement{}, domain.Product{}, repositories.NewLedgerError(repositories.LedgerErrorProductNotFound, productID, "product not found", nil)
	}
	movement, updated, err := mutate(current)
	if err != nil {
		return domain.StockMovement{}, domain.Product{}, err
	}
	if movement.Sequence != current.LedgerSequence+1 || movement.PreviousHash != current.LedgerHead {
		return domain.StockMovement{}, domain.Product{}, repositories.NewLedgerError(repositories.LedgerErrorChainMismatch, productID, "chain mismatch", nil)
	}
	updated.LedgerSequence = movement.Sequence
	updated.LedgerHead = movement.Hash
	r.store.products[productID] = updated
	r.store.movements = append(r.store.movements, movement)
	return movement, updated, nil
}

func (r memoryLedger) ListByProduct(_ context.Context, productID string, _ domain.Pagination) (domain.CursorPage[domain.StockMovement], error) {
	return domain.CursorPage[domain.StockMovement]{Items: r.newestFirst(func(m domain.StockMovement) bool { return m.ProductID == productID })}, nil
}

func (r memoryLedger) ListByType(_ context.Context, movementType domain.MovementType, _ domain.Pagination) (domain.CursorPage[domain.StockMovement], error) {
	return domain.CursorPage[domain.StockMovement]{Items: r.newestFirst(func(m domain.StockMovement) bool { return m.Type == movementType })}, nil
}

func (r memoryLedger) newestFirst(keep func(domain.StockMovement) bool) []domain.StockMovement {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	var out []domain.StockMovement
	for i := len(r.store.movements) - 1; i >= 0; i-- {
		if keep(r.store.movements[i]) {
			out = append(out, r.store.movements[i])
		}
	}
	return out
}

func (r memoryLedger) ListChain(_ context.Context, productID string) ([]domain.StockMovement, error) {
	return r.store.movementsFor(productID), nil
}

func (r memoryLedger) ListCreatedBetween(_ context.Context, from, to time.Time) ([]domain.StockMovement, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	var out []domain.StockMovement
	for _, movement := range r.store.movements {
		if !movement.CreatedAt.Before(from) && movement.CreatedAt.Before(to) {
			out = append(out, movement)
		}
	}
	return out, nil
}

func (r memoryLedger) HighestSequence(_ context.Context, prefix string, year int) (int64, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	var identifiers []string
	for _, movement := range r.store.movements {
		if !movement.ReceiptNumberDegraded {
			identifiers = append(identifiers, movement.ReceiptNumber)
		}
	}
	return highestSuffix(identifiers, prefix, year), nil
}

type memoryOrders struct{ store *memoryStore }

func (r memoryOrders) Insert(_ context.Context, order domain.Order) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	if _, exists := r.store.orders[order.ID]; exists {
		return fmt.Errorf("order %s already exists", order.ID)
	}
	r.store.orders[order.ID] = cloneOrder(order)
	return nil
}

func (r memoryOrders) FindByID(_ context.Context, orderID string) (domain.Order, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	order, ok := r.store.orders[orderID]
	if !ok {
		return domain.Order{}, &storeError{op: "orders.find", notFound: true}
	}
	return cloneOrder(order), nil
}

func (r memoryOrders) Transition(_ context.Context, orderID string, mutate repositories.OrderMutation) (domain.Order, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	current, ok := r.store.orders[orderID]
	if !ok {
		return domain.Order{}, &storeError{op: "orders.transition", notFound: true}
	}
	next, err := mutate(cloneOrder(current))
	if err != nil {
		return domain.Order{}, err
	}
	r.store.orders[orderID] = cloneOrder(next)
	return next, nil
}

func (r memoryOrders) Delete(_ context.Context, orderID string) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	if _, ok := r.store.orders[orderID]; !ok {
		return &storeError{op: "orders.delete", notFound: true}
	}
	delete(r.store.orders, orderID)
	return nil
}

func (r memoryOrders) List(_ context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	var out []domain.Order
	for _, order := range r.store.orders {
		if filter.CustomerID != "" && order.CustomerID != filter.CustomerID {
			continue
		}
		if filter.Status != "" && order.Status != filter.Status {
			continue
		}
		if filter.CreatedFrom != nil && order.CreatedAt.Before(*filter.CreatedFrom) {
			continue
		}
		if filter.CreatedTo != nil && !order.CreatedAt.Before(*filter.CreatedTo) {
			continue
		}
		out = append(out, cloneOrder(order))
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	if size := filter.Pagination.PageSize; size > 0 && len(out) > size {
		out = out[:size]
	}
	return domain.CursorPage[domain.Order]{Items: out}, nil
}

func (r memoryOrders) HighestSequence(_ context.Context, prefix string, year int) (int64, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	var identifiers []string
	for _, order := range r.store.orders {
		if !order.OrderNumberDegraded {
			identifiers = append(identifiers, order.OrderNumber)
		}
	}
	return highestSuffix(identifiers, prefix, year), nil
}

type memoryCounters struct{ store *memoryStore }

func (r memoryCounters) Next(_ context.Context, counterID string, step int64) (int64, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	if r.store.counterErr != nil {
		return 0, r.store.counterErr
	}
	r.store.counters[counterID] += step
	return r.store.counters[counterID], nil
}

func (r memoryCounters) Seed(_ context.Context, counterID string, floor int64) (bool, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	if r.store.counterErr != nil {
		return false, r.store.counterErr
	}
	if _, ok := r.store.counters[counterID]; ok {
		return false, nil
	}
	r.store.counters[counterID] = floor
	return true, nil
}

func (r memoryCounters) Exists(_ context.Context, counterID string) (bool, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	if r.store.counterErr != nil {
		return false, r.store.counterErr
	}
	_, ok := r.store.counters[counterID]
	return ok, nil
}

// memoryAudit keeps entries in append order; List filters on target and action only.
type memoryAudit struct {
	mu        sync.Mutex
	entries   []domain.AuditLogEntry
	appendErr error
}

func (r *memoryAudit) Append(_ context.Context, entry domain.AuditLogEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.appendErr != nil {
		return r.appendErr
	}
	r.entries = append(r.entries, entry)
	return nil
}

func (r *memoryAudit) List(_ context.Context, filter repositories.AuditLogFilter) (domain.CursorPage[domain.AuditLogEntry], error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var page domain.CursorPage[domain.AuditLogEntry]
	for _, entry := range r.entries {
		if filter.TargetRef != "" && entry.TargetRef != filter.TargetRef {
			continue
		}
		if filter.Action != "" && entry.Action != filter.Action {
			continue
		}
		page.Items = append(page.Items, entry)
	}
	return page, nil
}

func (r *memoryAudit) actions() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.entries))
	for i, entry := range r.entries {
		out[i] = entry.Action
	}
	return out
}

func highestSuffix(identifiers []string, prefix string, year int) int64 {
	start := fmt.Sprintf("%s-%04d-", prefix, year)
	var highest int64
	for _, identifier := range identifiers {
		if !strings.HasPrefix(identifier, start) {
			continue
		}
		var value int64
		if _, err := fmt.Sscanf(strings.TrimPrefix(identifier, start), "%d", &value); err == nil && value > highest {
			highest = value
		}
	}
	return highest
}

type recordingMetrics struct {
	mu          sync.Mutex
	degraded    []string
	recorded    []string
	failed      []string
	transitions []string
}

func (m *recordingMetrics) SequenceDegraded(_ context.Context, prefix string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.degraded = append(m.degraded, prefix)
}

func (m *recordingMetrics) MovementRecorded(_ context.Context, movementType string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recorded = append(m.recorded, movementType)
}

func (m *recordingMetrics) ItemFailed(_ context.Context, operation string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failed = append(m.failed, operation)
}

func (m *recordingMetrics) OrderTransitioned(_ context.Context, from, to string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.transitions = append(m.transitions, from+"->"+to)
}

type recordingEvents struct {
	mu     sync.Mutex
	orders []OrderEvent
	stock  []StockEvent
	err    error
}

func (p *recordingEvents) PublishOrderEvent(_ context.Context, event OrderEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.orders = append(p.orders, event)
	return p.err
}

func (p *recordingEvents) PublishStockEvent(_ context.Context, event StockEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stock = append(p.stock, event)
	return p.err
}

func (p *recordingEvents) stockTypes() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	types := make([]string, len(p.stock))
	for i, event := range p.stock {
		types[i] = event.Type
	}
	return types
}

// engineFixture wires the real services over one memory store.
type engineFixture struct {
	store     *memoryStore
	metrics   *recordingMetrics
	events    *recordingEvents
	audit     *memoryAudit
	sequences SequenceService
	stock     StockLedgerService
	orders    OrderService
	now       time.Time
}

func newEngineFixture(products ...domain.Product) *engineFixture {
	store := newMemoryStore(products...)
	fixture := &engineFixture{
		store:   store,
		metrics: &recordingMetrics{},
		events:  &recordingEvents{},
		audit:   &memoryAudit{},
		now:     time.Date(2025, 3, 14, 9, 30, 0, 0, time.UTC),
	}
	clock := func() time.Time { return fixture.now }

	var seq int
	var idMu sync.Mutex
	ids := func() string {
		idMu.Lock()
		defer idMu.Unlock()
		seq++
		return fmt.Sprintf("%026d", seq)
	}

	sequences, err := NewSequenceService(SequenceServiceDeps{
		Counters: memoryCounters{store: store},
		Scanners: map[string]repositories.SequenceScanner{
			DefaultOrderPrefix:   memoryOrders{store: store},
			DefaultReceiptPrefix: memoryLedger{store: store},
		},
		Clock:   clock,
		Metrics: fixture.metrics,
	})
	if err != nil {
		panic(err)
	}
	stock, err := NewStockLedgerService(StockLedgerServiceDeps{
		Products:       memoryProducts{store: store},
		Ledger:         memoryLedger{store: store},
		Sequences:      sequences,
		Events:         fixture.events,
		LowStockAlerts: true,
		Clock:          clock,
		IDGenerator:    ids,
		Metrics:        fixture.metrics,
	})
	if err != nil {
		panic(err)
	}
	audit, err := NewAuditLogService(AuditLogServiceDeps{
		Repository:  fixture.audit,
		Clock:       clock,
		IDGenerator: ids,
	})
	if err != nil {
		panic(err)
	}
	orders, err := NewOrderService(OrderServiceDeps{
		Orders:      memoryOrders{store: store},
		Products:    memoryProducts{store: store},
		Stock:       stock,
		Sequences:   sequences,
		Events:      fixture.events,
		Audit:       audit,
		Clock:       clock,
		IDGenerator: ids,
		Metrics:     fixture.metrics,
	})
	if err != nil {
		panic(err)
	}
	fixture.sequences = sequences
	fixture.stock = stock
	fixture.orders = orders
	return fixture
}

func (f *engineFixture) advance(d time.Duration) {
	f.now = f.now.Add(d)
}
