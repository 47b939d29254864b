package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/cuvejm/stockengine/internal/domain"
	"github.com/cuvejm/stockengine/internal/platform/pagination"
	"github.com/cuvejm/stockengine/internal/platform/textutil"
	"github.com/cuvejm/stockengine/internal/repositories"
)

const (
	eventStockMovementRecorded   = "stock.movement.recorded"
	eventStockProductDeactivated = "stock.product.deactivated"
	eventStockProductReactivated = "stock.product.reactivated"
	eventStockLow                = "stock.low"

	movementIDPrefix = "mv_"

	minReasonRunes   = 3
	maxReasonRunes   = 500
	maxNotesRunes    = 2000
	maxSupplierRunes = 200
)

var (
	// ErrProductNotFound indicates the product could not be located.
	ErrProductNotFound = newKindError(ErrNotFound, "stock: product not found")
	// ErrStockInvalidInput signals the caller provided invalid movement data.
	ErrStockInvalidInput = newKindError(ErrValidation, "stock: invalid input")
)

// StockLedgerServiceDeps bundles collaborators required to construct the stock ledger service.
type StockLedgerServiceDeps struct {
	Products  repositories.ProductRepository
	Ledger    repositories.LedgerRepository
	Sequences SequenceService
	Events    StockEventPublisher
	// ChainKey keys the movement hash chain. Empty selects the built in key.
	ChainKey       []byte
	LowStockAlerts bool
	Clock          func() time.Time
	IDGenerator    func() string
	Metrics        Metrics
	Logger         func(ctx context.Context, event string, fields map[string]any)
}

type stockLedgerService struct {
	products       repositories.ProductRepository
	ledger         repositories.LedgerRepository
	sequences      SequenceService
	events         StockEventPublisher
	chain          *ledgerChain
	lowStockAlerts bool
	clock          func() time.Time
	newID          func() string
	metrics        Metrics
	logger         func(context.Context, string, map[string]any)
}

var _ StockLedgerService = (*stockLedgerService)(nil)

// NewStockLedgerService wires dependencies into a concrete StockLedgerService implementation.
func NewStockLedgerService(deps StockLedgerServiceDeps) (StockLedgerService, error) {
	if deps.Products == nil {
		return nil, errors.New("stock ledger service: product repository is required")
	}
	if deps.Ledger == nil {
		return nil, errors.New("stock ledger service: ledger repository is required")
	}
	if deps.Sequences == nil {
		return nil, errors.New("stock ledger service: sequence service is required")
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

	return &stockLedgerService{
		products:       deps.Products,
		ledger:         deps.Ledger,
		sequences:      deps.Sequences,
		events:         deps.Events,
		chain:          newLedgerChain(deps.ChainKey),
		lowStockAlerts: deps.LowStockAlerts,
		clock: func() time.Time {
			return clock().UTC().Truncate(time.Microsecond)
		},
		newID:   idGen,
		metrics: deps.Metrics,
		logger:  logger,
	}, nil
}

func (s *stockLedgerService) Apply(ctx context.Context, cmd ApplyMovementCommand) (StockMovement, error) {
	movement, _, err := s.apply(ctx, cmd)
	return movement, err
}

func (s *stockLedgerService) Receive(ctx context.Context, cmd ReceiveStockCommand) (ReceptionResult, error) {
	if len(cmd.Items) == 0 {
		return ReceptionResult{}, fmt.Errorf("%w: at least one item is required", ErrStockInvalidInput)
	}
	ids := make([]string, 0, len(cmd.Items))
	for i, line := range cmd.Items {
		productID := strings.TrimSpace(line.ProductID)
		if productID == "" {
			return ReceptionResult{}, fmt.Errorf("%w: item %d product id is required", ErrStockInvalidInput, i)
		}
		if line.Quantity <= 0 {
			return ReceptionResult{}, fmt.Errorf("%w: quantity for %s must be positive", ErrStockInvalidInput, productID)
		}
		ids = append(ids, productID)
	}

	found, err := s.products.FindByIDs(ctx, ids)
	if err != nil {
		return ReceptionResult{}, mapStoreError(err, ErrProductNotFound)
	}
	if missing := missingProducts(ids, found); len(missing) > 0 {
		return ReceptionResult{}, fmt.Errorf("%w: %s", ErrProductNotFound, strings.Join(missing, ", "))
	}

	allocation, err := s.sequences.NextReceiptNumber(ctx)
	if err != nil {
		return ReceptionResult{}, err
	}

	supplier := textutil.CleanText(cmd.Supplier, maxSupplierRunes)
	notes := joinNotes(prefixed("Fournisseur: ", supplier), textutil.CleanText(cmd.Notes, maxNotesRunes))
	var receiptDate *time.Time
	if cmd.ReceiptDate != nil {
		date := cmd.ReceiptDate.UTC().Truncate(time.Microsecond)
		receiptDate = &date
	}

	result := ReceptionResult{
		ReceiptNumber:         allocation.Identifier,
		ReceiptNumberDegraded: allocation.Degraded,
		Items:                 make([]ItemResult, 0, len(cmd.Items)),
	}
	for _, line := range cmd.Items {
		item := ItemResult{ProductID: strings.TrimSpace(line.ProductID), Quantity: line.Quantity}
		movement, _, err := s.apply(ctx, ApplyMovementCommand{
			ProductID:             item.ProductID,
			Type:                  domain.MovementReception,
			Quantity:              line.Quantity,
			Reason:                "Réception - Bon n°" + allocation.Identifier,
			Notes:                 notes,
			ReceiptNumber:         allocation.Identifier,
			ReceiptNumberDegraded: allocation.Degraded,
			Supplier:              supplier,
			ReceiptDate:           receiptDate,
			Actor:                 cmd.Actor,
		})
		if err != nil {
			item.Err = err
			s.itemFailed(ctx, "reception", map[string]any{
				"productId":     item.ProductID,
				"receiptNumber": allocation.Identifier,
				"quantity":      line.Quantity,
				"error":         err,
			})
		} else {
			item.Movement = &movement
		}
		result.Items = append(result.Items, item)
	}

	s.logger(ctx, "stock.reception.recorded", map[string]any{
		"receiptNumber": result.ReceiptNumber,
		"degraded":      result.ReceiptNumberDegraded,
		"items":         len(result.Items),
		"failed":        countFailed(result.Items),
	})
	return result, nil
}

func (s *stockLedgerService) Adjust(ctx context.Context, cmd AdjustStockCommand) (StockMovement, error) {
	var delta int64
	switch cmd.AdjustmentType {
	case domain.AdjustmentPositive, domain.AdjustmentNegative:
		if cmd.Quantity <= 0 {
			return StockMovement{}, fmt.Errorf("%w: quantity must be positive for %s adjustments", ErrStockInvalidInput, cmd.AdjustmentType)
		}
		delta = cmd.Quantity
		if cmd.AdjustmentType == domain.AdjustmentNegative {
			delta = -cmd.Quantity
		}
	case domain.AdjustmentCorrection:
		if cmd.Quantity == 0 {
			return StockMovement{}, fmt.Errorf("%w: correction quantity must not be zero", ErrStockInvalidInput)
		}
		delta = cmd.Quantity
	default:
		return StockMovement{}, fmt.Errorf("%w: unknown adjustment type %q", ErrStockInvalidInput, cmd.AdjustmentType)
	}

	reason := textutil.CleanText(cmd.Reason, maxReasonRunes)
	if textutil.RuneLen(reason) < minReasonRunes {
		return StockMovement{}, fmt.Errorf("%w: reason must be at least %d characters", ErrStockInvalidInput, minReasonRunes)
	}

	movement, _, err := s.apply(ctx, ApplyMovementCommand{
		ProductID:      cmd.ProductID,
		Type:           domain.MovementAdjustment,
		AdjustmentType: cmd.AdjustmentType,
		Quantity:       delta,
		Reason:         reason,
		Notes:          cmd.Notes,
		Actor:          cmd.Actor,
	})
	return movement, err
}

func (s *stockLedgerService) GetProduct(ctx context.Context, productID string) (Product, error) {
	id := strings.TrimSpace(productID)
	if id == "" {
		return Product{}, fmt.Errorf("%w: product id is required", ErrStockInvalidInput)
	}
	product, err := s.products.FindByID(ctx, id)
	if err != nil {
		return Product{}, mapStoreError(err, ErrProductNotFound)
	}
	return product, nil
}

func (s *stockLedgerService) ListLowStock(ctx context.Context) ([]Product, error) {
	products, err := s.products.ListLowStock(ctx)
	if err != nil {
		return nil, mapStoreError(err, nil)
	}
	return products, nil
}

func (s *stockLedgerService) ListMovementsByProduct(ctx context.Context, productID string, pager domain.Pagination) (domain.CursorPage[StockMovement], error) {
	id := strings.TrimSpace(productID)
	if id == "" {
		return domain.CursorPage[StockMovement]{}, fmt.Errorf("%w: product id is required", ErrStockInvalidInput)
	}
	page, err := s.ledger.ListByProduct(ctx, id, pager)
	if err != nil {
		return domain.CursorPage[StockMovement]{}, s.mapListError(err)
	}
	return page, nil
}

func (s *stockLedgerService) ListMovementsByType(ctx context.Context, movementType domain.MovementType, pager domain.Pagination) (domain.CursorPage[StockMovement], error) {
	if !movementType.Valid() {
		return domain.CursorPage[StockMovement]{}, fmt.Errorf("%w: unknown movement type %q", ErrStockInvalidInput, movementType)
	}
	page, err := s.ledger.ListByType(ctx, movementType, pager)
	if err != nil {
		return domain.CursorPage[StockMovement]{}, s.mapListError(err)
	}
	return page, nil
}

func (s *stockLedgerService) VerifyChain(ctx context.Context, productID string) (ChainReport, error) {
	product, err := s.GetProduct(ctx, productID)
	if err != nil {
		return ChainReport{}, err
	}
	movements, err := s.ledger.ListChain(ctx, product.ID)
	if err != nil {
		return ChainReport{}, mapStoreError(err, nil)
	}
	report, err := s.chain.Verify(product.ID, movements, product.LedgerHead)
	if err != nil {
		return ChainReport{}, err
	}
	if !report.Valid {
		s.logger(ctx, "ledger.chain.broken", map[string]any{
			"productId": product.ID,
			"brokenAt":  report.BrokenAt,
			"reason":    report.Reason,
		})
	}
	return report, nil
}

// apply appends one movement inside the product transaction and emits the follow up events.
func (s *stockLedgerService) apply(ctx context.Context, cmd ApplyMovementCommand) (StockMovement, Product, error) {
	productID := strings.TrimSpace(cmd.ProductID)
	if productID == "" {
		return StockMovement{}, Product{}, fmt.Errorf("%w: product id is required", ErrStockInvalidInput)
	}
	if !cmd.Type.Valid() {
		return StockMovement{}, Product{}, fmt.Errorf("%w: unknown movement type %q", ErrStockInvalidInput, cmd.Type)
	}
	if cmd.AdjustmentType != "" && (cmd.Type != domain.MovementAdjustment || !cmd.AdjustmentType.Valid()) {
		return StockMovement{}, Product{}, fmt.Errorf("%w: adjustment type %q not allowed on %s movements", ErrStockInvalidInput, cmd.AdjustmentType, cmd.Type)
	}
	if cmd.Quantity == 0 {
		return StockMovement{}, Product{}, fmt.Errorf("%w: quantity must not be zero", ErrStockInvalidInput)
	}
	reason := textutil.CleanText(cmd.Reason, maxReasonRunes)
	if reason == "" {
		return StockMovement{}, Product{}, fmt.Errorf("%w: reason is required", ErrStockInvalidInput)
	}

	now := s.clock()
	movementID := movementIDPrefix + s.newID()
	template := domain.StockMovement{
		ID:                    movementID,
		ProductID:             productID,
		Type:                  cmd.Type,
		AdjustmentType:        cmd.AdjustmentType,
		Quantity:              cmd.Quantity,
		Reason:                reason,
		Notes:                 textutil.CleanText(cmd.Notes, maxNotesRunes),
		ReceiptNumber:         strings.TrimSpace(cmd.ReceiptNumber),
		ReceiptNumberDegraded: cmd.ReceiptNumberDegraded,
		Supplier:              textutil.CleanText(cmd.Supplier, maxSupplierRunes),
		ReceiptDate:           cmd.ReceiptDate,
		OrderID:               strings.TrimSpace(cmd.OrderID),
		OrderNumber:           strings.TrimSpace(cmd.OrderNumber),
		CreatedBy:             cmd.Actor.ID(),
		CreatedByName:         cmd.Actor.DisplayName(),
		CreatedAt:             now,
	}

	var decision StockDecision
	movement, product, err := s.ledger.Apply(ctx, productID, func(current domain.Product) (domain.StockMovement, domain.Product, error) {
		decision = EvaluateStock(current, cmd.Quantity, cmd.Type)

		next := template
		next.ProductName = current.Name
		next.PreviousStock = decision.PreviousStock
		next.NewStock = decision.NewStock
		next.Sequence = current.LedgerSequence + 1
		next.PreviousHash = current.LedgerHead
		hash, err := s.chain.Hash(next)
		if err != nil {
			return domain.StockMovement{}, domain.Product{}, err
		}
		next.Hash = hash

		updated := current
		updated.Stock = decision.NewStock
		updated.IsActive = decision.IsActive
		updated.UpdatedAt = now
		return next, updated, nil
	})
	if err != nil {
		return StockMovement{}, Product{}, s.mapLedgerError(err)
	}

	if s.metrics != nil {
		s.metrics.MovementRecorded(ctx, string(movement.Type))
	}
	s.logger(ctx, eventStockMovementRecorded, map[string]any{
		"productId":     movement.ProductID,
		"movementId":    movement.ID,
		"type":          string(movement.Type),
		"quantity":      movement.Quantity,
		"previousStock": movement.PreviousStock,
		"newStock":      movement.NewStock,
		"clamped":       decision.Clamped,
		"sequence":      movement.Sequence,
	})
	s.publishMovementEvents(ctx, movement, product, decision)
	return movement, product, nil
}

func (s *stockLedgerService) publishMovementEvents(ctx context.Context, movement StockMovement, product Product, decision StockDecision) {
	if s.events == nil {
		return
	}
	base := StockEvent{
		ProductID:     movement.ProductID,
		ProductName:   movement.ProductName,
		MovementID:    movement.ID,
		MovementType:  string(movement.Type),
		Quantity:      movement.Quantity,
		PreviousStock: movement.PreviousStock,
		NewStock:      movement.NewStock,
		MinStock:      product.MinStock,
		IsActive:      product.IsActive,
		OrderID:       movement.OrderID,
		ReceiptNumber: movement.ReceiptNumber,
		ActorID:       movement.CreatedBy,
		OccurredAt:    movement.CreatedAt,
	}

	types := []string{eventStockMovementRecorded}
	switch {
	case decision.Deactivated:
		types = append(types, eventStockProductDeactivated)
	case decision.Reactivated:
		types = append(types, eventStockProductReactivated)
	}
	if s.lowStockAlerts && movement.Quantity < 0 && product.IsLowStock() {
		types = append(types, eventStockLow)
	}

	for _, eventType := range types {
		event := base
		event.Type = eventType
		if err := s.events.PublishStockEvent(ctx, event); err != nil {
			s.logger(ctx, "stock.event.publish.failed", map[string]any{
				"type":      eventType,
				"productId": movement.ProductID,
				"error":     err,
			})
		}
	}
}

func (s *stockLedgerService) mapLedgerError(err error) error {
	var ledgerErr *repositories.LedgerError
	if errors.As(err, &ledgerErr) && ledgerErr.IsNotFound() {
		return fmt.Errorf("%w: %s", ErrProductNotFound, ledgerErr.Message)
	}
	if errors.Is(err, ErrValidation) || errors.Is(err, ErrNotFound) {
		return err
	}
	return mapStoreError(err, ErrProductNotFound)
}

func (s *stockLedgerService) mapListError(err error) error {
	if errors.Is(err, pagination.ErrInvalidPageToken) {
		return fmt.Errorf("%w: %v", ErrStockInvalidInput, err)
	}
	return mapStoreError(err, nil)
}

func (s *stockLedgerService) itemFailed(ctx context.Context, operation string, fields map[string]any) {
	if s.metrics != nil {
		s.metrics.ItemFailed(ctx, operation)
	}
	s.logger(ctx, "stock."+operation+".item.failed", fields)
}

func missingProducts(ids []string, found map[string]domain.Product) []string {
	var missing []string
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if _, ok := found[id]; ok {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		missing = append(missing, id)
	}
	sort.Strings(missing)
	return missing
}

func countFailed(items []ItemResult) int {
	failed := 0
	for _, item := range items {
		if !item.Succeeded() {
			failed++
		}
	}
	return failed
}

func prefixed(prefix, value string) string {
	if value == "" {
		return ""
	}
	return prefix + value
}

func joinNotes(parts ...string) string {
	var kept []string
	for _, part := range parts {
		if part != "" {
			kept = append(kept, part)
		}
	}
	return strings.Join(kept, " - ")
}
