package services

import (
	"context"
	"errors"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	domain "github.com/cuvejm/stockengine/internal/domain"
)

func pumpProduct(stock int64) domain.Product {
	return domain.Product{
		ID:       "P1",
		Name:     "Pompe immergée 1HP",
		Category: domain.ProductCategoryPump,
		Price:    1000,
		Stock:    stock,
		MinStock: 2,
		IsActive: stock > 0,
	}
}

func TestStockLedgerAdjustDeactivatesAndReceptionReactivates(t *testing.T) {
	fx := newEngineFixture(pumpProduct(5))
	ctx := context.Background()
	actor := domain.Actor{UID: "staff-1", Email: "staff@example.com"}

	movement, err := fx.stock.Adjust(ctx, AdjustStockCommand{
		ProductID:      "P1",
		AdjustmentType: domain.AdjustmentNegative,
		Quantity:       5,
		Reason:         "Inventaire annuel",
		Actor:          actor,
	})
	if err != nil {
		t.Fatalf("adjust: %v", err)
	}
	if movement.Quantity != -5 || movement.PreviousStock != 5 || movement.NewStock != 0 {
		t.Fatalf("unexpected movement %+v", movement)
	}
	if movement.Type != domain.MovementAdjustment || movement.AdjustmentType != domain.AdjustmentNegative {
		t.Fatalf("unexpected movement type %s/%s", movement.Type, movement.AdjustmentType)
	}
	if movement.CreatedBy != "staff-1" || movement.CreatedByName != "staff@example.com" {
		t.Fatalf("unexpected author %s/%s", movement.CreatedBy, movement.CreatedByName)
	}
	if !strings.HasPrefix(movement.ID, "mv_") {
		t.Fatalf("expected mv_ prefix, got %s", movement.ID)
	}
	if product := fx.store.product("P1"); product.Stock != 0 || product.IsActive {
		t.Fatalf("expected empty inactive product, got stock=%d active=%v", product.Stock, product.IsActive)
	}

	fx.advance(time.Minute)
	result, err := fx.stock.Receive(ctx, ReceiveStockCommand{
		Items:    []ReceiveLine{{ProductID: "P1", Quantity: 3}},
		Supplier: "Pompes du Sud",
		Actor:    actor,
	})
	if err != nil {
		t.Fatalf("receive: %v", err)
	}
	if result.ReceiptNumber != "BR-2025-001" || result.ReceiptNumberDegraded {
		t.Fatalf("unexpected receipt %s degraded=%v", result.ReceiptNumber, result.ReceiptNumberDegraded)
	}
	if err := result.PartialFailure(); err != nil {
		t.Fatalf("unexpected partial failure: %v", err)
	}
	received := result.Items[0].Movement
	if received == nil {
		t.Fatalf("expected reception movement")
	}
	if received.Reason != "Réception - Bon n°BR-2025-001" {
		t.Fatalf("unexpected reason %q", received.Reason)
	}
	if received.Notes != "Fournisseur: Pompes du Sud" {
		t.Fatalf("unexpected notes %q", received.Notes)
	}
	if received.PreviousStock != 0 || received.NewStock != 3 {
		t.Fatalf("unexpected stock transition %d -> %d", received.PreviousStock, received.NewStock)
	}
	if product := fx.store.product("P1"); product.Stock != 3 || !product.IsActive {
		t.Fatalf("expected reactivated product with 3, got stock=%d active=%v", product.Stock, product.IsActive)
	}

	types := fx.events.stockTypes()
	want := []string{
		eventStockMovementRecorded, eventStockProductDeactivated,
		eventStockMovementRecorded, eventStockProductReactivated,
	}
	if !slices.Equal(types, want) {
		t.Fatalf("unexpected events %v", types)
	}
}

func TestStockLedgerNegativeAdjustmentClampsAtZero(t *testing.T) {
	fx := newEngineFixture(pumpProduct(4))

	movement, err := fx.stock.Adjust(context.Background(), AdjustStockCommand{
		ProductID:      "P1",
		AdjustmentType: domain.AdjustmentNegative,
		Quantity:       10,
		Reason:         "casse entrepôt",
	})
	if err != nil {
		t.Fatalf("adjust: %v", err)
	}
	if movement.Quantity != -10 || movement.NewStock != 0 {
		t.Fatalf("expected clamped movement, got quantity=%d newStock=%d", movement.Quantity, movement.NewStock)
	}
	if movement.CreatedBy != domain.SystemActorID || movement.CreatedByName != domain.SystemActorName {
		t.Fatalf("expected system author, got %s/%s", movement.CreatedBy, movement.CreatedByName)
	}
}

func TestStockLedgerAdjustValidation(t *testing.T) {
	fx := newEngineFixture(pumpProduct(4))
	ctx := context.Background()

	cases := []struct {
		name string
		cmd  AdjustStockCommand
	}{
		{"short reason", AdjustStockCommand{ProductID: "P1", AdjustmentType: domain.AdjustmentPositive, Quantity: 1, Reason: " ab "}},
		{"markup only reason", AdjustStockCommand{ProductID: "P1", AdjustmentType: domain.AdjustmentPositive, Quantity: 1, Reason: "<b></b>x"}},
		{"zero positive", AdjustStockCommand{ProductID: "P1", AdjustmentType: domain.AdjustmentPositive, Quantity: 0, Reason: "recount"}},
		{"negative quantity on negative type", AdjustStockCommand{ProductID: "P1", AdjustmentType: domain.AdjustmentNegative, Quantity: -2, Reason: "recount"}},
		{"zero correction", AdjustStockCommand{ProductID: "P1", AdjustmentType: domain.AdjustmentCorrection, Quantity: 0, Reason: "recount"}},
		{"unknown type", AdjustStockCommand{ProductID: "P1", AdjustmentType: "bonus", Quantity: 1, Reason: "recount"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := fx.stock.Adjust(ctx, tc.cmd)
			if !errors.Is(err, ErrValidation) || !errors.Is(err, ErrStockInvalidInput) {
				t.Fatalf("expected validation error, got %v", err)
			}
		})
	}
	if got := fx.store.movementsFor("P1"); len(got) != 0 {
		t.Fatalf("expected no movements, got %d", len(got))
	}
}

func TestStockLedgerAdjustCountsDecomposedReason(t *testing.T) {
	fx := newEngineFixture(pumpProduct(4))

	movement, err := fx.stock.Adjust(context.Background(), AdjustStockCommand{
		ProductID:      "P1",
		AdjustmentType: domain.AdjustmentCorrection,
		Quantity:       -1,
		Reason:         "e\u0301te\u0301",
	})
	if err != nil {
		t.Fatalf("adjust: %v", err)
	}
	if movement.Reason != "\u00e9t\u00e9" {
		t.Fatalf("expected NFC reason, got %q", movement.Reason)
	}
	if movement.NewStock != 3 {
		t.Fatalf("expected stock 3, got %d", movement.NewStock)
	}
}

func TestStockLedgerAdjustMissingProduct(t *testing.T) {
	fx := newEngineFixture()

	_, err := fx.stock.Adjust(context.Background(), AdjustStockCommand{
		ProductID:      "ghost",
		AdjustmentType: domain.AdjustmentPositive,
		Quantity:       1,
		Reason:         "recount",
	})
	if !errors.Is(err, ErrNotFound) || !errors.Is(err, ErrProductNotFound) {
		t.Fatalf("expected product not found, got %v", err)
	}
}

func TestStockLedgerReceiveRejectsMissingProductBeforeWrites(t *testing.T) {
	fx := newEngineFixture(pumpProduct(1))

	_, err := fx.stock.Receive(context.Background(), ReceiveStockCommand{
		Items: []ReceiveLine{{ProductID: "P1", Quantity: 2}, {ProductID: "ghost", Quantity: 1}},
	})
	if !errors.Is(err, ErrProductNotFound) {
		t.Fatalf("expected product not found, got %v", err)
	}
	if product := fx.store.product("P1"); product.Stock != 1 {
		t.Fatalf("expected untouched stock, got %d", product.Stock)
	}
	if len(fx.store.counters) != 0 {
		t.Fatalf("expected no receipt number allocated, got %v", fx.store.counters)
	}
}

func TestStockLedgerReceiveValidation(t *testing.T) {
	fx := newEngineFixture(pumpProduct(1))
	ctx := context.Background()

	if _, err := fx.stock.Receive(ctx, ReceiveStockCommand{}); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected validation error for empty reception, got %v", err)
	}
	if _, err := fx.stock.Receive(ctx, ReceiveStockCommand{Items: []ReceiveLine{{ProductID: "P1", Quantity: 0}}}); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected validation error for zero quantity, got %v", err)
	}
}

func TestStockLedgerReceiveReportsPerItemFailures(t *testing.T) {
	second := pumpProduct(0)
	second.ID = "P2"
	fx := newEngineFixture(pumpProduct(1), second)
	fx.store.applyErr["P2"] = &storeError{op: "ledger.apply", unavailable: true}

	result, err := fx.stock.Receive(context.Background(), ReceiveStockCommand{
		Items: []ReceiveLine{{ProductID: "P1", Quantity: 2}, {ProductID: "P2", Quantity: 4}},
	})
	if err != nil {
		t.Fatalf("receive: %v", err)
	}
	if len(result.Items) != 2 {
		t.Fatalf("expected two item results, got %d", len(result.Items))
	}
	if !result.Items[0].Succeeded() || result.Items[1].Succeeded() {
		t.Fatalf("unexpected item outcomes %+v", result.Items)
	}
	if !errors.Is(result.Items[1].Err, ErrUnavailable) {
		t.Fatalf("expected unavailable item error, got %v", result.Items[1].Err)
	}
	if err := result.PartialFailure(); !errors.Is(err, ErrPartialFailure) {
		t.Fatalf("expected partial failure, got %v", err)
	}
	if product := fx.store.product("P1"); product.Stock != 3 {
		t.Fatalf("expected sibling line committed, got stock %d", product.Stock)
	}
	if !slices.Equal(fx.metrics.failed, []string{"reception"}) {
		t.Fatalf("expected one failed item metric, got %v", fx.metrics.failed)
	}
}

func TestStockLedgerReceiveDegradesWhenCounterFails(t *testing.T) {
	fx := newEngineFixture(pumpProduct(1))
	fx.store.counterErr = &storeError{op: "counters.next", unavailable: true}

	result, err := fx.stock.Receive(context.Background(), ReceiveStockCommand{
		Items: []ReceiveLine{{ProductID: "P1", Quantity: 1}},
	})
	if err != nil {
		t.Fatalf("receive: %v", err)
	}
	if !result.ReceiptNumberDegraded {
		t.Fatalf("expected degraded receipt number")
	}
	if !strings.HasPrefix(result.ReceiptNumber, "BR-2025-") || len(result.ReceiptNumber) != len("BR-2025-000000") {
		t.Fatalf("unexpected degraded receipt number %q", result.ReceiptNumber)
	}
	if !result.Items[0].Movement.ReceiptNumberDegraded {
		t.Fatalf("expected degraded flag on the movement")
	}
	if !slices.Equal(fx.metrics.degraded, []string{"BR"}) {
		t.Fatalf("expected degraded metric for BR, got %v", fx.metrics.degraded)
	}
}

func TestStockLedgerConcurrentDeductionsNeverGoNegative(t *testing.T) {
	fx := newEngineFixture(pumpProduct(5))
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := fx.stock.Apply(ctx, ApplyMovementCommand{
				ProductID: "P1",
				Type:      domain.MovementSale,
				Quantity:  -1,
				Reason:    domain.ReasonOrderDelivered,
			})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("apply: %v", err)
		}
	}

	product := fx.store.product("P1")
	if product.Stock != 0 || product.IsActive {
		t.Fatalf("expected stock 0 and inactive, got %d active=%v", product.Stock, product.IsActive)
	}
	if product.LedgerSequence != 8 {
		t.Fatalf("expected 8 chained movements, got %d", product.LedgerSequence)
	}
	for _, movement := range fx.store.movementsFor("P1") {
		if movement.NewStock < 0 || movement.NewStock != max(0, movement.PreviousStock+movement.Quantity) {
			t.Fatalf("movement breaks stock invariant: %+v", movement)
		}
	}
}

func TestStockLedgerVerifyChainDetectsTampering(t *testing.T) {
	fx := newEngineFixture(pumpProduct(10))
	ctx := context.Background()

	for i := range 3 {
		fx.advance(time.Second)
		if _, err := fx.stock.Adjust(ctx, AdjustStockCommand{
			ProductID:      "P1",
			AdjustmentType: domain.AdjustmentNegative,
			Quantity:       int64(i + 1),
			Reason:         "recount",
		}); err != nil {
			t.Fatalf("adjust %d: %v", i, err)
		}
	}

	report, err := fx.stock.VerifyChain(ctx, "P1")
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if !report.Valid || report.Movements != 3 || report.Head != fx.store.product("P1").LedgerHead {
		t.Fatalf("expected valid chain, got %+v", report)
	}

	fx.store.mu.Lock()
	fx.store.movements[1].Quantity = -1
	fx.store.mu.Unlock()

	report, err = fx.stock.VerifyChain(ctx, "P1")
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if report.Valid || report.BrokenAt != 2 {
		t.Fatalf("expected break at sequence 2, got %+v", report)
	}
}

func TestStockLedgerLowStockEvent(t *testing.T) {
	fx := newEngineFixture(pumpProduct(4))

	if _, err := fx.stock.Apply(context.Background(), ApplyMovementCommand{
		ProductID: "P1",
		Type:      domain.MovementLoss,
		Quantity:  -2,
		Reason:    "casse",
	}); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if types := fx.events.stockTypes(); !slices.Equal(types, []string{eventStockMovementRecorded, eventStockLow}) {
		t.Fatalf("unexpected events %v", types)
	}

	low, err := fx.stock.ListLowStock(context.Background())
	if err != nil {
		t.Fatalf("list low stock: %v", err)
	}
	if len(low) != 1 || low[0].ID != "P1" {
		t.Fatalf("expected P1 in low stock list, got %+v", low)
	}
}

func TestStockLedgerPublishFailureDoesNotFailMovement(t *testing.T) {
	fx := newEngineFixture(pumpProduct(4))
	fx.events.err = errors.New("pubsub down")

	if _, err := fx.stock.Apply(context.Background(), ApplyMovementCommand{
		ProductID: "P1",
		Type:      domain.MovementReception,
		Quantity:  1,
		Reason:    "reception",
	}); err != nil {
		t.Fatalf("expected publish failure to be swallowed, got %v", err)
	}
	if product := fx.store.product("P1"); product.Stock != 5 {
		t.Fatalf("expected stock 5, got %d", product.Stock)
	}
}

func TestStockLedgerApplyRejectsAdjustmentTypeOnOtherMovements(t *testing.T) {
	fx := newEngineFixture(pumpProduct(4))

	_, err := fx.stock.Apply(context.Background(), ApplyMovementCommand{
		ProductID:      "P1",
		Type:           domain.MovementSale,
		AdjustmentType: domain.AdjustmentNegative,
		Quantity:       -1,
		Reason:         "sale",
	})
	if !errors.Is(err, ErrStockInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
}
