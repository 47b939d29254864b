package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/cuvejm/stockengine/internal/domain"
	"github.com/cuvejm/stockengine/internal/services"
)

type stubLedgerService struct {
	applyFn     func(context.Context, services.ApplyMovementCommand) (services.StockMovement, error)
	receiveFn   func(context.Context, services.ReceiveStockCommand) (services.ReceptionResult, error)
	adjustFn    func(context.Context, services.AdjustStockCommand) (services.StockMovement, error)
	productFn   func(context.Context, string) (services.Product, error)
	lowStockFn  func(context.Context) ([]services.Product, error)
	byProductFn func(context.Context, string, domain.Pagination) (domain.CursorPage[services.StockMovement], error)
	byTypeFn    func(context.Context, domain.MovementType, domain.Pagination) (domain.CursorPage[services.StockMovement], error)
	verifyFn    func(context.Context, string) (services.ChainReport, error)
}

func (s *stubLedgerService) Apply(ctx context.Context, cmd services.ApplyMovementCommand) (services.StockMovement, error) {
	if s.applyFn != nil {
		return s.applyFn(ctx, cmd)
	}
	return services.StockMovement{}, errors.New("not implemented")
}

func (s *stubLedgerService) Receive(ctx context.Context, cmd services.ReceiveStockCommand) (services.ReceptionResult, error) {
	if s.receiveFn != nil {
		return s.receiveFn(ctx, cmd)
	}
	return services.ReceptionResult{}, errors.New("not implemented")
}

func (s *stubLedgerService) Adjust(ctx context.Context, cmd services.AdjustStockCommand) (services.StockMovement, error) {
	if s.adjustFn != nil {
		return s.adjustFn(ctx, cmd)
	}
	return services.StockMovement{}, errors.New("not implemented")
}

func (s *stubLedgerService) GetProduct(ctx context.Context, productID string) (services.Product, error) {
	if s.productFn != nil {
		return s.productFn(ctx, productID)
	}
	return services.Product{}, errors.New("not implemented")
}

func (s *stubLedgerService) ListLowStock(ctx context.Context) ([]services.Product, error) {
	if s.lowStockFn != nil {
		return s.lowStockFn(ctx)
	}
	return nil, nil
}

func (s *stubLedgerService) ListMovementsByProduct(ctx context.Context, productID string, pager domain.Pagination) (domain.CursorPage[services.StockMovement], error) {
	if s.byProductFn != nil {
		return s.byProductFn(ctx, productID, pager)
	}
	return domain.CursorPage[services.StockMovement]{}, nil
}

func (s *stubLedgerService) ListMovementsByType(ctx context.Context, movementType domain.MovementType, pager domain.Pagination) (domain.CursorPage[services.StockMovement], error) {
	if s.byTypeFn != nil {
		return s.byTypeFn(ctx, movementType, pager)
	}
	return domain.CursorPage[services.StockMovement]{}, nil
}

func (s *stubLedgerService) VerifyChain(ctx context.Context, productID string) (services.ChainReport, error) {
	if s.verifyFn != nil {
		return s.verifyFn(ctx, productID)
	}
	return services.ChainReport{}, errors.New("not implemented")
}

var _ services.StockLedgerService = (*stubLedgerService)(nil)

func newStockRouter(svc services.StockLedgerService, opts ...StockOption) http.Handler {
	router := chi.NewRouter()
	router.Route("/stock", NewStockHandlers(nil, svc, opts...).Routes)
	return router
}

func TestStockHandlersReceive(t *testing.T) {
	loc := time.FixedZone("UTC-3", -3*60*60)
	var captured services.ReceiveStockCommand
	svc := &stubLedgerService{
		receiveFn: func(_ context.Context, cmd services.ReceiveStockCommand) (services.ReceptionResult, error) {
			captured = cmd
			return services.ReceptionResult{
				ReceiptNumber: "REC-2024-007",
				Items: []domain.ItemResult{
					{ProductID: "prod-1", Quantity: 5, Movement: &domain.StockMovement{ID: "mov-1", NewStock: 15}},
				},
			}, nil
		},
	}

	body := `{"items":[{"product_id":"prod-1","quantity":5}],"supplier":"Acme","receipt_date":"2024-03-10"}`
	rr := httptest.NewRecorder()
	newStockRouter(svc, WithStockLocation(loc)).ServeHTTP(rr, withStaff(httptest.NewRequest(http.MethodPost, "/stock/receptions", strings.NewReader(body))))

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d: %s", rr.Code, rr.Body.String())
	}
	if captured.Supplier != "Acme" || len(captured.Items) != 1 {
		t.Fatalf("unexpected command %#v", captured)
	}
	want := time.Date(2024, 3, 10, 0, 0, 0, 0, loc)
	if captured.ReceiptDate == nil || !captured.ReceiptDate.Equal(want) {
		t.Fatalf("expected receipt date %s, got %v", want, captured.ReceiptDate)
	}
	if captured.Actor.ID() != "staff-1" {
		t.Fatalf("expected staff actor, got %s", captured.Actor.ID())
	}

	var resp receptionResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if resp.ReceiptNumber != "REC-2024-007" || len(resp.Items) != 1 || !resp.Items[0].OK {
		t.Fatalf("unexpected response %#v", resp)
	}
}

func TestStockHandlersReceivePartialFailure(t *testing.T) {
	svc := &stubLedgerService{
		receiveFn: func(context.Context, services.ReceiveStockCommand) (services.ReceptionResult, error) {
			return services.ReceptionResult{
				ReceiptNumber:         "REC-2024-LEGACY",
				ReceiptNumberDegraded: true,
				Items: []domain.ItemResult{
					{ProductID: "prod-1", Quantity: 5, Movement: &domain.StockMovement{ID: "mov-1", NewStock: 15}},
					{ProductID: "prod-2", Quantity: 1, Err: services.ErrProductNotFound},
				},
			}, nil
		},
	}

	body := `{"items":[{"product_id":"prod-1","quantity":5},{"product_id":"prod-2","quantity":1}]}`
	rr := httptest.NewRecorder()
	newStockRouter(svc).ServeHTTP(rr, withStaff(httptest.NewRequest(http.MethodPost, "/stock/receptions", strings.NewReader(body))))

	if rr.Code != http.StatusMultiStatus {
		t.Fatalf("expected status 207, got %d", rr.Code)
	}
	var resp receptionResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if !resp.ReceiptNumberDegraded || resp.Warning == "" {
		t.Fatalf("expected degraded flag and warning, got %#v", resp)
	}
	if resp.Items[1].OK || resp.Items[1].Error == "" {
		t.Fatalf("expected second item to fail, got %#v", resp.Items[1])
	}
}

func TestStockHandlersReceiveInvalidDate(t *testing.T) {
	rr := httptest.NewRecorder()
	body := `{"items":[{"product_id":"prod-1","quantity":5}],"receipt_date":"10/03/2024"}`
	newStockRouter(&stubLedgerService{}).ServeHTTP(rr, withStaff(httptest.NewRequest(http.MethodPost, "/stock/receptions", strings.NewReader(body))))

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}
}

func TestStockHandlersAdjust(t *testing.T) {
	now := time.Date(2024, 3, 15, 9, 30, 0, 0, time.UTC)
	var captured services.AdjustStockCommand
	svc := &stubLedgerService{
		adjustFn: func(_ context.Context, cmd services.AdjustStockCommand) (services.StockMovement, error) {
			captured = cmd
			return services.StockMovement{
				ID:             "mov-9",
				ProductID:      cmd.ProductID,
				Type:           domain.MovementAdjustment,
				AdjustmentType: cmd.AdjustmentType,
				Quantity:       -3,
				PreviousStock:  10,
				NewStock:       7,
				CreatedAt:      now,
				Sequence:       4,
				Hash:           "abc",
			}, nil
		},
	}

	body := `{"product_id":"prod-1","adjustment_type":"NEGATIVE","quantity":3,"reason":"breakage"}`
	rr := httptest.NewRecorder()
	newStockRouter(svc).ServeHTTP(rr, withStaff(httptest.NewRequest(http.MethodPost, "/stock/adjustments", strings.NewReader(body))))

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d: %s", rr.Code, rr.Body.String())
	}
	if captured.AdjustmentType != domain.AdjustmentNegative || captured.Quantity != 3 {
		t.Fatalf("unexpected command %#v", captured)
	}
	var resp movementResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if resp.Movement.NewStock != 7 || resp.Movement.Sequence != 4 {
		t.Fatalf("unexpected movement %#v", resp.Movement)
	}
}

func TestStockHandlersAdjustRejectsNegativeResult(t *testing.T) {
	svc := &stubLedgerService{
		adjustFn: func(context.Context, services.AdjustStockCommand) (services.StockMovement, error) {
			return services.StockMovement{}, fmt.Errorf("%w: stock would become negative", services.ErrStockInvalidInput)
		},
	}
	body := `{"product_id":"prod-1","adjustment_type":"negative","quantity":30,"reason":"loss"}`
	rr := httptest.NewRecorder()
	newStockRouter(svc).ServeHTTP(rr, withStaff(httptest.NewRequest(http.MethodPost, "/stock/adjustments", strings.NewReader(body))))

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}
}

func TestStockHandlersListMovements(t *testing.T) {
	var gotType domain.MovementType
	var gotProduct string
	svc := &stubLedgerService{
		byTypeFn: func(_ context.Context, movementType domain.MovementType, _ domain.Pagination) (domain.CursorPage[services.StockMovement], error) {
			gotType = movementType
			return domain.CursorPage[services.StockMovement]{Items: []services.StockMovement{{ID: "mov-1"}}}, nil
		},
		byProductFn: func(_ context.Context, productID string, _ domain.Pagination) (domain.CursorPage[services.StockMovement], error) {
			gotProduct = productID
			return domain.CursorPage[services.StockMovement]{NextPageToken: "next"}, nil
		},
	}
	router := newStockRouter(svc)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, withStaff(httptest.NewRequest(http.MethodGet, "/stock/movements?type=Sale", nil)))
	if rr.Code != http.StatusOK || gotType != domain.MovementSale {
		t.Fatalf("expected sale listing, got %d %s", rr.Code, gotType)
	}

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, withStaff(httptest.NewRequest(http.MethodGet, "/stock/movements?product_id=prod-1", nil)))
	if rr.Code != http.StatusOK || gotProduct != "prod-1" {
		t.Fatalf("expected product listing, got %d %s", rr.Code, gotProduct)
	}
	var resp movementListResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if resp.NextPageToken != "next" {
		t.Fatalf("expected next page token, got %q", resp.NextPageToken)
	}

	for _, target := range []string{"/stock/movements", "/stock/movements?type=sale&product_id=prod-1"} {
		rr = httptest.NewRecorder()
		router.ServeHTTP(rr, withStaff(httptest.NewRequest(http.MethodGet, target, nil)))
		if rr.Code != http.StatusBadRequest {
			t.Fatalf("%s: expected status 400, got %d", target, rr.Code)
		}
	}
}

func TestStockHandlersProducts(t *testing.T) {
	svc := &stubLedgerService{
		productFn: func(_ context.Context, productID string) (services.Product, error) {
			if productID != "prod-1" {
				return services.Product{}, fmt.Errorf("%w: %s", services.ErrProductNotFound, productID)
			}
			return services.Product{ID: "prod-1", Name: "Pump", Stock: 2, MinStock: 5, IsActive: true}, nil
		},
		lowStockFn: func(context.Context) ([]services.Product, error) {
			return []services.Product{{ID: "prod-1", Stock: 2, MinStock: 5, IsActive: true}}, nil
		},
	}
	router := newStockRouter(svc)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, withStaff(httptest.NewRequest(http.MethodGet, "/stock/products/prod-1", nil)))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	var product productResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &product); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if !product.Product.LowStock {
		t.Fatalf("expected low stock flag")
	}

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, withStaff(httptest.NewRequest(http.MethodGet, "/stock/products/prod-x", nil)))
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", rr.Code)
	}

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, withStaff(httptest.NewRequest(http.MethodGet, "/stock/products:low", nil)))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	var low productListResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &low); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if len(low.Items) != 1 {
		t.Fatalf("expected one low stock product, got %d", len(low.Items))
	}
}
