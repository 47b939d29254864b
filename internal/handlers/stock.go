package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/cuvejm/stockengine/internal/domain"
	"github.com/cuvejm/stockengine/internal/platform/auth"
	"github.com/cuvejm/stockengine/internal/platform/httpx"
	"github.com/cuvejm/stockengine/internal/services"
)

// StockHandlers exposes receptions, adjustments and ledger reads to staff.
type StockHandlers struct {
	authn     *auth.Authenticator
	ledger    services.StockLedgerService
	location  *time.Location
	mutations []func(http.Handler) http.Handler
}

// StockOption customises StockHandlers.
type StockOption func(*StockHandlers)

// WithStockLocation sets the zone used to interpret date-only receipt dates.
func WithStockLocation(loc *time.Location) StockOption {
	return func(h *StockHandlers) {
		if loc != nil {
			h.location = loc
		}
	}
}

// WithStockMutationMiddleware appends middleware that runs after authentication.
func WithStockMutationMiddleware(mw func(http.Handler) http.Handler) StockOption {
	return func(h *StockHandlers) {
		if mw != nil {
			h.mutations = append(h.mutations, mw)
		}
	}
}

// NewStockHandlers constructs the /stock handlers.
func NewStockHandlers(authn *auth.Authenticator, ledger services.StockLedgerService, opts ...StockOption) *StockHandlers {
	h := &StockHandlers{authn: authn, ledger: ledger, location: time.UTC}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Routes registers the /stock endpoints.
func (h *StockHandlers) Routes(r chi.Router) {
	if h.authn != nil {
		r.Use(h.authn.RequireFirebaseAuth(auth.RoleStaff))
	}
	for _, mw := range h.mutations {
		r.Use(mw)
	}
	r.Post("/receptions", h.receive)
	r.Post("/adjustments", h.adjust)
	r.Get("/movements", h.listMovements)
	r.Get("/products:low", h.listLowStock)
	r.Get("/products/{productID}", h.getProduct)
}

type receptionRequest struct {
	Items       []receptionLineRequest `json:"items"`
	Supplier    string                 `json:"supplier"`
	ReceiptDate string                 `json:"receipt_date"`
	Notes       string                 `json:"notes"`
}

type receptionLineRequest struct {
	ProductID string `json:"product_id"`
	Quantity  int64  `json:"quantity"`
}

type adjustmentRequest struct {
	ProductID      string `json:"product_id"`
	AdjustmentType string `json:"adjustment_type"`
	Quantity       int64  `json:"quantity"`
	Reason         string `json:"reason"`
	Notes          string `json:"notes"`
}

type receptionResponse struct {
	ReceiptNumber         string              `json:"receipt_number"`
	ReceiptNumberDegraded bool                `json:"receipt_number_degraded,omitempty"`
	Items                 []itemResultPayload `json:"items"`
	Warning               string              `json:"warning,omitempty"`
}

type movementResponse struct {
	Movement movementPayload `json:"movement"`
}

type movementListResponse struct {
	Items         []movementPayload `json:"items"`
	NextPageToken string            `json:"next_page_token,omitempty"`
}

type productResponse struct {
	Product productPayload `json:"product"`
}

type productListResponse struct {
	Items []productPayload `json:"items"`
}

func (h *StockHandlers) receive(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.ledger == nil {
		httpx.WriteError(ctx, w, httpx.NewError("stock_service_unavailable", "stock service unavailable", http.StatusServiceUnavailable))
		return
	}

	var req receptionRequest
	if err := decodeJSONBody(r, maxBodySize, &req); err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	cmd := services.ReceiveStockCommand{
		Items:    make([]services.ReceiveLine, 0, len(req.Items)),
		Supplier: strings.TrimSpace(req.Supplier),
		Notes:    req.Notes,
		Actor:    auth.ActorFromContext(ctx),
	}
	for _, item := range req.Items {
		cmd.Items = append(cmd.Items, services.ReceiveLine{ProductID: strings.TrimSpace(item.ProductID), Quantity: item.Quantity})
	}
	if strings.TrimSpace(req.ReceiptDate) != "" {
		day, err := parseDay(req.ReceiptDate, h.location)
		if err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "receipt_date: "+err.Error(), http.StatusBadRequest))
			return
		}
		cmd.ReceiptDate = &day
	}

	result, err := h.ledger.Receive(ctx, cmd)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}

	partial := result.PartialFailure()
	resp := receptionResponse{
		ReceiptNumber:         result.ReceiptNumber,
		ReceiptNumberDegraded: result.ReceiptNumberDegraded,
		Items:                 buildItemResults(result.Items),
	}
	if partial != nil {
		resp.Warning = partial.Error()
	}
	httpx.WriteJSON(w, partialStatus(partial, http.StatusCreated), resp)
}

func (h *StockHandlers) adjust(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.ledger == nil {
		httpx.WriteError(ctx, w, httpx.NewError("stock_service_unavailable", "stock service unavailable", http.StatusServiceUnavailable))
		return
	}

	var req adjustmentRequest
	if err := decodeJSONBody(r, maxBodySize, &req); err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	movement, err := h.ledger.Adjust(ctx, services.AdjustStockCommand{
		ProductID:      strings.TrimSpace(req.ProductID),
		AdjustmentType: domain.AdjustmentType(strings.ToLower(strings.TrimSpace(req.AdjustmentType))),
		Quantity:       req.Quantity,
		Reason:         req.Reason,
		Notes:          req.Notes,
		Actor:          auth.ActorFromContext(ctx),
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, movementResponse{Movement: buildMovementPayload(movement)})
}

// listMovements requires exactly one of product_id or type.
func (h *StockHandlers) listMovements(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.ledger == nil {
		httpx.WriteError(ctx, w, httpx.NewError("stock_service_unavailable", "stock service unavailable", http.StatusServiceUnavailable))
		return
	}

	query := r.URL.Query()
	productID := strings.TrimSpace(query.Get("product_id"))
	movementType := strings.ToLower(strings.TrimSpace(query.Get("type")))
	if (productID == "") == (movementType == "") {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "exactly one of product_id or type is required", http.StatusBadRequest))
		return
	}

	pager, err := parsePagination(r)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	var page domain.CursorPage[services.StockMovement]
	if productID != "" {
		page, err = h.ledger.ListMovementsByProduct(ctx, productID, pager)
	} else {
		page, err = h.ledger.ListMovementsByType(ctx, domain.MovementType(movementType), pager)
	}
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}

	resp := movementListResponse{Items: make([]movementPayload, 0, len(page.Items)), NextPageToken: page.NextPageToken}
	for _, movement := range page.Items {
		resp.Items = append(resp.Items, buildMovementPayload(movement))
	}
	httpx.WriteJSON(w, http.StatusOK, resp)
}

func (h *StockHandlers) getProduct(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.ledger == nil {
		httpx.WriteError(ctx, w, httpx.NewError("stock_service_unavailable", "stock service unavailable", http.StatusServiceUnavailable))
		return
	}
	product, err := h.ledger.GetProduct(ctx, strings.TrimSpace(chi.URLParam(r, "productID")))
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, productResponse{Product: buildProductPayload(product)})
}

func (h *StockHandlers) listLowStock(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.ledger == nil {
		httpx.WriteError(ctx, w, httpx.NewError("stock_service_unavailable", "stock service unavailable", http.StatusServiceUnavailable))
		return
	}
	products, err := h.ledger.ListLowStock(ctx)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	resp := productListResponse{Items: make([]productPayload, 0, len(products))}
	for _, product := range products {
		resp.Items = append(resp.Items, buildProductPayload(product))
	}
	httpx.WriteJSON(w, http.StatusOK, resp)
}
