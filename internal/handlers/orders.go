package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/cuvejm/stockengine/internal/domain"
	"github.com/cuvejm/stockengine/internal/platform/auth"
	"github.com/cuvejm/stockengine/internal/platform/httpx"
	"github.com/cuvejm/stockengine/internal/services"
)

const maxRecentOrders = 200

// OrderHandlers exposes the staff order endpoints.
type OrderHandlers struct {
	authn     *auth.Authenticator
	orders    services.OrderService
	audit     services.AuditLogService
	mutations []func(http.Handler) http.Handler
}

// NewOrderHandlers constructs the /orders handlers. Mutation middlewares (idempotency) run after
// authentication so they can scope keys per caller.
func NewOrderHandlers(authn *auth.Authenticator, orders services.OrderService, mutations ...func(http.Handler) http.Handler) *OrderHandlers {
	return &OrderHandlers{authn: authn, orders: orders, mutations: mutations}
}

// WithAuditLog exposes the audit trail of each order under /orders/{orderID}/audit.
func (h *OrderHandlers) WithAuditLog(audit services.AuditLogService) *OrderHandlers {
	h.audit = audit
	return h
}

// Routes registers the /orders endpoints.
func (h *OrderHandlers) Routes(r chi.Router) {
	if h.authn != nil {
		r.Use(h.authn.RequireFirebaseAuth(auth.RoleStaff))
	}
	for _, mw := range h.mutations {
		if mw != nil {
			r.Use(mw)
		}
	}
	r.Post("/", h.createOrder)
	r.Get("/", h.listOrders)
	r.Get("/{orderID}", h.getOrder)
	if h.audit != nil {
		r.Get("/{orderID}/audit", h.listOrderAudit)
	}
	r.Post("/{orderID}:status", h.updateStatus)
	r.Delete("/{orderID}", h.deleteOrder)
}

type createOrderRequest struct {
	CustomerID    string             `json:"customer_id"`
	CustomerName  string             `json:"customer_name"`
	Items         []orderLineRequest `json:"items"`
	PaymentMethod string             `json:"payment_method"`
	Notes         string             `json:"notes"`
}

type orderLineRequest struct {
	ProductID string `json:"product_id"`
	Quantity  int64  `json:"quantity"`
	UnitPrice *int64 `json:"unit_price,omitempty"`
}

type updateStatusRequest struct {
	Status string `json:"status"`
	Reason string `json:"reason"`
	Notes  string `json:"notes"`
}

func (h *OrderHandlers) createOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	var req createOrderRequest
	if err := decodeJSONBody(r, maxBodySize, &req); err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	lines := make([]services.OrderLine, 0, len(req.Items))
	for _, item := range req.Items {
		lines = append(lines, services.OrderLine{
			ProductID: strings.TrimSpace(item.ProductID),
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice,
		})
	}

	order, err := h.orders.Create(ctx, services.CreateOrderCommand{
		CustomerID:    strings.TrimSpace(req.CustomerID),
		CustomerName:  req.CustomerName,
		Items:         lines,
		PaymentMethod: strings.TrimSpace(req.PaymentMethod),
		Notes:         req.Notes,
		Actor:         auth.ActorFromContext(ctx),
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	w.Header().Set("Location", r.URL.Path+"/"+order.ID)
	httpx.WriteJSON(w, http.StatusCreated, orderResponse{Order: buildOrderPayload(order)})
}

// listOrders serves exactly one of customer_id, status or scope (today|recent). No filter means recent.
func (h *OrderHandlers) listOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	query := r.URL.Query()
	customerID := strings.TrimSpace(query.Get("customer_id"))
	status := strings.TrimSpace(query.Get("status"))
	scope := strings.ToLower(strings.TrimSpace(query.Get("scope")))

	filters := 0
	for _, value := range []string{customerID, status, scope} {
		if value != "" {
			filters++
		}
	}
	if filters > 1 {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "use only one of customer_id, status or scope", http.StatusBadRequest))
		return
	}

	switch {
	case customerID != "" || status != "":
		pager, err := parsePagination(r)
		if err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
			return
		}
		var page domain.CursorPage[services.Order]
		if customerID != "" {
			page, err = h.orders.ListOrdersByCustomer(ctx, customerID, pager)
		} else {
			page, err = h.orders.ListOrdersByStatus(ctx, domain.OrderStatus(strings.ToLower(status)), pager)
		}
		if err != nil {
			writeServiceError(ctx, w, err)
			return
		}
		httpx.WriteJSON(w, http.StatusOK, orderListResponse{Items: buildOrderPayloads(page.Items), NextPageToken: page.NextPageToken})

	case scope == "today":
		orders, err := h.orders.ListOrdersToday(ctx)
		if err != nil {
			writeServiceError(ctx, w, err)
			return
		}
		httpx.WriteJSON(w, http.StatusOK, orderListResponse{Items: buildOrderPayloads(orders)})

	case scope == "" || scope == "recent":
		limit := 0
		if raw := strings.TrimSpace(query.Get("limit")); raw != "" {
			parsed, err := strconv.Atoi(raw)
			if err != nil || parsed < 0 || parsed > maxRecentOrders {
				httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "limit must be an integer between 0 and 200", http.StatusBadRequest))
				return
			}
			limit = parsed
		}
		orders, err := h.orders.ListRecentOrders(ctx, limit)
		if err != nil {
			writeServiceError(ctx, w, err)
			return
		}
		httpx.WriteJSON(w, http.StatusOK, orderListResponse{Items: buildOrderPayloads(orders)})

	default:
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "scope must be today or recent", http.StatusBadRequest))
	}
}

func (h *OrderHandlers) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}
	order, err := h.orders.GetOrder(ctx, strings.TrimSpace(chi.URLParam(r, "orderID")))
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

// listOrderAudit also serves deleted orders: their entries outlive the order document.
func (h *OrderHandlers) listOrderAudit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
		return
	}
	pager, err := parsePagination(r)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}
	page, err := h.audit.List(ctx, services.AuditLogFilter{
		TargetRef:  "orders/" + orderID,
		Action:     r.URL.Query().Get("action"),
		Pagination: pager,
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	items := make([]auditEntryPayload, 0, len(page.Items))
	for _, entry := range page.Items {
		items = append(items, auditEntryPayload{
			ID:        entry.ID,
			Actor:     entry.Actor,
			ActorType: entry.ActorType,
			Action:    entry.Action,
			Severity:  entry.Severity,
			Metadata:  entry.Metadata,
			Diff:      entry.Diff,
			RequestID: entry.RequestID,
			Digest:    entry.Digest,
			CreatedAt: formatTime(entry.CreatedAt),
		})
	}
	httpx.WriteJSON(w, http.StatusOK, auditListResponse{Items: items, NextPageToken: page.NextPageToken})
}

func (h *OrderHandlers) updateStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	var req updateStatusRequest
	if err := decodeJSONBody(r, maxBodySize, &req); err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	result, err := h.orders.UpdateStatus(ctx, services.UpdateOrderStatusCommand{
		OrderID: strings.TrimSpace(chi.URLParam(r, "orderID")),
		Status:  domain.OrderStatus(strings.ToLower(strings.TrimSpace(req.Status))),
		Reason:  req.Reason,
		Notes:   req.Notes,
		Actor:   auth.ActorFromContext(ctx),
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}

	effects := make([]string, 0, len(result.Effects))
	for _, effect := range result.Effects {
		effects = append(effects, string(effect))
	}
	partial := result.PartialFailure()
	resp := statusChangeResponse{
		Order:   buildOrderPayload(result.Order),
		From:    string(result.From),
		To:      string(result.To),
		Effects: effects,
		Items:   buildItemResults(result.Items),
	}
	if partial != nil {
		resp.Warning = partial.Error()
	}
	httpx.WriteJSON(w, partialStatus(partial, http.StatusOK), resp)
}

func (h *OrderHandlers) deleteOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}
	if err := h.orders.DeleteOrder(ctx, strings.TrimSpace(chi.URLParam(r, "orderID")), auth.ActorFromContext(ctx)); err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type orderResponse struct {
	Order orderPayload `json:"order"`
}

type orderListResponse struct {
	Items         []orderPayload `json:"items"`
	NextPageToken string         `json:"next_page_token,omitempty"`
}

type auditEntryPayload struct {
	ID        string         `json:"id"`
	Actor     string         `json:"actor"`
	ActorType string         `json:"actor_type"`
	Action    string         `json:"action"`
	Severity  string         `json:"severity"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	Diff      map[string]any `json:"diff,omitempty"`
	RequestID string         `json:"request_id,omitempty"`
	Digest    string         `json:"digest"`
	CreatedAt string         `json:"created_at"`
}

type auditListResponse struct {
	Items         []auditEntryPayload `json:"items"`
	NextPageToken string              `json:"next_page_token,omitempty"`
}

type statusChangeResponse struct {
	Order   orderPayload        `json:"order"`
	From    string              `json:"from"`
	To      string              `json:"to"`
	Effects []string            `json:"stock_effects"`
	Items   []itemResultPayload `json:"items"`
	Warning string              `json:"warning,omitempty"`
}

type orderPayload struct {
	ID                  string                `json:"id"`
	OrderNumber         string                `json:"order_number"`
	OrderNumberDegraded bool                  `json:"order_number_degraded,omitempty"`
	CustomerID          string                `json:"customer_id"`
	CustomerName        string                `json:"customer_name"`
	Items               []orderItemPayload    `json:"items"`
	Subtotal            int64                 `json:"subtotal"`
	Tax                 int64                 `json:"tax"`
	Total               int64                 `json:"total"`
	Status              string                `json:"status"`
	PaymentMethod       string                `json:"payment_method"`
	Notes               string                `json:"notes,omitempty"`
	CancellationReason  *string               `json:"cancellation_reason"`
	StockDeducted       bool                  `json:"stock_deducted"`
	StatusHistory       []orderHistoryPayload `json:"status_history"`
	CreatedBy           string                `json:"created_by"`
	CreatedAt           string                `json:"created_at"`
	UpdatedAt           string                `json:"updated_at,omitempty"`
}

type orderItemPayload struct {
	ProductID   string `json:"product_id"`
	ProductName string `json:"product_name"`
	Quantity    int64  `json:"quantity"`
	UnitPrice   int64  `json:"unit_price"`
	LineTotal   int64  `json:"line_total"`
}

type orderHistoryPayload struct {
	Status    string `json:"status"`
	ChangedAt string `json:"changed_at"`
	ChangedBy string `json:"changed_by"`
	Reason    string `json:"reason,omitempty"`
	Notes     string `json:"notes,omitempty"`
}

func buildOrderPayloads(orders []services.Order) []orderPayload {
	out := make([]orderPayload, 0, len(orders))
	for _, order := range orders {
		out = append(out, buildOrderPayload(order))
	}
	return out
}

func buildOrderPayload(order services.Order) orderPayload {
	payload := orderPayload{
		ID:                  order.ID,
		OrderNumber:         order.OrderNumber,
		OrderNumberDegraded: order.OrderNumberDegraded,
		CustomerID:          order.CustomerID,
		CustomerName:        order.CustomerName,
		Items:               make([]orderItemPayload, 0, len(order.Items)),
		Subtotal:            order.Subtotal,
		Tax:                 order.Tax,
		Total:               order.Total,
		Status:              string(order.Status),
		PaymentMethod:       order.PaymentMethod,
		Notes:               order.Notes,
		CancellationReason:  order.CancellationReason,
		StockDeducted:       order.StockDeducted,
		CreatedBy:           order.CreatedBy,
		CreatedAt:           formatTime(order.CreatedAt),
		UpdatedAt:           formatTime(order.UpdatedAt),
	}
	for _, item := range order.Items {
		payload.Items = append(payload.Items, orderItemPayload{
			ProductID:   item.ProductID,
			ProductName: item.ProductName,
			Quantity:    item.Quantity,
			UnitPrice:   item.UnitPrice,
			LineTotal:   item.LineTotal,
		})
	}
	history := order.SortedHistory()
	payload.StatusHistory = make([]orderHistoryPayload, 0, len(history))
	for _, change := range history {
		payload.StatusHistory = append(payload.StatusHistory, orderHistoryPayload{
			Status:    string(change.Status),
			ChangedAt: formatTime(change.ChangedAt),
			ChangedBy: change.ChangedBy,
			Reason:    change.Reason,
			Notes:     change.Notes,
		})
	}
	return payload
}
