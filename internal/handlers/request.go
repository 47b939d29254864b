package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/cuvejm/stockengine/internal/domain"
	"github.com/cuvejm/stockengine/internal/platform/httpx"
	"github.com/cuvejm/stockengine/internal/platform/pagination"
	"github.com/cuvejm/stockengine/internal/platform/requestctx"
	"github.com/cuvejm/stockengine/internal/services"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
	maxBodySize     = 64 * 1024
	dateLayout      = "2006-01-02"
)

var (
	errEmptyBody    = errors.New("request body is required")
	errBodyTooLarge = errors.New("request body too large")
)

// decodeJSONBody reads at most limit bytes and rejects unknown fields.
func decodeJSONBody(r *http.Request, limit int64, dst any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	if limit <= 0 {
		limit = maxBodySize
	}
	data, err := io.ReadAll(io.LimitReader(r.Body, limit+1))
	if err != nil {
		return err
	}
	if int64(len(data)) > limit {
		return errBodyTooLarge
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return errEmptyBody
	}
	decoder := json.NewDecoder(strings.NewReader(string(data)))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	return nil
}

func writeBodyError(ctx context.Context, w http.ResponseWriter, err error) {
	if errors.Is(err, errBodyTooLarge) {
		httpx.WriteError(ctx, w, httpx.NewError("payload_too_large", "request body exceeds allowed size", http.StatusRequestEntityTooLarge))
		return
	}
	httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
}

func parsePagination(r *http.Request) (domain.Pagination, error) {
	params, err := pagination.Parse(r.URL.Query(), pagination.Options{
		DefaultPageSize: defaultPageSize,
		MaxPageSize:     maxPageSize,
		SizeKey:         "page_size",
		TokenKey:        "page_token",
	})
	if err != nil {
		return domain.Pagination{}, err
	}
	return domain.Pagination{PageSize: params.PageSize, PageToken: params.PageToken}, nil
}

// parseDay accepts YYYY-MM-DD in loc or a full RFC3339 timestamp.
func parseDay(raw string, loc *time.Location) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if ts, err := time.ParseInLocation(dateLayout, raw, loc); err == nil {
		return ts, nil
	}
	ts, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("%q is not a date (YYYY-MM-DD) or RFC3339 timestamp", raw)
	}
	return ts.In(loc), nil
}

// writeServiceError maps service error kinds onto the HTTP error envelope.
func writeServiceError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	logger := requestctx.Logger(ctx)

	switch {
	case errors.Is(err, services.ErrOrderNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("order_not_found", err.Error(), http.StatusNotFound))
	case errors.Is(err, services.ErrProductNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("product_not_found", err.Error(), http.StatusNotFound))
	case errors.Is(err, services.ErrNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("not_found", err.Error(), http.StatusNotFound))
	case errors.Is(err, services.ErrValidation):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrUnavailable):
		logger.Warn("backing store unavailable", zap.Error(err))
		httpx.WriteError(ctx, w, httpx.NewError("unavailable", "backing store unavailable, retry later", http.StatusServiceUnavailable))
	case errors.Is(err, context.DeadlineExceeded):
		httpx.WriteError(ctx, w, httpx.NewError("deadline_exceeded", "request timed out", http.StatusGatewayTimeout))
	case errors.Is(err, context.Canceled):
		httpx.WriteError(ctx, w, httpx.NewError("request_canceled", "request canceled", 499))
	default:
		logger.Error("unhandled service error", zap.Error(err))
		httpx.WriteError(ctx, w, httpx.NewError("internal_server_error", "internal server error", http.StatusInternalServerError))
	}
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func formatTimePointer(t *time.Time) string {
	if t == nil {
		return ""
	}
	return formatTime(*t)
}

type productPayload struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	Category       string `json:"category"`
	Price          int64  `json:"price"`
	Stock          int64  `json:"stock"`
	MinStock       int64  `json:"min_stock"`
	IsActive       bool   `json:"is_active"`
	LowStock       bool   `json:"low_stock"`
	LedgerSequence int64  `json:"ledger_sequence"`
	CreatedAt      string `json:"created_at,omitempty"`
	UpdatedAt      string `json:"updated_at,omitempty"`
}

func buildProductPayload(p domain.Product) productPayload {
	return productPayload{
		ID:             p.ID,
		Name:           p.Name,
		Category:       string(p.Category),
		Price:          p.Price,
		Stock:          p.Stock,
		MinStock:       p.MinStock,
		IsActive:       p.IsActive,
		LowStock:       p.IsLowStock(),
		LedgerSequence: p.LedgerSequence,
		CreatedAt:      formatTime(p.CreatedAt),
		UpdatedAt:      formatTime(p.UpdatedAt),
	}
}

type movementPayload struct {
	ID                    string `json:"id"`
	ProductID             string `json:"product_id"`
	ProductName           string `json:"product_name"`
	Type                  string `json:"type"`
	AdjustmentType        string `json:"adjustment_type,omitempty"`
	Quantity              int64  `json:"quantity"`
	PreviousStock         int64  `json:"previous_stock"`
	NewStock              int64  `json:"new_stock"`
	Reason                string `json:"reason,omitempty"`
	Notes                 string `json:"notes,omitempty"`
	ReceiptNumber         string `json:"receipt_number,omitempty"`
	ReceiptNumberDegraded bool   `json:"receipt_number_degraded,omitempty"`
	Supplier              string `json:"supplier,omitempty"`
	ReceiptDate           string `json:"receipt_date,omitempty"`
	OrderID               string `json:"order_id,omitempty"`
	OrderNumber           string `json:"order_number,omitempty"`
	CreatedBy             string `json:"created_by"`
	CreatedByName         string `json:"created_by_name"`
	CreatedAt             string `json:"created_at"`
	Sequence              int64  `json:"sequence,omitempty"`
	Hash                  string `json:"hash,omitempty"`
}

func buildMovementPayload(m domain.StockMovement) movementPayload {
	return movementPayload{
		ID:                    m.ID,
		ProductID:             m.ProductID,
		ProductName:           m.ProductName,
		Type:                  string(m.Type),
		AdjustmentType:        string(m.AdjustmentType),
		Quantity:              m.Quantity,
		PreviousStock:         m.PreviousStock,
		NewStock:              m.NewStock,
		Reason:                m.Reason,
		Notes:                 m.Notes,
		ReceiptNumber:         m.ReceiptNumber,
		ReceiptNumberDegraded: m.ReceiptNumberDegraded,
		Supplier:              m.Supplier,
		ReceiptDate:           formatTimePointer(m.ReceiptDate),
		OrderID:               m.OrderID,
		OrderNumber:           m.OrderNumber,
		CreatedBy:             m.CreatedBy,
		CreatedByName:         m.CreatedByName,
		CreatedAt:             formatTime(m.CreatedAt),
		Sequence:              m.Sequence,
		Hash:                  m.Hash,
	}
}

type itemResultPayload struct {
	ProductID  string `json:"product_id"`
	Quantity   int64  `json:"quantity"`
	OK         bool   `json:"ok"`
	MovementID string `json:"movement_id,omitempty"`
	NewStock   *int64 `json:"new_stock,omitempty"`
	Error      string `json:"error,omitempty"`
}

func buildItemResults(items []domain.ItemResult) []itemResultPayload {
	out := make([]itemResultPayload, 0, len(items))
	for _, item := range items {
		entry := itemResultPayload{ProductID: item.ProductID, Quantity: item.Quantity, OK: item.Succeeded()}
		if item.Movement != nil {
			entry.MovementID = item.Movement.ID
			stock := item.Movement.NewStock
			entry.NewStock = &stock
		}
		if item.Err != nil {
			entry.Error = item.Err.Error()
		}
		out = append(out, entry)
	}
	return out
}

// partialStatus is 207 when some items failed after the main write committed.
func partialStatus(err error, success int) int {
	if err != nil {
		return http.StatusMultiStatus
	}
	return success
}
