package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/cuvejm/stockengine/internal/platform/httpx"
	"github.com/cuvejm/stockengine/internal/services"
)

const maxVerifyProducts = 100

// InternalHandlers serves scheduler and maintenance endpoints behind service OIDC authentication.
type InternalHandlers struct {
	ledger   services.StockLedgerService
	archive  services.LedgerArchiveService
	location *time.Location
	clock    func() time.Time
}

// InternalOption customises InternalHandlers.
type InternalOption func(*InternalHandlers)

// WithInternalLocation sets the zone that defines a calendar day for exports.
func WithInternalLocation(loc *time.Location) InternalOption {
	return func(h *InternalHandlers) {
		if loc != nil {
			h.location = loc
		}
	}
}

// WithInternalClock overrides the clock used to pick the default export day.
func WithInternalClock(clock func() time.Time) InternalOption {
	return func(h *InternalHandlers) {
		if clock != nil {
			h.clock = clock
		}
	}
}

// NewInternalHandlers constructs the /internal handlers.
func NewInternalHandlers(ledger services.StockLedgerService, archive services.LedgerArchiveService, opts ...InternalOption) *InternalHandlers {
	h := &InternalHandlers{
		ledger:   ledger,
		archive:  archive,
		location: time.UTC,
		clock:    time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Routes registers the /internal endpoints. Authentication is applied by the router.
func (h *InternalHandlers) Routes(r chi.Router) {
	r.Post("/ledger:verify", h.verifyLedger)
	r.Post("/ledger:export", h.exportLedger)
}

type verifyLedgerRequest struct {
	ProductIDs []string `json:"product_ids"`
}

type chainReportPayload struct {
	ProductID string `json:"product_id"`
	Movements int    `json:"movements"`
	Head      string `json:"head,omitempty"`
	Valid     bool   `json:"valid"`
	BrokenAt  int64  `json:"broken_at,omitempty"`
	Reason    string `json:"reason,omitempty"`
	Error     string `json:"error,omitempty"`
}

type verifyLedgerResponse struct {
	Valid   bool                 `json:"valid"`
	Reports []chainReportPayload `json:"reports"`
}

type exportLedgerRequest struct {
	Day string `json:"day"`
}

type exportLedgerResponse struct {
	Bucket string `json:"bucket"`
	Object string `json:"object"`
	Count  int    `json:"count"`
	Day    string `json:"day"`
}

// verifyLedger re-hashes each requested chain. Per-product failures are reported inline.
func (h *InternalHandlers) verifyLedger(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.ledger == nil {
		httpx.WriteError(ctx, w, httpx.NewError("stock_service_unavailable", "stock service unavailable", http.StatusServiceUnavailable))
		return
	}

	var req verifyLedgerRequest
	if err := decodeJSONBody(r, maxBodySize, &req); err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	ids := make([]string, 0, len(req.ProductIDs))
	seen := make(map[string]struct{}, len(req.ProductIDs))
	for _, id := range req.ProductIDs {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	if len(ids) == 0 {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "product_ids must not be empty", http.StatusBadRequest))
		return
	}
	if len(ids) > maxVerifyProducts {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "at most 100 product_ids per request", http.StatusBadRequest))
		return
	}

	resp := verifyLedgerResponse{Valid: true, Reports: make([]chainReportPayload, 0, len(ids))}
	for _, id := range ids {
		report, err := h.ledger.VerifyChain(ctx, id)
		if err != nil {
			if ctx.Err() != nil {
				writeServiceError(ctx, w, ctx.Err())
				return
			}
			resp.Valid = false
			resp.Reports = append(resp.Reports, chainReportPayload{ProductID: id, Error: err.Error()})
			continue
		}
		if !report.Valid {
			resp.Valid = false
		}
		resp.Reports = append(resp.Reports, chainReportPayload{
			ProductID: report.ProductID,
			Movements: report.Movements,
			Head:      report.Head,
			Valid:     report.Valid,
			BrokenAt:  report.BrokenAt,
			Reason:    report.Reason,
		})
	}
	httpx.WriteJSON(w, http.StatusOK, resp)
}

// exportLedger archives one day of movements. The day defaults to yesterday in the engine zone.
func (h *InternalHandlers) exportLedger(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.archive == nil {
		httpx.WriteError(ctx, w, httpx.NewError("archive_unavailable", "ledger archive not configured", http.StatusServiceUnavailable))
		return
	}

	var req exportLedgerRequest
	if r.ContentLength != 0 {
		if err := decodeJSONBody(r, maxBodySize, &req); err != nil && err != errEmptyBody {
			writeBodyError(ctx, w, err)
			return
		}
	}

	var day time.Time
	if strings.TrimSpace(req.Day) == "" {
		day = h.clock().In(h.location).AddDate(0, 0, -1)
	} else {
		parsed, err := parseDay(req.Day, h.location)
		if err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "day: "+err.Error(), http.StatusBadRequest))
			return
		}
		day = parsed
	}

	result, err := h.archive.ExportDay(ctx, day)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, exportLedgerResponse{
		Bucket: result.Bucket,
		Object: result.Object,
		Count:  result.Count,
		Day:    result.Day.In(h.location).Format(dateLayout),
	})
}
