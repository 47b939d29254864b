package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	domain "github.com/cuvejm/stockengine/internal/domain"
	"github.com/cuvejm/stockengine/internal/repositories"
)

const archiveContentType = "application/x-ndjson"

// ErrArchiveInvalidInput signals an unusable export request.
var ErrArchiveInvalidInput = newKindError(ErrValidation, "archive: invalid input")

// ArchiveWriter streams one object into a bucket. storage.BucketWriter satisfies it.
type ArchiveWriter interface {
	WriteObject(ctx context.Context, bucket, object, contentType string, fill func(io.Writer) error) error
}

// LedgerArchiveServiceDeps bundles collaborators required to construct the archive service.
type LedgerArchiveServiceDeps struct {
	Ledger   repositories.LedgerRepository
	Writer   ArchiveWriter
	Bucket   string
	Location *time.Location
	Logger   func(ctx context.Context, event string, fields map[string]any)
}

type ledgerArchiveService struct {
	ledger   repositories.LedgerRepository
	writer   ArchiveWriter
	bucket   string
	location *time.Location
	logger   func(context.Context, string, map[string]any)
}

var _ LedgerArchiveService = (*ledgerArchiveService)(nil)

// NewLedgerArchiveService wires the ledger archive exporter.
func NewLedgerArchiveService(deps LedgerArchiveServiceDeps) (LedgerArchiveService, error) {
	if deps.Ledger == nil {
		return nil, errors.New("ledger archive service: ledger repository is required")
	}
	if deps.Writer == nil {
		return nil, errors.New("ledger archive service: archive writer is required")
	}
	bucket := strings.TrimSpace(deps.Bucket)
	if bucket == "" {
		return nil, errors.New("ledger archive service: bucket is required")
	}
	location := deps.Location
	if location == nil {
		location = time.UTC
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &ledgerArchiveService{
		ledger:   deps.Ledger,
		writer:   deps.Writer,
		bucket:   bucket,
		location: location,
		logger:   logger,
	}, nil
}

// ExportDay writes every movement created on the local calendar day of day, one JSON document per line.
func (s *ledgerArchiveService) ExportDay(ctx context.Context, day time.Time) (ArchiveResult, error) {
	if day.IsZero() {
		return ArchiveResult{}, fmt.Errorf("%w: day is required", ErrArchiveInvalidInput)
	}
	local := day.In(s.location)
	start := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, s.location)
	end := start.AddDate(0, 0, 1)

	movements, err := s.ledger.ListCreatedBetween(ctx, start.UTC(), end.UTC())
	if err != nil {
		return ArchiveResult{}, mapStoreError(err, nil)
	}

	object := ArchiveObjectPath(start)
	err = s.writer.WriteObject(ctx, s.bucket, object, archiveContentType, func(w io.Writer) error {
		enc := json.NewEncoder(w)
		for _, movement := range movements {
			if err := enc.Encode(newArchiveRecord(movement)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return ArchiveResult{}, fmt.Errorf("ledger archive: write %s: %w", object, err)
	}

	result := ArchiveResult{
		Bucket: s.bucket,
		Object: object,
		Count:  len(movements),
		Day:    start,
	}
	s.logger(ctx, "ledger.archive.exported", map[string]any{
		"bucket": result.Bucket,
		"object": result.Object,
		"count":  result.Count,
		"day":    start.Format(time.DateOnly),
	})
	return result, nil
}

// ArchiveObjectPath returns ledger/yyyy/mm/dd/movements.ndjson for the given day.
func ArchiveObjectPath(day time.Time) string {
	return fmt.Sprintf("ledger/%04d/%02d/%02d/movements.ndjson", day.Year(), int(day.Month()), day.Day())
}

type archiveRecord struct {
	ID                    string     `json:"id"`
	ProductID             string     `json:"productId"`
	ProductName           string     `json:"productName"`
	Type                  string     `json:"type"`
	AdjustmentType        string     `json:"adjustmentType,omitempty"`
	Quantity              int64      `json:"quantity"`
	PreviousStock         int64      `json:"previousStock"`
	NewStock              int64      `json:"newStock"`
	Reason                string     `json:"reason"`
	Notes                 string     `json:"notes,omitempty"`
	ReceiptNumber         string     `json:"receiptNumber,omitempty"`
	ReceiptNumberDegraded bool       `json:"receiptNumberDegraded,omitempty"`
	Supplier              string     `json:"supplier,omitempty"`
	ReceiptDate           *time.Time `json:"receiptDate,omitempty"`
	OrderID               string     `json:"orderId,omitempty"`
	OrderNumber           string     `json:"orderNumber,omitempty"`
	CreatedBy             string     `json:"createdBy"`
	CreatedByName         string     `json:"createdByName,omitempty"`
	CreatedAt             time.Time  `json:"createdAt"`
	Sequence              int64      `json:"sequence,omitempty"`
	PreviousHash          string     `json:"previousHash,omitempty"`
	Hash                  string     `json:"hash,omitempty"`
}

func newArchiveRecord(m domain.StockMovement) archiveRecord {
	return archiveRecord{
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
		ReceiptDate:           m.ReceiptDate,
		OrderID:               m.OrderID,
		OrderNumber:           m.OrderNumber,
		CreatedBy:             m.CreatedBy,
		CreatedByName:         m.CreatedByName,
		CreatedAt:             m.CreatedAt.UTC(),
		Sequence:              m.Sequence,
		PreviousHash:          m.PreviousHash,
		Hash:                  m.Hash,
	}
}
