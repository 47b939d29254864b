package services

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"
	"time"

	domain "github.com/cuvejm/stockengine/internal/domain"
)

type bufferArchiveWriter struct {
	bucket      string
	object      string
	contentType string
	body        bytes.Buffer
	err         error
}

func (w *bufferArchiveWriter) WriteObject(_ context.Context, bucket, object, contentType string, fill func(io.Writer) error) error {
	if w.err != nil {
		return w.err
	}
	w.bucket = bucket
	w.object = object
	w.contentType = contentType
	return fill(&w.body)
}

func TestLedgerArchiveExportDay(t *testing.T) {
	location := time.FixedZone("WAT", 3600)
	store := newMemoryStore()
	store.movements = []domain.StockMovement{
		{ID: "mv_before", ProductID: "P1", Type: domain.MovementSale, CreatedAt: time.Date(2025, 3, 13, 22, 59, 0, 0, time.UTC)},
		{ID: "mv_first", ProductID: "P1", Type: domain.MovementReception, Quantity: 3, ReceiptNumber: "BR-2025-004", CreatedAt: time.Date(2025, 3, 13, 23, 0, 0, 0, time.UTC)},
		{ID: "mv_second", ProductID: "P2", Type: domain.MovementSale, Quantity: -1, OrderNumber: "GCP-2025-010", CreatedAt: time.Date(2025, 3, 14, 12, 0, 0, 0, time.UTC)},
		{ID: "mv_after", ProductID: "P1", Type: domain.MovementLoss, CreatedAt: time.Date(2025, 3, 14, 23, 0, 0, 0, time.UTC)},
	}
	writer := &bufferArchiveWriter{}

	svc, err := NewLedgerArchiveService(LedgerArchiveServiceDeps{
		Ledger:   memoryLedger{store: store},
		Writer:   writer,
		Bucket:   "engine-exports",
		Location: location,
	})
	if err != nil {
		t.Fatalf("new archive service: %v", err)
	}

	result, err := svc.ExportDay(context.Background(), time.Date(2025, 3, 14, 15, 0, 0, 0, location))
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if result.Object != "ledger/2025/03/14/movements.ndjson" || result.Bucket != "engine-exports" || result.Count != 2 {
		t.Fatalf("unexpected result %+v", result)
	}
	if writer.object != result.Object || writer.contentType != archiveContentType {
		t.Fatalf("unexpected write target %s (%s)", writer.object, writer.contentType)
	}

	var ids []string
	scanner := bufio.NewScanner(&writer.body)
	for scanner.Scan() {
		var record map[string]any
		if err := json.Unmarshal(scanner.Bytes(), &record); err != nil {
			t.Fatalf("decode line: %v", err)
		}
		ids = append(ids, record["id"].(string))
	}
	if len(ids) != 2 || ids[0] != "mv_first" || ids[1] != "mv_second" {
		t.Fatalf("unexpected exported ids %v", ids)
	}
}

func TestLedgerArchiveExportDayErrors(t *testing.T) {
	writer := &bufferArchiveWriter{err: errors.New("bucket missing")}
	svc, err := NewLedgerArchiveService(LedgerArchiveServiceDeps{
		Ledger: memoryLedger{store: newMemoryStore()},
		Writer: writer,
		Bucket: "engine-exports",
	})
	if err != nil {
		t.Fatalf("new archive service: %v", err)
	}

	if _, err := svc.ExportDay(context.Background(), time.Time{}); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if _, err := svc.ExportDay(context.Background(), time.Now()); err == nil {
		t.Fatalf("expected write error")
	}
}

func TestNewLedgerArchiveServiceRequiresBucket(t *testing.T) {
	_, err := NewLedgerArchiveService(LedgerArchiveServiceDeps{
		Ledger: memoryLedger{store: newMemoryStore()},
		Writer: &bufferArchiveWriter{},
	})
	if err == nil {
		t.Fatalf("expected bucket error")
	}
}
