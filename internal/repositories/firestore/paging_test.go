package firestore

import (
	"testing"
	"time"

	domain "github.com/cuvejm/stockengine/internal/domain"
	"github.com/cuvejm/stockengine/internal/platform/pagination"
)

func TestSequenceSuffix(t *testing.T) {
	cases := []struct {
		identifier string
		want       int64
		ok         bool
	}{
		{"GCP-2025-007", 7, true},
		{"GCP-2025-1000", 1000, true},
		{"GCP-2024-007", 0, false},
		{"BR-2025-001", 0, false},
		{"GCP-2025-", 0, false},
		{"GCP-2025-abc", 0, false},
	}
	for _, tc := range cases {
		got, ok := sequenceSuffix(tc.identifier, "GCP", 2025)
		if got != tc.want || ok != tc.ok {
			t.Fatalf("%s: got (%d, %v) want (%d, %v)", tc.identifier, got, ok, tc.want, tc.ok)
		}
	}
}

func TestPageWindowDefaults(t *testing.T) {
	size, cursor, err := pageWindow(domain.Pagination{})
	if err != nil || size != pagination.DefaultPageSize || !cursor.IsZero() {
		t.Fatalf("unexpected window size=%d cursor=%+v err=%v", size, cursor, err)
	}
	size, _, _ = pageWindow(domain.Pagination{PageSize: 10_000})
	if size != pagination.DefaultMaxPageSize {
		t.Fatalf("expected cap, got %d", size)
	}
	if _, _, err := pageWindow(domain.Pagination{PageToken: "!!"}); err == nil {
		t.Fatalf("expected invalid token error")
	}
}

func TestTrimPage(t *testing.T) {
	at := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	items := []string{"c", "b", "a"}
	page, err := trimPage(items, 2, func(s string) (time.Time, string) { return at, s })
	if err != nil {
		t.Fatalf("trim page: %v", err)
	}
	if len(page.Items) != 2 || page.NextPageToken == "" {
		t.Fatalf("unexpected page %+v", page)
	}
	cursor, err := pagination.DecodeToken(page.NextPageToken)
	if err != nil || cursor.ID != "b" || !cursor.After.Equal(at) {
		t.Fatalf("unexpected cursor %+v err=%v", cursor, err)
	}

	page, err = trimPage(items[:2], 2, func(s string) (time.Time, string) { return at, s })
	if err != nil || page.NextPageToken != "" {
		t.Fatalf("expected no token on last page, got %+v err=%v", page, err)
	}
}

func TestProductDocumentLegacyCategory(t *testing.T) {
	product := productDocument{Name: " Pompe immergée ", Category: "pompe", Stock: 2, MinStock: 3, IsActive: true}.toDomain("P9")
	if product.Category != domain.ProductCategoryPump || product.Name != "Pompe immergée" || !product.IsLowStock() {
		t.Fatalf("unexpected product %+v", product)
	}
	if back := newProductDocument(product); back.Category != "pump" {
		t.Fatalf("expected canonical category on write, got %q", back.Category)
	}
}

func TestOrderDocumentKeepsNullCancellationReason(t *testing.T) {
	order := domain.Order{ID: "ord_1", Status: domain.OrderStatusPending}
	doc := newOrderDocument(order)
	if doc.CancellationReason != nil {
		t.Fatalf("expected nil cancellation reason")
	}
	back := doc.toDomain("ord_1")
	if back.CancellationReason != nil || back.Status != domain.OrderStatusPending {
		t.Fatalf("unexpected order %+v", back)
	}
}
