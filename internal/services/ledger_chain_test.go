package services

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domain "github.com/cuvejm/stockengine/internal/domain"
)

func chainedMovement() domain.StockMovement {
	received := time.Date(2025, 3, 2, 9, 0, 0, 0, time.UTC)
	return domain.StockMovement{
		ID:            "mov_1",
		ProductID:     "P1",
		ProductName:   "Cuve 1000L",
		Type:          domain.MovementReception,
		Quantity:      5,
		PreviousStock: 0,
		NewStock:      5,
		Reason:        "reception",
		ReceiptNumber: "BR-2025-001",
		Supplier:      "Plastiques Dakar",
		ReceiptDate:   &received,
		CreatedBy:     "staff-1",
		CreatedByName: "Awa Diop",
		CreatedAt:     received.Add(time.Hour),
		Sequence:      1,
	}
}

func TestLedgerChainHashCoversPersistedFields(t *testing.T) {
	chain := newLedgerChain([]byte("test-key"))
	base, err := chain.Hash(chainedMovement())
	require.NoError(t, err)

	edits := map[string]func(*domain.StockMovement){
		"quantity":       func(m *domain.StockMovement) { m.Quantity = 6 },
		"productName":    func(m *domain.StockMovement) { m.ProductName = "Cuve 500L" },
		"createdByName":  func(m *domain.StockMovement) { m.CreatedByName = "Someone Else" },
		"degradedNumber": func(m *domain.StockMovement) { m.ReceiptNumberDegraded = true },
		"receiptDate":    func(m *domain.StockMovement) { m.ReceiptDate = nil },
		"previousHash":   func(m *domain.StockMovement) { m.PreviousHash = "abc" },
	}
	for name, edit := range edits {
		t.Run(name, func(t *testing.T) {
			movement := chainedMovement()
			edit(&movement)
			digest, err := chain.Hash(movement)
			require.NoError(t, err)
			assert.NotEqual(t, base, digest)
		})
	}

	// The stored hash is the output, not an input.
	movement := chainedMovement()
	movement.Hash = "anything"
	digest, err := chain.Hash(movement)
	require.NoError(t, err)
	assert.Equal(t, base, digest)
}

func TestLedgerChainKeyChangesDigest(t *testing.T) {
	first, err := newLedgerChain([]byte("key-a")).Hash(chainedMovement())
	require.NoError(t, err)
	second, err := newLedgerChain([]byte("key-b")).Hash(chainedMovement())
	require.NoError(t, err)
	assert.NotEqual(t, first, second)
}

func TestLedgerChainVerifyDetectsNameEdit(t *testing.T) {
	chain := newLedgerChain(nil)
	movement := chainedMovement()
	digest, err := chain.Hash(movement)
	require.NoError(t, err)
	movement.Hash = digest

	report, err := chain.Verify("P1", []domain.StockMovement{movement}, digest)
	require.NoError(t, err)
	assert.True(t, report.Valid)

	movement.CreatedByName = "Edited"
	report, err = chain.Verify("P1", []domain.StockMovement{movement}, digest)
	require.NoError(t, err)
	assert.False(t, report.Valid)
	assert.Equal(t, int64(1), report.BrokenAt)
}
