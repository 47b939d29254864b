package services

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"strconv"
	"time"

	"github.com/zeebo/blake3"

	domain "github.com/cuvejm/stockengine/internal/domain"
)

const ledgerChainContext = "stockengine 2025 ledger movement chain v2"

// ledgerChain computes keyed BLAKE3 digests linking each movement of a product to the previous one.
type ledgerChain struct {
	key [32]byte
}

// newLedgerChain derives the 32 byte hashing key from material. Empty material selects the built in
// domain key, which still detects accidental edits but not deliberate forgery.
func newLedgerChain(material []byte) *ledgerChain {
	chain := &ledgerChain{}
	if len(material) == 0 {
		material = []byte(ledgerChainContext)
	}
	blake3.DeriveKey(ledgerChainContext, material, chain.key[:])
	return chain
}

// Hash returns the hex digest of m chained onto m.PreviousHash. Every persisted field except Hash
// itself takes part.
func (c *ledgerChain) Hash(m domain.StockMovement) (string, error) {
	hasher, err := blake3.NewKeyed(c.key[:])
	if err != nil {
		return "", fmt.Errorf("ledger chain: %w", err)
	}
	writeField(hasher, m.ID)
	writeField(hasher, m.ProductID)
	writeField(hasher, m.ProductName)
	writeField(hasher, string(m.Type))
	writeField(hasher, string(m.AdjustmentType))
	writeField(hasher, strconv.FormatInt(m.Quantity, 10))
	writeField(hasher, strconv.FormatInt(m.PreviousStock, 10))
	writeField(hasher, strconv.FormatInt(m.NewStock, 10))
	writeField(hasher, m.Reason)
	writeField(hasher, m.Notes)
	writeField(hasher, m.ReceiptNumber)
	writeField(hasher, strconv.FormatBool(m.ReceiptNumberDegraded))
	writeField(hasher, m.Supplier)
	writeField(hasher, formatChainTime(m.ReceiptDate))
	writeField(hasher, m.OrderID)
	writeField(hasher, m.OrderNumber)
	writeField(hasher, m.CreatedBy)
	writeField(hasher, m.CreatedByName)
	writeField(hasher, formatChainTime(&m.CreatedAt))
	writeField(hasher, strconv.FormatInt(m.Sequence, 10))
	writeField(hasher, m.PreviousHash)
	return hex.EncodeToString(hasher.Sum(nil)), nil
}

// Verify re-hashes movements, which must be ordered by sequence, and reports the first break.
func (c *ledgerChain) Verify(productID string, movements []domain.StockMovement, head string) (domain.ChainReport, error) {
	report := domain.ChainReport{ProductID: productID, Movements: len(movements), Valid: true}
	previous := ""
	for i, movement := range movements {
		expectedSequence := int64(i + 1)
		switch {
		case movement.Sequence != expectedSequence:
			return broken(report, movement.Sequence, fmt.Sprintf("expected sequence %d, found %d", expectedSequence, movement.Sequence)), nil
		case movement.PreviousHash != previous:
			return broken(report, movement.Sequence, "previous hash does not match the preceding movement"), nil
		}
		digest, err := c.Hash(movement)
		if err != nil {
			return domain.ChainReport{}, err
		}
		if digest != movement.Hash {
			return broken(report, movement.Sequence, "movement content does not match its hash"), nil
		}
		previous = movement.Hash
	}
	report.Head = previous
	if head != previous {
		return broken(report, int64(len(movements)), "product ledger head does not match the last movement"), nil
	}
	return report, nil
}

func broken(report domain.ChainReport, sequence int64, reason string) domain.ChainReport {
	report.Valid = false
	report.BrokenAt = sequence
	report.Reason = reason
	return report
}

// writeField length-prefixes value so adjacent fields cannot be shifted into each other.
func writeField(hasher *blake3.Hasher, value string) {
	var size [8]byte
	binary.BigEndian.PutUint64(size[:], uint64(len(value)))
	_, _ = hasher.Write(size[:])
	_, _ = hasher.Write([]byte(value))
}

// formatChainTime uses microseconds, the precision Firestore keeps.
func formatChainTime(t *time.Time) string {
	if t == nil || t.IsZero() {
		return ""
	}
	return strconv.FormatInt(t.UnixMicro(), 10)
}
