package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	domain "github.com/cuvejm/stockengine/internal/domain"
	pfirestore "github.com/cuvejm/stockengine/internal/platform/firestore"
	"github.com/cuvejm/stockengine/internal/repositories"
)

const stockMovementsCollection = "stockMovements"

// LedgerRepository appends stock movements and moves the owning product's stock in the same
// transaction. Firestore retries the transaction when the product document changed underneath it.
type LedgerRepository struct {
	provider  *pfirestore.Provider
	products  *pfirestore.Collection[productDocument]
	movements *pfirestore.Collection[movementDocument]
}

var _ repositories.LedgerRepository = (*LedgerRepository)(nil)

// NewLedgerRepository constructs a Firestore-backed stock ledger.
func NewLedgerRepository(provider *pfirestore.Provider) (*LedgerRepository, error) {
	if provider == nil {
		return nil, errors.New("ledger repository requires firestore provider")
	}
	return &LedgerRepository{
		provider:  provider,
		products:  pfirestore.NewCollection[productDocument](provider, productsCollection),
		movements: pfirestore.NewCollection[movementDocument](provider, stockMovementsCollection),
	}, nil
}

func (r *LedgerRepository) Apply(ctx context.Context, productID string, mutate repositories.LedgerMutation) (domain.StockMovement, domain.Product, error) {
	if mutate == nil {
		return domain.StockMovement{}, domain.Product{}, errors.New("ledger repository: mutation is required")
	}
	id := strings.TrimSpace(productID)
	if id == "" {
		return domain.StockMovement{}, domain.Product{}, repositories.NewLedgerError(repositories.LedgerErrorProductNotFound, "", "product id is required", nil)
	}

	var (
		movement domain.StockMovement
		product  domain.Product
		applyErr error
	)
	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		productRef, err := r.products.Doc(ctx, id)
		if err != nil {
			return err
		}
		snap, err := tx.Get(productRef)
		if err != nil {
			if status.Code(err) == codes.NotFound {
				return repositories.NewLedgerError(repositories.LedgerErrorProductNotFound, id, fmt.Sprintf("product %s not found", id), err)
			}
			return err
		}
		current, err := pfirestore.Decode[productDocument](snap)
		if err != nil {
			return err
		}
		stored := current.Data.toDomain(current.ID)

		nextMovement, nextProduct, err := mutate(stored)
		if err != nil {
			applyErr = err
			return err
		}
		if strings.TrimSpace(nextMovement.ID) == "" {
			return errors.New("ledger repository: movement id is required")
		}
		if nextMovement.Sequence != stored.LedgerSequence+1 || nextMovement.PreviousHash != stored.LedgerHead {
			return repositories.NewLedgerError(repositories.LedgerErrorChainMismatch, id,
				fmt.Sprintf("movement %d does not extend chain head %d", nextMovement.Sequence, stored.LedgerSequence), nil)
		}
		nextMovement.ProductID = id

		if err := tx.Update(productRef, []firestore.Update{
			{Path: "stock", Value: nextProduct.Stock},
			{Path: "isActive", Value: nextProduct.IsActive},
			{Path: "ledgerSequence", Value: nextMovement.Sequence},
			{Path: "ledgerHead", Value: nextMovement.Hash},
			{Path: "updatedAt", Value: nextProduct.UpdatedAt.UTC()},
		}); err != nil {
			return err
		}

		movementRef, err := r.movements.Doc(ctx, nextMovement.ID)
		if err != nil {
			return err
		}
		if err := tx.Create(movementRef, newMovementDocument(nextMovement)); err != nil {
			return err
		}

		nextProduct.ID = id
		nextProduct.LedgerSequence = nextMovement.Sequence
		nextProduct.LedgerHead = nextMovement.Hash
		movement, product = nextMovement, nextProduct
		return nil
	})
	if applyErr != nil {
		return domain.StockMovement{}, domain.Product{}, applyErr
	}
	if err != nil {
		return domain.StockMovement{}, domain.Product{}, wrapLedgerError("ledger.apply", err)
	}
	return movement, product, nil
}

func (r *LedgerRepository) ListByProduct(ctx context.Context, productID string, pager domain.Pagination) (domain.CursorPage[domain.StockMovement], error) {
	id := strings.TrimSpace(productID)
	return r.listNewestFirst(ctx, pager, func(q firestore.Query) firestore.Query {
		return q.Where("productId", "==", id)
	})
}

func (r *LedgerRepository) ListByType(ctx context.Context, movementType domain.MovementType, pager domain.Pagination) (domain.CursorPage[domain.StockMovement], error) {
	return r.listNewestFirst(ctx, pager, func(q firestore.Query) firestore.Query {
		return q.Where("type", "==", string(movementType))
	})
}

func (r *LedgerRepository) listNewestFirst(ctx context.Context, pager domain.Pagination, filter pfirestore.QueryBuilder) (domain.CursorPage[domain.StockMovement], error) {
	size, cursor, err := pageWindow(pager)
	if err != nil {
		return domain.CursorPage[domain.StockMovement]{}, err
	}
	docs, err := r.movements.Query(ctx, func(q firestore.Query) firestore.Query {
		return newestFirst(filter(q), size, cursor)
	})
	if err != nil {
		return domain.CursorPage[domain.StockMovement]{}, err
	}
	return trimPage(movementsFromDocs(docs), size, func(m domain.StockMovement) (time.Time, string) {
		return m.CreatedAt, m.ID
	})
}

func (r *LedgerRepository) ListChain(ctx context.Context, productID string) ([]domain.StockMovement, error) {
	id := strings.TrimSpace(productID)
	docs, err := r.movements.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("productId", "==", id).OrderBy("sequence", firestore.Asc)
	})
	if err != nil {
		return nil, err
	}
	return movementsFromDocs(docs), nil
}

func (r *LedgerRepository) ListCreatedBetween(ctx context.Context, from, to time.Time) ([]domain.StockMovement, error) {
	if !from.Before(to) {
		return nil, fmt.Errorf("ledger repository: empty range %s..%s", from.Format(time.RFC3339), to.Format(time.RFC3339))
	}
	docs, err := r.movements.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("createdAt", ">=", from.UTC()).Where("createdAt", "<", to.UTC()).
			OrderBy("createdAt", firestore.Asc).OrderBy(firestore.DocumentID, firestore.Asc)
	})
	if err != nil {
		return nil, err
	}
	return movementsFromDocs(docs), nil
}

// HighestSequence scans receipt numbers recorded on reception movements of the given year.
func (r *LedgerRepository) HighestSequence(ctx context.Context, prefix string, year int) (int64, error) {
	start, end := sequenceRange(prefix, year)
	docs, err := r.movements.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("receiptNumber", ">=", start).Where("receiptNumber", "<", end).
			Select("receiptNumber", "receiptNumberDegraded")
	})
	if err != nil {
		return 0, err
	}
	var highest int64
	for _, doc := range docs {
		if doc.Data.ReceiptNumberDegraded {
			continue
		}
		if value, ok := sequenceSuffix(doc.Data.ReceiptNumber, prefix, year); ok && value > highest {
			highest = value
		}
	}
	return highest, nil
}

type movementDocument struct {
	ProductID             string     `firestore:"productId"`
	ProductName           string     `firestore:"productName"`
	Type                  string     `firestore:"type"`
	AdjustmentType        string     `firestore:"adjustmentType,omitempty"`
	Quantity              int64      `firestore:"quantity"`
	PreviousStock         int64      `firestore:"previousStock"`
	NewStock              int64      `firestore:"newStock"`
	Reason                string     `firestore:"reason"`
	Notes                 string     `firestore:"notes,omitempty"`
	ReceiptNumber         string     `firestore:"receiptNumber,omitempty"`
	ReceiptNumberDegraded bool       `firestore:"receiptNumberDegraded,omitempty"`
	Supplier              string     `firestore:"supplier,omitempty"`
	ReceiptDate           *time.Time `firestore:"receiptDate,omitempty"`
	OrderID               string     `firestore:"orderId,omitempty"`
	OrderNumber           string     `firestore:"orderNumber,omitempty"`
	CreatedBy             string     `firestore:"createdBy"`
	CreatedByName         string     `firestore:"createdByName"`
	CreatedAt             time.Time  `firestore:"createdAt"`
	Sequence              int64      `firestore:"sequence"`
	PreviousHash          string     `firestore:"previousHash"`
	Hash                  string     `firestore:"hash"`
}

func newMovementDocument(m domain.StockMovement) movementDocument {
	var receiptDate *time.Time
	if m.ReceiptDate != nil {
		utc := m.ReceiptDate.UTC()
		receiptDate = &utc
	}
	return movementDocument{
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
		ReceiptDate:           receiptDate,
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

func (d movementDocument) toDomain(id string) domain.StockMovement {
	return domain.StockMovement{
		ID:                    id,
		ProductID:             d.ProductID,
		ProductName:           d.ProductName,
		Type:                  domain.MovementType(d.Type),
		AdjustmentType:        domain.AdjustmentType(d.AdjustmentType),
		Quantity:              d.Quantity,
		PreviousStock:         d.PreviousStock,
		NewStock:              d.NewStock,
		Reason:                d.Reason,
		Notes:                 d.Notes,
		ReceiptNumber:         d.ReceiptNumber,
		ReceiptNumberDegraded: d.ReceiptNumberDegraded,
		Supplier:              d.Supplier,
		ReceiptDate:           d.ReceiptDate,
		OrderID:               d.OrderID,
		OrderNumber:           d.OrderNumber,
		CreatedBy:             d.CreatedBy,
		CreatedByName:         d.CreatedByName,
		CreatedAt:             d.CreatedAt.UTC(),
		Sequence:              d.Sequence,
		PreviousHash:          d.PreviousHash,
		Hash:                  d.Hash,
	}
}

func movementsFromDocs(docs []pfirestore.Document[movementDocument]) []domain.StockMovement {
	movements := make([]domain.StockMovement, 0, len(docs))
	for _, doc := range docs {
		movements = append(movements, doc.Data.toDomain(doc.ID))
	}
	return movements
}

func wrapLedgerError(op string, err error) error {
	if err == nil {
		return nil
	}
	var ledgerErr *repositories.LedgerError
	if errors.As(err, &ledgerErr) {
		if ledgerErr.Op == "" {
			ledgerErr.Op = op
		}
		return ledgerErr
	}
	return pfirestore.WrapError(op, err)
}
