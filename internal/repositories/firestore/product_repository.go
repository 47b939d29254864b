package firestore

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	domain "github.com/cuvejm/stockengine/internal/domain"
	pfirestore "github.com/cuvejm/stockengine/internal/platform/firestore"
	"github.com/cuvejm/stockengine/internal/repositories"
)

const productsCollection = "products"

// ProductRepository reads product documents. Stock fields are written by LedgerRepository only.
type ProductRepository struct {
	provider *pfirestore.Provider
	products *pfirestore.Collection[productDocument]
}

var _ repositories.ProductRepository = (*ProductRepository)(nil)

// NewProductRepository constructs a Firestore-backed product repository.
func NewProductRepository(provider *pfirestore.Provider) (*ProductRepository, error) {
	if provider == nil {
		return nil, errors.New("product repository requires firestore provider")
	}
	return &ProductRepository{
		provider: provider,
		products: pfirestore.NewCollection[productDocument](provider, productsCollection),
	}, nil
}

func (r *ProductRepository) FindByID(ctx context.Context, productID string) (domain.Product, error) {
	id := strings.TrimSpace(productID)
	if id == "" {
		return domain.Product{}, errors.New("product repository: product id is required")
	}
	doc, err := r.products.Get(ctx, id)
	if err != nil {
		return domain.Product{}, err
	}
	return doc.Data.toDomain(doc.ID), nil
}

func (r *ProductRepository) FindByIDs(ctx context.Context, productIDs []string) (map[string]domain.Product, error) {
	coll, err := r.products.Ref(ctx)
	if err != nil {
		return nil, err
	}
	refs := make([]*firestore.DocumentRef, 0, len(productIDs))
	seen := make(map[string]struct{}, len(productIDs))
	for _, raw := range productIDs {
		id := strings.TrimSpace(raw)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		refs = append(refs, coll.Doc(id))
	}

	result := make(map[string]domain.Product, len(refs))
	if len(refs) == 0 {
		return result, nil
	}
	client, err := r.provider.Client(ctx)
	if err != nil {
		return nil, err
	}
	snaps, err := client.GetAll(ctx, refs)
	if err != nil {
		return nil, pfirestore.WrapError("products.getAll", err)
	}
	for _, snap := range snaps {
		if snap == nil || !snap.Exists() {
			continue
		}
		doc, err := pfirestore.Decode[productDocument](snap)
		if err != nil {
			return nil, err
		}
		result[doc.ID] = doc.Data.toDomain(doc.ID)
	}
	return result, nil
}

// ListLowStock loads active products and keeps those at or under their threshold. Firestore cannot
// compare two fields of one document, so the threshold is applied here.
func (r *ProductRepository) ListLowStock(ctx context.Context) ([]domain.Product, error) {
	docs, err := r.products.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("isActive", "==", true)
	})
	if err != nil {
		return nil, err
	}
	var products []domain.Product
	for _, doc := range docs {
		product := doc.Data.toDomain(doc.ID)
		if product.IsLowStock() {
			products = append(products, product)
		}
	}
	sort.SliceStable(products, func(i, j int) bool {
		if products[i].Stock == products[j].Stock {
			return products[i].ID < products[j].ID
		}
		return products[i].Stock < products[j].Stock
	})
	return products, nil
}

type productDocument struct {
	Name           string    `firestore:"name"`
	Category       string    `firestore:"category"`
	Price          int64     `firestore:"price"`
	Stock          int64     `firestore:"stock"`
	MinStock       int64     `firestore:"minStock"`
	IsActive       bool      `firestore:"isActive"`
	LedgerSequence int64     `firestore:"ledgerSequence"`
	LedgerHead     string    `firestore:"ledgerHead"`
	CreatedAt      time.Time `firestore:"createdAt"`
	UpdatedAt      time.Time `firestore:"updatedAt"`
}

// legacyCategories maps the catalogue values written by the previous back office.
var legacyCategories = map[string]domain.ProductCategory{
	"cuve":       domain.ProductCategoryTank,
	"pompe":      domain.ProductCategoryPump,
	"accessoire": domain.ProductCategoryAccessory,
}

func (d productDocument) toDomain(id string) domain.Product {
	category := strings.ToLower(strings.TrimSpace(d.Category))
	if mapped, ok := legacyCategories[category]; ok {
		category = string(mapped)
	}
	return domain.Product{
		ID:             id,
		Name:           strings.TrimSpace(d.Name),
		Category:       domain.ProductCategory(category),
		Price:          d.Price,
		Stock:          d.Stock,
		MinStock:       d.MinStock,
		IsActive:       d.IsActive,
		LedgerSequence: d.LedgerSequence,
		LedgerHead:     d.LedgerHead,
		CreatedAt:      d.CreatedAt.UTC(),
		UpdatedAt:      d.UpdatedAt.UTC(),
	}
}

func newProductDocument(p domain.Product) productDocument {
	return productDocument{
		Name:           strings.TrimSpace(p.Name),
		Category:       string(p.Category),
		Price:          p.Price,
		Stock:          p.Stock,
		MinStock:       p.MinStock,
		IsActive:       p.IsActive,
		LedgerSequence: p.LedgerSequence,
		LedgerHead:     p.LedgerHead,
		CreatedAt:      p.CreatedAt.UTC(),
		UpdatedAt:      p.UpdatedAt.UTC(),
	}
}
