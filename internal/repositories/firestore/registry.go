package firestore

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/api/iterator"

	pfirestore "github.com/cuvejm/stockengine/internal/platform/firestore"
	"github.com/cuvejm/stockengine/internal/repositories"
)

// Registry wires the Firestore repositories behind repositories.Registry.
type Registry struct {
	provider *pfirestore.Provider
	products *ProductRepository
	orders   *OrderRepository
	ledger   *LedgerRepository
	counters *CounterRepository
	audit    *AuditLogRepository
	health   repositories.HealthRepository
	closers  []func(context.Context) error
}

var _ repositories.Registry = (*Registry)(nil)

// RegistryOption customises registry construction.
type RegistryOption func(*registryConfig)

type registryConfig struct {
	checks     []repositories.DependencyCheck
	closers    []func(context.Context) error
	healthOpts []repositories.DependencyHealthOption
}

// WithDependencyChecks adds readiness checks for dependencies owned outside the registry.
func WithDependencyChecks(checks ...repositories.DependencyCheck) RegistryOption {
	return func(cfg *registryConfig) {
		cfg.checks = append(cfg.checks, checks...)
	}
}

// WithCloser registers a hook run by Close after the Firestore client is released.
func WithCloser(closer func(context.Context) error) RegistryOption {
	return func(cfg *registryConfig) {
		if closer != nil {
			cfg.closers = append(cfg.closers, closer)
		}
	}
}

// WithHealthOptions forwards options to the dependency health repository.
func WithHealthOptions(opts ...repositories.DependencyHealthOption) RegistryOption {
	return func(cfg *registryConfig) {
		cfg.healthOpts = append(cfg.healthOpts, opts...)
	}
}

// NewRegistry builds every repository on top of provider.
func NewRegistry(provider *pfirestore.Provider, opts ...RegistryOption) (*Registry, error) {
	if provider == nil {
		return nil, errors.New("firestore registry requires provider")
	}
	var cfg registryConfig
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}

	products, err := NewProductRepository(provider)
	if err != nil {
		return nil, err
	}
	orders, err := NewOrderRepository(provider)
	if err != nil {
		return nil, err
	}
	ledger, err := NewLedgerRepository(provider)
	if err != nil {
		return nil, err
	}
	counters, err := NewCounterRepository(provider)
	if err != nil {
		return nil, err
	}

	audit, err := NewAuditLogRepository(provider)
	if err != nil {
		return nil, err
	}

	checks := append([]repositories.DependencyCheck{{
		Name:  "firestore",
		Check: FirestoreCheck(provider),
	}}, cfg.checks...)
	health, err := repositories.NewDependencyHealthRepository(checks, cfg.healthOpts...)
	if err != nil {
		return nil, fmt.Errorf("firestore registry: %w", err)
	}

	return &Registry{
		provider: provider,
		products: products,
		orders:   orders,
		ledger:   ledger,
		counters: counters,
		audit:    audit,
		health:   health,
		closers:  cfg.closers,
	}, nil
}

func (r *Registry) Products() repositories.ProductRepository { return r.products }
func (r *Registry) Orders() repositories.OrderRepository     { return r.orders }
func (r *Registry) Ledger() repositories.LedgerRepository    { return r.ledger }
func (r *Registry) Counters() repositories.CounterRepository { return r.counters }
func (r *Registry) Health() repositories.HealthRepository    { return r.health }

func (r *Registry) AuditLogs() repositories.AuditLogRepository { return r.audit }

// Close releases the Firestore client and then runs the registered closers.
func (r *Registry) Close(ctx context.Context) error {
	if r == nil {
		return nil
	}
	errs := []error{r.provider.Close(ctx)}
	for _, closer := range r.closers {
		errs = append(errs, closer(ctx))
	}
	return errors.Join(errs...)
}

// FirestoreCheck pings Firestore by listing at most one root collection.
func FirestoreCheck(provider *pfirestore.Provider) func(context.Context) error {
	return func(ctx context.Context) error {
		client, err := provider.Client(ctx)
		if err != nil {
			return err
		}
		iter := client.Collections(ctx)
		if _, err := iter.Next(); err != nil && !errors.Is(err, iterator.Done) {
			return pfirestore.WrapError("firestore.health", err)
		}
		return nil
	}
}
