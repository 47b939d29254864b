package di

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/cuvejm/stockengine/internal/platform/config"
	"github.com/cuvejm/stockengine/internal/platform/observability"
	"github.com/cuvejm/stockengine/internal/repositories"
	"github.com/cuvejm/stockengine/internal/services"
)

// Services bundles the service-layer contracts that handlers rely upon. Concrete implementations
// are assembled via dependency injection in NewContainer.
type Services struct {
	Sequences services.SequenceService
	Stock     services.StockLedgerService
	Orders    services.OrderService
	// Audit is nil when the registry has no audit log repository.
	Audit services.AuditLogService
	// Archive is nil when no exports bucket or archive writer is configured.
	Archive services.LedgerArchiveService
	System  services.SystemService
}

// Container wires repositories, services, and background infrastructure for runtime use.
type Container struct {
	Config       config.Config
	Repositories repositories.Registry
	Services     Services
}

// Option supplies infrastructure that lives outside the repository registry.
type Option func(*options)

type options struct {
	orderEvents services.OrderEventPublisher
	stockEvents services.StockEventPublisher
	archive     services.ArchiveWriter
	metrics     services.Metrics
	logger      *zap.Logger
	build       services.BuildInfo
	clock       func() time.Time
}

// WithEventPublishers routes order and stock events to downstream consumers.
func WithEventPublishers(orders services.OrderEventPublisher, stock services.StockEventPublisher) Option {
	return func(o *options) {
		o.orderEvents = orders
		o.stockEvents = stock
	}
}

// WithArchiveWriter enables the ledger archive export.
func WithArchiveWriter(writer services.ArchiveWriter) Option {
	return func(o *options) {
		o.archive = writer
	}
}

// WithMetrics records engine counters.
func WithMetrics(metrics services.Metrics) Option {
	return func(o *options) {
		o.metrics = metrics
	}
}

// WithLogger sets the base logger used for service events outside a request.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithBuildInfo sets the metadata reported by health endpoints.
func WithBuildInfo(build services.BuildInfo) Option {
	return func(o *options) {
		o.build = build
	}
}

// WithClock overrides the clock shared by every service.
func WithClock(clock func() time.Time) Option {
	return func(o *options) {
		if clock != nil {
			o.clock = clock
		}
	}
}

// NewContainer constructs the runtime dependencies. Production wiring passes the Firestore registry,
// while tests can supply in-memory registries.
func NewContainer(ctx context.Context, cfg config.Config, reg repositories.Registry, opts ...Option) (*Container, error) {
	if reg == nil {
		return nil, errors.New("repositories registry is required")
	}
	o := options{clock: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}

	svc, err := buildServices(ctx, reg, cfg, o)
	if err != nil {
		return nil, err
	}

	return &Container{
		Config:       cfg,
		Repositories: reg,
		Services:     svc,
	}, nil
}

// Close releases resources such as repository clients, background workers, or caches.
func (c *Container) Close(ctx context.Context) error {
	if c == nil || c.Repositories == nil {
		return nil
	}
	return c.Repositories.Close(ctx)
}

func buildServices(_ context.Context, reg repositories.Registry, cfg config.Config, o options) (Services, error) {
	var svc Services
	location := cfg.Engine.Location()
	logEvent := observability.EventLogger(o.logger.Named("engine"))

	ordersRepo := reg.Orders()
	ledgerRepo := reg.Ledger()

	scanners := make(map[string]repositories.SequenceScanner, 2)
	if ordersRepo != nil {
		scanners[cfg.Engine.OrderPrefix] = ordersRepo
	}
	if ledgerRepo != nil {
		scanners[cfg.Engine.ReceiptPrefix] = ledgerRepo
	}

	sequenceSvc, err := services.NewSequenceService(services.SequenceServiceDeps{
		Counters:      reg.Counters(),
		Scanners:      scanners,
		OrderPrefix:   cfg.Engine.OrderPrefix,
		ReceiptPrefix: cfg.Engine.ReceiptPrefix,
		Location:      location,
		Clock:         o.clock,
		Metrics:       o.metrics,
		Logger:        logEvent,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build sequence service: %w", err)
	}
	svc.Sequences = sequenceSvc

	stockSvc, err := services.NewStockLedgerService(services.StockLedgerServiceDeps{
		Products:       reg.Products(),
		Ledger:         ledgerRepo,
		Sequences:      sequenceSvc,
		Events:         o.stockEvents,
		ChainKey:       []byte(cfg.Ledger.ChainKey),
		LowStockAlerts: cfg.Engine.LowStockAlert,
		Clock:          o.clock,
		Metrics:        o.metrics,
		Logger:         logEvent,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build stock ledger service: %w", err)
	}
	svc.Stock = stockSvc

	if auditRepo := reg.AuditLogs(); auditRepo != nil {
		auditSvc, err := services.NewAuditLogService(services.AuditLogServiceDeps{
			Repository: auditRepo,
			Clock:      o.clock,
			HashKey:    []byte(cfg.Ledger.ChainKey),
			Logger:     logEvent,
		})
		if err != nil {
			return Services{}, fmt.Errorf("build audit log service: %w", err)
		}
		svc.Audit = auditSvc
	}

	orderSvc, err := services.NewOrderService(services.OrderServiceDeps{
		Orders:      ordersRepo,
		Products:    reg.Products(),
		Stock:       stockSvc,
		Sequences:   sequenceSvc,
		Events:      o.orderEvents,
		Audit:       svc.Audit,
		Location:    location,
		RecentLimit: cfg.Engine.RecentLimit,
		Clock:       o.clock,
		Metrics:     o.metrics,
		Logger:      logEvent,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build order service: %w", err)
	}
	svc.Orders = orderSvc

	if o.archive != nil && cfg.Storage.ExportsBucket != "" {
		archiveSvc, err := services.NewLedgerArchiveService(services.LedgerArchiveServiceDeps{
			Ledger:   ledgerRepo,
			Writer:   o.archive,
			Bucket:   cfg.Storage.ExportsBucket,
			Location: location,
			Logger:   logEvent,
		})
		if err != nil {
			return Services{}, fmt.Errorf("build ledger archive service: %w", err)
		}
		svc.Archive = archiveSvc
	}

	if healthRepo := reg.Health(); healthRepo != nil {
		build := o.build
		if build.Environment == "" {
			build.Environment = cfg.Security.Environment
		}
		systemSvc, err := services.NewSystemService(services.SystemServiceDeps{
			HealthRepository: healthRepo,
			Stock:            stockSvc,
			Clock:            o.clock,
			Build:            build,
		})
		if err != nil {
			return Services{}, fmt.Errorf("build system service: %w", err)
		}
		svc.System = systemSvc
	}

	return svc, nil
}
