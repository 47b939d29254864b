package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/cuvejm/stockengine/internal/repositories"
)

const (
	// DefaultOrderPrefix and DefaultReceiptPrefix are used when the deps leave them empty.
	DefaultOrderPrefix   = "GCP"
	DefaultReceiptPrefix = "BR"

	degradedSuffixModulo = 1_000_000
)

var (
	// ErrSequenceInvalidInput signals an unusable prefix or year.
	ErrSequenceInvalidInput = newKindError(ErrValidation, "sequence: invalid input")
	// ErrSequenceDegraded marks identifiers produced by the timestamp fallback.
	ErrSequenceDegraded = newKindError(ErrConcurrencyDegraded, "sequence: counter unavailable, timestamp fallback used")
)

// SequenceAllocation is one allocated identifier.
type SequenceAllocation struct {
	Identifier string
	Value      int64
	Degraded   bool
	cause      error
}

// Err reports why the allocation is degraded. It returns nil for counter backed identifiers.
func (a SequenceAllocation) Err() error {
	if !a.Degraded {
		return nil
	}
	if a.cause == nil {
		return ErrSequenceDegraded
	}
	return fmt.Errorf("%w: %v", ErrSequenceDegraded, a.cause)
}

// SequenceServiceDeps bundles collaborators required to construct a sequence service.
type SequenceServiceDeps struct {
	Counters repositories.CounterRepository
	// Scanners seed a counter from identifiers already stored, keyed by prefix.
	Scanners      map[string]repositories.SequenceScanner
	OrderPrefix   string
	ReceiptPrefix string
	Location      *time.Location
	Clock         func() time.Time
	Metrics       Metrics
	Logger        func(ctx context.Context, event string, fields map[string]any)
}

type sequenceService struct {
	counters      repositories.CounterRepository
	scanners      map[string]repositories.SequenceScanner
	orderPrefix   string
	receiptPrefix string
	location      *time.Location
	clock         func() time.Time
	metrics       Metrics
	logger        func(context.Context, string, map[string]any)

	seedMu sync.Mutex
	seeded map[string]bool
}

var _ SequenceService = (*sequenceService)(nil)

// NewSequenceService constructs a counter backed identifier allocator.
func NewSequenceService(deps SequenceServiceDeps) (SequenceService, error) {
	if deps.Counters == nil {
		return nil, errors.New("sequence service: counter repository is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	location := deps.Location
	if location == nil {
		location = time.UTC
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	scanners := make(map[string]repositories.SequenceScanner, len(deps.Scanners))
	for prefix, scanner := range deps.Scanners {
		if scanner != nil {
			scanners[normalisePrefix(prefix)] = scanner
		}
	}

	return &sequenceService{
		counters:      deps.Counters,
		scanners:      scanners,
		orderPrefix:   firstNonEmpty(normalisePrefix(deps.OrderPrefix), DefaultOrderPrefix),
		receiptPrefix: firstNonEmpty(normalisePrefix(deps.ReceiptPrefix), DefaultReceiptPrefix),
		location:      location,
		clock:         clock,
		metrics:       deps.Metrics,
		logger:        logger,
		seeded:        make(map[string]bool),
	}, nil
}

func (s *sequenceService) NextOrderNumber(ctx context.Context) (SequenceAllocation, error) {
	return s.Next(ctx, s.orderPrefix, s.clock().In(s.location).Year())
}

func (s *sequenceService) NextReceiptNumber(ctx context.Context) (SequenceAllocation, error) {
	return s.Next(ctx, s.receiptPrefix, s.clock().In(s.location).Year())
}

// Next increments the (prefix, year) counter. When the counter store fails the identifier falls back
// to a timestamp suffix and the allocation is flagged as degraded instead of failing the caller.
func (s *sequenceService) Next(ctx context.Context, prefix string, year int) (SequenceAllocation, error) {
	prefix = normalisePrefix(prefix)
	if prefix == "" || strings.ContainsAny(prefix, "-/ ") {
		return SequenceAllocation{}, fmt.Errorf("%w: prefix %q", ErrSequenceInvalidInput, prefix)
	}
	if year < 1 || year > 9999 {
		return SequenceAllocation{}, fmt.Errorf("%w: year %d", ErrSequenceInvalidInput, year)
	}
	counterID := fmt.Sprintf("%s-%04d", prefix, year)

	value, err := s.increment(ctx, counterID, prefix, year)
	if err == nil {
		return SequenceAllocation{
			Identifier: FormatSequence(prefix, year, value),
			Value:      value,
		}, nil
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		return SequenceAllocation{}, ctxErr
	}
	var counterErr *repositories.CounterError
	if errors.As(err, &counterErr) && counterErr.Code == repositories.CounterErrorInvalidInput {
		return SequenceAllocation{}, fmt.Errorf("%w: %s", ErrSequenceInvalidInput, counterErr.Message)
	}

	suffix := s.clock().UnixMilli() % degradedSuffixModulo
	allocation := SequenceAllocation{
		Identifier: fmt.Sprintf("%s-%04d-%06d", prefix, year, suffix),
		Value:      suffix,
		Degraded:   true,
		cause:      err,
	}
	if s.metrics != nil {
		s.metrics.SequenceDegraded(ctx, prefix)
	}
	s.logger(ctx, "sequence.degraded", map[string]any{
		"counter":    counterID,
		"identifier": allocation.Identifier,
		"error":      err,
	})
	return allocation, nil
}

func (s *sequenceService) increment(ctx context.Context, counterID, prefix string, year int) (int64, error) {
	if err := s.ensureSeeded(ctx, counterID, prefix, year); err != nil {
		return 0, err
	}
	return s.counters.Next(ctx, counterID, 1)
}

// ensureSeeded creates the counter from the highest stored identifier the first time this process
// allocates from it. Seed is a no-op when the counter already exists, so concurrent processes agree.
func (s *sequenceService) ensureSeeded(ctx context.Context, counterID, prefix string, year int) error {
	s.seedMu.Lock()
	defer s.seedMu.Unlock()
	if s.seeded[counterID] {
		return nil
	}

	var floor int64
	if scanner, ok := s.scanners[prefix]; ok {
		highest, err := scanner.HighestSequence(ctx, prefix, year)
		if err != nil {
			return s.adoptExisting(ctx, counterID, fmt.Errorf("scan %s: %w", counterID, err))
		}
		floor = highest
	}
	created, err := s.counters.Seed(ctx, counterID, floor)
	if err != nil {
		return err
	}
	if created {
		s.logger(ctx, "sequence.seeded", map[string]any{"counter": counterID, "floor": floor})
	}
	s.seeded[counterID] = true
	return nil
}

// adoptExisting handles a failed floor scan. A counter that already exists was seeded before and
// needs no floor, so allocation continues from it. A missing counter keeps scanErr and is retried
// on the next allocation. Callers hold seedMu.
func (s *sequenceService) adoptExisting(ctx context.Context, counterID string, scanErr error) error {
	exists, err := s.counters.Exists(ctx, counterID)
	if err != nil || !exists {
		return scanErr
	}
	s.logger(ctx, "sequence.seed.scan_failed", map[string]any{
		"counter": counterID,
		"error":   scanErr,
	})
	s.seeded[counterID] = true
	return nil
}

// FormatSequence renders PREFIX-YEAR-NNN with at least three digits.
func FormatSequence(prefix string, year int, value int64) string {
	return fmt.Sprintf("%s-%04d-%03d", prefix, year, value)
}

func normalisePrefix(prefix string) string {
	return strings.ToUpper(strings.TrimSpace(prefix))
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if strings.TrimSpace(value) != "" {
			return value
		}
	}
	return ""
}
