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

	pfirestore "github.com/cuvejm/stockengine/internal/platform/firestore"
	"github.com/cuvejm/stockengine/internal/repositories"
)

const countersCollection = "counters"

type counterDocument struct {
	CurrentValue int64     `firestore:"currentValue"`
	Step         int64     `firestore:"step"`
	SeededFrom   int64     `firestore:"seededFrom"`
	UpdatedAt    time.Time `firestore:"updatedAt"`
}

// CounterRepository implements repositories.CounterRepository with one document per counter
// incremented inside Firestore transactions.
type CounterRepository struct {
	provider *pfirestore.Provider
	counters *pfirestore.Collection[counterDocument]
	now      func() time.Time
}

var _ repositories.CounterRepository = (*CounterRepository)(nil)

// NewCounterRepository constructs a Firestore-backed counter repository.
func NewCounterRepository(provider *pfirestore.Provider) (*CounterRepository, error) {
	if provider == nil {
		return nil, errors.New("counter repository requires firestore provider")
	}
	return &CounterRepository{
		provider: provider,
		counters: pfirestore.NewCollection[counterDocument](provider, countersCollection),
		now:      func() time.Time { return time.Now().UTC() },
	}, nil
}

// Next atomically increments the counter identified by counterID and returns the new value.
// A missing counter starts from zero.
func (r *CounterRepository) Next(ctx context.Context, counterID string, step int64) (int64, error) {
	id, err := counterDocID(counterID)
	if err != nil {
		return 0, err
	}
	if step < 0 {
		return 0, repositories.NewCounterError(repositories.CounterErrorInvalidInput, fmt.Sprintf("step must be positive, got %d", step), nil)
	}

	var next int64
	err = r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		ref, err := r.counters.Doc(ctx, id)
		if err != nil {
			return err
		}

		var doc counterDocument
		snap, err := tx.Get(ref)
		switch status.Code(err) {
		case codes.OK:
			if err := snap.DataTo(&doc); err != nil {
				return fmt.Errorf("decode counter %s: %w", id, err)
			}
		case codes.NotFound:
		default:
			return err
		}

		increment := step
		if increment == 0 {
			increment = max(doc.Step, 1)
		}
		doc.CurrentValue += increment
		doc.Step = increment
		doc.UpdatedAt = r.now()
		if err := tx.Set(ref, doc); err != nil {
			return err
		}
		next = doc.CurrentValue
		return nil
	})
	if err != nil {
		return 0, wrapCounterError("counters.next", err)
	}
	return next, nil
}

// Seed creates the counter at floor unless it already exists.
func (r *CounterRepository) Seed(ctx context.Context, counterID string, floor int64) (bool, error) {
	id, err := counterDocID(counterID)
	if err != nil {
		return false, err
	}
	if floor < 0 {
		return false, repositories.NewCounterError(repositories.CounterErrorInvalidInput, fmt.Sprintf("floor must be >= 0, got %d", floor), nil)
	}

	now := r.now()
	err = r.counters.Create(ctx, id, counterDocument{
		CurrentValue: floor,
		Step:         1,
		SeededFrom:   floor,
		UpdatedAt:    now,
	})
	var fsErr *pfirestore.Error
	if errors.As(err, &fsErr) && fsErr.Code == codes.AlreadyExists {
		return false, nil
	}
	if err != nil {
		return false, wrapCounterError("counters.seed", err)
	}
	return true, nil
}

func (r *CounterRepository) Exists(ctx context.Context, counterID string) (bool, error) {
	id, err := counterDocID(counterID)
	if err != nil {
		return false, err
	}
	if _, err := r.counters.Get(ctx, id); err != nil {
		if pfirestore.IsNotFound(err) {
			return false, nil
		}
		return false, wrapCounterError("counters.exists", err)
	}
	return true, nil
}

func counterDocID(counterID string) (string, error) {
	id := strings.TrimSpace(counterID)
	if id == "" {
		return "", repositories.NewCounterError(repositories.CounterErrorInvalidInput, "counter id is required", nil)
	}
	if strings.Contains(id, "/") {
		return "", repositories.NewCounterError(repositories.CounterErrorInvalidInput, fmt.Sprintf("counter id %q must not contain '/'", id), nil)
	}
	return id, nil
}

func wrapCounterError(op string, err error) error {
	var counterErr *repositories.CounterError
	if errors.As(err, &counterErr) {
		if counterErr.Op == "" {
			counterErr.Op = op
		}
		return counterErr
	}
	return pfirestore.WrapError(op, err)
}
