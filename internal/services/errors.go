package services

import (
	"errors"
	"fmt"

	"github.com/cuvejm/stockengine/internal/repositories"
)

// Error kinds shared by every service. Service specific sentinels wrap one of them so callers can
// branch on the kind with errors.Is.
var (
	// ErrNotFound indicates a referenced entity does not exist.
	ErrNotFound = errors.New("not found")
	// ErrValidation indicates the request was rejected before any write.
	ErrValidation = errors.New("validation failed")
	// ErrConcurrencyDegraded indicates the operation succeeded without its uniqueness guarantee.
	ErrConcurrencyDegraded = errors.New("concurrency degraded")
	// ErrPartialFailure indicates some items of a multi item operation failed after the main write committed.
	ErrPartialFailure = errors.New("partial failure")
	// ErrUnavailable indicates a backing store failed transiently.
	ErrUnavailable = errors.New("unavailable")
)

// kindError carries its own message while unwrapping to a shared kind.
type kindError struct {
	msg  string
	kind error
}

func (e *kindError) Error() string { return e.msg }
func (e *kindError) Unwrap() error { return e.kind }

func newKindError(kind error, msg string) error {
	return &kindError{msg: msg, kind: kind}
}

// mapStoreError classifies repository failures that no service specific rule handled.
func mapStoreError(err error, notFound error) error {
	if err == nil {
		return nil
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound() && notFound != nil:
			return fmt.Errorf("%w: %v", notFound, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
	}
	return err
}

func partialFailure(items []ItemResult) error {
	var errs []error
	for _, item := range items {
		if item.Err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", item.ProductID, item.Err))
		}
	}
	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %d of %d items failed: %w", ErrPartialFailure, len(errs), len(items), errors.Join(errs...))
}
