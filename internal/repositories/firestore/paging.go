package firestore

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	domain "github.com/cuvejm/stockengine/internal/domain"
	"github.com/cuvejm/stockengine/internal/platform/pagination"
)

// pageWindow resolves the requested page size and cursor for listings ordered by
// (createdAt desc, document id desc).
func pageWindow(pager domain.Pagination) (int, pagination.Cursor, error) {
	size := pager.PageSize
	switch {
	case size <= 0:
		size = pagination.DefaultPageSize
	case size > pagination.DefaultMaxPageSize:
		size = pagination.DefaultMaxPageSize
	}
	cursor, err := pagination.DecodeToken(pager.PageToken)
	if err != nil {
		return 0, pagination.Cursor{}, err
	}
	return size, cursor, nil
}

// newestFirst orders query by createdAt then document id, both descending, and positions it after cursor.
// One extra document is fetched so callers can tell whether another page exists.
func newestFirst(query firestore.Query, size int, cursor pagination.Cursor) firestore.Query {
	query = query.OrderBy("createdAt", firestore.Desc).OrderBy(firestore.DocumentID, firestore.Desc)
	if !cursor.IsZero() {
		query = query.StartAfter(cursor.After, cursor.ID)
	}
	return query.Limit(size + 1)
}

// trimPage cuts items to size and encodes the token pointing after the last kept item.
func trimPage[T any](items []T, size int, key func(T) (time.Time, string)) (domain.CursorPage[T], error) {
	if len(items) <= size {
		return domain.CursorPage[T]{Items: items}, nil
	}
	items = items[:size]
	after, id := key(items[len(items)-1])
	token, err := pagination.EncodeToken(pagination.Cursor{After: after, ID: id})
	if err != nil {
		return domain.CursorPage[T]{}, err
	}
	return domain.CursorPage[T]{Items: items, NextPageToken: token}, nil
}

// sequenceRange returns the half-open key range covering PREFIX-YEAR-* identifiers.
func sequenceRange(prefix string, year int) (string, string) {
	start := fmt.Sprintf("%s-%04d-", strings.ToUpper(strings.TrimSpace(prefix)), year)
	return start, start + "\uf8ff"
}

// sequenceSuffix parses the numeric suffix of a PREFIX-YEAR-NNN identifier.
func sequenceSuffix(identifier, prefix string, year int) (int64, bool) {
	start, _ := sequenceRange(prefix, year)
	rest, ok := strings.CutPrefix(strings.TrimSpace(identifier), start)
	if !ok || rest == "" {
		return 0, false
	}
	value, err := strconv.ParseInt(rest, 10, 64)
	if err != nil || value < 0 {
		return 0, false
	}
	return value, true
}
