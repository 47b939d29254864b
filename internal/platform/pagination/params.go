package pagination

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

const (
	// DefaultPageSize is used when the client omits pageSize.
	DefaultPageSize = 50
	// DefaultMaxPageSize caps pageSize to prevent unbounded queries.
	DefaultMaxPageSize = 200
)

// Params bundles the page window requested by a client.
type Params struct {
	PageSize  int
	PageToken string
	Cursor    Cursor
}

// Options control defaults applied by Parse.
type Options struct {
	DefaultPageSize int
	MaxPageSize     int
	// SizeKey and TokenKey name the query parameters. They default to pageSize and pageToken.
	SizeKey  string
	TokenKey string
}

var (
	ErrInvalidPageSize  = errors.New("pagination: invalid pageSize")
	ErrInvalidPageToken = errors.New("pagination: invalid pageToken")
)

// Parse reads pageSize and pageToken from query values.
func Parse(values url.Values, opts Options) (Params, error) {
	maxSize := opts.MaxPageSize
	if maxSize <= 0 {
		maxSize = DefaultMaxPageSize
	}
	size := opts.DefaultPageSize
	if size <= 0 {
		size = DefaultPageSize
	}
	size = min(size, maxSize)

	sizeKey := opts.SizeKey
	if sizeKey == "" {
		sizeKey = "pageSize"
	}
	tokenKey := opts.TokenKey
	if tokenKey == "" {
		tokenKey = "pageToken"
	}

	if raw := strings.TrimSpace(values.Get(sizeKey)); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			return Params{}, fmt.Errorf("%w: must be an integer", ErrInvalidPageSize)
		}
		if parsed <= 0 {
			return Params{}, fmt.Errorf("%w: must be greater than zero", ErrInvalidPageSize)
		}
		size = min(parsed, maxSize)
	}

	params := Params{PageSize: size}
	if token := strings.TrimSpace(values.Get(tokenKey)); token != "" {
		cursor, err := DecodeToken(token)
		if err != nil {
			return Params{}, err
		}
		params.PageToken = token
		params.Cursor = cursor
	}
	return params, nil
}
