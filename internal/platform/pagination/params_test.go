package pagination

import (
	"errors"
	"net/url"
	"testing"
	"time"
)

func TestParseDefaults(t *testing.T) {
	params, err := Parse(url.Values{}, Options{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if params.PageSize != DefaultPageSize || params.PageToken != "" || !params.Cursor.IsZero() {
		t.Fatalf("unexpected params %+v", params)
	}
}

func TestParsePageSizeCapped(t *testing.T) {
	params, err := Parse(url.Values{"pageSize": {"500"}}, Options{MaxPageSize: 100})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if params.PageSize != 100 {
		t.Fatalf("expected cap 100, got %d", params.PageSize)
	}
}

func TestParseInvalidPageSize(t *testing.T) {
	for _, raw := range []string{"abc", "0", "-3"} {
		if _, err := Parse(url.Values{"pageSize": {raw}}, Options{}); !errors.Is(err, ErrInvalidPageSize) {
			t.Fatalf("pageSize %q: expected ErrInvalidPageSize, got %v", raw, err)
		}
	}
}

func TestTokenRoundTrip(t *testing.T) {
	cursor := Cursor{After: time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC), ID: "ord_1"}
	token, err := EncodeToken(cursor)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	params, err := Parse(url.Values{"pageToken": {token}}, Options{})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if !params.Cursor.After.Equal(cursor.After) || params.Cursor.ID != "ord_1" {
		t.Fatalf("unexpected cursor %+v", params.Cursor)
	}
}

func TestEncodeZeroCursor(t *testing.T) {
	token, err := EncodeToken(Cursor{})
	if err != nil || token != "" {
		t.Fatalf("expected empty token, got %q %v", token, err)
	}
}

func TestDecodeTokenInvalid(t *testing.T) {
	for _, token := range []string{"***", "e30"} {
		if _, err := DecodeToken(token); !errors.Is(err, ErrInvalidPageToken) {
			t.Fatalf("token %q: expected ErrInvalidPageToken, got %v", token, err)
		}
	}
}

func TestParseCustomKeys(t *testing.T) {
	values := url.Values{"page_size": {"7"}, "pageSize": {"90"}}
	params, err := Parse(values, Options{SizeKey: "page_size", TokenKey: "page_token"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if params.PageSize != 7 {
		t.Fatalf("expected page size 7, got %d", params.PageSize)
	}
}
