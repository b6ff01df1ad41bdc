package pagination

import (
	"encoding/base64"
	"errors"
	"strconv"
	"strings"
	"time"
)

const (
	DefaultLimit = 20
	MaxLimit     = 100
)

var (
	ErrInvalidCursor = errors.New("invalid cursor format")
	ErrInvalidLimit  = errors.New("limit must be a positive integer")
)

// Cursor marks the last item of a page in a list ordered newest first, ties
// broken by descending id
type Cursor struct {
	LastID    string
	CreatedAt time.Time
}

// PageResult represents a paginated result set
type PageResult[T any] struct {
	Items   []T    `json:"items"`
	Cursor  string `json:"cursor,omitempty"`
	HasMore bool   `json:"has_more"`
}

// EncodeCursor returns an opaque, URL-safe cursor
func EncodeCursor(c Cursor) string {
	if c.LastID == "" {
		return ""
	}
	raw := c.LastID + "|" + c.CreatedAt.UTC().Format(time.RFC3339Nano)
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

// DecodeCursor is the inverse of EncodeCursor; an empty string means the
// first page
func DecodeCursor(cursor string) (*Cursor, error) {
	if cursor == "" {
		return nil, nil
	}

	decoded, err := base64.RawURLEncoding.DecodeString(cursor)
	if err != nil {
		return nil, ErrInvalidCursor
	}

	id, ts, ok := strings.Cut(string(decoded), "|")
	if !ok || id == "" {
		return nil, ErrInvalidCursor
	}
	createdAt, err := time.Parse(time.RFC3339Nano, ts)
	if err != nil {
		return nil, ErrInvalidCursor
	}

	return &Cursor{LastID: id, CreatedAt: createdAt}, nil
}

// ParseLimit reads a page size; empty selects DefaultLimit and values above
// MaxLimit are capped
func ParseLimit(raw string) (int, error) {
	if raw == "" {
		return DefaultLimit, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0, ErrInvalidLimit
	}
	return min(n, MaxLimit), nil
}

// Page cuts the page following cursor out of items, which must already be
// in cursor order. The cursor item itself need not still be present.
func Page[T any](items []T, cursor *Cursor, limit int, key func(T) (string, time.Time)) PageResult[T] {
	start := 0
	if cursor != nil {
		start = len(items)
		for i, item := range items {
			id, createdAt := key(item)
			if createdAt.Before(cursor.CreatedAt) || (createdAt.Equal(cursor.CreatedAt) && id < cursor.LastID) {
				start = i
				break
			}
		}
	}

	end := min(start+limit, len(items))
	page := PageResult[T]{Items: items[start:end], HasMore: end < len(items)}
	if page.HasMore && end > start {
		id, createdAt := key(items[end-1])
		page.Cursor = EncodeCursor(Cursor{LastID: id, CreatedAt: createdAt})
	}
	return page
}
