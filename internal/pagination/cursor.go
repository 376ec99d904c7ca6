// Package pagination pages newest-first listings with opaque keyset cursors.
package pagination

import (
	"encoding/base64"
	"errors"
	"strconv"
	"strings"
	"time"
)

var ErrInvalidCursor = errors.New("pagination: invalid cursor")

// Limit bounds.
const (
	DefaultLimit = 100
	MaxLimit     = 500
)

// Cursor is the (created_at, id) key of the last item on a page.
type Cursor struct {
	CreatedAt time.Time
	ID        string
}

// KeyFunc extracts the ordering key from an item.
type KeyFunc[T any] func(T) (time.Time, string)

// Encode returns an opaque cursor string from a timestamp and ID.
func Encode(createdAt time.Time, id string) string {
	raw := strconv.FormatInt(createdAt.UnixNano(), 10) + "|" + id
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

// Decode parses an opaque cursor string. Returns nil for empty input.
func Decode(s string) (*Cursor, error) {
	if s == "" {
		return nil, nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return nil, ErrInvalidCursor
	}
	nanos, id, ok := strings.Cut(string(raw), "|")
	if !ok || id == "" {
		return nil, ErrInvalidCursor
	}
	n, err := strconv.ParseInt(nanos, 10, 64)
	if err != nil {
		return nil, ErrInvalidCursor
	}
	return &Cursor{CreatedAt: time.Unix(0, n).UTC(), ID: id}, nil
}

// ClampLimit maps a requested page size into [1, MaxLimit], using
// DefaultLimit for anything non-positive.
func ClampLimit(limit int) int {
	switch {
	case limit <= 0:
		return DefaultLimit
	case limit > MaxLimit:
		return MaxLimit
	default:
		return limit
	}
}

// before reports whether key (t, id) sorts after the cursor in newest-first
// order, i.e. belongs on a later page.
func (c *Cursor) before(t time.Time, id string) bool {
	if !t.Equal(c.CreatedAt) {
		return t.Before(c.CreatedAt)
	}
	return id < c.ID
}

// Page takes items sorted newest first (created_at DESC, id DESC) and
// returns the page that follows cursor, the next cursor, and whether more
// items remain.
func Page[T any](items []T, cursor string, limit int, key KeyFunc[T]) ([]T, string, bool, error) {
	c, err := Decode(cursor)
	if err != nil {
		return nil, "", false, err
	}
	limit = ClampLimit(limit)

	start := 0
	if c != nil {
		start = len(items)
		for i, it := range items {
			t, id := key(it)
			if c.before(t, id) {
				start = i
				break
			}
		}
	}
	items = items[start:]

	if len(items) <= limit {
		return items, "", false, nil
	}
	items = items[:limit]
	t, id := key(items[len(items)-1])
	return items, Encode(t, id), true, nil
}
