// Package pagination implements opaque keyset cursors for the newest-first
// transaction listings. A cursor names the (createdAt, id) position of the
// last record a caller has seen; the stores resume strictly after it, so
// pages stay stable while new decisions keep landing at the head of the
// list.
package pagination

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ErrInvalidCursor is returned for cursors this service did not mint.
var ErrInvalidCursor = errors.New("invalid cursor")

// Cursor is a decoded position in a listing.
type Cursor struct {
	CreatedAt time.Time
	ID        string
}

// Encode packs a position into the opaque wire form handed to clients.
func Encode(createdAt time.Time, id string) string {
	raw := fmt.Sprintf("%d|%s", createdAt.UnixNano(), id)
	return base64.URLEncoding.EncodeToString([]byte(raw))
}

// Decode parses an opaque cursor. Empty input means "from the top" and
// yields a nil cursor; anything unparseable is ErrInvalidCursor.
func Decode(s string) (*Cursor, error) {
	if s == "" {
		return nil, nil
	}
	raw, err := base64.URLEncoding.DecodeString(s)
	if err != nil {
		return nil, ErrInvalidCursor
	}
	nanos, id, ok := strings.Cut(string(raw), "|")
	if !ok {
		return nil, ErrInvalidCursor
	}
	n, err := strconv.ParseInt(nanos, 10, 64)
	if err != nil {
		return nil, ErrInvalidCursor
	}
	return &Cursor{
		CreatedAt: time.Unix(0, n).UTC(),
		ID:        id,
	}, nil
}

// ComputePage trims a result set fetched with limit+1 rows down to one page.
// The extra row only signals that another page exists; it is never returned.
// extractKey pulls the (createdAt, id) key from the last item kept, which
// becomes the next cursor. A limit below 1 disables paging and returns the
// items untouched.
func ComputePage[T any](items []T, limit int, extractKey func(T) (time.Time, string)) ([]T, string, bool) {
	if limit < 1 || len(items) <= limit {
		return items, "", false
	}
	items = items[:limit]
	createdAt, id := extractKey(items[len(items)-1])
	return items, Encode(createdAt, id), true
}
