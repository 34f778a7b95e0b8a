// Package pagination clamps requested page sizes and encodes the opaque page tokens used by
// newest-first listings.
package pagination

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

const (
	DefaultPageSize = 50
	MaxPageSize     = 100
)

var (
	ErrInvalidPageSize  = errors.New("pagination: invalid pageSize")
	ErrInvalidPageToken = errors.New("pagination: invalid pageToken")
)

// Size parses a pageSize query value. Blank, zero and negative values fall back to def and
// values above limit are clamped. Only non-numeric input is an error.
func Size(raw string, def, limit int) (int, error) {
	if limit <= 0 {
		limit = MaxPageSize
	}
	if def <= 0 || def > limit {
		def = min(DefaultPageSize, limit)
	}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: %q is not an integer", ErrInvalidPageSize, raw)
	}
	switch {
	case n <= 0:
		return def, nil
	case n > limit:
		return limit, nil
	}
	return n, nil
}

// Cursor is the last item of a page ordered by (createdAt desc, id desc).
type Cursor struct {
	CreatedAt time.Time `json:"t"`
	ID        string    `json:"id"`
}

// After returns the cursor positioned after item.
func After(createdAt time.Time, id string) Cursor {
	return Cursor{CreatedAt: createdAt.UTC(), ID: id}
}

// Token renders the cursor as a URL-safe page token.
func (c Cursor) Token() string {
	data, _ := json.Marshal(c)
	return base64.RawURLEncoding.EncodeToString(data)
}

// Precedes reports whether an item sorts before the cursor, meaning it was already served.
func (c Cursor) Precedes(createdAt time.Time, id string) bool {
	if !createdAt.Equal(c.CreatedAt) {
		return createdAt.After(c.CreatedAt)
	}
	return id >= c.ID
}

// Decode parses a token written by Token. A blank token yields ok=false and no error.
func Decode(token string) (cursor Cursor, ok bool, err error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Cursor{}, false, nil
	}
	data, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return Cursor{}, false, fmt.Errorf("%w: %v", ErrInvalidPageToken, err)
	}
	if err := json.Unmarshal(data, &cursor); err != nil {
		return Cursor{}, false, fmt.Errorf("%w: %v", ErrInvalidPageToken, err)
	}
	if cursor.ID == "" || cursor.CreatedAt.IsZero() {
		return Cursor{}, false, fmt.Errorf("%w: incomplete cursor", ErrInvalidPageToken)
	}
	return cursor, true, nil
}
