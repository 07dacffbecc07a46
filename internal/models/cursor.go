package models

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Cursor is a position in a conversation's (createdAt, id) order.
type Cursor struct {
	CreatedAt time.Time `json:"createdAt"`
	ID        uint      `json:"id"`
}

// Before reports whether c sorts strictly before o.
func (c Cursor) Before(o Cursor) bool {
	if c.CreatedAt.Equal(o.CreatedAt) {
		return c.ID < o.ID
	}
	return c.CreatedAt.Before(o.CreatedAt)
}

// String encodes c for use as the "before" query parameter: "<unix nanos>_<id>".
func (c Cursor) String() string {
	return strconv.FormatInt(c.CreatedAt.UnixNano(), 10) + "_" + strconv.FormatUint(uint64(c.ID), 10)
}

// ParseCursor decodes the output of Cursor.String.
func ParseCursor(s string) (Cursor, error) {
	nanos, id, ok := strings.Cut(s, "_")
	if !ok {
		return Cursor{}, fmt.Errorf("invalid cursor %q", s)
	}
	n, err := strconv.ParseInt(nanos, 10, 64)
	if err != nil {
		return Cursor{}, fmt.Errorf("invalid cursor time: %w", err)
	}
	i, err := strconv.ParseUint(id, 10, 64)
	if err != nil {
		return Cursor{}, fmt.Errorf("invalid cursor id: %w", err)
	}
	return Cursor{CreatedAt: time.Unix(0, n).UTC(), ID: uint(i)}, nil
}
