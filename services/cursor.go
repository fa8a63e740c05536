package services

import (
	"strings"
	"time"

	"gorm.io/gorm"
)

// Cursor is a keyset position in a newest-first listing ordered by
// (created_at DESC, id DESC). Its text form is "<RFC3339Nano>_<id>".
type Cursor struct {
	CreatedAt time.Time
	ID        string
}

func cursorAfter(createdAt time.Time, id string) *Cursor {
	return &Cursor{CreatedAt: createdAt.UTC(), ID: id}
}

func (c Cursor) String() string {
	return c.CreatedAt.UTC().Format(time.RFC3339Nano) + "_" + c.ID
}

func (c Cursor) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

func (c *Cursor) UnmarshalText(b []byte) error {
	parsed, err := ParseCursor(string(b))
	if err != nil {
		return err
	}
	if parsed == nil {
		*c = Cursor{}
		return nil
	}
	*c = *parsed
	return nil
}

// ParseCursor reads a cursor from its text form. Empty input yields nil.
func ParseCursor(s string) (*Cursor, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	ts, id, ok := strings.Cut(s, "_")
	if !ok || id == "" {
		return nil, validationFailed("cursor", "CURSOR_INVALID", "cursor is malformed")
	}
	t, err := time.Parse(time.RFC3339Nano, ts)
	if err != nil {
		return nil, validationFailed("cursor", "CURSOR_INVALID", "cursor is malformed")
	}
	return cursorAfter(t, id), nil
}

// before restricts q to rows strictly after c in (created_at DESC, id DESC) order.
func (c *Cursor) before(q *gorm.DB) *gorm.DB {
	if c == nil {
		return q
	}
	t := c.CreatedAt.UTC()
	return q.Where("(created_at < ? OR (created_at = ? AND id < ?))", t, t, c.ID)
}
