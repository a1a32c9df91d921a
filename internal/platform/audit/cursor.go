package audit

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ErrBadCursor marks a malformed page token so callers can report it as the
// caller's mistake rather than a server fault.
var ErrBadCursor = errors.New("malformed page token")

// cursor is the keyset position for audit paging: the (occurred_at, id) pair
// of the last entry on the previous page. Entries are ordered newest first,
// so the next page holds entries strictly before this position.
type cursor struct {
	OccurredAt time.Time
	ID         uuid.UUID
}

// encodeCursor packs the position into an opaque page token.
func encodeCursor(c cursor) string {
	raw := fmt.Sprintf("%s|%s", c.OccurredAt.UTC().Format(time.RFC3339Nano), c.ID)
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

// decodeCursor unpacks a page token. Every malformed token maps to
// ErrBadCursor.
func decodeCursor(token string) (cursor, error) {
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return cursor{}, fmt.Errorf("%w: %v", ErrBadCursor, err)
	}
	parts := strings.SplitN(string(raw), "|", 2)
	if len(parts) != 2 {
		return cursor{}, ErrBadCursor
	}
	at, err := time.Parse(time.RFC3339Nano, parts[0])
	if err != nil {
		return cursor{}, fmt.Errorf("%w: bad position: %v", ErrBadCursor, err)
	}
	id, err := uuid.Parse(parts[1])
	if err != nil {
		return cursor{}, fmt.Errorf("%w: bad id: %v", ErrBadCursor, err)
	}
	return cursor{OccurredAt: at, ID: id}, nil
}
