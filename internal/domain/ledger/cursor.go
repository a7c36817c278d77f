package ledger

import (
	"strings"
	"time"
)

// Pagination cursors are opaque to callers; both store implementations use
// this keyset encoding over (date, id).

const cursorSep = "|"

// EncodeCursor builds a cursor pointing just after the given row.
func EncodeCursor(date time.Time, id string) string {
	return date.UTC().Format(time.RFC3339Nano) + cursorSep + id
}

// DecodeCursor parses a cursor produced by EncodeCursor. An empty cursor
// yields zero values, meaning "from the beginning".
func DecodeCursor(cursor string) (time.Time, string, error) {
	if cursor == "" {
		return time.Time{}, "", nil
	}
	parts := strings.SplitN(cursor, cursorSep, 2)
	if len(parts) != 2 {
		return time.Time{}, "", InvalidArgumentf("malformed cursor %q", cursor)
	}
	ts, err := time.Parse(time.RFC3339Nano, parts[0])
	if err != nil {
		return time.Time{}, "", InvalidArgumentf("malformed cursor %q", cursor)
	}
	return ts, parts[1], nil
}

// KeysetAfter reports whether (date, id) sorts strictly after the cursor
// position.
func KeysetAfter(date time.Time, id string, afterDate time.Time, afterID string) bool {
	if !date.Equal(afterDate) {
		return date.After(afterDate)
	}
	return id > afterID
}
