package ledger

import (
	"errors"
	"testing"
	"time"
)

func TestCursorRoundTrip(t *testing.T) {
	date := time.Date(2026, 3, 10, 14, 30, 0, 123456789, time.UTC)
	cursor := EncodeCursor(date, "tx-42")

	gotDate, gotID, err := DecodeCursor(cursor)
	if err != nil {
		t.Fatalf("DecodeCursor() failed: %v", err)
	}
	if !gotDate.Equal(date) || gotID != "tx-42" {
		t.Errorf("DecodeCursor() = (%v, %s), want (%v, tx-42)", gotDate, gotID, date)
	}
}

func TestDecodeCursor_Empty(t *testing.T) {
	date, id, err := DecodeCursor("")
	if err != nil {
		t.Fatalf("DecodeCursor() failed: %v", err)
	}
	if !date.IsZero() || id != "" {
		t.Errorf("DecodeCursor(\"\") = (%v, %q), want zero values", date, id)
	}
}

func TestDecodeCursor_Malformed(t *testing.T) {
	for _, cursor := range []string{"garbage", "not-a-date|tx-1"} {
		if _, _, err := DecodeCursor(cursor); !errors.Is(err, ErrInvalidArgument) {
			t.Errorf("DecodeCursor(%q) error = %v, want ErrInvalidArgument", cursor, err)
		}
	}
}

func TestKeysetAfter(t *testing.T) {
	base := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		date time.Time
		id   string
		want bool
	}{
		{"Later Date", base.AddDate(0, 0, 1), "a", true},
		{"Earlier Date", base.AddDate(0, 0, -1), "z", false},
		{"Same Date Later ID", base, "tx-5", true},
		{"Same Date Same ID", base, "tx-4", false},
		{"Same Date Earlier ID", base, "tx-3", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := KeysetAfter(tt.date, tt.id, base, "tx-4"); got != tt.want {
				t.Errorf("KeysetAfter() = %v, want %v", got, tt.want)
			}
		})
	}
}
