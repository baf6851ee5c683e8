package entity

import (
	"errors"
	"math"
	"testing"
)

func TestIDRoundTrip(t *testing.T) {
	t.Parallel()

	for _, typ := range Types() {
		for _, key := range []int64{0, 1, 42, math.MaxInt64} {
			id := NewID(typ, key)
			parsed, err := ParseID(id.String())
			if err != nil {
				t.Fatalf("ParseID(%q): %v", id.String(), err)
			}
			if parsed != id {
				t.Fatalf("ParseID(%q) = %v, want %v", id.String(), parsed, id)
			}
		}
	}
}

func TestParseIDOfType(t *testing.T) {
	t.Parallel()

	id, err := ParseIDOfType(TypeUser, "17")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id != NewID(TypeUser, 17) {
		t.Fatalf("got %v", id)
	}
	if _, err := ParseIDOfType(TypeUser, "reservation_17"); !errors.Is(err, ErrMalformedID) {
		t.Fatalf("expected type mismatch to fail, got %v", err)
	}
}

func TestParseIDErrors(t *testing.T) {
	t.Parallel()

	cases := []struct {
		input  string
		offset int
	}{
		{"reservation_abc", 12},
		{"reservation_12x", 14},
		{"_12", 0},
		{"12", 0},
		{"room_3", 0},
		{"user_", 5},
		{"user_-4", 5},
		{"user_99999999999999999999", 5},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.input, func(t *testing.T) {
			t.Parallel()
			_, err := ParseID(tc.input)
			var parseErr *ParseError
			if !errors.As(err, &parseErr) {
				t.Fatalf("expected ParseError, got %v", err)
			}
			if parseErr.Input != tc.input || parseErr.Offset != tc.offset {
				t.Fatalf("got input %q offset %d, want offset %d", parseErr.Input, parseErr.Offset, tc.offset)
			}
			if !errors.Is(err, ErrMalformedID) {
				t.Fatalf("expected ErrMalformedID")
			}
		})
	}
}

func TestIDCompareAndText(t *testing.T) {
	t.Parallel()

	a := NewID(TypeReservation, 1)
	b := NewID(TypeAppointment, 2)
	if a.Compare(b) >= 0 || b.Compare(a) <= 0 || a.Compare(a) != 0 {
		t.Fatalf("unexpected ordering")
	}
	if NewID(TypeReservation, 5).Compare(NewID(TypeAppointment, 5)) >= 0 {
		t.Fatalf("expected type to break ties")
	}

	text, err := b.MarshalText()
	if err != nil {
		t.Fatalf("MarshalText: %v", err)
	}
	var decoded ID
	if err := decoded.UnmarshalText(text); err != nil {
		t.Fatalf("UnmarshalText: %v", err)
	}
	if decoded != b {
		t.Fatalf("got %v, want %v", decoded, b)
	}
	if err := decoded.UnmarshalText(nil); err != nil || !decoded.IsZero() {
		t.Fatalf("expected empty text to decode to the zero id")
	}
}
