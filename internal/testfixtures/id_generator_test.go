package testfixtures

import "testing"

func TestUUIDGeneratorProducesSequentialIDs(t *testing.T) {
	gen := NewUUIDGenerator(0xcafe)

	first := gen.Next()
	second := gen.Next()

	if first == second {
		t.Fatalf("expected distinct identifiers, got %s twice", first)
	}
	if first.Version() != 4 {
		t.Fatalf("expected version 4 layout, got %d", first.Version())
	}
	if first.String()[:8] != "0000cafe" {
		t.Fatalf("expected prefix 0000cafe, got %s", first)
	}
}

func TestUUIDGeneratorCanReset(t *testing.T) {
	gen := NewUUIDGenerator(1)
	first := gen.Next()
	_ = gen.Next()
	gen.SetCounter(0)

	if next := gen.Next(); next != first {
		t.Fatalf("expected %s after reset, got %s", first, next)
	}
}
