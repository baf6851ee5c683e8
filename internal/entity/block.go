package entity

import (
	"slices"
	"time"
)

// Block is one materialised occurrence of an appointment. Blocks are derived
// values for range and overlap queries and are never stored.
type Block struct {
	Start       time.Time
	End         time.Time
	Appointment *Appointment
	Exception   bool
}

// Overlaps reports whether the two blocks share any instant.
func (b Block) Overlaps(other Block) bool {
	return b.Start.Before(other.End) && other.Start.Before(b.End)
}

// CompareBlocks orders by start ascending, end descending, then appointment.
func CompareBlocks(a, b Block) int {
	if c := a.Start.Compare(b.Start); c != 0 {
		return c
	}
	if c := b.End.Compare(a.End); c != 0 {
		return c
	}
	switch {
	case a.Appointment == b.Appointment:
		return 0
	case a.Appointment == nil:
		return -1
	case b.Appointment == nil:
		return 1
	default:
		return a.Appointment.Compare(b.Appointment)
	}
}

// SortBlocks sorts blocks in place with CompareBlocks.
func SortBlocks(blocks []Block) {
	slices.SortStableFunc(blocks, CompareBlocks)
}

// BlocksOf materialises and sorts the blocks of all appointments in [start, end).
func BlocksOf(appointments []*Appointment, start, end time.Time) []Block {
	var blocks []Block
	for _, a := range appointments {
		blocks = append(blocks, a.Blocks(start, end)...)
	}
	SortBlocks(blocks)
	return blocks
}
