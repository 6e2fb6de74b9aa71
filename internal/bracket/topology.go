package bracket

import (
	"fmt"
	"math"
)

// Layout picks the base count the round recurrence starts from.
type Layout string

const (
	// Recurrence runs on the capacity itself, odd rounds leave one feeder-less slot
	LayoutCompact Layout = "compact"
	// Capacity is padded up to the next power of two first, the classic padded bracket
	LayoutPowerOfTwo Layout = "power_of_two"
)

// Position addresses one slot of one match in the bracket.
type Position struct {
	Round     int
	SlotIndex int
	Slot      int
}

// Topology is the pure shape of a bracket. It is never stored, the match rows
// in the store are only a realisation of it.
type Topology struct {
	Capacity int
	Layout   Layout
	counts   []int
}

// Gets the nearest power of 2 while rounding up, so with input 5 it returns 8 and so on
func calcBracketSize(count int) int {
	if count <= 0 {
		return 0
	}

	// Log2 -> Ceil -> 2^^log2 to round up
	log2 := math.Ceil(math.Log2(float64(count)))
	return int(math.Pow(2, log2))
}

func NewTopology(capacity int, layout Layout) (Topology, error) {
	if capacity <= 0 {
		return Topology{}, &MatchError{Kind: ErrInvalidCapacity, Detail: fmt.Sprintf("capacity %d must be positive", capacity)}
	}
	if layout == "" {
		layout = LayoutCompact
	}

	base := capacity
	switch layout {
	case LayoutCompact:
	case LayoutPowerOfTwo:
		base = calcBracketSize(capacity)
	default:
		return Topology{}, &MatchError{Kind: ErrInvalidCapacity, Detail: fmt.Sprintf("unknown layout %q", layout)}
	}

	// matches(0) = base, matches(r) = ceil(matches(r-1) / 2), stop at the final
	var counts []int
	for m := base; m > 1; {
		m = (m + 1) / 2
		counts = append(counts, m)
	}

	return Topology{Capacity: capacity, Layout: layout, counts: counts}, nil
}

func (t Topology) Rounds() int {
	return len(t.counts)
}

func (t Topology) MatchCount(round int) int {
	if round < 1 || round > len(t.counts) {
		return 0
	}
	return t.counts[round-1]
}

func (t Topology) TotalMatches() int {
	total := 0
	for _, c := range t.counts {
		total += c
	}
	return total
}

// SlotCount is the length of the round 1 slot sequence the seeder fills.
func (t Topology) SlotCount() int {
	return 2 * t.MatchCount(1)
}

func (t Topology) Contains(round, slotIndex int) bool {
	return slotIndex >= 0 && slotIndex < t.MatchCount(round)
}

func (t Topology) IsFinal(round int) bool {
	return round >= 1 && round == len(t.counts)
}

// Feeder returns the slot index in round-1 whose winner fills the given side
// of (round, slotIndex). Round 1 and the missing odd feeder report false.
func (t Topology) Feeder(round, slotIndex, position int) (int, bool) {
	if round <= 1 || !t.Contains(round, slotIndex) || (position != 1 && position != 2) {
		return 0, false
	}
	idx := 2*slotIndex + position - 1
	if idx >= t.MatchCount(round-1) {
		return 0, false
	}
	return idx, true
}

// Downstream is the slot the winner of (round, slotIndex) advances into.
func (t Topology) Downstream(round, slotIndex int) (Position, bool) {
	if !t.Contains(round, slotIndex) || t.IsFinal(round) {
		return Position{}, false
	}
	return Position{Round: round + 1, SlotIndex: slotIndex / 2, Slot: slotIndex%2 + 1}, true
}

func (t Topology) String() string {
	return fmt.Sprintf("capacity=%d layout=%s rounds=%d matches=%v", t.Capacity, t.Layout, t.Rounds(), t.counts)
}
