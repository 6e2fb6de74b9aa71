package bracket

import (
	"fmt"
	"sort"
)

// Rank orders participants strongest first: ascending rating, ties by
// registration order. Registered placeholders always rank below every real
// participant. The sort is stable so equal keys keep input order.
func Rank(participants []Participant) []Participant {
	ranked := make([]Participant, len(participants))
	copy(ranked, participants)

	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].IsPlaceholder != ranked[j].IsPlaceholder {
			return !ranked[i].IsPlaceholder
		}
		if ranked[i].Rating != ranked[j].Rating {
			return ranked[i].Rating < ranked[j].Rating
		}
		return ranked[i].RegistrationOrder < ranked[j].RegistrationOrder
	})
	return ranked
}

// Seed lays participants out as the round 1 slot sequence. Position i of the
// result belongs to round 1 match i/2, slot i%2+1. Missing registrations are
// padded with placeholders, which take the weakest ranks.
func Seed(participants []Participant, topo Topology) ([]Occupant, error) {
	if len(participants) > topo.Capacity {
		return nil, &MatchError{
			Kind:   ErrInvalidCapacity,
			Detail: fmt.Sprintf("%d participants registered for capacity %d", len(participants), topo.Capacity),
		}
	}

	slots := topo.SlotCount()
	if slots == 0 {
		return []Occupant{}, nil
	}

	ranked := Rank(participants)
	ranks := make([]Occupant, slots)
	for k := range ranks {
		if k < len(ranked) {
			ranks[k] = ranked[k].Occupant()
		} else {
			ranks[k] = PlaceholderOccupant()
		}
	}

	sequence := make([]Occupant, 0, slots)
	for _, k := range seedOrder(slots / 2) {
		sequence = append(sequence, ranks[k], ranks[slots-1-k])
	}
	return sequence, nil
}

// seedOrder is the order the top n ranks take across n first round matches so
// that, on a power of two, the top two can only meet in the final.
// 2 -> [0 1], 4 -> [0 3 1 2], 8 -> [0 7 3 4 1 6 2 5]
func seedOrder(n int) []int {
	if n <= 0 {
		return []int{}
	}

	size := calcBracketSize(n)
	order := []int{0}
	for len(order) < size {
		var next []int
		currentCount := len(order) * 2

		for _, seed := range order {
			next = append(next, seed)
			next = append(next, (currentCount-1)-seed)
		}
		order = next
	}

	filtered := make([]int, 0, n)
	for _, seed := range order {
		if seed < n {
			filtered = append(filtered, seed)
		}
	}
	return filtered
}
