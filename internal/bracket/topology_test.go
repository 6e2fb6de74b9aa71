package bracket

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCalcBracketSize(t *testing.T) {
	testCases := []struct {
		count    int
		expected int
	}{
		{0, 0}, {1, 1}, {2, 2}, {3, 4}, {5, 8}, {8, 8}, {9, 16},
	}

	for _, tc := range testCases {
		assert.Equal(t, tc.expected, calcBracketSize(tc.count), "count %d", tc.count)
	}
}

func TestNewTopology_RejectsNonPositiveCapacity(t *testing.T) {
	for _, capacity := range []int{0, -1, -16} {
		_, err := NewTopology(capacity, LayoutCompact)
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrInvalidCapacity))
	}
}

func TestNewTopology_RoundCountAndFinal(t *testing.T) {
	for _, layout := range []Layout{LayoutCompact, LayoutPowerOfTwo} {
		for n := 2; n <= 70; n++ {
			topo, err := NewTopology(n, layout)
			require.NoError(t, err)

			expectedRounds := int(math.Ceil(math.Log2(float64(n))))
			assert.Equal(t, expectedRounds, topo.Rounds(), "layout %s capacity %d", layout, n)
			assert.Equal(t, 1, topo.MatchCount(topo.Rounds()), "final round must have one match (capacity %d)", n)

			for r := 2; r <= topo.Rounds(); r++ {
				prev := topo.MatchCount(r - 1)
				assert.Equal(t, (prev+1)/2, topo.MatchCount(r), "layout %s capacity %d round %d", layout, n, r)
			}
		}
	}
}

func TestNewTopology_Counts(t *testing.T) {
	testCases := []struct {
		name     string
		capacity int
		layout   Layout
		expected []int
	}{
		{name: "single participant", capacity: 1, layout: LayoutCompact, expected: nil},
		{name: "pair", capacity: 2, layout: LayoutCompact, expected: []int{1}},
		{name: "compact 5", capacity: 5, layout: LayoutCompact, expected: []int{3, 2, 1}},
		{name: "padded 5", capacity: 5, layout: LayoutPowerOfTwo, expected: []int{4, 2, 1}},
		{name: "compact 12", capacity: 12, layout: LayoutCompact, expected: []int{6, 3, 2, 1}},
		{name: "default layout", capacity: 7, layout: "", expected: []int{4, 2, 1}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			topo, err := NewTopology(tc.capacity, tc.layout)
			require.NoError(t, err)

			var counts []int
			for r := 1; r <= topo.Rounds(); r++ {
				counts = append(counts, topo.MatchCount(r))
			}
			assert.Equal(t, tc.expected, counts)
		})
	}
}

func TestTopology_FeedersAndDownstreamAgree(t *testing.T) {
	topo, err := NewTopology(11, LayoutCompact)
	require.NoError(t, err)

	for r := 1; r < topo.Rounds(); r++ {
		for j := 0; j < topo.MatchCount(r); j++ {
			pos, ok := topo.Downstream(r, j)
			require.True(t, ok)
			require.True(t, topo.Contains(pos.Round, pos.SlotIndex))

			feeder, ok := topo.Feeder(pos.Round, pos.SlotIndex, pos.Slot)
			require.True(t, ok)
			assert.Equal(t, j, feeder)
		}
	}

	_, ok := topo.Downstream(topo.Rounds(), 0)
	assert.False(t, ok, "the final has no downstream match")
}

func TestTopology_OddRoundLeavesFeederlessSlot(t *testing.T) {
	// 5 -> 3 -> 2 -> 1, round 2 match 1 only has a first feeder
	topo, err := NewTopology(5, LayoutCompact)
	require.NoError(t, err)

	idx, ok := topo.Feeder(2, 1, 1)
	require.True(t, ok)
	assert.Equal(t, 2, idx)

	_, ok = topo.Feeder(2, 1, 2)
	assert.False(t, ok)

	_, ok = topo.Feeder(1, 0, 1)
	assert.False(t, ok, "round 1 is seeded, not fed")
}
