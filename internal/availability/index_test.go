package availability

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func day(s string) time.Time {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return t
}

func iv(from, to string) Interval {
	return Interval{Checkin: day(from), Checkout: day(to)}
}

func TestInterval_Overlaps(t *testing.T) {
	base := iv("2025-10-15", "2025-10-20")

	cases := []struct {
		name string
		q    Interval
		want bool
	}{
		{"inside", iv("2025-10-16", "2025-10-18"), true},
		{"straddles end", iv("2025-10-18", "2025-10-22"), true},
		{"straddles start", iv("2025-10-10", "2025-10-16"), true},
		{"covers", iv("2025-10-01", "2025-10-30"), true},
		{"touches end", iv("2025-10-20", "2025-10-25"), false},
		{"touches start", iv("2025-10-10", "2025-10-15"), false},
		{"disjoint", iv("2025-11-01", "2025-11-05"), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, base.Overlaps(tc.q))
			assert.Equal(t, tc.want, tc.q.Overlaps(base))
		})
	}
}

func TestIndex_OverlapsAcrossSortedEntries(t *testing.T) {
	x := NewIndex()
	x.Add(1, uuid.New(), iv("2025-10-20", "2025-10-25"))
	x.Add(1, uuid.New(), iv("2025-10-01", "2025-10-05"))
	x.Add(1, uuid.New(), iv("2025-10-10", "2025-10-15"))

	require.Len(t, x.Intervals(1), 3)
	assert.Equal(t, day("2025-10-01"), x.Intervals(1)[0].Checkin)
	assert.Equal(t, day("2025-10-20"), x.Intervals(1)[2].Checkin)

	assert.True(t, x.Overlaps(1, iv("2025-10-04", "2025-10-06")))
	assert.True(t, x.Overlaps(1, iv("2025-10-14", "2025-10-21")))
	assert.False(t, x.Overlaps(1, iv("2025-10-05", "2025-10-10")))
	assert.False(t, x.Overlaps(1, iv("2025-10-15", "2025-10-20")))
	assert.False(t, x.Overlaps(1, iv("2025-10-25", "2025-10-30")))
	assert.False(t, x.Overlaps(2, iv("2025-10-01", "2025-10-30")))
}

func TestIndex_RemoveReleasesInterval(t *testing.T) {
	x := NewIndex()
	id := uuid.New()
	x.Add(7, id, iv("2025-10-15", "2025-10-20"))
	require.True(t, x.Overlaps(7, iv("2025-10-18", "2025-10-22")))

	x.Remove(7, id)
	assert.False(t, x.Overlaps(7, iv("2025-10-18", "2025-10-22")))
	assert.Empty(t, x.Intervals(7))

	// removing twice is harmless
	x.Remove(7, id)
}

func TestIndex_AddReplacesSameID(t *testing.T) {
	x := NewIndex()
	id := uuid.New()
	x.Add(3, id, iv("2025-10-01", "2025-10-03"))
	x.Add(3, id, iv("2025-10-10", "2025-10-12"))

	assert.Len(t, x.Intervals(3), 1)
	assert.False(t, x.Overlaps(3, iv("2025-10-01", "2025-10-03")))
	assert.True(t, x.Overlaps(3, iv("2025-10-11", "2025-10-12")))
}
