package availability

import (
	"sort"
	"time"

	"github.com/google/uuid"
)

// Interval is a half-open date range [Checkin, Checkout).
type Interval struct {
	Checkin  time.Time
	Checkout time.Time
}

func (i Interval) Valid() bool {
	return i.Checkin.Before(i.Checkout)
}

// Overlaps reports whether two half-open intervals intersect. Touching
// boundaries (one ends the day the other starts) do not overlap.
func (i Interval) Overlaps(o Interval) bool {
	return i.Checkin.Before(o.Checkout) && i.Checkout.After(o.Checkin)
}

type entry struct {
	id uuid.UUID
	Interval
}

// Index holds the active intervals of every accommodation, sorted by checkin.
// Active intervals of one accommodation are disjoint, so sorting by checkin
// also sorts by checkout and a single binary search answers Overlaps.
//
// Index is not safe for concurrent use; the owning ledger serializes access.
type Index struct {
	byAccommodation map[int64][]entry
}

func NewIndex() *Index {
	return &Index{byAccommodation: make(map[int64][]entry)}
}

// Overlaps reports whether any indexed interval of accommodationID intersects q.
func (x *Index) Overlaps(accommodationID int64, q Interval) bool {
	entries := x.byAccommodation[accommodationID]
	// first interval that ends after the query starts
	i := sort.Search(len(entries), func(i int) bool {
		return entries[i].Checkout.After(q.Checkin)
	})
	return i < len(entries) && entries[i].Checkin.Before(q.Checkout)
}

// Add indexes an active interval. Re-adding an id replaces its interval.
func (x *Index) Add(accommodationID int64, id uuid.UUID, iv Interval) {
	x.Remove(accommodationID, id)
	entries := x.byAccommodation[accommodationID]
	i := sort.Search(len(entries), func(i int) bool {
		return !entries[i].Checkin.Before(iv.Checkin)
	})
	entries = append(entries, entry{})
	copy(entries[i+1:], entries[i:])
	entries[i] = entry{id: id, Interval: iv}
	x.byAccommodation[accommodationID] = entries
}

// Remove releases the interval held by id, if any.
func (x *Index) Remove(accommodationID int64, id uuid.UUID) {
	entries := x.byAccommodation[accommodationID]
	for i := range entries {
		if entries[i].id == id {
			entries = append(entries[:i], entries[i+1:]...)
			break
		}
	}
	if len(entries) == 0 {
		delete(x.byAccommodation, accommodationID)
		return
	}
	x.byAccommodation[accommodationID] = entries
}

// Intervals returns a copy of the active intervals of accommodationID in
// checkin order.
func (x *Index) Intervals(accommodationID int64) []Interval {
	entries := x.byAccommodation[accommodationID]
	out := make([]Interval, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Interval)
	}
	return out
}
