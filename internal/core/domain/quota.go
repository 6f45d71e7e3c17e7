package domain

import "sort"

// QuotaEntry pairs a worker port with the number of additional sessions it
// may accept before the next status poll rebuilds the table.
type QuotaEntry struct {
	Port  int
	Quota int
}

// QuotaTable holds quota entries in ascending order of Quota. PopTail removes
// and returns the entry with the largest quota (the tail, per the spec's
// decrement-and-pop-from-tail selection rule), decrementing it before
// returning it if it still has quota remaining for future picks.
type QuotaTable struct {
	entries []QuotaEntry
}

// NewQuotaTable builds a table from the given entries, sorted ascending by
// Quota. Entries with Quota <= 0 are dropped; they never compete for
// selection.
func NewQuotaTable(entries []QuotaEntry) *QuotaTable {
	kept := make([]QuotaEntry, 0, len(entries))
	for _, e := range entries {
		if e.Quota > 0 {
			kept = append(kept, e)
		}
	}
	sort.Slice(kept, func(i, j int) bool { return kept[i].Quota < kept[j].Quota })
	return &QuotaTable{entries: kept}
}

// Len reports the number of worker entries still holding quota.
func (t *QuotaTable) Len() int {
	return len(t.entries)
}

// PopTail removes the tail entry (largest quota), decrements it, and
// re-inserts it in sorted order if quota remains. It returns the worker port
// selected and true, or (0, false) if the table is empty.
func (t *QuotaTable) PopTail() (int, bool) {
	n := len(t.entries)
	if n == 0 {
		return 0, false
	}
	tail := t.entries[n-1]
	t.entries = t.entries[:n-1]

	port := tail.Port
	tail.Quota--
	if tail.Quota > 0 {
		idx := sort.Search(len(t.entries), func(i int) bool { return t.entries[i].Quota >= tail.Quota })
		t.entries = append(t.entries, QuotaEntry{})
		copy(t.entries[idx+1:], t.entries[idx:])
		t.entries[idx] = tail
	}
	return port, true
}
