package market

import "tradedesk/internal/domain"

// tape is the bounded per-symbol series of (time, mid, spread) samples.
// Invariants: timestamps strictly increasing, length <= cap, FIFO eviction.
type tape struct {
	entries []domain.TapeEntry
	cap     int
}

func newTape(cap int) *tape {
	if cap <= 0 {
		cap = domain.TapeCap
	}
	return &tape{cap: cap}
}

// append records a sample. Wall-clock jitter or replay must never produce a
// non-increasing series, so a timestamp at or before the last entry is forced
// to last+1. Samples equal in value to the last entry are dropped regardless
// of time. Returns whether an entry was added.
func (t *tape) append(entry domain.TapeEntry) bool {
	if n := len(t.entries); n > 0 {
		last := t.entries[n-1]
		if entry.SameValue(last) {
			return false
		}
		if entry.TsUnixMs <= last.TsUnixMs {
			entry.TsUnixMs = last.TsUnixMs + 1
		}
	}

	t.entries = append(t.entries, entry)
	if len(t.entries) > t.cap {
		t.entries = t.entries[len(t.entries)-t.cap:]
	}
	return true
}

// snapshot returns a copy safe for external readers.
func (t *tape) snapshot() []domain.TapeEntry {
	out := make([]domain.TapeEntry, len(t.entries))
	copy(out, t.entries)
	return out
}
