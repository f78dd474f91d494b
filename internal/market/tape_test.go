package market

import (
	"fmt"
	"testing"

	"tradedesk/internal/domain"
)

func TestTape_StrictlyIncreasingTimestamps(t *testing.T) {
	tp := newTape(50)

	tp.append(domain.TapeEntry{TsUnixMs: 100, Mid: 1})
	tp.append(domain.TapeEntry{TsUnixMs: 90, Mid: 2})  // out of order
	tp.append(domain.TapeEntry{TsUnixMs: 101, Mid: 3}) // collides with forced ts

	got := tp.snapshot()
	if len(got) != 3 {
		t.Fatalf("len = %d, want 3", len(got))
	}
	for i := 1; i < len(got); i++ {
		if got[i].TsUnixMs <= got[i-1].TsUnixMs {
			t.Fatalf("timestamps not strictly increasing: %v", got)
		}
	}
	if got[1].TsUnixMs != 101 {
		t.Errorf("out-of-order sample should be forced to last+1, got %d", got[1].TsUnixMs)
	}
}

func TestTape_ValueDedup(t *testing.T) {
	tp := newTape(50)

	if !tp.append(domain.TapeEntry{TsUnixMs: 100, Mid: 1.5, SpreadBps: 10}) {
		t.Fatal("first sample should append")
	}
	if tp.append(domain.TapeEntry{TsUnixMs: 200, Mid: 1.5, SpreadBps: 10}) {
		t.Error("same-value sample must be dropped even at a later time")
	}
	if !tp.append(domain.TapeEntry{TsUnixMs: 300, Mid: 1.5, SpreadBps: 11}) {
		t.Error("spread change is a value change")
	}
	if len(tp.snapshot()) != 2 {
		t.Errorf("len = %d, want 2", len(tp.snapshot()))
	}
}

func TestTape_FIFOEviction(t *testing.T) {
	tp := newTape(5)

	for i := 1; i <= 8; i++ {
		tp.append(domain.TapeEntry{TsUnixMs: int64(i * 100), Mid: float64(i)})
	}

	got := tp.snapshot()
	if len(got) != 5 {
		t.Fatalf("len = %d, want cap 5", len(got))
	}
	if got[0].Mid != 4 || got[4].Mid != 8 {
		t.Errorf("oldest entries not evicted first: %v", got)
	}
}

func TestTape_CapThroughStore(t *testing.T) {
	s := NewStore(10, 3)
	s.nowMs = func() int64 { return 0 }

	for i := 1; i <= 6; i++ {
		s.ApplyUpdate(domain.Quote{
			Symbol:        "X",
			Mid:           float64(i),
			UpdatedUnixMs: int64(i * 1000),
		})
	}

	got := s.Tape("X")
	if len(got) != 3 {
		t.Fatalf("len = %d, want 3", len(got))
	}
	if got[len(got)-1].Mid != 6 {
		t.Errorf("newest sample missing: %v", got)
	}
}

func TestTape_QtyOnlyStateNotSampled(t *testing.T) {
	s := NewStore(10, 50)
	s.nowMs = func() int64 { return 1 }

	// Quantity arrives before any price: store accepts it but an entry with
	// no mid would pollute the series.
	s.ApplyUpdate(domain.Quote{Symbol: "X", BidQty: 5})
	if got := s.Tape("X"); len(got) != 0 {
		t.Fatalf("priceless merge must not be sampled: %v", got)
	}

	s.ApplyUpdate(domain.Quote{Symbol: "X", Mid: 2})
	if got := s.Tape("X"); len(got) != 1 {
		t.Fatalf("len = %d, want 1", len(got))
	}
}

func TestTape_ChronologicalThroughStore(t *testing.T) {
	s := NewStore(10, 50)
	s.ApplyUpdate(domain.Quote{Symbol: "BTCUSDT", Bid: 100, Ask: 100.5, Mid: 100.25, UpdatedUnixMs: 1})
	s.ApplyUpdate(domain.Quote{Symbol: "BTCUSDT", Mid: 100.30, UpdatedUnixMs: 2})

	got := s.Tape("BTCUSDT")
	want := []struct {
		ts  int64
		mid float64
	}{{1, 100.25}, {2, 100.30}}

	if len(got) != len(want) {
		t.Fatalf("len = %d, want %d", len(got), len(want))
	}
	for i, w := range want {
		if got[i].TsUnixMs != w.ts || got[i].Mid != w.mid {
			t.Errorf("entry %d = %s, want {%d %v}", i, fmt.Sprintf("%+v", got[i]), w.ts, w.mid)
		}
	}
}
