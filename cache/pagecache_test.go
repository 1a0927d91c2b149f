package cache

import (
	"testing"
	"time"

	"github.com/tinyrange/memflow-go/memtype"
)

// fakeClock lets tests advance wall-clock time deterministically instead of
// sleeping.
type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func TestPageCacheMissThenHit(t *testing.T) {
	clk := &fakeClock{t: time.Unix(0, 0)}
	pc := NewPageCache(4, 4*memtype.KB, 100*time.Millisecond, memtype.PageReadable, clk.now)

	addr := memtype.Address(0x1000)
	e := pc.Lookup(addr)
	if e.Valid {
		t.Fatal("expected miss on empty cache")
	}
	for i := range e.Buf {
		e.Buf[i] = 0xAB
	}
	pc.Validate(addr, memtype.PageReadable)

	e2 := pc.Lookup(addr)
	if !e2.Valid {
		t.Fatal("expected hit after validate")
	}
	if e2.Buf[0] != 0xAB {
		t.Errorf("cached byte = %x; want 0xab", e2.Buf[0])
	}
}

// TestPageCacheExpiryS5 exercises spec scenario S5: cache_time = 100ms, read
// a page, wait 150ms, and confirm the same read reports a miss again.
func TestPageCacheExpiryS5(t *testing.T) {
	clk := &fakeClock{t: time.Unix(0, 0)}
	pc := NewPageCache(4, 4*memtype.KB, 100*time.Millisecond, memtype.PageReadable, clk.now)

	addr := memtype.Address(0x2000)
	e := pc.Lookup(addr)
	pc.Validate(addr, memtype.PageReadable)
	_ = e

	clk.advance(150 * time.Millisecond)

	e2 := pc.Lookup(addr)
	if e2.Valid {
		t.Error("expected miss after cache_time elapsed")
	}
}

// TestPageCacheDirectMapCollisionS6 exercises spec scenario S6: two physical
// pages that hash to the same slot correctly evict one another and never
// return a wrong page's contents, though the hit rate for that pair is 0.
func TestPageCacheDirectMapCollisionS6(t *testing.T) {
	clk := &fakeClock{t: time.Unix(0, 0)}
	capacity := 4
	pc := NewPageCache(capacity, 4*memtype.KB, time.Hour, memtype.PageReadable, clk.now)

	a := memtype.Address(0x1000)
	b := a + memtype.Address(uint64(capacity)*uint64(4*memtype.KB)) // same slot as a

	ea := pc.Lookup(a)
	ea.Buf[0] = 1
	pc.Validate(a, memtype.PageReadable)

	eb := pc.Lookup(b)
	if eb.Valid {
		t.Fatal("b should not already be valid")
	}
	eb.Buf[0] = 2
	pc.Validate(b, memtype.PageReadable)

	// a's slot has now been evicted by b.
	ea2 := pc.Lookup(a)
	if ea2.Valid {
		t.Error("expected a to be evicted by colliding slot-mate b")
	}
	eb2 := pc.Lookup(b)
	if !eb2.Valid || eb2.Buf[0] != 2 {
		t.Error("b should remain valid with its own contents")
	}
}

func TestPageCacheUncacheableTypeNeverStored(t *testing.T) {
	clk := &fakeClock{t: time.Unix(0, 0)}
	pc := NewPageCache(4, 4*memtype.KB, time.Hour, memtype.PageReadable, clk.now)

	addr := memtype.Address(0x3000)
	e := pc.Lookup(addr)
	e.Buf[0] = 9
	pc.Validate(addr, memtype.PageWritable) // not in the cacheable mask

	e2 := pc.Lookup(addr)
	if e2.Valid {
		t.Error("uncacheable page type must never be validated into the cache")
	}
}

func TestPageCacheInvalidate(t *testing.T) {
	clk := &fakeClock{t: time.Unix(0, 0)}
	pc := NewPageCache(4, 4*memtype.KB, time.Hour, memtype.PageReadable, clk.now)

	addr := memtype.Address(0x4000)
	e := pc.Lookup(addr)
	e.Buf[0] = 1
	pc.Validate(addr, memtype.PageReadable)

	pc.Invalidate(addr, memtype.PageReadable)

	e2 := pc.Lookup(addr)
	if e2.Valid {
		t.Error("expected miss after invalidate")
	}
}
