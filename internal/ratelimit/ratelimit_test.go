package ratelimit

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func testLimits() Limits {
	return Limits{
		NormalLimit:     3,
		NormalWindow:    time.Minute,
		RapidThreshold:  5,
		RapidWindow:     10 * time.Second,
		BulkLimit:       10,
		BulkWindow:      time.Minute,
		MaxBulkDuration: 5 * time.Minute,
		RetryFloor:      time.Second,
		BulkRetryFloor:  30 * time.Second,
	}
}

func newTestClassifier(start time.Time) (*Classifier, *time.Time) {
	now := start
	c := NewClassifier(NewMemoryState(), testLimits())
	c.now = func() time.Time { return now }
	return c, &now
}

func TestAdmit_DeniesOverNormalLimit(t *testing.T) {
	c, now := newTestClassifier(time.Unix(1700000000, 0))

	for i := 0; i < 3; i++ {
		d := c.Admit("client-1")
		if !d.Allowed {
			t.Fatalf("request %d denied, want allowed", i)
		}
		*now = now.Add(15 * time.Second)
	}

	d := c.Admit("client-1")
	if d.Allowed {
		t.Fatalf("request over limit allowed, want denied")
	}
	if d.BulkMode {
		t.Fatalf("bulk mode active, want normal profile")
	}
	if d.RetryAfter <= 0 {
		t.Fatalf("RetryAfter = %v, want positive hint", d.RetryAfter)
	}
	if d.Reason == "" {
		t.Fatalf("denial must carry a reason")
	}
}

func TestAdmit_BurstActivatesBulkMode(t *testing.T) {
	c, now := newTestClassifier(time.Unix(1700000000, 0))

	// Пять проверок за одну секунду достигают порога детектора.
	var d Decision
	for i := 0; i < 5; i++ {
		d = c.Admit("bulk-client")
		*now = now.Add(200 * time.Millisecond)
	}
	if !d.BulkMode {
		t.Fatalf("bulk mode not active after rapid burst")
	}

	// Пакетный профиль пропускает больше обычного лимита.
	for i := 0; i < 5; i++ {
		d = c.Admit("bulk-client")
		*now = now.Add(time.Second)
		if !d.Allowed {
			t.Fatalf("request %d denied in bulk mode, want allowed", i)
		}
		if !d.BulkMode {
			t.Fatalf("decision lost bulk mode")
		}
	}
}

func TestAdmit_BulkModeExpires(t *testing.T) {
	c, now := newTestClassifier(time.Unix(1700000000, 0))

	for i := 0; i < 5; i++ {
		c.Admit("client")
	}
	if d := c.Admit("client"); !d.BulkMode {
		t.Fatalf("bulk mode not active after burst")
	}

	*now = now.Add(6 * time.Minute)

	d := c.Admit("client")
	if d.BulkMode {
		t.Fatalf("bulk mode still active after max duration")
	}
	if !d.Allowed {
		t.Fatalf("request denied after windows expired, want allowed")
	}
}

func TestAdmit_BulkDenialSuggestsLongerRetry(t *testing.T) {
	c, _ := newTestClassifier(time.Unix(1700000000, 0))

	var d Decision
	for i := 0; i < 15; i++ {
		d = c.Admit("heavy")
	}
	if d.Allowed {
		t.Fatalf("request over bulk limit allowed, want denied")
	}
	if !d.BulkMode {
		t.Fatalf("denial not in bulk mode")
	}
	if d.RetryAfter < 30*time.Second {
		t.Fatalf("RetryAfter = %v, want at least bulk floor 30s", d.RetryAfter)
	}
}

func TestAdmit_EmptyIdentitySharesBucket(t *testing.T) {
	c, _ := newTestClassifier(time.Unix(1700000000, 0))

	for i := 0; i < 3; i++ {
		if d := c.Admit(""); !d.Allowed {
			t.Fatalf("anonymous request %d denied, want allowed", i)
		}
	}

	if d := c.Admit(""); d.Allowed {
		t.Fatalf("anonymous requests over limit allowed, want shared bucket denial")
	}

	// Именованный клиент не затронут общей корзиной.
	if d := c.Admit("named"); !d.Allowed {
		t.Fatalf("named client denied, want independent window")
	}
}

func TestAdmit_ConcurrentSameIdentity(t *testing.T) {
	limits := DefaultLimits()
	c := NewClassifier(NewMemoryState(), limits)

	var (
		wg      sync.WaitGroup
		allowed atomic.Int64
	)
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 500; i++ {
				if c.Admit("same-client").Allowed {
					allowed.Add(1)
				}
			}
		}()
	}
	wg.Wait()

	// Серия запросов мгновенная: детектор переключает клиента в пакетный
	// режим, и суммарный допуск равен пакетному лимиту независимо от того,
	// как горутины чередовались.
	if got := allowed.Load(); got != int64(limits.BulkLimit) {
		t.Fatalf("allowed = %d, want exactly bulk limit %d", got, limits.BulkLimit)
	}
}

func TestMemoryState_Prune(t *testing.T) {
	s := NewMemoryState()
	old := time.Unix(1700000000, 0)

	s.Update("stale", func(w *Window) { w.Stamps = []time.Time{old} })
	s.Update("fresh", func(w *Window) { w.Stamps = []time.Time{old.Add(time.Hour)} })

	s.Prune(old.Add(30 * time.Minute))

	var staleStamps, freshStamps int
	s.Update("stale", func(w *Window) { staleStamps = len(w.Stamps) })
	s.Update("fresh", func(w *Window) { freshStamps = len(w.Stamps) })

	if staleStamps != 0 {
		t.Fatalf("stale window survived prune: %d stamps", staleStamps)
	}
	if freshStamps != 1 {
		t.Fatalf("fresh window lost by prune: %d stamps", freshStamps)
	}
}
