package poller

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRunsImmediately(t *testing.T) {
	ran := make(chan struct{}, 1)
	h := New().Start(context.Background(), Task{
		Name:     "dashboard",
		Schedule: Every(time.Hour),
		Run: func(ctx context.Context) error {
			select {
			case ran <- struct{}{}:
			default:
			}
			return nil
		},
	})
	defer h.Stop()
	select {
	case <-ran:
	case <-time.After(2 * time.Second):
		t.Fatalf("first run did not happen right away")
	}
}

func TestNeverOverlaps(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	var active, maxActive, runs int32
	h := New(WithMetrics(m)).Start(context.Background(), Task{
		Name:     "slow",
		Schedule: Every(5 * time.Millisecond),
		Run: func(ctx context.Context) error {
			n := atomic.AddInt32(&active, 1)
			for {
				old := atomic.LoadInt32(&maxActive)
				if n <= old || atomic.CompareAndSwapInt32(&maxActive, old, n) {
					break
				}
			}
			time.Sleep(40 * time.Millisecond)
			atomic.AddInt32(&active, -1)
			atomic.AddInt32(&runs, 1)
			return nil
		},
	})
	time.Sleep(300 * time.Millisecond)
	h.Stop()

	if got := atomic.LoadInt32(&maxActive); got != 1 {
		t.Fatalf("runs overlapped: %d at once", got)
	}
	if atomic.LoadInt32(&runs) < 2 {
		t.Fatalf("expected repeated runs, got %d", runs)
	}
	if skipped := testutil.ToFloat64(m.skipped.WithLabelValues("slow")); skipped == 0 {
		t.Fatalf("expected skipped ticks to be counted")
	}
}

func TestStopCancelsAndDropsResult(t *testing.T) {
	started := make(chan struct{})
	var results int32
	h := New().Start(context.Background(), Task{
		Name:     "blocked",
		Schedule: Every(time.Hour),
		Run: func(ctx context.Context) error {
			close(started)
			<-ctx.Done()
			return ctx.Err()
		},
		OnResult: func(error) { atomic.AddInt32(&results, 1) },
	})
	<-started
	stopped := make(chan struct{})
	go func() {
		h.Stop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatalf("stop did not return")
	}
	if atomic.LoadInt32(&results) != 0 {
		t.Fatalf("result of a cancelled run was delivered")
	}
	h.Stop()
}

func TestParentCancelStops(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var runs int32
	h := New().Start(ctx, Task{
		Name:     "bound",
		Schedule: Every(10 * time.Millisecond),
		Run: func(context.Context) error {
			atomic.AddInt32(&runs, 1)
			return nil
		},
	})
	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case <-h.Done():
	case <-time.After(2 * time.Second):
		t.Fatalf("task outlived its context")
	}
	after := atomic.LoadInt32(&runs)
	time.Sleep(50 * time.Millisecond)
	if atomic.LoadInt32(&runs) != after {
		t.Fatalf("task kept running after cancel")
	}
}

func TestResultsDelivered(t *testing.T) {
	boom := errors.New("boom")
	var mu sync.Mutex
	var got []error
	done := make(chan struct{})
	calls := 0
	h := New().Start(context.Background(), Task{
		Name:     "flaky",
		Schedule: Every(10 * time.Millisecond),
		Run: func(context.Context) error {
			calls++
			if calls == 1 {
				return boom
			}
			return nil
		},
		OnResult: func(err error) {
			mu.Lock()
			defer mu.Unlock()
			got = append(got, err)
			if len(got) == 2 {
				close(done)
			}
		},
	})
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("results not delivered")
	}
	h.Stop()
	mu.Lock()
	defer mu.Unlock()
	if !errors.Is(got[0], boom) || got[1] != nil {
		t.Fatalf("results %v", got)
	}
}

func TestPanicBecomesError(t *testing.T) {
	errc := make(chan error, 1)
	h := New().Start(context.Background(), Task{
		Name:     "panicky",
		Schedule: Every(time.Hour),
		Run:      func(context.Context) error { panic("bad payload") },
		OnResult: func(err error) { errc <- err },
	})
	defer h.Stop()
	select {
	case err := <-errc:
		if err == nil {
			t.Fatalf("expected error from panic")
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("no result")
	}
}

func TestParseSchedule(t *testing.T) {
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	s, err := ParseSchedule("@every 5s")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if next := s.Next(base); !next.Equal(base.Add(5 * time.Second)) {
		t.Fatalf("next %v", next)
	}
	s, err = ParseSchedule("*/10 * * * * *")
	if err != nil {
		t.Fatalf("parse seconds: %v", err)
	}
	if next := s.Next(base); !next.Equal(base.Add(10 * time.Second)) {
		t.Fatalf("next %v", next)
	}
	if _, err := ParseSchedule("0 */2 * * *"); err != nil {
		t.Fatalf("five-field schedule rejected: %v", err)
	}
	if _, err := ParseSchedule("every now and then"); err == nil {
		t.Fatalf("garbage accepted")
	}
	if got := Every(0).Next(base); !got.Equal(base.Add(DefaultInterval)) {
		t.Fatalf("default interval %v", got)
	}
}
