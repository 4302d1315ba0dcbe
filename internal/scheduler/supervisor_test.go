package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/Mozart409/uptime-forge/internal/alert"
	"github.com/Mozart409/uptime-forge/internal/config"
	"github.com/Mozart409/uptime-forge/internal/probe"
	"github.com/Mozart409/uptime-forge/internal/sink"
	"github.com/Mozart409/uptime-forge/internal/status"
)

// scriptedChecker fails or succeeds per endpoint, under test control.
type scriptedChecker struct {
	mu        sync.Mutex
	failing   map[string]bool
	calls     map[string]int
	panicNext map[string]bool
}

func newScriptedChecker() *scriptedChecker {
	return &scriptedChecker{
		failing:   make(map[string]bool),
		calls:     make(map[string]int),
		panicNext: make(map[string]bool),
	}
}

func (c *scriptedChecker) setFailing(name string, failing bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failing[name] = failing
}

func (c *scriptedChecker) callCount(name string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls[name]
}

func (c *scriptedChecker) Check(ctx context.Context, ep config.Endpoint) probe.Outcome {
	c.mu.Lock()
	c.calls[ep.Name]++
	panicNow := c.panicNext[ep.Name]
	delete(c.panicNext, ep.Name)
	failing := c.failing[ep.Name]
	c.mu.Unlock()

	if panicNow {
		panic("scripted panic")
	}
	if failing {
		return probe.Outcome{CheckedAt: time.Now().UTC(), ErrorType: probe.ErrConnection, Error: "refused"}
	}
	return probe.Outcome{CheckedAt: time.Now().UTC(), Success: true, StatusCode: 200}
}

type countingNotifier struct {
	mu sync.Mutex
	n  int
}

func (c *countingNotifier) Send(ctx context.Context, ev alert.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.n++
	return nil
}

func (c *countingNotifier) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.n
}

// blockingNotifier hangs every delivery until released or cancelled.
type blockingNotifier struct {
	release chan struct{}
}

func (b *blockingNotifier) Send(ctx context.Context, ev alert.Event) error {
	select {
	case <-b.release:
	case <-ctx.Done():
	}
	return nil
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met within timeout")
}

func newTestSupervisor(checker Checker, snk sink.Sink, channels map[string]alert.Notifier) (*Supervisor, status.Store) {
	log := zap.NewNop()
	store := status.NewStore()
	engine := alert.NewEngine(log, channels)
	return New(log, checker, store, engine, snk), store
}

func fastEndpoint(name string, interval time.Duration) config.Endpoint {
	e := ep(name, interval)
	e.AlertAfterFailures = 3
	return e
}

func TestSupervisor_ChecksStatusAndSink(t *testing.T) {
	chk := newScriptedChecker()
	mem := sink.NewMemory()
	sup, store := newTestSupervisor(chk, mem, nil)
	defer sup.Shutdown(time.Second)

	sup.Start([]config.Endpoint{fastEndpoint("api", time.Hour)})

	waitFor(t, time.Second, func() bool {
		st, ok := store.Get("api")
		return ok && st.Outcome.Success
	})
	if recs := mem.Records(); len(recs) == 0 || recs[0].Endpoint != "api" {
		t.Fatalf("sink did not receive the outcome: %+v", recs)
	}
}

func TestSupervisor_ReconcileIdenticalSetIsNoop(t *testing.T) {
	chk := newScriptedChecker()
	chk.setFailing("api", true)
	sup, store := newTestSupervisor(chk, nil, nil)
	defer sup.Shutdown(time.Second)

	eps := []config.Endpoint{fastEndpoint("api", 20*time.Millisecond)}
	sup.Start(eps)

	waitFor(t, 2*time.Second, func() bool {
		st, ok := store.Get("api")
		return ok && st.ConsecutiveFailures >= 2
	})
	before, _ := store.Get("api")

	sup.Reconcile(eps)
	sup.Reconcile(eps)

	after, ok := store.Get("api")
	if !ok {
		t.Fatal("status entry disappeared on no-op reconcile")
	}
	if after.ConsecutiveFailures < before.ConsecutiveFailures {
		t.Fatalf("failure streak reset by no-op reconcile: before=%d after=%d",
			before.ConsecutiveFailures, after.ConsecutiveFailures)
	}
}

func TestSupervisor_ReconcileRemovesEndpoint(t *testing.T) {
	chk := newScriptedChecker()
	sup, store := newTestSupervisor(chk, nil, nil)
	defer sup.Shutdown(time.Second)

	sup.Start([]config.Endpoint{
		fastEndpoint("api", time.Hour),
		fastEndpoint("db-check", time.Hour),
	})
	waitFor(t, time.Second, func() bool {
		_, ok := store.Get("db-check")
		return ok
	})

	sup.Reconcile([]config.Endpoint{fastEndpoint("api", time.Hour)})

	if _, ok := store.Get("db-check"); ok {
		t.Fatal("removed endpoint still in snapshot")
	}
	if _, ok := sup.Snapshot()["api"]; !ok {
		t.Fatal("surviving endpoint lost its status")
	}

	// the removed task must no longer run
	n := chk.callCount("db-check")
	time.Sleep(50 * time.Millisecond)
	if chk.callCount("db-check") != n {
		t.Fatal("removed endpoint is still being checked")
	}
}

func TestSupervisor_HashChangeRestartsAndResetsStreak(t *testing.T) {
	chk := newScriptedChecker()
	chk.setFailing("api", true)
	sup, store := newTestSupervisor(chk, nil, nil)
	defer sup.Shutdown(time.Second)

	sup.Start([]config.Endpoint{fastEndpoint("api", 15*time.Millisecond)})
	waitFor(t, 2*time.Second, func() bool {
		st, ok := store.Get("api")
		return ok && st.ConsecutiveFailures >= 4
	})

	// interval-only change: hash differs, task restarts with fresh state
	changed := fastEndpoint("api", time.Hour)
	sup.Reconcile([]config.Endpoint{changed})

	waitFor(t, time.Second, func() bool {
		_, ok := store.Get("api")
		return ok
	})
	st, _ := store.Get("api")
	if st.ConsecutiveFailures != 1 {
		t.Fatalf("streak not reset on restart: %d", st.ConsecutiveFailures)
	}
}

func TestSupervisor_ReconcileRefreshesMetadata(t *testing.T) {
	chk := newScriptedChecker()
	sup, store := newTestSupervisor(chk, nil, nil)
	defer sup.Shutdown(time.Second)

	e := fastEndpoint("api", time.Hour)
	e.Description = "payments API"
	sup.Start([]config.Endpoint{e})
	waitFor(t, time.Second, func() bool {
		st, ok := store.Get("api")
		return ok && st.Description == "payments API"
	})

	// a display-only edit still changes the hash, so the task restarts and
	// the status snapshot picks up the new metadata
	edited := e
	edited.Description = "payments API (legacy)"
	edited.Group = "billing"
	sup.Reconcile([]config.Endpoint{edited})

	waitFor(t, time.Second, func() bool {
		st, ok := store.Get("api")
		return ok && st.Description == "payments API (legacy)" && st.Group == "billing"
	})
}

func TestSupervisor_ShutdownWaitsAndKeepsStatuses(t *testing.T) {
	chk := newScriptedChecker()
	sup, _ := newTestSupervisor(chk, nil, nil)

	var eps []config.Endpoint
	for i := 0; i < 10; i++ {
		eps = append(eps, fastEndpoint(fmt.Sprintf("ep-%d", i), time.Hour))
	}
	sup.Start(eps)
	waitFor(t, 2*time.Second, func() bool {
		return len(sup.Snapshot()) == 10
	})

	done := make(chan struct{})
	go func() {
		sup.Shutdown(5 * time.Second)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("shutdown did not return within the grace period")
	}

	if got := len(sup.Snapshot()); got != 10 {
		t.Fatalf("snapshot cleared on shutdown: %d entries", got)
	}
}

func TestSupervisor_SinkFailureDoesNotAffectStatus(t *testing.T) {
	chk := newScriptedChecker()
	mem := sink.NewMemory()
	mem.FailWith(errors.New("db down"))
	sup, store := newTestSupervisor(chk, mem, nil)
	defer sup.Shutdown(time.Second)

	sup.Start([]config.Endpoint{fastEndpoint("api", time.Hour)})

	waitFor(t, time.Second, func() bool {
		st, ok := store.Get("api")
		return ok && st.Outcome.Success
	})
}

func TestSupervisor_PanicDoesNotKillSiblings(t *testing.T) {
	chk := newScriptedChecker()
	chk.panicNext["boom"] = true
	sup, store := newTestSupervisor(chk, nil, nil)
	defer sup.Shutdown(time.Second)

	sup.Start([]config.Endpoint{
		fastEndpoint("boom", 20*time.Millisecond),
		fastEndpoint("calm", 20*time.Millisecond),
	})

	// sibling keeps running
	waitFor(t, time.Second, func() bool {
		st, ok := store.Get("calm")
		return ok && st.Outcome.Success
	})
	// the panicking task recovers on a later cycle
	waitFor(t, 2*time.Second, func() bool {
		st, ok := store.Get("boom")
		return ok && st.Outcome.Success
	})
}

func TestSupervisor_SlowAlertChannelDoesNotStallChecks(t *testing.T) {
	chk := newScriptedChecker()
	chk.setFailing("api", true)
	slow := &blockingNotifier{release: make(chan struct{})}
	sup, _ := newTestSupervisor(chk, nil, map[string]alert.Notifier{"slow": slow})
	defer sup.Shutdown(time.Second)
	defer close(slow.release)

	e := fastEndpoint("api", 15*time.Millisecond)
	e.AlertAfterFailures = 1
	e.AlertChannels = []string{"slow"}
	sup.Start([]config.Endpoint{e})

	// the alert fires on the first cycle and its delivery hangs; the check
	// loop must keep its cadence regardless
	waitFor(t, 2*time.Second, func() bool {
		return chk.callCount("api") >= 5
	})
}

func TestSupervisor_AlertFiredOnceAndDelivered(t *testing.T) {
	chk := newScriptedChecker()
	chk.setFailing("api", true)
	notifier := &countingNotifier{}
	sup, store := newTestSupervisor(chk, nil, map[string]alert.Notifier{"test": notifier})
	defer sup.Shutdown(time.Second)

	e := fastEndpoint("api", 15*time.Millisecond)
	e.AlertAfterFailures = 2
	e.AlertChannels = []string{"test"}
	sup.Start([]config.Endpoint{e})

	waitFor(t, 2*time.Second, func() bool {
		st, ok := store.Get("api")
		return ok && st.ConsecutiveFailures >= 5
	})
	waitFor(t, time.Second, func() bool {
		return notifier.count() >= 1
	})
	if n := notifier.count(); n != 1 {
		t.Fatalf("want exactly one alert delivery, got %d", n)
	}

	// recovery fires exactly once more
	chk.setFailing("api", false)
	waitFor(t, 2*time.Second, func() bool {
		st, _ := store.Get("api")
		return st.Outcome.Success
	})
	waitFor(t, time.Second, func() bool {
		return notifier.count() == 2
	})
}
