package scheduler

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Mozart409/uptime-forge/internal/alert"
	"github.com/Mozart409/uptime-forge/internal/config"
	"github.com/Mozart409/uptime-forge/internal/probe"
	"github.com/Mozart409/uptime-forge/internal/sink"
	"github.com/Mozart409/uptime-forge/internal/status"
)

// Checker runs one full probing cycle (including retries) for an endpoint.
// Satisfied by *probe.Retrier.
type Checker interface {
	Check(ctx context.Context, ep config.Endpoint) probe.Outcome
}

type task struct {
	ep     config.Endpoint
	hash   uint64
	cancel context.CancelFunc
	done   chan struct{}
}

// Supervisor owns one independent check loop per endpoint. It is the only
// writer of the status store and the only holder of task handles. The mutex
// serializes Start, Reconcile and Shutdown against each other; individual
// check cycles never take it.
type Supervisor struct {
	log     *zap.Logger
	checker Checker
	store   status.Store
	alerts  *alert.Engine
	sink    sink.Sink // nil when persistence is disabled

	root     context.Context
	stopRoot context.CancelFunc

	mu    sync.Mutex
	tasks map[string]*task
}

func New(log *zap.Logger, checker Checker, store status.Store, alerts *alert.Engine, snk sink.Sink) *Supervisor {
	root, cancel := context.WithCancel(context.Background())
	return &Supervisor{
		log:      log,
		checker:  checker,
		store:    store,
		alerts:   alerts,
		sink:     snk,
		root:     root,
		stopRoot: cancel,
		tasks:    make(map[string]*task),
	}
}

// Start spawns a check task for every endpoint in the initial set. Each task
// checks immediately, then repeats on its own interval.
func (s *Supervisor) Start(endpoints []config.Endpoint) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ep := range endpoints {
		s.startTask(ep)
	}
	s.log.Info("supervisor_started", zap.Int("endpoints", len(endpoints)))
}

// Snapshot returns the current status of every live endpoint.
func (s *Supervisor) Snapshot() map[string]status.EndpointStatus {
	return s.store.Snapshot()
}

// Reconcile diffs the live task population against a freshly loaded endpoint
// set and applies the minimal start/cancel operations. Tasks whose endpoint
// is unchanged keep running untouched, preserving their failure streaks.
// Changed or removed endpoints have their task cancelled and awaited before
// the status entry is dropped; changed ones then restart with fresh state.
// Only one pass runs at a time.
func (s *Supervisor) Reconcile(endpoints []config.Endpoint) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current := make(map[string]uint64, len(s.tasks))
	for name, t := range s.tasks {
		current[name] = t.hash
	}
	plan := Diff(current, endpoints)

	for _, name := range plan.Stop {
		t := s.tasks[name]
		t.cancel()
		<-t.done
		delete(s.tasks, name)
		s.store.Remove(name)
		s.log.Info("endpoint_stopped", zap.String("endpoint", name))
	}
	for _, ep := range plan.Start {
		s.startTask(ep)
		s.log.Info("endpoint_started", zap.String("endpoint", ep.Name))
	}
	if len(plan.Stop) == 0 && len(plan.Start) == 0 {
		s.log.Debug("reconcile_noop", zap.Int("endpoints", len(endpoints)))
	}
}

// Shutdown cancels every task and waits up to grace for them to exit.
// Stragglers are logged and abandoned. The status store keeps its last-known
// entries.
func (s *Supervisor) Shutdown(grace time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, t := range s.tasks {
		t.cancel()
	}
	s.stopRoot()

	deadline := time.Now().Add(grace)
	for name, t := range s.tasks {
		select {
		case <-t.done:
		case <-time.After(time.Until(deadline)):
			s.log.Warn("check_task_abandoned", zap.String("endpoint", name))
		}
	}
	s.tasks = make(map[string]*task)
	s.log.Info("supervisor_stopped")
}

// startTask spawns the loop for one endpoint. Caller holds s.mu.
func (s *Supervisor) startTask(ep config.Endpoint) {
	ctx, cancel := context.WithCancel(s.root)
	t := &task{ep: ep, hash: ep.Hash(), cancel: cancel, done: make(chan struct{})}
	s.tasks[ep.Name] = t
	go s.run(ctx, t)
}

func (s *Supervisor) run(ctx context.Context, t *task) {
	defer close(t.done)

	interval := t.ep.Interval
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		s.cycle(ctx, t.ep)
		// The ticker keeps its own cadence: retries that ate into the
		// interval shorten the idle time instead of stacking delay.
		select {
		case <-ctx.Done():
			s.log.Debug("check_task_cancelled", zap.String("endpoint", t.ep.Name))
			return
		case <-ticker.C:
		}
	}
}

// cycle runs one probing cycle and forwards the outcome to the alert engine,
// the status store and the sink. A panicking driver or sink is contained
// here so sibling tasks and the supervisor stay up.
func (s *Supervisor) cycle(ctx context.Context, ep config.Endpoint) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("check_task_panic",
				zap.String("endpoint", ep.Name),
				zap.Any("panic", r),
				zap.Stack("stack"),
			)
		}
	}()

	if ctx.Err() != nil {
		return
	}
	out := s.checker.Check(ctx, ep)
	if ctx.Err() != nil {
		// cancelled mid-attempt during a reload or shutdown; the outcome is
		// abandoned rather than recorded against the retiring task
		return
	}

	st, ok := s.store.Get(ep.Name)
	if !ok {
		st = status.EndpointStatus{Name: ep.Name}
	}
	st.Addr = ep.ResolvedAddr()
	st.Kind = ep.Kind
	st.Description = ep.Description
	st.Group = ep.Group
	st.Tags = ep.Tags

	ev := s.alerts.Observe(&st, ep, out)
	s.store.Put(st)
	if ev != nil {
		s.log.Info("alert_transition",
			zap.String("endpoint", ep.Name),
			zap.String("event", string(ev.Type)),
			zap.Int("consecutive_failures", st.ConsecutiveFailures),
		)
		// Delivery must never stall the check loop; the notifiers carry their
		// own timeouts and failures are logged by Dispatch. Runs off the
		// supervisor root so an in-flight delivery survives a task restart.
		go s.alerts.Dispatch(s.root, *ev, ep.AlertChannels)
	}

	if s.sink != nil {
		if err := s.sink.Write(ctx, ep.Name, out); err != nil {
			// status already reflects network reality; the lost row is the
			// only casualty
			s.log.Warn("sink_write_failed",
				zap.String("endpoint", ep.Name),
				zap.Error(err),
			)
		}
	}

	s.log.Debug("endpoint_checked",
		zap.String("endpoint", ep.Name),
		zap.Bool("success", out.Success),
		zap.Int("status", out.StatusCode),
		zap.Float64("latency_ms", out.LatencyMS),
		zap.String("error_type", string(out.ErrorType)),
	)
}
