package sink

import (
	"context"
	"sync"

	"github.com/Mozart409/uptime-forge/internal/probe"
)

// Sink accepts finished outcomes for durable storage. Write failures are the
// caller's to log; they never affect status or alerting.
type Sink interface {
	Write(ctx context.Context, endpoint string, out probe.Outcome) error
}

// Record is one persisted probe attempt.
type Record struct {
	Endpoint string
	Outcome  probe.Outcome
}

// Memory keeps records in a slice. Used by tests and when no DATABASE_URL
// is configured.
type Memory struct {
	mu      sync.Mutex
	records []Record
	failErr error
}

func NewMemory() *Memory {
	return &Memory{}
}

func (m *Memory) Write(ctx context.Context, endpoint string, out probe.Outcome) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failErr != nil {
		return m.failErr
	}
	m.records = append(m.records, Record{Endpoint: endpoint, Outcome: out})
	return nil
}

// Records returns a copy of everything written so far.
func (m *Memory) Records() []Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Record, len(m.records))
	copy(out, m.records)
	return out
}

// FailWith makes every subsequent Write return err. nil restores normal
// behavior.
func (m *Memory) FailWith(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failErr = err
}
