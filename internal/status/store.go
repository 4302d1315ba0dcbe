package status

import (
	"sync"
	"time"

	"github.com/Mozart409/uptime-forge/internal/config"
	"github.com/Mozart409/uptime-forge/internal/probe"
)

// EndpointStatus is the latest aggregated view of one endpoint. Each entry
// has a single writer (the endpoint's own check task); readers get copies.
type EndpointStatus struct {
	Name                 string        `json:"name"`
	Addr                 string        `json:"addr"`
	Kind                 config.Kind   `json:"kind"`
	Description          string        `json:"description,omitempty"`
	Group                string        `json:"group,omitempty"`
	Tags                 []string      `json:"tags,omitempty"`
	Outcome              probe.Outcome `json:"outcome"`
	ConsecutiveFailures  int           `json:"consecutive_failures"`
	ConsecutiveSuccesses int           `json:"consecutive_successes"`
	Alerting             bool          `json:"alerting"`
	LastTransition       time.Time     `json:"last_transition"`
}

// Store is the narrow read/write contract shared by the scheduler (writer)
// and the status API (reader). A missing entry means "unknown".
type Store interface {
	Get(name string) (EndpointStatus, bool)
	Put(st EndpointStatus)
	Remove(name string)
	Snapshot() map[string]EndpointStatus
}

type mapStore struct {
	mu sync.RWMutex
	m  map[string]EndpointStatus
}

func NewStore() Store {
	return &mapStore{m: make(map[string]EndpointStatus)}
}

func (s *mapStore) Get(name string) (EndpointStatus, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.m[name]
	return st, ok
}

func (s *mapStore) Put(st EndpointStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.m[st.Name] = st
}

func (s *mapStore) Remove(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.m, name)
}

func (s *mapStore) Snapshot() map[string]EndpointStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]EndpointStatus, len(s.m))
	for k, v := range s.m {
		out[k] = v
	}
	return out
}
