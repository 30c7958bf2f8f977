package channel

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is an in-process Store and Directory. It stands in for the
// cloud channel system in unit tests and local runs.
type MemoryStore struct {
	mu         sync.Mutex
	aggregates map[string]Document
	logs       map[string][]Message
	agents     []Agent
	pings      map[string]Ping
}

// Ping is the last recorded connection report for an agent.
type Ping struct {
	OnlineAt  time.Time
	Status    ConnectionStatus
	OfflineAt time.Time
}

// NewMemoryStore returns an empty in-process store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		aggregates: make(map[string]Document),
		logs:       make(map[string][]Message),
		pings:      make(map[string]Ping),
	}
}

func key(agentID, name string) string {
	return agentID + "/" + name
}

// GetAggregate implements Store.
func (s *MemoryStore) GetAggregate(ctx context.Context, agentID, name string) (Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	agg, ok := s.aggregates[key(agentID, name)]
	if !ok {
		return nil, ErrNotFound
	}
	return agg, nil
}

// Publish implements Store.
func (s *MemoryStore) Publish(ctx context.Context, agentID, name string, doc Document, saveLog bool) error {
	return s.publishAt(agentID, name, doc, saveLog, time.Now().UTC())
}

// PublishAt is a test helper that publishes with an explicit message timestamp.
func (s *MemoryStore) PublishAt(agentID, name string, doc Document, at time.Time) error {
	return s.publishAt(agentID, name, doc, true, at)
}

func (s *MemoryStore) publishAt(agentID, name string, doc Document, saveLog bool, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := key(agentID, name)
	s.aggregates[k] = MergeAggregate(s.aggregates[k], doc)
	if saveLog {
		id, _ := uuid.NewUUID()
		s.logs[k] = append(s.logs[k], Message{
			ID:        id.String(),
			Timestamp: at,
			Payload:   doc,
		})
	}
	return nil
}

// MessagesInWindow implements Store.
func (s *MemoryStore) MessagesInWindow(ctx context.Context, agentID, name string, start, end time.Time) ([]Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var result []Message
	for _, m := range s.logs[key(agentID, name)] {
		if !m.Timestamp.Before(start) && m.Timestamp.Before(end) {
			result = append(result, m)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Timestamp.Before(result[j].Timestamp) })
	return result, nil
}

// AddAgent registers an agent with the in-process directory.
func (s *MemoryStore) AddAgent(agent Agent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.agents = append(s.agents, agent)
}

// ListAgents implements Directory.
func (s *MemoryStore) ListAgents(ctx context.Context) ([]Agent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	agents := make([]Agent, len(s.agents))
	copy(agents, s.agents)
	return agents, nil
}

// PingConnection implements ConnectionReporter.
func (s *MemoryStore) PingConnection(ctx context.Context, agentID string, onlineAt time.Time, status ConnectionStatus, offlineAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pings[agentID] = Ping{OnlineAt: onlineAt, Status: status, OfflineAt: offlineAt}
	return nil
}

// LastPing returns the last connection report for an agent, for tests.
func (s *MemoryStore) LastPing(agentID string) (Ping, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.pings[agentID]
	return p, ok
}
