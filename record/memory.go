package record

import (
	"context"
	"sync"

	"github.com/negotiatorai/negotiator/workflow"
)

// MemoryRecorder keeps threads and email logs in memory.
type MemoryRecorder struct {
	mu      sync.RWMutex
	threads map[string]Thread
	emails  map[string][]EmailLog
}

// NewMemoryRecorder creates an empty recorder.
func NewMemoryRecorder() *MemoryRecorder {
	return &MemoryRecorder{
		threads: make(map[string]Thread),
		emails:  make(map[string][]EmailLog),
	}
}

// OnStatusChanged implements workflow.Recorder.
func (m *MemoryRecorder) OnStatusChanged(_ context.Context, c workflow.StatusChange) error {
	t := threadFrom(c)

	m.mu.Lock()
	defer m.mu.Unlock()

	if prev, ok := m.threads[c.RunID]; ok {
		t.CreatedAt = prev.CreatedAt
	} else {
		t.CreatedAt = c.At
	}
	m.threads[c.RunID] = t
	if email, ok := emailFor(c); ok {
		m.emails[c.RunID] = append(m.emails[c.RunID], email)
	}
	return nil
}

// Thread returns the thread for runID.
func (m *MemoryRecorder) Thread(runID string) (Thread, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.threads[runID]
	return t, ok
}

// Emails returns the emails logged for runID, oldest first.
func (m *MemoryRecorder) Emails(runID string) []EmailLog {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]EmailLog(nil), m.emails[runID]...)
}
