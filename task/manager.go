package task

import (
	"sync"

	"rv39kernel/config"
)

// Manager is the ready queue: a collection of shared PCB references
// (spec §4.7). Fetch implements stride scheduling: minimum-stride task
// wins, ties broken by queue position, and the chosen task's stride is
// advanced before it is removed.
type Manager struct {
	mu    sync.Mutex
	ready []*PCB
}

// NewManager creates an empty ready queue.
func NewManager() *Manager {
	return &Manager{}
}

// Add enqueues t as Ready.
func (m *Manager) Add(t *PCB) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ready = append(m.ready, t)
}

// strideLess compares strides with wraparound-safe signed
// subtraction, per spec §9's open question (resolved here as modular
// comparison, not periodic rebase — see DESIGN.md).
func strideLess(a, b uint64) bool {
	return int64(a-b) < 0
}

// Fetch removes and returns the minimum-stride ready task, advancing
// its stride by BIG_STRIDE/priority first. Returns ok=false if the
// queue is empty.
func (m *Manager) Fetch() (*PCB, bool) {
	m.mu.Lock()
	if len(m.ready) == 0 {
		m.mu.Unlock()
		return nil, false
	}
	best := 0
	for i := 1; i < len(m.ready); i++ {
		if strideLess(m.ready[i].stride(), m.ready[best].stride()) {
			best = i
		}
	}
	t := m.ready[best]
	m.ready = append(m.ready[:best], m.ready[best+1:]...)
	m.mu.Unlock()

	t.advanceStride(config.BigStride)
	return t, true
}

// Len reports the number of ready tasks, for tests.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.ready)
}
