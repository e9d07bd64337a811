package clock

import (
	"sync"
	"time"
)

// Clock abstrai o tempo para testes determinísticos
type Clock interface {
	Now() time.Time
}

// System usa o relógio do sistema em UTC
type System struct{}

func (System) Now() time.Time {
	return time.Now().UTC()
}

// Manual é um relógio controlado pelos testes
type Manual struct {
	mu  sync.Mutex
	now time.Time
}

func NewManual(start time.Time) *Manual {
	return &Manual{now: start}
}

func (m *Manual) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// Advance avança o relógio
func (m *Manual) Advance(d time.Duration) {
	m.mu.Lock()
	m.now = m.now.Add(d)
	m.mu.Unlock()
}
