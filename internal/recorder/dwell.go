package recorder

import (
	"sync"
	"time"
)

// DwellTimeMonitor accumulates how long each tab has been the active tab.
type DwellTimeMonitor struct {
	mu    sync.RWMutex
	times map[int]time.Duration
}

func NewDwellTimeMonitor() *DwellTimeMonitor {
	return &DwellTimeMonitor{times: make(map[int]time.Duration)}
}

// Credit attributes d of active time to tab.
func (m *DwellTimeMonitor) Credit(tab int, d time.Duration) {
	if d <= 0 {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.times[tab] += d
}

// Get returns the active dwell time of tab in milliseconds.
func (m *DwellTimeMonitor) Get(tab int) (int64, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.times[tab]
	if !ok {
		return 0, false
	}
	return d.Milliseconds(), true
}

// Forget drops the dwell time of a closed tab.
func (m *DwellTimeMonitor) Forget(tab int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.times, tab)
}
