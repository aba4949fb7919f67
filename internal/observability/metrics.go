package observability

import (
	"strconv"
	"sync"
	"time"
)

// Metrics provides basic in-memory counters.
type Metrics struct {
	mu       sync.Mutex
	counters map[string]int64
}

// NewMetrics initializes metrics storage.
func NewMetrics() *Metrics {
	return &Metrics{
		counters: make(map[string]int64),
	}
}

// RecordRequest increments counters for staff API requests.
func (m *Metrics) RecordRequest(path, method string, status int, duration time.Duration) {
	m.inc("http|" + path + "|" + method + "|" + strconv.Itoa(status))
}

// RecordRelay counts a message relayed in direction ("to_channel" or
// "to_user").
func (m *Metrics) RecordRelay(direction string, ok bool) {
	outcome := "ok"
	if !ok {
		outcome = "failed"
	}
	m.inc("relay|" + direction + "|" + outcome)
}

// RecordTicketOpened counts created tickets per category.
func (m *Metrics) RecordTicketOpened(category string) {
	m.inc("ticket_opened|" + category)
}

// RecordClose counts closes per reason.
func (m *Metrics) RecordClose(reason string) {
	m.inc("ticket_closed|" + reason)
}

// RecordError increments error counters.
func (m *Metrics) RecordError(op, code string) {
	m.inc("error|" + op + "|" + code)
}

// Snapshot returns a copy of all counters.
func (m *Metrics) Snapshot() map[string]int64 {
	out := make(map[string]int64)
	if m == nil {
		return out
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for k, v := range m.counters {
		out[k] = v
	}
	return out
}

func (m *Metrics) inc(key string) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counters[key]++
}
