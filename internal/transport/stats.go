package transport

import (
	"expvar"
)

const (
	MetricConnects       = "Connects"
	MetricReconnects     = "Reconnects"
	MetricDisconnects    = "Disconnects"
	MetricEventsReceived = "EventsReceived"
	MetricEventsSent     = "EventsSent"
)

// SessionStats tracks connection counters for one session. The map is
// not registered in the global expvar namespace so multiple sessions
// (and tests) can coexist; callers that want to expose it can publish
// Vars() themselves.
type SessionStats struct {
	vars *expvar.Map
}

func NewSessionStats() *SessionStats {
	s := &SessionStats{vars: new(expvar.Map).Init()}
	for _, name := range []string{
		MetricConnects,
		MetricReconnects,
		MetricDisconnects,
		MetricEventsReceived,
		MetricEventsSent,
	} {
		s.vars.Set(name, new(expvar.Int))
	}

	return s
}

func (s *SessionStats) Incr(name string) {
	if s == nil {
		return
	}

	if v, ok := s.vars.Get(name).(*expvar.Int); ok {
		v.Add(1)
	}
}

func (s *SessionStats) Get(name string) int64 {
	if s == nil {
		return 0
	}

	if v, ok := s.vars.Get(name).(*expvar.Int); ok {
		return v.Value()
	}

	return 0
}

func (s *SessionStats) Vars() *expvar.Map {
	return s.vars
}
