package bus

import (
	"sync"
	"time"
)

// session is one subscriber connection: its transport, room memberships,
// and last-observed inbound activity. Sends are serialised per session so
// concurrent publishes never interleave writes on the same transport.
type session struct {
	id        string
	transport Transport
	rooms     map[string]struct{}

	sendMu sync.Mutex

	activityMu sync.Mutex
	activityAt time.Time
}

func newSession(id string, t Transport) *session {
	return &session{
		id:         id,
		transport:  t,
		rooms:      make(map[string]struct{}),
		activityAt: time.Now(),
	}
}

func (s *session) send(ev event) error {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	return s.transport.WriteJSON(ev)
}

func (s *session) touch() {
	s.activityMu.Lock()
	defer s.activityMu.Unlock()
	s.activityAt = time.Now()
}

func (s *session) lastActivity() time.Time {
	s.activityMu.Lock()
	defer s.activityMu.Unlock()
	return s.activityAt
}
