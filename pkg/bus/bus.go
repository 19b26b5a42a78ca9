// Package bus is the Live Event Bus (C6): publish/subscribe fan-out of
// checks, statistics, and notices to dashboard sessions, with room-based
// filtering, connection caps, chunked bulk sends, and idle eviction.
package bus

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/wtower/uptime-monitor/pkg/store"
)

const globalRoom = "global"

// ErrTooManyClients is returned by Connect once MAX_CLIENTS sessions are
// already open.
var ErrTooManyClients = errors.New("too many concurrent sessions")

// ErrTooManyRooms is returned by Subscribe once a session has already
// joined MAX_ROOMS_PER_CLIENT rooms.
var ErrTooManyRooms = errors.New("too many rooms for this session")

// Transport is the minimal send/close surface a subscriber connection must
// provide. *websocket.Conn satisfies it; the core never dials a socket
// itself (out of scope per §1), but every event it emits goes through this
// seam.
type Transport interface {
	WriteJSON(v interface{}) error
	Close() error
}

// Config holds the bus's capacity controls (§4.6).
type Config struct {
	MaxClients        int
	MaxRoomsPerClient int
	ClientTimeout     time.Duration
	BulkChunkSize     int
	BulkChunkPause    time.Duration
}

type event struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

type systemStatusPayload struct {
	Message string `json:"message"`
	Type    string `json:"type"`
}

// StatisticsProvider supplies the snapshot a requestFullUpdate message
// replies with via PublishBulkUpdate (§4.6). pkg/scheduler.Scheduler
// satisfies it through AllStatistics.
type StatisticsProvider interface {
	AllStatistics() []store.UptimeStatistics
}

// Bus holds every open session and its room memberships.
type Bus struct {
	cfg Config
	log zerolog.Logger

	mu       sync.Mutex
	sessions map[string]*session
	rooms    map[string]map[string]*session

	provMu sync.RWMutex
	stats  StatisticsProvider
}

// New builds a Bus applying cfg's capacity controls.
func New(cfg Config, log zerolog.Logger) *Bus {
	return &Bus{
		cfg:      cfg,
		log:      log.With().Str("component", "bus").Logger(),
		sessions: make(map[string]*session),
		rooms:    make(map[string]map[string]*session),
	}
}

// SetStatisticsProvider wires the source requestFullUpdate reads its
// snapshot from. It is set once, after construction, to break the
// construction-order cycle between the bus and the scheduler that feeds it.
func (b *Bus) SetStatisticsProvider(p StatisticsProvider) {
	b.provMu.Lock()
	defer b.provMu.Unlock()
	b.stats = p
}

func (b *Bus) statisticsProvider() StatisticsProvider {
	b.provMu.RLock()
	defer b.provMu.RUnlock()
	return b.stats
}

// Run starts the idle-session sweeper on its own minute-cadence timer. It
// blocks until ctx is cancelled.
func (b *Bus) Run(ctx context.Context) {
	interval := time.Minute
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			b.sweepIdle()
		}
	}
}

// Connect admits a new session if capacity allows, joining it to the
// global room.
func (b *Bus) Connect(id string, t Transport) (*session, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	maxClients := b.cfg.MaxClients
	if maxClients <= 0 {
		maxClients = 100
	}
	if len(b.sessions) >= maxClients {
		return nil, ErrTooManyClients
	}

	s := newSession(id, t)
	b.sessions[id] = s
	b.joinLocked(s, globalRoom)
	return s, nil
}

// Disconnect removes a session from every room and drops it.
func (b *Bus) Disconnect(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.disconnectLocked(id)
}

func (b *Bus) disconnectLocked(id string) {
	s, ok := b.sessions[id]
	if !ok {
		return
	}
	for room := range s.rooms {
		delete(b.rooms[room], id)
		if len(b.rooms[room]) == 0 {
			delete(b.rooms, room)
		}
	}
	_ = s.transport.Close()
	delete(b.sessions, id)
}

// Subscribe joins a session to an additional room, subject to
// MAX_ROOMS_PER_CLIENT.
func (b *Bus) Subscribe(id, room string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	s, ok := b.sessions[id]
	if !ok {
		return fmt.Errorf("unknown session %s", id)
	}
	maxRooms := b.cfg.MaxRoomsPerClient
	if maxRooms <= 0 {
		maxRooms = 10
	}
	if _, already := s.rooms[room]; !already && len(s.rooms) >= maxRooms {
		b.sendLocked(s, event{Type: "systemStatus", Payload: systemStatusPayload{Message: "room limit reached", Type: "warning"}})
		return ErrTooManyRooms
	}
	b.joinLocked(s, room)
	return nil
}

func (b *Bus) joinLocked(s *session, room string) {
	if _, ok := s.rooms[room]; ok {
		return
	}
	s.rooms[room] = struct{}{}
	if b.rooms[room] == nil {
		b.rooms[room] = make(map[string]*session)
	}
	b.rooms[room][s.id] = s
}

// Touch records inbound activity for the idle sweeper.
func (b *Bus) Touch(id string) {
	b.mu.Lock()
	s, ok := b.sessions[id]
	b.mu.Unlock()
	if ok {
		s.touch()
	}
}

func (b *Bus) sweepIdle() {
	timeout := b.cfg.ClientTimeout
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	cutoff := time.Now().Add(-timeout)

	b.mu.Lock()
	var idle []string
	for id, s := range b.sessions {
		if s.lastActivity().Before(cutoff) {
			idle = append(idle, id)
		}
	}
	for _, id := range idle {
		b.disconnectLocked(id)
	}
	b.mu.Unlock()

	for _, id := range idle {
		b.log.Info().Str("session_id", id).Msg("disconnected idle session")
	}
}

// sendLocked writes ev to s, logging and swallowing any failure (§4.6: a
// send failure on any subscriber must never crash the publisher).
func (b *Bus) sendLocked(s *session, ev event) {
	if err := s.send(ev); err != nil {
		b.log.Warn().Err(err).Str("session_id", s.id).Msg("bus delivery failed")
	}
}

func (b *Bus) broadcastLocked(room string, ev event) {
	for _, s := range b.rooms[room] {
		b.sendLocked(s, ev)
	}
}

// PublishNewCheck delivers a newCheck event to global and the endpoint's
// room. Per the ordering guarantee (§4.5), callers must call this before
// PublishUptimeUpdate for the same probe.
func (b *Bus) PublishNewCheck(check store.UptimeCheck) {
	ev := event{Type: "newCheck", Payload: check}
	endpointRoom := "endpoint:" + check.EndpointID.String()

	b.mu.Lock()
	defer b.mu.Unlock()
	b.broadcastLocked(globalRoom, ev)
	b.broadcastLocked(endpointRoom, ev)
}

// PublishUptimeUpdate delivers an uptimeUpdate event to global and the
// endpoint's room.
func (b *Bus) PublishUptimeUpdate(st store.UptimeStatistics) {
	ev := event{Type: "uptimeUpdate", Payload: st}
	endpointRoom := "endpoint:" + st.EndpointID.String()

	b.mu.Lock()
	defer b.mu.Unlock()
	b.broadcastLocked(globalRoom, ev)
	b.broadcastLocked(endpointRoom, ev)
}

// PublishSystemStatus delivers an operational notice to the global room
// only.
func (b *Bus) PublishSystemStatus(message, level string) {
	ev := event{Type: "systemStatus", Payload: systemStatusPayload{Message: message, Type: level}}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.broadcastLocked(globalRoom, ev)
}

// PublishBulkUpdate answers one session's requestFullUpdate, chunking
// statistics into groups of BulkChunkSize with a pause between chunks to
// avoid head-of-line blocking on large fleets.
func (b *Bus) PublishBulkUpdate(ctx context.Context, sessionID string, statistics []store.UptimeStatistics) {
	chunkSize := b.cfg.BulkChunkSize
	if chunkSize <= 0 {
		chunkSize = 20
	}
	pause := b.cfg.BulkChunkPause
	if pause <= 0 {
		pause = 100 * time.Millisecond
	}

	for start := 0; start < len(statistics); start += chunkSize {
		end := start + chunkSize
		if end > len(statistics) {
			end = len(statistics)
		}
		chunk := statistics[start:end]

		b.mu.Lock()
		s, ok := b.sessions[sessionID]
		if ok {
			b.sendLocked(s, event{Type: "bulkUpdate", Payload: chunk})
		}
		b.mu.Unlock()
		if !ok {
			return
		}

		if end < len(statistics) {
			select {
			case <-ctx.Done():
				return
			case <-time.After(pause):
			}
		}
	}
}

// SessionCount reports the number of currently connected sessions.
func (b *Bus) SessionCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.sessions)
}
