package server

import (
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/cxd309/tms-railenv/internal/engine"
	"github.com/cxd309/tms-railenv/internal/feed"
)

// subscriberBuffer is the number of events queued per websocket client before
// it is dropped as too slow.
const subscriberBuffer = 32

// Event is pushed to stream subscribers.
type Event struct {
	Type        string             `json:"type"` // subscribed, reset, step
	Session     string             `json:"session"`
	Observation []float64          `json:"observation,omitempty"`
	Step        *engine.StepResult `json:"step,omitempty"`
}

type subscriber struct {
	conn *websocket.Conn
	send chan []byte
}

// session owns one environment. mu serialises every call into env.
type session struct {
	id     string
	mu     sync.Mutex
	env    *engine.Env
	feed   *feed.Builder
	logger *slog.Logger

	subMu sync.Mutex
	subs  map[*subscriber]struct{}
}

func newSession(id string, env *engine.Env, fb *feed.Builder, logger *slog.Logger) *session {
	return &session{
		id:     id,
		env:    env,
		feed:   fb,
		logger: logger.With("session", id),
		subs:   make(map[*subscriber]struct{}),
	}
}

func (s *session) subscribe(conn *websocket.Conn) *subscriber {
	sub := &subscriber{conn: conn, send: make(chan []byte, subscriberBuffer)}
	s.subMu.Lock()
	s.subs[sub] = struct{}{}
	s.subMu.Unlock()
	go s.writeLoop(sub)
	return sub
}

func (s *session) unsubscribe(sub *subscriber) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	if _, ok := s.subs[sub]; !ok {
		return
	}
	delete(s.subs, sub)
	close(sub.send)
}

func (s *session) writeLoop(sub *subscriber) {
	defer sub.conn.Close()
	for data := range sub.send {
		if err := sub.conn.WriteMessage(websocket.TextMessage, data); err != nil {
			s.logger.Debug("stream write failed", "err", err)
			s.unsubscribe(sub)
			for range sub.send {
			}
			return
		}
	}
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = sub.conn.WriteMessage(websocket.CloseMessage, msg)
}

// send queues ev for one subscriber.
func (s *session) send(sub *subscriber, ev Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		s.logger.Error("marshal event", "err", err)
		return
	}
	s.subMu.Lock()
	defer s.subMu.Unlock()
	if _, ok := s.subs[sub]; ok {
		s.enqueue(sub, data)
	}
}

// broadcast queues ev for every subscriber.
func (s *session) broadcast(ev Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		s.logger.Error("marshal event", "err", err)
		return
	}
	s.subMu.Lock()
	defer s.subMu.Unlock()
	for sub := range s.subs {
		s.enqueue(sub, data)
	}
}

// enqueue must be called with subMu held.
func (s *session) enqueue(sub *subscriber, data []byte) {
	select {
	case sub.send <- data:
	default:
		s.logger.Warn("dropping slow stream subscriber")
		delete(s.subs, sub)
		close(sub.send)
	}
}

// close disconnects every subscriber.
func (s *session) close() {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	for sub := range s.subs {
		delete(s.subs, sub)
		close(sub.send)
	}
}
