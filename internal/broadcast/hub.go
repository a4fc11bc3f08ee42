// Package broadcast fans state changes out to connected clients. Delivery is
// best-effort and at-most-once per push: there is no queue and no redelivery,
// a client that misses an event resyncs through the matching pull operation.
package broadcast

import (
	"context"
	"encoding/json"
	"sync"
)

// Event names pushed to clients.
const (
	EventParticipantJoined = "participant-joined"
	EventParticipantLeft   = "participant-left"
	EventQuestionsUpdated  = "questions-updated"
	EventRoomTimeUpdated   = "room-time-updated"
	EventRoomActivated     = "room-activated"
	EventRoomCompleted     = "room-completed"
	EventRoomEnded         = "room-ended"
)

// Event is one push message. Payload is marshalled as-is, so it may already
// be a json.RawMessage when relayed from another instance.
type Event struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

type envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// UnmarshalJSON keeps the payload raw so relays can forward it untouched.
func (e *Event) UnmarshalJSON(data []byte) error {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return err
	}
	e.Type = env.Type
	e.Payload = env.Payload
	return nil
}

// RoomChannel reaches every occupant of a room plus the host dashboard.
func RoomChannel(roomID string) string { return "room:" + roomID }

// ParticipantChannel reaches every connection of one participant.
func ParticipantChannel(participantID string) string { return "participant:" + participantID }

// HostChannel reaches the host's dashboard connections.
func HostChannel(hostID string) string { return "host:" + hostID }

const defaultBuffer = 16

// Hub is an in-process channel registry.
type Hub struct {
	mu       sync.RWMutex
	buffer   int
	channels map[string]map[*Subscriber]struct{}
}

func NewHub() *Hub {
	return NewHubWithBuffer(defaultBuffer)
}

// NewHubWithBuffer sets the per-subscriber backlog; once full the oldest
// pending event is dropped.
func NewHubWithBuffer(buffer int) *Hub {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	return &Hub{
		buffer:   buffer,
		channels: make(map[string]map[*Subscriber]struct{}),
	}
}

// Subscriber receives events for the channels it has joined.
type Subscriber struct {
	hub      *Hub
	ch       chan Event
	channels map[string]struct{} // guarded by hub.mu
	closed   bool                // guarded by hub.mu
}

// Subscribe registers a subscriber on the given channels.
func (h *Hub) Subscribe(channels ...string) *Subscriber {
	s := &Subscriber{
		hub:      h,
		ch:       make(chan Event, h.buffer),
		channels: make(map[string]struct{}),
	}
	for _, c := range channels {
		s.Join(c)
	}
	return s
}

// C is closed once the subscriber is closed.
func (s *Subscriber) C() <-chan Event {
	return s.ch
}

// Join adds a channel. Joining twice is a no-op.
func (s *Subscriber) Join(channel string) {
	h := s.hub
	h.mu.Lock()
	defer h.mu.Unlock()
	if s.closed {
		return
	}
	subs, ok := h.channels[channel]
	if !ok {
		subs = make(map[*Subscriber]struct{})
		h.channels[channel] = subs
	}
	subs[s] = struct{}{}
	s.channels[channel] = struct{}{}
}

// Leave removes a channel.
func (s *Subscriber) Leave(channel string) {
	h := s.hub
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(s, channel)
}

// Close detaches from every channel and closes C.
func (s *Subscriber) Close() {
	h := s.hub
	h.mu.Lock()
	defer h.mu.Unlock()
	if s.closed {
		return
	}
	for c := range s.channels {
		h.removeLocked(s, c)
	}
	s.closed = true
	close(s.ch)
}

func (h *Hub) removeLocked(s *Subscriber, channel string) {
	delete(s.channels, channel)
	subs, ok := h.channels[channel]
	if !ok {
		return
	}
	delete(subs, s)
	if len(subs) == 0 {
		delete(h.channels, channel)
	}
}

// Publish delivers event to every subscriber of channel without blocking.
func (h *Hub) Publish(_ context.Context, channel string, event Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for s := range h.channels[channel] {
		select {
		case s.ch <- event:
		default:
			// Drop the stale head so slow clients never block the publisher.
			select {
			case <-s.ch:
			default:
			}
			select {
			case s.ch <- event:
			default:
			}
		}
	}
}

// Subscribers reports how many subscribers are on channel.
func (h *Hub) Subscribers(channel string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.channels[channel])
}
