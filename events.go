package quantum

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"
)

// ============================================================================
// Event Catalog
// ============================================================================

// EventKind discriminates realtime pushes from the server.
type EventKind string

const (
	EventTripAcknowledged  EventKind = "trip:acknowledged"
	EventUnitStatusChanged EventKind = "unit:status"
	EventTimestampRecorded EventKind = "timestamp:recorded"
)

// Event is one decoded realtime push. Each kind in the catalog has exactly
// one payload type, so handlers can switch exhaustively.
type Event interface {
	Kind() EventKind
}

// TripAcknowledged is pushed when dispatch confirms a trip assignment.
type TripAcknowledged struct {
	TripID         string   `json:"tripId"`
	UnitID         string   `json:"unitId"`
	AcknowledgedAt string   `json:"acknowledgedAt"`
	TripType       string   `json:"tripType"`
	Pickup         Facility `json:"pickup"`
	Destination    Facility `json:"destination"`
	Patient        *Patient `json:"patient,omitempty"`
}

func (TripAcknowledged) Kind() EventKind { return EventTripAcknowledged }

// UnitStatusChanged is pushed when a unit's availability status changes.
type UnitStatusChanged struct {
	UnitID    string    `json:"unitId"`
	Status    string    `json:"status"`
	Timestamp string    `json:"timestamp"`
	Location  *GeoPoint `json:"location,omitempty"`
}

func (UnitStatusChanged) Kind() EventKind { return EventUnitStatusChanged }

// FieldTimestampRecorded is pushed when a lifecycle timestamp is recorded for
// a trip, either from an MDT or entered manually.
type FieldTimestampRecorded struct {
	TripID        string `json:"tripId"`
	UnitID        string `json:"unitId"`
	TimestampType string `json:"timestampType"`
	Timestamp     string `json:"timestamp"`
	Source        string `json:"source"` // "mdt" or "manual"
}

func (FieldTimestampRecorded) Kind() EventKind { return EventTimestampRecorded }

// Envelope is the wire format for all realtime traffic.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// Command is a client-to-server control message.
type Command struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

// ============================================================================
// Subscription Registry
// ============================================================================

// Disposer revokes exactly one subscription. Calling it more than once is
// harmless.
type Disposer func()

// noopDisposer is returned when there is nothing to revoke, e.g. subscribing
// before any channel exists.
func noopDisposer() {}

// Handler receives decoded events for one kind.
type Handler func(Event)

// RawHandler receives the undecoded payload for any event kind, including
// kinds not in the typed catalog.
type RawHandler func(kind string, payload json.RawMessage)

type registration struct {
	id int
	fn Handler
}

type rawRegistration struct {
	id int
	fn RawHandler
}

// registry fans realtime events out to independently revocable handlers.
// Dispatch is synchronous in wire order so consumers observe events exactly
// as the server delivered them; handlers must not block.
type registry struct {
	mu       sync.Mutex
	nextID   int
	handlers map[EventKind][]registration
	raw      []rawRegistration

	onConnected    []connRegistration
	onDisconnected []discRegistration
	onReconnecting []reconRegistration
}

type connRegistration struct {
	id int
	fn func(reconnected bool)
}

type discRegistration struct {
	id int
	fn func(reason string)
}

type reconRegistration struct {
	id int
	fn func(attempt int, delay time.Duration)
}

func newRegistry() *registry {
	return &registry{handlers: make(map[EventKind][]registration)}
}

func (r *registry) subscribe(kind EventKind, h Handler) Disposer {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	id := r.nextID
	r.handlers[kind] = append(r.handlers[kind], registration{id: id, fn: h})
	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		regs := r.handlers[kind]
		for i, reg := range regs {
			if reg.id == id {
				r.handlers[kind] = append(regs[:i:i], regs[i+1:]...)
				return
			}
		}
	}
}

func (r *registry) subscribeRaw(h RawHandler) Disposer {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	id := r.nextID
	r.raw = append(r.raw, rawRegistration{id: id, fn: h})
	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		for i, reg := range r.raw {
			if reg.id == id {
				r.raw = append(r.raw[:i:i], r.raw[i+1:]...)
				return
			}
		}
	}
}

func (r *registry) subscribeConnected(h func(reconnected bool)) Disposer {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	id := r.nextID
	r.onConnected = append(r.onConnected, connRegistration{id: id, fn: h})
	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		for i, reg := range r.onConnected {
			if reg.id == id {
				r.onConnected = append(r.onConnected[:i:i], r.onConnected[i+1:]...)
				return
			}
		}
	}
}

func (r *registry) subscribeDisconnected(h func(reason string)) Disposer {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	id := r.nextID
	r.onDisconnected = append(r.onDisconnected, discRegistration{id: id, fn: h})
	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		for i, reg := range r.onDisconnected {
			if reg.id == id {
				r.onDisconnected = append(r.onDisconnected[:i:i], r.onDisconnected[i+1:]...)
				return
			}
		}
	}
}

func (r *registry) subscribeReconnecting(h func(attempt int, delay time.Duration)) Disposer {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	id := r.nextID
	r.onReconnecting = append(r.onReconnecting, reconRegistration{id: id, fn: h})
	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		for i, reg := range r.onReconnecting {
			if reg.id == id {
				r.onReconnecting = append(r.onReconnecting[:i:i], r.onReconnecting[i+1:]...)
				return
			}
		}
	}
}

// dispatch decodes one envelope and invokes matching handlers. Events are
// delivered at most once per transport message; no application-level dedup.
func (r *registry) dispatch(env Envelope, log *slog.Logger) {
	event := decodeEvent(env)
	if event == nil && env.Type != "" {
		log.Debug("unrecognized realtime event", "type", env.Type)
	}

	r.mu.Lock()
	var typed []registration
	if event != nil {
		typed = append(typed, r.handlers[event.Kind()]...)
	}
	raw := append([]rawRegistration{}, r.raw...)
	r.mu.Unlock()

	for _, reg := range typed {
		invoke(func() { reg.fn(event) })
	}
	for _, reg := range raw {
		h := reg
		invoke(func() { h.fn(env.Type, env.Payload) })
	}
}

func (r *registry) emitConnected(reconnected bool) {
	r.mu.Lock()
	regs := append([]connRegistration{}, r.onConnected...)
	r.mu.Unlock()
	for _, reg := range regs {
		h := reg
		invoke(func() { h.fn(reconnected) })
	}
}

func (r *registry) emitDisconnected(reason string) {
	r.mu.Lock()
	regs := append([]discRegistration{}, r.onDisconnected...)
	r.mu.Unlock()
	for _, reg := range regs {
		h := reg
		invoke(func() { h.fn(reason) })
	}
}

func (r *registry) emitReconnecting(attempt int, delay time.Duration) {
	r.mu.Lock()
	regs := append([]reconRegistration{}, r.onReconnecting...)
	r.mu.Unlock()
	for _, reg := range regs {
		h := reg
		invoke(func() { h.fn(attempt, delay) })
	}
}

// invoke shields the read loop from panicking handlers.
func invoke(fn func()) {
	defer func() { recover() }()
	fn()
}

func decodeEvent(env Envelope) Event {
	switch EventKind(env.Type) {
	case EventTripAcknowledged:
		var p TripAcknowledged
		if json.Unmarshal(env.Payload, &p) == nil {
			return p
		}
	case EventUnitStatusChanged:
		var p UnitStatusChanged
		if json.Unmarshal(env.Payload, &p) == nil {
			return p
		}
	case EventTimestampRecorded:
		var p FieldTimestampRecorded
		if json.Unmarshal(env.Payload, &p) == nil {
			return p
		}
	}
	return nil
}
