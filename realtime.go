package quantum

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"nhooyr.io/websocket"
)

// ============================================================================
// Configuration
// ============================================================================

// ChannelConfig configures the realtime channel manager.
type ChannelConfig struct {
	BaseURL              string
	Credentials          CredentialSource
	MaxReconnectAttempts int           // default 10
	ReconnectBaseDelay   time.Duration // default 1s
	ReconnectMaxDelay    time.Duration // default 30s
	HeartbeatInterval    time.Duration // default 25s
	Logger               *slog.Logger
}

func (c *ChannelConfig) defaults() {
	if c.MaxReconnectAttempts == 0 {
		c.MaxReconnectAttempts = 10
	}
	if c.ReconnectBaseDelay == 0 {
		c.ReconnectBaseDelay = 1 * time.Second
	}
	if c.ReconnectMaxDelay == 0 {
		c.ReconnectMaxDelay = 30 * time.Second
	}
	if c.HeartbeatInterval == 0 {
		c.HeartbeatInterval = 25 * time.Second
	}
	if c.Logger == nil {
		c.Logger = slog.New(discardHandler{})
	}
}

// SessionState is the connection state of a realtime session.
type SessionState string

const (
	StateDisconnected SessionState = "disconnected"
	StateConnecting   SessionState = "connecting"
	StateConnected    SessionState = "connected"
	StateReconnecting SessionState = "reconnecting"
)

// ============================================================================
// Reconnector
// ============================================================================

// reconnector tracks exponential backoff across reconnect attempts. The
// attempt counter resets only after a connection has stayed up for a while,
// so a flapping link cannot buy itself an unlimited budget.
type reconnector struct {
	mu          sync.Mutex
	baseDelay   time.Duration
	maxDelay    time.Duration
	maxAttempts int
	attempt     int
	connectedAt time.Time
}

func newReconnector(cfg *ChannelConfig) *reconnector {
	return &reconnector{
		baseDelay:   cfg.ReconnectBaseDelay,
		maxDelay:    cfg.ReconnectMaxDelay,
		maxAttempts: cfg.MaxReconnectAttempts,
	}
}

func (r *reconnector) shouldReconnect() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.attempt < r.maxAttempts
}

func (r *reconnector) markConnected() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.connectedAt = time.Now()
}

// reset restores the full attempt budget. Called on an explicit connect, so a
// session revived after exhaustion is not one drop away from going dark.
func (r *reconnector) reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.attempt = 0
}

func (r *reconnector) nextDelay() (int, time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.connectedAt.IsZero() && time.Since(r.connectedAt) > 60*time.Second {
		r.attempt = 0
	}
	jitter := time.Duration(rand.Float64() * float64(r.baseDelay) * 0.5)
	delay := time.Duration(math.Min(
		float64(r.baseDelay)*math.Pow(2, float64(r.attempt))+float64(jitter),
		float64(r.maxDelay),
	))
	r.attempt++
	return r.attempt, delay
}

// ============================================================================
// Channel Manager
// ============================================================================

// ChannelManager owns at most one realtime session per device process. It is
// the composition root's handle for the live event channel: Connect returns
// the existing session when one is already up, Disconnect tears it down so a
// later Connect starts genuinely fresh (important at logout, to avoid leaking
// one user's room membership into the next login).
type ChannelManager struct {
	mu      sync.Mutex
	cfg     ChannelConfig
	session *Session
}

// NewChannelManager creates a channel manager. The credential source is
// consulted on every connect and reconnect; the manager never caches a token.
func NewChannelManager(cfg ChannelConfig) *ChannelManager {
	cfg.defaults()
	return &ChannelManager{cfg: cfg}
}

// Connect ensures a live session scoped to unitID. If a session already
// exists and is connected it is returned unchanged, with no second handshake
// and no duplicate join message. A failed handshake returns the error for the
// caller to surface, while the session keeps retrying on its backoff schedule
// in the background.
func (m *ChannelManager) Connect(ctx context.Context, unitID string) (*Session, error) {
	m.mu.Lock()
	if m.session != nil && m.session.State() == StateConnected {
		s := m.session
		m.mu.Unlock()
		return s, nil
	}
	if m.session == nil {
		m.session = newSession(m.cfg)
	}
	s := m.session
	m.mu.Unlock()

	if err := s.connect(ctx, unitID, false); err != nil {
		return s, err
	}
	return s, nil
}

// Disconnect tears down the active session and clears the singleton. A
// subsequent Connect creates a fresh session with no inherited handlers or
// room membership. No-op when nothing is connected.
func (m *ChannelManager) Disconnect() {
	m.mu.Lock()
	s := m.session
	m.session = nil
	m.mu.Unlock()
	if s != nil {
		s.close()
	}
}

// Active returns the current session, or nil. It never creates one.
func (m *ChannelManager) Active() *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.session
}

// Subscribe attaches a handler for one event kind to the live channel. When
// no channel exists this is a safe no-op returning a no-op disposer.
func (m *ChannelManager) Subscribe(kind EventKind, h Handler) Disposer {
	s := m.Active()
	if s == nil {
		return noopDisposer
	}
	return s.Subscribe(kind, h)
}

// ============================================================================
// Session
// ============================================================================

// Session is one authenticated realtime connection scoped to a unit. It owns
// its reconnect schedule: on a transport drop the session re-reads the
// credential from durable storage, re-dials, and re-joins its unit room
// before any handler is considered live again.
type Session struct {
	cfg      ChannelConfig
	log      *slog.Logger
	recon    *reconnector
	registry *registry

	mu      sync.Mutex
	unitID  string
	state   SessionState
	conn    *websocket.Conn
	cancel  context.CancelFunc
	stopped bool

	reconnecting atomic.Bool
}

func newSession(cfg ChannelConfig) *Session {
	return &Session{
		cfg:      cfg,
		log:      cfg.Logger,
		recon:    newReconnector(&cfg),
		registry: newRegistry(),
		state:    StateDisconnected,
	}
}

// State returns the current connection state.
func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// UnitID returns the logical room this session is scoped to.
func (s *Session) UnitID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.unitID
}

// Subscribe attaches a handler for one event kind. The returned disposer
// removes exactly this registration, leaving other handlers for the same
// kind untouched.
func (s *Session) Subscribe(kind EventKind, h Handler) Disposer {
	return s.registry.subscribe(kind, h)
}

// OnTripAcknowledged registers a typed handler for trip acknowledgments.
func (s *Session) OnTripAcknowledged(h func(TripAcknowledged)) Disposer {
	return s.registry.subscribe(EventTripAcknowledged, func(e Event) {
		if p, ok := e.(TripAcknowledged); ok {
			h(p)
		}
	})
}

// OnUnitStatusChanged registers a typed handler for unit status changes.
func (s *Session) OnUnitStatusChanged(h func(UnitStatusChanged)) Disposer {
	return s.registry.subscribe(EventUnitStatusChanged, func(e Event) {
		if p, ok := e.(UnitStatusChanged); ok {
			h(p)
		}
	})
}

// OnFieldTimestampRecorded registers a typed handler for field timestamps.
func (s *Session) OnFieldTimestampRecorded(h func(FieldTimestampRecorded)) Disposer {
	return s.registry.subscribe(EventTimestampRecorded, func(e Event) {
		if p, ok := e.(FieldTimestampRecorded); ok {
			h(p)
		}
	})
}

// OnRaw registers a handler for every event, including kinds outside the
// typed catalog.
func (s *Session) OnRaw(h RawHandler) Disposer {
	return s.registry.subscribeRaw(h)
}

// OnConnected registers a handler invoked after every successful handshake.
// The argument is false for the first connect, true for reconnects.
func (s *Session) OnConnected(h func(reconnected bool)) Disposer {
	return s.registry.subscribeConnected(h)
}

// OnDisconnected registers a handler for transport drops and teardown.
func (s *Session) OnDisconnected(h func(reason string)) Disposer {
	return s.registry.subscribeDisconnected(h)
}

// OnReconnecting registers a handler invoked before each reconnect attempt.
func (s *Session) OnReconnecting(h func(attempt int, delay time.Duration)) Disposer {
	return s.registry.subscribeReconnecting(h)
}

// connect performs one handshake: fresh credential read, dial, join the unit
// room, then start the read loop. The join write happens before the read
// loop, so there is no window where pushes arrive without room scoping.
func (s *Session) connect(ctx context.Context, unitID string, reconnect bool) error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return fmt.Errorf("session closed")
	}
	if s.state == StateConnected || s.state == StateConnecting ||
		(s.state == StateReconnecting && !reconnect) {
		// Already live, mid-handshake, or the transport's own retry schedule
		// is running; never open a duplicate connection.
		s.mu.Unlock()
		return nil
	}
	if unitID != "" {
		s.unitID = unitID
	}
	unit := s.unitID
	if reconnect {
		s.state = StateReconnecting
	} else {
		s.state = StateConnecting
	}
	s.mu.Unlock()

	// Re-read the credential on every attempt. An unrelated login or token
	// refresh may have replaced it while this session was down.
	token, err := s.cfg.Credentials.Token()
	if err != nil {
		s.setState(StateDisconnected)
		return fmt.Errorf("read credentials: %w", err)
	}

	wsURL := strings.Replace(s.cfg.BaseURL, "https://", "wss://", 1)
	wsURL = strings.Replace(wsURL, "http://", "ws://", 1)
	wsURL += "/realtime?unitId=" + url.QueryEscape(unit)

	header := http.Header{}
	if token != "" {
		header.Set("Authorization", "Bearer "+token)
	}

	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{HTTPHeader: header})
	if err != nil {
		s.connectFailed(reconnect)
		return fmt.Errorf("realtime dial: %w", err)
	}

	// Join the unit room as part of the handshake. A session that comes back
	// without re-joining silently stops receiving pushes, so a join failure
	// is a connect failure.
	if err := writeJSON(ctx, conn, &Command{
		Type:    "join:unit",
		Payload: map[string]string{"unitId": unit},
	}); err != nil {
		conn.Close(websocket.StatusNormalClosure, "join failed")
		s.connectFailed(reconnect)
		return fmt.Errorf("join unit room: %w", err)
	}

	readCtx, cancel := context.WithCancel(context.Background())
	s.mu.Lock()
	s.conn = conn
	s.cancel = cancel
	s.state = StateConnected
	s.mu.Unlock()
	if !reconnect {
		s.recon.reset()
	}
	s.recon.markConnected()

	s.log.Info("realtime channel connected", "unit", unit, "reconnect", reconnect)
	s.registry.emitConnected(reconnect)

	go s.readLoop(readCtx, conn)
	go s.heartbeatLoop(readCtx, conn)
	return nil
}

// connectFailed records a failed handshake. An explicit connect that fails
// still starts the retry schedule, so the caller sees the error for
// observability while the session keeps working toward a connection in the
// background. Reconnect-path failures are handled by the schedule already
// running.
func (s *Session) connectFailed(reconnect bool) {
	s.setState(StateDisconnected)
	if reconnect {
		return
	}
	s.mu.Lock()
	stopped := s.stopped
	s.mu.Unlock()
	if stopped || !s.recon.shouldReconnect() {
		return
	}
	go s.runReconnect()
}

func (s *Session) readLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			s.mu.Lock()
			stopped := s.stopped
			if s.conn == conn {
				s.conn = nil
				s.state = StateDisconnected
			}
			s.mu.Unlock()
			if stopped {
				return
			}

			s.log.Warn("realtime connection lost", "reason", err)
			s.registry.emitDisconnected(err.Error())
			s.runReconnect()
			return
		}

		var env Envelope
		if json.Unmarshal(data, &env) != nil {
			continue
		}
		s.registry.dispatch(env, s.log)
	}
}

// heartbeatLoop sends periodic pings while the connection is up. A half-open
// cellular link never errors the read on its own; a failed ping forces the
// close so the read loop observes the dead transport and reconnects.
func (s *Session) heartbeatLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(s.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, s.cfg.HeartbeatInterval)
			err := conn.Ping(pingCtx)
			cancel()
			if err != nil {
				s.log.Warn("heartbeat failed, closing connection", "error", err)
				conn.CloseNow()
				return
			}
		}
	}
}

// runReconnect walks the backoff schedule until a connect succeeds or the
// attempt budget is exhausted. After exhaustion the session settles into
// Disconnected and stays there until an explicit Connect call. At most one
// schedule runs per session.
func (s *Session) runReconnect() {
	if !s.reconnecting.CompareAndSwap(false, true) {
		return
	}
	defer s.reconnecting.Store(false)

	for s.recon.shouldReconnect() {
		attempt, delay := s.recon.nextDelay()
		s.setState(StateReconnecting)
		s.registry.emitReconnecting(attempt, delay)

		timer := time.NewTimer(delay)
		<-timer.C

		s.mu.Lock()
		stopped := s.stopped
		s.mu.Unlock()
		if stopped {
			return
		}

		if err := s.connect(context.Background(), "", true); err != nil {
			s.log.Warn("reconnect attempt failed", "attempt", attempt, "error", err)
			continue
		}
		return
	}

	s.setState(StateDisconnected)
	s.log.Error("reconnect attempts exhausted; realtime channel down until explicit reconnect",
		"attempts", s.cfg.MaxReconnectAttempts)
}

// close tears the session down for good: the transport is released and the
// read loop stopped. The session cannot be reused afterwards.
func (s *Session) close() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	conn := s.conn
	s.conn = nil
	cancel := s.cancel
	s.cancel = nil
	s.state = StateDisconnected
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if conn != nil {
		conn.Close(websocket.StatusNormalClosure, "client disconnect")
	}
	s.registry.emitDisconnected("client disconnect")
}

func (s *Session) setState(state SessionState) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

func writeJSON(ctx context.Context, conn *websocket.Conn, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, data)
}
