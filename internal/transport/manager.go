// Package transport owns websocket connection lifecycle. A Pool keeps at
// most one live connection per target address and multiplexes it across
// reference-counted subscriptions; the last subscription to close tears the
// connection down. Connection-level errors are retried with exponential
// backoff and never surface to subscribers; listeners only ever see
// successfully decoded frames.
package transport

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"tradedesk/internal/infra"
)

// State is the lifecycle state of a managed connection.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateOpen
	StateRetrying
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateConnecting:
		return "CONNECTING"
	case StateOpen:
		return "OPEN"
	case StateRetrying:
		return "RETRYING"
	case StateClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// Frame is one decoded stream frame. Event is the envelope's explicit event
// name; untyped frames carry an empty Event and classify themselves through
// a discriminator inside Data.
type Frame struct {
	Event string
	Data  json.RawMessage
}

// Listener receives decoded frames for one subscription.
type Listener func(frame Frame)

// envelope is the outer wire shape of a named event frame.
type envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// Pool owns every live connection. It replaces the usual "single module-wide
// connection" global with an explicit object handed to subscribers.
type Pool struct {
	mu     sync.Mutex
	active *connection

	HandshakeTimeout time.Duration
	ReadTimeout      time.Duration
}

// NewPool creates an empty connection pool.
func NewPool() *Pool {
	return &Pool{
		HandshakeTimeout: 10 * time.Second,
		ReadTimeout:      60 * time.Second,
	}
}

// Open attaches a listener to the connection for addr, dialing it if needed.
// Opening a different address force-closes the previous connection first;
// opening the same address reuses it and only attaches the listener set.
// events filters which named frames the listener sees (nil means all);
// untyped frames are always delivered, since classification happens
// downstream. onOpen, if non-nil, runs after every successful (re)connect.
func (p *Pool) Open(ctx context.Context, addr string, events []string, fn Listener, onOpen func(*Subscription)) *Subscription {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.active != nil && p.active.addr != addr {
		p.active.shutdown("address switch")
		p.active = nil
	}

	if p.active == nil {
		c := newConnection(p, addr)
		p.active = c
		c.start(ctx)
	}

	sub := &Subscription{
		conn:   p.active,
		fn:     fn,
		onOpen: onOpen,
	}
	if len(events) > 0 {
		sub.events = make(map[string]struct{}, len(events))
		for _, e := range events {
			sub.events[e] = struct{}{}
		}
	}

	p.active.attach(sub)
	return sub
}

// Shutdown closes the active connection, if any.
func (p *Pool) Shutdown() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.active != nil {
		p.active.shutdown("pool shutdown")
		p.active = nil
	}
}

// releaseIfIdle tears the connection down if it still has no subscribers.
// The emptiness check repeats under the pool lock: Open holds that lock
// while attaching, so a subscriber that raced onto the connection keeps it
// alive and the teardown is abandoned.
func (p *Pool) releaseIfIdle(c *connection) {
	p.mu.Lock()
	c.mu.Lock()
	if len(c.subs) > 0 {
		c.mu.Unlock()
		p.mu.Unlock()
		return
	}
	c.mu.Unlock()
	if p.active == c {
		p.active = nil
	}
	p.mu.Unlock()

	c.shutdown("last subscriber detached")
}

// Subscription is one caller's handle on a shared connection.
type Subscription struct {
	conn   *connection
	events map[string]struct{}
	fn     Listener
	onOpen func(*Subscription)

	closedMu sync.Mutex
	closed   bool
}

// Close detaches this subscription's listeners. The underlying connection is
// closed only when the last subscription detaches. Close must not be called
// from inside a Listener callback; it waits for the read loop to exit.
func (s *Subscription) Close() {
	s.closedMu.Lock()
	if s.closed {
		s.closedMu.Unlock()
		return
	}
	s.closed = true
	s.closedMu.Unlock()

	s.conn.detach(s)
}

// Send writes a JSON payload through the shared connection. Returns an error
// only when nothing is connected right now; callers re-issue subscribe
// payloads from the onOpen hook after reconnects.
func (s *Subscription) Send(v any) error {
	return s.conn.writeJSON(v)
}

// State exposes the underlying connection state for diagnostics.
func (s *Subscription) State() State {
	return s.conn.State()
}

type connection struct {
	pool *Pool
	addr string

	mu       sync.RWMutex
	conn     *websocket.Conn
	state    State
	subs     map[*Subscription]struct{}
	attempts int

	writeMu sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

func newConnection(pool *Pool, addr string) *connection {
	return &connection{
		pool:  pool,
		addr:  addr,
		state: StateIdle,
		subs:  make(map[*Subscription]struct{}),
	}
}

func (c *connection) start(ctx context.Context) {
	ctx, c.cancel = context.WithCancel(ctx)
	c.wg.Add(1)
	go c.runLoop(ctx)
}

// runLoop dials, reads until failure, and retries with exponential backoff.
// The attempt counter resets to zero on every successful open; cancelling the
// context (intentional close) aborts any pending retry wait.
func (c *connection) runLoop(ctx context.Context) {
	defer c.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		c.setState(StateConnecting)
		if err := c.connect(ctx); err != nil {
			c.mu.Lock()
			c.attempts++
			attempt := c.attempts
			c.mu.Unlock()

			delay := infra.CalculateBackoff(attempt)
			slog.Warn("WS connect failed", "addr", c.addr, "err", err, "attempt", attempt, "retry_in", delay)
			infra.WSReconnectsTotal.WithLabelValues(c.addr, "dial_error").Inc()
			c.setState(StateRetrying)

			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
				continue
			}
		}

		c.mu.Lock()
		c.attempts = 0
		c.mu.Unlock()
		c.setState(StateOpen)
		slog.Info("WS connected", "addr", c.addr)
		c.notifyOpen()

		c.readLoop(ctx)

		select {
		case <-ctx.Done():
			return
		default:
			infra.WSReconnectsTotal.WithLabelValues(c.addr, "read_error").Inc()
			c.setState(StateRetrying)
		}
	}
}

func (c *connection) connect(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: c.pool.HandshakeTimeout}

	conn, _, err := dialer.DialContext(ctx, c.addr, nil)
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
	return nil
}

func (c *connection) readLoop(ctx context.Context) {
	for {
		c.mu.RLock()
		conn := c.conn
		c.mu.RUnlock()
		if conn == nil {
			return
		}

		conn.SetReadDeadline(time.Now().Add(c.pool.ReadTimeout))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-ctx.Done():
			default:
				slog.Warn("WS read error", "addr", c.addr, "err", err)
			}
			c.closeConn()
			return
		}

		c.dispatch(msg)
	}
}

// dispatch decodes the envelope and fans the frame out to subscriptions.
// A malformed message is one dropped frame, never a connection failure.
func (c *connection) dispatch(msg []byte) {
	frame, ok := decodeFrame(msg)
	if !ok {
		infra.FramesDroppedTotal.WithLabelValues("decode_error").Inc()
		slog.Debug("dropping malformed frame", "addr", c.addr)
		return
	}

	c.mu.RLock()
	subs := make([]*Subscription, 0, len(c.subs))
	for s := range c.subs {
		subs = append(subs, s)
	}
	c.mu.RUnlock()

	for _, s := range subs {
		if s.events != nil && frame.Event != "" {
			if _, want := s.events[frame.Event]; !want {
				continue
			}
		}
		s.fn(frame)
	}
}

// decodeFrame parses a wire message into a Frame. Named events arrive as
// {"event": "...", "data": ...}; anything else that is valid JSON passes
// through untyped.
func decodeFrame(msg []byte) (Frame, bool) {
	var env envelope
	if err := json.Unmarshal(msg, &env); err == nil && env.Event != "" {
		data := env.Data
		if len(data) == 0 {
			data = json.RawMessage("{}")
		}
		return Frame{Event: env.Event, Data: data}, true
	}

	if !json.Valid(msg) {
		return Frame{}, false
	}
	return Frame{Data: json.RawMessage(msg)}, true
}

func (c *connection) notifyOpen() {
	c.mu.RLock()
	subs := make([]*Subscription, 0, len(c.subs))
	for s := range c.subs {
		if s.onOpen != nil {
			subs = append(subs, s)
		}
	}
	c.mu.RUnlock()

	for _, s := range subs {
		s.onOpen(s)
	}
}

func (c *connection) attach(sub *Subscription) {
	c.mu.Lock()
	c.subs[sub] = struct{}{}
	open := c.state == StateOpen
	c.mu.Unlock()

	if open && sub.onOpen != nil {
		sub.onOpen(sub)
	}
}

func (c *connection) detach(sub *Subscription) {
	c.mu.Lock()
	delete(c.subs, sub)
	remaining := len(c.subs)
	c.mu.Unlock()

	if remaining == 0 {
		c.pool.releaseIfIdle(c)
	}
}

// shutdown is an intentional close: it cancels the run loop (aborting any
// pending retry wait) and closes the socket.
func (c *connection) shutdown(reason string) {
	slog.Info("WS closing", "addr", c.addr, "reason", reason)
	if c.cancel != nil {
		c.cancel()
	}
	c.closeConn()
	c.wg.Wait()
	c.setState(StateClosed)
}

func (c *connection) writeJSON(v any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	c.mu.RLock()
	conn := c.conn
	c.mu.RUnlock()

	if conn == nil {
		return ErrNotConnected
	}
	return conn.WriteJSON(v)
}

func (c *connection) closeConn() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
}

func (c *connection) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// State returns the connection's lifecycle state.
func (c *connection) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}
