// Package channel owns the single duplex connection between a session client
// and the coordination service.
package channel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"elsa-quiz-live/internal/domain"
	"elsa-quiz-live/internal/protocol"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
)

// State is the connection state of a Client.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateConnected
	StateReconnecting
	StateClosed
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateClosed:
		return "closed"
	case StateTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// LifecycleKind names a connection lifecycle transition.
type LifecycleKind string

const (
	LifecycleConnected    LifecycleKind = "connected"
	LifecycleDropped      LifecycleKind = "dropped"
	LifecycleReconnecting LifecycleKind = "reconnecting"
	LifecycleTerminated   LifecycleKind = "terminated"
)

// Lifecycle is delivered to the lifecycle listener on every transition.
// Err is set for drops and for terminations caused by lost sessions.
type Lifecycle struct {
	Kind    LifecycleKind
	Attempt int
	Err     error
}

// Handler receives the raw args of one event kind.
type Handler func(args json.RawMessage)

// Config holds connection and reconnect settings.
type Config struct {
	URL                  string
	HandshakeTimeout     time.Duration
	InvokeTimeout        time.Duration
	WriteTimeout         time.Duration
	ReadTimeout          time.Duration // refreshed on every frame and server ping
	MaxReconnectAttempts int
	InitialBackoff       time.Duration
	MaxBackoff           time.Duration
}

// DefaultConfig returns settings suitable for an interactive client.
func DefaultConfig(url string) Config {
	return Config{
		URL:                  url,
		HandshakeTimeout:     10 * time.Second,
		InvokeTimeout:        10 * time.Second,
		WriteTimeout:         10 * time.Second,
		ReadTimeout:          60 * time.Second,
		MaxReconnectAttempts: 5,
		InitialBackoff:       500 * time.Millisecond,
		MaxBackoff:           10 * time.Second,
	}
}

// Client is a websocket channel with typed event subscriptions, correlated
// invocations and automatic reconnect.
type Client struct {
	cfg      Config
	identity domain.Identity
	dialer   *websocket.Dialer
	clock    clockwork.Clock
	logger   zerolog.Logger

	mu        sync.Mutex
	state     State
	conn      *websocket.Conn
	handlers  map[string]Handler
	lifecycle func(Lifecycle)
	pending   map[string]chan protocol.Frame

	writeMu   sync.Mutex
	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// Option customises a Client.
type Option func(*Client)

// WithClock replaces the clock used for reconnect backoff.
func WithClock(clock clockwork.Clock) Option {
	return func(c *Client) { c.clock = clock }
}

// WithLogger sets the client logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// WithDialer replaces the websocket dialer.
func WithDialer(dialer *websocket.Dialer) Option {
	return func(c *Client) { c.dialer = dialer }
}

// New builds a Client for the given identity. Nothing is dialed until Connect.
func New(cfg Config, identity domain.Identity, opts ...Option) *Client {
	c := &Client{
		cfg:      cfg,
		identity: identity,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: cfg.HandshakeTimeout,
		},
		clock:    clockwork.NewRealClock(),
		logger:   zerolog.Nop(),
		handlers: make(map[string]Handler),
		pending:  make(map[string]chan protocol.Frame),
	}
	c.ctx, c.cancel = context.WithCancel(context.Background())
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// On registers the handler for an event kind, replacing any previous one.
// Registration before Connect is allowed.
func (c *Client) On(event string, h Handler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateClosed {
		return
	}
	c.handlers[event] = h
}

// OnLifecycle registers the single lifecycle listener.
func (c *Client) OnLifecycle(fn func(Lifecycle)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateClosed {
		return
	}
	c.lifecycle = fn
}

// State returns the current connection state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Connect dials the coordination service. It fails with domain.ErrAuth when
// the credential is rejected and domain.ErrNetwork otherwise.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	switch c.state {
	case StateConnected, StateConnecting, StateReconnecting:
		c.mu.Unlock()
		return nil
	case StateClosed, StateTerminated:
		c.mu.Unlock()
		return fmt.Errorf("connect: %w", domain.ErrNotConnected)
	}
	c.state = StateConnecting
	c.mu.Unlock()

	conn, err := c.dial(ctx)
	if err != nil {
		c.mu.Lock()
		if c.state == StateConnecting {
			c.state = StateIdle
		}
		c.mu.Unlock()
		return err
	}
	if !c.attach(conn) {
		return fmt.Errorf("connect: %w", domain.ErrNotConnected)
	}
	c.logger.Info().Str("url", c.cfg.URL).Msg("channel connected")
	c.emit(Lifecycle{Kind: LifecycleConnected})
	return nil
}

// Invoke sends a command and waits for its completion. It fails fast with
// domain.ErrNotConnected while the channel is down; nothing is queued.
// A non-nil result receives the decoded completion value.
func (c *Client) Invoke(ctx context.Context, target string, args any, result any) error {
	id := uuid.NewString()
	frame, err := protocol.Invocation(id, target, args)
	if err != nil {
		return err
	}
	reply := make(chan protocol.Frame, 1)

	c.mu.Lock()
	conn := c.conn
	if c.state != StateConnected || conn == nil {
		c.mu.Unlock()
		return fmt.Errorf("invoke %s: %w", target, domain.ErrNotConnected)
	}
	c.pending[id] = reply
	c.mu.Unlock()

	if err := c.write(conn, frame); err != nil {
		c.forget(id)
		c.logger.Debug().Err(err).Str("target", target).Msg("invocation write failed")
		return fmt.Errorf("invoke %s: %w", target, domain.ErrNotConnected)
	}

	if c.cfg.InvokeTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.InvokeTimeout)
		defer cancel()
	}

	select {
	case f, ok := <-reply:
		if !ok {
			return fmt.Errorf("invoke %s: %w", target, domain.ErrNotConnected)
		}
		if f.Error != "" {
			return &domain.InvocationError{Target: target, Message: f.Error}
		}
		if result != nil && len(f.Result) > 0 {
			if err := json.Unmarshal(f.Result, result); err != nil {
				return fmt.Errorf("decode %s result: %w", target, err)
			}
		}
		return nil
	case <-ctx.Done():
		c.forget(id)
		return fmt.Errorf("invoke %s: %w", target, ctx.Err())
	}
}

// Close unsubscribes every handler and then releases the connection. It
// stops any reconnect in progress and is safe to call more than once. It must
// not be called from inside an event handler.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.handlers = make(map[string]Handler)
		c.lifecycle = nil
		c.state = StateClosed
		conn := c.conn
		c.conn = nil
		pending := c.takePendingLocked()
		c.mu.Unlock()

		c.cancel()
		if conn != nil {
			c.closeConn(conn)
		}
		failPending(pending)
		c.logger.Debug().Msg("channel closed")
	})
	c.wg.Wait()
	return nil
}

func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	header := http.Header{}
	if c.identity.Credential != "" {
		header.Set("Authorization", "Bearer "+c.identity.Credential)
	}
	conn, resp, err := c.dialer.DialContext(ctx, c.cfg.URL, header)
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			return nil, fmt.Errorf("%w: status %d", domain.ErrAuth, resp.StatusCode)
		}
		return nil, fmt.Errorf("%w: %v", domain.ErrNetwork, err)
	}
	return conn, nil
}

// attach installs a freshly dialed connection and starts its reader.
func (c *Client) attach(conn *websocket.Conn) bool {
	c.mu.Lock()
	if c.state == StateClosed || c.state == StateTerminated {
		c.mu.Unlock()
		conn.Close()
		return false
	}
	c.conn = conn
	c.state = StateConnected
	c.wg.Add(1)
	c.mu.Unlock()

	c.extendReadDeadline(conn)
	conn.SetPingHandler(func(data string) error {
		c.extendReadDeadline(conn)
		err := conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(c.cfg.WriteTimeout))
		if errors.Is(err, websocket.ErrCloseSent) {
			return nil
		}
		return err
	})

	go c.readLoop(conn)
	return true
}

func (c *Client) readLoop(conn *websocket.Conn) {
	defer c.wg.Done()
	for {
		var f protocol.Frame
		if err := conn.ReadJSON(&f); err != nil {
			c.handleDrop(conn, err)
			return
		}
		c.extendReadDeadline(conn)

		switch f.Type {
		case protocol.FrameCompletion:
			c.complete(f)
		case protocol.FrameEvent:
			c.dispatch(f)
			if f.Target == protocol.EvtSessionEnded {
				c.terminate(nil)
				return
			}
		default:
			c.logger.Debug().Str("type", string(f.Type)).Msg("ignoring unexpected frame")
		}
	}
}

func (c *Client) handleDrop(conn *websocket.Conn, cause error) {
	c.mu.Lock()
	if c.conn != conn || c.state != StateConnected {
		c.mu.Unlock()
		return
	}
	c.conn = nil
	c.state = StateReconnecting
	pending := c.takePendingLocked()
	c.wg.Add(1)
	c.mu.Unlock()

	conn.Close()
	failPending(pending)
	c.logger.Warn().Err(cause).Msg("channel dropped")
	c.emit(Lifecycle{Kind: LifecycleDropped, Err: cause})

	go c.reconnect()
}

func (c *Client) reconnect() {
	defer c.wg.Done()

	expo := backoff.NewExponentialBackOff()
	expo.InitialInterval = c.cfg.InitialBackoff
	expo.MaxInterval = c.cfg.MaxBackoff
	expo.MaxElapsedTime = 0
	expo.Clock = c.clock
	expo.Reset()
	var policy backoff.BackOff = expo
	if c.cfg.MaxReconnectAttempts > 0 {
		policy = backoff.WithMaxRetries(expo, uint64(c.cfg.MaxReconnectAttempts))
	}

	for attempt := 1; ; attempt++ {
		wait := policy.NextBackOff()
		if wait == backoff.Stop {
			c.logger.Error().Int("attempts", attempt-1).Msg("reconnect attempts exhausted")
			c.terminate(domain.ErrSessionLost)
			return
		}
		c.emit(Lifecycle{Kind: LifecycleReconnecting, Attempt: attempt})

		timer := c.clock.NewTimer(wait)
		select {
		case <-c.ctx.Done():
			timer.Stop()
			return
		case <-timer.Chan():
		}

		ctx, cancel := context.WithTimeout(c.ctx, c.cfg.HandshakeTimeout)
		conn, err := c.dial(ctx)
		cancel()
		if err != nil {
			c.logger.Warn().Err(err).Int("attempt", attempt).Msg("reconnect failed")
			if errors.Is(err, domain.ErrAuth) {
				c.terminate(err)
				return
			}
			continue
		}
		if !c.attach(conn) {
			return
		}
		c.logger.Info().Int("attempt", attempt).Msg("channel reconnected")
		c.emit(Lifecycle{Kind: LifecycleConnected, Attempt: attempt})
		return
	}
}

// terminate moves the client to its terminal state; no reconnect follows.
func (c *Client) terminate(cause error) {
	c.mu.Lock()
	if c.state == StateClosed || c.state == StateTerminated {
		c.mu.Unlock()
		return
	}
	c.state = StateTerminated
	conn := c.conn
	c.conn = nil
	pending := c.takePendingLocked()
	c.mu.Unlock()

	if conn != nil {
		c.closeConn(conn)
	}
	failPending(pending)
	c.logger.Info().AnErr("cause", cause).Msg("channel terminated")
	c.emit(Lifecycle{Kind: LifecycleTerminated, Err: cause})
}

func (c *Client) dispatch(f protocol.Frame) {
	c.mu.Lock()
	h := c.handlers[f.Target]
	c.mu.Unlock()
	if h == nil {
		c.logger.Debug().Str("event", f.Target).Msg("no handler for event")
		return
	}
	h(f.Args)
}

func (c *Client) complete(f protocol.Frame) {
	c.mu.Lock()
	reply, ok := c.pending[f.ID]
	delete(c.pending, f.ID)
	c.mu.Unlock()
	if !ok {
		c.logger.Debug().Str("id", f.ID).Msg("completion for unknown invocation")
		return
	}
	reply <- f
}

func (c *Client) forget(id string) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

func (c *Client) takePendingLocked() map[string]chan protocol.Frame {
	pending := c.pending
	c.pending = make(map[string]chan protocol.Frame)
	return pending
}

func failPending(pending map[string]chan protocol.Frame) {
	for _, reply := range pending {
		close(reply)
	}
}

func (c *Client) emit(l Lifecycle) {
	c.mu.Lock()
	fn := c.lifecycle
	c.mu.Unlock()
	if fn != nil {
		fn(l)
	}
}

func (c *Client) write(conn *websocket.Conn, f protocol.Frame) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.cfg.WriteTimeout > 0 {
		_ = conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
	}
	return conn.WriteJSON(f)
}

func (c *Client) closeConn(conn *websocket.Conn) {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye")
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	_ = conn.Close()
}

func (c *Client) extendReadDeadline(conn *websocket.Conn) {
	if c.cfg.ReadTimeout > 0 {
		_ = conn.SetReadDeadline(time.Now().Add(c.cfg.ReadTimeout))
	}
}
