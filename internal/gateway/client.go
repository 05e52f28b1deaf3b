// Package gateway keeps the node's single connection to its gateway: it dials,
// authenticates with the device key, correlates outbound requests with their
// responses, routes inbound invocations to the dispatcher, and reconnects with
// backoff until stopped.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/ehrlich-b/nodehost/internal/dispatch"
	"github.com/ehrlich-b/nodehost/internal/identity"
	"github.com/google/uuid"
)

var (
	// ErrNotConnected is returned by Request when no connection is open.
	ErrNotConnected = errors.New("gateway not connected")
	// ErrClientStopped settles every pending request when Stop is called.
	ErrClientStopped = errors.New("gateway client stopped")
)

// ClosedError settles pending requests when the connection drops.
type ClosedError struct {
	Code websocket.StatusCode
}

func (e *ClosedError) Error() string {
	return fmt.Sprintf("gateway closed (%d)", int(e.Code))
}

// RequestError is a definitive ok:false response.
type RequestError struct {
	Code    string
	Message string
}

func (e *RequestError) Error() string {
	if e.Code == "" {
		return e.Message
	}
	return e.Code + ": " + e.Message
}

const (
	defaultChallengeWait = 750 * time.Millisecond
	defaultBackoffBase   = time.Second
	defaultBackoffMax    = 30 * time.Second
	writeTimeout         = 10 * time.Second
	resultAckTimeout     = 30 * time.Second
	maxFrameSize         = 16 << 20
)

// State is the connection state reported to OnStateChange.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
)

// Invoker executes inbound invocations. *dispatch.Dispatcher implements it.
type Invoker interface {
	Dispatch(ctx context.Context, command string, params json.RawMessage) dispatch.Result
	Commands() []string
}

type Config struct {
	Host  string
	Port  int
	TLS   bool
	Token string

	DisplayName string
	Version     string
	Caps        []string

	Identity *identity.Identity
	Invoker  Invoker
	Logger   *slog.Logger

	// OnStateChange is called on every transition, serialized. It must not call Start or Stop.
	OnStateChange func(State)

	ChallengeWait time.Duration // default 750ms
	BackoffBase   time.Duration // default 1s
	BackoffMax    time.Duration // default 30s
}

// Client is the node's gateway connection.
type Client struct {
	cfg    Config
	logger *slog.Logger
	nodeID string

	notifyMu sync.Mutex

	mu      sync.Mutex
	state   State
	closed  bool
	cancel  context.CancelFunc
	done    chan struct{}
	sess    *session
	pending map[string]chan response
	backoff *Backoff
}

// session is one open websocket. Results and handshakes are bound to the session they started on.
type session struct {
	conn          *websocket.Conn
	writeMu       sync.Mutex
	handshakeOnce sync.Once
	timer         *time.Timer
}

type response struct {
	payload json.RawMessage
	err     error
}

func New(cfg Config) *Client {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.ChallengeWait <= 0 {
		cfg.ChallengeWait = defaultChallengeWait
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = defaultBackoffBase
	}
	if cfg.BackoffMax <= 0 {
		cfg.BackoffMax = defaultBackoffMax
	}
	nodeID := uuid.NewString()
	return &Client{
		cfg:     cfg,
		logger:  cfg.Logger.With("component", "gateway", "node_id", nodeID),
		nodeID:  nodeID,
		state:   StateDisconnected,
		closed:  true,
		pending: make(map[string]chan response),
		backoff: NewBackoff(cfg.BackoffBase, cfg.BackoffMax),
	}
}

// NodeID is the per-process node id, regenerated for every Client.
func (c *Client) NodeID() string {
	return c.nodeID
}

func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// URL is the gateway websocket URL.
func (c *Client) URL() string {
	scheme := "ws"
	if c.cfg.TLS {
		scheme = "wss"
	}
	return scheme + "://" + net.JoinHostPort(c.cfg.Host, strconv.Itoa(c.cfg.Port))
}

// Start connects and keeps reconnecting until Stop or ctx is cancelled. Calling
// Start on a running client is a no-op; a restarted client begins at the base delay.
func (c *Client) Start(ctx context.Context) {
	c.mu.Lock()
	if c.cancel != nil {
		c.mu.Unlock()
		return
	}
	c.closed = false
	c.backoff.Reset()
	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	done := make(chan struct{})
	c.done = done
	c.mu.Unlock()

	go c.run(runCtx, done)
}

// Stop suppresses reconnects, closes the connection and fails every pending request
// with ErrClientStopped. In-flight invocation handlers keep running; their results are dropped.
func (c *Client) Stop() {
	c.mu.Lock()
	c.closed = true
	cancel, done, sess := c.cancel, c.done, c.sess
	c.cancel = nil
	if sess != nil {
		sess.stopTimer()
	}
	c.failPendingLocked(ErrClientStopped)
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if sess != nil {
		sess.conn.CloseNow()
	}
	if done != nil {
		<-done
	}
	c.transition(nil, StateDisconnected)
}

func (c *Client) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	for {
		err := c.connectAndServe(ctx)
		if ctx.Err() != nil {
			return
		}
		c.mu.Lock()
		delay := c.backoff.Next()
		c.mu.Unlock()
		c.logger.Info("gateway disconnected, reconnecting", "error", err, "delay", delay)

		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return
		case <-t.C:
		}
	}
}

func (c *Client) connectAndServe(ctx context.Context) error {
	c.transition(nil, StateConnecting)

	conn, _, err := websocket.Dial(ctx, c.URL(), nil)
	if err != nil {
		c.transition(nil, StateDisconnected)
		return fmt.Errorf("dial %s: %w", c.URL(), err)
	}
	conn.SetReadLimit(maxFrameSize)

	sess := &session{conn: conn}
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		conn.CloseNow()
		return ErrClientStopped
	}
	c.sess = sess
	// no challenge within the wait: fall back to an unsigned-nonce (v1) handshake
	sess.timer = time.AfterFunc(c.cfg.ChallengeWait, func() {
		c.sendHandshake(ctx, sess, "")
	})
	c.mu.Unlock()
	c.logger.Debug("gateway socket open", "url", c.URL())

	err = c.readLoop(ctx, sess)

	sess.stopTimer()
	conn.CloseNow()

	c.mu.Lock()
	if c.sess == sess {
		c.sess = nil
	}
	cause := closeCause(err)
	if c.closed {
		cause = ErrClientStopped
	}
	c.failPendingLocked(cause)
	c.mu.Unlock()

	c.transition(nil, StateDisconnected)
	return cause
}

func closeCause(err error) error {
	if code := websocket.CloseStatus(err); code != -1 {
		return &ClosedError{Code: code}
	}
	return &ClosedError{Code: websocket.StatusAbnormalClosure}
}

func (c *Client) readLoop(ctx context.Context, sess *session) error {
	for {
		_, data, err := sess.conn.Read(ctx)
		if err != nil {
			return err
		}
		c.handleMessage(ctx, sess, data)
	}
}

// handleMessage never fails the connection: a bad frame is logged and skipped.
func (c *Client) handleMessage(ctx context.Context, sess *session, data []byte) {
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		c.logger.Warn("malformed gateway frame", "error", err)
		return
	}
	switch {
	case f.isEvent():
		c.handleEvent(ctx, sess, &f)
	case f.isResponse():
		c.handleResponse(&f)
	default:
		c.logger.Debug("ignoring gateway frame", "type", f.Type, "method", f.Method)
	}
}

func (c *Client) handleEvent(ctx context.Context, sess *session, f *Frame) {
	switch f.Event {
	case EventChallenge:
		var p challengePayload
		if err := json.Unmarshal(f.Payload, &p); err != nil || p.Nonce == "" {
			c.logger.Warn("connect challenge without nonce")
			return
		}
		sess.stopTimer()
		c.sendHandshake(ctx, sess, p.Nonce)
	case EventInvokeRequest:
		inv, ok := parseInvocation(f.Payload)
		if !ok {
			c.logger.Warn("dropping malformed invocation")
			return
		}
		go c.handleInvoke(ctx, sess, inv)
	default:
		c.logger.Debug("gateway event", "event", f.Event)
	}
}

// transition moves to s and notifies. With a non-nil sess the move only happens
// while sess is still the live session.
func (c *Client) transition(sess *session, s State) {
	c.notifyMu.Lock()
	defer c.notifyMu.Unlock()

	c.mu.Lock()
	if sess != nil && c.sess != sess {
		c.mu.Unlock()
		return
	}
	if c.state == s {
		c.mu.Unlock()
		return
	}
	c.state = s
	c.mu.Unlock()

	c.logger.Info("gateway state", "state", string(s))
	if c.cfg.OnStateChange != nil {
		c.cfg.OnStateChange(s)
	}
}

func (s *session) stopTimer() {
	if s.timer != nil {
		s.timer.Stop()
	}
}

func (s *session) writeJSON(ctx context.Context, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return s.conn.Write(writeCtx, websocket.MessageText, data)
}
