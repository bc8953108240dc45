package client

import (
	"errors"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/vehicast/relay/pkg/protocol"
)

// State is the connection lifecycle position.
type State string

const (
	StateIdle         State = "idle"
	StateConnecting   State = "connecting"
	StateOpen         State = "open"
	StateReconnecting State = "reconnecting"
	StateClosed       State = "closed"
)

// Handler signatures for the four event kinds. Each kind has exactly
// one active subscriber; re-registering replaces the previous one.
type (
	DeltaHandler     func(delta, buffer string)
	CompleteHandler  func(message string)
	ErrorHandler     func(message string)
	ConnectedHandler func(clientID string)
)

// Options configures a relay client.
type Options struct {
	// URL is the full relay endpoint, e.g. "ws://localhost:8765/ws".
	URL string

	HandshakeTimeout time.Duration

	// Reconnection policy. Zero values take the package defaults.
	ReconnectBaseDelay   time.Duration
	ReconnectMaxDelay    time.Duration
	MaxReconnectAttempts int

	// PingInterval is the default keepalive period for
	// StartPingInterval.
	PingInterval time.Duration
}

func (o Options) withDefaults() Options {
	if o.HandshakeTimeout <= 0 {
		o.HandshakeTimeout = 30 * time.Second
	}
	if o.ReconnectBaseDelay <= 0 {
		o.ReconnectBaseDelay = DefaultReconnectBaseDelay
	}
	if o.ReconnectMaxDelay <= 0 {
		o.ReconnectMaxDelay = DefaultReconnectMaxDelay
	}
	if o.MaxReconnectAttempts <= 0 {
		o.MaxReconnectAttempts = DefaultMaxReconnectAttempts
	}
	if o.PingInterval <= 0 {
		o.PingInterval = 30 * time.Second
	}
	return o
}

// Client owns one relay connection: socket lifecycle, automatic
// reconnection after unexpected closures, keepalive probes and delta
// aggregation. A Client is an explicit value, not ambient state, so one
// process can hold several independent relay connections.
type Client struct {
	opts   Options
	dialer *websocket.Dialer

	mu        sync.Mutex
	state     State
	ws        *websocket.Conn
	clientID  string
	sessionID string
	reconnect reconnectState

	onDelta     DeltaHandler
	onComplete  CompleteHandler
	onError     ErrorHandler
	onConnected ConnectedHandler

	// writeMu serializes socket writes between turns and keepalives.
	writeMu sync.Mutex

	aggregator Aggregator
}

// New creates a client for the given relay endpoint. No connection is
// attempted until Connect.
func New(opts Options) *Client {
	opts = opts.withDefaults()
	return &Client{
		opts:   opts,
		dialer: &websocket.Dialer{HandshakeTimeout: opts.HandshakeTimeout},
		state:  StateIdle,
	}
}

// OnDelta registers the streamed-fragment subscriber.
func (c *Client) OnDelta(fn DeltaHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onDelta = fn
}

// OnComplete registers the turn-completion subscriber.
func (c *Client) OnComplete(fn CompleteHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onComplete = fn
}

// OnError registers the error subscriber.
func (c *Client) OnError(fn ErrorHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onError = fn
}

// OnConnected registers the subscriber fired when the relay's connected
// frame arrives. A transport-level open alone never fires it.
func (c *Client) OnConnected(fn ConnectedHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onConnected = fn
}

// Connect opens the relay connection. It is idempotent: when a
// connection is already open or being opened it returns immediately
// without dialing a second socket. A connect-time failure closes the
// client and does not trigger automatic reconnection.
func (c *Client) Connect() error {
	c.mu.Lock()
	switch c.state {
	case StateOpen, StateConnecting:
		c.mu.Unlock()
		return nil
	}
	c.reconnect.cancel()
	c.state = StateConnecting
	c.mu.Unlock()

	return c.dial(false)
}

// dial performs one connection attempt. reconnecting distinguishes
// automatic attempts, whose failures feed back into the backoff
// schedule, from explicit Connect calls, whose failures are terminal.
func (c *Client) dial(reconnecting bool) error {
	ws, _, err := c.dialer.Dial(c.opts.URL, nil)

	c.mu.Lock()
	if c.state == StateClosed {
		// Disconnect won the race; drop whatever we got.
		c.mu.Unlock()
		if ws != nil {
			ws.Close()
		}
		return nil
	}

	if err != nil {
		onErr := c.onError
		if !reconnecting {
			c.state = StateClosed
		}
		c.mu.Unlock()

		c.emitError(onErr, "connection failed: "+err.Error())
		if reconnecting {
			c.scheduleReconnect()
			return nil
		}
		return err
	}

	c.ws = ws
	c.state = StateOpen
	c.reconnect.reset()
	c.mu.Unlock()

	go c.readLoop(ws)
	return nil
}

// SendTurn emits one turn request. With a non-nil history it sends a
// message_with_history frame, otherwise a plain message frame carrying
// the session id learned from the relay. It returns false, signalling
// the error subscriber, when no connection is open.
func (c *Client) SendTurn(text string, history []protocol.Turn) bool {
	c.mu.Lock()
	ws := c.ws
	open := c.state == StateOpen && ws != nil
	sessionID := c.sessionID
	onErr := c.onError
	c.mu.Unlock()

	if !open {
		c.emitError(onErr, "cannot send message: no connection open")
		return false
	}

	var frame protocol.Frame
	if history != nil {
		frame = protocol.NewMessageWithHistory(text, history, sessionID)
	} else {
		frame = protocol.NewMessage(text, sessionID)
	}

	c.aggregator.Begin()

	if err := c.writeFrame(ws, frame); err != nil {
		c.aggregator.Fail()
		c.emitError(onErr, "failed to send message: "+err.Error())
		return false
	}
	return true
}

// Disconnect closes the transport and cancels any pending reconnect
// timer. After Disconnect the client never re-enters connecting without
// an explicit Connect. Keepalive schedules started with
// StartPingInterval are independent of the connection lifecycle and
// keep running (idle, probes skipped) until their stop function is
// called. Safe to call repeatedly.
func (c *Client) Disconnect() {
	c.mu.Lock()
	c.state = StateClosed
	c.reconnect.cancel()
	ws := c.ws
	c.ws = nil
	c.mu.Unlock()

	if ws != nil {
		ws.Close()
	}
}

// StartPingInterval schedules keepalive ping frames every interval (the
// configured default when interval is zero). Probes are skipped, not
// queued, while the connection is not open. The schedule survives
// reconnects and Disconnect so a revived connection keeps its
// keepalive; callers own its lifetime and must call the returned stop
// function when done with the client. Stop is safe to call more than
// once.
func (c *Client) StartPingInterval(interval time.Duration) func() {
	if interval <= 0 {
		interval = c.opts.PingInterval
	}

	stop := make(chan struct{})
	var once sync.Once

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				c.mu.Lock()
				ws := c.ws
				open := c.state == StateOpen && ws != nil
				c.mu.Unlock()
				if !open {
					continue
				}
				if err := c.writeFrame(ws, protocol.NewPing(time.Now().UnixMilli())); err != nil {
					log.Printf("[client] keepalive write failed: %v", err)
				}
			}
		}
	}()

	return func() { once.Do(func() { close(stop) }) }
}

// State returns the current lifecycle state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// ClientID returns the relay-issued connection identity, empty until
// the connected frame arrives.
func (c *Client) ClientID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.clientID
}

// SessionID returns the session learned from the relay, empty until the
// first session_created frame.
func (c *Client) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

// ReconnectAttempts returns how many reconnect attempts have been
// scheduled since the last successful open.
func (c *Client) ReconnectAttempts() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reconnect.attempts
}

func (c *Client) readLoop(ws *websocket.Conn) {
	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			c.handleClosure(ws, err)
			return
		}
		c.handleFrame(data)
	}
}

// handleClosure reacts to the transport going away. Only unexpected
// closures of an open connection trigger automatic reconnection; an
// explicit Disconnect does not.
func (c *Client) handleClosure(ws *websocket.Conn, err error) {
	c.mu.Lock()
	if c.ws != ws {
		// A stale read loop from a previous connection.
		c.mu.Unlock()
		return
	}
	c.ws = nil
	if c.state == StateClosed {
		c.mu.Unlock()
		return
	}
	wasOpen := c.state == StateOpen
	onErr := c.onError
	c.mu.Unlock()

	// The streaming buffer does not survive the connection.
	c.aggregator.Fail()

	c.emitError(onErr, "connection lost: "+err.Error())

	if wasOpen {
		c.scheduleReconnect()
		return
	}

	c.mu.Lock()
	c.state = StateClosed
	c.mu.Unlock()
}

// scheduleReconnect arms the backoff timer for the next attempt, or
// surfaces a terminal error once the attempt ceiling is reached.
func (c *Client) scheduleReconnect() {
	c.mu.Lock()
	if c.state == StateClosed {
		c.mu.Unlock()
		return
	}

	if c.reconnect.attempts >= c.opts.MaxReconnectAttempts {
		c.state = StateClosed
		onErr := c.onError
		c.mu.Unlock()
		c.emitError(onErr, "reconnection attempts exhausted, giving up")
		return
	}

	attempt := c.reconnect.attempts
	c.reconnect.attempts++
	delay := backoffDelay(attempt, c.opts.ReconnectBaseDelay, c.opts.ReconnectMaxDelay)
	c.state = StateReconnecting

	log.Printf("[client] scheduling reconnect attempt %d in %v", attempt, delay)
	c.reconnect.timer = time.AfterFunc(delay, func() {
		c.mu.Lock()
		if c.state != StateReconnecting {
			c.mu.Unlock()
			return
		}
		c.state = StateConnecting
		c.mu.Unlock()

		c.dial(true)
	})
	c.mu.Unlock()
}

// handleFrame routes one inbound payload. Decode failures surface
// through the error subscriber and never tear down the connection.
func (c *Client) handleFrame(data []byte) {
	frame, err := protocol.Decode(data)
	if err != nil {
		var unknown *protocol.UnknownTypeError
		if errors.As(err, &unknown) {
			log.Printf("[client] ignoring unknown frame type %q", unknown.Type)
			return
		}
		c.mu.Lock()
		onErr := c.onError
		c.mu.Unlock()
		c.emitError(onErr, "received malformed frame: "+err.Error())
		return
	}

	switch f := frame.(type) {
	case protocol.Connected:
		c.mu.Lock()
		c.clientID = f.ClientID
		onConnected := c.onConnected
		c.mu.Unlock()
		if onConnected != nil {
			onConnected(f.ClientID)
		}
	case protocol.SessionCreated:
		c.mu.Lock()
		c.sessionID = f.SessionID
		c.mu.Unlock()
	case protocol.Delta:
		buffer, ok := c.aggregator.Delta(f.Delta, f.Buffer)
		if !ok {
			return
		}
		c.mu.Lock()
		onDelta := c.onDelta
		c.mu.Unlock()
		if onDelta != nil {
			onDelta(f.Delta, buffer)
		}
	case protocol.Complete:
		message, ok := c.aggregator.Complete(f.Message)
		if !ok {
			return
		}
		c.mu.Lock()
		onComplete := c.onComplete
		c.mu.Unlock()
		if onComplete != nil {
			onComplete(message)
		}
	case protocol.Error:
		c.aggregator.Fail()
		c.mu.Lock()
		onErr := c.onError
		c.mu.Unlock()
		c.emitError(onErr, f.Message)
	case protocol.Pong:
		// Liveness confirmed; nothing to do.
	default:
		log.Printf("[client] ignoring %s frame", frame.Kind())
	}
}

func (c *Client) writeFrame(ws *websocket.Conn, frame protocol.Frame) error {
	data, err := protocol.Encode(frame)
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return ws.WriteMessage(websocket.TextMessage, data)
}

func (c *Client) emitError(fn ErrorHandler, message string) {
	if fn != nil {
		fn(message)
	}
}
