package relay

import (
	"context"
	"errors"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/vehicast/relay/internal/session"
	"github.com/vehicast/relay/internal/service/completion"
	"github.com/vehicast/relay/pkg/protocol"
)

const (
	readTimeout  = 60 * time.Second
	writeTimeout = 10 * time.Second
	pingPeriod   = 54 * time.Second
	sendBuffer   = 256

	welcomeMessage = "Connected to WebSocket server"
)

// Handler accepts websocket connections, assigns client identity and
// routes frames between clients and the completion bridge.
type Handler struct {
	sessions  *session.Store
	completer completion.Completer
	upgrader  websocket.Upgrader
}

// New creates the relay dispatcher.
func New(sessions *session.Store, completer completion.Completer) *Handler {
	return &Handler{
		sessions:  sessions,
		completer: completer,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

// RegisterRoutes mounts the websocket endpoint.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/ws", h.handleWebSocket)
}

// conn is the relay side of one client connection. All writes go through
// the send channel so a single writePump owns the socket's write half.
type conn struct {
	clientID  string
	ws        *websocket.Conn
	send      chan []byte
	sessions  *session.Store
	completer completion.Completer
	ctx       context.Context
	cancel    context.CancelFunc
}

func (h *Handler) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[relay] upgrade failed: %v", err)
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	c := &conn{
		clientID:  uuid.NewString(),
		ws:        ws,
		send:      make(chan []byte, sendBuffer),
		sessions:  h.sessions,
		completer: h.completer,
		ctx:       ctx,
		cancel:    cancel,
	}

	log.Printf("[relay] new client connected: %s", c.clientID)

	go c.writePump()
	c.sendFrame(protocol.NewConnected(c.clientID, welcomeMessage))

	c.readLoop()

	cancel()
	ws.Close()
	log.Printf("[relay] connection closed for client %s", c.clientID)
}

func (c *conn) readLoop() {
	c.ws.SetReadDeadline(time.Now().Add(readTimeout))
	c.ws.SetPongHandler(func(string) error {
		c.ws.SetReadDeadline(time.Now().Add(readTimeout))
		return nil
	})

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				log.Printf("[relay] read error for client %s: %v", c.clientID, err)
			}
			return
		}

		c.ws.SetReadDeadline(time.Now().Add(readTimeout))
		c.handleFrame(data)
	}
}

// handleFrame routes one inbound payload. Malformed and unknown frames
// never terminate the connection.
func (c *conn) handleFrame(data []byte) {
	frame, err := protocol.Decode(data)
	if err != nil {
		var unknown *protocol.UnknownTypeError
		if errors.As(err, &unknown) {
			log.Printf("[relay] ignoring unknown frame type %q from client %s", unknown.Type, c.clientID)
			return
		}
		log.Printf("[relay] bad frame from client %s: %v", c.clientID, err)
		c.sendFrame(protocol.NewError("invalid message format"))
		return
	}

	switch f := frame.(type) {
	case protocol.Message:
		c.handleTurn(f.Message, f.SessionID, nil)
	case protocol.MessageWithHistory:
		c.handleTurn(f.Message, f.SessionID, f.History)
	case protocol.Ping:
		c.sendFrame(protocol.NewPong(f.Timestamp))
	default:
		log.Printf("[relay] ignoring %s frame from client %s", frame.Kind(), c.clientID)
	}
}

// handleTurn validates and admits a turn, then streams it. Admission is
// synchronous so an overlapping turn is rejected before any of its
// frames could interleave with the active stream.
func (c *conn) handleTurn(text, sessionID string, history []protocol.Turn) {
	if text == "" {
		c.sendFrame(protocol.NewError("No message provided"))
		return
	}

	if c.completer == nil {
		c.sendFrame(protocol.NewError("completion provider unavailable"))
		return
	}

	id, created := c.sessions.Ensure(sessionID)
	if created {
		c.sendFrame(protocol.NewSessionCreated(id))
	}

	if history != nil {
		if err := c.sessions.ReplaceHistory(id, history); err != nil {
			c.sendFrame(protocol.NewError("failed to apply history: " + err.Error()))
			return
		}
	}

	if err := c.sessions.BeginTurn(id); err != nil {
		if errors.Is(err, session.ErrTurnActive) {
			c.sendFrame(protocol.NewError("a response is already streaming for this session"))
		} else {
			c.sendFrame(protocol.NewError(err.Error()))
		}
		return
	}

	go c.streamTurn(id, text)
}

// streamTurn runs one admitted turn: forwards each provider fragment as
// a delta frame, then the terminal complete or error frame. The
// in-flight marker is cleared before the terminal frame is queued, so a
// client reacting to complete can submit its next turn immediately.
func (c *conn) streamTurn(sessionID, userMessage string) {
	history, err := c.sessions.History(sessionID)
	if err != nil {
		c.failTurn(sessionID, err.Error())
		return
	}

	// When the client already supplied the current message as the last
	// history turn, use the history up to it instead of duplicating.
	if n := len(history); n > 0 && history[n-1].Role == protocol.RoleUser && history[n-1].Content == userMessage {
		history = history[:n-1]
	} else if err := c.sessions.AppendTurn(sessionID, protocol.Turn{Role: protocol.RoleUser, Content: userMessage}); err != nil {
		c.failTurn(sessionID, err.Error())
		return
	}

	stream, err := c.completer.Stream(c.ctx, history, userMessage)
	if err != nil {
		log.Printf("[relay] completion failed for session %s: %v", sessionID, err)
		c.failTurn(sessionID, "Error: "+err.Error())
		return
	}
	defer stream.Close()

	var buffer strings.Builder
	for {
		chunk, recvErr := stream.Recv()
		if errors.Is(recvErr, io.EOF) {
			break
		}
		if recvErr != nil {
			if c.ctx.Err() != nil {
				// Client went away mid-turn; the provider stream is
				// unsubscribed and no partial result is kept.
				c.sessions.EndTurn(sessionID)
				return
			}
			log.Printf("[relay] stream failed for session %s: %v", sessionID, recvErr)
			c.failTurn(sessionID, "Error: "+recvErr.Error())
			return
		}
		if chunk == nil || chunk.Content == "" {
			continue
		}

		buffer.WriteString(chunk.Content)
		c.sendFrame(protocol.NewDelta(chunk.Content, buffer.String()))
	}

	final := buffer.String()
	if err := c.sessions.AppendTurn(sessionID, protocol.Turn{Role: protocol.RoleAssistant, Content: final}); err != nil {
		log.Printf("[relay] failed to record assistant turn for session %s: %v", sessionID, err)
	}
	c.sessions.EndTurn(sessionID)
	c.sendFrame(protocol.NewComplete(final))
}

// failTurn clears the in-flight marker and reports the failure, in that
// order, so the session accepts a retry as soon as the frame is seen.
func (c *conn) failTurn(sessionID, message string) {
	c.sessions.EndTurn(sessionID)
	c.sendFrame(protocol.NewError(message))
}

// sendFrame queues a frame for the write pump. It blocks until the frame
// is queued or the connection is gone, preserving frame order.
func (c *conn) sendFrame(frame protocol.Frame) {
	data, err := protocol.Encode(frame)
	if err != nil {
		log.Printf("[relay] encode failed for client %s: %v", c.clientID, err)
		return
	}

	select {
	case c.send <- data:
	case <-c.ctx.Done():
	}
}

// writePump is the sole writer on the socket. It also owns the
// websocket-level keepalive ping.
func (c *conn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case data := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				c.cancel()
				return
			}
		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.cancel()
				return
			}
		case <-c.ctx.Done():
			return
		}
	}
}
