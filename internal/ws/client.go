package ws

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/anish877/fluent-freelance-ui-kit-06-sub002/internal/auth"
)

type connState int32

const (
	stateUnauthenticated connState = iota
	stateAuthenticated
	stateClosed
)

const writeWait = 10 * time.Second

// Client is one live duplex connection. Created on accept, destroyed exactly
// once on close or timeout; never shared or copied.
type Client struct {
	ID string

	srv   *Server
	conn  *websocket.Conn
	send  chan []byte
	state atomic.Int32

	mu     sync.Mutex
	user   *auth.Claims
	convID string // currently-joined conversation, at most one

	limiter   *rate.Limiter
	malformed int
	authTimer *time.Timer
	closeOnce sync.Once
	sendMu    sync.RWMutex // guards send against close
}

func newClient(srv *Server, conn *websocket.Conn) *Client {
	return &Client{
		ID:      uuid.NewString(),
		srv:     srv,
		conn:    conn,
		send:    make(chan []byte, 256),
		limiter: rate.NewLimiter(rate.Limit(srv.cfg.FramesPerSecond), srv.cfg.FramesPerSecond*2),
	}
}

func (c *Client) Authenticated() bool {
	return connState(c.state.Load()) == stateAuthenticated
}

// User returns the authenticated claims, or nil before authentication.
func (c *Client) User() *auth.Claims {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.user
}

func (c *Client) UserID() string {
	if u := c.User(); u != nil {
		return u.UserID
	}
	return ""
}

func (c *Client) setAuthenticated(claims *auth.Claims) {
	c.mu.Lock()
	c.user = claims
	c.mu.Unlock()
	c.state.Store(int32(stateAuthenticated))
	if c.authTimer != nil {
		c.authTimer.Stop()
	}
}

func (c *Client) JoinedConversation() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.convID
}

func (c *Client) setJoined(convID string) {
	c.mu.Lock()
	c.convID = convID
	c.mu.Unlock()
}

func (c *Client) readPump() {
	defer c.Close()
	c.conn.SetReadLimit(int64(c.srv.cfg.MaxMessageBytes) + 1024)
	c.conn.SetReadDeadline(time.Now().Add(c.srv.cfg.PongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(c.srv.cfg.PongWait))
		return nil
	})
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		c.srv.dispatch(c, data)
	}
}

func (c *Client) writePump() {
	pingPeriod := c.srv.cfg.PongWait * 9 / 10
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// enqueue hands a marshaled frame to the write pump without blocking. A full
// send buffer means the client stopped draining; it gets disconnected.
func (c *Client) enqueue(data []byte) {
	c.sendMu.RLock()
	defer c.sendMu.RUnlock()
	if connState(c.state.Load()) == stateClosed {
		return
	}
	select {
	case c.send <- data:
	default:
		go c.Close()
	}
}

func (c *Client) sendFrame(f Frame) { c.enqueue(mustMarshal(f)) }

func (c *Client) sendError(e *Error) { c.sendFrame(errorFrame(e)) }

// Close tears the connection down exactly once and drives registry and table
// cleanup through the lifecycle manager.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		prev := connState(c.state.Swap(int32(stateClosed)))
		if c.authTimer != nil {
			c.authTimer.Stop()
		}
		c.srv.onDisconnect(c, prev == stateAuthenticated)
		c.sendMu.Lock()
		close(c.send)
		c.sendMu.Unlock()
		_ = c.conn.Close()
	})
}
