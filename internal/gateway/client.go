package gateway

import (
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/soyeahso/koko/internal/logging"
)

const (
	// writeWait bounds a single frame write to a slow client.
	writeWait = 10 * time.Second
	// pongWait is how long a connection may stay silent before it is dropped.
	pongWait = 60 * time.Second
	// pingPeriod must be shorter than pongWait.
	pingPeriod = pongWait * 9 / 10
)

// Client is one authorized chat connection. Writes are serialized; reads
// happen only on the connection's own read loop.
type Client struct {
	ConnID     string
	Info       ClientInfo
	AuthMethod string
	Since      time.Time

	conn *websocket.Conn
	log  *logging.Logger

	writeMu sync.Mutex
	closed  bool

	// sessionID is the assistant session of the last chat.send, reused when
	// a later turn omits it.
	sessionMu sync.Mutex
	sessionID string
}

// NewClient wraps an upgraded connection.
func NewClient(conn *websocket.Conn, info ClientInfo, method string, log *logging.Logger) *Client {
	c := &Client{
		ConnID:     uuid.NewString(),
		Info:       info,
		AuthMethod: method,
		Since:      time.Now(),
		conn:       conn,
		log:        log,
	}
	if conn != nil {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongWait))
		})
	}
	return c
}

func (c *Client) write(f Frame) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.closed || c.conn == nil {
		return ErrClientClosed
	}
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteJSON(f)
}

// Emit pushes an event frame.
func (c *Client) Emit(event string, payload any, seq int64) error {
	f, err := NewEvent(event, payload, seq)
	if err != nil {
		return err
	}
	return c.write(f)
}

// Reply answers request id with payload.
func (c *Client) Reply(id string, payload any) error {
	f, err := NewResponse(id, payload)
	if err != nil {
		return err
	}
	return c.write(f)
}

// Fail answers request id with an error.
func (c *Client) Fail(id string, shape ErrorShape) error {
	return c.write(NewErrorResponse(id, shape))
}

// Next blocks for the next frame. Any inbound traffic extends the read
// deadline.
func (c *Client) Next() (Frame, error) {
	var f Frame
	if err := c.conn.ReadJSON(&f); err != nil {
		return Frame{}, err
	}
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	return f, nil
}

// keepalive pings the peer until done is closed or a ping fails.
func (c *Client) keepalive(done <-chan struct{}) {
	t := time.NewTicker(pingPeriod)
	defer t.Stop()
	for {
		select {
		case <-done:
			return
		case <-t.C:
			c.writeMu.Lock()
			if c.closed {
				c.writeMu.Unlock()
				return
			}
			err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
			c.writeMu.Unlock()
			if err != nil {
				c.log.Debug().Err(err).Str("connId", c.ConnID).Msg("ping failed")
				return
			}
		}
	}
}

// Session returns the remembered session id.
func (c *Client) Session() string {
	c.sessionMu.Lock()
	defer c.sessionMu.Unlock()
	return c.sessionID
}

// SetSession remembers the session id for later turns.
func (c *Client) SetSession(id string) {
	c.sessionMu.Lock()
	c.sessionID = id
	c.sessionMu.Unlock()
}

// Close closes the connection. Safe to call more than once.
func (c *Client) Close() error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	if c.conn == nil {
		return nil
	}
	return c.conn.Close()
}

// ClientRegistry tracks live connections for broadcasts and /health.
type ClientRegistry struct {
	mu      sync.RWMutex
	clients map[string]*Client
	log     *logging.Logger
}

// NewClientRegistry creates an empty registry.
func NewClientRegistry(log *logging.Logger) *ClientRegistry {
	return &ClientRegistry{clients: make(map[string]*Client), log: log}
}

// Add registers c.
func (r *ClientRegistry) Add(c *Client) {
	r.mu.Lock()
	r.clients[c.ConnID] = c
	n := len(r.clients)
	r.mu.Unlock()
	r.log.Info().Str("connId", c.ConnID).Str("client", c.Info.ID).Int("clients", n).Msg("client connected")
}

// Remove drops a connection by id.
func (r *ClientRegistry) Remove(connID string) {
	r.mu.Lock()
	_, ok := r.clients[connID]
	delete(r.clients, connID)
	r.mu.Unlock()
	if ok {
		r.log.Info().Str("connId", connID).Msg("client disconnected")
	}
}

// Get looks up a connection by id.
func (r *ClientRegistry) Get(connID string) (*Client, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.clients[connID]
	return c, ok
}

// Count returns the number of live connections.
func (r *ClientRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.clients)
}

// IDs returns live connection ids, sorted.
func (r *ClientRegistry) IDs() []string {
	r.mu.RLock()
	ids := make([]string, 0, len(r.clients))
	for id := range r.clients {
		ids = append(ids, id)
	}
	r.mu.RUnlock()
	slices.Sort(ids)
	return ids
}

// snapshot copies the live set so sends happen without the lock.
func (r *ClientRegistry) snapshot() []*Client {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Client, 0, len(r.clients))
	for _, c := range r.clients {
		out = append(out, c)
	}
	return out
}

// Broadcast emits event to every connection. It returns how many sends
// succeeded.
func (r *ClientRegistry) Broadcast(event string, payload any, seq int64) int {
	sent := 0
	for _, c := range r.snapshot() {
		if err := c.Emit(event, payload, seq); err != nil {
			r.log.Warn().Err(err).Str("connId", c.ConnID).Str("event", event).Msg("broadcast send failed")
			continue
		}
		sent++
	}
	return sent
}

// CloseAll closes and forgets every connection.
func (r *ClientRegistry) CloseAll() {
	for _, c := range r.snapshot() {
		c.Close()
	}
	r.mu.Lock()
	clear(r.clients)
	r.mu.Unlock()
}
