// Package websocket keeps the live viewer registry: resource id to the set of
// connected clients, with a per-resource cap, idle eviction and
// non-blocking fan-out.
package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	gorillawebsocket "github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

// ErrTooManySubscribers is returned when a resource already has the maximum
// number of live viewers.
var ErrTooManySubscribers = errors.New("too many subscribers for this resource")

// CloseTryAgainLater is sent when the cap is hit after the upgrade.
const CloseTryAgainLater = 1013

const (
	writeWait    = 10 * time.Second
	maxMessage   = 4096
	defaultSends = 64
)

// ClientMessage is an inbound message from a viewer.
type ClientMessage struct {
	Action string `json:"action"`
}

// Conn is the part of *gorillawebsocket.Conn the hub uses.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	SetReadLimit(limit int64)
	SetWriteDeadline(t time.Time) error
	SetPongHandler(h func(appData string) error)
	Close() error
}

// Client is one live viewer of one resource.
type Client struct {
	ID       string
	Resource string

	send       chan []byte
	conn       Conn
	lastActive atomic.Int64
	closeOnce  sync.Once
}

// LastActive reports when the client last sent a message or answered a ping.
func (c *Client) LastActive() time.Time {
	return time.Unix(0, c.lastActive.Load())
}

// Hooks let the owner of a resource react to viewer traffic.
type Hooks struct {
	// OnConnect runs after registration, typically to send a first snapshot.
	OnConnect func(c *Client)
	// OnMessage runs for every well-formed inbound message.
	OnMessage func(c *Client, msg ClientMessage)
}

type HubConfig struct {
	MaxPerResource int
	IdleTimeout    time.Duration
	SweepInterval  time.Duration
	PingInterval   time.Duration
	SendBuffer     int
}

// Hub tracks clients by resource. All operations are safe for concurrent use.
// It is not durable: after a restart viewers reconnect and resubscribe.
type Hub struct {
	mu        sync.RWMutex
	resources map[string]map[*Client]struct{}
	all       map[*Client]struct{}

	cfg    HubConfig
	logger zerolog.Logger
	now    func() time.Time
}

func NewHub(cfg HubConfig, logger zerolog.Logger) *Hub {
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = defaultSends
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = 30 * time.Second
	}
	return &Hub{
		resources: make(map[string]map[*Client]struct{}),
		all:       make(map[*Client]struct{}),
		cfg:       cfg,
		logger:    logger.With().Str("component", "ws_hub").Logger(),
		now:       time.Now,
	}
}

func (h *Hub) newClient(resource string, conn Conn) *Client {
	c := &Client{
		ID:       uuid.NewString(),
		Resource: resource,
		send:     make(chan []byte, h.cfg.SendBuffer),
		conn:     conn,
	}
	h.touch(c)
	return c
}

func (h *Hub) touch(c *Client) {
	c.lastActive.Store(h.now().UnixNano())
}

// Full reports whether resource is at its subscriber cap.
func (h *Hub) Full(resource string) bool {
	if h.cfg.MaxPerResource <= 0 {
		return false
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.resources[resource]) >= h.cfg.MaxPerResource
}

// Register adds a client, enforcing the per-resource cap.
func (h *Hub) Register(c *Client) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	set := h.resources[c.Resource]
	if h.cfg.MaxPerResource > 0 && len(set) >= h.cfg.MaxPerResource {
		return ErrTooManySubscribers
	}
	if set == nil {
		set = make(map[*Client]struct{})
		h.resources[c.Resource] = set
	}
	set[c] = struct{}{}
	h.all[c] = struct{}{}
	return nil
}

// Unregister removes a client and closes its transport. Safe to call more
// than once.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	_, ok := h.all[c]
	if ok {
		delete(h.all, c)
		if set := h.resources[c.Resource]; set != nil {
			delete(set, c)
			if len(set) == 0 {
				delete(h.resources, c.Resource)
			}
		}
		close(c.send)
	}
	h.mu.Unlock()

	if ok {
		c.closeOnce.Do(func() {
			if c.conn != nil {
				_ = c.conn.Close()
			}
		})
	}
}

// Broadcast queues data for every client of resource without blocking. A
// client whose buffer is full is dropped; the others still receive it.
// It returns the number of clients the message was queued for.
func (h *Hub) Broadcast(resource string, data []byte) int {
	var slow []*Client
	delivered := 0

	h.mu.RLock()
	for c := range h.resources[resource] {
		select {
		case c.send <- data:
			delivered++
		default:
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range slow {
		h.logger.Warn().Str("client_id", c.ID).Str("resource", resource).Msg("send buffer full, dropping client")
		h.Unregister(c)
	}
	return delivered
}

// SendTo queues data for a single client. It reports false if the client is
// gone or was dropped for a full buffer.
func (h *Hub) SendTo(c *Client, data []byte) bool {
	h.mu.RLock()
	if _, ok := h.all[c]; !ok {
		h.mu.RUnlock()
		return false
	}
	select {
	case c.send <- data:
		h.mu.RUnlock()
		return true
	default:
		h.mu.RUnlock()
		h.Unregister(c)
		return false
	}
}

// Sweep evicts clients idle for longer than the idle timeout and returns how
// many were removed.
func (h *Hub) Sweep() int {
	if h.cfg.IdleTimeout <= 0 {
		return 0
	}
	cutoff := h.now().Add(-h.cfg.IdleTimeout)

	var stale []*Client
	h.mu.RLock()
	for c := range h.all {
		if c.LastActive().Before(cutoff) {
			stale = append(stale, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range stale {
		h.logger.Debug().Str("client_id", c.ID).Str("resource", c.Resource).
			Time("last_active", c.LastActive()).Msg("evicting idle viewer")
		h.Unregister(c)
	}
	if len(stale) > 0 {
		h.logger.Info().Int("evicted", len(stale)).Msg("idle viewers evicted")
	}
	return len(stale)
}

// Run sweeps idle clients until ctx is cancelled, then closes every client.
func (h *Hub) Run(ctx context.Context) error {
	interval := h.cfg.SweepInterval
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			h.CloseAll()
			return nil
		case <-ticker.C:
			h.Sweep()
		}
	}
}

// CloseAll unregisters every client.
func (h *Hub) CloseAll() {
	h.mu.RLock()
	clients := make([]*Client, 0, len(h.all))
	for c := range h.all {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		h.Unregister(c)
	}
}

// ClientCount returns the total number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.all)
}

// ResourceCount returns the number of clients watching resource.
func (h *Hub) ResourceCount(resource string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.resources[resource])
}

// Attach registers a connection for resource and starts its pumps.
func (h *Hub) Attach(resource string, conn Conn, hooks Hooks) (*Client, error) {
	c := h.newClient(resource, conn)
	if err := h.Register(c); err != nil {
		return nil, err
	}

	go h.writePump(c)
	go h.readPump(c, hooks)

	if hooks.OnConnect != nil {
		hooks.OnConnect(c)
	}
	return c, nil
}

func (h *Hub) readPump(c *Client, hooks Hooks) {
	defer h.Unregister(c)

	c.conn.SetReadLimit(maxMessage)
	c.conn.SetPongHandler(func(string) error {
		h.touch(c)
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if gorillawebsocket.IsUnexpectedCloseError(err, gorillawebsocket.CloseGoingAway, gorillawebsocket.CloseNormalClosure) {
				h.logger.Debug().Err(err).Str("client_id", c.ID).Msg("read failed")
			}
			return
		}
		h.touch(c)

		var msg ClientMessage
		if err := json.Unmarshal(raw, &msg); err != nil || msg.Action == "" {
			h.logger.Warn().Str("client_id", c.ID).Str("resource", c.Resource).Msg("ignoring malformed client message")
			continue
		}
		if hooks.OnMessage != nil {
			hooks.OnMessage(c, msg)
		}
	}
}

func (h *Hub) writePump(c *Client) {
	ticker := time.NewTicker(h.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(h.now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(gorillawebsocket.CloseMessage,
					gorillawebsocket.FormatCloseMessage(gorillawebsocket.CloseNormalClosure, ""))
				return
			}
			if err := c.conn.WriteMessage(gorillawebsocket.TextMessage, msg); err != nil {
				h.logger.Warn().Err(err).Str("client_id", c.ID).Msg("write failed, dropping client")
				h.Unregister(c)
				return
			}
		case <-ticker.C:
			if err := c.conn.WriteControl(gorillawebsocket.PingMessage, nil, h.now().Add(writeWait)); err != nil {
				h.Unregister(c)
				return
			}
		}
	}
}

var upgrader = gorillawebsocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Serve upgrades the request and attaches it to resource. A full resource is
// refused with 429 before the upgrade; if the cap is reached between the
// check and registration the socket is closed with code 1013.
func (h *Hub) Serve(c echo.Context, resource string, hooks Hooks) error {
	if h.Full(resource) {
		return echo.NewHTTPError(http.StatusTooManyRequests, ErrTooManySubscribers.Error())
	}

	ws, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		// Upgrade has already written the HTTP error.
		return nil
	}

	if _, err := h.Attach(resource, ws, hooks); err != nil {
		msg := gorillawebsocket.FormatCloseMessage(CloseTryAgainLater, err.Error())
		_ = ws.WriteControl(gorillawebsocket.CloseMessage, msg, h.now().Add(writeWait))
		_ = ws.Close()
	}
	return nil
}
