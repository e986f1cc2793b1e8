package api

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/ernie/gamehost/internal/auth"
	"github.com/ernie/gamehost/internal/domain"
	"github.com/ernie/gamehost/internal/metrics"
	"github.com/ernie/gamehost/internal/realtime"
	"github.com/gorilla/websocket"
)

const (
	maxSubscriptionsPerConn = 32
	realtimePongWait        = 60 * time.Second
	realtimePingPeriod      = 30 * time.Second
	realtimeWriteWait       = 10 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // API key and token gate access, not origin
	},
}

// RealtimeMessage is exchanged over the realtime websocket in both directions.
// Clients send "subscribe" and "unsubscribe"; the server answers with
// "subscribed", "unsubscribed", "change" and "error".
type RealtimeMessage struct {
	Type     string          `json:"type"`
	Ref      string          `json:"ref,omitempty"`
	Table    string          `json:"table,omitempty"`
	ServerID string          `json:"server_id,omitempty"`
	Event    string          `json:"event,omitempty"`
	Row      json.RawMessage `json:"row,omitempty"`
	Message  string          `json:"message,omitempty"`
}

// realtimeClient is one websocket connection holding any number of filtered subscriptions
type realtimeClient struct {
	conn   *websocket.Conn
	send   chan []byte
	done   chan struct{}
	bus    *realtime.Bus
	claims *auth.Claims
	// expires is when the token presented at upgrade lapses; zero for anonymous connections
	expires time.Time

	mu   sync.Mutex
	subs map[string]*realtime.Subscription
}

// handleRealtime upgrades to a websocket carrying table change subscriptions
func (r *Router) handleRealtime(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	query := req.URL.Query()
	if r.opts.AnonKey != "" && !keyEqual(query.Get("apikey"), r.opts.AnonKey) {
		writeError(w, http.StatusUnauthorized, "invalid api key")
		return
	}
	if r.bus == nil {
		writeError(w, http.StatusServiceUnavailable, "realtime is not available")
		return
	}

	// WebSocket can't send headers on upgrade, so the token travels in the query
	var claims *auth.Claims
	if token := query.Get("token"); token != "" {
		c, err := r.auth.ValidateToken(token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid token")
			return
		}
		claims = c
	}

	conn, err := upgrader.Upgrade(w, req, nil)
	if err != nil {
		log.Printf("Realtime WebSocket upgrade error: %v", err)
		return
	}

	client := &realtimeClient{
		conn:   conn,
		send:   make(chan []byte, 256),
		done:   make(chan struct{}),
		bus:    r.bus,
		claims: claims,
		subs:   make(map[string]*realtime.Subscription),
	}
	if claims != nil && claims.ExpiresAt != nil {
		client.expires = claims.ExpiresAt.Time
	}
	go client.writePump()
	go client.readPump()
}

// readPump handles subscribe/unsubscribe requests until the connection closes
func (c *realtimeClient) readPump() {
	defer func() {
		c.unsubscribeAll()
		close(c.done)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(4096)
	c.conn.SetReadDeadline(time.Now().Add(realtimePongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(realtimePongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNoStatusReceived) {
				log.Printf("Realtime WebSocket error: %v", err)
			}
			return
		}

		var msg RealtimeMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			c.reply(RealtimeMessage{Type: "error", Message: "malformed message"})
			continue
		}
		switch msg.Type {
		case "subscribe":
			c.subscribe(msg)
		case "unsubscribe":
			c.unsubscribe(msg.Ref)
			c.reply(RealtimeMessage{Type: "unsubscribed", Ref: msg.Ref})
		default:
			c.reply(RealtimeMessage{Type: "error", Ref: msg.Ref, Message: "unknown message type"})
		}
	}
}

func (c *realtimeClient) subscribe(msg RealtimeMessage) {
	fail := func(text string) {
		c.reply(RealtimeMessage{Type: "error", Ref: msg.Ref, Message: text})
	}
	if msg.Ref == "" {
		fail("ref is required")
		return
	}
	if msg.Table == domain.TableServerCommands && (c.claims == nil || !c.claims.IsAdmin) {
		fail("admin access required")
		return
	}

	c.mu.Lock()
	_, exists := c.subs[msg.Ref]
	tooMany := len(c.subs) >= maxSubscriptionsPerConn
	c.mu.Unlock()
	if exists {
		fail("ref already in use")
		return
	}
	if tooMany {
		fail("too many subscriptions")
		return
	}

	ref := msg.Ref
	sub, err := c.bus.Subscribe(msg.Table, msg.ServerID, func(ev domain.ChangeEvent) {
		c.deliver(RealtimeMessage{
			Type:     "change",
			Ref:      ref,
			Table:    ev.Table,
			ServerID: ev.ServerID,
			Event:    ev.Event,
			Row:      ev.Row,
		})
	})
	if err != nil {
		fail(err.Error())
		return
	}

	c.mu.Lock()
	c.subs[ref] = sub
	c.mu.Unlock()
	metrics.RealtimeSubscriptions.Inc()
	c.reply(RealtimeMessage{Type: "subscribed", Ref: ref, Table: msg.Table, ServerID: msg.ServerID})
}

func (c *realtimeClient) unsubscribe(ref string) {
	c.mu.Lock()
	sub, ok := c.subs[ref]
	delete(c.subs, ref)
	c.mu.Unlock()
	if ok {
		sub.Unsubscribe()
		metrics.RealtimeSubscriptions.Dec()
	}
}

func (c *realtimeClient) unsubscribeAll() {
	c.mu.Lock()
	subs := c.subs
	c.subs = make(map[string]*realtime.Subscription)
	c.mu.Unlock()
	for _, sub := range subs {
		sub.Unsubscribe()
		metrics.RealtimeSubscriptions.Dec()
	}
}

// reply queues a control message, blocking until it is queued or the connection ends
func (c *realtimeClient) reply(msg RealtimeMessage) {
	data, _ := json.Marshal(msg)
	select {
	case c.send <- data:
	case <-c.done:
	}
}

// deliver queues a change event; it is dropped if the client is not keeping up
func (c *realtimeClient) deliver(msg RealtimeMessage) {
	data, _ := json.Marshal(msg)
	select {
	case c.send <- data:
	case <-c.done:
	default:
		log.Printf("Dropping realtime event for slow client (ref %s)", msg.Ref)
	}
}

// writePump sends queued messages and keepalive pings
func (c *realtimeClient) writePump() {
	ticker := time.NewTicker(realtimePingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	// Subscriptions are authorized once at upgrade, so the connection ends with the token
	var expired <-chan time.Time
	if !c.expires.IsZero() {
		timer := time.NewTimer(time.Until(c.expires))
		defer timer.Stop()
		expired = timer.C
	}

	for {
		select {
		case <-expired:
			data, _ := json.Marshal(RealtimeMessage{Type: "error", Message: "session expired"})
			c.conn.SetWriteDeadline(time.Now().Add(realtimeWriteWait))
			c.conn.WriteMessage(websocket.TextMessage, data)
			c.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "session expired"))
			return

		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(realtimeWriteWait))
			c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return

		case message := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(realtimeWriteWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(realtimeWriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
