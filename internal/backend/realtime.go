package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/ernie/gamehost/internal/domain"
	"github.com/gorilla/websocket"
)

const subscriptionRef = "1"

// realtimeMessage mirrors the backend's websocket frames
type realtimeMessage struct {
	Type     string          `json:"type"`
	Ref      string          `json:"ref,omitempty"`
	Table    string          `json:"table,omitempty"`
	ServerID string          `json:"server_id,omitempty"`
	Event    string          `json:"event,omitempty"`
	Row      json.RawMessage `json:"row,omitempty"`
	Message  string          `json:"message,omitempty"`
}

// wsSubscription owns one websocket connection carrying a single subscription
type wsSubscription struct {
	conn    *websocket.Conn
	once    sync.Once
	closing chan struct{}
	done    chan struct{}
}

// Subscribe opens a websocket, subscribes and waits for the backend to confirm.
// Events are delivered to fn on a dedicated goroutine until Unsubscribe.
func (c *HTTP) Subscribe(ctx context.Context, accessToken, table, serverID string, fn func(domain.ChangeEvent)) (Subscription, error) {
	wsURL, err := c.realtimeURL(accessToken)
	if err != nil {
		return nil, err
	}

	conn, resp, err := c.dialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		if resp != nil {
			return nil, decodeAPIError(resp)
		}
		return nil, fmt.Errorf("connecting to realtime: %w", err)
	}

	if deadline, ok := ctx.Deadline(); ok {
		conn.SetReadDeadline(deadline)
	} else {
		conn.SetReadDeadline(time.Now().Add(10 * time.Second))
	}
	if err := conn.WriteJSON(realtimeMessage{Type: "subscribe", Ref: subscriptionRef, Table: table, ServerID: serverID}); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sending subscribe: %w", err)
	}

	var reply realtimeMessage
	if err := conn.ReadJSON(&reply); err != nil {
		conn.Close()
		return nil, fmt.Errorf("waiting for subscription: %w", err)
	}
	if reply.Type == "error" {
		conn.Close()
		return nil, &APIError{StatusCode: 400, Message: reply.Message}
	}
	if reply.Type != "subscribed" {
		conn.Close()
		return nil, fmt.Errorf("unexpected realtime reply %q", reply.Type)
	}
	conn.SetReadDeadline(time.Time{})
	conn.SetPingHandler(func(data string) error {
		return conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(5*time.Second))
	})

	sub := &wsSubscription{conn: conn, closing: make(chan struct{}), done: make(chan struct{})}
	go sub.readLoop(fn)
	return sub, nil
}

func (c *HTTP) realtimeURL(accessToken string) (string, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return "", fmt.Errorf("parsing backend url: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http":
		u.Scheme = "ws"
	default:
		return "", fmt.Errorf("unsupported backend url scheme %q", u.Scheme)
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/realtime/v1/websocket"
	q := url.Values{"apikey": {c.anonKey}}
	if accessToken != "" {
		q.Set("token", accessToken)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (s *wsSubscription) readLoop(fn func(domain.ChangeEvent)) {
	defer close(s.done)
	for {
		var msg realtimeMessage
		if err := s.conn.ReadJSON(&msg); err != nil {
			select {
			case <-s.closing:
			default:
				log.Printf("Realtime connection lost: %v", err)
			}
			return
		}
		if msg.Type != "change" {
			continue
		}
		fn(domain.ChangeEvent{Event: msg.Event, Table: msg.Table, ServerID: msg.ServerID, Row: msg.Row})
	}
}

// Unsubscribe closes the connection and waits for the delivery goroutine to
// exit, so fn is never called after it returns. Safe to call more than once,
// but not from inside fn.
func (s *wsSubscription) Unsubscribe() {
	s.once.Do(func() {
		close(s.closing)
		s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		s.conn.Close()
		<-s.done
	})
}
