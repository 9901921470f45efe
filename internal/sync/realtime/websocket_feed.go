package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/colabottles/basketbuddy/internal/logging"
	"github.com/colabottles/basketbuddy/internal/models"
)

const (
	ackTimeout       = 10 * time.Second
	reconnectBase    = 500 * time.Millisecond
	reconnectMax     = 30 * time.Second
	reconnectJitter  = 0.2
	websocketBuffer  = 256
	maxMessageBytes  = 1 << 20
	realtimePathBase = "/realtime/v1/lists/"
)

// WebSocketFeed opens change feeds on the remote's realtime endpoint.
type WebSocketFeed struct {
	baseURL string
	header  http.Header
	dialer  *websocket.Dialer
}

// NewWebSocketFeed creates a feed for the remote at baseURL. http and https
// urls are mapped to ws and wss.
func NewWebSocketFeed(baseURL, token, userID string) *WebSocketFeed {
	base := strings.TrimRight(baseURL, "/")
	switch {
	case strings.HasPrefix(base, "https://"):
		base = "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		base = "ws://" + strings.TrimPrefix(base, "http://")
	}
	header := http.Header{}
	if token != "" {
		header.Set("Authorization", "Bearer "+token)
	}
	if userID != "" {
		header.Set("X-User-ID", userID)
	}
	return &WebSocketFeed{
		baseURL: base,
		header:  header,
		dialer: &websocket.Dialer{
			HandshakeTimeout: ackTimeout,
		},
	}
}

func (f *WebSocketFeed) endpoint(listID string) string {
	return f.baseURL + realtimePathBase + url.PathEscape(listID)
}

// Open dials the list's feed and waits for the server's subscribed ack.
func (f *WebSocketFeed) Open(ctx context.Context, listID string) (Channel, error) {
	conn, err := f.connect(ctx, listID)
	if err != nil {
		return nil, err
	}
	c := &wsChannel{
		feed:   f,
		listID: listID,
		conn:   conn,
		events: make(chan models.ChangeEvent, websocketBuffer),
		done:   make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

func (f *WebSocketFeed) connect(ctx context.Context, listID string) (*websocket.Conn, error) {
	conn, resp, err := f.dialer.DialContext(ctx, f.endpoint(listID), f.header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("failed to dial change feed: %s: %w", resp.Status, err)
		}
		return nil, fmt.Errorf("failed to dial change feed: %w", err)
	}
	conn.SetReadLimit(maxMessageBytes)

	conn.SetReadDeadline(time.Now().Add(ackTimeout))
	var env models.Envelope
	if err := conn.ReadJSON(&env); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to read subscribe ack: %w", err)
	}
	if env.Type != models.EnvelopeSubscribed || env.ListID != listID {
		conn.Close()
		return nil, fmt.Errorf("unexpected first message %q for list %q", env.Type, env.ListID)
	}
	conn.SetReadDeadline(time.Time{})
	return conn, nil
}

type wsChannel struct {
	feed   *WebSocketFeed
	listID string
	events chan models.ChangeEvent
	done   chan struct{}
	once   sync.Once

	mu   sync.Mutex
	conn *websocket.Conn
}

func (c *wsChannel) Events() <-chan models.ChangeEvent { return c.events }

func (c *wsChannel) Close() error {
	var err error
	c.once.Do(func() {
		close(c.done)
		c.mu.Lock()
		if c.conn != nil {
			c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
			err = c.conn.Close()
		}
		c.mu.Unlock()
	})
	return err
}

func (c *wsChannel) closed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// readLoop owns events and closes it on exit.
func (c *wsChannel) readLoop() {
	defer close(c.events)

	for {
		c.mu.Lock()
		conn := c.conn
		c.mu.Unlock()

		c.read(conn)
		if c.closed() {
			return
		}
		if !c.reconnect() {
			return
		}
	}
}

func (c *wsChannel) read(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if !c.closed() {
				logging.Debug("change feed read failed", map[string]interface{}{
					"list_id": c.listID,
					"error":   err.Error(),
				})
			}
			return
		}

		var env models.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			logging.WarnErr("invalid change feed message", err, map[string]interface{}{"list_id": c.listID})
			continue
		}
		if env.Type != models.EnvelopeChange || env.Data == nil {
			continue
		}
		select {
		case c.events <- *env.Data:
		case <-c.done:
			return
		}
	}
}

// reconnect dials until it succeeds or the channel is closed.
func (c *wsChannel) reconnect() bool {
	for attempt := 1; ; attempt++ {
		delay := reconnectDelay(attempt)
		logging.Info("reconnecting change feed", map[string]interface{}{
			"list_id": c.listID,
			"attempt": attempt,
			"delay":   delay.String(),
		})

		timer := time.NewTimer(delay)
		select {
		case <-c.done:
			timer.Stop()
			return false
		case <-timer.C:
		}

		ctx, cancel := context.WithTimeout(context.Background(), ackTimeout)
		conn, err := c.feed.connect(ctx, c.listID)
		cancel()
		if err != nil {
			logging.WarnErr("change feed reconnect failed", err, map[string]interface{}{"list_id": c.listID})
			continue
		}

		c.mu.Lock()
		if c.closed() {
			c.mu.Unlock()
			conn.Close()
			return false
		}
		c.conn = conn
		c.mu.Unlock()
		return true
	}
}

// reconnectDelay is base*2^(attempt-1), capped, with +/-20% jitter.
func reconnectDelay(attempt int) time.Duration {
	shift := attempt - 1
	if shift > 16 {
		shift = 16
	}
	d := reconnectBase << shift
	if d > reconnectMax {
		d = reconnectMax
	}
	spread := float64(d) * reconnectJitter
	return d + time.Duration(spread*(2*rand.Float64()-1))
}
