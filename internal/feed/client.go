package feed

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// SubscribeRequest is the first frame sent on a fresh change-feed
// connection. Filters are server-side predicates (e.g. cohort_id for
// cohort_messages); After resumes from a previously seen cursor.
type SubscribeRequest struct {
	RequestID string            `json:"request_id"`
	Tables    []Table           `json:"tables"`
	Filters   map[string]string `json:"filters,omitempty"`
	After     string            `json:"after,omitempty"`
}

// Dialer opens change-feed connections against the portal's realtime
// endpoint.
type Dialer struct {
	URL              string
	HandshakeTimeout time.Duration
	Logger           *zap.Logger
}

// Client is one live change-feed connection. It satisfies the lifecycle
// manager's Stream contract: notifications on Events, a terminal error
// on Errs, teardown via Close.
type Client struct {
	conn   *websocket.Conn
	events chan Notification
	errs   chan error
	done   chan struct{}
	logger *zap.Logger
}

// Open dials the feed endpoint and sends the subscribe request. The
// returned client is already pumping notifications.
func (d *Dialer) Open(ctx context.Context, req SubscribeRequest) (*Client, error) {
	wsd := websocket.Dialer{HandshakeTimeout: d.HandshakeTimeout}
	if wsd.HandshakeTimeout == 0 {
		wsd.HandshakeTimeout = 10 * time.Second
	}
	conn, _, err := wsd.DialContext(ctx, d.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("dial feed %s: %w", d.URL, err)
	}

	if req.RequestID == "" {
		req.RequestID = uuid.New().String()
	}
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(req); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("send subscribe request: %w", err)
	}

	logger := d.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Client{
		conn:   conn,
		events: make(chan Notification, 256),
		errs:   make(chan error, 1),
		done:   make(chan struct{}),
		logger: logger,
	}
	go c.readLoop()
	go c.pingLoop()
	return c, nil
}

// Events returns the notification stream. The channel is closed when
// the connection ends.
func (c *Client) Events() <-chan Notification { return c.events }

// Errs delivers at most one terminal transport error.
func (c *Client) Errs() <-chan error { return c.errs }

// Close tears the connection down. Safe to call after an error.
func (c *Client) Close() error {
	select {
	case <-c.done:
		return nil
	default:
	}
	close(c.done)
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	_ = c.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	return c.conn.Close()
}

func (c *Client) readLoop() {
	defer close(c.events)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		var n Notification
		if err := c.conn.ReadJSON(&n); err != nil {
			select {
			case <-c.done:
				// Local close, not a transport failure.
			default:
				c.logger.Warn("feed read failed", zap.Error(err))
				c.errs <- err
			}
			return
		}
		select {
		case c.events <- n:
		case <-c.done:
			return
		}
	}
}

func (c *Client) pingLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}
