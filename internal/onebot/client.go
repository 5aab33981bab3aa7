package onebot

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	defaultCallTimeout = 30 * time.Second
	reconnectBaseDelay = 2 * time.Second
	reconnectMaxDelay  = 60 * time.Second
)

// EventHandler receives every inbound gateway event. Handlers must not
// block; long work belongs in their own goroutines.
type EventHandler func(ev *Event)

// Client is a OneBot v11 forward-websocket client. It dials the bot
// implementation, correlates API calls with responses via echo IDs, and
// delivers push events to a handler. Reconnects with backoff on drop.
type Client struct {
	url         string
	accessToken string
	selfID      atomic.Int64 // learned from lifecycle events after connect
	callTimeout time.Duration

	handler EventHandler

	mu      sync.Mutex
	conn    *websocket.Conn
	pending map[string]chan apiResponse

	closed chan struct{}
	once   sync.Once
}

type apiRequest struct {
	Action string `json:"action"`
	Params any    `json:"params,omitempty"`
	Echo   string `json:"echo"`
}

type apiResponse struct {
	Status  string          `json:"status"`
	RetCode int             `json:"retcode"`
	Data    json.RawMessage `json:"data"`
	Echo    string          `json:"echo"`
	Message string          `json:"message,omitempty"`
}

// ClientConfig configures a gateway connection.
type ClientConfig struct {
	URL         string // ws:// endpoint of the bot implementation
	AccessToken string
	SelfID      int64 // bot account; filled from lifecycle event when zero
	CallTimeout time.Duration
}

func NewClient(cfg ClientConfig, handler EventHandler) *Client {
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = defaultCallTimeout
	}
	c := &Client{
		url:         cfg.URL,
		accessToken: cfg.AccessToken,
		callTimeout: cfg.CallTimeout,
		handler:     handler,
		pending:     make(map[string]chan apiResponse),
		closed:      make(chan struct{}),
	}
	c.selfID.Store(cfg.SelfID)
	return c
}

// Run connects and pumps events until ctx is cancelled. Reconnects with
// exponential backoff; in-flight calls against a dropped conn fail.
func (c *Client) Run(ctx context.Context) error {
	delay := reconnectBaseDelay
	for {
		if err := c.connect(ctx); err != nil {
			slog.Warn("gateway connect failed", "url", c.url, "error", err, "retry_in", delay)
		} else {
			delay = reconnectBaseDelay
			c.readPump(ctx)
		}

		select {
		case <-ctx.Done():
			c.Close()
			return ctx.Err()
		case <-time.After(delay):
		}
		if delay *= 2; delay > reconnectMaxDelay {
			delay = reconnectMaxDelay
		}
	}
}

func (c *Client) connect(ctx context.Context) error {
	header := http.Header{}
	if c.accessToken != "" {
		header.Set("Authorization", "Bearer "+c.accessToken)
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.url, header)
	if err != nil {
		return fmt.Errorf("onebot: dial %s: %w", c.url, err)
	}
	conn.SetReadLimit(8 << 20)

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()

	slog.Info("gateway connected", "url", c.url)
	return nil
}

// readPump reads frames until the connection drops. Response frames (with
// an echo) are routed to their pending call; everything else is an event.
func (c *Client) readPump(ctx context.Context) {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return
	}

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			slog.Warn("gateway read failed", "error", err)
			c.failPending(err)
			return
		}

		var probe struct {
			Echo     string `json:"echo"`
			PostType string `json:"post_type"`
		}
		if err := json.Unmarshal(data, &probe); err != nil {
			slog.Debug("gateway frame not json", "len", len(data))
			continue
		}

		if probe.Echo != "" {
			var resp apiResponse
			if err := json.Unmarshal(data, &resp); err != nil {
				continue
			}
			c.mu.Lock()
			ch, ok := c.pending[resp.Echo]
			delete(c.pending, resp.Echo)
			c.mu.Unlock()
			if ok {
				ch <- resp
			}
			continue
		}

		if probe.PostType == PostMetaEvent {
			c.handleMeta(data)
			continue
		}

		ev, err := ParseEvent(data)
		if err != nil {
			slog.Debug("gateway event parse failed", "error", err)
			continue
		}
		if ev.SelfID != 0 {
			c.selfID.CompareAndSwap(0, ev.SelfID)
		}
		if c.handler != nil {
			c.handler(ev)
		}
	}
}

func (c *Client) handleMeta(data []byte) {
	var meta struct {
		MetaEventType string `json:"meta_event_type"`
		SelfID        int64  `json:"self_id"`
	}
	if json.Unmarshal(data, &meta) == nil && meta.SelfID != 0 {
		c.selfID.CompareAndSwap(0, meta.SelfID)
	}
}

func (c *Client) failPending(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for echo, ch := range c.pending {
		close(ch)
		delete(c.pending, echo)
	}
	_ = err
}

// call performs one action round-trip and decodes data into out (when non-nil).
func (c *Client) call(ctx context.Context, action string, params any, out any) error {
	echo := uuid.NewString()
	ch := make(chan apiResponse, 1)

	c.mu.Lock()
	conn := c.conn
	if conn == nil {
		c.mu.Unlock()
		return fmt.Errorf("onebot: %s: not connected", action)
	}
	c.pending[echo] = ch
	err := conn.WriteJSON(apiRequest{Action: action, Params: params, Echo: echo})
	c.mu.Unlock()

	if err != nil {
		c.dropPending(echo)
		return fmt.Errorf("onebot: %s: write: %w", action, err)
	}

	select {
	case <-ctx.Done():
		c.dropPending(echo)
		return ctx.Err()
	case <-time.After(c.callTimeout):
		c.dropPending(echo)
		return fmt.Errorf("onebot: %s: timed out after %s", action, c.callTimeout)
	case resp, ok := <-ch:
		if !ok {
			return fmt.Errorf("onebot: %s: connection lost", action)
		}
		if resp.Status == "failed" || resp.RetCode != 0 {
			return fmt.Errorf("onebot: %s: retcode %d: %s", action, resp.RetCode, resp.Message)
		}
		if out != nil && len(resp.Data) > 0 {
			if err := json.Unmarshal(resp.Data, out); err != nil {
				return fmt.Errorf("onebot: %s: decode response: %w", action, err)
			}
		}
		return nil
	}
}

func (c *Client) dropPending(echo string) {
	c.mu.Lock()
	delete(c.pending, echo)
	c.mu.Unlock()
}

// Close shuts the connection down. Safe to call more than once.
func (c *Client) Close() {
	c.once.Do(func() { close(c.closed) })
	c.mu.Lock()
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	c.mu.Unlock()
}
