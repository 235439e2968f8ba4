package agentapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

// Client talks to an agent runtime over HTTP, with WebSocket event streams.
// One Client is shared by reference across concurrent runs; the underlying
// http.Client and per-stream websocket connections carry their own
// concurrency guarantees.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
	dialer  *websocket.Dialer
}

// ClientConfig configures a runtime client.
type ClientConfig struct {
	BaseURL string        // e.g. "http://localhost:7700"
	Token   string        // optional bearer token
	Timeout time.Duration // per control-call timeout
}

// NewClient creates a runtime client.
func NewClient(cfg ClientConfig) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("agent runtime base URL is required")
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		token:   cfg.Token,
		http:    &http.Client{Timeout: cfg.Timeout},
		dialer:  &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
	}, nil
}

// CreateSession implements Runtime.
func (c *Client) CreateSession(ctx context.Context, id string, opts SessionOptions) error {
	return c.post(ctx, "/v1/sessions/"+url.PathEscape(id), opts, nil)
}

// StreamTurn implements Runtime. The turn message is sent as the first
// websocket frame; every subsequent frame from the server is one Event.
func (c *Client) StreamTurn(ctx context.Context, id string, message string) (EventStream, error) {
	wsURL, err := c.websocketURL("/v1/sessions/" + url.PathEscape(id) + "/stream")
	if err != nil {
		return nil, err
	}

	header := http.Header{}
	if c.token != "" {
		header.Set("Authorization", "Bearer "+c.token)
	}
	conn, resp, err := c.dialer.DialContext(ctx, wsURL, header)
	if err != nil {
		if resp != nil {
			resp.Body.Close()
		}
		return nil, fmt.Errorf("dial event stream: %w", err)
	}
	if resp != nil {
		resp.Body.Close()
	}

	turn := map[string]string{"message": message}
	if err := conn.WriteJSON(turn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("submit turn: %w", err)
	}
	return &wsStream{conn: conn}, nil
}

// wsStream adapts a websocket connection to EventStream.
type wsStream struct {
	conn   *websocket.Conn
	closed bool
}

func (s *wsStream) Next(ctx context.Context) (Event, error) {
	if deadline, ok := ctx.Deadline(); ok {
		_ = s.conn.SetReadDeadline(deadline)
	} else {
		_ = s.conn.SetReadDeadline(time.Time{})
	}

	var ev Event
	if err := s.conn.ReadJSON(&ev); err != nil {
		if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
			return Event{}, io.EOF
		}
		return Event{}, err
	}
	return ev, nil
}

func (s *wsStream) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	return s.conn.Close()
}

// eventsPage is the runtime's paged event-log response.
type eventsPage struct {
	Events  []Event `json:"events"`
	HasMore bool    `json:"has_more"`
}

// Events implements Runtime.
func (c *Client) Events(ctx context.Context, id string, offset, limit int) ([]Event, bool, error) {
	path := fmt.Sprintf("/v1/sessions/%s/events?offset=%d&limit=%d", url.PathEscape(id), offset, limit)
	var page eventsPage
	if err := c.get(ctx, path, &page); err != nil {
		return nil, false, err
	}
	return page.Events, page.HasMore, nil
}

// ReplyPermission implements Runtime.
func (c *Client) ReplyPermission(ctx context.Context, id, actionID string, reply PermissionReply) error {
	path := "/v1/sessions/" + url.PathEscape(id) + "/permissions/" + url.PathEscape(actionID)
	return c.post(ctx, path, map[string]string{"reply": string(reply)}, nil)
}

// RejectQuestion implements Runtime.
func (c *Client) RejectQuestion(ctx context.Context, id, actionID string) error {
	path := "/v1/sessions/" + url.PathEscape(id) + "/questions/" + url.PathEscape(actionID) + "/reject"
	return c.post(ctx, path, nil, nil)
}

// TerminateSession implements Runtime.
func (c *Client) TerminateSession(ctx context.Context, id string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.baseURL+"/v1/sessions/"+url.PathEscape(id), nil)
	if err != nil {
		return err
	}
	return c.do(req, nil)
}

func (c *Client) websocketURL(path string) (string, error) {
	u, err := url.Parse(c.baseURL + path)
	if err != nil {
		return "", fmt.Errorf("parse runtime URL: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	return u.String(), nil
}

func (c *Client) post(ctx context.Context, path string, body, out interface{}) error {
	var rdr io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rdr = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, rdr)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) get(ctx context.Context, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out interface{}) error {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &APIError{Status: resp.StatusCode, Body: strings.TrimSpace(string(data))}
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode runtime response: %w", err)
		}
	}
	return nil
}

// APIError is a non-2xx runtime response.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("agent runtime returned %d: %s", e.Status, e.Body)
}

// IsTransient classifies errors the runner may recover from by falling back
// to polling: broken or refused connections, timeouts, unexpected stream
// closure, and runtime 5xx/429 responses. Everything else is fatal.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Status >= 500 || apiErr.Status == http.StatusTooManyRequests
	}
	if errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	if websocket.IsUnexpectedCloseError(err) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "connection reset") ||
		strings.Contains(msg, "broken pipe") ||
		strings.Contains(msg, "use of closed network connection")
}
