// Package bridge implements the robot collaborator interfaces over a
// WebSocket connection to the robot-side bridge process.
//
// Every call is a JSON request frame answered by exactly one response frame
// carrying the same id:
//
//	→ {"id":7,"method":"tts.say","params":{"text":"Hello"}}
//	← {"id":7,"result":null}
//	← {"id":8,"error":"ALTextToSpeech not running"}
//
// Requests may be in flight concurrently; a single receive loop routes
// responses to their callers. Transport failures, request timeouts and error
// responses all wrap [robot.ErrUnavailable]. Cancelling the caller's context
// returns ctx.Err() instead.
package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/MrWong99/interviewer/internal/observe"
	"github.com/MrWong99/interviewer/pkg/robot"
)

const (
	defaultConnectTimeout = 5 * time.Second
	defaultRequestTimeout = 10 * time.Second
)

// ErrClosed is returned by calls made after [Client.Close] or after the
// connection dropped.
var ErrClosed = errors.New("bridge: connection closed")

// RemoteError is an error response sent by the bridge.
type RemoteError struct {
	Method  string
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("bridge: %s: remote error: %s", e.Method, e.Message)
}

// ── Options ────────────────────────────────────────────────────────────────────

// Option configures a [Client].
type Option func(*Client)

// WithConnectTimeout bounds the WebSocket handshake. Default: 5s.
func WithConnectTimeout(d time.Duration) Option {
	return func(c *Client) { c.connectTimeout = d }
}

// WithRequestTimeout bounds every request. Say blocks until playback is
// done, so this must exceed the longest prompt. Default: 10s.
func WithRequestTimeout(d time.Duration) Option {
	return func(c *Client) { c.requestTimeout = d }
}

// WithHTTPHeader adds headers to the handshake request.
func WithHTTPHeader(h http.Header) Option {
	return func(c *Client) { c.header = h }
}

// ── Client ─────────────────────────────────────────────────────────────────────

type request struct {
	ID     uint64 `json:"id"`
	Method string `json:"method"`
	Params any    `json:"params,omitempty"`
}

type response struct {
	ID     uint64          `json:"id"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`
}

// Client is a connection to the robot bridge. It is safe for concurrent use.
type Client struct {
	url            string
	header         http.Header
	connectTimeout time.Duration
	requestTimeout time.Duration

	conn   *websocket.Conn
	nextID atomic.Uint64

	mu      sync.Mutex
	pending map[uint64]chan response
	err     error // set once the receive loop exits

	ctx       context.Context
	cancel    context.CancelFunc
	done      chan struct{}
	closing   atomic.Bool
	closeOnce sync.Once
}

// Dial connects to the bridge at url ("ws://" or "wss://"). The returned
// client must be closed with [Client.Close].
func Dial(ctx context.Context, url string, opts ...Option) (*Client, error) {
	c := &Client{
		url:            url,
		connectTimeout: defaultConnectTimeout,
		requestTimeout: defaultRequestTimeout,
		pending:        make(map[uint64]chan response),
		done:           make(chan struct{}),
	}
	for _, o := range opts {
		o(c)
	}

	dialCtx, cancel := context.WithTimeout(ctx, c.connectTimeout)
	defer cancel()
	conn, _, err := websocket.Dial(dialCtx, url, &websocket.DialOptions{HTTPHeader: c.header})
	if err != nil {
		return nil, fmt.Errorf("bridge: dial %s: %w: %w", url, robot.ErrUnavailable, err)
	}
	c.conn = conn
	c.ctx, c.cancel = context.WithCancel(context.Background())

	go c.receiveLoop()

	observe.Logger(ctx).Info("robot bridge connected", "url", url)
	return c, nil
}

// Robot returns every collaborator role served by this client.
func (c *Client) Robot() robot.Robot {
	return robot.Robot{
		Speech:     c,
		Activity:   c.Sound(),
		Recognizer: c.ASR(),
		Motors:     c,
		System:     c,
	}
}

// Ping checks that the bridge answers requests. Used as a readiness check.
func (c *Client) Ping(ctx context.Context) error {
	return c.call(ctx, "bridge.ping", nil, nil)
}

// Close closes the connection and fails every pending call with [ErrClosed].
// It is safe to call more than once.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.closing.Store(true)
		err = c.conn.Close(websocket.StatusNormalClosure, "interviewer shutting down")
		c.cancel()
		<-c.done
	})
	if errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}

// receiveLoop routes response frames to pending calls. It owns c.done and
// fails every outstanding call when it exits.
func (c *Client) receiveLoop() {
	defer close(c.done)

	var exitErr error
	for {
		_, data, err := c.conn.Read(c.ctx)
		if err != nil {
			exitErr = err
			break
		}

		var resp response
		if err := json.Unmarshal(data, &resp); err != nil {
			observe.Logger(c.ctx).Warn("dropping malformed bridge frame", "err", err)
			continue
		}

		c.mu.Lock()
		ch, ok := c.pending[resp.ID]
		delete(c.pending, resp.ID)
		c.mu.Unlock()
		if !ok {
			observe.Logger(c.ctx).Debug("response for unknown request", "id", resp.ID)
			continue
		}
		ch <- resp
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closing.Load() {
		c.err = ErrClosed
	} else {
		c.err = fmt.Errorf("%w: %w", ErrClosed, exitErr)
		observe.Logger(c.ctx).Error("robot bridge connection lost", "err", exitErr)
	}
	for id, ch := range c.pending {
		close(ch)
		delete(c.pending, id)
	}
}

// call sends method with params and decodes the result into out (if non-nil).
func (c *Client) call(ctx context.Context, method string, params, out any) error {
	id := c.nextID.Add(1)
	ch := make(chan response, 1)

	c.mu.Lock()
	if c.err != nil {
		err := c.err
		c.mu.Unlock()
		return fmt.Errorf("bridge: %s: %w: %w", method, robot.ErrUnavailable, err)
	}
	c.pending[id] = ch
	c.mu.Unlock()

	reqCtx, cancel := context.WithTimeout(ctx, c.requestTimeout)
	defer cancel()

	if err := wsjson.Write(reqCtx, c.conn, request{ID: id, Method: method, Params: params}); err != nil {
		c.forget(id)
		return c.failure(ctx, method, err)
	}

	var resp response
	select {
	case r, ok := <-ch:
		if !ok {
			c.mu.Lock()
			err := c.err
			c.mu.Unlock()
			return fmt.Errorf("bridge: %s: %w: %w", method, robot.ErrUnavailable, err)
		}
		resp = r
	case <-reqCtx.Done():
		c.forget(id)
		return c.failure(ctx, method, reqCtx.Err())
	}

	if resp.Error != "" {
		return fmt.Errorf("%w: %w", robot.ErrUnavailable, &RemoteError{Method: method, Message: resp.Error})
	}
	if out == nil || len(resp.Result) == 0 {
		return nil
	}
	if err := json.Unmarshal(resp.Result, out); err != nil {
		return fmt.Errorf("bridge: %s: decode result: %w", method, err)
	}
	return nil
}

func (c *Client) forget(id uint64) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

// failure maps a send or wait error: cancellation of the caller's ctx is
// passed through, everything else is the bridge being unavailable.
func (c *Client) failure(ctx context.Context, method string, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return fmt.Errorf("bridge: %s: %w: %w", method, robot.ErrUnavailable, err)
}
