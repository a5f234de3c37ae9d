package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"sync"

	"github.com/coder/websocket"
)

// Client is the UI-process side of the bridge. It correlates request
// and response envelopes and dispatches broadcast events to registered
// handlers.
type Client struct {
	conn   *websocket.Conn
	logger *log.Logger

	mu      sync.Mutex
	nextID  uint64
	pending map[uint64]chan Envelope

	handlerMu    sync.Mutex
	handlers     map[string]map[int]func(json.RawMessage)
	nextHandler  int

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// Dial connects to a bridge server at url (e.g. "ws://localhost:9980/ws").
func Dial(ctx context.Context, url string, logger *log.Logger) (*Client, error) {
	if logger == nil {
		logger = log.New(os.Stderr, "[bridge-client] ", log.LstdFlags)
	}

	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to dial bridge at %s: %w", url, err)
	}

	cctx, cancel := context.WithCancel(context.Background())
	c := &Client{
		conn:     conn,
		logger:   logger,
		pending:  map[uint64]chan Envelope{},
		handlers: map[string]map[int]func(json.RawMessage){},
		ctx:      cctx,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

// Close tears down the connection. Pending calls fail.
func (c *Client) Close() error {
	c.cancel()
	err := c.conn.Close(websocket.StatusNormalClosure, "")
	<-c.done
	return err
}

// On registers a handler for broadcast events on a channel. The channel
// must be on the whitelist and the handler must not be nil; both are
// rejected up front rather than at delivery time. The returned function
// removes the handler.
func (c *Client) On(channel string, fn func(payload json.RawMessage)) (func(), error) {
	if !KnownChannel(channel) {
		return nil, fmt.Errorf("unknown channel %q", channel)
	}
	if fn == nil {
		return nil, fmt.Errorf("handler for %q must not be nil", channel)
	}

	c.handlerMu.Lock()
	defer c.handlerMu.Unlock()
	id := c.nextHandler
	c.nextHandler++
	if c.handlers[channel] == nil {
		c.handlers[channel] = map[int]func(json.RawMessage){}
	}
	c.handlers[channel][id] = fn

	return func() {
		c.handlerMu.Lock()
		defer c.handlerMu.Unlock()
		delete(c.handlers[channel], id)
	}, nil
}

// Send emits a fire-and-forget event envelope.
func (c *Client) Send(ctx context.Context, channel string, payload any) error {
	if !KnownChannel(channel) {
		return fmt.Errorf("unknown channel %q", channel)
	}
	var body json.RawMessage
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to marshal payload: %w", err)
		}
		body = b
	}
	return c.write(ctx, Envelope{Kind: KindEvent, Channel: channel, Payload: body})
}

// PerformSync sends a mutation batch and waits for the outcome.
func (c *Client) PerformSync(ctx context.Context, mutations []WireMutation) (*SyncOutcome, error) {
	return c.callForOutcome(ctx, ChannelPerformSync, mutations)
}

// TriggerSync asks the server to run a full sync cycle and waits for
// the outcome.
func (c *Client) TriggerSync(ctx context.Context) (*SyncOutcome, error) {
	return c.callForOutcome(ctx, ChannelTriggerSync, nil)
}

// CheckOnline asks the server whether the remote catalog is reachable.
func (c *Client) CheckOnline(ctx context.Context) (bool, error) {
	resp, err := c.call(ctx, ChannelCheckOnline, nil)
	if err != nil {
		return false, err
	}
	var status OnlineStatus
	if err := json.Unmarshal(resp.Payload, &status); err != nil {
		return false, fmt.Errorf("malformed online status: %w", err)
	}
	return status.Online, nil
}

// AppInfo fetches the host application's name and version.
func (c *Client) AppInfo(ctx context.Context) (*AppInfo, error) {
	resp, err := c.call(ctx, ChannelAppInfo, nil)
	if err != nil {
		return nil, err
	}
	var info AppInfo
	if err := json.Unmarshal(resp.Payload, &info); err != nil {
		return nil, fmt.Errorf("malformed app info: %w", err)
	}
	return &info, nil
}

func (c *Client) callForOutcome(ctx context.Context, channel string, payload any) (*SyncOutcome, error) {
	resp, err := c.call(ctx, channel, payload)
	if err != nil {
		return nil, err
	}
	var outcome SyncOutcome
	if err := json.Unmarshal(resp.Payload, &outcome); err != nil {
		return nil, fmt.Errorf("malformed sync outcome: %w", err)
	}
	return &outcome, nil
}

// call sends a request envelope and blocks until its response, ctx
// cancellation, or connection loss.
func (c *Client) call(ctx context.Context, channel string, payload any) (*Envelope, error) {
	var body json.RawMessage
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal payload: %w", err)
		}
		body = b
	}

	c.mu.Lock()
	c.nextID++
	id := c.nextID
	ch := make(chan Envelope, 1)
	c.pending[id] = ch
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
	}()

	if err := c.write(ctx, Envelope{Kind: KindRequest, ID: id, Channel: channel, Payload: body}); err != nil {
		return nil, err
	}

	select {
	case resp := <-ch:
		if resp.Error != "" {
			return nil, fmt.Errorf("bridge call %s failed: %s", channel, resp.Error)
		}
		return &resp, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.ctx.Done():
		return nil, fmt.Errorf("bridge connection closed")
	}
}

func (c *Client) write(ctx context.Context, env Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("failed to marshal envelope: %w", err)
	}
	if err := c.conn.Write(ctx, websocket.MessageText, data); err != nil {
		return fmt.Errorf("failed to write envelope: %w", err)
	}
	return nil
}

// readLoop demultiplexes inbound envelopes: responses wake the waiting
// call, events fan out to registered handlers.
func (c *Client) readLoop() {
	defer close(c.done)
	defer c.cancel()

	for {
		_, data, err := c.conn.Read(c.ctx)
		if err != nil {
			return
		}

		var env Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			c.logger.Printf("Dropping malformed envelope: %v", err)
			continue
		}

		switch env.Kind {
		case KindResponse:
			c.mu.Lock()
			ch, ok := c.pending[env.ID]
			c.mu.Unlock()
			if ok {
				ch <- env
			}

		case KindEvent:
			c.dispatchEvent(env)

		default:
			c.logger.Printf("Dropping unexpected %s envelope on %s", env.Kind, env.Channel)
		}
	}
}

func (c *Client) dispatchEvent(env Envelope) {
	c.handlerMu.Lock()
	fns := make([]func(json.RawMessage), 0, len(c.handlers[env.Channel]))
	for _, fn := range c.handlers[env.Channel] {
		fns = append(fns, fn)
	}
	c.handlerMu.Unlock()

	for _, fn := range fns {
		fn(env.Payload)
	}
}
