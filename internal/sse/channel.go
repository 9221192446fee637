// Package sse keeps the storefront's server-push notification channel open,
// reconnecting with exponential backoff until the retry budget is spent.
package sse

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"

	"github.com/fjod/go_cellar/internal/domain"
	"github.com/fjod/go_cellar/internal/gateway"
	"github.com/fjod/go_cellar/pkg/logger"
)

// StreamSource resolves the stream URL, token included. It returns
// domain.ErrAuthRequired when there is no usable token.
type StreamSource interface {
	StreamURL() (string, error)
}

type Timer interface {
	Stop() bool
}

// AfterFunc schedules f after d, like time.AfterFunc.
type AfterFunc func(d time.Duration, f func()) Timer

// Handler receives channel events. Callbacks run on the reader goroutine
// and must not block for long. Nil callbacks are skipped.
type Handler struct {
	OnConnected    func(connectionID string)
	OnNotification func(n domain.Notification)
	OnServerError  func(message string)
	OnFatal        func(err error)
	OnStatus       func(st Status)
}

type Channel struct {
	mu      sync.Mutex
	machine *Machine
	gen     uint64
	cancel  context.CancelFunc
	timer   Timer

	src     StreamSource
	client  *http.Client
	handler Handler
	after   AfterFunc
	log     *zap.Logger
	wg      sync.WaitGroup
}

type Option func(*Channel)

func WithPolicy(p Policy) Option {
	return func(c *Channel) { c.machine = NewMachine(p) }
}

// WithHTTPClient sets the stream client. It must not have a timeout.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Channel) { c.client = hc }
}

func WithAfterFunc(f AfterFunc) Option {
	return func(c *Channel) { c.after = f }
}

func WithLogger(l *zap.Logger) Option {
	return func(c *Channel) { c.log = logger.OrNop(l) }
}

func NewChannel(src StreamSource, h Handler, opts ...Option) *Channel {
	c := &Channel{
		machine: NewMachine(DefaultPolicy()),
		src:     src,
		client:  &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)},
		handler: h,
		after: func(d time.Duration, f func()) Timer {
			return time.AfterFunc(d, f)
		},
		log: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Channel) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.machine.Status()
}

// Connect opens the stream. Without a token any live connection is torn
// down and the error is returned. Connecting an open channel is a no-op.
func (c *Channel) Connect() error {
	url, err := c.src.StreamURL()
	if err != nil {
		c.Disconnect()
		return err
	}

	c.mu.Lock()
	switch c.machine.State() {
	case StateConnecting, StateConnected:
		c.mu.Unlock()
		return nil
	}
	if err := c.machine.Connect(); err != nil {
		st := c.machine.Status()
		c.mu.Unlock()
		return fmt.Errorf("connect from %s: %w", st.State, err)
	}
	c.startLocked(url)
	st := c.machine.Status()
	c.mu.Unlock()

	c.publish(st)
	return nil
}

// Disconnect closes the stream and cancels a pending reconnect. It is safe
// from any state and may be called repeatedly.
func (c *Channel) Disconnect() {
	c.mu.Lock()
	c.teardownLocked()
	c.machine.Disconnect()
	st := c.machine.Status()
	c.mu.Unlock()

	c.publish(st)
}

// Reconnect is the manual retry: the attempt counter starts over.
func (c *Channel) Reconnect() error {
	c.mu.Lock()
	c.teardownLocked()
	c.machine.Reset()
	c.mu.Unlock()

	return c.Connect()
}

// Close disconnects and waits for the reader goroutine to exit.
func (c *Channel) Close() {
	c.Disconnect()
	c.wg.Wait()
}

func (c *Channel) teardownLocked() {
	c.gen++
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
}

func (c *Channel) startLocked(url string) {
	c.teardownLocked()
	gen := c.gen
	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel

	c.wg.Add(1)
	go c.run(ctx, gen, url)
}

func (c *Channel) run(ctx context.Context, gen uint64, url string) {
	defer c.wg.Done()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		c.transportError(gen, err)
		return
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := c.client.Do(req)
	if err != nil {
		if ctx.Err() == nil {
			c.transportError(gen, err)
		}
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		c.transportError(gen, fmt.Errorf("stream returned status %d", resp.StatusCode))
		return
	}
	if !c.opened(gen) {
		return
	}

	err = readEvents(resp.Body, func(e Event) { c.dispatch(gen, e) })
	if ctx.Err() != nil {
		return
	}
	if err == nil {
		err = errors.New("stream closed by server")
	}
	c.transportError(gen, err)
}

func (c *Channel) opened(gen uint64) bool {
	c.mu.Lock()
	if gen != c.gen || c.machine.Opened() != nil {
		c.mu.Unlock()
		return false
	}
	st := c.machine.Status()
	c.mu.Unlock()

	c.log.Info("notification stream connected")
	c.publish(st)
	return true
}

func (c *Channel) current(gen uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return gen == c.gen
}

func (c *Channel) dispatch(gen uint64, e Event) {
	if !c.current(gen) {
		return
	}

	switch e.Name {
	case "connected":
		var payload struct {
			ConnectionID string `json:"connectionId"`
		}
		if err := json.Unmarshal([]byte(e.Data), &payload); err != nil {
			c.log.Warn("malformed connected event", zap.Error(err))
			return
		}
		c.mu.Lock()
		c.machine.SetConnectionID(payload.ConnectionID)
		c.mu.Unlock()
		if c.handler.OnConnected != nil {
			c.handler.OnConnected(payload.ConnectionID)
		}

	case "heartbeat":
		c.log.Debug("heartbeat")

	case "notification", "message":
		n, err := gateway.DecodeNotification([]byte(e.Data))
		if err != nil {
			c.log.Warn("dropping malformed notification event", zap.String("event", e.Name), zap.Error(err))
			return
		}
		if e.Name == "message" && n.ID == 0 {
			c.log.Debug("ignoring message event without notification id")
			return
		}
		if c.handler.OnNotification != nil {
			c.handler.OnNotification(n)
		}

	case "error":
		msg := serverErrorMessage(e.Data)
		c.mu.Lock()
		c.machine.ServerError(msg)
		c.mu.Unlock()
		c.log.Warn("server reported stream error", zap.String("message", msg))
		if c.handler.OnServerError != nil {
			c.handler.OnServerError(msg)
		}

	default:
		c.log.Debug("ignored stream event", zap.String("event", e.Name))
	}
}

func (c *Channel) transportError(gen uint64, err error) {
	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return
	}
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	delay, ok := c.machine.Fail(err)
	if ok {
		c.timer = c.after(delay, func() { c.retry(gen) })
	}
	st := c.machine.Status()
	c.mu.Unlock()

	if ok {
		c.log.Warn("notification stream lost, reconnecting",
			zap.Error(err),
			zap.Int("attempt", st.ReconnectAttempts),
			zap.Duration("delay", delay))
	} else {
		c.log.Error("notification stream gave up", zap.Error(err))
	}
	c.publish(st)
	if !ok && c.handler.OnFatal != nil {
		c.handler.OnFatal(fmt.Errorf("%w: %v", domain.ErrConnectionExhausted, err))
	}
}

func (c *Channel) retry(gen uint64) {
	c.mu.Lock()
	if gen != c.gen || c.machine.State() != StateReconnecting {
		c.mu.Unlock()
		return
	}
	c.timer = nil
	c.mu.Unlock()

	url, err := c.src.StreamURL()
	if err != nil {
		c.log.Info("token gone, not reconnecting", zap.Error(err))
		c.Disconnect()
		return
	}

	c.mu.Lock()
	if gen != c.gen || c.machine.Connect() != nil {
		c.mu.Unlock()
		return
	}
	c.startLocked(url)
	st := c.machine.Status()
	c.mu.Unlock()

	c.publish(st)
}

func (c *Channel) publish(st Status) {
	if c.handler.OnStatus != nil {
		c.handler.OnStatus(st)
	}
}

func serverErrorMessage(data string) string {
	var payload struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal([]byte(data), &payload); err == nil {
		if payload.Message != "" {
			return payload.Message
		}
		if payload.Error != "" {
			return payload.Error
		}
	}
	return data
}
