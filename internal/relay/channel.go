// Package relay owns the persistent connection to the relay server.
package relay

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
	"github.com/matheus3301/parley/internal/logging"
	"github.com/matheus3301/parley/internal/status"
	"github.com/matheus3301/parley/internal/wire"
	"go.uber.org/zap"
)

var (
	ErrNotConnected = errors.New("relay not connected")
	ErrClosed       = errors.New("relay channel closed")
)

// Options configures a Channel.
type Options struct {
	URL   string
	Token string

	// WriteTimeout bounds a single frame write. Zero means 10s.
	WriteTimeout time.Duration
	// NewBackOff builds the reconnect delay policy. Nil means exponential from 500ms up to 30s.
	NewBackOff func() backoff.BackOff
	Dialer     *websocket.Dialer
}

// Channel is a websocket connection to the relay that redials itself until Close.
//
// Events are decoded on the read goroutine and handed to subscribers there,
// one at a time, in arrival order.
type Channel struct {
	opts    Options
	machine *status.Machine
	router  *Router
	logger  *zap.Logger

	connectMu sync.Mutex

	mu      sync.Mutex
	conn    *websocket.Conn
	running bool
	closed  bool
	cancel  context.CancelFunc
	done    chan struct{}

	writeMu sync.Mutex
}

// NewChannel creates a disconnected channel. Call Connect to dial.
func NewChannel(opts Options, machine *status.Machine, logger *zap.Logger) *Channel {
	if opts.WriteTimeout == 0 {
		opts.WriteTimeout = 10 * time.Second
	}
	if opts.NewBackOff == nil {
		opts.NewBackOff = defaultBackOff
	}
	if opts.Dialer == nil {
		opts.Dialer = websocket.DefaultDialer
	}
	if machine == nil {
		machine = status.NewMachine(nil)
	}
	return &Channel{
		opts:    opts,
		machine: machine,
		router:  NewRouter(),
		logger:  logging.OrNop(logger),
	}
}

func defaultBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxInterval = 30 * time.Second
	b.MaxElapsedTime = 0
	return b
}

// State returns the link state.
func (c *Channel) State() status.State {
	return c.machine.Current()
}

// Connect dials the relay. Once the channel is running further calls return nil.
func (c *Channel) Connect(ctx context.Context) error {
	c.connectMu.Lock()
	defer c.connectMu.Unlock()

	c.mu.Lock()
	running, closed := c.running, c.closed
	c.mu.Unlock()
	if closed {
		return ErrClosed
	}
	if running {
		return nil
	}

	_ = c.machine.Transition(status.Connecting)
	conn, err := c.dial(ctx)
	if err != nil {
		_ = c.machine.Transition(status.Offline)
		return fmt.Errorf("connect relay: %w", err)
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	c.mu.Lock()
	c.conn = conn
	c.running = true
	c.cancel = cancel
	c.done = make(chan struct{})
	c.mu.Unlock()

	_ = c.machine.Transition(status.Online)
	c.logger.Info("relay connected", zap.String("url", c.opts.URL))
	go c.run(loopCtx, conn)
	return nil
}

func (c *Channel) dial(ctx context.Context) (*websocket.Conn, error) {
	header := http.Header{}
	if c.opts.Token != "" {
		header.Set("Authorization", "Bearer "+c.opts.Token)
	}
	conn, resp, err := c.opts.Dialer.DialContext(ctx, c.opts.URL, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: %w (status %d)", c.opts.URL, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial %s: %w", c.opts.URL, err)
	}
	return conn, nil
}

func (c *Channel) run(ctx context.Context, conn *websocket.Conn) {
	defer close(c.done)
	b := c.opts.NewBackOff()
	for {
		err := c.readLoop(conn)
		if ctx.Err() != nil {
			return
		}
		c.logger.Warn("relay connection lost", zap.Error(err))
		c.setConn(nil)
		_ = conn.Close()
		_ = c.machine.Transition(status.Reconnecting)

		conn = c.redial(ctx, b)
		if conn == nil {
			return
		}
		b.Reset()
	}
}

func (c *Channel) redial(ctx context.Context, b backoff.BackOff) *websocket.Conn {
	for {
		wait := b.NextBackOff()
		if wait == backoff.Stop {
			b.Reset()
			wait = b.NextBackOff()
		}
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(wait):
		}

		_ = c.machine.Transition(status.Connecting)
		conn, err := c.dial(ctx)
		if err == nil {
			if !c.adopt(conn) {
				_ = conn.Close()
				return nil
			}
			_ = c.machine.Transition(status.Online)
			c.logger.Info("relay reconnected")
			return conn
		}
		if ctx.Err() != nil {
			return nil
		}
		c.logger.Warn("relay redial failed", zap.Error(err), zap.Duration("next_in", wait))
		_ = c.machine.Transition(status.Reconnecting)
	}
}

func (c *Channel) readLoop(conn *websocket.Conn) error {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		evt, err := wire.Decode(data)
		if err != nil {
			c.logger.Warn("dropping relay frame", zap.Error(err))
			continue
		}
		if !c.router.Dispatch(evt) {
			c.logger.Debug("no handler for relay event", zap.String("kind", string(evt.Kind())))
		}
	}
}

func (c *Channel) setConn(conn *websocket.Conn) {
	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
}

// adopt installs a redialed connection unless Close already ran.
func (c *Channel) adopt(conn *websocket.Conn) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	c.conn = conn
	return true
}

// Publish writes evt to the relay. It does not wait for delivery.
func (c *Channel) Publish(evt wire.Event) error {
	data, err := wire.Encode(evt)
	if err != nil {
		return err
	}
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout))
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("publish %s: %w", evt.Kind(), err)
	}
	return nil
}

// Subscribe registers h for kind and returns its unsubscribe func.
func (c *Channel) Subscribe(kind wire.Kind, h Handler) func() {
	return c.router.Subscribe(kind, h)
}

// Close stops reconnecting, closes the connection and waits for the read goroutine.
func (c *Channel) Close() error {
	c.connectMu.Lock()
	defer c.connectMu.Unlock()

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	running, conn, cancel, done := c.running, c.conn, c.cancel, c.done
	c.conn = nil
	c.mu.Unlock()

	if running {
		cancel()
		if conn != nil {
			msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye")
			_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
			_ = conn.Close()
		}
		<-done
	}
	_ = c.machine.Transition(status.Closed)
	c.logger.Info("relay channel closed")
	return nil
}
