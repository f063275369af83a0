// Package websocket is the live feed transport built on gorilla/websocket.
package websocket

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	gorillaws "github.com/gorilla/websocket"

	"github.com/couchcryptid/quake-alert-service/internal/feed"
)

const writeWait = 5 * time.Second

// Options configures the feed transport.
type Options struct {
	URL              string
	HandshakeTimeout time.Duration
	// ReadTimeout bounds the silence between frames, pongs included.
	ReadTimeout  time.Duration
	PingInterval time.Duration
}

// Dialer opens websocket connections to the live feed. It implements feed.Dialer.
type Dialer struct {
	opts   Options
	dialer *gorillaws.Dialer
	logger *slog.Logger
}

// NewDialer creates a Dialer for opts.URL.
func NewDialer(opts Options, logger *slog.Logger) *Dialer {
	return &Dialer{
		opts: opts,
		dialer: &gorillaws.Dialer{
			HandshakeTimeout: opts.HandshakeTimeout,
		},
		logger: logger,
	}
}

// Dial performs the websocket handshake and starts the keepalive pinger.
func (d *Dialer) Dial(ctx context.Context) (feed.Conn, error) {
	ws, resp, err := d.dialer.DialContext(ctx, d.opts.URL, nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("websocket dial %s: %w", d.opts.URL, err)
	}

	c := &Conn{
		ws:          ws,
		readTimeout: d.opts.ReadTimeout,
		done:        make(chan struct{}),
	}
	if c.readTimeout > 0 {
		ws.SetPongHandler(func(string) error {
			return ws.SetReadDeadline(time.Now().Add(c.readTimeout))
		})
	}
	if d.opts.PingInterval > 0 {
		c.wg.Add(1)
		go c.pingLoop(d.opts.PingInterval, d.logger)
	}
	return c, nil
}

// Conn is one open feed connection. It implements feed.Conn.
type Conn struct {
	ws          *gorillaws.Conn
	readTimeout time.Duration
	done        chan struct{}
	closeOnce   sync.Once
	wg          sync.WaitGroup
}

// ReadMessage returns the next text or binary frame. Cancelling ctx does not
// interrupt a blocked read; close the connection for that.
func (c *Conn) ReadMessage(ctx context.Context) ([]byte, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if c.readTimeout > 0 {
			if err := c.ws.SetReadDeadline(time.Now().Add(c.readTimeout)); err != nil {
				return nil, err
			}
		}
		mt, data, err := c.ws.ReadMessage()
		if err != nil {
			return nil, err
		}
		if mt == gorillaws.TextMessage || mt == gorillaws.BinaryMessage {
			return data, nil
		}
	}
}

// Close sends a close frame and tears down the connection. Safe to call more than once.
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.ws.WriteControl(gorillaws.CloseMessage,
			gorillaws.FormatCloseMessage(gorillaws.CloseNormalClosure, ""),
			time.Now().Add(writeWait))
		err = c.ws.Close()
		c.wg.Wait()
	})
	return err
}

func (c *Conn) pingLoop(interval time.Duration, logger *slog.Logger) {
	defer c.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			if err := c.ws.WriteControl(gorillaws.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				logger.Debug("feed ping failed", "error", err)
				return
			}
		}
	}
}
