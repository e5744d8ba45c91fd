package ws

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"

	"github.com/okian/rosecast/internal/adapters/mq/queue"
	"github.com/okian/rosecast/internal/domain/model"
	"github.com/okian/rosecast/pkg/logger"
)

const (
	writeDeadline      = 5 * time.Second
	pingInterval       = 30 * time.Second
	pongDeadline       = 60 * time.Second
	maxMessageSize     = 64 * 1024
	controlBufferSize  = 16
	closeReasonDropped = "connection closed by server"
)

// client owns the write side of one websocket. Every write happens on the
// run goroutine: control replies, delivery channel flushes and pings.
type client struct {
	id    string
	conn  *websocket.Conn
	out   *queue.Channel
	clock clockwork.Clock
	log   logger.Logger
	touch func()

	control  chan Frame
	done     chan struct{}
	exited   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func newClient(id string, conn *websocket.Conn, out *queue.Channel, clock clockwork.Clock, log logger.Logger, touch func()) *client {
	return &client{
		id:      id,
		conn:    conn,
		out:     out,
		clock:   clock,
		log:     log,
		touch:   touch,
		control: make(chan Frame, controlBufferSize),
		done:    make(chan struct{}),
		exited:  make(chan struct{}),
	}
}

func (c *client) start(ctx context.Context) {
	c.conn.SetReadLimit(maxMessageSize)
	c.updateReadDeadline()
	c.conn.SetPongHandler(func(string) error {
		c.updateReadDeadline()
		c.touch()
		return nil
	})
	c.wg.Add(1)
	go c.run(ctx)
}

// send queues a control frame. When the buffer is full it waits for the
// writer, so a slow client throttles its own reader instead of losing
// replies. It gives up only once the writer is gone.
func (c *client) send(f Frame) {
	select {
	case c.control <- f:
	case <-c.exited:
	case <-c.done:
	}
}

func (c *client) run(ctx context.Context) {
	ticker := c.clock.NewTicker(pingInterval)
	defer ticker.Stop()
	defer c.wg.Done()
	defer close(c.exited)

	sink := queue.SinkFunc(func(_ context.Context, e model.Event) error {
		c.updateWriteDeadline()
		return c.conn.WriteJSON(e)
	})

	for {
		select {
		case f := <-c.control:
			c.updateWriteDeadline()
			if err := c.conn.WriteJSON(f); err != nil {
				c.log.Debug(ctx, "control write failed", logger.String("connection_id", c.id), logger.Error(err))
				_ = c.out.Close()
				_ = c.conn.Close()
				return
			}
		case <-c.out.Ready():
			if c.out.TakeLossyNotice() {
				c.updateWriteDeadline()
				if err := c.conn.WriteJSON(Frame{Type: TypeLossy}); err != nil {
					_ = c.out.Close()
					_ = c.conn.Close()
					return
				}
			}
			if err := c.out.Flush(ctx, sink); err != nil {
				if !errors.Is(err, queue.ErrClosed) {
					c.log.Debug(ctx, "flush failed", logger.String("connection_id", c.id), logger.Error(err))
				}
				_ = c.conn.Close()
				return
			}
		case <-ticker.Chan():
			c.updateWriteDeadline()
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				_ = c.out.Close()
				_ = c.conn.Close()
				return
			}
		case <-c.out.Done():
			c.updateWriteDeadline()
			msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, closeReasonDropped)
			_ = c.conn.WriteMessage(websocket.CloseMessage, msg)
			_ = c.conn.Close()
			return
		case <-c.done:
			return
		}
	}
}

// stop ends the writer and closes the socket. It is idempotent.
func (c *client) stop() {
	c.stopOnce.Do(func() {
		close(c.done)
		c.wg.Wait()
		_ = c.conn.Close()
	})
}

// Socket deadlines are wall-clock regardless of the injected clock.
func (c *client) updateWriteDeadline() {
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
}

func (c *client) updateReadDeadline() {
	_ = c.conn.SetReadDeadline(time.Now().Add(pongDeadline))
}
