// Package ws holds the server side of the connection channel: a
// gorilla/websocket wrapper with a single writer goroutine and the
// per-session registry of public-view subscribers.
package ws

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/victornm/codelive/internal/channel"
	"github.com/victornm/codelive/internal/errors"
)

const (
	sendBuffer   = 256
	writeTimeout = 5 * time.Second
)

// Conn wraps one websocket connection. All writes go through a single writer
// goroutine; gorilla connections do not allow concurrent writers.
type Conn struct {
	ws     *websocket.Conn
	sendCh chan []byte

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
}

func NewConn(wsConn *websocket.Conn) *Conn {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Conn{
		ws:     wsConn,
		sendCh: make(chan []byte, sendBuffer),
		ctx:    ctx,
		cancel: cancel,
	}

	go c.writeLoop()
	return c
}

func (c *Conn) writeLoop() {
	defer c.Close()

	for {
		select {
		case data := <-c.sendCh:
			if err := c.ws.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
				return
			}
			if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}

		case <-c.ctx.Done():
			return
		}
	}
}

// Send encodes and queues one message. It fails fast when the connection is
// closed or the send buffer is full; frames are never silently queued beyond
// the buffer.
func (c *Conn) Send(m channel.Message) error {
	data, err := channel.Encode(m)
	if err != nil {
		return err
	}

	select {
	case <-c.ctx.Done():
		return errors.New(errors.CodeUnavailable, errors.WithMessagef("connection closed"))
	default:
	}

	select {
	case c.sendCh <- data:
		return nil
	case <-c.ctx.Done():
		return errors.New(errors.CodeUnavailable, errors.WithMessagef("connection closed"))
	default:
		return errors.New(errors.CodeUnavailable, errors.WithMessagef("send buffer full"))
	}
}

// Receive blocks for the next raw inbound frame. Decoding is left to the
// caller so a malformed payload can be answered without tearing the
// connection down.
func (c *Conn) Receive() ([]byte, error) {
	_, data, err := c.ws.ReadMessage()
	if err != nil {
		return nil, errors.New(errors.CodeUnavailable,
			errors.WithMessagef("read message"),
			errors.WithCause(err))
	}

	return data, nil
}

// Done is closed once the connection is shut down.
func (c *Conn) Done() <-chan struct{} {
	return c.ctx.Done()
}

func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.cancel()
		err = c.ws.Close()
	})
	return err
}
