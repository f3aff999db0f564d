package client

import (
	"context"
	"fmt"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/victornm/codelive/internal/channel"
)

// WebsocketDialer dials the channel over a real websocket.
type WebsocketDialer struct {
	// Dialer defaults to websocket.DefaultDialer.
	Dialer *websocket.Dialer
}

func (d WebsocketDialer) Dial(ctx context.Context, target string) (Channel, error) {
	wd := d.Dialer
	if wd == nil {
		wd = websocket.DefaultDialer
	}

	conn, resp, err := wd.DialContext(ctx, target, nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", target, err)
	}

	return &wsChannel{conn: conn}, nil
}

type wsChannel struct {
	conn *websocket.Conn
	// wmu serializes writes; gorilla allows one concurrent writer.
	wmu sync.Mutex
}

func (c *wsChannel) Send(m channel.Message) error {
	data, err := channel.Encode(m)
	if err != nil {
		return err
	}

	c.wmu.Lock()
	defer c.wmu.Unlock()
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

func (c *wsChannel) Receive() ([]byte, error) {
	_, data, err := c.conn.ReadMessage()
	if err != nil {
		if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
			return nil, fmt.Errorf("%w: %s", ErrNormalClosure, err)
		}
		return nil, err
	}

	return data, nil
}

func (c *wsChannel) Close() error {
	c.wmu.Lock()
	_ = c.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	c.wmu.Unlock()

	return c.conn.Close()
}
