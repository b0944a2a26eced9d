package client

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/gorilla/websocket"

	"github.com/asadovsky/cards/server/common"
)

// Conn is a websocket connection to a hub. It implements Transport.
type Conn struct {
	ws *websocket.Conn
	mu sync.Mutex // serializes writes
}

// Dial connects to the hub's websocket endpoint, for example
// "ws://localhost:8080/ws", retrying with exponential backoff until ctx is
// done or the retry budget runs out.
func Dial(ctx context.Context, url string) (*Conn, error) {
	var ws *websocket.Conn
	op := func() error {
		var err error
		ws, _, err = websocket.DefaultDialer.DialContext(ctx, url, nil)
		if err != nil {
			log.Printf("dial %s: %v", url, err)
		}
		return err
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 50 * time.Millisecond
	b.MaxElapsedTime = 30 * time.Second
	if err := backoff.Retry(op, backoff.WithContext(b, ctx)); err != nil {
		return nil, err
	}
	return &Conn{ws: ws}, nil
}

func (c *Conn) Send(req *common.Req) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ws.WriteJSON(req)
}

// Pump reads responses and hands them to cl in order. It returns when the
// connection is closed; a normal closure yields nil.
func (c *Conn) Pump(cl *Client) error {
	for {
		rsp := &common.Rsp{}
		if err := c.ws.ReadJSON(rsp); err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return err
		}
		cl.Deliver(rsp)
	}
}

func (c *Conn) Close() error {
	c.mu.Lock()
	err := c.ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	c.mu.Unlock()
	if cerr := c.ws.Close(); err == nil {
		err = cerr
	}
	return err
}
