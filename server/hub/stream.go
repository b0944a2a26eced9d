package hub

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/asadovsky/cards/server/common"
	"github.com/asadovsky/cards/server/store"
)

// stream is one client connection. The reader goroutine handles requests in
// order; responses go through send so that card broadcasts and direct replies
// share a single writer.
type stream struct {
	h      *hub
	connId string
	conn   *websocket.Conn
	send   chan *common.Rsp
	done   chan struct{}
	mu     sync.Mutex // protects subs
	subs   map[int]*card
}

func newStream(h *hub, conn *websocket.Conn) *stream {
	return &stream{
		h:      h,
		connId: uuid.NewString(),
		conn:   conn,
		send:   make(chan *common.Rsp, 64),
		done:   make(chan struct{}),
		subs:   make(map[int]*card),
	}
}

// deliver queues rsp for writing. It never blocks once the stream is closed.
func (s *stream) deliver(rsp *common.Rsp) {
	select {
	case s.send <- rsp:
	case <-s.done:
	}
}

func (s *stream) fail(subId int, err error) {
	log.Printf("%s: sub %d: %v", s.connId, subId, err)
	s.deliver(&common.Rsp{Type: common.MsgError, Error: &common.ErrorRsp{SubId: subId, Msg: err.Error()}})
}

func (s *stream) writeLoop() {
	for {
		select {
		case rsp := <-s.send:
			if err := s.conn.WriteJSON(rsp); err != nil {
				log.Printf("%s: write: %v", s.connId, err)
				// Unblocks the reader.
				s.conn.Close()
				return
			}
		case <-s.done:
			return
		}
	}
}

func (s *stream) readLoop() {
	for {
		_, b, err := s.conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Printf("%s: read: %v", s.connId, err)
			}
			return
		}
		req := &common.Req{}
		if err := json.Unmarshal(b, req); err != nil {
			s.fail(0, fmt.Errorf("malformed request: %w", err))
			continue
		}
		s.handle(req)
	}
}

// handle serves one request. A panic fails the request and leaves the
// connection open.
func (s *stream) handle(req *common.Req) {
	defer func() {
		if r := recover(); r != nil {
			s.fail(req.SubId(), fmt.Errorf("internal error serving %s: %v", req.Type, r))
		}
	}()
	switch {
	case req.Type == common.MsgSubscribe && req.Subscribe != nil:
		s.subscribe(req.Subscribe)
	case req.Type == common.MsgUnsubscribe && req.Unsubscribe != nil:
		s.unsubscribe(req.Unsubscribe.SubId)
	case req.Type == common.MsgRevise && req.Revise != nil:
		s.revise(req.Revise)
	case req.Type == common.MsgCreate && req.Create != nil:
		id, err := s.h.create(req.Create.Props)
		if err != nil {
			s.fail(0, fmt.Errorf("create: %w", err))
			return
		}
		s.deliver(&common.Rsp{Type: common.MsgCreate, Create: &common.CreateRsp{CreateId: req.Create.CreateId, CardId: id}})
	default:
		s.fail(0, fmt.Errorf("malformed request of type %q", req.Type))
	}
}

func (s *stream) lookup(subId int) *card {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.subs[subId]
}

func (s *stream) subscribe(req *common.SubscribeReq) {
	if s.lookup(req.SubId) != nil {
		s.fail(req.SubId, errors.New("subscription id in use"))
		return
	}
	c, err := s.h.acquire(req.CardId)
	if errors.Is(err, store.ErrNotFound) {
		s.fail(req.SubId, fmt.Errorf("card %s not found", req.CardId))
		return
	} else if err != nil {
		s.fail(req.SubId, fmt.Errorf("load card %s: %w", req.CardId, err))
		return
	}
	defer c.mu.Unlock()
	c.subs.Add(subscriber{s: s, subId: req.SubId})
	s.mu.Lock()
	s.subs[req.SubId] = c
	s.mu.Unlock()
	// Sent under the card lock so that it precedes every broadcast.
	sn := c.snapshot()
	s.deliver(&common.Rsp{Type: common.MsgSubscribe, Subscribe: &common.SubscribeRsp{
		CardId: c.id,
		SubId:  req.SubId,
		Rev:    sn.Rev,
		Props:  sn.Props,
	}})
}

func (s *stream) unsubscribe(subId int) {
	s.mu.Lock()
	c, ok := s.subs[subId]
	delete(s.subs, subId)
	s.mu.Unlock()
	if !ok {
		s.fail(0, fmt.Errorf("unsubscribe: unknown subscription %d", subId))
		return
	}
	s.h.release(c, subscriber{s: s, subId: subId})
	s.deliver(&common.Rsp{Type: common.MsgUnsubscribe, Unsubscribe: &common.UnsubscribeRsp{SubId: subId}})
}

func (s *stream) revise(req *common.ReviseReq) {
	c := s.lookup(req.SubId)
	if c == nil {
		s.fail(req.SubId, fmt.Errorf("revise: unknown subscription %d", req.SubId))
		return
	}
	if err := c.revise(s.connId, req); err != nil {
		s.fail(req.SubId, err)
	}
}

// close stops the writer and unsubscribes everything the stream holds.
// Broadcasters blocked on send hold a card lock until done is closed.
func (s *stream) close() {
	close(s.done)
	s.mu.Lock()
	subs := s.subs
	s.subs = make(map[int]*card)
	s.mu.Unlock()
	for subId, c := range subs {
		s.h.release(c, subscriber{s: s, subId: subId})
	}
	s.conn.Close()
}
