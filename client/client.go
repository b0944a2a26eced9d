package client

import (
	"context"
	"errors"
	"log"
	"sync"
	"sync/atomic"

	"github.com/sanity-io/litter"

	"github.com/asadovsky/cards/server/common"
	"github.com/asadovsky/cards/server/ot"
)

// Transport delivers requests to the hub. Responses must be passed to
// Client.Deliver in the order the hub sent them.
type Transport interface {
	Send(req *common.Req) error
}

// Client owns the card subscriptions of one connection. All state changes
// happen on the goroutine running Run, one event at a time; the other methods
// only post events and may be called from any goroutine, including from
// binding callbacks.
type Client struct {
	t      Transport
	q      *queue
	nextId atomic.Int64

	// Owned by Run.
	connId  string
	subs    map[int]*Subscription
	creates map[int]func(cardId string)
}

func New(t Transport) *Client {
	return &Client{
		t:       t,
		q:       newQueue(),
		subs:    make(map[int]*Subscription),
		creates: make(map[int]func(string)),
	}
}

type event interface{}

type (
	rspEvent       struct{ rsp *common.Rsp }
	subscribeEvent struct{ sub *Subscription }
	releaseEvent   struct{ sub *Subscription }
	bindEvent      struct{ b *Binding }
	editEvent      struct{ b *Binding }
	inspectEvent   struct {
		sub  *Subscription
		fn   func(*Card)
		done chan struct{}
	}
	createEvent struct {
		props map[string]string
		fn    func(cardId string)
	}
)

// Run processes events until ctx is done.
func (c *Client) Run(ctx context.Context) error {
	for {
		ev, err := c.q.Dequeue(ctx)
		if err != nil {
			return err
		}
		c.handle(ev)
	}
}

// Deliver queues a response from the hub.
func (c *Client) Deliver(rsp *common.Rsp) {
	c.q.Enqueue(rspEvent{rsp})
}

// Subscribe starts tracking a card.
func (c *Client) Subscribe(cardId string) *Subscription {
	sub := &Subscription{c: c, cardId: cardId, bindings: make(map[string]*Binding)}
	c.q.Enqueue(subscribeEvent{sub})
	return sub
}

// Create asks the hub for a new card with the given properties. fn is called
// on the event loop with the new card's id.
func (c *Client) Create(props map[string]string, fn func(cardId string)) {
	c.q.Enqueue(createEvent{props: props, fn: fn})
}

func (c *Client) newId() int {
	return int(c.nextId.Add(1))
}

func (c *Client) send(req *common.Req) {
	if err := c.t.Send(req); err != nil {
		log.Printf("send %s: %v", req.Type, err)
	}
}

func (c *Client) handle(ev event) {
	switch ev := ev.(type) {
	case rspEvent:
		c.handleRsp(ev.rsp)
	case subscribeEvent:
		c.subscribe(ev.sub)
	case releaseEvent:
		if !ev.sub.released {
			ev.sub.released = true
			c.drop(ev.sub)
		}
	case bindEvent:
		sub := ev.b.sub
		if sub.card != nil && sub.card.Ready() && !ev.b.ready {
			ev.b.reset(sub.card.Prop(ev.b.prop))
		}
	case editEvent:
		c.handleEdit(ev.b)
	case inspectEvent:
		if ev.sub.card != nil {
			ev.fn(ev.sub.card)
		}
		close(ev.done)
	case createEvent:
		id := c.newId()
		c.creates[id] = ev.fn
		c.send(&common.Req{Type: common.MsgCreate, Create: &common.CreateReq{CreateId: id, Props: ev.props}})
	default:
		log.Printf("unexpected event %T", ev)
	}
}

func (c *Client) handleRsp(rsp *common.Rsp) {
	switch {
	case rsp.Type == common.MsgHello && rsp.Hello != nil:
		c.connId = rsp.Hello.ConnId

	case rsp.Type == common.MsgSubscribe && rsp.Subscribe != nil:
		sub := c.subs[rsp.Subscribe.SubId]
		if sub == nil {
			log.Printf("got subscription for card %s with no local subscription", rsp.Subscribe.CardId)
			return
		}
		sub.card.Subscribed(rsp.Subscribe.Rev, rsp.Subscribe.Props)
		for _, b := range sub.snapshot() {
			b.reset(sub.card.Prop(b.prop))
		}

	case rsp.Type == common.MsgRevise && rsp.Revise != nil:
		r := rsp.Revise
		for _, subId := range r.SubIds {
			sub := c.subs[subId]
			if sub == nil {
				continue
			}
			var err error
			if r.IsAck(c.connId, subId) {
				err = sub.card.Ack(r.Rev, r.Change)
			} else {
				err = sub.card.Recv(r.Rev, r.Change)
			}
			if err != nil {
				c.resync(sub, err)
			}
		}

	case rsp.Type == common.MsgUnsubscribe:

	case rsp.Type == common.MsgCreate && rsp.Create != nil:
		fn, ok := c.creates[rsp.Create.CreateId]
		if !ok {
			log.Printf("got unmatched create response %d", rsp.Create.CreateId)
			return
		}
		delete(c.creates, rsp.Create.CreateId)
		if fn != nil {
			fn(rsp.Create.CardId)
		}

	case rsp.Type == common.MsgError && rsp.Error != nil:
		log.Printf("hub error: %s", rsp.Error.Msg)
		sub := c.subs[rsp.Error.SubId]
		switch {
		case sub == nil:
		case sub.card.Ready():
			c.resync(sub, errors.New(rsp.Error.Msg))
		default:
			// The subscribe request itself failed.
			delete(c.subs, sub.id)
		}

	default:
		log.Printf("malformed response of type %q", rsp.Type)
	}
}

func (c *Client) handleEdit(b *Binding) {
	ops, ok := b.next()
	if !ok {
		// Discarded by a reset.
		return
	}
	sub := b.sub
	if sub.released || !sub.bound(b) {
		log.Printf("dropping edit to released binding %s/%s", sub.cardId, b.prop)
		return
	}
	if err := sub.card.Revise(common.Change{Prop: b.prop, Ops: ops}); err != nil {
		log.Printf("card %s: rejected edit to %q: %v", sub.cardId, b.prop, err)
	}
}

func (c *Client) subscribe(sub *Subscription) {
	sub.id = c.newId()
	sub.card = NewCard(sub.cardId, subSender{sub})
	sub.card.OnChange(sub.dispatch)
	for _, b := range sub.snapshot() {
		b.ready = false
	}
	c.subs[sub.id] = sub
	c.send(&common.Req{Type: common.MsgSubscribe, Subscribe: &common.SubscribeReq{CardId: sub.cardId, SubId: sub.id}})
}

func (c *Client) drop(sub *Subscription) {
	if dropped := sub.card.Release(); len(dropped) > 0 {
		log.Printf("card %s: discarding %d unacknowledged changes", sub.cardId, len(dropped))
	}
	delete(c.subs, sub.id)
	c.send(&common.Req{Type: common.MsgUnsubscribe, Unsubscribe: &common.UnsubscribeReq{SubId: sub.id}})
}

// resync replaces a card that can no longer converge with the server by a
// fresh subscription. Bindings are kept and see onReady again.
func (c *Client) resync(sub *Subscription, cause error) {
	log.Printf("card %s out of sync, resubscribing: %v\n%s", sub.cardId, cause, litter.Sdump(sub.card.state()))
	c.drop(sub)
	c.subscribe(sub)
}

type subSender struct {
	sub *Subscription
}

func (s subSender) Revise(rev int, change common.Change) error {
	return s.sub.c.t.Send(&common.Req{
		Type:   common.MsgRevise,
		Revise: &common.ReviseReq{SubId: s.sub.id, Rev: rev, Change: change},
	})
}

// Subscription is a client's handle on a card.
type Subscription struct {
	c      *Client
	cardId string

	mu       sync.Mutex // protects bindings
	bindings map[string]*Binding

	// Owned by Run.
	id       int
	card     *Card
	released bool
}

func (sub *Subscription) CardId() string {
	return sub.cardId
}

// Bind attaches an editor to a property. onReady is called with the
// property's value once the card is subscribed, and again after every
// resubscription; onChange is called with each remote change. Both run on
// the event loop and must update the editor's text before returning. A
// property has at most one binding.
func (sub *Subscription) Bind(prop string, onReady func(value string), onChange func(ops ot.Ops)) (*Binding, error) {
	b := &Binding{sub: sub, prop: prop, onReady: onReady, onChange: onChange}
	if b.onReady == nil {
		b.onReady = func(string) {}
	}
	sub.mu.Lock()
	if _, exists := sub.bindings[prop]; exists {
		sub.mu.Unlock()
		return nil, errors.New("multiple bindings to " + prop)
	}
	sub.bindings[prop] = b
	sub.mu.Unlock()
	sub.c.q.Enqueue(bindEvent{b})
	return b, nil
}

// Release stops tracking the card. Changes not yet acknowledged by the hub
// are discarded.
func (sub *Subscription) Release() {
	sub.c.q.Enqueue(releaseEvent{sub})
}

// Inspect runs fn with the subscription's card on the event loop and waits
// for it to return. It must not be called from a binding callback.
func (sub *Subscription) Inspect(ctx context.Context, fn func(*Card)) error {
	done := make(chan struct{})
	sub.c.q.Enqueue(inspectEvent{sub: sub, fn: fn, done: done})
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (sub *Subscription) snapshot() []*Binding {
	sub.mu.Lock()
	defer sub.mu.Unlock()
	bs := make([]*Binding, 0, len(sub.bindings))
	for _, b := range sub.bindings {
		bs = append(bs, b)
	}
	return bs
}

func (sub *Subscription) bound(b *Binding) bool {
	sub.mu.Lock()
	defer sub.mu.Unlock()
	return sub.bindings[b.prop] == b
}

func (sub *Subscription) dispatch(prop string, ops ot.Ops) {
	sub.mu.Lock()
	b := sub.bindings[prop]
	sub.mu.Unlock()
	if b != nil {
		b.changed(ops)
	}
}

// Binding connects one property of a card to an editor.
//
// Edits are queued on the binding until the event loop applies them to the
// card. A remote change that arrives in the meantime is rebased past the
// queued edits before onChange sees it, and the queued edits are rebased past
// the change, so the editor and the card agree without either side waiting.
type Binding struct {
	sub      *Subscription
	prop     string
	onReady  func(value string)
	onChange func(ops ot.Ops)
	ready    bool // owned by Run

	mu      sync.Mutex // protects pending
	pending []ot.Ops
}

// Revise submits a local edit made against the editor's current text, that
// is the last onReady value with every later onChange and edit applied.
func (b *Binding) Revise(ops ot.Ops) {
	b.mu.Lock()
	b.pending = append(b.pending, ops)
	b.mu.Unlock()
	b.sub.c.q.Enqueue(editEvent{b})
}

// next pops the oldest queued edit.
func (b *Binding) next() (ot.Ops, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.pending) == 0 {
		return nil, false
	}
	ops := b.pending[0]
	b.pending = b.pending[1:]
	return ops, true
}

// reset hands the editor a fresh value. Queued edits were made against text
// the editor no longer has.
func (b *Binding) reset(value string) {
	b.mu.Lock()
	if n := len(b.pending); n > 0 {
		log.Printf("card %s: discarding %d edits to %q on reset", b.sub.cardId, n, b.prop)
	}
	b.pending = nil
	b.mu.Unlock()
	b.ready = true
	b.onReady(value)
}

// changed passes a remote change, expressed against the card's text, on to
// the editor, whose text also holds the queued edits.
func (b *Binding) changed(ops ot.Ops) {
	b.mu.Lock()
	for i, edit := range b.pending {
		rebased, ep, err := ot.Transform(ops, edit)
		if err != nil {
			log.Printf("card %s: dropping %d edits to %q: %v", b.sub.cardId, len(b.pending)-i, b.prop, err)
			b.pending = b.pending[:i]
			break
		}
		ops, b.pending[i] = rebased, ep
	}
	b.mu.Unlock()
	if b.onChange != nil {
		b.onChange(ops)
	}
}

func (b *Binding) Release() {
	b.sub.mu.Lock()
	defer b.sub.mu.Unlock()
	if b.sub.bindings[b.prop] == b {
		delete(b.sub.bindings, b.prop)
	}
}
