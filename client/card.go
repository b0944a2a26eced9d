// Package client keeps local replicas of cards consistent with the hub.
//
// A Card tracks, for each property, at most one change in flight to the server
// (wait) and the local edits made since it was sent (buf). Acks and remote
// changes are reconciled against both with ot.Transform.
package client

import (
	"errors"
	"fmt"

	"github.com/asadovsky/cards/server/common"
	"github.com/asadovsky/cards/server/ot"
)

var (
	ErrNotSubscribed = errors.New("card is not subscribed")
	ErrNoPending     = errors.New("no pending change")
	ErrRevisionGap   = errors.New("revision out of order")
	ErrReentrant     = errors.New("local edit during change notification")
)

// unsubscribed is the revision of a card that has no server state.
const unsubscribed = -1

// State describes the outgoing changes of a card property.
type State int

const (
	Idle State = iota
	Waiting
	WaitingWithBuffer
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Waiting:
		return "waiting"
	case WaitingWithBuffer:
		return "waiting+buffer"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Sender sends a change made against revision rev to the server.
type Sender interface {
	Revise(rev int, change common.Change) error
}

// Card is the client-side state machine for one card subscription. It is not
// safe for concurrent use; Client drives it from a single goroutine.
//
// After Ack or Recv returns an error the card no longer converges with the
// server and must be released.
type Card struct {
	id  string
	rev int
	// confirmed holds each property as of rev. view holds what the user sees:
	// confirmed with wait and buf applied.
	confirmed map[string]*ot.Doc
	view      map[string]*ot.Doc
	wait      map[string]ot.Ops
	buf       map[string]ot.Ops
	send      Sender
	onChange  func(prop string, ops ot.Ops)
	notifying bool
}

func NewCard(id string, send Sender) *Card {
	c := &Card{id: id, send: send}
	c.reset()
	return c
}

func (c *Card) reset() {
	c.rev = unsubscribed
	c.confirmed = make(map[string]*ot.Doc)
	c.view = make(map[string]*ot.Doc)
	c.wait = make(map[string]ot.Ops)
	c.buf = make(map[string]ot.Ops)
}

func (c *Card) Id() string {
	return c.id
}

// Subscribed initializes the card from the server's subscribe response.
func (c *Card) Subscribed(rev int, props map[string]string) {
	c.reset()
	c.rev = rev
	for k, v := range props {
		c.confirmed[k] = ot.NewDoc(v)
		c.view[k] = ot.NewDoc(v)
	}
}

func (c *Card) Ready() bool {
	return c.rev != unsubscribed
}

// Revision returns the number of the last server revision applied to the
// card, or -1 before the card is subscribed.
func (c *Card) Revision() int {
	return c.rev
}

// Prop returns the local value of a property, including edits not yet
// acknowledged. Missing properties are empty.
func (c *Card) Prop(key string) string {
	if doc, ok := c.view[key]; ok {
		return doc.String()
	}
	return ""
}

// Confirmed returns the value of a property as of Revision.
func (c *Card) Confirmed(key string) string {
	if doc, ok := c.confirmed[key]; ok {
		return doc.String()
	}
	return ""
}

// Props returns the local value of every property.
func (c *Card) Props() map[string]string {
	props := make(map[string]string, len(c.view))
	for k, v := range c.view {
		props[k] = v.String()
	}
	return props
}

func (c *Card) State(prop string) State {
	switch {
	case c.buf[prop] != nil:
		return WaitingWithBuffer
	case c.wait[prop] != nil:
		return Waiting
	}
	return Idle
}

// Pending reports whether any property has changes the server has not
// acknowledged.
func (c *Card) Pending() bool {
	return len(c.wait) > 0 || len(c.buf) > 0
}

// OnChange registers fn to be called with every remote change after it has
// been transformed against local edits and applied. Only one function is kept.
func (c *Card) OnChange(fn func(prop string, ops ot.Ops)) {
	c.onChange = fn
}

func doc(docs map[string]*ot.Doc, prop string) *ot.Doc {
	d, ok := docs[prop]
	if !ok {
		d = ot.NewDoc("")
		docs[prop] = d
	}
	return d
}

func text(docs map[string]*ot.Doc, prop string) string {
	if d := docs[prop]; d != nil {
		return d.String()
	}
	return ""
}

func isRetain(op ot.Op) bool {
	_, ok := op.(ot.Retain)
	return ok
}

// Revise records a local edit. The edit is sent at once if nothing is in
// flight for the property, and buffered otherwise. An edit that changes
// nothing is accepted and dropped.
func (c *Card) Revise(change common.Change) error {
	if c.notifying {
		return ErrReentrant
	}
	if !c.Ready() {
		return ErrNotSubscribed
	}
	if err := ot.Validate(change.Ops); err != nil {
		return err
	}
	prop, ops := change.Prop, ot.Merge(change.Ops)
	view := doc(c.view, prop)
	if base := ot.BaseLen(ops); base != view.Len() {
		return fmt.Errorf("%w: edit base length %d != %q length %d", ot.ErrLengthMismatch, base, prop, view.Len())
	}
	if len(ops) == 0 || len(ops) == 1 && isRetain(ops[0]) {
		return nil
	}

	switch c.State(prop) {
	case WaitingWithBuffer:
		buf, err := ot.Compose(c.buf[prop], ops)
		if err != nil {
			return err
		}
		if err := view.Apply(ops); err != nil {
			return err
		}
		c.buf[prop] = buf
	case Waiting:
		if err := view.Apply(ops); err != nil {
			return err
		}
		c.buf[prop] = ops
	default:
		if err := view.Apply(ops); err != nil {
			return err
		}
		c.wait[prop] = ops
		return c.send.Revise(c.rev, common.Change{Prop: prop, Ops: ops})
	}
	return nil
}

func (c *Card) checkRev(rev int) error {
	if !c.Ready() {
		return ErrNotSubscribed
	}
	if rev != c.rev+1 {
		return fmt.Errorf("%w: got revision %d at %d", ErrRevisionGap, rev, c.rev)
	}
	return nil
}

// Ack handles the server's confirmation that the change in flight for
// change.Prop was committed as revision rev. Buffered edits are sent next.
func (c *Card) Ack(rev int, change common.Change) error {
	if err := c.checkRev(rev); err != nil {
		return err
	}
	prop := change.Prop
	wait := c.wait[prop]
	if wait == nil {
		return fmt.Errorf("%w for %q", ErrNoPending, prop)
	}
	if err := doc(c.confirmed, prop).Apply(wait); err != nil {
		return err
	}
	c.rev++

	if buf := c.buf[prop]; buf != nil {
		c.wait[prop] = buf
		delete(c.buf, prop)
		return c.send.Revise(c.rev, common.Change{Prop: prop, Ops: buf})
	}
	delete(c.wait, prop)
	return nil
}

// Recv handles a change committed as revision rev by another subscriber.
func (c *Card) Recv(rev int, change common.Change) error {
	if err := c.checkRev(rev); err != nil {
		return err
	}
	prop, ops := change.Prop, change.Ops
	if ops == nil {
		ops = ot.Ops{}
	}

	wait, buf := c.wait[prop], c.buf[prop]
	var err error
	out := ops
	if wait != nil {
		if out, wait, err = ot.Transform(out, wait); err != nil {
			return err
		}
	}
	if buf != nil {
		if out, buf, err = ot.Transform(out, buf); err != nil {
			return err
		}
	}
	// Both replicas change or neither does.
	confirmed := ot.NewDoc(text(c.confirmed, prop))
	if err := confirmed.Apply(ops); err != nil {
		return err
	}
	view := ot.NewDoc(text(c.view, prop))
	if err := view.Apply(out); err != nil {
		return err
	}
	c.confirmed[prop], c.view[prop] = confirmed, view
	if wait != nil {
		c.wait[prop] = wait
	}
	if buf != nil {
		c.buf[prop] = buf
	}
	c.rev++
	c.notify(prop, out)
	return nil
}

func (c *Card) notify(prop string, ops ot.Ops) {
	if c.onChange == nil {
		return
	}
	c.notifying = true
	defer func() { c.notifying = false }()
	c.onChange(prop, ops)
}

// Release forgets all server state and returns the changes that were never
// acknowledged, in flight first.
func (c *Card) Release() []common.Change {
	var dropped []common.Change
	for prop, ops := range c.wait {
		dropped = append(dropped, common.Change{Prop: prop, Ops: ops})
	}
	for prop, ops := range c.buf {
		dropped = append(dropped, common.Change{Prop: prop, Ops: ops})
	}
	c.reset()
	return dropped
}

// cardState is the exported view of a card used in debug dumps.
type cardState struct {
	Id   string
	Rev  int
	Wait map[string]ot.Ops
	Buf  map[string]ot.Ops
}

func (c *Card) state() cardState {
	return cardState{Id: c.id, Rev: c.rev, Wait: c.wait, Buf: c.buf}
}
