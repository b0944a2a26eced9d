package hub

import (
	"context"
	"fmt"
	"log"
	"sort"
	"sync"

	mapset "github.com/deckarep/golang-set/v2"

	"github.com/asadovsky/cards/server/common"
	"github.com/asadovsky/cards/server/ot"
	"github.com/asadovsky/cards/server/store"
)

type subscriber struct {
	s     *stream
	subId int
}

// card is the authoritative copy of a card while at least one stream is
// subscribed to it.
type card struct {
	h  *hub
	id string

	mu    sync.Mutex
	rev   int
	props map[string]*ot.Doc
	// history[i] took the card from revision base+i to base+i+1.
	base    int
	history []common.Change
	subs    mapset.Set[subscriber]
}

func newCard(h *hub, id string, sn *store.Snapshot) *card {
	c := &card{
		h:     h,
		id:    id,
		rev:   sn.Rev,
		props: make(map[string]*ot.Doc, len(sn.Props)),
		base:  sn.Rev,
		subs:  mapset.NewThreadUnsafeSet[subscriber](),
	}
	for k, v := range sn.Props {
		c.props[k] = ot.NewDoc(v)
	}
	return c
}

// snapshot must be called with c.mu held.
func (c *card) snapshot() *store.Snapshot {
	props := make(map[string]string, len(c.props))
	for k, v := range c.props {
		props[k] = v.String()
	}
	return &store.Snapshot{Rev: c.rev, Props: props}
}

// revise commits a change made by subscription req.SubId of connection
// connId against revision req.Rev. The change is transformed past every
// change to the same property committed since, with the committed change
// winning insert ties, and the result is broadcast to all subscribers.
func (c *card) revise(connId string, req *common.ReviseReq) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if req.Rev < c.base || req.Rev > c.rev {
		return fmt.Errorf("revision %d outside [%d, %d]", req.Rev, c.base, c.rev)
	}
	if err := ot.Validate(req.Change.Ops); err != nil {
		return err
	}
	prop, ops := req.Change.Prop, ot.Merge(req.Change.Ops)
	for _, committed := range c.history[req.Rev-c.base:] {
		if committed.Prop != prop {
			continue
		}
		var err error
		if _, ops, err = ot.Transform(committed.Ops, ops); err != nil {
			return fmt.Errorf("rebase %q onto revision %d: %w", prop, req.Rev, err)
		}
	}
	doc, ok := c.props[prop]
	if !ok {
		doc = ot.NewDoc("")
	}
	if err := doc.Apply(ops); err != nil {
		return err
	}
	c.props[prop] = doc
	change := common.Change{Prop: prop, Ops: ops}
	c.history = append(c.history, change)
	c.rev++

	c.broadcast(connId, req.SubId, change)
	c.persist()
	return nil
}

// broadcast sends one ReviseRsp per subscribed stream, listing that stream's
// subscriptions to the card.
func (c *card) broadcast(connId string, subId int, change common.Change) {
	subIds := make(map[*stream][]int)
	c.subs.Each(func(sub subscriber) bool {
		subIds[sub.s] = append(subIds[sub.s], sub.subId)
		return false
	})
	for s, ids := range subIds {
		sort.Ints(ids)
		s.deliver(&common.Rsp{Type: common.MsgRevise, Revise: &common.ReviseRsp{
			OrigConnId: connId,
			OrigSubId:  subId,
			CardId:     c.id,
			SubIds:     ids,
			Rev:        c.rev,
			Change:     change,
		}})
	}
}

func (c *card) persist() {
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()
	if err := c.h.st.Save(ctx, c.id, c.snapshot()); err != nil {
		log.Printf("save card %s at revision %d: %v", c.id, c.rev, err)
	}
}
