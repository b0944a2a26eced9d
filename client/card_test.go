package client_test

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/asadovsky/cards/client"
	"github.com/asadovsky/cards/server/common"
	"github.com/asadovsky/cards/server/ot"
)

type sent struct {
	rev    int
	change common.Change
}

type fakeSender struct {
	sent []sent
}

func (s *fakeSender) Revise(rev int, change common.Change) error {
	s.sent = append(s.sent, sent{rev, change})
	return nil
}

func newCard(rev int, props map[string]string) (*client.Card, *fakeSender) {
	s := &fakeSender{}
	c := client.NewCard("c1", s)
	c.Subscribed(rev, props)
	return c, s
}

func TestCardBufferedEdits(t *testing.T) {
	c, s := newCard(3, map[string]string{"title": "hello"})
	eq(t, c.State("title"), client.Idle)

	e1 := change(t, "title", `[5,"!"]`)
	ok(t, c.Revise(e1))
	eq(t, c.State("title"), client.Waiting)
	eq(t, s.sent, []sent{{3, e1}})

	e2 := change(t, "title", `[6,"?"]`)
	ok(t, c.Revise(e2))
	eq(t, c.State("title"), client.WaitingWithBuffer)
	eq(t, len(s.sent), 1)
	eq(t, c.Prop("title"), "hello!?")
	eq(t, c.Confirmed("title"), "hello")

	ok(t, c.Ack(4, e1))
	eq(t, c.State("title"), client.Waiting)
	eq(t, c.Revision(), 4)
	eq(t, c.Confirmed("title"), "hello!")
	eq(t, s.sent[1], sent{4, e2})

	ok(t, c.Ack(5, e2))
	eq(t, c.State("title"), client.Idle)
	eq(t, c.Confirmed("title"), "hello!?")
	require.False(t, c.Pending())
}

func TestCardBufferComposes(t *testing.T) {
	c, s := newCard(0, map[string]string{"p": "ab"})
	ok(t, c.Revise(change(t, "p", `[2,"c"]`)))
	ok(t, c.Revise(change(t, "p", `[3,"d"]`)))
	ok(t, c.Revise(change(t, "p", `[-1,3]`)))
	eq(t, c.Prop("p"), "bcd")

	ok(t, c.Ack(1, change(t, "p", `[2,"c"]`)))
	eq(t, s.sent[1].change.Ops, decode(t, `[-1,2,"d"]`))
}

func TestCardRemoteWhileWaiting(t *testing.T) {
	c, s := newCard(3, map[string]string{"t": "hello"})
	var got []ot.Ops
	c.OnChange(func(prop string, ops ot.Ops) {
		eq(t, prop, "t")
		got = append(got, ops)
	})

	ok(t, c.Revise(change(t, "t", `[5," world"]`)))
	ok(t, c.Recv(4, change(t, "t", `[-5,"goodbye"]`)))
	eq(t, c.Revision(), 4)
	eq(t, c.State("t"), client.Waiting)
	eq(t, c.Confirmed("t"), "goodbye")
	eq(t, c.Prop("t"), "goodbye world")
	eq(t, got, []ot.Ops{decode(t, `[-5,"goodbye",6]`)})
	eq(t, len(s.sent), 1)

	// The edit in flight was rebased onto the remote change.
	ok(t, c.Ack(5, change(t, "t", `[5," world"]`)))
	eq(t, c.Confirmed("t"), "goodbye world")
	eq(t, c.State("t"), client.Idle)
}

func TestCardRemoteWhileBuffered(t *testing.T) {
	c, s := newCard(0, map[string]string{"t": "abc"})
	ok(t, c.Revise(change(t, "t", `[3,"1"]`)))
	ok(t, c.Revise(change(t, "t", `["2",4]`)))
	ok(t, c.Recv(1, change(t, "t", `[1,-1,1]`)))
	eq(t, c.Confirmed("t"), "ac")
	eq(t, c.Prop("t"), "2ac1")

	ok(t, c.Ack(2, change(t, "t", `[3,"1"]`)))
	eq(t, c.Confirmed("t"), "ac1")
	eq(t, s.sent[1], sent{2, change(t, "t", `["2",3]`)})
}

func TestCardIndependentProps(t *testing.T) {
	c, s := newCard(0, map[string]string{"a": "x", "b": "y"})
	ok(t, c.Revise(change(t, "a", `[1,"1"]`)))
	ok(t, c.Revise(change(t, "b", `[1,"2"]`)))
	eq(t, len(s.sent), 2)
	eq(t, c.State("a"), client.Waiting)
	eq(t, c.State("b"), client.Waiting)

	ok(t, c.Ack(1, change(t, "b", `[1,"2"]`)))
	eq(t, c.State("a"), client.Waiting)
	eq(t, c.State("b"), client.Idle)
	eq(t, c.Props(), map[string]string{"a": "x1", "b": "y2"})
}

func TestCardMissingProp(t *testing.T) {
	c, _ := newCard(0, nil)
	eq(t, c.Prop("body"), "")
	ok(t, c.Revise(change(t, "body", `["x"]`)))
	eq(t, c.Prop("body"), "x")
	ok(t, c.Recv(1, change(t, "other", `["y"]`)))
	eq(t, c.Confirmed("other"), "y")
}

func TestCardErrors(t *testing.T) {
	c := client.NewCard("c1", &fakeSender{})
	require.False(t, c.Ready())
	require.ErrorIs(t, c.Revise(change(t, "p", `["x"]`)), client.ErrNotSubscribed)
	require.ErrorIs(t, c.Recv(0, change(t, "p", `["x"]`)), client.ErrNotSubscribed)

	c.Subscribed(3, map[string]string{"p": "hello"})
	require.ErrorIs(t, c.Revise(change(t, "p", `[10]`)), ot.ErrLengthMismatch)
	require.ErrorIs(t, c.Revise(common.Change{Prop: "p", Ops: ot.Ops{ot.Retain(-1)}}), ot.ErrInvalidOp)
	require.ErrorIs(t, c.Ack(4, change(t, "p", `[5]`)), client.ErrNoPending)
	require.ErrorIs(t, c.Recv(5, change(t, "p", `[5]`)), client.ErrRevisionGap)
	require.ErrorIs(t, c.Recv(3, change(t, "p", `[5]`)), client.ErrRevisionGap)
	require.ErrorIs(t, c.Recv(4, change(t, "p", `[6]`)), ot.ErrLengthMismatch)
	eq(t, c.Revision(), 3)
}

func TestCardEmptyEdit(t *testing.T) {
	c, s := newCard(0, map[string]string{"p": "", "q": "x"})
	ok(t, c.Revise(common.Change{Prop: "p", Ops: ot.Ops{}}))
	ok(t, c.Revise(common.Change{Prop: "p"}))
	eq(t, c.State("p"), client.Idle)
	require.False(t, c.Pending())
	require.Empty(t, s.sent)

	// Emptying q leaves an edit in flight; further empty edits buffer nothing.
	ok(t, c.Revise(change(t, "q", `[-1]`)))
	ok(t, c.Revise(common.Change{Prop: "q", Ops: ot.Ops{ot.Retain(0), ot.Insert("")}}))
	eq(t, c.State("q"), client.Waiting)
	ok(t, c.Revise(change(t, "q", `["y"]`)))
	ok(t, c.Revise(change(t, "q", `[1]`)))
	eq(t, c.State("q"), client.WaitingWithBuffer)
	eq(t, len(s.sent), 1)
	ok(t, c.Ack(1, change(t, "q", `[-1]`)))
	eq(t, s.sent[1], sent{1, change(t, "q", `["y"]`)})
	ok(t, c.Ack(2, change(t, "q", `["y"]`)))
	eq(t, c.State("q"), client.Idle)
	eq(t, c.Confirmed("q"), "y")
}

func TestCardFailedRecvKeepsReplicas(t *testing.T) {
	c, s := newCard(2, map[string]string{"p": "abc"})
	ok(t, c.Revise(change(t, "p", `[3,"d"]`)))
	require.ErrorIs(t, c.Recv(3, change(t, "p", `[4]`)), ot.ErrNotConcurrent)
	require.ErrorIs(t, c.Recv(3, common.Change{Prop: "q", Ops: ot.Ops{ot.Retain(1)}}), ot.ErrLengthMismatch)
	eq(t, c.Revision(), 2)
	eq(t, c.Confirmed("p"), "abc")
	eq(t, c.Prop("p"), "abcd")
	eq(t, c.Confirmed("q"), "")
	eq(t, c.State("p"), client.Waiting)

	// The card still converges afterwards.
	ok(t, c.Recv(3, change(t, "p", `["x",3]`)))
	eq(t, c.Confirmed("p"), "xabc")
	eq(t, c.Prop("p"), "xabcd")
	ok(t, c.Ack(4, change(t, "p", `[4,"d"]`)))
	eq(t, c.Confirmed("p"), "xabcd")
	eq(t, len(s.sent), 1)
}

func TestCardReentrantEdit(t *testing.T) {
	c, _ := newCard(0, map[string]string{"p": "a"})
	var inner error
	c.OnChange(func(prop string, ops ot.Ops) {
		inner = c.Revise(change(t, "p", `[2,"!"]`))
	})
	ok(t, c.Recv(1, change(t, "p", `[1,"b"]`)))
	require.ErrorIs(t, inner, client.ErrReentrant)
	eq(t, c.Prop("p"), "ab")
	ok(t, c.Revise(change(t, "p", `[2,"!"]`)))
	eq(t, c.Prop("p"), "ab!")
}

func TestCardRelease(t *testing.T) {
	c, _ := newCard(0, map[string]string{"p": ""})
	ok(t, c.Revise(change(t, "p", `["a"]`)))
	ok(t, c.Revise(change(t, "p", `[1,"b"]`)))
	require.True(t, c.Pending())
	dropped := c.Release()
	eq(t, dropped, []common.Change{change(t, "p", `["a"]`), change(t, "p", `[1,"b"]`)})
	require.False(t, c.Ready())
	eq(t, c.Revision(), -1)
	eq(t, c.Prop("p"), "")
}

func TestStateString(t *testing.T) {
	eq(t, client.Idle.String(), "idle")
	eq(t, client.WaitingWithBuffer.String(), "waiting+buffer")
	eq(t, client.State(9).String(), "State(9)")
}

// sim is a minimal in-memory server for a single property.
type sim struct {
	text    string
	history []ot.Ops
}

type simReq struct {
	rev int
	ops ot.Ops
}

type simRsp struct {
	rev int
	ops ot.Ops
	ack bool
}

type simPeer struct {
	card   *client.Card
	outbox []simReq
	inbox  []simRsp
}

func (p *simPeer) Revise(rev int, change common.Change) error {
	p.outbox = append(p.outbox, simReq{rev, change.Ops})
	return nil
}

func (s *sim) commit(t *testing.T, peers []*simPeer, from int) {
	p := peers[from]
	req := p.outbox[0]
	p.outbox = p.outbox[1:]
	ops := req.ops
	for _, h := range s.history[req.rev:] {
		var err error
		_, ops, err = ot.Transform(h, ops)
		ok(t, err)
	}
	s.text = apply(t, s.text, ops)
	s.history = append(s.history, ops)
	for i, q := range peers {
		q.inbox = append(q.inbox, simRsp{rev: len(s.history), ops: ops, ack: i == from})
	}
}

func (p *simPeer) deliver(t *testing.T) {
	rsp := p.inbox[0]
	p.inbox = p.inbox[1:]
	ch := common.Change{Prop: "p", Ops: rsp.ops}
	if rsp.ack {
		ok(t, p.card.Ack(rsp.rev, ch))
	} else {
		ok(t, p.card.Recv(rsp.rev, ch))
	}
}

func TestCardConvergence(t *testing.T) {
	r := rand.New(rand.NewSource(1))
	for iter := 0; iter < 200; iter++ {
		s := &sim{text: randomText(r, r.Intn(6))}
		peers := make([]*simPeer, 3)
		for i := range peers {
			p := &simPeer{}
			p.card = client.NewCard("c", p)
			p.card.Subscribed(0, map[string]string{"p": s.text})
			peers[i] = p
		}
		for step := 0; step < 40; step++ {
			p := peers[r.Intn(len(peers))]
			switch r.Intn(3) {
			case 0:
				ok(t, p.card.Revise(common.Change{Prop: "p", Ops: randomOps(r, p.card.Prop("p"))}))
			case 1:
				if len(p.outbox) > 0 {
					s.commit(t, peers, indexOf(peers, p))
				}
			case 2:
				if len(p.inbox) > 0 {
					p.deliver(t)
				}
			}
		}
		for busy := true; busy; {
			busy = false
			for i, p := range peers {
				for len(p.outbox) > 0 {
					s.commit(t, peers, i)
					busy = true
				}
			}
			for _, p := range peers {
				for len(p.inbox) > 0 {
					p.deliver(t)
					busy = true
				}
			}
		}
		for _, p := range peers {
			require.False(t, p.card.Pending())
			eq(t, p.card.Revision(), len(s.history))
			eq(t, p.card.Prop("p"), s.text)
			eq(t, p.card.Confirmed("p"), s.text)
		}
	}
}

func indexOf(peers []*simPeer, p *simPeer) int {
	for i, q := range peers {
		if q == p {
			return i
		}
	}
	return -1
}
