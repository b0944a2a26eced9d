// Package common defines the messages exchanged between clients and the hub.
package common

import "github.com/asadovsky/cards/server/ot"

// Message types. Req.Type and Rsp.Type hold one of these, and the matching
// payload field is set.
const (
	MsgHello       = "hello"
	MsgSubscribe   = "subscribe"
	MsgUnsubscribe = "unsubscribe"
	MsgRevise      = "revise"
	MsgCreate      = "create"
	MsgError       = "error"
)

// Change is a revision of a single card property.
type Change struct {
	Prop string
	Ops  ot.Ops
}

// Sent from client to server.
type Req struct {
	Type        string
	Subscribe   *SubscribeReq   `json:",omitempty"`
	Unsubscribe *UnsubscribeReq `json:",omitempty"`
	Revise      *ReviseReq      `json:",omitempty"`
	Create      *CreateReq      `json:",omitempty"`
}

// SubId returns the subscription a request is addressed to, or 0.
func (r *Req) SubId() int {
	switch {
	case r.Subscribe != nil:
		return r.Subscribe.SubId
	case r.Unsubscribe != nil:
		return r.Unsubscribe.SubId
	case r.Revise != nil:
		return r.Revise.SubId
	}
	return 0
}

type SubscribeReq struct {
	CardId string
	SubId  int // chosen by the client, unique per connection
}

type UnsubscribeReq struct {
	SubId int
}

type ReviseReq struct {
	SubId  int
	Rev    int // revision the change was made against
	Change Change
}

type CreateReq struct {
	CreateId int
	Props    map[string]string
}

// Sent from server to client.
type Rsp struct {
	Type        string
	Hello       *HelloRsp       `json:",omitempty"`
	Subscribe   *SubscribeRsp   `json:",omitempty"`
	Unsubscribe *UnsubscribeRsp `json:",omitempty"`
	Revise      *ReviseRsp      `json:",omitempty"`
	Create      *CreateRsp      `json:",omitempty"`
	Error       *ErrorRsp       `json:",omitempty"`
}

// HelloRsp is the first message on every connection.
type HelloRsp struct {
	ConnId string
}

type SubscribeRsp struct {
	CardId string
	SubId  int
	Rev    int
	Props  map[string]string
}

type UnsubscribeRsp struct {
	SubId int
}

// ReviseRsp announces a committed change to every subscription of a
// connection on the card. It acknowledges the change for the subscription
// identified by OrigConnId and OrigSubId and is a remote change for all
// others.
type ReviseRsp struct {
	OrigConnId string
	OrigSubId  int
	CardId     string
	SubIds     []int // receiving connection's subscriptions to the card
	Rev        int   // revision after the change
	Change     Change
}

// IsAck reports whether rsp acknowledges a change sent by subscription subId
// of connection connId.
func (rsp *ReviseRsp) IsAck(connId string, subId int) bool {
	return rsp.OrigConnId == connId && rsp.OrigSubId == subId
}

type CreateRsp struct {
	CreateId int
	CardId   string
}

// ErrorRsp reports a failed request. SubId is set when the failure concerns a
// subscription, in which case the subscription is no longer usable.
type ErrorRsp struct {
	SubId int `json:",omitempty"`
	Msg   string
}
