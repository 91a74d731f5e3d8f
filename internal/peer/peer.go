// Package peer wires one member's Acceptor and Learner behind a
// single dispatch entrypoint, so that inbound wire traffic and the
// proposer's local learner drive go through the same codepath.
package peer

import (
	"github.com/sandeepkv93/council/internal/acceptor"
	"github.com/sandeepkv93/council/internal/learner"
	"github.com/sandeepkv93/council/internal/message"
)

// Peer owns this member's acceptor and learner state.
type Peer struct {
	ID       string
	Acceptor *acceptor.Acceptor
	Learner  *learner.Learner
}

// New builds a Peer for id.
func New(id string, a *acceptor.Acceptor, l *learner.Learner) *Peer {
	return &Peer{ID: id, Acceptor: a, Learner: l}
}

// Dispatch routes an inbound message to the acceptor or learner and
// returns the reply to send back. Unknown types reply ERROR without
// touching any state.
func (p *Peer) Dispatch(m message.Message) message.Message {
	switch m.Type {
	case message.Prepare:
		return p.Acceptor.HandlePrepare(p.ID, m.N)
	case message.AcceptRequest:
		return p.Acceptor.HandleAccept(p.ID, m.N, m.Value)
	case message.Decide:
		return p.Learner.HandleDecide(p.ID, m.Value)
	default:
		return message.Message{Type: message.Error, From: p.ID, Value: "unknown message type", N: message.MinNumber, AcceptedN: message.MinNumber}
	}
}
