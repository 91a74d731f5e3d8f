// Package learner implements the Paxos learner: idempotent handling
// of the DECIDE broadcast and the one-time consensus announcement.
package learner

import (
	"sync"

	"github.com/sandeepkv93/council/internal/clog"
	"github.com/sandeepkv93/council/internal/message"
)

// Learner records the first decided value for one peer and emits the
// canonical announcement exactly once.
type Learner struct {
	mu            sync.Mutex
	decided       bool
	decidedValue  string
	log           *clog.Logger
	onDecide      func(value string)
}

// New builds a Learner that logs through log. onDecide, if non-nil,
// fires exactly once the first time this peer decides — used to drive
// the optional observer feed without coupling the learner to it.
func New(log *clog.Logger, onDecide func(value string)) *Learner {
	return &Learner{log: log, onDecide: onDecide}
}

// HandleDecide implements the DECIDE contract: the first call records
// decided=true and announces; every subsequent call (even with a
// different value, which should not happen if safety holds) is a
// silent no-op. Always replies ACK.
func (l *Learner) HandleDecide(from string, v string) message.Message {
	l.mu.Lock()
	first := !l.decided
	if first {
		l.decided = true
		l.decidedValue = v
	}
	l.mu.Unlock()

	if first {
		l.log.Consensus(v)
		if l.onDecide != nil {
			l.onDecide(v)
		}
	}

	return message.Message{Type: message.Ack, From: from, N: message.MinNumber, AcceptedN: message.MinNumber}
}

// Decided reports whether this peer has decided, and on what value.
func (l *Learner) Decided() (bool, string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.decided, l.decidedValue
}
