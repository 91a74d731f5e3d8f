// Package proposer implements the Paxos proposer's two-phase
// protocol: prepare/promise, value carry-forward, accept/accepted,
// and the final decide broadcast.
package proposer

import (
	"sync/atomic"

	"github.com/sandeepkv93/council/internal/clog"
	"github.com/sandeepkv93/council/internal/message"
	"github.com/sandeepkv93/council/internal/peer"
	"github.com/sandeepkv93/council/internal/peertable"
	"github.com/sandeepkv93/council/internal/rpcfanout"
)

// Outcome tags the result of one propose() attempt.
type Outcome int

const (
	Decided Outcome = iota
	Phase1NoQuorum
	Phase2NoQuorum
)

func (o Outcome) String() string {
	switch o {
	case Decided:
		return "decided"
	case Phase1NoQuorum:
		return "phase1-no-quorum"
	case Phase2NoQuorum:
		return "phase2-no-quorum"
	default:
		return "unknown"
	}
}

// Result is the outcome of one propose() attempt.
type Result struct {
	Outcome Outcome
	Value   string
	N       message.Number
}

// Proposer drives propose() attempts for one member. localCounter is
// incremented atomically so concurrent propose() calls on the same
// peer never mint the same counter.
type Proposer struct {
	self         string
	memberIdx    int
	localCounter atomic.Int64
	table        *peertable.Table
	fanout       *rpcfanout.Fanout
	local        *peer.Peer
	log          *clog.Logger
}

// New builds a Proposer for self, broadcasting via fanout and driving
// the local learner through local's Dispatch so the proposer's own
// peer announces consensus through the same codepath the wire
// listener uses.
func New(self string, memberIdx int, table *peertable.Table, fanout *rpcfanout.Fanout, local *peer.Peer, log *clog.Logger) *Proposer {
	return &Proposer{self: self, memberIdx: memberIdx, table: table, fanout: fanout, local: local, log: log}
}

// Propose drives one attempt of the Paxos protocol for candidate.
// The engine never auto-retries a failed attempt; callers that want
// retry-with-backoff must call Propose again themselves.
func (p *Proposer) Propose(candidate string) Result {
	n := message.Number{
		Counter:   p.localCounter.Add(1),
		MemberIdx: p.memberIdx,
	}

	p.log.Printf("propose: phase 1 starting n=%s candidate=%s", n, candidate)

	promises := p.fanout.Broadcast(message.Message{
		Type:      message.Prepare,
		From:      p.self,
		N:         n,
		AcceptedN: message.MinNumber,
	})

	promiseCount := 0
	var bestAcceptedN = message.MinNumber
	bestValue := ""
	haveBest := false

	for _, r := range promises {
		if r.Type != message.Promise {
			continue
		}
		promiseCount++
		if !r.AcceptedN.IsMin() && (!haveBest || r.AcceptedN.Greater(bestAcceptedN)) {
			bestAcceptedN = r.AcceptedN
			bestValue = r.AcceptedV
			haveBest = true
		}
	}

	majority := p.table.Majority()
	if promiseCount < majority {
		p.log.Printf("propose: phase 1 no quorum (%d/%d) n=%s", promiseCount, majority, n)
		return Result{Outcome: Phase1NoQuorum, N: n}
	}

	value := candidate
	if haveBest {
		value = bestValue
		p.log.Printf("propose: carrying forward previously accepted value %q (acceptedN=%s)", value, bestAcceptedN)
	}

	p.log.Printf("propose: phase 2 starting n=%s value=%s", n, value)

	accepts := p.fanout.Broadcast(message.Message{
		Type:      message.AcceptRequest,
		From:      p.self,
		N:         n,
		Value:     value,
		AcceptedN: message.MinNumber,
	})

	acceptCount := 0
	for _, r := range accepts {
		if r.Type == message.Accepted {
			acceptCount++
		}
	}

	if acceptCount < majority {
		p.log.Printf("propose: phase 2 no quorum (%d/%d) n=%s", acceptCount, majority, n)
		return Result{Outcome: Phase2NoQuorum, N: n, Value: value}
	}

	p.log.Printf("propose: decided value=%s n=%s, broadcasting DECIDE", value, n)

	decide := message.Message{Type: message.Decide, From: p.self, Value: value, N: message.MinNumber, AcceptedN: message.MinNumber}
	p.fanout.Broadcast(decide)
	p.local.Dispatch(decide)

	return Result{Outcome: Decided, Value: value, N: n}
}
