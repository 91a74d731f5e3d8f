// Package acceptor implements the Paxos acceptor state machine: the
// safety guardian that promises proposal numbers and accepts values.
package acceptor

import (
	"fmt"
	"sync"

	"github.com/sandeepkv93/council/internal/message"
)

// Acceptor holds one peer's promised/accepted state. All three fields
// are mutated under a single mutex so that invariant 1 (promisedN >=
// acceptedN) and invariant 2 (acceptedV defined iff acceptedN != MIN)
// never observe a half-updated state.
type Acceptor struct {
	mu        sync.Mutex
	promisedN message.Number
	acceptedN message.Number
	acceptedV string
}

// New builds an Acceptor with no promises or accepted values.
func New() *Acceptor {
	return &Acceptor{
		promisedN: message.MinNumber,
		acceptedN: message.MinNumber,
	}
}

// HandlePrepare implements the PREPARE contract: promise n if it is
// strictly greater than the current promise, otherwise reject without
// changing state.
func (a *Acceptor) HandlePrepare(from string, n message.Number) message.Message {
	a.mu.Lock()
	defer a.mu.Unlock()

	if n.Greater(a.promisedN) {
		a.promisedN = n
		return message.Message{
			Type:      message.Promise,
			From:      from,
			N:         n,
			AcceptedN: a.acceptedN,
			AcceptedV: a.acceptedV,
		}
	}

	return message.Message{
		Type:      message.Reject,
		From:      from,
		N:         n,
		Value:     fmt.Sprintf("promised=%s", a.promisedN),
		AcceptedN: message.MinNumber,
	}
}

// HandleAccept implements the ACCEPT_REQUEST contract: accept (n, v)
// if n is at least the current promise, otherwise reject without
// changing state. Equality is intentional: an acceptor that promised
// n must still accept that same n when it arrives.
func (a *Acceptor) HandleAccept(from string, n message.Number, v string) message.Message {
	a.mu.Lock()
	defer a.mu.Unlock()

	if n.GreaterOrEqual(a.promisedN) {
		a.promisedN = n
		a.acceptedN = n
		a.acceptedV = v
		return message.Message{
			Type:      message.Accepted,
			From:      from,
			N:         n,
			Value:     v,
			AcceptedN: message.MinNumber,
		}
	}

	return message.Message{
		Type:      message.Reject,
		From:      from,
		N:         n,
		Value:     fmt.Sprintf("promised=%s", a.promisedN),
		AcceptedN: message.MinNumber,
	}
}

// State returns the current (promisedN, acceptedN, acceptedV) triple,
// for tests and diagnostics.
func (a *Acceptor) State() (promisedN, acceptedN message.Number, acceptedV string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.promisedN, a.acceptedN, a.acceptedV
}

// Seed forces the acceptor into a pre-existing accepted state, used by
// tests exercising the value carry-forward scenario.
func (a *Acceptor) Seed(n message.Number, v string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.promisedN = n
	a.acceptedN = n
	a.acceptedV = v
}
