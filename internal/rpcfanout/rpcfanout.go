// Package rpcfanout implements the concurrent broadcast-and-collect
// primitive the proposer uses for both Paxos phases and the final
// decide broadcast: send a message to every peer but self in
// parallel, gather whatever replies arrive before a deadline, and
// treat the rest as silent absences.
package rpcfanout

import (
	"bufio"
	"net"
	"time"

	"github.com/google/uuid"

	"github.com/sandeepkv93/council/internal/clog"
	"github.com/sandeepkv93/council/internal/message"
	"github.com/sandeepkv93/council/internal/peertable"
	"github.com/sandeepkv93/council/internal/profile"
)

// Config bounds one fan-out's timeouts, grounded on spec's normative
// defaults.
type Config struct {
	ConnectTimeout time.Duration
	RPCTimeout     time.Duration
}

// DefaultConfig returns the spec's normative RPC_TIMEOUT_MS /
// CONNECT_TIMEOUT_MS defaults.
func DefaultConfig() Config {
	return Config{
		ConnectTimeout: 800 * time.Millisecond,
		RPCTimeout:     2000 * time.Millisecond,
	}
}

// Fanout broadcasts messages from one peer to the rest of the cluster.
type Fanout struct {
	self    string
	table   *peertable.Table
	profile *profile.Profile
	cfg     Config
	log     *clog.Logger
}

// New builds a Fanout for self, dialing peers resolved from table,
// applying self's outbound fault profile before every send.
func New(self string, table *peertable.Table, outbound *profile.Profile, cfg Config, log *clog.Logger) *Fanout {
	return &Fanout{self: self, table: table, profile: outbound, cfg: cfg, log: log}
}

// Broadcast sends msg to every peer but self concurrently and returns
// whatever replies arrive before the configured RPC deadline. Order
// is unspecified; callers must count by reply Type, never by position.
func (f *Fanout) Broadcast(msg message.Message) []message.Message {
	peers := f.table.Peers(f.self)
	replies := make(chan message.Message, len(peers))

	attemptID := uuid.New().String()[:8]

	for _, id := range peers {
		go func(id string) {
			entry, ok := f.table.Lookup(id)
			if !ok {
				return
			}
			reply, ok := f.send(attemptID, entry, msg)
			if ok {
				replies <- reply
			}
		}(id)
	}

	deadline := time.NewTimer(f.cfg.RPCTimeout)
	defer deadline.Stop()

	var collected []message.Message
	for i := 0; i < len(peers); i++ {
		select {
		case r := <-replies:
			collected = append(collected, r)
		case <-deadline.C:
			f.log.Printf("fanout[%s] %s: deadline reached, %d/%d replies collected", attemptID, msg.Type, len(collected), len(peers))
			return collected
		}
	}
	return collected
}

// send performs one outbound hop: connect, consult the outbound fault
// profile, write the frame, read one reply line. A connect failure, a
// simulated drop, or a read timeout all resolve to (zero, false) — an
// absent reply, not an error.
func (f *Fanout) send(attemptID string, entry peertable.Entry, msg message.Message) (message.Message, bool) {
	conn, err := net.DialTimeout("tcp", entry.Addr(), f.cfg.ConnectTimeout)
	if err != nil {
		f.log.Printf("fanout[%s] connect %s failed: %v", attemptID, entry.ID, err)
		return message.Message{}, false
	}
	defer conn.Close()

	if f.profile.ShouldDrop() {
		f.log.Printf("fanout[%s] outbound drop to %s", attemptID, entry.ID)
		return message.Message{}, false
	}
	f.profile.Delay()

	conn.SetDeadline(time.Now().Add(f.cfg.RPCTimeout))

	if _, err := conn.Write([]byte(message.Serialize(msg) + "\n")); err != nil {
		f.log.Printf("fanout[%s] write to %s failed: %v", attemptID, entry.ID, err)
		return message.Message{}, false
	}

	line, err := bufio.NewReader(conn).ReadString('\n')
	if err != nil {
		f.log.Printf("fanout[%s] read from %s failed: %v", attemptID, entry.ID, err)
		return message.Message{}, false
	}

	reply, err := message.Parse(trimNewline(line))
	if err != nil {
		f.log.Printf("fanout[%s] malformed reply from %s: %v", attemptID, entry.ID, err)
		return message.Message{}, false
	}

	return reply, true
}

func trimNewline(s string) string {
	for len(s) > 0 && (s[len(s)-1] == '\n' || s[len(s)-1] == '\r') {
		s = s[:len(s)-1]
	}
	return s
}
