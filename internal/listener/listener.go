// Package listener runs the inbound TCP accept loop: one connection
// per request, one frame read, fault-profile consultation, dispatch,
// at most one reply.
package listener

import (
	"bufio"
	"net"
	"strings"
	"sync"

	"golang.org/x/net/netutil"

	"github.com/sandeepkv93/council/internal/clog"
	"github.com/sandeepkv93/council/internal/message"
	"github.com/sandeepkv93/council/internal/peer"
	"github.com/sandeepkv93/council/internal/profile"
)

// DefaultMaxInbound bounds concurrent inbound connections so a burst
// of fan-out traffic from the rest of the cluster cannot exhaust file
// descriptors.
const DefaultMaxInbound = 256

// Listener accepts one connection at a time from a pool of concurrent
// handlers and dispatches each frame to peer.
type Listener struct {
	addr       string
	peer       *peer.Peer
	inbound    *profile.Profile
	log        *clog.Logger
	maxInbound int

	mu       sync.Mutex
	raw      net.Listener
	wg       sync.WaitGroup
	stopping bool
}

// New builds a Listener bound to addr, dispatching traffic to p and
// consulting inbound's fault hooks before every dispatch.
func New(addr string, p *peer.Peer, inbound *profile.Profile, log *clog.Logger, maxInbound int) *Listener {
	if maxInbound <= 0 {
		maxInbound = DefaultMaxInbound
	}
	return &Listener{addr: addr, peer: p, inbound: inbound, log: log, maxInbound: maxInbound}
}

// Start binds the listening socket and begins accepting connections
// in a background goroutine. It returns once the socket is bound.
func (l *Listener) Start() error {
	raw, err := net.Listen("tcp", l.addr)
	if err != nil {
		return err
	}
	l.raw = netutil.LimitListener(raw, l.maxInbound)

	l.log.Printf("listening on %s (max inbound %d)", l.addr, l.maxInbound)

	l.wg.Add(1)
	go l.acceptLoop()
	return nil
}

// Addr reports the bound address, useful when addr was ":0".
func (l *Listener) Addr() net.Addr {
	return l.raw.Addr()
}

func (l *Listener) acceptLoop() {
	defer l.wg.Done()

	for {
		conn, err := l.raw.Accept()
		if err != nil {
			l.mu.Lock()
			stopping := l.stopping
			l.mu.Unlock()
			if stopping {
				return
			}
			l.log.Printf("accept error: %v", err)
			continue
		}

		l.wg.Add(1)
		go l.handle(conn)
	}
}

// handle services exactly one inbound frame: the listener never holds
// connections across requests.
func (l *Listener) handle(conn net.Conn) {
	defer l.wg.Done()
	defer conn.Close()

	line, err := bufio.NewReader(conn).ReadString('\n')
	if err != nil {
		return // peer closed before sending a full frame
	}
	line = strings.TrimRight(line, "\r\n")

	if l.inbound.ShouldDrop() {
		l.log.Printf("inbound drop from %s", conn.RemoteAddr())
		return
	}
	l.inbound.Delay()

	m, err := message.Parse(line)
	if err != nil {
		l.log.Printf("malformed frame from %s: %v", conn.RemoteAddr(), err)
		return
	}

	reply := l.peer.Dispatch(m)

	w := bufio.NewWriter(conn)
	w.WriteString(message.Serialize(reply))
	w.WriteString("\n")
	w.Flush()
}

// Stop closes the listening socket and waits for in-flight handlers
// to finish.
func (l *Listener) Stop() {
	l.mu.Lock()
	l.stopping = true
	l.mu.Unlock()

	if l.raw != nil {
		l.raw.Close()
	}
	l.wg.Wait()
}
