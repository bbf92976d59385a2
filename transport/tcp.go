package transport

import (
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"sync"
	"time"
)

// TCP is a full-mesh transport for multi-node jobs. Every rank is
// given the same ordered address list; a rank's identity is the index
// of its own address in that list. Each unordered pair of ranks
// shares one TCP connection (the lower rank accepts, the higher rank
// dials) used in both directions. TCP's in-order delivery provides
// the per-(peer, tag) FIFO guarantee.
//
// A frame on the wire is (tag:int32, length:int32, payload). Frames
// that arrive before a matching Irecv is posted are parked per
// (peer, tag) and matched in arrival order.
type TCP struct {
	rank  int
	addrs []string

	mu      sync.Mutex
	pending map[pairKey][]*tcpRecv
	parked  map[pairKey][][]byte
	closed  bool

	links []*tcpLink
}

type pairKey struct {
	peer, tag int
}

type tcpRecv struct {
	req *Request
	buf []byte
}

type tcpLink struct {
	peer int
	conn net.Conn

	mu     sync.Mutex
	cond   *sync.Cond
	queue  []outFrame
	closed bool
}

type outFrame struct {
	tag     int32
	payload []byte
	req     *Request
}

const dialRetryInterval = 100 * time.Millisecond
const dialTimeout = 30 * time.Second

// NewTCP builds the mesh. It blocks until a connection to every peer
// is established, so it belongs in the init() bracket of the daemon,
// not on its event loop.
func NewTCP(addr string, alladdrs []string) (*TCP, error) {
	rank := -1
	for i, a := range alladdrs {
		if a == addr {
			rank = i
			break
		}
	}
	if rank < 0 {
		return nil, fmt.Errorf("transport: own address %q not in address list %v",
			addr, alladdrs)
	}

	t := &TCP{
		rank:    rank,
		addrs:   alladdrs,
		pending: make(map[pairKey][]*tcpRecv),
		parked:  make(map[pairKey][][]byte),
		links:   make([]*tcpLink, len(alladdrs)),
	}
	if len(alladdrs) == 1 {
		return t, nil
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	defer ln.Close()

	var wg sync.WaitGroup
	var mu sync.Mutex
	var firstErr error
	fail := func(err error) {
		mu.Lock()
		if firstErr == nil {
			firstErr = err
		}
		mu.Unlock()
		// unblock the accept side so mesh construction can bail out
		ln.Close()
	}

	// higher ranks dial us
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := rank + 1; i < len(alladdrs); i++ {
			conn, err := ln.Accept()
			if err != nil {
				fail(err)
				return
			}
			var hello [4]byte
			if _, err := io.ReadFull(conn, hello[:]); err != nil {
				fail(err)
				return
			}
			peer := int(binary.BigEndian.Uint32(hello[:]))
			if peer <= rank || peer >= len(alladdrs) {
				fail(fmt.Errorf("transport: bad hello rank %d", peer))
				return
			}
			t.addLink(peer, conn)
		}
	}()

	// we dial lower ranks
	for peer := 0; peer < rank; peer++ {
		wg.Add(1)
		go func(peer int) {
			defer wg.Done()
			conn, err := dialPeer(alladdrs[peer])
			if err != nil {
				fail(err)
				return
			}
			var hello [4]byte
			binary.BigEndian.PutUint32(hello[:], uint32(rank))
			if _, err := conn.Write(hello[:]); err != nil {
				fail(err)
				return
			}
			t.addLink(peer, conn)
		}(peer)
	}

	wg.Wait()
	if firstErr != nil {
		t.Finalize()
		return nil, firstErr
	}

	for _, l := range t.links {
		if l != nil {
			go t.readLoop(l)
			go l.writeLoop()
		}
	}
	return t, nil
}

func dialPeer(addr string) (net.Conn, error) {
	deadline := time.Now().Add(dialTimeout)
	for {
		conn, err := net.DialTimeout("tcp", addr, dialTimeout)
		if err == nil {
			return conn, nil
		}
		if time.Now().After(deadline) {
			return nil, err
		}
		time.Sleep(dialRetryInterval)
	}
}

func (t *TCP) addLink(peer int, conn net.Conn) {
	l := &tcpLink{peer: peer, conn: conn}
	l.cond = sync.NewCond(&l.mu)
	t.mu.Lock()
	t.links[peer] = l
	t.mu.Unlock()
}

func (t *TCP) Rank() int {
	return t.rank
}

func (t *TCP) Size() int {
	return len(t.addrs)
}

func (t *TCP) Isend(peer, tag int, buf []byte) *Request {
	req := new(Request)
	if peer < 0 || peer >= len(t.addrs) {
		req.complete(0, fmt.Errorf("isend: rank %d out of range [0,%d)",
			peer, len(t.addrs)))
		return req
	}
	payload := make([]byte, len(buf))
	copy(payload, buf)

	if peer == t.rank {
		// loopback: deliver without touching the wire
		t.deliver(peer, tag, payload)
		req.complete(len(payload), nil)
		return req
	}

	l := t.links[peer]
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		req.complete(0, fmt.Errorf("isend: link to rank %d is closed", peer))
		return req
	}
	l.queue = append(l.queue, outFrame{tag: int32(tag), payload: payload, req: req})
	l.cond.Signal()
	l.mu.Unlock()
	return req
}

func (t *TCP) Irecv(peer, tag int, buf []byte) *Request {
	req := new(Request)
	if peer < 0 || peer >= len(t.addrs) {
		req.complete(0, fmt.Errorf("irecv: rank %d out of range [0,%d)",
			peer, len(t.addrs)))
		return req
	}
	key := pairKey{peer, tag}
	t.mu.Lock()
	if parked := t.parked[key]; len(parked) > 0 {
		payload := parked[0]
		t.parked[key] = parked[1:]
		t.mu.Unlock()
		req.complete(copy(buf, payload), nil)
		return req
	}
	t.pending[key] = append(t.pending[key], &tcpRecv{req: req, buf: buf})
	t.mu.Unlock()
	return req
}

func (t *TCP) Test(r *Request) (bool, int, error) {
	return r.poll()
}

// deliver matches an arrived payload against the oldest pending
// receive for (peer, tag), or parks it.
func (t *TCP) deliver(peer, tag int, payload []byte) {
	key := pairKey{peer, tag}
	t.mu.Lock()
	if pending := t.pending[key]; len(pending) > 0 {
		r := pending[0]
		t.pending[key] = pending[1:]
		t.mu.Unlock()
		r.req.complete(copy(r.buf, payload), nil)
		return
	}
	t.parked[key] = append(t.parked[key], payload)
	t.mu.Unlock()
}

func (t *TCP) readLoop(l *tcpLink) {
	var head [8]byte
	for {
		if _, err := io.ReadFull(l.conn, head[:]); err != nil {
			t.linkDown(l, err)
			return
		}
		tag := int32(binary.BigEndian.Uint32(head[0:4]))
		length := int32(binary.BigEndian.Uint32(head[4:8]))
		payload := make([]byte, length)
		if _, err := io.ReadFull(l.conn, payload); err != nil {
			t.linkDown(l, err)
			return
		}
		t.deliver(l.peer, int(tag), payload)
	}
}

// linkDown fails every receive still pending on the dead peer.
// Expected link teardown during Finalize is not an error.
func (t *TCP) linkDown(l *tcpLink, err error) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	var failed []*tcpRecv
	for key, pending := range t.pending {
		if key.peer == l.peer {
			failed = append(failed, pending...)
			delete(t.pending, key)
		}
	}
	t.mu.Unlock()
	for _, r := range failed {
		r.req.complete(0, fmt.Errorf("recv from rank %d: %v", l.peer, err))
	}
}

func (l *tcpLink) writeLoop() {
	var head [8]byte
	for {
		l.mu.Lock()
		for len(l.queue) == 0 && !l.closed {
			l.cond.Wait()
		}
		if l.closed && len(l.queue) == 0 {
			l.mu.Unlock()
			return
		}
		f := l.queue[0]
		l.queue = l.queue[1:]
		l.mu.Unlock()

		binary.BigEndian.PutUint32(head[0:4], uint32(f.tag))
		binary.BigEndian.PutUint32(head[4:8], uint32(len(f.payload)))
		_, err := l.conn.Write(head[:])
		if err == nil {
			_, err = l.conn.Write(f.payload)
		}
		if err != nil {
			f.req.complete(0, err)
			l.fail(err)
			return
		}
		f.req.complete(len(f.payload), nil)
	}
}

// fail completes every queued send with err so no handle is left
// pending forever on a dead link.
func (l *tcpLink) fail(err error) {
	l.mu.Lock()
	queue := l.queue
	l.queue = nil
	l.closed = true
	l.mu.Unlock()
	for _, f := range queue {
		f.req.complete(0, err)
	}
}

func (t *TCP) Finalize() error {
	t.mu.Lock()
	t.closed = true
	t.mu.Unlock()
	for _, l := range t.links {
		if l == nil {
			continue
		}
		l.mu.Lock()
		l.closed = true
		l.cond.Signal()
		l.mu.Unlock()
		if l.conn != nil {
			l.conn.Close()
		}
	}
	return nil
}
