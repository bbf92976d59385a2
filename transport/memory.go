package transport

import (
	"fmt"
	"sync"
)

// Network is an in-process loopback transport shared by every rank of
// a single-process job. It backs tests and single-rank runs: each
// rank obtained from Join sees the same FIFO message queues.
type Network struct {
	mu    sync.Mutex
	size  int
	links map[linkKey]*memLink
}

type linkKey struct {
	from, to, tag int
}

type memLink struct {
	msgs  [][]byte   // sent, not yet matched
	recvs []*memRecv // posted, not yet matched
}

type memRecv struct {
	req *Request
	buf []byte
}

// NewNetwork creates a loopback network with the given number of
// ranks.
func NewNetwork(size int) *Network {
	return &Network{
		size:  size,
		links: make(map[linkKey]*memLink),
	}
}

// Join returns the Transport endpoint for one rank.
func (n *Network) Join(rank int) Transport {
	if rank < 0 || rank >= n.size {
		panic(fmt.Sprintf("transport: rank %d out of range [0,%d)", rank, n.size))
	}
	return &memTransport{net: n, rank: rank}
}

func (n *Network) link(from, to, tag int) *memLink {
	key := linkKey{from, to, tag}
	l, ok := n.links[key]
	if !ok {
		l = new(memLink)
		n.links[key] = l
	}
	return l
}

type memTransport struct {
	net  *Network
	rank int
}

func (t *memTransport) Rank() int {
	return t.rank
}

func (t *memTransport) Size() int {
	return t.net.size
}

// Isend is eager: the message is copied into the link queue and the
// request completes immediately.
func (t *memTransport) Isend(peer, tag int, buf []byte) *Request {
	req := new(Request)
	if peer < 0 || peer >= t.net.size {
		req.complete(0, fmt.Errorf("isend: rank %d out of range [0,%d)", peer, t.net.size))
		return req
	}
	msg := make([]byte, len(buf))
	copy(msg, buf)

	n := t.net
	n.mu.Lock()
	l := n.link(t.rank, peer, tag)
	if len(l.recvs) > 0 {
		r := l.recvs[0]
		l.recvs = l.recvs[1:]
		n.mu.Unlock()
		req.complete(len(msg), nil)
		r.req.complete(copy(r.buf, msg), nil)
		return req
	}
	l.msgs = append(l.msgs, msg)
	n.mu.Unlock()
	req.complete(len(msg), nil)
	return req
}

func (t *memTransport) Irecv(peer, tag int, buf []byte) *Request {
	req := new(Request)
	if peer < 0 || peer >= t.net.size {
		req.complete(0, fmt.Errorf("irecv: rank %d out of range [0,%d)", peer, t.net.size))
		return req
	}

	n := t.net
	n.mu.Lock()
	l := n.link(peer, t.rank, tag)
	if len(l.msgs) > 0 {
		msg := l.msgs[0]
		l.msgs = l.msgs[1:]
		n.mu.Unlock()
		req.complete(copy(buf, msg), nil)
		return req
	}
	l.recvs = append(l.recvs, &memRecv{req: req, buf: buf})
	n.mu.Unlock()
	return req
}

func (t *memTransport) Test(r *Request) (bool, int, error) {
	return r.poll()
}

func (t *memTransport) Finalize() error {
	return nil
}
