// Package transport is a thin facade over the peer transport used by
// the mpih daemon. All operations are posted non-blocking and
// completed by polling, which is the shape the daemon's event loop
// expects regardless of what the underlying network does.
package transport

import (
	"sync"
)

// Transport carries byte messages between the ranks of a job.
//
// Isend and Irecv never block; the buffer belongs to the transport
// until Test reports the request done. Between two operations posted
// by the same owner on the same (direction, peer, tag), completion
// order matches post order.
type Transport interface {
	// Rank returns this process's 0-based rank.
	Rank() int
	// Size returns the number of ranks in the job.
	Size() int
	// Isend posts a non-blocking send of buf to peer.
	Isend(peer, tag int, buf []byte) *Request
	// Irecv posts a non-blocking receive into buf from peer.
	Irecv(peer, tag int, buf []byte) *Request
	// Test polls a request. It has no side effect while the request
	// is pending; once done the request is consumed and n is the
	// transferred byte count.
	Test(r *Request) (done bool, n int, err error)
	// Finalize releases the transport. No operation may be posted
	// after Finalize.
	Finalize() error
}

// Request is the handle for one in-flight Isend/Irecv.
type Request struct {
	mu   sync.Mutex
	done bool
	n    int
	err  error
}

// complete marks the request done. Completing twice is a bug.
func (r *Request) complete(n int, err error) {
	r.mu.Lock()
	if r.done {
		r.mu.Unlock()
		panic("transport: request completed twice")
	}
	r.done = true
	r.n = n
	r.err = err
	r.mu.Unlock()
}

func (r *Request) poll() (bool, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.done, r.n, r.err
}
