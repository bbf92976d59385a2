package transport

import (
	"net"
	"testing"
	"time"
)

// freeAddrs reserves n distinct localhost ports and returns them as an
// address list.
func freeAddrs(t *testing.T, n int) []string {
	t.Helper()
	addrs := make([]string, n)
	listeners := make([]net.Listener, n)
	for i := 0; i < n; i++ {
		ln, err := net.Listen("tcp", "127.0.0.1:0")
		if err != nil {
			t.Fatal(err)
		}
		listeners[i] = ln
		addrs[i] = ln.Addr().String()
	}
	for _, ln := range listeners {
		ln.Close()
	}
	return addrs
}

func waitDoneTCP(t *testing.T, tr Transport, r *Request) int {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for {
		done, n, err := tr.Test(r)
		if err != nil {
			t.Fatalf("Test: %v", err)
		}
		if done {
			return n
		}
		if time.Now().After(deadline) {
			t.Fatalf("request never completed")
		}
		time.Sleep(time.Millisecond)
	}
}

func meshPair(t *testing.T) (*TCP, *TCP) {
	t.Helper()
	addrs := freeAddrs(t, 2)
	results := make(chan *TCP, 2)
	errs := make(chan error, 2)
	for i := 0; i < 2; i++ {
		go func(i int) {
			tr, err := NewTCP(addrs[i], addrs)
			if err != nil {
				errs <- err
				return
			}
			results <- tr
		}(i)
	}
	var ts []*TCP
	for len(ts) < 2 {
		select {
		case tr := <-results:
			ts = append(ts, tr)
		case err := <-errs:
			t.Fatalf("NewTCP: %v", err)
		case <-time.After(30 * time.Second):
			t.Fatalf("mesh construction timed out")
		}
	}
	if ts[0].Rank() > ts[1].Rank() {
		ts[0], ts[1] = ts[1], ts[0]
	}
	return ts[0], ts[1]
}

func TestTCPSendRecv(t *testing.T) {
	t0, t1 := meshPair(t)
	defer t0.Finalize()
	defer t1.Finalize()

	if t0.Size() != 2 || t1.Size() != 2 {
		t.Fatalf("Size: except 2, got %d and %d", t0.Size(), t1.Size())
	}

	send := t0.Isend(1, 0, []byte("hello"))
	buf := make([]byte, 5)
	recv := t1.Irecv(0, 0, buf)

	if n := waitDoneTCP(t, t0, send); n != 5 {
		t.Fatalf("send: except 5 bytes, got %d", n)
	}
	if n := waitDoneTCP(t, t1, recv); n != 5 {
		t.Fatalf("recv: except 5 bytes, got %d", n)
	}
	if string(buf) != "hello" {
		t.Fatalf("recv: except hello, got %q", buf)
	}
}

func TestTCPFIFO(t *testing.T) {
	t0, t1 := meshPair(t)
	defer t0.Finalize()
	defer t1.Finalize()

	for _, msg := range []string{"one", "two", "three"} {
		t0.Isend(1, 0, []byte(msg))
	}
	for _, want := range []string{"one", "two", "three"} {
		buf := make([]byte, 16)
		r := t1.Irecv(0, 0, buf)
		n := waitDoneTCP(t, t1, r)
		if string(buf[:n]) != want {
			t.Fatalf("FIFO: except %q, got %q", want, buf[:n])
		}
	}
}

func TestTCPBothDirections(t *testing.T) {
	t0, t1 := meshPair(t)
	defer t0.Finalize()
	defer t1.Finalize()

	s0 := t0.Isend(1, 0, []byte("ping"))
	s1 := t1.Isend(0, 0, []byte("pong"))
	b0 := make([]byte, 4)
	b1 := make([]byte, 4)
	r0 := t0.Irecv(1, 0, b0)
	r1 := t1.Irecv(0, 0, b1)

	waitDoneTCP(t, t0, s0)
	waitDoneTCP(t, t1, s1)
	waitDoneTCP(t, t0, r0)
	waitDoneTCP(t, t1, r1)
	if string(b0) != "pong" || string(b1) != "ping" {
		t.Fatalf("except pong/ping, got %q/%q", b0, b1)
	}
}

func TestTCPSingleRank(t *testing.T) {
	addrs := freeAddrs(t, 1)
	tr, err := NewTCP(addrs[0], addrs)
	if err != nil {
		t.Fatal(err)
	}
	defer tr.Finalize()

	send := tr.Isend(0, 0, []byte("self"))
	buf := make([]byte, 4)
	recv := tr.Irecv(0, 0, buf)
	waitDoneTCP(t, tr, send)
	waitDoneTCP(t, tr, recv)
	if string(buf) != "self" {
		t.Fatalf("loopback: except self, got %q", buf)
	}
}
