package mpih

import (
	"bytes"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/benvvalk/mpih/protocol"
	"github.com/benvvalk/mpih/transport"
)

// State of a client connection.
type State int

const (
	READING_HEADER State = iota
	WAITING_FOR_CHANNEL
	READY_TO_SEND
	SENDING_SIZE
	SENDING_CHUNK
	SENDING_EOF
	READY_TO_RECV_SIZE
	RECVING_SIZE
	READY_TO_RECV_CHUNK
	RECVING_CHUNK
	FLUSHING_SOCKET
	FINALIZING
	CLOSED
)

func (s State) String() string {
	switch s {
	case READING_HEADER:
		return "READING_HEADER"
	case WAITING_FOR_CHANNEL:
		return "WAITING_FOR_CHANNEL"
	case READY_TO_SEND:
		return "READY_TO_SEND"
	case SENDING_SIZE:
		return "SENDING_SIZE"
	case SENDING_CHUNK:
		return "SENDING_CHUNK"
	case SENDING_EOF:
		return "SENDING_EOF"
	case READY_TO_RECV_SIZE:
		return "READY_TO_RECV_SIZE"
	case RECVING_SIZE:
		return "RECVING_SIZE"
	case READY_TO_RECV_CHUNK:
		return "READY_TO_RECV_CHUNK"
	case RECVING_CHUNK:
		return "RECVING_CHUNK"
	case FLUSHING_SOCKET:
		return "FLUSHING_SOCKET"
	case FINALIZING:
		return "FINALIZING"
	case CLOSED:
		return "CLOSED"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Connection tracks one client of the daemon socket. Every field is
// owned by the event loop; the read/write pumps only move bytes
// between the socket and the loop.
type Connection struct {
	id    int64
	d     *Daemon
	sock  net.Conn
	state State

	// bytes read from the client, not yet consumed
	input bytes.Buffer
	// client has closed its write half
	eof bool
	// the write pump died; discard further output
	writeFailed bool

	peerRank       int
	channel        Channel
	holdingChannel bool

	// declared size of the current chunk
	chunkSize int32
	// chunk number we are currently sending/recving
	chunkIndex int64
	// bytes successfully transferred for the current stream
	bytesTransferred int64
	startedAt        int64

	// buffers owned by the transport while a request is in flight
	chunkBuffer []byte
	sizeBuffer  []byte
	sizeReq     *transport.Request
	bodyReq     *transport.Request
	sizeDone    bool

	nextTimer *timerItem

	// staged output, handed to the write pump one buffer at a time
	output   bytes.Buffer
	outc     chan []byte
	pumpBusy bool
	readGate chan struct{}
}

// transferPending reports whether this connection still has work the
// finalize coordinator must wait for, and whether an EOF from the
// client may tear it down immediately.
func (c *Connection) transferPending() bool {
	switch c.state {
	case WAITING_FOR_CHANNEL,
		READY_TO_SEND, SENDING_SIZE, SENDING_CHUNK, SENDING_EOF,
		READY_TO_RECV_SIZE, RECVING_SIZE, READY_TO_RECV_CHUNK, RECVING_CHUNK:
		return true
	}
	return false
}

// readPump moves bytes from the socket to the event loop. After each
// delivery it waits for the loop to open the gate again, which is how
// the input high-water mark pauses reading.
func (c *Connection) readPump() {
	buf := make([]byte, maxBufferSize)
	for {
		n, err := c.sock.Read(buf)
		if n > 0 {
			data := make([]byte, n)
			copy(data, buf[:n])
			c.d.post(readEvent{c, data})
			if _, ok := <-c.readGate; !ok {
				return
			}
		}
		if err != nil {
			c.d.post(eofEvent{c, err})
			return
		}
	}
}

// writePump drains buffers handed over by the loop and reports each
// drain back, so the loop knows when FLUSHING_SOCKET is finished.
func (c *Connection) writePump() {
	for data := range c.outc {
		for len(data) > 0 {
			n, err := c.sock.Write(data)
			if err != nil {
				c.d.post(writeErrEvent{c, err})
				return
			}
			data = data[n:]
		}
		c.d.post(drainEvent{c})
	}
}

// grantRead lets the read pump deliver more bytes, unless the input
// buffer is at its high-water mark.
func (c *Connection) grantRead() {
	if c.state == CLOSED || c.input.Len() >= maxBufferSize {
		return
	}
	select {
	case c.readGate <- struct{}{}:
	default:
	}
}

// queueOutput stages bytes for the client.
func (c *Connection) queueOutput(data []byte) {
	if c.writeFailed {
		return
	}
	c.output.Write(data)
	c.flushOutput()
}

// flushOutput hands the staged output to the write pump if it is
// idle. One buffer is in flight at a time; the drain event hands over
// the next.
func (c *Connection) flushOutput() {
	if c.pumpBusy || c.writeFailed || c.output.Len() == 0 {
		return
	}
	data := make([]byte, c.output.Len())
	c.output.Read(data)
	c.outc <- data
	c.pumpBusy = true
}

func (c *Connection) outputf(format string, args ...interface{}) {
	c.queueOutput([]byte(fmt.Sprintf(format, args...)))
}

// scheduleNext replaces the connection's pending one-shot timer.
func (c *Connection) scheduleNext(delay time.Duration, fn func()) {
	if c.nextTimer != nil {
		c.nextTimer.stopped = true
	}
	c.nextTimer = c.d.timers.schedule(delay, func() {
		if c.state == CLOSED {
			return
		}
		fn()
	})
}

func (c *Connection) handleRead(data []byte) {
	c.input.Write(data)
	switch c.state {
	case READING_HEADER:
		c.processHeaders()
	case READY_TO_SEND:
		if c.input.Len() > 0 {
			c.startSendChunk()
		}
	}
	c.grantRead()
}

func (c *Connection) handleEOF(err error) {
	d := c.d
	if d.verbose >= 2 {
		d.logf(c.id, "read EOF from client")
	}
	c.eof = true
	if c.state == READY_TO_SEND {
		// we may still have buffered bytes to push
		if c.input.Len() > 0 {
			c.startSendChunk()
		} else {
			c.startSendEOF()
		}
		return
	}
	if c.state == FINALIZING {
		// closed when the daemon shuts down
		return
	}
	if !c.transferPending() {
		if d.verbose >= 1 {
			d.logf(c.id, "closing connection from event handler")
		}
		c.beginClose()
	}
}

func (c *Connection) handleDrain() {
	c.pumpBusy = false
	c.flushOutput()
	if c.state == FLUSHING_SOCKET && c.output.Len() == 0 && !c.pumpBusy {
		c.close()
	}
}

func (c *Connection) handleWriteError(err error) {
	d := c.d
	d.logf(c.id, "error: client socket write: %v", err)
	c.writeFailed = true
	c.pumpBusy = false
	c.output.Reset()
	// an in-flight transfer is allowed to finish; its completion
	// discards the output and the stream terminator tears us down
	if c.state == FLUSHING_SOCKET || !c.transferPending() {
		c.close()
	}
}

// processHeaders consumes header lines while the connection stays in
// READING_HEADER.
func (c *Connection) processHeaders() {
	d := c.d
	for c.state == READING_HEADER {
		line, ok, err := protocol.ExtractLine(&c.input)
		if err != nil {
			d.logf(c.id, "header line exceeded max length (%d bytes)",
				protocol.MaxHeaderLen)
			c.close()
			return
		}
		if !ok {
			return
		}
		if d.finalizePending {
			d.fatal(fmt.Errorf("a client has attempted to issue commands "+
				"after 'mpih finalize' has been called!: %q", line))
			return
		}
		if d.verbose >= 2 {
			d.logf(c.id, "received header line %q", line)
		}
		// empty or all-whitespace header line
		if strings.TrimSpace(line) == "" {
			continue
		}
		h, err := protocol.ParseHeader(line)
		if err != nil {
			d.logf(c.id, "error: %v", err)
			continue
		}
		switch h.Command {
		case protocol.RANK:
			c.outputf("%d\n", d.rank)
		case protocol.SIZE:
			c.outputf("%d\n", d.size)
		case protocol.SEND:
			c.beginStream(SEND, h.Peer)
		case protocol.RECV:
			c.beginStream(RECV, h.Peer)
		case protocol.FINALIZE:
			c.beginFinalize()
		}
	}
}

// beginStream acquires the channel for a SEND/RECV header.
func (c *Connection) beginStream(dir Direction, peer int) {
	c.peerRank = peer
	c.channel = Channel{dir, peer, defaultTag}
	c.chunkIndex = 0
	c.bytesTransferred = 0
	c.startedAt = time.Now().Unix()
	c.requestChannel()
}

func (c *Connection) requestChannel() {
	d := c.d
	result := d.channels.Request(c.id, c.channel)
	if d.verbose >= 3 {
		if result == QUEUED {
			d.logf(c.id, "queued for channel %s", c.channel)
		} else {
			d.logf(c.id, "granted channel %s", c.channel)
		}
	}
	if result == QUEUED {
		c.state = WAITING_FOR_CHANNEL
		c.scheduleNext(pollInterval, c.pollChannel)
		return
	}
	c.holdingChannel = true
	d.stats.Channel(c.channel).Streams.Incr()
	if c.channel.Dir == SEND {
		c.state = READY_TO_SEND
		if c.input.Len() > 0 {
			c.startSendChunk()
		} else if c.eof {
			c.startSendEOF()
		}
	} else {
		c.state = READY_TO_RECV_SIZE
		c.startRecvSize()
	}
}

// pollChannel re-requests a queued channel; promotion is discovered
// here, not pushed by the arbiter.
func (c *Connection) pollChannel() {
	if c.state != WAITING_FOR_CHANNEL {
		return
	}
	c.requestChannel()
}

// startSendChunk takes up to MaxChunkSize buffered bytes and posts
// the size and body sends. The adapter's per-channel FIFO guarantees
// the peer sees size-then-body.
func (c *Connection) startSendChunk() {
	d := c.d
	if c.state != READY_TO_SEND {
		panic("startSendChunk: state " + c.state.String())
	}
	n := c.input.Len()
	if n == 0 {
		panic("startSendChunk: empty input buffer")
	}
	take := n
	if take > protocol.MaxChunkSize {
		take = protocol.MaxChunkSize
	}
	c.chunkBuffer = make([]byte, take)
	c.input.Read(c.chunkBuffer)
	c.chunkSize = int32(take)
	c.sizeBuffer = protocol.PackSize(c.chunkSize)
	c.sizeDone = false

	if d.verbose >= 2 {
		d.logf(c.id, "sending chunk #%d to rank %d (%d bytes)",
			c.chunkIndex, c.peerRank, c.chunkSize)
	}

	c.state = SENDING_SIZE
	c.sizeReq = d.transport.Isend(c.peerRank, c.channel.Tag, c.sizeBuffer)
	c.state = SENDING_CHUNK
	c.bodyReq = d.transport.Isend(c.peerRank, c.channel.Tag, c.chunkBuffer)

	c.grantRead()
	c.pollSend()
}

func (c *Connection) pollSend() {
	d := c.d
	if c.state != SENDING_CHUNK {
		panic("pollSend: state " + c.state.String())
	}
	if !c.sizeDone {
		done, _, err := d.transport.Test(c.sizeReq)
		if err != nil {
			d.logf(c.id, "error: send to rank %d: %v", c.peerRank, err)
			c.close()
			return
		}
		if !done {
			if d.verbose >= 3 {
				d.logf(c.id, "waiting on send: size of chunk #%d to rank %d",
					c.chunkIndex, c.peerRank)
			}
			c.scheduleNext(pollInterval, c.pollSend)
			return
		}
		c.sizeDone = true
	}
	done, _, err := d.transport.Test(c.bodyReq)
	if err != nil {
		d.logf(c.id, "error: send to rank %d: %v", c.peerRank, err)
		c.close()
		return
	}
	if !done {
		if d.verbose >= 3 {
			d.logf(c.id, "waiting on send: chunk #%d to rank %d (%d bytes)",
				c.chunkIndex, c.peerRank, c.chunkSize)
		}
		c.scheduleNext(pollInterval, c.pollSend)
		return
	}

	c.bytesTransferred += int64(c.chunkSize)
	c.chunkIndex++
	stat := d.stats.Channel(c.channel)
	stat.Chunks.Incr()
	stat.Bytes.Add(int64(c.chunkSize))
	if d.verbose >= 2 {
		d.logf(c.id, "sent %d bytes to rank %d so far",
			c.bytesTransferred, c.peerRank)
	}
	c.clearChunkState()
	c.state = READY_TO_SEND

	if c.input.Len() > 0 {
		c.startSendChunk()
	} else if c.eof {
		c.startSendEOF()
	} else {
		c.grantRead()
	}
}

// startSendEOF posts the zero-size stream terminator.
func (c *Connection) startSendEOF() {
	d := c.d
	if c.state != READY_TO_SEND {
		panic("startSendEOF: state " + c.state.String())
	}
	if d.verbose >= 1 {
		d.logf(c.id, "send to rank %d complete (%d bytes)",
			c.peerRank, c.bytesTransferred)
		d.logf(c.id, "sending EOF to rank %d", c.peerRank)
	}
	c.chunkSize = 0
	c.sizeBuffer = protocol.PackSize(0)
	c.state = SENDING_EOF
	c.sizeReq = d.transport.Isend(c.peerRank, c.channel.Tag, c.sizeBuffer)
	c.pollSendEOF()
}

func (c *Connection) pollSendEOF() {
	d := c.d
	if c.state != SENDING_EOF {
		panic("pollSendEOF: state " + c.state.String())
	}
	done, _, err := d.transport.Test(c.sizeReq)
	if err != nil {
		d.logf(c.id, "error: send EOF to rank %d: %v", c.peerRank, err)
		c.close()
		return
	}
	if !done {
		c.scheduleNext(pollInterval, c.pollSendEOF)
		return
	}
	d.journalStream(c)
	if d.verbose >= 1 {
		d.logf(c.id, "closing connection from transfer handler")
	}
	c.close()
}

// startRecvSize posts the receive for the next chunk's size.
func (c *Connection) startRecvSize() {
	d := c.d
	if c.state != READY_TO_RECV_SIZE {
		panic("startRecvSize: state " + c.state.String())
	}
	if d.verbose >= 2 {
		d.logf(c.id, "receiving size for chunk #%d from rank %d",
			c.chunkIndex, c.peerRank)
	}
	c.sizeBuffer = make([]byte, protocol.SizeLen)
	c.state = RECVING_SIZE
	c.sizeReq = d.transport.Irecv(c.peerRank, c.channel.Tag, c.sizeBuffer)
	c.pollRecvSize()
}

func (c *Connection) pollRecvSize() {
	d := c.d
	if c.state != RECVING_SIZE {
		panic("pollRecvSize: state " + c.state.String())
	}
	done, n, err := d.transport.Test(c.sizeReq)
	if err != nil {
		d.logf(c.id, "error: recv from rank %d: %v", c.peerRank, err)
		c.close()
		return
	}
	if !done {
		c.scheduleNext(pollInterval, c.pollRecvSize)
		return
	}
	if n != protocol.SizeLen {
		panic(fmt.Sprintf("short chunk-size message: %d bytes", n))
	}
	c.chunkSize = protocol.ParseSize(c.sizeBuffer)
	if c.chunkSize == 0 {
		if d.verbose >= 1 {
			d.logf(c.id, "received EOF from rank %d", c.peerRank)
		}
		d.journalStream(c)
		c.state = FLUSHING_SOCKET
		if c.writeFailed || (c.output.Len() == 0 && !c.pumpBusy) {
			c.close()
		}
		return
	}
	if d.verbose >= 2 {
		d.logf(c.id, "size of chunk #%d: %d bytes", c.chunkIndex, c.chunkSize)
	}
	c.state = READY_TO_RECV_CHUNK
	c.startRecvChunk()
}

func (c *Connection) startRecvChunk() {
	d := c.d
	if c.state != READY_TO_RECV_CHUNK {
		panic("startRecvChunk: state " + c.state.String())
	}
	if c.chunkSize <= 0 {
		panic("startRecvChunk: no chunk size")
	}
	c.chunkBuffer = make([]byte, c.chunkSize)
	c.state = RECVING_CHUNK
	c.bodyReq = d.transport.Irecv(c.peerRank, c.channel.Tag, c.chunkBuffer)
	c.pollRecvChunk()
}

func (c *Connection) pollRecvChunk() {
	d := c.d
	if c.state != RECVING_CHUNK {
		panic("pollRecvChunk: state " + c.state.String())
	}
	done, n, err := d.transport.Test(c.bodyReq)
	if err != nil {
		d.logf(c.id, "error: recv from rank %d: %v", c.peerRank, err)
		c.close()
		return
	}
	if !done {
		if d.verbose >= 3 {
			d.logf(c.id, "waiting on recv: chunk #%d from rank %d (%d bytes)",
				c.chunkIndex, c.peerRank, c.chunkSize)
		}
		c.scheduleNext(pollInterval, c.pollRecvChunk)
		return
	}
	if n != int(c.chunkSize) {
		panic(fmt.Sprintf("chunk length mismatch: declared %d, received %d",
			c.chunkSize, n))
	}
	c.bytesTransferred += int64(c.chunkSize)
	c.chunkIndex++
	stat := d.stats.Channel(c.channel)
	stat.Chunks.Incr()
	stat.Bytes.Add(int64(c.chunkSize))
	if d.verbose >= 2 {
		d.logf(c.id, "received %d bytes from rank %d so far",
			c.bytesTransferred, c.peerRank)
	}
	c.queueOutput(c.chunkBuffer)
	c.clearChunkState()
	c.state = READY_TO_RECV_SIZE
	c.startRecvSize()
}

func (c *Connection) clearChunkState() {
	c.chunkBuffer = nil
	c.sizeBuffer = nil
	c.sizeReq = nil
	c.bodyReq = nil
	c.sizeDone = false
	c.chunkSize = 0
}

// beginFinalize latches the process-wide finalize flag and arms the
// quiesce check.
func (c *Connection) beginFinalize() {
	d := c.d
	if d.verbose >= 1 {
		d.logf(c.id, "preparing to shut down daemon...")
	}
	d.finalizePending = true
	c.state = FINALIZING
	c.pollFinalize()
}

func (c *Connection) pollFinalize() {
	d := c.d
	if c.state != FINALIZING {
		panic("pollFinalize: state " + c.state.String())
	}
	if d.transfersPending() {
		if d.verbose >= 3 {
			d.logf(c.id, "waiting for pending transfers to complete")
		}
		c.scheduleNext(pollInterval, c.pollFinalize)
		return
	}
	if d.verbose >= 2 {
		d.logf(c.id, "pending transfers complete. Shutting down!")
	}
	if err := d.transport.Finalize(); err != nil {
		d.logf(c.id, "error: transport finalize: %v", err)
	}
	d.stopLoop(nil)
}

// beginClose drains the staged output and then closes.
func (c *Connection) beginClose() {
	if c.output.Len() == 0 && !c.pumpBusy {
		c.close()
		return
	}
	c.state = FLUSHING_SOCKET
}

// close releases the channel, tears down the socket, and removes the
// connection from the registry. Closing twice is a no-op.
func (c *Connection) close() {
	if c.state == CLOSED {
		return
	}
	d := c.d
	if d.verbose >= 1 {
		d.logf(c.id, "closing connection")
	}
	if c.holdingChannel {
		d.channels.Release(c.id, c.channel)
		c.holdingChannel = false
	}
	if c.nextTimer != nil {
		c.nextTimer.stopped = true
		c.nextTimer = nil
	}
	c.state = CLOSED
	close(c.outc)
	close(c.readGate)
	c.sock.Close()
	delete(d.conns, c.id)
	d.stats.Connections.Decr()
}
