// Package mpih implements the 'mpih init' daemon: a single-threaded
// multiplexer that bridges local clients on a Unix domain socket to
// other ranks of the job through a non-blocking peer transport.
package mpih

import (
	"fmt"
	"log"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/benvvalk/mpih/journal"
	"github.com/benvvalk/mpih/transport"
	"github.com/thejerf/suture"
)

const Version = "0.2.0"

// defaultTag is the transport tag carried by every stream channel.
const defaultTag = 0

// pollInterval is the cadence for transfer-completion and
// channel-wait polls.
const pollInterval = time.Millisecond

// maxBufferSize is the input high-water mark: a connection buffers at
// most this much before the loop pauses reading from it.
const maxBufferSize = 16384

// idleInterval bounds how long the loop sleeps with no timers armed.
const idleInterval = time.Minute

type event interface{}

type acceptEvent struct{ sock net.Conn }

type readEvent struct {
	c    *Connection
	data []byte
}

type eofEvent struct {
	c   *Connection
	err error
}

type drainEvent struct{ c *Connection }

type writeErrEvent struct {
	c   *Connection
	err error
}

// Options configure a Daemon.
type Options struct {
	// SocketPath is the Unix domain socket the daemon listens on.
	SocketPath string
	// PidFile, when set, is written after the listener binds and
	// doubles as the readiness indicator.
	PidFile string
	// StatusAddr, when set, serves the read-only status API.
	StatusAddr string
	// Journal stores finished-stream records; defaults to the
	// in-memory driver.
	Journal journal.Driver
	Verbose int
	Logger  *log.Logger
}

// Daemon multiplexes local client connections against peer
// transfers. One loop goroutine owns every field below; the
// accept/read/write pumps only exchange events with it.
type Daemon struct {
	transport  transport.Transport
	rank, size int
	opts       Options
	logger     *log.Logger
	journal    journal.Driver

	events chan event
	quit   chan struct{}
	timers timerQueue

	conns      map[int64]*Connection
	nextConnId int64
	channels   *ChannelManager
	stats      *Stats
	verbose    int

	finalizePending bool
	stopped         bool
	fatalErr        error

	ln net.Listener
}

// NewDaemon wires a daemon to its transport. Rank and size are read
// from the transport once, here.
func NewDaemon(t transport.Transport, opts Options) *Daemon {
	d := &Daemon{
		transport: t,
		rank:      t.Rank(),
		size:      t.Size(),
		opts:      opts,
		logger:    opts.Logger,
		journal:   opts.Journal,
		events:    make(chan event, 64),
		quit:      make(chan struct{}),
		conns:     make(map[int64]*Connection),
		channels:  NewChannelManager(),
		stats:     NewStats(),
		verbose:   opts.Verbose,
	}
	if d.logger == nil {
		d.logger = log.Default()
	}
	if d.journal == nil {
		d.journal = journal.NewMemStoreDriver()
	}
	return d
}

func (d *Daemon) Rank() int { return d.rank }

func (d *Daemon) Size() int { return d.size }

func (d *Daemon) Stats() *Stats { return d.stats }

func (d *Daemon) Journal() journal.Driver { return d.journal }

func (d *Daemon) logf(connId int64, format string, args ...interface{}) {
	d.logger.Printf("[%d] %s", connId, fmt.Sprintf(format, args...))
}

// post delivers an event to the loop unless the daemon has already
// shut down.
func (d *Daemon) post(ev event) {
	select {
	case d.events <- ev:
	case <-d.quit:
	}
}

// Serve binds the listener and runs the event loop until a FINALIZE
// quiesces the daemon (nil) or a fatal protocol violation stops it
// (non-nil).
func (d *Daemon) Serve() error {
	if err := sockCheck(d.opts.SocketPath); err != nil {
		return err
	}
	ln, err := net.Listen("unix", d.opts.SocketPath)
	if err != nil {
		return err
	}
	d.ln = ln
	defer ln.Close()
	defer os.Remove(d.opts.SocketPath)

	if d.opts.PidFile != "" {
		pid := strconv.Itoa(os.Getpid()) + "\n"
		if err := os.WriteFile(d.opts.PidFile, []byte(pid), 0644); err != nil {
			return err
		}
		defer os.Remove(d.opts.PidFile)
	}

	var sup *suture.Supervisor
	if d.opts.StatusAddr != "" {
		sup = suture.NewSimple("mpih-status")
		sup.Add(newStatusService(d, d.opts.StatusAddr))
		sup.ServeBackground()
		defer sup.Stop()
	}

	go d.acceptLoop()
	d.logger.Printf("mpih daemon started on %s (rank %d of %d)",
		d.opts.SocketPath, d.rank, d.size)

	err = d.loop()
	close(d.quit)
	for _, id := range d.connIds() {
		if c, ok := d.conns[id]; ok {
			c.close()
		}
	}
	d.journal.Close()
	return err
}

func (d *Daemon) connIds() []int64 {
	ids := make([]int64, 0, len(d.conns))
	for id := range d.conns {
		ids = append(ids, id)
	}
	return ids
}

func (d *Daemon) acceptLoop() {
	for {
		sock, err := d.ln.Accept()
		if err != nil {
			// listener closed during shutdown
			return
		}
		d.post(acceptEvent{sock})
	}
}

// loop is the reactor: it owns the only thread of control and runs
// until a finalize quiesce or a fatal error requests exit.
func (d *Daemon) loop() error {
	timer := time.NewTimer(idleInterval)
	defer timer.Stop()
	for !d.stopped {
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		if deadline, ok := d.timers.next(); ok {
			delay := time.Until(deadline)
			if delay < 0 {
				delay = 0
			}
			timer.Reset(delay)
		} else {
			timer.Reset(idleInterval)
		}
		select {
		case ev := <-d.events:
			d.handle(ev)
		case now := <-timer.C:
			d.timers.fire(now)
		}
	}
	return d.fatalErr
}

func (d *Daemon) handle(ev event) {
	switch ev := ev.(type) {
	case acceptEvent:
		d.addConnection(ev.sock)
	case readEvent:
		if ev.c.state != CLOSED {
			ev.c.handleRead(ev.data)
		}
	case eofEvent:
		if ev.c.state != CLOSED {
			ev.c.handleEOF(ev.err)
		}
	case drainEvent:
		if ev.c.state != CLOSED {
			ev.c.handleDrain()
		}
	case writeErrEvent:
		if ev.c.state != CLOSED {
			ev.c.handleWriteError(ev.err)
		}
	default:
		panic(fmt.Sprintf("unknown event %T", ev))
	}
}

func (d *Daemon) addConnection(sock net.Conn) {
	c := &Connection{
		id:       d.nextConnId,
		d:        d,
		sock:     sock,
		state:    READING_HEADER,
		outc:     make(chan []byte, 1),
		readGate: make(chan struct{}, 1),
	}
	d.nextConnId++
	d.conns[c.id] = c
	d.stats.Connections.Incr()
	if d.verbose >= 1 {
		d.logf(c.id, "opened connection to client")
	}
	go c.readPump()
	go c.writePump()
}

// transfersPending reports whether any connection still has a
// transfer in flight or is waiting on a channel; the finalize
// coordinator quiesces on it.
func (d *Daemon) transfersPending() bool {
	for _, c := range d.conns {
		if c.transferPending() {
			return true
		}
	}
	return false
}

// fatal stops the daemon with a diagnostic. Used for protocol
// violations that indicate a script bug, like headers arriving after
// the finalize latch.
func (d *Daemon) fatal(err error) {
	d.logger.Printf("error: %v", err)
	d.stopLoop(err)
}

func (d *Daemon) stopLoop(err error) {
	d.stopped = true
	if err != nil && d.fatalErr == nil {
		d.fatalErr = err
	}
}

// journalStream records a completed stream.
func (d *Daemon) journalStream(c *Connection) {
	rec := journal.Record{
		Dir:        c.channel.Dir.String(),
		Peer:       c.channel.Peer,
		Tag:        c.channel.Tag,
		Chunks:     c.chunkIndex,
		Bytes:      c.bytesTransferred,
		StartedAt:  c.startedAt,
		FinishedAt: time.Now().Unix(),
	}
	if err := d.journal.Save(&rec); err != nil {
		d.logf(c.id, "error: journal: %v", err)
	}
}
