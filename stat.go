package mpih

import (
	"fmt"
	"strconv"
	"sync"
)

// Counter is a mutex-guarded counter. The event loop is the only
// writer, but the status API reads from its own goroutines.
type Counter struct {
	c      int64
	locker *sync.Mutex
}

func NewCounter(c int64) *Counter {
	var counter = new(Counter)
	counter.c = c
	counter.locker = new(sync.Mutex)
	return counter
}

func (c *Counter) Incr() {
	defer c.locker.Unlock()
	c.locker.Lock()
	c.c = c.c + 1
}

func (c *Counter) Decr() {
	defer c.locker.Unlock()
	c.locker.Lock()
	c.c = c.c - 1
	if c.c < 0 {
		c.c = 0
	}
}

func (c *Counter) Add(n int64) {
	defer c.locker.Unlock()
	c.locker.Lock()
	c.c = c.c + n
}

func (c *Counter) String() string {
	return strconv.FormatInt(c.Int(), 10)
}

func (c *Counter) Int() int64 {
	defer c.locker.Unlock()
	c.locker.Lock()
	return c.c
}

func (c *Counter) MarshalJSON() ([]byte, error) {
	return []byte(c.String()), nil
}

// ChannelStat counts traffic on one channel.
type ChannelStat struct {
	Name    string   `json:"-"`
	Streams *Counter `json:"streams"`
	Chunks  *Counter `json:"chunks"`
	Bytes   *Counter `json:"bytes"`
}

func NewChannelStat(name string) *ChannelStat {
	var stat = new(ChannelStat)
	stat.Name = name
	stat.Streams = NewCounter(0)
	stat.Chunks = NewCounter(0)
	stat.Bytes = NewCounter(0)
	return stat
}

func (stat ChannelStat) String() string {
	return fmt.Sprintf("%s,%s,%s,%s", stat.Name, stat.Streams, stat.Chunks, stat.Bytes)
}

// Stats aggregates the daemon's observable counters for the status
// API.
type Stats struct {
	locker      *sync.Mutex
	Connections *Counter                `json:"connections"`
	Channels    map[string]*ChannelStat `json:"channels"`
}

func NewStats() *Stats {
	var stats = new(Stats)
	stats.locker = new(sync.Mutex)
	stats.Connections = NewCounter(0)
	stats.Channels = make(map[string]*ChannelStat)
	return stats
}

// Channel returns the stat bucket for ch, creating it on first use.
func (stats *Stats) Channel(ch Channel) *ChannelStat {
	defer stats.locker.Unlock()
	stats.locker.Lock()
	name := ch.String()
	stat, ok := stats.Channels[name]
	if !ok {
		stat = NewChannelStat(name)
		stats.Channels[name] = stat
	}
	return stat
}

// Snapshot copies the channel map so the status API can marshal it
// without racing bucket creation.
func (stats *Stats) Snapshot() map[string]*ChannelStat {
	defer stats.locker.Unlock()
	stats.locker.Lock()
	out := make(map[string]*ChannelStat, len(stats.Channels))
	for name, stat := range stats.Channels {
		out[name] = stat
	}
	return out
}
