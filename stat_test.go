package mpih

import (
	"encoding/json"
	"testing"
)

func TestCounter(t *testing.T) {
	var c = NewCounter(1)
	c.Incr()
	if c.Int() != 2 {
		t.Fatalf("counter: except: 2, got: %d", c.Int())
	}
	c.Decr()
	c.Decr()
	c.Decr()
	if c.Int() != 0 {
		t.Fatalf("counter: except: 0, got: %d", c.Int())
	}
	c.Decr()
	if c.Int() != 0 {
		t.Fatalf("counter: except: 0, got: %d", c.Int())
	}
	c.Add(64)
	if c.Int() != 64 {
		t.Fatalf("counter: except: 64, got: %d", c.Int())
	}
	if c.String() != "64" {
		t.Fatalf("counter: except: 64, got: %s", c)
	}
}

func TestChannelStat(t *testing.T) {
	var stat = NewChannelStat(Channel{SEND, 1, 0}.String())
	stat.Streams.Incr()
	stat.Chunks.Add(4)
	stat.Bytes.Add(200000)
	if stat.String() != "(SEND,1,0),1,4,200000" {
		t.Fatalf("ChannelStat: except: (SEND,1,0),1,4,200000, got: %s", stat)
	}
}

func TestStatsJSON(t *testing.T) {
	stats := NewStats()
	stats.Connections.Incr()
	stats.Channel(Channel{RECV, 0, 0}).Bytes.Add(5)
	data, err := json.Marshal(stats)
	if err != nil {
		t.Fatal(err)
	}
	var decoded struct {
		Connections int64 `json:"connections"`
		Channels    map[string]struct {
			Bytes int64 `json:"bytes"`
		} `json:"channels"`
	}
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatal(err)
	}
	if decoded.Connections != 1 {
		t.Fatalf("json: except 1 connection, got %d", decoded.Connections)
	}
	if decoded.Channels["(RECV,0,0)"].Bytes != 5 {
		t.Fatalf("json: except 5 bytes on (RECV,0,0), got %+v", decoded)
	}
}
