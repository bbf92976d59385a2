package subcmd

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sort"
	"strings"
)

type statusReply struct {
	Rank        int   `json:"rank"`
	Size        int   `json:"size"`
	Connections int64 `json:"connections"`
	Channels    map[string]struct {
		Streams int64 `json:"streams"`
		Chunks  int64 `json:"chunks"`
		Bytes   int64 `json:"bytes"`
	} `json:"channels"`
}

// ShowStatus fetches and pretty-prints the daemon's status API.
func ShowStatus(addr string) {
	if !strings.Contains(addr, "://") {
		addr = "http://" + addr
	}
	resp, err := http.Get(addr + "/status")
	if err != nil {
		log.Fatal(err)
	}
	defer resp.Body.Close()

	var status statusReply
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		log.Fatal(err)
	}

	fmt.Printf("Rank: %d\tSize: %d\tConnections: %d\n",
		status.Rank, status.Size, status.Connections)
	names := make([]string, 0, len(status.Channels))
	for name := range status.Channels {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		ch := status.Channels[name]
		fmt.Printf("Channel: %s\tStreams: %d\tChunks: %d\tBytes: %d\n",
			name, ch.Streams, ch.Chunks, ch.Bytes)
	}
}
