package subcmd

import (
	"fmt"
	"log"
	"strconv"

	"github.com/benvvalk/mpih/protocol"
)

// QueryRank asks the daemon for its rank.
func QueryRank(socketPath string) int {
	line := queryLine(socketPath, protocol.RANK)
	rank, err := strconv.Atoi(line)
	if err != nil {
		log.Fatalf("error: bad RANK reply %q", line)
	}
	return rank
}

func PrintRank(socketPath string) {
	fmt.Printf("%d\n", QueryRank(socketPath))
}
