package subcmd

import (
	"fmt"
	"log"
	"strconv"

	"github.com/benvvalk/mpih/protocol"
)

// QuerySize asks the daemon for the number of ranks in the job.
func QuerySize(socketPath string) int {
	line := queryLine(socketPath, protocol.SIZE)
	size, err := strconv.Atoi(line)
	if err != nil {
		log.Fatalf("error: bad SIZE reply %q", line)
	}
	return size
}

func PrintSize(socketPath string) {
	fmt.Printf("%d\n", QuerySize(socketPath))
}
