package subcmd

import (
	"io"
	"log"

	"github.com/benvvalk/mpih/protocol"
)

// Finalize asks the daemon to drain all transfers and shut down. It
// returns when the daemon has exited and closed the socket.
func Finalize(socketPath string) {
	conn := dial(socketPath)
	defer conn.Close()

	if err := conn.WriteHeader(protocol.FINALIZE, 0); err != nil {
		log.Fatal(err)
	}
	io.Copy(io.Discard, conn)
}
