package subcmd

import (
	"io"
	"log"

	"github.com/benvvalk/mpih/protocol"
)

// Recv streams data from peer to out until the daemon signals
// end-of-stream by closing the socket.
func Recv(socketPath string, peer int, out io.Writer) {
	conn := dial(socketPath)
	defer conn.Close()

	if err := conn.WriteHeader(protocol.RECV, peer); err != nil {
		log.Fatal(err)
	}
	if _, err := io.Copy(out, conn); err != nil {
		log.Fatal(err)
	}
}
