package subcmd

import (
	"io"
	"log"
	"os"

	"github.com/benvvalk/mpih/protocol"
)

// Send streams the given files (or stdin) to peer. It returns once
// the daemon has consumed the whole stream and closed the socket.
func Send(socketPath string, peer int, files []string) {
	conn := dial(socketPath)
	defer conn.Close()

	if err := conn.WriteHeader(protocol.SEND, peer); err != nil {
		log.Fatal(err)
	}

	if len(files) == 0 {
		if _, err := io.Copy(conn, os.Stdin); err != nil {
			log.Fatal(err)
		}
	} else {
		for _, path := range files {
			f, err := os.Open(path)
			if err != nil {
				log.Fatal(err)
			}
			if _, err := io.Copy(conn, f); err != nil {
				f.Close()
				log.Fatal(err)
			}
			f.Close()
		}
	}

	// half-close signals end-of-input; the daemon closes the socket
	// once the stream's terminator is on the wire
	if err := conn.CloseWrite(); err != nil {
		log.Fatal(err)
	}
	io.Copy(io.Discard, conn)
}
