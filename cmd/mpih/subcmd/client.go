package subcmd

import (
	"io"
	"log"
	"os"

	"github.com/benvvalk/mpih/protocol"
)

func dial(socketPath string) protocol.Conn {
	conn, err := protocol.Dial(socketPath)
	if err != nil {
		log.Fatal(err)
	}
	return conn
}

// queryLine sends a no-body header and returns the daemon's one-line
// reply.
func queryLine(socketPath string, cmd protocol.Command) string {
	conn := dial(socketPath)
	defer conn.Close()
	if err := conn.WriteHeader(cmd, 0); err != nil {
		log.Fatal(err)
	}
	line, err := conn.ReadLine()
	if err != nil {
		log.Fatal(err)
	}
	return line
}

// OpenLog opens the daemon log destination: "" discards, "-" is
// stdout, anything else a regular file.
func OpenLog(path string) (*log.Logger, error) {
	var w io.Writer
	switch path {
	case "":
		w = io.Discard
	case "-":
		w = os.Stdout
	default:
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
		if err != nil {
			return nil, err
		}
		w = f
	}
	return log.New(w, "", log.LstdFlags), nil
}
