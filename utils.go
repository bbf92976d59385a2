package mpih

import (
	"fmt"
	"net"
	"os"
)

// sockCheck removes a stale socket file left by a previous daemon. A
// socket that still accepts connections means another daemon owns it.
func sockCheck(sockFile string) error {
	_, err := os.Stat(sockFile)
	if err == nil || os.IsExist(err) {
		conn, err := net.Dial("unix", sockFile)
		if err == nil {
			conn.Close()
			return fmt.Errorf("mpih daemon is already running on %s", sockFile)
		}
		os.Remove(sockFile)
	}
	return nil
}
