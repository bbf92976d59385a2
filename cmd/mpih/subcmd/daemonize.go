package subcmd

import (
	"log"
	"os"
	"os/exec"
)

// Daemonize re-execs the current command line with --foreground
// appended and returns in the parent. The child intentionally keeps
// our process group and controlling terminal, so a crashing shell
// tears the daemon down with it.
func Daemonize() {
	self, err := os.Executable()
	if err != nil {
		log.Fatal(err)
	}
	args := append([]string{}, os.Args[1:]...)
	args = append(args, "--foreground")
	daemon := exec.Command(self, args...)
	if err := daemon.Start(); err != nil {
		log.Fatal(err)
	}
	// the child is not reaped here; it outlives us
	daemon.Process.Release()
}
