package subcmd

import (
	"fmt"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"syscall"
	"time"
)

const readyTimeout = 30 * time.Second
const readyInterval = 50 * time.Millisecond

// Run starts a private 'mpih init' daemon, executes the script with
// the standard mpih environment, then finalizes the daemon. The
// return value is the script's exit status (128+signal if the script
// was killed).
func Run(args []string, verbose int) int {
	tmpdir, err := os.MkdirTemp("", "mpih.")
	if err != nil {
		log.Fatal(err)
	}
	defer os.RemoveAll(tmpdir)

	socket := filepath.Join(tmpdir, "socket")
	logPath := filepath.Join(tmpdir, "log")
	pidPath := filepath.Join(tmpdir, "pid")

	self, err := os.Executable()
	if err != nil {
		log.Fatal(err)
	}

	// the daemon is a direct child sharing our process group and
	// terminal, so a dying shell takes it down too
	daemon := exec.Command(self,
		"--socket", socket,
		"--verbose", fmt.Sprintf("%d", verbose),
		"init", "--foreground",
		"--log", logPath,
		"--pid-file", pidPath)
	if err := daemon.Start(); err != nil {
		log.Fatal(err)
	}

	if verbose > 0 {
		fmt.Fprintln(os.Stderr, "Waiting for mpih daemon to start...")
	}
	waitReady(pidPath)

	rank := QueryRank(socket)
	size := QuerySize(socket)

	script := exec.Command(args[0], args[1:]...)
	script.Stdin = os.Stdin
	script.Stdout = os.Stdout
	script.Stderr = os.Stderr
	script.Env = append(os.Environ(),
		"MPIH_SOCKET="+socket,
		"MPIH_LOG="+logPath,
		fmt.Sprintf("MPIH_RANK=%d", rank),
		fmt.Sprintf("MPIH_SIZE=%d", size))

	scriptErr := script.Run()

	Finalize(socket)
	daemon.Wait()

	if scriptErr == nil {
		return 0
	}
	if exitErr, ok := scriptErr.(*exec.ExitError); ok {
		ws := exitErr.Sys().(syscall.WaitStatus)
		if ws.Signaled() {
			// add 128 to differentiate signals from exit codes
			return 128 + int(ws.Signal())
		}
		return ws.ExitStatus()
	}
	log.Fatal(scriptErr)
	return 1
}

// waitReady polls for the daemon's pid file, which is written after
// the listener binds.
func waitReady(pidPath string) {
	deadline := time.Now().Add(readyTimeout)
	for {
		if _, err := os.Stat(pidPath); err == nil {
			return
		}
		if time.Now().After(deadline) {
			log.Fatal("error: mpih daemon did not become ready")
		}
		time.Sleep(readyInterval)
	}
}
