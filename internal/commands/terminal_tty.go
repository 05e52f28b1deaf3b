//go:build !windows

package commands

import (
	"io"
	"os/exec"
	"syscall"
	"time"

	"github.com/creack/pty"
)

const drainWait = 500 * time.Millisecond

// runTTY runs cmd on a pseudo-terminal. The terminal merges both streams, so
// everything lands in Stdout.
func runTTY(cmd *exec.Cmd) (TerminalResult, error) {
	cmd.Cancel = func() error {
		return cmd.Process.Signal(syscall.SIGTERM)
	}
	ptmx, err := pty.StartWithSize(cmd, &pty.Winsize{Cols: 120, Rows: 40})
	if err != nil {
		return TerminalResult{}, err
	}
	defer ptmx.Close()

	out := &limitedBuffer{max: maxOutputBytes}
	copied := make(chan struct{})
	go func() {
		defer close(copied)
		// reading the master returns EIO once the child side closes
		_, _ = io.Copy(out, ptmx)
	}()

	waitErr := cmd.Wait()
	// a background child can hold the terminal open; don't wait on it forever
	select {
	case <-copied:
	case <-time.After(drainWait):
	}
	ptmx.Close()
	<-copied

	res := TerminalResult{Stdout: out.String(), Truncated: out.truncated}
	return res, exitStatus(&res, waitErr)
}
