package commands

import (
	"os/exec"

	"github.com/ehrlich-b/nodehost/internal/dispatch"
)

func runTTY(cmd *exec.Cmd) (TerminalResult, error) {
	return TerminalResult{}, dispatch.Errorf(dispatch.CodeCommandError, "tty is not supported on windows")
}
