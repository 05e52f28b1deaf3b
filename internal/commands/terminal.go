package commands

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"runtime"
	"strings"
	"time"

	"github.com/ehrlich-b/nodehost/internal/dispatch"
	"github.com/ehrlich-b/nodehost/internal/guard"
)

const (
	maxOutputBytes = 1 << 20
	killGrace      = 2 * time.Second
)

const terminalSchema = `{
	"type": "object",
	"properties": {
		"command": {"type": "string", "minLength": 1},
		"cwd": {"type": "string"},
		"timeoutMs": {"type": "integer", "minimum": 1},
		"tty": {"type": "boolean"}
	},
	"required": ["command"]
}`

type TerminalParams struct {
	Command   string `json:"command"`
	Cwd       string `json:"cwd,omitempty"`
	TimeoutMs int64  `json:"timeoutMs,omitempty"`
	TTY       bool   `json:"tty,omitempty"`
}

type TerminalResult struct {
	ExitCode  int    `json:"exitCode"`
	Stdout    string `json:"stdout"`
	Stderr    string `json:"stderr"`
	TimedOut  bool   `json:"timedOut"`
	Truncated bool   `json:"truncated,omitempty"`
}

// shellOperators would let a command line run programs the allow-list never saw.
var shellOperators = []string{";", "&", "|", "`", "$(", ">", "<", "\n", "\r"}

func (h *handlers) registerTerminal(r *dispatch.Registry) error {
	return dispatch.Register(r, "terminal.run", h.terminalRun, dispatch.WithSchema(terminalSchema))
}

func (h *handlers) terminalRun(ctx context.Context, p TerminalParams) (TerminalResult, error) {
	command := strings.TrimSpace(p.Command)
	if command == "" {
		return TerminalResult{}, dispatch.Errorf(dispatch.CodeInvalidParams, "empty command")
	}
	allow := h.settings.Allowlist()
	if !guard.IsCommandAllowed(command, allow) {
		return TerminalResult{}, dispatch.Errorf(dispatch.CodeCommandError, "command not allowed: %s", firstToken(command))
	}
	if !allowsAll(allow) && hasShellOperator(command) {
		return TerminalResult{}, dispatch.Errorf(dispatch.CodeCommandError, "shell operators are only allowed with a wildcard allow-list")
	}

	dir, err := h.resolve(p.Cwd)
	if err != nil {
		return TerminalResult{}, err
	}

	timeout := h.settings.TerminalTimeout()
	if p.TimeoutMs > 0 {
		timeout = time.Duration(p.TimeoutMs) * time.Millisecond
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := shellCommand(runCtx, command)
	cmd.Dir = dir
	cmd.WaitDelay = killGrace

	var res TerminalResult
	if p.TTY {
		res, err = runTTY(cmd)
	} else {
		res, err = runPiped(cmd)
	}
	if runCtx.Err() == context.DeadlineExceeded {
		res.TimedOut = true
		if res.ExitCode == 0 {
			res.ExitCode = -1
		}
		return res, nil
	}
	if err != nil {
		if cerr := contextErr(ctx); cerr != nil {
			return res, cerr
		}
		return res, fmt.Errorf("run %s: %w", firstToken(command), err)
	}
	return res, nil
}

func runPiped(cmd *exec.Cmd) (TerminalResult, error) {
	stdout := &limitedBuffer{max: maxOutputBytes}
	stderr := &limitedBuffer{max: maxOutputBytes}
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	err := cmd.Run()
	res := TerminalResult{
		Stdout:    stdout.String(),
		Stderr:    stderr.String(),
		Truncated: stdout.truncated || stderr.truncated,
	}
	return res, exitStatus(&res, err)
}

// exitStatus records a non-zero exit in res. Only failures to run at all are returned.
func exitStatus(res *TerminalResult, err error) error {
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		res.ExitCode = exitErr.ExitCode()
		return nil
	}
	return err
}

func shellCommand(ctx context.Context, command string) *exec.Cmd {
	if runtime.GOOS == "windows" {
		return exec.CommandContext(ctx, "cmd", "/C", command)
	}
	return exec.CommandContext(ctx, "sh", "-c", command)
}

func firstToken(command string) string {
	fields := strings.Fields(command)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}

func allowsAll(allow []string) bool {
	for _, a := range allow {
		if strings.TrimSpace(a) == "*" {
			return true
		}
	}
	return false
}

func hasShellOperator(command string) bool {
	for _, op := range shellOperators {
		if strings.Contains(command, op) {
			return true
		}
	}
	return false
}

// limitedBuffer keeps the first max bytes and drops the rest.
type limitedBuffer struct {
	buf       bytes.Buffer
	max       int
	truncated bool
}

func (b *limitedBuffer) Write(p []byte) (int, error) {
	if room := b.max - b.buf.Len(); room < len(p) {
		b.truncated = true
		if room > 0 {
			b.buf.Write(p[:room])
		}
		return len(p), nil
	}
	return b.buf.Write(p)
}

func (b *limitedBuffer) String() string {
	return b.buf.String()
}
