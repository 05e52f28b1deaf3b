// Package commands holds the node's built-in command handlers. Every
// path-shaped parameter is resolved through the workspace guard before it
// touches the filesystem.
package commands

import (
	"context"
	"errors"
	"io/fs"
	"time"

	"github.com/ehrlich-b/nodehost/internal/dispatch"
	"github.com/ehrlich-b/nodehost/internal/guard"
)

// Settings are read on every invocation so a config reload applies to the next call.
// *config.Live implements it.
type Settings interface {
	Workspace() []string
	Allowlist() []string
	TerminalTimeout() time.Duration
}

// Node describes the running node for node.describe.
type Node struct {
	DeviceID string
	NodeID   func() string
	Caps     func() []string
}

type Options struct {
	Settings Settings
	Node     Node
}

type handlers struct {
	settings Settings
	node     Node
	reg      *dispatch.Registry
}

// Register adds every built-in command to r.
func Register(r *dispatch.Registry, opts Options) error {
	h := &handlers{settings: opts.Settings, node: opts.Node, reg: r}
	for _, register := range []func(*dispatch.Registry) error{
		h.registerFile,
		h.registerTerminal,
		h.registerGit,
		h.registerNode,
	} {
		if err := register(r); err != nil {
			return err
		}
	}
	return nil
}

func (h *handlers) workspace() guard.Workspace {
	return guard.Workspace{Roots: h.settings.Workspace()}
}

func (h *handlers) resolve(rel string) (string, error) {
	p, err := h.workspace().Resolve(rel)
	if err != nil {
		return "", pathError(err)
	}
	return p, nil
}

// pathError maps guard and filesystem failures onto result codes.
func pathError(err error) error {
	switch {
	case errors.Is(err, guard.ErrAbsolutePath), errors.Is(err, guard.ErrOutsideWorkspace):
		return dispatch.Errorf(dispatch.CodeInvalidParams, "%v", err)
	case errors.Is(err, guard.ErrNoWorkspace):
		return dispatch.Errorf(dispatch.CodeCommandError, "%v", err)
	case errors.Is(err, fs.ErrNotExist):
		return dispatch.Errorf(dispatch.CodeCommandError, "not found")
	}
	return err
}

// contextErr turns a cancelled context into a command error.
func contextErr(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return dispatch.Errorf(dispatch.CodeCommandError, "%v", err)
	}
	return nil
}
