// Package guard holds the node's trust boundary checks: every file-touching
// command resolves its paths through the workspace, and every shell command
// line is matched against the configured allow-list.
package guard

import (
	"errors"
	"fmt"
	"path/filepath"
	"runtime"
	"strings"
)

var (
	ErrNoWorkspace      = errors.New("no workspace folder configured")
	ErrAbsolutePath     = errors.New("absolute paths are not allowed")
	ErrOutsideWorkspace = errors.New("path escapes the workspace")
)

// ResolveWorkspacePath resolves rel against the first workspace root. The result
// is either the root itself or a path strictly inside it.
func ResolveWorkspacePath(roots []string, rel string) (string, error) {
	if len(roots) == 0 || roots[0] == "" {
		return "", ErrNoWorkspace
	}
	if isAbs(rel) {
		return "", fmt.Errorf("%w: %s", ErrAbsolutePath, rel)
	}

	root, err := filepath.Abs(roots[0])
	if err != nil {
		return "", fmt.Errorf("resolve workspace root: %w", err)
	}
	root = filepath.Clean(root)

	resolved := filepath.Clean(filepath.Join(root, filepath.FromSlash(rel)))
	if resolved == root {
		return resolved, nil
	}
	prefix := root
	if !strings.HasSuffix(prefix, string(filepath.Separator)) {
		prefix += string(filepath.Separator)
	}
	if !strings.HasPrefix(resolved, prefix) {
		return "", fmt.Errorf("%w: %s", ErrOutsideWorkspace, rel)
	}
	return resolved, nil
}

// isAbs also rejects rooted paths that filepath.IsAbs lets through on Windows
// (\foo, /foo) and drive-relative forms.
func isAbs(p string) bool {
	if filepath.IsAbs(p) {
		return true
	}
	if strings.HasPrefix(p, "/") || strings.HasPrefix(p, `\`) {
		return true
	}
	return filepath.VolumeName(p) != ""
}

// Workspace is a set of roots; only the first one is used for resolution.
type Workspace struct {
	Roots []string
}

// Resolve is ResolveWorkspacePath over w.Roots.
func (w Workspace) Resolve(rel string) (string, error) {
	return ResolveWorkspacePath(w.Roots, rel)
}

// Root returns the primary workspace root.
func (w Workspace) Root() (string, error) {
	return ResolveWorkspacePath(w.Roots, ".")
}

// IsCommandAllowed reports whether the first token of a shell command line is on the allow-list.
func IsCommandAllowed(command string, allowlist []string) bool {
	return isCommandAllowed(command, allowlist, runtime.GOOS)
}

func isCommandAllowed(command string, allowlist []string, goos string) bool {
	for _, entry := range allowlist {
		if strings.TrimSpace(entry) == "*" {
			return true
		}
	}
	fields := strings.Fields(command)
	if len(fields) == 0 {
		return false
	}
	exe := fields[0]
	for _, entry := range allowlist {
		entry = strings.TrimSpace(entry)
		switch {
		case entry == "":
			continue
		case exe == entry:
			return true
		case goos == "windows" && strings.EqualFold(exe, entry+".exe"):
			return true
		}
	}
	return false
}
