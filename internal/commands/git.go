package commands

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/ehrlich-b/nodehost/internal/dispatch"
)

const (
	defaultLogLimit = 20
	maxLogLimit     = 200
)

type GitStatusParams struct{}

type GitFile struct {
	Path     string `json:"path"`
	Index    string `json:"index"`    // staged status letter, " " when unchanged
	Worktree string `json:"worktree"` // unstaged status letter
}

type GitStatusResult struct {
	Branch string    `json:"branch"`
	Clean  bool      `json:"clean"`
	Files  []GitFile `json:"files"`
}

type GitDiffParams struct {
	Path   string `json:"path,omitempty"`
	Staged bool   `json:"staged,omitempty"`
}

type GitDiffResult struct {
	Diff      string `json:"diff"`
	Truncated bool   `json:"truncated,omitempty"`
}

type GitLogParams struct {
	Limit int `json:"limit,omitempty"`
}

type GitCommit struct {
	Hash    string `json:"hash"`
	Author  string `json:"author"`
	Date    string `json:"date"`
	Subject string `json:"subject"`
}

type GitLogResult struct {
	Commits []GitCommit `json:"commits"`
}

func (h *handlers) registerGit(r *dispatch.Registry) error {
	if err := dispatch.Register(r, "git.status", h.gitStatus); err != nil {
		return err
	}
	if err := dispatch.Register(r, "git.diff", h.gitDiff, dispatch.WithSchema(`{
		"type": "object",
		"properties": {"path": {"type": "string"}, "staged": {"type": "boolean"}}
	}`)); err != nil {
		return err
	}
	return dispatch.Register(r, "git.log", h.gitLog, dispatch.WithSchema(`{
		"type": "object",
		"properties": {"limit": {"type": "integer", "minimum": 1}}
	}`))
}

// git runs git in the workspace root.
func (h *handlers) git(ctx context.Context, args ...string) (string, error) {
	root, err := h.workspace().Root()
	if err != nil {
		return "", pathError(err)
	}
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = root
	stdout := &limitedBuffer{max: maxOutputBytes}
	var stderr bytes.Buffer
	cmd.Stdout = stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if cerr := contextErr(ctx); cerr != nil {
			return "", cerr
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return "", dispatch.Errorf(dispatch.CodeCommandError, "git %s: %s", args[0], strings.TrimSpace(stderr.String()))
		}
		return "", fmt.Errorf("git %s: %w", args[0], err)
	}
	return stdout.String(), nil
}

func (h *handlers) gitStatus(ctx context.Context, _ GitStatusParams) (GitStatusResult, error) {
	out, err := h.git(ctx, "status", "--porcelain=v1", "--branch", "-z")
	if err != nil {
		return GitStatusResult{}, err
	}
	return parseStatus(out), nil
}

// parseStatus reads `git status --porcelain=v1 --branch -z` output.
func parseStatus(out string) GitStatusResult {
	res := GitStatusResult{Files: []GitFile{}}
	records := strings.Split(out, "\x00")
	for i := 0; i < len(records); i++ {
		rec := records[i]
		if rec == "" {
			continue
		}
		if strings.HasPrefix(rec, "## ") {
			branch := strings.TrimPrefix(rec, "## ")
			branch, _, _ = strings.Cut(branch, "...")
			branch = strings.TrimPrefix(branch, "No commits yet on ")
			res.Branch = strings.TrimSpace(branch)
			continue
		}
		if len(rec) < 4 {
			continue
		}
		f := GitFile{Index: rec[:1], Worktree: rec[1:2], Path: rec[3:]}
		// renames and copies carry the original path as the next record
		if f.Index == "R" || f.Index == "C" {
			i++
		}
		res.Files = append(res.Files, f)
	}
	res.Clean = len(res.Files) == 0
	return res
}

func (h *handlers) gitDiff(ctx context.Context, p GitDiffParams) (GitDiffResult, error) {
	args := []string{"diff", "--no-color"}
	if p.Staged {
		args = append(args, "--staged")
	}
	if p.Path != "" {
		abs, err := h.resolve(p.Path)
		if err != nil {
			return GitDiffResult{}, err
		}
		root, _ := h.workspace().Root()
		rel, err := filepath.Rel(root, abs)
		if err != nil {
			return GitDiffResult{}, fmt.Errorf("relative path: %w", err)
		}
		args = append(args, "--", rel)
	}
	out, err := h.git(ctx, args...)
	if err != nil {
		return GitDiffResult{}, err
	}
	return GitDiffResult{Diff: out, Truncated: len(out) >= maxOutputBytes}, nil
}

func (h *handlers) gitLog(ctx context.Context, p GitLogParams) (GitLogResult, error) {
	limit := p.Limit
	if limit <= 0 {
		limit = defaultLogLimit
	}
	if limit > maxLogLimit {
		limit = maxLogLimit
	}
	out, err := h.git(ctx, "log", fmt.Sprintf("-n%d", limit), "--pretty=format:%H%x1f%an%x1f%aI%x1f%s%x1e")
	if err != nil {
		// a repository without commits has no log
		if strings.Contains(err.Error(), "does not have any commits") {
			return GitLogResult{Commits: []GitCommit{}}, nil
		}
		return GitLogResult{}, err
	}
	return GitLogResult{Commits: parseLog(out)}, nil
}

func parseLog(out string) []GitCommit {
	commits := []GitCommit{}
	for _, rec := range strings.Split(out, "\x1e") {
		rec = strings.TrimSpace(rec)
		if rec == "" {
			continue
		}
		fields := strings.Split(rec, "\x1f")
		if len(fields) != 4 {
			continue
		}
		commits = append(commits, GitCommit{Hash: fields[0], Author: fields[1], Date: fields[2], Subject: fields[3]})
	}
	return commits
}
