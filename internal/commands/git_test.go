package commands

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/ehrlich-b/nodehost/internal/dispatch"
)

func TestParseStatus(t *testing.T) {
	out := "## main...origin/main [ahead 1]\x00 M a.go\x00?? new.txt\x00R  new.go\x00old.go\x00A  added.go\x00"
	got := parseStatus(out)
	if got.Branch != "main" || got.Clean {
		t.Errorf("status = %+v", got)
	}
	want := []GitFile{
		{Path: "a.go", Index: " ", Worktree: "M"},
		{Path: "new.txt", Index: "?", Worktree: "?"},
		{Path: "new.go", Index: "R", Worktree: " "},
		{Path: "added.go", Index: "A", Worktree: " "},
	}
	if len(got.Files) != len(want) {
		t.Fatalf("files = %+v", got.Files)
	}
	for i := range want {
		if got.Files[i] != want[i] {
			t.Errorf("files[%d] = %+v, want %+v", i, got.Files[i], want[i])
		}
	}

	empty := parseStatus("## No commits yet on main\x00")
	if empty.Branch != "main" || !empty.Clean || empty.Files == nil {
		t.Errorf("empty = %+v", empty)
	}
}

func TestParseLog(t *testing.T) {
	out := "h1\x1fAda\x1f2024-01-02T03:04:05Z\x1ffirst\x1e\nh2\x1fBob\x1f2024-01-01T00:00:00Z\x1fsecond | with pipe\x1e"
	got := parseLog(out)
	if len(got) != 2 {
		t.Fatalf("commits = %+v", got)
	}
	if got[0].Hash != "h1" || got[0].Author != "Ada" || got[1].Subject != "second | with pipe" {
		t.Errorf("commits = %+v", got)
	}
	if len(parseLog("")) != 0 {
		t.Error("empty log produced commits")
	}
}

func gitRepo(t *testing.T) string {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}
	root := t.TempDir()
	run := func(args ...string) {
		t.Helper()
		cmd := exec.Command("git", args...)
		cmd.Dir = root
		cmd.Env = append(os.Environ(),
			"GIT_AUTHOR_NAME=Test", "GIT_AUTHOR_EMAIL=t@example.com",
			"GIT_COMMITTER_NAME=Test", "GIT_COMMITTER_EMAIL=t@example.com",
		)
		if out, err := cmd.CombinedOutput(); err != nil {
			t.Fatalf("git %v: %v\n%s", args, err, out)
		}
	}
	run("init", "-q", "-b", "main")
	if err := os.WriteFile(filepath.Join(root, "a.txt"), []byte("one\n"), 0644); err != nil {
		t.Fatal(err)
	}
	run("add", "a.txt")
	run("commit", "-q", "-m", "initial")
	return root
}

func TestGitCommands(t *testing.T) {
	root := gitRepo(t)
	d := newTestDispatcher(t, &fakeSettings{roots: []string{root}})

	var st GitStatusResult
	if res := call(t, d, "git.status", map[string]any{}, &st); !res.OK {
		t.Fatalf("status = %+v", res)
	}
	if st.Branch != "main" || !st.Clean {
		t.Errorf("status = %+v", st)
	}

	if err := os.WriteFile(filepath.Join(root, "a.txt"), []byte("two\n"), 0644); err != nil {
		t.Fatal(err)
	}
	st = GitStatusResult{}
	call(t, d, "git.status", map[string]any{}, &st)
	if st.Clean || len(st.Files) != 1 || st.Files[0].Path != "a.txt" || st.Files[0].Worktree != "M" {
		t.Errorf("dirty status = %+v", st)
	}

	var diff GitDiffResult
	call(t, d, "git.diff", GitDiffParams{Path: "a.txt"}, &diff)
	if diff.Diff == "" {
		t.Error("empty diff for modified file")
	}
	diff = GitDiffResult{}
	call(t, d, "git.diff", GitDiffParams{Staged: true}, &diff)
	if diff.Diff != "" {
		t.Errorf("staged diff = %q", diff.Diff)
	}
	wantCode(t, call(t, d, "git.diff", GitDiffParams{Path: "../x"}, nil), dispatch.CodeInvalidParams)

	var lg GitLogResult
	call(t, d, "git.log", GitLogParams{Limit: 5}, &lg)
	if len(lg.Commits) != 1 || lg.Commits[0].Subject != "initial" || lg.Commits[0].Author != "Test" {
		t.Errorf("log = %+v", lg)
	}
	wantCode(t, call(t, d, "git.log", GitLogParams{Limit: -1}, nil), dispatch.CodeInvalidParams)
}

func TestGitOutsideRepo(t *testing.T) {
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}
	d := newTestDispatcher(t, &fakeSettings{roots: []string{t.TempDir()}})
	res := d.Dispatch(context.Background(), "git.status", nil)
	wantCode(t, res, dispatch.CodeCommandError)
}
