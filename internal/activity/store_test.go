package activity

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("open test store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStartFinish(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	id, err := s.Start(ctx, "file.read", `{"path":"a.txt"}`)
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	r, err := s.Get(ctx, id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if r == nil {
		t.Fatal("got nil record")
	}
	if r.Status != StatusRunning {
		t.Errorf("status = %q, want %q", r.Status, StatusRunning)
	}
	if r.FinishedAt != nil {
		t.Error("running record has finished_at")
	}

	if err := s.Finish(ctx, id, Outcome{OK: true, Duration: 15 * time.Millisecond, Payload: `{"content":"x"}`}); err != nil {
		t.Fatalf("finish: %v", err)
	}
	r, _ = s.Get(ctx, id)
	if r.Status != StatusOK {
		t.Errorf("status = %q, want %q", r.Status, StatusOK)
	}
	if r.Duration != 15*time.Millisecond {
		t.Errorf("duration = %v, want 15ms", r.Duration)
	}
	if r.Payload != `{"content":"x"}` {
		t.Errorf("payload = %q", r.Payload)
	}
	if r.FinishedAt == nil {
		t.Error("finished_at not set")
	}
}

func TestFinishError(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	id, _ := s.Start(ctx, "terminal.run", "")
	if err := s.Finish(ctx, id, Outcome{ErrorCode: "COMMAND_ERROR", Error: "boom"}); err != nil {
		t.Fatalf("finish: %v", err)
	}
	r, _ := s.Get(ctx, id)
	if r.Status != StatusError {
		t.Errorf("status = %q, want %q", r.Status, StatusError)
	}
	if r.ErrorCode != "COMMAND_ERROR" || r.Error != "boom" {
		t.Errorf("error = %s/%s", r.ErrorCode, r.Error)
	}
}

func TestGetNotFound(t *testing.T) {
	s := openTestStore(t)
	r, err := s.Get(context.Background(), "missing")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if r != nil {
		t.Errorf("expected nil, got %+v", r)
	}
}

func TestRecentAndPrune(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if _, err := s.Start(ctx, "node.ping", ""); err != nil {
			t.Fatalf("start %d: %v", i, err)
		}
	}

	recs, err := s.Recent(ctx, 3)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(recs) != 3 {
		t.Fatalf("recent len = %d, want 3", len(recs))
	}

	n, err := s.Prune(ctx, 2)
	if err != nil {
		t.Fatalf("prune: %v", err)
	}
	if n != 3 {
		t.Errorf("pruned = %d, want 3", n)
	}
	recs, _ = s.Recent(ctx, 10)
	if len(recs) != 2 {
		t.Errorf("after prune len = %d, want 2", len(recs))
	}
}

func TestTruncate(t *testing.T) {
	if got := Truncate("short", 10); got != "short" {
		t.Errorf("Truncate short = %q", got)
	}
	long := strings.Repeat("a", 20)
	if got := Truncate(long, 5); got != "aaaaa…" {
		t.Errorf("Truncate long = %q", got)
	}
	// "é" is two bytes; cutting at 1 must not split it.
	if got := Truncate("éé", 1); got != "…" {
		t.Errorf("Truncate multibyte = %q", got)
	}
}

func TestStoredTextIsBounded(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	id, _ := s.Start(ctx, "file.write", strings.Repeat("x", maxText*2))
	r, _ := s.Get(ctx, id)
	if len(r.Params) > maxText+len("…") {
		t.Errorf("params len = %d, want <= %d", len(r.Params), maxText+len("…"))
	}
}

func TestReopenKeepsRecords(t *testing.T) {
	path := filepath.Join(t.TempDir(), "activity.db")
	ctx := context.Background()

	s, err := Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	id, err := s.Start(ctx, "node.ping", "{}")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	s.Close()

	s, err = Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s.Close()
	var version int
	if err := s.db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		t.Fatal(err)
	}
	if version != schemaVersion {
		t.Errorf("user_version = %d, want %d", version, schemaVersion)
	}
	if r, err := s.Get(ctx, id); err != nil || r == nil {
		t.Fatalf("record lost across reopen: %v", err)
	}
}

func TestOpenRefusesNewerSchema(t *testing.T) {
	path := filepath.Join(t.TempDir(), "activity.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, err := s.db.Exec(fmt.Sprintf("PRAGMA user_version=%d", schemaVersion+1)); err != nil {
		t.Fatal(err)
	}
	s.Close()

	if _, err := Open(path); err == nil || !strings.Contains(err.Error(), "newer") {
		t.Fatalf("err = %v, want newer-schema error", err)
	}
}
