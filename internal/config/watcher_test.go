package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestWatcherReloads(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, FileName)
	if err := os.WriteFile(path, []byte("gateway: {host: a, port: 1}\n"), 0600); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w := NewWatcher(path, nil)
	if err := w.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	// unrelated files in the directory are ignored
	if err := os.WriteFile(filepath.Join(dir, "other.txt"), []byte("x"), 0600); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte("gateway: {host: b, port: 2}\n"), 0600); err != nil {
		t.Fatal(err)
	}

	select {
	case ev := <-w.Events():
		if ev.Err != nil {
			t.Fatalf("reload error: %v", ev.Err)
		}
		if ev.Config.Gateway.Host != "b" || ev.Config.Gateway.Port != 2 {
			t.Errorf("gateway = %+v", ev.Config.Gateway)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no reload event")
	}

	if err := os.WriteFile(path, []byte("gateway: {host: b, port: 0}\n"), 0600); err != nil {
		t.Fatal(err)
	}
	select {
	case ev := <-w.Events():
		if ev.Err == nil {
			t.Error("invalid config reloaded without error")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no reload event for invalid config")
	}

	cancel()
	select {
	case _, ok := <-w.Events():
		for ok {
			_, ok = <-w.Events()
		}
	case <-time.After(5 * time.Second):
		t.Fatal("events channel not closed after cancel")
	}
}
