package config

import (
	"slices"
	"sync"
	"time"
)

// Live holds the current configuration. Readers take a snapshot per use, so a
// reload is visible to the next invocation and never to one already running.
type Live struct {
	mu  sync.RWMutex
	cfg *NodeConfig
}

func NewLive(cfg *NodeConfig) *Live {
	if cfg == nil {
		cfg = Default()
	}
	return &Live{cfg: cfg}
}

// Get returns the current configuration. Callers must not modify it.
func (l *Live) Get() *NodeConfig {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.cfg
}

// Set swaps in cfg and returns the configuration it replaced.
func (l *Live) Set(cfg *NodeConfig) *NodeConfig {
	l.mu.Lock()
	defer l.mu.Unlock()
	prev := l.cfg
	l.cfg = cfg
	return prev
}

func (l *Live) Workspace() []string {
	return slices.Clone(l.Get().Workspace)
}

func (l *Live) Allowlist() []string {
	return slices.Clone(l.Get().Terminal.Allowlist)
}

func (l *Live) TerminalTimeout() time.Duration {
	return l.Get().TerminalTimeout()
}

// GatewayChanged reports whether moving from a to b requires a new gateway connection.
func GatewayChanged(a, b *NodeConfig) bool {
	if a == nil || b == nil {
		return a != b
	}
	return a.Gateway != b.Gateway || a.DisplayName != b.DisplayName ||
		!slices.Equal(a.Capabilities, b.Capabilities)
}
