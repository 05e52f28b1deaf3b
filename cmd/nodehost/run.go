package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/ehrlich-b/nodehost/internal/activity"
	"github.com/ehrlich-b/nodehost/internal/commands"
	"github.com/ehrlich-b/nodehost/internal/config"
	"github.com/ehrlich-b/nodehost/internal/dispatch"
	"github.com/ehrlich-b/nodehost/internal/gateway"
	"github.com/ehrlich-b/nodehost/internal/identity"
	"github.com/ehrlich-b/nodehost/internal/logger"
	"github.com/spf13/cobra"
)

const pruneInterval = time.Hour

func runCmd() *cobra.Command {
	var noActivity bool

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Connect to the gateway and serve commands until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, err := homeDir()
			if err != nil {
				return err
			}
			cfgPath := config.Path(dir)
			cfg, err := config.Load(cfgPath)
			if err != nil {
				return err
			}

			log, closer, err := logger.Init(cfg.Logging.Level, cfg.Logging.File)
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}
			defer closer.Close()

			id, err := identity.EnsureIdentity(dir)
			if err != nil {
				return fmt.Errorf("device identity: %w", err)
			}

			var recorder dispatch.Recorder
			var store *activity.Store
			if !noActivity {
				store, err = activity.Open(cfg.ActivityDB(dir))
				if err != nil {
					return fmt.Errorf("open activity db: %w", err)
				}
				defer store.Close()
				recorder = store
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			n := &node{log: log, identity: id, live: config.NewLive(cfg), store: store}
			return n.serve(ctx, cfgPath, recorder)
		},
	}
	cmd.Flags().BoolVar(&noActivity, "no-activity", false, "do not record commands in the activity database")
	return cmd
}

// node wires config, dispatcher and gateway client together for `nodehost run`.
type node struct {
	log      *slog.Logger
	identity *identity.Identity
	live     *config.Live
	store    *activity.Store
	reg      *dispatch.Registry
	disp     *dispatch.Dispatcher
	client   atomic.Pointer[gateway.Client]
}

func (n *node) serve(ctx context.Context, cfgPath string, recorder dispatch.Recorder) error {
	cfg := n.live.Get()

	n.reg = dispatch.NewRegistry()
	err := commands.Register(n.reg, commands.Options{
		Settings: n.live,
		Node: commands.Node{
			DeviceID: n.identity.DeviceID,
			NodeID: func() string {
				if c := n.client.Load(); c != nil {
					return c.NodeID()
				}
				return ""
			},
			Caps: func() []string { return n.caps(n.live.Get()) },
		},
	})
	if err != nil {
		return fmt.Errorf("register commands: %w", err)
	}
	n.disp = dispatch.NewDispatcher(dispatch.Config{
		Registry:             n.reg,
		Recorder:             recorder,
		Logger:               n.log,
		InvocationsPerSecond: cfg.Limits.InvocationsPerSecond,
		Burst:                cfg.Limits.Burst,
	})

	n.prune(ctx)
	if len(cfg.Workspace) == 0 {
		n.log.Warn("no workspace configured; file, git and terminal commands will fail")
	}

	watcher := config.NewWatcher(cfgPath, n.log)
	events := watcher.Events()
	if err := watcher.Start(ctx); err != nil {
		n.log.Warn("config watcher unavailable, changes need a restart", "error", err)
		events = nil
	}

	n.startClient(ctx, cfg)
	defer func() {
		if c := n.client.Load(); c != nil {
			c.Stop()
		}
	}()

	ticker := time.NewTicker(pruneInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			n.log.Info("shutting down")
			return nil
		case <-ticker.C:
			n.prune(ctx)
		case ev, ok := <-events:
			if !ok {
				// watcher stopped; keep serving with the current config
				events = nil
				continue
			}
			if ev.Err != nil {
				continue
			}
			prev := n.live.Set(ev.Config)
			if config.GatewayChanged(prev, ev.Config) {
				n.log.Info("gateway settings changed, reconnecting")
				if c := n.client.Load(); c != nil {
					c.Stop()
				}
				n.startClient(ctx, ev.Config)
			}
		}
	}
}

func (n *node) startClient(ctx context.Context, cfg *config.NodeConfig) {
	warnTokenExpiry(n.log, cfg.Gateway.Token)

	c := gateway.New(gateway.Config{
		Host:        cfg.Gateway.Host,
		Port:        cfg.Gateway.Port,
		TLS:         cfg.Gateway.TLS,
		Token:       cfg.Gateway.Token,
		DisplayName: displayName(cfg),
		Version:     version,
		Caps:        n.caps(cfg),
		Identity:    n.identity,
		Invoker:     n.disp,
		Logger:      n.log,
	})
	n.client.Store(c)
	n.log.Info("starting node", "gateway", c.URL(), "device_id", n.identity.DeviceID, "commands", len(n.reg.Names()))
	c.Start(ctx)
}

// caps are the configured capabilities, or the command namespaces when none are set.
func (n *node) caps(cfg *config.NodeConfig) []string {
	if len(cfg.Capabilities) > 0 {
		return cfg.Capabilities
	}
	return n.reg.Namespaces()
}

func (n *node) prune(ctx context.Context) {
	if n.store == nil {
		return
	}
	retain := n.live.Get().Activity.Retain
	if retain <= 0 {
		return
	}
	removed, err := n.store.Prune(ctx, retain)
	if err != nil {
		n.log.Warn("activity prune failed", "error", err)
		return
	}
	if removed > 0 {
		n.log.Debug("activity pruned", "removed", removed)
	}
}

func displayName(cfg *config.NodeConfig) string {
	if cfg.DisplayName != "" {
		return cfg.DisplayName
	}
	host, _ := os.Hostname()
	return host
}

func warnTokenExpiry(log *slog.Logger, token string) {
	exp, ok := config.TokenExpiry(token)
	if !ok {
		return
	}
	switch left := time.Until(exp); {
	case left <= 0:
		log.Warn("gateway token has expired", "expired_at", exp.Format(time.RFC3339))
	case left < 24*time.Hour:
		log.Warn("gateway token expires soon", "expires_in", left.Round(time.Minute))
	}
}
