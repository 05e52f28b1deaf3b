package main

import (
	"fmt"
	"os"

	"github.com/ehrlich-b/nodehost/internal/config"
	"github.com/spf13/cobra"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

var homeFlag string

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "nodehost",
		Short:         "Expose this machine to a gateway as a command node",
		Long:          "Keeps an authenticated connection to a gateway and runs the file, terminal and git commands it sends, confined to the configured workspace.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&homeFlag, "home", "", "state directory (default $NODEHOST_HOME or ~/.nodehost)")

	root.AddCommand(
		runCmd(),
		identityCmd(),
		activityCmd(),
		tokenCmd(),
		versionCmd(),
	)
	return root
}

// homeDir resolves and creates the state directory.
func homeDir() (string, error) {
	dir := homeFlag
	if dir == "" {
		var err error
		if dir, err = config.Dir(); err != nil {
			return "", err
		}
	}
	if err := config.EnsureDir(dir); err != nil {
		return "", fmt.Errorf("create %s: %w", dir, err)
	}
	return dir, nil
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the nodehost version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("nodehost", version)
		},
	}
}
