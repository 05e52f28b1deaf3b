package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/ehrlich-b/nodehost/internal/config"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

func tokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Manage the gateway bearer token",
	}
	cmd.AddCommand(tokenSetCmd(), tokenStatusCmd())
	return cmd
}

func tokenSetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set",
		Short: "Store the gateway token in node.yaml (read from stdin)",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, err := homeDir()
			if err != nil {
				return err
			}
			token, err := readToken()
			if err != nil {
				return err
			}
			if err := config.Edit(config.Path(dir), func(c *config.NodeConfig) {
				c.Gateway.Token = token
			}); err != nil {
				return err
			}
			fmt.Println("token saved to", config.Path(dir))
			if exp, ok := config.TokenExpiry(token); ok {
				fmt.Println("expires", exp.Local().Format(time.RFC1123))
			}
			return nil
		},
	}
}

func tokenStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show whether a token is configured and when it expires",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, err := homeDir()
			if err != nil {
				return err
			}
			cfg, err := config.Load(config.Path(dir))
			if err != nil {
				return err
			}
			token := cfg.Gateway.Token
			if token == "" {
				fmt.Println("no token configured")
				return nil
			}
			exp, ok := config.TokenExpiry(token)
			switch {
			case !ok:
				fmt.Println("token configured (opaque, no expiry)")
			case time.Now().After(exp):
				fmt.Println("token expired", exp.Local().Format(time.RFC1123))
			default:
				fmt.Println("token valid until", exp.Local().Format(time.RFC1123))
			}
			return nil
		},
	}
}

// readToken prompts without echo on a terminal and reads one line otherwise.
func readToken() (string, error) {
	fd := int(os.Stdin.Fd())
	var token string
	if term.IsTerminal(fd) {
		fmt.Fprint(os.Stderr, "gateway token: ")
		b, err := term.ReadPassword(fd)
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return "", fmt.Errorf("read token: %w", err)
		}
		token = string(b)
	} else {
		line, err := bufio.NewReader(os.Stdin).ReadString('\n')
		if err != nil && line == "" {
			return "", fmt.Errorf("read token: %w", err)
		}
		token = line
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return "", fmt.Errorf("empty token")
	}
	return token, nil
}
