package main

import (
	"fmt"
	"time"

	"github.com/ehrlich-b/nodehost/internal/identity"
	"github.com/spf13/cobra"
)

func identityCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "identity",
		Short: "Show this node's device identity, creating it on first use",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, err := homeDir()
			if err != nil {
				return err
			}
			id, err := identity.EnsureIdentity(dir)
			if err != nil {
				return err
			}
			fp, err := id.Fingerprint()
			if err != nil {
				return err
			}
			fmt.Printf("device id:   %s\n", id.DeviceID)
			fmt.Printf("public key:  %s\n", id.PublicKeyBase64URL())
			fmt.Printf("fingerprint: %s\n", fp)
			fmt.Printf("created:     %s\n", id.CreatedAt.Format(time.RFC3339))
			return nil
		},
	}
}
