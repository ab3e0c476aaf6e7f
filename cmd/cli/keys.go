package cli

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/merchware/gatekeeper/pkg/constants"
)

func newKeyCmd() *cobra.Command {
	keyCmd := &cobra.Command{
		Use:   "key",
		Short: "Manage API keys",
	}
	keyCmd.AddCommand(newKeyCreateCmd(), newKeyRotateCmd(), newKeyDeactivateCmd(), newKeyReactivateCmd())
	return keyCmd
}

func newKeyCreateCmd() *cobra.Command {
	var (
		name       string
		keyType    string
		rateLimit  int
		allowedIPs []string
		expiresIn  time.Duration
	)
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Issue a new API key",
		RunE: func(cmd *cobra.Command, args []string) error {
			kt := constants.KeyType(strings.ToLower(keyType))
			if !kt.Valid() {
				return fmt.Errorf("key type must be %q or %q", constants.KeyTypeShop, constants.KeyTypeAdmin)
			}
			ctx := context.Background()
			svc, cleanup, err := newRotationService(ctx)
			if err != nil {
				return err
			}
			defer cleanup()

			var expiresAt *time.Time
			if expiresIn > 0 {
				t := time.Now().Add(expiresIn)
				expiresAt = &t
			}
			key, err := svc.IssueKey(ctx, name, kt, rateLimit, allowedIPs, expiresAt)
			if err != nil {
				return err
			}
			fmt.Printf("id:     %s\n", key.ID)
			fmt.Printf("secret: %s\n", key.Secret)
			fmt.Printf("type:   %s  limit: %d req/min\n", key.KeyType, key.RateLimit)
			if key.ExpiresAt != nil {
				fmt.Printf("expires: %s\n", key.ExpiresAt.Format(time.RFC3339))
			}
			fmt.Println("store the secret now; it is not retrievable later")
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "human-readable key name")
	cmd.Flags().StringVar(&keyType, "type", string(constants.KeyTypeShop), "key type (shop or admin)")
	cmd.Flags().IntVar(&rateLimit, "rate-limit", 0, "requests per window (0 uses the type default)")
	cmd.Flags().StringSliceVar(&allowedIPs, "allowed-ip", nil, "restrict the key to these client IPs")
	cmd.Flags().DurationVar(&expiresIn, "expires-in", 0, "lifetime from now (0 means no expiry)")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func newKeyRotateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rotate <key-id>",
		Short: "Rotate a key, minting a successor and deprecating the original",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			svc, cleanup, err := newRotationService(ctx)
			if err != nil {
				return err
			}
			defer cleanup()

			successor, err := svc.Rotate(ctx, args[0])
			if err != nil {
				return err
			}
			fmt.Printf("id:     %s\n", successor.ID)
			fmt.Printf("secret: %s\n", successor.Secret)
			if successor.ExpiresAt != nil {
				fmt.Printf("expires: %s\n", successor.ExpiresAt.Format(time.RFC3339))
			}
			fmt.Printf("the old key keeps working through its transition window\n")
			return nil
		},
	}
	return cmd
}

func newKeyDeactivateCmd() *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:   "deactivate <key-id> [key-id...]",
		Short: "Deactivate one or more keys",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			svc, cleanup, err := newRotationService(ctx)
			if err != nil {
				return err
			}
			defer cleanup()

			if len(args) == 1 {
				if err := svc.Deactivate(ctx, args[0], reason); err != nil {
					return err
				}
				fmt.Println("deactivated 1 key")
				return nil
			}
			n, err := svc.DeactivateBatch(ctx, args, reason)
			if err != nil {
				return err
			}
			fmt.Printf("deactivated %d of %d keys\n", n, len(args))
			return nil
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "operator request", "reason recorded in the audit log")
	return cmd
}

func newKeyReactivateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reactivate <key-id>",
		Short: "Reactivate an inactive key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			svc, cleanup, err := newRotationService(ctx)
			if err != nil {
				return err
			}
			defer cleanup()

			if err := svc.Reactivate(ctx, args[0]); err != nil {
				return err
			}
			fmt.Println("reactivated")
			return nil
		},
	}
}
