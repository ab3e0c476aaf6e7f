package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
)

func newReportCmd() *cobra.Command {
	reportCmd := &cobra.Command{
		Use:   "report",
		Short: "Key hygiene reports",
	}
	reportCmd.AddCommand(newComplianceCmd(), newExpiringCmd(), newUnusedCmd())
	return reportCmd
}

func newComplianceCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "compliance",
		Short: "Aggregate lifecycle counts for the whole key population",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			svc, cleanup, err := newRotationService(ctx)
			if err != nil {
				return err
			}
			defer cleanup()

			summary, err := svc.Compliance(ctx)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(summary)
		},
	}
}

func newExpiringCmd() *cobra.Command {
	var days int
	cmd := &cobra.Command{
		Use:   "expiring",
		Short: "List keys whose expiry falls within the coming window",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			svc, cleanup, err := newRotationService(ctx)
			if err != nil {
				return err
			}
			defer cleanup()

			keys, err := svc.KeysExpiringWithin(ctx, days)
			if err != nil {
				return err
			}
			for _, k := range keys {
				expires := "never"
				if k.ExpiresAt != nil {
					expires = k.ExpiresAt.Format(time.RFC3339)
				}
				fmt.Printf("%s  %-5s  %-30s  expires %s\n", k.ID, k.KeyType, k.Name, expires)
			}
			fmt.Printf("%d keys expiring within %d days\n", len(keys), days)
			return nil
		},
	}
	cmd.Flags().IntVar(&days, "days", 30, "look-ahead window in days")
	return cmd
}

func newUnusedCmd() *cobra.Command {
	var days int
	cmd := &cobra.Command{
		Use:   "unused",
		Short: "List active keys not seen on the wire recently",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			svc, cleanup, err := newRotationService(ctx)
			if err != nil {
				return err
			}
			defer cleanup()

			keys, err := svc.KeysUnusedFor(ctx, days)
			if err != nil {
				return err
			}
			for _, k := range keys {
				lastUsed := "never"
				if k.LastUsedAt != nil {
					lastUsed = k.LastUsedAt.Format(time.RFC3339)
				}
				fmt.Printf("%s  %-5s  %-30s  last used %s\n", k.ID, k.KeyType, k.Name, lastUsed)
			}
			fmt.Printf("%d keys unused for %d days\n", len(keys), days)
			return nil
		},
	}
	cmd.Flags().IntVar(&days, "days", 90, "inactivity window in days")
	return cmd
}
