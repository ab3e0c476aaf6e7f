package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

func newSweepCmd() *cobra.Command {
	sweepCmd := &cobra.Command{
		Use:   "sweep",
		Short: "Run lifecycle sweeps on demand",
	}

	sweepCmd.AddCommand(&cobra.Command{
		Use:   "expired",
		Short: "Tombstone keys whose expiry has passed",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			svc, cleanup, err := newRotationService(ctx)
			if err != nil {
				return err
			}
			defer cleanup()

			n, err := svc.CleanupExpiredKeys(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("tombstoned %d expired keys\n", n)
			return nil
		},
	})

	sweepCmd.AddCommand(&cobra.Command{
		Use:   "deprecated",
		Short: "Deactivate keys whose transition window has closed",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			svc, cleanup, err := newRotationService(ctx)
			if err != nil {
				return err
			}
			defer cleanup()

			n, err := svc.InvalidateDeprecatedKeys(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("deactivated %d deprecated keys\n", n)
			return nil
		},
	})

	return sweepCmd
}
