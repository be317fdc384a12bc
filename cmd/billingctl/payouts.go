package main

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/ManuelReschke/PayFox/internal/pkg/bootstrap"
)

func payoutsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "payouts",
		Short: "Run, issue and retry affiliate payouts",
	}
	cmd.AddCommand(payoutsRunCmd(), payoutsPayCmd(), payoutsRetryCmd())
	return cmd
}

func payoutsRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the scheduled payout batch now",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withContainer(cmd, func(ctx context.Context, c *bootstrap.Container) error {
				summary, err := c.Payouts.RunScheduledPayouts(ctx)
				if summary != nil {
					if perr := printJSON(cmd.OutOrStdout(), summary); perr != nil {
						return perr
					}
				}
				return err
			})
		},
	}
}

func payoutsPayCmd() *cobra.Command {
	var force bool
	var reason string

	cmd := &cobra.Command{
		Use:   "pay [affiliate-id]",
		Short: "Pay one affiliate",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseUint(args[0], 10, 64)
			if err != nil || id == 0 {
				return fmt.Errorf("invalid affiliate id %q", args[0])
			}
			if force && reason == "" {
				return errors.New("--reason is required with --force")
			}
			return withContainer(cmd, func(ctx context.Context, c *bootstrap.Container) error {
				p, err := c.Payouts.PayAffiliate(ctx, uint(id), force)
				if p != nil {
					if perr := printJSON(cmd.OutOrStdout(), p); perr != nil {
						return perr
					}
				}
				return err
			})
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Bypass eligibility and fraud screening")
	cmd.Flags().StringVar(&reason, "reason", "", "Why the payout is forced")
	return cmd
}

func payoutsRetryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "retry [payout-id]",
		Short: "Retry a failed payout",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withContainer(cmd, func(ctx context.Context, c *bootstrap.Container) error {
				p, err := c.Payouts.RetryFailedPayout(ctx, args[0])
				if p != nil {
					if perr := printJSON(cmd.OutOrStdout(), p); perr != nil {
						return perr
					}
				}
				return err
			})
		},
	}
}
