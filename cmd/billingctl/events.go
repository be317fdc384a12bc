package main

import (
	"context"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/ManuelReschke/PayFox/app/models"
	"github.com/ManuelReschke/PayFox/internal/pkg/bootstrap"
)

func eventsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "events",
		Short: "Inspect and replay stored webhook events",
	}
	cmd.AddCommand(eventsReplayCmd(), eventsParkedCmd())
	return cmd
}

func eventsReplayCmd() *cobra.Command {
	var dedupKey string

	cmd := &cobra.Command{
		Use:   "replay [event-id]",
		Short: "Re-dispatch a stored event from its persisted payload",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withContainer(cmd, func(ctx context.Context, c *bootstrap.Container) error {
				res, err := c.Dispatcher.Replay(ctx, args[0], dedupKey)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), res)
			})
		},
	}

	cmd.Flags().StringVar(&dedupKey, "dedup-key", "", "Dedup key; a new key forces the handler to run again")
	return cmd
}

func eventsParkedCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "parked",
		Short: "List events parked after repeated handler failures",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withContainer(cmd, func(ctx context.Context, c *bootstrap.Container) error {
				list, err := c.Repos.WebhookEvent.ListByStatus(ctx, models.WebhookStatusParked, limit)
				if err != nil {
					return err
				}
				return writeEventTable(cmd, list)
			})
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 50, "Maximum number of events")
	return cmd
}

func writeEventTable(cmd *cobra.Command, list []models.WebhookEvent) error {
	if len(list) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No parked events")
		return nil
	}
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "EVENT\tTYPE\tATTEMPTS\tLAST ERROR")
	for _, e := range list {
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\n", e.ProviderEventID, e.EventType, e.Attempts, firstLine(e.LastError))
	}
	return w.Flush()
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
