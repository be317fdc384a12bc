package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/ManuelReschke/PayFox/internal/pkg/bootstrap"
	"github.com/ManuelReschke/PayFox/internal/pkg/config"
	"github.com/ManuelReschke/PayFox/internal/pkg/env"
)

var Version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "billingctl",
		Short:         "Operator tool for billing events and affiliate payouts",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(payoutsCmd())
	rootCmd.AddCommand(eventsCmd())
	rootCmd.AddCommand(signCmd())
	rootCmd.AddCommand(tokenCmd())
	return rootCmd
}

// withContainer loads the environment, wires the services and runs fn. The
// background workers stay off; commands run their operation inline.
func withContainer(cmd *cobra.Command, fn func(ctx context.Context, c *bootstrap.Container) error) error {
	env.SetupEnvFile()
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("configuration: %w", err)
	}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	c, err := bootstrap.New(ctx, cfg)
	if err != nil {
		return err
	}
	defer c.Close()
	return fn(ctx, c)
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
