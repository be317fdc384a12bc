package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/ManuelReschke/PayFox/internal/pkg/env"
	"github.com/ManuelReschke/PayFox/internal/pkg/middleware"
	"github.com/ManuelReschke/PayFox/internal/pkg/webhook"
)

func signCmd() *cobra.Command {
	var secret, file string
	var at int64

	cmd := &cobra.Command{
		Use:   "sign",
		Short: "Print a Signature header for a webhook body",
		Long: `Sign a webhook body the way the gateway does, for local testing:

  billingctl sign --file event.json | xargs -I{} curl -H "Signature: {}" --data @event.json localhost:4000/webhooks/gateway`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if secret == "" {
				env.SetupEnvFile()
				secret = env.GetEnv("WEBHOOK_SIGNING_SECRET", "")
			}
			if secret == "" {
				return errors.New("no signing secret: pass --secret or set WEBHOOK_SIGNING_SECRET")
			}

			var body []byte
			var err error
			if file == "" || file == "-" {
				body, err = io.ReadAll(cmd.InOrStdin())
			} else {
				body, err = os.ReadFile(file)
			}
			if err != nil {
				return fmt.Errorf("read body: %w", err)
			}

			ts := time.Now()
			if at > 0 {
				ts = time.Unix(at, 0)
			}
			fmt.Fprintln(cmd.OutOrStdout(), webhook.Sign(body, secret, ts))
			return nil
		},
	}

	cmd.Flags().StringVar(&secret, "secret", "", "Signing secret (default WEBHOOK_SIGNING_SECRET)")
	cmd.Flags().StringVarP(&file, "file", "f", "", "Body file, - or empty for stdin")
	cmd.Flags().Int64Var(&at, "timestamp", 0, "Unix timestamp to sign with (default now)")
	return cmd
}

func tokenCmd() *cobra.Command {
	var secret, operator string
	var ttl time.Duration

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue an operator bearer token for the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if secret == "" {
				env.SetupEnvFile()
				secret = env.GetEnv("OPERATOR_JWT_SECRET", "")
			}
			token, err := middleware.SignOperatorToken(secret, operator, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}

	cmd.Flags().StringVar(&secret, "secret", "", "JWT secret (default OPERATOR_JWT_SECRET)")
	cmd.Flags().StringVar(&operator, "operator", "billingctl", "Operator name recorded in logs")
	cmd.Flags().DurationVar(&ttl, "ttl", time.Hour, "Token lifetime")
	return cmd
}
