// cmd_status.go - Status und Stop Commands
// Hauptfunktionen: newStatusCmd, newStopCmd
package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/lemonade-sdk/lemonade/api"
	"github.com/lemonade-sdk/lemonade/envconfig"
)

// newStatusCmd - Prueft ob ein Server erreichbar ist
func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Check if server is running",
		Args:  cobra.ExactArgs(0),
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, err := api.ClientFromEnvironment()
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Second)
			defer cancel()

			if err := client.Live(ctx); err != nil {
				fmt.Fprintln(cmd.OutOrStdout(), "Server is not running")
				return fmt.Errorf("no server reachable on port %d", envconfig.Port())
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Server is running on port %d\n", envconfig.Port())
			return nil
		},
	}
}

// newStopCmd - Faehrt einen laufenden Server herunter
func newStopCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Stop a running server",
		Args:  cobra.ExactArgs(0),
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, err := api.ClientFromEnvironment()
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Second)
			defer cancel()

			if err := client.Live(ctx); err != nil {
				fmt.Fprintln(cmd.OutOrStdout(), "Server is not running")
				return nil
			}

			if err := client.Shutdown(ctx); err != nil {
				return fmt.Errorf("shutdown request failed: %w", err)
			}

			// Auf den tatsaechlichen Exit warten, /shutdown antwortet vor
			// dem Stoppen.
			deadline := time.Now().Add(15 * time.Second)
			for time.Now().Before(deadline) {
				pingCtx, pingCancel := context.WithTimeout(cmd.Context(), time.Second)
				err := client.Live(pingCtx)
				pingCancel()
				if err != nil {
					fmt.Fprintln(cmd.OutOrStdout(), "Server stopped")
					return nil
				}
				time.Sleep(250 * time.Millisecond)
			}

			return fmt.Errorf("server did not stop within 15s")
		},
	}
}
