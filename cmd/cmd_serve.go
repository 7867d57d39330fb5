// cmd_serve.go - Serve Command
// Hauptfunktionen: newServeCmd, runServe
package cmd

import (
	"fmt"
	"net"
	"os"

	"github.com/spf13/cobra"

	"github.com/lemonade-sdk/lemonade/envconfig"
	"github.com/lemonade-sdk/lemonade/server"
)

// newServeCmd - Startet den Lemonade-Server im Vordergrund
func newServeCmd() *cobra.Command {
	var (
		host     string
		port     int
		logLevel string
		llamacpp string
		ctxSize  int
		noTray   bool
	)

	cmd := &cobra.Command{
		Use:     "serve",
		Aliases: []string{"start"},
		Short:   "Start lemonade server",
		Args:    cobra.ExactArgs(0),
		RunE: func(cmd *cobra.Command, _ []string) error {
			// Flags gewinnen ueber Environment; envconfig liest die
			// Variablen bei jedem Zugriff neu.
			if cmd.Flags().Changed("host") {
				os.Setenv("LEMONADE_HOST", host)
			}
			if cmd.Flags().Changed("port") {
				os.Setenv("LEMONADE_PORT", fmt.Sprintf("%d", port))
			}
			if cmd.Flags().Changed("log-level") {
				os.Setenv("LEMONADE_LOG_LEVEL", logLevel)
			}
			if cmd.Flags().Changed("llamacpp") {
				os.Setenv("LEMONADE_LLAMACPP", llamacpp)
			}
			if cmd.Flags().Changed("ctx-size") {
				os.Setenv("LEMONADE_CTX_SIZE", fmt.Sprintf("%d", ctxSize))
			}

			ln, err := net.Listen("tcp", envconfig.Host().Host)
			if err != nil {
				return fmt.Errorf("could not listen on %s: %w", envconfig.Host().Host, err)
			}

			return server.Serve(ln)
		},
	}

	cmd.Flags().StringVar(&host, "host", "0.0.0.0", "Bind address")
	cmd.Flags().IntVar(&port, "port", 8000, "Port to listen on")
	cmd.Flags().StringVar(&logLevel, "log-level", "info", "Log level: critical, error, warning, info, debug, trace")
	cmd.Flags().StringVar(&llamacpp, "llamacpp", "", "llama.cpp backend: vulkan, rocm, metal or cpu")
	cmd.Flags().IntVar(&ctxSize, "ctx-size", 0, "Default context length")

	// Der System-Tray lebt in der Desktop-Distribution; das Flag bleibt
	// fuer Skript-Kompatibilitaet akzeptiert.
	cmd.Flags().BoolVar(&noTray, "no-tray", false, "Run without system tray")
	cmd.Flags().MarkHidden("no-tray") //nolint:errcheck

	return cmd
}
