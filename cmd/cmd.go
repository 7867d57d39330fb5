// cmd.go - Haupt-CLI Setup und Root Command
// Hauptfunktionen: NewCLI, appendEnvDocs
package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"runtime"

	"github.com/containerd/console"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/lemonade-sdk/lemonade/envconfig"
	"github.com/lemonade-sdk/lemonade/logutil"
	"github.com/lemonade-sdk/lemonade/version"
)

// appendEnvDocs - Fuegt Umgebungsvariablen-Dokumentation zum Command hinzu
func appendEnvDocs(cmd *cobra.Command, envs []envconfig.EnvVar) {
	if len(envs) == 0 {
		return
	}

	envUsage := `
Environment Variables:
`
	for _, e := range envs {
		envUsage += fmt.Sprintf("      %-28s   %s\n", e.Name, e.Description)
	}

	cmd.SetUsageTemplate(cmd.UsageTemplate() + envUsage)
}

func versionHandler(cmd *cobra.Command, _ []string) {
	fmt.Fprintf(cmd.OutOrStdout(), "lemonade version %s\n", version.Version)
}

// NewCLI - Erstellt das Haupt-CLI mit allen Commands
func NewCLI() *cobra.Command {
	cobra.EnableCommandSorting = false

	if runtime.GOOS == "windows" && term.IsTerminal(int(os.Stdout.Fd())) {
		console.ConsoleFromFile(os.Stdin) //nolint:errcheck
	}

	slog.SetDefault(logutil.NewConsoleLogger(os.Stderr, envconfig.LogLevel()))

	rootCmd := &cobra.Command{
		Use:           "lemonade",
		Short:         "Local LLM server with OpenAI and Ollama compatible APIs",
		SilenceUsage:  true,
		SilenceErrors: true,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		Run: func(cmd *cobra.Command, args []string) {
			if version, _ := cmd.Flags().GetBool("version"); version {
				versionHandler(cmd, args)
				return
			}

			cmd.Print(cmd.UsageString())
		},
	}

	rootCmd.Flags().BoolP("version", "v", false, "Show version information")

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run:   versionHandler,
	}

	serveCmd := newServeCmd()
	statusCmd := newStatusCmd()
	stopCmd := newStopCmd()
	pullCmd := newPullCmd()
	listCmd := newListCmd()
	deleteCmd := newDeleteCmd()
	runCmd := newRunCmd()
	recipesCmd := newRecipesCmd()

	envVars := envconfig.AsMap()

	appendEnvDocs(serveCmd, []envconfig.EnvVar{
		envVars["LEMONADE_HOST"],
		envVars["LEMONADE_PORT"],
		envVars["LEMONADE_LOG_LEVEL"],
		envVars["LEMONADE_CACHE_DIR"],
		envVars["LEMONADE_API_KEY"],
		envVars["LEMONADE_LLAMACPP"],
		envVars["LEMONADE_CTX_SIZE"],
		envVars["LEMONADE_KEEP_ALIVE"],
		envVars["LEMONADE_LOAD_TIMEOUT"],
		envVars["LEMONADE_MAX_LOADED_MODELS"],
	})
	for _, cmd := range []*cobra.Command{statusCmd, stopCmd, pullCmd, listCmd, deleteCmd, runCmd} {
		appendEnvDocs(cmd, []envconfig.EnvVar{envVars["LEMONADE_HOST"], envVars["LEMONADE_PORT"]})
	}

	rootCmd.AddCommand(
		versionCmd,
		serveCmd,
		statusCmd,
		stopCmd,
		pullCmd,
		listCmd,
		deleteCmd,
		runCmd,
		recipesCmd,
	)

	return rootCmd
}
