// cmd_pull.go - Pull und Delete Commands
// Hauptfunktionen: newPullCmd, newDeleteCmd
package cmd

import (
	"fmt"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/lemonade-sdk/lemonade/api"
)

// newPullCmd - Laedt ein Model herunter, mit Fortschrittsbalken pro Datei
func newPullCmd() *cobra.Command {
	var req api.PullRequest

	cmd := &cobra.Command{
		Use:     "pull MODEL",
		Aliases: []string{"install"},
		Short:   "Download a model",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req.ModelName = args[0]

			client, err := api.ClientFromEnvironment()
			if err != nil {
				return err
			}

			var bar *progressbar.ProgressBar
			currentFile := ""

			err = client.Pull(cmd.Context(), &req, func(p api.PullProgress) error {
				if p.File != "" && p.File != currentFile {
					if bar != nil {
						bar.Finish() //nolint:errcheck
					}
					currentFile = p.File
					bar = progressbar.DefaultBytes(
						int64(p.BytesTotal),
						fmt.Sprintf("pulling %s (%d/%d)", p.File, p.FileIndex, p.TotalFiles),
					)
				}
				if bar != nil {
					bar.Set64(int64(p.BytesDownloaded)) //nolint:errcheck
				}
				return nil
			})
			if err != nil {
				return err
			}

			if bar != nil {
				bar.Finish() //nolint:errcheck
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Installed %s\n", req.ModelName)
			return nil
		},
	}

	cmd.Flags().StringVar(&req.Checkpoint, "checkpoint", "", "Hugging Face checkpoint, org/repo or org/repo:variant")
	cmd.Flags().StringVar(&req.Recipe, "recipe", "", "Engine recipe for a new user model")
	cmd.Flags().StringVar(&req.Mmproj, "mmproj", "", "Multimodal projector file for vision models")
	cmd.Flags().BoolVar(&req.Reasoning, "reasoning", false, "Mark the model as a reasoning model")
	cmd.Flags().BoolVar(&req.Vision, "vision", false, "Mark the model as a vision model")
	cmd.Flags().BoolVar(&req.Embedding, "embedding", false, "Mark the model as an embedding model")
	cmd.Flags().BoolVar(&req.Reranking, "reranking", false, "Mark the model as a reranking model")
	cmd.Flags().BoolVar(&req.DoNotUpgrade, "do-not-upgrade", false, "Keep existing local files, skip the hub check")

	return cmd
}

// newDeleteCmd - Loescht die lokalen Dateien eines Models
func newDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "delete MODEL",
		Aliases: []string{"rm"},
		Short:   "Delete a model's local files",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := api.ClientFromEnvironment()
			if err != nil {
				return err
			}

			resp, err := client.Delete(cmd.Context(), &api.DeleteRequest{ModelName: args[0]})
			if err != nil {
				return err
			}

			fmt.Fprintln(cmd.OutOrStdout(), resp.Message)
			return nil
		},
	}
}
