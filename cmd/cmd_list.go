// cmd_list.go - List Command
// Hauptfunktionen: newListCmd, truncateValue
package cmd

import (
	"fmt"
	"strings"

	"github.com/mattn/go-runewidth"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/lemonade-sdk/lemonade/api"
)

// maxColumnWidth begrenzt Checkpoint-Spalten, HF-Repo-Namen werden lang
const maxColumnWidth = 48

// truncateValue kuerzt einen Wert auf die Spaltenbreite, mit Ellipse
func truncateValue(v string) string {
	if runewidth.StringWidth(v) <= maxColumnWidth {
		return v
	}
	return runewidth.Truncate(v, maxColumnWidth, "...")
}

// newListCmd - Listet Models des Servers tabellarisch auf
func newListCmd() *cobra.Command {
	var showAll bool

	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List models",
		Args:    cobra.ExactArgs(0),
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, err := api.ClientFromEnvironment()
			if err != nil {
				return err
			}

			resp, err := client.List(cmd.Context(), showAll)
			if err != nil {
				return err
			}

			table := tablewriter.NewWriter(cmd.OutOrStdout())
			table.SetHeader([]string{"NAME", "RECIPE", "CHECKPOINT", "SIZE", "DOWNLOADED", "LABELS"})
			table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
			table.SetAlignment(tablewriter.ALIGN_LEFT)
			table.SetHeaderLine(false)
			table.SetBorder(false)
			table.SetNoWhiteSpace(true)
			table.SetTablePadding("    ")

			for _, m := range resp.Data {
				size := ""
				if m.Size > 0 {
					size = fmt.Sprintf("%.1f GB", m.Size)
				}
				downloaded := "no"
				if m.Downloaded {
					downloaded = "yes"
				}
				table.Append([]string{
					m.ID,
					m.Recipe,
					truncateValue(m.Checkpoint),
					size,
					downloaded,
					strings.Join(m.Labels, ","),
				})
			}

			table.Render()
			return nil
		},
	}

	cmd.Flags().BoolVarP(&showAll, "all", "a", false, "Include models that are not downloaded yet")
	return cmd
}
