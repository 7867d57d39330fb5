// cmd_recipes.go - Recipes Command
// Hauptfunktionen: newRecipesCmd
package cmd

import (
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/lemonade-sdk/lemonade/catalog"
)

// newRecipesCmd - Listet die unterstuetzten Engine-Recipes auf
func newRecipesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "recipes",
		Short: "List supported engine recipes",
		Args:  cobra.ExactArgs(0),
		RunE: func(cmd *cobra.Command, _ []string) error {
			table := tablewriter.NewWriter(cmd.OutOrStdout())
			table.SetHeader([]string{"RECIPE", "ENGINE", "DESCRIPTION"})
			table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
			table.SetAlignment(tablewriter.ALIGN_LEFT)
			table.SetHeaderLine(false)
			table.SetBorder(false)
			table.SetNoWhiteSpace(true)
			table.SetTablePadding("    ")

			for _, r := range catalog.Recipes() {
				table.Append([]string{r.Name, r.Engine, r.Description})
			}

			table.Render()
			return nil
		},
	}
}
