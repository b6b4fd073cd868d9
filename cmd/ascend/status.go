package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ascending/ascend/internal/ui"
)

var statusCmd = &cobra.Command{
	Use:     "status SCRIPT",
	GroupID: "peer",
	Short:   "Show the cells of the live notebook",
	Long: `Ask the live session paired with SCRIPT for its cells and print them,
one line per cell. Outputs are not included.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		asJSON, _ := cmd.Flags().GetBool("json")

		c, nbPath, err := connect(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		defer c.Close()

		cells, err := c.Status(cmd.Context())
		if err != nil {
			return err
		}

		if asJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(cells)
		}

		fmt.Printf("\n%s %s\n\n", ui.RenderAccent("📓"), nbPath)
		fmt.Print(ui.CellTable(cells, ui.Width()))
		fmt.Println()
		return nil
	},
}

func init() {
	statusCmd.Flags().Bool("json", false, "print cells as JSON")
	rootCmd.AddCommand(statusCmd)
}
