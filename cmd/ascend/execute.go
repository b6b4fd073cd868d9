package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ascending/ascend/internal/nbformat"
	"github.com/ascending/ascend/internal/ui"
)

var executeCmd = &cobra.Command{
	Use:     "execute SCRIPT",
	GroupID: "peer",
	Short:   "Run one cell of the live notebook",
	Long: `Run a cell of the notebook paired with SCRIPT.

The cell is chosen with --cell, or with --line: the 0-based line of SCRIPT the
cursor is on, mapped to the cell that contains it. The request returns as soon
as it is delivered; it does not wait for the kernel.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		index, err := targetCell(cmd, args[0])
		if err != nil {
			return err
		}

		c, _, err := connect(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		defer c.Close()

		if err := c.Execute(cmd.Context(), index); err != nil {
			return err
		}
		fmt.Printf("%s Execute cell %d\n", ui.RenderPass("✓"), index)
		return nil
	},
}

var executeAllCmd = &cobra.Command{
	Use:     "execute-all SCRIPT",
	GroupID: "peer",
	Short:   "Run every cell of the live notebook",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, _, err := connect(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		defer c.Close()

		if err := c.ExecuteAll(cmd.Context()); err != nil {
			return err
		}
		fmt.Printf("%s Execute all\n", ui.RenderPass("✓"))
		return nil
	},
}

var restartCmd = &cobra.Command{
	Use:     "restart SCRIPT",
	GroupID: "peer",
	Short:   "Restart the live notebook's kernel",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, _, err := connect(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		defer c.Close()

		if err := c.Restart(cmd.Context()); err != nil {
			return err
		}
		fmt.Printf("%s Restart requested\n", ui.RenderPass("✓"))
		return nil
	},
}

func init() {
	executeCmd.Flags().Int("cell", -1, "cell index")
	executeCmd.Flags().Int("line", -1, "0-based script line inside the cell")
	executeCmd.MarkFlagsMutuallyExclusive("cell", "line")
	executeCmd.MarkFlagsOneRequired("cell", "line")

	rootCmd.AddCommand(executeCmd)
	rootCmd.AddCommand(executeAllCmd)
	rootCmd.AddCommand(restartCmd)
}

func targetCell(cmd *cobra.Command, script string) (int, error) {
	if cmd.Flags().Changed("cell") {
		index, _ := cmd.Flags().GetInt("cell")
		if index < 0 {
			return 0, fmt.Errorf("invalid cell index %d", index)
		}
		return index, nil
	}

	line, _ := cmd.Flags().GetInt("line")
	data, err := os.ReadFile(script)
	if err != nil {
		return 0, fmt.Errorf("failed to read script: %w", err)
	}
	return nbformat.CellAt(string(data), line)
}
