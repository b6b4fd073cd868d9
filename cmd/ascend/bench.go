package main

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/ascending/ascend/internal/loadtest"
	"github.com/ascending/ascend/internal/ui"
)

var benchCmd = &cobra.Command{
	Use:     "bench",
	GroupID: "advanced",
	Short:   "Load-test a session with concurrent peers",
	Long: `Start an in-process session holding a generated notebook and have many
peers sync edited versions of it concurrently, polling its status between
syncs. Reports request latency, then checks that one final sync still brings
the notebook to an exact known state.

Examples:
  # 10 peers, 5 rounds each, over in-memory pipes
  ascend bench

  # 50 peers over real WebSocket connections
  ascend bench --peers 50 --network

  # Output statistics as JSON
  ascend bench --json`,
	RunE: runBench,
}

func init() {
	defaults := loadtest.DefaultConfig()
	benchCmd.Flags().Int("peers", defaults.Peers, "Number of concurrent peers")
	benchCmd.Flags().Int("rounds", defaults.Rounds, "Syncs per peer")
	benchCmd.Flags().Int("cells", defaults.Cells, "Cells in the generated notebook")
	benchCmd.Flags().Int("edits", defaults.Edits, "Random edits per synced version")
	benchCmd.Flags().Int64("seed", defaults.Seed, "Random seed")
	benchCmd.Flags().Bool("network", false, "Connect peers over WebSocket")
	benchCmd.Flags().Bool("json", false, "Output results as JSON")

	rootCmd.AddCommand(benchCmd)
}

func runBench(cmd *cobra.Command, args []string) error {
	config := loadtest.DefaultConfig()
	config.Peers, _ = cmd.Flags().GetInt("peers")
	config.Rounds, _ = cmd.Flags().GetInt("rounds")
	config.Cells, _ = cmd.Flags().GetInt("cells")
	config.Edits, _ = cmd.Flags().GetInt("edits")
	config.Seed, _ = cmd.Flags().GetInt64("seed")
	config.Network, _ = cmd.Flags().GetBool("network")
	jsonOutput, _ := cmd.Flags().GetBool("json")

	if config.Cells < 0 || config.Edits < 0 {
		return fmt.Errorf("--cells and --edits must not be negative")
	}

	h, err := loadtest.NewHarness(config)
	if err != nil {
		return err
	}
	defer h.Close()

	ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Minute)
	defer cancel()

	if !jsonOutput {
		fmt.Println("Running session load test...")
		fmt.Printf("Configuration: %d peers, %d rounds/peer, %d cells, %d edits/version\n\n",
			config.Peers, config.Rounds, config.Cells, config.Edits)
	}

	start := time.Now()
	stats, err := h.RunConcurrentSyncs(ctx)
	if err != nil {
		return err
	}
	elapsed := time.Since(start)

	want := loadtest.Mutate(loadtest.GenerateCells(config.Cells, config.Seed), rand.New(rand.NewSource(config.Seed)), config.Edits)
	convergeErr := h.VerifyConvergence(ctx, want)

	if jsonOutput {
		out := map[string]any{
			"elapsed_ms": elapsed.Milliseconds(),
			"stats":      stats,
			"session":    h.Session.Stats(),
			"converged":  convergeErr == nil,
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(out); err != nil {
			return err
		}
	} else {
		stats.PrintStats(os.Stdout)
		fmt.Printf("\nElapsed: %v\n", elapsed.Round(time.Millisecond))
		s := h.Session.Stats()
		fmt.Printf("Commands: %d processed, %d failed\n\n", s.Processed, s.Failed)
		if convergeErr == nil {
			fmt.Printf("%s Final sync converged\n", ui.RenderPass("✓"))
		}
	}

	if convergeErr != nil {
		return convergeErr
	}
	return nil
}
