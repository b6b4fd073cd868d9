package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ascending/ascend/internal/client"
	"github.com/ascending/ascend/internal/nbformat"
	"github.com/ascending/ascend/internal/registry"
	"github.com/ascending/ascend/internal/ui"
	"github.com/ascending/ascend/internal/watcher"
)

var syncCmd = &cobra.Command{
	Use:     "sync SCRIPT",
	GroupID: "peer",
	Short:   "Push a .sync.py script into its live notebook",
	Long: `Parse SCRIPT as py:percent and make the live notebook's cells match it.

Only the cells that differ are touched; outputs of unchanged cells survive.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		result, err := syncScript(ctx, args[0])
		if err != nil {
			return err
		}
		fmt.Printf("%s Synced %s in %v\n", ui.RenderPass("✓"), args[0], result.Duration.Round(time.Millisecond))
		fmt.Printf("   Cells: %d live, %d in script\n", result.LiveCells, result.ExternalCells)
		fmt.Printf("   Operations: %d\n", result.Operations)
		return nil
	},
}

var watchCmd = &cobra.Command{
	Use:     "watch [DIR...]",
	GroupID: "peer",
	Short:   "Sync every saved .sync.py script in DIRs",
	Long: `Watch DIRs (default: the current directory) and sync each *.sync.py script
to its live notebook after it is saved.

Subdirectories are not watched.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) == 0 {
			args = []string{"."}
		}

		ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		logger := newLogger("watcher")
		w, err := watcher.New(&watcher.Config{
			Extension: cfg.Sync.Extension,
			Debounce:  cfg.Sync.Debounce,
			Logger:    logger,
		}, func(path string) {
			result, err := syncScript(ctx, path)
			switch {
			case errors.Is(err, registry.ErrNotebookNotFound):
				logger.Printf("Warning: %v", err)
			case err != nil:
				logger.Printf("Sync failed: %v", err)
			default:
				fmt.Printf("%s %s (%d operations)\n", ui.RenderPass("✓"), filepath.Base(path), result.Operations)
			}
		})
		if err != nil {
			return err
		}

		if err := w.Start(args...); err != nil {
			_ = w.Stop()
			return err
		}

		fmt.Printf("%s Watching %v for *%s\n", ui.RenderAccent("👀"), args, nbformat.ScriptSuffix(cfg.Sync.Extension))
		fmt.Println("Press Ctrl+C to stop...")

		<-ctx.Done()
		return w.Stop()
	},
}

func init() {
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(watchCmd)
}

func syncScript(ctx context.Context, path string) (client.SyncResult, error) {
	if !nbformat.IsScript(path, cfg.Sync.Extension) {
		return client.SyncResult{}, fmt.Errorf("%s is not a %s script", path, nbformat.ScriptSuffix(cfg.Sync.Extension))
	}

	doc, err := nbformat.ReadScript(path)
	if err != nil {
		return client.SyncResult{}, err
	}

	c, nbPath, err := connect(ctx, path)
	if err != nil {
		return client.SyncResult{}, err
	}
	defer c.Close()

	return c.Sync(ctx, nbPath, doc.Cells)
}
