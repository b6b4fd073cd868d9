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

	"github.com/ascending/ascend/internal/nbformat"
	"github.com/ascending/ascend/internal/notebook"
	"github.com/ascending/ascend/internal/session"
	"github.com/ascending/ascend/internal/transport"
	"github.com/ascending/ascend/internal/ui"
)

var serveCmd = &cobra.Command{
	Use:     "serve NOTEBOOK",
	GroupID: "session",
	Short:   "Host a live session for a synced notebook",
	Long: `Load NOTEBOOK (name.sync.ipynb, or its name.sync.py script) and host it as a
live session.

Peers connect over WebSocket and push merges, edits and execution requests.
The session registers itself so peers find it by script path, and writes the
notebook back to disk whenever it changed.

Endpoints:
  ws://HOST:PORT/ws       command channel
  http://HOST:PORT/health session status (JSON)`,
	Args: cobra.ExactArgs(1),
	RunE: runServe,
}

func init() {
	serveCmd.Flags().Duration("autosave", 2*time.Second, "interval between notebook saves (0 disables)")
	serveCmd.Flags().Bool("no-register", false, "do not record the session in the registry")
	rootCmd.AddCommand(serveCmd)
}

type serveHealth struct {
	Notebook string        `json:"notebook"`
	Cells    int           `json:"cells"`
	Stats    session.Stats `json:"stats"`
}

func runServe(cmd *cobra.Command, args []string) error {
	autosave, _ := cmd.Flags().GetDuration("autosave")
	noRegister, _ := cmd.Flags().GetBool("no-register")

	nbPath, err := filepath.Abs(nbformat.NotebookPath(args[0], cfg.Sync.Extension))
	if err != nil {
		return fmt.Errorf("failed to resolve %s: %w", args[0], err)
	}

	doc, err := nbformat.ReadNotebook(nbPath)
	if errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("%s not found (create it with 'ascend pair')", nbPath)
	}
	if err != nil {
		return err
	}

	host := notebook.NewMemoryHost(doc.Cells)
	store := notebook.NewStore(host, notebook.NewLogKernel(newLogger("kernel")), newLogger("store"))
	store.SetMaxCells(cfg.Sync.MaxCells)
	sess := session.New(store, session.Config{Logger: newLogger("session")})

	server := transport.NewServer(sess.Serve, &transport.Config{
		Addr: cfg.Server.Addr(),
		Health: func() any {
			return serveHealth{Notebook: nbPath, Cells: host.Len(), Stats: sess.Stats()}
		},
		Logger: newLogger("transport"),
	})

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := server.Start(); err != nil {
		return err
	}

	if !noRegister {
		reg, err := openRegistry(ctx)
		if err != nil {
			_ = server.Stop()
			return err
		}
		defer reg.Close()

		if err := reg.Register(ctx, nbPath, server.Addr()); err != nil {
			_ = server.Stop()
			return err
		}
		defer func() {
			// ctx is already cancelled here.
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := reg.Unregister(ctx, nbPath); err != nil {
				fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
			}
		}()
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = sess.Run(ctx)
	}()

	save := func() {
		if !host.Dirty() {
			return
		}
		// Mark first: an edit racing the write dirties the host again and is
		// picked up by the next save.
		host.MarkClean()
		out := nbformat.Document{Metadata: doc.Metadata, Cells: host.Cells()}
		if err := nbformat.WriteNotebook(nbPath, out); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to save notebook: %v\n", err)
		}
	}

	fmt.Printf("%s Serving %s\n", ui.RenderAccent("▶"), nbPath)
	fmt.Printf("   Cells: %d\n", host.Len())
	fmt.Printf("   Session: %s\n", sess.ID)
	fmt.Printf("   WebSocket: %s\n", server.URL())
	fmt.Printf("   Health: http://%s/health\n", server.Addr())
	fmt.Println("\nPress Ctrl+C to stop...")

	var tick <-chan time.Time
	if autosave > 0 {
		ticker := time.NewTicker(autosave)
		defer ticker.Stop()
		tick = ticker.C
	}

loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case <-tick:
			save()
		}
	}

	fmt.Println("\nShutting down session...")
	if err := server.Stop(); err != nil {
		fmt.Fprintf(os.Stderr, "Error during shutdown: %v\n", err)
	}
	<-done
	save()

	fmt.Printf("%s Session stopped\n", ui.RenderPass("✓"))
	return nil
}
