package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/ascending/ascend/internal/client"
	"github.com/ascending/ascend/internal/config"
	"github.com/ascending/ascend/internal/logging"
	"github.com/ascending/ascend/internal/registry"
	"github.com/ascending/ascend/internal/transport"
)

var (
	configFile string

	v      = config.New()
	cfg    = config.Default()
	logOut io.WriteCloser
)

var rootCmd = &cobra.Command{
	Use:   "ascend",
	Short: "Keep .sync.py scripts and live notebooks in step",
	Long: `ascend pairs a py:percent script (name.sync.py) with a notebook
(name.sync.ipynb). A live session hosts the notebook; peers push script edits
into it, run cells and read it back.

  ascend pair analysis            # create analysis.sync.py and .sync.ipynb
  ascend serve analysis.sync.ipynb
  ascend watch .                  # sync every saved *.sync.py`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := config.Load(v, configFile)
		if err != nil {
			return err
		}
		cfg = loaded

		logOut = logging.Output(logging.Config{
			File:       cfg.Log.File,
			MaxSizeMB:  cfg.Log.MaxSizeMB,
			MaxBackups: cfg.Log.MaxBackups,
			MaxAgeDays: cfg.Log.MaxAgeDays,
		})
		return nil
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		if logOut != nil {
			return logOut.Close()
		}
		return nil
	},
}

func init() {
	rootCmd.AddGroup(
		&cobra.Group{ID: "session", Title: "Live sessions:"},
		&cobra.Group{ID: "peer", Title: "Peer commands:"},
		&cobra.Group{ID: "setup", Title: "Setup:"},
		&cobra.Group{ID: "advanced", Title: "Advanced:"},
	)

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&configFile, "config", "", "config file (default: ./ascend.toml or ~/.config/ascend/ascend.toml)")
	flags.String("host", config.DefaultHost, "session host")
	flags.IntP("port", "p", config.DefaultPort, "session port")
	flags.String("ext", "sync", "pair infix: <name>.<ext>.py")
	flags.String("log-file", "", "log to a rotated file instead of stderr")

	for key, flag := range map[string]string{
		"server.host":    "host",
		"server.port":    "port",
		"sync.extension": "ext",
		"log.file":       "log-file",
	} {
		if err := v.BindPFlag(key, flags.Lookup(flag)); err != nil {
			panic(err)
		}
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// newLogger returns a component logger on the shared output.
func newLogger(component string) *log.Logger {
	if logOut == nil {
		return logging.New(os.Stderr, component)
	}
	return logging.New(logOut, component)
}

func openRegistry(ctx context.Context) (registry.Store, error) {
	store, err := registry.Open(ctx, registry.Config{
		Driver:   cfg.Registry.Driver,
		Path:     cfg.Registry.Path,
		RedisURL: cfg.Registry.RedisURL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open registry: %w", err)
	}
	return store, nil
}

// connect resolves the live session for path and dials it.
func connect(ctx context.Context, path string) (*client.Client, string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, "", fmt.Errorf("failed to resolve %s: %w", path, err)
	}

	reg, err := openRegistry(ctx)
	if err != nil {
		return nil, "", err
	}
	defer reg.Close()

	nbPath, addr, err := registry.Resolve(ctx, reg, abs, cfg.Sync.Extension)
	if err != nil {
		return nil, "", err
	}

	conn, err := transport.Dial(ctx, transport.URL(addr))
	if err != nil {
		return nil, "", err
	}

	return client.New(conn, client.Config{
		MergeTimeout: cfg.Sync.MergeTimeout,
		Logger:       newLogger("client"),
	}), nbPath, nil
}
