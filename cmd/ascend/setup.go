package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/ascending/ascend/internal/config"
	"github.com/ascending/ascend/internal/nbformat"
	"github.com/ascending/ascend/internal/registry"
	"github.com/ascending/ascend/internal/ui"
)

var pairCmd = &cobra.Command{
	Use:     "pair BASE",
	GroupID: "setup",
	Short:   "Create a synced script and notebook pair",
	Long: `Create BASE.sync.py (a py:percent starter script) and BASE.sync.ipynb
(the matching notebook). Existing files are kept unless --force is given.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		force, _ := cmd.Flags().GetBool("force")

		if !force {
			existing, err := existingPair(args[0])
			if err != nil {
				return err
			}
			if existing != "" {
				overwrite, err := ui.Confirm(fmt.Sprintf("%s already exists. Overwrite the pair?", existing), false)
				if err != nil {
					return err
				}
				if !overwrite {
					return fmt.Errorf("%s already exists (use --force to overwrite)", existing)
				}
				force = true
			}
		}

		script, nb, err := nbformat.MakePair(args[0], cfg.Sync.Extension, force)
		if err != nil {
			return err
		}
		fmt.Printf("%s Created pair\n", ui.RenderPass("✓"))
		fmt.Printf("   Script: %s\n", script)
		fmt.Printf("   Notebook: %s\n", nb)
		return nil
	},
}

// existingPair returns the first half of the pair named base that exists.
func existingPair(base string) (string, error) {
	script, nb, err := nbformat.SyncPaths(base, cfg.Sync.Extension)
	if err != nil {
		return "", err
	}
	for _, p := range []string{script, nb} {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}
	return "", nil
}

var configCmd = &cobra.Command{
	Use:     "config",
	GroupID: "setup",
	Short:   "Inspect or create the configuration file",
}

var configInitCmd = &cobra.Command{
	Use:   "init [PATH]",
	Short: "Write the default configuration",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		force, _ := cmd.Flags().GetBool("force")

		path := config.FileName + ".toml"
		if len(args) == 1 {
			path = args[0]
		}
		if err := config.WriteDefault(path, force); err != nil {
			return err
		}
		fmt.Printf("%s Wrote %s\n", ui.RenderPass("✓"), path)
		return nil
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := config.Encode(cfg)
		if err != nil {
			return err
		}
		if used := v.ConfigFileUsed(); used != "" {
			fmt.Println(ui.RenderMuted("# " + used))
		}
		_, err = os.Stdout.Write(data)
		return err
	},
}

var registryCmd = &cobra.Command{
	Use:     "registry",
	GroupID: "session",
	Short:   "List registered live sessions",
	RunE: func(cmd *cobra.Command, args []string) error {
		reg, err := openRegistry(cmd.Context())
		if err != nil {
			return err
		}
		defer reg.Close()

		entries, err := reg.List(cmd.Context())
		if err != nil {
			return err
		}
		if len(entries) == 0 {
			fmt.Printf("\n%s No live sessions\n", ui.RenderWarn("⚠"))
			fmt.Printf("   Run 'ascend serve NOTEBOOK' to start one\n\n")
			return nil
		}

		fmt.Printf("\n%s Live sessions (%s)\n\n", ui.RenderAccent("📡"), cfg.Registry.Driver)
		for _, path := range registry.Sorted(entries) {
			rel := path
			if wd, err := os.Getwd(); err == nil {
				if r, err := filepath.Rel(wd, path); err == nil && len(r) < len(path) {
					rel = r
				}
			}
			fmt.Printf("  %s  %s\n", rel, ui.RenderMuted(entries[path]))
		}
		fmt.Println()
		return nil
	},
}

func init() {
	pairCmd.Flags().Bool("force", false, "overwrite existing files")
	configInitCmd.Flags().Bool("force", false, "overwrite an existing file")

	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configShowCmd)

	rootCmd.AddCommand(pairCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(registryCmd)
}
