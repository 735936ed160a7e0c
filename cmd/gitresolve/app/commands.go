// Package app provides the entry point for the gitresolve CLI, a thin
// stand-in for "the outer system" from spec.md §1: a manual driver for
// ad-hoc resolution of a single dependency specifier.
package app

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/stacklok/gitresolve/internal/config"
	"github.com/stacklok/gitresolve/pkg/resolver"
)

const envPrefix = "GITRESOLVE"

var rootCmd = &cobra.Command{
	Use:               "gitresolve",
	DisableAutoGenTag: true,
	Short:             "Resolve a git-hosted package specifier to a pinned manifest",
	Run: func(cmd *cobra.Command, _ []string) {
		if err := cmd.Help(); err != nil {
			slog.Error("error displaying help", "error", err)
		}
	},
}

// NewRootCmd creates the root command, binding persistent flags to
// GITRESOLVE_*-prefixed environment variables via viper.
func NewRootCmd() *cobra.Command {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))

	rootCmd.PersistentFlags().String("config", "", "path to a YAML config file")
	rootCmd.PersistentFlags().String("registry", "", "preferred registry manifest filename (overrides config)")
	if err := v.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config")); err != nil {
		slog.Error("error binding config flag", "error", err)
	}
	if err := v.BindPFlag("registry", rootCmd.PersistentFlags().Lookup("registry")); err != nil {
		slog.Error("error binding registry flag", "error", err)
	}

	resolveCmd.viper = v
	rootCmd.AddCommand(resolveCmd.command())
	rootCmd.AddCommand(versionCmd)

	return rootCmd
}

type resolveCommand struct {
	viper *viper.Viper
}

var resolveCmd = &resolveCommand{}

func (c *resolveCommand) command() *cobra.Command {
	return &cobra.Command{
		Use:   "resolve <specifier>",
		Short: "Resolve a git dependency specifier to a manifest",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.run(cmd, args[0])
		},
	}
}

func (c *resolveCommand) run(cmd *cobra.Command, specifier string) error {
	cfg := config.Default()
	if path := c.viper.GetString("config"); path != "" {
		loaded, err := config.Load(config.WithConfigPath(path))
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		cfg = loaded
	}
	if registry := c.viper.GetString("registry"); registry != "" {
		cfg.Registries = append([]string{registry}, cfg.FallbackRegistries()...)
	}

	r := resolver.New(cfg, nil, slog.Default())

	manifest, err := r.Resolve(context.Background(), specifier)
	if err != nil {
		return fmt.Errorf("resolving %q: %w", specifier, err)
	}

	output, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return fmt.Errorf("formatting manifest: %w", err)
	}

	fmt.Fprintln(cmd.OutOrStdout(), string(output))
	return nil
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, _ []string) {
		fmt.Fprintln(cmd.OutOrStdout(), Version)
	},
}

// Version is set at build time via -ldflags.
var Version = "dev"
