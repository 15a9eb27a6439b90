package main

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/abdul-hamid-achik/multivec/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage multivec configuration",
	Long: `View and manage multivec configuration.

Subcommands:
  show    Show the resolved configuration
  init    Write a default configuration for the project`,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the resolved configuration",
	Long: `Display the current resolved configuration from all sources.

Configuration is loaded in the following order (highest to lowest priority):
1. Environment variables (MULTIVEC_*, e.g. MULTIVEC_STORE_BACKEND)
2. Project .multivec/config.yaml
3. Project root multivec.yaml
4. Built-in defaults

Empty API keys fall back to OPENAI_API_KEY and ANTHROPIC_API_KEY, and
OLLAMA_HOST overrides the default Ollama URL. Credentials are masked.`,
	RunE: runConfigShow,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a default configuration for the project",
	Long: `Create the .multivec directory with a default config.yaml.
An existing config file is left untouched. Credentials are never written;
set them through the environment.`,
	RunE: runConfigInit,
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configInitCmd)
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	root, err := projectRoot(cmd)
	if err != nil {
		return err
	}
	cfg, err := config.Load(root)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "# Project: %s\n", root)
	if sources := cfg.Sources(); len(sources) > 0 {
		fmt.Fprintf(out, "# Sources: %s\n", strings.Join(sources, ", "))
	} else {
		fmt.Fprintln(out, "# Sources: built-in defaults")
	}

	data, err := cfg.YAML()
	if err != nil {
		return err
	}
	fmt.Fprintln(out, string(data))

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(out, "# Problems:\n%s\n", prefixLines(err.Error(), "#   "))
	}
	return nil
}

func prefixLines(s, prefix string) string {
	lines := strings.Split(s, "\n")
	for i, l := range lines {
		lines[i] = prefix + l
	}
	return strings.Join(lines, "\n")
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	root, err := projectRoot(cmd)
	if err != nil {
		return err
	}
	root, err = filepath.Abs(root)
	if err != nil {
		return err
	}

	cfg := config.DefaultConfig()
	cfg.DataDir = filepath.Join(root, config.DefaultDataDir)
	if err := cfg.EnsureDataDir(); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}

	path := filepath.Join(cfg.DataDir, config.DefaultConfigFile)
	written, err := cfg.WriteDefault(path)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if !written {
		fmt.Fprintf(out, "Config already exists at %s\n", path)
		return nil
	}
	fmt.Fprintf(out, "Initialized multivec in %s\n", cfg.DataDir)
	fmt.Fprintf(out, "  Config: %s\n", path)
	fmt.Fprintf(out, "  Store: %s (%s)\n", cfg.Store.Backend, cfg.DBPath())
	fmt.Fprintf(out, "  Text embedder: %s (%s)\n", cfg.Embedding.Text.Provider, cfg.Embedding.Text.Model)
	fmt.Fprintf(out, "  Image embedder: %s (%s)\n", cfg.Embedding.Image.Provider, cfg.Embedding.Image.Model)
	fmt.Fprintf(out, "\nIMPORTANT: Add %s to your .gitignore file.\n", config.DefaultDataDir)
	fmt.Fprintf(out, "\nRun 'multivec collection create' to create the %q collection.\n", cfg.Collection.Name)
	return nil
}
