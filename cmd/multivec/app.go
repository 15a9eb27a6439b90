package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/abdul-hamid-achik/multivec/internal/config"
	"github.com/abdul-hamid-achik/multivec/internal/embed"
	"github.com/abdul-hamid-achik/multivec/internal/index"
	"github.com/abdul-hamid-achik/multivec/internal/ingest"
	"github.com/abdul-hamid-achik/multivec/internal/llm"
	"github.com/abdul-hamid-achik/multivec/internal/logging"
	"github.com/abdul-hamid-achik/multivec/internal/search"
	"github.com/abdul-hamid-achik/multivec/internal/store"
)

// app holds everything a command needs, built from the resolved config.
type app struct {
	root   string
	cfg    *config.Config
	logger *zap.Logger

	store    store.Store
	text     embed.Provider
	image    embed.Provider
	llm      llm.Client
	pipeline *ingest.Pipeline
	searcher *search.Searcher
}

// projectRoot returns --dir, the nearest project directory, or the working
// directory when neither exists.
func projectRoot(cmd *cobra.Command) (string, error) {
	if dir, _ := cmd.Flags().GetString("dir"); dir != "" {
		return dir, nil
	}
	if root, err := config.FindProjectRoot(); err == nil {
		return root, nil
	}
	return os.Getwd()
}

// loadConfig resolves and validates the configuration for the command.
func loadConfig(cmd *cobra.Command) (string, *config.Config, error) {
	root, err := projectRoot(cmd)
	if err != nil {
		return "", nil, fmt.Errorf("failed to get project directory: %w", err)
	}
	cfg, err := config.Load(root)
	if err != nil {
		return "", nil, fmt.Errorf("failed to load config: %w", err)
	}
	if verbose, _ := cmd.Flags().GetBool("verbose"); verbose {
		cfg.Logging.Level = "debug"
	}
	if err := cfg.Validate(); err != nil {
		return "", nil, fmt.Errorf("invalid config: %w", err)
	}
	return root, cfg, nil
}

// newApp builds the store, providers and pipelines described by the config.
func newApp(cmd *cobra.Command) (*app, error) {
	root, cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return nil, err
	}

	a := &app{root: root, cfg: cfg, logger: logger}
	if err := a.open(); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *app) open() error {
	if a.cfg.Store.Backend == "bolt" {
		if err := a.cfg.EnsureDataDir(); err != nil {
			return fmt.Errorf("failed to create data directory: %w", err)
		}
	}
	st, err := store.New(a.cfg.StoreConfig())
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	a.store = st

	if e := a.cfg.Embedding.Text; e.Enabled() {
		p, err := embed.New(e.EmbedConfig(embed.ModalityText))
		if err != nil {
			return fmt.Errorf("failed to create text embedder: %w", err)
		}
		a.text = embed.Instrument(p)
	}
	if e := a.cfg.Embedding.Image; e.Enabled() {
		p, err := embed.New(e.EmbedConfig(embed.ModalityImage))
		if err != nil {
			return fmt.Errorf("failed to create image embedder: %w", err)
		}
		a.image = embed.Instrument(p)
	}
	if a.cfg.LLM.Enabled() {
		c, err := llm.New(a.cfg.LLM.ClientConfig())
		if err != nil {
			return fmt.Errorf("failed to create llm client: %w", err)
		}
		a.llm = llm.Instrument(c)
	}

	merge, err := a.cfg.MergeRule()
	if err != nil {
		return err
	}

	a.pipeline, err = ingest.New(ingest.Config{
		Text:    a.text,
		Image:   a.image,
		LLM:     a.llm,
		Store:   a.store,
		Layout:  a.cfg.Spaces,
		Workers: a.cfg.Ingest.Workers,
		Logger:  a.logger.Named("ingest"),
	})
	if err != nil {
		return err
	}
	a.searcher, err = search.NewSearcher(search.Config{
		Text:   a.text,
		Image:  a.image,
		LLM:    a.llm,
		Store:  a.store,
		Layout: a.cfg.Spaces,
		Merge:  merge,
		Logger: a.logger.Named("search"),
	})
	return err
}

// collection returns --collection or the configured default.
func (a *app) collection(cmd *cobra.Command) string {
	if name, _ := cmd.Flags().GetString("collection"); name != "" {
		return name
	}
	return a.cfg.Collection.Name
}

// describe reports whether images are described by default.
func (a *app) describe() bool {
	return a.cfg.Ingest.Describe && a.llm != nil
}

func (a *app) indexer() *index.Indexer {
	return index.NewIndexer(a.pipeline, a.store, a.cfg.IndexerConfig(), a.logger.Named("index"))
}

// ensureCollection creates the collection from the configured embedders
// when it does not exist yet.
func (a *app) ensureCollection(cmd *cobra.Command, name string) error {
	distance, err := a.cfg.Distance()
	if err != nil {
		return err
	}
	schema := a.pipeline.Layout().Schema(a.text, a.image, distance)
	return a.store.CreateCollection(cmd.Context(), name, schema)
}

func (a *app) Close() {
	var errs []error
	if a.store != nil {
		errs = append(errs, a.store.Close())
	}
	if err := errors.Join(errs...); err != nil {
		a.logger.Warn("close failed", zap.Error(err))
	}
	_ = a.logger.Sync()
}
