package main

import (
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/abdul-hamid-achik/multivec/internal/fault"
	"github.com/abdul-hamid-achik/multivec/internal/index"
	"github.com/abdul-hamid-achik/multivec/internal/ingest"
)

var ingestCmd = &cobra.Command{
	Use:   "ingest [files...]",
	Short: "Ingest text snippets, text files or images",
	Long: `Embed each input and store it as one record with a vector per space.
Text files (.txt, .md, ...) are embedded as text and images (.png, .jpg, ...)
through the image embedder. With --describe, images are also described by
the LLM and the description is embedded as text. --caption stores a caption
with a single image and embeds it as text in the same record.

Examples:
  multivec ingest --text "a bowl of soup"
  multivec ingest photos/bike.jpg --describe --payload owner=sam
  multivec ingest photos/tote.jpg --caption "black leather tote"
  multivec ingest notes/*.md`,
	RunE: runIngest,
}

var indexCmd = &cobra.Command{
	Use:   "index [paths...]",
	Short: "Ingest the text and image files of the project",
	Long: `Walk the project (or the given paths) and ingest every supported file.
Files whose content is unchanged since the last run are skipped. Ignore
rules come from config, .gitignore and .multivecignore.`,
	RunE: runIndex,
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Index the project and keep it in sync as files change",
	RunE:  runWatch,
}

func init() {
	addIngestFlags(ingestCmd)

	indexCmd.Flags().Bool("force", false, "re-ingest unchanged files")
	indexCmd.Flags().StringSlice("ignore", nil, "additional patterns to ignore")
	indexCmd.Flags().Bool("describe", false, "describe images with the LLM (default from ingest.describe)")

	watchCmd.Flags().Duration("debounce", 0, "delay before changed files are indexed (default from ingest.debounce)")
}

func addIngestFlags(cmd *cobra.Command) {
	cmd.Flags().StringArrayP("text", "t", nil, "text to ingest (repeatable)")
	cmd.Flags().String("id", "", "record ID (single input only)")
	cmd.Flags().String("caption", "", "caption stored with the image (single image only)")
	cmd.Flags().String("source", "", "source reference stored in the payload")
	cmd.Flags().StringToStringP("payload", "p", nil, "extra payload fields (key=value)")
	cmd.Flags().Bool("describe", false, "describe images with the LLM (default from ingest.describe)")
	cmd.Flags().String("prompt", "", "description prompt override")
}

// openCollection returns the collection name, creating it from the
// configured embedders when it does not exist yet.
func openCollection(cmd *cobra.Command, a *app) (string, error) {
	name := a.collection(cmd)
	_, err := a.store.DescribeCollection(cmd.Context(), name)
	if fault.Is(err, fault.NotFound) {
		a.logger.Info("creating collection", zap.String("collection", name))
		return name, a.ensureCollection(cmd, name)
	}
	return name, err
}

// describeFlag returns --describe when given, otherwise the configured default.
func describeFlag(cmd *cobra.Command, a *app) bool {
	if cmd.Flags().Changed("describe") {
		d, _ := cmd.Flags().GetBool("describe")
		return d
	}
	return a.describe()
}

// payloadValue stores numbers and booleans typed so filters can match them.
func payloadValue(s string) any {
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return i
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	if b, err := strconv.ParseBool(s); err == nil {
		return b
	}
	return s
}

func ingestItems(cmd *cobra.Command, args []string) ([]ingest.Item, error) {
	texts, _ := cmd.Flags().GetStringArray("text")
	id, _ := cmd.Flags().GetString("id")
	caption, _ := cmd.Flags().GetString("caption")
	source, _ := cmd.Flags().GetString("source")
	payload, _ := cmd.Flags().GetStringToString("payload")

	items := make([]ingest.Item, 0, len(texts)+len(args))
	for _, t := range texts {
		items = append(items, ingest.TextItem(t, source))
	}
	for _, path := range args {
		item, err := index.ReadItem(path)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		if source != "" {
			item.Source = source
		}
		items = append(items, item)
	}

	if len(items) == 0 {
		return nil, fault.Newf(fault.InvalidInput, "cli", "ingest", "nothing to ingest: pass files or --text")
	}
	if id != "" && len(items) > 1 {
		return nil, fault.Newf(fault.InvalidInput, "cli", "ingest", "--id needs exactly one input, got %d", len(items))
	}
	if id != "" {
		items[0].ID = id
	}
	if caption != "" {
		if len(items) != 1 || items[0].Image == nil {
			return nil, fault.Newf(fault.InvalidInput, "cli", "ingest", "--caption needs exactly one image")
		}
		items[0].Text = caption
	}
	for i := range items {
		if items[i].Payload == nil {
			items[i].Payload = map[string]any{}
		}
		for k, v := range payload {
			items[i].Payload[k] = payloadValue(v)
		}
	}
	return items, nil
}

func runIngest(cmd *cobra.Command, args []string) error {
	items, err := ingestItems(cmd, args)
	if err != nil {
		return err
	}

	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	collection, err := openCollection(cmd, a)
	if err != nil {
		return err
	}
	prompt, _ := cmd.Flags().GetString("prompt")
	opts := ingest.Options{DescribeImages: describeFlag(cmd, a), Prompt: prompt}

	out := cmd.OutOrStdout()
	if len(items) == 1 {
		id, err := a.pipeline.Ingest(cmd.Context(), items[0], collection, opts)
		if err != nil {
			return err
		}
		fmt.Fprintln(out, id)
		return nil
	}

	result := a.pipeline.IngestAll(cmd.Context(), items, collection, opts, nil)
	for i, id := range result.IDs {
		if err := result.Errors[i]; err != nil {
			fmt.Fprintf(out, "FAILED\t%s\t%v\n", items[i].Key(), err)
			continue
		}
		fmt.Fprintf(out, "%s\t%s\n", id, items[i].Key())
	}
	fmt.Fprintf(out, "\nStored %d, failed %d in %s\n", result.Stored, result.Failed, result.Duration.Round(time.Millisecond))
	if result.Failed > 0 {
		return fmt.Errorf("%d of %d items failed", result.Failed, len(items))
	}
	return nil
}

// progressBar renders indexing progress on stderr.
func progressBar() index.ProgressCallback {
	var (
		mu  sync.Mutex
		bar *progressbar.ProgressBar
	)
	return func(p index.Progress) {
		mu.Lock()
		defer mu.Unlock()
		if bar == nil {
			bar = progressbar.NewOptions(p.TotalFiles,
				progressbar.OptionEnableColorCodes(true),
				progressbar.OptionShowBytes(false),
				progressbar.OptionSetWidth(40),
				progressbar.OptionShowCount(),
				progressbar.OptionSetDescription("[cyan]Indexing[reset]"),
				progressbar.OptionSetTheme(progressbar.Theme{
					Saucer:        "[green]=[reset]",
					SaucerHead:    "[green]>[reset]",
					SaucerPadding: " ",
					BarStart:      "[",
					BarEnd:        "]",
				}),
				progressbar.OptionClearOnFinish(),
			)
		}
		_ = bar.Set(p.ProcessedFiles)
	}
}

func runIndex(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	collection, err := openCollection(cmd, a)
	if err != nil {
		return err
	}

	cfg := a.cfg.IndexerConfig()
	cfg.Force, _ = cmd.Flags().GetBool("force")
	extra, _ := cmd.Flags().GetStringSlice("ignore")
	cfg.IgnorePatterns = append(cfg.IgnorePatterns, extra...)
	cfg.Describe = describeFlag(cmd, a)

	indexer := index.NewIndexer(a.pipeline, a.store, cfg, a.logger.Named("index"))
	indexer.SetProgressCallback(progressBar())

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Indexing %s into %s...\n", a.root, collection)
	if cfg.Force {
		fmt.Fprintln(out, "  Mode: full re-index")
	} else {
		fmt.Fprintln(out, "  Mode: incremental")
	}

	result, err := indexer.Index(cmd.Context(), a.root, collection, args...)
	if err != nil {
		return fmt.Errorf("indexing failed: %w", err)
	}
	printIndexResult(cmd, result)
	return nil
}

func printIndexResult(cmd *cobra.Command, result *index.IndexResult) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "\nIndexing complete:\n")
	fmt.Fprintf(out, "  Files processed: %d\n", result.FilesProcessed)
	fmt.Fprintf(out, "  Files stored: %d\n", result.FilesStored)
	fmt.Fprintf(out, "  Files skipped (unchanged): %d\n", result.FilesSkipped)
	fmt.Fprintf(out, "  Duration: %s\n", result.Duration.Round(100*time.Millisecond))

	if len(result.Errors) > 0 {
		fmt.Fprintf(out, "\nWarnings: %d\n", len(result.Errors))
		verbose, _ := cmd.Flags().GetBool("verbose")
		if verbose {
			for _, e := range result.Errors {
				fmt.Fprintf(out, "  - %v\n", e)
			}
		}
	}
}

func runWatch(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	collection, err := openCollection(cmd, a)
	if err != nil {
		return err
	}

	indexer := a.indexer()
	result, err := indexer.Index(cmd.Context(), a.root, collection)
	if err != nil {
		return fmt.Errorf("initial index failed: %w", err)
	}
	printIndexResult(cmd, result)

	wcfg := a.cfg.WatcherConfig()
	if d, _ := cmd.Flags().GetDuration("debounce"); d > 0 {
		wcfg.Debounce = d
	}
	w, err := index.WatchAndIndex(cmd.Context(), indexer, a.root, collection, wcfg)
	if err != nil {
		return err
	}
	defer w.Stop()

	fmt.Fprintf(cmd.OutOrStdout(), "\nWatching %s (Ctrl+C to stop)\n", a.root)
	<-cmd.Context().Done()
	return nil
}
