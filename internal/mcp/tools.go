package mcp

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/abdul-hamid-achik/multivec/internal/embed"
	"github.com/abdul-hamid-achik/multivec/internal/fault"
	"github.com/abdul-hamid-achik/multivec/internal/ingest"
	"github.com/abdul-hamid-achik/multivec/internal/search"
	"github.com/abdul-hamid-achik/multivec/internal/store"
)

// Input types for tools

// CollectionsInput is the input for multivec_collections.
type CollectionsInput struct {
	Name string `json:"name,omitempty" jsonschema:"Collection to describe. Lists all collections when empty."`
}

// IngestTextInput is the input for multivec_ingest_text.
type IngestTextInput struct {
	Text       string         `json:"text" jsonschema:"The text to embed and store."`
	Collection string         `json:"collection,omitempty" jsonschema:"Target collection."`
	ID         string         `json:"id,omitempty" jsonschema:"Record ID. A new one is generated when empty."`
	Source     string         `json:"source,omitempty" jsonschema:"Where the text came from, stored in the payload."`
	Payload    map[string]any `json:"payload,omitempty" jsonschema:"Extra payload fields stored with the record."`
}

// IngestImageInput is the input for multivec_ingest_image.
type IngestImageInput struct {
	Path       string         `json:"path" jsonschema:"Path to the image file. Relative paths resolve against the project directory."`
	Collection string         `json:"collection,omitempty" jsonschema:"Target collection."`
	ID         string         `json:"id,omitempty" jsonschema:"Record ID. A new one is generated when empty."`
	Caption    string         `json:"caption,omitempty" jsonschema:"Caption stored and embedded as text in the same record."`
	Describe   *bool          `json:"describe,omitempty" jsonschema:"Ask the LLM to describe the image and embed the description as text."`
	Payload    map[string]any `json:"payload,omitempty" jsonschema:"Extra payload fields stored with the record."`
}

// QueryInput is the input for multivec_query.
type QueryInput struct {
	Text       string   `json:"text,omitempty" jsonschema:"Text query. Set either text or image_path."`
	ImagePath  string   `json:"image_path,omitempty" jsonschema:"Path to an image to search with."`
	Collection string   `json:"collection,omitempty" jsonschema:"Collection to search."`
	Spaces     []string `json:"spaces,omitempty" jsonschema:"Vector spaces to search. Defaults to every space the query can reach."`
	Limit      int      `json:"limit,omitempty" jsonschema:"Maximum number of results to return."`
	Merge      string   `json:"merge,omitempty" jsonschema:"How per-space scores combine: max, sum or weighted_average:space=weight,..."`
	Source     string   `json:"source,omitempty" jsonschema:"Only return records whose source payload equals this value."`
}

// IndexInput is the input for multivec_index.
type IndexInput struct {
	Paths      []string `json:"paths,omitempty" jsonschema:"Specific paths to index. If empty indexes the entire project."`
	Collection string   `json:"collection,omitempty" jsonschema:"Target collection."`
	Force      bool     `json:"force,omitempty" jsonschema:"Re-ingest files even if unchanged."`
}

func textResult(text string) *sdkmcp.CallToolResult {
	return &sdkmcp.CallToolResult{
		Content: []sdkmcp.Content{&sdkmcp.TextContent{Text: text}},
	}
}

func errorResult(format string, args ...any) *sdkmcp.CallToolResult {
	return &sdkmcp.CallToolResult{
		Content: []sdkmcp.Content{&sdkmcp.TextContent{Text: fmt.Sprintf(format, args...)}},
		IsError: true,
	}
}

// failure reports err with its error kind so the client can decide whether
// to retry.
func (s *Server) failure(op string, err error) *sdkmcp.CallToolResult {
	kind := fault.KindOf(err)
	s.logger.Warn("tool failed", zap.String("tool", op), zap.Stringer("kind", kind), zap.Error(err))
	return errorResult("%s failed (%s): %v", op, kind, err)
}

func (s *Server) collection(name string) string {
	if name != "" {
		return name
	}
	return s.cfg.Collection
}

func (s *Server) resolvePath(path string) string {
	if strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			path = filepath.Join(home, path[2:])
		}
	}
	if !filepath.IsAbs(path) && s.cfg.Root != "" {
		path = filepath.Join(s.cfg.Root, path)
	}
	return path
}

func (s *Server) readImage(path string) (*embed.Image, string, error) {
	if path == "" {
		return nil, "", fault.Newf(fault.InvalidInput, "mcp", "read image", "image path is required")
	}
	abs := s.resolvePath(path)
	data, err := os.ReadFile(abs)
	if err != nil {
		return nil, "", fault.New(fault.InvalidInput, "mcp", "read image", err)
	}
	return &embed.Image{Data: data}, abs, nil
}

// handleCollections handles the multivec_collections tool.
func (s *Server) handleCollections(ctx context.Context, req *sdkmcp.CallToolRequest, input CollectionsInput) (*sdkmcp.CallToolResult, any, error) {
	if input.Name != "" {
		schema, err := s.cfg.Store.DescribeCollection(ctx, input.Name)
		if err != nil {
			return s.failure("describe", err), nil, nil
		}
		return textResult(formatSchema(input.Name, schema)), nil, nil
	}

	names, err := s.cfg.Store.ListCollections(ctx)
	if err != nil {
		return s.failure("list", err), nil, nil
	}
	if len(names) == 0 {
		return textResult("No collections found."), nil, nil
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d collections:\n", len(names)))
	for _, name := range names {
		sb.WriteString("- " + name)
		if name == s.cfg.Collection {
			sb.WriteString(" (default)")
		}
		sb.WriteString("\n")
	}
	return textResult(sb.String()), nil, nil
}

func formatSchema(name string, schema store.Schema) string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Collection %s:\n", name))
	for _, space := range schema.Names() {
		vs := schema[space]
		sb.WriteString(fmt.Sprintf("- %s: %d dimensions, %s\n", space, vs.Size, vs.Distance))
	}
	return sb.String()
}

// handleIngestText handles the multivec_ingest_text tool.
func (s *Server) handleIngestText(ctx context.Context, req *sdkmcp.CallToolRequest, input IngestTextInput) (*sdkmcp.CallToolResult, any, error) {
	item := ingest.TextItem(input.Text, input.Source)
	item.ID = input.ID
	item.Payload = input.Payload

	collection := s.collection(input.Collection)
	id, err := s.cfg.Pipeline.Ingest(ctx, item, collection, ingest.Options{})
	if err != nil {
		return s.failure("ingest", err), nil, nil
	}
	return textResult(fmt.Sprintf("Stored text record %s in %s.", id, collection)), nil, nil
}

// handleIngestImage handles the multivec_ingest_image tool.
func (s *Server) handleIngestImage(ctx context.Context, req *sdkmcp.CallToolRequest, input IngestImageInput) (*sdkmcp.CallToolResult, any, error) {
	img, abs, err := s.readImage(input.Path)
	if err != nil {
		return s.failure("ingest", err), nil, nil
	}
	item := ingest.CaptionedImageItem(img, input.Caption, abs)
	item.ID = input.ID
	item.Payload = input.Payload

	describe := s.cfg.DescribeImages
	if input.Describe != nil {
		describe = *input.Describe
	}

	collection := s.collection(input.Collection)
	id, err := s.cfg.Pipeline.Ingest(ctx, item, collection, ingest.Options{DescribeImages: describe})
	if err != nil {
		return s.failure("ingest", err), nil, nil
	}

	msg := fmt.Sprintf("Stored image record %s in %s.", id, collection)
	if describe {
		if rec, err := s.cfg.Store.Get(ctx, collection, id); err == nil {
			if desc, ok := rec.Payload[ingest.KeyDescription].(string); ok && desc != "" {
				msg += "\n\nDescription: " + desc
			}
		}
	}
	return textResult(msg), nil, nil
}

// handleQuery handles the multivec_query tool.
func (s *Server) handleQuery(ctx context.Context, req *sdkmcp.CallToolRequest, input QueryInput) (*sdkmcp.CallToolResult, any, error) {
	if (input.Text == "") == (input.ImagePath == "") {
		return errorResult("exactly one of text or image_path is required"), nil, nil
	}

	q := search.TextQuery(input.Text)
	modality := embed.ModalityText
	if input.ImagePath != "" {
		img, _, err := s.readImage(input.ImagePath)
		if err != nil {
			return s.failure("query", err), nil, nil
		}
		q = search.ImageQuery(img)
		modality = embed.ModalityImage
	}

	opts := search.Options{DescribeImages: s.cfg.DescribeImages}
	if input.Merge != "" {
		rule, err := search.ParseMergeRule(input.Merge)
		if err != nil {
			return s.failure("query", fault.New(fault.InvalidInput, "mcp", "query", err)), nil, nil
		}
		opts.Merge = rule
	}
	if input.Source != "" {
		opts.Filter = &store.Filter{Must: []store.Condition{{Key: ingest.KeySource, Value: input.Source}}}
	}

	limit := s.cfg.Limit
	if input.Limit > 0 {
		limit = input.Limit
	}

	collection := s.collection(input.Collection)
	spaces := input.Spaces
	if len(spaces) == 0 {
		var err error
		spaces, err = s.cfg.Searcher.Spaces(ctx, collection, modality, opts.DescribeImages)
		if err != nil {
			return s.failure("query", err), nil, nil
		}
	}

	results, err := s.cfg.Searcher.SearchWithOptions(ctx, q, collection, spaces, limit, opts)
	if err != nil {
		return s.failure("query", err), nil, nil
	}
	return textResult(formatResults(results, spaces)), nil, nil
}

func formatResults(results []search.Result, spaces []string) string {
	if len(results) == 0 {
		return "No results found."
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Found %d results across %s:\n\n", len(results), strings.Join(spaces, ", ")))
	for i, r := range results {
		sb.WriteString(fmt.Sprintf("### Result %d (score: %.4f)\n", i+1, r.Score))
		sb.WriteString(fmt.Sprintf("**ID:** %s\n", r.ID))
		if src, ok := r.Payload[ingest.KeySource].(string); ok && src != "" {
			sb.WriteString(fmt.Sprintf("**Source:** %s\n", src))
		}
		if m, ok := r.Payload[ingest.KeyModality].(string); ok {
			sb.WriteString(fmt.Sprintf("**Modality:** %s\n", m))
		}

		names := make([]string, 0, len(r.Spaces))
		for name := range r.Spaces {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			sb.WriteString(fmt.Sprintf("- %s: %.4f\n", name, r.Spaces[name]))
		}

		if desc, ok := r.Payload[ingest.KeyDescription].(string); ok && desc != "" {
			sb.WriteString("\n" + desc + "\n")
		} else if text, ok := r.Payload[ingest.KeyText].(string); ok && text != "" {
			sb.WriteString("\n" + text + "\n")
		}
		sb.WriteString("\n")
	}
	return sb.String()
}

// handleIndex handles the multivec_index tool.
func (s *Server) handleIndex(ctx context.Context, req *sdkmcp.CallToolRequest, input IndexInput) (*sdkmcp.CallToolResult, any, error) {
	if s.cfg.Root == "" {
		return errorResult("no project directory configured"), nil, nil
	}

	collection := s.collection(input.Collection)
	paths := make([]string, len(input.Paths))
	for i, p := range input.Paths {
		paths[i] = s.resolvePath(p)
	}

	idx := s.cfg.Indexer
	if input.Force {
		idx = idx.WithForce()
	}
	result, err := idx.Index(ctx, s.cfg.Root, collection, paths...)
	if err != nil {
		return s.failure("index", err), nil, nil
	}

	var sb strings.Builder
	sb.WriteString("Indexing complete:\n")
	sb.WriteString(fmt.Sprintf("- Files processed: %d\n", result.FilesProcessed))
	sb.WriteString(fmt.Sprintf("- Files stored: %d\n", result.FilesStored))
	sb.WriteString(fmt.Sprintf("- Files skipped (unchanged): %d\n", result.FilesSkipped))
	sb.WriteString(fmt.Sprintf("- Duration: %s\n", result.Duration))

	if len(result.Errors) > 0 {
		sb.WriteString(fmt.Sprintf("\nWarnings/Errors: %d\n", len(result.Errors)))
		for _, e := range result.Errors {
			sb.WriteString(fmt.Sprintf("  - %v\n", e))
		}
	}
	return textResult(sb.String()), nil, nil
}
