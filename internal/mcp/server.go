// Package mcp exposes ingestion and retrieval as MCP tools using the official SDK.
package mcp

import (
	"context"

	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/abdul-hamid-achik/multivec/internal/index"
	"github.com/abdul-hamid-achik/multivec/internal/ingest"
	"github.com/abdul-hamid-achik/multivec/internal/search"
	"github.com/abdul-hamid-achik/multivec/internal/store"
	"github.com/abdul-hamid-achik/multivec/internal/version"
)

// Config contains configuration for the MCP server.
type Config struct {
	Store    store.Store
	Pipeline *ingest.Pipeline
	Searcher *search.Searcher
	// Indexer is optional; multivec_index is only registered when set.
	Indexer *index.Indexer
	// Root is the project directory relative image paths and indexing
	// resolve against.
	Root       string
	Collection string
	Limit      int
	// DescribeImages is the default for ingest and image queries.
	DescribeImages bool
	Logger         *zap.Logger
}

// Server wraps the SDK server with the multivec tools.
type Server struct {
	server *sdkmcp.Server
	cfg    Config
	logger *zap.Logger
}

// NewServer creates a new MCP server and registers its tools.
func NewServer(cfg Config) *Server {
	if cfg.Limit <= 0 {
		cfg.Limit = 10
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	s := &Server{cfg: cfg, logger: cfg.Logger}

	s.server = sdkmcp.NewServer(&sdkmcp.Implementation{
		Name:    "multivec",
		Version: version.Version,
	}, &sdkmcp.ServerOptions{
		Instructions: "multivec stores text and images as multi-vector records and searches across vector spaces. " +
			"Use multivec_collections to see what exists, multivec_ingest_text and multivec_ingest_image to add content, " +
			"and multivec_query to search with text or an image file. " +
			"Collection arguments default to \"" + cfg.Collection + "\".",
	})

	sdkmcp.AddTool(s.server, &sdkmcp.Tool{
		Name:        "multivec_collections",
		Description: "List collections, or describe the vector spaces of one collection when name is given.",
	}, s.handleCollections)

	sdkmcp.AddTool(s.server, &sdkmcp.Tool{
		Name:        "multivec_ingest_text",
		Description: "Embed a piece of text and store it as a record. Returns the record ID.",
	}, s.handleIngestText)

	sdkmcp.AddTool(s.server, &sdkmcp.Tool{
		Name:        "multivec_ingest_image",
		Description: "Embed an image file and store it as a record, optionally with an LLM-written description embedded as text. Returns the record ID.",
	}, s.handleIngestImage)

	sdkmcp.AddTool(s.server, &sdkmcp.Tool{
		Name:        "multivec_query",
		Description: "Search a collection with text or an image file. Scores from every reachable vector space are merged into one ranking.",
	}, s.handleQuery)

	if cfg.Indexer != nil {
		sdkmcp.AddTool(s.server, &sdkmcp.Tool{
			Name:        "multivec_index",
			Description: "Ingest the text and image files under the project directory. Unchanged files are skipped.",
		}, s.handleIndex)
	}

	return s
}

// Run serves MCP over stdio until ctx is cancelled or the client disconnects.
func (s *Server) Run(ctx context.Context) error {
	s.logger.Info("mcp server starting", zap.String("collection", s.cfg.Collection))
	return s.server.Run(ctx, &sdkmcp.StdioTransport{})
}

// Connect serves a single session over t. Used for in-process clients.
func (s *Server) Connect(ctx context.Context, t sdkmcp.Transport) (*sdkmcp.ServerSession, error) {
	return s.server.Connect(ctx, t, nil)
}
