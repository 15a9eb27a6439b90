package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/abdul-hamid-achik/multivec/internal/mcp"
	"github.com/abdul-hamid-achik/multivec/internal/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API server",
	Long: `Serve collections, ingestion and queries over HTTP.

Routes:
  GET    /api/health
  GET    /api/collections
  PUT    /api/collections/{name}
  GET    /api/collections/{name}
  DELETE /api/collections/{name}
  POST   /api/collections/{name}/ingest
  POST   /api/collections/{name}/query
  GET    /metrics`,
	RunE: runServe,
}

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Start the MCP server on stdio",
	Long: `Start a Model Context Protocol server on stdin/stdout for AI assistants.
Logs go to stderr.`,
	RunE: runMCP,
}

func init() {
	serveCmd.Flags().String("host", "", "server host (default from server.host)")
	serveCmd.Flags().IntP("port", "p", 0, "server port (default from server.port)")
	serveCmd.Flags().Bool("warmup", true, "check the store and embedders before serving")
}

func runServe(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	host, _ := cmd.Flags().GetString("host")
	if host == "" {
		host = a.cfg.Server.Host
	}
	port, _ := cmd.Flags().GetInt("port")
	if port == 0 {
		port = a.cfg.Server.Port
	}
	distance, err := a.cfg.Distance()
	if err != nil {
		return err
	}

	if warmup, _ := cmd.Flags().GetBool("warmup"); warmup {
		if err := a.searcher.Warmup(cmd.Context()); err != nil {
			a.logger.Warn("warmup failed, serving anyway", zap.Error(err))
		}
	}

	srv := server.NewServer(server.Config{
		Host:           host,
		Port:           port,
		Store:          a.store,
		Pipeline:       a.pipeline,
		Searcher:       a.searcher,
		Text:           a.text,
		Image:          a.image,
		Distance:       distance,
		Limit:          a.cfg.Query.Limit,
		DescribeImages: a.describe(),
		RequestTimeout: a.cfg.Server.RequestTimeout,
		MaxUploadBytes: a.cfg.Server.MaxUploadBytes,
		Logger:         a.logger.Named("http"),
	})

	fmt.Fprintf(cmd.OutOrStdout(), "Starting API server on http://%s\n", srv.Addr())
	fmt.Fprintf(cmd.OutOrStdout(), "  Store: %s\n", a.cfg.Store.Backend)
	return srv.ListenAndServe(cmd.Context())
}

func runMCP(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	collection, err := openCollection(cmd, a)
	if err != nil {
		return err
	}

	srv := mcp.NewServer(mcp.Config{
		Store:          a.store,
		Pipeline:       a.pipeline,
		Searcher:       a.searcher,
		Indexer:        a.indexer(),
		Root:           a.root,
		Collection:     collection,
		Limit:          a.cfg.Query.Limit,
		DescribeImages: a.describe(),
		Logger:         a.logger.Named("mcp"),
	})
	return srv.Run(cmd.Context())
}
