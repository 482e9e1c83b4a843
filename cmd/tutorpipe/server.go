package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/calder/tutorpipe/internal/api"
	"github.com/calder/tutorpipe/internal/config"
	"github.com/calder/tutorpipe/internal/extract"
	"github.com/calder/tutorpipe/internal/generate"
	"github.com/calder/tutorpipe/internal/llm"
	"github.com/calder/tutorpipe/internal/merge"
	"github.com/calder/tutorpipe/internal/pipeline"
	"github.com/calder/tutorpipe/internal/search"
	"github.com/calder/tutorpipe/internal/storage"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the tutorpipe server (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		withMCP, _ := cmd.Flags().GetBool("mcp")
		return runServer(withMCP)
	},
}

func init() {
	serveCmd.Flags().Bool("mcp", false, "also serve MCP tools over stdio")
}

func runServer(withMCP bool) error {
	fmt.Fprintf(os.Stderr, "tutorpipe version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logLevel := slog.LevelInfo
	if strings.EqualFold(cfg.Log.Level, "debug") {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Check model availability up front; generation fails later if the
	// model host goes away.
	llmClient := llm.New(cfg.Ollama.BaseURL)
	if !llmClient.IsRunning(ctx) {
		printWarning("Ollama not reachable at %s; generation will fail until it is up", cfg.Ollama.BaseURL)
	}

	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: closing storage: %v\n", err)
		}
	}()
	store.SetDefaultMaxAttempts(cfg.Retry.MaxAttempts)

	index, err := search.Open(cfg.Storage.DataDir)
	if err != nil {
		return fmt.Errorf("opening search index: %w", err)
	}
	defer index.Close()
	if err := index.Rebuild(store); err != nil {
		return fmt.Errorf("rebuilding search index: %w", err)
	}
	if n, err := index.Count(); err == nil {
		slog.Info("search index ready", "tutorials", n)
	}

	// Assemble the pipeline.
	registry := extract.NewRegistry(extract.NewFetcher(nil))
	generator := generate.NewGenerator(llmClient, cfg.Ollama.Model)
	engine := merge.NewEngine(store, index, cfg.Merge.Threshold)
	processor := pipeline.NewProcessor(store, registry, generator, engine,
		cfg.ExtractTimeout(), cfg.GenerateTimeout())
	retrier := pipeline.NewRetrier(store, processor, cfg.RetrySoftBudget(), cfg.Retry.BatchSize)

	if cfg.Admin.Token == "" {
		printWarning("TUTORPIPE_ADMIN_TOKEN not set; admin routes are disabled")
	}

	handler := api.NewAppHandler(api.AppDeps{
		Store:     store,
		Index:     index,
		Processor: processor,
		Retrier:   retrier,
		Token:     cfg.Admin.Token,
	})

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: handler,
	}

	if withMCP {
		mcpSrv := api.NewMCPServer(api.MCPDeps{
			Store:     store,
			Index:     index,
			Processor: processor,
			Retrier:   retrier,
		})
		stdioSrv := server.NewStdioServer(mcpSrv)
		go func() {
			if err := stdioSrv.Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
				slog.Error("MCP stdio server error", "error", err)
			}
		}()
		slog.Info("MCP server started (stdio transport)")
	}

	errCh := make(chan error, 1)
	go func() {
		fmt.Fprintf(os.Stderr, "tutorpipe listening on %s\n", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		fmt.Fprintln(os.Stderr, "shutting down...")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
