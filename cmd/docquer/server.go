package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/docquer/docquer/internal/api"
	"github.com/docquer/docquer/internal/config"
	"github.com/docquer/docquer/internal/ollama"
	"github.com/docquer/docquer/internal/purge"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the docquer HTTP server (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer()
	},
}

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve docquer tools over MCP on stdin/stdout",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runMCP(userFlag)
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show docquer system status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus()
	},
}

func runServer() error {
	fmt.Fprintf(os.Stderr, "docquer version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := newLogger(cfg.Log.Level, os.Stderr)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := buildApp(ctx, cfg, logger, os.Stderr)
	if err != nil {
		return err
	}
	defer a.Close()

	worker := purge.NewWorker(a.store, a.service,
		config.ParseDuration("purge.poll_interval", cfg.Purge.PollInterval, 2*time.Second), logger)
	go worker.Run(ctx)

	if cfg.Server.APIToken == "" {
		logger.Warn("no API token configured, the API is unauthenticated")
	}

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           api.NewHandler(api.Deps{Service: a.service, Token: cfg.Server.APIToken}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("docquer listening", "addr", addr, "vector_backend", a.service.VectorBackend())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
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

// runMCP serves the tools on stdio. Stdout carries the protocol, so logs
// and startup progress go to stderr.
func runMCP(user string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := newLogger(cfg.Log.Level, os.Stderr)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := buildApp(ctx, cfg, logger, os.Stderr)
	if err != nil {
		return err
	}
	defer a.Close()

	go purge.NewWorker(a.store, a.service,
		config.ParseDuration("purge.poll_interval", cfg.Purge.PollInterval, 2*time.Second), logger).Run(ctx)

	mcpSrv := api.NewMCPServer(api.MCPDeps{Service: a.service, DefaultUser: mustUser(user)})
	logger.Info("MCP server started (stdio transport)")
	if err := server.NewStdioServer(mcpSrv).Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("mcp stdio server: %w", err)
	}
	return nil
}

type healthResponse struct {
	Status        string `json:"status"`
	VectorBackend string `json:"vectorBackend"`
}

func showStatus() error {
	cfg, err := config.Load()
	if err != nil {
		printError("config error: %v", err)
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	client, err := newAPIClient()
	if err == nil {
		client.httpClient.Timeout = 2 * time.Second
		var health healthResponse
		resp, err := client.get(ctx, "/health")
		if err == nil {
			err = decodeJSON(resp, &health)
		}
		if err != nil {
			printStatus("Server", "stopped")
		} else {
			printStatus("Server", "running on port %d", cfg.Server.Port)
			printStatus("Vector store", "%s", health.VectorBackend)
		}
	}

	oc := ollama.New(cfg.Ollama.BaseURL)
	if oc.IsRunning(ctx) {
		printStatus("Ollama", "running at %s", cfg.Ollama.BaseURL)
		if oc.HasModel(ctx, cfg.Ollama.EmbedModel) {
			printStatus("Embed model", "%s (%d dims)", cfg.Ollama.EmbedModel, cfg.Embed.Dimension)
		} else {
			printStatus("Embed model", "%s (not pulled)", cfg.Ollama.EmbedModel)
		}
	} else {
		printStatus("Ollama", "not running")
		printStatus("Embed model", "%s", cfg.Ollama.EmbedModel)
	}

	printStatus("LLM", "%s %s", cfg.LLM.Provider, llmModel(cfg))
	if llmAPIKey(cfg) == "" {
		printStatus("LLM key", "unset (users must set their own)")
	}
	printStatus("Data dir", "%s", cfg.Storage.DataDir)
	return nil
}
