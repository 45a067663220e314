package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/kalambet/whereismy/internal/api"
	"github.com/kalambet/whereismy/internal/catalog"
	"github.com/kalambet/whereismy/internal/config"
	"github.com/kalambet/whereismy/internal/conversation"
	"github.com/kalambet/whereismy/internal/engine"
	"github.com/kalambet/whereismy/internal/retrieval"
	"github.com/kalambet/whereismy/internal/storage"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the whereismy server (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer()
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running whereismy server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return stopServer()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show whereismy system status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus()
	},
}

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve the moderation MCP tools over stdio",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runMCP()
	},
}

func pidFilePath(dataDir string) string {
	return filepath.Join(dataDir, "whereismy.pid")
}

func writePIDFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o644)
}

func readPIDFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(string(data)))
}

func removePIDFile(path string) {
	os.Remove(path)
}

// newEngine selects the embedding backend named by the config.
func newEngine(cfg config.Config) (engine.Engine, error) {
	return engine.Detect(engine.DetectConfig{
		Provider:      cfg.Embedding.Provider,
		OllamaBaseURL: cfg.Ollama.BaseURL,
		OpenAIBaseURL: cfg.Embedding.OpenAIBaseURL,
		OpenAIModel:   cfg.Embedding.OpenAIModel,
		OpenAIToken:   cfg.Secrets.OpenAIAPIKey,
	})
}

func runServer() error {
	fmt.Fprintf(os.Stderr, "whereismy version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	setupLogging(cfg)

	pidPath := pidFilePath(cfg.Storage.DataDir)
	pingURL := fmt.Sprintf("http://127.0.0.1:%d/ping", cfg.Server.Port)
	healthClient := &http.Client{Timeout: 2 * time.Second}
	if resp, err := healthClient.Get(pingURL); err == nil {
		resp.Body.Close()
		if pid, pidErr := readPIDFile(pidPath); pidErr == nil {
			printWarning("whereismy is already running (PID %d)", pid)
			return fmt.Errorf("server already running (PID %d)", pid)
		}
		printWarning("whereismy is already running on port %d", cfg.Server.Port)
		return fmt.Errorf("server already running on port %d", cfg.Server.Port)
	}
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer removePIDFile(pidPath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	eng, err := newEngine(cfg)
	if err != nil {
		return fmt.Errorf("detecting embedding backend: %w", err)
	}
	printStep("Checking %s embedding backend (%s)", cfg.Embedding.Provider, cfg.EmbedModel())
	if err := engine.EnsureReady(ctx, eng, cfg.EmbedModel(), os.Stderr); err != nil {
		return err
	}

	cat, err := catalog.Load(cfg.Catalog.Path)
	if err != nil {
		return err
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

	embedder := retrieval.NewEmbedder(eng, cfg.EmbedModel(), cfg.Embedding.Dimension)
	dim, err := embedder.Check(ctx)
	if err != nil {
		return fmt.Errorf("embedding check (set embedding.dimension to match %s, or 0 to disable): %w", cfg.EmbedModel(), err)
	}
	slog.Info("embedding backend ready", "provider", cfg.Embedding.Provider, "model", cfg.EmbedModel(), "dimension", dim)
	conv := conversation.New(store, embedder, cat, cfg.Search.TopK)

	handler := api.NewHandler(api.Deps{
		Conversation:   conv,
		Store:          store,
		TransportToken: cfg.Secrets.TransportToken,
		ModeratorToken: cfg.Secrets.ModeratorToken,
		Concurrency:    cfg.Server.DispatchConcurrency,
	})

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: handler,
		BaseContext: func(_ net.Listener) context.Context {
			return ctx
		},
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("whereismy listening", "addr", addr, "embed_model", cfg.EmbedModel(), "provider", cfg.Embedding.Provider)
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

// runMCP serves moderation tools on stdin/stdout. It opens the store
// directly, so it works whether or not the HTTP server runs.
func runMCP() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	setupLogging(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	defer store.Close()

	mcpSrv := api.NewMCPServer(api.MCPDeps{Store: store, Version: version})
	slog.Info("MCP server started (stdio transport)")
	err = server.NewStdioServer(mcpSrv).Listen(ctx, os.Stdin, os.Stdout)
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("MCP stdio server: %w", err)
	}
	return nil
}

func stopServer() error {
	cfg, err := config.Load()
	if err != nil {
		printError("could not load config: %v", err)
		return err
	}

	pidPath := pidFilePath(cfg.Storage.DataDir)
	pid, err := readPIDFile(pidPath)
	if err != nil {
		printError("whereismy is not running (no PID file)")
		return fmt.Errorf("not running: %w", err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		printError("could not find process %d", pid)
		return err
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		printError("could not stop whereismy (PID %d): %v", pid, err)
		removePIDFile(pidPath)
		return err
	}

	printSuccess("Sent stop signal to whereismy (PID %d)", pid)
	return nil
}

func showStatus() error {
	cfg, err := config.Load()
	if err != nil {
		printError("config error: %v", err)
		return nil
	}

	serverURL := fmt.Sprintf("http://127.0.0.1:%d", cfg.Server.Port)
	client := &http.Client{Timeout: 2 * time.Second}

	running := false
	resp, err := client.Get(serverURL + "/ping")
	if err != nil {
		printStatus("Server", "stopped")
	} else {
		resp.Body.Close()
		if resp.StatusCode == http.StatusOK {
			running = true
			printStatus("Server", "running on port %d", cfg.Server.Port)
		} else {
			printStatus("Server", "error (HTTP %d)", resp.StatusCode)
		}
	}

	eng, err := newEngine(cfg)
	switch {
	case err != nil:
		printStatus("Embeddings", "misconfigured: %v", err)
	case eng.IsRunning(context.Background()):
		printStatus("Embeddings", "%s backend reachable", cfg.Embedding.Provider)
	default:
		printStatus("Embeddings", "%s backend not reachable", cfg.Embedding.Provider)
	}
	printStatus("Embed model", "%s", cfg.EmbedModel())

	if running {
		st, err := fetchStats(client, serverURL, cfg.Secrets.ModeratorToken)
		if err == nil {
			printStatus("Active ads", "%d", st.Active)
			printStatus("Archived ads", "%d", st.Archived)
			printStatus("Users", "%d", st.Users)
		}
	}

	printStatus("Data dir", "%s", cfg.Storage.DataDir)
	return nil
}

func fetchStats(client *http.Client, baseURL, token string) (storage.Stats, error) {
	var st storage.Stats
	req, err := http.NewRequest(http.MethodGet, baseURL+"/stats", nil)
	if err != nil {
		return st, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := client.Do(req)
	if err != nil {
		return st, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return st, fmt.Errorf("stats returned %d", resp.StatusCode)
	}
	err = json.NewDecoder(resp.Body).Decode(&st)
	return st, err
}
