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

	"github.com/bugbusters/bugbuster/internal/api"
	"github.com/bugbusters/bugbuster/internal/composer"
	"github.com/bugbusters/bugbuster/internal/config"
	"github.com/bugbusters/bugbuster/internal/conversation"
	"github.com/bugbusters/bugbuster/internal/engine"
	"github.com/bugbusters/bugbuster/internal/generation"
	"github.com/bugbusters/bugbuster/internal/ingest"
	"github.com/bugbusters/bugbuster/internal/metrics"
	"github.com/bugbusters/bugbuster/internal/pipeline"
	"github.com/bugbusters/bugbuster/internal/recordstore"
	"github.com/bugbusters/bugbuster/internal/render"
	"github.com/bugbusters/bugbuster/internal/retrieval"
	"github.com/bugbusters/bugbuster/internal/storage"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the bugbuster server (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer()
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running bugbuster server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return stopServer()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show server, snapshot and model status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus(cmd.Context())
	},
}

func pidFilePath(dataDir string) string {
	return filepath.Join(dataDir, "bugbuster.pid")
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

func setupLogging(level string) {
	logLevel := slog.LevelInfo
	if strings.EqualFold(level, "debug") {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})))
}

func runServer() error {
	fmt.Fprintf(os.Stderr, "bugbuster version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	setupLogging(cfg.Log.Level)

	pidPath := pidFilePath(cfg.Storage.DataDir)
	healthClient := &http.Client{Timeout: 2 * time.Second}
	if resp, err := healthClient.Get(fmt.Sprintf("http://127.0.0.1:%d/health", cfg.Server.Port)); err == nil {
		resp.Body.Close()
		if pid, pidErr := readPIDFile(pidPath); pidErr == nil {
			return fmt.Errorf("server already running (PID %d)", pid)
		}
		return fmt.Errorf("server already running on port %d", cfg.Server.Port)
	}
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer os.Remove(pidPath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	eng := engine.NewOllamaEngine(cfg.Ollama.BaseURL)
	models := []string{cfg.Ollama.EmbedModel}
	if cfg.Generation.Backend == generation.BackendOllama {
		models = append(models, cfg.Generation.Model)
	}
	if err := engine.EnsureReady(ctx, eng, os.Stderr, models...); err != nil {
		return err
	}

	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			slog.Warn("closing storage", "error", err)
		}
	}()

	loader, closeLoader, err := recordstore.New(ctx, cfg, store)
	if err != nil {
		return fmt.Errorf("opening record store: %w", err)
	}
	defer closeLoader(context.Background())

	gen, err := generation.New(ctx, cfg.Generation, eng)
	if err != nil {
		return fmt.Errorf("creating generation provider: %w", err)
	}
	slog.Info("generation provider ready", "backend", gen.Name(), "model", gen.Model())

	history, err := conversation.New(cfg.Conversation.MaxSessions, cfg.Conversation.MaxTurns)
	if err != nil {
		return fmt.Errorf("creating conversation store: %w", err)
	}

	m := metrics.New()
	embedder := retrieval.NewCachedEmbedder(
		retrieval.NewEmbedder(eng, cfg.Ollama.EmbedModel),
		retrieval.NewSQLiteCache(store.DB()),
	)
	p := pipeline.New(pipeline.Deps{
		Loader:    loader,
		Embedder:  embedder,
		Generator: gen,
		History:   history,
		Renderer:  render.NewMarkdown(),
		Recorder:  store,
		Observer:  m,
		Composer: composer.Options{
			LinkBase:    cfg.Links.JiraBaseURL,
			PromptTurns: cfg.Conversation.PromptTurns,
		},
		TopK:      cfg.Retrieval.TopK,
		Threshold: cfg.Retrieval.Threshold,
	})
	if err := p.Initialize(ctx); err != nil {
		slog.Error("initial load failed; queries are refused until a reload succeeds", "error", err)
	}

	var incidents ingest.IncidentFetcher
	if cfg.Links.ServiceNowURL != "" {
		incidents = ingest.NewServiceNowClient(cfg.Links.ServiceNowURL, cfg.ServiceNow)
	}
	worker := ingest.NewWorker(store, store, incidents, cfg.Links.ServiceNowURL, 500*time.Millisecond)
	if cfg.Store.Backend == config.StoreSQLite {
		worker.OnChange(func(ctx context.Context) {
			if err := p.Reload(ctx); err != nil {
				slog.Warn("reload after ingest failed", "error", err)
			}
		})
	} else {
		slog.Info("ingested records are stored locally and not served by this store backend", "backend", cfg.Store.Backend)
	}
	go worker.Run(ctx)

	if cfg.Admin.Token == "" {
		slog.Warn("admin.token is not set; admin API disabled")
	}
	handler := api.NewHandler(api.Deps{
		Pipeline:       p,
		Sanitizer:      render.NewPolicy(),
		Metrics:        m.Handler(),
		AllowedOrigins: cfg.Server.Origins(),
		Admin: &api.AdminDeps{
			Token:        cfg.Admin.Token,
			Interactions: store,
			Jobs:         store,
			Observer:     m,
		},
	})

	if cfg.Server.MCPEnabled {
		mcpSrv := api.NewMCPServer(api.MCPDeps{
			Pipeline:     p,
			Interactions: store,
			Version:      version,
		})
		stdioSrv := server.NewStdioServer(mcpSrv)
		go func() {
			if err := stdioSrv.Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
				slog.Error("MCP stdio server error", "error", err)
			}
		}()
		slog.Info("MCP server started (stdio transport)")
	}

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext: func(_ net.Listener) context.Context {
			return ctx
		},
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("bugbuster listening", "addr", addr)
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

func stopServer() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("could not load config: %w", err)
	}

	pidPath := pidFilePath(cfg.Storage.DataDir)
	pid, err := readPIDFile(pidPath)
	if err != nil {
		return fmt.Errorf("bugbuster is not running (no PID file): %w", err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		return fmt.Errorf("could not find process %d: %w", pid, err)
	}
	if err := process.Signal(syscall.SIGTERM); err != nil {
		os.Remove(pidPath)
		return fmt.Errorf("could not stop bugbuster (PID %d): %w", pid, err)
	}

	printSuccess("Sent stop signal to bugbuster (PID %d)", pid)
	return nil
}

func showStatus(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := config.Load()
	if err != nil {
		printError("config error: %v", err)
		return nil
	}
	client, err := newAPIClient()
	if err != nil {
		return err
	}
	client.httpClient.Timeout = 2 * time.Second

	st, running := fetchStats(ctx, client)
	switch {
	case !running:
		printStatus("Server", "stopped")
	case st.Ready:
		printStatus("Server", "running on port %d", cfg.Server.Port)
		printStatus("Records", "%d (dimension %d, loaded %s)", st.Records, st.Dimension, st.LoadedAt.Format(time.RFC3339))
	default:
		printStatus("Server", "running on port %d, not ready", cfg.Server.Port)
	}
	if st.LastError != "" {
		printStatus("Last load error", "%s", st.LastError)
	}

	eng := engine.NewOllamaEngine(cfg.Ollama.BaseURL)
	if eng.IsRunning(ctx) {
		printStatus("Ollama", "running at %s", cfg.Ollama.BaseURL)
	} else {
		printStatus("Ollama", "not running")
	}

	printStatus("Embed model", "%s", cfg.Ollama.EmbedModel)
	printStatus("Generation", "%s (%s)", cfg.Generation.Backend, cfg.Generation.Model)
	printStatus("Record store", "%s", cfg.Store.Backend)
	printStatus("Data dir", "%s", cfg.Storage.DataDir)
	return nil
}

// fetchStats reads /ready, which answers 503 with the same body until the
// first snapshot loads.
func fetchStats(ctx context.Context, client *apiClient) (pipeline.Stats, bool) {
	var st pipeline.Stats
	resp, err := client.get(ctx, "/ready")
	if err != nil {
		return st, false
	}
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
		return pipeline.Stats{}, true
	}
	return st, true
}
