package main

import (
	"context"
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

	"github.com/kalambet/techne/internal/api"
	"github.com/kalambet/techne/internal/config"
	"github.com/kalambet/techne/internal/conversation"
	"github.com/kalambet/techne/internal/engine"
	"github.com/kalambet/techne/internal/ingest"
	"github.com/kalambet/techne/internal/intent"
	"github.com/kalambet/techne/internal/prefs"
	"github.com/kalambet/techne/internal/provider"
	"github.com/kalambet/techne/internal/ranking"
	"github.com/kalambet/techne/internal/retrieval"
	"github.com/kalambet/techne/internal/router"
	"github.com/kalambet/techne/internal/search"
	"github.com/kalambet/techne/internal/storage"
	"github.com/kalambet/techne/internal/tagging"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the techne server (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		withMCP, _ := cmd.Flags().GetBool("mcp")
		return runServer(withMCP)
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running techne server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return stopServer()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show techne system status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus(cmd.Context())
	},
}

func init() {
	startCmd.Flags().Bool("mcp", true, "serve MCP over stdin/stdout")
}

func pidFilePath(dataDir string) string {
	return filepath.Join(dataDir, "techne.pid")
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

func runServer(withMCP bool) error {
	fmt.Fprintf(os.Stderr, "techne version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	// The level follows the log_level setting once prefs are loaded.
	var logLevel slog.LevelVar
	if lvl, err := prefs.ParseLevel(cfg.Log.Level); err == nil {
		logLevel.Set(lvl)
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: &logLevel})))

	pidPath := pidFilePath(cfg.Storage.DataDir)
	healthURL := fmt.Sprintf("http://127.0.0.1:%d/health", cfg.Server.Port)
	healthClient := &http.Client{Timeout: 2 * time.Second}
	if resp, err := healthClient.Get(healthURL); err == nil {
		resp.Body.Close()
		if pid, pidErr := readPIDFile(pidPath); pidErr == nil {
			printWarning("techne is already running (PID %d)", pid)
			return fmt.Errorf("server already running (PID %d)", pid)
		}
		printWarning("techne is already running on port %d", cfg.Server.Port)
		return fmt.Errorf("server already running on port %d", cfg.Server.Port)
	}
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer removePIDFile(pidPath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	eng, err := engine.Detect(engine.DetectConfig{
		Backend: cfg.Model.Backend,
		BaseURL: cfg.Model.BaseURL,
		APIKey:  cfg.Model.APIKey,
	})
	if err != nil {
		return fmt.Errorf("detecting model backend: %w", err)
	}
	models := []string{cfg.Model.ChatModel, cfg.Model.EmbedModel}
	if err := engine.EnsureReady(ctx, eng, models, cfg.Model.PullMissing, os.Stderr); err != nil {
		return fmt.Errorf("%w: %v", provider.ErrModelUnavailable, err)
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

	embedder := retrieval.NewEmbedder(eng, cfg.Model.EmbedModel, cfg.Model.EmbedDim).
		WithCache(retrieval.NewCache(store.DB()))
	adapter := provider.New(eng, embedder, provider.Options{
		DefaultModel: cfg.Model.ChatModel,
		PullMissing:  cfg.Model.PullMissing,
	})
	defer adapter.Close()

	ranker, err := ranking.New(cfg.Ranking.Strategy, adapter, adapter, cfg.Model.ChatModel)
	if err != nil {
		return err
	}
	matcher := ranking.NewMatcher(adapter)
	detector := intent.NewDetector(adapter, cfg.Model.ChatModel)

	var rt *router.Router
	chatDefaults := prefs.DefaultChat
	chatDefaults.Model = cfg.Model.ChatModel
	prefsMgr := prefs.NewManager(store, prefs.Defaults{Chat: chatDefaults, LogLevel: cfg.Log.Level},
		prefs.WithOnChange(func(key storage.SettingKey, p prefs.Prefs) {
			if key == storage.SettingLogLevel {
				if lvl, err := prefs.ParseLevel(p.LogLevel); err == nil {
					logLevel.Set(lvl)
				}
			}
			if rt != nil {
				rt.SettingsChanged()
			}
		}))
	if lvl, err := prefs.ParseLevel(prefsMgr.LogLevel(ctx)); err == nil {
		logLevel.Set(lvl)
	}

	rt = router.New(router.Deps{
		Store:    store,
		Ranker:   ranker,
		Matcher:  matcher,
		Detector: detector,
		Prefs:    prefsMgr,
	}, router.Config{
		FeatureEnabled: cfg.Ranking.FeatureEnabled,
		HistorySize:    cfg.Ranking.HistorySize,
		MatchLimit:     cfg.Ranking.DisplayLimit,
		WarmEmbeddings: true,
	})

	source := tagging.NewClient(tagging.Options{
		BaseURL:    cfg.Tagging.BaseURL,
		ListingURL: cfg.Tagging.ListingURL,
		Timeout:    cfg.Tagging.Timeout,
	})
	orchestrator := search.New(source, matcher, search.Config{
		MaxItems:     cfg.Search.MaxItems,
		TagTypes:     cfg.Search.TagTypeList(),
		MatchTimeout: cfg.Search.MatchTimeout,
		MatchLimit:   cfg.Search.MatchLimit,
	},
		search.WithRecorder(rt),
		search.WithState(store),
		search.WithPacer(search.SleepPacer{Delay: cfg.Search.StageDelay}),
	)
	rt.SetSearcher(orchestrator)

	convMgr := conversation.NewManager(store, rt.ConversationsChanged)
	assistant := conversation.NewAssistant(conversation.AssistantConfig{
		Manager:   convMgr,
		Detector:  detector,
		Searcher:  orchestrator,
		Chat:      adapter,
		Prefs:     prefsMgr,
		Interests: store,
		Threshold: cfg.Search.IntentThreshold,
	})

	handler := api.NewHandler(api.Deps{
		Router:        rt,
		Prefs:         prefsMgr,
		Conversations: convMgr,
		Assistant:     assistant,
		Models:        eng,
		Token:         cfg.Server.APIToken,
	})

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: handler,
		BaseContext: func(_ net.Listener) context.Context {
			return ctx
		},
	}

	worker := ingest.NewWorker(store, embedder, 500*time.Millisecond)
	go worker.Run(ctx)

	if withMCP {
		mcpSrv := api.NewMCPServer(api.MCPDeps{Router: rt, Version: version})
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
		fmt.Fprintf(os.Stderr, "techne listening on %s\n", addr)
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
		printError("could not load config: %v", err)
		return err
	}

	pidPath := pidFilePath(cfg.Storage.DataDir)
	pid, err := readPIDFile(pidPath)
	if err != nil {
		printError("techne is not running (no PID file)")
		return fmt.Errorf("not running: %w", err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		printError("could not find process %d", pid)
		return err
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		printError("could not stop techne (PID %d): %v", pid, err)
		removePIDFile(pidPath)
		return err
	}

	printSuccess("Sent stop signal to techne (PID %d)", pid)
	return nil
}

func showStatus(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := config.Load()
	if err != nil {
		// Partial status is still useful.
		printError("config error: %v", err)
		return nil
	}

	client := &apiClient{
		baseURL:    fmt.Sprintf("http://127.0.0.1:%d", cfg.Server.Port),
		token:      cfg.Server.APIToken,
		httpClient: &http.Client{Timeout: 2 * time.Second},
	}

	running := false
	resp, err := client.get(ctx, "/health")
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

	eng, err := engine.Detect(engine.DetectConfig{
		Backend: cfg.Model.Backend,
		BaseURL: cfg.Model.BaseURL,
		APIKey:  cfg.Model.APIKey,
	})
	if err == nil && eng.IsRunning(ctx) {
		printStatus("Backend", "%s at %s", cfg.Model.Backend, cfg.Model.BaseURL)
	} else {
		printStatus("Backend", "%s not reachable", cfg.Model.Backend)
	}

	printStatus("Chat model", "%s", cfg.Model.ChatModel)
	printStatus("Embed model", "%s", cfg.Model.EmbedModel)
	printStatus("Ranking", "%s", cfg.Ranking.Strategy)

	if running {
		var tags []storage.Tag
		if r, err := client.get(ctx, "/tags"); err == nil && decodeJSON(r, &tags) == nil {
			printStatus("Tags", "%d", len(tags))
		}
		var searches []storage.Search
		if r, err := client.get(ctx, "/searches"); err == nil && decodeJSON(r, &searches) == nil {
			printStatus("Searches", "%d", len(searches))
		}
	}

	printStatus("Data dir", "%s", cfg.Storage.DataDir)
	return nil
}
