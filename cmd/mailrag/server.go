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

	"github.com/kalambet/mailrag/internal/api"
	"github.com/kalambet/mailrag/internal/engine"
	"github.com/kalambet/mailrag/internal/fsutil"
	"github.com/kalambet/mailrag/internal/storage"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API and the scheduled refresh loop (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		withMCP, _ := cmd.Flags().GetBool("mcp")
		noRefresh, _ := cmd.Flags().GetBool("no-refresh")
		return runServer(withMCP, noRefresh)
	},
}

func init() {
	serveCmd.Flags().Bool("mcp", false, "also serve MCP tools over stdio")
	serveCmd.Flags().Bool("no-refresh", false, "disable the scheduled refresh loop")
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running mailrag server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return stopServer()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show corpus, index and server status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus(cmd.Context())
	},
}

func pidFilePath(dataDir string) string {
	return filepath.Join(dataDir, "mailrag.pid")
}

func writePIDFile(path string) error {
	return fsutil.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o644)
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

func runServer(withMCP, noRefresh bool) error {
	slog.Info("starting mailrag", "version", version)

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := cfg.RequireAPIKey(); err != nil {
		return err
	}

	pidPath := pidFilePath(cfg.Storage.DataDir)
	healthURL := fmt.Sprintf("http://127.0.0.1:%d/health", cfg.Server.Port)
	healthClient := &http.Client{Timeout: 2 * time.Second}
	if resp, err := healthClient.Get(healthURL); err == nil {
		resp.Body.Close()
		if pid, pidErr := readPIDFile(pidPath); pidErr == nil {
			printWarning("mailrag is already running (PID %d)", pid)
			return fmt.Errorf("server already running (PID %d)", pid)
		}
		printWarning("mailrag is already running on port %d", cfg.Server.Port)
		return fmt.Errorf("server already running on port %d", cfg.Server.Port)
	}
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer removePIDFile(pidPath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			slog.Warn("closing storage", "error", err)
		}
	}()

	if mm, ok := a.engine.(engine.ModelManager); ok {
		printStep("Checking %s models", cfg.Engine.Provider)
		if err := engine.EnsureModels(ctx, mm, []string{cfg.EmbedModel(), cfg.ChatModel()}, os.Stderr); err != nil {
			slog.Warn("local models not ready; search and ask will fail until they are", "base_url", cfg.Ollama.BaseURL, "error", err)
		}
	} else if !a.engine.IsRunning(ctx) {
		slog.Warn("OpenAI-compatible endpoint not reachable; search and ask will fail until it is", "base_url", cfg.OpenAI.BaseURL)
	}

	deps := api.Deps{
		Retriever: a.retriever,
		Assistant: a.assistant,
		TopK:      cfg.Retrieval.TopK,
		Logger:    slog.Default().With("component", "api"),
	}

	coord, err := a.coordinator(ctx)
	if err != nil {
		slog.Warn("refresh disabled: mail source unavailable", "error", err)
	} else {
		deps.Refresher = coord
		if !noRefresh {
			go coord.Run(ctx)
		}
	}

	if withMCP {
		stdioSrv := server.NewStdioServer(api.NewMCPServer(deps, version))
		go func() {
			if err := stdioSrv.Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
				slog.Error("MCP stdio server error", "error", err)
			}
		}()
		slog.Info("MCP server started (stdio transport)")
	}

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: api.NewHandler(deps),
		BaseContext: func(_ net.Listener) context.Context {
			return ctx
		},
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("mailrag listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		slog.Info("shutting down")
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
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	pidPath := pidFilePath(cfg.Storage.DataDir)
	pid, err := readPIDFile(pidPath)
	if err != nil {
		printError("mailrag is not running (no PID file)")
		return fmt.Errorf("not running: %w", err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		printError("could not find process %d", pid)
		return err
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		printError("could not stop mailrag (PID %d): %v", pid, err)
		removePIDFile(pidPath)
		return err
	}

	printSuccess("Sent stop signal to mailrag (PID %d)", pid)
	return nil
}

func showStatus(ctx context.Context) error {
	cfg, err := loadConfig()
	if err != nil {
		printError("config error: %v", err)
		return nil
	}

	client := &http.Client{Timeout: 2 * time.Second}
	resp, err := client.Get(fmt.Sprintf("http://127.0.0.1:%d/health", cfg.Server.Port))
	if err != nil {
		printStatus("Server", "stopped")
	} else {
		resp.Body.Close()
		if resp.StatusCode == http.StatusOK {
			printStatus("Server", "running on port %d", cfg.Server.Port)
		} else {
			printStatus("Server", "error (HTTP %d)", resp.StatusCode)
		}
	}

	return withApp(false, func(a *app) error {
		records, err := a.corpus.Load()
		if err != nil {
			printStatus("Corpus", "unreadable: %v", err)
		} else {
			printStatus("Corpus", "%d of %d emails", len(records), cfg.Corpus.MaxEmails)
			if len(records) > 0 {
				printStatus("Newest", "%s", records[0].Date)
			}
		}
		if wm, err := a.corpus.Watermark(); err == nil && wm != "" {
			printStatus("Last seen id", "%s", wm)
		}

		if snap, err := a.index.Load(); err != nil {
			printStatus("Index", "unavailable")
		} else {
			printStatus("Index", "%s (%d vectors, dim %d)", snap.Generation, snap.Len(), snap.Index.Dim())
		}

		run, err := a.history.LastRefreshRun(ctx)
		switch {
		case errors.Is(err, storage.ErrNotFound):
			printStatus("Last refresh", "never")
		case err != nil:
			printStatus("Last refresh", "unknown: %v", err)
		case run.Error != "":
			printStatus("Last refresh", "%s failed: %s", run.StartedAt.Local().Format(time.DateTime), run.Error)
		default:
			printStatus("Last refresh", "%s (+%d emails, %d indexed)", run.StartedAt.Local().Format(time.DateTime), run.Added, run.Indexed)
		}

		printStatus("Source", "%s", cfg.Ingest.Source)
		printStatus("Engine", "%s", cfg.Engine.Provider)
		printStatus("Embed model", "%s", cfg.EmbedModel())
		printStatus("Chat model", "%s", cfg.ChatModel())
		printStatus("Data dir", "%s", cfg.Storage.DataDir)
		return nil
	})
}
