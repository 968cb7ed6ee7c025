package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
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

	"github.com/kalambet/payq/internal/api"
	"github.com/kalambet/payq/internal/config"
	"github.com/kalambet/payq/internal/engine"
	"github.com/kalambet/payq/internal/kb"
	"github.com/kalambet/payq/internal/knowledge"
	"github.com/kalambet/payq/internal/orchestrator"
	"github.com/kalambet/payq/internal/payment"
	"github.com/kalambet/payq/internal/synth"
	"github.com/kalambet/payq/internal/workflow"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the payq server (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer()
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running payq server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return stopServer()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show payq system status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus()
	},
}

func pidFilePath(dataDir string) string {
	return filepath.Join(dataDir, "payq.pid")
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

func parseDurationOr(value string, fallback time.Duration, key string) time.Duration {
	d, err := time.ParseDuration(value)
	if err != nil {
		slog.Warn("invalid duration in config, using default", "key", key, "value", value, "default", fallback)
		return fallback
	}
	return d
}

func runServer() error {
	fmt.Fprintf(os.Stderr, "payq version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	// Initialize structured logging.
	logLevel := slog.LevelInfo
	if strings.EqualFold(cfg.Log.Level, "debug") {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})))

	// Write PID file. Check if server is already running via health endpoint.
	pidPath := pidFilePath(cfg.Storage.DataDir)
	healthURL := fmt.Sprintf("http://127.0.0.1:%d/health", cfg.Server.Port)
	healthClient := &http.Client{Timeout: 2 * time.Second}
	if resp, err := healthClient.Get(healthURL); err == nil {
		resp.Body.Close()
		if pid, pidErr := readPIDFile(pidPath); pidErr == nil {
			printWarning("payq is already running (PID %d)", pid)
			return fmt.Errorf("server already running (PID %d)", pid)
		}
		printWarning("payq is already running on port %d", cfg.Server.Port)
		return fmt.Errorf("server already running on port %d", cfg.Server.Port)
	}
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer removePIDFile(pidPath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Check local inference engine readiness. The chat model is only needed
	// when answers are synthesized locally.
	eng := engine.NewOllamaEngine(cfg.Ollama.BaseURL)
	chatModel := ""
	if cfg.Synth.APIKey == "" {
		chatModel = cfg.Ollama.ChatModel
	}
	if err := engine.EnsureReady(ctx, eng, chatModel, cfg.Ollama.EmbedModel, os.Stderr); err != nil {
		return err
	}

	// Knowledge base registry and pipeline.
	registry := kb.NewRegistry(cfg.Storage.DataDir)
	defer func() {
		if err := registry.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: closing knowledge bases: %v\n", err)
		}
	}()

	embedder := engine.NewEmbedder(eng, cfg.Ollama.EmbedModel)

	var synthesizer knowledge.Synthesizer
	if cfg.Synth.APIKey != "" {
		synthesizer = synth.NewClient(cfg.Synth.APIKey, cfg.Synth.BaseURL, cfg.Synth.Model)
		slog.Info("answer synthesis via remote endpoint", "base_url", cfg.Synth.BaseURL, "model", cfg.Synth.Model)
	} else {
		synthesizer = synth.NewLocal(eng, cfg.Ollama.ChatModel)
		slog.Info("no synthesis API key configured, using local chat model", "model", cfg.Ollama.ChatModel)
	}

	knowledgeEngine := knowledge.NewEngine(embedder, synthesizer, registry, knowledge.Config{
		Threshold:          float32(cfg.Knowledge.Threshold),
		TopK:               cfg.Knowledge.TopK,
		MaxEntities:        cfg.Knowledge.MaxEntities,
		MaxRelations:       cfg.Knowledge.MaxRelations,
		MaxInverseEntities: cfg.Knowledge.MaxInverseEntities,
	})

	// Payment gate.
	var validator payment.Validator
	switch cfg.Payment.Mode {
	case "evm":
		validator = payment.NewEVMValidator(payment.EVMConfig{
			RPCURL:           cfg.Payment.RPCURL,
			TokenAddress:     cfg.Payment.TokenAddress,
			CreditsAddress:   cfg.Payment.CreditsAddress,
			MinAmount:        cfg.Payment.MinAmount,
			MinConfirmations: int64(cfg.Payment.MinConfirmations),
		})
		slog.Info("payment validation enabled", "rpc_url", cfg.Payment.RPCURL, "min_confirmations", cfg.Payment.MinConfirmations)
	default:
		validator = payment.StaticValidator{}
		slog.Info("payment validation disabled")
	}

	// Workflow store with TTL eviction, orchestration actors, facade.
	store := workflow.NewStore()
	go store.RunJanitor(ctx,
		parseDurationOr(cfg.Orchestrator.JanitorInterval, time.Minute, "orchestrator.janitor_interval"),
		parseDurationOr(cfg.Orchestrator.RetainTerminal, 5*time.Minute, "orchestrator.retain_terminal"),
		parseDurationOr(cfg.Orchestrator.RetainOrphaned, 10*time.Minute, "orchestrator.retain_orphaned"),
	)

	controller := orchestrator.NewController(store, validator, knowledgeEngine)
	controller.Run(ctx)

	facade := orchestrator.NewFacade(controller, store, orchestrator.FacadeConfig{
		Timeout:      parseDurationOr(cfg.Orchestrator.AskTimeout, 60*time.Second, "orchestrator.ask_timeout"),
		PollInterval: parseDurationOr(cfg.Orchestrator.PollInterval, 500*time.Millisecond, "orchestrator.poll_interval"),
		UsePolling:   cfg.Orchestrator.WaitMode == "poll",
	})

	// Build HTTP handler and server.
	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
	health := orchestrator.NewHealth("payq", addr)
	handler := api.NewHandler(api.Deps{
		Facade: facade,
		Health: health,
		Token:  cfg.API.Token,
	})

	srv := &http.Server{
		Addr:    addr,
		Handler: handler,
	}

	// Build and start MCP server (stdio transport in a goroutine). MCP
	// queries are local and payment-exempt; they hit the knowledge pipeline
	// directly.
	mcpSrv := api.NewMCPServer(api.MCPDeps{Processor: knowledgeEngine})
	stdioSrv := server.NewStdioServer(mcpSrv)
	go func() {
		if err := stdioSrv.Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("MCP stdio server error", "error", err)
		}
	}()
	slog.Info("MCP server started (stdio transport)")

	// Start server in a goroutine.
	errCh := make(chan error, 1)
	go func() {
		fmt.Fprintf(os.Stderr, "payq listening on %s\n", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	// Wait for signal or server error.
	select {
	case <-ctx.Done():
		fmt.Fprintln(os.Stderr, "shutting down...")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	// Graceful shutdown with timeout.
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
		printError("payq is not running (no PID file)")
		return fmt.Errorf("not running: %w", err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		printError("could not find process %d", pid)
		return err
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		printError("could not stop payq (PID %d): %v", pid, err)
		removePIDFile(pidPath)
		return err
	}

	printSuccess("Sent stop signal to payq (PID %d)", pid)
	return nil
}

func showStatus() error {
	cfg, err := config.Load()
	if err != nil {
		printError("config error: %v", err)
		return nil
	}

	// Check server health.
	serverURL := fmt.Sprintf("http://127.0.0.1:%d", cfg.Server.Port)
	client := &http.Client{Timeout: 2 * time.Second}

	resp, err := client.Get(serverURL + "/health")
	if err != nil {
		printStatus("Server", "stopped")
	} else {
		resp.Body.Close()
		if resp.StatusCode == 200 {
			printStatus("Server", "running on port %d", cfg.Server.Port)
		} else {
			printStatus("Server", "error (HTTP %d)", resp.StatusCode)
		}
	}

	// Check Ollama.
	ollamaResp, err := client.Get(cfg.Ollama.BaseURL + "/api/version")
	if err != nil {
		printStatus("Ollama", "not running")
	} else {
		ollamaResp.Body.Close()
		printStatus("Ollama", "running at %s", cfg.Ollama.BaseURL)
	}

	printStatus("Embed model", "%s", cfg.Ollama.EmbedModel)
	if cfg.Synth.APIKey != "" {
		printStatus("Synthesis", "remote (%s)", cfg.Synth.Model)
	} else {
		printStatus("Synthesis", "local (%s)", cfg.Ollama.ChatModel)
	}
	printStatus("Payment mode", "%s", cfg.Payment.Mode)
	printStatus("Data dir", "%s", cfg.Storage.DataDir)
	return nil
}
