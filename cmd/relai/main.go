// Command relai is the main entry point for the relai LLM orchestration server.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/patchwell/relai/internal/app"
	"github.com/patchwell/relai/internal/config"
	"github.com/patchwell/relai/internal/observe"
	"github.com/patchwell/relai/internal/router"
)

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	chat := flag.Bool("chat", false, "start an interactive chat session on stdin")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "relai: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "relai: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	logger := newLogger(cfg.Server.LogLevel)
	slog.SetDefault(logger)

	slog.Info("relai starting",
		"config", *configPath,
		"metrics_addr", cfg.Server.MetricsAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	telemetry, err := observe.Setup("relai")
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := telemetry.Shutdown(flushCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Application ───────────────────────────────────────────────────────────
	application, err := app.New(ctx, cfg)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	printStartupSummary(cfg)
	slog.Info("server ready — press Ctrl+C to shut down")

	// The chat loop runs in a separate goroutine; ending it (via /quit or
	// stdin EOF) stops the whole process through the signal context.
	if *chat {
		go func() {
			if err := chatLoop(ctx, application); err != nil && !errors.Is(err, context.Canceled) {
				slog.Error("chat error", "err", err)
			}
			stop()
		}()
	}

	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("shutdown signal received, stopping…")

	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// ── Interactive chat ────────────────────────────────────────────────────────────

// chatLoop reads lines from stdin and drives the conversation manager.
// Lines starting with /ask go through the answer engine, /task through the
// agent, and /quit ends the session. Everything else is a chat message.
func chatLoop(ctx context.Context, application *app.App) error {
	conv, err := application.Conversations().Create(ctx, "", "interactive session")
	if err != nil {
		return fmt.Errorf("create conversation: %w", err)
	}

	fmt.Println("chat ready: /ask <question> for retrieval answers, /task <task> for the agent, /quit to exit")

	scanner := bufio.NewScanner(os.Stdin)
	fmt.Print("> ")
	for scanner.Scan() {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		switch {
		case line == "":

		case line == "/quit":
			return nil

		case strings.HasPrefix(line, "/ask "):
			res, err := application.Answers().Answer(ctx, strings.TrimPrefix(line, "/ask "), router.Options{})
			if err != nil {
				fmt.Printf("error: %v\n", err)
				break
			}
			fmt.Printf("%s\n(confidence %.2f, %d sources)\n", res.Answer, res.Confidence, len(res.Sources))

		case strings.HasPrefix(line, "/task "):
			res, err := application.Agent().Run(ctx, strings.TrimPrefix(line, "/task "))
			if err != nil {
				fmt.Printf("error: %v\n", err)
				break
			}
			fmt.Printf("%s\n(%d steps, %d tool calls)\n", res.Answer, len(res.Steps), len(res.ToolCalls))

		default:
			stream, err := application.Conversations().StreamMessage(ctx, conv.ID, line, router.Options{})
			if err != nil {
				fmt.Printf("error: %v\n", err)
				break
			}
			for chunk := range stream {
				if chunk.Err != nil {
					fmt.Printf("\nstream error: %v", chunk.Err)
					break
				}
				fmt.Print(chunk.Content)
			}
			fmt.Println()
		}
		fmt.Print("> ")
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read stdin: %w", err)
	}
	return nil
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║          relai — startup summary      ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printField("Strategy", string(cfg.Router.Strategy))
	printField("Providers", fmt.Sprintf("%d configured", len(cfg.Providers)))
	printField("Default", cfg.Router.DefaultProvider)
	printField("MCP servers", fmt.Sprintf("%d", len(cfg.Agent.MCPServers)))
	if cfg.Retriever.PostgresDSN != "" {
		printField("Retrieval", "pgvector")
	} else {
		printField("Retrieval", "in-memory")
	}
	if cfg.Server.MetricsAddr != "" {
		printField("Metrics", cfg.Server.MetricsAddr)
	}
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printField(name, value string) {
	if value == "" {
		value = "(not configured)"
	}
	if len(value) > 19 {
		value = value[:16] + "…"
	}
	fmt.Printf("║  %-14s  : %-19s ║\n", name, value)
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func newLogger(level config.LogLevel) *slog.Logger {
	var lvl slog.Level
	switch level {
	case config.LogDebug:
		lvl = slog.LevelDebug
	case config.LogWarn:
		lvl = slog.LevelWarn
	case config.LogError:
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
