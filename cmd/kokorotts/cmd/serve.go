package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/davidtorcivia/kokoro-openai-tts/internal/app"
	"github.com/davidtorcivia/kokoro-openai-tts/internal/config"
	"github.com/davidtorcivia/kokoro-openai-tts/internal/observe"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the TTS bridge daemon",
	Long: `Run the HTTP daemon: build one speech entity per configured entry and
serve the speak, relay and health endpoints until interrupted. The
configuration file is watched for changes and entities are reconciled
without a restart.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(_ *cobra.Command, _ []string) error {
	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(cfgFile)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("config file %q not found; copy configs/example.yaml to get started", cfgFile)
		}
		return err
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	levelVar := newLevelVar(cfg.Server.LogLevel)
	setupLogger(levelVar)

	slog.Info("kokorotts starting",
		"config", cfgFile,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	var traceExporter sdktrace.SpanExporter
	if ep := cfg.Telemetry.OTLPEndpoint; ep != "" {
		expOpts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(ep)}
		if cfg.Telemetry.OTLPInsecure {
			expOpts = append(expOpts, otlptracegrpc.WithInsecure())
		}
		exp, err := otlptracegrpc.New(ctx, expOpts...)
		if err != nil {
			return fmt.Errorf("create otlp trace exporter: %w", err)
		}
		traceExporter = exp
		slog.Info("otlp trace export enabled", "endpoint", ep)
	}

	telemetryShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{
		TraceExporter: traceExporter,
	})
	if err != nil {
		return fmt.Errorf("initialise telemetry: %w", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := telemetryShutdown(flushCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Startup summary ───────────────────────────────────────────────────────
	printStartupSummary(cfg)

	application, err := app.New(cfgFile, app.WithLevelVar(levelVar))
	if err != nil {
		return fmt.Errorf("initialise application: %w", err)
	}

	slog.Info("server ready; press Ctrl+C to shut down")

	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("shutdown signal received, stopping")

	if err := application.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	slog.Info("goodbye")
	return nil
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔════════════════════════════════════════════════╗")
	fmt.Println("║           kokorotts startup summary            ║")
	fmt.Println("╠════════════════════════════════════════════════╣")
	printRow("Listen addr", cfg.Server.ListenAddr)
	publicURL := cfg.Server.PublicURL
	if publicURL == "" {
		publicURL = "(not set)"
	}
	printRow("Public URL", publicURL)
	printRow("Log level", string(cfg.Server.LogLevel))
	printRow("ffmpeg", cfg.FFmpeg.Binary)
	chimeDir := cfg.Chimes.Dir
	if chimeDir == "" {
		chimeDir = "(disabled)"
	}
	printRow("Chime dir", chimeDir)
	if cfg.Telemetry.OTLPEndpoint != "" {
		printRow("Telemetry", "otlp "+cfg.Telemetry.OTLPEndpoint)
	} else {
		printRow("Telemetry", "(metrics only)")
	}
	for i := range cfg.Entries {
		e := &cfg.Entries[i]
		eff := e.Effective(config.Overrides{})
		printRow(fmt.Sprintf("Entry %d", i+1), fmt.Sprintf("%s %s/%s", e.Engine, eff.Model, eff.Voice))
	}
	fmt.Println("╚════════════════════════════════════════════════╝")
}

func printRow(label, value string) {
	if len(value) > 28 {
		value = value[:27] + "…"
	}
	fmt.Printf("║  %-14s : %-28s ║\n", label, value)
}
