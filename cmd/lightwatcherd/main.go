// Command lightwatcherd is the main entry point for the bird HTTP gateway.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/lightwatcher/lightwatcher/internal/api"
	"github.com/lightwatcher/lightwatcher/internal/config"
	"github.com/lightwatcher/lightwatcher/internal/gateway"
)

var (
	version   = "dev"
	buildTime = "unknown"
)

func main() {
	var (
		configPath = flag.String("config", "", "Path to optional YAML overlay file")
		listen     = flag.String("listen", "", "Override HTTP listen address")
		birdCtl    = flag.String("bird-ctl", "", "Override bird control socket path")
		logLevel   = flag.String("log-level", "", "Override log level (debug/info/warn/error)")
		showVer    = flag.Bool("version", false, "Show version and exit")
	)
	flag.Parse()

	if *showVer {
		fmt.Printf("lightwatcher %s (built %s)\n", version, buildTime)
		os.Exit(0)
	}
	if version != "dev" {
		api.Version = version
	}

	// Load configuration: defaults, optional overlay file, environment.
	cfg, err := config.FromEnvWithOverlay(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	// Apply CLI overrides
	if *listen != "" {
		cfg.Listen = *listen
	}
	if *birdCtl != "" {
		cfg.BirdCtl = *birdCtl
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}

	// Initialize logger
	log, err := newLogger(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error initializing logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	log.Info("lightwatcher starting",
		zap.String("version", version),
		zap.String("listen", cfg.Listen),
		zap.String("bird_ctl", cfg.BirdCtl),
	)
	cfg.LogEnv(log)

	// Create and start the gateway
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	gw := gateway.New(log, cfg)
	if err := gw.Start(ctx); err != nil {
		log.Fatal("failed to start gateway", zap.Error(err))
	}

	// Wait for termination signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	log.Info("received signal, shutting down...", zap.String("signal", sig.String()))

	cancel()
	gw.Stop()

	log.Info("lightwatcher stopped")
}

func newLogger(level string) (*zap.Logger, error) {
	var zapLevel zapcore.Level
	switch level {
	case "debug":
		zapLevel = zapcore.DebugLevel
	case "warn":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	default:
		zapLevel = zapcore.InfoLevel
	}

	cfg := zap.Config{
		Level:       zap.NewAtomicLevelAt(zapLevel),
		Development: false,
		Encoding:    "json",
		EncoderConfig: zapcore.EncoderConfig{
			TimeKey:        "ts",
			LevelKey:       "level",
			NameKey:        "logger",
			CallerKey:      "caller",
			MessageKey:     "msg",
			StacktraceKey:  "stacktrace",
			LineEnding:     zapcore.DefaultLineEnding,
			EncodeLevel:    zapcore.LowercaseLevelEncoder,
			EncodeTime:     zapcore.ISO8601TimeEncoder,
			EncodeDuration: zapcore.SecondsDurationEncoder,
			EncodeCaller:   zapcore.ShortCallerEncoder,
		},
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
	}

	return cfg.Build()
}
