// Command xarb runs the cross-venue arbitrage bot. It loads configuration,
// validates it, sets up signal handling, and starts the configured mode.
//
//	xarb -config config.toml
//	xarb encrypt-secret -out secret.json   (reads the secret and password from env)
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/alanyoungcy/xarb/internal/app"
	"github.com/alanyoungcy/xarb/internal/config"
	"github.com/alanyoungcy/xarb/internal/crypto"
)

func main() {
	if len(os.Args) > 1 && os.Args[1] == "encrypt-secret" {
		if err := encryptSecret(os.Args[2:]); err != nil {
			fmt.Fprintf(os.Stderr, "encrypt-secret: %v\n", err)
			os.Exit(1)
		}
		return
	}

	configPath := flag.String("config", "config.toml", "path to configuration file")
	flag.Parse()

	logger := newLogger("info")
	slog.SetDefault(logger)

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("failed to load config",
			slog.String("path", *configPath),
			slog.String("error", err.Error()),
		)
		os.Exit(1)
	}

	logger = newLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}

	logger.Info("xarb starting",
		slog.String("mode", cfg.Mode),
		slog.String("config", *configPath),
	)

	application := app.New(cfg, logger)
	defer application.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("application exited with error",
			slog.String("error", err.Error()),
		)
		application.Close()
		os.Exit(1)
	}

	logger.Info("xarb stopped")
}

func newLogger(level string) *slog.Logger {
	var l slog.Level
	switch strings.ToLower(level) {
	case "debug":
		l = slog.LevelDebug
	case "warn":
		l = slog.LevelWarn
	case "error":
		l = slog.LevelError
	default:
		l = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: l}))
}

// encryptSecret writes an encrypted API secret file for use as a venue's
// encrypted_secret_path. The secret and password come from the environment
// so they never appear in shell history.
func encryptSecret(args []string) error {
	fs := flag.NewFlagSet("encrypt-secret", flag.ContinueOnError)
	out := fs.String("out", "secret.json", "output path")
	secretEnv := fs.String("secret-env", "XARB_SECRET", "environment variable holding the API secret")
	passwordEnv := fs.String("password-env", "XARB_SECRET_PASSWORD", "environment variable holding the password")
	if err := fs.Parse(args); err != nil {
		return err
	}

	blob, err := crypto.EncryptSecret(os.Getenv(*secretEnv), os.Getenv(*passwordEnv))
	if err != nil {
		return err
	}
	if err := os.WriteFile(*out, blob, 0o600); err != nil {
		return fmt.Errorf("write %s: %w", *out, err)
	}
	fmt.Printf("wrote %s\n", *out)
	return nil
}
