package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/OmidH/llm-to-matrix/internal/daemon"
)

var (
	version = "dev"
	commit  = "unknown"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:          "llmbot",
	Short:        "Matrix bot that forwards commands to an LLM inference API",
	SilenceUsage: true,
	RunE:         runBot,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Connect to Matrix and answer commands",
	RunE:  runBot,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version and exit",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "llmbot %s (%s)\n", version, commit)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to config file (default $LLMBOT_CONFIG_PATH or config.yaml)")
	rootCmd.AddCommand(runCmd, historyCmd, versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadConfig resolves the config path and installs the configured logger.
func loadConfig() (*daemon.Config, func(), error) {
	cp := configPath
	if cp == "" {
		cp = os.Getenv("LLMBOT_CONFIG_PATH")
	}
	if cp == "" {
		cp = "config.yaml"
	}

	cfg, err := daemon.LoadConfig(cp)
	if err != nil {
		return nil, nil, fmt.Errorf("load config %s: %w", cp, err)
	}

	logger, closer, err := daemon.NewLogger(cfg.Logging)
	if err != nil {
		return nil, nil, err
	}
	slog.SetDefault(logger)
	return cfg, func() { closer.Close() }, nil
}

func runBot(cmd *cobra.Command, args []string) error {
	cfg, closeLog, err := loadConfig()
	if err != nil {
		return err
	}
	defer closeLog()

	slog.Info("llmbot starting", "version", version, "database", cfg.Storage.Database)

	// Graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		slog.Info("received signal, shutting down", "signal", sig)
		cancel()
	}()

	d, err := daemon.New(ctx, cfg)
	if err != nil {
		slog.Error("failed to create daemon", "error", err)
		return err
	}
	defer d.Close()

	if err := d.Run(ctx); err != nil && ctx.Err() == nil {
		slog.Error("daemon error", "error", err)
		return err
	}

	slog.Info("llmbot stopped")
	return nil
}
