// Package daemon wires the bot together: configuration, conversation log,
// Matrix channel, inference client and the operator HTTP API.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/OmidH/llm-to-matrix/internal/bot"
	"github.com/OmidH/llm-to-matrix/internal/channel/matrix"
	"github.com/OmidH/llm-to-matrix/internal/extract"
	"github.com/OmidH/llm-to-matrix/internal/llm"
	"github.com/OmidH/llm-to-matrix/pkg/conversation"
)

// Daemon is the main bot process.
type Daemon struct {
	config *Config
	log    conversation.Log
	matrix *matrix.Channel
	bot    *bot.Bot
	events *EventBus

	startedAt time.Time
	healthyMu sync.RWMutex
	healthy   bool
}

// New opens the conversation log and builds every component.
func New(ctx context.Context, cfg *Config) (*Daemon, error) {
	if err := cfg.ensureStorePath(); err != nil {
		return nil, fmt.Errorf("prepare store path: %w", err)
	}

	log, err := conversation.Open(ctx, cfg.Storage.Database)
	if err != nil {
		return nil, fmt.Errorf("open conversation log: %w", err)
	}

	client, err := llm.NewClient(llm.ClientConfig{
		BaseURL:      cfg.LLM.BaseURL,
		GeneratePath: cfg.LLM.URLSuffix,
		TagsPath:     cfg.LLM.TagsSuffix,
		Timeout:      time.Duration(cfg.LLM.RequestTimeout),
	})
	if err != nil {
		log.Close()
		return nil, fmt.Errorf("create inference client: %w", err)
	}
	slog.Info("inference API configured",
		"base_url", cfg.LLM.BaseURL,
		"model", cfg.LLM.Model,
		"code_model", cfg.LLM.CodeModel,
		"summary_model", cfg.LLM.SummaryModel,
	)

	return newDaemon(cfg, log, client), nil
}

// newDaemon assembles a daemon around an already opened log.
func newDaemon(cfg *Config, log conversation.Log, inference bot.Inference) *Daemon {
	d := &Daemon{
		config:    cfg,
		log:       log,
		events:    NewEventBus(200),
		startedAt: time.Now(),
	}

	dataDir := cfg.Matrix.DataDir
	if dataDir == "" {
		dataDir = cfg.Storage.StorePath
	}
	d.matrix = matrix.New(matrix.Config{
		Homeserver:    cfg.Matrix.HomeserverURL,
		UserID:        cfg.Matrix.UserID,
		Password:      cfg.Matrix.UserPassword,
		AccessToken:   cfg.Matrix.UserToken,
		DeviceID:      cfg.Matrix.DeviceID,
		DeviceName:    cfg.Matrix.DeviceName,
		AllowedUsers:  cfg.Matrix.AllowedUsers,
		DataDir:       dataDir,
		CommandPrefix: cfg.CommandPrefix,
	})

	fetcher := extract.NewFetcher(30 * time.Second)
	builder := llm.NewBuilder(cfg.LLM.Settings(), fetcher.MainContent)

	d.bot = bot.New(bot.Config{
		Name:          cfg.LLM.Name,
		UserID:        cfg.Matrix.UserID,
		TypingTimeout: time.Duration(cfg.LLM.TypingTimeout),
		OnEvent:       d.events.Publish,
	}, d.matrix, inference, builder, log)
	return d
}

func (d *Daemon) setHealthy(v bool) {
	d.healthyMu.Lock()
	d.healthy = v
	d.healthyMu.Unlock()
}

func (d *Daemon) isHealthy() bool {
	d.healthyMu.RLock()
	defer d.healthyMu.RUnlock()
	return d.healthy
}

// Run starts the Matrix channel and the API server. Blocks until ctx is
// cancelled or one of them fails.
func (d *Daemon) Run(ctx context.Context) error {
	slog.Info("llm bot running",
		"user", d.config.Matrix.UserID,
		"matrix", d.config.Matrix.HomeserverURL,
		"prefix", d.config.CommandPrefix,
	)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		slog.Info("starting matrix channel")
		if err := d.matrix.Start(gctx, d.bot.Handle); err != nil {
			return fmt.Errorf("matrix channel fatal error: %w", err)
		}
		return nil
	})

	if d.config.HTTPAddr != "" {
		g.Go(func() error { return d.serveAPI(gctx) })
	}

	// Mark healthy once Matrix starts syncing (give it a moment)
	g.Go(func() error {
		select {
		case <-gctx.Done():
		case <-time.After(2 * time.Second):
			d.setHealthy(true)
		}
		return nil
	})

	err := g.Wait()

	d.setHealthy(false)
	d.matrix.Stop()
	slog.Info("llm bot shutting down")
	return err
}

// Close releases the conversation log.
func (d *Daemon) Close() error {
	return d.log.Close()
}

// serveAPI runs the operator HTTP API until ctx is cancelled.
func (d *Daemon) serveAPI(ctx context.Context) error {
	srv := &http.Server{
		Addr:              d.config.HTTPAddr,
		Handler:           d.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	slog.Info("API listening", "addr", d.config.HTTPAddr, "endpoints", []string{"/health", "/v1/history", "/v1/events"})
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("API server: %w", err)
	}
	return nil
}
