package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"github.com/mmartingarciia/retroducer/internal/api"
	"github.com/mmartingarciia/retroducer/internal/audio"
	"github.com/mmartingarciia/retroducer/internal/config"
	"github.com/mmartingarciia/retroducer/internal/engine"
	"github.com/mmartingarciia/retroducer/internal/gate"
	"github.com/mmartingarciia/retroducer/internal/history"
	"github.com/mmartingarciia/retroducer/internal/logger"
	"github.com/mmartingarciia/retroducer/internal/metrics"
	"github.com/mmartingarciia/retroducer/internal/network"
	"github.com/mmartingarciia/retroducer/internal/playback"
	"github.com/mmartingarciia/retroducer/internal/status"
	"github.com/mmartingarciia/retroducer/internal/storage"
	"github.com/mmartingarciia/retroducer/internal/upload"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the player (default)",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd.Context())
	},
}

func runServe(ctx context.Context) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if err := logger.Setup(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output); err != nil {
		return fmt.Errorf("failed to set up logging: %w", err)
	}
	if cfg.Logging.Level != "DEBUG" {
		gin.SetMode(gin.ReleaseMode)
	}

	var metricsHandler http.Handler
	if cfg.Metrics.Enabled {
		metrics.InitRegistry()
		metricsHandler = metrics.Handler()
	}

	// Create the storage provider backing the card
	provider, err := storage.NewProvider(ctx, cfg.Storage)
	if err != nil {
		return fmt.Errorf("failed to initialize storage provider: %w", err)
	}

	format := audio.Format{SampleRate: cfg.Audio.SampleRate, Channels: cfg.Audio.Channels}
	out, err := audio.NewDeviceOutput(format, cfg.Audio.BufferBytes, cfg.Audio.Output)
	if err != nil {
		return fmt.Errorf("failed to open audio output: %w", err)
	}
	defer out.Close()

	hist, err := history.Open(cfg.History)
	if err != nil {
		return fmt.Errorf("failed to open history: %w", err)
	}
	defer hist.Close()

	g := gate.New(provider, metrics.NewGateMetrics())
	uploads := upload.NewManager(g, metrics.NewUploadMetrics())
	pb := playback.New(g, out, playback.Config{
		Format:    format,
		BlockSize: cfg.Audio.ReadBlock,
		MinVolume: cfg.Volume.Min,
		MaxVolume: cfg.Volume.Max,
		Volume:    cfg.Volume.Default,
	}, metrics.NewPlaybackMetrics())
	reporter := status.NewReporter(pb, uploads, network.NewSoftAP(cfg.Network), provider)

	player := engine.NewPlayer(g, uploads, pb, reporter, hist, engine.Options{
		TickInterval:     cfg.Scheduler.TickInterval,
		HistoryLimit:     cfg.History.Limit,
		DebounceInterval: config.DefaultDebounceInterval,
	})
	server := api.NewServer(player, cfg.Server, metricsHandler)

	sigCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	// The loop outlives the HTTP server so in-flight requests can finish.
	loopCtx, cancelLoop := context.WithCancel(context.Background())
	defer cancelLoop()

	loopErr := make(chan error, 1)
	go func() { loopErr <- player.Run(loopCtx) }()

	serverErr := make(chan error, 1)
	go func() { serverErr <- server.Start(sigCtx) }()

	logger.Info("Player running (storage: %s, ssid: %s)", cfg.Storage.Type, cfg.Network.SSID)

	var runErr error
	select {
	case <-sigCtx.Done():
		logger.Info("Shutting down...")
	case err := <-serverErr:
		if err != nil {
			runErr = fmt.Errorf("API server failed: %w", err)
		}
	case err := <-loopErr:
		loopErr <- err
		if err != nil {
			runErr = fmt.Errorf("scheduler loop failed: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("API server shutdown: %v", err)
	}

	cancelLoop()
	if err := <-loopErr; err != nil && runErr == nil {
		runErr = fmt.Errorf("scheduler loop failed: %w", err)
	}
	return runErr
}
