package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/joho/godotenv"

	"scanwatch/internal/broker"
	"scanwatch/internal/config"
	"scanwatch/internal/live"
	"scanwatch/internal/scan"
	"scanwatch/internal/store"
	"scanwatch/internal/util"
	"scanwatch/internal/viewmodel"
	"scanwatch/pkg/ttscanner"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load(config.Path())
	if err != nil {
		fmt.Fprintf(os.Stderr, "loading config: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(1)
	}

	// The TUI owns the terminal, so logs go to a dated file.
	logPath := fmt.Sprintf("/tmp/scan-client-%s.log", time.Now().Format("2006-01-02"))
	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		fmt.Fprintf(os.Stderr, "opening log file: %v\n", err)
		os.Exit(1)
	}
	defer logFile.Close()
	logger := util.NewLogger(cfg.Logging.Level, "text", logFile)
	util.SetDefault(logger)

	httpClient := &http.Client{Timeout: cfg.API.Timeout}
	api := ttscanner.NewClient(cfg.API.BaseURL,
		ttscanner.WithHTTPClient(httpClient),
		ttscanner.WithToken(cfg.API.Token),
		ttscanner.WithUser(cfg.API.UserID),
		ttscanner.WithRetry(cfg.Retry.Attempts, cfg.Retry.Delay),
		ttscanner.WithRateLimit(cfg.API.RateLimitPerMin, cfg.API.Burst),
		ttscanner.WithLogger(logger),
	)

	// Streams stay open indefinitely, so they get a client without a timeout.
	streamer := live.NewClient(&http.Client{}, cfg.API.Token, logger)

	var vm *viewmodel.Orchestrator
	opts := viewmodel.Options{
		Logger: logger,
		Channel: func(sink live.Sink) viewmodel.Channel {
			return live.NewConsumer(streamer, sink, live.Options{
				URL:        api.StreamURL,
				MinBackoff: cfg.Live.MinBackoff,
				MaxBackoff: cfg.Live.MaxBackoff,
				OnState:    func(src scan.SourceID, s live.State) { vm.SetChannelState(src, s) },
			}, logger)
		},
	}

	if cfg.Storage.ArchivePath != "" {
		rec, closeArchive, err := openRecorder(cfg.Storage, logger)
		if err != nil {
			logger.Warn("snapshot archive disabled", "path", cfg.Storage.ArchivePath, "error", err)
		} else {
			defer closeArchive()
			opts.Recorder = rec
		}
	}

	if cfg.Alpaca.Enabled() {
		wl := broker.NewAlpacaWatchlist(cfg.Alpaca.APIKey, cfg.Alpaca.APISecret, cfg.Alpaca.BaseURL, cfg.Alpaca.Watchlist)
		opts.Mirror = broker.NewMirror(wl, logger)
		logger.Info("alpaca watchlist mirror enabled", "watchlist", cfg.Alpaca.Watchlist)
	}

	vm = viewmodel.New(api, opts)
	defer vm.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	p := tea.NewProgram(
		initialModel(ctx, cancel, vm, api, cfg.Storage.ExportDir, logger),
		tea.WithAltScreen(),
		tea.WithMouseCellMotion(),
	)

	if _, err := p.Run(); err != nil {
		slog.Error("tui exited", "error", err)
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// openRecorder opens the snapshot archive and trims each source to the
// configured number of snapshots as it records.
func openRecorder(cfg config.Storage, logger *slog.Logger) (*store.Retention, func() error, error) {
	archive, err := store.NewSQLiteStore(cfg.ArchivePath)
	if err != nil {
		return nil, nil, err
	}
	return &store.Retention{Store: archive, Keep: cfg.KeepSnapshots, Log: logger}, archive.Close, nil
}
