package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"scanwatch/internal/api"
	"scanwatch/internal/broker"
	"scanwatch/internal/config"
	"scanwatch/internal/httpapi"
	"scanwatch/internal/live"
	"scanwatch/internal/scan"
	"scanwatch/internal/store"
	"scanwatch/internal/util"
	"scanwatch/internal/viewmodel"
	"scanwatch/pkg/ttscanner"
)

func main() {
	algo := flag.String("algo", os.Getenv("SCANWATCH_ALGO"), "algo name to load at startup")
	group := flag.String("group", os.Getenv("SCANWATCH_GROUP"), "group name (empty for no group)")
	interval := flag.String("interval", os.Getenv("SCANWATCH_INTERVAL"), "interval name to load at startup")
	flag.Parse()

	_ = godotenv.Load()

	cfg, err := config.Load(config.Path())
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid config: %v", err)
	}

	logFileName := fmt.Sprintf("/tmp/scan-relay-%s.log", time.Now().Format("2006-01-02"))
	logFile, err := os.OpenFile(logFileName, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		log.Fatalf("opening log file: %v", err)
	}
	defer logFile.Close()

	logger := util.NewLogger(cfg.Logging.Level, cfg.Logging.Format, io.MultiWriter(os.Stdout, logFile))
	util.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	scanner := ttscanner.NewClient(cfg.API.BaseURL,
		ttscanner.WithHTTPClient(&http.Client{Timeout: cfg.API.Timeout}),
		ttscanner.WithToken(cfg.API.Token),
		ttscanner.WithUser(cfg.API.UserID),
		ttscanner.WithRetry(cfg.Retry.Attempts, cfg.Retry.Delay),
		ttscanner.WithRateLimit(cfg.API.RateLimitPerMin, cfg.API.Burst),
		ttscanner.WithLogger(logger),
	)
	streamer := live.NewClient(&http.Client{}, cfg.API.Token, logger)

	grpcSrv := api.NewServer(cfg.Server.GRPCAddr, logger)

	var vm *viewmodel.Orchestrator
	opts := viewmodel.Options{
		Logger: logger,
		Channel: func(sink live.Sink) viewmodel.Channel {
			return live.NewConsumer(streamer, sink, live.Options{
				URL:        scanner.StreamURL,
				MinBackoff: cfg.Live.MinBackoff,
				MaxBackoff: cfg.Live.MaxBackoff,
				OnState: func(src scan.SourceID, s live.State) {
					vm.SetChannelState(src, s)
					grpcSrv.Health().SetState(s)
				},
			}, logger)
		},
	}

	var archive store.SnapshotStore
	if cfg.Storage.ArchivePath != "" {
		db, err := store.NewSQLiteStore(cfg.Storage.ArchivePath)
		if err != nil {
			log.Fatalf("opening snapshot archive: %v", err)
		}
		defer db.Close()
		archive = db
		opts.Recorder = &store.Retention{Store: db, Keep: cfg.Storage.KeepSnapshots, Log: logger}
	}

	var watchlist broker.Watchlist = broker.NewMemoryWatchlist()
	if cfg.Alpaca.Enabled() {
		watchlist = broker.NewAlpacaWatchlist(cfg.Alpaca.APIKey, cfg.Alpaca.APISecret, cfg.Alpaca.BaseURL, cfg.Alpaca.Watchlist)
	}
	opts.Mirror = broker.NewMirror(watchlist, logger)
	logger.Info("watchlist mirror", "watchlist", watchlist.Name(), "alpaca", cfg.Alpaca.Enabled())

	vm = viewmodel.New(scanner, opts)
	defer vm.Close()

	dash := httpapi.NewDashboardServer(vm, scanner, archive, watchlist, logger)
	httpServer := &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           dash.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("HTTP server listening", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	g.Go(func() error {
		return grpcSrv.ListenAndServe(gctx)
	})

	if *algo != "" && *interval != "" {
		g.Go(func() error {
			sel, err := resolveSelection(gctx, scanner, *algo, *group, *interval)
			if err != nil {
				logger.Error("resolving startup source", "algo", *algo, "group", *group, "interval", *interval, "error", err)
				return nil
			}
			if err := vm.SelectSource(gctx, sel); err != nil && !errors.Is(err, viewmodel.ErrStale) {
				logger.Error("loading startup source", "source", sel.DisplayName(), "error", err)
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		logger.Error("relay stopped", "error", err)
		os.Exit(1)
	}
	logger.Info("relay stopped")
}

// resolveSelection maps algo, group and interval names onto backend ids.
// An empty group or "No Group" selects the ungrouped association.
func resolveSelection(ctx context.Context, cat httpapi.Catalog, algoName, groupName, intervalName string) (ttscanner.Selection, error) {
	var sel ttscanner.Selection

	algos, err := cat.Algos(ctx)
	if err != nil {
		return sel, fmt.Errorf("listing algos: %w", err)
	}
	found := false
	for _, a := range algos {
		if strings.EqualFold(a.Name, algoName) {
			sel.Algo, found = a, true
			break
		}
	}
	if !found {
		return sel, fmt.Errorf("unknown algo %q", algoName)
	}

	if groupName != "" && !strings.EqualFold(groupName, ttscanner.NoGroup) {
		groups, err := cat.Groups(ctx, sel.Algo.ID)
		if err != nil {
			return sel, fmt.Errorf("listing groups: %w", err)
		}
		for _, g := range groups {
			if strings.EqualFold(g.Name, groupName) {
				sel.Group = &g
				break
			}
		}
		if sel.Group == nil {
			return sel, fmt.Errorf("unknown group %q for algo %q", groupName, sel.Algo.Name)
		}
	}

	intervals, err := cat.Intervals(ctx, sel.Algo.ID, sel.Group)
	if err != nil {
		return sel, fmt.Errorf("listing intervals: %w", err)
	}
	for _, iv := range intervals {
		if strings.EqualFold(iv.Name, intervalName) {
			sel.Interval = iv
			return sel, nil
		}
	}
	return sel, fmt.Errorf("unknown interval %q", intervalName)
}
