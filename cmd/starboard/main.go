package main

import (
	"context"
	"crypto/tls"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/NotiFansly/starboard/internal/bot"
	"github.com/NotiFansly/starboard/internal/config"
	"github.com/NotiFansly/starboard/internal/database"
	"github.com/NotiFansly/starboard/internal/ipc"
	"github.com/NotiFansly/starboard/internal/logging"
)

const version = "v0.1.0"

// exitRestart asks the supervisor to start the cluster again.
const exitRestart = 1

func main() {
	configPath := flag.String("config", "config.json", "path to the JSON configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error loading config: %v\n", err)
		os.Exit(2)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(2)
	}

	log, err := logging.New(logging.Options{Dev: cfg.DevMode, Dir: cfg.LogDir, Cluster: cfg.ClusterName})
	if err != nil {
		fmt.Fprintf(os.Stderr, "error creating logger: %v\n", err)
		os.Exit(2)
	}
	defer func() { _ = log.Sync() }()

	code, err := run(cfg, log)
	if err != nil {
		log.Errorw("cluster stopped", "error", err)
		if code == 0 {
			code = 1
		}
	}
	_ = log.Sync()
	os.Exit(code)
}

func run(cfg *config.Config, log *zap.SugaredLogger) (int, error) {
	log.Infow("starting starboard", "version", version, "cluster", cfg.ClusterName, "shards", cfg.ShardIDs)

	db, err := database.Open(cfg.DatabaseType, cfg.DatabaseDSN, log)
	if err != nil {
		return 0, err
	}
	defer func() {
		if err := database.Close(db); err != nil {
			log.Warnw("error closing database", "error", err)
		}
	}()
	if err := database.Migrate(db); err != nil {
		return 0, err
	}
	store, err := database.New(db, database.Limits{Default: cfg.DefaultLimits, Premium: cfg.PremiumLimits})
	if err != nil {
		return 0, err
	}

	b, err := bot.New(cfg, store, log)
	if err != nil {
		return 0, fmt.Errorf("create bot: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var code atomic.Int32
	var peers *ipc.Client
	if cfg.IPCURL != "" {
		tlsConf := &tls.Config{InsecureSkipVerify: cfg.IPCInsecureSkipVerify} //nolint:gosec // local brokers use self-signed certs
		peers = ipc.NewClient(cfg.IPCURL, cfg.ClusterName, tlsConf, cfg.IPCResponseWindow, log.Named("ipc"))
		b.RegisterIPC(peers, func() {
			log.Infow("restart requested over ipc")
			code.Store(exitRestart)
			cancel()
		})
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return b.Run(gctx, peers) })
	if peers != nil {
		g.Go(func() error { return peers.Run(gctx) })
	}
	if cfg.MetricsListen != "" {
		g.Go(func() error { return serveMetrics(gctx, cfg.MetricsListen, log) })
	}

	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	log.Infow("shutting down")
	return int(code.Load()), err
}

func serveMetrics(ctx context.Context, addr string, log *zap.SugaredLogger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Infow("metrics listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("metrics server: %w", err)
	}
	return nil
}
