package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/NotiFansly/starboard/internal/config"
	"github.com/NotiFansly/starboard/internal/ipc"
	"github.com/NotiFansly/starboard/internal/logging"
)

func main() {
	configPath := flag.String("config", "config.json", "path to the JSON configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error loading config: %v\n", err)
		os.Exit(2)
	}

	log, err := logging.New(logging.Options{Dev: cfg.DevMode, Dir: cfg.LogDir, Cluster: "ipc"})
	if err != nil {
		fmt.Fprintf(os.Stderr, "error creating logger: %v\n", err)
		os.Exit(2)
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv := &http.Server{
		Addr:              cfg.IPCListen,
		Handler:           ipc.NewBroker(log),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Warnw("error shutting down broker", "error", err)
		}
	}()

	if cfg.IPCCert != "" && cfg.IPCKey != "" {
		log.Infow("broker listening", "addr", cfg.IPCListen, "tls", true)
		err = srv.ListenAndServeTLS(cfg.IPCCert, cfg.IPCKey)
	} else {
		log.Infow("broker listening", "addr", cfg.IPCListen, "tls", false)
		err = srv.ListenAndServe()
	}
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Errorw("broker stopped", "error", err)
		os.Exit(1)
	}
}
