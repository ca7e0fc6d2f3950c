package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/kgr0831/transcription-worker/internal/aijobs"
	"github.com/kgr0831/transcription-worker/internal/config"
	"github.com/kgr0831/transcription-worker/internal/discovery"
	"github.com/kgr0831/transcription-worker/internal/httpapi"
	"github.com/kgr0831/transcription-worker/internal/metrics"
	"github.com/kgr0831/transcription-worker/internal/store"
	"github.com/kgr0831/transcription-worker/internal/worker"
)

func main() {
	if err := run(); err != nil {
		log.Printf("[main] fatal: %v", err)
		os.Exit(1)
	}
	os.Exit(0)
}

func run() error {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	log.Printf("[main] starting worker %s in mode %s", cfg.WorkerID, cfg.Mode)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-quit
		log.Printf("[main] received %s, shutting down", sig)
		cancel()
	}()

	gw, err := store.Open(ctx, cfg.Store.URL)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}

	metrics.Register(prometheus.DefaultRegisterer)

	var wg sync.WaitGroup

	if cfg.Mode.Transcribes() {
		disc := discovery.New(discovery.Config{
			Mode:                 string(cfg.Mode),
			PollingInterval:      cfg.Discovery.PollingInterval,
			RealtimeTimeout:      cfg.Discovery.RealtimeTimeout,
			RealtimeRetry:        cfg.Discovery.RealtimeRetry,
			ClaimCacheDuration:   cfg.Discovery.ClaimCacheDuration,
			EnablePolling:        cfg.Discovery.EnablePollingFallback,
			EnableDatabaseNotify: cfg.Discovery.EnableDatabaseNotify,
			DirectDSN:            cfg.Store.DirectURL,
			RealtimeURL:          cfg.Discovery.RealtimeURL,
		}, gw)

		mgr := worker.New(cfg, gw, disc)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := mgr.Run(ctx); err != nil {
				log.Printf("[main] worker manager stopped with error: %v", err)
			}
		}()
	}

	if cfg.Mode.RunsAIJobs() {
		llm, err := aijobs.NewGenAIClient(ctx, cfg.AIJobs.GenAIAPIKey, "")
		if err != nil {
			return fmt.Errorf("create genai client: %w", err)
		}
		poller := aijobs.New(gw, llm, aijobs.Config{
			PollInterval: cfg.AIJobs.PollInterval,
			Workers:      cfg.AIJobs.Workers,
		})
		poller.Start(ctx)
		defer poller.Stop()
	}

	var httpSrv *httpapi.Server
	if cfg.HTTP.Port != "" || cfg.HTTP.MetricsPort != "" {
		httpSrv = httpapi.New(func() (bool, string) { return true, "" })
	}
	if cfg.HTTP.Port != "" {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := httpSrv.Listen(cfg.HTTP.Port); err != nil {
				log.Printf("[main] health server stopped: %v", err)
			}
		}()
	}
	if cfg.HTTP.MetricsPort != "" {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := httpSrv.ListenMetrics(cfg.HTTP.MetricsPort); err != nil {
				log.Printf("[main] metrics server stopped: %v", err)
			}
		}()
	}

	<-ctx.Done()
	if httpSrv != nil {
		_ = httpSrv.Shutdown()
	}
	wg.Wait()
	return nil
}
