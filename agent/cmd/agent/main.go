package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/tagalarm/tagalarm/agent/internal/config"
	"github.com/tagalarm/tagalarm/agent/internal/scraper"
	"github.com/tagalarm/tagalarm/agent/internal/shipper"
)

// sourceSet holds the scrapers built from the current config. It is
// replaced wholesale on hot-reload.
type sourceSet struct {
	mu       sync.RWMutex
	scrapers []*scraper.Scraper
}

func (s *sourceSet) set(sources []config.Source) {
	built := make([]*scraper.Scraper, 0, len(sources))
	for _, src := range sources {
		sc, err := scraper.New(src)
		if err != nil {
			slog.Error("skipping source, could not build scraper", "source", src.ID, "err", err)
			continue
		}
		built = append(built, sc)
		slog.Info("registered source", "id", src.ID, "endpoint", src.Endpoint, "mapped_tags", len(src.Tags))
	}
	if len(built) == 0 {
		slog.Warn("no sources configured, agent will idle")
	}
	s.mu.Lock()
	s.scrapers = built
	s.mu.Unlock()
}

func (s *sourceSet) list() []*scraper.Scraper {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.scrapers
}

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	logLevel := flag.String("log-level", "info", "log level: debug, info, warn, error")
	flag.Parse()

	var level slog.Level
	if err := level.UnmarshalText([]byte(*logLevel)); err != nil {
		fmt.Fprintf(os.Stderr, "invalid -log-level %q: %v\n", *logLevel, err)
		os.Exit(2)
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})))

	slog.Info("tagalarm-agent starting", "config", *configPath)

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "err", err)
		os.Exit(1)
	}
	slog.Info("config loaded",
		"server_endpoint", cfg.Agent.ServerEndpoint,
		"sources", len(cfg.Agent.Sources),
		"scrape_interval", cfg.Agent.ScrapeInterval,
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	sources := &sourceSet{}
	sources.set(cfg.Agent.Sources)

	// Sources are hot-reloaded. Server endpoint and intervals need a restart.
	go func() {
		if err := config.Watch(ctx, *configPath, func(updated *config.Config) {
			sources.set(updated.Agent.Sources)
		}); err != nil {
			slog.Error("config watcher stopped", "err", err)
		}
	}()

	ship := shipper.New(cfg.Agent)
	go ship.Run(ctx)

	go func() {
		ticker := time.NewTicker(cfg.Agent.ScrapeInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				for _, sc := range sources.list() {
					updates, err := sc.Scrape(ctx)
					if err != nil {
						slog.Warn("scrape error", "source", sc.ID(), "err", err)
						continue
					}
					ship.Ship(updates...)
					slog.Debug("scraped source", "source", sc.ID(), "updates", len(updates), "pending", ship.Pending())
				}
			}
		}
	}()

	<-ctx.Done()
	slog.Info("tagalarm-agent shutting down")
}
