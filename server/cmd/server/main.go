package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"google.golang.org/grpc"

	"github.com/tagalarm/tagalarm/pkg/tagrpc"
	"github.com/tagalarm/tagalarm/server/internal/alarms"
	"github.com/tagalarm/tagalarm/server/internal/api"
	"github.com/tagalarm/tagalarm/server/internal/auth"
	"github.com/tagalarm/tagalarm/server/internal/config"
	"github.com/tagalarm/tagalarm/server/internal/metrics"
	"github.com/tagalarm/tagalarm/server/internal/notify"
	"github.com/tagalarm/tagalarm/server/internal/receiver"
	"github.com/tagalarm/tagalarm/server/internal/store"
	"github.com/tagalarm/tagalarm/server/internal/ws"
)

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

	slog.Info("tagalarm-server starting", "config", *configPath)

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "err", err)
		os.Exit(1)
	}
	sc := cfg.Server

	slog.Info("config loaded",
		"grpc_port", sc.GRPCPort,
		"http_port", sc.HTTPPort,
		"auth_mode", sc.Auth.Mode,
		"tag_ttl", sc.Tags.TTL,
		"rules", len(sc.Alarms.Rules),
		"debounce_mode", sc.Alarms.DebounceMode,
	)
	if sc.Auth.KeyMissing() {
		slog.Warn("auth mode is apikey but no key is set; writes and gRPC are unauthenticated",
			"key_env", sc.Auth.KeyEnv)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	dispatcher := notify.FromConfig(sc.Alarms.Notifications,
		notify.WithObserver(m),
		notify.WithTimeout(sc.Alarms.NotifyTimeout),
	)

	opts := []alarms.Option{
		alarms.WithDispatcher(dispatcher),
		alarms.WithMetrics(m),
		alarms.WithHistorySize(sc.Alarms.HistorySize),
	}
	if sc.Alarms.DebounceMode == config.DebounceNotifyOnly {
		opts = append(opts, alarms.WithNotifyOnlyDebounce())
	}
	engine := alarms.New(alarms.NewRuleSet(sc.Alarms.Rules), opts...)

	// Tag cache with background TTL eviction.
	st := store.New(sc.Tags.TTL)
	go st.Run(ctx)

	ingest := receiver.New(receiver.SinkFunc(st.Put), engine)

	// Rules are hot-reloaded; listeners and notification settings are not.
	go func() {
		if err := config.Watch(ctx, *configPath, func(updated *config.Config) {
			engine.SetRules(alarms.NewRuleSet(updated.Server.Alarms.Rules))
		}); err != nil {
			slog.Error("config watcher stopped", "err", err)
		}
	}()

	interceptor := auth.APIKeyInterceptor(sc.Auth.Mode, sc.Auth.EffectiveHeader(), sc.Auth.Key())
	grpcSrv := grpc.NewServer(grpc.UnaryInterceptor(interceptor))
	tagrpc.RegisterTagServiceServer(grpcSrv, ingest)

	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", sc.GRPCPort))
	if err != nil {
		slog.Error("failed to listen on gRPC port", "port", sc.GRPCPort, "err", err)
		os.Exit(1)
	}
	go func() {
		slog.Info("gRPC receiver listening", "port", sc.GRPCPort)
		if err := grpcSrv.Serve(lis); err != nil {
			slog.Error("gRPC server stopped", "err", err)
		}
	}()

	hub := ws.New(engine, sc.Stream.Interval)
	go hub.Run(ctx)

	guard := auth.APIKeyMiddleware(sc.Auth.Mode, sc.Auth.EffectiveHeader(), sc.Auth.Key())

	httpMux := http.NewServeMux()
	httpMux.Handle("/api/", api.New(st, engine, ingest, guard))
	httpMux.Handle("/ws/alarms", hub)
	httpMux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))

	httpSrv := &http.Server{
		Addr:              fmt.Sprintf(":%d", sc.HTTPPort),
		Handler:           httpMux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		slog.Info("HTTP server listening", "port", sc.HTTPPort)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server stopped", "err", err)
		}
	}()

	<-ctx.Done()
	slog.Info("tagalarm-server shutting down")

	shutdownCtx, stop := context.WithTimeout(context.Background(), 10*time.Second)
	defer stop()
	grpcSrv.GracefulStop()
	httpSrv.Shutdown(shutdownCtx) //nolint:errcheck

	// Let in-flight notifications finish before exit.
	engine.Wait()
	slog.Info("tagalarm-server stopped")
}
