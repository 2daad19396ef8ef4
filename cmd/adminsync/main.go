// Command adminsync follows an admin backend's activity feed.
//
// Usage:
//
//	adminsync -config adminsync.toml
//	adminsync -base-url https://shop.example.com -metrics-addr :9090
//
// Every merged feed event is printed once, whichever channel delivered it,
// and event channel state changes are logged.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/storefront/adminsync"
	"github.com/storefront/adminsync/pkg/connection/rews"
	"github.com/storefront/adminsync/pkg/logger"
	"github.com/storefront/adminsync/pkg/metrics"
	"github.com/storefront/adminsync/pkg/models"
)

func main() {
	configPath := flag.String("config", "adminsync.toml", "path to the TOML config file")
	baseURL := flag.String("base-url", "", "admin API base URL (overrides config)")
	eventsURL := flag.String("events-url", "", "event stream URL (overrides config)")
	metricsAddr := flag.String("metrics-addr", "", "serve Prometheus metrics on this address")
	logFormat := flag.String("log-format", "console", "log format: console, json or text")
	logLevel := flag.String("log-level", "info", "log level: debug, info, warn, error")
	flag.Parse()

	log, err := newLogger(*logFormat, *logLevel)
	if err != nil {
		fmt.Fprintln(os.Stderr, "adminsync:", err)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, log, *configPath, *baseURL, *eventsURL, *metricsAddr); err != nil {
		log.Error("adminsync: fatal", "error", err)
		os.Exit(1)
	}
}

func newLogger(format, level string) (logger.Logger, error) {
	switch format {
	case "console", "json":
		build := logger.NewBuild().Level(level).FromBuffer(os.Stderr)
		if format == "console" {
			build = build.Console()
		}
		data, err := build.Make()
		if err != nil {
			return nil, err
		}
		return data, nil
	case "text":
		var lvl slog.Level
		if err := lvl.UnmarshalText([]byte(level)); err != nil {
			return nil, err
		}
		return logger.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})), nil
	default:
		return nil, fmt.Errorf("unknown log format %q", format)
	}
}

func run(ctx context.Context, log logger.Logger, configPath, baseURL, eventsURL, metricsAddr string) error {
	conf, err := adminsync.LoadConfig(configPath)
	if err != nil {
		return err
	}
	if baseURL != "" {
		conf.BaseURL = baseURL
	}
	if eventsURL != "" {
		conf.EventsURL = eventsURL
	}
	conf.Logger = log

	if metricsAddr != "" {
		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		conf.Metrics = metrics.New(reg)

		srv := serveMetrics(metricsAddr, reg, log)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	client, err := adminsync.New(conf)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	client.OnChannelState(func(from, to rews.State) {
		switch to {
		case rews.StateDegraded:
			log.Warn("event channel degraded, polling only", "from", from.String(), "error", client.ChannelErr())
		default:
			log.Info("event channel state", "from", from.String(), "to", to.String())
		}
	})
	client.Watch("", func(ev models.FeedEvent) {
		fmt.Printf("%s  %-8s %-12s %s\n",
			ev.OccurredAt.Local().Format(time.DateTime), ev.Source, ev.Category, ev.Message)
	})

	return client.Run(ctx)
}

func serveMetrics(addr string, reg *prometheus.Registry, log logger.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		log.Info("serving metrics", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("metrics server failed", "error", err)
		}
	}()
	return srv
}
