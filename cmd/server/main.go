// Package main provides the orchestrator server entry point.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kingpin/v2"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	zlog "github.com/rs/zerolog/log"

	"github.com/hiroq/otobox/internal/app/ingest"
	"github.com/hiroq/otobox/internal/app/notification"
	"github.com/hiroq/otobox/internal/app/session"
	"github.com/hiroq/otobox/internal/infra/config"
	"github.com/hiroq/otobox/internal/infra/logger"
	"github.com/hiroq/otobox/internal/infra/metrics"
	"github.com/hiroq/otobox/internal/infra/resolver"
	"github.com/hiroq/otobox/internal/infra/transport"
	"github.com/hiroq/otobox/internal/server"
)

var (
	app        = kingpin.New("otobox-server", "otobox multi-room playback orchestrator")
	configPath = app.Flag("config", "Path to config file").Default("config/server.yaml").String()
	verbose    = app.Flag("verbose", "Enable verbose (DEBUG) logging").Short('v').Bool()
	logfile    = app.Flag("logfile", "Path to log file (default: stdout)").String()
)

func main() {
	// Load .env file if it exists (errors are ignored).
	_ = godotenv.Load()

	kingpin.MustParse(app.Parse(os.Args[1:]))

	loggerConfig := logger.Config{Output: "stdout", Level: "info"}
	if *verbose {
		loggerConfig.Level = "debug"
	}
	if *logfile != "" {
		loggerConfig.Output = *logfile
		loggerConfig.File = *logfile
	}
	if err := logger.Init(loggerConfig); err != nil {
		panic(fmt.Sprintf("Failed to initialize logger: %v", err))
	}

	zlog.Info().Msgf("Loading config from %s", *configPath)
	cfg, err := config.Load(*configPath)
	if err != nil {
		zlog.Fatal().Msgf("Failed to load config: %v", err)
	}

	if err := run(cfg); err != nil {
		zlog.Error().Msgf("Server error: %v", err)
		os.Exit(1)
	}
}

// run executes the main server logic. A separate function ensures
// defers execute even when returning with an error.
func run(cfg *config.Config) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	res, err := resolver.NewFromConfig(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to create resolver: %w", err)
	}

	promReg := prometheus.NewRegistry()
	m := metrics.New(promReg)

	notifier := notification.NewManager()
	defer notifier.Close()
	notifier.Subscribe(logStream{})

	ingestor := ingest.NewIngestor(res, notifier, cfg.Ingest.InitialBatch)

	registry := session.New(
		transport.NewClock(cfg.DefaultTrackDuration()),
		res,
		ingestor,
		notifier,
		m,
		session.Config{
			MaxConsecutiveFailures: cfg.Playback.MaxConsecutiveFailures,
			UpcomingCount:          cfg.Playback.UpcomingCount,
		},
	)
	defer registry.Close()

	monitor := session.NewIdleMonitor(registry, cfg.SweepInterval(), cfg.IdleTimeout())
	go monitor.Run(ctx)

	httpServer := server.NewHTTPServer(cfg.Server.Addr, registry, promReg)
	httpServer.Start()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	zlog.Info().Msgf("Received signal %v, shutting down", sig)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		zlog.Warn().Msgf("HTTP shutdown: %v", err)
	}
	return nil
}

// logStream logs every broadcast notification; the external front-end
// subscribes the same way.
type logStream struct{}

func (logStream) Send(n *notification.Notification) error {
	zlog.Debug().Msgf("notify: seq=%d type=%s key=%s state=%s", n.SequenceNo, n.Type, n.SessionKey, n.State)
	return nil
}
