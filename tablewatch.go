package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/tablewatch/tablewatch/admin"
	"github.com/tablewatch/tablewatch/cfg"
	"github.com/tablewatch/tablewatch/connstore"
	"github.com/tablewatch/tablewatch/monitor"
	"github.com/tablewatch/tablewatch/notify"
	"github.com/tablewatch/tablewatch/publisher"
	_ "github.com/tablewatch/tablewatch/publisher/sink"
	_ "github.com/tablewatch/tablewatch/publisher/transformer"
	"github.com/tablewatch/tablewatch/telemetry"
	"github.com/tablewatch/tablewatch/trigger"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const shutdownTimeout = 10 * time.Second

func main() {
	flag.Parse()

	// Load configuration
	err := cfg.Load(*cfg.ConfigPathFlag)
	if err != nil {
		panic(err)
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		panic(fmt.Sprintf("Invalid configuration: %v", err))
	}

	// Setup logging
	var writer io.Writer = zerolog.NewConsoleWriter()
	if cfg.Config.Logging.Format == "json" {
		writer = os.Stdout
	}
	gLog := zerolog.New(writer).
		With().
		Timestamp().
		Str("instance_id", cfg.Config.InstanceID).
		Logger()

	if cfg.Config.Logging.Verbose {
		log.Logger = gLog.Level(zerolog.DebugLevel)
	} else {
		log.Logger = gLog.Level(zerolog.InfoLevel)
	}

	log.Info().Str("mode", string(cfg.Config.Monitor.Mode)).Msg("tablewatch - live MySQL change monitoring")
	log.Debug().Msg("Initializing telemetry")
	telemetry.InitializeTelemetry()
	telemetry.InitMetrics()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Phase 1: Connection definitions
	var source connstore.Source
	switch cfg.Config.ConnectionStore.Type {
	case cfg.StoreSQLite:
		store, err := connstore.OpenSQLiteStore(cfg.Config.ConnectionStore.Path)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to open connection store")
			return
		}
		defer store.Close()
		source = store
	default:
		source = connstore.NewConfigStore(cfg.Config.Connections)
	}

	// Phase 2: Trigger installer (trigger mode only)
	var installer *trigger.Installer
	if cfg.Config.Monitor.Mode == cfg.ModeTrigger {
		installer, err = trigger.NewInstaller(trigger.InstallerConfig{
			LogTable:           cfg.Config.Monitor.LogTable,
			ExcludeTables:      cfg.Config.Monitor.ExcludeTables,
			PreviewColumns:     cfg.Config.Monitor.PreviewColumns,
			PreviewValueLength: cfg.Config.Monitor.PreviewValueLength,
		})
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to create trigger installer")
			return
		}
	}

	// Phase 3: Event consumers. The hub comes first so push subscribers are
	// not delayed by publish log writes.
	hub := notify.NewHub()
	defer hub.Close()

	pubRegistry, err := publisher.NewRegistry(publisher.RegistryConfig{
		DataDir:     cfg.Config.DataDir,
		SinkConfigs: cfg.Config.Sinks,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create export registry")
		return
	}
	if err := pubRegistry.Start(); err != nil {
		log.Fatal().Err(err).Msg("Failed to start export registry")
		return
	}
	defer pubRegistry.Stop()

	// Phase 4: Session registry
	opener := monitor.MySQLOpener{
		ConnectTimeout: time.Duration(cfg.Config.Monitor.ConnectTimeoutMS) * time.Millisecond,
	}
	registry := monitor.NewRegistry(
		monitor.ConfigFromSettings(cfg.Config.Monitor),
		source,
		opener,
		installer,
		monitor.Fanout{hub, pubRegistry},
	)
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		n := registry.StopAll(stopCtx)
		log.Info().Int("sessions", n).Msg("Monitoring sessions stopped")
	}()

	collector := telemetry.NewMetricsCollector(registry, time.Duration(cfg.Config.Monitor.StatsIntervalSeconds)*time.Second)
	collector.Start()
	defer collector.Stop()

	// Phase 5: Auto-watch
	factory, err := monitor.NewHandleFactory(source, opener, registry, cfg.Config.Monitor.AutoWatch)
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid auto-watch configuration")
		return
	}
	if len(cfg.Config.Monitor.AutoWatch) > 0 {
		started := factory.WatchAll(ctx)
		log.Info().Int("sessions", started).Msg("Auto-watch started monitoring")
	}

	// Phase 6: Admin API
	if cfg.Config.Admin.Enabled {
		handlers := admin.NewHandlers(registry, source, hub, pubRegistry).WithHandles(factory)
		router := admin.NewRouter(handlers, cfg.Config.Admin.AuthToken, telemetry.GetMetricsHandler())
		server := admin.NewServer(cfg.Config.Admin.BindAddress, cfg.Config.Admin.Port, router)
		if err := server.Start(); err != nil {
			log.Fatal().Err(err).Msg("Failed to start admin API")
			return
		}
		defer func() {
			// close streams before draining requests
			hub.Close()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := server.Shutdown(shutdownCtx); err != nil {
				log.Warn().Err(err).Msg("Admin API shutdown incomplete")
			}
		}()
	}

	log.Info().
		Str("data_dir", cfg.Config.DataDir).
		Int("sinks", len(cfg.Config.Sinks)).
		Bool("admin", cfg.Config.Admin.Enabled).
		Msg("tablewatch started")

	<-ctx.Done()
	log.Info().Msg("Shutting down")
}
