// mwha2mqtt - Monoprice whole-house audio to MQTT bridge
//
// mwha2mqttd bridges the RS232 control protocol of the Monoprice
// MPR-6ZHMAUT (and compatible) multi-zone amplifiers to an MQTT
// namespace: retained per-zone attribute state, set topics for remote
// control, and a Shairport-Sync volume follower per source.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mwhaudio/mwha2mqtt/internal/amp"
	"github.com/mwhaudio/mwha2mqtt/internal/bridge"
	"github.com/mwhaudio/mwha2mqtt/internal/history"
	"github.com/mwhaudio/mwha2mqtt/internal/infrastructure/config"
	"github.com/mwhaudio/mwha2mqtt/internal/infrastructure/database"
	"github.com/mwhaudio/mwha2mqtt/internal/infrastructure/influxdb"
	"github.com/mwhaudio/mwha2mqtt/internal/infrastructure/logging"
	"github.com/mwhaudio/mwha2mqtt/internal/infrastructure/mqtt"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

// Maintenance cadences.
const (
	pruneInterval    = 24 * time.Hour
	busStatsInterval = time.Minute
)

func main() {
	// Cancel on interrupt signals (Ctrl+C, SIGTERM) for graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
//
// Parameters:
//   - ctx: Context for cancellation and shutdown signals
//
// Returns:
//   - error: nil on clean shutdown, or error describing failure
func run(ctx context.Context) error {
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting mwha2mqtt",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	// Reinitialise logger with config settings
	log = logging.New(cfg.Logging, version)

	// Open the amplifier transport
	port, err := openPort(cfg)
	if err != nil {
		return err
	}
	defer func() {
		log.Info("closing amplifier port")
		if closeErr := port.Close(); closeErr != nil {
			log.Error("error closing port", "error", closeErr)
		}
	}()

	conn := amp.NewConn(port)
	conn.SetLogger(log.With("component", "amp"))

	// Establish the link: negotiate the baud rate on serial, just
	// resync on TCP (the remote serial server owns the line rate).
	var negotiator *amp.Negotiator
	if cfg.Serial != nil {
		negotiator = amp.NewNegotiator(port, conn, log.With("component", "baud"))
		rate, negErr := negotiator.Negotiate(cfg.Serial.BaudRates(), cfg.Serial.AdjustTarget())
		if negErr != nil {
			return fmt.Errorf("negotiating baud rate: %w", negErr)
		}
		log.Info("amplifier link established", "device", cfg.Serial.Device, "rate", rate)
	} else {
		if resyncErr := conn.Resync(); resyncErr != nil {
			return fmt.Errorf("amplifier not responding at %s: %w", cfg.TCP.Address, resyncErr)
		}
		log.Info("amplifier link established", "address", cfg.TCP.Address)
	}

	store := amp.NewStore()
	scheduler := amp.NewScheduler(conn, store, cfg.ConfiguredAmps(), cfg.GetPollInterval(), log.With("component", "scheduler"))

	// Connect to MQTT broker
	mqttClient, err := mqtt.Connect(cfg.MQTT)
	if err != nil {
		return fmt.Errorf("connecting to MQTT: %w", err)
	}
	defer func() {
		log.Info("disconnecting from MQTT")
		if closeErr := mqttClient.Close(); closeErr != nil {
			log.Error("error closing MQTT", "error", closeErr)
		}
	}()
	mqttClient.SetLogger(log)
	mqttClient.SetOnDisconnect(func(err error) {
		log.Warn("MQTT disconnected", "error", err)
	})
	log.Info("MQTT connected",
		"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
		"client_id", cfg.MQTT.Broker.ClientID,
	)

	// Open the attribute history store (optional)
	var historyRepo *history.Repository
	if cfg.History.Enabled {
		db, dbErr := database.Open(database.Config{
			Path:        cfg.History.Path,
			WALMode:     cfg.History.WALMode,
			BusyTimeout: cfg.History.BusyTimeout,
		})
		if dbErr != nil {
			return fmt.Errorf("opening history database: %w", dbErr)
		}
		defer func() {
			log.Info("closing history database")
			if closeErr := db.Close(); closeErr != nil {
				log.Error("error closing history database", "error", closeErr)
			}
		}()

		historyRepo = history.NewRepository(db.DB)
		if initErr := historyRepo.Init(ctx); initErr != nil {
			return fmt.Errorf("initialising history schema: %w", initErr)
		}
		log.Info("history database ready", "path", cfg.History.Path)

		go pruneHistory(ctx, historyRepo, cfg.GetHistoryRetention(), log)
	} else {
		log.Info("history disabled")
	}

	// Connect to InfluxDB (optional)
	var influxClient *influxdb.Client
	if cfg.InfluxDB.Enabled {
		influxClient, err = influxdb.Connect(cfg.InfluxDB)
		if err != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", err)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"bucket", cfg.InfluxDB.Bucket,
		)

		go reportBusStats(ctx, scheduler, influxClient)
	} else {
		log.Info("InfluxDB disabled")
	}

	// Wire the bridge between the scheduler and the broker
	b := bridge.New(cfg, mqttClient, scheduler, store, log.With("component", "bridge"))
	if historyRepo != nil {
		b.SetHistory(historyRepo)
	}
	if influxClient != nil {
		b.SetInflux(influxClient)
	}
	scheduler.SetOnChange(b.HandleChange)
	scheduler.SetOnConnected(b.HandleAmpConnected)

	if err := b.Start(); err != nil {
		return fmt.Errorf("starting bridge: %w", err)
	}

	scheduler.Start()
	log.Info("initialisation complete, waiting for shutdown signal",
		"amps", len(cfg.ConfiguredAmps()),
		"zones", len(cfg.Amp.Zones),
	)

	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")

	scheduler.Stop()
	polls, stale, executed, dropped := scheduler.Stats()
	log.Info("scheduler stopped",
		"polls", polls, "stale_rounds", stale,
		"writes_executed", executed, "writes_dropped", dropped,
	)

	if negotiator != nil && cfg.Serial.ResetBaud {
		if restoreErr := negotiator.Restore(); restoreErr != nil {
			log.Warn("restoring baud rate failed", "error", restoreErr)
		} else {
			log.Info("baud rate restored", "rate", negotiator.Current())
		}
	}

	// Deferred Close() calls run in reverse order:
	// InfluxDB, history database, MQTT, port.

	log.Info("mwha2mqtt stopped")
	return nil
}

// openPort opens the configured amplifier transport.
func openPort(cfg *config.Config) (amp.Port, error) {
	if cfg.Serial != nil {
		rates := cfg.Serial.BaudRates()
		port, err := amp.OpenSerial(cfg.Serial.Device, rates[0], cfg.GetReadTimeout())
		if err != nil {
			return nil, fmt.Errorf("opening serial port: %w", err)
		}
		return port, nil
	}

	port, err := amp.OpenTCP(cfg.TCP.Address, cfg.GetReadTimeout())
	if err != nil {
		return nil, fmt.Errorf("opening tcp port: %w", err)
	}
	return port, nil
}

// pruneHistory enforces the history retention window, once at startup
// and then daily.
func pruneHistory(ctx context.Context, repo *history.Repository, retention time.Duration, log *logging.Logger) {
	if retention <= 0 {
		return
	}

	ticker := time.NewTicker(pruneInterval)
	defer ticker.Stop()

	for {
		deleted, err := repo.Prune(ctx, retention)
		if err != nil {
			log.Warn("pruning history failed", "error", err)
		} else if deleted > 0 {
			log.Info("pruned history", "deleted", deleted)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// reportBusStats periodically writes scheduler counters to InfluxDB.
func reportBusStats(ctx context.Context, scheduler *amp.Scheduler, client *influxdb.Client) {
	ticker := time.NewTicker(busStatsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			polls, stale, executed, dropped := scheduler.Stats()
			client.WriteBusStats(polls, stale, executed, dropped)
		}
	}
}

// getConfigPath returns the configuration file path.
// Uses MWHA_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("MWHA_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}
