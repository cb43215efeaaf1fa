package main

// cSpell:ignore mqtt solarbox
import (
	"context"
	"errors"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/fisaks/solarbox/internal/api"
	"github.com/fisaks/solarbox/internal/catalog"
	"github.com/fisaks/solarbox/internal/config"
	"github.com/fisaks/solarbox/internal/facade"
	"github.com/fisaks/solarbox/internal/link"
	"github.com/fisaks/solarbox/internal/logging"
	"github.com/fisaks/solarbox/internal/messaging"
	"github.com/fisaks/solarbox/internal/poller"
	"github.com/fisaks/solarbox/internal/solarbox"
	"github.com/fisaks/solarbox/internal/storage/sqlite"
	"github.com/fisaks/solarbox/internal/transport"
)

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// loadConfig falls back to defaults plus environment overrides when the config file does not exist.
func loadConfig(path string) (*config.GatewayConfig, error) {
	cfg, err := config.LoadGatewayConfig(path)
	if err == nil {
		return cfg, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}
	logging.Warn("Gateway config not found, using defaults", "path", path)
	cfg, err = config.LoadGatewayConfigFromReader(strings.NewReader("{}"))
	if err != nil {
		return nil, err
	}
	cfg.ApplyEnv(os.Getenv)
	return cfg, cfg.Validate()
}

func dialer(cfg config.SerialConfig) transport.DialFunc {
	d := &link.Dialer{
		Config: link.Config{
			Path:        cfg.Port,
			Baud:        cfg.Baud,
			ReadTimeout: cfg.ReadTimeout(),
			Settle:      cfg.Settle(),
		},
		Patterns: cfg.DiscoverPatterns,
	}
	return func(ctx context.Context) (transport.Link, error) {
		p, err := d.Dial(ctx)
		if err != nil {
			return nil, err
		}
		return p, nil
	}
}

func main() {
	path := getenv("GATEWAY_CONFIG_PATH", "/etc/solarbox/gateway-config.json")

	logging.Init()
	cfg, err := loadConfig(path)
	if err != nil {
		logging.Fatal("Gateway config error", "error", err)
	}

	logging.Info("Loaded config",
		"serialPort", cfg.Serial.Port,
		"db", cfg.Storage.Path,
		"retentionHours", cfg.Storage.RetentionHours,
		"mqtt", cfg.MQTT.Enabled(),
		"http", cfg.HTTP.ListenAddr,
	)

	// Graceful shutdown context
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tr := transport.New(dialer(cfg.Serial), transport.Options{
		ExchangeTimeout: cfg.Transport.ExchangeTimeout(),
		BackoffMin:      cfg.Transport.BackoffMin(),
		BackoffMax:      cfg.Transport.BackoffMax(),
	})
	defer tr.Close()

	store, err := sqlite.New(cfg.Storage.Path)
	if err != nil {
		logging.Fatal("Storage init failed", "path", cfg.Storage.Path, "error", err)
	}
	defer store.Close()

	commands := facade.New(tr)

	jobs := &poller.Jobs{
		Exchanger: tr,
		Store:     store,
		Retention: cfg.Storage.Retention(),
	}
	var events solarbox.EventPublisher

	if cfg.MQTT.Enabled() {
		gatewayBroker := messaging.NewGatewayBroker(messaging.BrokerConfig{
			BrokerURL:        cfg.MQTT.BrokerURL,
			ClientName:       cfg.MQTT.ClientName,
			TopicPrefix:      cfg.MQTT.TopicPrefix,
			ConnectTimeout:   10 * time.Second,
			PublishTimeout:   5 * time.Second,
			SubscribeTimeout: 5 * time.Second,
		}, catalog.NewGatewayCatalog(cfg).OnConnectPublish, cfg.MQTT.Heartbeat())

		connectCtx, connectCancel := context.WithTimeout(ctx, 10*time.Second)
		err := gatewayBroker.Connect(connectCtx)
		connectCancel()
		if err != nil {
			logging.Warn("MQTT connect failed, retrying in background", "broker", cfg.MQTT.BrokerURL, "error", err)
		}
		defer gatewayBroker.Close(context.Background())

		if err := gatewayBroker.StartCommandSubscriber(ctx, messaging.FacadeSubscriber{Invoker: commands}); err != nil {
			logging.Warn("Command subscription pending", "error", err)
		}
		jobs.Readings = gatewayBroker
		jobs.Events = gatewayBroker
		events = gatewayBroker
	}

	scheduler, err := poller.NewScheduler(jobs.Tasks(cfg.Schedule), poller.SchedulerOptions{
		FailureAlertThreshold: cfg.Schedule.FailureAlertThreshold,
		Events:                events,
	})
	if err != nil {
		logging.Fatal("Scheduler init failed", "error", err)
	}
	scheduler.Start(ctx)
	defer scheduler.Stop()

	srv := &http.Server{
		Addr: cfg.HTTP.ListenAddr,
		Handler: api.NewRouter(&api.Handler{
			Commands:  commands,
			Readings:  store,
			Transport: tr,
			Tasks:     scheduler,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logging.Info("HTTP server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.Fatal("HTTP server failed", "error", err)
		}
	}()

	// Wait for SIGINT/SIGTERM
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	s := <-sigCh
	logging.Info("Shutting down", "signal", s)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logging.Warn("HTTP shutdown", "error", err)
	}
	cancel()
	logging.Info("bye")
}
