// cmd/cloudbutton/main.go
//
// Links a push button and an LED on a single-board computer to three
// cloud-synchronized variables: button_state, debug_message and
// led_state. The button and LED can be monitored and controlled from a
// remote dashboard.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cloudbutton-go/bus"
	"cloudbutton-go/config"
	"cloudbutton-go/secrets"
	"cloudbutton-go/services/cloud"
	"cloudbutton-go/services/hal"
	"cloudbutton-go/services/hal/halio"
	"cloudbutton-go/services/hal/provider"
	"cloudbutton-go/services/heartbeat"
	"cloudbutton-go/services/link"
	"cloudbutton-go/types"
)

func main() {
	// Secrets are startup-fatal: do not touch the network without them.
	sec, err := secrets.Load(secrets.DefaultPath)
	if err != nil {
		slog.Error("loading secrets", "error", err)
		fmt.Fprintln(os.Stderr, "Secrets are stored in", secrets.DefaultPath)
		os.Exit(1)
	}

	cfg, err := config.Load(config.DefaultPath)
	if err != nil {
		slog.Error("loading config", "error", err)
		os.Exit(1)
	}

	logger := setupLogger(cfg.Log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		logger.Info("shutting down")
		cancel()
	}()

	b := bus.NewBus(32)

	prov, err := newProvider(cfg)
	if err != nil {
		logger.Error("gpio backend init failed", "backend", cfg.GPIO.Backend, "error", err)
		os.Exit(1)
	}
	defer prov.Close()

	go func() {
		err := hal.Run(ctx, b.NewConnection("hal"), prov, hal.Options{
			ButtonPin:       cfg.GPIO.ButtonPin,
			LEDPin:          cfg.GPIO.LEDPin,
			ButtonActiveLow: cfg.GPIO.ActiveLow(),
			Debounce:        time.Duration(cfg.GPIO.DebounceMS) * time.Millisecond,
		}, logger)
		if err != nil {
			logger.Error("hal failed", "error", err)
			cancel()
		}
	}()
	if !waitReady(ctx, b, hal.TopicState, 2*time.Second) {
		logger.Error("hal did not become ready")
		os.Exit(1)
	}

	cl := cloud.New(cloud.Options{
		DeviceID:    sec.Cloud.DeviceID,
		SecretKey:   sec.Cloud.SecretKey,
		BrokerURL:   cfg.Cloud.BrokerURL,
		TopicPrefix: cfg.Cloud.TopicPrefix,
	}, logger)

	go func() {
		err := link.Run(ctx, b.NewConnection("link"), link.Adapt(cl),
			link.Options{Debug: cfg.DebugEnabled()}, logger)
		if err != nil {
			logger.Error("link failed", "error", err)
			cancel()
		}
	}()
	// Variable registration happens in the link service and must precede
	// the cloud client's Start.
	if !waitReady(ctx, b, link.TopicState, 2*time.Second) {
		logger.Error("link did not become ready")
		os.Exit(1)
	}

	hb := &heartbeat.Service{Interval: cfg.Heartbeat.Interval()}
	hb.Start(ctx, b.NewConnection("heartbeat"), logger)

	fmt.Println("Press CTRL-C to exit.")

	// Blocks until the context is cancelled; the MQTT library owns the
	// synchronization loop.
	if err := cl.Start(ctx); err != nil {
		logger.Error("cloud client failed", "error", err)
		os.Exit(1)
	}
}

func newProvider(cfg *config.Config) (halio.PinProvider, error) {
	return provider.New(cfg.GPIO.Backend, provider.Config{Chip: cfg.GPIO.Chip})
}

// waitReady blocks until a service publishes a "ready" state on the
// given topic.
func waitReady(ctx context.Context, b *bus.Bus, topic bus.Topic, timeout time.Duration) bool {
	conn := b.NewConnection("main-wait")
	defer conn.Disconnect()
	sub := conn.Subscribe(topic)

	deadline := time.After(timeout)
	for {
		select {
		case <-ctx.Done():
			return false
		case <-deadline:
			return false
		case msg := <-sub.Channel():
			if st, ok := msg.Payload.(types.ServiceState); ok && st.Level == "ready" {
				return true
			}
		}
	}
}

func setupLogger(cfg config.LogConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
	return logger
}
