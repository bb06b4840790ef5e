package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dj-oyu/rdk-x5_zone-sentry/sentry-server/internal/logger"
	"github.com/dj-oyu/rdk-x5_zone-sentry/sentry-server/internal/status"
	"github.com/dj-oyu/rdk-x5_zone-sentry/sentry-server/internal/webmonitor"
	"github.com/dj-oyu/rdk-x5_zone-sentry/sentry-server/internal/webrtc"
)

func main() {
	os.Exit(run())
}

func run() int {
	cfg := webmonitor.DefaultConfig()

	var logLevel string
	var logColor bool
	var stun string

	flag.StringVar(&cfg.Addr, "http", cfg.Addr, "HTTP server address")
	flag.StringVar(&cfg.AssetsDir, "assets", cfg.AssetsDir, "Web assets directory")
	flag.StringVar(&cfg.BuildAssetsDir, "assets-build", cfg.BuildAssetsDir, "Build assets directory")
	flag.StringVar(&cfg.StatusAddr, "status", cfg.StatusAddr, "Detector status server address")
	flag.DurationVar(&cfg.PollInterval, "poll", cfg.PollInterval, "Status poll interval")
	flag.DurationVar(&cfg.PollTimeout, "poll-timeout", cfg.PollTimeout, "Status request timeout")
	flag.IntVar(&cfg.ReadyAttempts, "ready-attempts", cfg.ReadyAttempts, "Detector connection attempts at startup")
	flag.StringVar(&cfg.AlertMessage, "alert-message", cfg.AlertMessage, "Alert banner text")
	flag.StringVar(&cfg.MQTTBroker, "mqtt", cfg.MQTTBroker, "MQTT broker host:port (empty to disable)")
	flag.StringVar(&cfg.MQTTTopic, "mqtt-topic", cfg.MQTTTopic, "MQTT topic prefix")
	flag.StringVar(&cfg.MQTTClientID, "mqtt-client-id", cfg.MQTTClientID, "MQTT client ID")
	flag.BoolVar(&cfg.WebRTC, "webrtc", cfg.WebRTC, "Enable WebRTC alert data channels")
	flag.StringVar(&stun, "stun", "stun:stun.l.google.com:19302", "STUN server URLs (comma-separated)")
	flag.IntVar(&cfg.MaxPeers, "max-peers", cfg.MaxPeers, "Maximum WebRTC peers")
	flag.StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error, silent)")
	flag.BoolVar(&logColor, "log-color", true, "Enable colored log output")
	flag.Parse()

	// Initialize logger
	level, err := logger.ParseLevel(logLevel)
	if err != nil {
		log.Printf("Invalid log level: %v", err)
		return 1
	}
	logger.Init(level, os.Stderr, logColor)

	for _, url := range strings.Split(stun, ",") {
		if url = strings.TrimSpace(url); url != "" {
			cfg.STUNServers = append(cfg.STUNServers, url)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client := status.NewClient(cfg.StatusAddr, cfg.PollTimeout)
	logger.Info("Main", "Waiting for detector at %s", cfg.StatusAddr)
	if err := client.WaitReady(ctx, cfg.ReadyAttempts, cfg.ReadyInterval); err != nil {
		logger.Error("Main", "Could not connect to the detector: %v", err)
		return 1
	}
	logger.Info("Main", "Detector is ready")

	monitor := webmonitor.NewMonitor(client, cfg, nil)

	hub := webmonitor.NewHub()
	defer hub.Close()
	monitor.AddNotifier("websocket", hub)

	if cfg.MQTTBroker != "" {
		notifier := webmonitor.NewMQTTNotifier(cfg.MQTTBroker, cfg.MQTTClientID, cfg.MQTTTopic)
		if err := notifier.Connect(ctx); err != nil {
			// Paho keeps retrying in the background.
			logger.Warn("Main", "MQTT broker %s not reachable yet: %v", cfg.MQTTBroker, err)
		}
		defer notifier.Close()
		monitor.AddNotifier("mqtt", notifier)
	}

	var offers http.Handler
	if cfg.WebRTC {
		rtc := webrtc.NewServer(cfg.STUNServers, cfg.MaxPeers)
		defer rtc.Close()
		monitor.AddNotifier("webrtc", webmonitor.SendJSON(rtc.Broadcast))
		offers = rtc
	}

	server := webmonitor.NewServer(cfg, monitor, hub, offers)
	httpServer := &http.Server{
		Addr:    cfg.Addr,
		Handler: server.Handler(),
	}

	logger.Info("Main", "Web monitor listening on %s", cfg.Addr)
	logger.Info("Main", "Assets: %s (build: %s)", cfg.AssetsDir, cfg.BuildAssetsDir)
	logger.Info("Main", "Log level: %s", level)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		monitor.Run(gctx)
		return nil
	})
	g.Go(func() error {
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		// Streaming handlers end when the monitor closes its fan-out.
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error("Main", "Server error: %v", err)
		return 1
	}
	logger.Info("Main", "Web monitor stopped")
	return 0
}
