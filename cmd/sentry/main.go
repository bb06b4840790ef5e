package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/dj-oyu/rdk-x5_zone-sentry/sentry-server/internal/alarm"
	"github.com/dj-oyu/rdk-x5_zone-sentry/sentry-server/internal/capture"
	"github.com/dj-oyu/rdk-x5_zone-sentry/sentry-server/internal/config"
	"github.com/dj-oyu/rdk-x5_zone-sentry/sentry-server/internal/gpio"
	"github.com/dj-oyu/rdk-x5_zone-sentry/sentry-server/internal/logger"
	"github.com/dj-oyu/rdk-x5_zone-sentry/sentry-server/internal/metrics"
	"github.com/dj-oyu/rdk-x5_zone-sentry/sentry-server/internal/sensing"
	"github.com/dj-oyu/rdk-x5_zone-sentry/sentry-server/internal/sequencer"
	"github.com/dj-oyu/rdk-x5_zone-sentry/sentry-server/internal/status"
	"github.com/dj-oyu/rdk-x5_zone-sentry/sentry-server/internal/timeutil"
	"github.com/dj-oyu/rdk-x5_zone-sentry/sentry-server/internal/vision"
)

// Sentry wires the detector components together
type Sentry struct {
	cfg      *config.Config
	metrics  *metrics.Metrics
	source   capture.Source
	model    vision.BackgroundModel
	actuator *alarm.Actuator
	seq      *sequencer.Sequencer
	loop     *sensing.Loop
	status   *status.Server
}

func main() {
	os.Exit(run())
}

func run() int {
	cfg, err := config.Parse(os.Args[0], os.Args[1:])
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		log.Printf("Configuration error: %v", err)
		return 1
	}

	// Initialize logger
	level, err := logger.ParseLevel(cfg.Log.Level)
	if err != nil {
		log.Printf("Invalid log level: %v", err)
		return 1
	}
	var output io.Writer = os.Stderr
	if cfg.Log.File != "" {
		w, closer, err := logger.OpenFile(cfg.Log.File)
		if err != nil {
			log.Printf("Failed to open log file: %v", err)
			return 1
		}
		defer closer.Close()
		output = w
	}
	logger.Init(level, output, cfg.Log.Color)

	logger.Info("Main", "Zone sentry starting...")
	logger.Info("Main", "Log level: %s", level)
	for _, w := range cfg.Warnings() {
		logger.Warn("Config", "%s", w)
	}

	s, err := NewSentry(cfg)
	if err != nil {
		logger.Error("Main", "Startup failed: %v", err)
		return 1
	}

	// Cancel on SIGINT/SIGTERM
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	runErr := s.Run(ctx)
	s.Shutdown()

	if runErr != nil {
		logger.Error("Main", "Detector stopped: %v", runErr)
		return 1
	}
	logger.Info("Main", "Detector stopped")
	return 0
}

// NewSentry opens the hardware and binds the status server. Anything that
// fails here leaves the outputs in their resting levels.
func NewSentry(cfg *config.Config) (*Sentry, error) {
	m := metrics.New()
	clock := timeutil.RealClock{}

	lamp, buzzer, err := openPins(cfg.Alarm)
	if err != nil {
		return nil, err
	}
	actuator := alarm.New(lamp, buzzer, clock)
	actuator.SafeState()

	source, err := capture.Open(cfg, clock)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s capture source: %w", cfg.Camera.Source, err)
	}

	model, err := vision.NewBackgroundModel(cfg.Vision.Backend, cfg.Vision.History, cfg.Vision.VarThreshold)
	if err != nil {
		source.Close()
		return nil, fmt.Errorf("failed to create background model: %w", err)
	}

	alarmDuration, alarmRepeat := cfg.Alarm.Duration.Duration, cfg.Alarm.Repeat
	seq := sequencer.New(sequencer.Config{
		Entry:           cfg.Zones.Entry,
		Confirm:         cfg.Zones.Confirm,
		SequenceTimeout: cfg.Sequence.Timeout.Duration,
		AlarmCooldown:   cfg.Sequence.Cooldown.Duration,
	}, func() {
		m.AlarmsTriggered.Add(1)
		actuator.Trigger(alarmDuration, alarmRepeat)
	})

	slot := sensing.NewFrameSlot()
	loop := sensing.New(source, model, seq, slot, sensing.Options{
		Cutoff:        cfg.Vision.Cutoff,
		MinArea:       cfg.Vision.MinArea,
		Warmup:        cfg.Camera.Warmup.Duration,
		IdleSleep:     cfg.Loop.IdleSleep.Duration,
		MaxReadErrors: cfg.Loop.MaxConsecutiveReadErrors,
		Metrics:       m,
		Clock:         clock,
	})

	statusSrv := status.NewServer(slot, seq, status.Options{
		Addr:      cfg.Status.Addr,
		MaxConns:  cfg.Status.MaxConns,
		IOTimeout: cfg.Status.IOTimeout.Duration,
		Metrics:   m,
	})
	if err := statusSrv.Start(); err != nil {
		model.Close()
		source.Close()
		return nil, err
	}

	logger.Info("Main", "  Capture source: %s (%dx%d @ %dfps)", cfg.Camera.Source, cfg.Camera.Width, cfg.Camera.Height, cfg.Camera.FPS)
	logger.Info("Main", "  Entry zone: %s, confirm zone: %s", cfg.Zones.Entry, cfg.Zones.Confirm)
	logger.Info("Main", "  Sequence timeout: %s, alarm cooldown: %s", cfg.Sequence.Timeout, cfg.Sequence.Cooldown)
	logger.Info("Main", "  Status server: %s", statusSrv.Addr())

	return &Sentry{
		cfg:      cfg,
		metrics:  m,
		source:   source,
		model:    model,
		actuator: actuator,
		seq:      seq,
		loop:     loop,
		status:   statusSrv,
	}, nil
}

func openPins(cfg config.AlarmConfig) (gpio.Pin, gpio.Pin, error) {
	if cfg.Driver == config.DriverLog {
		return gpio.NewLogPin(cfg.LampPin), gpio.NewLogPin(cfg.BuzzerPin), nil
	}
	lamp, err := gpio.OpenPeriph(cfg.LampPin)
	if err != nil {
		return nil, nil, fmt.Errorf("lamp pin: %w", err)
	}
	buzzer, err := gpio.OpenPeriph(cfg.BuzzerPin)
	if err != nil {
		return nil, nil, fmt.Errorf("buzzer pin: %w", err)
	}
	return lamp, buzzer, nil
}

// Run blocks until ctx is cancelled or the sensing loop fails.
func (s *Sentry) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return s.loop.Run(gctx)
	})

	if s.cfg.Metrics != "" {
		g.Go(func() error {
			logger.Info("Main", "Starting metrics server on %s", s.cfg.Metrics)
			if err := s.metrics.StartServer(gctx, s.cfg.Metrics); err != nil {
				// The detector keeps running without metrics.
				logger.Warn("Main", "Metrics server error: %v", err)
			}
			return nil
		})
	}

	return g.Wait()
}

// Shutdown stops the status server, lets running alarm patterns finish and
// leaves the outputs at rest.
func (s *Sentry) Shutdown() {
	logger.Info("Main", "Shutting down...")

	if err := s.status.Close(); err != nil {
		logger.Warn("Main", "Status server close: %v", err)
	}
	s.actuator.Wait()
	s.actuator.SafeState()

	if err := s.source.Close(); err != nil {
		logger.Warn("Main", "Capture source close: %v", err)
	}
	if err := s.model.Close(); err != nil {
		logger.Warn("Main", "Background model close: %v", err)
	}

	st := s.seq.Snapshot()
	logger.Info("Main", "Sequences confirmed: %d, alarms: %d", st.SequenceCount, s.actuator.Started())
}
