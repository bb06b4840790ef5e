// Package sensing runs the capture, background subtraction and sequencing
// cycle and publishes the annotated frame.
package sensing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dj-oyu/rdk-x5_zone-sentry/sentry-server/internal/capture"
	"github.com/dj-oyu/rdk-x5_zone-sentry/sentry-server/internal/logger"
	"github.com/dj-oyu/rdk-x5_zone-sentry/sentry-server/internal/metrics"
	"github.com/dj-oyu/rdk-x5_zone-sentry/sentry-server/internal/sequencer"
	"github.com/dj-oyu/rdk-x5_zone-sentry/sentry-server/internal/timeutil"
	"github.com/dj-oyu/rdk-x5_zone-sentry/sentry-server/internal/vision"
)

// Options tunes the loop. Zero values fall back to the defaults below.
type Options struct {
	Cutoff        uint8
	MinArea       int
	Warmup        time.Duration
	IdleSleep     time.Duration
	MaxReadErrors int
	Metrics       *metrics.Metrics
	Clock         timeutil.Clock
}

const (
	defaultCutoff        = 250
	defaultMaxReadErrors = 30
)

// Loop is the only writer of the sequencer state and the frame slot.
type Loop struct {
	source    capture.Source
	model     vision.BackgroundModel
	extractor vision.CentroidExtractor
	seq       *sequencer.Sequencer
	slot      *FrameSlot
	opts      Options
	clock     timeutil.Clock
	metrics   *metrics.Metrics

	readFailures int
}

// New wires a loop. slot may be shared with the status server.
func New(source capture.Source, model vision.BackgroundModel, seq *sequencer.Sequencer, slot *FrameSlot, opts Options) *Loop {
	if opts.Cutoff == 0 {
		opts.Cutoff = defaultCutoff
	}
	if opts.MaxReadErrors <= 0 {
		opts.MaxReadErrors = defaultMaxReadErrors
	}
	clock := opts.Clock
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	m := opts.Metrics
	if m == nil {
		m = metrics.New()
	}
	return &Loop{
		source:    source,
		model:     model,
		extractor: vision.CentroidExtractor{MinArea: opts.MinArea},
		seq:       seq,
		slot:      slot,
		opts:      opts,
		clock:     clock,
		metrics:   m,
	}
}

// Run processes frames until ctx is cancelled, which returns nil. Too many
// consecutive capture failures or a vision error end the loop with an error.
func (l *Loop) Run(ctx context.Context) error {
	if l.opts.Warmup > 0 {
		logger.Info("Sensing", "Warming up camera for %s", l.opts.Warmup)
		l.clock.Sleep(l.opts.Warmup)
	}

	logger.Info("Sensing", "Loop started (min area %d, cutoff %d)", l.opts.MinArea, l.opts.Cutoff)
	for ctx.Err() == nil {
		if err := l.Cycle(ctx); err != nil {
			if ctx.Err() != nil {
				break
			}
			return err
		}
		if l.opts.IdleSleep > 0 {
			l.clock.Sleep(l.opts.IdleSleep)
		}
	}
	logger.Info("Sensing", "Loop stopped after %d cycles", l.metrics.CyclesRun.Load())
	return nil
}

// Cycle reads one frame and runs it through the pipeline. A failed read still
// ends the previous cycle's detection and is only reported once the failure
// budget is used up.
func (l *Loop) Cycle(ctx context.Context) error {
	frame, err := l.source.Read(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		l.seq.Skip()
		l.readFailures++
		l.metrics.ReadErrors.Add(1)
		if l.readFailures >= l.opts.MaxReadErrors {
			return fmt.Errorf("capture failed %d times in a row: %w", l.readFailures, err)
		}
		if errors.Is(err, capture.ErrNoFrame) {
			logger.Debug("Sensing", "Read skipped: %v", err)
		} else {
			logger.Warn("Sensing", "Read failed (%d/%d): %v", l.readFailures, l.opts.MaxReadErrors, err)
		}
		return nil
	}
	if l.readFailures > 0 {
		logger.Info("Sensing", "Capture recovered after %d failures", l.readFailures)
		l.readFailures = 0
	}
	l.metrics.FramesRead.Add(1)

	start := time.Now()
	mask, err := l.model.Apply(frame)
	if err != nil {
		return fmt.Errorf("background model: %w", err)
	}
	vision.Threshold(mask, l.opts.Cutoff)
	centroid, present := l.extractor.Extract(mask)
	if present {
		l.metrics.MotionFrames.Add(1)
	}

	res := l.seq.Step(centroid, present, frame.Timestamp)
	l.metrics.UpdateProcessLatency(time.Since(start))
	l.record(res, frame.FrameNum)

	cfg := l.seq.Config()
	annotated := Annotate(frame, cfg.Entry, cfg.Confirm, centroid, present)
	l.slot.Store(annotated, frame.Timestamp, frame.FrameNum)

	l.metrics.CyclesRun.Add(1)
	l.metrics.UpdateFrameLatency(frame.Timestamp)
	return nil
}

func (l *Loop) record(res sequencer.Result, frameNum uint64) {
	if res.Armed {
		l.metrics.EntriesArmed.Add(1)
		logger.Info("Sequencer", "Entry armed at frame %d", frameNum)
	}
	if res.Expired {
		l.metrics.EntriesExpired.Add(1)
		logger.Debug("Sequencer", "Pending entry expired at frame %d", frameNum)
	}
	if res.Confirmed {
		l.metrics.SequencesConfirmed.Add(1)
		logger.Info("Sequencer", "Sequence #%d confirmed at frame %d", res.Count, frameNum)
	}
}
