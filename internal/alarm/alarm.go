// Package alarm blinks the lamp and buzzer in anti-phase.
package alarm

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/dj-oyu/rdk-x5_zone-sentry/sentry-server/internal/gpio"
	"github.com/dj-oyu/rdk-x5_zone-sentry/sentry-server/internal/logger"
	"github.com/dj-oyu/rdk-x5_zone-sentry/sentry-server/internal/timeutil"
)

// Resting levels. The lamp is wired active-low, so High keeps it lit.
const (
	LampIdle   = gpio.High
	BuzzerIdle = gpio.Low
)

// Actuator drives the two alarm outputs. Patterns run on their own goroutines;
// overlapping patterns are allowed and the last write to a pin wins.
type Actuator struct {
	lamp   gpio.Pin
	buzzer gpio.Pin
	clock  timeutil.Clock

	wg      sync.WaitGroup
	active  atomic.Int32
	started atomic.Uint64
}

// New creates an Actuator. A nil clock uses real time.
func New(lamp, buzzer gpio.Pin, clock timeutil.Clock) *Actuator {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &Actuator{
		lamp:   lamp,
		buzzer: buzzer,
		clock:  clock,
	}
}

// Trigger starts a blink pattern of repeat cycles spread over duration and
// returns immediately.
func (a *Actuator) Trigger(duration time.Duration, repeat int) {
	a.wg.Add(1)
	a.active.Add(1)
	n := a.started.Add(1)
	go func() {
		defer a.wg.Done()
		defer a.active.Add(-1)
		logger.Info("Alarm", "Pattern #%d started (%s, %d cycles)", n, duration, repeat)
		a.Run(duration, repeat)
		logger.Debug("Alarm", "Pattern #%d finished", n)
	}()
}

// Run plays one blink pattern on the calling goroutine.
// Each cycle holds the alarm levels for half a period, then the resting levels.
func (a *Actuator) Run(duration time.Duration, repeat int) {
	if repeat <= 0 || duration <= 0 {
		return
	}
	half := duration / time.Duration(repeat) / 2
	for i := 0; i < repeat; i++ {
		a.set(!LampIdle, !BuzzerIdle)
		a.clock.Sleep(half)
		a.set(LampIdle, BuzzerIdle)
		a.clock.Sleep(half)
	}
}

// SafeState drives both outputs to their resting levels.
func (a *Actuator) SafeState() {
	a.set(LampIdle, BuzzerIdle)
}

// Wait blocks until every started pattern has finished.
func (a *Actuator) Wait() {
	a.wg.Wait()
}

// Active returns the number of patterns currently running.
func (a *Actuator) Active() int {
	return int(a.active.Load())
}

// Started returns the number of patterns triggered so far.
func (a *Actuator) Started() uint64 {
	return a.started.Load()
}

func (a *Actuator) set(lamp, buzzer gpio.Level) {
	if err := a.lamp.Set(lamp); err != nil {
		logger.Warn("Alarm", "Lamp %s: %v", a.lamp.Name(), err)
	}
	if err := a.buzzer.Set(buzzer); err != nil {
		logger.Warn("Alarm", "Buzzer %s: %v", a.buzzer.Name(), err)
	}
}
