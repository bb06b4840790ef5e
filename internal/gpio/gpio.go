// Package gpio drives the lamp and buzzer outputs.
package gpio

import (
	"fmt"
	"sync"

	pgpio "periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"

	"github.com/dj-oyu/rdk-x5_zone-sentry/sentry-server/internal/logger"
)

// Level is a digital output level.
type Level bool

const (
	Low  Level = false
	High Level = true
)

func (l Level) String() string {
	if l {
		return "high"
	}
	return "low"
}

// Pin is a single digital output.
type Pin interface {
	Name() string
	Set(level Level) error
}

var (
	hostOnce sync.Once
	hostErr  error
)

// OpenPeriph resolves name (e.g. "GPIO17") through the periph.io registry.
// Host drivers are loaded on first use.
func OpenPeriph(name string) (Pin, error) {
	hostOnce.Do(func() {
		_, hostErr = host.Init()
	})
	if hostErr != nil {
		return nil, fmt.Errorf("failed to initialize gpio host drivers: %w", hostErr)
	}

	p := gpioreg.ByName(name)
	if p == nil {
		return nil, fmt.Errorf("gpio pin %q not found", name)
	}
	return &periphPin{pin: p}, nil
}

type periphPin struct {
	pin pgpio.PinIO
}

func (p *periphPin) Name() string {
	return p.pin.Name()
}

func (p *periphPin) Set(level Level) error {
	l := pgpio.Low
	if level {
		l = pgpio.High
	}
	if err := p.pin.Out(l); err != nil {
		return fmt.Errorf("failed to set %s %s: %w", p.pin.Name(), level, err)
	}
	return nil
}

// LogPin stands in for hardware on boards without the outputs wired.
// Level changes are logged at debug level.
type LogPin struct {
	name string

	mu    sync.Mutex
	level Level
	set   bool
}

// NewLogPin creates a LogPin.
func NewLogPin(name string) *LogPin {
	return &LogPin{name: name}
}

func (p *LogPin) Name() string {
	return p.name
}

func (p *LogPin) Set(level Level) error {
	p.mu.Lock()
	changed := !p.set || p.level != level
	p.level = level
	p.set = true
	p.mu.Unlock()

	if changed {
		logger.Debug("GPIO", "%s -> %s", p.name, level)
	}
	return nil
}

// Level returns the last level written.
func (p *LogPin) Level() Level {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.level
}
