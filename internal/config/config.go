// Package config holds the load-once settings of the sentry process.
//
// Values come from Default(), are overlaid by an optional JSON file and are
// finally overridden by command-line flags that were set explicitly.
package config

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/dj-oyu/rdk-x5_zone-sentry/sentry-server/pkg/types"
)

// Capture source kinds
const (
	SourceSynthetic = "synthetic"
	SourceShm       = "shm"
	SourceDir       = "dir"
	SourceCamera    = "camera"
)

// GPIO driver kinds
const (
	DriverPeriph = "periph"
	DriverLog    = "log"
)

// Duration is a time.Duration that reads "2s" style strings or plain seconds from JSON.
type Duration struct {
	time.Duration
}

// D wraps d as a Duration.
func D(d time.Duration) Duration {
	return Duration{d}
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var v interface{}
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	switch val := v.(type) {
	case float64:
		d.Duration = time.Duration(val * float64(time.Second))
	case string:
		parsed, err := time.ParseDuration(val)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", val, err)
		}
		d.Duration = parsed
	default:
		return fmt.Errorf("invalid duration %s", string(b))
	}
	return nil
}

// CameraConfig selects and sizes the capture source.
type CameraConfig struct {
	Source  string   `json:"source"`
	Device  int      `json:"device"`   // camera source only
	ShmName string   `json:"shm_name"` // shm source only
	Dir     string   `json:"dir"`      // dir source only
	Width   int      `json:"width"`
	Height  int      `json:"height"`
	FPS     int      `json:"fps"`
	Warmup  Duration `json:"warmup"`
}

// VisionConfig tunes the background model and centroid extractor.
type VisionConfig struct {
	Backend      string  `json:"backend"` // "gaussian" or "mog2" (withcv builds)
	History      int     `json:"history"`
	VarThreshold float64 `json:"var_threshold"`
	Cutoff       uint8   `json:"cutoff"`
	MinArea      int     `json:"min_area"`
}

// ZonesConfig holds the two detection rectangles.
type ZonesConfig struct {
	Entry   types.Zone `json:"entry"`
	Confirm types.Zone `json:"confirm"`
}

// SequenceConfig holds the sequencer timing windows.
type SequenceConfig struct {
	Timeout  Duration `json:"timeout"`
	Cooldown Duration `json:"cooldown"`
}

// AlarmConfig describes the blink pattern and output pins.
type AlarmConfig struct {
	Duration  Duration `json:"duration"`
	Repeat    int      `json:"repeat"`
	Driver    string   `json:"driver"`
	LampPin   string   `json:"lamp_pin"`
	BuzzerPin string   `json:"buzzer_pin"`
}

// StatusConfig configures the TCP status endpoint.
type StatusConfig struct {
	Addr      string   `json:"addr"`
	MaxConns  int      `json:"max_conns"`
	IOTimeout Duration `json:"io_timeout"`
}

// LoopConfig tunes the sensing loop.
type LoopConfig struct {
	IdleSleep                Duration `json:"idle_sleep"`
	MaxConsecutiveReadErrors int      `json:"max_consecutive_read_errors"`
}

// LogConfig configures the logger.
type LogConfig struct {
	Level string `json:"level"`
	File  string `json:"file"`
	Color bool   `json:"color"`
}

// Config is the root configuration of the sentry process.
type Config struct {
	Camera   CameraConfig   `json:"camera"`
	Vision   VisionConfig   `json:"vision"`
	Zones    ZonesConfig    `json:"zones"`
	Sequence SequenceConfig `json:"sequence"`
	Alarm    AlarmConfig    `json:"alarm"`
	Status   StatusConfig   `json:"status"`
	Loop     LoopConfig     `json:"loop"`
	Log      LogConfig      `json:"log"`
	Metrics  string         `json:"metrics_addr"` // empty disables the endpoint
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Camera: CameraConfig{
			Source:  SourceShm,
			ShmName: "/zone_sentry_frame",
			Dir:     "./frames",
			Width:   640,
			Height:  480,
			FPS:     30,
			Warmup:  D(2 * time.Second),
		},
		Vision: VisionConfig{
			Backend:      "gaussian",
			History:      500,
			VarThreshold: 50,
			Cutoff:       250,
			MinArea:      2500,
		},
		Zones: ZonesConfig{
			Entry:   types.Zone{X: 20, Y: 150, W: 200, H: 200},
			Confirm: types.Zone{X: 420, Y: 150, W: 200, H: 200},
		},
		Sequence: SequenceConfig{
			Timeout:  D(2 * time.Second),
			Cooldown: D(2 * time.Second),
		},
		Alarm: AlarmConfig{
			Duration:  D(3 * time.Second),
			Repeat:    3,
			Driver:    DriverPeriph,
			LampPin:   "GPIO17",
			BuzzerPin: "GPIO27",
		},
		Status: StatusConfig{
			Addr:      "127.0.0.1:8001",
			MaxConns:  8,
			IOTimeout: D(2 * time.Second),
		},
		Loop: LoopConfig{
			IdleSleep:                D(10 * time.Millisecond),
			MaxConsecutiveReadErrors: 30,
		},
		Log: LogConfig{
			Level: "info",
			Color: true,
		},
		Metrics: "127.0.0.1:9090",
	}
}

// Load reads a JSON file over the defaults. Fields omitted from the file keep
// their default values. The result is validated.
func Load(path string) (*Config, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Default()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Parse builds the configuration from command-line arguments. A -config file
// is applied first and flags given explicitly on the command line win over it.
func Parse(name string, args []string) (*Config, error) {
	// First pass only discovers -config; every other flag lands in a scratch copy.
	scratch := Default()
	pre := flag.NewFlagSet(name, flag.ContinueOnError)
	pre.SetOutput(io.Discard)
	path := scratch.bind(pre)
	// Errors resurface in the second pass, which also prints usage.
	_ = pre.Parse(args)

	cfg := Default()
	if *path != "" {
		loaded, err := Load(*path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	cfg.bind(fs)
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func (c *Config) bind(fs *flag.FlagSet) *string {
	path := fs.String("config", "", "JSON configuration file")

	fs.StringVar(&c.Camera.Source, "source", c.Camera.Source, "Capture source (synthetic, shm, dir, camera)")
	fs.IntVar(&c.Camera.Device, "device", c.Camera.Device, "Camera device index (camera source)")
	fs.StringVar(&c.Camera.ShmName, "frame-shm", c.Camera.ShmName, "Frame shared memory name (shm source)")
	fs.StringVar(&c.Camera.Dir, "frame-dir", c.Camera.Dir, "Directory watched for JPEG frames (dir source)")
	fs.IntVar(&c.Camera.Width, "width", c.Camera.Width, "Frame width")
	fs.IntVar(&c.Camera.Height, "height", c.Camera.Height, "Frame height")
	fs.IntVar(&c.Camera.FPS, "fps", c.Camera.FPS, "Capture frame rate")
	fs.DurationVar(&c.Camera.Warmup.Duration, "warmup", c.Camera.Warmup.Duration, "Camera warm-up delay")

	fs.StringVar(&c.Vision.Backend, "vision", c.Vision.Backend, "Background model backend (gaussian, mog2)")
	fs.IntVar(&c.Vision.MinArea, "min-area", c.Vision.MinArea, "Minimum motion region area in pixels")
	fs.Var((*zoneFlag)(&c.Zones.Entry), "entry-zone", "Entry zone as x,y,w,h")
	fs.Var((*zoneFlag)(&c.Zones.Confirm), "confirm-zone", "Confirm zone as x,y,w,h")

	fs.DurationVar(&c.Sequence.Timeout.Duration, "sequence-timeout", c.Sequence.Timeout.Duration, "Maximum time from entry to confirm")
	fs.DurationVar(&c.Sequence.Cooldown.Duration, "alarm-cooldown", c.Sequence.Cooldown.Duration, "Minimum time between alarms")

	fs.DurationVar(&c.Alarm.Duration.Duration, "alarm-duration", c.Alarm.Duration.Duration, "Total alarm pattern length")
	fs.IntVar(&c.Alarm.Repeat, "alarm-repeat", c.Alarm.Repeat, "Blink cycles per alarm")
	fs.StringVar(&c.Alarm.Driver, "gpio", c.Alarm.Driver, "GPIO driver (periph, log)")
	fs.StringVar(&c.Alarm.LampPin, "lamp-pin", c.Alarm.LampPin, "Lamp output pin")
	fs.StringVar(&c.Alarm.BuzzerPin, "buzzer-pin", c.Alarm.BuzzerPin, "Buzzer output pin")

	fs.StringVar(&c.Status.Addr, "status", c.Status.Addr, "Status server address")
	fs.IntVar(&c.Status.MaxConns, "status-conns", c.Status.MaxConns, "Concurrent status connections")

	fs.StringVar(&c.Log.Level, "log-level", c.Log.Level, "Log level (debug, info, warn, error, silent)")
	fs.StringVar(&c.Log.File, "log-file", c.Log.File, "Also write logs to this file")
	fs.BoolVar(&c.Log.Color, "log-color", c.Log.Color, "Enable colored log output")
	fs.StringVar(&c.Metrics, "metrics", c.Metrics, "Prometheus metrics address (empty to disable)")

	return path
}

// zoneFlag parses "x,y,w,h".
type zoneFlag types.Zone

func (z *zoneFlag) String() string {
	if z == nil {
		return ""
	}
	return fmt.Sprintf("%d,%d,%d,%d", z.X, z.Y, z.W, z.H)
}

func (z *zoneFlag) Set(s string) error {
	zone, err := ParseZone(s)
	if err != nil {
		return err
	}
	*z = zoneFlag(zone)
	return nil
}

// ParseZone parses a zone written as "x,y,w,h".
func ParseZone(s string) (types.Zone, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return types.Zone{}, fmt.Errorf("zone %q: want x,y,w,h", s)
	}
	var v [4]int
	for i, p := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return types.Zone{}, fmt.Errorf("zone %q: %w", s, err)
		}
		v[i] = n
	}
	return types.Zone{X: v[0], Y: v[1], W: v[2], H: v[3]}, nil
}

// Validate checks that the configuration can run.
func (c *Config) Validate() error {
	switch c.Camera.Source {
	case SourceSynthetic, SourceShm, SourceDir, SourceCamera:
	default:
		return fmt.Errorf("unknown capture source %q", c.Camera.Source)
	}
	if c.Camera.Width <= 0 || c.Camera.Height <= 0 {
		return fmt.Errorf("camera size must be positive, got %dx%d", c.Camera.Width, c.Camera.Height)
	}
	if c.Camera.FPS <= 0 {
		return fmt.Errorf("camera fps must be positive, got %d", c.Camera.FPS)
	}
	if c.Camera.Warmup.Duration < 0 {
		return fmt.Errorf("camera warmup must be non-negative, got %s", c.Camera.Warmup)
	}

	switch c.Vision.Backend {
	case "gaussian", "mog2":
	default:
		return fmt.Errorf("unknown vision backend %q", c.Vision.Backend)
	}
	if c.Vision.History <= 0 {
		return fmt.Errorf("vision history must be positive, got %d", c.Vision.History)
	}
	if c.Vision.VarThreshold <= 0 {
		return fmt.Errorf("vision var_threshold must be positive, got %g", c.Vision.VarThreshold)
	}
	if c.Vision.Cutoff == 0 {
		return fmt.Errorf("vision cutoff must be positive")
	}
	if c.Vision.MinArea < 0 {
		return fmt.Errorf("min_area must be non-negative, got %d", c.Vision.MinArea)
	}

	for name, z := range map[string]types.Zone{"entry": c.Zones.Entry, "confirm": c.Zones.Confirm} {
		if !z.Valid() {
			return fmt.Errorf("%s zone %s has no area", name, z)
		}
		if !z.Fits(c.Camera.Width, c.Camera.Height) {
			return fmt.Errorf("%s zone %s exceeds %dx%d frame", name, z, c.Camera.Width, c.Camera.Height)
		}
	}

	if c.Sequence.Timeout.Duration <= 0 {
		return fmt.Errorf("sequence timeout must be positive, got %s", c.Sequence.Timeout)
	}
	if c.Sequence.Cooldown.Duration < 0 {
		return fmt.Errorf("alarm cooldown must be non-negative, got %s", c.Sequence.Cooldown)
	}

	if c.Alarm.Repeat <= 0 {
		return fmt.Errorf("alarm repeat must be positive, got %d", c.Alarm.Repeat)
	}
	if c.Alarm.Duration.Duration <= 0 {
		return fmt.Errorf("alarm duration must be positive, got %s", c.Alarm.Duration)
	}
	switch c.Alarm.Driver {
	case DriverPeriph, DriverLog:
	default:
		return fmt.Errorf("unknown gpio driver %q", c.Alarm.Driver)
	}
	// The synthetic scene always crosses both zones.
	if c.Camera.Source == SourceSynthetic && c.Alarm.Driver != DriverLog {
		return fmt.Errorf("synthetic capture source requires the %q gpio driver", DriverLog)
	}
	if c.Alarm.LampPin == "" || c.Alarm.BuzzerPin == "" {
		return fmt.Errorf("lamp and buzzer pins must be set")
	}
	if c.Alarm.LampPin == c.Alarm.BuzzerPin {
		return fmt.Errorf("lamp and buzzer share pin %s", c.Alarm.LampPin)
	}

	if _, _, err := net.SplitHostPort(c.Status.Addr); err != nil {
		return fmt.Errorf("invalid status address %q: %w", c.Status.Addr, err)
	}
	if c.Status.MaxConns <= 0 {
		return fmt.Errorf("status max_conns must be positive, got %d", c.Status.MaxConns)
	}
	if c.Status.IOTimeout.Duration <= 0 {
		return fmt.Errorf("status io_timeout must be positive, got %s", c.Status.IOTimeout)
	}

	if c.Loop.IdleSleep.Duration < 0 {
		return fmt.Errorf("loop idle_sleep must be non-negative, got %s", c.Loop.IdleSleep)
	}
	if c.Loop.MaxConsecutiveReadErrors <= 0 {
		return fmt.Errorf("loop max_consecutive_read_errors must be positive, got %d", c.Loop.MaxConsecutiveReadErrors)
	}
	return nil
}

// Warnings lists settings that are legal but likely to misbehave.
func (c *Config) Warnings() []string {
	var warnings []string

	if c.Sequence.Cooldown.Duration > c.Sequence.Timeout.Duration {
		warnings = append(warnings, fmt.Sprintf(
			"alarm cooldown %s exceeds sequence timeout %s: an intrusion that starts during the cooldown can never alarm",
			c.Sequence.Cooldown, c.Sequence.Timeout))
	}
	if c.Zones.Entry.Y <= 0 {
		warnings = append(warnings, "entry zone touches the top of the frame: no centroid can be seen above it, so entries never arm")
	}
	if c.Zones.Entry.Rect().Overlaps(c.Zones.Confirm.Rect()) {
		warnings = append(warnings, fmt.Sprintf("entry zone %s overlaps confirm zone %s", c.Zones.Entry, c.Zones.Confirm))
	}
	if host, _, err := net.SplitHostPort(c.Status.Addr); err == nil {
		if ip := net.ParseIP(host); host != "localhost" && (ip == nil || !ip.IsLoopback()) {
			warnings = append(warnings, fmt.Sprintf("status server %s is reachable beyond loopback and has no authentication", c.Status.Addr))
		}
	}
	return warnings
}
