package webmonitor

import (
	"path/filepath"
	"time"
)

// Config defines the runtime configuration for the web monitor server.
type Config struct {
	Addr           string
	AssetsDir      string
	BuildAssetsDir string        // checked before AssetsDir
	StatusAddr     string        // detector status server
	PollInterval   time.Duration // status poll period
	PollTimeout    time.Duration // per-poll socket timeout
	ReadyAttempts  int           // startup connection attempts
	ReadyInterval  time.Duration
	AlertMessage   string
	HistorySize    int // alerts kept for /api/alerts

	MQTTBroker   string // host:port, empty disables MQTT
	MQTTTopic    string
	MQTTClientID string

	WebRTC      bool
	STUNServers []string
	MaxPeers    int
}

// DefaultConfig returns the stock dashboard settings.
func DefaultConfig() Config {
	return Config{
		Addr:           ":5000",
		AssetsDir:      filepath.Clean("./web_assets"),
		BuildAssetsDir: filepath.Clean("./web_assets/build"),
		StatusAddr:     "127.0.0.1:8001",
		PollInterval:   100 * time.Millisecond,
		PollTimeout:    2 * time.Second,
		ReadyAttempts:  30,
		ReadyInterval:  time.Second,
		AlertMessage:   "WARNING: OBJECT DETECTED!",
		HistorySize:    8,
		MQTTTopic:      "zone-sentry",
		MQTTClientID:   "zone-sentry-monitor",
		WebRTC:         true,
		MaxPeers:       4,
	}
}
