package webmonitor

import (
	"context"
	"sync"
	"time"

	"github.com/dj-oyu/rdk-x5_zone-sentry/sentry-server/internal/logger"
	"github.com/dj-oyu/rdk-x5_zone-sentry/sentry-server/internal/status"
	"github.com/dj-oyu/rdk-x5_zone-sentry/sentry-server/internal/timeutil"
)

// Querier fetches one status response from the detector.
type Querier interface {
	Query(ctx context.Context) (*status.Response, error)
}

// Notifier receives every event. Implementations must not block.
type Notifier interface {
	Notify(ev *Event) error
}

// SendJSON adapts a raw message sink into a Notifier.
type SendJSON func(msg []byte)

// Notify encodes ev and hands it to f.
func (f SendJSON) Notify(ev *Event) error {
	data, err := ev.JSON()
	if err != nil {
		return err
	}
	f(data)
	return nil
}

// AlertRecord is one raised alert kept in the history.
type AlertRecord struct {
	ID   string    `json:"id"`
	Time time.Time `json:"time"`
	Alert
}

// State is the monitor's view of the detector.
type State struct {
	Online      bool           `json:"online"`
	Status      status.Payload `json:"status"`
	LastPoll    time.Time      `json:"last_poll"`
	LastError   string         `json:"last_error,omitempty"`
	Polls       uint64         `json:"polls"`
	Failures    uint64         `json:"failures"`
	AlertsTotal int            `json:"alerts_total"`
	Alerts      []AlertRecord  `json:"alerts"`
}

// Monitor polls the detector, republishes its frames and raises an alert
// whenever the sequence count goes up.
type Monitor struct {
	client       Querier
	interval     time.Duration
	alertMessage string
	historySize  int
	clock        timeutil.Clock

	frames *Broadcaster[[]byte]
	events *Broadcaster[*SerializedEvent]

	mu        sync.Mutex
	notifiers map[string]Notifier
	state     State
	seeded    bool
	lastCount int
	latest    []byte
}

// NewMonitor creates a monitor for client. A nil clock uses real time.
func NewMonitor(client Querier, cfg Config, clock timeutil.Clock) *Monitor {
	def := DefaultConfig()
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = def.PollInterval
	}
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = def.HistorySize
	}
	if cfg.AlertMessage == "" {
		cfg.AlertMessage = def.AlertMessage
	}
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &Monitor{
		client:       client,
		interval:     cfg.PollInterval,
		alertMessage: cfg.AlertMessage,
		historySize:  cfg.HistorySize,
		clock:        clock,
		frames:       NewBroadcaster[[]byte]("FrameBroadcaster", 2),
		events:       NewBroadcaster[*SerializedEvent]("EventBroadcaster", 16),
		notifiers:    make(map[string]Notifier),
	}
}

// AddNotifier registers a push channel under name.
func (m *Monitor) AddNotifier(name string, n Notifier) {
	m.mu.Lock()
	m.notifiers[name] = n
	m.mu.Unlock()
}

// Frames returns the JPEG fan-out. A nil value means no frame is available.
func (m *Monitor) Frames() *Broadcaster[[]byte] {
	return m.frames
}

// Events returns the serialized event fan-out used by SSE clients.
func (m *Monitor) Events() *Broadcaster[*SerializedEvent] {
	return m.events
}

// Run polls until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) {
	logger.Info("Monitor", "Polling detector every %s", m.interval)
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		m.Poll(ctx)
		select {
		case <-ctx.Done():
			m.frames.Close()
			m.events.Close()
			return
		case <-ticker.C:
		}
	}
}

// Poll performs one query and publishes the result.
func (m *Monitor) Poll(ctx context.Context) {
	resp, err := m.client.Query(ctx)
	var frame []byte
	if err == nil {
		frame, err = resp.JPEG()
	}
	now := m.clock.Now()

	if err != nil {
		m.fail(now, err)
		m.frames.Broadcast(nil)
		return
	}

	if len(frame) == 0 {
		logger.Debug("Monitor", "No frame received from detector, displaying placeholder")
	}
	m.frames.Broadcast(frame)

	for _, ev := range m.update(now, resp.Status, frame) {
		m.publish(ev)
	}
}

func (m *Monitor) fail(now time.Time, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state.Online || m.state.Polls == 0 {
		logger.Warn("Monitor", "Failed to communicate with the detector: %v", err)
	}
	m.state.Online = false
	m.state.LastPoll = now
	m.state.LastError = err.Error()
	m.state.Polls++
	m.state.Failures++
	m.latest = nil
}

// update records a successful poll and returns the events it produced.
func (m *Monitor) update(now time.Time, p status.Payload, frame []byte) []*Event {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.state.Online && m.state.Polls > 0 {
		logger.Info("Monitor", "Detector reachable again")
	}
	m.state.Online = true
	m.state.Status = p
	m.state.LastPoll = now
	m.state.LastError = ""
	m.state.Polls++
	m.latest = frame

	var events []*Event
	switch {
	case !m.seeded:
		// Sequences counted before we started are not alerts.
		m.seeded = true
		m.lastCount = p.SequenceCount
	case p.SequenceCount > m.lastCount:
		alert := Alert{
			Message:       m.alertMessage,
			SequenceCount: p.SequenceCount,
			PreviousCount: m.lastCount,
		}
		logger.Info("Monitor", "New sequence detected! Count increased from %d to %d", m.lastCount, p.SequenceCount)
		ev := NewAlertEvent(now, alert)
		events = append(events, ev)

		m.state.AlertsTotal++
		m.state.Alerts = append([]AlertRecord{{ID: ev.ID, Time: now, Alert: alert}}, m.state.Alerts...)
		if len(m.state.Alerts) > m.historySize {
			m.state.Alerts = m.state.Alerts[:m.historySize]
		}
		m.lastCount = p.SequenceCount
	case p.SequenceCount < m.lastCount:
		logger.Warn("Monitor", "Sequence count went from %d to %d; detector restarted?", m.lastCount, p.SequenceCount)
		m.lastCount = p.SequenceCount
	}

	return append(events, NewStatusEvent(now, p))
}

func (m *Monitor) publish(ev *Event) {
	if ser, err := ev.Serialize(); err != nil {
		logger.Error("Monitor", "Failed to serialize %s: %v", ev.Type, err)
	} else {
		m.events.Broadcast(ser)
	}

	m.mu.Lock()
	notifiers := make(map[string]Notifier, len(m.notifiers))
	for name, n := range m.notifiers {
		notifiers[name] = n
	}
	m.mu.Unlock()

	for name, n := range notifiers {
		if err := n.Notify(ev); err != nil {
			logger.Warn("Monitor", "%s notifier failed for %s: %v", name, ev.Type, err)
		}
	}
}

// Snapshot returns a copy of the current state.
func (m *Monitor) Snapshot() State {
	m.mu.Lock()
	defer m.mu.Unlock()

	st := m.state
	st.Alerts = make([]AlertRecord, len(m.state.Alerts))
	copy(st.Alerts, m.state.Alerts)
	return st
}

// LatestJPEG returns the last frame received, if any.
func (m *Monitor) LatestJPEG() ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.latest, len(m.latest) > 0
}
