package webmonitor

import (
	"context"
	"encoding/hex"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dj-oyu/rdk-x5_zone-sentry/sentry-server/internal/status"
	"github.com/dj-oyu/rdk-x5_zone-sentry/sentry-server/internal/timeutil"
)

type result struct {
	resp *status.Response
	err  error
}

// fakeQuerier replays queued results and repeats the last one.
type fakeQuerier struct {
	mu      sync.Mutex
	results []result
	calls   int
}

func (f *fakeQuerier) push(p status.Payload, frame []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.results = append(f.results, result{resp: &status.Response{Status: p, Frame: hex.EncodeToString(frame)}})
}

func (f *fakeQuerier) fail(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.results = append(f.results, result{err: err})
}

func (f *fakeQuerier) Query(ctx context.Context) (*status.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.results) == 0 {
		return nil, errors.New("no result queued")
	}
	r := f.results[0]
	if len(f.results) > 1 {
		f.results = f.results[1:]
	}
	f.calls++
	return r.resp, r.err
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []*Event
}

func (n *recordingNotifier) Notify(ev *Event) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, ev)
	return nil
}

func (n *recordingNotifier) ofType(typ string) []*Event {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []*Event
	for _, ev := range n.events {
		if ev.Type == typ {
			out = append(out, ev)
		}
	}
	return out
}

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestMonitor(q Querier) (*Monitor, *recordingNotifier, *timeutil.MockClock) {
	clock := timeutil.NewMockClock(t0)
	cfg := DefaultConfig()
	cfg.HistorySize = 2
	m := NewMonitor(q, cfg, clock)
	n := &recordingNotifier{}
	m.AddNotifier("test", n)
	return m, n, clock
}

func TestMonitorFirstPollSeedsWithoutAlert(t *testing.T) {
	q := &fakeQuerier{}
	q.push(status.Payload{SequenceDetected: true, SequenceCount: 5}, []byte("jpeg"))
	m, n, _ := newTestMonitor(q)

	m.Poll(context.Background())

	assert.Empty(t, n.ofType(EventMotionAlert))
	assert.Len(t, n.ofType(EventStatusUpdate), 1)

	st := m.Snapshot()
	assert.True(t, st.Online)
	assert.Equal(t, 5, st.Status.SequenceCount)
	assert.Equal(t, uint64(1), st.Polls)
	assert.Zero(t, st.AlertsTotal)

	frame, ok := m.LatestJPEG()
	require.True(t, ok)
	assert.Equal(t, []byte("jpeg"), frame)
}

func TestMonitorAlertsOnCountIncrease(t *testing.T) {
	q := &fakeQuerier{}
	q.push(status.Payload{SequenceCount: 0}, nil)
	last := t0.Add(time.Second)
	q.push(status.Payload{SequenceDetected: true, SequenceCount: 2, LastSequence: &last}, nil)
	m, n, clock := newTestMonitor(q)

	m.Poll(context.Background())
	clock.Advance(100 * time.Millisecond)
	m.Poll(context.Background())

	alerts := n.ofType(EventMotionAlert)
	require.Len(t, alerts, 1)
	alert, ok := alerts[0].Data.(Alert)
	require.True(t, ok)
	assert.Equal(t, "WARNING: OBJECT DETECTED!", alert.Message)
	assert.Equal(t, 2, alert.SequenceCount)
	assert.Equal(t, 0, alert.PreviousCount)
	assert.Equal(t, t0.Add(100*time.Millisecond), alerts[0].Time)

	st := m.Snapshot()
	assert.Equal(t, 1, st.AlertsTotal)
	require.Len(t, st.Alerts, 1)
	assert.Equal(t, alerts[0].ID, st.Alerts[0].ID)

	// Unchanged count does not alert again
	m.Poll(context.Background())
	assert.Len(t, n.ofType(EventMotionAlert), 1)
	assert.Len(t, n.ofType(EventStatusUpdate), 3)
}

func TestMonitorAlertsWithoutFrame(t *testing.T) {
	q := &fakeQuerier{}
	q.push(status.Payload{SequenceCount: 1}, nil)
	q.push(status.Payload{SequenceCount: 2}, nil)
	m, n, _ := newTestMonitor(q)

	m.Poll(context.Background())
	m.Poll(context.Background())

	assert.Len(t, n.ofType(EventMotionAlert), 1)
	_, ok := m.LatestJPEG()
	assert.False(t, ok)
}

func TestMonitorCountDecreaseResetsBaseline(t *testing.T) {
	q := &fakeQuerier{}
	q.push(status.Payload{SequenceCount: 4}, nil)
	q.push(status.Payload{SequenceCount: 0}, nil)
	q.push(status.Payload{SequenceCount: 1}, nil)
	m, n, _ := newTestMonitor(q)

	m.Poll(context.Background())
	m.Poll(context.Background())
	assert.Empty(t, n.ofType(EventMotionAlert))

	m.Poll(context.Background())
	alerts := n.ofType(EventMotionAlert)
	require.Len(t, alerts, 1)
	assert.Equal(t, 0, alerts[0].Data.(Alert).PreviousCount)
}

func TestMonitorHistoryIsBounded(t *testing.T) {
	q := &fakeQuerier{}
	for i := 0; i <= 4; i++ {
		q.push(status.Payload{SequenceCount: i}, nil)
	}
	m, _, _ := newTestMonitor(q)

	for i := 0; i <= 4; i++ {
		m.Poll(context.Background())
	}

	st := m.Snapshot()
	assert.Equal(t, 4, st.AlertsTotal)
	require.Len(t, st.Alerts, 2)
	assert.Equal(t, 4, st.Alerts[0].SequenceCount, "newest first")
	assert.Equal(t, 3, st.Alerts[1].SequenceCount)
}

func TestMonitorFailureBroadcastsPlaceholder(t *testing.T) {
	q := &fakeQuerier{}
	q.push(status.Payload{SequenceCount: 1}, []byte("frame"))
	q.fail(errors.New("connection refused"))
	m, n, _ := newTestMonitor(q)

	id, frames := m.Frames().Subscribe()
	defer m.Frames().Unsubscribe(id)

	m.Poll(context.Background())
	assert.Equal(t, []byte("frame"), <-frames)

	m.Poll(context.Background())
	assert.Nil(t, <-frames)

	st := m.Snapshot()
	assert.False(t, st.Online)
	assert.Equal(t, "connection refused", st.LastError)
	assert.Equal(t, uint64(1), st.Failures)
	assert.Equal(t, 1, st.Status.SequenceCount, "last good status kept")
	assert.Len(t, n.ofType(EventStatusUpdate), 1)

	_, ok := m.LatestJPEG()
	assert.False(t, ok)
}

func TestMonitorAlertsAfterRecovery(t *testing.T) {
	q := &fakeQuerier{}
	q.push(status.Payload{SequenceCount: 1}, nil)
	q.fail(errors.New("timeout"))
	q.push(status.Payload{SequenceCount: 3}, nil)
	m, n, _ := newTestMonitor(q)

	for i := 0; i < 3; i++ {
		m.Poll(context.Background())
	}

	alerts := n.ofType(EventMotionAlert)
	require.Len(t, alerts, 1, "increase seen after recovery still alerts once")
	assert.Equal(t, 1, alerts[0].Data.(Alert).PreviousCount)
	assert.True(t, m.Snapshot().Online)
}

func TestMonitorInvalidFrameCountsAsFailure(t *testing.T) {
	q := &fakeQuerier{}
	q.mu.Lock()
	q.results = append(q.results, result{resp: &status.Response{Frame: "zz"}})
	q.mu.Unlock()
	m, _, _ := newTestMonitor(q)

	m.Poll(context.Background())

	st := m.Snapshot()
	assert.False(t, st.Online)
	assert.Contains(t, st.LastError, "invalid frame encoding")
}

func TestMonitorPublishesSerializedEvents(t *testing.T) {
	q := &fakeQuerier{}
	q.push(status.Payload{SequenceCount: 0}, nil)
	q.push(status.Payload{SequenceCount: 1}, nil)
	m, _, _ := newTestMonitor(q)

	id, events := m.Events().Subscribe()
	defer m.Events().Unsubscribe(id)

	m.Poll(context.Background())
	m.Poll(context.Background())

	var types []string
	for i := 0; i < 3; i++ {
		types = append(types, (<-events).Type)
	}
	assert.Equal(t, []string{EventStatusUpdate, EventMotionAlert, EventStatusUpdate}, types)
}

func TestMonitorRunClosesFanOutOnCancel(t *testing.T) {
	q := &fakeQuerier{}
	q.push(status.Payload{}, nil)
	cfg := DefaultConfig()
	cfg.PollInterval = 5 * time.Millisecond
	m := NewMonitor(q, cfg, nil)

	_, frames := m.Frames().Subscribe()
	_, events := m.Events().Subscribe()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		m.Run(ctx)
		close(done)
	}()

	assert.Eventually(t, func() bool {
		return m.Snapshot().Polls >= 3
	}, 2*time.Second, 5*time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}

	for range frames {
	}
	for range events {
	}
	assert.Zero(t, m.Frames().Clients())
}

func TestBroadcasterDropsForSlowClients(t *testing.T) {
	b := NewBroadcaster[int]("test", 1)
	fastID, fast := b.Subscribe()
	_, slow := b.Subscribe()
	assert.Equal(t, 2, b.Clients())

	b.Broadcast(1)
	assert.Equal(t, 1, <-fast)
	b.Broadcast(2)
	assert.Equal(t, 2, <-fast)

	assert.Equal(t, 1, <-slow, "second value dropped for the full channel")
	select {
	case v := <-slow:
		t.Fatalf("unexpected value %d", v)
	default:
	}

	b.Unsubscribe(fastID)
	_, ok := <-fast
	assert.False(t, ok)
	b.Unsubscribe(fastID)

	b.Close()
	_, ok = <-slow
	assert.False(t, ok)

	_, late := b.Subscribe()
	_, ok = <-late
	assert.False(t, ok, "subscribing after close yields a closed channel")
}

func TestSendJSONNotifier(t *testing.T) {
	var got [][]byte
	n := SendJSON(func(msg []byte) { got = append(got, msg) })

	ev := NewAlertEvent(t0, Alert{Message: "m", SequenceCount: 1})
	require.NoError(t, n.Notify(ev))
	require.Len(t, got, 1)
	assert.Contains(t, string(got[0]), `"event":"motion_alert"`)
	assert.Contains(t, string(got[0]), ev.ID)
}
