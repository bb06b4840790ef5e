package webmonitor

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"image/jpeg"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dj-oyu/rdk-x5_zone-sentry/sentry-server/internal/status"
)

func newTestServer(t *testing.T, q *fakeQuerier, hub *Hub, webrtc http.Handler) (*Server, *Monitor) {
	t.Helper()
	cfg := DefaultConfig()
	cfg.AssetsDir = t.TempDir()
	cfg.BuildAssetsDir = t.TempDir()
	m, _, _ := newTestMonitor(q)
	return NewServer(cfg, m, hub, webrtc), m
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestIndexServesDashboard(t *testing.T) {
	s, _ := newTestServer(t, &fakeQuerier{}, nil, nil)
	h := s.Handler()

	rec := get(t, h, "/")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/html")
	assert.Contains(t, rec.Body.String(), `src="/stream"`)

	assert.Equal(t, http.StatusNotFound, get(t, h, "/missing").Code)
}

func TestStatusAndAlertsEndpoints(t *testing.T) {
	q := &fakeQuerier{}
	q.push(status.Payload{SequenceCount: 0}, nil)
	q.push(status.Payload{SequenceDetected: true, SequenceCount: 1}, nil)
	s, m := newTestServer(t, q, nil, nil)
	m.Poll(context.Background())
	m.Poll(context.Background())
	h := s.Handler()

	rec := get(t, h, "/api/status")
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Monitor State          `json:"monitor"`
		Status  status.Payload `json:"status"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.True(t, body.Monitor.Online)
	assert.Equal(t, uint64(2), body.Monitor.Polls)
	assert.Equal(t, 1, body.Status.SequenceCount)
	assert.True(t, body.Status.SequenceDetected)

	rec = get(t, h, "/api/alerts")
	require.Equal(t, http.StatusOK, rec.Code)
	var alerts struct {
		Total  int           `json:"total"`
		Alerts []AlertRecord `json:"alerts"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &alerts))
	assert.Equal(t, 1, alerts.Total)
	require.Len(t, alerts.Alerts, 1)
	assert.Equal(t, "WARNING: OBJECT DETECTED!", alerts.Alerts[0].Message)
}

func TestSnapshotFallsBackToPlaceholder(t *testing.T) {
	q := &fakeQuerier{}
	s, m := newTestServer(t, q, nil, nil)
	h := s.Handler()

	rec := get(t, h, "/api/snapshot.jpg")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/jpeg", rec.Header().Get("Content-Type"))
	cfg, err := jpeg.DecodeConfig(bytes.NewReader(rec.Body.Bytes()))
	require.NoError(t, err)
	assert.Equal(t, 640, cfg.Width)
	assert.Equal(t, 480, cfg.Height)

	q.push(status.Payload{}, []byte("latest"))
	m.Poll(context.Background())
	rec = get(t, h, "/api/snapshot.jpg")
	assert.Equal(t, "latest", rec.Body.String())
}

func TestOptionalChannelsAnswerUnavailable(t *testing.T) {
	s, _ := newTestServer(t, &fakeQuerier{}, nil, nil)
	h := s.Handler()

	assert.Equal(t, http.StatusServiceUnavailable, get(t, h, "/ws").Code)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/webrtc/offer", strings.NewReader("{}")))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestWebRTCOfferIsDelegated(t *testing.T) {
	var gotBody string
	offer := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		buf := new(bytes.Buffer)
		_, _ = buf.ReadFrom(r.Body)
		gotBody = buf.String()
		writeJSON(w, map[string]string{"type": "answer"})
	})
	s, _ := newTestServer(t, &fakeQuerier{}, nil, offer)

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/webrtc/offer", strings.NewReader(`{"type":"offer"}`)))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, `{"type":"offer"}`, gotBody)
	assert.JSONEq(t, `{"type":"answer"}`, rec.Body.String())
}

func TestAssetsPreferBuildDir(t *testing.T) {
	cfg := DefaultConfig()
	cfg.AssetsDir = t.TempDir()
	cfg.BuildAssetsDir = t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(cfg.AssetsDir, "monitor.css"), []byte("source"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(cfg.AssetsDir, "monitor.js"), []byte("source-js"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(cfg.BuildAssetsDir, "monitor.js"), []byte("built-js"), 0o644))

	m, _, _ := newTestMonitor(&fakeQuerier{})
	h := NewServer(cfg, m, nil, nil).Handler()

	assert.Equal(t, "source", get(t, h, "/assets/monitor.css").Body.String())
	assert.Equal(t, "built-js", get(t, h, "/assets/monitor.js").Body.String())
	assert.Equal(t, http.StatusNotFound, get(t, h, "/assets/absent.js").Code)
}

func TestMJPEGStreamDeliversFrames(t *testing.T) {
	q := &fakeQuerier{}
	q.push(status.Payload{}, []byte("frame-1"))
	s, m := newTestServer(t, q, nil, nil)
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/stream", nil)
	require.NoError(t, err)

	respCh := make(chan *http.Response, 1)
	go func() {
		resp, err := http.DefaultClient.Do(req)
		if err == nil {
			respCh <- resp
		}
	}()

	require.Eventually(t, func() bool { return m.Frames().Clients() == 1 }, 2*time.Second, 5*time.Millisecond)
	m.Poll(context.Background())

	var resp *http.Response
	select {
	case resp = <-respCh:
	case <-time.After(3 * time.Second):
		t.Fatal("no response")
	}
	defer resp.Body.Close()
	assert.Equal(t, "multipart/x-mixed-replace; boundary=frame", resp.Header.Get("Content-Type"))

	r := bufio.NewReader(resp.Body)
	assert.Equal(t, "--frame\r\n", readLine(t, r))
	assert.Equal(t, "Content-Type: image/jpeg\r\n", readLine(t, r))
	assert.Equal(t, "Content-Length: 7\r\n", readLine(t, r))
	assert.Equal(t, "\r\n", readLine(t, r))
	assert.Equal(t, "frame-1\r\n", readLine(t, r))

	cancel()
	assert.Eventually(t, func() bool { return m.Frames().Clients() == 0 }, 2*time.Second, 5*time.Millisecond)
}

func TestStatusStreamNegotiatesProtobuf(t *testing.T) {
	for _, tc := range []struct {
		name   string
		accept string
		format string
	}{
		{"json", "text/event-stream", "application/json"},
		{"protobuf", "application/x-protobuf", "application/protobuf"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			q := &fakeQuerier{}
			q.push(status.Payload{SequenceCount: 4}, nil)
			s, m := newTestServer(t, q, nil, nil)
			srv := httptest.NewServer(s.Handler())
			defer srv.Close()

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/status/stream", nil)
			require.NoError(t, err)
			req.Header.Set("Accept", tc.accept)

			resp, err := http.DefaultClient.Do(req)
			require.NoError(t, err)
			defer resp.Body.Close()
			assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))
			assert.Equal(t, tc.format, resp.Header.Get("X-Content-Format"))

			require.Eventually(t, func() bool { return m.Events().Clients() == 1 }, 2*time.Second, 5*time.Millisecond)
			m.Poll(context.Background())

			r := bufio.NewReader(resp.Body)
			assert.Equal(t, "event: "+EventStatusUpdate+"\n", readLine(t, r))
			data := strings.TrimSuffix(strings.TrimPrefix(readLine(t, r), "data: "), "\n")

			var fields map[string]any
			if tc.format == "application/json" {
				require.NoError(t, json.Unmarshal([]byte(data), &fields))
			} else {
				st, err := DecodeProto([]byte(data))
				require.NoError(t, err)
				fields = st.AsMap()
			}
			assert.Equal(t, EventStatusUpdate, fields["event"])
			assert.Equal(t, float64(4), fields["data"].(map[string]any)["sequence_count"])
		})
	}
}

func readLine(t *testing.T, r *bufio.Reader) string {
	t.Helper()
	line, err := r.ReadString('\n')
	require.NoError(t, err)
	return line
}
