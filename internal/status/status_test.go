package status

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/color"
	"image/jpeg"
	"io"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dj-oyu/rdk-x5_zone-sentry/sentry-server/internal/metrics"
	"github.com/dj-oyu/rdk-x5_zone-sentry/sentry-server/internal/sensing"
	"github.com/dj-oyu/rdk-x5_zone-sentry/sentry-server/internal/sequencer"
)

type fakeStates struct {
	mu     sync.Mutex
	status sequencer.Status
}

func (f *fakeStates) Snapshot() sequencer.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.status
}

func (f *fakeStates) set(s sequencer.Status) {
	f.mu.Lock()
	f.status = s
	f.mu.Unlock()
}

func startServer(t *testing.T, frames Frames, states States, opts Options) (*Server, *Client) {
	t.Helper()
	opts.Addr = "127.0.0.1:0"
	srv := NewServer(frames, states, opts)
	require.NoError(t, srv.Start())
	t.Cleanup(func() { srv.Close() })
	return srv, NewClient(srv.Addr().String(), 2*time.Second)
}

func testImage() *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, 32, 24))
	for i := range img.Pix {
		img.Pix[i] = 200
	}
	img.SetRGBA(5, 5, color.RGBA{255, 0, 0, 255})
	return img
}

func TestQueryWithoutFrame(t *testing.T) {
	_, client := startServer(t, sensing.NewFrameSlot(), &fakeStates{}, Options{})

	resp, err := client.Query(context.Background())
	require.NoError(t, err)
	assert.False(t, resp.Status.SequenceDetected)
	assert.Equal(t, 0, resp.Status.SequenceCount)
	assert.Nil(t, resp.Status.LastSequence)
	assert.Equal(t, "", resp.Frame)

	data, err := resp.JPEG()
	assert.NoError(t, err)
	assert.Nil(t, data)
}

func TestWireFormat(t *testing.T) {
	_, client := startServer(t, sensing.NewFrameSlot(), &fakeStates{}, Options{})

	conn, err := net.Dial("tcp", client.Addr)
	require.NoError(t, err)
	defer conn.Close()
	_, err = io.WriteString(conn, Request)
	require.NoError(t, err)

	raw, err := io.ReadAll(conn)
	require.NoError(t, err)

	var doc map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(raw, &doc))
	assert.JSONEq(t, `{"sequence_detected":false,"sequence_count":0,"last_sequence":null}`, string(doc["status"]))
	assert.JSONEq(t, `""`, string(doc["frame"]))
}

func TestQueryReturnsFrameAndStatus(t *testing.T) {
	slot := sensing.NewFrameSlot()
	slot.Store(testImage(), time.Now(), 3)
	last := time.Date(2024, 3, 1, 8, 0, 5, 0, time.UTC)
	states := &fakeStates{status: sequencer.Status{SequenceDetected: true, SequenceCount: 2, LastSequence: &last}}

	_, client := startServer(t, slot, states, Options{})

	resp, err := client.Query(context.Background())
	require.NoError(t, err)
	assert.True(t, resp.Status.SequenceDetected)
	assert.Equal(t, 2, resp.Status.SequenceCount)
	require.NotNil(t, resp.Status.LastSequence)
	assert.True(t, last.Equal(*resp.Status.LastSequence))

	data, err := resp.JPEG()
	require.NoError(t, err)
	img, err := jpeg.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 32, 24), img.Bounds())
}

func TestQueryIsIdempotent(t *testing.T) {
	slot := sensing.NewFrameSlot()
	slot.Store(testImage(), time.Now(), 1)
	m := metrics.New()
	_, client := startServer(t, slot, &fakeStates{status: sequencer.Status{SequenceCount: 4}}, Options{Metrics: m})

	first, err := client.Query(context.Background())
	require.NoError(t, err)
	second, err := client.Query(context.Background())
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, uint64(2), m.StatusRequests.Load())
}

func TestStatusFollowsState(t *testing.T) {
	states := &fakeStates{}
	_, client := startServer(t, sensing.NewFrameSlot(), states, Options{})

	resp, err := client.Query(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, resp.Status.SequenceCount)

	states.set(sequencer.Status{SequenceCount: 1})
	resp, err = client.Query(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, resp.Status.SequenceCount)
}

func TestUnknownRequestClosedWithoutResponse(t *testing.T) {
	m := metrics.New()
	_, client := startServer(t, sensing.NewFrameSlot(), &fakeStates{}, Options{Metrics: m})

	conn, err := net.Dial("tcp", client.Addr)
	require.NoError(t, err)
	defer conn.Close()
	_, err = io.WriteString(conn, "shutdown")
	require.NoError(t, err)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	raw, err := io.ReadAll(conn)
	assert.NoError(t, err)
	assert.Empty(t, raw)
	assert.Eventually(t, func() bool { return m.StatusRejected.Load() == 1 }, time.Second, 10*time.Millisecond)
}

func TestPoolFullDropsConnection(t *testing.T) {
	m := metrics.New()
	_, client := startServer(t, sensing.NewFrameSlot(), &fakeStates{}, Options{
		MaxConns:  1,
		IOTimeout: time.Second,
		Metrics:   m,
	})

	// Hold the only slot with a connection that never sends.
	idle, err := net.Dial("tcp", client.Addr)
	require.NoError(t, err)
	defer idle.Close()
	require.Eventually(t, func() bool { return m.ActiveConns.Load() == 1 }, time.Second, 5*time.Millisecond)

	// Depending on timing the client sees EOF or a reset.
	_, err = client.Query(context.Background())
	assert.Error(t, err)
	assert.Equal(t, uint64(1), m.StatusBusy.Load())

	// The idle connection times out and frees the slot.
	require.Eventually(t, func() bool { return m.ActiveConns.Load() == 0 }, 3*time.Second, 10*time.Millisecond)
	_, err = client.Query(context.Background())
	assert.NoError(t, err)
}

func TestCloseStopsServer(t *testing.T) {
	srv, client := startServer(t, sensing.NewFrameSlot(), &fakeStates{}, Options{})

	require.NoError(t, srv.Close())
	assert.NoError(t, srv.Close())

	_, err := client.Query(context.Background())
	assert.Error(t, err)
}

func TestCloseRightAfterStart(t *testing.T) {
	for i := 0; i < 50; i++ {
		srv := NewServer(sensing.NewFrameSlot(), &fakeStates{}, Options{Addr: "127.0.0.1:0"})
		require.NoError(t, srv.Start())
		require.NoError(t, srv.Close())
		require.NoError(t, srv.Close())
		assert.False(t, srv.running.Load())
	}
}

func TestServeAfterClose(t *testing.T) {
	srv := NewServer(sensing.NewFrameSlot(), &fakeStates{}, Options{Addr: "127.0.0.1:0"})
	require.NoError(t, srv.Close())

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	assert.ErrorIs(t, srv.Serve(ln), ErrServerClosed)
	assert.ErrorIs(t, srv.Start(), ErrServerClosed)

	// Serve closed the listener it was handed.
	_, err = ln.Accept()
	assert.Error(t, err)
}

func TestWaitReady(t *testing.T) {
	_, client := startServer(t, sensing.NewFrameSlot(), &fakeStates{}, Options{})
	assert.NoError(t, client.WaitReady(context.Background(), 3, 10*time.Millisecond))

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	ln.Close()

	dead := NewClient(addr, 200*time.Millisecond)
	err = dead.WaitReady(context.Background(), 2, 10*time.Millisecond)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "2 attempts")
}

func TestReadRequest(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{Request, Request},
		{Request + "\n", Request},
		{"get_status", "get_status"},
		{"", ""},
		{"get_frame", "get_frame"},
	}
	for _, tt := range tests {
		got, err := readRequest(strings.NewReader(tt.in))
		assert.NoError(t, err)
		assert.Equal(t, tt.want, got, "input %q", tt.in)
	}
}
