package status

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"image/jpeg"
	"io"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/dj-oyu/rdk-x5_zone-sentry/sentry-server/internal/logger"
	"github.com/dj-oyu/rdk-x5_zone-sentry/sentry-server/internal/metrics"
	"github.com/dj-oyu/rdk-x5_zone-sentry/sentry-server/internal/sensing"
	"github.com/dj-oyu/rdk-x5_zone-sentry/sentry-server/internal/sequencer"
)

// Frames provides the latest annotated frame.
type Frames interface {
	Load() (sensing.Snapshot, bool)
}

// States provides the sequencer status.
type States interface {
	Snapshot() sequencer.Status
}

// Options configures the server. Zero values use the defaults.
type Options struct {
	Addr        string
	MaxConns    int
	IOTimeout   time.Duration
	JPEGQuality int
	Metrics     *metrics.Metrics
}

const (
	DefaultAddr      = "127.0.0.1:8001"
	defaultMaxConns  = 8
	defaultIOTimeout = 2 * time.Second
	defaultQuality   = 80
)

// Server answers status requests. Connections beyond MaxConns are closed
// immediately.
type Server struct {
	frames  Frames
	states  States
	opts    Options
	metrics *metrics.Metrics
	pool    *semaphore.Weighted

	mu       sync.Mutex
	listener net.Listener
	closed   bool
	running  atomic.Bool
	wg       sync.WaitGroup

	// Last encoded frame, reused while the loop has not published a new one.
	cacheMu  sync.Mutex
	cacheNum uint64
	cacheHex string
}

// NewServer creates a server; call Start or Serve to accept connections.
func NewServer(frames Frames, states States, opts Options) *Server {
	if opts.Addr == "" {
		opts.Addr = DefaultAddr
	}
	if opts.MaxConns <= 0 {
		opts.MaxConns = defaultMaxConns
	}
	if opts.IOTimeout <= 0 {
		opts.IOTimeout = defaultIOTimeout
	}
	if opts.JPEGQuality <= 0 {
		opts.JPEGQuality = defaultQuality
	}
	m := opts.Metrics
	if m == nil {
		m = metrics.New()
	}
	return &Server{
		frames:  frames,
		states:  states,
		opts:    opts,
		metrics: m,
		pool:    semaphore.NewWeighted(int64(opts.MaxConns)),
	}
}

// ErrServerClosed is returned by Start and Serve after Close.
var ErrServerClosed = errors.New("status server closed")

// Start binds the listening socket and serves in the background.
func (s *Server) Start() error {
	if s.running.Load() {
		return fmt.Errorf("status server already running")
	}
	ln, err := net.Listen("tcp", s.opts.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.opts.Addr, err)
	}
	if err := s.setListener(ln); err != nil {
		ln.Close()
		return err
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.accept(ln); err != nil {
			logger.Error("Status", "Accept loop failed: %v", err)
		}
	}()
	return nil
}

// Serve accepts connections on ln until Close. It returns nil after Close.
func (s *Server) Serve(ln net.Listener) error {
	if err := s.setListener(ln); err != nil {
		ln.Close()
		return err
	}
	return s.accept(ln)
}

func (s *Server) accept(ln net.Listener) error {
	logger.Info("Status", "Listening on %s (max %d connections)", ln.Addr(), s.opts.MaxConns)

	for {
		conn, err := ln.Accept()
		if err != nil {
			if !s.running.Load() || errors.Is(err, net.ErrClosed) {
				return nil
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				logger.Warn("Status", "Accept timeout: %v", err)
				time.Sleep(50 * time.Millisecond)
				continue
			}
			return err
		}

		if !s.pool.TryAcquire(1) {
			s.metrics.StatusBusy.Add(1)
			logger.Warn("Status", "Connection pool full, dropping %s", conn.RemoteAddr())
			conn.Close()
			continue
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer s.pool.Release(1)
			s.handle(conn)
		}()
	}
}

// Addr returns the bound address, or nil before Serve.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// setListener marks the server running exactly once.
func (s *Server) setListener(ln net.Listener) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrServerClosed
	}
	if s.listener != nil {
		return fmt.Errorf("status server already running")
	}
	s.listener = ln
	s.running.Store(true)
	return nil
}

// Close stops accepting and waits for in-flight connections. It is safe to
// call more than once.
func (s *Server) Close() error {
	s.mu.Lock()
	s.closed = true
	ln := s.listener
	wasRunning := s.running.Swap(false)
	s.mu.Unlock()
	if !wasRunning {
		return nil
	}

	var err error
	if ln != nil {
		err = ln.Close()
	}
	s.wg.Wait()
	logger.Info("Status", "Server stopped")
	return err
}

func (s *Server) handle(conn net.Conn) {
	defer conn.Close()
	s.metrics.ActiveConns.Add(1)
	defer s.metrics.ActiveConns.Add(-1)

	if err := conn.SetDeadline(time.Now().Add(s.opts.IOTimeout)); err != nil {
		s.metrics.StatusErrors.Add(1)
		logger.Debug("Status", "Failed to set deadline: %v", err)
		return
	}

	req, err := readRequest(conn)
	if err != nil {
		s.metrics.StatusErrors.Add(1)
		logger.Debug("Status", "Read from %s failed: %v", conn.RemoteAddr(), err)
		return
	}
	if req != Request {
		s.metrics.StatusRejected.Add(1)
		logger.Debug("Status", "Unknown request %q from %s", truncate(req, 32), conn.RemoteAddr())
		return
	}

	data, err := json.Marshal(s.Build())
	if err != nil {
		s.metrics.StatusErrors.Add(1)
		logger.Error("Status", "Failed to marshal response: %v", err)
		return
	}
	if _, err := conn.Write(data); err != nil {
		s.metrics.StatusErrors.Add(1)
		logger.Debug("Status", "Write to %s failed: %v", conn.RemoteAddr(), err)
		return
	}
	s.metrics.StatusRequests.Add(1)
}

// Build assembles a response from the current state. Both snapshots are
// taken before any encoding work.
func (s *Server) Build() *Response {
	snap, ok := s.frames.Load()
	st := s.states.Snapshot()

	resp := &Response{
		Status: Payload{
			SequenceDetected: st.SequenceDetected,
			SequenceCount:    st.SequenceCount,
			LastSequence:     st.LastSequence,
		},
	}
	if ok {
		resp.Frame = s.encode(snap)
	}
	return resp
}

func (s *Server) encode(snap sensing.Snapshot) string {
	s.cacheMu.Lock()
	if s.cacheHex != "" && s.cacheNum == snap.FrameNum {
		h := s.cacheHex
		s.cacheMu.Unlock()
		return h
	}
	s.cacheMu.Unlock()

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, snap.Image, &jpeg.Options{Quality: s.opts.JPEGQuality}); err != nil {
		logger.Warn("Status", "Failed to encode frame %d: %v", snap.FrameNum, err)
		return ""
	}
	h := hex.EncodeToString(buf.Bytes())

	s.cacheMu.Lock()
	s.cacheNum, s.cacheHex = snap.FrameNum, h
	s.cacheMu.Unlock()
	return h
}

// readRequest reads until the bytes seen so far can no longer be a prefix of
// Request, the request is complete, or the peer stops sending.
func readRequest(r io.Reader) (string, error) {
	buf := make([]byte, maxRequestSize)
	n := 0
	for n < len(buf) {
		m, err := r.Read(buf[n:])
		n += m
		req := strings.TrimSpace(string(buf[:n]))
		if req == Request || !strings.HasPrefix(Request, req) {
			return req, nil
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return req, nil
			}
			return "", err
		}
	}
	return strings.TrimSpace(string(buf[:n])), nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
