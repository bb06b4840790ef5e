package webmonitor

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// Server serves the dashboard endpoints.
type Server struct {
	cfg     Config
	monitor *Monitor
	hub     *Hub
	webrtc  http.Handler
}

// NewServer returns a dashboard server for monitor. hub and webrtc may be
// nil, in which case /ws and /api/webrtc/offer answer 503.
func NewServer(cfg Config, monitor *Monitor, hub *Hub, webrtc http.Handler) *Server {
	def := DefaultConfig()
	if cfg.AssetsDir == "" {
		cfg.AssetsDir = def.AssetsDir
	}
	if cfg.BuildAssetsDir == "" {
		cfg.BuildAssetsDir = def.BuildAssetsDir
	}
	return &Server{
		cfg:     cfg,
		monitor: monitor,
		hub:     hub,
		webrtc:  webrtc,
	}
}

// Handler exposes the HTTP handler for the server.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	assetHandler := newAssetHandler(s.cfg.BuildAssetsDir, s.cfg.AssetsDir)

	mux.HandleFunc("/", s.handleIndex)
	mux.Handle("/assets/", http.StripPrefix("/assets/", assetHandler))
	mux.HandleFunc("/stream", s.handleStream)
	mux.HandleFunc("/video_feed", s.handleStream)
	mux.HandleFunc("/api/status", s.handleStatus)
	mux.HandleFunc("/api/alerts", s.handleAlerts)
	mux.HandleFunc("/api/snapshot.jpg", s.handleSnapshot)
	mux.HandleFunc("/api/status/stream", s.handleStatusStream)
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/api/webrtc/offer", s.handleWebRTCOffer)

	return mux
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write([]byte(indexHTML))
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	id, frameCh := s.monitor.Frames().Subscribe()
	defer s.monitor.Frames().Unsubscribe(id)
	streamMJPEGFromChannel(w, r, frameCh)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	st := s.monitor.Snapshot()
	writeJSON(w, map[string]any{
		"monitor":   st,
		"status":    st.Status,
		"timestamp": float64(time.Now().Unix()),
	})
}

func (s *Server) handleAlerts(w http.ResponseWriter, r *http.Request) {
	st := s.monitor.Snapshot()
	writeJSON(w, map[string]any{
		"total":  st.AlertsTotal,
		"alerts": st.Alerts,
	})
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	data, ok := s.monitor.LatestJPEG()
	if !ok {
		blank, err := blankJPEG()
		if err != nil {
			http.Error(w, "Failed to render frame", http.StatusInternalServerError)
			return
		}
		data = blank
	}
	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("Cache-Control", "no-cache")
	_, _ = w.Write(data)
}

func (s *Server) handleStatusStream(w http.ResponseWriter, r *http.Request) {
	id, eventCh := s.monitor.Events().Subscribe()
	defer s.monitor.Events().Unsubscribe(id)

	// Content negotiation based on Accept header
	accept := r.Header.Get("Accept")
	useProtobuf := strings.Contains(accept, "application/protobuf") ||
		strings.Contains(accept, "application/x-protobuf")

	streamEventsFromChannel(w, r, eventCh, useProtobuf)
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if s.hub == nil {
		writeJSONWithStatus(w, map[string]any{"error": "WebSocket disabled"}, http.StatusServiceUnavailable)
		return
	}
	s.hub.ServeHTTP(w, r)
}

func (s *Server) handleWebRTCOffer(w http.ResponseWriter, r *http.Request) {
	if s.webrtc == nil {
		writeJSONWithStatus(w, map[string]any{"error": "WebRTC disabled"}, http.StatusServiceUnavailable)
		return
	}
	s.webrtc.ServeHTTP(w, r)
}

func writeJSON(w http.ResponseWriter, payload any) {
	writeJSONWithStatus(w, payload, http.StatusOK)
}

func writeJSONWithStatus(w http.ResponseWriter, payload any, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		_, _ = fmt.Fprintf(w, `{"error":"%s"}`, err.Error())
	}
}
