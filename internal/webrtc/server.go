// Package webrtc pushes alert events to browsers over WebRTC data channels.
package webrtc

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v3"

	"github.com/dj-oyu/rdk-x5_zone-sentry/sentry-server/internal/logger"
)

// AlertChannel is the data channel label the browser must open.
const AlertChannel = "alerts"

const maxOfferSize = 64 << 10

// ErrTooManyClients is returned when the peer limit is reached.
var ErrTooManyClients = errors.New("maximum clients reached")

// Client represents a connected WebRTC peer
type Client struct {
	id        string
	peerConn  *webrtc.PeerConnection
	sendChan  chan []byte
	closeChan chan struct{}
	closeOnce sync.Once

	mu      sync.Mutex
	channel *webrtc.DataChannel

	sent    atomic.Uint64
	dropped atomic.Uint64
}

func (c *Client) setChannel(dc *webrtc.DataChannel) {
	c.mu.Lock()
	c.channel = dc
	c.mu.Unlock()
}

func (c *Client) dataChannel() *webrtc.DataChannel {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.channel
}

// Server manages WebRTC peers
type Server struct {
	clients    map[string]*Client
	clientsMu  sync.RWMutex
	config     webrtc.Configuration
	maxClients int
	api        *webrtc.API
}

// NewServer creates a new WebRTC server
func NewServer(stunServers []string, maxClients int) *Server {
	// Configure ICE servers
	iceServers := make([]webrtc.ICEServer, 0, len(stunServers))
	for _, url := range stunServers {
		iceServers = append(iceServers, webrtc.ICEServer{
			URLs: []string{url},
		})
	}

	// If no STUN servers provided, use default
	if len(iceServers) == 0 {
		iceServers = []webrtc.ICEServer{
			{
				URLs: []string{"stun:stun.l.google.com:19302"},
			},
		}
	}

	settingsEngine := webrtc.SettingEngine{}
	settingsEngine.SetDTLSRetransmissionInterval(time.Second * 2)
	settingsEngine.SetNetworkTypes([]webrtc.NetworkType{
		webrtc.NetworkTypeUDP4,
		webrtc.NetworkTypeUDP6,
	})

	api := webrtc.NewAPI(webrtc.WithSettingEngine(settingsEngine))

	if maxClients <= 0 {
		maxClients = 4
	}
	return &Server{
		clients: make(map[string]*Client),
		config: webrtc.Configuration{
			ICEServers: iceServers,
		},
		maxClients: maxClients,
		api:        api,
	}
}

// HandleOffer handles a WebRTC offer and returns an answer. The offer must
// carry an "alerts" data channel.
func (s *Server) HandleOffer(offerJSON []byte) ([]byte, error) {
	var offer webrtc.SessionDescription
	if err := json.Unmarshal(offerJSON, &offer); err != nil {
		return nil, fmt.Errorf("failed to parse offer: %w", err)
	}
	if offer.Type != webrtc.SDPTypeOffer || offer.SDP == "" {
		return nil, fmt.Errorf("invalid offer (type %q)", offer.Type)
	}

	if n := s.ClientCount(); n >= s.maxClients {
		return nil, fmt.Errorf("%w (%d)", ErrTooManyClients, s.maxClients)
	}

	peerConn, err := s.api.NewPeerConnection(s.config)
	if err != nil {
		return nil, fmt.Errorf("failed to create peer connection: %w", err)
	}

	client := &Client{
		id:        uuid.NewString(),
		peerConn:  peerConn,
		sendChan:  make(chan []byte, 16),
		closeChan: make(chan struct{}),
	}

	peerConn.OnDataChannel(func(dc *webrtc.DataChannel) {
		if dc.Label() != AlertChannel {
			logger.Debug("WebRTC", "Client %s opened unexpected channel %q", client.id, dc.Label())
			return
		}
		dc.OnOpen(func() {
			client.setChannel(dc)
			logger.Info("WebRTC", "Client %s alert channel open", client.id)
		})
	})

	// Handle peer connection state changes
	peerConn.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		logger.Debug("WebRTC", "Client %s connection state: %s", client.id, state.String())

		if state == webrtc.PeerConnectionStateDisconnected ||
			state == webrtc.PeerConnectionStateFailed ||
			state == webrtc.PeerConnectionStateClosed {
			logger.Info("WebRTC", "Client %s connection lost (Peer: %s), removing...", client.id, state.String())
			s.RemoveClient(client.id)
		}
	})

	if err := peerConn.SetRemoteDescription(offer); err != nil {
		peerConn.Close()
		return nil, fmt.Errorf("failed to set remote description: %w", err)
	}

	answer, err := peerConn.CreateAnswer(nil)
	if err != nil {
		peerConn.Close()
		return nil, fmt.Errorf("failed to create answer: %w", err)
	}

	gatherComplete := webrtc.GatheringCompletePromise(peerConn)
	if err := peerConn.SetLocalDescription(answer); err != nil {
		peerConn.Close()
		return nil, fmt.Errorf("failed to set local description: %w", err)
	}

	// Wait for ICE gathering so the answer carries every candidate
	<-gatherComplete

	localDesc := peerConn.LocalDescription()
	if localDesc == nil {
		peerConn.Close()
		return nil, fmt.Errorf("no local description available")
	}
	answerJSON, err := json.Marshal(localDesc)
	if err != nil {
		peerConn.Close()
		return nil, fmt.Errorf("failed to marshal answer: %w", err)
	}

	s.clientsMu.Lock()
	s.clients[client.id] = client
	s.clientsMu.Unlock()

	go s.sendLoop(client)

	logger.Info("WebRTC", "Client %s connected", client.id)
	return answerJSON, nil
}

// Broadcast queues msg for every peer. Peers whose queue is full or whose
// channel is not open yet miss it.
func (s *Server) Broadcast(msg []byte) {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()

	for _, client := range s.clients {
		select {
		case client.sendChan <- msg:
		default:
			client.dropped.Add(1)
		}
	}
}

func (s *Server) sendLoop(client *Client) {
	for {
		select {
		case <-client.closeChan:
			return

		case msg := <-client.sendChan:
			dc := client.dataChannel()
			if dc == nil {
				client.dropped.Add(1)
				continue
			}
			if err := dc.SendText(string(msg)); err != nil {
				if !errors.Is(err, io.ErrClosedPipe) {
					logger.Warn("WebRTC", "Error sending to client %s: %v", client.id, err)
				}
				client.dropped.Add(1)
				continue
			}
			client.sent.Add(1)
		}
	}
}

// RemoveClient removes a client by ID
func (s *Server) RemoveClient(clientID string) {
	s.clientsMu.Lock()
	client, exists := s.clients[clientID]
	delete(s.clients, clientID)
	s.clientsMu.Unlock()

	if !exists {
		return
	}
	s.closeClient(client)

	logger.Info("WebRTC", "Client %s disconnected (sent: %d, dropped: %d)",
		clientID, client.sent.Load(), client.dropped.Load())
}

func (s *Server) closeClient(client *Client) {
	client.closeOnce.Do(func() {
		close(client.closeChan)
		client.peerConn.Close()
	})
}

// ClientCount returns the number of connected clients
func (s *Server) ClientCount() int {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()
	return len(s.clients)
}

// ClientStats returns stats for all clients
func (s *Server) ClientStats() map[string]map[string]uint64 {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()

	stats := make(map[string]map[string]uint64)
	for id, client := range s.clients {
		stats[id] = map[string]uint64{
			"messages_sent":    client.sent.Load(),
			"messages_dropped": client.dropped.Load(),
		}
	}
	return stats
}

// ServeHTTP accepts a JSON offer by POST and replies with the JSON answer.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxOfferSize))
	if err != nil {
		writeError(w, "Invalid offer data", http.StatusBadRequest)
		return
	}

	answer, err := s.HandleOffer(body)
	if err != nil {
		logger.Warn("WebRTC", "Offer rejected: %v", err)
		code := http.StatusBadRequest
		if errors.Is(err, ErrTooManyClients) {
			code = http.StatusServiceUnavailable
		}
		writeError(w, err.Error(), code)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(answer)
}

func writeError(w http.ResponseWriter, msg string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

// Close closes all client connections
func (s *Server) Close() error {
	s.clientsMu.Lock()
	clients := s.clients
	s.clients = make(map[string]*Client)
	s.clientsMu.Unlock()

	for _, client := range clients {
		s.closeClient(client)
	}
	return nil
}
