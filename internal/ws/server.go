// Package ws is the transport collaborator: it accepts websocket connections,
// turns frames into dispatcher calls, and exposes the relay's small REST
// surface. Protocol semantics live entirely in internal/relay.
package ws

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/esgrima/relay/internal/config"
	"github.com/esgrima/relay/internal/relay"
)

// Subprotocol is the websocket subprotocol negotiated with clients.
const Subprotocol = "esgrima"

type Server struct {
	cfg            *config.Config
	dispatcher     *relay.Dispatcher
	clients        *relay.ClientRegistry
	rooms          *relay.RoomRegistry
	allowedOrigins map[string]bool
	allowedHosts   map[string]bool
	authToken      string
}

func NewServer(cfg *config.Config, dispatcher *relay.Dispatcher, clients *relay.ClientRegistry, rooms *relay.RoomRegistry) *Server {
	s := &Server{
		cfg:            cfg,
		dispatcher:     dispatcher,
		clients:        clients,
		rooms:          rooms,
		allowedOrigins: make(map[string]bool),
		allowedHosts:   make(map[string]bool),
		authToken:      cfg.Server.AuthToken,
	}

	for _, origin := range cfg.Server.AllowedOrigins {
		trimmed := strings.TrimSpace(origin)
		if trimmed == "" {
			continue
		}
		s.allowedOrigins[trimmed] = true
		if parsed, err := url.Parse(trimmed); err == nil && parsed.Host != "" {
			s.allowedHosts[parsed.Host] = true
		}
	}

	return s
}

func (s *Server) SetupRoutes(r *mux.Router) {
	r.HandleFunc("/ws", s.handleWS)
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/api/sessions", s.handleSessions).Methods(http.MethodGet)
	r.HandleFunc("/api/rooms", s.handleRooms).Methods(http.MethodGet)
	r.HandleFunc("/api/stats", s.handleStats).Methods(http.MethodGet)
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	if !s.authorize(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	upgrader := websocket.Upgrader{
		CheckOrigin:  s.checkOrigin,
		Subprotocols: []string{Subprotocol},
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("ws upgrade error: %v", err)
		return
	}

	sessionID := uuid.NewString()
	c := newClient(conn, s.cfg.Relay.SendBuffer)

	if err := s.dispatcher.OnConnect(sessionID, c); err != nil {
		c.close()
		return
	}
	log.Printf("client connected: %s (%s)", sessionID, r.RemoteAddr)

	go s.readLoop(sessionID, c, conn, r.RemoteAddr)
}

func (s *Server) readLoop(sessionID string, c *client, conn *websocket.Conn, remote string) {
	defer func() {
		s.dispatcher.OnDisconnect(sessionID)
		c.close()
		log.Printf("client disconnected: %s (%s)", sessionID, remote)
	}()

	conn.SetReadLimit(s.cfg.Relay.ReadLimit)
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		s.dispatcher.OnMessage(sessionID, data)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"status":   "ok",
		"protocol": s.cfg.Relay.ProtocolVersion,
	})
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	if !s.authorize(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(s.clients.All())
}

// roomView is the REST shape of a room; the event log itself is not exposed,
// only its length.
type roomView struct {
	Locator   string `json:"locator"`
	OwnerID   string `json:"ownerId"`
	CreatedAt string `json:"createdAt"`
	Events    int    `json:"events"`
}

func (s *Server) handleRooms(w http.ResponseWriter, r *http.Request) {
	if !s.authorize(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	rooms := s.rooms.All()
	views := make([]roomView, 0, len(rooms))
	for _, room := range rooms {
		views = append(views, roomView{
			Locator:   room.Locator,
			OwnerID:   room.OwnerID,
			CreatedAt: room.CreatedAt.UTC().Format(time.RFC3339),
			Events:    len(room.Events()),
		})
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(views)
}

func (s *Server) authorize(r *http.Request) bool {
	if s.authToken == "" {
		return true
	}

	if r.URL.Query().Get("token") == s.authToken {
		return true
	}

	if r.Header.Get("X-Relay-Token") == s.authToken {
		return true
	}

	auth := r.Header.Get("Authorization")
	if strings.HasPrefix(auth, "Bearer ") && strings.TrimPrefix(auth, "Bearer ") == s.authToken {
		return true
	}

	return false
}

func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}

	if len(s.allowedOrigins) > 0 {
		if s.allowedOrigins[origin] {
			return true
		}
		if parsed, err := url.Parse(origin); err == nil && parsed.Host != "" {
			return s.allowedHosts[parsed.Host]
		}
		return false
	}

	parsed, err := url.Parse(origin)
	if err != nil {
		return false
	}

	host := parsed.Host
	if host == "" {
		return false
	}

	if host == r.Host {
		return true
	}

	if strings.HasPrefix(host, "localhost:") || host == "localhost" {
		return true
	}
	if strings.HasPrefix(host, "127.0.0.1:") || host == "127.0.0.1" {
		return true
	}
	if strings.HasPrefix(host, "[::1]:") || host == "::1" {
		return true
	}

	return false
}

func ListenAndServe(host string, port int, handler http.Handler) error {
	addr := fmt.Sprintf("%s:%d", host, port)
	log.Printf("Relay listening on %s", addr)
	return http.ListenAndServe(addr, handler)
}
