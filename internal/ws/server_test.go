package ws

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/esgrima/relay/internal/config"
	"github.com/esgrima/relay/internal/relay"
)

func testConfig() *config.Config {
	cfg, err := config.LoadOrDefault("/nonexistent")
	if err != nil {
		panic(err)
	}
	return cfg
}

func newTestServer(cfg *config.Config) *Server {
	clients := relay.NewClientRegistry()
	rooms := relay.NewRoomRegistry()
	d := relay.NewDispatcher(clients, rooms, relay.NewFanout(clients))
	return NewServer(cfg, d, clients, rooms)
}

func TestAuthorize(t *testing.T) {
	tests := []struct {
		name    string
		token   string
		prepare func(*http.Request)
		want    bool
	}{
		{"no token configured", "", func(r *http.Request) {}, true},
		{"query token", "tok", func(r *http.Request) {
			q := r.URL.Query()
			q.Set("token", "tok")
			r.URL.RawQuery = q.Encode()
		}, true},
		{"header token", "tok", func(r *http.Request) {
			r.Header.Set("X-Relay-Token", "tok")
		}, true},
		{"bearer token", "tok", func(r *http.Request) {
			r.Header.Set("Authorization", "Bearer tok")
		}, true},
		{"wrong token", "tok", func(r *http.Request) {
			r.Header.Set("X-Relay-Token", "wrong")
		}, false},
		{"missing token", "tok", func(r *http.Request) {}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			cfg.Server.AuthToken = tt.token
			s := newTestServer(cfg)

			req := httptest.NewRequest(http.MethodGet, "/api/sessions", nil)
			tt.prepare(req)

			if got := s.authorize(req); got != tt.want {
				t.Errorf("authorize = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCheckOrigin(t *testing.T) {
	tests := []struct {
		name    string
		allowed []string
		origin  string
		host    string
		want    bool
	}{
		{"no origin header", nil, "", "relay.example.com", true},
		{"same host", nil, "https://relay.example.com", "relay.example.com", true},
		{"localhost fallback", nil, "http://localhost:3000", "relay.example.com", true},
		{"loopback fallback", nil, "http://127.0.0.1:3000", "relay.example.com", true},
		{"foreign host rejected", nil, "https://evil.example.com", "relay.example.com", false},
		{"allow-list exact", []string{"https://editor.example.com"}, "https://editor.example.com", "relay.example.com", true},
		{"allow-list host match", []string{"https://editor.example.com"}, "http://editor.example.com", "relay.example.com", true},
		{"allow-list miss", []string{"https://editor.example.com"}, "https://other.example.com", "relay.example.com", false},
		{"allow-list overrides localhost", []string{"https://editor.example.com"}, "http://localhost:3000", "relay.example.com", false},
		{"garbage origin", nil, "::/not-a-url", "relay.example.com", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			cfg.Server.AllowedOrigins = tt.allowed
			s := newTestServer(cfg)

			req := httptest.NewRequest(http.MethodGet, "/ws", nil)
			req.Host = tt.host
			if tt.origin != "" {
				req.Header.Set("Origin", tt.origin)
			}

			if got := s.checkOrigin(req); got != tt.want {
				t.Errorf("checkOrigin(%q) = %v, want %v", tt.origin, got, tt.want)
			}
		})
	}
}

func TestHealthEndpoint(t *testing.T) {
	s := newTestServer(testConfig())

	rec := httptest.NewRecorder()
	s.handleHealth(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("body not json: %v", err)
	}
	if body["status"] != "ok" {
		t.Errorf("status field = %q, want ok", body["status"])
	}
	if body["protocol"] != "0.0.1" {
		t.Errorf("protocol field = %q, want 0.0.1", body["protocol"])
	}
}

func TestSessionsEndpoint(t *testing.T) {
	cfg := testConfig()
	clients := relay.NewClientRegistry()
	rooms := relay.NewRoomRegistry()
	d := relay.NewDispatcher(clients, rooms, relay.NewFanout(clients))
	s := NewServer(cfg, d, clients, rooms)

	clients.Register("s1", nopTestSender{})
	clients.SetIdentity("s1", "alice", "Alice")

	rec := httptest.NewRecorder()
	s.handleSessions(rec, httptest.NewRequest(http.MethodGet, "/api/sessions", nil))

	var sessions []relay.Session
	if err := json.Unmarshal(rec.Body.Bytes(), &sessions); err != nil {
		t.Fatalf("body not json: %v", err)
	}
	if len(sessions) != 1 || sessions[0].UserID != "alice" {
		t.Errorf("sessions = %+v, want one alice", sessions)
	}
}

func TestRoomsEndpoint(t *testing.T) {
	cfg := testConfig()
	clients := relay.NewClientRegistry()
	rooms := relay.NewRoomRegistry()
	d := relay.NewDispatcher(clients, rooms, relay.NewFanout(clients))
	s := NewServer(cfg, d, clients, rooms)

	room, _ := rooms.Create("alice", nil)
	rooms.Append(room.Locator, relay.Event{AuthorUserID: "alice", TS: "t", Payload: json.RawMessage(`"x"`)})

	rec := httptest.NewRecorder()
	s.handleRooms(rec, httptest.NewRequest(http.MethodGet, "/api/rooms", nil))

	var views []roomView
	if err := json.Unmarshal(rec.Body.Bytes(), &views); err != nil {
		t.Fatalf("body not json: %v", err)
	}
	if len(views) != 1 {
		t.Fatalf("rooms = %+v, want 1", views)
	}
	if views[0].Locator != room.Locator || views[0].OwnerID != "alice" || views[0].Events != 1 {
		t.Errorf("room view = %+v", views[0])
	}
}

func TestStatsEndpoint(t *testing.T) {
	s := newTestServer(testConfig())

	rec := httptest.NewRecorder()
	s.handleStats(rec, httptest.NewRequest(http.MethodGet, "/api/stats", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var body statsResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("body not json: %v", err)
	}
	if body.Sessions != 0 || body.Rooms != 0 {
		t.Errorf("fresh relay stats = %+v", body)
	}
	if body.Goroutines <= 0 {
		t.Error("goroutine gauge missing")
	}
}

func TestEndpointsRequireToken(t *testing.T) {
	cfg := testConfig()
	cfg.Server.AuthToken = "tok"
	s := newTestServer(cfg)

	handlers := map[string]http.HandlerFunc{
		"/api/sessions": s.handleSessions,
		"/api/rooms":    s.handleRooms,
		"/api/stats":    s.handleStats,
	}
	for path, h := range handlers {
		rec := httptest.NewRecorder()
		h(rec, httptest.NewRequest(http.MethodGet, path, nil))
		if rec.Code != http.StatusUnauthorized {
			t.Errorf("%s without token: status = %d, want 401", path, rec.Code)
		}
	}
}

type nopTestSender struct{}

func (nopTestSender) Send([]byte) error { return nil }
