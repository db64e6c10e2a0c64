package ws

import (
	"encoding/json"
	"net/http"
	"os"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v3/process"

	"github.com/esgrima/relay/internal/relay"
)

var startedAt = time.Now()

type statsResponse struct {
	relay.Stats

	Sessions      int     `json:"sessions"`
	Rooms         int     `json:"rooms"`
	Events        int     `json:"events"`
	UptimeSeconds float64 `json:"uptimeSeconds"`
	Goroutines    int     `json:"goroutines"`

	// Process gauges; zero when the platform probe fails.
	CPUPercent float64 `json:"cpuPercent"`
	MemoryRSS  uint64  `json:"memoryRss"`
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if !s.authorize(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	resp := statsResponse{
		Stats:         s.dispatcher.RelayStats(),
		Sessions:      s.clients.Count(),
		Rooms:         s.rooms.Count(),
		Events:        s.rooms.EventCount(),
		UptimeSeconds: time.Since(startedAt).Seconds(),
		Goroutines:    runtime.NumGoroutine(),
	}

	if proc, err := process.NewProcess(int32(os.Getpid())); err == nil {
		if cpu, err := proc.CPUPercent(); err == nil {
			resp.CPUPercent = cpu
		}
		if mem, err := proc.MemoryInfo(); err == nil {
			resp.MemoryRSS = mem.RSS
		}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}
