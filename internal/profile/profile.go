package profile

import (
	"encoding/json"
	"net"
	"strconv"
	"time"
)

// Status is the launch state machine state for one profile.
type Status string

const (
	StatusQueued         Status = "queued"
	StatusStarting       Status = "starting"
	StatusStarted        Status = "started"
	StatusStartedNoDebug Status = "started_no_debug"
	StatusError          Status = "error"
)

// Active reports whether the status blocks a new launch request for the same
// profile. Only error (and absence) allows a relaunch.
func (s Status) Active() bool {
	return s != "" && s != StatusError
}

// Record is the registry entry for one profile id. It is created on the first
// launch request, overwritten on relaunch, and never deleted.
type Record struct {
	ProfileID    string          `json:"profile_id"`
	Status       Status          `json:"status"` // state machine state: queued, starting, started, started_no_debug, error
	StartedAt    time.Time       `json:"started_at"`
	DebugHost    string          `json:"debug_host,omitempty"`
	DebugPort    int             `json:"debug_port,omitempty"`
	WebSocketURL string          `json:"websocket_url,omitempty"`
	Error        string          `json:"error,omitempty"`
	RawResponse  json.RawMessage `json:"raw_response,omitempty"`
}

// DebugAddress returns the host:port debug endpoint when both parts are known.
func (r Record) DebugAddress() (string, bool) {
	if r.DebugHost == "" || r.DebugPort <= 0 {
		return "", false
	}
	return net.JoinHostPort(r.DebugHost, strconv.Itoa(r.DebugPort)), true
}

// HumanTime renders t for operator-facing status output.
func HumanTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Local().Format("2006-01-02 15:04:05")
}
