package client

import (
	"encoding/json"
	"time"
)

// ProfileStatus represents one tracked profile record as served by the API
type ProfileStatus struct {
	ProfileID      string          `json:"profile_id"`
	Status         string          `json:"status"`
	StartedAt      time.Time       `json:"started_at,omitempty"`
	StartedAtHuman string          `json:"started_at_human,omitempty"`
	DebugHost      string          `json:"debug_host,omitempty"`
	DebugPort      int             `json:"debug_port,omitempty"`
	WebSocketURL   string          `json:"websocket_url,omitempty"`
	Error          string          `json:"error,omitempty"`
	RawResponse    json.RawMessage `json:"raw_response,omitempty"`
	Exists         bool            `json:"exists,omitempty"`
}

// StartResponse is returned by the start_profile endpoint
type StartResponse struct {
	OK        bool           `json:"ok"`
	Message   string         `json:"message"`
	ProfileID string         `json:"profile_id,omitempty"`
	State     *ProfileStatus `json:"state,omitempty"`
}

// InjectStats mirrors the injection engine counters
type InjectStats struct {
	Contexts       int `json:"contexts"`
	Pages          int `json:"pages"`
	InjectedURL    int `json:"injected_url"`
	InjectedInline int `json:"injected_inline"`
}

// InjectResponse is returned by the inject endpoint
type InjectResponse struct {
	OK      bool         `json:"ok"`
	Message string       `json:"message,omitempty"`
	Stats   *InjectStats `json:"stats,omitempty"`
}

// ErrorResponse represents an API error response
type ErrorResponse struct {
	Error string `json:"error"`
}
