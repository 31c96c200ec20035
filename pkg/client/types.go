package client

import "time"

// ServiceStatus mirrors one entry of the daemon's /status document.
type ServiceStatus struct {
	Name        string `json:"name"`
	Status      string `json:"status"`
	Failures    int    `json:"failures"`
	Skipped     bool   `json:"skipped,omitempty"`
	SkipReason  string `json:"skip_reason,omitempty"`
	ProbeError  string `json:"probe_error,omitempty"`
	ActionTaken bool   `json:"action_taken,omitempty"`
	Recovered   bool   `json:"recovered,omitempty"`
	AlertSent   bool   `json:"alert_sent,omitempty"`
}

// StatusResponse is the JSON document returned by GET /status.
type StatusResponse struct {
	UpdatedAt time.Time       `json:"updated_at"`
	Down      int             `json:"down"`
	Services  []ServiceStatus `json:"services"`
}

// ErrorResponse is the error envelope used by the daemon API.
type ErrorResponse struct {
	Error string `json:"error"`
}
