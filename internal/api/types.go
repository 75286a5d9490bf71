package api

import "github.com/mattjoyce/lore/internal/journal"

// CallRequest is the JSON body for POST /extensions/{extension}/tools/{tool}
type CallRequest struct {
	Args map[string]any `json:"args,omitempty"`
}

// CallResponse is returned when a tool call settles successfully.
type CallResponse struct {
	Extension string `json:"extension"`
	Tool      string `json:"tool"`
	Result    any    `json:"result"`
}

// ExtensionResponse describes one installed extension.
type ExtensionResponse struct {
	Name        string   `json:"name"`
	Package     string   `json:"package"`
	Version     string   `json:"version,omitempty"`
	Description string   `json:"description,omitempty"`
	Module      string   `json:"module"`
	Permissions []string `json:"permissions,omitempty"`
	WorkerLive  bool     `json:"worker_live"`
	Unavailable string   `json:"unavailable,omitempty"`
}

// CallsResponse is returned by GET /calls.
type CallsResponse struct {
	Calls []journal.Entry `json:"calls"`
}

// ErrorResponse is returned on errors
type ErrorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}

// HealthzResponse is returned by GET /healthz.
type HealthzResponse struct {
	Status           string `json:"status"`
	UptimeSeconds    int64  `json:"uptime_seconds"`
	ExtensionsLoaded int    `json:"extensions_loaded"`
	WorkersLive      int    `json:"workers_live"`
	Unavailable      int    `json:"unavailable"`
}
