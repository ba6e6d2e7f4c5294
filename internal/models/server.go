package models

import (
	"github.com/google/uuid"
)

type ServerStatus string

const (
	StatusStopped ServerStatus = "stopped"
	StatusRunning ServerStatus = "running"
	StatusError   ServerStatus = "error"
)

// ServerSpec is a single proxy server entry owned by a subscription.
// Raw holds the full engine configuration document as fetched; runtime
// overrides are never written back into it.
type ServerSpec struct {
	ID      uuid.UUID      `json:"id"`
	Remarks string         `json:"remarks"`
	Raw     map[string]any `json:"raw"`
	Status  ServerStatus   `json:"status"`
}

type PortInfo struct {
	Port     int    `json:"port"`
	Protocol string `json:"protocol"`
	Tag      string `json:"tag,omitempty"`
}
