// Package services defines the lifecycle contract shared by every
// long-lived component the Orchestrator brings up and tears down.
package services

import "context"

// Status represents the current state of a service.
type Status struct {
	Name    string `json:"name"`
	Running bool   `json:"running"`
	Error   string `json:"error,omitempty"`
}

// Service defines the standard lifecycle methods for all impersonation
// subsystems (DHCP, DNS, HTTP, MQTT).
type Service interface {
	// Name returns the unique name of the service.
	Name() string

	// Start starts the service.
	Start(ctx context.Context) error

	// Stop stops the service.
	Stop(ctx context.Context) error

	// Status returns the current status of the service.
	Status() Status
}
