// Package aqara provides a public facade re-exporting core types
// for external consumers of this module.
package aqara

import (
	"github.com/trymwestin/aqara/internal/core/auth"
	"github.com/trymwestin/aqara/internal/core/coordinator"
	"github.com/trymwestin/aqara/internal/core/normalize"
	"github.com/trymwestin/aqara/internal/core/registry"
	"github.com/trymwestin/aqara/internal/core/resource"
	"github.com/trymwestin/aqara/internal/core/state"
	"github.com/trymwestin/aqara/internal/core/transport"
)

// Re-export core types for external use.
type (
	// Credentials are the values a successful login yields.
	Credentials = auth.Credentials
	// Device is a camera listed on an account.
	Device = auth.Device
	// Region is one cloud area's account server and app keys.
	Region = auth.Region
	// AccountClient performs the signed account calls.
	AccountClient = auth.AccountClient
	// ResourceClient performs token-authenticated calls for one device.
	ResourceClient = resource.Client
	// ResourceConfig identifies a device on the cloud.
	ResourceConfig = resource.Config
	// Coordinator polls one device.
	Coordinator = coordinator.Coordinator
	// Mappings are the face to person tables.
	Mappings = coordinator.Mappings
	// Registry tracks the configured entries.
	Registry = registry.Registry
	// Snapshot is one merged view of a device.
	Snapshot = state.Snapshot
	// Health is the outcome of the latest poll.
	Health = state.Health
	// Event represents a state change event.
	Event = state.Event
	// EventType identifies event categories.
	EventType = state.EventType
	// Shape identifies a status response layout.
	Shape = normalize.Shape
)

// Snapshot attribute keys added by the coordinator.
const (
	AttrLastFaceID   = state.AttrLastFaceID
	AttrLastFaceName = state.AttrLastFaceName
	AttrLastPerson   = state.AttrLastPerson
)

// Event type constants.
const (
	EventSnapshotUpdate = state.EventSnapshotUpdate
	EventUpdateFailed   = state.EventUpdateFailed
	EventFacesUpdate    = state.EventFacesUpdate
)

// Error kinds.
var (
	ErrInvalidAuth    = transport.ErrInvalidAuth
	ErrCannotConnect  = transport.ErrCannotConnect
	ErrReauthRequired = coordinator.ErrReauthRequired
)

// Flatten normalizes a device status response to attribute name -> scalar.
func Flatten(doc any) map[string]any {
	return normalize.Flatten(doc)
}
