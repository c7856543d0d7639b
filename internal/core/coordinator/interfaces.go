package coordinator

//go:generate mockgen -destination=mocks/mock_api.go -package=mocks github.com/trymwestin/aqara/internal/core/coordinator API

import (
	"context"
	"time"
)

// API is the cloud surface a coordinator polls. *resource.Client
// implements it.
type API interface {
	GetDeviceStatus(ctx context.Context) (any, error)
	SetVideo(ctx context.Context, enabled bool) (any, error)
	GetFaceInfo(ctx context.Context) (any, error)
	GetLastFaceEvent(ctx context.Context) (any, error)
}

// Clock abstracts time-related operations.
type Clock interface {
	Now() time.Time
	Ticker(d time.Duration) Ticker
}

// Ticker abstracts the ticker behavior.
type Ticker interface {
	Chan() <-chan time.Time
	Stop()
}

// PersonDirectory resolves person identifiers to display names.
type PersonDirectory interface {
	DisplayName(personID string) (string, bool)
}

// Directory is a static PersonDirectory keyed by person id.
type Directory map[string]string

// DisplayName implements PersonDirectory.
func (d Directory) DisplayName(personID string) (string, bool) {
	name, ok := d[personID]
	return name, ok && name != ""
}
