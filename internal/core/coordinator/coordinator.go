// Package coordinator drives the polling cycle for one configured camera:
// status fetch, face identity enrichment and snapshot publication.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/trymwestin/aqara/internal/core/normalize"
	"github.com/trymwestin/aqara/internal/core/state"
	"github.com/trymwestin/aqara/internal/core/transport"
)

const (
	DefaultInterval = 30 * time.Second
	DefaultFaceTTL  = 12 * time.Hour
)

// ErrReauthRequired is returned by Run when the cloud rejects the stored
// token. Polling stops until the entry is reconfigured.
var ErrReauthRequired = errors.New("coordinator: re-authentication required")

// UpdateFailedError reports a failed cycle. The previous snapshot stays
// visible.
type UpdateFailedError struct {
	EntryID string
	Err     error
}

func (e *UpdateFailedError) Error() string {
	return fmt.Sprintf("coordinator: update %s failed: %v", e.EntryID, e.Err)
}

func (e *UpdateFailedError) Unwrap() error {
	return e.Err
}

// Permanent reports whether retrying cannot succeed without new
// credentials.
func (e *UpdateFailedError) Permanent() bool {
	return errors.Is(e.Err, transport.ErrInvalidAuth)
}

// Mappings are the operator-supplied face to person tables.
type Mappings struct {
	ByName map[string]string
	ByID   map[string]string
}

func (m Mappings) clone() Mappings {
	out := Mappings{ByName: make(map[string]string, len(m.ByName)), ByID: make(map[string]string, len(m.ByID))}
	for k, v := range m.ByName {
		out.ByName[k] = v
	}
	for k, v := range m.ByID {
		out.ByID[k] = v
	}
	return out
}

// Option customizes a Coordinator.
type Option func(*Coordinator)

// WithInterval sets the polling interval.
func WithInterval(d time.Duration) Option {
	return func(c *Coordinator) {
		if d > 0 {
			c.interval = d
		}
	}
}

// WithFaceTTL sets how long a fetched face map stays fresh.
func WithFaceTTL(d time.Duration) Option {
	return func(c *Coordinator) {
		if d > 0 {
			c.faceTTL = d
		}
	}
}

// WithClock replaces the wall clock.
func WithClock(clock Clock) Option {
	return func(c *Coordinator) { c.clock = clock }
}

// WithDirectory sets the person directory used for display names.
func WithDirectory(d PersonDirectory) Option {
	return func(c *Coordinator) { c.directory = d }
}

// WithMappings sets the initial face to person tables.
func WithMappings(m Mappings) Option {
	return func(c *Coordinator) { c.mappings = m.clone() }
}

// Coordinator polls one device and owns its face identity map.
type Coordinator struct {
	entryID   string
	api       API
	store     *state.Store
	log       *slog.Logger
	clock     Clock
	interval  time.Duration
	faceTTL   time.Duration
	directory PersonDirectory

	mapMu    sync.RWMutex
	mappings Mappings

	// faceMu is held across the face-info fetch.
	faceMu        sync.Mutex
	faces         map[string]string
	facesFetched  time.Time
	forceFaceNext atomic.Bool

	cycleMu   sync.Mutex
	shapeOnce sync.Once
	wakeCh    chan struct{}
}

// New creates a coordinator publishing into store.
func New(entryID string, api API, store *state.Store, log *slog.Logger, opts ...Option) *Coordinator {
	c := &Coordinator{
		entryID:   entryID,
		api:       api,
		store:     store,
		log:       log.With("entry_id", entryID),
		clock:     realClock{},
		interval:  DefaultInterval,
		faceTTL:   DefaultFaceTTL,
		directory: Directory{},
		mappings:  Mappings{}.clone(),
		faces:     map[string]string{},
		wakeCh:    make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// EntryID returns the entry this coordinator serves.
func (c *Coordinator) EntryID() string {
	return c.entryID
}

// State returns the store for reading the current snapshot.
func (c *Coordinator) State() *state.Store {
	return c.store
}

// Bus returns the event bus for subscribing to events.
func (c *Coordinator) Bus() *state.EventBus {
	return c.store.Bus()
}

// Snapshot returns the latest published snapshot, if any.
func (c *Coordinator) Snapshot() (state.Snapshot, bool) {
	return c.store.Snapshot()
}

// Interval returns the polling interval.
func (c *Coordinator) Interval() time.Duration {
	return c.interval
}

// SetMappings replaces the face to person tables. The next cycle uses
// them.
func (c *Coordinator) SetMappings(m Mappings) {
	cp := m.clone()
	c.mapMu.Lock()
	c.mappings = cp
	c.mapMu.Unlock()
}

// Mappings returns a copy of the current tables.
func (c *Coordinator) Mappings() Mappings {
	c.mapMu.RLock()
	defer c.mapMu.RUnlock()
	return c.mappings.clone()
}

// RequestRefresh wakes the run loop for an immediate cycle.
func (c *Coordinator) RequestRefresh() {
	select {
	case c.wakeCh <- struct{}{}:
	default:
	}
}

// RequestFaceRefresh makes the next cycle re-fetch the face map and wakes
// the run loop.
func (c *Coordinator) RequestFaceRefresh() {
	c.forceFaceNext.Store(true)
	c.RequestRefresh()
}

// Run polls until ctx is done. It returns nil on shutdown and an error
// wrapping ErrReauthRequired when the token is rejected.
func (c *Coordinator) Run(ctx context.Context) error {
	ticker := c.clock.Ticker(c.interval)
	defer ticker.Stop()

	c.log.Info("polling started", "interval", c.interval)
	for {
		select {
		case <-ctx.Done():
			c.log.Info("polling stopped")
			return nil
		case <-ticker.Chan():
		case <-c.wakeCh:
			c.log.Debug("wake signal received, refreshing immediately")
		}

		if _, err := c.Refresh(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			var uf *UpdateFailedError
			if errors.As(err, &uf) && uf.Permanent() {
				c.log.Error("token rejected, polling stopped", "error", err)
				return fmt.Errorf("%w: entry %s: %w", ErrReauthRequired, c.entryID, err)
			}
			c.log.Warn("update failed", "error", err, "retry_in", c.interval)
		}
	}
}

// Refresh runs one cycle and returns the published snapshot. A status
// fetch failure publishes nothing and returns *UpdateFailedError.
func (c *Coordinator) Refresh(ctx context.Context) (state.Snapshot, error) {
	c.cycleMu.Lock()
	defer c.cycleMu.Unlock()

	doc, err := c.api.GetDeviceStatus(ctx)
	if err != nil {
		uf := &UpdateFailedError{EntryID: c.entryID, Err: err}
		status := state.StatusUpdateFailed
		if uf.Permanent() {
			status = state.StatusReauthRequired
		}
		c.store.Fail(status, uf)
		return state.Snapshot{}, uf
	}
	c.logShapeOnce(doc)

	attrs := normalize.Flatten(doc)

	faces, err := c.faceMap(ctx, c.forceFaceNext.Swap(false))
	if err != nil {
		c.log.Warn("face list refresh failed, keeping previous map", "error", err)
	}

	c.mergeFaceEvent(ctx, attrs, faces)

	snap := c.store.Replace(attrs, c.clock.Now())
	c.log.Debug("snapshot published", "attributes", len(attrs))
	return snap, nil
}

// FaceMap returns the face identity map, fetching it when it was never
// fetched, is older than the face TTL, or force is set. On failure the
// previous map is returned with the error.
func (c *Coordinator) FaceMap(ctx context.Context, force bool) (map[string]string, error) {
	return c.faceMap(ctx, force)
}

func (c *Coordinator) faceMap(ctx context.Context, force bool) (map[string]string, error) {
	c.faceMu.Lock()
	defer c.faceMu.Unlock()

	if force {
		c.facesFetched = time.Time{}
	}
	now := c.clock.Now()
	if !c.facesFetched.IsZero() && now.Sub(c.facesFetched) < c.faceTTL {
		return copyFaces(c.faces), nil
	}

	doc, err := c.api.GetFaceInfo(ctx)
	if err != nil {
		return copyFaces(c.faces), fmt.Errorf("coordinator: face info: %w", err)
	}
	c.faces = normalize.FaceMap(doc)
	c.facesFetched = c.clock.Now()
	c.log.Info("face list refreshed", "faces", len(c.faces))
	c.store.PublishFaces(c.faces)
	return copyFaces(c.faces), nil
}

// mergeFaceEvent adds last_face_id, last_face_name and last_person to
// attrs. Failures are logged and leave attrs untouched.
func (c *Coordinator) mergeFaceEvent(ctx context.Context, attrs map[string]any, faces map[string]string) {
	doc, err := c.api.GetLastFaceEvent(ctx)
	if err != nil {
		c.log.Warn("face event fetch failed", "error", err)
		return
	}
	faceID, ok := normalize.LastFaceID(doc)
	if !ok {
		return
	}
	attrs[state.AttrLastFaceID] = faceID

	name := faces[faceID]
	if name != "" {
		attrs[state.AttrLastFaceName] = name
	}
	if person, ok := c.resolvePerson(faceID, name); ok {
		attrs[state.AttrLastPerson] = person
	}
}

// resolvePerson prefers the name table and falls back to the id table.
func (c *Coordinator) resolvePerson(faceID, faceName string) (string, bool) {
	c.mapMu.RLock()
	personID := ""
	if faceName != "" {
		personID = c.mappings.ByName[faceName]
	}
	if personID == "" {
		personID = c.mappings.ByID[faceID]
	}
	c.mapMu.RUnlock()

	if personID == "" {
		return "", false
	}
	if display, ok := c.directory.DisplayName(personID); ok {
		return display, true
	}
	return personID, true
}

// SetVideo switches the camera video and schedules a refresh.
func (c *Coordinator) SetVideo(ctx context.Context, enabled bool) error {
	if _, err := c.api.SetVideo(ctx, enabled); err != nil {
		return fmt.Errorf("coordinator: set video: %w", err)
	}
	c.log.Info("video switched", "enabled", enabled)
	c.RequestRefresh()
	return nil
}

func (c *Coordinator) logShapeOnce(doc any) {
	c.shapeOnce.Do(func() {
		var keys []string
		resultType := "none"
		if m, ok := doc.(map[string]any); ok {
			for k := range m {
				keys = append(keys, k)
			}
			if r, ok := m["result"]; ok {
				resultType = fmt.Sprintf("%T", r)
			}
		}
		c.log.Debug("aqara response shape",
			"shape", normalize.DetectShape(doc).String(),
			"type", fmt.Sprintf("%T", doc),
			"keys", keys,
			"result_type", resultType,
		)
	})
}

func copyFaces(in map[string]string) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
