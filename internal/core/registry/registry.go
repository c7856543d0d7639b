// Package registry tracks the configured entries of a running process and
// implements the operator actions that address them by id.
package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/trymwestin/aqara/internal/core/coordinator"
)

var (
	ErrNotFound      = errors.New("registry: entry not found")
	ErrNoEntry       = errors.New("registry: no entry id given and no single entry configured")
	ErrDuplicateID   = errors.New("registry: entry already registered")
	ErrNoCoordinator = errors.New("registry: entry has no coordinator")
)

// FaceListTitle is the notification title of the refresh-face-list action.
const FaceListTitle = "Aqara G3 Face List"

// Entry is one configured camera and the coordinator polling it.
type Entry struct {
	ID          string
	Title       string
	SubjectID   string
	Coordinator *coordinator.Coordinator
}

// Notifier delivers operator-facing messages.
type Notifier interface {
	Notify(ctx context.Context, title, message string) error
}

// LogNotifier writes notifications to the log.
type LogNotifier struct {
	Log *slog.Logger
}

// Notify implements Notifier.
func (n LogNotifier) Notify(_ context.Context, title, message string) error {
	n.Log.Info("notification", "title", title, "message", message)
	return nil
}

// Notifiers fans a notification out to several notifiers. Every notifier
// is tried; the errors are joined.
type Notifiers []Notifier

// Notify implements Notifier.
func (ns Notifiers) Notify(ctx context.Context, title, message string) error {
	var errs []error
	for _, n := range ns {
		if err := n.Notify(ctx, title, message); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Registry is the set of entries owned by the running process.
type Registry struct {
	mu       sync.RWMutex
	entries  map[string]*Entry
	notifier Notifier
	log      *slog.Logger
}

// New creates an empty registry. A nil notifier logs notifications.
func New(notifier Notifier, log *slog.Logger) *Registry {
	if notifier == nil {
		notifier = LogNotifier{Log: log}
	}
	return &Registry{
		entries:  make(map[string]*Entry),
		notifier: notifier,
		log:      log,
	}
}

// Register adds an entry.
func (r *Registry) Register(e *Entry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entries[e.ID]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateID, e.ID)
	}
	r.entries[e.ID] = e
	r.log.Debug("entry registered", "entry_id", e.ID, "subject_id", e.SubjectID)
	return nil
}

// Remove drops an entry; unknown ids are ignored.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	delete(r.entries, id)
	r.mu.Unlock()
}

// Get returns the entry with id.
func (r *Registry) Get(id string) (*Entry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return e, nil
}

// Resolve returns the entry with id, or the sole entry when id is empty.
func (r *Registry) Resolve(id string) (*Entry, error) {
	if id != "" {
		return r.Get(id)
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	if len(r.entries) != 1 {
		return nil, ErrNoEntry
	}
	for _, e := range r.entries {
		return e, nil
	}
	return nil, ErrNoEntry
}

// List returns all entries sorted by id.
func (r *Registry) List() []*Entry {
	r.mu.RLock()
	out := make([]*Entry, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// RefreshFaceList force-refreshes the face map of an entry and sends the
// listing as a notification. An empty entryID selects the sole entry. A
// failed notification still returns the listing, with the error.
func (r *Registry) RefreshFaceList(ctx context.Context, entryID string) (string, error) {
	e, err := r.Resolve(entryID)
	if err != nil {
		r.log.Error("refresh face list: entry lookup failed", "entry_id", entryID, "error", err)
		return "", err
	}
	if e.Coordinator == nil {
		r.log.Error("refresh face list: coordinator not found", "entry_id", e.ID)
		return "", fmt.Errorf("%w: %s", ErrNoCoordinator, e.ID)
	}

	faces, err := e.Coordinator.FaceMap(ctx, true)
	if err != nil {
		r.log.Warn("refresh face list: fetch failed, listing previous map", "entry_id", e.ID, "error", err)
	}

	message := FormatFaceList(faces)
	if err := r.notifier.Notify(ctx, FaceListTitle, message); err != nil {
		return message, fmt.Errorf("registry: notify: %w", err)
	}
	return message, nil
}

// FormatFaceList renders faces as "name → id" lines ordered by name, then
// id.
func FormatFaceList(faces map[string]string) string {
	if len(faces) == 0 {
		return "No faces found from Aqara API."
	}
	ids := make([]string, 0, len(faces))
	for id := range faces {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		if faces[ids[i]] != faces[ids[j]] {
			return faces[ids[i]] < faces[ids[j]]
		}
		return ids[i] < ids[j]
	})

	var b strings.Builder
	b.WriteString("Face list:")
	for _, id := range ids {
		fmt.Fprintf(&b, "\n%s → %s", faces[id], id)
	}
	return b.String()
}
