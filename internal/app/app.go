// Package app wires the configured entries into running coordinators, the
// HTTP API and the MQTT bridge.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v5"
	"golang.org/x/sync/errgroup"

	"github.com/trymwestin/aqara/internal/config"
	"github.com/trymwestin/aqara/internal/core/coordinator"
	"github.com/trymwestin/aqara/internal/core/registry"
	"github.com/trymwestin/aqara/internal/core/resource"
	"github.com/trymwestin/aqara/internal/core/state"
	"github.com/trymwestin/aqara/internal/httpapi"
	"github.com/trymwestin/aqara/internal/mqtt"
	"github.com/trymwestin/aqara/internal/setup"
)

const shutdownTimeout = 5 * time.Second

// App is the running daemon.
type App struct {
	file      *config.File
	cfg       config.Config
	reg       *registry.Registry
	publisher mqtt.Publisher
	server    *httpapi.Server
	log       *slog.Logger

	// apiFor builds the cloud client of an entry.
	apiFor func(config.EntryConfig) coordinator.API
}

// Option customizes an App.
type Option func(*App)

// WithAPIFactory replaces the cloud client constructor.
func WithAPIFactory(f func(config.EntryConfig) coordinator.API) Option {
	return func(a *App) { a.apiFor = f }
}

// New validates the configuration and builds one coordinator per entry.
func New(file *config.File, log *slog.Logger, opts ...Option) (*App, error) {
	cfg := file.Config()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	a := &App{file: file, cfg: cfg, log: log}
	a.apiFor = a.resourceClient
	for _, opt := range opts {
		opt(a)
	}

	// The MQTT bridge both notifies and lists faces, so it joins the
	// notifier set after the registry exists.
	notifiers := &registry.Notifiers{registry.LogNotifier{Log: log}}
	a.reg = registry.New(notifiers, log)

	var devices []mqtt.Device
	for _, ec := range cfg.Entries {
		e := a.buildEntry(ec)
		if err := a.reg.Register(e); err != nil {
			return nil, err
		}
		devices = append(devices, mqtt.Device{
			EntryID:   e.ID,
			Title:     e.Title,
			SubjectID: e.SubjectID,
			Commander: e.Coordinator,
			State:     e.Coordinator.State(),
			Bus:       e.Coordinator.Bus(),
		})
	}

	if cfg.MQTT.Enabled {
		pub := mqtt.NewHAPublisher(mqtt.Config{
			Broker:          cfg.MQTT.Broker,
			Username:        cfg.MQTT.Username,
			Password:        cfg.MQTT.Password,
			TopicPrefix:     cfg.MQTT.TopicPrefix,
			DiscoveryPrefix: cfg.MQTT.DiscoveryPrefix,
		}, devices, a.reg, log)
		*notifiers = append(*notifiers, pub)
		a.publisher = pub
	} else {
		a.publisher = mqtt.NewStubPublisher(log)
	}

	a.server = httpapi.NewServer(a.reg, file, cfg.HTTP.CORSAll, log)
	return a, nil
}

func (a *App) resourceClient(ec config.EntryConfig) coordinator.API {
	return resource.New(resource.Config{
		AqaraURL:  ec.Aqara.AqaraURL,
		Token:     ec.Aqara.Token,
		AppID:     ec.Aqara.AppID,
		UserID:    ec.Aqara.UserID,
		SubjectID: ec.Aqara.SubjectID,
		Timeout:   a.cfg.Poll.RequestTimeout,
	}, nil, a.log.With("entry_id", ec.ID))
}

func (a *App) buildEntry(ec config.EntryConfig) *registry.Entry {
	store := state.NewStore(state.NewEventBus(a.log), a.log)
	coord := coordinator.New(ec.ID, a.apiFor(ec), store, a.log,
		coordinator.WithInterval(a.cfg.Poll.Interval),
		coordinator.WithFaceTTL(a.cfg.Poll.FaceRefresh),
		coordinator.WithDirectory(coordinator.Directory(a.cfg.Persons)),
		coordinator.WithMappings(coordinator.Mappings{
			ByName: config.CleanMapping(ec.Options.FaceNameMap),
			ByID:   config.CleanMapping(ec.Options.FaceIDMap),
		}),
	)
	title := ec.Title
	if title == "" {
		title = setup.Title(ec.Aqara.SubjectID)
	}
	return &registry.Entry{ID: ec.ID, Title: title, SubjectID: ec.Aqara.SubjectID, Coordinator: coord}
}

// Registry returns the entries of the app.
func (a *App) Registry() *registry.Registry {
	return a.reg
}

// Handler returns the HTTP API handler.
func (a *App) Handler() http.Handler {
	return a.server.Handler()
}

// Run starts every entry, the HTTP server and the MQTT bridge and blocks
// until ctx is done. An entry whose token is rejected stops polling
// without stopping the others.
func (a *App) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := a.publisher.Start(ctx); err != nil {
			a.log.Error("mqtt publisher failed to start", "error", err)
		}
		return nil
	})

	for _, e := range a.reg.List() {
		g.Go(func() error {
			return a.runEntry(ctx, e)
		})
	}

	srv := &http.Server{
		Addr:              a.cfg.HTTP.Addr,
		Handler:           a.server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	g.Go(func() error {
		a.log.Info("http api listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			a.log.Warn("http server shutdown", "error", err)
		}
		return a.publisher.Stop(shutdownCtx)
	})

	return g.Wait()
}

func (a *App) runEntry(ctx context.Context, e *registry.Entry) error {
	log := a.log.With("entry_id", e.ID)

	err := FirstRefresh(ctx, e.Coordinator, a.cfg.Poll.FirstRefreshTimeout, log)
	switch {
	case errors.Is(err, coordinator.ErrReauthRequired):
		log.Error("entry needs to be set up again", "error", err)
		return nil
	case err != nil && ctx.Err() != nil:
		return nil
	case err != nil:
		log.Warn("first refresh did not succeed, polling anyway", "error", err)
	}

	if err := e.Coordinator.Run(ctx); err != nil {
		if errors.Is(err, coordinator.ErrReauthRequired) {
			log.Error("entry needs to be set up again", "error", err)
			return nil
		}
		return err
	}
	return nil
}

// FirstRefresh runs the initial cycle with exponential backoff until it
// succeeds or timeout elapses. A rejected token is not retried and yields
// an error wrapping coordinator.ErrReauthRequired.
func FirstRefresh(ctx context.Context, coord *coordinator.Coordinator, timeout time.Duration, log *slog.Logger) error {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = time.Second
	bo.MaxInterval = 30 * time.Second

	_, err := backoff.Retry(ctx, func() (state.Snapshot, error) {
		snap, err := coord.Refresh(ctx)
		if err == nil {
			return snap, nil
		}
		var uf *coordinator.UpdateFailedError
		if errors.As(err, &uf) && uf.Permanent() {
			return snap, backoff.Permanent(err)
		}
		return snap, err
	},
		backoff.WithBackOff(bo),
		backoff.WithNotify(func(err error, next time.Duration) {
			log.Warn("first refresh failed, retrying", "error", err, "retry_in", next)
		}),
	)
	if err == nil {
		return nil
	}
	var uf *coordinator.UpdateFailedError
	if errors.As(err, &uf) && uf.Permanent() {
		return fmt.Errorf("%w: %w", coordinator.ErrReauthRequired, err)
	}
	return err
}
