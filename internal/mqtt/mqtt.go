// Package mqtt provides MQTT publishing for Home Assistant integration.
// It defines the Publisher interface and includes both a StubPublisher (no-op)
// and a full HAPublisher that connects to an MQTT broker, publishes HA
// auto-discovery configs for every configured camera, relays switch and
// button commands, and forwards snapshots from each entry's EventBus.
package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/trymwestin/aqara/internal/core/state"
)

const defaultPublishTimeout = 5 * time.Second

var (
	errNotConnected = errors.New("not connected")
	errTimeout      = errors.New("timed out waiting for broker")
)

// ---------------------------------------------------------------------------
// Publisher interface
// ---------------------------------------------------------------------------

// Publisher sends events and state to an MQTT broker.
type Publisher interface {
	// Start begins publishing events from the event buses.
	Start(ctx context.Context) error
	// Stop shuts down the publisher.
	Stop(ctx context.Context) error
	// Notify publishes an operator notification.
	Notify(ctx context.Context, title, message string) error
}

// ---------------------------------------------------------------------------
// StubPublisher (no-op, used when MQTT is disabled)
// ---------------------------------------------------------------------------

// StubPublisher is a no-op publisher for when MQTT is not configured.
type StubPublisher struct {
	log *slog.Logger
}

// NewStubPublisher creates a no-op MQTT publisher.
func NewStubPublisher(log *slog.Logger) *StubPublisher {
	return &StubPublisher{log: log}
}

// Start is a no-op.
func (s *StubPublisher) Start(_ context.Context) error {
	s.log.Info("MQTT publisher disabled (stub)")
	return nil
}

// Stop is a no-op.
func (s *StubPublisher) Stop(_ context.Context) error {
	return nil
}

// Notify is a no-op.
func (s *StubPublisher) Notify(_ context.Context, _, _ string) error {
	return nil
}

// Ensure StubPublisher implements Publisher.
var _ Publisher = (*StubPublisher)(nil)

// ---------------------------------------------------------------------------
// Configuration
// ---------------------------------------------------------------------------

// Config holds MQTT publisher configuration.
type Config struct {
	Broker          string
	Username        string
	Password        string
	TopicPrefix     string
	DiscoveryPrefix string
	ClientID        string
}

// ---------------------------------------------------------------------------
// Collaborators
// ---------------------------------------------------------------------------

// Commander drives the writable entities of one camera.
// *coordinator.Coordinator implements it.
type Commander interface {
	SetVideo(ctx context.Context, enabled bool) error
	RequestRefresh()
}

// FaceLister runs the refresh-face-list action. *registry.Registry
// implements it.
type FaceLister interface {
	RefreshFaceList(ctx context.Context, entryID string) (string, error)
}

// Device is one camera exposed over MQTT.
type Device struct {
	EntryID   string
	Title     string
	SubjectID string
	Commander Commander
	State     state.Reader
	Bus       *state.EventBus
}

// brokerClient is the part of pahomqtt.Client the publisher uses.
type brokerClient interface {
	IsConnectionOpen() bool
	Publish(topic string, qos byte, retained bool, payload interface{}) pahomqtt.Token
	Subscribe(topic string, qos byte, callback pahomqtt.MessageHandler) pahomqtt.Token
}

// ---------------------------------------------------------------------------
// HAPublisher – full Home Assistant MQTT implementation
// ---------------------------------------------------------------------------

// Ensure HAPublisher implements Publisher at compile time.
var _ Publisher = (*HAPublisher)(nil)

// HAPublisher publishes Home Assistant auto-discovery configs, subscribes to
// command topics and relays commands to the coordinators, and forwards
// snapshots from the EventBus.
type HAPublisher struct {
	cfg     Config
	devices []Device
	faces   FaceLister
	log     *slog.Logger

	mu     sync.Mutex // guards paho, client and unsubs
	paho   pahomqtt.Client
	client brokerClient

	// publishTimeout bounds every wait on a publish or subscribe token.
	publishTimeout time.Duration

	missingMu sync.Mutex
	missing   map[string]bool // entry_id/component/key logged as missing

	unsubs []func()
	stopC  chan struct{}
	wg     sync.WaitGroup
}

// NewHAPublisher creates a new Home Assistant MQTT publisher.
func NewHAPublisher(cfg Config, devices []Device, faces FaceLister, log *slog.Logger) *HAPublisher {
	if cfg.TopicPrefix == "" {
		cfg.TopicPrefix = "aqara"
	}
	if cfg.DiscoveryPrefix == "" {
		cfg.DiscoveryPrefix = "homeassistant"
	}
	if cfg.ClientID == "" {
		cfg.ClientID = "aqarad"
	}
	return &HAPublisher{
		cfg:     cfg,
		devices: devices,
		faces:   faces,
		log:     log,
		missing: make(map[string]bool),
		stopC:   make(chan struct{}),

		publishTimeout: defaultPublishTimeout,
	}
}

// ---------------------------------------------------------------------------
// Start / Stop
// ---------------------------------------------------------------------------

// Start connects to the MQTT broker and starts listening on every device's
// EventBus. Discovery, command subscriptions and current state are
// published on each (re)connect.
func (p *HAPublisher) Start(_ context.Context) error {
	opts := pahomqtt.NewClientOptions().
		AddBroker(p.cfg.Broker).
		SetClientID(p.cfg.ClientID).
		SetUsername(p.cfg.Username).
		SetPassword(p.cfg.Password).
		SetCleanSession(true).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5*time.Second).
		SetOnConnectHandler(func(_ pahomqtt.Client) {
			p.log.Info("MQTT connected, publishing discovery and state")
			p.onConnect()
		}).
		SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
			p.log.Warn("MQTT connection lost", "error", err)
		})
	if len(p.devices) == 1 {
		// A single camera gets a last will; with several, each entry's
		// availability is managed explicitly.
		opts.SetWill(p.topic(p.devices[0].EntryID, "status"), "offline", 1, true)
	}

	paho := pahomqtt.NewClient(opts)
	p.mu.Lock()
	select {
	case <-p.stopC:
		p.mu.Unlock()
		return nil
	default:
	}
	p.paho = paho
	p.client = paho
	p.mu.Unlock()

	// The connect token only completes once a connection is made, which
	// may be never while the broker is unreachable.
	token := paho.Connect()
	select {
	case <-token.Done():
	case <-p.stopC:
		// Stop may have raced the Connect call; make sure the retry loop ends.
		go paho.Disconnect(250)
		return nil
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt connect: %w", err)
	}

	p.startLoops()
	p.log.Info("MQTT publisher started", "broker", p.cfg.Broker, "devices", len(p.devices))
	return nil
}

func (p *HAPublisher) startLoops() {
	p.mu.Lock()
	defer p.mu.Unlock()
	select {
	case <-p.stopC:
		return
	default:
	}
	for _, dev := range p.devices {
		if dev.Bus == nil {
			continue
		}
		ch, unsub := dev.Bus.Subscribe(128)
		p.unsubs = append(p.unsubs, unsub)
		p.wg.Add(1)
		go p.eventLoop(dev, ch)
	}
}

// Stop gracefully disconnects from the MQTT broker and stops the event
// loops. Offline publishes are skipped while no connection is open and
// give up when ctx is done.
func (p *HAPublisher) Stop(ctx context.Context) error {
	p.log.Info("MQTT publisher stopping")

	p.mu.Lock()
	close(p.stopC)
	unsubs := p.unsubs
	p.unsubs = nil
	paho := p.paho
	p.mu.Unlock()

	for _, unsub := range unsubs {
		unsub()
	}
	p.wg.Wait()

	for _, dev := range p.devices {
		err := p.publishCtx(ctx, p.topic(dev.EntryID, "status"), "offline", true)
		if err != nil && !errors.Is(err, errNotConnected) {
			p.log.Warn("mqtt offline publish skipped", "entry_id", dev.EntryID, "error", err)
		}
	}
	// Disconnect also aborts a connect still retrying.
	if paho != nil {
		paho.Disconnect(1000)
	}
	p.log.Info("MQTT publisher stopped")
	return nil
}

// ---------------------------------------------------------------------------
// onConnect – called on every (re)connect
// ---------------------------------------------------------------------------

func (p *HAPublisher) onConnect() {
	for _, dev := range p.devices {
		p.publishDiscovery(dev)
		p.subscribeCommands(dev)
		p.publishFullState(dev)
	}

	p.broker().Subscribe(p.cfg.DiscoveryPrefix+"/status", 1, func(_ pahomqtt.Client, msg pahomqtt.Message) {
		if string(msg.Payload()) == "online" {
			p.log.Info("Home Assistant came online, re-publishing discovery")
			for _, dev := range p.devices {
				p.publishDiscovery(dev)
				p.publishFullState(dev)
			}
		}
	})
}

// ---------------------------------------------------------------------------
// Discovery configs
// ---------------------------------------------------------------------------

// deviceInfo returns the shared HA device block.
func deviceInfo(dev Device) map[string]interface{} {
	name := dev.Title
	if name == "" {
		name = "Aqara Camera G3"
	}
	return map[string]interface{}{
		"identifiers":       []string{"aqara_" + dev.EntryID},
		"name":              name,
		"manufacturer":      "Aqara",
		"model":             "Camera G3",
		"configuration_url": "https://home.aqara.com",
	}
}

func (p *HAPublisher) discoveryTopic(component, entryID, objectID string) string {
	return fmt.Sprintf("%s/%s/%s_%s/config", p.cfg.DiscoveryPrefix, component, entryID, objectID)
}

func (p *HAPublisher) publishDiscovery(dev Device) {
	devBlock := deviceInfo(dev)
	avail := map[string]interface{}{
		"topic": p.topic(dev.EntryID, "status"),
	}
	stateTopic := p.topic(dev.EntryID, "state")

	for _, e := range entities {
		payload := map[string]interface{}{
			"name":           "Aqara G3 " + e.name,
			"unique_id":      fmt.Sprintf("%s_%s", dev.EntryID, e.key),
			"icon":           e.icon,
			"state_topic":    stateTopic,
			"value_template": fmt.Sprintf("{{ value_json.%s }}", e.stateKey()),
			"device":         devBlock,
			"availability":   avail,
		}
		if e.deviceClass != "" {
			payload["device_class"] = e.deviceClass
		}
		if e.unit != "" {
			payload["unit_of_measurement"] = e.unit
		}
		switch e.component {
		case componentBinarySensor:
			payload["payload_on"] = "ON"
			payload["payload_off"] = "OFF"
		case componentSwitch:
			payload["command_topic"] = p.topic(dev.EntryID, "video/set")
			payload["payload_on"] = "ON"
			payload["payload_off"] = "OFF"
		}
		p.publishDiscoveryConfig(e.component, dev.EntryID, e.key, payload)
	}

	p.publishDiscoveryConfig(componentButton, dev.EntryID, "refresh_face_list", map[string]interface{}{
		"name":          "Aqara G3 Refresh Face List",
		"unique_id":     fmt.Sprintf("%s_refresh_face_list", dev.EntryID),
		"icon":          "mdi:refresh",
		"command_topic": p.topic(dev.EntryID, "refresh_face_list/press"),
		"payload_press": "PRESS",
		"device":        devBlock,
		"availability":  avail,
	})
}

func (p *HAPublisher) publishDiscoveryConfig(component, entryID, objectID string, payload map[string]interface{}) {
	topic := p.discoveryTopic(component, entryID, objectID)
	data, err := json.Marshal(payload)
	if err != nil {
		p.log.Error("failed to marshal discovery config", "component", component, "object_id", objectID, "error", err)
		return
	}
	p.publish(topic, string(data), true)
}

// ---------------------------------------------------------------------------
// Command subscriptions
// ---------------------------------------------------------------------------

func (p *HAPublisher) subscribeCommands(dev Device) {
	cmds := map[string]pahomqtt.MessageHandler{
		p.topic(dev.EntryID, "video/set"):               p.videoHandler(dev),
		p.topic(dev.EntryID, "refresh_face_list/press"): p.refreshFacesHandler(dev),
	}

	for t, h := range cmds {
		token := p.broker().Subscribe(t, 1, h)
		if err := p.wait(context.Background(), token); err != nil {
			p.log.Error("failed to subscribe to command topic", "topic", t, "error", err)
		}
	}
}

func (p *HAPublisher) videoHandler(dev Device) pahomqtt.MessageHandler {
	return func(_ pahomqtt.Client, msg pahomqtt.Message) {
		on := strings.EqualFold(strings.TrimSpace(string(msg.Payload())), "ON")
		p.log.Info("MQTT command: video", "entry_id", dev.EntryID, "on", on)
		if dev.Commander == nil {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := dev.Commander.SetVideo(ctx, on); err != nil {
			p.log.Error("failed to set video", "entry_id", dev.EntryID, "error", err)
		}
	}
}

func (p *HAPublisher) refreshFacesHandler(dev Device) pahomqtt.MessageHandler {
	return func(_ pahomqtt.Client, _ pahomqtt.Message) {
		p.log.Info("MQTT command: refresh_face_list", "entry_id", dev.EntryID)
		if p.faces == nil {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if _, err := p.faces.RefreshFaceList(ctx, dev.EntryID); err != nil {
			p.log.Error("failed to refresh face list", "entry_id", dev.EntryID, "error", err)
		}
	}
}

// ---------------------------------------------------------------------------
// Notifications
// ---------------------------------------------------------------------------

type notification struct {
	Title   string `json:"title"`
	Message string `json:"message"`
}

// Notify publishes a notification on {prefix}/notify. It returns once
// the broker acknowledged it, ctx is done or the publish timeout elapsed.
func (p *HAPublisher) Notify(ctx context.Context, title, message string) error {
	data, err := json.Marshal(notification{Title: title, Message: message})
	if err != nil {
		return fmt.Errorf("mqtt notify: %w", err)
	}
	if err := p.publishCtx(ctx, p.cfg.TopicPrefix+"/notify", string(data), false); err != nil {
		return fmt.Errorf("mqtt notify: %w", err)
	}
	return nil
}

// ---------------------------------------------------------------------------
// State publishing
// ---------------------------------------------------------------------------

// publishFullState publishes availability and the current snapshot.
func (p *HAPublisher) publishFullState(dev Device) {
	if dev.State == nil {
		return
	}
	snap, ok := dev.State.Snapshot()
	if !ok || dev.State.Health().Status != state.StatusOK {
		p.publish(p.topic(dev.EntryID, "status"), "offline", true)
		if ok {
			p.publishSnapshot(dev, snap)
		}
		return
	}
	p.publish(p.topic(dev.EntryID, "status"), "online", true)
	p.publishSnapshot(dev, snap)
}

func (p *HAPublisher) publishSnapshot(dev Device, snap state.Snapshot) {
	payload := statePayload(snap, func(e entity) { p.logMissing(dev, e) })
	p.clearMissing(dev, payload)

	data, err := json.Marshal(payload)
	if err != nil {
		p.log.Error("failed to marshal state", "entry_id", dev.EntryID, "error", err)
		return
	}
	p.publish(p.topic(dev.EntryID, "state"), string(data), true)
}

// logMissing logs an entity without data once until it reports again.
func (p *HAPublisher) logMissing(dev Device, e entity) {
	key := dev.EntryID + "/" + e.component + "/" + e.key
	p.missingMu.Lock()
	seen := p.missing[key]
	p.missing[key] = true
	p.missingMu.Unlock()
	if !seen {
		p.log.Debug("missing attribute for entity", "entry_id", dev.EntryID, "entity", e.component+"."+e.key, "attributes", e.attrs)
	}
}

func (p *HAPublisher) clearMissing(dev Device, payload map[string]string) {
	p.missingMu.Lock()
	defer p.missingMu.Unlock()
	for _, e := range entities {
		if _, ok := payload[e.stateKey()]; ok {
			delete(p.missing, dev.EntryID+"/"+e.component+"/"+e.key)
		}
	}
}

// ---------------------------------------------------------------------------
// EventBus loop
// ---------------------------------------------------------------------------

func (p *HAPublisher) eventLoop(dev Device, ch <-chan state.Event) {
	defer p.wg.Done()

	for {
		select {
		case <-p.stopC:
			return
		case evt, ok := <-ch:
			if !ok {
				return
			}
			p.handleEvent(dev, evt)
		}
	}
}

func (p *HAPublisher) handleEvent(dev Device, evt state.Event) {
	switch evt.Type {
	case state.EventSnapshotUpdate:
		snap, ok := evt.Data.(state.Snapshot)
		if !ok {
			p.log.Warn("unexpected data type for snapshot_update")
			return
		}
		p.publish(p.topic(dev.EntryID, "status"), "online", true)
		p.publishSnapshot(dev, snap)

	case state.EventUpdateFailed:
		p.publish(p.topic(dev.EntryID, "status"), "offline", true)

	case state.EventFacesUpdate:
		faces, ok := evt.Data.(map[string]string)
		if !ok {
			p.log.Warn("unexpected data type for faces_update")
			return
		}
		data, err := json.Marshal(faces)
		if err != nil {
			p.log.Error("failed to marshal faces", "entry_id", dev.EntryID, "error", err)
			return
		}
		p.publish(p.topic(dev.EntryID, "faces"), string(data), true)
	}
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

// topic builds a full topic path: {prefix}/{entry_id}/{suffix}.
func (p *HAPublisher) topic(entryID, suffix string) string {
	return fmt.Sprintf("%s/%s/%s", p.cfg.TopicPrefix, entryID, suffix)
}

// publish is a convenience wrapper that publishes a message and logs errors.
func (p *HAPublisher) publish(topic, payload string, retained bool) {
	err := p.publishCtx(context.Background(), topic, payload, retained)
	if err != nil && !errors.Is(err, errNotConnected) {
		p.log.Error("mqtt publish failed", "topic", topic, "error", err)
	}
}

// publishCtx publishes only over an open connection. While paho is still
// (re)connecting it would queue the message and leave the token pending.
func (p *HAPublisher) publishCtx(ctx context.Context, topic, payload string, retained bool) error {
	client := p.broker()
	if client == nil || !client.IsConnectionOpen() {
		return errNotConnected
	}
	return p.wait(ctx, client.Publish(topic, 1, retained, payload))
}

// wait blocks until token completes, ctx is done or the publish timeout
// elapses.
func (p *HAPublisher) wait(ctx context.Context, token pahomqtt.Token) error {
	timer := time.NewTimer(p.publishTimeout)
	defer timer.Stop()
	select {
	case <-token.Done():
		return token.Error()
	case <-timer.C:
		return errTimeout
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *HAPublisher) broker() brokerClient {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.client
}
