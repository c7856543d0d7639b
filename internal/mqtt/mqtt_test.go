package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trymwestin/aqara/internal/core/state"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeToken struct{ err error }

func (t fakeToken) Wait() bool                     { return true }
func (t fakeToken) WaitTimeout(time.Duration) bool { return true }
func (t fakeToken) Error() error                   { return t.err }
func (t fakeToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

// pendingToken never completes, like a paho token queued while the client
// is still trying to connect.
type pendingToken struct{}

func (pendingToken) Wait() bool                     { select {} }
func (pendingToken) WaitTimeout(time.Duration) bool { return false }
func (pendingToken) Error() error                   { return nil }
func (pendingToken) Done() <-chan struct{}          { return nil }

type fakeMessage struct {
	topic   string
	payload []byte
}

func (m fakeMessage) Duplicate() bool   { return false }
func (m fakeMessage) Qos() byte         { return 1 }
func (m fakeMessage) Retained() bool    { return false }
func (m fakeMessage) Topic() string     { return m.topic }
func (m fakeMessage) MessageID() uint16 { return 1 }
func (m fakeMessage) Payload() []byte   { return m.payload }
func (m fakeMessage) Ack()              {}

type published struct {
	topic    string
	payload  string
	retained bool
}

type fakeClient struct {
	mu        sync.Mutex
	connected bool
	pubs      []published
	subs      map[string]pahomqtt.MessageHandler
	pubErr    error
	pending   bool
}

func newFakeClient() *fakeClient {
	return &fakeClient{connected: true, subs: map[string]pahomqtt.MessageHandler{}}
}

func (c *fakeClient) IsConnectionOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

func (c *fakeClient) Publish(topic string, _ byte, retained bool, payload interface{}) pahomqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pubs = append(c.pubs, published{topic: topic, payload: payload.(string), retained: retained})
	if c.pending {
		return pendingToken{}
	}
	return fakeToken{err: c.pubErr}
}

func (c *fakeClient) Subscribe(topic string, _ byte, h pahomqtt.MessageHandler) pahomqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subs[topic] = h
	return fakeToken{}
}

// last returns the latest payload published on topic.
func (c *fakeClient) last(topic string) (published, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := len(c.pubs) - 1; i >= 0; i-- {
		if c.pubs[i].topic == topic {
			return c.pubs[i], true
		}
	}
	return published{}, false
}

func (c *fakeClient) count(prefix string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, p := range c.pubs {
		if strings.HasPrefix(p.topic, prefix) {
			n++
		}
	}
	return n
}

func (c *fakeClient) deliver(topic, payload string) {
	c.mu.Lock()
	h := c.subs[topic]
	c.mu.Unlock()
	if h != nil {
		h(nil, fakeMessage{topic: topic, payload: []byte(payload)})
	}
}

type fakeCommander struct {
	mu      sync.Mutex
	video   []bool
	refresh int
	err     error
}

func (f *fakeCommander) SetVideo(_ context.Context, enabled bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.video = append(f.video, enabled)
	return f.err
}

func (f *fakeCommander) RequestRefresh() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refresh++
}

type fakeFaces struct {
	mu  sync.Mutex
	ids []string
}

func (f *fakeFaces) RefreshFaceList(_ context.Context, entryID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ids = append(f.ids, entryID)
	return "", nil
}

func newTestPublisher(t *testing.T, faces FaceLister) (*HAPublisher, *fakeClient, *state.Store, *fakeCommander) {
	t.Helper()
	store := state.NewStore(state.NewEventBus(testLogger()), testLogger())
	cmd := &fakeCommander{}
	dev := Device{
		EntryID:   "cam1",
		Title:     "Aqara Camera G3 (lumi.1)",
		SubjectID: "lumi.1",
		Commander: cmd,
		State:     store,
		Bus:       store.Bus(),
	}
	p := NewHAPublisher(Config{Broker: "tcp://localhost:1883"}, []Device{dev}, faces, testLogger())
	client := newFakeClient()
	p.client = client
	return p, client, store, cmd
}

func TestOnConnect_PublishesDiscovery(t *testing.T) {
	p, client, _, _ := newTestPublisher(t, nil)
	p.onConnect()

	// one config per entity plus the refresh button
	assert.Equal(t, len(entities)+1, client.count("homeassistant/"))

	sw, ok := client.last("homeassistant/switch/cam1_set_video/config")
	require.True(t, ok)
	assert.True(t, sw.retained)
	var cfg map[string]any
	require.NoError(t, json.Unmarshal([]byte(sw.payload), &cfg))
	assert.Equal(t, "aqara/cam1/video/set", cfg["command_topic"])
	assert.Equal(t, "aqara/cam1/state", cfg["state_topic"])
	assert.Equal(t, "{{ value_json.set_video }}", cfg["value_template"])
	dev := cfg["device"].(map[string]any)
	assert.Equal(t, "Aqara", dev["manufacturer"])
	assert.Equal(t, "Camera G3", dev["model"])

	bs, ok := client.last("homeassistant/binary_sensor/cam1_motion_detect/config")
	require.True(t, ok)
	assert.Contains(t, bs.payload, "value_json.motion_detect_on")

	rssi, ok := client.last("homeassistant/sensor/cam1_wifi_rssi/config")
	require.True(t, ok)
	assert.Contains(t, rssi.payload, `"unit_of_measurement":"dBm"`)

	// no snapshot yet
	status, ok := client.last("aqara/cam1/status")
	require.True(t, ok)
	assert.Equal(t, "offline", status.payload)

	assert.Contains(t, client.subs, "aqara/cam1/video/set")
	assert.Contains(t, client.subs, "aqara/cam1/refresh_face_list/press")
	assert.Contains(t, client.subs, "homeassistant/status")
}

func TestOnConnect_RepublishesWhenHomeAssistantStarts(t *testing.T) {
	p, client, _, _ := newTestPublisher(t, nil)
	p.onConnect()
	before := client.count("homeassistant/")

	client.deliver("homeassistant/status", "offline")
	assert.Equal(t, before, client.count("homeassistant/"))

	client.deliver("homeassistant/status", "online")
	assert.Equal(t, 2*before, client.count("homeassistant/"))
}

func TestCommands(t *testing.T) {
	faces := &fakeFaces{}
	p, client, _, cmd := newTestPublisher(t, faces)
	p.onConnect()

	client.deliver("aqara/cam1/video/set", "ON")
	client.deliver("aqara/cam1/video/set", "off")
	client.deliver("aqara/cam1/refresh_face_list/press", "PRESS")

	assert.Equal(t, []bool{true, false}, cmd.video)
	assert.Equal(t, []string{"cam1"}, faces.ids)
}

func TestCommands_SetVideoErrorIsLogged(t *testing.T) {
	p, client, _, cmd := newTestPublisher(t, nil)
	cmd.err = errors.New("boom")
	p.onConnect()

	assert.NotPanics(t, func() {
		client.deliver("aqara/cam1/video/set", "ON")
		client.deliver("aqara/cam1/refresh_face_list/press", "PRESS")
	})
	assert.Equal(t, []bool{true}, cmd.video)
}

func TestEventLoop_PublishesSnapshot(t *testing.T) {
	p, client, store, _ := newTestPublisher(t, nil)
	p.startLoops()

	store.Replace(map[string]any{
		"mdtrigger_enable":     int64(1),
		"face_detect_enable":   false,
		"device_wifi_rssi":     int64(-61),
		"set_video":            "1",
		state.AttrLastFaceID:   "f-1",
		state.AttrLastFaceName: "Alice",
		state.AttrLastPerson:   "Alice Smith",
	}, time.Unix(1700000000, 0))

	require.Eventually(t, func() bool {
		_, ok := client.last("aqara/cam1/state")
		return ok
	}, time.Second, 5*time.Millisecond)

	status, _ := client.last("aqara/cam1/status")
	assert.Equal(t, "online", status.payload)

	msg, _ := client.last("aqara/cam1/state")
	var payload map[string]string
	require.NoError(t, json.Unmarshal([]byte(msg.payload), &payload))
	assert.Equal(t, "ON", payload["motion_detect_on"])
	assert.Equal(t, "OFF", payload["face_detect_on"])
	assert.Equal(t, "1", payload["motion_detect"])
	assert.Equal(t, "-61", payload["wifi_rssi"])
	assert.Equal(t, "ON", payload["set_video"])
	assert.Equal(t, "Alice", payload["last_face"])
	assert.Equal(t, "Alice Smith", payload["last_person"])
	assert.NotContains(t, payload, "alarm_status")

	store.Fail(state.StatusUpdateFailed, errors.New("down"))
	require.Eventually(t, func() bool {
		s, _ := client.last("aqara/cam1/status")
		return s.payload == "offline"
	}, time.Second, 5*time.Millisecond)

	store.PublishFaces(map[string]string{"f-1": "Alice"})
	require.Eventually(t, func() bool {
		f, ok := client.last("aqara/cam1/faces")
		return ok && f.payload == `{"f-1":"Alice"}`
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, p.Stop(context.Background()))
	status, _ = client.last("aqara/cam1/status")
	assert.Equal(t, "offline", status.payload)
}

func TestPublishFullState_Healthy(t *testing.T) {
	p, client, store, _ := newTestPublisher(t, nil)
	store.Replace(map[string]any{"alarm_status": int64(0)}, time.Unix(1, 0))

	p.publishFullState(p.devices[0])

	status, _ := client.last("aqara/cam1/status")
	assert.Equal(t, "online", status.payload)
	msg, ok := client.last("aqara/cam1/state")
	require.True(t, ok)
	assert.JSONEq(t, `{"alarm_status":"0"}`, msg.payload)
}

func TestMissingAttributesLoggedOnce(t *testing.T) {
	p, _, _, _ := newTestPublisher(t, nil)
	dev := p.devices[0]

	p.publishSnapshot(dev, state.Snapshot{Attributes: map[string]any{}})
	assert.True(t, p.missing["cam1/sensor/alarm_status"])

	p.publishSnapshot(dev, state.Snapshot{Attributes: map[string]any{"alarm_status": int64(2)}})
	assert.False(t, p.missing["cam1/sensor/alarm_status"])
	assert.True(t, p.missing["cam1/sensor/sdcard_status"])
}

func TestNotify(t *testing.T) {
	p, client, _, _ := newTestPublisher(t, nil)

	require.NoError(t, p.Notify(context.Background(), "Aqara G3 Face List", "Face list:\nAlice → 1"))
	msg, ok := client.last("aqara/notify")
	require.True(t, ok)
	assert.False(t, msg.retained)
	assert.JSONEq(t, `{"title":"Aqara G3 Face List","message":"Face list:\nAlice → 1"}`, msg.payload)

	client.pubErr = errors.New("broker gone")
	require.Error(t, p.Notify(context.Background(), "t", "m"))

	client.connected = false
	require.Error(t, p.Notify(context.Background(), "t", "m"))
}

func TestNotify_PendingPublishHonoursContext(t *testing.T) {
	p, client, _, _ := newTestPublisher(t, nil)
	client.pending = true

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	start := time.Now()
	err := p.Notify(ctx, "t", "m")
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestStop_PendingPublishTimesOut(t *testing.T) {
	p, client, _, _ := newTestPublisher(t, nil)
	p.publishTimeout = 20 * time.Millisecond
	client.pending = true

	done := make(chan error, 1)
	go func() { done <- p.Stop(context.Background()) }()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Stop blocked on a pending publish")
	}
	_, ok := client.last("aqara/cam1/status")
	assert.True(t, ok)
}

func TestStop_SkipsOfflineWithoutConnection(t *testing.T) {
	p, client, _, _ := newTestPublisher(t, nil)
	client.connected = false

	require.NoError(t, p.Stop(context.Background()))
	assert.Equal(t, 0, client.count("aqara/"))
}

func TestStartStop_UnreachableBroker(t *testing.T) {
	if testing.Short() {
		t.Skip("dials a closed local port")
	}
	p := NewHAPublisher(Config{Broker: "tcp://127.0.0.1:1"}, nil, nil, testLogger())

	started := make(chan error, 1)
	go func() { started <- p.Start(context.Background()) }()
	time.Sleep(300 * time.Millisecond)

	stopped := make(chan error, 1)
	go func() { stopped <- p.Stop(context.Background()) }()
	for _, ch := range []chan error{stopped, started} {
		select {
		case err := <-ch:
			require.NoError(t, err)
		case <-time.After(15 * time.Second):
			t.Fatal("publisher did not stop while the broker was unreachable")
		}
	}
}

func TestStubPublisher(t *testing.T) {
	s := NewStubPublisher(testLogger())
	require.NoError(t, s.Start(context.Background()))
	require.NoError(t, s.Notify(context.Background(), "t", "m"))
	require.NoError(t, s.Stop(context.Background()))
}

func TestBoolToOnOff(t *testing.T) {
	assert.Equal(t, "ON", boolToOnOff(true))
	assert.Equal(t, "OFF", boolToOnOff(false))
}
