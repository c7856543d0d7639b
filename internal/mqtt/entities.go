package mqtt

import (
	"github.com/trymwestin/aqara/internal/core/normalize"
	"github.com/trymwestin/aqara/internal/core/state"
)

const (
	componentBinarySensor = "binary_sensor"
	componentSensor       = "sensor"
	componentSwitch       = "switch"
	componentButton       = "button"
)

// entity is one Home Assistant entity backed by a snapshot attribute.
type entity struct {
	component   string
	key         string
	name        string
	icon        string
	attrs       []string // first present attribute wins
	deviceClass string
	unit        string
}

// stateKey is the field of the JSON state payload carrying the entity.
func (e entity) stateKey() string {
	if e.component == componentBinarySensor {
		return e.key + "_on"
	}
	return e.key
}

var entities = []entity{
	{component: componentBinarySensor, key: "motion_detect", name: "Motion Detect", icon: "mdi:motion-sensor", attrs: []string{"mdtrigger_enable"}},
	{component: componentBinarySensor, key: "face_detect", name: "Face Detect", icon: "mdi:face-recognition", attrs: []string{"face_detect_enable"}},
	{component: componentBinarySensor, key: "pets_detect", name: "Pets Detect", icon: "mdi:paw", attrs: []string{"pets_detect_enable"}},
	{component: componentBinarySensor, key: "human_detect", name: "Human Detect", icon: "mdi:account", attrs: []string{"human_detect_enable"}},

	{component: componentSensor, key: "motion_detect", name: "Motion Detect", icon: "mdi:motion-sensor", attrs: []string{"mdtrigger_enable"}},
	{component: componentSensor, key: "face_detect", name: "Face Detect", icon: "mdi:face-recognition", attrs: []string{"face_detect_enable"}},
	{component: componentSensor, key: "pets_detect", name: "Pets Detect", icon: "mdi:paw", attrs: []string{"pets_detect_enable"}},
	{component: componentSensor, key: "human_detect", name: "Human Detect", icon: "mdi:account", attrs: []string{"human_detect_enable"}},
	{component: componentSensor, key: "wifi_rssi", name: "WiFi RSSI", icon: "mdi:wifi", attrs: []string{"device_wifi_rssi"}, deviceClass: "signal_strength", unit: "dBm"},
	{component: componentSensor, key: "alarm_status", name: "Alarm Status", icon: "mdi:alarm", attrs: []string{"alarm_status"}},
	{component: componentSensor, key: "sdcard_status", name: "SD Card Status", icon: "mdi:sd", attrs: []string{"sdcard_status"}},
	{component: componentSensor, key: "last_face", name: "Last Face", icon: "mdi:face-recognition", attrs: []string{state.AttrLastFaceName, state.AttrLastFaceID}},
	{component: componentSensor, key: "last_person", name: "Last Person", icon: "mdi:account-check", attrs: []string{state.AttrLastPerson}},

	{component: componentSwitch, key: "set_video", name: "Video", icon: "mdi:video", attrs: []string{"set_video"}},
}

// entityValue renders the entity's state from snap. It reports false when
// none of the backing attributes is present.
func entityValue(e entity, snap state.Snapshot) (string, bool) {
	for _, attr := range e.attrs {
		raw, ok := snap.Get(attr)
		if !ok {
			continue
		}
		switch e.component {
		case componentBinarySensor, componentSwitch:
			on, ok := normalize.Truthy(raw)
			if !ok {
				continue
			}
			return boolToOnOff(on), true
		default:
			if s, ok := normalize.String(raw); ok {
				return s, true
			}
		}
	}
	return "", false
}

// statePayload maps state keys to rendered values. missing receives each
// entity without a value.
func statePayload(snap state.Snapshot, missing func(e entity)) map[string]string {
	out := make(map[string]string, len(entities))
	for _, e := range entities {
		if v, ok := entityValue(e, snap); ok {
			out[e.stateKey()] = v
			continue
		}
		if missing != nil {
			missing(e)
		}
	}
	return out
}

func boolToOnOff(b bool) string {
	if b {
		return "ON"
	}
	return "OFF"
}
