package auth

import (
	"fmt"

	"github.com/trymwestin/aqara/internal/core/normalize"
)

// Device describes one camera subject offered during setup.
type Device struct {
	SubjectID string `json:"subject_id"`
	Name      string `json:"name,omitempty"`
}

// Label is the operator-facing description, "Name (id)" or just the id.
func (d Device) Label() string {
	if d.Name == "" {
		return d.SubjectID
	}
	return fmt.Sprintf("%s (%s)", d.Name, d.SubjectID)
}

var deviceListKeys = []string{"data", "list", "deviceList", "devices"}

// ExtractDeviceList finds the device array in a device-query response.
// It never fails; unknown layouts give nil.
func ExtractDeviceList(doc any) []any {
	if list, ok := doc.([]any); ok {
		return list
	}
	data, ok := doc.(map[string]any)
	if !ok {
		return nil
	}
	switch result := data["result"].(type) {
	case map[string]any:
		for _, key := range deviceListKeys {
			if list, ok := result[key].([]any); ok {
				return list
			}
		}
	case []any:
		return result
	}
	for _, key := range deviceListKeys {
		if list, ok := data[key].([]any); ok {
			return list
		}
	}
	return nil
}

var (
	deviceIDKeys   = []string{"subjectId", "deviceId", "did", "devId", "id"}
	deviceNameKeys = []string{"name", "deviceName", "positionName", "model"}
)

// Descriptors converts raw device entries into Devices, skipping entries
// that carry no usable id.
func Descriptors(items []any) []Device {
	out := make([]Device, 0, len(items))
	for _, item := range items {
		entry, ok := item.(map[string]any)
		if !ok {
			continue
		}
		id := firstString(entry, deviceIDKeys)
		if id == "" {
			continue
		}
		out = append(out, Device{SubjectID: id, Name: firstString(entry, deviceNameKeys)})
	}
	return out
}

func firstString(entry map[string]any, keys []string) string {
	for _, key := range keys {
		if s, ok := normalize.String(entry[key]); ok && s != "" {
			return s
		}
	}
	return ""
}
