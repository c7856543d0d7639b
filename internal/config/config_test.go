package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleYAML = `
entries:
  - id: hall
    title: Aqara Camera G3 (lumi.1)
    area: GER
    aqara:
      aqara_url: rpc-ger.aqara.com
      token: tok
      appid: app
      userid: user
      subject_id: lumi.1
    options:
      face_name_map:
        Alice: person.alice
persons:
  person.alice: Alice Smith
regions:
  GER:
    server: https://rpc-ger.example.test
poll:
  interval: 45s
  face_refresh: 6h
mqtt:
  enabled: true
  broker: tcp://broker:1883
log:
  level: debug
`

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "aqarad.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_DefaultsWhenMissing(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Defaults(), cfg)
	assert.Equal(t, 30*time.Second, cfg.Poll.Interval)
	assert.Equal(t, 12*time.Hour, cfg.Poll.FaceRefresh)
}

func TestLoad_YAML(t *testing.T) {
	cfg, err := Load(writeFile(t, sampleYAML))
	require.NoError(t, err)

	require.Len(t, cfg.Entries, 1)
	e := cfg.Entries[0]
	assert.Equal(t, "hall", e.ID)
	assert.Equal(t, "lumi.1", e.Aqara.SubjectID)
	assert.Equal(t, "person.alice", e.Options.FaceNameMap["Alice"])
	assert.Equal(t, "Alice Smith", cfg.Persons["person.alice"])
	assert.Equal(t, "https://rpc-ger.example.test", cfg.Regions["GER"].Server)

	assert.Equal(t, 45*time.Second, cfg.Poll.Interval)
	assert.Equal(t, 6*time.Hour, cfg.Poll.FaceRefresh)
	assert.Equal(t, 10*time.Second, cfg.Poll.RequestTimeout, "unset keys keep defaults")
	assert.Equal(t, "homeassistant", cfg.MQTT.DiscoveryPrefix)
	assert.Equal(t, "debug", cfg.Log.Level)
	require.NoError(t, cfg.Validate())
}

func TestLoad_EnvOverlay(t *testing.T) {
	t.Setenv("AQARA_HTTP_ADDR", ":9090")
	t.Setenv("AQARA_MQTT_ENABLED", "false")
	t.Setenv("AQARA_POLL_INTERVAL", "1m")
	t.Setenv("AQARA_FACE_REFRESH", "not-a-duration")
	t.Setenv("AQARA_LOG_FORMAT", "json")

	cfg, err := Load(writeFile(t, sampleYAML))
	require.NoError(t, err)
	assert.Equal(t, ":9090", cfg.HTTP.Addr)
	assert.False(t, cfg.MQTT.Enabled)
	assert.Equal(t, time.Minute, cfg.Poll.Interval)
	assert.Equal(t, 6*time.Hour, cfg.Poll.FaceRefresh)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestLoad_ParseError(t *testing.T) {
	_, err := Load(writeFile(t, "entries: [\n"))
	require.Error(t, err)
}

func TestSave_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "aqarad.yaml")
	cfg, err := Load(writeFile(t, sampleYAML))
	require.NoError(t, err)

	require.NoError(t, Save(path, cfg))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	again, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, again)
}

func TestValidate(t *testing.T) {
	good := EntryConfig{ID: "a", Aqara: AqaraConfig{AqaraURL: "h", Token: "t", AppID: "app", SubjectID: "s"}}

	cfg := Defaults()
	cfg.Entries = []EntryConfig{good}
	require.NoError(t, cfg.Validate())

	dup := good
	dup.Aqara.SubjectID = "other"
	cfg.Entries = []EntryConfig{good, dup}
	require.ErrorIs(t, cfg.Validate(), ErrDuplicateEntry)

	cfg.Entries = []EntryConfig{{ID: "b"}}
	err := cfg.Validate()
	require.ErrorIs(t, err, ErrInvalid)
	assert.Contains(t, err.Error(), "token is required")
	assert.Contains(t, err.Error(), "subject_id is required")

	cfg = Defaults()
	cfg.MQTT.Enabled = true
	require.ErrorIs(t, cfg.Validate(), ErrInvalid)
}

func TestEntryAndUpsert(t *testing.T) {
	var cfg Config
	cfg.UpsertEntry(EntryConfig{ID: "a", Title: "one"})
	cfg.UpsertEntry(EntryConfig{ID: "a", Title: "two"})
	cfg.UpsertEntry(EntryConfig{ID: "b"})
	require.Len(t, cfg.Entries, 2)

	e, err := cfg.Entry("a")
	require.NoError(t, err)
	assert.Equal(t, "two", e.Title)

	_, err = cfg.Entry("zzz")
	require.ErrorIs(t, err, ErrNoEntry)
}

func TestFile_Update(t *testing.T) {
	path := filepath.Join(t.TempDir(), "aqarad.yaml")
	f := NewFile(path, Config{Entries: []EntryConfig{{ID: "a"}}})

	boom := errors.New("boom")
	err := f.Update(func(c *Config) error {
		c.Entries[0].Title = "changed"
		return boom
	})
	require.ErrorIs(t, err, boom)
	assert.Empty(t, f.Config().Entries[0].Title)
	_, statErr := os.Stat(path)
	assert.True(t, os.IsNotExist(statErr))

	require.NoError(t, f.Update(func(c *Config) error {
		e, err := c.Entry("a")
		if err != nil {
			return err
		}
		e.Options = OptionsConfig{FaceIDMap: map[string]string{"7": "person.x"}}
		return nil
	}))
	saved, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "person.x", saved.Entries[0].Options.FaceIDMap["7"])
}

func TestFile_UpdateKeepsEnvOutOfFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "aqarad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("http:\n  addr: \":8080\"\nmqtt:\n  broker: tcp://broker:1883\n"), 0o600))
	t.Setenv("AQARA_MQTT_PASSWORD", "env-secret")
	t.Setenv("AQARA_HTTP_ADDR", ":9999")

	f, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "env-secret", f.Config().MQTT.Password)
	assert.Equal(t, ":9999", f.Config().HTTP.Addr)

	require.NoError(t, f.Update(func(c *Config) error {
		c.UpsertEntry(EntryConfig{ID: "a"})
		return nil
	}))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "env-secret")
	assert.NotContains(t, string(data), ":9999")
	assert.Contains(t, string(data), ":8080")

	assert.Equal(t, "env-secret", f.Config().MQTT.Password)
	assert.Equal(t, ":9999", f.Config().HTTP.Addr)
	require.Len(t, f.Config().Entries, 1)
}

func TestCleanMapping(t *testing.T) {
	assert.Equal(t,
		map[string]string{"Alice": "person.alice"},
		CleanMapping(map[string]string{"Alice": " person.alice ", "Bob": "", "": "x"}))
}
