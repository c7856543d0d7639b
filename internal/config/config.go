package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/trymwestin/aqara/internal/core/auth"
)

// DefaultPath is where the daemon keeps its configuration.
const DefaultPath = "/data/aqarad.yaml"

// Config holds all application configuration.
type Config struct {
	Entries []EntryConfig          `yaml:"entries"`
	Persons map[string]string      `yaml:"persons,omitempty"`
	Regions map[string]auth.Region `yaml:"regions,omitempty"`
	Poll    PollConfig             `yaml:"poll"`
	HTTP    HTTPConfig             `yaml:"http"`
	MQTT    MQTTConfig             `yaml:"mqtt"`
	Log     LogConfig              `yaml:"log"`
}

// EntryConfig is one configured camera. Aqara is written once at setup;
// Options may change afterwards.
type EntryConfig struct {
	ID      string        `yaml:"id"`
	Title   string        `yaml:"title"`
	Area    string        `yaml:"area,omitempty"`
	Aqara   AqaraConfig   `yaml:"aqara"`
	Options OptionsConfig `yaml:"options"`
}

// AqaraConfig holds the credentials of one device.
type AqaraConfig struct {
	AqaraURL  string `yaml:"aqara_url"`
	Token     string `yaml:"token"`
	AppID     string `yaml:"appid"`
	UserID    string `yaml:"userid,omitempty"`
	SubjectID string `yaml:"subject_id"`
}

// OptionsConfig holds the face to person mapping tables.
type OptionsConfig struct {
	FaceNameMap map[string]string `yaml:"face_name_map,omitempty"`
	FaceIDMap   map[string]string `yaml:"face_id_map,omitempty"`
}

// PollConfig holds coordinator timing.
type PollConfig struct {
	Interval            time.Duration `yaml:"interval"`
	FaceRefresh         time.Duration `yaml:"face_refresh"`
	RequestTimeout      time.Duration `yaml:"request_timeout"`
	FirstRefreshTimeout time.Duration `yaml:"first_refresh_timeout"`
}

// MQTTConfig holds MQTT broker configuration.
type MQTTConfig struct {
	Enabled         bool   `yaml:"enabled"`
	Broker          string `yaml:"broker"`
	Username        string `yaml:"username"`
	Password        string `yaml:"password"`
	TopicPrefix     string `yaml:"topic_prefix"`
	DiscoveryPrefix string `yaml:"discovery_prefix"`
}

// HTTPConfig holds HTTP server configuration.
type HTTPConfig struct {
	Addr    string `yaml:"addr"`
	CORSAll bool   `yaml:"cors_allow_all"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Defaults returns a Config with sensible defaults.
func Defaults() Config {
	return Config{
		Poll: PollConfig{
			Interval:            30 * time.Second,
			FaceRefresh:         12 * time.Hour,
			RequestTimeout:      10 * time.Second,
			FirstRefreshTimeout: 2 * time.Minute,
		},
		HTTP: HTTPConfig{
			Addr: ":8080",
		},
		MQTT: MQTTConfig{
			TopicPrefix:     "aqara",
			DiscoveryPrefix: "homeassistant",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads configuration from a YAML file at path, then overlays environment variables.
// If path is empty, only defaults + env vars are used.
func Load(path string) (Config, error) {
	cfg, err := read(path)
	if err != nil {
		return cfg, err
	}
	applyEnv(&cfg)
	return cfg, nil
}

// LoadFile reads the config file at path for editing. Environment
// overrides apply to Config but are never written back.
func LoadFile(path string) (*File, error) {
	cfg, err := read(path)
	if err != nil {
		return nil, err
	}
	return NewFile(path, cfg), nil
}

func read(path string) (Config, error) {
	cfg := Defaults()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return cfg, fmt.Errorf("config: read %s: %w", path, err)
		}
		// file not found is ok, use defaults
		return cfg, nil
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return cfg, nil
}

// Save writes cfg to path with owner-only permissions. The file is
// replaced atomically.
func Save(path string, cfg Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("config: encode: %w", err)
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("config: create %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, ".aqarad-*.yaml")
	if err != nil {
		return fmt.Errorf("config: write %s: %w", path, err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("config: write %s: %w", path, err)
	}
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return fmt.Errorf("config: write %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("config: write %s: %w", path, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("config: write %s: %w", path, err)
	}
	return nil
}

var (
	ErrNoEntry        = errors.New("config: entry not found")
	ErrDuplicateEntry = errors.New("config: duplicate entry")
	ErrInvalid        = errors.New("config: invalid")
)

// Validate checks that every entry can be polled.
func (c Config) Validate() error {
	var errs []error
	ids := map[string]bool{}
	subjects := map[string]bool{}
	for i, e := range c.Entries {
		name := e.ID
		if name == "" {
			name = "#" + strconv.Itoa(i)
			errs = append(errs, fmt.Errorf("%w: entry %s: id is required", ErrInvalid, name))
		}
		if e.Aqara.AqaraURL == "" {
			errs = append(errs, fmt.Errorf("%w: entry %s: aqara_url is required", ErrInvalid, name))
		}
		if e.Aqara.Token == "" {
			errs = append(errs, fmt.Errorf("%w: entry %s: token is required", ErrInvalid, name))
		}
		if e.Aqara.AppID == "" {
			errs = append(errs, fmt.Errorf("%w: entry %s: appid is required", ErrInvalid, name))
		}
		if e.Aqara.SubjectID == "" {
			errs = append(errs, fmt.Errorf("%w: entry %s: subject_id is required", ErrInvalid, name))
		}
		if e.ID != "" && ids[e.ID] {
			errs = append(errs, fmt.Errorf("%w: id %s", ErrDuplicateEntry, e.ID))
		}
		if e.Aqara.SubjectID != "" && subjects[e.Aqara.SubjectID] {
			errs = append(errs, fmt.Errorf("%w: subject %s", ErrDuplicateEntry, e.Aqara.SubjectID))
		}
		ids[e.ID] = true
		subjects[e.Aqara.SubjectID] = true
	}
	if c.Poll.Interval <= 0 {
		errs = append(errs, fmt.Errorf("%w: poll.interval must be positive", ErrInvalid))
	}
	if c.MQTT.Enabled && c.MQTT.Broker == "" {
		errs = append(errs, fmt.Errorf("%w: mqtt.broker is required when mqtt is enabled", ErrInvalid))
	}
	return errors.Join(errs...)
}

// Entry returns the entry with id.
func (c *Config) Entry(id string) (*EntryConfig, error) {
	for i := range c.Entries {
		if c.Entries[i].ID == id {
			return &c.Entries[i], nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrNoEntry, id)
}

// UpsertEntry adds e or replaces the entry with the same id.
func (c *Config) UpsertEntry(e EntryConfig) {
	for i := range c.Entries {
		if c.Entries[i].ID == e.ID {
			c.Entries[i] = e
			return
		}
	}
	c.Entries = append(c.Entries, e)
}

// CleanMapping drops entries with an empty key or value.
func CleanMapping(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		k, v = strings.TrimSpace(k), strings.TrimSpace(v)
		if k != "" && v != "" {
			out[k] = v
		}
	}
	return out
}

// File is a config file shared by the components that edit it. It keeps
// the file contents apart from the environment overrides so that saving
// never persists values that only exist in the environment.
type File struct {
	path   string
	mu     sync.Mutex
	stored Config
	cfg    Config
}

// NewFile wraps the contents of the file at path. cfg must not carry
// environment overrides.
func NewFile(path string, cfg Config) *File {
	return &File{path: path, stored: cfg, cfg: withEnv(cfg)}
}

// Path returns the file location.
func (f *File) Path() string {
	return f.path
}

// Config returns the effective configuration, environment overrides
// included.
func (f *File) Config() Config {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cfg
}

// Update applies fn to a copy of the file contents and saves it. Nothing
// changes when fn or the write fails. fn must replace maps, not mutate
// them.
func (f *File) Update(fn func(*Config) error) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	next := f.stored
	next.Entries = append([]EntryConfig(nil), f.stored.Entries...)
	if err := fn(&next); err != nil {
		return err
	}
	if err := Save(f.path, next); err != nil {
		return err
	}
	f.stored = next
	f.cfg = withEnv(next)
	return nil
}

func withEnv(cfg Config) Config {
	applyEnv(&cfg)
	return cfg
}

// applyEnv overlays environment variables on top of the config.
// Env vars take precedence over YAML values.
func applyEnv(cfg *Config) {
	if v := os.Getenv("AQARA_HTTP_ADDR"); v != "" {
		cfg.HTTP.Addr = v
	}
	if v := os.Getenv("AQARA_CORS_ALLOW_ALL"); v != "" {
		cfg.HTTP.CORSAll = parseBool(v)
	}
	if v := os.Getenv("AQARA_POLL_INTERVAL"); v != "" {
		applyDuration(&cfg.Poll.Interval, v)
	}
	if v := os.Getenv("AQARA_FACE_REFRESH"); v != "" {
		applyDuration(&cfg.Poll.FaceRefresh, v)
	}
	if v := os.Getenv("AQARA_REQUEST_TIMEOUT"); v != "" {
		applyDuration(&cfg.Poll.RequestTimeout, v)
	}
	if v := os.Getenv("AQARA_MQTT_ENABLED"); v != "" {
		cfg.MQTT.Enabled = parseBool(v)
	}
	if v := os.Getenv("AQARA_MQTT_BROKER"); v != "" {
		cfg.MQTT.Broker = v
	}
	if v := os.Getenv("AQARA_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Username = v
	}
	if v := os.Getenv("AQARA_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Password = v
	}
	if v := os.Getenv("AQARA_MQTT_TOPIC_PREFIX"); v != "" {
		cfg.MQTT.TopicPrefix = v
	}
	if v := os.Getenv("AQARA_MQTT_DISCOVERY_PREFIX"); v != "" {
		cfg.MQTT.DiscoveryPrefix = v
	}
	if v := os.Getenv("AQARA_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("AQARA_LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
}

func applyDuration(dst *time.Duration, s string) {
	if d, err := time.ParseDuration(strings.TrimSpace(s)); err == nil && d > 0 {
		*dst = d
	}
}

func parseBool(s string) bool {
	s = strings.ToLower(strings.TrimSpace(s))
	b, _ := strconv.ParseBool(s)
	return b
}
