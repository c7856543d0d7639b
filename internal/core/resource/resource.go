// Package resource is the steady-state Aqara cloud client. It uses the
// long-lived token produced at setup rather than the signed account
// scheme.
package resource

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/trymwestin/aqara/internal/core/transport"
)

const (
	queryPath   = "/lumi/res/query"
	writePath   = "/lumi/res/write"
	faceInfo    = "/lumi/devex/face/info"
	historyPath = "/lumi/res/history/log"

	// faceEventResource is the history resource carrying face recognitions.
	faceEventResource = "13.95.85"
	// historyStart is the earliest history timestamp the API accepts.
	historyStart int64 = 1514736000000
)

// ErrNoSubject is returned by calls that need a subject id when none is
// configured. No request is made.
var ErrNoSubject = errors.New("resource: subject id is required")

// StatusOptions are the resource attributes requested on every poll.
var StatusOptions = []string{
	"ptz_cruise_enable",
	"pets_track_enable",
	"humans_track_enable",
	"gesture_detect_enable",
	"mdtrigger_enable",
	"soundtrigger_enable",
	"human_detect_enable",
	"face_detect_enable",
	"pets_detect_enable",
	"set_video",
	"sdcard_status",
	"alarm_status",
	"system_volume",
	"alarm_bell_index",
	"device_night_tip_light",
	"cloud_small_video",
	"alarm_bell_volume",
	"device_wifi_rssi",
	"gateway_deletion_setting",
}

// Config identifies one device on the cloud.
type Config struct {
	AqaraURL  string
	Token     string
	AppID     string
	UserID    string
	SubjectID string
	Timeout   time.Duration
}

// Client performs resource requests for a single subject.
type Client struct {
	cfg  Config
	http transport.Doer
	log  *slog.Logger
}

// BaseURL returns the API root for an aqara_url value. A bare host gets
// https; an explicit scheme is kept.
func BaseURL(aqaraURL string) string {
	host := strings.TrimRight(strings.TrimSpace(aqaraURL), "/")
	if !strings.HasPrefix(host, "http://") && !strings.HasPrefix(host, "https://") {
		host = "https://" + host
	}
	return host + "/app/v1.0"
}

// New creates a resource client. A nil doer builds a transport.Client for
// cfg.AqaraURL.
func New(cfg Config, doer transport.Doer, log *slog.Logger) *Client {
	if doer == nil {
		doer = transport.NewClient(BaseURL(cfg.AqaraURL), cfg.Timeout, log)
	}
	return &Client{cfg: cfg, http: doer, log: log}
}

// SubjectID returns the configured subject.
func (c *Client) SubjectID() string {
	return c.cfg.SubjectID
}

func (c *Client) headers() map[string]string {
	h := map[string]string{
		"Token":        c.cfg.Token,
		"Appid":        c.cfg.AppID,
		"Content-Type": "application/json; charset=utf-8",
		"Sys-Type":     "1",
	}
	if c.cfg.UserID != "" {
		h["Userid"] = c.cfg.UserID
	}
	return h
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, payload any) (any, error) {
	req := transport.Request{
		Method:  method,
		Path:    path,
		Query:   query,
		Headers: c.headers(),
	}
	if payload != nil {
		body, err := transport.MarshalCompact(payload)
		if err != nil {
			return nil, fmt.Errorf("resource: encode %s: %w", path, err)
		}
		req.Body = body
	}

	resp, err := c.http.Do(ctx, req)
	if err != nil {
		if errors.Is(err, transport.ErrInvalidAuth) {
			c.log.Error("aqara rejected token", "path", path, "subject_id", c.cfg.SubjectID, "error", err)
		}
		return nil, fmt.Errorf("resource: %s: %w", path, err)
	}
	doc, err := resp.Decode()
	if err != nil {
		return nil, fmt.Errorf("resource: %s: %w", path, err)
	}
	return doc, nil
}

type statusQuery struct {
	Data []statusQueryItem `json:"data"`
}

type statusQueryItem struct {
	Options   []string `json:"options"`
	SubjectID *string  `json:"subjectId"`
}

// GetDeviceStatus queries the StatusOptions attributes.
func (c *Client) GetDeviceStatus(ctx context.Context) (any, error) {
	item := statusQueryItem{Options: StatusOptions}
	if c.cfg.SubjectID != "" {
		subject := c.cfg.SubjectID
		item.SubjectID = &subject
	}
	return c.do(ctx, http.MethodPost, queryPath, nil, statusQuery{Data: []statusQueryItem{item}})
}

type videoWrite struct {
	Data      videoData `json:"data"`
	SubjectID string    `json:"subjectId"`
}

type videoData struct {
	SetVideo int `json:"set_video"`
}

// SetVideo turns the camera video on or off.
func (c *Client) SetVideo(ctx context.Context, enabled bool) (any, error) {
	if c.cfg.SubjectID == "" {
		return nil, fmt.Errorf("set video: %w", ErrNoSubject)
	}
	v := 0
	if enabled {
		v = 1
	}
	return c.do(ctx, http.MethodPost, writePath, nil, videoWrite{
		Data:      videoData{SetVideo: v},
		SubjectID: c.cfg.SubjectID,
	})
}

// GetFaceInfo lists the face profiles known to the camera.
func (c *Client) GetFaceInfo(ctx context.Context) (any, error) {
	if c.cfg.SubjectID == "" {
		return nil, fmt.Errorf("face info: %w", ErrNoSubject)
	}
	return c.do(ctx, http.MethodGet, faceInfo, url.Values{"did": {c.cfg.SubjectID}}, nil)
}

type historyQuery struct {
	ResourceIDs []string `json:"resourceIds"`
	ScanID      string   `json:"scanId"`
	Size        string   `json:"size"`
	StartTime   int64    `json:"startTime"`
	SubjectID   string   `json:"subjectId"`
}

// GetLastFaceEvent fetches the most recent face-recognition history entry.
func (c *Client) GetLastFaceEvent(ctx context.Context) (any, error) {
	if c.cfg.SubjectID == "" {
		return nil, fmt.Errorf("history log: %w", ErrNoSubject)
	}
	return c.do(ctx, http.MethodPost, historyPath, nil, historyQuery{
		ResourceIDs: []string{faceEventResource},
		Size:        "1",
		StartTime:   historyStart,
		SubjectID:   c.cfg.SubjectID,
	})
}
