package resource

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trymwestin/aqara/internal/core/transport"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestClient(t *testing.T, handler http.HandlerFunc, subject string) *Client {
	t.Helper()
	ts := httptest.NewServer(handler)
	t.Cleanup(ts.Close)
	return New(Config{
		AqaraURL:  ts.URL,
		Token:     "tok",
		AppID:     "app",
		UserID:    "user",
		SubjectID: subject,
		Timeout:   time.Second,
	}, nil, testLogger())
}

func TestBaseURL(t *testing.T) {
	assert.Equal(t, "https://open-cn.aqara.com/app/v1.0", BaseURL("open-cn.aqara.com"))
	assert.Equal(t, "http://127.0.0.1:8080/app/v1.0", BaseURL("http://127.0.0.1:8080/"))
}

func TestGetDeviceStatus_RequestShape(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/app/v1.0/lumi/res/query", r.URL.Path)
		assert.Equal(t, "tok", r.Header.Get("Token"))
		assert.Equal(t, "app", r.Header.Get("Appid"))
		assert.Equal(t, "user", r.Header.Get("Userid"))
		assert.Equal(t, "1", r.Header.Get("Sys-Type"))
		assert.Empty(t, r.Header.Get("Authorization"))

		var body struct {
			Data []struct {
				Options   []string `json:"options"`
				SubjectID string   `json:"subjectId"`
			} `json:"data"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Len(t, body.Data, 1)
		assert.Equal(t, "lumi.cam", body.Data[0].SubjectID)
		assert.Contains(t, body.Data[0].Options, "mdtrigger_enable")
		assert.Contains(t, body.Data[0].Options, "set_video")

		w.Write([]byte(`{"code":0,"result":[]}`))
	}, "lumi.cam")

	doc, err := c.GetDeviceStatus(context.Background())
	require.NoError(t, err)
	assert.Equal(t, json.Number("0"), doc.(map[string]any)["code"])
}

func TestSetVideo(t *testing.T) {
	var got map[string]any
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/app/v1.0/lumi/res/write", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Write([]byte(`{"code":0}`))
	}, "lumi.cam")

	_, err := c.SetVideo(context.Background(), true)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"set_video": float64(1)}, got["data"])
	assert.Equal(t, "lumi.cam", got["subjectId"])

	_, err = c.SetVideo(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"set_video": float64(0)}, got["data"])
}

func TestGetFaceInfoAndHistory(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/app/v1.0/lumi/devex/face/info":
			assert.Equal(t, http.MethodGet, r.Method)
			assert.Equal(t, "lumi.cam", r.URL.Query().Get("did"))
			w.Write([]byte(`{"result":{"faceList":[]}}`))
		case "/app/v1.0/lumi/res/history/log":
			var body map[string]any
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.Equal(t, []any{"13.95.85"}, body["resourceIds"])
			assert.Equal(t, "1", body["size"])
			assert.Equal(t, "", body["scanId"])
			assert.Equal(t, float64(1514736000000), body["startTime"])
			w.Write([]byte(`{"result":{"data":[]}}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}, "lumi.cam")

	_, err := c.GetFaceInfo(context.Background())
	require.NoError(t, err)
	_, err = c.GetLastFaceEvent(context.Background())
	require.NoError(t, err)
}

func TestSubjectRequired(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}, "")

	ctx := context.Background()
	_, err := c.SetVideo(ctx, true)
	require.ErrorIs(t, err, ErrNoSubject)
	_, err = c.GetFaceInfo(ctx)
	require.ErrorIs(t, err, ErrNoSubject)
	_, err = c.GetLastFaceEvent(ctx)
	require.ErrorIs(t, err, ErrNoSubject)
	assert.Zero(t, calls.Load())
}

func TestErrorKinds(t *testing.T) {
	var status atomic.Int32
	status.Store(http.StatusUnauthorized)
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		code := int(status.Load())
		w.WriteHeader(code)
		if code == http.StatusOK {
			w.Write([]byte("not json"))
		}
	}, "lumi.cam")

	ctx := context.Background()
	_, err := c.GetDeviceStatus(ctx)
	require.ErrorIs(t, err, transport.ErrInvalidAuth)

	status.Store(http.StatusInternalServerError)
	_, err = c.GetDeviceStatus(ctx)
	require.ErrorIs(t, err, transport.ErrCannotConnect)

	status.Store(http.StatusOK)
	_, err = c.GetDeviceStatus(ctx)
	require.ErrorIs(t, err, transport.ErrCannotConnect)
}
