// Package auth implements the Aqara account flow used during setup: signed
// login with an encrypted password and discovery of the account's camera
// subjects.
package auth

import (
	"context"
	"crypto/rsa"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/trymwestin/aqara/internal/core/normalize"
	"github.com/trymwestin/aqara/internal/core/transport"
)

const (
	loginPath   = "/lumi/user/login"
	devicesPath = "/lumi/app/position/device/query"

	phoneModel = "aqarad"
	userAgent  = "aqarad/1.0.0"
	appVersion = "3.0.0"

	// LoginTimeout bounds each account request.
	LoginTimeout = 15 * time.Second
)

// ErrNotLoggedIn is returned by ListDevices before a successful Login.
var ErrNotLoggedIn = errors.New("auth: not logged in")

// Credentials is the session produced by a successful login. It is never
// mutated; re-authenticating yields a new value.
type Credentials struct {
	Token    string `json:"token" yaml:"token"`
	UserID   string `json:"userid" yaml:"userid"`
	AppID    string `json:"appid" yaml:"appid"`
	AqaraURL string `json:"aqara_url" yaml:"aqara_url"`
}

// AccountClient authenticates an Aqara account against a regional server.
type AccountClient struct {
	area   string
	region Region
	pub    *rsa.PublicKey
	http   transport.Doer
	log    *slog.Logger

	now     func() time.Time
	newUUID func() string

	mu     sync.Mutex
	token  string
	userID string
}

type clientOptions struct {
	regions Regions
	server  string
	doer    transport.Doer
	now     func() time.Time
	newUUID func() string
}

// Option customizes an AccountClient.
type Option func(*clientOptions)

// WithRegions replaces the area table.
func WithRegions(r Regions) Option {
	return func(o *clientOptions) { o.regions = r }
}

// WithServer overrides the region's server URL, keeping its app id and key.
func WithServer(server string) Option {
	return func(o *clientOptions) { o.server = server }
}

// WithDoer sets the transport used for requests.
func WithDoer(d transport.Doer) Option {
	return func(o *clientOptions) { o.doer = d }
}

// WithClock sets the time source used for the Time header.
func WithClock(now func() time.Time) Option {
	return func(o *clientOptions) { o.now = now }
}

// WithUUIDSource sets the generator used for nonces and the phone id.
func WithUUIDSource(f func() string) Option {
	return func(o *clientOptions) { o.newUUID = f }
}

// NewAccountClient creates a client for area. Unknown areas use the
// OTHER region.
func NewAccountClient(area string, log *slog.Logger, opts ...Option) (*AccountClient, error) {
	o := clientOptions{
		regions: DefaultRegions(),
		now:     time.Now,
		newUUID: uuid.NewString,
	}
	for _, opt := range opts {
		opt(&o)
	}

	key, region := o.regions.Lookup(area)
	if o.server != "" {
		region.Server = o.server
	}
	if region.Server == "" {
		return nil, fmt.Errorf("auth: no server configured for area %q", key)
	}

	pub, err := ParsePublicKey(vendorPublicKey)
	if err != nil {
		return nil, err
	}

	doer := o.doer
	if doer == nil {
		doer = transport.NewClient(strings.TrimRight(region.Server, "/")+"/app/v1.0", LoginTimeout, log)
	}

	return &AccountClient{
		area:    key,
		region:  region,
		pub:     pub,
		http:    doer,
		log:     log,
		now:     o.now,
		newUUID: o.newUUID,
	}, nil
}

// Area returns the resolved area code.
func (c *AccountClient) Area() string {
	return c.area
}

// AppID returns the region's app id.
func (c *AccountClient) AppID() string {
	return c.region.AppID
}

// AqaraURL returns the region host without scheme.
func (c *AccountClient) AqaraURL() string {
	return c.region.Host()
}

type loginPayload struct {
	Account     string `json:"account"`
	EncryptType int    `json:"encryptType"`
	Password    string `json:"password"`
}

// Login authenticates username/password. Rejections wrap
// transport.ErrInvalidAuth; network and server failures wrap
// transport.ErrCannotConnect.
func (c *AccountClient) Login(ctx context.Context, username, password string) (Credentials, error) {
	encrypted, err := EncryptPassword(c.pub, password)
	if err != nil {
		return Credentials{}, err
	}
	body, err := transport.MarshalCompact(loginPayload{
		Account:     username,
		EncryptType: 2,
		Password:    encrypted,
	})
	if err != nil {
		return Credentials{}, fmt.Errorf("auth: encode login: %w", err)
	}

	headers := c.signedHeaders(string(body))
	headers["Content-Type"] = "application/json"

	resp, err := c.http.Do(ctx, transport.Request{
		Method:  http.MethodPost,
		Path:    loginPath,
		Body:    body,
		Headers: headers,
	})
	if err != nil {
		return Credentials{}, fmt.Errorf("auth: login: %w", err)
	}

	doc, err := resp.Decode()
	if err != nil {
		return Credentials{}, fmt.Errorf("auth: login: %w", err)
	}
	data, ok := doc.(map[string]any)
	if !ok {
		return Credentials{}, fmt.Errorf("auth: login: %w: unexpected response format", transport.ErrInvalidAuth)
	}
	if code, ok := normalize.String(data["code"]); !ok || code != "0" {
		msg, _ := normalize.String(data["message"])
		if msg == "" {
			msg = "unknown error"
		}
		if code == "" {
			code = "N/A"
		}
		return Credentials{}, fmt.Errorf("auth: login: %w: %s (code: %s)", transport.ErrInvalidAuth, msg, code)
	}

	result, _ := data["result"].(map[string]any)
	token, _ := normalize.String(result["token"])
	userID, _ := normalize.String(result["userId"])
	if token == "" || userID == "" {
		return Credentials{}, fmt.Errorf("auth: login: %w: missing token or userId", transport.ErrInvalidAuth)
	}

	c.mu.Lock()
	c.token = token
	c.userID = userID
	c.mu.Unlock()

	c.log.Info("aqara login succeeded", "area", c.area, "userid", userID)

	return Credentials{
		Token:    token,
		UserID:   userID,
		AppID:    c.region.AppID,
		AqaraURL: c.region.Host(),
	}, nil
}

// ListDevices returns the camera subjects on the logged-in account. An
// unrecognized response layout yields an empty slice.
func (c *AccountClient) ListDevices(ctx context.Context) ([]Device, error) {
	c.mu.Lock()
	loggedIn := c.token != ""
	c.mu.Unlock()
	if !loggedIn {
		return nil, ErrNotLoggedIn
	}

	// The query is empty, so the signed body is the empty string.
	resp, err := c.http.Do(ctx, transport.Request{
		Method:  http.MethodGet,
		Path:    devicesPath,
		Headers: c.signedHeaders(""),
	})
	if err != nil {
		return nil, fmt.Errorf("auth: list devices: %w", err)
	}
	doc, err := resp.Decode()
	if err != nil {
		return nil, fmt.Errorf("auth: list devices: %w", err)
	}

	devices := Descriptors(ExtractDeviceList(doc))
	c.log.Debug("device list fetched", "count", len(devices))
	return devices, nil
}

// signedHeaders builds the header set for one request. The app key and the
// raw body only feed the signature; they are never sent.
func (c *AccountClient) signedHeaders(body string) map[string]string {
	c.mu.Lock()
	token := c.token
	c.mu.Unlock()

	nonce := md5Hex(c.newUUID())
	ts := strconv.FormatInt(c.now().UnixMilli(), 10)

	h := map[string]string{
		"Area":        c.area,
		"Appid":       c.region.AppID,
		"Nonce":       nonce,
		"Time":        ts,
		"Sys-Type":    "1",
		"Lang":        "en",
		"Phone-Model": phoneModel,
		"PhoneId":     strings.ToUpper(c.newUUID()),
		"App-Version": appVersion,
		"User-Agent":  userAgent,
	}
	if token != "" {
		h["Token"] = token
	}
	h["Sign"] = Sign(SignParams{
		AppID:  c.region.AppID,
		Nonce:  nonce,
		Time:   ts,
		Token:  token,
		Body:   body,
		AppKey: c.region.AppKey,
	})
	return h
}
