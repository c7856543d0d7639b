// Package setup implements the interactive onboarding of a camera: log in,
// list the account's devices and build the configuration entry for the
// chosen subject.
package setup

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/trymwestin/aqara/internal/config"
	"github.com/trymwestin/aqara/internal/core/auth"
	"github.com/trymwestin/aqara/internal/core/transport"
)

// Error codes shown to the operator.
const (
	CodeCannotConnect = "cannot_connect"
	CodeInvalidAuth   = "invalid_auth"
	CodeNoDevices     = "no_devices"
	CodeUnknown       = "unknown"
)

var (
	// ErrNoDevices means the account has no camera that can be selected.
	ErrNoDevices = errors.New("setup: no devices found on account")
	// ErrAlreadyConfigured means the subject already has an entry.
	ErrAlreadyConfigured = errors.New("setup: device already configured")
	// ErrUnknownDevice means the chosen subject is not on the account.
	ErrUnknownDevice = errors.New("setup: device not on account")
)

// Account is the account-side client used during setup.
// *auth.AccountClient implements it.
type Account interface {
	Area() string
	Login(ctx context.Context, username, password string) (auth.Credentials, error)
	ListDevices(ctx context.Context) ([]auth.Device, error)
}

var _ Account = (*auth.AccountClient)(nil)

// Result is a validated login and the devices it can see.
type Result struct {
	Area        string
	Credentials auth.Credentials
	Devices     []auth.Device
}

// Validate logs in and lists devices. Errors keep their transport kind so
// ErrorCode can classify them.
func Validate(ctx context.Context, account Account, username, password string, log *slog.Logger) (Result, error) {
	creds, err := account.Login(ctx, username, password)
	if err != nil {
		logFailure(log, "login", err)
		return Result{}, err
	}
	devices, err := account.ListDevices(ctx)
	if err != nil {
		logFailure(log, "list devices", err)
		return Result{}, err
	}
	if len(devices) == 0 {
		log.Warn("setup: account has no devices")
		return Result{Area: account.Area(), Credentials: creds}, ErrNoDevices
	}
	return Result{Area: account.Area(), Credentials: creds, Devices: devices}, nil
}

func logFailure(log *slog.Logger, op string, err error) {
	switch {
	case errors.Is(err, transport.ErrInvalidAuth):
		log.Error("setup: invalid authentication", "op", op, "error", err)
	case errors.Is(err, transport.ErrCannotConnect):
		log.Error("setup: cannot connect to Aqara API", "op", op, "error", err)
	default:
		log.Error("setup: unexpected error", "op", op, "error", err)
	}
}

// ErrorCode maps a setup error to its operator-facing code. Nil maps to
// the empty string.
func ErrorCode(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, transport.ErrInvalidAuth):
		return CodeInvalidAuth
	case errors.Is(err, transport.ErrCannotConnect):
		return CodeCannotConnect
	case errors.Is(err, ErrNoDevices):
		return CodeNoDevices
	}
	return CodeUnknown
}

// Title is the entry title for a subject.
func Title(subjectID string) string {
	return fmt.Sprintf("Aqara Camera G3 (%s)", subjectID)
}

// NewEntry builds the configuration entry for subjectID from a validated
// result. A subject already present in existing is refused. An empty
// entryID gets a generated one.
func NewEntry(res Result, subjectID, entryID string, existing []config.EntryConfig) (config.EntryConfig, error) {
	subjectID = strings.TrimSpace(subjectID)
	if subjectID == "" {
		return config.EntryConfig{}, fmt.Errorf("%w: empty subject id", ErrUnknownDevice)
	}
	if len(res.Devices) > 0 && !hasDevice(res.Devices, subjectID) {
		return config.EntryConfig{}, fmt.Errorf("%w: %s", ErrUnknownDevice, subjectID)
	}
	for _, e := range existing {
		if e.Aqara.SubjectID == subjectID {
			return config.EntryConfig{}, fmt.Errorf("%w: %s (entry %s)", ErrAlreadyConfigured, subjectID, e.ID)
		}
	}
	if entryID == "" {
		entryID = uuid.NewString()
	}

	return config.EntryConfig{
		ID:    entryID,
		Title: Title(subjectID),
		Area:  res.Area,
		Aqara: config.AqaraConfig{
			AqaraURL:  res.Credentials.AqaraURL,
			Token:     res.Credentials.Token,
			AppID:     res.Credentials.AppID,
			UserID:    res.Credentials.UserID,
			SubjectID: subjectID,
		},
	}, nil
}

func hasDevice(devices []auth.Device, subjectID string) bool {
	for _, d := range devices {
		if d.SubjectID == subjectID {
			return true
		}
	}
	return false
}
