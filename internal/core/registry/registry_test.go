package registry

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/trymwestin/aqara/internal/core/coordinator"
	"github.com/trymwestin/aqara/internal/core/coordinator/mocks"
	"github.com/trymwestin/aqara/internal/core/state"
	"github.com/trymwestin/aqara/internal/core/transport"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type recordingNotifier struct {
	titles   []string
	messages []string
	err      error
}

func (n *recordingNotifier) Notify(_ context.Context, title, message string) error {
	n.titles = append(n.titles, title)
	n.messages = append(n.messages, message)
	return n.err
}

func newEntry(t *testing.T, id string, api coordinator.API) *Entry {
	t.Helper()
	store := state.NewStore(state.NewEventBus(testLogger()), testLogger())
	return &Entry{
		ID:          id,
		Title:       "Aqara Camera G3 (" + id + ")",
		SubjectID:   "lumi." + id,
		Coordinator: coordinator.New(id, api, store, testLogger()),
	}
}

func TestRegistry_RegisterGetResolve(t *testing.T) {
	r := New(nil, testLogger())

	_, err := r.Resolve("")
	require.ErrorIs(t, err, ErrNoEntry)

	a := newEntry(t, "a", nil)
	require.NoError(t, r.Register(a))
	require.ErrorIs(t, r.Register(a), ErrDuplicateID)

	got, err := r.Resolve("")
	require.NoError(t, err)
	assert.Same(t, a, got)

	b := newEntry(t, "b", nil)
	require.NoError(t, r.Register(b))
	_, err = r.Resolve("")
	require.ErrorIs(t, err, ErrNoEntry)

	got, err = r.Resolve("b")
	require.NoError(t, err)
	assert.Same(t, b, got)

	_, err = r.Get("missing")
	require.ErrorIs(t, err, ErrNotFound)

	assert.Equal(t, []*Entry{a, b}, r.List())

	r.Remove("a")
	got, err = r.Resolve("")
	require.NoError(t, err)
	assert.Same(t, b, got)
}

func TestFormatFaceList(t *testing.T) {
	assert.Equal(t, "No faces found from Aqara API.", FormatFaceList(nil))
	assert.Equal(t,
		"Face list:\nAlice → 12\nAlice → f-12\nBob → 3",
		FormatFaceList(map[string]string{"3": "Bob", "f-12": "Alice", "12": "Alice"}))
}

func TestRefreshFaceList_SoleEntry(t *testing.T) {
	ctrl := gomock.NewController(t)
	api := mocks.NewMockAPI(ctrl)
	api.EXPECT().GetFaceInfo(gomock.Any()).
		Return(map[string]any{"result": map[string]any{"faceList": []any{
			map[string]any{"faceId": "1", "name": "Alice"},
		}}}, nil).Times(2)

	n := &recordingNotifier{}
	r := New(n, testLogger())
	require.NoError(t, r.Register(newEntry(t, "only", api)))

	msg, err := r.RefreshFaceList(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, "Face list:\nAlice → 1", msg)

	// Forced: the second call fetches again even though the map is fresh.
	_, err = r.RefreshFaceList(context.Background(), "only")
	require.NoError(t, err)

	assert.Equal(t, []string{FaceListTitle, FaceListTitle}, n.titles)
	assert.Equal(t, "Face list:\nAlice → 1", n.messages[0])
}

func TestRefreshFaceList_Errors(t *testing.T) {
	ctrl := gomock.NewController(t)
	api := mocks.NewMockAPI(ctrl)
	api.EXPECT().GetFaceInfo(gomock.Any()).Return(nil, transport.ErrCannotConnect)

	n := &recordingNotifier{}
	r := New(n, testLogger())

	_, err := r.RefreshFaceList(context.Background(), "")
	require.ErrorIs(t, err, ErrNoEntry)

	require.NoError(t, r.Register(&Entry{ID: "bare"}))
	_, err = r.RefreshFaceList(context.Background(), "bare")
	require.ErrorIs(t, err, ErrNoCoordinator)
	assert.Empty(t, n.messages)

	require.NoError(t, r.Register(newEntry(t, "down", api)))
	msg, err := r.RefreshFaceList(context.Background(), "down")
	require.NoError(t, err)
	assert.Equal(t, "No faces found from Aqara API.", msg)
}

func TestNotifiers_JoinsErrors(t *testing.T) {
	boom := errors.New("boom")
	ok := &recordingNotifier{}
	bad := &recordingNotifier{err: boom}

	err := Notifiers{bad, ok}.Notify(context.Background(), "t", "m")
	require.ErrorIs(t, err, boom)
	assert.Equal(t, []string{"m"}, ok.messages)
}
