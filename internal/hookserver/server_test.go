package hookserver

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/discode/bridge/internal/messaging"
	"github.com/discode/bridge/internal/pending"
	"github.com/discode/bridge/internal/runtime"
	"github.com/discode/bridge/internal/state"
)

type noopRuntime struct{}

func (noopRuntime) GetOrCreateSession(ctx context.Context, projectName, firstWindow string) (string, error) {
	return projectName, nil
}
func (noopRuntime) SetSessionEnv(ctx context.Context, session, key, value string) error { return nil }
func (noopRuntime) WindowExists(ctx context.Context, session, window string) bool       { return true }
func (noopRuntime) StartAgentInWindow(ctx context.Context, session, window, shellCommand string) error {
	return nil
}
func (noopRuntime) TypeKeysToWindow(ctx context.Context, session, window, text, agentHint string) error {
	return nil
}
func (noopRuntime) SendEnterToWindow(ctx context.Context, session, window, agentHint string) error {
	return nil
}
func (noopRuntime) SendKeysToWindow(ctx context.Context, session, window, text string) error {
	return nil
}
func (noopRuntime) GetWindowBuffer(ctx context.Context, session, window string) (string, error) {
	return "", nil
}
func (noopRuntime) GetWindowFrame(ctx context.Context, session, window string, cols, rows int) (*runtime.StyledFrame, error) {
	return nil, nil
}
func (noopRuntime) ResizeWindow(ctx context.Context, session, window string, cols, rows int) error {
	return nil
}
func (noopRuntime) StopWindow(ctx context.Context, session, window string, sig runtime.Signal) (bool, error) {
	return true, nil
}
func (noopRuntime) ListWindows(ctx context.Context, session string) ([]runtime.WindowSnapshot, error) {
	return []runtime.WindowSnapshot{{Session: "bridge", Window: "claude", Alive: true}}, nil
}
func (noopRuntime) Dispose(ctx context.Context, sig runtime.Signal) error { return nil }

var _ runtime.Runtime = noopRuntime{}

type noopFallback struct{ cancelled []string }

func (f *noopFallback) Cancel(projectName, instanceID string) {
	f.cancelled = append(f.cancelled, projectName+":"+instanceID)
}

func newTestServer(t *testing.T) (*Server, *state.Store, *messaging.Fake, string) {
	t.Helper()
	dir := t.TempDir()
	st, err := state.New(filepath.Join(dir, "state.json"))
	require.NoError(t, err)

	projectPath := t.TempDir()
	require.NoError(t, st.SetProject(&state.Project{
		ProjectName: "demo",
		ProjectPath: projectPath,
		SessionName: "bridge",
		Instances: map[string]*state.Instance{
			"claude": {InstanceID: "claude", AgentType: "claude", WindowName: "claude", ChannelID: "ch-1"},
		},
	}))

	fake := messaging.NewFake()
	tracker := pending.New(fake)
	srv := New("127.0.0.1:0", st, fake, noopRuntime{}, tracker, &noopFallback{}, nil)
	return srv, st, fake, projectPath
}

func post(t *testing.T, srv *Server, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	srv.engine.ServeHTTP(rec, req)
	return rec
}

func TestHandleEvent_SessionIdleSendsTextAndResolvesPending(t *testing.T) {
	srv, _, fake, _ := newTestServer(t)
	key := pending.Key{ProjectName: "demo", InstanceKey: "claude"}
	srv.pending.MarkPending(context.Background(), key, "ch-1", "m1", "")

	rec := post(t, srv, "/opencode-event", map[string]interface{}{
		"projectName": "demo", "agentType": "claude", "type": "session.idle", "text": "Hi!",
	})

	assert.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, fake.Sent, 1)
	assert.Equal(t, "Hi!", fake.Sent[0].Text)
	assert.False(t, srv.pending.HasPending(key))
}

func TestHandleEvent_MissingProjectNameIsBadRequest(t *testing.T) {
	srv, _, _, _ := newTestServer(t)
	rec := post(t, srv, "/opencode-event", map[string]interface{}{"type": "session.idle"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleEvent_UnknownInstanceIsBadRequest(t *testing.T) {
	srv, _, _, _ := newTestServer(t)
	rec := post(t, srv, "/opencode-event", map[string]interface{}{
		"projectName": "demo", "agentType": "gemini", "type": "session.idle", "text": "hi",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleEvent_SessionErrorSendsWarningAndErrorReaction(t *testing.T) {
	srv, _, fake, _ := newTestServer(t)
	key := pending.Key{ProjectName: "demo", InstanceKey: "claude"}
	srv.pending.MarkPending(context.Background(), key, "ch-1", "m1", "")

	rec := post(t, srv, "/opencode-event", map[string]interface{}{
		"projectName": "demo", "agentType": "claude", "type": "session.error",
	})

	assert.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, fake.Sent, 1)
	assert.Contains(t, fake.Sent[0].Text, "session error")
	react, ok := fake.LastReactionFor("m1")
	require.True(t, ok)
	assert.Equal(t, "❌", react.Emoji)
}

func TestHandleEvent_FileRoutingSplitsTextAndFiles(t *testing.T) {
	srv, _, fake, projectPath := newTestServer(t)

	rec := post(t, srv, "/opencode-event", map[string]interface{}{
		"projectName": "demo", "agentType": "claude", "type": "session.idle",
		"text":     "done see " + projectPath + "/out.png",
		"turnText": "I saved " + projectPath + "/out.png",
	})

	assert.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, fake.Sent, 2)
	assert.NotContains(t, fake.Sent[0].Text, projectPath)
	require.Len(t, fake.Sent[1].Files, 1)
	assert.Equal(t, projectPath+"/out.png", fake.Sent[1].Files[0].Path)
}

func TestHandleReload_InvokesCallback(t *testing.T) {
	dir := t.TempDir()
	st, err := state.New(filepath.Join(dir, "state.json"))
	require.NoError(t, err)
	fake := messaging.NewFake()
	tracker := pending.New(fake)

	called := false
	srv := New("127.0.0.1:0", st, fake, noopRuntime{}, tracker, &noopFallback{}, func() error {
		called = true
		return nil
	})

	rec := post(t, srv, "/reload", map[string]interface{}{})
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, called)
}

func TestHandleWindows_ReturnsList(t *testing.T) {
	srv, _, _, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/windows", nil)
	rec := httptest.NewRecorder()
	srv.engine.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "claude")
}

func TestExtractAndStripFilePaths(t *testing.T) {
	root := "/u/p"
	text := "done see /u/p/out.png"
	paths := extractFilePaths(text, root)
	require.Equal(t, []string{"/u/p/out.png"}, paths)

	stripped := stripFilePaths(text, paths)
	assert.NotContains(t, stripped, "/u/p/out.png")
}

func TestNonPostMethodIs405(t *testing.T) {
	srv, _, _, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/opencode-event", nil)
	rec := httptest.NewRecorder()
	srv.engine.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestUnknownPathIs404(t *testing.T) {
	srv, _, _, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodPost, "/nope", nil)
	rec := httptest.NewRecorder()
	srv.engine.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
