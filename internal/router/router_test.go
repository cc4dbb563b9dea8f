package router

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/discode/bridge/internal/messaging"
	"github.com/discode/bridge/internal/pending"
	"github.com/discode/bridge/internal/runtime"
	"github.com/discode/bridge/internal/state"
)

// fakeRuntime records every call the router makes, optionally failing the
// next TypeKeysToWindow/SendEnterToWindow call with a given error.
type fakeRuntime struct {
	mu       sync.Mutex
	typed    []string
	enters   int
	typeErr  error
	enterErr error
}

func (f *fakeRuntime) GetOrCreateSession(ctx context.Context, projectName, firstWindow string) (string, error) {
	return projectName, nil
}
func (f *fakeRuntime) SetSessionEnv(ctx context.Context, session, key, value string) error { return nil }
func (f *fakeRuntime) WindowExists(ctx context.Context, session, window string) bool       { return true }
func (f *fakeRuntime) StartAgentInWindow(ctx context.Context, session, window, shellCommand string) error {
	return nil
}
func (f *fakeRuntime) TypeKeysToWindow(ctx context.Context, session, window, text, agentHint string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.typeErr != nil {
		return f.typeErr
	}
	f.typed = append(f.typed, text)
	return nil
}
func (f *fakeRuntime) SendEnterToWindow(ctx context.Context, session, window, agentHint string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.enterErr != nil {
		return f.enterErr
	}
	f.enters++
	return nil
}
func (f *fakeRuntime) SendKeysToWindow(ctx context.Context, session, window, text string) error {
	return nil
}
func (f *fakeRuntime) GetWindowBuffer(ctx context.Context, session, window string) (string, error) {
	return "", nil
}
func (f *fakeRuntime) GetWindowFrame(ctx context.Context, session, window string, cols, rows int) (*runtime.StyledFrame, error) {
	return nil, nil
}
func (f *fakeRuntime) ResizeWindow(ctx context.Context, session, window string, cols, rows int) error {
	return nil
}
func (f *fakeRuntime) StopWindow(ctx context.Context, session, window string, sig runtime.Signal) (bool, error) {
	return true, nil
}
func (f *fakeRuntime) ListWindows(ctx context.Context, session string) ([]runtime.WindowSnapshot, error) {
	return nil, nil
}
func (f *fakeRuntime) Dispose(ctx context.Context, sig runtime.Signal) error { return nil }

var _ runtime.Runtime = (*fakeRuntime)(nil)

type fakeFallback struct {
	mu        sync.Mutex
	scheduled []string
}

func (f *fakeFallback) Schedule(projectName, instanceID, channelID, agentType, session, window string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scheduled = append(f.scheduled, projectName+":"+instanceID)
}

func newTestStore(t *testing.T) *state.Store {
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
	return st
}

func TestHandleInbound_SuccessfulSubmission(t *testing.T) {
	st := newTestStore(t)
	fake := messaging.NewFake()
	rt := &fakeRuntime{}
	tracker := pending.New(fake)
	fb := &fakeFallback{}
	r := New(st, fake, rt, tracker, fb, 5*time.Second)

	r.HandleInbound(context.Background(), messaging.InboundMessage{
		ProjectName: "demo", AgentType: "claude", Content: "hello",
		ChannelID: "ch-1", MessageID: "m1",
	})

	waitFor(t, func() bool {
		rt.mu.Lock()
		defer rt.mu.Unlock()
		return len(rt.typed) == 1
	})

	rt.mu.Lock()
	assert.Equal(t, []string{"hello"}, rt.typed)
	assert.Equal(t, 1, rt.enters)
	rt.mu.Unlock()

	key := pending.Key{ProjectName: "demo", InstanceKey: "claude"}
	assert.True(t, tracker.HasPending(key))

	fb.mu.Lock()
	assert.Contains(t, fb.scheduled, "demo:claude")
	fb.mu.Unlock()
}

func TestHandleInbound_UnknownProjectReplies(t *testing.T) {
	st := newTestStore(t)
	fake := messaging.NewFake()
	rt := &fakeRuntime{}
	tracker := pending.New(fake)
	r := New(st, fake, rt, tracker, &fakeFallback{}, 5*time.Second)

	r.HandleInbound(context.Background(), messaging.InboundMessage{
		ProjectName: "ghost", AgentType: "claude", Content: "hi", ChannelID: "ch-9", MessageID: "m1",
	})

	require.Len(t, fake.Sent, 1)
	assert.Contains(t, fake.Sent[0].Text, "ghost")
}

func TestHandleInbound_SessionMissingSetsErrorReaction(t *testing.T) {
	st := newTestStore(t)
	fake := messaging.NewFake()
	rt := &fakeRuntime{typeErr: fmt.Errorf("exec: can't find window claude")}
	tracker := pending.New(fake)
	r := New(st, fake, rt, tracker, &fakeFallback{}, 5*time.Second)

	r.HandleInbound(context.Background(), messaging.InboundMessage{
		ProjectName: "demo", AgentType: "claude", Content: "hi", ChannelID: "ch-1", MessageID: "m2",
	})

	waitFor(t, func() bool {
		_, ok := fake.LastReactionFor("m2")
		return ok
	})

	react, ok := fake.LastReactionFor("m2")
	require.True(t, ok)
	assert.Equal(t, "❌", react.Emoji)

	require.NotEmpty(t, fake.Sent)
	assert.Contains(t, fake.Sent[len(fake.Sent)-1].Text, "discode new --name demo")
}

func TestSanitizeContent(t *testing.T) {
	_, ok := sanitizeContent("")
	assert.False(t, ok)

	_, ok = sanitizeContent("   \n\t")
	assert.False(t, ok)

	big := make([]byte, 10_001)
	for i := range big {
		big[i] = 'a'
	}
	_, ok = sanitizeContent(string(big))
	assert.False(t, ok)

	out, ok := sanitizeContent("hello world")
	assert.True(t, ok)
	assert.Equal(t, "hello world", out)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met within timeout")
}
