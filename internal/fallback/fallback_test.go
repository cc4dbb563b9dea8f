package fallback

import (
	"context"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/discode/bridge/internal/messaging"
	"github.com/discode/bridge/internal/pending"
	"github.com/discode/bridge/internal/runtime"
)

type stubRuntime struct {
	mu     sync.Mutex
	buffer string
}

func (s *stubRuntime) set(buf string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.buffer = buf
}

func (s *stubRuntime) GetOrCreateSession(ctx context.Context, projectName, firstWindow string) (string, error) {
	return projectName, nil
}
func (s *stubRuntime) SetSessionEnv(ctx context.Context, session, key, value string) error { return nil }
func (s *stubRuntime) WindowExists(ctx context.Context, session, window string) bool       { return true }
func (s *stubRuntime) StartAgentInWindow(ctx context.Context, session, window, shellCommand string) error {
	return nil
}
func (s *stubRuntime) TypeKeysToWindow(ctx context.Context, session, window, text, agentHint string) error {
	return nil
}
func (s *stubRuntime) SendEnterToWindow(ctx context.Context, session, window, agentHint string) error {
	return nil
}
func (s *stubRuntime) SendKeysToWindow(ctx context.Context, session, window, text string) error {
	return nil
}
func (s *stubRuntime) GetWindowBuffer(ctx context.Context, session, window string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buffer, nil
}
func (s *stubRuntime) GetWindowFrame(ctx context.Context, session, window string, cols, rows int) (*runtime.StyledFrame, error) {
	return nil, nil
}
func (s *stubRuntime) ResizeWindow(ctx context.Context, session, window string, cols, rows int) error {
	return nil
}
func (s *stubRuntime) StopWindow(ctx context.Context, session, window string, sig runtime.Signal) (bool, error) {
	return true, nil
}
func (s *stubRuntime) ListWindows(ctx context.Context, session string) ([]runtime.WindowSnapshot, error) {
	return nil, nil
}
func (s *stubRuntime) Dispose(ctx context.Context, sig runtime.Signal) error { return nil }

var _ runtime.Runtime = (*stubRuntime)(nil)

func TestExtractLastPromptBlock_WithMarker(t *testing.T) {
	re := DefaultConfig()
	text := "$ build\n... compiling ...\n❯ done\n"
	block := ExtractLastPromptBlock(text, regexp.MustCompile(re.PromptPattern))
	assert.Equal(t, "❯ done", block)
}

func TestExtractLastPromptBlock_NoMarkerReturnsAll(t *testing.T) {
	text := "no prompt markers here\njust text"
	block := ExtractLastPromptBlock(text, regexp.MustCompile(DefaultConfig().PromptPattern))
	assert.Equal(t, text, block)
}

func TestScheduler_PublishesOnStableBuffer(t *testing.T) {
	rt := &stubRuntime{}
	rt.set("$ build\n... compiling ...\n❯ done\n")

	fake := messaging.NewFake()
	tracker := pending.New(fake)
	key := pending.Key{ProjectName: "demo", InstanceKey: "claude"}
	tracker.MarkPending(context.Background(), key, "ch-1", "m1", "")

	cfg := Config{InitialDelay: 10 * time.Millisecond, StableCheck: 10 * time.Millisecond, MaxChecks: 3, PromptPattern: `^❯\s`}
	sched := New(cfg, rt, tracker, fake)

	sched.Schedule("demo", "claude", "ch-1", "claude", "bridge", "claude")

	waitFor(t, func() bool { return !tracker.HasPending(key) })

	require.NotEmpty(t, fake.Sent)
	assert.Contains(t, fake.Sent[0].Text, "❯ done")
}

func TestScheduler_NoPendingSkipsPublish(t *testing.T) {
	rt := &stubRuntime{}
	rt.set("some output")
	fake := messaging.NewFake()
	tracker := pending.New(fake)

	cfg := Config{InitialDelay: 5 * time.Millisecond, StableCheck: 5 * time.Millisecond, MaxChecks: 3, PromptPattern: `^❯\s`}
	sched := New(cfg, rt, tracker, fake)
	sched.Schedule("demo", "claude", "ch-1", "claude", "bridge", "claude")

	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, fake.Sent)
}

func TestScheduler_CancelStopsTimer(t *testing.T) {
	rt := &stubRuntime{}
	rt.set("output")
	fake := messaging.NewFake()
	tracker := pending.New(fake)
	key := pending.Key{ProjectName: "demo", InstanceKey: "claude"}
	tracker.MarkPending(context.Background(), key, "ch-1", "m1", "")

	cfg := Config{InitialDelay: 20 * time.Millisecond, StableCheck: 20 * time.Millisecond, MaxChecks: 3, PromptPattern: `^❯\s`}
	sched := New(cfg, rt, tracker, fake)
	sched.Schedule("demo", "claude", "ch-1", "claude", "bridge", "claude")
	sched.Cancel("demo", "claude")

	time.Sleep(60 * time.Millisecond)
	assert.Empty(t, fake.Sent)
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
