// Package multiplexer implements runtime.Runtime by shelling out to an
// external terminal multiplexer (tmux), the same way
// sderosiaux-claudeslack's tmuxSessionExists/createTmuxSession/sendToTmux
// shell out, generalized from that file's one-session-per-project model to
// the spec's shared-session-with-many-windows model.
package multiplexer

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/discode/bridge/internal/common/logger"
	"github.com/discode/bridge/internal/runtime"
	"go.uber.org/zap"
)

// Backend shells out to the tmux binary found on PATH (or overridden via
// Bin) for every operation. It keeps no in-process window state beyond the
// names of the sessions it has created, since tmux itself is the source of
// truth for what sessions/windows exist.
type Backend struct {
	Bin string // defaults to "tmux"

	log *logger.Logger

	mu      sync.Mutex
	sockets map[string]bool // sessions created here, killed by Dispose
}

// New creates a tmux-backed runtime.
func New(log *logger.Logger) *Backend {
	return &Backend{
		Bin:     "tmux",
		log:     log.WithFields(zap.String("component", "runtime-tmux")),
		sockets: make(map[string]bool),
	}
}

func (b *Backend) bin() string {
	if b.Bin == "" {
		return "tmux"
	}
	return b.Bin
}

func (b *Backend) run(ctx context.Context, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, b.bin(), args...)
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	err := cmd.Run()
	return out.Bytes(), err
}

func (b *Backend) sessionExists(ctx context.Context, session string) bool {
	_, err := b.run(ctx, "has-session", "-t", session)
	return err == nil
}

func (b *Backend) GetOrCreateSession(ctx context.Context, projectName, firstWindow string) (string, error) {
	session := "bridge"
	b.mu.Lock()
	b.sockets[session] = true
	b.mu.Unlock()

	if b.sessionExists(ctx, session) {
		return session, nil
	}

	window := firstWindow
	if window == "" {
		window = "default"
	}
	args := []string{"new-session", "-d", "-s", session, "-n", window}
	if _, err := b.run(ctx, args...); err != nil {
		return "", fmt.Errorf("tmux new-session: %w", err)
	}
	b.log.Info("created tmux session", zap.String("session", session))
	return session, nil
}

func (b *Backend) SetSessionEnv(ctx context.Context, session, key, value string) error {
	_, err := b.run(ctx, "setenv", "-t", session, key, value)
	if err != nil {
		return fmt.Errorf("tmux setenv %s: %w", key, err)
	}
	return nil
}

func (b *Backend) WindowExists(ctx context.Context, session, window string) bool {
	out, err := b.run(ctx, "list-windows", "-t", session, "-F", "#{window_name}")
	if err != nil {
		return false
	}
	return containsLine(out, window)
}

func (b *Backend) StartAgentInWindow(ctx context.Context, session, window, shellCommand string) error {
	if !b.sessionExists(ctx, session) {
		if _, err := b.GetOrCreateSession(ctx, "", window); err != nil {
			return err
		}
	}
	if b.WindowExists(ctx, session, window) {
		return fmt.Errorf("window %s already exists in session %s", window, session)
	}
	target := session
	args := []string{"new-window", "-t", target, "-n", window, "/bin/sh", "-lc", shellCommand}
	if _, err := b.run(ctx, args...); err != nil {
		return fmt.Errorf("tmux new-window: %w", err)
	}
	return nil
}

// delayFor returns the pause between typing text and sending Enter for
// agentHint (runtime.SubmitDelay).
func delayFor(agentHint string) time.Duration {
	return runtime.SubmitDelay(agentHint)
}

func (b *Backend) TypeKeysToWindow(ctx context.Context, session, window, text, agentHint string) error {
	if !b.WindowExists(ctx, session, window) {
		return fmt.Errorf("can't find window %s:%s: %w", session, window, runtime.ErrWindowMissing)
	}
	// -l: literal typing, no key-name translation.
	if _, err := b.run(ctx, "send-keys", "-t", session+":"+window, "-l", text); err != nil {
		return fmt.Errorf("tmux send-keys: %w", err)
	}
	return nil
}

func (b *Backend) SendEnterToWindow(ctx context.Context, session, window, agentHint string) error {
	if !b.WindowExists(ctx, session, window) {
		return fmt.Errorf("can't find window %s:%s: %w", session, window, runtime.ErrWindowMissing)
	}
	if _, err := b.run(ctx, "send-keys", "-t", session+":"+window, "Enter"); err != nil {
		return fmt.Errorf("tmux send-keys Enter: %w", err)
	}
	return nil
}

func (b *Backend) SendKeysToWindow(ctx context.Context, session, window, text string) error {
	if err := b.TypeKeysToWindow(ctx, session, window, text, ""); err != nil {
		return err
	}
	time.Sleep(delayFor(""))
	return b.SendEnterToWindow(ctx, session, window, "")
}

func (b *Backend) GetWindowBuffer(ctx context.Context, session, window string) (string, error) {
	if !b.WindowExists(ctx, session, window) {
		return "", fmt.Errorf("can't find window %s:%s: %w", session, window, runtime.ErrWindowMissing)
	}
	out, err := b.run(ctx, "capture-pane", "-p", "-t", session+":"+window, "-S", "-2000")
	if err != nil {
		return "", fmt.Errorf("tmux capture-pane: %w", err)
	}
	return string(out), nil
}

// GetWindowFrame has no representation in the multiplexer backend; callers
// fall back to GetWindowBuffer, per §4.2.1.
func (b *Backend) GetWindowFrame(ctx context.Context, session, window string, cols, rows int) (*runtime.StyledFrame, error) {
	return nil, nil
}

func (b *Backend) ResizeWindow(ctx context.Context, session, window string, cols, rows int) error {
	cols = clamp(cols, 30, 240)
	rows = clamp(rows, 10, 120)
	_, err := b.run(ctx, "resize-window", "-t", session+":"+window, "-x", strconv.Itoa(cols), "-y", strconv.Itoa(rows))
	if err != nil {
		return fmt.Errorf("tmux resize-window: %w", err)
	}
	return nil
}

func (b *Backend) StopWindow(ctx context.Context, session, window string, sig runtime.Signal) (bool, error) {
	if !b.WindowExists(ctx, session, window) {
		return false, nil
	}
	if _, err := b.run(ctx, "kill-window", "-t", session+":"+window); err != nil {
		return false, fmt.Errorf("tmux kill-window: %w", err)
	}
	return true, nil
}

func (b *Backend) ListWindows(ctx context.Context, session string) ([]runtime.WindowSnapshot, error) {
	var sessions []string
	if session != "" {
		sessions = []string{session}
	} else {
		out, err := b.run(ctx, "list-sessions", "-F", "#{session_name}")
		if err != nil {
			return nil, nil // no tmux server running is not an error worth surfacing
		}
		sessions = splitLines(out)
	}

	var windows []runtime.WindowSnapshot
	for _, s := range sessions {
		out, err := b.run(ctx, "list-windows", "-t", s, "-F", "#{window_name}")
		if err != nil {
			continue
		}
		for _, w := range splitLines(out) {
			windows = append(windows, runtime.WindowSnapshot{Session: s, Window: w, Alive: true})
		}
	}
	return windows, nil
}

func (b *Backend) Dispose(ctx context.Context, sig runtime.Signal) error {
	b.mu.Lock()
	sessions := make([]string, 0, len(b.sockets))
	for s := range b.sockets {
		sessions = append(sessions, s)
	}
	b.mu.Unlock()
	for _, s := range sessions {
		_, _ = b.run(ctx, "kill-session", "-t", s)
	}
	return nil
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func splitLines(b []byte) []string {
	var out []string
	scanner := bufio.NewScanner(bytes.NewReader(b))
	for scanner.Scan() {
		if line := strings.TrimSpace(scanner.Text()); line != "" {
			out = append(out, line)
		}
	}
	return out
}

func containsLine(b []byte, target string) bool {
	for _, l := range splitLines(b) {
		if l == target {
			return true
		}
	}
	return false
}
