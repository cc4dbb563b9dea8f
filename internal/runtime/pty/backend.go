// Package pty implements runtime.Runtime in-process: each (session, window)
// pair spawns a child process on a PTY (native creack/pty on Unix, ConPTY on
// Windows) and is fed through a per-window VT screen that exposes both a
// bounded raw scrollback and a styled-frame snapshot. Grounded on
// kdlbs-kandev's internal/agentctl/server/process package (pty_handle.go,
// pty_unix.go, pty_windows.go, cmdline.go, shell_unix.go, shell_windows.go,
// interactive_io.go's reader/query-response shape, status_tracker.go's
// vt10x-based frame extraction), generalized from that package's single
// agentctl-managed process model to the bridge's session/window naming.
package pty

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"sync"

	"github.com/discode/bridge/internal/common/logger"
	"github.com/discode/bridge/internal/runtime"
	"go.uber.org/zap"
)

// Backend implements runtime.Runtime with in-process PTY-backed windows.
// "Session" has no OS analogue here (unlike tmux); it is purely a namespace
// for session-scoped env vars new windows inherit.
type Backend struct {
	log *logger.Logger

	mu       sync.Mutex
	sessions map[string]map[string]string // session -> env overlay
	windows  map[string]*window           // "session:window" -> window
}

// New creates an in-process PTY runtime.
func New(log *logger.Logger) *Backend {
	return &Backend{
		log:      log.WithFields(zap.String("component", "runtime-pty")),
		sessions: make(map[string]map[string]string),
		windows:  make(map[string]*window),
	}
}

func key(session, windowName string) string { return session + ":" + windowName }

func (b *Backend) GetOrCreateSession(ctx context.Context, projectName, firstWindow string) (string, error) {
	session := "bridge"
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.sessions[session]; !ok {
		b.sessions[session] = make(map[string]string)
	}
	return session, nil
}

func (b *Backend) SetSessionEnv(ctx context.Context, session, k, v string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.sessions[session]; !ok {
		b.sessions[session] = make(map[string]string)
	}
	b.sessions[session][k] = v
	return nil
}

func (b *Backend) sessionEnv(session string) []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	env := os.Environ()
	env = append(env,
		"TERM=xterm-256color",
		"COLORTERM=truecolor",
	)
	for k, v := range b.sessions[session] {
		env = append(env, k+"="+v)
	}
	return env
}

func (b *Backend) WindowExists(ctx context.Context, session, windowName string) bool {
	b.mu.Lock()
	w, ok := b.windows[key(session, windowName)]
	b.mu.Unlock()
	return ok && w.isAlive()
}

func (b *Backend) StartAgentInWindow(ctx context.Context, session, windowName, shellCommand string) error {
	b.mu.Lock()
	if existing, ok := b.windows[key(session, windowName)]; ok && existing.isAlive() {
		b.mu.Unlock()
		return fmt.Errorf("window %s already exists in session %s", windowName, session)
	}
	w := newWindow(session, windowName, b.log)
	b.windows[key(session, windowName)] = w
	b.mu.Unlock()

	env := b.sessionEnv(session)
	env = append(env,
		"COLUMNS="+strconv.Itoa(w.cols),
		"LINES="+strconv.Itoa(w.rows),
	)
	return w.start(shellCommand, env)
}

func (b *Backend) getWindow(session, windowName string) (*window, error) {
	b.mu.Lock()
	w, ok := b.windows[key(session, windowName)]
	b.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("can't find window %s:%s: %w", session, windowName, runtime.ErrWindowMissing)
	}
	return w, nil
}

func (b *Backend) TypeKeysToWindow(ctx context.Context, session, windowName, text, agentHint string) error {
	w, err := b.getWindow(session, windowName)
	if err != nil {
		return err
	}
	return w.typeText(text)
}

func (b *Backend) SendEnterToWindow(ctx context.Context, session, windowName, agentHint string) error {
	w, err := b.getWindow(session, windowName)
	if err != nil {
		return err
	}
	return w.sendEnter()
}

func (b *Backend) SendKeysToWindow(ctx context.Context, session, windowName, text string) error {
	w, err := b.getWindow(session, windowName)
	if err != nil {
		return err
	}
	if err := w.typeText(text); err != nil {
		return err
	}
	return w.sendEnter()
}

func (b *Backend) GetWindowBuffer(ctx context.Context, session, windowName string) (string, error) {
	w, err := b.getWindow(session, windowName)
	if err != nil {
		return "", err
	}
	return StripANSI(w.rawBuffer()), nil
}

func (b *Backend) GetWindowFrame(ctx context.Context, session, windowName string, cols, rows int) (*runtime.StyledFrame, error) {
	w, err := b.getWindow(session, windowName)
	if err != nil {
		return nil, err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.screen.RenderFrame(), nil
}

func (b *Backend) ResizeWindow(ctx context.Context, session, windowName string, cols, rows int) error {
	w, err := b.getWindow(session, windowName)
	if err != nil {
		return err
	}
	cols = clampInt(cols, 30, 240)
	rows = clampInt(rows, 10, 120)
	return w.resize(cols, rows)
}

func (b *Backend) StopWindow(ctx context.Context, session, windowName string, sig runtime.Signal) (bool, error) {
	b.mu.Lock()
	w, ok := b.windows[key(session, windowName)]
	b.mu.Unlock()
	if !ok {
		return false, nil
	}
	return w.stop(), nil
}

func (b *Backend) ListWindows(ctx context.Context, session string) ([]runtime.WindowSnapshot, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []runtime.WindowSnapshot
	for k, w := range b.windows {
		if session != "" && w.session != session {
			continue
		}
		out = append(out, runtime.WindowSnapshot{Session: w.session, Window: w.name, Alive: w.isAlive()})
		_ = k
	}
	return out, nil
}

func (b *Backend) Dispose(ctx context.Context, sig runtime.Signal) error {
	b.mu.Lock()
	windows := make([]*window, 0, len(b.windows))
	for _, w := range b.windows {
		windows = append(windows, w)
	}
	b.mu.Unlock()
	for _, w := range windows {
		w.stop()
	}
	return nil
}

var _ runtime.Runtime = (*Backend)(nil)
