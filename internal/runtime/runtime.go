// Package runtime defines the capability every agent-hosting backend
// implements: create a session, start a window inside it, type into it,
// capture its output, and stop it. Two backends exist (see the multiplexer
// and pty subpackages); the rest of the daemon talks only to this interface.
package runtime

import (
	"context"
	"errors"
	"time"
)

// ErrWindowMissing is returned (or wrapped) by any operation targeting a
// window the backend has no record of, or whose underlying session/pane no
// longer exists. Callers match this with errors.Is to trigger the
// "session missing" guidance path (§7, RuntimeMissing).
var ErrWindowMissing = errors.New("runtime: window not found")

// CellAttr carries the SGR attributes of one styled cell.
type CellAttr struct {
	FG        string `json:"fg,omitempty"` // "" means default
	BG        string `json:"bg,omitempty"`
	Bold      bool   `json:"bold,omitempty"`
	Italic    bool   `json:"italic,omitempty"`
	Underline bool   `json:"underline,omitempty"`
}

// Segment is a run of cells sharing one attribute set.
type Segment struct {
	Text string `json:"text"`
	CellAttr
}

// StyledLine is one row of a styled frame, decomposed into attribute runs.
type StyledLine struct {
	Segments []Segment `json:"segments"`
}

// StyledFrame is a full-screen snapshot with per-cell styling, produced only
// by the PTY backend's VT screen; the multiplexer backend has no equivalent
// and returns (nil, nil) from GetWindowFrame.
type StyledFrame struct {
	Lines     []StyledLine `json:"lines"`
	CursorRow int          `json:"cursorRow"`
	CursorCol int          `json:"cursorCol"`
}

// WindowSnapshot describes one known (session, window) pair, used to answer
// the hook server's /windows endpoint.
type WindowSnapshot struct {
	Session string `json:"session"`
	Window  string `json:"window"`
	Alive   bool   `json:"alive"`
}

// Signal is a portable subset of process-termination signals a caller can
// request of StopWindow / Dispose.
type Signal int

const (
	SignalTerm Signal = iota
	SignalKill
)

// Runtime is the capability set §4.2 specifies, implemented identically
// (from the caller's point of view) by the tmux-backed multiplexer adapter
// and the in-process PTY backend.
type Runtime interface {
	// GetOrCreateSession returns the name of the session for project,
	// creating it (and, for backends that need one, its first window) if it
	// doesn't exist yet.
	GetOrCreateSession(ctx context.Context, projectName string, firstWindow string) (string, error)

	// SetSessionEnv records an environment variable every window started in
	// session afterward should inherit.
	SetSessionEnv(ctx context.Context, session, key, value string) error

	// WindowExists reports whether window is currently live in session.
	WindowExists(ctx context.Context, session, window string) bool

	// StartAgentInWindow creates window in session (if needed) and starts
	// shellCommand in it via a login shell.
	StartAgentInWindow(ctx context.Context, session, window, shellCommand string) error

	// TypeKeysToWindow types text into window without sending Enter.
	// Both backends ignore agentHint; the caller applies the per-agent
	// delay (SubmitDelay) before sending Enter.
	TypeKeysToWindow(ctx context.Context, session, window, text, agentHint string) error

	// SendEnterToWindow sends a single Enter keystroke to window.
	SendEnterToWindow(ctx context.Context, session, window, agentHint string) error

	// SendKeysToWindow types text then sends Enter, as one operation.
	SendKeysToWindow(ctx context.Context, session, window, text string) error

	// GetWindowBuffer returns the plain-text scrollback of window.
	GetWindowBuffer(ctx context.Context, session, window string) (string, error)

	// GetWindowFrame returns a styled snapshot of window, or (nil, nil) if
	// the backend has no styled representation (the multiplexer backend).
	GetWindowFrame(ctx context.Context, session, window string, cols, rows int) (*StyledFrame, error)

	// ResizeWindow resizes window, clamped to the backend's supported range.
	ResizeWindow(ctx context.Context, session, window string, cols, rows int) error

	// StopWindow signals window to stop, returning whether it was found.
	StopWindow(ctx context.Context, session, window string, sig Signal) (bool, error)

	// ListWindows returns every known window, optionally scoped to one
	// session (session == "" lists every session).
	ListWindows(ctx context.Context, session string) ([]WindowSnapshot, error)

	// Dispose stops every owned window with sig and releases backend
	// resources. Called once, on daemon shutdown.
	Dispose(ctx context.Context, sig Signal) error
}

// SubmitDelay returns the per-agent pause between typing and Enter used by
// the router's submit flow and the multiplexer backend's SendKeysToWindow
// (§4.5 step 7, §4.2.1); the PTY backend's SendKeysToWindow applies no
// delay. OpenCode gets a much shorter delay because its TUI submits
// eagerly; every other agent gets the conservative default.
func SubmitDelay(agentHint string) time.Duration {
	if agentHint == "opencode" {
		return 75 * time.Millisecond
	}
	return 300 * time.Millisecond
}
