package pty

import (
	"fmt"
	"os/exec"
	"regexp"
	"sync"

	"github.com/discode/bridge/internal/common/logger"
	"go.uber.org/zap"
)

// State is the per-window lifecycle state machine from §4.2.2:
// idle -> starting -> running -> {exited, error}.
type State string

const (
	StateIdle     State = "idle"
	StateStarting State = "starting"
	StateRunning  State = "running"
	StateExited   State = "exited"
	StateError    State = "error"
)

// window owns one spawned process and its VT screen.
type window struct {
	session string
	name    string

	mu     sync.Mutex
	state  State
	handle Handle
	screen *Screen
	cols   int
	rows   int
	err    error

	log *logger.Logger
}

func newWindow(session, name string, log *logger.Logger) *window {
	return &window{
		session: session,
		name:    name,
		state:   StateIdle,
		screen:  NewScreen(80, 24),
		cols:    80,
		rows:    24,
		log:     log.WithFields(zap.String("session", session), zap.String("window", name)),
	}
}

// start spawns shellCommand under a login shell inside a PTY of the
// window's current size, then launches the reader goroutine.
func (w *window) start(shellCommand string, env []string) error {
	w.mu.Lock()
	if w.state == StateRunning || w.state == StateStarting {
		w.mu.Unlock()
		return fmt.Errorf("window %s already started", w.name)
	}
	w.state = StateStarting
	cols, rows := w.cols, w.rows
	w.mu.Unlock()

	prog, args := shellExecArgs(shellCommand)
	cmd := exec.Command(prog, args...)
	cmd.Env = env

	handle, err := startWithSize(cmd, cols, rows)
	if err != nil {
		w.log.Warn("native pty unavailable, falling back to pipe-based stdio", zap.Error(err))
		fallbackCmd := exec.Command(prog, args...)
		fallbackCmd.Env = env
		handle, err = startWithPipes(fallbackCmd)
		if err != nil {
			w.mu.Lock()
			w.state = StateError
			w.err = err
			w.mu.Unlock()
			return fmt.Errorf("start pty: %w", err)
		}
	}

	w.mu.Lock()
	w.handle = handle
	w.state = StateRunning
	w.mu.Unlock()

	go w.readLoop()
	return nil
}

// readLoop is the single reader task owning this window's PTY, feeding
// both the VT screen and, via the screen's own scrollback ring, the bounded
// raw buffer. It responds to terminal queries inline, mirroring
// kdlbs-kandev's readOutput/respondToTerminalQueries split but folded into
// one loop since the VT screen itself now recognizes the queries.
func (w *window) readLoop() {
	buf := make([]byte, 32*1024)
	for {
		w.mu.Lock()
		h := w.handle
		w.mu.Unlock()
		if h == nil {
			return
		}

		n, err := h.Read(buf)
		if n > 0 {
			w.mu.Lock()
			resp := w.screen.Write(buf[:n])
			handle := w.handle
			w.mu.Unlock()
			if len(resp) > 0 && handle != nil {
				if _, werr := handle.Write(resp); werr != nil {
					w.log.Debug("terminal query response write failed", zap.Error(werr))
				}
			}
		}
		if err != nil {
			w.mu.Lock()
			if w.state != StateError {
				w.state = StateExited
			}
			w.mu.Unlock()
			w.log.Debug("pty read ended", zap.Error(err))
			return
		}
	}
}

func (w *window) typeText(text string) error {
	w.mu.Lock()
	h := w.handle
	alive := w.state == StateRunning
	w.mu.Unlock()
	if !alive || h == nil {
		return fmt.Errorf("can't find window %s: not running", w.name)
	}
	_, err := h.Write([]byte(text))
	return err
}

func (w *window) sendEnter() error {
	return w.typeText("\r")
}

func (w *window) resize(cols, rows int) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.cols, w.rows = cols, rows
	w.screen.Resize(cols, rows)
	if w.handle != nil {
		return w.handle.Resize(uint16(cols), uint16(rows))
	}
	return nil
}

func (w *window) stop() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.handle == nil {
		return false
	}
	_ = w.handle.Close()
	w.handle = nil
	w.state = StateExited
	return true
}

func (w *window) isAlive() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state == StateRunning
}

func (w *window) rawBuffer() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return string(w.screen.RawScrollback())
}

var ansiRe = regexp.MustCompile(`\x1b\[[0-9;?]*[a-zA-Z]|\x1b\][^\x07]*\x07|\x1b[()#][0-9A-Za-z]|\x1b[=>]`)

// StripANSI removes escape sequences from s, leaving printable text.
func StripANSI(s string) string {
	return ansiRe.ReplaceAllString(s, "")
}
