// Package fallback implements the buffer-fallback heuristic (C7, §4.6):
// when an agent has no event hook (or the hook is late), the scheduler
// periodically snapshots the window it was asked to watch and, once the
// buffer is stable, synthesizes a response from the scrollback instead of
// waiting forever for a hook that may never come.
//
// Grounded on kdlbs-kandev's orchestrator/scheduler.go RetryTask
// (time.AfterFunc-based delayed re-enqueue, replacing any prior timer for
// the same key) and interactive_output.go's resetIdleTimer (the same
// "cancel and reschedule, with a final giving-up point" shape applied to an
// idle timeout instead of a stability check).
package fallback

import (
	"context"
	"regexp"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/discode/bridge/internal/common/logger"
	"github.com/discode/bridge/internal/messaging"
	"github.com/discode/bridge/internal/pending"
	"github.com/discode/bridge/internal/runtime"
)

// Config holds the env-overridable timing knobs from §4.6.
type Config struct {
	InitialDelay  time.Duration
	StableCheck   time.Duration
	MaxChecks     int
	PromptPattern string
}

// DefaultConfig matches the spec's documented defaults.
func DefaultConfig() Config {
	return Config{
		InitialDelay:  3000 * time.Millisecond,
		StableCheck:   2000 * time.Millisecond,
		MaxChecks:     3,
		PromptPattern: `^❯\s`,
	}
}

type watchState struct {
	timer       *time.Timer
	lastSnap    string
	checks      int
	channelID   string
	agentType   string
	session     string
	window      string
	projectName string
	instanceID  string
}

// Scheduler implements C7.
type Scheduler struct {
	cfg          Config
	promptRe     *regexp.Regexp
	rt           runtime.Runtime
	pending      *pending.Tracker
	msg          messaging.Capability
	log          *logger.Logger

	mu      sync.Mutex
	watches map[string]*watchState
}

// New builds a scheduler. A malformed PromptPattern falls back to the
// spec's default rather than failing construction.
func New(cfg Config, rt runtime.Runtime, tracker *pending.Tracker, msg messaging.Capability) *Scheduler {
	re, err := regexp.Compile(cfg.PromptPattern)
	if err != nil {
		re = regexp.MustCompile(DefaultConfig().PromptPattern)
	}
	return &Scheduler{
		cfg:      cfg,
		promptRe: re,
		rt:       rt,
		pending:  tracker,
		msg:      msg,
		log:      logger.Default().WithFields(zap.String("component", "fallback")),
		watches:  make(map[string]*watchState),
	}
}

func key(projectName, instanceID string) string { return projectName + ":" + instanceID }

// Schedule starts (or restarts) the stability watch for (projectName,
// instanceID), replacing any prior timer per §4.6.
func (s *Scheduler) Schedule(projectName, instanceID, channelID, agentType, session, window string) {
	k := key(projectName, instanceID)

	s.mu.Lock()
	if existing, ok := s.watches[k]; ok {
		existing.timer.Stop()
	}
	ws := &watchState{
		channelID:   channelID,
		agentType:   agentType,
		session:     session,
		window:      window,
		projectName: projectName,
		instanceID:  instanceID,
	}
	ws.timer = time.AfterFunc(s.cfg.InitialDelay, func() { s.check(k) })
	s.watches[k] = ws
	s.mu.Unlock()
}

// Cancel stops a scheduled watch without running its check, used when the
// hook server resolves the request before the fallback would fire.
func (s *Scheduler) Cancel(projectName, instanceID string) {
	k := key(projectName, instanceID)
	s.mu.Lock()
	defer s.mu.Unlock()
	if ws, ok := s.watches[k]; ok {
		ws.timer.Stop()
		delete(s.watches, k)
	}
}

func (s *Scheduler) check(k string) {
	s.mu.Lock()
	ws, ok := s.watches[k]
	s.mu.Unlock()
	if !ok {
		return
	}

	pendingKey := pending.Key{ProjectName: ws.projectName, InstanceKey: ws.instanceID}
	if !s.pending.HasPending(pendingKey) {
		s.mu.Lock()
		delete(s.watches, k)
		s.mu.Unlock()
		return
	}

	ctx := context.Background()
	snapshot := s.captureText(ctx, ws.session, ws.window)
	if snapshot == "" {
		s.mu.Lock()
		delete(s.watches, k)
		s.mu.Unlock()
		return
	}

	if snapshot == ws.lastSnap {
		s.publish(ctx, pendingKey, ws, snapshot)
		return
	}

	s.mu.Lock()
	ws.lastSnap = snapshot
	ws.checks++
	exhausted := ws.checks >= s.cfg.MaxChecks
	if exhausted {
		delete(s.watches, k)
	}
	s.mu.Unlock()

	if !exhausted {
		s.reschedule(k, ws)
	}
}

func (s *Scheduler) reschedule(k string, ws *watchState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.watches[k]; !ok {
		return
	}
	ws.timer = time.AfterFunc(s.cfg.StableCheck, func() { s.check(k) })
	s.watches[k] = ws
}

func (s *Scheduler) publish(ctx context.Context, pendingKey pending.Key, ws *watchState, snapshot string) {
	s.mu.Lock()
	delete(s.watches, key(ws.projectName, ws.instanceID))
	s.mu.Unlock()

	block := ExtractLastPromptBlock(snapshot, s.promptRe)
	_, err := s.msg.SendText(ctx, ws.channelID, "```\n"+block+"\n```")
	if err != nil {
		s.log.WithError(err).Warn("fallback send failed")
		return
	}
	s.pending.MarkCompleted(ctx, pendingKey)
}

// captureText prefers the styled frame rendered to plain text; falls back
// to the raw scrollback with ANSI stripped.
func (s *Scheduler) captureText(ctx context.Context, session, window string) string {
	if frame, err := s.rt.GetWindowFrame(ctx, session, window, 0, 0); err == nil && frame != nil {
		return renderFrameText(frame)
	}
	buf, err := s.rt.GetWindowBuffer(ctx, session, window)
	if err != nil {
		return ""
	}
	return stripANSI(buf)
}

func renderFrameText(frame *runtime.StyledFrame) string {
	var b strings.Builder
	for i, line := range frame.Lines {
		if i > 0 {
			b.WriteByte('\n')
		}
		for _, seg := range line.Segments {
			b.WriteString(seg.Text)
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

var ansiRe = regexp.MustCompile(`\x1b\[[0-9;?]*[a-zA-Z]|\x1b\][^\x07]*\x07|\x1b[()#][0-9A-Za-z]|\x1b[=>]`)

func stripANSI(s string) string { return ansiRe.ReplaceAllString(s, "") }

// ExtractLastPromptBlock returns the lines from the last line matching re
// to the end of text, or the entire text if no line matches (§4.6 step 4).
func ExtractLastPromptBlock(text string, re *regexp.Regexp) string {
	lines := strings.Split(text, "\n")
	lastMatch := -1
	for i, line := range lines {
		if re.MatchString(line) {
			lastMatch = i
		}
	}
	if lastMatch < 0 {
		return strings.TrimSpace(text)
	}
	return strings.TrimSpace(strings.Join(lines[lastMatch:], "\n"))
}
