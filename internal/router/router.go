// Package router implements the inbound chat-message algorithm (§4.5): it
// receives every message the messaging capability accepts, resolves it to a
// project/instance, downloads attachments, submits the content into the
// runtime with the required type-delay-Enter ordering, and tracks the
// resulting pending request. Grounded on kdlbs-kandev's
// internal/orchestrator/scheduler.go concurrency shape (a keyed table
// instead of its single global loop, see keyed_serializer.go) and
// sderosiaux-claudeslack's per-channel busy/queue handling (queue.go) for
// the same per-key ordering guarantee from the other side of the pack.
package router

import (
	"context"
	"fmt"
	"net/http"
	"regexp"
	"time"
	"unicode"

	"go.uber.org/zap"

	"github.com/discode/bridge/internal/common/apperr"
	"github.com/discode/bridge/internal/common/logger"
	"github.com/discode/bridge/internal/messaging"
	"github.com/discode/bridge/internal/pending"
	"github.com/discode/bridge/internal/runtime"
	"github.com/discode/bridge/internal/state"
)

const maxContentLen = 10_000

var sessionMissingRe = regexp.MustCompile(`(?i)can't find (window|pane)`)

// FallbackScheduler is the subset of C7 the router depends on: after
// submitting a prompt it schedules a buffer-fallback check for the same key.
// The router never cancels one; the hook server calls Cancel on
// session.idle/session.error.
type FallbackScheduler interface {
	Schedule(projectName, instanceID, channelID, agentType, session, window string)
}

// Router implements C6.
type Router struct {
	state    *state.Store
	msg      messaging.Capability
	rt       runtime.Runtime
	pending  *pending.Tracker
	fallback FallbackScheduler
	log      *logger.Logger

	httpClient      *http.Client
	downloadTimeout time.Duration

	serializer *keyedSerializer
}

// New builds a router. downloadTimeout bounds attachment downloads (§5,
// default 30s).
func New(store *state.Store, msg messaging.Capability, rt runtime.Runtime, tracker *pending.Tracker, fallback FallbackScheduler, downloadTimeout time.Duration) *Router {
	return &Router{
		state:           store,
		msg:             msg,
		rt:              rt,
		pending:         tracker,
		fallback:        fallback,
		log:             logger.Default().WithFields(zap.String("component", "router")),
		httpClient:      &http.Client{Timeout: downloadTimeout},
		downloadTimeout: downloadTimeout,
		serializer:      newKeyedSerializer(),
	}
}

// HandleInbound is the callback registered with the messaging capability
// (§4.5). It runs the resolution and attachment steps synchronously on the
// caller's goroutine (cheap, and any failure must reply before returning)
// then serializes the type/delay/Enter submission per (project, instance).
func (r *Router) HandleInbound(ctx context.Context, msg messaging.InboundMessage) {
	if msg.ProjectName == "" {
		if p, inst, ok := r.state.FindProjectByChannel(msg.ChannelID); ok {
			msg.ProjectName = p.ProjectName
			msg.AgentType = inst.AgentType
		}
	}
	project, err := r.getProject(ctx, msg)
	if err != nil {
		return
	}

	_, inst, err := ResolveInstance(r.state, msg.ProjectName, msg.AgentType, msg.ChannelID, msg.InstanceID)
	if err != nil {
		r.replyUnknown(ctx, msg.ChannelID)
		return
	}

	content := msg.Content
	if len(msg.Attachments) > 0 {
		paths, dlErr := downloadAttachments(ctx, r.httpClient, project.ProjectPath, msg.Attachments, r.downloadTimeout)
		if dlErr != nil {
			r.log.WithError(dlErr).Warn("attachment download failed")
		}
		for _, p := range paths {
			content += fmt.Sprintf("\n[file:%s]", p)
		}
	}

	content, ok := sanitizeContent(content)
	if !ok {
		_, _ = r.msg.SendText(ctx, msg.ChannelID, "I couldn't process that message (empty, too long, or invalid characters).")
		return
	}

	key := pending.Key{ProjectName: msg.ProjectName, InstanceKey: instanceKey(inst)}
	r.pending.MarkPending(ctx, key, msg.ChannelID, msg.MessageID, "")

	session := project.SessionName
	window := inst.WindowName
	agentType := inst.AgentType
	serialKey := msg.ProjectName + ":" + instanceKey(inst)

	r.serializer.Submit(serialKey, func() {
		r.submit(ctx, key, session, window, agentType, content, msg.ProjectName, msg.ChannelID)
	})
}

func (r *Router) getProject(ctx context.Context, msg messaging.InboundMessage) (*state.Project, error) {
	project, ok := r.state.GetProject(msg.ProjectName)
	if !ok {
		_, _ = r.msg.SendText(ctx, msg.ChannelID, fmt.Sprintf("Unknown project %q.", msg.ProjectName))
		return nil, apperr.New(apperr.UnknownReference, "unknown project")
	}
	return project, nil
}

func (r *Router) replyUnknown(ctx context.Context, channelID string) {
	_, _ = r.msg.SendText(ctx, channelID, "I couldn't find an agent instance for this channel.")
}

// submit performs §4.5 steps 7-10 under the per-key serializer: type, wait
// the per-agent submit delay, send Enter, schedule a fallback check, update
// lastActive, and handle submission failure (including the session-missing
// branch).
func (r *Router) submit(ctx context.Context, key pending.Key, session, window, agentType, content, projectName, channelID string) {
	if err := r.rt.TypeKeysToWindow(ctx, session, window, content, agentType); err != nil {
		r.handleSubmitError(ctx, key, channelID, err)
		return
	}

	time.Sleep(runtime.SubmitDelay(agentType))

	if err := r.rt.SendEnterToWindow(ctx, session, window, agentType); err != nil {
		r.handleSubmitError(ctx, key, channelID, err)
		return
	}

	if r.fallback != nil {
		r.fallback.Schedule(projectName, key.InstanceKey, channelID, agentType, session, window)
	}

	if err := r.state.UpdateLastActive(projectName); err != nil {
		r.log.WithError(err).Warn("update last active failed")
	}
}

func (r *Router) handleSubmitError(ctx context.Context, key pending.Key, channelID string, err error) {
	r.pending.MarkError(ctx, key)

	guidance := "I couldn't deliver your message to the agent. Please try again."
	if sessionMissingRe.MatchString(err.Error()) {
		guidance = fmt.Sprintf("I couldn't deliver your message — the agent session is gone. Run `discode new --name %s` to restart it.", key.ProjectName)
	}
	_, _ = r.msg.SendText(ctx, channelID, guidance)
}

func instanceKey(inst *state.Instance) string {
	if inst.InstanceID != "" {
		return inst.InstanceID
	}
	return inst.AgentType
}

// sanitizeContent implements §4.5 step 5: reject empty, reject longer than
// maxContentLen, reject control characters other than newline, carriage
// return and tab.
func sanitizeContent(content string) (string, bool) {
	trimmed := content
	for len(trimmed) > 0 && (trimmed[0] == ' ' || trimmed[0] == '\n' || trimmed[0] == '\t') {
		trimmed = trimmed[1:]
	}
	if trimmed == "" {
		return "", false
	}
	if len([]rune(content)) > maxContentLen {
		return "", false
	}
	for _, r := range content {
		if unicode.IsControl(r) && r != '\n' && r != '\t' && r != '\r' {
			return "", false
		}
	}
	return content, true
}
