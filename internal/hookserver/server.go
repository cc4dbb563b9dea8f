// Package hookserver implements C5: the loopback HTTP server agent-side
// plugins and the CLI talk to. Grounded on kdlbs-kandev's gin-based
// internal/agent/api and internal/task/api handler packages for route
// registration, JSON binding, and status-code shape, adapted from that
// teacher's REST-resource style to this spec's small fixed set of
// event/control endpoints.
package hookserver

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/discode/bridge/internal/common/logger"
	"github.com/discode/bridge/internal/messaging"
	"github.com/discode/bridge/internal/pending"
	"github.com/discode/bridge/internal/router"
	"github.com/discode/bridge/internal/runtime"
	"github.com/discode/bridge/internal/state"
)

// FallbackCanceler lets the hook server cancel a scheduled buffer-fallback
// check once a hook resolves the request first.
type FallbackCanceler interface {
	Cancel(projectName, instanceID string)
}

// Server implements C5.
type Server struct {
	state    *state.Store
	msg      messaging.Capability
	rt       runtime.Runtime
	pending  *pending.Tracker
	fallback FallbackCanceler
	log      *logger.Logger

	engine *gin.Engine
	http   *http.Server

	reload func() error
}

// New builds the hook server bound to addr (e.g. "127.0.0.1:18470").
// reload is invoked by POST /reload after the state file has been re-read
// (owned by bootstrap, C12).
func New(addr string, store *state.Store, msg messaging.Capability, rt runtime.Runtime, tracker *pending.Tracker, fb FallbackCanceler, reload func() error) *Server {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.HandleMethodNotAllowed = true
	engine.Use(gin.Recovery())

	s := &Server{
		state:    store,
		msg:      msg,
		rt:       rt,
		pending:  tracker,
		fallback: fb,
		log:      logger.Default().WithFields(zap.String("component", "hookserver")),
		engine:   engine,
		reload:   reload,
	}
	s.routes()
	s.http = &http.Server{Addr: addr, Handler: engine}
	return s
}

func (s *Server) routes() {
	s.engine.POST("/reload", s.handleReload)
	s.engine.POST("/opencode-event", s.handleEvent)
	s.engine.POST("/send-files", s.handleSendFiles)
	s.engine.Any("/windows", s.handleWindows)
	s.engine.POST("/ensure-window", s.handleEnsureWindow)
	s.engine.POST("/focus", s.handleFocus)
	s.engine.NoMethod(func(c *gin.Context) { c.Status(http.StatusMethodNotAllowed) })
	s.engine.NoRoute(func(c *gin.Context) { c.Status(http.StatusNotFound) })
}

// ListenAndServe blocks until ctx is cancelled or the server fails to start.
func (s *Server) ListenAndServe(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() { errCh <- s.http.ListenAndServe() }()

	select {
	case <-ctx.Done():
		return s.http.Close()
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}

func (s *Server) handleReload(c *gin.Context) {
	if err := s.state.Reload(); err != nil {
		c.String(http.StatusInternalServerError, "reload failed: %v", err)
		return
	}
	if s.reload != nil {
		if err := s.reload(); err != nil {
			s.log.WithError(err).Warn("reload callback failed")
		}
	}
	c.String(http.StatusOK, "OK")
}

func (s *Server) bindPayload(c *gin.Context) (payload, bool) {
	var p payload
	if err := c.ShouldBindJSON(&p); err != nil {
		c.String(http.StatusBadRequest, "malformed JSON")
		return nil, false
	}
	if p.str("projectName") == "" {
		c.String(http.StatusBadRequest, "missing projectName")
		return nil, false
	}
	return p, true
}

// handleEvent implements §4.3's /opencode-event routing and the
// session.idle/error/start/end behaviors.
func (s *Server) handleEvent(c *gin.Context) {
	p, ok := s.bindPayload(c)
	if !ok {
		return
	}

	projectName := p.str("projectName")
	agentType := p.str("agentType")
	instanceID := p.str("instanceId")

	_, inst, err := router.ResolveInstance(s.state, projectName, agentType, "", instanceID)
	if err != nil || inst.ChannelID == "" {
		c.String(http.StatusBadRequest, "no channel bound to this instance")
		return
	}

	key := pending.Key{ProjectName: projectName, InstanceKey: instanceKeyOf(inst)}
	ctx := c.Request.Context()

	switch p.str("type") {
	case "session.idle":
		s.handleSessionIdle(ctx, p, key, inst)
	case "session.error":
		s.handleSessionError(ctx, key, inst)
	case "session.start", "session.end":
		// Informational only; nothing to send, but cancel a scheduled
		// fallback check since a hook clearly fired.
		if s.fallback != nil {
			s.fallback.Cancel(projectName, key.InstanceKey)
		}
	}

	c.String(http.StatusOK, "OK")
}

func (s *Server) handleSessionIdle(ctx context.Context, p payload, key pending.Key, inst *state.Instance) {
	if s.fallback != nil {
		s.fallback.Cancel(key.ProjectName, key.InstanceKey)
	}
	s.pending.MarkCompleted(ctx, key)

	text := p.recognizedText()
	if text == "" {
		return
	}

	project, ok := s.state.GetProject(key.ProjectName)
	projectRealpath := ""
	if ok {
		projectRealpath = project.ProjectPath
	}

	paths := extractFilePaths(text, projectRealpath)
	body := p.str("text")
	if body == "" {
		body = text
	}
	if len(paths) > 0 {
		body = stripFilePaths(body, paths)
	}

	if body != "" {
		for _, chunk := range messaging.SplitText(body, 1900) {
			if _, err := s.msg.SendText(ctx, inst.ChannelID, chunk); err != nil {
				s.log.WithError(err).Warn("send text failed")
			}
		}
	}
	if len(paths) > 0 {
		files := make([]messaging.Attachment, 0, len(paths))
		for _, p := range paths {
			files = append(files, messaging.Attachment{Path: p})
		}
		if _, err := s.msg.SendTextWithFiles(ctx, inst.ChannelID, "", files); err != nil {
			s.log.WithError(err).Warn("send files failed")
		}
	}
}

func (s *Server) handleSessionError(ctx context.Context, key pending.Key, inst *state.Instance) {
	if s.fallback != nil {
		s.fallback.Cancel(key.ProjectName, key.InstanceKey)
	}
	s.pending.MarkError(ctx, key)
	_, _ = s.msg.SendText(ctx, inst.ChannelID, "⚠️ session error: the agent reported a failure.")
}

func (s *Server) handleSendFiles(c *gin.Context) {
	p, ok := s.bindPayload(c)
	if !ok {
		return
	}
	filesRaw, _ := p["files"].([]interface{})
	if len(filesRaw) == 0 {
		c.String(http.StatusBadRequest, "missing files")
		return
	}

	_, inst, err := router.ResolveInstance(s.state, p.str("projectName"), p.str("agentType"), "", p.str("instanceId"))
	if err != nil || inst.ChannelID == "" {
		c.String(http.StatusBadRequest, "no channel bound to this instance")
		return
	}

	files := make([]messaging.Attachment, 0, len(filesRaw))
	for _, f := range filesRaw {
		if s, ok := f.(string); ok {
			files = append(files, messaging.Attachment{Path: s})
		}
	}

	if _, err := s.msg.SendTextWithFiles(c.Request.Context(), inst.ChannelID, "", files); err != nil {
		c.String(http.StatusInternalServerError, "send failed: %v", err)
		return
	}
	c.String(http.StatusOK, "OK")
}

func (s *Server) handleWindows(c *gin.Context) {
	windows, err := s.rt.ListWindows(c.Request.Context(), "")
	if err != nil {
		c.String(http.StatusInternalServerError, "list windows failed: %v", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"windows": windows})
}

func (s *Server) handleEnsureWindow(c *gin.Context) {
	p, ok := s.bindPayload(c)
	if !ok {
		return
	}
	session := p.str("session")
	window := p.str("window")
	if session == "" || window == "" {
		c.String(http.StatusBadRequest, "missing session or window")
		return
	}

	ctx := c.Request.Context()
	if s.rt.WindowExists(ctx, session, window) {
		c.String(http.StatusOK, "OK")
		return
	}
	shellCommand := p.str("shellCommand")
	if shellCommand == "" {
		c.String(http.StatusBadRequest, "window missing and no shellCommand to start it")
		return
	}
	if err := s.rt.StartAgentInWindow(ctx, session, window, shellCommand); err != nil {
		c.String(http.StatusInternalServerError, "start window failed: %v", err)
		return
	}
	c.String(http.StatusOK, "OK")
}

func (s *Server) handleFocus(c *gin.Context) {
	var body struct {
		WindowID string `json:"windowId"`
	}
	if err := c.ShouldBindJSON(&body); err != nil || body.WindowID == "" {
		c.String(http.StatusBadRequest, "missing windowId")
		return
	}
	// The hook server only validates the request shape and acknowledges
	// it here; the stream server is not notified of the focus change.
	c.String(http.StatusOK, "OK")
}

func instanceKeyOf(inst *state.Instance) string {
	if inst.InstanceID != "" {
		return inst.InstanceID
	}
	return inst.AgentType
}
