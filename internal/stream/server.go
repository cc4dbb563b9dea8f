package stream

import (
	"bufio"
	"context"
	"encoding/base64"
	"encoding/json"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/discode/bridge/internal/common/logger"
	"github.com/discode/bridge/internal/runtime"
)

const (
	defaultCols = 120
	defaultRows = 40
)

// Server listens on a Unix-domain socket only (it has no named-pipe
// listener for Windows) and speaks the line-delimited JSON protocol of §4.7
// to every connected UI client.
type Server struct {
	path           string
	rt             runtime.Runtime
	tick           time.Duration
	emitFloor      time.Duration
	patchThreshold float64
	log            *logger.Logger

	hub *hub

	mu    sync.Mutex
	pumps map[string]context.CancelFunc

	ln net.Listener
}

// New builds a stream server bound to socketPath, not yet listening.
func New(socketPath string, rt runtime.Runtime, tick, emitFloor time.Duration, patchThreshold float64) *Server {
	log := logger.Default().WithFields(zap.String("component", "stream"))
	return &Server{
		path:           socketPath,
		rt:             rt,
		tick:           tick,
		emitFloor:      emitFloor,
		patchThreshold: patchThreshold,
		log:            log,
		hub:            newHub(log),
		pumps:          make(map[string]context.CancelFunc),
	}
}

// ListenAndServe binds the socket and serves connections until ctx is
// cancelled.
func (s *Server) ListenAndServe(ctx context.Context) error {
	if dir := filepath.Dir(s.path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return err
		}
	}
	_ = os.Remove(s.path)

	ln, err := net.Listen("unix", s.path)
	if err != nil {
		return err
	}
	s.ln = ln
	_ = os.Chmod(s.path, 0o600)

	done := make(chan struct{})
	go s.hub.run(done)

	go func() {
		<-ctx.Done()
		close(done)
		s.stopAllPumps()
		_ = ln.Close()
		_ = os.Remove(s.path)
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				return err
			}
		}
		go s.serveConn(ctx, conn)
	}
}

func (s *Server) serveConn(ctx context.Context, conn net.Conn) {
	c := newClient()
	s.hub.register <- c
	defer func() {
		s.hub.unregister <- c
		_ = conn.Close()
	}()

	go s.writePump(conn, c)
	s.readPump(ctx, conn, c)
}

func (s *Server) writePump(conn net.Conn, c *client) {
	var lastSent time.Time
	for data := range c.send {
		if !lastSent.IsZero() && time.Since(lastSent) < s.emitFloor {
			continue
		}
		if _, err := conn.Write(data); err != nil {
			return
		}
		lastSent = time.Now()
	}
}

func (s *Server) readPump(ctx context.Context, conn net.Conn, c *client) {
	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		var env envelope
		if err := json.Unmarshal(scanner.Bytes(), &env); err != nil {
			s.writeError(c, "malformed message")
			continue
		}
		s.handle(ctx, c, env)
	}
}

func (s *Server) handle(ctx context.Context, c *client, env envelope) {
	switch env.Type {
	case TypeHello:
		data, _ := encode(TypeHello, map[string]string{"status": "ok"})
		c.trySend(data)
	case TypeSubscribe:
		var msg subscribeMsg
		if err := json.Unmarshal(env.Data, &msg); err != nil || msg.WindowID == "" {
			s.writeError(c, "invalid subscribe payload")
			return
		}
		s.hub.subscribe(c, msg.WindowID)
		s.ensurePump(ctx, msg.WindowID, msg.Cols, msg.Rows)
	case TypeFocus:
		var msg focusMsg
		if err := json.Unmarshal(env.Data, &msg); err != nil || msg.WindowID == "" {
			s.writeError(c, "invalid focus payload")
			return
		}
		data, _ := encode(TypeFocus, focusMsg{WindowID: msg.WindowID})
		c.trySend(data)
	case TypeInput:
		s.handleInput(ctx, env)
	case TypeResize:
		s.handleResize(ctx, env)
	default:
		s.writeError(c, "unknown message type")
	}
}

// handleInput decodes the base64 payload and types it into the window via
// the runtime's TypeKeysToWindow. There is no raw-byte write primitive in
// the Runtime interface by design (§4.2 only exposes keystroke-level
// operations), so terminal input from the stream client is treated as
// typed text rather than a raw PTY write.
func (s *Server) handleInput(ctx context.Context, env envelope) {
	var msg inputMsg
	if err := json.Unmarshal(env.Data, &msg); err != nil {
		return
	}
	session, window, ok := splitWindowID(msg.WindowID)
	if !ok {
		return
	}
	raw, err := base64.StdEncoding.DecodeString(msg.BytesBase64)
	if err != nil {
		return
	}
	if err := s.rt.TypeKeysToWindow(ctx, session, window, string(raw), ""); err != nil {
		s.log.WithError(err).Debug("stream input failed")
	}
}

func (s *Server) handleResize(ctx context.Context, env envelope) {
	var msg resizeMsg
	if err := json.Unmarshal(env.Data, &msg); err != nil {
		return
	}
	session, window, ok := splitWindowID(msg.WindowID)
	if !ok {
		return
	}
	if err := s.rt.ResizeWindow(ctx, session, window, msg.Cols, msg.Rows); err != nil {
		s.log.WithError(err).Debug("stream resize failed")
	}
}

func (s *Server) writeError(c *client, message string) {
	data, err := encode(TypeError, errorOut{Message: message})
	if err != nil {
		return
	}
	c.trySend(data)
}

func (s *Server) ensurePump(ctx context.Context, windowID string, cols, rows int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.pumps[windowID]; ok {
		return
	}
	if cols <= 0 {
		cols = defaultCols
	}
	if rows <= 0 {
		rows = defaultRows
	}
	session, window, ok := splitWindowID(windowID)
	if !ok {
		return
	}
	pumpCtx, cancel := context.WithCancel(ctx)
	s.pumps[windowID] = cancel
	pump := newWindowPump(windowID, session, window, s.rt, s.hub, cols, rows, s.tick, s.patchThreshold, s.log)
	go func() {
		pump.run(pumpCtx)
		s.mu.Lock()
		delete(s.pumps, windowID)
		s.mu.Unlock()
	}()
}

func (s *Server) stopAllPumps() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, cancel := range s.pumps {
		cancel()
		delete(s.pumps, id)
	}
}
