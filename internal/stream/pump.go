package stream

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/discode/bridge/internal/common/logger"
	"github.com/discode/bridge/internal/runtime"
)

// windowPump polls one "<session>:<window>" pair at the server's tick
// interval and pushes frame/patch messages to the hub whenever the runtime's
// buffer changed, per §4.7's 33ms tick / patch-vs-frame rule.
type windowPump struct {
	windowID string
	session  string
	window   string

	rt             runtime.Runtime
	hub            *hub
	cols, rows     int
	tick           time.Duration
	patchThreshold float64

	seq         atomic.Uint64
	lastPlain   []string
	lastStyled  []runtime.StyledLine
	log         *logger.Logger
}

func newWindowPump(windowID, session, window string, rt runtime.Runtime, h *hub, cols, rows int, tick time.Duration, patchThreshold float64, log *logger.Logger) *windowPump {
	return &windowPump{
		windowID:       windowID,
		session:        session,
		window:         window,
		rt:             rt,
		hub:            h,
		cols:           cols,
		rows:           rows,
		tick:           tick,
		patchThreshold: patchThreshold,
		log:            log.WithFields(zap.String("component", "stream_pump"), zap.String("window", windowID)),
	}
}

// run polls until ctx is cancelled or the hub reports no remaining
// subscribers for this window.
func (p *windowPump) run(ctx context.Context) {
	ticker := time.NewTicker(p.tick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if p.hub.subscriberCount(p.windowID) == 0 {
				return
			}
			if !p.poll(ctx) {
				return
			}
		}
	}
}

// poll fetches one snapshot and emits a message if it changed. Returns
// false if the window is gone and the pump should stop.
func (p *windowPump) poll(ctx context.Context) bool {
	styled, err := p.rt.GetWindowFrame(ctx, p.session, p.window, p.cols, p.rows)
	if err != nil {
		if errors.Is(err, runtime.ErrWindowMissing) {
			p.emitExit()
			return false
		}
		p.log.WithError(err).Debug("get window frame failed")
		return true
	}
	if styled != nil {
		p.pollStyled(styled)
		return true
	}

	buf, err := p.rt.GetWindowBuffer(ctx, p.session, p.window)
	if err != nil {
		if errors.Is(err, runtime.ErrWindowMissing) {
			p.emitExit()
			return false
		}
		p.log.WithError(err).Debug("get window buffer failed")
		return true
	}
	p.pollPlain(strings.Split(buf, "\n"))
	return true
}

func (p *windowPump) pollPlain(lines []string) {
	if equalStrings(lines, p.lastPlain) {
		return
	}
	seq := p.seq.Add(1)
	if p.lastPlain != nil && len(lines) == len(p.lastPlain) {
		ops := diffStrings(p.lastPlain, lines)
		if float64(len(ops)) <= p.patchThreshold*float64(len(lines)) {
			p.lastPlain = lines
			p.sendPatch(seq, len(lines), ops)
			return
		}
	}
	p.lastPlain = lines
	p.sendFrame(seq, lines)
}

func (p *windowPump) pollStyled(frame *runtime.StyledFrame) {
	if equalStyledLines(frame.Lines, p.lastStyled) {
		return
	}
	seq := p.seq.Add(1)
	if p.lastStyled != nil && len(frame.Lines) == len(p.lastStyled) {
		ops := diffStyledLines(p.lastStyled, frame.Lines)
		if float64(len(ops)) <= p.patchThreshold*float64(len(frame.Lines)) {
			p.lastStyled = frame.Lines
			p.sendPatchStyled(seq, len(frame.Lines), ops)
			return
		}
	}
	p.lastStyled = frame.Lines
	p.sendFrameStyled(seq, frame)
}

func (p *windowPump) sendFrame(seq uint64, lines []string) {
	data, err := encode(TypeFrame, frameOut{WindowID: p.windowID, Seq: seq, Lines: lines})
	if err != nil {
		return
	}
	p.hub.broadcast(p.windowID, data)
}

func (p *windowPump) sendFrameStyled(seq uint64, frame *runtime.StyledFrame) {
	data, err := encode(TypeFrameStyled, frameStyledOut{
		WindowID:  p.windowID,
		Seq:       seq,
		Lines:     toStyledLineOut(frame.Lines),
		CursorRow: frame.CursorRow,
		CursorCol: frame.CursorCol,
	})
	if err != nil {
		return
	}
	p.hub.broadcast(p.windowID, data)
}

func (p *windowPump) sendPatch(seq uint64, lineCount int, ops []patchOp) {
	data, err := encode(TypePatch, patchOut{WindowID: p.windowID, Seq: seq, LineCount: lineCount, Ops: ops})
	if err != nil {
		return
	}
	p.hub.broadcast(p.windowID, data)
}

func (p *windowPump) sendPatchStyled(seq uint64, lineCount int, ops []patchStyledOp) {
	data, err := encode(TypePatchStyled, patchStyledOut{WindowID: p.windowID, Seq: seq, LineCount: lineCount, Ops: ops})
	if err != nil {
		return
	}
	p.hub.broadcast(p.windowID, data)
}

func (p *windowPump) emitExit() {
	data, err := encode(TypeWindowExit, windowExitOut{WindowID: p.windowID})
	if err != nil {
		return
	}
	p.hub.broadcast(p.windowID, data)
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func diffStrings(prev, next []string) []patchOp {
	var ops []patchOp
	for i := range next {
		if prev[i] != next[i] {
			ops = append(ops, patchOp{Index: i, Line: next[i]})
		}
	}
	return ops
}

func equalStyledLines(a, b []runtime.StyledLine) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !equalSegments(a[i].Segments, b[i].Segments) {
			return false
		}
	}
	return true
}

func equalSegments(a, b []runtime.Segment) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func diffStyledLines(prev, next []runtime.StyledLine) []patchStyledOp {
	var ops []patchStyledOp
	for i := range next {
		if !equalSegments(prev[i].Segments, next[i].Segments) {
			ops = append(ops, patchStyledOp{Index: i, Line: toStyledLineOut([]runtime.StyledLine{next[i]})[0]})
		}
	}
	return ops
}

func toStyledLineOut(lines []runtime.StyledLine) []styledLineOut {
	out := make([]styledLineOut, len(lines))
	for i, l := range lines {
		segs := make([]segmentOut, len(l.Segments))
		for j, s := range l.Segments {
			segs[j] = segmentOut{Text: s.Text, FG: s.FG, BG: s.BG, Bold: s.Bold, Italic: s.Italic, Underline: s.Underline}
		}
		out[i] = styledLineOut{Segments: segs}
	}
	return out
}
