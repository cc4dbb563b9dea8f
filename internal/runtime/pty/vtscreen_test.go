package pty

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScreen_PlainTextAndCursorMove(t *testing.T) {
	s := NewScreen(10, 3)
	s.Write([]byte("hi\r\nthere"))
	assert.Equal(t, "hi\nthere", s.PlainText())
}

func TestScreen_CarriageReturnOverwrites(t *testing.T) {
	s := NewScreen(10, 3)
	s.Write([]byte("hello\rHI"))
	assert.Equal(t, "HIllo", s.PlainText())
}

func TestScreen_ClearScreen(t *testing.T) {
	s := NewScreen(10, 3)
	s.Write([]byte("abc\x1b[2J"))
	assert.Equal(t, "", s.PlainText())
}

func TestScreen_EraseLine(t *testing.T) {
	s := NewScreen(10, 3)
	s.Write([]byte("abcdef"))
	s.Write([]byte("\x1b[3D")) // cursor back 3
	s.Write([]byte("\x1b[0K"))
	assert.Equal(t, "abc", s.PlainText())
}

func TestScreen_CursorPositionReport(t *testing.T) {
	s := NewScreen(80, 24)
	s.Write([]byte("abc"))
	resp := s.Write([]byte("\x1b[6n"))
	assert.Equal(t, "\x1b[1;4R", string(resp))
}

func TestScreen_DeviceAttributesReply(t *testing.T) {
	s := NewScreen(80, 24)
	resp := s.Write([]byte("\x1b[c"))
	assert.Equal(t, "\x1b[?1;2c", string(resp))
}

func TestScreen_AltScreenPreservesPrimary(t *testing.T) {
	s := NewScreen(10, 3)
	s.Write([]byte("primary"))
	s.Write([]byte("\x1b[?1049h"))
	s.Write([]byte("altscreen"))
	assert.Equal(t, "altscreen", s.PlainText())
	s.Write([]byte("\x1b[?1049l"))
	assert.Equal(t, "primary", s.PlainText())
}

func TestScreen_TabExpansion(t *testing.T) {
	s := NewScreen(20, 1)
	s.Write([]byte("a\tb"))
	text := s.PlainText()
	require.Len(t, text, 9) // 'a' at 0, tab to col 8, 'b' at 8
	assert.Equal(t, byte('a'), text[0])
	assert.Equal(t, byte('b'), text[8])
}

func TestScreen_SGRColorTracking(t *testing.T) {
	s := NewScreen(10, 1)
	s.Write([]byte("\x1b[31mred\x1b[0m"))
	frame := s.RenderFrame()
	require.NotEmpty(t, frame.Lines[0].Segments)
	assert.Equal(t, "red", frame.Lines[0].Segments[0].Text)
	assert.Equal(t, "red", frame.Lines[0].Segments[0].FG)
}

func TestScreen_TruecolorSGR(t *testing.T) {
	s := NewScreen(10, 1)
	s.Write([]byte("\x1b[38;2;10;20;30mx\x1b[0m"))
	frame := s.RenderFrame()
	assert.Equal(t, "#0a141e", frame.Lines[0].Segments[0].FG)
}

func TestScreen_BufferedEscapeAcrossWrites(t *testing.T) {
	s := NewScreen(10, 1)
	s.Write([]byte("\x1b[3"))
	s.Write([]byte("1mred"))
	frame := s.RenderFrame()
	assert.Equal(t, "red", frame.Lines[0].Segments[0].FG)
}

func TestScreen_OSCBackgroundQuery(t *testing.T) {
	s := NewScreen(10, 1)
	resp := s.Write([]byte("\x1b]11;?\x07"))
	assert.Contains(t, string(resp), "rgb:")
}

func TestScreen_KittyGraphicsQuerySuppressed(t *testing.T) {
	s := NewScreen(10, 1)
	resp := s.Write([]byte("\x1b_Gi=1,a=q\x1b\\"))
	assert.Empty(t, resp)
}

func TestStripANSI(t *testing.T) {
	assert.Equal(t, "hello", StripANSI("\x1b[31mhello\x1b[0m"))
}
