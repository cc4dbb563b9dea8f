// Package stream implements C8, the Unix-domain socket server (no named
// pipe on Windows) that streams terminal frames to local UI clients. Grounded
// structurally on kdlbs-kandev's internal/gateway/websocket.Hub: the same
// register/unregister channels, buffered per-client send queue, and
// non-blocking select{case client.send<-data: default:} fan-out, re-homed
// from a single global broadcast onto per-window subscriber sets and from
// an HTTP-upgraded gorilla/websocket.Conn onto a bare net.Conn, because
// this transport is a line-delimited JSON socket, not a browser WebSocket.
package stream

import "encoding/json"

// Inbound message types a client sends, one JSON object per line.
const (
	TypeHello     = "hello"
	TypeSubscribe = "subscribe"
	TypeFocus     = "focus"
	TypeInput     = "input"
	TypeResize    = "resize"
)

// Outbound message types the server sends.
const (
	TypeFrame       = "frame"
	TypeFrameStyled = "frame-styled"
	TypePatch       = "patch"
	TypePatchStyled = "patch-styled"
	TypeWindowExit  = "window-exit"
	TypeError       = "error"
)

// envelope is the wire shape every line carries: a type tag plus a raw
// payload decoded according to that tag.
type envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// subscribeMsg is the payload of an inbound "subscribe" message.
type subscribeMsg struct {
	WindowID string `json:"windowId"`
	Cols     int    `json:"cols"`
	Rows     int    `json:"rows"`
}

// focusMsg is the payload of an inbound "focus" message.
type focusMsg struct {
	WindowID string `json:"windowId"`
}

// inputMsg is the payload of an inbound "input" message; bytes arrive
// base64-encoded because terminal input is not guaranteed to be valid
// JSON-safe UTF-8.
type inputMsg struct {
	WindowID    string `json:"windowId"`
	BytesBase64 string `json:"bytesBase64"`
}

// resizeMsg is the payload of an inbound "resize" message.
type resizeMsg struct {
	WindowID string `json:"windowId"`
	Cols     int    `json:"cols"`
	Rows     int    `json:"rows"`
}

// segmentOut mirrors runtime.Segment for wire encoding.
type segmentOut struct {
	Text      string `json:"text"`
	FG        string `json:"fg,omitempty"`
	BG        string `json:"bg,omitempty"`
	Bold      bool   `json:"bold,omitempty"`
	Italic    bool   `json:"italic,omitempty"`
	Underline bool   `json:"underline,omitempty"`
}

type styledLineOut struct {
	Segments []segmentOut `json:"segments"`
}

// frameOut is the "frame" outbound payload.
type frameOut struct {
	WindowID string   `json:"windowId"`
	Seq      uint64   `json:"seq"`
	Lines    []string `json:"lines"`
}

// frameStyledOut is the "frame-styled" outbound payload.
type frameStyledOut struct {
	WindowID  string          `json:"windowId"`
	Seq       uint64          `json:"seq"`
	Lines     []styledLineOut `json:"lines"`
	CursorRow int             `json:"cursorRow"`
	CursorCol int             `json:"cursorCol"`
}

// patchOp is one replaced line in a patch payload.
type patchOp struct {
	Index int    `json:"index"`
	Line  string `json:"line"`
}

type patchStyledOp struct {
	Index int           `json:"index"`
	Line  styledLineOut `json:"line"`
}

// patchOut is the "patch" outbound payload.
type patchOut struct {
	WindowID  string    `json:"windowId"`
	Seq       uint64    `json:"seq"`
	LineCount int       `json:"lineCount"`
	Ops       []patchOp `json:"ops"`
}

type patchStyledOut struct {
	WindowID  string          `json:"windowId"`
	Seq       uint64          `json:"seq"`
	LineCount int             `json:"lineCount"`
	Ops       []patchStyledOp `json:"ops"`
}

// windowExitOut is the "window-exit" outbound payload.
type windowExitOut struct {
	WindowID string `json:"windowId"`
	Code     int    `json:"code"`
	Signal   string `json:"signal,omitempty"`
}

type errorOut struct {
	Message string `json:"message"`
}

func encode(msgType string, data interface{}) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	line, err := json.Marshal(envelope{Type: msgType, Data: raw})
	if err != nil {
		return nil, err
	}
	return append(line, '\n'), nil
}

// splitWindowID parses the "<session>:<window>" wire identifier.
func splitWindowID(id string) (session, window string, ok bool) {
	for i := 0; i < len(id); i++ {
		if id[i] == ':' {
			return id[:i], id[i+1:], true
		}
	}
	return "", "", false
}

func joinWindowID(session, window string) string {
	return session + ":" + window
}
