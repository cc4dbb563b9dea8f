// Package messaging defines the chat-platform contract every other
// component depends on instead of a concrete Discord or Slack client, plus
// the platform-agnostic text-splitting helper both adapters need.
package messaging

import "context"

// Attachment is a file to send alongside (or instead of) text.
type Attachment struct {
	Path     string // absolute local path
	Filename string // display name; defaults to filepath.Base(Path) when empty
}

// InboundMessage is what an adapter hands to the router for every message
// posted by a human in a channel the bridge is watching.
type InboundMessage struct {
	ProjectName string
	AgentType   string
	Content     string
	ChannelID   string
	MessageID   string
	InstanceID  string // may be empty; the router resolves it
	Attachments []InboundAttachment
}

// InboundAttachment is a file attached to an inbound message, not yet
// downloaded to disk.
type InboundAttachment struct {
	Filename string
	URL      string
	Size     int64
}

// InboundHandler receives every inbound message the adapter accepts.
type InboundHandler func(ctx context.Context, msg InboundMessage)

// Capability is the contract every core component (C4/C5/C6/C9) consumes.
// Nothing outside this package and its adapters may import a
// platform-specific type.
type Capability interface {
	// SendText posts text to channelID, splitting per platform limits and
	// preserving code-fence balance across chunks. Returns the id of the
	// last message sent.
	SendText(ctx context.Context, channelID, text string) (messageID string, err error)

	// SendTextWithFiles posts text (optional) plus file attachments.
	SendTextWithFiles(ctx context.Context, channelID, text string, files []Attachment) (messageID string, err error)

	// AddReaction adds (or replaces, platform permitting) this bot's own
	// reaction on a message.
	AddReaction(ctx context.Context, channelID, messageID, emoji string) error

	// RemoveReaction removes this bot's own reaction from a message.
	RemoveReaction(ctx context.Context, channelID, messageID, emoji string) error

	// EnsureChannel returns the id of a channel named name, creating it if
	// the platform supports channel creation and none exists yet.
	EnsureChannel(ctx context.Context, name string) (channelID string, err error)

	// RegisterInboundHandler installs the handler invoked for every inbound
	// message. Only one handler is supported; a later call replaces the
	// earlier one.
	RegisterInboundHandler(handler InboundHandler)

	// Connect starts the adapter's event loop (Socket Mode, gateway, ...)
	// and blocks until ctx is cancelled or a fatal connection error occurs.
	Connect(ctx context.Context) error

	// Close releases any held connection.
	Close() error
}
