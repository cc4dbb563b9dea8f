package messaging

import (
	"context"
	"fmt"
	"sync"
)

// Fake is an in-memory Capability test double shared by the pending,
// router, and hookserver package tests. It records every call instead of
// talking to a real chat platform.
type Fake struct {
	mu sync.Mutex

	nextID    int
	Sent      []FakeSent
	Reactions []FakeReaction
	Channels  map[string]string // name -> id

	handler InboundHandler
}

// FakeSent records one SendText/SendTextWithFiles call.
type FakeSent struct {
	ChannelID string
	Text      string
	Files     []Attachment
	MessageID string
}

// FakeReaction records one AddReaction/RemoveReaction call.
type FakeReaction struct {
	ChannelID string
	MessageID string
	Emoji     string
	Added     bool // false means removed
}

// NewFake builds an empty fake capability.
func NewFake() *Fake {
	return &Fake{Channels: make(map[string]string)}
}

func (f *Fake) nextMessageID() string {
	f.nextID++
	return fmt.Sprintf("fake-msg-%d", f.nextID)
}

func (f *Fake) SendText(ctx context.Context, channelID, text string) (string, error) {
	return f.SendTextWithFiles(ctx, channelID, text, nil)
}

func (f *Fake) SendTextWithFiles(ctx context.Context, channelID, text string, files []Attachment) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := f.nextMessageID()
	f.Sent = append(f.Sent, FakeSent{ChannelID: channelID, Text: text, Files: files, MessageID: id})
	return id, nil
}

func (f *Fake) AddReaction(ctx context.Context, channelID, messageID, emoji string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Reactions = append(f.Reactions, FakeReaction{ChannelID: channelID, MessageID: messageID, Emoji: emoji, Added: true})
	return nil
}

func (f *Fake) RemoveReaction(ctx context.Context, channelID, messageID, emoji string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Reactions = append(f.Reactions, FakeReaction{ChannelID: channelID, MessageID: messageID, Emoji: emoji, Added: false})
	return nil
}

func (f *Fake) EnsureChannel(ctx context.Context, name string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if id, ok := f.Channels[name]; ok {
		return id, nil
	}
	id := fmt.Sprintf("fake-chan-%d", len(f.Channels)+1)
	f.Channels[name] = id
	return id, nil
}

func (f *Fake) RegisterInboundHandler(handler InboundHandler) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handler = handler
}

// Deliver invokes the registered inbound handler, as an adapter would on
// receiving a chat message. No-op if nothing has registered yet.
func (f *Fake) Deliver(ctx context.Context, msg InboundMessage) {
	f.mu.Lock()
	h := f.handler
	f.mu.Unlock()
	if h != nil {
		h(ctx, msg)
	}
}

func (f *Fake) Connect(ctx context.Context) error {
	<-ctx.Done()
	return ctx.Err()
}

func (f *Fake) Close() error { return nil }

// LastReactionFor returns the most recent reaction recorded for messageID,
// or false if none exists.
func (f *Fake) LastReactionFor(messageID string) (FakeReaction, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var last FakeReaction
	found := false
	for _, r := range f.Reactions {
		if r.MessageID == messageID {
			last = r
			found = true
		}
	}
	return last, found
}

var _ Capability = (*Fake)(nil)
