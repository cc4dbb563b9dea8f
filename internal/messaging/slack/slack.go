// Package slack implements messaging.Capability against the Slack Web API
// (REST) and Socket Mode (a websocket event feed), grounded on
// sderosiaux-claudeslack's slack.go/main.go: the same chat.postMessage /
// conversations.create / apps.connections.open request shapes and the same
// envelope-ack-then-dispatch Socket Mode loop, adapted from that project's
// one-shot CLI functions into a long-lived Capability the router and hook
// server hold a reference to.
//
// The transport for Socket Mode is gorilla/websocket rather than the
// example's golang.org/x/net/websocket. This client is the module's only
// websocket user; the stream server speaks over a plain Unix socket.
package slack

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/discode/bridge/internal/common/apperr"
	"github.com/discode/bridge/internal/common/logger"
	"github.com/discode/bridge/internal/messaging"
)

const (
	apiBase       = "https://slack.com/api/"
	maxSplitLen   = 3900 // §4.3's Slack text-limit budget
	reconnectWait = 2 * time.Second
)

// Adapter implements messaging.Capability for Slack.
type Adapter struct {
	botToken string
	appToken string
	baseURL  string // overridable in tests; defaults to apiBase

	httpClient *http.Client
	log        *logger.Logger

	mu      sync.Mutex
	handler messaging.InboundHandler

	wsMu sync.Mutex
	conn *websocket.Conn

	closed chan struct{}
}

// New builds a Slack adapter. Connect must be called to start receiving
// events.
func New(botToken, appToken string) *Adapter {
	return &Adapter{
		botToken:   botToken,
		appToken:   appToken,
		baseURL:    apiBase,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		log:        logger.Default().WithFields(zap.String("component", "messaging_slack")),
		closed:     make(chan struct{}),
	}
}

var _ messaging.Capability = (*Adapter)(nil)

type apiResponse struct {
	OK      bool            `json:"ok"`
	Error   string          `json:"error,omitempty"`
	Channel json.RawMessage `json:"channel,omitempty"`
	TS      string          `json:"ts,omitempty"`
	URL     string          `json:"url,omitempty"`
}

func (a *Adapter) callForm(ctx context.Context, method string, params url.Values) (*apiResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+method, strings.NewReader(params.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Authorization", "Bearer "+a.botToken)
	return a.doRequest(req)
}

func (a *Adapter) doRequest(req *http.Request) (*apiResponse, error) {
	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, apperr.Wrap(apperr.TransientIO, err, "slack api request")
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, apperr.Wrap(apperr.TransientIO, err, "read slack response")
	}
	var result apiResponse
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, apperr.Wrap(apperr.TransientIO, err, "decode slack response")
	}
	if !result.OK {
		return &result, apperr.New(apperr.MessagingFailure, "slack error: "+result.Error)
	}
	return &result, nil
}

// SendText implements messaging.Capability.
func (a *Adapter) SendText(ctx context.Context, channelID, text string) (string, error) {
	var lastTS string
	for _, chunk := range messaging.SplitText(text, maxSplitLen) {
		result, err := a.callForm(ctx, "chat.postMessage", url.Values{
			"channel": {channelID},
			"text":    {chunk},
		})
		if err != nil {
			return lastTS, err
		}
		lastTS = result.TS
	}
	return lastTS, nil
}

// SendTextWithFiles implements messaging.Capability. It sends the text
// first, then uploads each file with its own multipart POST to
// files.upload.
func (a *Adapter) SendTextWithFiles(ctx context.Context, channelID, text string, files []messaging.Attachment) (string, error) {
	ts, err := a.SendText(ctx, channelID, text)
	if err != nil {
		return ts, err
	}
	for _, f := range files {
		if err := a.uploadFile(ctx, channelID, f); err != nil {
			return ts, err
		}
	}
	return ts, nil
}

func (a *Adapter) uploadFile(ctx context.Context, channelID string, f messaging.Attachment) error {
	name := f.Filename
	if name == "" {
		name = filepath.Base(f.Path)
	}

	data, err := os.ReadFile(f.Path)
	if err != nil {
		return apperr.Wrap(apperr.TransientIO, err, "read attachment")
	}

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	_ = writer.WriteField("channels", channelID)
	_ = writer.WriteField("filename", name)
	part, err := writer.CreateFormFile("file", name)
	if err != nil {
		return err
	}
	if _, err := part.Write(data); err != nil {
		return err
	}
	if err := writer.Close(); err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"files.upload", &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+a.botToken)

	_, err = a.doRequest(req)
	return err
}

// AddReaction implements messaging.Capability.
func (a *Adapter) AddReaction(ctx context.Context, channelID, messageID, emoji string) error {
	_, err := a.callForm(ctx, "reactions.add", url.Values{
		"channel":   {channelID},
		"timestamp": {messageID},
		"name":      {strings.Trim(emoji, ":")},
	})
	return err
}

// RemoveReaction implements messaging.Capability.
func (a *Adapter) RemoveReaction(ctx context.Context, channelID, messageID, emoji string) error {
	_, err := a.callForm(ctx, "reactions.remove", url.Values{
		"channel":   {channelID},
		"timestamp": {messageID},
		"name":      {strings.Trim(emoji, ":")},
	})
	return err
}

// EnsureChannel implements messaging.Capability: create the channel, or
// fall back to a channel-list lookup if the name is already taken.
func (a *Adapter) EnsureChannel(ctx context.Context, name string) (string, error) {
	channelName := normalizeChannelName(name)
	result, err := a.callForm(ctx, "conversations.create", url.Values{"name": {channelName}})
	if err != nil {
		if apiErr, ok := apperr.As(err); ok && strings.Contains(apiErr.Error(), "name_taken") {
			return a.findChannelByName(ctx, channelName)
		}
		return "", err
	}
	var channel struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(result.Channel, &channel); err != nil {
		return "", apperr.Wrap(apperr.MessagingFailure, err, "parse created channel")
	}
	return channel.ID, nil
}

func (a *Adapter) findChannelByName(ctx context.Context, name string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.baseURL+"conversations.list?types=public_channel,private_channel&limit=1000", nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+a.botToken)

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return "", apperr.Wrap(apperr.TransientIO, err, "list channels")
	}
	defer resp.Body.Close()

	var result struct {
		OK       bool   `json:"ok"`
		Error    string `json:"error"`
		Channels []struct {
			ID   string `json:"id"`
			Name string `json:"name"`
		} `json:"channels"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", apperr.Wrap(apperr.TransientIO, err, "decode channel list")
	}
	if !result.OK {
		return "", apperr.New(apperr.MessagingFailure, "slack error: "+result.Error)
	}
	for _, ch := range result.Channels {
		if ch.Name == name {
			return ch.ID, nil
		}
	}
	return "", apperr.New(apperr.UnknownReference, "channel not found: "+name)
}

// RegisterInboundHandler implements messaging.Capability.
func (a *Adapter) RegisterInboundHandler(handler messaging.InboundHandler) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.handler = handler
}

func (a *Adapter) deliver(ctx context.Context, msg messaging.InboundMessage) {
	a.mu.Lock()
	handler := a.handler
	a.mu.Unlock()
	if handler != nil {
		handler(ctx, msg)
	}
}

// Close implements messaging.Capability.
func (a *Adapter) Close() error {
	close(a.closed)
	a.wsMu.Lock()
	defer a.wsMu.Unlock()
	if a.conn != nil {
		return a.conn.Close()
	}
	return nil
}

func normalizeChannelName(name string) string {
	n := strings.ToLower(name)
	n = strings.ReplaceAll(n, " ", "-")
	if len(n) > 80 {
		n = n[:80]
	}
	return n
}
