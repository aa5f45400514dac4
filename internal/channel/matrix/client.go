// Package matrix implements the Matrix channel for the bot using mautrix-go.
package matrix

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/format"
	"maunium.net/go/mautrix/id"

	"github.com/OmidH/llm-to-matrix/pkg/channel"
)

const maxMessageLen = 4000

// Config holds Matrix channel configuration.
type Config struct {
	Homeserver   string
	UserID       string // full id, e.g. "@bot:matrix.example.com"
	Password     string
	AccessToken  string // preferred over Password when set
	DeviceID     string
	DeviceName   string
	AllowedUsers []string
	DataDir      string
	// CommandPrefix marks a message as a command, e.g. "!c". It must be
	// followed by a space.
	CommandPrefix string
}

var _ channel.Channel = (*Channel)(nil)

// Channel implements the channel.Channel interface for Matrix.
type Channel struct {
	config    Config
	client    *mautrix.Client
	handler   channel.MessageHandler
	startTime int64
	handlers  sync.WaitGroup

	credFile string
}

// credentials holds saved Matrix login state.
type credentials struct {
	AccessToken string `json:"access_token"`
	UserID      string `json:"user_id"`
	DeviceID    string `json:"device_id"`
}

// New creates a new Matrix channel.
func New(cfg Config) *Channel {
	return &Channel{
		config:   cfg,
		credFile: filepath.Join(cfg.DataDir, "matrix_credentials.json"),
	}
}

// Name returns the channel identifier.
func (c *Channel) Name() string { return "matrix" }

// Start connects to Matrix and begins listening for messages.
// Retries password login with exponential backoff on failure.
func (c *Channel) Start(ctx context.Context, handler channel.MessageHandler) error {
	c.handler = handler
	c.startTime = time.Now().UnixMilli()

	if c.config.DataDir != "" {
		if err := os.MkdirAll(c.config.DataDir, 0o755); err != nil {
			return fmt.Errorf("create matrix data dir: %w", err)
		}
	}

	client, err := mautrix.NewClient(c.config.Homeserver, id.UserID(c.config.UserID), "")
	if err != nil {
		return fmt.Errorf("create matrix client: %w", err)
	}
	client.Log = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).
		Level(zerolog.WarnLevel).
		With().Timestamp().Str("component", "mautrix").Logger()
	client.Store = mautrix.NewMemorySyncStore()
	c.client = client

	if err := c.login(ctx); err != nil {
		return err
	}

	syncer := client.Syncer.(*mautrix.DefaultSyncer)
	syncer.OnEventType(event.EventMessage, func(ctx context.Context, evt *event.Event) {
		c.onMessage(ctx, evt)
	})
	syncer.OnEventType(event.StateMember, func(ctx context.Context, evt *event.Event) {
		c.onMemberEvent(ctx, evt)
	})

	slog.Info("matrix channel ready, starting sync", "user", client.UserID, "device", client.DeviceID)

	for {
		err := client.SyncWithContext(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if err != nil {
			slog.Warn("matrix sync error, reconnecting in 15s", "error", err)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(15 * time.Second):
			}
		}
	}
}

// login uses the configured access token, then saved credentials, then
// password login with retry.
func (c *Channel) login(ctx context.Context) error {
	if c.config.AccessToken != "" {
		c.client.AccessToken = c.config.AccessToken
		c.client.DeviceID = id.DeviceID(c.config.DeviceID)
		resp, err := c.client.Whoami(ctx)
		if err != nil {
			return fmt.Errorf("matrix token login: %w", err)
		}
		c.client.UserID = resp.UserID
		if resp.DeviceID != "" {
			c.client.DeviceID = resp.DeviceID
		}
		slog.Info("logged into Matrix with access token", "user", resp.UserID)
		return nil
	}

	if err := c.loadCredentials(); err == nil {
		slog.Info("loaded saved Matrix credentials", "user", c.client.UserID)
		return nil
	}
	return c.loginWithRetry(ctx)
}

// loginWithRetry handles Matrix password login with exponential backoff.
func (c *Channel) loginWithRetry(ctx context.Context) error {
	localpart, _, err := id.UserID(c.config.UserID).Parse()
	if err != nil {
		return fmt.Errorf("matrix login: parse user id: %w", err)
	}

	backoff := 2 * time.Second
	maxBackoff := 2 * time.Minute
	maxAttempts := 10

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		slog.Info("logging into Matrix",
			"user", c.config.UserID,
			"homeserver", c.config.Homeserver,
			"attempt", attempt,
		)

		resp, err := c.client.Login(ctx, &mautrix.ReqLogin{
			Type: mautrix.AuthTypePassword,
			Identifier: mautrix.UserIdentifier{
				Type: mautrix.IdentifierTypeUser,
				User: localpart,
			},
			Password:                 c.config.Password,
			DeviceID:                 id.DeviceID(c.config.DeviceID),
			InitialDeviceDisplayName: c.config.DeviceName,
			StoreCredentials:         true,
		})

		if err == nil {
			slog.Info("logged into Matrix", "user", resp.UserID, "device", resp.DeviceID)
			c.saveCredentials(credentials{
				AccessToken: resp.AccessToken,
				UserID:      string(resp.UserID),
				DeviceID:    string(resp.DeviceID),
			})
			return nil
		}

		if errors.Is(err, mautrix.MForbidden) ||
			errors.Is(err, mautrix.MUnknownToken) ||
			errors.Is(err, mautrix.MInvalidParam) {
			return fmt.Errorf("matrix login: %w (non-retryable)", err)
		}

		if attempt == maxAttempts {
			return fmt.Errorf("matrix login: %w (after %d attempts)", err, maxAttempts)
		}

		slog.Warn("matrix login failed, retrying",
			"error", err,
			"attempt", attempt,
			"backoff", backoff,
		)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}

		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}

	return fmt.Errorf("matrix login: exhausted retries")
}

// Send sends a notice to a Matrix room, splitting long messages. It returns
// the event id of the last chunk.
func (c *Channel) Send(ctx context.Context, resp channel.Response) (string, error) {
	roomID := id.RoomID(resp.RoomID)

	chunks := splitMessage(resp.Content, maxMessageLen)
	if len(chunks) == 0 {
		chunks = []string{""}
	}

	var last id.EventID
	for i, chunk := range chunks {
		if len(chunks) > 1 {
			chunk = fmt.Sprintf("[%d/%d] ", i+1, len(chunks)) + chunk
		}
		sent, err := c.client.SendMessageEvent(ctx, roomID, event.EventMessage, messageContent(chunk, resp.Markdown))
		if err != nil {
			slog.Error("matrix send failed", "room", roomID, "chunk", i+1, "error", err)
			return "", err
		}
		last = sent.EventID
		if i < len(chunks)-1 {
			time.Sleep(500 * time.Millisecond)
		}
	}
	slog.Info("matrix message sent", "room", roomID, "chunks", len(chunks), "total_len", len(resp.Content))
	return string(last), nil
}

func messageContent(text string, markdown bool) *event.MessageEventContent {
	content := event.MessageEventContent{MsgType: event.MsgNotice, Body: text}
	if markdown {
		content = format.RenderMarkdown(text, true, false)
		content.MsgType = event.MsgNotice
	}
	return &content
}

// SetTyping shows or clears the typing notification in a room.
func (c *Channel) SetTyping(ctx context.Context, roomID string, typing bool, timeout time.Duration) error {
	if _, err := c.client.UserTyping(ctx, id.RoomID(roomID), typing, timeout); err != nil {
		return fmt.Errorf("set typing: %w", err)
	}
	return nil
}

// React sends an annotation for eventID.
func (c *Channel) React(ctx context.Context, roomID, eventID, key string) error {
	if _, err := c.client.SendReaction(ctx, id.RoomID(roomID), id.EventID(eventID), key); err != nil {
		return fmt.Errorf("send reaction: %w", err)
	}
	return nil
}

// Stop stops syncing and waits for in-flight handlers.
func (c *Channel) Stop() error {
	if c.client != nil {
		c.client.StopSync()
	}
	c.handlers.Wait()
	return nil
}

// --- Event Handlers ---

func (c *Channel) onMessage(ctx context.Context, evt *event.Event) {
	if evt.Sender == c.client.UserID {
		return
	}
	if evt.Timestamp < c.startTime {
		return
	}
	if !c.isAllowed(evt.Sender) {
		return
	}

	msgContent := evt.Content.AsMessage()
	if msgContent == nil || msgContent.Body == "" {
		return
	}
	body, ok := stripPrefix(msgContent.Body, c.config.CommandPrefix)
	if !ok {
		return
	}

	slog.Info("matrix command received",
		"sender", evt.Sender,
		"room", evt.RoomID,
		"content", truncate(body, 100),
	)

	msg := channel.Message{
		Source:    "matrix",
		SenderID:  string(evt.Sender),
		RoomID:    string(evt.RoomID),
		EventID:   string(evt.ID),
		Content:   body,
		Timestamp: evt.Timestamp,
	}

	c.dispatch(ctx, msg)
}

// dispatch runs the handler on its own goroutine. Inference calls can take
// minutes; keep the sync loop moving. Stop waits for it.
func (c *Channel) dispatch(ctx context.Context, msg channel.Message) {
	c.handlers.Add(1)
	go func() {
		defer c.handlers.Done()
		if err := c.handler(ctx, msg); err != nil {
			slog.Error("message handler error", "error", err)
			if _, err := c.Send(ctx, channel.Response{
				RoomID:  msg.RoomID,
				Content: fmt.Sprintf("*(Error: %s)*", err),
			}); err != nil {
				slog.Warn("failed to deliver error notice", "room", msg.RoomID, "error", err)
			}
		}
	}()
}

func (c *Channel) onMemberEvent(ctx context.Context, evt *event.Event) {
	if evt.GetStateKey() != string(c.client.UserID) {
		return
	}

	memberContent := evt.Content.AsMember()
	if memberContent == nil || memberContent.Membership != event.MembershipInvite {
		return
	}

	if !c.isAllowed(evt.Sender) {
		slog.Warn("rejecting invite from unauthorized user", "sender", evt.Sender)
		return
	}

	slog.Info("accepting room invite", "room", evt.RoomID, "from", evt.Sender)
	if _, err := c.client.JoinRoomByID(ctx, evt.RoomID); err != nil {
		slog.Error("failed to join room", "room", evt.RoomID, "error", err)
	}
}

// --- Credentials ---

func (c *Channel) loadCredentials() error {
	data, err := os.ReadFile(c.credFile)
	if err != nil {
		return err
	}
	var creds credentials
	if err := json.Unmarshal(data, &creds); err != nil {
		return err
	}
	if creds.UserID != c.config.UserID {
		return fmt.Errorf("saved credentials belong to %s", creds.UserID)
	}
	c.client.AccessToken = creds.AccessToken
	c.client.UserID = id.UserID(creds.UserID)
	c.client.DeviceID = id.DeviceID(creds.DeviceID)
	return nil
}

func (c *Channel) saveCredentials(creds credentials) {
	data, _ := json.MarshalIndent(creds, "", "  ")
	if err := os.WriteFile(c.credFile, data, 0o600); err != nil {
		slog.Warn("failed to save Matrix credentials", "path", c.credFile, "error", err)
	}
}

// --- Helpers ---

func (c *Channel) isAllowed(sender id.UserID) bool {
	if len(c.config.AllowedUsers) == 0 || c.config.AllowedUsers[0] == "" {
		return true
	}
	for _, allowed := range c.config.AllowedUsers {
		if string(sender) == allowed {
			return true
		}
	}
	return false
}

// stripPrefix reports whether body is a command and returns it without the
// prefix and its trailing space.
func stripPrefix(body, prefix string) (string, bool) {
	if prefix == "" {
		return body, true
	}
	rest, ok := strings.CutPrefix(body, prefix+" ")
	if !ok {
		return "", false
	}
	return rest, true
}

func splitMessage(s string, maxLen int) []string {
	var chunks []string
	for len(s) > maxLen {
		cut := maxLen
		// Back off to a rune boundary.
		for cut > 0 && !isRuneStart(s[cut]) {
			cut--
		}
		if cut == 0 {
			cut = maxLen
		}
		chunks = append(chunks, s[:cut])
		s = s[cut:]
	}
	if len(s) > 0 {
		chunks = append(chunks, s)
	}
	return chunks
}

func isRuneStart(b byte) bool { return b&0xC0 != 0x80 }

func truncate(s string, n int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if len(s) > n {
		return s[:n] + "..."
	}
	return s
}
