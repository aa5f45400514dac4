// Package bot turns classified chat commands into inference requests,
// replies and conversation log entries.
package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/OmidH/llm-to-matrix/internal/command"
	"github.com/OmidH/llm-to-matrix/internal/llm"
	"github.com/OmidH/llm-to-matrix/internal/render"
	"github.com/OmidH/llm-to-matrix/internal/typing"
	"github.com/OmidH/llm-to-matrix/pkg/channel"
	"github.com/OmidH/llm-to-matrix/pkg/conversation"
)

// Chat is the part of a channel the bot talks back through.
type Chat interface {
	Send(ctx context.Context, resp channel.Response) (string, error)
	SetTyping(ctx context.Context, roomID string, typing bool, timeout time.Duration) error
	React(ctx context.Context, roomID, eventID, key string) error
}

// Inference is the generation backend.
type Inference interface {
	Generate(ctx context.Context, req *llm.Request) (*llm.Generation, error)
	ListModels(ctx context.Context) ([]string, error)
}

// Event types published while a command is processed.
const (
	EventReceived = "received"
	EventReply    = "reply"
	EventError    = "error"
)

// Event describes one step of handling a command.
type Event struct {
	Type      string `json:"type"`
	RequestID string `json:"request_id"`
	RoomID    string `json:"room_id,omitempty"`
	Sender    string `json:"sender,omitempty"`
	Command   string `json:"command,omitempty"`
	Message   string `json:"message,omitempty"`
}

// Config wires a Bot.
type Config struct {
	// Name is how the bot introduces itself in help.
	Name string
	// UserID is recorded as the sender of assistant entries.
	UserID        string
	TypingTimeout time.Duration
	// OnEvent, if set, receives lifecycle events. It must not block.
	OnEvent func(Event)
}

// Bot handles commands from a chat channel.
type Bot struct {
	cfg     Config
	chat    Chat
	llm     Inference
	builder *llm.Builder
	log     conversation.Log
	typing  *typing.Indicator
}

// New creates a Bot.
func New(cfg Config, chat Chat, inference Inference, builder *llm.Builder, log conversation.Log) *Bot {
	return &Bot{
		cfg:     cfg,
		chat:    chat,
		llm:     inference,
		builder: builder,
		log:     log,
		typing:  typing.New(chat, cfg.TypingTimeout),
	}
}

// request carries the per-command state through the pipeline.
type request struct {
	id     string
	msg    channel.Message
	cmd    command.Command
	logger *slog.Logger
}

// Handle processes one inbound message. It has the channel.MessageHandler
// signature. Returned errors are delivery failures only; every recoverable
// problem is reported to the room instead.
func (b *Bot) Handle(ctx context.Context, msg channel.Message) error {
	cmd := command.Classify(msg.Content)
	req := &request{
		id:  uuid.NewString(),
		msg: msg,
		cmd: cmd,
	}
	req.logger = slog.With(
		"request_id", req.id,
		"room", msg.RoomID,
		"sender", msg.SenderID,
		"command", cmd.Kind.String(),
	)
	req.logger.Info("command received", "args", len(cmd.Args))
	b.emit(req, EventReceived, "")

	var err error
	switch cmd.Kind {
	case command.Echo:
		err = b.echo(ctx, req)
	case command.React:
		err = b.react(ctx, req)
	case command.Help:
		err = b.help(ctx, req)
	case command.QueryListModels:
		err = b.listModels(ctx, req)
	case command.QueryDefault, command.QueryNamedModel, command.QueryCode, command.QueryLinkSummary:
		err = b.query(ctx, req)
	default:
		err = fmt.Errorf("unhandled command kind %s", cmd.Kind)
	}

	if err != nil {
		req.logger.Error("command failed", "error", err)
		b.emit(req, EventError, err.Error())
	}
	return err
}

func (b *Bot) echo(ctx context.Context, req *request) error {
	_, err := b.send(ctx, req, strings.Join(req.cmd.Args, " "))
	return err
}

func (b *Bot) react(ctx context.Context, req *request) error {
	for _, key := range []string{"⭐", "Some text"} {
		if err := b.chat.React(ctx, req.msg.RoomID, req.msg.EventID, key); err != nil {
			return fmt.Errorf("react: %w", err)
		}
	}
	return nil
}

func (b *Bot) help(ctx context.Context, req *request) error {
	_, err := b.send(ctx, req, helpText(b.cfg.Name, req.cmd.Args))
	return err
}

func helpText(name string, args []string) string {
	if len(args) == 0 {
		return fmt.Sprintf("Hello, I am %s! Use `help commands` to view available commands.", name)
	}
	switch args[0] {
	case "rules":
		return "These are the rules!"
	case "commands":
		return "Available commands: \n" +
			"• `ls`: Lists all available models.\n" +
			"• `cm`: Queries a custom model. Example: `cm stablelm-zephyr-3b:latest _your query_`.\n" +
			"• `li`: Summarizes the content of a link. Example: `li https://www.example.com`.\n" +
			"• `code`: Generates code based on a given prompt. Example: `code give me a typescript function that mirrors a given string`.\n"
	}
	return "Unknown help topic!"
}

func (b *Bot) listModels(ctx context.Context, req *request) error {
	var names []string
	var err error
	b.typing.Around(ctx, req.msg.RoomID, func() {
		names, err = b.llm.ListModels(ctx)
	})

	reply := render.Models(names)
	if err != nil {
		reply = render.Error(err)
	}
	_, sendErr := b.send(ctx, req, reply.Text)
	return sendErr
}

// query runs the inference pipeline for the four generating kinds.
func (b *Bot) query(ctx context.Context, req *request) error {
	prepared, err := b.builder.Build(ctx, req.cmd)
	if err != nil {
		return b.rejectBuild(ctx, req, err)
	}
	if prepared.Ignored != "" {
		if _, err := b.send(ctx, req, render.Ignored(prepared.Ignored)); err != nil {
			return err
		}
	}

	kind := entryKind(req.cmd.Kind)
	b.record(ctx, req, conversation.Entry{
		Role:    conversation.RoleUser,
		Content: prepared.Input,
		Sender:  req.msg.SenderID,
		Kind:    kind,
		Model:   conversation.Ptr(prepared.PinnedModel),
		Prompt:  userPrompt(req.cmd.Kind, prepared.Request.Prompt),
		EventID: conversation.Ptr(req.msg.EventID),
	})

	var gen *llm.Generation
	b.typing.Around(ctx, req.msg.RoomID, func() {
		gen, err = b.llm.Generate(ctx, prepared.Request)
	})
	if err != nil {
		reply := render.Error(err)
		b.emit(req, EventError, err.Error())
		_, sendErr := b.send(ctx, req, reply.Text)
		return sendErr
	}

	reply := render.Generation(gen)
	eventID, err := b.send(ctx, req, reply.Text)
	if err != nil {
		return err
	}
	b.record(ctx, req, conversation.Entry{
		Role:    conversation.RoleAssistant,
		Content: reply.Text,
		Sender:  b.cfg.UserID,
		Kind:    kind,
		Model:   conversation.Ptr(gen.Model),
		Prompt:  conversation.Ptr(prepared.Request.Prompt),
		EventID: conversation.Ptr(eventID),
	})
	b.emit(req, EventReply, gen.Model)

	if reply.Annotation != "" {
		if _, err := b.send(ctx, req, reply.Annotation); err != nil {
			return err
		}
	}
	return nil
}

func (b *Bot) rejectBuild(ctx context.Context, req *request, err error) error {
	var uerr *llm.InvalidURLError
	text := fmt.Sprintf("An unknown error: %v", err)
	if errors.As(err, &uerr) {
		text = render.InvalidURL(uerr.URL)
	}
	req.logger.Warn("request not built", "error", err)
	b.emit(req, EventError, err.Error())
	_, sendErr := b.send(ctx, req, text)
	return sendErr
}

// record appends to the conversation log. Failures are logged, never
// returned, so the reply still reaches the room.
func (b *Bot) record(ctx context.Context, req *request, e conversation.Entry) {
	if err := b.log.Append(ctx, e); err != nil {
		req.logger.Warn("conversation append failed", "role", e.Role, "error", err)
	}
}

func (b *Bot) send(ctx context.Context, req *request, text string) (string, error) {
	eventID, err := b.chat.Send(ctx, channel.Response{
		RoomID:   req.msg.RoomID,
		Content:  text,
		Markdown: true,
	})
	if err != nil {
		return "", fmt.Errorf("send reply: %w", err)
	}
	return eventID, nil
}

func (b *Bot) emit(req *request, typ, message string) {
	if b.cfg.OnEvent == nil {
		return
	}
	b.cfg.OnEvent(Event{
		Type:      typ,
		RequestID: req.id,
		RoomID:    req.msg.RoomID,
		Sender:    req.msg.SenderID,
		Command:   req.cmd.Kind.String(),
		Message:   message,
	})
}

func entryKind(k command.Kind) conversation.Kind {
	switch k {
	case command.QueryNamedModel:
		return conversation.KindCustom
	case command.QueryCode:
		return conversation.KindCode
	case command.QueryLinkSummary:
		return conversation.KindLink
	}
	return conversation.KindDefault
}

// userPrompt is stored with the user turn only for kinds whose prompt is
// generated from a fixed instruction.
func userPrompt(k command.Kind, prompt string) *string {
	if k == command.QueryCode || k == command.QueryLinkSummary {
		return conversation.Ptr(prompt)
	}
	return nil
}
