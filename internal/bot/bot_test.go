package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/OmidH/llm-to-matrix/internal/llm"
	"github.com/OmidH/llm-to-matrix/pkg/channel"
	"github.com/OmidH/llm-to-matrix/pkg/conversation"
)

type fakeChat struct {
	mu        sync.Mutex
	sent      []channel.Response
	reactions []string
	typingOn  int
	typingOff int
	// typingDuringCall is the on-minus-off count seen by the backend.
	typingDuringCall int
}

func (c *fakeChat) Send(_ context.Context, resp channel.Response) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, resp)
	return fmt.Sprintf("$reply%d", len(c.sent)), nil
}

func (c *fakeChat) SetTyping(_ context.Context, _ string, on bool, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if on {
		c.typingOn++
	} else {
		c.typingOff++
	}
	return nil
}

func (c *fakeChat) React(_ context.Context, _, eventID, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reactions = append(c.reactions, eventID+" "+key)
	return nil
}

func (c *fakeChat) texts() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.sent))
	for i, r := range c.sent {
		out[i] = r.Content
	}
	return out
}

type fakeLLM struct {
	chat   *fakeChat
	gen    *llm.Generation
	err    error
	models []string
	calls  []*llm.Request
}

func (f *fakeLLM) Generate(_ context.Context, req *llm.Request) (*llm.Generation, error) {
	f.calls = append(f.calls, req)
	f.chat.mu.Lock()
	f.chat.typingDuringCall = f.chat.typingOn - f.chat.typingOff
	f.chat.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	g := *f.gen
	g.Model = req.Model
	return &g, nil
}

func (f *fakeLLM) ListModels(context.Context) ([]string, error) {
	return f.models, f.err
}

func i64(v int64) *int64 { return &v }

type harness struct {
	bot    *Bot
	chat   *fakeChat
	llm    *fakeLLM
	log    *conversation.MemoryLog
	events []Event
}

func newHarness(t *testing.T, extract llm.Extractor) *harness {
	t.Helper()
	h := &harness{
		chat: &fakeChat{},
		log:  conversation.NewMemoryLog(),
	}
	h.llm = &fakeLLM{chat: h.chat, gen: &llm.Generation{Response: "answer"}}
	builder := llm.NewBuilder(llm.Settings{
		Model:    "llama2:latest",
		Template: "[INST] {message} [/INST]",
		Stop:     "</s>",
	}, extract)
	h.bot = New(Config{
		Name:    "Llama",
		UserID:  "@bot:example.org",
		OnEvent: func(e Event) { h.events = append(h.events, e) },
	}, h.chat, h.llm, builder, h.log)
	return h
}

func (h *harness) handle(t *testing.T, content string) {
	t.Helper()
	err := h.bot.Handle(context.Background(), channel.Message{
		Source:   "matrix",
		SenderID: "@alice:example.org",
		RoomID:   "!room:example.org",
		EventID:  "$cmd",
		Content:  content,
	})
	require.NoError(t, err)
}

func TestNamedModelQuery(t *testing.T) {
	h := newHarness(t, nil)
	h.handle(t, "cm mistral:latest hello world")

	require.Len(t, h.llm.calls, 1)
	assert.Equal(t, "mistral:latest", h.llm.calls[0].Model)
	assert.Equal(t, "hello world", h.llm.calls[0].Prompt)
	assert.Equal(t, []string{"answer"}, h.chat.texts())

	entries := h.log.Entries()
	require.Len(t, entries, 2)
	user, assistant := entries[0], entries[1]

	assert.Equal(t, conversation.RoleUser, user.Role)
	assert.Equal(t, "hello world", user.Content)
	assert.Equal(t, "@alice:example.org", user.Sender)
	assert.Equal(t, conversation.KindCustom, user.Kind)
	require.NotNil(t, user.Model)
	assert.Equal(t, "mistral:latest", *user.Model)
	require.NotNil(t, user.EventID)
	assert.Equal(t, "$cmd", *user.EventID)

	assert.Equal(t, conversation.RoleAssistant, assistant.Role)
	assert.Equal(t, "@bot:example.org", assistant.Sender)
	assert.Equal(t, conversation.KindCustom, assistant.Kind)
	require.NotNil(t, assistant.EventID)
	assert.Equal(t, "$reply1", *assistant.EventID)
}

func TestDefaultQueryUsesTemplate(t *testing.T) {
	h := newHarness(t, nil)
	h.handle(t, "what is go")

	require.Len(t, h.llm.calls, 1)
	assert.Equal(t, "llama2:latest", h.llm.calls[0].Model)
	assert.Equal(t, "[INST] is go [/INST]", h.llm.calls[0].Prompt)

	entries := h.log.Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, "is go", entries[0].Content)
	assert.Nil(t, entries[0].Model)
	assert.Nil(t, entries[0].Prompt)
	assert.Equal(t, conversation.KindDefault, entries[0].Kind)
}

func TestHTTPErrorPersistsNoAssistantEntry(t *testing.T) {
	h := newHarness(t, nil)
	h.llm.err = &llm.HTTPError{StatusCode: 500, Body: "oops"}
	h.handle(t, "hello")

	texts := h.chat.texts()
	require.Len(t, texts, 1)
	assert.Contains(t, texts[0], "500")
	assert.Contains(t, texts[0], "oops")

	entries := h.log.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, conversation.RoleUser, entries[0].Role)
}

func TestTransportError(t *testing.T) {
	h := newHarness(t, nil)
	h.llm.err = &llm.TransportError{Op: "POST", Err: errors.New("dial tcp: connection refused")}
	h.handle(t, "hello")

	texts := h.chat.texts()
	require.Len(t, texts, 1)
	assert.True(t, strings.HasPrefix(texts[0], "An unknown error:"))
	assert.Len(t, h.log.Entries(), 1)
}

func TestTypingPairedOnEveryPath(t *testing.T) {
	for name, err := range map[string]error{
		"success":   nil,
		"http":      &llm.HTTPError{StatusCode: 502, Body: "bad gateway"},
		"transport": &llm.TransportError{Op: "POST", Err: errors.New("timeout")},
	} {
		t.Run(name, func(t *testing.T) {
			h := newHarness(t, nil)
			h.llm.err = err
			h.handle(t, "hi")

			assert.Equal(t, 1, h.chat.typingOn)
			assert.Equal(t, h.chat.typingOn, h.chat.typingOff)
			assert.Equal(t, 1, h.chat.typingDuringCall, "typing must be on during the call")
		})
	}
}

func TestThroughputAnnotation(t *testing.T) {
	h := newHarness(t, nil)
	h.llm.gen = &llm.Generation{Response: "a<0x0A>b", EvalCount: i64(100), EvalDuration: i64(2_000_000_000)}
	h.handle(t, "hi")

	texts := h.chat.texts()
	require.Len(t, texts, 2)
	assert.Equal(t, "a\nb", texts[0])
	assert.Equal(t, ">Your request has been answered by `llama2:latest` and took 2.000 seconds and generated 50.000 tokens/s", texts[1])

	entries := h.log.Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, "a\nb", entries[1].Content)
}

func TestZeroMetricsMessage(t *testing.T) {
	h := newHarness(t, nil)
	h.llm.gen = &llm.Generation{Response: "x", EvalCount: i64(0), EvalDuration: i64(0)}
	h.handle(t, "hi")

	texts := h.chat.texts()
	require.Len(t, texts, 2)
	assert.Contains(t, texts[1], "couldn't calculate the token generation rate")
}

func TestCodeQuery(t *testing.T) {
	h := newHarness(t, nil)
	h.handle(t, "code reverse a string")

	require.Len(t, h.llm.calls, 1)
	assert.Equal(t, llm.DefaultCodeModel, h.llm.calls[0].Model)

	entries := h.log.Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, conversation.KindCode, entries[0].Kind)
	assert.Equal(t, "reverse a string", entries[0].Content)
	require.NotNil(t, entries[0].Prompt)
	assert.Equal(t, h.llm.calls[0].Prompt, *entries[0].Prompt)
}

func TestLinkSummary(t *testing.T) {
	h := newHarness(t, func(context.Context, string) (string, error) { return "page text", nil })
	h.handle(t, "li example.com and more")

	texts := h.chat.texts()
	require.Len(t, texts, 2)
	assert.Equal(t, "This part of the message will be ignored\n>and more", texts[0])
	assert.Equal(t, "answer", texts[1])

	entries := h.log.Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, conversation.KindLink, entries[0].Kind)
	assert.Equal(t, "https://example.com", entries[0].Content)
}

func TestLinkSummaryInvalidURL(t *testing.T) {
	h := newHarness(t, func(context.Context, string) (string, error) { return "", nil })
	h.handle(t, "li not/a/url!")

	assert.Equal(t, []string{"The given URL is invalid\n>not/a/url!"}, h.chat.texts())
	assert.Empty(t, h.llm.calls)
	assert.Empty(t, h.log.Entries())
	assert.Zero(t, h.chat.typingOn)
}

func TestLinkSummaryExtractFailure(t *testing.T) {
	h := newHarness(t, func(context.Context, string) (string, error) { return "", errors.New("HTTP 404") })
	h.handle(t, "li example.com")

	texts := h.chat.texts()
	require.Len(t, texts, 1)
	assert.Contains(t, texts[0], "HTTP 404")
	assert.Empty(t, h.log.Entries())
}

func TestListModels(t *testing.T) {
	h := newHarness(t, nil)
	h.llm.models = []string{"llama2:latest", "mistral:latest"}
	h.handle(t, "ls")

	assert.Equal(t, []string{"Available models:\n⭑ llama2:latest\n⭑ mistral:latest"}, h.chat.texts())
	assert.Empty(t, h.log.Entries())
	assert.Equal(t, 1, h.chat.typingOn)
	assert.Equal(t, 1, h.chat.typingOff)
}

func TestListModelsError(t *testing.T) {
	h := newHarness(t, nil)
	h.llm.err = &llm.HTTPError{StatusCode: 404, Body: "not found"}
	h.handle(t, "ls")

	assert.Equal(t, []string{"An error occurred while fetching the API(404): not found"}, h.chat.texts())
	assert.Equal(t, h.chat.typingOn, h.chat.typingOff)
}

func TestSimpleResponders(t *testing.T) {
	tests := []struct {
		content string
		want    string
	}{
		{"echo hello there", "hello there"},
		{"help", "Hello, I am Llama! Use `help commands` to view available commands."},
		{"help rules", "These are the rules!"},
		{"help nope", "Unknown help topic!"},
	}
	for _, tt := range tests {
		t.Run(tt.content, func(t *testing.T) {
			h := newHarness(t, nil)
			h.handle(t, tt.content)
			assert.Equal(t, []string{tt.want}, h.chat.texts())
			assert.Empty(t, h.llm.calls)
			assert.Empty(t, h.log.Entries())
			assert.Zero(t, h.chat.typingOn)
		})
	}

	h := newHarness(t, nil)
	h.handle(t, "help commands")
	require.Len(t, h.chat.texts(), 1)
	assert.Contains(t, h.chat.texts()[0], "`ls`")
	assert.Contains(t, h.chat.texts()[0], "`code`")
}

func TestReact(t *testing.T) {
	h := newHarness(t, nil)
	h.handle(t, "react")

	assert.Equal(t, []string{"$cmd ⭐", "$cmd Some text"}, h.chat.reactions)
	assert.Empty(t, h.chat.texts())
}

func TestRepliesRenderMarkdown(t *testing.T) {
	h := newHarness(t, nil)
	h.handle(t, "hi")
	for _, r := range h.chat.sent {
		assert.True(t, r.Markdown)
		assert.Equal(t, "!room:example.org", r.RoomID)
	}
}

func TestEventsShareRequestID(t *testing.T) {
	h := newHarness(t, nil)
	h.handle(t, "hi")

	require.Len(t, h.events, 2)
	assert.Equal(t, EventReceived, h.events[0].Type)
	assert.Equal(t, EventReply, h.events[1].Type)
	assert.NotEmpty(t, h.events[0].RequestID)
	assert.Equal(t, h.events[0].RequestID, h.events[1].RequestID)
	assert.Equal(t, "query_default", h.events[0].Command)
}

type failingLog struct {
	conversation.Log
}

func (failingLog) Append(context.Context, conversation.Entry) error {
	return errors.New("disk full")
}

func TestAppendFailureDoesNotBlockReply(t *testing.T) {
	h := newHarness(t, nil)
	h.bot.log = failingLog{Log: h.log}
	h.handle(t, "hi")
	assert.Equal(t, []string{"answer"}, h.chat.texts())
}
