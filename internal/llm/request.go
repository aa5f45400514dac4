package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/ollama/ollama/api"

	"github.com/OmidH/llm-to-matrix/internal/command"
)

const (
	// DefaultCodeModel answers code commands unless configured otherwise.
	DefaultCodeModel = "deepseek-coder-6.7b-instruct:latest"
	// DefaultSummaryModel answers link-summary commands unless configured otherwise.
	DefaultSummaryModel = "mistral-7b-instruct:latest"
)

const codePrompt = "Please generate a short and accurate code snippet based on the following specifications. " +
	"The code should be precise, efficient, and adhere closely to the requirements. " +
	"Ensure the solution is concise and to the point.\n%s"

const summaryPrompt = "Please provide a brief summary of the following content, ensuring to use the same language " +
	"as the original. Keep the summary concise.\n\n---\n%s\n---\nEnd of content."

// Options are the sampling parameters sent with every generate call.
type Options struct {
	Temperature   float64
	TopK          int
	TopP          float64
	RepeatPenalty float64
	RepeatLastN   int
	NumCtx        int
	NumPredict    int
	Seed          int
	Stop          []string
}

// Request is a single generate call.
type Request struct {
	Model   string
	Prompt  string
	Options Options
}

// Payload converts r into the wire request. Streaming is always off.
func (r *Request) Payload() *api.GenerateRequest {
	stream := false
	stop := r.Options.Stop
	if stop == nil {
		stop = []string{}
	}
	return &api.GenerateRequest{
		Model:  r.Model,
		Prompt: r.Prompt,
		Stream: &stream,
		Options: map[string]any{
			"seed":           r.Options.Seed,
			"num_predict":    r.Options.NumPredict,
			"top_k":          r.Options.TopK,
			"top_p":          r.Options.TopP,
			"repeat_last_n":  r.Options.RepeatLastN,
			"temperature":    r.Options.Temperature,
			"repeat_penalty": r.Options.RepeatPenalty,
			"stop":           stop,
			"num_ctx":        r.Options.NumCtx,
		},
	}
}

// Settings is the part of the bot configuration the builder needs.
type Settings struct {
	Model        string
	CodeModel    string
	SummaryModel string
	Template     string
	Stop         string
	Sampling     Options
}

// Extractor turns a page URL into its main text content.
type Extractor func(ctx context.Context, url string) (string, error)

// Prepared is a built request plus what the orchestrator needs to log and
// report about it.
type Prepared struct {
	Request *Request
	// Input is the user's side of the exchange as it is logged.
	Input string
	// PinnedModel is set when the user chose the model explicitly.
	PinnedModel string
	// Ignored holds arguments the command discarded.
	Ignored string
}

// Builder assembles requests from classified commands.
type Builder struct {
	settings Settings
	extract  Extractor
}

// NewBuilder creates a builder. extract may be nil when link summaries are
// not needed.
func NewBuilder(s Settings, extract Extractor) *Builder {
	if s.CodeModel == "" {
		s.CodeModel = DefaultCodeModel
	}
	if s.SummaryModel == "" {
		s.SummaryModel = DefaultSummaryModel
	}
	return &Builder{settings: s, extract: extract}
}

// Build creates the request for a query command. Link summaries fail with
// *InvalidURLError for a rejected URL.
func (b *Builder) Build(ctx context.Context, cmd command.Command) (*Prepared, error) {
	switch cmd.Kind {
	case command.QueryDefault:
		return b.defaultQuery(cmd.Message()), nil

	case command.QueryNamedModel:
		if len(cmd.Args) == 0 {
			return b.defaultQuery(""), nil
		}
		message := strings.Join(cmd.Args[1:], " ")
		return &Prepared{
			Request:     b.request(cmd.Args[0], message, nil),
			Input:       message,
			PinnedModel: cmd.Args[0],
		}, nil

	case command.QueryCode:
		message := strings.TrimSpace(cmd.Message())
		return &Prepared{
			Request: b.request(b.settings.CodeModel, fmt.Sprintf(codePrompt, message), nil),
			Input:   message,
		}, nil

	case command.QueryLinkSummary:
		return b.linkSummary(ctx, cmd.Args)

	default:
		return nil, fmt.Errorf("no request for %s command", cmd.Kind)
	}
}

func (b *Builder) defaultQuery(message string) *Prepared {
	var stop []string
	if b.settings.Stop != "" {
		stop = []string{b.settings.Stop}
	}
	return &Prepared{
		Request: b.request(b.settings.Model, PrepareMessage(b.settings.Template, message), stop),
		Input:   message,
	}
}

func (b *Builder) linkSummary(ctx context.Context, args []string) (*Prepared, error) {
	var raw string
	if len(args) > 0 {
		raw = args[0]
	}
	link, err := ValidateURL(raw)
	if err != nil {
		return nil, err
	}
	if b.extract == nil {
		return nil, fmt.Errorf("link summaries are not available")
	}

	content, err := b.extract(ctx, link)
	if err != nil {
		return nil, fmt.Errorf("extract %s: %w", link, err)
	}

	p := &Prepared{
		Request: b.request(b.settings.SummaryModel, fmt.Sprintf(summaryPrompt, content), nil),
		Input:   link,
	}
	if len(args) > 1 {
		p.Ignored = strings.TrimSpace(strings.Join(args[1:], " "))
	}
	return p, nil
}

func (b *Builder) request(model, prompt string, stop []string) *Request {
	opts := b.settings.Sampling
	opts.Stop = stop
	return &Request{Model: model, Prompt: prompt, Options: opts}
}
