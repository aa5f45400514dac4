// Package render turns inference outcomes into chat messages.
package render

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/OmidH/llm-to-matrix/internal/llm"
)

// newlineArtifact is emitted literally by some backends instead of "\n".
const newlineArtifact = "<0x0A>"

// NoRateMessage is sent when the backend reports a zero count or duration.
const NoRateMessage = ">Your request took some time but couldn't calculate the token generation rate " +
	"due to zero values of eval_duration or eval_count"

// Reply is what the bot sends for one outcome. Annotation is empty when
// there is nothing to add.
type Reply struct {
	Text       string
	Annotation string
}

// Normalize replaces the backend newline artifact with a real newline.
func Normalize(s string) string {
	return strings.ReplaceAll(s, newlineArtifact, "\n")
}

// Throughput returns tokens per second and elapsed seconds. ok is false when
// either input is zero.
func Throughput(evalCount, evalDurationNs int64) (rate, elapsed float64, ok bool) {
	if evalCount == 0 || evalDurationNs == 0 {
		return 0, 0, false
	}
	elapsed = float64(evalDurationNs) / 1e9
	return float64(evalCount) / elapsed, elapsed, true
}

// Generation renders a successful generate call.
func Generation(gen *llm.Generation) Reply {
	r := Reply{Text: Normalize(gen.Response)}
	if gen.EvalCount == nil || gen.EvalDuration == nil {
		return r
	}
	rate, elapsed, ok := Throughput(*gen.EvalCount, *gen.EvalDuration)
	if !ok {
		r.Annotation = NoRateMessage
		return r
	}
	r.Annotation = fmt.Sprintf(">Your request has been answered by `%s` and took %.3f seconds and generated %.3f tokens/s",
		gen.Model, elapsed, rate)
	return r
}

// Error renders a failed call to the inference API.
func Error(err error) Reply {
	var herr *llm.HTTPError
	if errors.As(err, &herr) {
		return Reply{Text: fmt.Sprintf("An error occurred while fetching the API(%d): %s", herr.StatusCode, herr.Body)}
	}
	slog.Error("inference request failed", "error", err)
	return Reply{Text: fmt.Sprintf("An unknown error: %v", err)}
}

// Models renders the list-models reply.
func Models(names []string) Reply {
	var sb strings.Builder
	sb.WriteString("Available models:")
	for _, name := range names {
		sb.WriteString("\n⭑ ")
		sb.WriteString(name)
	}
	return Reply{Text: sb.String()}
}

// InvalidURL renders the rejection of a link-summary URL.
func InvalidURL(raw string) string {
	return "The given URL is invalid\n>" + raw
}

// Ignored renders the notice for link-summary arguments after the URL.
func Ignored(rest string) string {
	return "This part of the message will be ignored\n>" + rest
}
