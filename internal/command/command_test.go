package command

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		raw  string
		kind Kind
		args []string
	}{
		{"echo hello there", Echo, []string{"hello", "there"}},
		{"react", React, []string{}},
		{"help commands", Help, []string{"commands"}},
		{"cm mistral:latest hello world", QueryNamedModel, []string{"mistral:latest", "hello", "world"}},
		{"li https://example.com", QueryLinkSummary, []string{"https://example.com"}},
		{"ls", QueryListModels, []string{}},
		{"code reverse a string in go", QueryCode, []string{"reverse", "a", "string", "in", "go"}},
		{"what is the capital of France", QueryDefault, []string{"is", "the", "capital", "of", "France"}},
		// prefix matching on the first token, in priority order
		{"list of things", QueryLinkSummary, []string{"of", "things"}},
		{"echoes", Echo, []string{}},
		{"", QueryDefault, []string{}},
		{"   ", QueryDefault, []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got := Classify(tt.raw)
			assert.Equal(t, tt.kind, got.Kind)
			assert.Equal(t, tt.args, got.Args)
			assert.NotNil(t, got.Args)
		})
	}
}

func TestClassifyDeterministic(t *testing.T) {
	for _, raw := range []string{"cm a b", "lsx", "codex", "hello"} {
		assert.Equal(t, Classify(raw), Classify(raw))
	}
}

func TestMessage(t *testing.T) {
	assert.Equal(t, "is go", Classify("what   is go").Message())
	assert.Equal(t, "", Classify("hello").Message())
	assert.Equal(t, "reverse a string", Classify("code reverse a string").Message())
	assert.Equal(t, "", Classify("code").Message())
}

func TestKindString(t *testing.T) {
	assert.Equal(t, "query_code", QueryCode.String())
	assert.Equal(t, "query_default", QueryDefault.String())
}
