// Package command classifies chat commands into a closed set of kinds.
package command

import "strings"

// Kind is the classification of an inbound command.
type Kind int

const (
	Echo Kind = iota
	React
	Help
	QueryNamedModel
	QueryDefault
	QueryLinkSummary
	QueryCode
	QueryListModels
)

func (k Kind) String() string {
	switch k {
	case Echo:
		return "echo"
	case React:
		return "react"
	case Help:
		return "help"
	case QueryNamedModel:
		return "query_named_model"
	case QueryDefault:
		return "query_default"
	case QueryLinkSummary:
		return "query_link_summary"
	case QueryCode:
		return "query_code"
	case QueryListModels:
		return "query_list_models"
	}
	return "unknown"
}

// prefixes is checked in order; the first match wins.
var prefixes = []struct {
	prefix string
	kind   Kind
}{
	{"echo", Echo},
	{"react", React},
	{"help", Help},
	{"cm", QueryNamedModel},
	{"li", QueryLinkSummary},
	{"ls", QueryListModels},
	{"code", QueryCode},
}

// Command is a single classified instruction.
type Command struct {
	Raw  string
	Kind Kind
	// Args holds the tokens after the first one. Never nil.
	Args []string
}

// Classify maps raw command text (bot prefix already stripped) to a Command.
// Text that matches no known prefix is QueryDefault.
func Classify(raw string) Command {
	tokens := strings.Fields(raw)
	cmd := Command{
		Raw:  raw,
		Kind: QueryDefault,
		Args: []string{},
	}
	if len(tokens) == 0 {
		return cmd
	}
	cmd.Args = tokens[1:]

	first := tokens[0]
	for _, p := range prefixes {
		if strings.HasPrefix(first, p.prefix) {
			cmd.Kind = p.kind
			break
		}
	}
	return cmd
}

// Message returns the arguments joined with single spaces. The first token
// is never part of it, even for the catch-all default query.
func (c Command) Message() string {
	return strings.Join(c.Args, " ")
}
