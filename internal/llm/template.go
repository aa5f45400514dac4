package llm

import "strings"

// messagePlaceholder is replaced by the user's message in a prompt template.
const messagePlaceholder = "{message}"

// PrepareMessage substitutes msg into tmpl. A blank template yields msg unchanged.
func PrepareMessage(tmpl, msg string) string {
	if strings.TrimSpace(tmpl) == "" {
		return msg
	}
	return strings.ReplaceAll(tmpl, messagePlaceholder, msg)
}
