package llm

import (
	"net/url"
	"regexp"
	"strings"
)

// linkPattern accepts http(s) URLs whose host is a domain, localhost, an IPv4
// or an IPv6 literal, with an optional port and path.
var linkPattern = regexp.MustCompile(`(?i)^(?:http)s?://` +
	`(?:(?:[A-Z0-9](?:[A-Z0-9-]{0,61}[A-Z0-9])?\.)+(?:[A-Z]{2,6}\.?|[A-Z0-9-]{2,}\.?)|` +
	`localhost|` +
	`\d{1,3}\.\d{1,3}\.\d{1,3}\.\d{1,3}|` +
	`\[?[A-F0-9]*:[A-F0-9:]+\]?)` +
	`(?::\d+)?` +
	`(?:/?|[/?]\S+)$`)

// ValidateURL normalises raw (defaulting the scheme to https) and checks it.
// It returns the normalised URL or an *InvalidURLError.
func ValidateURL(raw string) (string, error) {
	link := strings.TrimSpace(raw)
	if link == "" {
		return "", &InvalidURLError{URL: raw}
	}
	if !strings.Contains(link, "://") {
		link = "https://" + link
	}

	if !linkPattern.MatchString(link) {
		return "", &InvalidURLError{URL: raw}
	}
	parsed, err := url.Parse(link)
	if err != nil || parsed.Host == "" {
		return "", &InvalidURLError{URL: raw}
	}
	return link, nil
}
