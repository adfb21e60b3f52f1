// Package ai talks to the hosted speech-to-text and language model services.
// Every failure leaves this package as TranscriptionUnavailable or
// SuggestionUnavailable with credentials scrubbed from the message.
package ai

import (
	"regexp"
	"strings"
)

var (
	bearerTokenRE = regexp.MustCompile(`(?i)\bBearer\s+[A-Za-z0-9._-]+`)
	apiKeyParamRE = regexp.MustCompile(`(?i)((?:api[_-]?key|key)\s*[:=]\s*)([^\s&,;"]+)`)
)

func redactSecrets(s string, secrets ...string) string {
	if s == "" {
		return s
	}
	for _, secret := range secrets {
		if secret != "" {
			s = strings.ReplaceAll(s, secret, "[REDACTED]")
		}
	}
	s = bearerTokenRE.ReplaceAllString(s, "Bearer [REDACTED]")
	s = apiKeyParamRE.ReplaceAllString(s, "${1}[REDACTED]")
	return s
}
