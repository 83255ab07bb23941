package apiclient

import (
	"encoding/json"
	"net/http"
	"regexp"
	"strings"
)

// authMessagePattern matches server messages that describe an expired or
// invalid session. It is a heuristic on free text; structured codes take precedence.
var authMessagePattern = regexp.MustCompile(`(?i)token|jwt|autoriz`)

// isMutating reports whether method changes server state and therefore needs a CSRF token.
func isMutating(method string) bool {
	switch strings.ToUpper(method) {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return true
	}
	return false
}

// isPublicPath reports whether url matches one of the unauthenticated patterns.
func isPublicPath(url string, patterns []string) bool {
	for _, p := range patterns {
		if p != "" && strings.Contains(url, p) {
			return true
		}
	}
	return false
}

// parseErrorBody extracts the message and code from a JSON error body.
// Non-JSON bodies yield the trimmed text as message.
func parseErrorBody(body []byte) (message, code string) {
	var resp ErrorResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		text := strings.TrimSpace(string(body))
		if len(text) > 200 {
			text = text[:200]
		}
		return text, ""
	}
	message = resp.Message
	if message == "" {
		message = resp.Error
	} else if resp.Error != "" && resp.Error != resp.Message {
		message = resp.Error + ": " + resp.Message
	}
	return message, resp.Code
}

type classifier struct {
	codes map[string]struct{}
}

func newClassifier(codes []string) classifier {
	c := classifier{codes: make(map[string]struct{}, len(codes))}
	for _, code := range codes {
		c.codes[strings.ToUpper(code)] = struct{}{}
	}
	return c
}

// isAuthFailure reports whether err is a 401/403 caused by the session
// rather than by missing permissions.
func (c classifier) isAuthFailure(err *HTTPError) bool {
	if err.StatusCode != http.StatusUnauthorized && err.StatusCode != http.StatusForbidden {
		return false
	}
	if err.Code != "" {
		if _, ok := c.codes[strings.ToUpper(err.Code)]; ok {
			return true
		}
	}
	return authMessagePattern.MatchString(err.Message)
}
