package control

import (
	"errors"
	"strings"
)

// ErrMissingKey indicates a required Key:Value line was absent from a
// text-command response body (§4.3).
var ErrMissingKey = errors.New("control: required key missing from response")

// lookup returns the value of the first "key:" line in body, scanning
// CRLF-terminated lines up to the blank-line terminator. The match is
// literal (no wildcards); the returned value runs up to the next CR.
func lookup(body []byte, key string) (string, bool) {
	text := string(body)
	prefix := key + ":"

	for _, line := range strings.Split(text, "\r\n") {
		if line == "" {
			break
		}
		if strings.HasPrefix(line, prefix) {
			return strings.TrimPrefix(line, prefix), true
		}
	}
	return "", false
}

// requireKey is lookup but fails with ErrMissingKey when absent.
func requireKey(body []byte, key string) (string, error) {
	v, ok := lookup(body, key)
	if !ok {
		return "", ErrMissingKey
	}
	return v, nil
}

// buildBody renders an ordered list of Key:Value pairs as a
// CRLF-terminated text block ending in a blank line (§4.3's request
// templates).
func buildBody(pairs [][2]string) []byte {
	var b strings.Builder
	for _, kv := range pairs {
		b.WriteString(kv[0])
		b.WriteByte(':')
		b.WriteString(kv[1])
		b.WriteString("\r\n")
	}
	b.WriteString("\r\n")
	return []byte(b.String())
}
