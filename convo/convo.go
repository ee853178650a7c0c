// Package convo keeps the per-identity bounded conversation history used
// to build model context. Every backend trims oldest-first so a log never
// exceeds its configured window.
package convo

import (
	"context"
	"strings"
)

const DefaultMaxMessages = 30

type Entry struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type Store interface {
	// Load returns up to limit most recent entries in original order
	// (oldest of the returned window first).
	Load(ctx context.Context, identity string, limit int) ([]Entry, error)

	// Append adds entries to the end of the identity's log and evicts
	// from the front until the bounded window holds. Atomic per identity.
	Append(ctx context.Context, identity string, entries ...Entry) error
}

// DefaultFillerWords lists bare acknowledgements that carry no
// conversational value. Persisting them dilutes the history window.
var DefaultFillerWords = []string{
	"ok", "okay", "k", "kk", "hm", "hmm", "lol", "haha", "yes", "no",
	"yep", "nope", "thx", "thanks", "ty", "oh", "ah", "nice", "cool",
}

// LowValue reports whether text is a filler message that should be
// answered but not persisted. Extra words extend the default set.
func LowValue(text string, extra ...string) bool {
	norm := strings.ToLower(strings.TrimSpace(text))
	norm = strings.Trim(norm, ".!?,~ ")
	if norm == "" {
		return true
	}
	for _, w := range DefaultFillerWords {
		if norm == w {
			return true
		}
	}
	for _, w := range extra {
		if norm == strings.ToLower(strings.TrimSpace(w)) {
			return true
		}
	}
	return false
}

// SanitizeIdentity maps an opaque identity onto a filesystem/key safe
// token. Anything outside [A-Za-z0-9_-] collapses to a single underscore.
func SanitizeIdentity(identity string) string {
	identity = strings.TrimSpace(identity)
	if identity == "" {
		return "unknown"
	}
	var b strings.Builder
	b.Grow(len(identity))
	lastUnderscore := false
	for _, r := range identity {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastUnderscore = false
		case r == '-' || r == '_':
			b.WriteRune(r)
			lastUnderscore = false
		default:
			if !lastUnderscore {
				b.WriteRune('_')
				lastUnderscore = true
			}
		}
	}
	out := strings.Trim(b.String(), "_-")
	if out == "" {
		return "unknown"
	}
	return out
}

func trimWindow(entries []Entry, max int) []Entry {
	if max <= 0 || len(entries) <= max {
		return entries
	}
	return entries[len(entries)-max:]
}

func tailWindow(entries []Entry, limit int) []Entry {
	if limit <= 0 || limit >= len(entries) {
		limit = len(entries)
	}
	out := make([]Entry, limit)
	copy(out, entries[len(entries)-limit:])
	return out
}
