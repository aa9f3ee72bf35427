// Package sessions maps a session key to a stable per-session transcript
// file and appends JSONL message entries to it. Ported from
// clawdex/src/sessions.rs; the original's hand-rolled FNV-1a-64 arithmetic
// is replaced with the stdlib hash/fnv implementation, which is the same
// algorithm and is not cryptographic, so no fidelity is lost.
package sessions

import (
	"fmt"
	"hash/fnv"
	"path/filepath"
	"strings"

	"github.com/advatar/clawdex-sub000/internal/clock"
	"github.com/advatar/clawdex-sub000/internal/jsonfile"
)

const maxSanitizedLen = 48

// TranscriptPath returns the JSONL transcript file for sessionKey under
// sessionsDir. A blank key gets the fixed name "session-unknown.jsonl";
// otherwise the key is sanitized to [A-Za-z0-9_-], truncated to 48 runes,
// and suffixed with a 16-hex-digit FNV-1a 64 hash of the trimmed, unsanitized key so
// distinct keys never collide after sanitization/truncation.
func TranscriptPath(sessionsDir, sessionKey string) string {
	trimmed := strings.TrimSpace(sessionKey)
	if trimmed == "" {
		return filepath.Join(sessionsDir, "session-unknown.jsonl")
	}

	sanitized := sanitize(trimmed)
	if len(sanitized) > maxSanitizedLen {
		sanitized = sanitized[:maxSanitizedLen]
	}
	hash := fnv1a64(trimmed)
	filename := fmt.Sprintf("%s-%016x.jsonl", sanitized, hash)
	return filepath.Join(sessionsDir, filename)
}

func sanitize(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '-' || r == '_' {
			b.WriteRune(r)
		} else {
			b.WriteByte('_')
		}
	}
	return b.String()
}

func fnv1a64(s string) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(s))
	return h.Sum64()
}

// Message is one transcript entry's message body.
type Message struct {
	Role    string          `json:"role"`
	Content []MessageContent `json:"content"`
}

// MessageContent is a single text block within a message.
type MessageContent struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// Entry is one JSONL transcript line.
type Entry struct {
	Type        string  `json:"type"`
	TimestampMs int64   `json:"timestampMs"`
	Message     Message `json:"message"`
}

// AppendMessage appends a transcript entry for sessionKey, no-oping on
// blank text.
func AppendMessage(sessionsDir, sessionKey, role, text string) error {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return nil
	}
	path := TranscriptPath(sessionsDir, sessionKey)
	entry := Entry{
		Type:        "message",
		TimestampMs: clock.NowMillis(),
		Message: Message{
			Role:    role,
			Content: []MessageContent{{Type: "text", Text: trimmed}},
		},
	}
	return jsonfile.AppendLine(path, entry)
}
