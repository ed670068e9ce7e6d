package turn

import (
	"strings"

	"github.com/antzucaro/matchr"
)

// defaultEchoSimilarity is the Jaro-Winkler score above which a transcript is
// considered an echo of the agent's previous reply.
const defaultEchoSimilarity = 0.92

// isEcho reports whether transcript is close enough to the agent's last reply
// to be the agent hearing itself. This catches the tail of a reply that leaks
// into the microphone when output latency outlasts the detector disarm window.
func isEcho(transcript, lastReply string, threshold float64) bool {
	if lastReply == "" || transcript == "" {
		return false
	}

	a := normalizeForEcho(transcript)
	b := normalizeForEcho(lastReply)
	if a == "" || b == "" {
		return false
	}

	// A short transcript that appears verbatim in the reply is an echo
	// fragment even when full-string similarity is low.
	if len(a) >= 12 && strings.Contains(b, a) {
		return true
	}

	return matchr.JaroWinkler(a, b, false) >= threshold
}

// normalizeForEcho lowercases and strips punctuation so that similarity
// scoring compares spoken content only.
func normalizeForEcho(s string) string {
	var sb strings.Builder
	for _, r := range strings.ToLower(s) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == ' ':
			sb.WriteRune(r)
		}
	}
	return strings.Join(strings.Fields(sb.String()), " ")
}
