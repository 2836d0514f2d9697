package tracker

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// PatternID derives the stable pattern id of a normalized edit. Equal
// (category, document, normalized diff) triples always share an id.
func PatternID(category, documentID, normalizedDiff string) string {
	canonical := strings.Join([]string{
		"category:" + strings.ToLower(strings.TrimSpace(category)),
		"document:" + documentID,
		"diff:" + normalizedDiff,
	}, "|")
	hash := sha256.Sum256([]byte(canonical))
	return hex.EncodeToString(hash[:8])
}

// defaultName labels a pattern after the first line of its edit.
func defaultName(normalizedDiff string) string {
	first := normalizedDiff
	if i := strings.IndexByte(first, '\n'); i >= 0 {
		first = first[:i]
	}
	first = strings.TrimPrefix(strings.TrimPrefix(first, "+ "), "- ")
	const maxLen = 60
	if r := []rune(first); len(r) > maxLen {
		first = string(r[:maxLen-3]) + "..."
	}
	return first
}
