package engine

import "strings"

// blankMarkers are non-speech annotations whisper emits as segment text.
var blankMarkers = []string{"[BLANK_AUDIO]", "[SILENCE]", "(silence)", "[ Silence ]"}

// IsBlankText reports whether a segment carries no recognised speech.
func IsBlankText(text string) bool {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return true
	}
	for _, marker := range blankMarkers {
		if strings.EqualFold(trimmed, marker) {
			return true
		}
	}
	return false
}

func normaliseLanguage(candidate, fallback string) string {
	if trimmed := strings.TrimSpace(candidate); trimmed != "" {
		return strings.ToLower(trimmed)
	}
	if trimmed := strings.TrimSpace(fallback); trimmed != "" {
		return strings.ToLower(trimmed)
	}
	return "auto"
}
