package voiceagent

import (
	"regexp"
	"strings"
	"unicode"
)

// acknowledgements are removed in a single pass; text left behind by one
// removal is not matched again.
var acknowledgements = regexp.MustCompile("yeah|yes|yep|okay|ok")

var fillerWords = map[string]bool{
	"": true, "h": true, "uh": true, "ah": true, "um": true, "hm": true, "u": true, "a": true,
}

// IsRealSpeech reports whether transcript is speech worth reacting to rather
// than a backchannel ("okay", "uh huh", "mm"). When the transcript is pure
// acknowledgement or hum, resetPending is true and the caller should drop the
// pending final transcript.
func IsRealSpeech(transcript string) (speech, resetPending bool) {
	transcript = strings.TrimSpace(transcript)
	normalized := strings.ToLower(stripNonWord(transcript))

	rest := acknowledgements.ReplaceAllString(normalized, "")
	if strings.TrimSpace(rest) == "" || onlyHum(normalized) {
		return false, true
	}

	base := strings.TrimSpace(strings.TrimRight(normalized, ".,?!;:"))
	words := map[string]bool{}
	for _, w := range strings.Fields(strings.TrimSuffix(base, "h")) {
		words[w] = true
	}
	for _, w := range strings.Fields(strings.TrimSuffix(base, "m")) {
		words[w] = true
	}
	for w := range words {
		if !fillerWords[w] {
			return true, false
		}
	}
	return false, false
}

// stripNonWord drops everything that is not a letter, digit or underscore.
func stripNonWord(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_' {
			return r
		}
		return -1
	}, s)
}

func onlyHum(s string) bool {
	for _, r := range s {
		if r != 'u' && r != 'h' && r != 'm' {
			return false
		}
	}
	return true
}
