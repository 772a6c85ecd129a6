package triageapi

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"
)

// Encounter text bounds.
const (
	MinEncounterLen = 10
	MaxEncounterLen = 50000
)

// injectionPatterns are prompt-injection signatures rejected at ingress.
// Matching is case-insensitive against the raw encounter text.
var injectionPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)ignore\s+(all\s+)?previous\s+instructions`),
	regexp.MustCompile(`(?i)disregard\s+(all\s+)?(previous|prior|above)\s+(instructions|prompts?)`),
	regexp.MustCompile(`(?i)you\s+are\s+now\s+(a|an)\s`),
	regexp.MustCompile(`(?i)system\s*prompt`),
	regexp.MustCompile(`(?i)</?(system|assistant|instructions?)>`),
	regexp.MustCompile(`(?i)\[/?INST\]`),
	regexp.MustCompile(`(?i)pretend\s+(you\s+are|to\s+be)\s`),
	regexp.MustCompile(`(?i)override\s+(safety|all\s+safety|your)\s`),
}

// ValidateEncounterText enforces length bounds and injection screening.
func ValidateEncounterText(text string) error {
	trimmed := strings.TrimSpace(text)
	// Bounds are in characters, not bytes; clinical notes carry multibyte
	// symbols like degree signs and micro prefixes.
	n := utf8.RuneCountInString(trimmed)
	if n < MinEncounterLen {
		return fmt.Errorf("encounter text too short: %d chars, minimum %d", n, MinEncounterLen)
	}
	if n > MaxEncounterLen {
		return fmt.Errorf("encounter text too long: %d chars, maximum %d", n, MaxEncounterLen)
	}
	for _, p := range injectionPatterns {
		if p.MatchString(trimmed) {
			return fmt.Errorf("encounter text matches blocked pattern")
		}
	}
	return nil
}
