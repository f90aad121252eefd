package llm

import (
	"fmt"
	"strings"
)

// SummaryStrategy selects the summarization prompt.
type SummaryStrategy string

const (
	Abstractive SummaryStrategy = "abstractive"
	Extractive  SummaryStrategy = "extractive"
)

// ParseSummaryStrategy accepts "abstractive" or "extractive".
func ParseSummaryStrategy(s string) (SummaryStrategy, error) {
	switch SummaryStrategy(strings.ToLower(strings.TrimSpace(s))) {
	case Abstractive:
		return Abstractive, nil
	case Extractive:
		return Extractive, nil
	}
	return "", fmt.Errorf("unknown summary strategy %q (want abstractive or extractive)", s)
}

// SummaryPrompt builds the summarization prompt for one unit of text.
func SummaryPrompt(strategy SummaryStrategy, text string) string {
	if strategy == Extractive {
		return "Extract the most important sentences from the following text:\n\n" + text
	}
	return "Provide a concise summary of the following text, capturing the key ideas:\n\n" + text
}

// TranslatePrompt asks for a structure-preserving translation between
// language codes.
func TranslatePrompt(source, target, text string) string {
	return fmt.Sprintf("Translate the following text from %s to %s, maintaining structure and fluency:\n\n%s", source, target, text)
}

// FluencyPrompt asks for a grammar pass over already translated text.
func FluencyPrompt(text string) string {
	return "Improve the grammar and fluency of this text:\n\n" + text
}
