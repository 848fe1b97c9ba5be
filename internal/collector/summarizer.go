package collector

import (
	"context"
	"fmt"
	"unicode/utf16"
)

// Summarizer condenses the combined tab text.
type Summarizer interface {
	Summarize(ctx context.Context, text string, tabCount int) (string, error)
}

// ProviderError wraps any failure reported by a Summarizer.
type ProviderError struct {
	Provider string
	Err      error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s: summarization failed: %v", e.Provider, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// Placeholder reports tab count and text length instead of a real summary.
type Placeholder struct{}

func (Placeholder) Name() string { return "placeholder" }

func (Placeholder) Summarize(_ context.Context, text string, tabCount int) (string, error) {
	return fmt.Sprintf("Processed %d tabs. Combined text length: %d.", tabCount, TextLength(text)), nil
}

// TextLength counts UTF-16 code units, the unit browsers report string
// lengths in. Characters outside the BMP count twice.
func TextLength(text string) int {
	return len(utf16.Encode([]rune(text)))
}

func providerName(s Summarizer) string {
	if named, ok := s.(interface{ Name() string }); ok {
		return named.Name()
	}
	return fmt.Sprintf("%T", s)
}
