package tokenizer

import (
	"unicode"
	"unicode/utf8"
)

// Estimator is a character-count-based token estimator.
// ASCII text is counted at about four characters per token and CJK text
// at about one and a half.
type Estimator struct{}

// NewEstimator creates an estimator.
func NewEstimator() *Estimator { return &Estimator{} }

func (e *Estimator) CountTokens(text string) (int, error) {
	if text == "" {
		return 0, nil
	}

	totalChars := utf8.RuneCountInString(text)
	cjkCount := 0
	for _, r := range text {
		if isCJK(r) {
			cjkCount++
		}
	}

	estimated := int(float64(cjkCount)/1.5 + float64(totalChars-cjkCount)/4.0)
	if estimated == 0 {
		estimated = 1
	}
	return estimated, nil
}

func (e *Estimator) Name() string { return "estimator" }

func isCJK(r rune) bool {
	return unicode.Is(unicode.Han, r) ||
		unicode.Is(unicode.Hiragana, r) ||
		unicode.Is(unicode.Katakana, r) ||
		unicode.Is(unicode.Hangul, r)
}
