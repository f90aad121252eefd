package llm

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"unicode"

	"github.com/pemistahl/lingua-go"
)

// ErrUndetectable is returned when text has no letters to classify.
var ErrUndetectable = errors.New("unable to detect source language")

// Supported target languages.
var TargetLanguages = map[string]string{
	"en": "English",
	"ar": "Arabic",
}

// ValidateTarget checks that lang is a supported target code.
func ValidateTarget(lang string) error {
	if _, ok := TargetLanguages[lang]; !ok {
		return fmt.Errorf("unsupported target language %q (want en or ar)", lang)
	}
	return nil
}

// detectSample bounds how much text is handed to the detector.
const detectSample = 2000

var detector = sync.OnceValue(func() lingua.LanguageDetector {
	return lingua.NewLanguageDetectorBuilder().FromAllLanguages().Build()
})

// DetectLanguage returns the ISO 639-1 code of the language text is written
// in, judged from its first detectSample characters.
func DetectLanguage(text string) (string, error) {
	if rs := []rune(text); len(rs) > detectSample {
		text = string(rs[:detectSample])
	}
	if !strings.ContainsFunc(text, unicode.IsLetter) {
		return "", ErrUndetectable
	}
	lang, ok := detector().DetectLanguageOf(text)
	if !ok {
		return "", ErrUndetectable
	}
	return strings.ToLower(lang.IsoCode639_1().String()), nil
}
