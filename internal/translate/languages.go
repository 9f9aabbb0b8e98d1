package translate

import (
	"errors"
	"fmt"
	"strings"

	"golang.org/x/text/language"
)

var ErrUnknownLanguage = errors.New("unknown language")

// Language pairs a display name with the code the recognizer expects and the
// code the translator expects.
type Language struct {
	Name        string
	Recognition string
	Translation string
}

var languages = []Language{
	{Name: "English (US)", Recognition: "en-US", Translation: "en"},
	{Name: "English (UK)", Recognition: "en-GB", Translation: "en"},
	{Name: "Korean", Recognition: "ko-KR", Translation: "ko"},
	{Name: "Japanese", Recognition: "ja-JP", Translation: "ja"},
	{Name: "Chinese (Simplified)", Recognition: "zh", Translation: "zh"},
	{Name: "Chinese (Traditional)", Recognition: "zh-TW", Translation: "zh-TW"},
	{Name: "Spanish", Recognition: "es-ES", Translation: "es"},
	{Name: "French", Recognition: "fr-FR", Translation: "fr"},
	{Name: "German", Recognition: "de-DE", Translation: "de"},
	{Name: "Russian", Recognition: "ru-RU", Translation: "ru"},
	{Name: "Vietnamese", Recognition: "vi-VN", Translation: "vi"},
	{Name: "Thai", Recognition: "th-TH", Translation: "th"},
	{Name: "Indonesian", Recognition: "id-ID", Translation: "id"},
	{Name: "Hindi", Recognition: "hi-IN", Translation: "hi"},
}

// Languages returns the supported languages in display order.
func Languages() []Language {
	out := make([]Language, len(languages))
	copy(out, languages)
	return out
}

// Lookup resolves a display name, recognition code or translation code.
// Other BCP 47 tags resolve to the closest table entry sharing the same
// base language and script, so "en-AU" maps to English (US) and
// "zh-Hant" to Chinese (Traditional).
func Lookup(s string) (Language, error) {
	key := strings.TrimSpace(s)
	if key == "" {
		return Language{}, fmt.Errorf("%w: empty", ErrUnknownLanguage)
	}
	for _, l := range languages {
		if strings.EqualFold(l.Name, key) || strings.EqualFold(l.Recognition, key) || strings.EqualFold(l.Translation, key) {
			return l, nil
		}
	}

	tag, err := language.Parse(key)
	if err != nil {
		return Language{}, fmt.Errorf("%w: %q", ErrUnknownLanguage, s)
	}
	base, _ := tag.Base()
	script, _ := tag.Script()
	region, regionConf := tag.Region()

	var fallback *Language
	for i := range languages {
		entry := language.MustParse(languages[i].Recognition)
		eb, _ := entry.Base()
		es, _ := entry.Script()
		if eb != base || es != script {
			continue
		}
		if regionConf == language.Exact {
			if er, _ := entry.Region(); er == region {
				return languages[i], nil
			}
		}
		if fallback == nil {
			fallback = &languages[i]
		}
	}
	if fallback != nil {
		return *fallback, nil
	}
	return Language{}, fmt.Errorf("%w: %q", ErrUnknownLanguage, s)
}

// RecognitionCode resolves s to the code passed to the recognizer.
func RecognitionCode(s string) (string, error) {
	l, err := Lookup(s)
	if err != nil {
		return "", err
	}
	return l.Recognition, nil
}

// TranslationCode resolves s to the code passed to the translator.
func TranslationCode(s string) (string, error) {
	l, err := Lookup(s)
	if err != nil {
		return "", err
	}
	return l.Translation, nil
}
