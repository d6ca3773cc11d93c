package engine

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

const TesseractBackendName = "tesseract"

// ErrLanguageNotInstalled is returned when none of the requested languages has
// traineddata in the tessdata directory.
var ErrLanguageNotInstalled = errors.New("language data not installed")

// tesseractLangs maps ISO-639-1 tags to tesseract traineddata names.
var tesseractLangs = map[string]string{
	"ar": "ara",
	"de": "deu",
	"en": "eng",
	"es": "spa",
	"fr": "fra",
	"hi": "hin",
	"it": "ita",
	"ja": "jpn",
	"ko": "kor",
	"nl": "nld",
	"pl": "pol",
	"pt": "por",
	"ru": "rus",
	"tr": "tur",
	"uk": "ukr",
	"vi": "vie",
	"zh": "chi_sim",
}

// TesseractLanguages converts language tags to traineddata names, dropping
// duplicates and blanks. Unknown tags pass through unchanged.
func TesseractLanguages(tags []string) []string {
	seen := make(map[string]bool, len(tags))
	out := make([]string, 0, len(tags))
	for _, tag := range tags {
		tag = strings.ToLower(strings.TrimSpace(tag))
		if tag == "" {
			continue
		}
		if mapped, ok := tesseractLangs[tag]; ok {
			tag = mapped
		}
		if seen[tag] {
			continue
		}
		seen[tag] = true
		out = append(out, tag)
	}
	if len(out) == 0 {
		out = append(out, "eng")
	}
	return out
}

// langProcessor maps language tags to installed traineddata.
type langProcessor struct {
	tessdata  string
	installed []string
}

func (p *langProcessor) Name() string { return "language-mapper" }

// resolve keeps the requested languages that are installed. With no scanned
// tessdata directory every mapped name is passed through to the engine.
func (p *langProcessor) resolve(tags []string) ([]string, error) {
	langs := TesseractLanguages(tags)
	if p == nil || len(p.installed) == 0 {
		return langs, nil
	}
	kept := make([]string, 0, len(langs))
	for _, l := range langs {
		i := sort.SearchStrings(p.installed, l)
		if i < len(p.installed) && p.installed[i] == l {
			kept = append(kept, l)
		}
	}
	if len(kept) == 0 {
		return nil, fmt.Errorf("%w: no traineddata for %s in %s (installed: %s)",
			ErrLanguageNotInstalled, strings.Join(langs, ","), p.tessdata, strings.Join(p.installed, ","))
	}
	return kept, nil
}
