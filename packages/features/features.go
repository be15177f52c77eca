// Package features turns a raw fetch outcome into a normalized feature set and
// computes the lexical text score against multilingual term dictionaries.
package features

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"sort"
	"strings"

	"brandspy/packages/domain"

	"github.com/abadojack/whatlanggo"
)

//go:embed dictionaries.json
var embeddedDictionaries []byte

const (
	maxBodywearTermsReported   = 10
	maxGeneralistTermsReported = 5
)

type dictionaries struct {
	BodywearTerms          map[string][]string `json:"bodywear_terms"`
	GeneralistPenaltyTerms map[string][]string `json:"generalist_penalty_terms"`
}

type Extractor struct {
	bodywear      map[string][]string
	generalist    map[string][]string
	patterns      map[string]*regexp.Regexp
	penaltyWeight float64
}

// New builds an extractor from the embedded dictionaries, or from the file at
// dictionaryFile when it is non-empty.
func New(dictionaryFile string, penaltyWeight float64) (*Extractor, error) {
	raw := embeddedDictionaries
	if dictionaryFile != "" {
		fileRaw, err := os.ReadFile(dictionaryFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read dictionary file: %w", err)
		}
		raw = fileRaw
	}

	var dicts dictionaries
	if err := json.Unmarshal(raw, &dicts); err != nil {
		return nil, fmt.Errorf("failed to parse dictionaries: %w", err)
	}
	if len(dicts.BodywearTerms) == 0 {
		return nil, fmt.Errorf("dictionaries contain no bodywear terms")
	}

	e := &Extractor{
		bodywear:      dicts.BodywearTerms,
		generalist:    dicts.GeneralistPenaltyTerms,
		patterns:      make(map[string]*regexp.Regexp),
		penaltyWeight: penaltyWeight,
	}
	for _, terms := range dicts.BodywearTerms {
		e.compile(terms)
	}
	for _, terms := range dicts.GeneralistPenaltyTerms {
		e.compile(terms)
	}
	return e, nil
}

func (e *Extractor) compile(terms []string) {
	for _, term := range terms {
		term = strings.ToLower(term)
		if _, ok := e.patterns[term]; ok {
			continue
		}
		e.patterns[term] = regexp.MustCompile(`\b` + regexp.QuoteMeta(term) + `\b`)
	}
}

// Build derives the per-domain feature set from one fetch outcome.
func (e *Extractor) Build(dom string, o *domain.FetchOutcome) *domain.Features {
	f := &domain.Features{
		Domain:           dom,
		NavText:          o.NavText,
		HeadingText:      o.HeadingText,
		CTAText:          o.CTAText,
		LinkText:         o.LinkText,
		ImageURLs:        o.ImageURLs,
		Screenshot:       o.Screenshot,
		DetectedLanguage: "en",
	}

	corpus := strings.TrimSpace(strings.Join(f.NavText, " ") + " " + strings.Join(f.HeadingText, " "))
	if len(corpus) >= 10 {
		info := whatlanggo.Detect(corpus)
		if iso := info.Lang.Iso6391(); iso != "" {
			f.DetectedLanguage = iso
		}
	}
	return f
}

// ScoreText scans every language's term list against the combined nav, heading
// and CTA corpus. Sites mix languages, so the detected language never limits
// the scan; it only breaks the tie on which language "won".
func (e *Extractor) ScoreText(f *domain.Features) domain.TextScore {
	navText := strings.ToLower(strings.Join(f.NavText, " "))
	headingText := strings.ToLower(strings.Join(f.HeadingText, " "))
	ctaText := strings.ToLower(strings.Join(f.CTAText, " "))
	allText := navText + " " + headingText + " " + ctaText

	result := domain.TextScore{Language: "en"}
	matchesByLang := make(map[string]int)

	seenBodywear := make(map[string]struct{})
	for _, lang := range sortedKeys(e.bodywear) {
		langMatches := 0
		for _, term := range e.bodywear[lang] {
			term = strings.ToLower(term)
			n := len(e.patterns[term].FindAllString(navText, -1)) +
				len(e.patterns[term].FindAllString(headingText, -1)) +
				len(e.patterns[term].FindAllString(ctaText, -1))
			if n == 0 {
				continue
			}
			result.BodywearCount += n
			langMatches += n
			if _, ok := seenBodywear[term]; !ok {
				seenBodywear[term] = struct{}{}
				result.BodywearTerms = append(result.BodywearTerms, term)
			}
		}
		if langMatches > 0 {
			matchesByLang[lang] += langMatches
			result.LanguagesMatched = append(result.LanguagesMatched, lang)
		}
	}

	seenGeneralist := make(map[string]struct{})
	for _, lang := range sortedKeys(e.generalist) {
		for _, term := range e.generalist[lang] {
			term = strings.ToLower(term)
			n := len(e.patterns[term].FindAllString(allText, -1))
			if n == 0 {
				continue
			}
			result.GeneralistCount += n
			if _, ok := seenGeneralist[term]; !ok {
				seenGeneralist[term] = struct{}{}
				result.GeneralistTerms = append(result.GeneralistTerms, term)
			}
		}
	}

	// The +1 avoids division by zero and softens scores on sparse evidence.
	total := float64(result.BodywearCount + result.GeneralistCount + 1)
	bodywearRatio := float64(result.BodywearCount) / total
	generalistPenalty := float64(result.GeneralistCount) / total * e.penaltyWeight

	result.Score = bodywearRatio - generalistPenalty
	if result.Score < 0 {
		result.Score = 0
	}

	if len(result.BodywearTerms) > maxBodywearTermsReported {
		result.BodywearTerms = result.BodywearTerms[:maxBodywearTermsReported]
	}
	if len(result.GeneralistTerms) > maxGeneralistTermsReported {
		result.GeneralistTerms = result.GeneralistTerms[:maxGeneralistTermsReported]
	}

	best := 0
	for lang, n := range matchesByLang {
		if n > best || (n == best && lang < result.Language) {
			best = n
			result.Language = lang
		}
	}
	return result
}

func sortedKeys(m map[string][]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
