package moderation

import (
	"bufio"
	"os"
	"strings"
	"unicode"

	"github.com/abadojack/whatlanggo"
	goahocorasick "github.com/anknown/ahocorasick"
)

const maskRune = '*'

// Moderator masks blocked words in message bodies before they are
// sealed and persisted. Matching runs against a normalized view of the
// text so leet substitutions and inserted punctuation do not defeat
// the word list, while masking is applied to the original runes so
// layout is preserved.
type Moderator struct {
	matcher *goahocorasick.Machine
	empty   bool
}

type textMapping struct {
	normalized []rune
	origIdx    []int
}

// Result is the outcome of moderating one message body.
type Result struct {
	Text     string
	Flagged  []string
	Language string
}

// NewModerator builds the Aho-Corasick automaton from a normalized
// version of the blocked word list.
func NewModerator(blockedWords []string) (*Moderator, error) {
	patterns := make([][]rune, 0, len(blockedWords))
	for _, word := range blockedWords {
		norm := normalizeRunes([]rune(word))
		if len(norm) > 0 {
			patterns = append(patterns, norm)
		}
	}
	m := new(goahocorasick.Machine)
	if len(patterns) > 0 {
		if err := m.Build(patterns); err != nil {
			return nil, err
		}
	}
	return &Moderator{matcher: m, empty: len(patterns) == 0}, nil
}

// LoadWordList reads one blocked word per line, skipping blanks and
// '#' comments.
func LoadWordList(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var words []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		words = append(words, line)
	}
	return words, scanner.Err()
}

// Moderate masks every blocked pattern in the body and reports which
// patterns matched, plus a best-effort language tag for the original
// text.
func (m *Moderator) Moderate(original string) Result {
	info := whatlanggo.Detect(original)
	result := Result{Text: original, Language: info.Lang.Iso6391()}

	if m.empty {
		return result
	}
	mapping := normalize(original)
	if len(mapping.normalized) == 0 {
		return result
	}

	spans := m.matcher.MultiPatternSearch(mapping.normalized, false)
	if len(spans) == 0 {
		return result
	}

	origRunes := []rune(original)
	for _, span := range spans {
		normStart := span.Pos
		normEnd := normStart + len(span.Word)
		if normStart < 0 || normEnd > len(mapping.origIdx) {
			continue
		}
		result.Flagged = append(result.Flagged, string(span.Word))

		origStart := mapping.origIdx[normStart]
		origEnd := mapping.origIdx[normEnd-1] + 1
		for i := origStart; i < origEnd; i++ {
			origRunes[i] = maskRune
		}
	}
	result.Text = string(origRunes)
	return result
}

// normalize transforms the input into a searchable view and tracks the
// original rune position of every kept rune.
func normalize(input string) textMapping {
	origRunes := []rune(input)
	mapping := textMapping{
		normalized: make([]rune, 0, len(origRunes)),
		origIdx:    make([]int, 0, len(origRunes)),
	}
	for i, r := range origRunes {
		clean := simplifyRune(r)
		if isNoise(clean) {
			continue
		}
		mapping.normalized = append(mapping.normalized, unicode.ToLower(clean))
		mapping.origIdx = append(mapping.origIdx, i)
	}
	return mapping
}

func normalizeRunes(input []rune) []rune {
	out := make([]rune, 0, len(input))
	for _, r := range input {
		clean := simplifyRune(r)
		if isNoise(clean) {
			continue
		}
		out = append(out, unicode.ToLower(clean))
	}
	return out
}

// simplifyRune maps common leet substitutions back to their letters.
func simplifyRune(r rune) rune {
	switch r {
	case '4', '@':
		return 'a'
	case '3', '€':
		return 'e'
	case '1', '!', '|':
		return 'i'
	case '0':
		return 'o'
	case '5', '$':
		return 's'
	default:
		return r
	}
}

func isNoise(r rune) bool {
	return unicode.IsPunct(r) || unicode.IsSpace(r) || unicode.IsSymbol(r)
}
