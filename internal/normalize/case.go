package normalize

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Case names an identifier style.
type Case string

const (
	CaseKeep   Case = "keep"
	CaseLower  Case = "lower"
	CaseSnake  Case = "snake"
	CaseCamel  Case = "camel"
	CasePascal Case = "pascal"
)

// Apply converts name to the style. Every style is idempotent.
func (c Case) Apply(name string) string {
	name = strings.TrimSpace(name)
	switch c {
	case CaseLower:
		return strings.Join(lowerWords(name), "")
	case CaseSnake:
		return strings.Join(lowerWords(name), "_")
	case CaseCamel:
		words := SplitWords(name)
		for i, w := range words {
			if i == 0 {
				words[i] = cases.Lower(language.Und).String(w)
				continue
			}
			words[i] = cases.Title(language.Und).String(w)
		}
		return strings.Join(words, "")
	case CasePascal:
		words := SplitWords(name)
		for i, w := range words {
			words[i] = cases.Title(language.Und).String(w)
		}
		return strings.Join(words, "")
	default:
		return name
	}
}

func lowerWords(name string) []string {
	words := SplitWords(name)
	lower := cases.Lower(language.Und)
	for i, w := range words {
		words[i] = lower.String(w)
	}
	return words
}

// SplitWords breaks an identifier at separators and case boundaries:
// "getBlockHash" → [get Block Hash], "HTTPServer" → [HTTP Server],
// "min_conf" → [min conf]. Digits stay with the preceding word.
func SplitWords(name string) []string {
	var words []string
	var cur []rune
	runes := []rune(name)
	flush := func() {
		if len(cur) > 0 {
			words = append(words, string(cur))
			cur = nil
		}
	}
	for i, r := range runes {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) {
			flush()
			continue
		}
		if unicode.IsUpper(r) && len(cur) > 0 {
			prev := runes[i-1]
			nextLower := i+1 < len(runes) && unicode.IsLower(runes[i+1])
			if unicode.IsLower(prev) || unicode.IsDigit(prev) || (unicode.IsUpper(prev) && nextLower) {
				flush()
			}
		}
		cur = append(cur, r)
	}
	flush()
	return words
}
