package citation

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/user/chatrelay/internal/domain"
)

// markerPattern matches inline citation markers: a bracketed integer
// with optional superscript/brace decoration, e.g. [3], [^3], [${3}].
var markerPattern = regexp.MustCompile(`\[\^?\$?\{?(\d+)\}?\^?\]`)

// unresolvedIndex is substituted when a marker's numeral is absent from
// the dedup map. It exceeds any realistic retrieval size, so the marker
// fails the bounds check below and stays literal text.
const unresolvedIndex = 10

// TokenKind discriminates RenderToken variants.
type TokenKind string

const (
	TokenText     TokenKind = "text"
	TokenCitation TokenKind = "citation"
)

// RenderToken is one element of the presentation stream: a sanitized
// HTML run or a resolved citation reference.
type RenderToken struct {
	Kind   TokenKind      `json:"type"`
	HTML   string         `json:"html,omitempty"`
	Source *domain.Source `json:"source,omitempty"`
	Number int            `json:"number,omitempty"`
}

// Resolve scans html for citation markers and interleaves sanitized text
// runs with citation tokens. Marker numerals key directly into the
// dedup map's zero-based original positions (the retrieval prompt
// numbers documents from zero). Markers that resolve out of bounds are
// left in place as literal text: the scanner does not advance past
// them, so they fold into the following run.
func Resolve(html string, dedupe DedupeResult) []RenderToken {
	matches := markerPattern.FindAllStringSubmatchIndex(html, -1)
	tokens := make([]RenderToken, 0, 2*len(matches)+1)
	prev := 0

	for _, m := range matches {
		num, err := strconv.Atoi(html[m[2]:m[3]])
		if err != nil {
			continue
		}
		resolved, ok := dedupe.IndexMap[num]
		if !ok {
			resolved = unresolvedIndex
		}
		if resolved >= len(dedupe.Filtered) {
			continue
		}

		run := SanitizeRun(html[prev:m[0]])
		if endsInsideListItem(run) {
			run = ensureSentenceEnd(run)
		}
		source := dedupe.Filtered[resolved]
		tokens = append(tokens,
			RenderToken{Kind: TokenText, HTML: run},
			RenderToken{Kind: TokenCitation, Source: &source, Number: resolved + 1},
		)
		prev = m[1]
	}

	if prev < len(html) {
		tokens = append(tokens, RenderToken{Kind: TokenText, HTML: SanitizeRun(html[prev:])})
	}
	return tokens
}

// endsInsideListItem reports whether the run's last opened list item is
// still unclosed, meaning a following citation lands inside it.
func endsInsideListItem(run string) bool {
	lower := strings.ToLower(run)
	open := strings.LastIndex(lower, "<li")
	if open < 0 {
		return false
	}
	return open > strings.LastIndex(lower, "</li>")
}

// ensureSentenceEnd terminates the run with sentence punctuation before
// a citation is appended to the same list item. Runs ending in markup
// rather than text are left alone.
func ensureSentenceEnd(run string) string {
	trimmed := strings.TrimRight(run, " \t\r\n")
	if trimmed == "" || strings.HasSuffix(trimmed, ">") {
		return run
	}
	switch trimmed[len(trimmed)-1] {
	case '.', '!', '?':
		return trimmed
	}
	return trimmed + "."
}
