package markup

import "strings"

// syntaxRules describes the lexical features of a language embedded in a
// document that matter for finding the end of its region: which characters
// open strings and how comments are written.
type syntaxRules struct {
	quotes       string // bytes that open a string
	triple       bool   // ''' and """ open strings that end only at the same triple
	multiline    string // quote bytes whose strings may span lines
	lineComment  string // opens a comment running to end of line
	blockComment bool   // /* ... */
}

var (
	pythonRules = syntaxRules{quotes: `"'`, triple: true, lineComment: "#"}
	jsRules     = syntaxRules{quotes: "\"'`", multiline: "`", lineComment: "//", blockComment: true}
	cssRules    = syntaxRules{quotes: `"'`, blockComment: true}
)

type commentKind int

const (
	noComment commentKind = iota
	inLineComment
	inBlockComment
)

// lexState is the string/comment sub-state shared by the script and raw-text
// modes. At most one of quote and comment is active.
type lexState struct {
	quote   string // active string delimiter, empty outside strings
	comment commentKind
}

func (s lexState) inString() bool {
	return s.quote != ""
}

func (s lexState) inComment() bool {
	return s.comment != noComment
}

// advance consumes at least one byte from rest, updates the state and
// returns the number of bytes consumed. rest must be non-empty.
func (s *lexState) advance(rest string, rules syntaxRules) int {
	c := rest[0]

	switch {
	case s.quote != "":
		if c == '\\' {
			// An escaped byte never terminates the string.
			if len(rest) > 1 {
				return 2
			}
			return 1
		}
		if strings.HasPrefix(rest, s.quote) {
			n := len(s.quote)
			s.quote = ""
			return n
		}
		if c == '\n' && len(s.quote) == 1 && strings.IndexByte(rules.multiline, s.quote[0]) < 0 {
			s.quote = ""
		}
		return 1

	case s.comment == inLineComment:
		if c == '\n' {
			s.comment = noComment
		}
		return 1

	case s.comment == inBlockComment:
		if strings.HasPrefix(rest, "*/") {
			s.comment = noComment
			return 2
		}
		return 1
	}

	if strings.IndexByte(rules.quotes, c) >= 0 {
		if rules.triple {
			triple := rest[:1] + rest[:1] + rest[:1]
			if strings.HasPrefix(rest, triple) {
				s.quote = triple
				return 3
			}
		}
		s.quote = rest[:1]
		return 1
	}
	if rules.lineComment != "" && strings.HasPrefix(rest, rules.lineComment) {
		s.comment = inLineComment
		return len(rules.lineComment)
	}
	if rules.blockComment && strings.HasPrefix(rest, "/*") {
		s.comment = inBlockComment
		return 2
	}
	return 1
}
