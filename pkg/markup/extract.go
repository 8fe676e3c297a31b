package markup

import "strings"

// Tag delimiters recognized by the extractor. Script tags match
// case-insensitively and take no attributes.
const (
	OpenTag  = "<python>"
	CloseTag = "</python>"

	cdataOpen    = "<![CDATA["
	cdataClose   = "]]>"
	commentOpen  = "<!--"
	commentClose = "-->"
)

type mode int

const (
	modeHTML mode = iota
	modeComment
	modeCDATA
	modeRawText
	modeScript
)

func (m mode) String() string {
	switch m {
	case modeHTML:
		return "html"
	case modeComment:
		return "comment"
	case modeCDATA:
		return "cdata"
	case modeRawText:
		return "rawtext"
	case modeScript:
		return "script"
	}
	return "unknown"
}

// rawTextTags are the elements whose content HTML does not parse as markup.
var rawTextTags = []struct {
	name  string
	rules syntaxRules
}{
	{"script", jsRules},
	{"style", cssRules},
}

// extractor holds the state of one extraction pass.
type extractor struct {
	src  string
	pos  int
	mode mode

	rawTag   string      // closing tag name while in modeRawText
	rawRules syntaxRules // lexical rules of the raw-text island
	depth    int         // <python> nesting while in modeScript
	lex      lexState

	lit      strings.Builder
	litStart int // offset of the first byte in lit, -1 when empty
	code     strings.Builder
	codeAt   int // offset where the current script body starts

	lineOff int
	lineNo  int

	segments []Segment
}

// Extract partitions doc into literal and script segments.
//
// Literal segments reproduce the document verbatim except that HTML comments
// are dropped. Script segments carry the text between a <python> tag and its
// matching </python>; the tags themselves are discarded. A document that ends
// inside a script region yields a final segment with Unterminated set.
func Extract(doc string) []Segment {
	e := &extractor{
		src:      doc,
		litStart: -1,
		lineNo:   1,
	}
	for e.pos < len(e.src) {
		switch e.mode {
		case modeHTML:
			e.stepHTML()
		case modeComment:
			e.stepComment()
		case modeCDATA:
			e.stepCDATA()
		case modeRawText:
			e.stepRawText()
		case modeScript:
			e.stepScript()
		}
	}
	e.finish()
	return e.segments
}

func (e *extractor) stepHTML() {
	rest := e.src[e.pos:]
	if rest[0] != '<' {
		n := strings.IndexByte(rest, '<')
		if n < 0 {
			n = len(rest)
		}
		e.literal(n)
		return
	}

	if strings.HasPrefix(rest, cdataOpen) {
		e.literal(len(cdataOpen))
		e.mode = modeCDATA
		return
	}
	if e.openRawText(rest) {
		return
	}

	switch {
	case strings.HasPrefix(rest, commentOpen):
		e.pos += len(commentOpen)
		e.mode = modeComment

	case hasPrefixFold(rest, OpenTag):
		e.flushLiteral()
		e.pos += len(OpenTag)
		e.mode = modeScript
		e.depth = 1
		e.lex = lexState{}
		e.codeAt = e.pos

	case hasPrefixFold(rest, CloseTag):
		// A closing tag with nothing open is dropped.
		e.pos += len(CloseTag)

	default:
		e.literal(1)
	}
}

// openRawText enters raw-text mode when rest starts a <script> or <style>
// element. The opening tag is copied to the literal buffer.
func (e *extractor) openRawText(rest string) bool {
	for _, t := range rawTextTags {
		n := 1 + len(t.name)
		if len(rest) <= n || !hasPrefixFold(rest[1:], t.name) || !isTagNameEnd(rest[n]) {
			continue
		}
		e.literal(startTagLen(rest))
		e.mode = modeRawText
		e.rawTag = t.name
		e.rawRules = t.rules
		e.lex = lexState{}
		return true
	}
	return false
}

func (e *extractor) stepComment() {
	n := strings.Index(e.src[e.pos:], commentClose)
	if n < 0 {
		// Unterminated: the comment swallows the rest of the document.
		e.pos = len(e.src)
		return
	}
	e.pos += n + len(commentClose)
	e.mode = modeHTML
}

func (e *extractor) stepCDATA() {
	n := strings.Index(e.src[e.pos:], cdataClose)
	if n < 0 {
		e.literal(len(e.src) - e.pos)
		return
	}
	e.literal(n + len(cdataClose))
	e.mode = modeHTML
}

func (e *extractor) stepRawText() {
	rest := e.src[e.pos:]
	if !e.lex.inString() {
		if n := endTagLen(rest, e.rawTag); n > 0 {
			e.literal(n)
			e.mode = modeHTML
			e.rawTag = ""
			return
		}
	}
	e.literal(e.lex.advance(rest, e.rawRules))
}

func (e *extractor) stepScript() {
	rest := e.src[e.pos:]
	if !e.lex.inString() {
		switch {
		case hasPrefixFold(rest, CloseTag):
			e.depth--
			if e.depth == 0 {
				e.emitScript(false)
				e.pos += len(CloseTag)
				e.mode = modeHTML
				return
			}
			e.capture(len(CloseTag))
			return
		case hasPrefixFold(rest, OpenTag):
			e.depth++
			e.capture(len(OpenTag))
			return
		}
	}
	e.capture(e.lex.advance(rest, pythonRules))
}

func (e *extractor) finish() {
	e.flushLiteral()
	if e.mode == modeScript {
		e.emitScript(true)
	}
}

// literal copies the next n bytes to the literal buffer.
func (e *extractor) literal(n int) {
	if e.litStart < 0 {
		e.litStart = e.pos
	}
	e.lit.WriteString(e.src[e.pos : e.pos+n])
	e.pos += n
}

// capture copies the next n bytes to the script buffer.
func (e *extractor) capture(n int) {
	e.code.WriteString(e.src[e.pos : e.pos+n])
	e.pos += n
}

func (e *extractor) flushLiteral() {
	if e.lit.Len() == 0 {
		return
	}
	e.segments = append(e.segments, Segment{
		Kind: Literal,
		Text: e.lit.String(),
		Line: e.lineAt(e.litStart),
	})
	e.lit.Reset()
	e.litStart = -1
}

func (e *extractor) emitScript(unterminated bool) {
	e.segments = append(e.segments, Segment{
		Kind:         Script,
		Text:         e.code.String(),
		Line:         e.lineAt(e.codeAt),
		Unterminated: unterminated,
	})
	e.code.Reset()
	e.depth = 0
}

// lineAt returns the 1-based line of offset off. Offsets are requested in
// non-decreasing order, so counting resumes from the previous answer.
func (e *extractor) lineAt(off int) int {
	if off < e.lineOff {
		e.lineOff, e.lineNo = 0, 1
	}
	e.lineNo += strings.Count(e.src[e.lineOff:off], "\n")
	e.lineOff = off
	return e.lineNo
}

func hasPrefixFold(s, prefix string) bool {
	return len(s) >= len(prefix) && strings.EqualFold(s[:len(prefix)], prefix)
}

func isTagNameEnd(c byte) bool {
	switch c {
	case ' ', '\t', '\n', '\r', '\f', '>', '/':
		return true
	}
	return false
}

// startTagLen returns the length of the start tag at the beginning of s,
// including the closing '>'. Quoted attribute values may contain '>'.
func startTagLen(s string) int {
	var quote byte
	var prev byte
	for i := 1; i < len(s); i++ {
		c := s[i]
		switch {
		case quote != 0:
			if c == quote {
				quote = 0
			}
		case (c == '"' || c == '\'') && prev == '=':
			quote = c
		case c == '>':
			return i + 1
		}
		if c != ' ' && c != '\t' && c != '\n' && c != '\r' {
			prev = c
		}
	}
	return len(s)
}

// endTagLen returns the length of a closing tag for name at the start of s
// ("</name>" with optional whitespace before '>'), or 0.
func endTagLen(s, name string) int {
	if len(s) < 2 || s[0] != '<' || s[1] != '/' || !hasPrefixFold(s[2:], name) {
		return 0
	}
	i := 2 + len(name)
	for i < len(s) && (s[i] == ' ' || s[i] == '\t' || s[i] == '\n' || s[i] == '\r' || s[i] == '\f') {
		i++
	}
	if i < len(s) && s[i] == '>' {
		return i + 1
	}
	return 0
}
