package markup

import (
	"fmt"
	"strings"
)

// Kind classifies a Segment.
type Kind int

const (
	Literal Kind = iota // markup copied to the output verbatim
	Script              // embedded script source
)

func (k Kind) String() string {
	switch k {
	case Literal:
		return "literal"
	case Script:
		return "script"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Segment is one contiguous unit of a document.
type Segment struct {
	Kind Kind
	Text string
	// Line is the 1-based line on which Text starts in the source document.
	Line int
	// Unterminated marks a script whose <python> tag was never closed. Such a
	// segment is always the last one and must not be executed.
	Unterminated bool
}

// IsScript reports whether the segment holds script source.
func (s Segment) IsScript() bool {
	return s.Kind == Script
}

func (s Segment) String() string {
	text := s.Text
	if len(text) > 40 {
		text = text[:37] + "..."
	}
	if s.Unterminated {
		return fmt.Sprintf("%s(unterminated)@%d %q", s.Kind, s.Line, text)
	}
	return fmt.Sprintf("%s@%d %q", s.Kind, s.Line, text)
}

// Reconstruct joins segments back into markup, re-wrapping scripts in
// lowercase <python> tags. For documents without comments or stray closing
// tags it is the inverse of Extract.
func Reconstruct(segments []Segment) string {
	var sb strings.Builder
	for _, seg := range segments {
		if seg.Kind == Literal {
			sb.WriteString(seg.Text)
			continue
		}
		sb.WriteString(OpenTag)
		sb.WriteString(seg.Text)
		if !seg.Unterminated {
			sb.WriteString(CloseTag)
		}
	}
	return sb.String()
}

// Scripts returns only the script segments, in document order.
func Scripts(segments []Segment) []Segment {
	var out []Segment
	for _, seg := range segments {
		if seg.Kind == Script {
			out = append(out, seg)
		}
	}
	return out
}
