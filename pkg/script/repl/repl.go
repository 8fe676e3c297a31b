// Package repl provides an interactive session for trying out script code
// with the same helpers and modules that pages get.
package repl

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/peterh/liner"
	"go.starlark.net/starlark"
	"go.starlark.net/syntax"

	"github.com/pyserve/pyserve/pkg/script"
)

const (
	Prompt             = ">>> "
	ContinuationPrompt = "... "
)

var keywords = []string{
	"and", "break", "continue", "def", "elif", "else", "for", "if", "in",
	"lambda", "load", "not", "or", "pass", "return", "while",
	"True", "False", "None",
}

// Session holds the state of one interactive session: the scope that
// carries definitions between inputs and any partially typed block.
type Session struct {
	registry *script.Registry
	exec     *script.Executor
	scope    script.Scope
	out      io.Writer
	pending  strings.Builder
}

// NewSession returns a session writing results to out.
func NewSession(reg *script.Registry, out io.Writer) *Session {
	return &Session{
		registry: reg,
		exec:     reg.Executor("<stdin>", nil),
		scope:    script.Scope{},
		out:      out,
	}
}

// Close releases resources opened during the session.
func (s *Session) Close() error {
	return s.exec.Close()
}

// Pending reports whether a block is waiting for more lines.
func (s *Session) Pending() bool {
	return s.pending.Len() > 0
}

// Reset drops any partially typed block.
func (s *Session) Reset() {
	s.pending.Reset()
}

// Feed adds one input line. Once the buffered input forms a complete
// statement it is executed and the buffer cleared.
func (s *Session) Feed(ctx context.Context, line string) {
	if s.pending.Len() == 0 && strings.TrimSpace(line) == "" {
		return
	}
	if s.pending.Len() > 0 {
		s.pending.WriteByte('\n')
	}
	s.pending.WriteString(line)

	input := s.pending.String()
	if needsMoreInput(input) {
		return
	}
	s.pending.Reset()
	s.run(ctx, input)
}

func (s *Session) run(ctx context.Context, input string) {
	if _, err := syntax.ParseExpr("<stdin>", input, 0); err == nil {
		v, out, err := s.exec.Eval(ctx, input, s.scope)
		io.WriteString(s.out, out)
		if out != "" && !strings.HasSuffix(out, "\n") {
			io.WriteString(s.out, "\n")
		}
		if err != nil {
			fmt.Fprintf(s.out, "error: %v\n", err)
			return
		}
		if v != starlark.None {
			fmt.Fprintln(s.out, v.String())
		}
		return
	}

	out, scope, err := s.exec.Exec(ctx, input, s.scope)
	s.scope = scope
	io.WriteString(s.out, out)
	if out != "" && !strings.HasSuffix(out, "\n") {
		io.WriteString(s.out, "\n")
	}
	if err != nil {
		fmt.Fprintf(s.out, "error: %v\n", err)
	}
}

// Command runs a REPL meta-command such as ":env".
func (s *Session) Command(cmd string) {
	switch cmd {
	case ":help", ":h", ":?":
		fmt.Fprintln(s.out, "REPL Commands:")
		fmt.Fprintln(s.out, "  :help, :h, :?   Show this help")
		fmt.Fprintln(s.out, "  :env            Show variables in scope")
		fmt.Fprintln(s.out, "  :names          Show helpers and modules")
		fmt.Fprintln(s.out, "  :clear          Clear all variables")
		fmt.Fprintln(s.out, "  exit, quit      Exit the REPL")
		fmt.Fprintln(s.out, "")
		fmt.Fprintln(s.out, "Blocks (def, if, for, ...) end with an empty line.")

	case ":env":
		s.printScope()

	case ":names":
		fmt.Fprintln(s.out, strings.Join(s.registry.Names(), " "))

	case ":clear":
		s.scope = script.Scope{}
		fmt.Fprintln(s.out, "Scope cleared")

	default:
		fmt.Fprintf(s.out, "Unknown command: %s (type :help for commands)\n", cmd)
	}
}

func (s *Session) printScope() {
	if len(s.scope) == 0 {
		fmt.Fprintln(s.out, "(no variables)")
		return
	}
	names := make([]string, 0, len(s.scope))
	for name := range s.scope {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		v := s.scope[name]
		value := v.String()
		if len(value) > 60 {
			value = value[:57] + "..."
		}
		fmt.Fprintf(s.out, "  %s: %s = %s\n", name, v.Type(), value)
	}
}

// Complete returns completions for the last word of line.
func (s *Session) Complete(line string) []string {
	if strings.TrimSpace(line) == "" || strings.HasSuffix(line, " ") || strings.HasSuffix(line, "\t") {
		return nil
	}
	start := strings.LastIndexFunc(line, func(r rune) bool {
		return !(r == '_' || r == '.' || r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9')
	}) + 1
	prefix, word := line[:start], line[start:]

	candidates := append([]string{}, keywords...)
	candidates = append(candidates, s.registry.Names()...)
	for name := range s.scope {
		candidates = append(candidates, name)
	}
	sort.Strings(candidates)

	var matches []string
	for _, c := range candidates {
		if strings.HasPrefix(c, word) {
			matches = append(matches, prefix+c)
		}
	}
	return matches
}

// Start runs an interactive session on the terminal until EOF or exit.
func Start(ctx context.Context, out io.Writer, version string, reg *script.Registry) {
	line := liner.NewLiner()
	defer line.Close()
	line.SetCtrlCAborts(true)

	session := NewSession(reg, out)
	defer session.Close()
	line.SetCompleter(session.Complete)

	historyFile := filepath.Join(os.TempDir(), ".pyserve_history")
	if f, err := os.Open(historyFile); err == nil {
		line.ReadHistory(f)
		f.Close()
	}
	defer func() {
		if f, err := os.Create(historyFile); err == nil {
			line.WriteHistory(f)
			f.Close()
		}
	}()

	fmt.Fprintf(out, "pyserve %s\n", version)
	fmt.Fprintln(out, "Type 'exit' or Ctrl+D to quit, ':help' for commands")

	for {
		prompt := Prompt
		if session.Pending() {
			prompt = ContinuationPrompt
		}
		input, err := line.Prompt(prompt)
		if err == liner.ErrPromptAborted {
			if session.Pending() {
				fmt.Fprintln(out, "^C (cleared)")
			} else {
				fmt.Fprintln(out, "^C")
			}
			session.Reset()
			continue
		}
		if err == io.EOF {
			fmt.Fprintln(out)
			return
		}
		if err != nil {
			fmt.Fprintf(out, "Error reading input: %v\n", err)
			return
		}

		trimmed := strings.TrimSpace(input)
		if !session.Pending() {
			if trimmed == "exit" || trimmed == "quit" {
				return
			}
			if strings.HasPrefix(trimmed, ":") {
				session.Command(trimmed)
				continue
			}
		}
		if trimmed != "" {
			line.AppendHistory(input)
		}
		session.Feed(ctx, input)
	}
}

// needsMoreInput reports whether input is an incomplete statement: open
// brackets or strings, or a block that has not been ended by a blank line.
func needsMoreInput(input string) bool {
	depth := 0
	var quote string
	block := false
	lines := strings.Split(input, "\n")
	for _, l := range lines {
		for i := 0; i < len(l); i++ {
			c := l[i]
			if quote != "" {
				switch {
				case c == '\\':
					i++
				case strings.HasPrefix(l[i:], quote):
					i += len(quote) - 1
					quote = ""
				}
				continue
			}
			switch c {
			case '#':
				i = len(l)
			case '"', '\'':
				quote = l[i : i+1]
				if strings.HasPrefix(l[i:], strings.Repeat(quote, 3)) {
					quote = strings.Repeat(quote, 3)
					i += 2
				}
			case '(', '[', '{':
				depth++
			case ')', ']', '}':
				depth--
			}
		}
		if len(quote) == 1 {
			// Single-quoted strings end at the line end.
			quote = ""
		}
		if code := stripComment(l); strings.HasSuffix(strings.TrimSpace(code), ":") {
			block = true
		}
	}
	if depth > 0 || quote != "" {
		return true
	}
	return block && strings.TrimSpace(lines[len(lines)-1]) != ""
}

func stripComment(l string) string {
	if i := strings.IndexByte(l, '#'); i >= 0 {
		return l[:i]
	}
	return l
}
