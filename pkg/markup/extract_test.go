package markup

import (
	"strings"
	"testing"
)

type seg struct {
	kind Kind
	text string
}

func kinds(segments []Segment) []seg {
	out := make([]seg, len(segments))
	for i, s := range segments {
		out[i] = seg{s.Kind, s.Text}
	}
	return out
}

func assertSegments(t *testing.T, input string, want []seg) {
	t.Helper()
	got := kinds(Extract(input))
	if len(got) != len(want) {
		t.Fatalf("Extract(%q) returned %d segments, want %d\n got: %v", input, len(got), len(want), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("segment %d = {%s %q}, want {%s %q}", i, got[i].kind, got[i].text, want[i].kind, want[i].text)
		}
	}
}

func TestExtractBasic(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  []seg
	}{
		{"empty", "", nil},
		{"plain html", "<p>Hello</p>", []seg{{Literal, "<p>Hello</p>"}}},
		{
			"single script",
			`<h1>A</h1><python>echo("x")</python><p>B</p>`,
			[]seg{{Literal, "<h1>A</h1>"}, {Script, `echo("x")`}, {Literal, "<p>B</p>"}},
		},
		{
			"script only",
			"<python>x = 1</python>",
			[]seg{{Script, "x = 1"}},
		},
		{
			"adjacent scripts",
			"<python>a</python><python>b</python>",
			[]seg{{Script, "a"}, {Script, "b"}},
		},
		{
			"case insensitive tags",
			"<PYTHON>x</Python>done",
			[]seg{{Script, "x"}, {Literal, "done"}},
		},
		{
			"tag with attributes is not a script tag",
			`<python lang="x">y</python>`,
			[]seg{{Literal, `<python lang="x">y`}},
		},
		{
			"self closing is literal",
			"<python/>",
			[]seg{{Literal, "<python/>"}},
		},
		{
			"stray close tag dropped",
			"a</python>b",
			[]seg{{Literal, "ab"}},
		},
		{
			"apostrophe in html does not open a string",
			"<p>don't</p><python>x</python>",
			[]seg{{Literal, "<p>don't</p>"}, {Script, "x"}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assertSegments(t, tt.input, tt.want)
		})
	}
}

func TestExtractNesting(t *testing.T) {
	assertSegments(t, "<python>a<python>b</python>c</python>", []seg{
		{Script, "a<python>b</python>c"},
	})

	assertSegments(t, "x<python>1<python>2<python>3</python></python></python>y", []seg{
		{Literal, "x"},
		{Script, "1<python>2<python>3</python></python>"},
		{Literal, "y"},
	})
}

func TestExtractStrings(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  []seg
	}{
		{
			"double quoted close tag",
			`<python>s = "</python>"</python>after`,
			[]seg{{Script, `s = "</python>"`}, {Literal, "after"}},
		},
		{
			"single quoted open tag does not nest",
			`<python>s = '<python>'</python>after`,
			[]seg{{Script, `s = '<python>'`}, {Literal, "after"}},
		},
		{
			"escaped quote stays inside string",
			`<python>s = "a\"</python>"</python>`,
			[]seg{{Script, `s = "a\"</python>"`}},
		},
		{
			"triple quoted string with inner quotes",
			"<python>s = \"\"\"say \"hi\" </python>\"\"\"</python>",
			[]seg{{Script, "s = \"\"\"say \"hi\" </python>\"\"\""}},
		},
		{
			"triple single quoted across lines",
			"<python>s = '''a\n</python>\nb'''\n</python>",
			[]seg{{Script, "s = '''a\n</python>\nb'''\n"}},
		},
		{
			"empty string literal",
			`<python>s = ""</python>x`,
			[]seg{{Script, `s = ""`}, {Literal, "x"}},
		},
		{
			"apostrophe in comment is ignored",
			"<python># it's fine\necho('ok')</python>tail",
			[]seg{{Script, "# it's fine\necho('ok')"}, {Literal, "tail"}},
		},
		{
			"close tag inside comment still closes",
			"<python>x = 1 # done</python>tail",
			[]seg{{Script, "x = 1 # done"}, {Literal, "tail"}},
		},
		{
			"unclosed single quote ends at newline",
			"<python>s = 'oops\n</python>tail",
			[]seg{{Script, "s = 'oops\n"}, {Literal, "tail"}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assertSegments(t, tt.input, tt.want)
		})
	}
}

func TestExtractComments(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  []seg
	}{
		{
			"comment dropped",
			"a<!-- hidden -->b",
			[]seg{{Literal, "ab"}},
		},
		{
			"script tag inside comment ignored",
			"a<!-- <python>x</python> -->b",
			[]seg{{Literal, "ab"}},
		},
		{
			"unterminated comment drops rest",
			"a<!-- <python>x</python> b",
			[]seg{{Literal, "a"}},
		},
		{
			"comment end needs its own dashes",
			"a<!-->b-->c",
			[]seg{{Literal, "ac"}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assertSegments(t, tt.input, tt.want)
		})
	}
}

func TestExtractCDATA(t *testing.T) {
	assertSegments(t, "<![CDATA[ <python>x</python> <!-- c --> ]]><python>y</python>", []seg{
		{Literal, "<![CDATA[ <python>x</python> <!-- c --> ]]>"},
		{Script, "y"},
	})

	assertSegments(t, "<![CDATA[ never closed <python>", []seg{
		{Literal, "<![CDATA[ never closed <python>"},
	})
}

func TestExtractRawText(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  []seg
	}{
		{
			"script island",
			"<script>var a = '<python>x</python>';</script><python>y</python>",
			[]seg{{Literal, "<script>var a = '<python>x</python>';</script>"}, {Script, "y"}},
		},
		{
			"closing tag inside js string",
			`<script>var s = "</script>"; f();</script>after`,
			[]seg{{Literal, `<script>var s = "</script>"; f();</script>after`}},
		},
		{
			"uppercase and attributes",
			`<SCRIPT type="text/javascript">x()</SCRIPT ><python>y</python>`,
			[]seg{{Literal, `<SCRIPT type="text/javascript">x()</SCRIPT >`}, {Script, "y"}},
		},
		{
			"style island",
			"<style>p::after { content: '<python>'; }</style><python>z</python>",
			[]seg{{Literal, "<style>p::after { content: '<python>'; }</style>"}, {Script, "z"}},
		},
		{
			"apostrophe in js comment",
			"<script>// don't\nf()</script><python>q</python>",
			[]seg{{Literal, "<script>// don't\nf()</script>"}, {Script, "q"}},
		},
		{
			"template literal spans lines",
			"<script>var t = `a\n</script>\n`;</script><python>q</python>",
			[]seg{{Literal, "<script>var t = `a\n</script>\n`;</script>"}, {Script, "q"}},
		},
		{
			"scripts prefix is not a raw text tag",
			"<scripts><python>x</python></scripts>",
			[]seg{{Literal, "<scripts>"}, {Script, "x"}, {Literal, "</scripts>"}},
		},
		{
			"quoted attribute containing gt",
			`<script data-x="a>b">1</script><python>x</python>`,
			[]seg{{Literal, `<script data-x="a>b">1</script>`}, {Script, "x"}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assertSegments(t, tt.input, tt.want)
		})
	}
}

func TestExtractUnterminated(t *testing.T) {
	segments := Extract("<p>before</p><python>only open, never closed")
	if len(segments) != 2 {
		t.Fatalf("got %d segments, want 2: %v", len(segments), segments)
	}
	if segments[0].Kind != Literal || segments[0].Text != "<p>before</p>" {
		t.Errorf("first segment = %v", segments[0])
	}
	last := segments[1]
	if last.Kind != Script || !last.Unterminated {
		t.Errorf("last segment should be an unterminated script, got %v", last)
	}

	// Nested open without enough closes is still unterminated.
	segments = Extract("<python>a<python>b</python>")
	if len(segments) != 1 || !segments[0].Unterminated {
		t.Errorf("expected single unterminated segment, got %v", segments)
	}

	// Open string at end of document.
	segments = Extract(`<python>s = "</python>`)
	if len(segments) != 1 || !segments[0].Unterminated {
		t.Errorf("expected single unterminated segment, got %v", segments)
	}
}

func TestExtractLines(t *testing.T) {
	doc := "line1\nline2\n<python>\nx = 1\n</python>\nline6\n<!-- c\n -->tail"
	segments := Extract(doc)
	if len(segments) != 3 {
		t.Fatalf("got %d segments: %v", len(segments), segments)
	}
	wantLines := []int{1, 3, 5}
	for i, want := range wantLines {
		if segments[i].Line != want {
			t.Errorf("segment %d line = %d, want %d", i, segments[i].Line, want)
		}
	}
}

func TestReconstruct(t *testing.T) {
	inputs := []string{
		"plain",
		"<p>a</p><python>x = 1</python><p>b</p>",
		"<python>a<python>b</python>c</python>",
		`<script>var s = "</script>";</script><python>"</python>"</python>`,
		"<![CDATA[<python>]]>",
		"<python>unterminated",
	}
	for _, in := range inputs {
		if got := Reconstruct(Extract(in)); got != in {
			t.Errorf("Reconstruct(Extract(%q)) = %q", in, got)
		}
	}
}

func TestScripts(t *testing.T) {
	segments := Extract("a<python>1</python>b<python>2</python>c")
	scripts := Scripts(segments)
	if len(scripts) != 2 || scripts[0].Text != "1" || scripts[1].Text != "2" {
		t.Errorf("Scripts() = %v", scripts)
	}
}

func TestSegmentString(t *testing.T) {
	s := Segment{Kind: Script, Text: strings.Repeat("x", 50), Line: 3}
	got := s.String()
	if !strings.HasPrefix(got, "script@3") || !strings.Contains(got, "...") {
		t.Errorf("String() = %q", got)
	}
	if Kind(9).String() != "Kind(9)" {
		t.Errorf("unknown kind String() = %q", Kind(9).String())
	}
}

func BenchmarkExtract(b *testing.B) {
	doc := strings.Repeat(`<div class="row"><p>Hello, world</p>
<script>var s = "</script>"; // it's
</script>
<python>
for i in range(3):
    echo("<li>%d</li>" % i)  # don't
</python>
</div>
`, 200)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		Extract(doc)
	}
}
