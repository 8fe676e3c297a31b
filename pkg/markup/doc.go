// Package markup splits HTML documents into literal markup and embedded
// <python> script regions.
//
// The extractor is a single left-to-right scan driven by an explicit mode
// machine (HTML, comment, CDATA, raw text, script). It understands enough of
// HTML to leave <script> and <style> islands, comments and CDATA sections
// alone, and enough of the embedded language's lexical structure (quoted and
// triple-quoted strings, escapes, line comments) that tag-like text inside a
// string literal never opens or closes a script region.
//
//	segments := markup.Extract(`<p>Hello</p><python>echo("hi")</python>`)
//	// [Literal "<p>Hello</p>"] [Script `echo("hi")`]
package markup
