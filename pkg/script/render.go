package script

import (
	"context"
	"strings"

	"github.com/pyserve/pyserve/pkg/markup"
)

// Renderer turns documents containing <python> regions into HTML.
type Renderer struct {
	registry *Registry
}

// NewRenderer returns a renderer using reg's capabilities.
func NewRenderer(reg *Registry) *Renderer {
	return &Renderer{registry: reg}
}

// Registry returns the capability set the renderer runs scripts with.
func (r *Renderer) Registry() *Registry {
	return r.registry
}

// Render extracts the segments of doc and renders them for req.
func (r *Renderer) Render(ctx context.Context, doc string, req *Request) string {
	return r.RenderSegments(ctx, "", markup.Extract(doc), req)
}

// RenderSegments renders already extracted segments. Literal text is copied
// through; script segments run in order against a single scope that starts
// empty, so a variable defined early in the document is visible later.
func (r *Renderer) RenderSegments(ctx context.Context, name string, segments []markup.Segment, req *Request) string {
	x := r.registry.Executor(name, req)
	defer x.Close()

	var sb strings.Builder
	scope := Scope{}
	for _, seg := range segments {
		if seg.Kind == markup.Literal {
			sb.WriteString(seg.Text)
			continue
		}
		var out string
		out, scope = x.RunSegment(ctx, seg, scope)
		sb.WriteString(out)
	}
	return sb.String()
}
