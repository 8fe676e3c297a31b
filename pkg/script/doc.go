// Package script executes the <python> regions of a document and splices
// their output back into the page.
//
// Scripts are Starlark programs. A Registry fixes the capabilities available
// to every script (helper functions, allow-listed modules, disabled names)
// and is built once at startup. A Renderer walks the segments produced by
// package markup, running each script segment through an Executor with a
// Scope that carries variables from one segment to the next:
//
//	reg, err := script.NewRegistry(script.Options{
//		AllowedModules: []string{"math", "json"},
//		DisabledNames:  []string{"open"},
//	})
//	if err != nil {
//		return err
//	}
//	html := script.NewRenderer(reg).Render(ctx, doc, req)
//
// Script failures never escape as Go errors. A failing segment renders as
// an error marker and the rest of the document is still produced.
package script
