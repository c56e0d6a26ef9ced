// Package inject embeds bundled client assets into a server-rendered
// HTML template and guards its optional placeholders.
//
// The injector is a narrow text transform, not a DOM parse: the style
// fragment of a bundle artifact is inserted immediately before </head>,
// the script fragment immediately before </body>, and every flat
// {{.name}} placeholder is rewritten to render nothing when the named
// local is absent. Each pass starts from the original template text, so
// re-injection never nests guards.
package inject
