package inject

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/nathanhoad/suddenly-compiler/internal/config"
	"github.com/nathanhoad/suddenly-compiler/internal/errors"
)

// SplitDelimiter separates the script and style fragments of a bundle
// built from the synthetic combined entry. The bundler writes it; the
// injector splits on it.
const SplitDelimiter = "<!--suddenly:split-->"

const (
	headMarker = "</head>"
	bodyMarker = "</body>"
)

// Artifact is the output of one successful client build pass. Either
// fragment may be empty.
type Artifact struct {
	// Script is the generated script markup.
	Script string

	// Style is the generated stylesheet markup.
	Style string
}

// SplitBundle splits combined bundle markup into script and style
// fragments on the internal delimiter. Markup without a delimiter is all
// script.
func SplitBundle(markup string) Artifact {
	script, style, found := strings.Cut(markup, SplitDelimiter)
	artifact := Artifact{Script: strings.TrimSpace(script)}
	if found {
		artifact.Style = strings.TrimSpace(style)
	}
	return artifact
}

// placeholderPattern matches a flat variable-reference placeholder like
// {{.title}}. Anything else between double braces is template logic and
// is left alone.
var placeholderPattern = regexp.MustCompile(`\{\{\s*\.[a-zA-Z_][a-zA-Z0-9_.]*\s*\}\}`)

// namePattern extracts the reference from inside a matched placeholder.
var namePattern = regexp.MustCompile(`\.[a-zA-Z_][a-zA-Z0-9_.]*`)

// Guard rewrites every variable-reference placeholder into a conditional
// form that renders nothing when the reference is absent at render time,
// so templates stay independent of which optional locals a request
// supplies.
//
// Guarding must always run against the original template text: reapplying
// it to already-guarded output would wrap the inner reference again and
// nest guards without bound. Nested or unbalanced delimiters are rejected
// rather than guessed at.
func Guard(source string) (string, error) {
	if err := checkDelimiters(source); err != nil {
		return "", err
	}

	guarded := placeholderPattern.ReplaceAllStringFunc(source, func(match string) string {
		name := namePattern.FindString(match)
		return fmt.Sprintf("{{if %s}}{{%s}}{{end}}", name, name)
	})

	return guarded, nil
}

// checkDelimiters rejects nested or unbalanced {{ }} pairs.
func checkDelimiters(source string) error {
	rest := source
	offset := 0
	for {
		open := strings.Index(rest, "{{")
		if open < 0 {
			if strings.Contains(rest, "}}") {
				return errors.New(errors.CodeBadPlaceholder).
					WithDetail("Unmatched }} in template")
			}
			return nil
		}

		inner := rest[open+2:]
		close := strings.Index(inner, "}}")
		if close < 0 {
			return errors.New(errors.CodeBadPlaceholder).
				WithDetail(fmt.Sprintf("Unclosed {{ at offset %d", offset+open))
		}
		if nested := strings.Index(inner[:close], "{{"); nested >= 0 {
			return errors.New(errors.CodeBadPlaceholder).
				WithDetail(fmt.Sprintf("Nested {{ inside placeholder at offset %d", offset+open))
		}

		advance := open + 2 + close + 2
		offset += advance
		rest = rest[advance:]
	}
}

// Locals returns the distinct variable references found in a template.
// Derived fresh from the literal text on each call, never persisted.
func Locals(source string) []string {
	seen := make(map[string]struct{})
	var locals []string
	for _, match := range placeholderPattern.FindAllString(source, -1) {
		name := strings.TrimPrefix(namePattern.FindString(match), ".")
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		locals = append(locals, name)
	}
	return locals
}

// Inject embeds the bundle fragments into the template source and guards
// its placeholders. The style fragment lands immediately before </head>,
// the script fragment immediately before </body>; the template must
// contain exactly one of each marker.
func Inject(artifact Artifact, source string) (string, error) {
	if n := strings.Count(source, headMarker); n != 1 {
		return "", errors.New(errors.CodeBadMarkers).
			WithDetail(fmt.Sprintf("Template contains %d %s markers, want exactly 1", n, headMarker))
	}
	if n := strings.Count(source, bodyMarker); n != 1 {
		return "", errors.New(errors.CodeBadMarkers).
			WithDetail(fmt.Sprintf("Template contains %d %s markers, want exactly 1", n, bodyMarker))
	}

	guarded, err := Guard(source)
	if err != nil {
		return "", err
	}

	if artifact.Style != "" {
		guarded = strings.Replace(guarded, headMarker, artifact.Style+"\n"+headMarker, 1)
	}
	if artifact.Script != "" {
		guarded = strings.Replace(guarded, bodyMarker, artifact.Script+"\n"+bodyMarker, 1)
	}

	return guarded, nil
}

// Locate finds the template to inject into, in priority order: the
// explicitly configured path, then a source view directory reported by
// the server loader, then the conventional views location, then the
// built-in fallback. The first existing candidate wins.
//
// The returned source is the template text; usedFallback reports that the
// built-in template was chosen (no path exists on disk in that case).
func Locate(cfg *config.Config, sourceViews []string) (path, source string, usedFallback bool, err error) {
	var candidates []string
	if explicit := cfg.TemplatePath(); explicit != "" {
		candidates = append(candidates, explicit)
	}
	for _, view := range sourceViews {
		candidates = append(candidates, filepath.Join(view, "index.html"))
	}
	candidates = append(candidates, filepath.Join(cfg.ViewsPath(), "index.html"))

	for _, candidate := range candidates {
		data, readErr := os.ReadFile(candidate)
		if readErr != nil {
			continue
		}
		return candidate, string(data), false, nil
	}

	if cfg.Client.NoFallbackTemplate {
		return "", "", false, errors.New(errors.CodeTemplateMissing).
			WithDetail("Checked: " + strings.Join(candidates, ", ")).
			WithSuggestion("Create an index.html in the views directory or set client.template")
	}

	return "", fallbackTemplate, true, nil
}

// Result describes one injection pass.
type Result struct {
	// TemplatePath is the source template used, empty for the fallback.
	TemplatePath string

	// OutputPath is where the rendered template was written.
	OutputPath string

	// UsedFallback reports that the built-in template was used.
	UsedFallback bool

	// Locals are the guarded references discovered in the template.
	Locals []string
}

// Render runs a full injection pass: locate the template, embed the
// artifact, guard placeholders, and write the output into the compiled
// public directory under the source template's base name.
func Render(cfg *config.Config, sourceViews []string, artifact Artifact) (*Result, error) {
	path, source, usedFallback, err := Locate(cfg, sourceViews)
	if err != nil {
		return nil, err
	}

	rendered, err := Inject(artifact, source)
	if err != nil {
		return nil, err
	}

	base := "index.html"
	if path != "" {
		base = filepath.Base(path)
	}
	outPath := filepath.Join(cfg.PublicOutputPath(), base)

	if err := os.MkdirAll(filepath.Dir(outPath), 0755); err != nil {
		return nil, errors.New(errors.CodeBundleFailed).Wrap(err)
	}
	if err := os.WriteFile(outPath, []byte(rendered), 0644); err != nil {
		return nil, errors.New(errors.CodeBundleFailed).Wrap(err)
	}

	return &Result{
		TemplatePath: path,
		OutputPath:   outPath,
		UsedFallback: usedFallback,
		Locals:       Locals(source),
	}, nil
}
