// Package render turns report data into HTML pages. Templates are embedded
// and parsed once; html/template escapes every value for its context, so
// report data is always passed in as raw text.
package render

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"io"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"github.com/dskow/cgi-probe/internal/report"
)

//go:embed templates/*.html
var templateFS embed.FS

//go:embed index.md
var indexMarkdown []byte

// Titles are the page headings per flavor.
var Titles = map[report.Flavor]string{
	report.FlavorSubmission:  "Form Submitted!",
	report.FlavorQuery:       "Query String Parser",
	report.FlavorEnvironment: "Environment Information",
	report.FlavorClock:       "Server Time",
	report.FlavorRawPost:     "POST Data Received",
	report.FlavorCalculator:  "CGI Calculator",
	report.FlavorVariables:   "CGI Environment Variables",
	report.FlavorMessage:     "Form Submitted Successfully!",
}

var funcs = template.FuncMap{
	"ops": func() []string { return report.Operations },
}

// Renderer holds the parsed page templates and the pre-rendered index.
// It is safe for concurrent use.
type Renderer struct {
	pages map[report.Flavor]*template.Template
	index []byte
}

type page struct {
	Title  string
	Report any
}

// New parses all templates and renders the landing page.
func New() (*Renderer, error) {
	base, err := template.New("base").Funcs(funcs).ParseFS(templateFS, "templates/base.html")
	if err != nil {
		return nil, fmt.Errorf("parsing base template: %w", err)
	}

	pages := make(map[report.Flavor]*template.Template, len(Titles))
	for flavor := range Titles {
		t, err := base.Clone()
		if err != nil {
			return nil, fmt.Errorf("cloning base template: %w", err)
		}
		if _, err := t.ParseFS(templateFS, "templates/"+string(flavor)+".html"); err != nil {
			return nil, fmt.Errorf("parsing %s template: %w", flavor, err)
		}
		pages[flavor] = t
	}

	index, err := renderIndex()
	if err != nil {
		return nil, err
	}
	return &Renderer{pages: pages, index: index}, nil
}

// Render writes the page for flavor with data as its report. The page is
// rendered into a buffer first so a template error never leaves a partial
// document on w.
func (r *Renderer) Render(w io.Writer, flavor report.Flavor, data any) error {
	t, ok := r.pages[flavor]
	if !ok {
		return fmt.Errorf("unknown report flavor %q", flavor)
	}
	var buf bytes.Buffer
	if err := t.ExecuteTemplate(&buf, "base", page{Title: Titles[flavor], Report: data}); err != nil {
		return fmt.Errorf("rendering %s: %w", flavor, err)
	}
	_, err := buf.WriteTo(w)
	return err
}

// Index returns the landing page HTML.
func (r *Renderer) Index() []byte { return r.index }

func renderIndex() ([]byte, error) {
	md := goldmark.New(goldmark.WithExtensions(extension.GFM))

	var body bytes.Buffer
	if err := md.Convert(indexMarkdown, &body); err != nil {
		return nil, fmt.Errorf("converting index markdown: %w", err)
	}

	var out bytes.Buffer
	out.WriteString("<!DOCTYPE html>\n<html>\n<head>\n<meta charset=\"UTF-8\">\n<title>CGI Probe Test Suite</title>\n</head>\n<body>\n")
	body.WriteTo(&out) //nolint:errcheck
	out.WriteString("</body>\n</html>\n")
	return out.Bytes(), nil
}
