// Package snapshot assembles the immutable, fully decoded view of one
// inbound request. The host hands over an explicit Fields value; nothing
// here reads process or request state on its own.
package snapshot

import (
	"bytes"
	"maps"

	"github.com/dskow/cgi-probe/internal/body"
	"github.com/dskow/cgi-probe/internal/environ"
	"github.com/dskow/cgi-probe/internal/params"
)

// UnspecifiedContentType is reported when no content type was declared.
const UnspecifiedContentType = "unspecified"

// Fields is what the host gateway extracted from a request. Optional
// header values carry explicit presence flags.
type Fields struct {
	Method      string
	Path        string
	QueryString string

	ContentType    string
	HasContentType bool

	ContentLength    int64
	HasContentLength bool

	// Body holds exactly the bytes received, possibly fewer than declared.
	Body []byte

	// Environ is the full variable superset; it is filtered on projection.
	Environ map[string]string
}

// Source names the input an Issue was found in.
type Source string

const (
	SourceQuery Source = "query"
	SourceBody  Source = "body"
)

// Issue is a decode irregularity tagged with its source.
type Issue struct {
	Source Source `json:"source"`
	params.Issue
}

// Snapshot is the decoded request. It is not modified after New returns
// and accessors hand out copies.
type Snapshot struct {
	method      string
	path        string
	queryRaw    string
	queryParams params.List
	bodyParams  params.List
	bodyForm    bool
	rawBody     []byte

	contentType    string
	hasContentType bool
	contentLength  int64
	hasLength      bool

	vars       map[string]string
	projection environ.Projection
	issues     []Issue
}

// New decodes f into a Snapshot. It never fails.
func New(f Fields) *Snapshot {
	s := &Snapshot{
		method:         f.Method,
		path:           f.Path,
		queryRaw:       f.QueryString,
		rawBody:        bytes.Clone(f.Body),
		contentType:    f.ContentType,
		hasContentType: f.HasContentType,
		contentLength:  f.ContentLength,
		hasLength:      f.HasContentLength,
		vars:           maps.Clone(f.Environ),
	}
	if s.rawBody == nil {
		s.rawBody = []byte{}
	}
	if s.vars == nil {
		s.vars = map[string]string{}
	}

	var qIssues []params.Issue
	s.queryParams, qIssues = params.DecodeReport(f.QueryString)
	for _, is := range qIssues {
		s.issues = append(s.issues, Issue{Source: SourceQuery, Issue: is})
	}

	ct := ""
	if f.HasContentType {
		ct = f.ContentType
	}
	res := body.Decode(f.Method, ct, s.rawBody)
	s.bodyParams = res.Params
	s.bodyForm = res.Form
	for _, is := range res.Issues {
		s.issues = append(s.issues, Issue{Source: SourceBody, Issue: is})
	}

	s.projection = environ.Project(s.vars)
	return s
}

// Method returns the request method.
func (s *Snapshot) Method() string { return s.method }

// Path returns the request path.
func (s *Snapshot) Path() string { return s.path }

// QueryStringRaw returns the undecoded query string.
func (s *Snapshot) QueryStringRaw() string { return s.queryRaw }

// QueryParams returns the decoded query string.
func (s *Snapshot) QueryParams() params.List { return s.queryParams.Clone() }

// BodyParams returns the decoded form body; empty when the body was not
// form data or the method does not carry one.
func (s *Snapshot) BodyParams() params.List { return s.bodyParams.Clone() }

// BodyIsForm reports whether the body was decoded as form data.
func (s *Snapshot) BodyIsForm() bool { return s.bodyForm }

// RawBody returns the bytes received, never nil.
func (s *Snapshot) RawBody() []byte { return bytes.Clone(s.rawBody) }

// BodyLen is the number of bytes actually received.
func (s *Snapshot) BodyLen() int { return len(s.rawBody) }

// ContentType returns the declared content type, or
// UnspecifiedContentType when none was declared.
func (s *Snapshot) ContentType() string {
	if !s.hasContentType {
		return UnspecifiedContentType
	}
	return s.contentType
}

// DeclaredContentType returns the content type with a presence flag.
func (s *Snapshot) DeclaredContentType() (string, bool) {
	return s.contentType, s.hasContentType
}

// ContentLength returns the declared body length with a presence flag.
func (s *Snapshot) ContentLength() (int64, bool) {
	return s.contentLength, s.hasLength
}

// DisplayContentLength is the declared length, or 0 when absent.
func (s *Snapshot) DisplayContentLength() int64 {
	if !s.hasLength {
		return 0
	}
	return s.contentLength
}

// Truncated reports that fewer bytes arrived than were declared. An
// absent Content-Length never counts as truncation.
func (s *Snapshot) Truncated() bool {
	return s.hasLength && int64(len(s.rawBody)) < s.contentLength
}

// Environment returns the allow-listed projection of the variables.
func (s *Snapshot) Environment() environ.Projection {
	return environ.Projection{
		Server: append([]environ.Var(nil), s.projection.Server...),
		Env:    append([]environ.Var(nil), s.projection.Env...),
	}
}

// Variables returns a copy of the full variable superset.
func (s *Snapshot) Variables() map[string]string { return maps.Clone(s.vars) }

// Issues returns the decode irregularities of query and body, query first.
func (s *Snapshot) Issues() []Issue { return append([]Issue(nil), s.issues...) }
