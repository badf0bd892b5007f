// Package report shapes a request snapshot into the data each harness page
// displays. Every function is pure: it reads the snapshot and its explicit
// extras and returns plain values. Values are unescaped text; escaping is
// the template layer's job.
package report

import (
	"fmt"
	"time"

	"github.com/dskow/cgi-probe/internal/environ"
	"github.com/dskow/cgi-probe/internal/params"
	"github.com/dskow/cgi-probe/internal/snapshot"
)

// Placeholders rendered in place of absent data.
const (
	NotProvided  = "Not provided"
	NotSpecified = "Not specified"
	Empty        = "(empty)"
	EmptyQuery   = "Empty"
	NoParameters = "No parameters received"
	NoPostData   = "No POST data received"
	NoBodyData   = "(No data received)"
	NoVariables  = "No variables set"
	Unknown      = "Unknown"
	Anonymous    = "Anonymous"
	NoMessage    = "No message"
)

// Flavor names a report page.
type Flavor string

const (
	FlavorSubmission  Flavor = "submission"
	FlavorQuery       Flavor = "query"
	FlavorEnvironment Flavor = "environment"
	FlavorClock       Flavor = "clock"
	FlavorRawPost     Flavor = "rawpost"
	FlavorCalculator  Flavor = "calculator"
	FlavorVariables   Flavor = "variables"
	FlavorMessage     Flavor = "message"
)

// Field is a single displayed value that may be absent.
type Field struct {
	Value       string
	Present     bool
	Placeholder string
}

// Display returns Value when present and Placeholder otherwise. A present
// empty value stays empty.
func (f Field) Display() string {
	if !f.Present {
		return f.Placeholder
	}
	return f.Value
}

func lookup(l params.List, key, placeholder string) Field {
	v, ok := l.Get(key)
	return Field{Value: v, Present: ok, Placeholder: placeholder}
}

func nonEmpty(v, placeholder string) Field {
	return Field{Value: v, Present: v != "", Placeholder: placeholder}
}

// ParamSection is a parameter list with the text shown when it is empty.
type ParamSection struct {
	Params      params.List
	Placeholder string
}

// Empty reports whether the section has no parameters.
func (p ParamSection) Empty() bool { return p.Params.Len() == 0 }

// Submission is the form submission echo.
type Submission struct {
	Username      Field
	Email         Field
	Body          ParamSection
	RawBody       Field
	ContentLength int64
	ContentType   Field
	Truncated     bool
	Issues        []snapshot.Issue
}

// NewSubmission surfaces the username and email form fields, the full
// form body and the raw body bytes.
func NewSubmission(s *snapshot.Snapshot) Submission {
	bp := s.BodyParams()
	ct, hasCT := s.DeclaredContentType()
	return Submission{
		Username:      lookup(bp, "username", NotProvided),
		Email:         lookup(bp, "email", NotProvided),
		Body:          ParamSection{Params: bp, Placeholder: NoPostData},
		RawBody:       nonEmpty(string(s.RawBody()), Empty),
		ContentLength: s.DisplayContentLength(),
		ContentType:   Field{Value: ct, Present: hasCT, Placeholder: NotSpecified},
		Truncated:     s.Truncated(),
		Issues:        issuesFrom(s, snapshot.SourceBody),
	}
}

// Message is the name and message form echo.
type Message struct {
	Name          Field
	Message       Field
	Body          ParamSection
	RawBody       Field
	ContentLength int64
	Truncated     bool
	Issues        []snapshot.Issue
}

// NewMessage surfaces the name and message form fields, defaulting to
// Anonymous and No message, with the full form body and raw bytes.
func NewMessage(s *snapshot.Snapshot) Message {
	bp := s.BodyParams()
	return Message{
		Name:          lookup(bp, "name", Anonymous),
		Message:       lookup(bp, "message", NoMessage),
		Body:          ParamSection{Params: bp, Placeholder: NoPostData},
		RawBody:       nonEmpty(string(s.RawBody()), Empty),
		ContentLength: s.DisplayContentLength(),
		Truncated:     s.Truncated(),
		Issues:        issuesFrom(s, snapshot.SourceBody),
	}
}

// Query is the query string inspector.
type Query struct {
	Name   Field
	Value  Field
	Params ParamSection
	Raw    Field
	Issues []snapshot.Issue
}

// NewQuery surfaces the name and value query parameters, the full decoded
// list and the raw query string.
func NewQuery(s *snapshot.Snapshot) Query {
	qp := s.QueryParams()
	return Query{
		Name:   lookup(qp, "name", NotProvided),
		Value:  lookup(qp, "value", NotProvided),
		Params: ParamSection{Params: qp, Placeholder: NoParameters},
		Raw:    nonEmpty(s.QueryStringRaw(), EmptyQuery),
		Issues: issuesFrom(s, snapshot.SourceQuery),
	}
}

// Process describes the running harness. It is supplied by the host.
type Process struct {
	Version    string
	OS         string
	ServerAPI  string
	Extensions []string
	Now        time.Time
}

// VarSection is a list of variables with the text shown when it is empty.
type VarSection struct {
	Vars        []environ.Var
	Placeholder string
}

// Empty reports whether the section has no variables.
func (v VarSection) Empty() bool { return len(v.Vars) == 0 }

// Environment is the environment dump.
type Environment struct {
	Version    Field
	OS         Field
	ServerAPI  Field
	LocalTime  string
	Server     VarSection
	Env        VarSection
	Extensions []string

	// ExtensionsPlaceholder is shown when Extensions is empty.
	ExtensionsPlaceholder string
}

// NewEnvironment combines process metadata with the allow-listed
// variables of s.
func NewEnvironment(s *snapshot.Snapshot, p Process) Environment {
	proj := s.Environment()
	return Environment{
		Version:               nonEmpty(p.Version, Unknown),
		OS:                    nonEmpty(p.OS, Unknown),
		ServerAPI:             nonEmpty(p.ServerAPI, Unknown),
		LocalTime:             p.Now.Format(time.TimeOnly),
		Server:                VarSection{Vars: proj.Server, Placeholder: NoVariables},
		Env:                   VarSection{Vars: proj.Env, Placeholder: NoVariables},
		Extensions:            append([]string(nil), p.Extensions...),
		ExtensionsPlaceholder: "None loaded",
	}
}

// Clock is the server clock page.
type Clock struct {
	Time     string
	Date     string
	Local    string
	UTC      string
	Unix     int64
	Timezone string
	Week     int
	WeekYear int
}

// DateTimeLayout renders YYYY-MM-DD HH:MM:SS.
const DateTimeLayout = time.DateTime

// NewClock renders now in loc and in UTC. A nil loc means time.Local.
func NewClock(now time.Time, loc *time.Location) Clock {
	if loc == nil {
		loc = time.Local
	}
	local := now.In(loc)
	year, week := local.ISOWeek()
	return Clock{
		Time:     local.Format(time.TimeOnly),
		Date:     local.Format("Monday, January 2, 2006"),
		Local:    local.Format(DateTimeLayout),
		UTC:      now.UTC().Format(DateTimeLayout),
		Unix:     now.Unix(),
		Timezone: ZoneName(local),
		Week:     week,
		WeekYear: year,
	}
}

// ZoneName returns the IANA name of t's location, or the zone
// abbreviation when the location has no better name than "Local".
func ZoneName(t time.Time) string {
	if name := t.Location().String(); name != "Local" {
		return name
	}
	abbr, offset := t.Zone()
	if abbr != "" {
		return abbr
	}
	return fmt.Sprintf("UTC%+d", offset/3600)
}

// RawPost is the raw POST body viewer.
type RawPost struct {
	Method        Field
	ContentType   Field
	ContentLength int64
	Body          Field
	BodyBytes     int
	Truncated     bool
}

// NewRawPost surfaces the body bytes and their declared metadata without
// any decoding.
func NewRawPost(s *snapshot.Snapshot) RawPost {
	ct, hasCT := s.DeclaredContentType()
	return RawPost{
		Method:        nonEmpty(s.Method(), Unknown),
		ContentType:   Field{Value: ct, Present: hasCT, Placeholder: NotSpecified},
		ContentLength: s.DisplayContentLength(),
		Body:          nonEmpty(string(s.RawBody()), NoBodyData),
		BodyBytes:     s.BodyLen(),
		Truncated:     s.Truncated(),
	}
}

// NewVariables groups every variable of s for the full dump.
func NewVariables(s *snapshot.Snapshot) environ.Categories {
	return environ.Categorize(s.Variables())
}

func issuesFrom(s *snapshot.Snapshot, src snapshot.Source) []snapshot.Issue {
	var out []snapshot.Issue
	for _, is := range s.Issues() {
		if is.Source == src {
			out = append(out, is)
		}
	}
	return out
}
