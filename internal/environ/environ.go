// Package environ projects the server and environment variables of a
// request onto fixed allow-lists. Output order is the allow-list order so
// reports are identical across hosts.
package environ

import (
	"sort"
	"strings"
)

// ServerVars are the request-derived server variables, in report order.
var ServerVars = []string{
	"SERVER_SOFTWARE",
	"SERVER_NAME",
	"SERVER_PORT",
	"REQUEST_METHOD",
	"REQUEST_URI",
	"QUERY_STRING",
	"SCRIPT_NAME",
	"SCRIPT_FILENAME",
	"PATH_INFO",
	"REMOTE_ADDR",
	"REMOTE_PORT",
	"CONTENT_TYPE",
	"CONTENT_LENGTH",
	"HTTP_HOST",
	"HTTP_USER_AGENT",
	"HTTP_ACCEPT",
}

// EnvVars are the gateway environment variables, in report order.
var EnvVars = []string{
	"GATEWAY_INTERFACE",
	"SERVER_PROTOCOL",
	"DOCUMENT_ROOT",
	"REDIRECT_STATUS",
}

// Var is a named variable that was present in the source mapping.
type Var struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Projection is the allow-listed subset of a variable mapping.
type Projection struct {
	Server []Var `json:"server"`
	Env    []Var `json:"env"`
}

// Project selects the allow-listed variables from all. Variables missing
// from all are omitted, never filled with an empty value.
func Project(all map[string]string) Projection {
	return Projection{
		Server: pick(all, ServerVars),
		Env:    pick(all, EnvVars),
	}
}

// Lookup returns the named variable from p with a presence flag.
func (p Projection) Lookup(name string) (string, bool) {
	for _, group := range [][]Var{p.Server, p.Env} {
		for _, v := range group {
			if v.Name == name {
				return v.Value, true
			}
		}
	}
	return "", false
}

func pick(all map[string]string, names []string) []Var {
	out := make([]Var, 0, len(names))
	for _, name := range names {
		if v, ok := all[name]; ok {
			out = append(out, Var{Name: name, Value: v})
		}
	}
	return out
}

// cgiVars are the CGI/1.1 meta-variables shown in the full variable dump.
var cgiVars = map[string]bool{
	"GATEWAY_INTERFACE": true,
	"SERVER_PROTOCOL":   true,
	"SERVER_SOFTWARE":   true,
	"REQUEST_METHOD":    true,
	"SCRIPT_NAME":       true,
	"SCRIPT_FILENAME":   true,
	"PATH_INFO":         true,
	"PATH_TRANSLATED":   true,
	"QUERY_STRING":      true,
	"REQUEST_URI":       true,
	"CONTENT_TYPE":      true,
	"CONTENT_LENGTH":    true,
	"DOCUMENT_ROOT":     true,
	"REDIRECT_STATUS":   true,
}

var connVars = map[string]bool{
	"SERVER_NAME": true,
	"SERVER_PORT": true,
	"REMOTE_ADDR": true,
	"REMOTE_PORT": true,
}

// MaxOther caps the number of uncategorized variables in Categories.
const MaxOther = 20

// Categories groups every variable of a mapping for the full dump.
// Each group is sorted by name.
type Categories struct {
	CGI    []Var `json:"cgi"`
	Server []Var `json:"server"`
	HTTP   []Var `json:"http"`
	Other  []Var `json:"other"`
}

// Categorize splits all into CGI meta-variables, connection variables,
// HTTP_* header variables and the rest. Other holds at most MaxOther
// entries.
func Categorize(all map[string]string) Categories {
	names := make([]string, 0, len(all))
	for k := range all {
		names = append(names, k)
	}
	sort.Strings(names)

	var c Categories
	for _, name := range names {
		v := Var{Name: name, Value: all[name]}
		switch {
		case cgiVars[name]:
			c.CGI = append(c.CGI, v)
		case connVars[name]:
			c.Server = append(c.Server, v)
		case strings.HasPrefix(name, "HTTP_"):
			c.HTTP = append(c.HTTP, v)
		case len(c.Other) < MaxOther:
			c.Other = append(c.Other, v)
		}
	}
	return c
}
