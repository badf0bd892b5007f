package probe

import (
	"net/http"
	"path"
	"slices"
	"strings"

	"github.com/dskow/cgi-probe/internal/report"
	"github.com/dskow/cgi-probe/internal/routing"
)

// script is one diagnostic endpoint under the script prefix.
type script struct {
	flavor  report.Flavor
	methods []string
}

var (
	readMethods = []string{http.MethodGet, http.MethodHead}
	bodyMethods = []string{http.MethodGet, http.MethodHead, http.MethodPost, http.MethodPut}
)

// scripts maps the script name to its report. A name is looked up as
// requested first, then without its .php/.py/.cgi suffix, so form.py and
// form.php can be different pages.
var scripts = map[string]script{
	"form.py": {flavor: report.FlavorMessage, methods: bodyMethods},
	"message": {flavor: report.FlavorMessage, methods: bodyMethods},
	"form":  {flavor: report.FlavorSubmission, methods: bodyMethods},
	"query": {flavor: report.FlavorQuery, methods: readMethods},
	"info":  {flavor: report.FlavorEnvironment, methods: readMethods},
	"time":  {flavor: report.FlavorClock, methods: readMethods},
	"post":  {flavor: report.FlavorRawPost, methods: bodyMethods},
	"calc":  {flavor: report.FlavorCalculator, methods: readMethods},
	"env":   {flavor: report.FlavorVariables, methods: readMethods},
}

// lookupScript resolves a request path to its script.
func lookupScript(p string) (script, bool) {
	s, ok := routing.SplitScript(p, routing.ScriptPrefix)
	if !ok {
		return script{}, false
	}
	if sc, ok := scripts[path.Base(s.ScriptName)]; ok {
		return sc, true
	}
	sc, ok := scripts[s.Name]
	return sc, ok
}

func (s script) allows(method string) bool {
	return slices.Contains(s.methods, method)
}

func (s script) allowHeader() string {
	return strings.Join(s.methods, ", ")
}

// ScriptInfo describes a registered script.
type ScriptInfo struct {
	Name    string   `json:"name"`
	Path    string   `json:"path"`
	Flavor  string   `json:"flavor"`
	Methods []string `json:"methods"`
}

// Scripts returns the registered scripts sorted by name.
func Scripts() []ScriptInfo {
	out := make([]ScriptInfo, 0, len(scripts))
	for name, sc := range scripts {
		out = append(out, ScriptInfo{
			Name:    name,
			Path:    routing.ScriptPrefix + "/" + name,
			Flavor:  string(sc.flavor),
			Methods: slices.Clone(sc.methods),
		})
	}
	slices.SortFunc(out, func(a, b ScriptInfo) int { return strings.Compare(a.Name, b.Name) })
	return out
}
