// Package routing provides the path helpers that map request paths onto
// probe scripts (probe, gateway).
package routing

import "strings"

// ScriptPrefix is the directory scripts are served from.
const ScriptPrefix = "/cgi-bin"

// scriptSuffixes are accepted after a script name so links written for
// interpreter-backed hosts keep working.
var scriptSuffixes = []string{".php", ".py", ".cgi"}

// MatchesPrefix checks if path matches prefix with boundary enforcement.
// The path must either equal the prefix, the prefix must end with "/",
// or the character after the prefix in path must be "/".
func MatchesPrefix(path, prefix string) bool {
	if prefix == "" {
		return false
	}
	if !strings.HasPrefix(path, prefix) {
		return false
	}
	if len(path) == len(prefix) {
		return true
	}
	if prefix[len(prefix)-1] == '/' {
		return true
	}
	return path[len(prefix)] == '/'
}

// Script is a request path resolved against ScriptPrefix.
type Script struct {
	// Name is the script name without any accepted suffix.
	Name string
	// ScriptName is the path up to and including the script segment, as
	// a CGI host reports it in SCRIPT_NAME.
	ScriptName string
	// PathInfo is whatever follows the script segment, starting with "/".
	PathInfo string
}

// SplitScript resolves path into a script name and trailing PATH_INFO.
// It returns false when path is not below prefix or names no script.
func SplitScript(path, prefix string) (Script, bool) {
	if !MatchesPrefix(path, prefix) {
		return Script{}, false
	}
	rest := strings.TrimPrefix(path[len(prefix):], "/")
	if rest == "" {
		return Script{}, false
	}

	seg, info, found := strings.Cut(rest, "/")
	if found {
		info = "/" + info
	}
	if seg == "" {
		return Script{}, false
	}

	base := strings.TrimSuffix(prefix, "/")
	return Script{
		Name:       TrimScriptSuffix(seg),
		ScriptName: base + "/" + seg,
		PathInfo:   info,
	}, true
}

// TrimScriptSuffix strips one accepted interpreter suffix from name.
func TrimScriptSuffix(name string) string {
	for _, sfx := range scriptSuffixes {
		if len(name) > len(sfx) && strings.HasSuffix(name, sfx) {
			return name[:len(name)-len(sfx)]
		}
	}
	return name
}
