// Package body classifies a request body and extracts form parameters
// from it when, and only when, the declared encoding is URL-encoded form
// data. Other encodings are never sniffed.
package body

import (
	"net/http"
	"strings"

	"github.com/dskow/cgi-probe/internal/params"
)

// FormMediaType is the media type decoded into parameters.
const FormMediaType = "application/x-www-form-urlencoded"

// Result is the structured view of a body.
type Result struct {
	// Params is empty unless Form is true.
	Params params.List
	Issues []params.Issue
	// Form reports whether the body was decoded as form data.
	Form bool
}

// Decode returns the form parameters carried by raw. Only POST and PUT
// bodies declared as FormMediaType are decoded; everything else yields an
// empty Result. raw is read, never retained or modified.
func Decode(method, contentType string, raw []byte) Result {
	if !carriesBody(method) || !IsForm(contentType) {
		return Result{Params: params.List{}}
	}
	l, issues := params.DecodeReport(string(raw))
	return Result{Params: l, Issues: issues, Form: true}
}

// IsForm reports whether contentType declares URL-encoded form data.
// Media type comparison is case-insensitive and parameters such as
// charset are ignored.
func IsForm(contentType string) bool {
	ct := strings.ToLower(strings.TrimSpace(contentType))
	return strings.HasPrefix(ct, FormMediaType)
}

func carriesBody(method string) bool {
	switch strings.ToUpper(method) {
	case http.MethodPost, http.MethodPut:
		return true
	}
	return false
}
