// Package params decodes URL query strings and form-encoded bodies into
// ordered parameter lists. Decoding is lenient: a malformed escape never
// fails the whole input, it is kept literally and reported as an Issue.
package params

import (
	"net/url"
	"strings"
	"unicode/utf8"
)

// Param is a single key/value pair in arrival order.
type Param struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// List is an ordered sequence of parameters. Keys may repeat; every
// occurrence is kept in source order.
type List []Param

// Len returns the number of parameters.
func (l List) Len() int { return len(l) }

// Get returns the value of the first parameter named key. The boolean
// reports presence, so an empty value is distinguishable from a missing key.
func (l List) Get(key string) (string, bool) {
	for _, p := range l {
		if p.Key == key {
			return p.Value, true
		}
	}
	return "", false
}

// Values returns every value for key in arrival order.
func (l List) Values(key string) []string {
	var out []string
	for _, p := range l {
		if p.Key == key {
			out = append(out, p.Value)
		}
	}
	return out
}

// Clone returns a copy that shares no backing array with l.
func (l List) Clone() List {
	if l == nil {
		return nil
	}
	out := make(List, len(l))
	copy(out, l)
	return out
}

// Encode is the inverse of Decode: keys and values are form-escaped
// (space as "+") and joined with "=" and "&" in list order.
func (l List) Encode() string {
	var b strings.Builder
	for i, p := range l {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(url.QueryEscape(p.Key))
		b.WriteByte('=')
		b.WriteString(url.QueryEscape(p.Value))
	}
	return b.String()
}

// IssueKind classifies a decode irregularity.
type IssueKind string

const (
	// MalformedEscape is a "%" not followed by two hex digits.
	MalformedEscape IssueKind = "malformed_escape"
	// InvalidUTF8 is a decoded key or value that is not valid UTF-8.
	InvalidUTF8 IssueKind = "invalid_utf8"
)

// Issue describes one irregularity found while decoding. Offset is the
// byte offset of the offending text within the raw input.
type Issue struct {
	Kind   IssueKind `json:"kind"`
	Offset int       `json:"offset"`
	Text   string    `json:"text"`
	InKey  bool      `json:"in_key"`
}

// Decode parses raw (a query string without the leading "?") into a List.
// It never fails.
func Decode(raw string) List {
	l, _ := DecodeReport(raw)
	return l
}

// DecodeReport is Decode plus the list of irregularities encountered.
//
// Pairs are split on "&" and then on the first "="; a pair without "="
// gets an empty value. Empty pairs (from "&&" or a trailing "&") are
// skipped. "+" decodes to a space only after splitting.
func DecodeReport(raw string) (List, []Issue) {
	if raw == "" {
		return List{}, nil
	}

	var (
		out    = List{}
		issues []Issue
		offset int
	)
	for _, pair := range strings.Split(raw, "&") {
		start := offset
		offset += len(pair) + 1
		if pair == "" {
			continue
		}

		rawKey, rawValue, hasValue := strings.Cut(pair, "=")
		key, kIssues := unescape(rawKey, start, true)
		issues = append(issues, kIssues...)

		var value string
		if hasValue {
			var vIssues []Issue
			value, vIssues = unescape(rawValue, start+len(rawKey)+1, false)
			issues = append(issues, vIssues...)
		}
		out = append(out, Param{Key: key, Value: value})
	}
	return out, issues
}

// unescape decodes "+" and %XX sequences in s. base is the offset of s
// within the original input and is only used for Issue reporting.
func unescape(s string, base int, inKey bool) (string, []Issue) {
	if !strings.ContainsAny(s, "%+") {
		if !utf8.ValidString(s) {
			return s, []Issue{{Kind: InvalidUTF8, Offset: base, Text: s, InKey: inKey}}
		}
		return s, nil
	}

	var issues []Issue
	buf := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		switch c := s[i]; c {
		case '+':
			buf = append(buf, ' ')
		case '%':
			if i+2 < len(s) && isHex(s[i+1]) && isHex(s[i+2]) {
				buf = append(buf, unhex(s[i+1])<<4|unhex(s[i+2]))
				i += 2
				continue
			}
			end := i + 3
			if end > len(s) {
				end = len(s)
			}
			issues = append(issues, Issue{Kind: MalformedEscape, Offset: base + i, Text: s[i:end], InKey: inKey})
			buf = append(buf, '%')
		default:
			buf = append(buf, c)
		}
	}

	out := string(buf)
	if !utf8.ValidString(out) {
		issues = append(issues, Issue{Kind: InvalidUTF8, Offset: base, Text: s, InKey: inKey})
	}
	return out, issues
}

func isHex(c byte) bool {
	return '0' <= c && c <= '9' || 'a' <= c && c <= 'f' || 'A' <= c && c <= 'F'
}

func unhex(c byte) byte {
	switch {
	case '0' <= c && c <= '9':
		return c - '0'
	case 'a' <= c && c <= 'f':
		return c - 'a' + 10
	default:
		return c - 'A' + 10
	}
}
