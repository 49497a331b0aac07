// Package urlpattern turns observed URLs into the wildcard patterns stored
// on journey steps and matches URLs against them.
package urlpattern

import (
	"regexp"
	"strings"
	"sync"
)

var (
	portRe    = regexp.MustCompile(`:\d+`)
	numericRe = regexp.MustCompile(`/\d+(/|$)`)
	uuidRe    = regexp.MustCompile(`/[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}(/|$)`)
)

// Normalize replaces ports, numeric path segments and UUID path segments
// with '*'. Query strings and fragments are kept.
//
//	http://localhost:5556/users/123 -> http://localhost:*/users/*
func Normalize(raw string) string {
	if raw == "" {
		return raw
	}
	u := portRe.ReplaceAllString(raw, ":*")
	u = replaceSegments(numericRe, u)
	u = replaceSegments(uuidRe, u)
	return u
}

// replaceSegments repeats the substitution because adjacent segments share
// the separating slash and RE2 has no lookahead.
func replaceSegments(re *regexp.Regexp, s string) string {
	for {
		next := re.ReplaceAllString(s, "/*$1")
		if next == s {
			return s
		}
		s = next
	}
}

// StripQuery drops everything from the first '?' or '#'.
func StripQuery(raw string) string {
	if i := strings.IndexAny(raw, "?#"); i >= 0 {
		return raw[:i]
	}
	return raw
}

// ExtractBasePattern strips the query and fragment, then normalizes.
func ExtractBasePattern(raw string) string {
	if raw == "" {
		return raw
	}
	return Normalize(StripQuery(raw))
}

// Matches is the strict matcher used by the journey state machine: the
// normalized event URL must equal the stored pattern.
func Matches(eventURL, pattern string) bool {
	if eventURL == "" || pattern == "" {
		return false
	}
	return Normalize(eventURL) == pattern
}

// GlobMatches strips query and fragment from both sides and treats '*' in
// the pattern as any run of characters. A pattern ending in "/*" also
// accepts its bare base path.
func GlobMatches(eventURL, pattern string) bool {
	if eventURL == "" || pattern == "" {
		return false
	}
	u, p := StripQuery(eventURL), StripQuery(pattern)
	if globRegexp(p).MatchString(u) {
		return true
	}
	if strings.HasSuffix(p, "/*") {
		base := strings.TrimSuffix(p, "/*")
		return base == u || globRegexp(base).MatchString(u)
	}
	return false
}

var globCache sync.Map

func globRegexp(pattern string) *regexp.Regexp {
	if re, ok := globCache.Load(pattern); ok {
		return re.(*regexp.Regexp)
	}
	parts := strings.Split(pattern, "*")
	for i, p := range parts {
		parts[i] = regexp.QuoteMeta(p)
	}
	re := regexp.MustCompile("^" + strings.Join(parts, ".*") + "$")
	globCache.Store(pattern, re)
	return re
}

// Pretty renders a pathname for display, e.g. "/settings/" -> "settings".
func Pretty(path string) string {
	if path == "" {
		return ""
	}
	cleaned := path
	if i := strings.IndexByte(cleaned, '#'); i >= 0 {
		cleaned = cleaned[:i]
	}
	if cleaned == "/" {
		return "home"
	}
	return strings.TrimSuffix(strings.TrimPrefix(cleaned, "/"), "/")
}
