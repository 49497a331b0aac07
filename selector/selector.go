// Package selector parses DOM ancestor chains captured by the browser
// tracker and compares the clicked elements they describe.
//
// A chain lists elements leaf first, separated by ';'. Each segment looks
// like
//
//	button.btn.primary:attr__class="btn primary"attr__id="save"nth-child="2"nth-of-type="1"text="Save"
//
// and may carry its quotes escaped as \".
package selector

import (
	"regexp"
	"strconv"
	"strings"
)

// Element is the typed form of one chain segment.
type Element struct {
	Tag        string
	Classes    []string
	Attributes map[string]string
	Text       string
	NthChild   *int
	NthOfType  *int
	// Pairs holds every key="value" pair in the segment, keys as written.
	Pairs map[string]string
	Raw   string
}

var (
	tagRe      = regexp.MustCompile(`^([a-zA-Z0-9]+)`)
	pairRe     = regexp.MustCompile(`([A-Za-z_][\w-]*)="(.*?)"`)
	attrRe     = regexp.MustCompile(`attr__([a-zA-Z0-9_\-:]+)="([^"]*)"`)
	nthChildRe = regexp.MustCompile(`nth-child="?([0-9]+)"?`)
	nthTypeRe  = regexp.MustCompile(`nth-of-type="?([0-9]+)"?`)
	spaceRe    = regexp.MustCompile(`\s+`)
)

// identifying keys decide whether Compare uses attribute containment or
// falls back to raw segment equality.
var identifying = []string{"attr__id", "attr_id", "text", "attr__text"}

// Unescape turns \" into " so both capture styles read the same.
func Unescape(s string) string {
	return strings.ReplaceAll(s, `\"`, `"`)
}

// Leaf returns the clicked element's segment, unescaped and trimmed.
func Leaf(chain string) string {
	s := Unescape(strings.TrimSpace(chain))
	if i := strings.IndexByte(s, ';'); i >= 0 {
		s = s[:i]
	}
	return strings.TrimSpace(s)
}

// Parse splits a chain into elements, leaf first. Empty segments are dropped.
func Parse(chain string) []Element {
	var out []Element
	for _, seg := range strings.Split(Unescape(chain), ";") {
		seg = strings.TrimSpace(seg)
		if seg == "" {
			continue
		}
		out = append(out, ParseElement(seg))
	}
	return out
}

// ParseElement parses a single segment.
func ParseElement(seg string) Element {
	seg = strings.TrimSpace(Unescape(seg))
	el := Element{
		Attributes: map[string]string{},
		Pairs:      pairs(seg),
		Raw:        seg,
	}
	if m := tagRe.FindStringSubmatch(seg); m != nil {
		el.Tag = m[1]
	}

	head := seg
	if i := strings.Index(head, ":attr__"); i >= 0 {
		head = head[:i]
	}
	if el.Tag != "" && strings.HasPrefix(head, el.Tag+".") {
		for _, c := range strings.Split(head[len(el.Tag)+1:], ".") {
			if c != "" {
				el.Classes = append(el.Classes, c)
			}
		}
	}

	for _, m := range attrRe.FindAllStringSubmatch(seg, -1) {
		el.Attributes[m[1]] = m[2]
	}
	if m := nthChildRe.FindStringSubmatch(seg); m != nil {
		if n, err := strconv.Atoi(m[1]); err == nil {
			el.NthChild = &n
		}
	}
	if m := nthTypeRe.FindStringSubmatch(seg); m != nil {
		if n, err := strconv.Atoi(m[1]); err == nil {
			el.NthOfType = &n
		}
	}
	if t, ok := el.Pairs["text"]; ok {
		el.Text = t
	} else if t, ok := el.Attributes["text"]; ok {
		el.Text = t
	}
	return el
}

func pairs(seg string) map[string]string {
	out := map[string]string{}
	for _, m := range pairRe.FindAllStringSubmatch(seg, -1) {
		if _, seen := out[m[1]]; !seen {
			out[m[1]] = m[2]
		}
	}
	return out
}

// Compare reports whether the leaf element of observed satisfies the leaf
// element of required. Every key="value" pair of required must appear with
// the same value in observed; observed may carry more. When required has
// no id or text pair the leaves must be equal after normalisation.
func Compare(observed, required string) bool {
	a, b := Leaf(observed), Leaf(required)
	if a == "" || b == "" {
		return a == b
	}
	ea, eb := ParseElement(a), ParseElement(b)
	if !hasIdentity(eb) {
		return normalize(a) == normalize(b)
	}
	return Contains(ea, eb)
}

// Contains is the pure subset check behind Compare.
func Contains(observed, required Element) bool {
	for k, v := range required.Pairs {
		got, ok := observed.Pairs[k]
		if !ok || got != v {
			return false
		}
	}
	return true
}

// Equal reports whether two chains describe the same leaf element in both
// directions.
func Equal(a, b string) bool {
	return Compare(a, b) && Compare(b, a)
}

func hasIdentity(el Element) bool {
	for _, k := range identifying {
		if _, ok := el.Pairs[k]; ok {
			return true
		}
	}
	return false
}

func normalize(seg string) string {
	return spaceRe.ReplaceAllString(strings.TrimSpace(seg), " ")
}
