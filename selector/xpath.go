package selector

import (
	"fmt"
	"sort"
	"strings"
)

// XPath derives the stable selector stored alongside raw events and
// journey steps. Preference is id, then data-testid, then a conjunction of
// text, aria-label, type, name, placeholder and role predicates.
func XPath(chain string) string {
	leaf := Leaf(chain)
	if leaf == "" {
		return ""
	}
	el := ParseElement(leaf)
	tag := el.Tag
	if tag == "" {
		tag = "*"
	}

	if id := el.Attributes["id"]; id != "" {
		return fmt.Sprintf("//%s[@id='%s']", tag, id)
	}
	if tid := el.Attributes["data-testid"]; tid != "" {
		return fmt.Sprintf("//%s[@data-testid='%s']", tag, tid)
	}

	var preds []string
	if el.Text != "" {
		preds = append(preds, fmt.Sprintf("text()='%s'", el.Text))
	}
	for _, attr := range []string{"aria-label", "type", "name", "placeholder", "role"} {
		if v := el.Attributes[attr]; v != "" {
			preds = append(preds, fmt.Sprintf("@%s='%s'", attr, v))
		}
	}
	if len(preds) == 0 {
		return "//" + tag
	}
	return fmt.Sprintf("//%s[%s]", tag, strings.Join(preds, " and "))
}

// Summarize renders a short human label for the clicked element.
func Summarize(chain string) string {
	leaf := Leaf(chain)
	if leaf == "" {
		return "Unknown Element"
	}
	el := ParseElement(leaf)
	tag := "Element"
	if el.Tag != "" {
		tag = strings.ToUpper(el.Tag[:1]) + strings.ToLower(el.Tag[1:])
	}
	switch {
	case el.Text != "":
		return fmt.Sprintf("%s %q", tag, el.Text)
	case el.Attributes["aria-label"] != "":
		return fmt.Sprintf("%s %q", tag, el.Attributes["aria-label"])
	case el.Attributes["placeholder"] != "":
		return fmt.Sprintf("%s with placeholder %q", tag, el.Attributes["placeholder"])
	case el.Attributes["id"] != "":
		return fmt.Sprintf("%s #%s", tag, el.Attributes["id"])
	case el.Attributes["type"] != "":
		return fmt.Sprintf("%s (%s)", tag, el.Attributes["type"])
	}
	return tag + " element"
}

// ComparisonKey returns the stable attributes of the clicked element,
// ignoring utility classes, as a sorted "k=v|k=v" string.
func ComparisonKey(chain string) string {
	leaf := Leaf(chain)
	if leaf == "" {
		return ""
	}
	el := ParseElement(leaf)
	var parts []string
	if el.Tag != "" {
		parts = append(parts, "tag="+el.Tag)
	}
	for _, attr := range []string{"type", "aria-label", "id", "name", "data-testid", "placeholder"} {
		if v := el.Attributes[attr]; v != "" {
			parts = append(parts, attr+"="+v)
		}
	}
	if el.Text != "" {
		parts = append(parts, "text="+el.Text)
	}
	sort.Strings(parts)
	return strings.Join(parts, "|")
}
