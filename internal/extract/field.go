// Package extract evaluates declarative field rules against live pages and
// assembles job records from detail pages.
package extract

import (
	"context"
	"regexp"
	"sort"
	"strings"

	"golang.org/x/text/cases"

	"github.com/JakeFAU/job-listing-crawler/internal/crawler"
	"github.com/JakeFAU/job-listing-crawler/internal/schema"
)

var whitespaceRun = regexp.MustCompile(`\s+`)

type valueKind uint8

const (
	kindNull valueKind = iota
	kindText
	kindList
)

// Value is the result of a field rule: null, a scalar, or a list.
type Value struct {
	kind valueKind
	text string
	list []string
}

// Null is the absent value.
func Null() Value {
	return Value{}
}

// TextValue wraps a scalar.
func TextValue(s string) Value {
	return Value{kind: kindText, text: s}
}

// ListValue wraps a list. An empty list is null.
func ListValue(items []string) Value {
	if len(items) == 0 {
		return Null()
	}
	return Value{kind: kindList, list: append([]string(nil), items...)}
}

// IsNull reports whether nothing was extracted.
func (v Value) IsNull() bool {
	return v.kind == kindNull
}

// IsList reports whether the rule split without joining.
func (v Value) IsList() bool {
	return v.kind == kindList
}

// String renders scalars as-is and lists joined by ", ".
func (v Value) String() string {
	switch v.kind {
	case kindText:
		return v.text
	case kindList:
		return strings.Join(v.list, ", ")
	default:
		return ""
	}
}

// Items returns the list elements, or the scalar as a single element.
func (v Value) Items() []string {
	switch v.kind {
	case kindText:
		return []string{v.text}
	case kindList:
		return append([]string(nil), v.list...)
	default:
		return nil
	}
}

// ExtractField reads the first element matching rule.Selector inside scope
// and transforms its text. Every failure yields Null.
func ExtractField(ctx context.Context, scope crawler.Scope, rule *schema.FieldRule) Value {
	if rule == nil || scope == nil || rule.Selector == "" {
		return Null()
	}
	el, err := scope.Query(ctx, rule.Selector)
	if err != nil {
		return Null()
	}
	raw, err := el.Text(ctx)
	if err != nil {
		return Null()
	}
	return Apply(*rule, raw)
}

// Apply runs sanitize, split, translate, and join over raw text. Text with no
// visible characters is null.
func Apply(rule schema.FieldRule, raw string) Value {
	text := raw
	if rule.Sanitize {
		text = Sanitize(text)
	}
	if strings.TrimSpace(text) == "" {
		return Null()
	}
	table := foldTable(rule.Translate)
	if rule.Split == "" {
		return TextValue(translate(table, text))
	}

	parts := splitParts(text, rule.Split)
	for i, part := range parts {
		parts[i] = translate(table, part)
	}
	if len(parts) == 0 {
		return Null()
	}
	if rule.JoinAfterSplit != "" {
		return TextValue(strings.Join(parts, rule.JoinAfterSplit))
	}
	return ListValue(parts)
}

// Sanitize collapses whitespace runs to one space and trims the ends.
func Sanitize(s string) string {
	return strings.TrimSpace(whitespaceRun.ReplaceAllString(s, " "))
}

func splitParts(text, sep string) []string {
	raw := strings.Split(text, sep)
	parts := make([]string, 0, len(raw))
	for _, p := range raw {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}
	return parts
}

// foldTable keys a translation table by folded, trimmed text. When two keys
// fold together the lexically smallest original key wins.
func foldTable(table map[string]string) map[string]string {
	if len(table) == 0 {
		return nil
	}
	keys := make([]string, 0, len(table))
	for k := range table {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	fold := cases.Fold()
	folded := make(map[string]string, len(table))
	for _, k := range keys {
		fk := fold.String(strings.TrimSpace(k))
		if _, ok := folded[fk]; !ok {
			folded[fk] = table[k]
		}
	}
	return folded
}

// translate looks text up in a folded table; unmapped text is returned unchanged.
func translate(folded map[string]string, text string) string {
	if len(folded) == 0 {
		return text
	}
	if to, ok := folded[cases.Fold().String(strings.TrimSpace(text))]; ok {
		return to
	}
	return text
}
