package i18n

import (
	"fmt"
	"regexp"
	"strings"
)

var paramToken = regexp.MustCompile(`\{([^{}]+)\}`)

// Translate resolves key against the tree for locale, falling back to the
// defaultLocale tree when the locale has no entry in messages at all.
//
// The key is a dot-delimited path ("about.actions"). A walk that leaves the
// tree early, overruns a leaf, or ends on anything but a string returns the
// key itself, so callers always get a printable string. Missing keys are not
// retried against the default locale; the whole-tree fallback applies only
// when the locale itself is absent.
func Translate(messages Messages, locale, defaultLocale, key string, params map[string]any) string {
	tree, ok := messages[locale]
	if !ok {
		tree = messages[defaultLocale]
	}
	s, ok := lookup(tree, key)
	if !ok {
		return key
	}
	if params == nil {
		return s
	}
	return interpolate(s, params)
}

// lookup walks the dotted key through tree. It reports false unless the walk
// consumes every segment and lands on a string leaf.
func lookup(tree Tree, key string) (string, bool) {
	var cur any = tree
	for _, seg := range strings.Split(key, ".") {
		node, ok := cur.(map[string]any)
		if !ok {
			return "", false
		}
		cur, ok = node[seg]
		if !ok {
			return "", false
		}
	}
	s, ok := cur.(string)
	return s, ok
}

// interpolate replaces each {name} token with the stringified parameter
// value. Tokens without a matching parameter stay in the output verbatim.
func interpolate(msg string, params map[string]any) string {
	return paramToken.ReplaceAllStringFunc(msg, func(token string) string {
		name := token[1 : len(token)-1]
		v, ok := params[name]
		if !ok {
			return token
		}
		return fmt.Sprintf("%v", v)
	})
}
