package source

import (
	"regexp"
	"strings"
)

var newMarker = regexp.MustCompile(`(?i)\(?new!\)?`)

func splitAny(s string, seps ...string) []string {
	parts := []string{s}
	for _, sep := range seps {
		var next []string
		for _, p := range parts {
			next = append(next, strings.Split(p, sep)...)
		}
		parts = next
	}
	return parts
}

// CollapseSpace trims s and collapses inner whitespace runs to one space.
func CollapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
