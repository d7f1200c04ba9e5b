package utils

import (
	"regexp"
	"strings"
)

// CompileGlob translates a glob pattern into an anchored regexp.
// Semantics: '*' matches any run of characters (including none); every
// other character matches literally. This is deliberately narrower than
// path globbing: no '?', no character classes.
func CompileGlob(pattern string) (*regexp.Regexp, error) {
	var sb strings.Builder
	sb.WriteString("^")
	for _, part := range strings.Split(pattern, "*") {
		sb.WriteString(regexp.QuoteMeta(part))
		sb.WriteString(".*")
	}
	expr := strings.TrimSuffix(sb.String(), ".*") + "$"
	return regexp.Compile(expr)
}
