// Package globmatch implements POSIX-glob matching with `**` support for
// restore's -f filter (C8). No dependency in the example pack offers this,
// so it is implemented directly against the standard library's regexp —
// the justified stdlib exception recorded in DESIGN.md.
package globmatch

import (
	"fmt"
	"regexp"
	"strings"
)

// Compile translates a glob pattern into a matcher. Supported syntax:
//
//	*    matches any run of characters except '/'
//	**   matches any run of characters, including '/'
//	?    matches exactly one character except '/'
//	[set] a character class, passed through to regexp verbatim
//
// Every "**" matches across separators wherever it appears, including
// inside a longer segment ("a**b" matches "a/x/b"). A "/" directly after
// "**" is optional, so "**/b" and "a/**/b" also match "b" and "a/b".
type Matcher struct {
	re      *regexp.Regexp
	pattern string
}

// Compile builds a Matcher for pattern.
func Compile(pattern string) (*Matcher, error) {
	re, err := regexp.Compile(translate(pattern))
	if err != nil {
		return nil, fmt.Errorf("invalid glob %q: %w", pattern, err)
	}
	return &Matcher{re: re, pattern: pattern}, nil
}

// Match reports whether path satisfies the compiled pattern. path is
// expected to use '/' separators regardless of host OS.
func (m *Matcher) Match(path string) bool {
	return m.re.MatchString(path)
}

// String returns the original glob pattern.
func (m *Matcher) String() string { return m.pattern }

// translate converts glob syntax into an anchored regexp.
func translate(pattern string) string {
	var out strings.Builder
	out.WriteString("^")

	runes := []rune(pattern)
	for i := 0; i < len(runes); i++ {
		switch c := runes[i]; c {
		case '*':
			if i+1 < len(runes) && runes[i+1] == '*' {
				// "**" — matches across separators.
				out.WriteString("(?:.*)")
				i++
				// Swallow an immediately following separator so "**/x"
				// also matches "x" at the root.
				if i+1 < len(runes) && runes[i+1] == '/' {
					i++
				}
			} else {
				out.WriteString("(?:[^/]*)")
			}
		case '?':
			out.WriteString("[^/]")
		case '.', '+', '(', ')', '|', '^', '$', '{', '}', '\\':
			out.WriteString(regexp.QuoteMeta(string(c)))
		case '[':
			j := i + 1
			for j < len(runes) && runes[j] != ']' {
				j++
			}
			if j < len(runes) {
				out.WriteString(string(runes[i : j+1]))
				i = j
			} else {
				out.WriteString(regexp.QuoteMeta(string(c)))
			}
		default:
			out.WriteRune(c)
		}
	}

	out.WriteString("$")
	return out.String()
}
