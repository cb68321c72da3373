// Package filter detects sensitive data in selected text before it is
// copied. Patterns are RE2, so matching is linear in the input.
package filter

import (
	"regexp"

	"github.com/sirupsen/logrus"
)

// builtinPatterns are always active.
var builtinPatterns = []struct {
	name    string
	pattern string
}{
	{name: "creditCard", pattern: `\b\d{4}[- ]?\d{4}[- ]?\d{4}[- ]?\d{4}\b`},
	{name: "password", pattern: `(?i)password|passwd|pwd`},
	{name: "email", pattern: `\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`},
	{name: "phone", pattern: `\b\d{3}[-.]?\d{3}[-.]?\d{4}\b`},
}

type compiledPattern struct {
	name  string
	regex *regexp.Regexp
}

// Filter is safe for concurrent use after construction.
type Filter struct {
	patterns []compiledPattern
}

// New compiles the built-in patterns plus extra. Extra patterns that fail
// to compile are logged and skipped.
func New(extra []string, log logrus.FieldLogger) *Filter {
	if log == nil {
		log = logrus.StandardLogger()
	}
	f := &Filter{}
	for _, bp := range builtinPatterns {
		f.patterns = append(f.patterns, compiledPattern{name: bp.name, regex: regexp.MustCompile(bp.pattern)})
	}
	for _, p := range extra {
		re, err := regexp.Compile(p)
		if err != nil {
			log.WithError(err).WithField("pattern", p).Warn("skipping invalid sensitive pattern")
			continue
		}
		f.patterns = append(f.patterns, compiledPattern{name: "custom", regex: re})
	}
	return f
}

// Test reports whether text contains sensitive data.
func (f *Filter) Test(text string) bool {
	_, ok := f.Match(text)
	return ok
}

// Match returns the name of the first pattern that matches text.
func (f *Filter) Match(text string) (string, bool) {
	for _, p := range f.patterns {
		if p.regex.MatchString(text) {
			return p.name, true
		}
	}
	return "", false
}
