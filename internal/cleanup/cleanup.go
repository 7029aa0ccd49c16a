// Package cleanup normalizes track metadata text through an ordered list of
// pattern rules before it reaches session tracking or any backend.
package cleanup

import (
	"regexp"
	"strings"

	"github.com/rs/zerolog"
)

// Cleaner applies ordered regex removal rules to metadata strings.
// It is immutable after construction and safe for concurrent use.
type Cleaner struct {
	enabled  bool
	patterns []*regexp.Regexp
}

// New compiles the given patterns in order. Malformed patterns are skipped
// with a warning; the remaining rules still apply.
func New(enabled bool, patterns []string, log zerolog.Logger) *Cleaner {
	c := &Cleaner{enabled: enabled}
	if !enabled {
		return c
	}
	for _, p := range patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			log.Warn().Str("pattern", p).Err(err).Msg("skipping invalid cleanup pattern")
			continue
		}
		c.patterns = append(c.patterns, re)
	}
	return c
}

// Clean applies every rule in order, removing all matches, then trims
// surrounding whitespace. Deterministic for identical input and rules.
func (c *Cleaner) Clean(text string) string {
	if !c.enabled {
		return text
	}
	for _, re := range c.patterns {
		text = re.ReplaceAllString(text, "")
	}
	return strings.TrimSpace(text)
}
