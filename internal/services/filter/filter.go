// Package filter decides which VMs the keepalive is responsible for.
package filter

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/fgeck/esxi-keepalive/internal/models"
)

// Matcher applies a TargetPolicy to VM names.
//
// The prefix is matched anywhere in the name, so "windows205" matches the
// "win" prefix the same way "win205" does.
type Matcher struct {
	policy  models.TargetPolicy
	exclude string
	pattern *regexp.Regexp
}

// New compiles policy into a Matcher.
func New(policy models.TargetPolicy) *Matcher {
	prefix := strings.ToLower(policy.Prefix)

	return &Matcher{
		policy:  policy,
		exclude: strings.ToLower(policy.ExcludeKeyword),
		pattern: regexp.MustCompile(regexp.QuoteMeta(prefix) + `(\d+)`),
	}
}

// Policy returns the policy the matcher was built from.
func (m *Matcher) Policy() models.TargetPolicy {
	return m.policy
}

// IsTarget reports whether name should be kept powered on.
func (m *Matcher) IsTarget(name string) bool {
	lower := strings.ToLower(name)

	if m.exclude != "" && strings.Contains(lower, m.exclude) {
		return false
	}

	match := m.pattern.FindStringSubmatch(lower)
	if match == nil {
		return false
	}

	num, err := strconv.ParseUint(match[1], 10, 64)
	if err != nil {
		return false
	}

	return num >= m.policy.RangeStart && num <= m.policy.RangeEnd
}
