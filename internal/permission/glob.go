package permission

import (
	"regexp"
	"strings"
	"sync"
)

// globMatch reports whether name satisfies pattern, where "*" matches any
// run of characters (including none) and everything else is literal.
// Compiled patterns are cached, mirroring the event bus's subject-pattern
// compiler in internal/events/bus.
var globCache sync.Map // pattern string -> *regexp.Regexp

func globMatch(pattern, name string) bool {
	if pattern == "" {
		return false
	}
	if pattern == "*" {
		return true
	}
	if !strings.Contains(pattern, "*") {
		return pattern == name
	}

	re, ok := globCache.Load(pattern)
	if !ok {
		escaped := regexp.QuoteMeta(pattern)
		escaped = "^" + strings.ReplaceAll(escaped, `\*`, `.*`) + "$"
		compiled, err := regexp.Compile(escaped)
		if err != nil {
			return false
		}
		globCache.Store(pattern, compiled)
		re = compiled
	}
	return re.(*regexp.Regexp).MatchString(name)
}

// specificity ranks a pattern by how concrete it is, so a rule with no
// wildcard outranks one with a trailing wildcard, which outranks "*".
func specificity(pattern string) int {
	if pattern == "*" {
		return 0
	}
	if strings.Contains(pattern, "*") {
		return 1
	}
	return 2
}
