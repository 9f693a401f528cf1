package tiss

import (
	"fmt"
	"sort"
	"strings"
)

// AutoFix returns a corrected copy of the guide and one line per change.
// The input is not modified and running AutoFix on its own output changes
// nothing. Nested values are shared with the input.
func AutoFix(g Guide) (Guide, []string) {
	fixed := g.Clone()
	changes := []string{}

	keys := make([]string, 0, len(fixed))
	for k := range fixed {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		s, ok := fixed[k].(string)
		if !ok {
			continue
		}
		if trimmed := strings.TrimSpace(s); trimmed != s {
			fixed[k] = trimmed
			changes = append(changes, fmt.Sprintf("%s: trimmed surrounding whitespace", k))
		}
	}

	if s, ok := fixed[FieldCardNumber].(string); ok {
		if digits := digitsOnly(s); digits != s {
			fixed[FieldCardNumber] = digits
			changes = append(changes, fmt.Sprintf("%s: removed non-digit characters (%q -> %q)", FieldCardNumber, s, digits))
		}
	}

	if s, ok := fixed[FieldCIDCode].(string); ok && !strings.Contains(s, ".") && len([]rune(s)) == 4 {
		r := []rune(s)
		dotted := string(r[:3]) + "." + string(r[3:])
		fixed[FieldCIDCode] = dotted
		changes = append(changes, fmt.Sprintf("%s: inserted separator (%q -> %q)", FieldCIDCode, s, dotted))
	}

	return fixed, changes
}
