package trigger

import (
	"fmt"
	"strings"
)

// Interpolate replaces every {{path}} placeholder in tmpl with the
// dot-resolved value from ctx (stringified), or empty string when the
// path is absent. A small hand-rolled scanner, in the same spirit as
// the teacher's hand-built string assembly in internal/webhooks and
// internal/events — no regexp needed for this fixed delimiter.
func Interpolate(tmpl string, ctx map[string]interface{}) string {
	var out strings.Builder
	i := 0
	for i < len(tmpl) {
		start := strings.Index(tmpl[i:], "{{")
		if start < 0 {
			out.WriteString(tmpl[i:])
			break
		}
		start += i
		out.WriteString(tmpl[i:start])

		end := strings.Index(tmpl[start:], "}}")
		if end < 0 {
			out.WriteString(tmpl[start:])
			break
		}
		end += start

		path := strings.TrimSpace(tmpl[start+2 : end])
		value, found := ResolveField(path, ctx)
		if found {
			out.WriteString(stringify(value))
		}
		i = end + 2
	}
	return out.String()
}

func stringify(v interface{}) string {
	switch s := v.(type) {
	case string:
		return s
	case fmt.Stringer:
		return s.String()
	default:
		return fmt.Sprintf("%v", v)
	}
}
