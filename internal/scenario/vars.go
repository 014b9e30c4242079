package scenario

import (
	"regexp"
	"strconv"
	"strings"
)

var placeholder = regexp.MustCompile(`\{\{\s*([A-Za-z0-9_.\-]+)\s*\}\}`)

// Vars holds the values available to {{name}} placeholders. The map
// returned by Setup is shared by every virtual user and never written
// after setup; each iteration works on its own clone.
type Vars map[string]string

// Clone returns a copy that can be written without affecting v.
func (v Vars) Clone() Vars {
	out := make(Vars, len(v)+4)
	for k, val := range v {
		out[k] = val
	}
	return out
}

// Expand replaces every {{name}} with its value. Unknown names are left
// in place.
func (v Vars) Expand(s string) string {
	if !strings.Contains(s, "{{") {
		return s
	}
	return placeholder.ReplaceAllStringFunc(s, func(m string) string {
		name := placeholder.FindStringSubmatch(m)[1]
		if val, ok := v[name]; ok {
			return val
		}
		return m
	})
}

// ExpandMap expands every value of m.
func (v Vars) ExpandMap(m map[string]string) map[string]string {
	if len(m) == 0 {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, val := range m {
		out[k] = v.Expand(val)
	}
	return out
}

// Unresolved returns the placeholder names in s that v cannot resolve.
func (v Vars) Unresolved(s string) []string {
	var missing []string
	for _, m := range placeholder.FindAllStringSubmatch(s, -1) {
		if _, ok := v[m[1]]; !ok {
			missing = append(missing, m[1])
		}
	}
	return missing
}

func (v Vars) setIteration(vuID int, iteration int64) {
	v["vu"] = strconv.Itoa(vuID)
	v["iteration"] = strconv.FormatInt(iteration, 10)
}
