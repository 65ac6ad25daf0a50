package engine

import (
	"fmt"
	"regexp"
	"slices"
	"strconv"
	"strings"
)

// Parameters maps placeholder names to substitution values.
type Parameters map[string]any

var (
	curlyPlaceholder = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)
	barePlaceholder  = regexp.MustCompile(`\$([A-Za-z_][A-Za-z0-9_]*)`)
)

// Merge returns defaults overridden by params. Neither input is modified.
func Merge(params, defaults Parameters) Parameters {
	merged := make(Parameters, len(params)+len(defaults))
	for k, v := range defaults {
		merged[k] = v
	}
	for k, v := range params {
		merged[k] = v
	}
	return merged
}

// Substitute resolves ${name} and $name placeholders in command against the
// merged parameter set. Braced placeholders are replaced first. A bare
// placeholder is only replaced when its whole identifier is a known name, so
// $name2 is left alone when only name is defined. Numeric shell positionals
// such as $0 and $1 are never touched.
func Substitute(command string, params, defaults Parameters) string {
	merged := Merge(params, defaults)
	if len(merged) == 0 {
		return command
	}

	keys := make([]string, 0, len(merged))
	for k := range merged {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	result := command
	for _, k := range keys {
		result = strings.ReplaceAll(result, "${"+k+"}", FormatValue(merged[k]))
	}

	return barePlaceholder.ReplaceAllStringFunc(result, func(match string) string {
		if v, ok := merged[match[1:]]; ok {
			return FormatValue(v)
		}
		return match
	})
}

// ParameterNames lists every placeholder referenced by command: braced names
// first, then bare names, deduplicated in discovery order.
func ParameterNames(command string) []string {
	var names []string
	seen := make(map[string]bool)
	for _, re := range []*regexp.Regexp{curlyPlaceholder, barePlaceholder} {
		for _, m := range re.FindAllStringSubmatch(command, -1) {
			if !seen[m[1]] {
				seen[m[1]] = true
				names = append(names, m[1])
			}
		}
	}
	return names
}

// MissingParameters returns the placeholder names in command that neither
// params nor defaults provide.
func MissingParameters(command string, params, defaults Parameters) []string {
	merged := Merge(params, defaults)
	var missing []string
	for _, name := range ParameterNames(command) {
		if _, ok := merged[name]; !ok {
			missing = append(missing, name)
		}
	}
	return missing
}

// FormatValue renders a parameter value the way it appears in a command.
func FormatValue(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case bool:
		return strconv.FormatBool(val)
	case int:
		return strconv.Itoa(val)
	case int64:
		return strconv.FormatInt(val, 10)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(val), 'f', -1, 32)
	case fmt.Stringer:
		return val.String()
	default:
		return fmt.Sprint(val)
	}
}
