package render

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/openfroyo/boxctl/pkg/engine"
)

// FormatValue renders a scalar as a Ruby literal.
//
// Booleans are bare true/false. Strings are double-quoted unless they are
// already wrapped in matching single or double quotes, in which case they are
// emitted verbatim. The string itself is never escaped, so Ruby escapes and
// interpolation written by the user reach the Vagrantfile as typed. Floats
// keep a decimal point so 2.0 stays a Ruby Float.
func FormatValue(v interface{}) string {
	switch val := v.(type) {
	case bool:
		return strconv.FormatBool(val)
	case string:
		if isQuoted(val) {
			return val
		}
		return `"` + val + `"`
	case int:
		return strconv.Itoa(val)
	case int64:
		return strconv.FormatInt(val, 10)
	case uint64:
		return strconv.FormatUint(val, 10)
	case float64:
		return formatFloat(val)
	default:
		return fmt.Sprint(val)
	}
}

// FormatArgs renders options as Ruby keyword arguments in stored order.
func FormatArgs(opts engine.Options) string {
	parts := make([]string, 0, len(opts))
	for _, opt := range opts {
		parts = append(parts, opt.Key+": "+FormatValue(opt.Value))
	}
	return strings.Join(parts, ", ")
}

func formatFloat(f float64) string {
	s := strconv.FormatFloat(f, 'f', -1, 64)
	if math.IsInf(f, 0) || math.IsNaN(f) || strings.Contains(s, ".") {
		return s
	}
	return s + ".0"
}

func isQuoted(s string) bool {
	if len(s) < 2 {
		return false
	}
	first, last := s[0], s[len(s)-1]
	return first == last && (first == '"' || first == '\'')
}
