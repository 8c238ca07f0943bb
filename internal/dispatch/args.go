package dispatch

import (
	"strconv"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/littlebox/littlebox/internal/settings"
)

// SplitArgs splits a console line into tokens. Quotes group text with
// spaces into one token and are kept, so CoerceArg can tell a quoted
// token from a bare one. Backslash escapes quotes inside quoted text.
func SplitArgs(s string) []string {
	var out []string
	var buf strings.Builder
	var quote byte

	for i := 0; i < len(s); i++ {
		c := s[i]
		if quote != 0 {
			switch {
			case c == quote:
				buf.WriteByte(c)
				quote = 0
			case c == '\\' && i+1 < len(s) && (s[i+1] == '"' || s[i+1] == '\'' || s[i+1] == '\\'):
				buf.WriteByte(s[i+1])
				i++
			default:
				buf.WriteByte(c)
			}
			continue
		}
		switch {
		case c == '\'' || c == '"':
			quote = c
			buf.WriteByte(c)
		case c == ' ' || c == '\t' || c == '\r' || c == '\n':
			if buf.Len() > 0 {
				out = append(out, buf.String())
				buf.Reset()
			}
		default:
			buf.WriteByte(c)
		}
	}
	if buf.Len() > 0 {
		out = append(out, buf.String())
	}
	return out
}

// CoerceArg turns a console token into a settings value, best effort:
// quoted text stays a string with the quotes stripped, JSON objects and
// arrays are parsed, then booleans, null, hex, int, float, and the
// comma-list shorthand "1,2,3". Anything else is a raw string.
func CoerceArg(a string) settings.Value {
	if a == "" {
		return settings.StringValue("")
	}

	if len(a) >= 2 {
		first, last := a[0], a[len(a)-1]
		if (first == '"' && last == '"') || (first == '\'' && last == '\'') {
			return settings.StringValue(a[1 : len(a)-1])
		}
	}

	low := strings.ToLower(a)

	if (strings.HasPrefix(a, "{") && strings.HasSuffix(a, "}")) ||
		(strings.HasPrefix(a, "[") && strings.HasSuffix(a, "]")) {
		if gjson.Valid(a) {
			if v, err := settings.ParseJSON([]byte(a)); err == nil {
				return v
			}
		}
	}

	switch low {
	case "true":
		return settings.BoolValue(true)
	case "false":
		return settings.BoolValue(false)
	case "none", "null":
		return settings.Value{}
	}

	if strings.HasPrefix(low, "0x") {
		if i, err := strconv.ParseInt(a[2:], 16, 64); err == nil {
			return settings.IntValue(i)
		}
	}

	if i, err := strconv.ParseInt(a, 10, 64); err == nil {
		return settings.IntValue(i)
	}
	if strings.Contains(a, ".") {
		if f, err := strconv.ParseFloat(a, 64); err == nil {
			return settings.FloatValue(f)
		}
	}

	if strings.Contains(a, ",") && !strings.Contains(a, " ") {
		inner := strings.TrimPrefix(strings.TrimSuffix(a, ")"), "(")
		parts := strings.Split(inner, ",")
		items := make([]settings.Value, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p == "" {
				continue
			}
			items = append(items, CoerceArg(p))
		}
		return settings.ListValue(items...)
	}

	return settings.StringValue(a)
}
