package settings

import (
	"strconv"
	"strings"

	"github.com/tidwall/gjson"
)

// Coerce converts raw console/transport text into a Value matching the kind
// of the existing value at the target location. Structured kinds (list, map)
// accept JSON text; the parsed kind must match the existing kind.
func Coerce(existing Value, raw string) (Value, error) {
	switch existing.Kind() {
	case KindBool:
		switch strings.ToLower(strings.TrimSpace(raw)) {
		case "true", "1", "yes", "on":
			return BoolValue(true), nil
		case "false", "0", "no", "off":
			return BoolValue(false), nil
		}
		return Value{}, &CoercionError{Raw: raw, Want: KindBool}

	case KindInt:
		i, err := strconv.ParseInt(strings.TrimSpace(raw), 0, 64)
		if err != nil {
			return Value{}, &CoercionError{Raw: raw, Want: KindInt}
		}
		return IntValue(i), nil

	case KindFloat:
		f, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
		if err != nil {
			return Value{}, &CoercionError{Raw: raw, Want: KindFloat}
		}
		return FloatValue(f), nil

	case KindList, KindMap:
		trimmed := strings.TrimSpace(raw)
		if !gjson.Valid(trimmed) {
			return Value{}, &CoercionError{Raw: raw, Want: existing.Kind()}
		}
		v := fromGJSON(gjson.Parse(trimmed))
		if v.Kind() != existing.Kind() {
			return Value{}, &CoercionError{Raw: raw, Want: existing.Kind()}
		}
		return v, nil

	case KindString:
		return StringValue(unquote(raw)), nil

	default:
		return Value{}, &CoercionError{Raw: raw, Want: existing.Kind()}
	}
}

// fromGJSON converts a parsed gjson result into a Value, keeping the
// int/float split by inspecting the raw literal.
func fromGJSON(res gjson.Result) Value {
	switch res.Type {
	case gjson.True:
		return BoolValue(true)
	case gjson.False:
		return BoolValue(false)
	case gjson.String:
		return StringValue(res.String())
	case gjson.Number:
		if strings.ContainsAny(res.Raw, ".eE") {
			return FloatValue(res.Float())
		}
		return IntValue(res.Int())
	case gjson.JSON:
		if res.IsArray() {
			arr := res.Array()
			items := make([]Value, len(arr))
			for i, item := range arr {
				items[i] = fromGJSON(item)
			}
			return ListValue(items...)
		}
		m := make(map[string]Value)
		res.ForEach(func(key, value gjson.Result) bool {
			m[key.String()] = fromGJSON(value)
			return true
		})
		return MapValue(m)
	default:
		// gjson.Null and anything unexpected become empty strings; the
		// kind check in Coerce rejects them for structured targets.
		return StringValue("")
	}
}

func unquote(s string) string {
	if len(s) >= 2 {
		if (s[0] == '"' && s[len(s)-1] == '"') || (s[0] == '\'' && s[len(s)-1] == '\'') {
			return s[1 : len(s)-1]
		}
	}
	return s
}
