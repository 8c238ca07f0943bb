package settings

import "testing"

func TestMergeKeepsEveryDefaultKey(t *testing.T) {
	defaults := MapValue(map[string]Value{
		"enabled": BoolValue(true),
		"host":    StringValue("pool.ntp.org"),
		"retry":   IntValue(3),
	})
	stored := MapValue(map[string]Value{
		"host": StringValue("time.example.com"),
	})

	merged := Merge(defaults, stored)
	for _, key := range []string{"enabled", "host", "retry"} {
		if _, ok := merged.Key(key); !ok {
			t.Errorf("merged tree missing default key %q", key)
		}
	}
	if host, _ := merged.Key("host"); host.Str() != "time.example.com" {
		t.Errorf("stored override lost: host = %v", host)
	}
}

func TestMergeMapsRecursively(t *testing.T) {
	defaults := MapValue(map[string]Value{
		"panel": MapValue(map[string]Value{
			"width":  IntValue(8),
			"height": IntValue(8),
			"gamma":  FloatValue(2.2),
		}),
	})
	stored := MapValue(map[string]Value{
		"panel": MapValue(map[string]Value{
			"width": IntValue(16),
		}),
	})

	merged := Merge(defaults, stored)
	panel, _ := merged.Key("panel")
	if w, _ := panel.Key("width"); w.Int() != 16 {
		t.Errorf("width = %v, want stored 16", w)
	}
	if h, _ := panel.Key("height"); h.Int() != 8 {
		t.Errorf("height = %v, want default 8", h)
	}
	if g, _ := panel.Key("gamma"); g.Kind() != KindFloat {
		t.Errorf("newly introduced default key gamma missing or wrong kind: %v", g)
	}
}

func TestMergeListsReplaceWholesale(t *testing.T) {
	defaults := MapValue(map[string]Value{
		"motors": ListValue(
			MapValue(map[string]Value{"pins": ListValue(IntValue(-1))}),
			MapValue(map[string]Value{"pins": ListValue(IntValue(-1))}),
		),
	})
	stored := MapValue(map[string]Value{
		"motors": ListValue(
			MapValue(map[string]Value{"pins": ListValue(IntValue(2))}),
		),
	})

	merged := Merge(defaults, stored)
	motors, _ := merged.Key("motors")
	if motors.Len() != 1 {
		t.Fatalf("motors length = %d, want stored list used wholesale (1)", motors.Len())
	}
}

func TestMergeScalarStoredWins(t *testing.T) {
	defaults := MapValue(map[string]Value{"delay": FloatValue(1.0)})
	stored := MapValue(map[string]Value{"delay": FloatValue(0.25)})

	merged := Merge(defaults, stored)
	if d, _ := merged.Key("delay"); d.Float() != 0.25 {
		t.Fatalf("delay = %v, want 0.25", d)
	}
}

func TestMergeKeepsUnknownStoredKeys(t *testing.T) {
	defaults := MapValue(map[string]Value{"enabled": BoolValue(true)})
	stored := MapValue(map[string]Value{"custom": StringValue("kept")})

	merged := Merge(defaults, stored)
	if c, ok := merged.Key("custom"); !ok || c.Str() != "kept" {
		t.Fatalf("stored-only key dropped: %v", c)
	}
}

func TestMergeWithEmptyStored(t *testing.T) {
	defaults := MapValue(map[string]Value{"enabled": BoolValue(false)})

	merged := Merge(defaults, Value{})
	if !merged.Equal(defaults) {
		t.Fatalf("merge with no stored tree = %v, want defaults", merged)
	}
}
