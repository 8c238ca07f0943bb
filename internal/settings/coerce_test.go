package settings

import (
	"errors"
	"testing"
)

func TestCoerce(t *testing.T) {
	tests := []struct {
		name     string
		existing Value
		raw      string
		want     Value
	}{
		{"bool true", BoolValue(false), "true", BoolValue(true)},
		{"bool yes", BoolValue(false), "yes", BoolValue(true)},
		{"bool on", BoolValue(false), "on", BoolValue(true)},
		{"bool off", BoolValue(true), "off", BoolValue(false)},
		{"bool zero", BoolValue(true), "0", BoolValue(false)},
		{"int", IntValue(1), "42", IntValue(42)},
		{"int negative", IntValue(1), "-7", IntValue(-7)},
		{"int hex", IntValue(0), "0xC0A8", IntValue(0xC0A8)},
		{"float", FloatValue(69.0), "70.2", FloatValue(70.2)},
		{"float from int text", FloatValue(1.0), "3", FloatValue(3)},
		{"string", StringValue("old"), "new", StringValue("new")},
		{"quoted string", StringValue("old"), `"hello world"`, StringValue("hello world")},
		{"list json", ListValue(IntValue(1)), "[6,7,8,9]", ListValue(IntValue(6), IntValue(7), IntValue(8), IntValue(9))},
		{"map json", MapValue(map[string]Value{"a": IntValue(1)}), `{"a": 2}`, MapValue(map[string]Value{"a": IntValue(2)})},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Coerce(tt.existing, tt.raw)
			if err != nil {
				t.Fatalf("Coerce(%v, %q) failed: %v", tt.existing, tt.raw, err)
			}
			if !got.Equal(tt.want) {
				t.Fatalf("Coerce(%v, %q) = %v, want %v", tt.existing, tt.raw, got, tt.want)
			}
		})
	}
}

func TestCoerceFloatSubtypePreserved(t *testing.T) {
	got, err := Coerce(FloatValue(69.0), "70.2")
	if err != nil {
		t.Fatalf("Coerce failed: %v", err)
	}
	if got.Kind() != KindFloat {
		t.Fatalf("kind = %v, want float to match existing subtype", got.Kind())
	}
}

func TestCoerceErrors(t *testing.T) {
	tests := []struct {
		name     string
		existing Value
		raw      string
	}{
		{"bool garbage", BoolValue(true), "maybe"},
		{"int garbage", IntValue(1), "12ab"},
		{"float garbage", FloatValue(1.0), "fast"},
		{"list not json", ListValue(IntValue(1)), "six seven"},
		{"list gets object", ListValue(IntValue(1)), `{"a": 1}`},
		{"map gets array", MapValue(map[string]Value{}), "[1,2]"},
		{"invalid target", Value{}, "x"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Coerce(tt.existing, tt.raw)
			if err == nil {
				t.Fatalf("Coerce(%v, %q) succeeded, want coercion error", tt.existing, tt.raw)
			}
			if !errors.Is(err, ErrTypeCoercion) {
				t.Fatalf("error %v does not wrap ErrTypeCoercion", err)
			}
		})
	}
}
