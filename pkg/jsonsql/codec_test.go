package jsonsql_test

import (
	"encoding/json"
	"errors"
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/calvinalkan/jsonsql/pkg/jsonsql"
)

func Test_Decode_Returns_Original_Value_When_Value_Was_Encoded(t *testing.T) {
	t.Parallel()

	values := []struct {
		name string
		v    jsonsql.Value
	}{
		{name: "null", v: jsonsql.Null()},
		{name: "true", v: jsonsql.Bool(true)},
		{name: "false", v: jsonsql.Bool(false)},
		{name: "zero int", v: jsonsql.Int(0)},
		{name: "negative int", v: jsonsql.Int(-42)},
		{name: "max int", v: jsonsql.Int(math.MaxInt64)},
		{name: "min int", v: jsonsql.Int(math.MinInt64)},
		{name: "integral float", v: jsonsql.Float(3)},
		{name: "fraction float", v: jsonsql.Float(-0.125)},
		{name: "huge float", v: jsonsql.Float(1e300)},
		{name: "tiny float", v: jsonsql.Float(5e-324)},
		{name: "empty string", v: jsonsql.String("")},
		{name: "plain string", v: jsonsql.String("John")},
		{name: "numeric string", v: jsonsql.String("42")},
		{name: "float string", v: jsonsql.String("3.0")},
		{name: "bool string", v: jsonsql.String("true")},
		{name: "null string", v: jsonsql.String("null")},
		{name: "quoted string", v: jsonsql.String(`"hi"`)},
		{name: "json object string", v: jsonsql.String(`{"a":1}`)},
		{name: "padded number string", v: jsonsql.String(" 7 ")},
		{name: "unicode string", v: jsonsql.String("grüße <&>")},
		{name: "empty list", v: jsonsql.List()},
		{name: "mixed list", v: jsonsql.List(jsonsql.Int(1), jsonsql.Float(1), jsonsql.String("1"), jsonsql.Null())},
		{name: "empty map", v: jsonsql.Map(nil)},
		{name: "nested map", v: jsonsql.Map(map[string]jsonsql.Value{
			"b": jsonsql.List(jsonsql.Bool(false), jsonsql.Map(map[string]jsonsql.Value{"x": jsonsql.Float(2)})),
			"a": jsonsql.String("5"),
		})},
	}

	for _, tt := range values {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cell, err := jsonsql.Encode(tt.v)
			if err != nil {
				t.Fatalf("Encode: %v", err)
			}

			got := jsonsql.Decode(cell)
			if diff := cmp.Diff(tt.v, got); diff != "" {
				t.Fatalf("round trip mismatch (-want +got):\n%s\ncell=%q", diff, cell.Text())
			}
		})
	}
}

func Test_Encode_Produces_Expected_Cell_Text_When_Given_Scalars(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		v    jsonsql.Value
		want string
	}{
		{name: "int", v: jsonsql.Int(7), want: "7"},
		{name: "integral float keeps fraction", v: jsonsql.Float(100), want: "100.0"},
		{name: "large float uses exponent", v: jsonsql.Float(1e21), want: "1e+21"},
		{name: "bool", v: jsonsql.Bool(true), want: "true"},
		{name: "plain string verbatim", v: jsonsql.String("hello world"), want: "hello world"},
		{name: "json-looking string quoted", v: jsonsql.String("42"), want: `"42"`},
		{name: "map keys sorted", v: jsonsql.Map(map[string]jsonsql.Value{"z": jsonsql.Int(1), "a": jsonsql.Int(2)}), want: `{"a":2,"z":1}`},
		{name: "html not escaped", v: jsonsql.List(jsonsql.String("<b>")), want: `["<b>"]`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cell, err := jsonsql.Encode(tt.v)
			if err != nil {
				t.Fatalf("Encode: %v", err)
			}

			if got, want := cell.Text(), tt.want; got != want {
				t.Fatalf("text=%q, want=%q", got, want)
			}
		})
	}
}

func Test_Encode_Distinguishes_Null_From_Empty_String_When_Encoding(t *testing.T) {
	t.Parallel()

	null, err := jsonsql.Encode(jsonsql.Null())
	if err != nil {
		t.Fatal(err)
	}

	empty, err := jsonsql.Encode(jsonsql.String(""))
	if err != nil {
		t.Fatal(err)
	}

	if !null.IsNull() {
		t.Fatalf("null cell IsNull=false")
	}

	if empty.IsNull() {
		t.Fatalf("empty string cell IsNull=true")
	}
}

func Test_Encode_Returns_Error_When_Float_Is_Not_Finite(t *testing.T) {
	t.Parallel()

	for _, f := range []float64{math.NaN(), math.Inf(1), math.Inf(-1)} {
		_, err := jsonsql.Encode(jsonsql.Float(f))
		if !errors.Is(err, jsonsql.ErrUnsupportedValue) {
			t.Fatalf("Encode(%v) err=%v, want ErrUnsupportedValue", f, err)
		}

		_, err = jsonsql.Encode(jsonsql.List(jsonsql.Float(f)))
		if !errors.Is(err, jsonsql.ErrUnsupportedValue) {
			t.Fatalf("Encode([%v]) err=%v, want ErrUnsupportedValue", f, err)
		}
	}
}

func Test_Decode_Returns_String_When_Text_Is_Not_A_Single_JSON_Document(t *testing.T) {
	t.Parallel()

	for _, text := range []string{"John", "1 2", "{", "01x", `"a" "b"`, "nul"} {
		got := jsonsql.Decode(jsonsql.TextCell(text))

		if diff := cmp.Diff(jsonsql.String(text), got); diff != "" {
			t.Fatalf("Decode(%q) (-want +got):\n%s", text, diff)
		}
	}
}

func Test_Cell_Marshals_To_JSON_Null_Or_String_When_Serialized(t *testing.T) {
	t.Parallel()

	cells := map[string]jsonsql.Cell{
		"a": jsonsql.NullCell(),
		"b": jsonsql.TextCell("5"),
		"c": jsonsql.TextCell(""),
	}

	data, err := json.Marshal(cells)
	if err != nil {
		t.Fatal(err)
	}

	if got, want := string(data), `{"a":null,"b":"5","c":""}`; got != want {
		t.Fatalf("json=%s, want=%s", got, want)
	}

	var back map[string]jsonsql.Cell

	err = json.Unmarshal([]byte(`{"a":null,"b":"5","c":"","d":12,"e":{"k": [1, 2]}}`), &back)
	if err != nil {
		t.Fatal(err)
	}

	want := map[string]string{"b": "5", "c": "", "d": "12", "e": `{"k":[1,2]}`}
	for k, text := range want {
		if got := back[k]; got.IsNull() || got.Text() != text {
			t.Fatalf("%s: cell=%+v, want text %q", k, got, text)
		}
	}

	if !back["a"].IsNull() {
		t.Fatalf("a: want null cell")
	}
}

func Test_FromAny_Converts_Decoded_JSON_When_Numbers_Are_JSON_Numbers(t *testing.T) {
	t.Parallel()

	got, err := jsonsql.FromAny(map[string]any{
		"n": json.Number("3"),
		"f": json.Number("3.5"),
		"l": []any{"x", nil, true},
	})
	if err != nil {
		t.Fatal(err)
	}

	want := jsonsql.Map(map[string]jsonsql.Value{
		"n": jsonsql.Int(3),
		"f": jsonsql.Float(3.5),
		"l": jsonsql.List(jsonsql.String("x"), jsonsql.Null(), jsonsql.Bool(true)),
	})

	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("(-want +got):\n%s", diff)
	}

	_, err = jsonsql.FromAny(struct{}{})
	if !errors.Is(err, jsonsql.ErrUnsupportedValue) {
		t.Fatalf("err=%v, want ErrUnsupportedValue", err)
	}
}
