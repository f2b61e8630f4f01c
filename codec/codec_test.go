package codec

import (
	"encoding/json"
	"math"
	"testing"
	"time"

	"github.com/vinayprograms/eventbus/errors"
)

// --- Unit Tests ---

func TestEncodeVariants(t *testing.T) {
	var nilPtr *int
	var nilMap map[string]any

	tests := []struct {
		name  string
		value any
		want  Kind
	}{
		{"nil", nil, KindNull},
		{"nil pointer", nilPtr, KindNull},
		{"nil map", nilMap, KindNull},
		{"true", true, KindBool},
		{"false", false, KindBool},
		{"string", "foo", KindString},
		{"empty string", "", KindString},
		{"int", 1234, KindInt64},
		{"int8", int8(-3), KindInt64},
		{"uint32", uint32(7), KindInt64},
		{"integral float", 12.0, KindInt64},
		{"negative integral float", -4.0, KindInt64},
		{"fractional float", 1.2345, KindFloat64},
		{"float32 fraction", float32(0.5), KindFloat64},
		{"NaN", math.NaN(), KindFloat64},
		{"+Inf", math.Inf(1), KindFloat64},
		{"huge float", 1e300, KindFloat64},
		{"json int", json.Number("42"), KindInt64},
		{"json float", json.Number("4.2"), KindFloat64},
		{"blob", Blob{1, 2, 3}, KindBlob},
		{"bytes", []byte("raw"), KindBlob},
		{"map", map[string]any{"a": 1}, KindDocument},
		{"typed map", map[string]int{"a": 1}, KindDocument},
		{"struct", struct{ A int }{1}, KindDocument},
		{"message", String("pre"), KindString},
		{"time", time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), KindString},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := Encode(tt.value)
			if err != nil {
				t.Fatalf("Encode(%v) error: %v", tt.value, err)
			}
			if m.Kind() != tt.want {
				t.Errorf("Encode(%v).Kind() = %v, want %v", tt.value, m.Kind(), tt.want)
			}
		})
	}
}

func TestEncodeIntegralRule(t *testing.T) {
	m, _ := Encode(23.0)
	if v, ok := m.Int64(); !ok || v != 23 {
		t.Errorf("23.0 should be Int64(23), got %v %v", m.Kind(), v)
	}

	m, _ = Encode(23.45)
	if v, ok := m.Float64(); !ok || v != 23.45 {
		t.Errorf("23.45 should be Float64(23.45), got %v %v", m.Kind(), v)
	}
}

func TestEncodeUnsupported(t *testing.T) {
	tests := []struct {
		name     string
		value    any
		typeName string
	}{
		{"func", func() {}, "func()"},
		{"chan", make(chan int), "chan int"},
		{"complex", complex(1, 2), "complex128"},
		{"slice", []int{1, 2}, "[]int"},
		{"array", [2]string{"a", "b"}, "[2]string"},
		{"int keyed map", map[int]string{1: "a"}, "map[int]string"},
		{"nested func", map[string]any{"f": func() {}}, "func()"},
		{"uint64 overflow", uint64(math.MaxUint64), "uint64"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Encode(tt.value)
			if !errors.Is(err, errors.ErrCodeUnsupportedType) {
				t.Fatalf("Encode(%T) error = %v, want UNSUPPORTED_TYPE", tt.value, err)
			}
			if got := errors.AsBusError(err).Metadata()["type"]; got != tt.typeName {
				t.Errorf("type = %q, want %q", got, tt.typeName)
			}
		})
	}
}

// nested wraps a string in the given number of documents.
func nested(levels int) any {
	var v any = "x"
	for i := 0; i < levels; i++ {
		v = map[string]any{"n": v}
	}
	return v
}

func TestEncodeDepthLimit(t *testing.T) {
	m, err := Encode(nested(maxDepth))
	if err != nil {
		t.Fatalf("Encode at the limit: %v", err)
	}
	if _, err := Unmarshal(Marshal(m)); err != nil {
		t.Errorf("message at the limit does not decode: %v", err)
	}

	if _, err := Encode(nested(maxDepth + 1)); !errors.Is(err, errors.ErrCodeInvalidInput) {
		t.Errorf("Encode past the limit error = %v, want INVALID_INPUT", err)
	}
	if _, err := EncodeBody(nested(maxDepth + 1)); !errors.Is(err, errors.ErrCodeInvalidInput) {
		t.Errorf("EncodeBody past the limit error = %v, want INVALID_INPUT", err)
	}
}

func TestEncodeDepthLimitPrebuilt(t *testing.T) {
	deep := Null()
	for i := 0; i < maxDepth+1; i++ {
		deep = Document(map[string]Message{"n": deep})
	}
	if _, err := Encode(deep); !errors.Is(err, errors.ErrCodeInvalidInput) {
		t.Errorf("Encode(Message) error = %v, want INVALID_INPUT", err)
	}

	// A shallow message still counts the documents it is placed inside.
	inner := Document(map[string]Message{"leaf": String("x")})
	var v any = inner
	for i := 0; i < maxDepth; i++ {
		v = map[string]any{"n": v}
	}
	if _, err := Encode(v); !errors.Is(err, errors.ErrCodeInvalidInput) {
		t.Errorf("embedded Message error = %v, want INVALID_INPUT", err)
	}
}

type chain struct {
	Name string `json:"name"`
	Next *chain `json:"next"`
}

func TestEncodeCyclicStruct(t *testing.T) {
	c := &chain{Name: "loop"}
	c.Next = c
	if _, err := Encode(c); !errors.Is(err, errors.ErrCodeInvalidInput) {
		t.Errorf("cyclic struct error = %v, want INVALID_INPUT", err)
	}

	m, err := Encode(&chain{Name: "a", Next: &chain{Name: "b"}})
	if err != nil {
		t.Fatalf("short chain: %v", err)
	}
	next, _ := m.Field("next")
	if name, _ := next.Field("name"); !name.Equal(String("b")) {
		t.Errorf("next.name = %v", name)
	}
}

func TestEncodeStructTags(t *testing.T) {
	type Base struct {
		ID string `json:"id"`
	}
	type Order struct {
		Base
		Price    float64 `json:"price"`
		Name     string  `json:"name"`
		Note     string  `json:"note,omitempty"`
		Secret   string  `json:"-"`
		Quantity int
		internal int
	}

	m, err := Encode(Order{Base: Base{ID: "o1"}, Price: 23.45, Name: "tim", Quantity: 2, internal: 9})
	if err != nil {
		t.Fatalf("Encode error: %v", err)
	}

	want := []string{"Quantity", "id", "name", "price"}
	got := m.Keys()
	if len(got) != len(want) {
		t.Fatalf("Keys() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Keys()[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestEncodeBodyNullRule(t *testing.T) {
	var nilMap map[string]any

	for _, v := range []any{nil, nilMap, (*Message)(nil), Null()} {
		m, err := EncodeBody(v)
		if err != nil {
			t.Fatalf("EncodeBody(%v) error: %v", v, err)
		}
		if m.Kind() != KindDocument || m.Len() != 0 {
			t.Errorf("EncodeBody(%#v) = %v, want empty document", v, m.Kind())
		}
	}

	// Nested nils stay Null.
	m, _ := EncodeBody(map[string]any{"missing": nil})
	f, ok := m.Field("missing")
	if !ok || !f.IsNull() {
		t.Errorf("nested nil should be Null, got %v", f.Kind())
	}

	// Non-nil bodies are unaffected.
	m, _ = EncodeBody("x")
	if m.Kind() != KindString {
		t.Errorf("EncodeBody(\"x\").Kind() = %v", m.Kind())
	}
}

func TestDecodeRoundtrip(t *testing.T) {
	tests := []struct {
		name  string
		value any
		check func(t *testing.T, got any)
	}{
		{"string", "foo", func(t *testing.T, got any) {
			if got != "foo" {
				t.Errorf("got %v", got)
			}
		}},
		{"int", 1234, func(t *testing.T, got any) {
			if got != int64(1234) {
				t.Errorf("got %#v", got)
			}
		}},
		{"float", 1.2345, func(t *testing.T, got any) {
			if got != 1.2345 {
				t.Errorf("got %#v", got)
			}
		}},
		{"bool", true, func(t *testing.T, got any) {
			if got != true {
				t.Errorf("got %v", got)
			}
		}},
		{"nil", nil, func(t *testing.T, got any) {
			if got != nil {
				t.Errorf("got %v", got)
			}
		}},
		{"blob", Blob("abc"), func(t *testing.T, got any) {
			b, ok := got.(Blob)
			if !ok || string(b) != "abc" {
				t.Errorf("got %#v", got)
			}
		}},
		{"document", map[string]any{"price": 23.45, "name": "tim"}, func(t *testing.T, got any) {
			doc, ok := got.(map[string]any)
			if !ok {
				t.Fatalf("got %T", got)
			}
			if doc["price"] != 23.45 || doc["name"] != "tim" {
				t.Errorf("got %v", doc)
			}
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := Encode(tt.value)
			if err != nil {
				t.Fatalf("Encode error: %v", err)
			}
			tt.check(t, Decode(m))
		})
	}
}

func TestMessageImmutability(t *testing.T) {
	raw := []byte("abc")
	m := BlobOf(raw)
	raw[0] = 'z'
	b, _ := m.Blob()
	if string(b) != "abc" {
		t.Errorf("BlobOf must copy input, got %q", b)
	}
	b[0] = 'q'
	b2, _ := m.Blob()
	if string(b2) != "abc" {
		t.Errorf("Blob() must return a copy, got %q", b2)
	}

	fields := map[string]Message{"a": Int64(1)}
	doc := Document(fields)
	fields["b"] = Int64(2)
	if doc.Len() != 1 {
		t.Errorf("Document must copy input, Len() = %d", doc.Len())
	}
}

func TestMessageEqual(t *testing.T) {
	a := Document(map[string]Message{"x": Int64(1), "y": String("s")})
	b := Document(map[string]Message{"y": String("s"), "x": Int64(1)})
	if !a.Equal(b) {
		t.Error("documents with same fields should be equal")
	}
	if Int64(1).Equal(Float64(1)) {
		t.Error("Int64 and Float64 are distinct variants")
	}
	if !Float64(math.NaN()).Equal(Float64(math.NaN())) {
		t.Error("NaN should equal NaN for message comparison")
	}
	if n, ok := Int64(3).Number(); !ok || n != 3 {
		t.Errorf("Number() = %v %v", n, ok)
	}
}

func TestKindString(t *testing.T) {
	if KindDocument.String() != "document" || Kind(99).String() != "unknown" {
		t.Error("unexpected Kind names")
	}
}

// --- Wire Tests ---

func TestWireRoundtrip(t *testing.T) {
	msgs := []Message{
		Null(),
		Bool(true),
		Bool(false),
		Int64(0),
		Int64(-1 << 62),
		Int64(math.MaxInt64),
		Float64(23.45),
		Float64(math.Inf(-1)),
		Float64(math.NaN()),
		String(""),
		String("héllo"),
		BlobOf(nil),
		BlobOf([]byte{0, 1, 255}),
		EmptyDocument(),
		Document(map[string]Message{
			"price": Float64(23.45),
			"name":  String("tim"),
			"inner": Document(map[string]Message{"n": Null(), "b": BlobOf([]byte("x"))}),
		}),
	}

	for _, m := range msgs {
		t.Run(m.Kind().String(), func(t *testing.T) {
			data := Marshal(m)
			got, err := Unmarshal(data)
			if err != nil {
				t.Fatalf("Unmarshal error: %v", err)
			}
			if !got.Equal(m) {
				t.Errorf("roundtrip mismatch: got %v, want %v", got, m)
			}
		})
	}
}

func TestWireDeterministic(t *testing.T) {
	a := Document(map[string]Message{"a": Int64(1), "b": Int64(2), "c": Int64(3)})
	first := string(Marshal(a))
	for i := 0; i < 20; i++ {
		if string(Marshal(a)) != first {
			t.Fatal("Marshal output must not depend on map iteration order")
		}
	}
}

func TestUnmarshalCorrupt(t *testing.T) {
	valid := Marshal(String("hello"))

	tests := []struct {
		name string
		data []byte
	}{
		{"empty", nil},
		{"truncated", valid[:len(valid)-2]},
		{"trailing", append(append([]byte{}, valid...), 0x00)},
		{"unknown field", []byte{0x40, 0x00}},
		{"invalid utf8", append([]byte{0x2a, 0x02}, 0xff, 0xfe)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Unmarshal(tt.data)
			if !errors.Is(err, errors.ErrCodeCorruption) {
				t.Errorf("Unmarshal error = %v, want CORRUPTION", err)
			}
		})
	}
}

func TestUnmarshalDepthLimit(t *testing.T) {
	m := Null()
	for i := 0; i < maxDepth+2; i++ {
		m = Document(map[string]Message{"n": m})
	}
	_, err := Unmarshal(Marshal(m))
	if !errors.Is(err, errors.ErrCodeCorruption) {
		t.Errorf("deep nesting error = %v, want CORRUPTION", err)
	}
}

// --- JSON Tests ---

func TestMarshalJSON(t *testing.T) {
	m := Document(map[string]Message{
		"price": Float64(23.45),
		"qty":   Int64(2),
		"name":  String("tim"),
		"none":  Null(),
	})
	data, err := json.Marshal(m)
	if err != nil {
		t.Fatalf("Marshal error: %v", err)
	}
	want := `{"name":"tim","none":null,"price":23.45,"qty":2}`
	if string(data) != want {
		t.Errorf("json = %s, want %s", data, want)
	}

	data, _ = json.Marshal(Float64(math.Inf(1)))
	if string(data) != `"+Inf"` {
		t.Errorf("Inf json = %s", data)
	}
}

func TestFromJSON(t *testing.T) {
	m, err := FromJSON([]byte(`{"price": 23.45, "qty": 2, "ok": true}`))
	if err != nil {
		t.Fatalf("FromJSON error: %v", err)
	}
	if f, _ := m.Field("qty"); f.Kind() != KindInt64 {
		t.Errorf("qty kind = %v, want int64", f.Kind())
	}
	if f, _ := m.Field("price"); f.Kind() != KindFloat64 {
		t.Errorf("price kind = %v, want float64", f.Kind())
	}

	if _, err := FromJSON([]byte(`[1,2]`)); !errors.Is(err, errors.ErrCodeUnsupportedType) {
		t.Errorf("array error = %v, want UNSUPPORTED_TYPE", err)
	}
	if _, err := FromJSON([]byte(`{`)); !errors.Is(err, errors.ErrCodeInvalidInput) {
		t.Errorf("bad json error = %v, want INVALID_INPUT", err)
	}
	if _, err := FromJSON([]byte(`1 2`)); !errors.Is(err, errors.ErrCodeInvalidInput) {
		t.Errorf("trailing json error = %v, want INVALID_INPUT", err)
	}
}

// --- Performance Tests ---

func BenchmarkMarshal(b *testing.B) {
	m, _ := Encode(map[string]any{"price": 23.45, "name": "tim", "qty": 3})
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		Unmarshal(Marshal(m))
	}
}
