package codec

import (
	"encoding"
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"strings"

	"github.com/vinayprograms/eventbus/errors"
)

var (
	messageType = reflect.TypeOf(Message{})
	blobType    = reflect.TypeOf(Blob(nil))
	bytesType   = reflect.TypeOf([]byte(nil))
	numberType  = reflect.TypeOf(json.Number(""))

	textMarshalerType = reflect.TypeOf((*encoding.TextMarshaler)(nil)).Elem()
)

// Encode maps an application value onto exactly one wire variant.
// A nil value becomes Null. Values with no wire variant fail with an
// UNSUPPORTED_TYPE error naming the Go type. Documents nested deeper than
// Unmarshal accepts fail with INVALID_INPUT.
func Encode(value any) (Message, error) {
	return encode(value, 0)
}

func encode(value any, depth int) (Message, error) {
	if depth > maxDepth {
		return Message{}, tooDeep()
	}
	if value == nil {
		return Null(), nil
	}
	switch v := value.(type) {
	case Message:
		return checkedMessage(v, depth)
	case *Message:
		if v == nil {
			return Null(), nil
		}
		return checkedMessage(*v, depth)
	case bool:
		return Bool(v), nil
	case string:
		return String(v), nil
	case Blob:
		return BlobOf(v), nil
	case []byte:
		return BlobOf(v), nil
	case int:
		return Int64(int64(v)), nil
	case int64:
		return Int64(v), nil
	case float64:
		return fromFloat(v), nil
	case json.Number:
		return fromNumber(v)
	case map[string]any:
		if v == nil {
			return Null(), nil
		}
		fields := make(map[string]Message, len(v))
		for k, fv := range v {
			m, err := encode(fv, depth+1)
			if err != nil {
				return Message{}, err
			}
			fields[k] = m
		}
		return Message{kind: KindDocument, doc: fields}, nil
	}
	return encodeValue(reflect.ValueOf(value), depth)
}

// checkedMessage passes a prebuilt message through if, placed at depth, it
// stays within the nesting Unmarshal accepts.
func checkedMessage(m Message, depth int) (Message, error) {
	if err := checkDepth(m, depth); err != nil {
		return Message{}, err
	}
	return m, nil
}

func checkDepth(m Message, depth int) error {
	if depth > maxDepth {
		return tooDeep()
	}
	for _, v := range m.doc {
		if err := checkDepth(v, depth+1); err != nil {
			return err
		}
	}
	return nil
}

func tooDeep() error {
	return errors.InvalidInput(fmt.Sprintf("codec: document nesting exceeds %d levels", maxDepth),
		errors.WithMetadata("reason", "nesting too deep"))
}

// EncodeBody encodes a top-level message body. It differs from Encode only
// for null: a body that would encode as Null (nil, a nil pointer or map, or
// Null itself) becomes an empty document so that receivers always see a
// defined value. Nils nested inside documents still encode as Null.
func EncodeBody(value any) (Message, error) {
	if isNil(value) {
		return EmptyDocument(), nil
	}
	m, err := Encode(value)
	if err != nil {
		return Message{}, err
	}
	if m.IsNull() {
		return EmptyDocument(), nil
	}
	return m, nil
}

func isNil(value any) bool {
	if value == nil {
		return true
	}
	rv := reflect.ValueOf(value)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Interface:
		return rv.IsNil()
	}
	return false
}

// fromFloat applies the integral rule: a finite value with no fractional
// part that fits in int64 is an Int64, anything else a Float64.
func fromFloat(v float64) Message {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return Float64(v)
	}
	if v == math.Trunc(v) && v >= math.MinInt64 && v < math.MaxInt64 {
		return Int64(int64(v))
	}
	return Float64(v)
}

func fromNumber(n json.Number) (Message, error) {
	if i, err := n.Int64(); err == nil {
		return Int64(i), nil
	}
	f, err := n.Float64()
	if err != nil {
		return Message{}, errors.UnsupportedType("json.Number", errors.WithCause(err))
	}
	return fromFloat(f), nil
}

func encodeValue(rv reflect.Value, depth int) (Message, error) {
	if depth > maxDepth {
		return Message{}, tooDeep()
	}
	if !rv.IsValid() {
		return Null(), nil
	}

	t := rv.Type()
	switch t {
	case messageType:
		return checkedMessage(rv.Interface().(Message), depth)
	case blobType, bytesType:
		return BlobOf(rv.Bytes()), nil
	case numberType:
		return fromNumber(json.Number(rv.String()))
	}

	if rv.Kind() == reflect.Struct && t.Implements(textMarshalerType) {
		text, err := rv.Interface().(encoding.TextMarshaler).MarshalText()
		if err != nil {
			return Message{}, errors.UnsupportedType(t.String(), errors.WithCause(err))
		}
		return String(string(text)), nil
	}

	switch rv.Kind() {
	case reflect.Pointer, reflect.Interface:
		if rv.IsNil() {
			return Null(), nil
		}
		return encodeValue(rv.Elem(), depth)
	case reflect.Bool:
		return Bool(rv.Bool()), nil
	case reflect.String:
		return String(rv.String()), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return Int64(rv.Int()), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		u := rv.Uint()
		if u > math.MaxInt64 {
			return Message{}, errors.UnsupportedType(t.String(),
				errors.WithMetadata("reason", "unsigned value overflows int64"))
		}
		return Int64(int64(u)), nil
	case reflect.Float32, reflect.Float64:
		return fromFloat(rv.Float()), nil
	case reflect.Slice:
		if t.Elem().Kind() == reflect.Uint8 {
			return BlobOf(rv.Bytes()), nil
		}
	case reflect.Map:
		if t.Key().Kind() != reflect.String {
			break
		}
		if rv.IsNil() {
			return Null(), nil
		}
		fields := make(map[string]Message, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			m, err := encodeValue(iter.Value(), depth+1)
			if err != nil {
				return Message{}, err
			}
			fields[iter.Key().String()] = m
		}
		return Message{kind: KindDocument, doc: fields}, nil
	case reflect.Struct:
		return encodeStruct(rv, depth)
	}

	return Message{}, errors.UnsupportedType(t.String())
}

// encodeStruct flattens exported fields into a document, honouring json
// struct tags for naming, omission and omitempty.
func encodeStruct(rv reflect.Value, depth int) (Message, error) {
	t := rv.Type()
	fields := make(map[string]Message, t.NumField())
	for i := 0; i < t.NumField(); i++ {
		sf := t.Field(i)
		if !sf.IsExported() {
			continue
		}
		name, omitEmpty, skip := parseTag(sf)
		if skip {
			continue
		}
		fv := rv.Field(i)
		if omitEmpty && fv.IsZero() {
			continue
		}
		if sf.Anonymous && name == sf.Name && indirectKind(sf.Type) == reflect.Struct {
			embedded, err := encodeValue(fv, depth)
			if err != nil {
				return Message{}, err
			}
			for k, v := range embedded.doc {
				if _, exists := fields[k]; !exists {
					fields[k] = v
				}
			}
			continue
		}
		m, err := encodeValue(fv, depth+1)
		if err != nil {
			return Message{}, err
		}
		fields[name] = m
	}
	return Message{kind: KindDocument, doc: fields}, nil
}

func parseTag(sf reflect.StructField) (name string, omitEmpty, skip bool) {
	tag, ok := sf.Tag.Lookup("json")
	if !ok {
		return sf.Name, false, false
	}
	if tag == "-" {
		return "", false, true
	}
	parts := strings.Split(tag, ",")
	name = parts[0]
	if name == "" {
		name = sf.Name
	}
	for _, opt := range parts[1:] {
		if opt == "omitempty" {
			omitEmpty = true
		}
	}
	return name, omitEmpty, false
}

func indirectKind(t reflect.Type) reflect.Kind {
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	return t.Kind()
}

// Decode converts a message back into a plain Go value. It never fails:
// Null is nil, Int64 is int64, Float64 is float64, Blob is Blob and
// Document is map[string]any.
func Decode(m Message) any {
	switch m.kind {
	case KindBool:
		return m.b
	case KindInt64:
		return m.i
	case KindFloat64:
		return m.f
	case KindString:
		return m.s
	case KindBlob:
		cp := make(Blob, len(m.blob))
		copy(cp, m.blob)
		return cp
	case KindDocument:
		out := make(map[string]any, len(m.doc))
		for k, v := range m.doc {
			out[k] = Decode(v)
		}
		return out
	}
	return nil
}
