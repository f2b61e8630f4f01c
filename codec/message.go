package codec

import (
	"bytes"
	"math"
	"sort"
)

// Kind identifies the wire variant held by a Message.
type Kind uint8

const (
	KindNull Kind = iota
	KindBool
	KindInt64
	KindFloat64
	KindString
	KindBlob
	KindDocument
)

var kindNames = [...]string{
	KindNull:     "null",
	KindBool:     "bool",
	KindInt64:    "int64",
	KindFloat64:  "float64",
	KindString:   "string",
	KindBlob:     "blob",
	KindDocument: "document",
}

// String returns the lower-case variant name.
func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "unknown"
}

// Blob is the opaque binary payload type. Encode passes it through
// unchanged; it is never interpreted as a document.
type Blob []byte

// Message is a value in the bus wire vocabulary. The zero value is Null.
// Messages are immutable: constructors copy their inputs and accessors
// return copies of mutable parts.
type Message struct {
	kind Kind
	b    bool
	i    int64
	f    float64
	s    string
	blob []byte
	doc  map[string]Message
}

// Null returns the null message.
func Null() Message { return Message{} }

// Bool returns a boolean message.
func Bool(v bool) Message { return Message{kind: KindBool, b: v} }

// Int64 returns an integer message.
func Int64(v int64) Message { return Message{kind: KindInt64, i: v} }

// Float64 returns a floating point message.
func Float64(v float64) Message { return Message{kind: KindFloat64, f: v} }

// String returns a UTF-8 string message.
func String(v string) Message { return Message{kind: KindString, s: v} }

// BlobOf returns a binary message holding a copy of v.
func BlobOf(v []byte) Message {
	cp := make([]byte, len(v))
	copy(cp, v)
	return Message{kind: KindBlob, blob: cp}
}

// Document returns a structured message holding a copy of fields.
// A nil map yields an empty document.
func Document(fields map[string]Message) Message {
	cp := make(map[string]Message, len(fields))
	for k, v := range fields {
		cp[k] = v
	}
	return Message{kind: KindDocument, doc: cp}
}

// EmptyDocument returns a document with no fields.
func EmptyDocument() Message {
	return Message{kind: KindDocument, doc: map[string]Message{}}
}

// Kind reports the variant.
func (m Message) Kind() Kind { return m.kind }

// IsNull reports whether m is the null message.
func (m Message) IsNull() bool { return m.kind == KindNull }

// Bool returns the boolean value; ok is false for other variants.
func (m Message) Bool() (v bool, ok bool) { return m.b, m.kind == KindBool }

// Int64 returns the integer value; ok is false for other variants.
func (m Message) Int64() (v int64, ok bool) { return m.i, m.kind == KindInt64 }

// Float64 returns the floating point value; ok is false for other variants.
func (m Message) Float64() (v float64, ok bool) { return m.f, m.kind == KindFloat64 }

// Str returns the string value; ok is false for other variants.
func (m Message) Str() (v string, ok bool) { return m.s, m.kind == KindString }

// Blob returns a copy of the binary value; ok is false for other variants.
func (m Message) Blob() (Blob, bool) {
	if m.kind != KindBlob {
		return nil, false
	}
	cp := make(Blob, len(m.blob))
	copy(cp, m.blob)
	return cp, true
}

// Len returns the number of fields of a document, or 0.
func (m Message) Len() int { return len(m.doc) }

// Field returns a document field.
func (m Message) Field(name string) (Message, bool) {
	if m.kind != KindDocument {
		return Message{}, false
	}
	v, ok := m.doc[name]
	return v, ok
}

// Keys returns the document field names in sorted order.
func (m Message) Keys() []string {
	keys := make([]string, 0, len(m.doc))
	for k := range m.doc {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Number returns the numeric value of an Int64 or Float64 message as a
// float64. The integer/float split is a wire distinction only.
func (m Message) Number() (float64, bool) {
	switch m.kind {
	case KindInt64:
		return float64(m.i), true
	case KindFloat64:
		return m.f, true
	}
	return 0, false
}

// Equal reports whether two messages hold the same variant and value.
// Float NaNs compare equal to each other.
func (m Message) Equal(o Message) bool {
	if m.kind != o.kind {
		return false
	}
	switch m.kind {
	case KindNull:
		return true
	case KindBool:
		return m.b == o.b
	case KindInt64:
		return m.i == o.i
	case KindFloat64:
		if math.IsNaN(m.f) && math.IsNaN(o.f) {
			return true
		}
		return m.f == o.f
	case KindString:
		return m.s == o.s
	case KindBlob:
		return bytes.Equal(m.blob, o.blob)
	case KindDocument:
		if len(m.doc) != len(o.doc) {
			return false
		}
		for k, v := range m.doc {
			ov, ok := o.doc[k]
			if !ok || !v.Equal(ov) {
				return false
			}
		}
		return true
	}
	return false
}
