package codec

import (
	"math"
	"sort"
	"unicode/utf8"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/vinayprograms/eventbus/errors"
)

// Field numbers of the binary wire format. A payload is exactly one field
// whose number selects the variant. Documents nest entries (key=1, value=2)
// under field 1 of their payload.
const (
	fieldNull     protowire.Number = 1
	fieldBool     protowire.Number = 2
	fieldInt64    protowire.Number = 3
	fieldFloat64  protowire.Number = 4
	fieldString   protowire.Number = 5
	fieldBlob     protowire.Number = 6
	fieldDocument protowire.Number = 7

	entryField protowire.Number = 1
	entryKey   protowire.Number = 1
	entryValue protowire.Number = 2
)

// maxDepth bounds document nesting. Encode enforces the same limit so that
// every message it accepts decodes.
const maxDepth = 64

// Marshal encodes a message into its binary wire form. Document keys are
// written in sorted order so equal messages marshal to equal bytes.
func Marshal(m Message) []byte {
	return appendMessage(nil, m)
}

func appendMessage(b []byte, m Message) []byte {
	switch m.kind {
	case KindBool:
		b = protowire.AppendTag(b, fieldBool, protowire.VarintType)
		return protowire.AppendVarint(b, protowire.EncodeBool(m.b))
	case KindInt64:
		b = protowire.AppendTag(b, fieldInt64, protowire.VarintType)
		return protowire.AppendVarint(b, protowire.EncodeZigZag(m.i))
	case KindFloat64:
		b = protowire.AppendTag(b, fieldFloat64, protowire.Fixed64Type)
		return protowire.AppendFixed64(b, math.Float64bits(m.f))
	case KindString:
		b = protowire.AppendTag(b, fieldString, protowire.BytesType)
		return protowire.AppendString(b, m.s)
	case KindBlob:
		b = protowire.AppendTag(b, fieldBlob, protowire.BytesType)
		return protowire.AppendBytes(b, m.blob)
	case KindDocument:
		b = protowire.AppendTag(b, fieldDocument, protowire.BytesType)
		return protowire.AppendBytes(b, appendDocument(nil, m))
	default:
		b = protowire.AppendTag(b, fieldNull, protowire.VarintType)
		return protowire.AppendVarint(b, 0)
	}
}

func appendDocument(b []byte, m Message) []byte {
	keys := make([]string, 0, len(m.doc))
	for k := range m.doc {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		var entry []byte
		entry = protowire.AppendTag(entry, entryKey, protowire.BytesType)
		entry = protowire.AppendString(entry, k)
		entry = protowire.AppendTag(entry, entryValue, protowire.BytesType)
		entry = protowire.AppendBytes(entry, appendMessage(nil, m.doc[k]))
		b = protowire.AppendTag(b, entryField, protowire.BytesType)
		b = protowire.AppendBytes(b, entry)
	}
	return b
}

// Unmarshal decodes a binary payload produced by Marshal.
// Malformed payloads fail with a CORRUPTION error.
func Unmarshal(data []byte) (Message, error) {
	return unmarshal(data, 0)
}

func unmarshal(data []byte, depth int) (Message, error) {
	if depth > maxDepth {
		return Message{}, corrupt("document nesting too deep")
	}
	num, typ, n := protowire.ConsumeTag(data)
	if n < 0 {
		return Message{}, corruptErr(protowire.ParseError(n))
	}
	rest := data[n:]

	var (
		m    Message
		used int
	)
	switch {
	case num == fieldNull && typ == protowire.VarintType:
		_, used = protowire.ConsumeVarint(rest)
		m = Null()
	case num == fieldBool && typ == protowire.VarintType:
		var v uint64
		v, used = protowire.ConsumeVarint(rest)
		m = Bool(protowire.DecodeBool(v))
	case num == fieldInt64 && typ == protowire.VarintType:
		var v uint64
		v, used = protowire.ConsumeVarint(rest)
		m = Int64(protowire.DecodeZigZag(v))
	case num == fieldFloat64 && typ == protowire.Fixed64Type:
		var v uint64
		v, used = protowire.ConsumeFixed64(rest)
		m = Float64(math.Float64frombits(v))
	case num == fieldString && typ == protowire.BytesType:
		var v []byte
		v, used = protowire.ConsumeBytes(rest)
		if used >= 0 && !utf8.Valid(v) {
			return Message{}, corrupt("string is not valid UTF-8")
		}
		m = String(string(v))
	case num == fieldBlob && typ == protowire.BytesType:
		var v []byte
		v, used = protowire.ConsumeBytes(rest)
		m = BlobOf(v)
	case num == fieldDocument && typ == protowire.BytesType:
		var v []byte
		v, used = protowire.ConsumeBytes(rest)
		if used < 0 {
			break
		}
		doc, err := unmarshalDocument(v, depth+1)
		if err != nil {
			return Message{}, err
		}
		m = doc
	default:
		return Message{}, corrupt("unknown field")
	}
	if used < 0 {
		return Message{}, corruptErr(protowire.ParseError(used))
	}
	if len(rest) != used {
		return Message{}, corrupt("trailing bytes after message")
	}
	return m, nil
}

func unmarshalDocument(data []byte, depth int) (Message, error) {
	fields := make(map[string]Message)
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return Message{}, corruptErr(protowire.ParseError(n))
		}
		if num != entryField || typ != protowire.BytesType {
			return Message{}, corrupt("unexpected document field")
		}
		data = data[n:]
		entry, n := protowire.ConsumeBytes(data)
		if n < 0 {
			return Message{}, corruptErr(protowire.ParseError(n))
		}
		data = data[n:]

		key, value, err := unmarshalEntry(entry, depth)
		if err != nil {
			return Message{}, err
		}
		fields[key] = value
	}
	return Message{kind: KindDocument, doc: fields}, nil
}

func unmarshalEntry(entry []byte, depth int) (string, Message, error) {
	var (
		key      string
		value    = Null()
		haveKey  bool
		haveBody bool
	)
	for len(entry) > 0 {
		num, typ, n := protowire.ConsumeTag(entry)
		if n < 0 || typ != protowire.BytesType {
			return "", Message{}, corrupt("malformed document entry")
		}
		entry = entry[n:]
		v, n := protowire.ConsumeBytes(entry)
		if n < 0 {
			return "", Message{}, corruptErr(protowire.ParseError(n))
		}
		entry = entry[n:]
		switch num {
		case entryKey:
			key, haveKey = string(v), true
		case entryValue:
			m, err := unmarshal(v, depth)
			if err != nil {
				return "", Message{}, err
			}
			value, haveBody = m, true
		default:
			return "", Message{}, corrupt("unexpected entry field")
		}
	}
	if !haveKey || !haveBody {
		return "", Message{}, corrupt("document entry missing key or value")
	}
	return key, value, nil
}

func corrupt(reason string) error {
	return errors.New(errors.ErrCodeCorruption, "codec: "+reason)
}

func corruptErr(err error) error {
	return errors.WrapWithCode(err, errors.ErrCodeCorruption, "codec: malformed payload")
}
