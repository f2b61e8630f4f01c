package codec

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"

	"github.com/vinayprograms/eventbus/errors"
)

var _ json.Marshaler = Message{}

// MarshalJSON renders a message as JSON for display. Blobs render as
// base64 strings and non-finite floats as their strconv spelling, so the
// rendering is not guaranteed to parse back into the same variants.
func (m Message) MarshalJSON() ([]byte, error) {
	switch m.kind {
	case KindBool:
		return json.Marshal(m.b)
	case KindInt64:
		return []byte(strconv.FormatInt(m.i, 10)), nil
	case KindFloat64:
		if math.IsNaN(m.f) || math.IsInf(m.f, 0) {
			return json.Marshal(strconv.FormatFloat(m.f, 'g', -1, 64))
		}
		return json.Marshal(m.f)
	case KindString:
		return json.Marshal(m.s)
	case KindBlob:
		return json.Marshal(m.blob)
	case KindDocument:
		if m.doc == nil {
			return []byte("{}"), nil
		}
		return json.Marshal(m.doc)
	}
	return []byte("null"), nil
}

// FromJSON parses JSON text into a message. Numbers follow the same
// integral rule as Encode; arrays have no wire variant and are rejected.
func FromJSON(data []byte) (Message, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var v any
	if err := dec.Decode(&v); err != nil {
		return Message{}, errors.WrapWithCode(err, errors.ErrCodeInvalidInput, "codec: invalid JSON")
	}
	if dec.More() {
		return Message{}, errors.InvalidInput("codec: trailing data after JSON value")
	}
	return Encode(v)
}
