// Package codec defines the wire vocabulary of the event bus and the
// conversions between application values and it.
//
// A Message is exactly one of Null, Bool, Int64, Float64, String, Blob or
// Document (a string-keyed map of Messages). Encode picks the variant:
//
//	codec.Encode(1234)           // Int64
//	codec.Encode(12.0)           // Int64, no fractional part
//	codec.Encode(1.2345)         // Float64
//	codec.Encode(codec.Blob{1})  // Blob, passed through unchanged
//	codec.Encode(order)          // Document built from exported fields
//	codec.Encode(make(chan int)) // UNSUPPORTED_TYPE
//
// The integer/float split is load-bearing on the wire; consumers may branch
// on Kind. After Decode both come back as Go numbers of equal value.
//
// Null rule: Encode(nil) is Null wherever it appears. EncodeBody, used for
// whole message bodies, turns a top-level null into an empty Document so a
// receiver never observes a missing body.
//
// Marshal and Unmarshal move messages to and from bytes using protobuf wire
// encoding, one field number per variant.
package codec
