// Package codec turns handler responses into cache bytes and back.
//
// A decode error on a cached entry is treated as corruption: the entry is
// dropped and the handler runs again, so codecs should fail loudly rather than
// return partial values.
package codec

// Codec encodes/decodes values V to []byte for storage.
type Codec[V any] interface {
	Encode(V) ([]byte, error)
	Decode([]byte) (V, error)
}
