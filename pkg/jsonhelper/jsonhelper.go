package jsonhelper

import (
	"io"

	jsoniter "github.com/json-iterator/go"

	"go.uber.org/zap"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

func Encode[T any](t T) []byte {
	b, err := json.Marshal(t)
	if err != nil {
		zap.S().With("t", t).Fatalln("couldn't encode the variable", "error", err)
	}
	return b
}

func Decode[T any](b []byte) T {
	var t T
	err := json.Unmarshal(b, &t)
	if err != nil {
		zap.S().With("t", t).With("val", string(b)).Fatalln("couldn't decode the variable", "error", err)
	}
	return t
}

// DecodeReader decodes a stream into dst, returning the error instead of
// dying: request bodies come from outside the process.
func DecodeReader[T any](r io.Reader, dst *T) error {
	return json.NewDecoder(r).Decode(dst)
}

// Clone deep-copies a document by a marshal/unmarshal round trip. Engine
// configurations are opaque nested maps, so this is the only safe way to
// copy one before applying runtime overrides.
func Clone[T any](t T) (T, error) {
	var out T
	b, err := json.Marshal(t)
	if err != nil {
		return out, err
	}
	if err := json.Unmarshal(b, &out); err != nil {
		return out, err
	}
	return out, nil
}
