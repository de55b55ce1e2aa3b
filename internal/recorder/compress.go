package recorder

import (
	"bytes"

	"github.com/andybalholm/brotli"
)

// stepsCompressionLevel trades a little CPU for dense storage of the
// repetitive step JSON; level 6 keeps compression off the hot path.
const stepsCompressionLevel = 6

// CompressSteps brotli-compresses a raw browser-steps JSON document into the
// opaque payload format stored in the fact table. Returns nil for empty
// input or when compression fails; the payload is optional either way.
func CompressSteps(stepsJSON []byte) []byte {
	if len(stepsJSON) == 0 {
		return nil
	}
	var buf bytes.Buffer
	w := brotli.NewWriterLevel(&buf, stepsCompressionLevel)
	if _, err := w.Write(stepsJSON); err != nil {
		return nil
	}
	if err := w.Close(); err != nil {
		return nil
	}
	return buf.Bytes()
}

// DecompressSteps reverses CompressSteps. Used by read-side tooling and
// tests; the core never reads payloads back.
func DecompressSteps(payload []byte) ([]byte, error) {
	if len(payload) == 0 {
		return nil, nil
	}
	var out bytes.Buffer
	if _, err := out.ReadFrom(brotli.NewReader(bytes.NewReader(payload))); err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}
