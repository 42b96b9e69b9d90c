// Package codec converts binary cryptographic material to and from the
// text form required by string-only storage backends.
package codec

import (
	"encoding/base64"
	"fmt"
	"strings"
)

// chunkSize is a multiple of 3 so no chunk except the last ever emits
// base64 padding, keeping the concatenated output a single valid stream.
const chunkSize = 3 * 16384

// DecodeError reports malformed encoded input. Callers treat it as
// corruption of the record it came from.
type DecodeError struct {
	Err error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("malformed encoded data: %v", e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// Encode converts raw bytes to standard base64. Input is processed in
// fixed-size chunks so very large buffers never require a single oversized
// intermediate allocation.
func Encode(data []byte) string {
	if len(data) <= chunkSize {
		return base64.StdEncoding.EncodeToString(data)
	}

	var sb strings.Builder
	sb.Grow(base64.StdEncoding.EncodedLen(len(data)))
	for off := 0; off < len(data); off += chunkSize {
		end := off + chunkSize
		if end > len(data) {
			end = len(data)
		}
		sb.WriteString(base64.StdEncoding.EncodeToString(data[off:end]))
	}
	return sb.String()
}

// Decode converts base64 text back to raw bytes. Any malformed input
// yields a *DecodeError.
func Decode(encoded string) ([]byte, error) {
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, &DecodeError{Err: err}
	}
	return data, nil
}
