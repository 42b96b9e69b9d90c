package codec

import (
	"bytes"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"testing"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	sizes := []int{0, 1, 2, 3, 57, 1024, chunkSize - 1, chunkSize, chunkSize + 1, 2*chunkSize + 5}
	for _, size := range sizes {
		data := make([]byte, size)
		if _, err := rand.Read(data); err != nil {
			t.Fatalf("failed to generate test data: %v", err)
		}

		encoded := Encode(data)
		decoded, err := Decode(encoded)
		if err != nil {
			t.Fatalf("decode failed for size %d: %v", size, err)
		}
		if !bytes.Equal(data, decoded) {
			t.Errorf("round trip mismatch for size %d", size)
		}
	}
}

func TestEncodeMatchesSingleCall(t *testing.T) {
	// Chunked output must be byte-identical to a single encoding pass.
	data := make([]byte, 3*chunkSize+17)
	if _, err := rand.Read(data); err != nil {
		t.Fatalf("failed to generate test data: %v", err)
	}
	if got, want := Encode(data), base64.StdEncoding.EncodeToString(data); got != want {
		t.Error("chunked encoding differs from single-pass encoding")
	}
}

func TestDecodeMalformed(t *testing.T) {
	cases := []struct {
		name  string
		input string
	}{
		{"invalid characters", "!!!not-base64!!!"},
		{"truncated padding", "QUJDRA="},
		{"embedded space", "QUJD REVG"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Decode(tc.input)
			if err == nil {
				t.Fatal("expected an error for malformed input")
			}
			var decodeErr *DecodeError
			if !errors.As(err, &decodeErr) {
				t.Fatalf("expected *DecodeError, got %T", err)
			}
		})
	}
}
