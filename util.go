package securestore

import (
	"encoding/json"
	"fmt"
	"strings"
)

const (
	// maxItemKeyLength bounds logical key length.
	maxItemKeyLength = 255

	// maxValueSize bounds the serialized size of a single value.
	maxValueSize = 10 * 1024 * 1024 // 10MB
)

// serializeValue converts an item value to the bytes that get encrypted.
// Strings pass through untouched; everything else round-trips through JSON.
func serializeValue(value any) ([]byte, error) {
	if s, ok := value.(string); ok {
		return []byte(s), nil
	}
	data, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize value: %w", err)
	}
	return data, nil
}

// deserializeValue reverses serializeValue. The plaintext carries no type
// tag, so anything that parses as JSON comes back as the decoded value and
// everything else comes back as the raw string.
func deserializeValue(plaintext []byte) any {
	var value any
	if err := json.Unmarshal(plaintext, &value); err != nil {
		return string(plaintext)
	}
	return value
}

func validateItemKey(key string) error {
	if key == "" {
		return fmt.Errorf("item key cannot be empty")
	}
	if len(key) > maxItemKeyLength {
		return fmt.Errorf("item key too long (max %d characters)", maxItemKeyLength)
	}
	if key == saltKeyName {
		return fmt.Errorf("item key %q is reserved", key)
	}
	return nil
}

// combineErrs flattens the errors collected during a multi-step teardown.
func combineErrs(errs []error) error {
	if len(errs) == 0 {
		return nil
	}
	var sb strings.Builder
	for i, err := range errs {
		if i > 0 {
			sb.WriteString("; ")
		}
		sb.WriteString(err.Error())
	}
	return fmt.Errorf("%s", sb.String())
}
