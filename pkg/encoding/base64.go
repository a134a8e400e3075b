// Package encoding provides the base64 framing used for audio in the JSON
// messages of the telephony and speech providers.
package encoding

import (
	"encoding/base64"
	"errors"
	"fmt"
)

// StdBase64Data is a byte slice that serializes to/from standard base64 in
// JSON. A JSON null decodes to a nil slice.
type StdBase64Data []byte

// ParseStdBase64 decodes a standard base64 string.
func ParseStdBase64(s string) (StdBase64Data, error) {
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("encoding: base64: %w", err)
	}
	return b, nil
}

// MarshalJSON implements json.Marshaler.
func (b StdBase64Data) MarshalJSON() ([]byte, error) {
	return []byte(`"` + b.String() + `"`), nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (b *StdBase64Data) UnmarshalJSON(data []byte) error {
	if len(data) == 0 {
		return errors.New("unmarshal json base64 data: empty data")
	}
	switch data[0] {
	case 'n': // null
		*b = nil
		return nil
	case '"':
		if len(data) < 2 || data[len(data)-1] != '"' {
			return errors.New("unmarshal json base64 data: invalid string")
		}
		decoded, err := ParseStdBase64(string(data[1 : len(data)-1]))
		if err != nil {
			return err
		}
		*b = decoded
		return nil
	default:
		return fmt.Errorf("invalid base64 data: %s", string(data))
	}
}

// String returns the base64-encoded string representation.
func (b StdBase64Data) String() string {
	return base64.StdEncoding.EncodeToString(b)
}
