package message

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrEncode marks a payload that has no wire representation, e.g. a float
// result of +Inf.
var ErrEncode = errors.New("message: payload not encodable")

const (
	ContentTypeOctetStream = "application/octet-stream"
	ContentTypeText        = "text/plain"
	ContentTypeJSON        = "application/json"
)

// Encode turns an outbound payload into wire bytes and reports the content
// type the bytes should be published with.
func Encode(payload any) ([]byte, string, error) {
	switch v := payload.(type) {
	case nil:
		return nil, ContentTypeOctetStream, nil
	case []byte:
		return v, ContentTypeOctetStream, nil
	case string:
		return []byte(v), ContentTypeText, nil
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return nil, "", fmt.Errorf("%w: %T: %w", ErrEncode, payload, err)
		}
		return b, ContentTypeJSON, nil
	}
}
