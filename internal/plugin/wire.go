package plugin

import (
	"encoding/base64"
	"encoding/json"
	"fmt"

	"google.golang.org/protobuf/types/known/structpb"

	"xform/internal/message"
)

const encodingBase64 = "base64"

const (
	fieldPayload         = "payload"
	fieldPayloadEncoding = "payload_encoding"
	fieldHeaders         = "headers"
	fieldResult          = "result"
	fieldResultEncoding  = "result_encoding"
	fieldOK              = "ok"
	fieldDetails         = "details"
)

// toValue converts v to a protobuf Value. Byte slices become base64 text and
// the returned encoding says so. Values structpb cannot take directly are
// passed through a JSON round trip.
func toValue(v any) (*structpb.Value, string, error) {
	if b, ok := v.([]byte); ok {
		return structpb.NewStringValue(base64.StdEncoding.EncodeToString(b)), encodingBase64, nil
	}
	if pv, err := structpb.NewValue(v); err == nil {
		return pv, "", nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, "", fmt.Errorf("plugin: encode %T: %w", v, err)
	}
	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, "", fmt.Errorf("plugin: encode %T: %w", v, err)
	}
	pv, err := structpb.NewValue(generic)
	if err != nil {
		return nil, "", fmt.Errorf("plugin: encode %T: %w", v, err)
	}
	return pv, "", nil
}

func fromValue(v *structpb.Value, encoding string) (any, error) {
	if v == nil {
		return nil, nil
	}
	if encoding == encodingBase64 {
		b, err := base64.StdEncoding.DecodeString(v.GetStringValue())
		if err != nil {
			return nil, fmt.Errorf("plugin: decode base64: %w", err)
		}
		return b, nil
	}
	return v.AsInterface(), nil
}

func encodeHeaders(h message.Headers) (*structpb.Struct, error) {
	fields := make(map[string]*structpb.Value, len(h))
	for k, v := range h {
		if b, ok := v.([]byte); ok {
			v = string(b)
		}
		pv, _, err := toValue(v)
		if err != nil {
			return nil, fmt.Errorf("plugin: header %q: %w", k, err)
		}
		fields[k] = pv
	}
	return &structpb.Struct{Fields: fields}, nil
}

// EncodeRequest renders a message as a Transform request.
func EncodeRequest(m message.Message) (*structpb.Struct, error) {
	payload, enc, err := toValue(m.Payload)
	if err != nil {
		return nil, err
	}
	headers, err := encodeHeaders(m.Headers)
	if err != nil {
		return nil, err
	}
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		fieldPayload:         payload,
		fieldPayloadEncoding: structpb.NewStringValue(enc),
		fieldHeaders:         structpb.NewStructValue(headers),
	}}, nil
}

// DecodeRequest is the inverse of EncodeRequest.
func DecodeRequest(req *structpb.Struct) (message.Message, error) {
	f := req.GetFields()
	payload, err := fromValue(f[fieldPayload], f[fieldPayloadEncoding].GetStringValue())
	if err != nil {
		return message.Message{}, err
	}
	headers := message.Headers(f[fieldHeaders].GetStructValue().AsMap())
	return message.Message{Payload: payload, Headers: headers}, nil
}

// EncodeResponse wraps a transform result.
func EncodeResponse(result any) (*structpb.Struct, error) {
	v, enc, err := toValue(result)
	if err != nil {
		return nil, err
	}
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		fieldResult:         v,
		fieldResultEncoding: structpb.NewStringValue(enc),
	}}, nil
}

// DecodeResponse extracts the result from a Transform response.
func DecodeResponse(resp *structpb.Struct) (any, error) {
	f := resp.GetFields()
	return fromValue(f[fieldResult], f[fieldResultEncoding].GetStringValue())
}
