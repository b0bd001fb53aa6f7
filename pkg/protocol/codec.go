package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Decode parses one inbound client frame. Bytes that are not JSON yield
// ErrMalformedFrame. Valid JSON that is not a well-formed hello or relay
// frame yields ErrUnknownType; this includes over-length fields.
func Decode(raw []byte) (Frame, error) {
	if !json.Valid(raw) {
		return nil, ErrMalformedFrame
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil || fields == nil {
		// arrays, scalars and null
		return nil, ErrUnknownType
	}

	t, _ := stringField(fields, "t")
	switch t {
	case TypeHello:
		id, ok := stringField(fields, "userId")
		if ok && IsValidIdentity(id) {
			return Hello{Identity: id}, nil
		}
	case TypeRelay:
		to, okTo := stringField(fields, "to")
		data, okData := stringField(fields, "data")
		if okTo && okData && IsValidIdentity(to) && IsValidPayload(data) {
			return Relay{To: to, Data: data}, nil
		}
	}
	return nil, ErrUnknownType
}

// stringField reports whether key holds a JSON string. null and
// non-string values are rejected.
func stringField(fields map[string]json.RawMessage, key string) (string, bool) {
	raw, ok := fields[key]
	if !ok {
		return "", false
	}
	var s *string
	if err := json.Unmarshal(raw, &s); err != nil || s == nil {
		return "", false
	}
	return *s, true
}

// EncodeAck renders {"t":"ack","userId":...}.
func EncodeAck(identity string) []byte {
	return mustMarshal(ackFrame{T: TypeAck, UserID: identity})
}

// EncodeError renders {"t":"err","error":...}.
func EncodeError(reason string) []byte {
	return mustMarshal(errFrame{T: TypeError, Error: reason})
}

// EncodeDelivery renders {"t":"msg","from":...,"data":...}.
func EncodeDelivery(from, data string) []byte {
	return mustMarshal(deliveryFrame{T: TypeMsg, From: from, Data: data})
}

// EncodeHello renders a client hello frame.
func EncodeHello(identity string) []byte {
	return mustMarshal(helloFrame{T: TypeHello, UserID: identity})
}

// EncodeRelay renders a client relay frame.
func EncodeRelay(to, data string) []byte {
	return mustMarshal(relayFrame{T: TypeRelay, To: to, Data: data})
}

// DecodeServerFrame parses a frame received from the relay.
func DecodeServerFrame(raw []byte) (*ServerFrame, error) {
	var f ServerFrame
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	switch f.T {
	case TypeAck, TypeError, TypeMsg:
		return &f, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, f.T)
	}
}

func mustMarshal(v any) []byte {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		// only string fields are ever encoded
		panic(fmt.Sprintf("protocol: encode %T: %v", v, err))
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n"))
}
