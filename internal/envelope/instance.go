// internal/envelope/instance.go
package envelope

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"unicode/utf8"
)

const (
	inlineKey = "data"
	base64Key = "b64"
)

var errInvalidUTF8 = errors.New("payload is not valid UTF-8")

type instanceKind uint8

const (
	kindDirect instanceKind = iota
	kindInline
)

// Instance is one item of a request's instances list. It is either a direct
// JSON value or an inline-encoded payload carrying the bytes of a JSON document.
type Instance struct {
	kind    instanceKind
	value   any
	payload []byte
	base64  bool
}

// Direct wraps a JSON value that is passed to inference unchanged.
func Direct(v any) Instance {
	return Instance{kind: kindDirect, value: v}
}

// InlineEncoded wraps the raw bytes of a UTF-8 JSON document.
func InlineEncoded(payload []byte) Instance {
	return Instance{kind: kindInline, payload: payload}
}

// ParseInstance classifies a wire value with the default Options. An object
// whose only key is "data" holding raw bytes is inline-encoded; everything
// else is direct.
func ParseInstance(v any) Instance {
	return ParseInstanceWith(v, Options{})
}

// ParseInstanceWith classifies a wire value. With opts.Base64Inline the JSON
// binary form {"data": {"b64": "<base64>"}} is inline-encoded as well.
func ParseInstanceWith(v any, opts Options) Instance {
	obj, ok := asObject(v)
	if !ok || len(obj) != 1 {
		return Direct(v)
	}
	data, ok := obj[inlineKey]
	if !ok {
		return Direct(v)
	}

	switch d := data.(type) {
	case []byte:
		return InlineEncoded(d)
	case json.RawMessage:
		return InlineEncoded(d)
	}

	if !opts.Base64Inline {
		return Direct(v)
	}
	if wrapped, ok := asObject(data); ok && len(wrapped) == 1 {
		if text, ok := wrapped[base64Key].(string); ok {
			return Instance{kind: kindInline, payload: []byte(text), base64: true}
		}
	}
	return Direct(v)
}

// Inline reports whether the instance carries an encoded payload.
func (i Instance) Inline() bool { return i.kind == kindInline }

// Resolve returns the value handed to inference, decoding inline payloads.
func (i Instance) Resolve() (any, error) {
	if i.kind == kindDirect {
		return i.value, nil
	}

	payload := i.payload
	if i.base64 {
		decoded, err := base64.StdEncoding.DecodeString(string(payload))
		if err != nil {
			return nil, fmt.Errorf("invalid base64 payload: %w", err)
		}
		payload = decoded
	}

	// encoding/json silently replaces invalid UTF-8, so check first.
	if !utf8.Valid(payload) {
		return nil, errInvalidUTF8
	}

	var v any
	if err := json.Unmarshal(payload, &v); err != nil {
		return nil, fmt.Errorf("invalid JSON payload: %w", err)
	}
	return v, nil
}

func asObject(v any) (map[string]any, bool) {
	switch o := v.(type) {
	case map[string]any:
		return o, true
	case RawRequest:
		return o, true
	default:
		return nil, false
	}
}
