// internal/envelope/request.go
package envelope

import (
	"encoding/json"
	"fmt"
	"reflect"
)

const instancesKey = "instances"

// RawRequest is one client submission as handed over by the host. Values may be
// decoded JSON, raw bytes, or nested objects.
type RawRequest map[string]any

// ParseRequest decodes a JSON request body.
func ParseRequest(body []byte) (RawRequest, error) {
	var req RawRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, fmt.Errorf("request body is not a JSON object: %w", err)
	}
	if req == nil {
		return nil, fmt.Errorf("request body is null")
	}
	return req, nil
}

// ParseBatch decodes a JSON array of requests.
func ParseBatch(body []byte) ([]RawRequest, error) {
	var batch []RawRequest
	if err := json.Unmarshal(body, &batch); err != nil {
		return nil, fmt.Errorf("batch is not a JSON array of objects: %w", err)
	}
	return batch, nil
}

// base returns the object holding the instances list: the "data" field, else the
// "body" field, else the request itself. Empty fields are skipped.
func (r RawRequest) base() any {
	for _, key := range []string{"data", "body"} {
		if v, ok := r[key]; ok && !empty(v) {
			return v
		}
	}
	return r
}

// instances extracts the instances list of request idx.
func (r RawRequest) instances(idx int) ([]any, error) {
	base := r.base()

	switch b := base.(type) {
	case []byte:
		parsed, err := decodeText(b)
		if err != nil {
			return nil, &MalformedRequestError{Request: idx, Reason: err.Error()}
		}
		base = parsed
	case json.RawMessage:
		parsed, err := decodeText(b)
		if err != nil {
			return nil, &MalformedRequestError{Request: idx, Reason: err.Error()}
		}
		base = parsed
	case string:
		parsed, err := decodeText([]byte(b))
		if err != nil {
			return nil, &MalformedRequestError{Request: idx, Reason: err.Error()}
		}
		base = parsed
	}

	obj, ok := asObject(base)
	if !ok {
		return nil, &MalformedRequestError{Request: idx, Reason: fmt.Sprintf("request body is %T, not an object", base)}
	}
	raw, ok := obj[instancesKey]
	if !ok {
		return nil, &MalformedRequestError{Request: idx, Reason: "missing instances field"}
	}

	switch rows := raw.(type) {
	case []any:
		return rows, nil
	case []map[string]any:
		out := make([]any, len(rows))
		for i, row := range rows {
			out[i] = row
		}
		return out, nil
	default:
		return nil, &MalformedRequestError{Request: idx, Reason: fmt.Sprintf("instances is %T, not a list", raw)}
	}
}

// decodeText parses b as exactly one JSON document; trailing data is an error.
func decodeText(b []byte) (any, error) {
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return nil, fmt.Errorf("request body is not JSON: %v", err)
	}
	return v, nil
}

// empty follows the falsy rule used when choosing between data, body and the
// request: nil, false, zero numbers of any kind, and empty strings, byte
// slices, lists and objects.
func empty(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case bool:
		return !t
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr,
		reflect.Float32, reflect.Float64:
		return rv.IsZero()
	case reflect.String, reflect.Slice, reflect.Map, reflect.Array:
		return rv.Len() == 0
	default:
		return false
	}
}
