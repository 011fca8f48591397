// internal/envelope/normalize_test.go
package envelope

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalize_PreservesOrder(t *testing.T) {
	batch := []RawRequest{
		{"instances": []any{"a", "b"}},
		{"instances": []any{"c"}},
	}

	flat, ledger, err := Normalize(batch)
	require.NoError(t, err)

	if diff := cmp.Diff(Batch{"a", "b", "c"}, flat); diff != "" {
		t.Errorf("flat batch mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, Ledger{2, 1}, ledger)
	assert.Equal(t, len(flat), ledger.Total())
}

func TestNormalize_InlineBytes(t *testing.T) {
	batch := []RawRequest{
		{"instances": []any{
			map[string]any{"data": []byte(`{"x":1}`)},
			map[string]any{"v": 2.0},
		}},
	}

	flat, ledger, err := Normalize(batch)
	require.NoError(t, err)

	want := Batch{map[string]any{"x": 1.0}, map[string]any{"v": 2.0}}
	if diff := cmp.Diff(want, flat); diff != "" {
		t.Errorf("flat batch mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, Ledger{2}, ledger)
}

func TestNormalize_InlineBase64(t *testing.T) {
	encoded := base64.StdEncoding.EncodeToString([]byte(`[1,2,3]`))
	body := []byte(`{"instances":[{"data":{"b64":"` + encoded + `"}}]}`)

	req, err := ParseRequest(body)
	require.NoError(t, err)

	flat, _, err := NormalizeWith([]RawRequest{req}, Options{Base64Inline: true})
	require.NoError(t, err)
	assert.Equal(t, Batch{[]any{1.0, 2.0, 3.0}}, flat)
}

func TestNormalize_Base64ShapeIsDirectByDefault(t *testing.T) {
	literal := map[string]any{"data": map[string]any{"b64": "aGVsbG8="}}
	batch := []RawRequest{{"instances": []any{literal, 2.0}}}

	flat, ledger, err := Normalize(batch)
	require.NoError(t, err)
	assert.Equal(t, Ledger{2}, ledger)
	if diff := cmp.Diff(Batch{literal, 2.0}, flat); diff != "" {
		t.Errorf("literal instance changed (-want +got):\n%s", diff)
	}

	// "hello" is not JSON, so reserving the shape turns it into a decode error.
	_, _, err = NormalizeWith(batch, Options{Base64Inline: true})
	var decodeErr *DecodeError
	assert.ErrorAs(t, err, &decodeErr)
}

func TestNormalize_NonInlineShapesStayDirect(t *testing.T) {
	rows := []any{
		map[string]any{"data": "plain text"},
		map[string]any{"data": []byte(`{"x":1}`), "extra": true},
		map[string]any{"data": map[string]any{"b64": "e30=", "other": 1.0}},
		[]any{1.0, 2.0},
		"scalar",
	}
	flat, ledger, err := Normalize([]RawRequest{{"instances": rows}})
	require.NoError(t, err)
	assert.Equal(t, Ledger{5}, ledger)
	if diff := cmp.Diff(Batch(rows), flat); diff != "" {
		t.Errorf("direct instances changed (-want +got):\n%s", diff)
	}
}

func TestNormalize_ResolvesDataThenBody(t *testing.T) {
	batch := []RawRequest{
		{"data": map[string]any{"instances": []any{"from-data"}}, "body": map[string]any{"instances": []any{"from-body"}}},
		{"body": map[string]any{"instances": []any{"from-body"}}},
		{"data": nil, "body": map[string]any{"instances": []any{"skip-nil-data"}}},
		{"data": map[string]any{}, "instances": []any{"skip-empty-data"}},
		{"body": []byte(`{"instances":["from-bytes"]}`)},
		{"data": json.RawMessage(`{"instances":["from-raw"]}`)},
	}

	flat, ledger, err := Normalize(batch)
	require.NoError(t, err)
	assert.Equal(t, Batch{"from-data", "from-body", "skip-nil-data", "skip-empty-data", "from-bytes", "from-raw"}, flat)
	assert.Equal(t, Ledger{1, 1, 1, 1, 1, 1}, ledger)
}

func TestNormalize_ZeroNumbersFallThrough(t *testing.T) {
	zeros := []any{0, int8(0), int32(0), int64(0), uint(0), uint64(0), float32(0), 0.0}

	for _, zero := range zeros {
		batch := []RawRequest{{"data": zero, "body": zero, "instances": []any{"own"}}}

		flat, ledger, err := Normalize(batch)
		require.NoError(t, err, "zero of type %T", zero)
		assert.Equal(t, Batch{"own"}, flat)
		assert.Equal(t, Ledger{1}, ledger)
	}

	_, _, err := Normalize([]RawRequest{{"data": int64(3), "instances": []any{"own"}}})
	var malformed *MalformedRequestError
	assert.ErrorAs(t, err, &malformed)
}

func TestNormalize_EmptyInstances(t *testing.T) {
	batch := []RawRequest{
		{"instances": []any{"a"}},
		{"instances": []any{}},
		{"instances": []any{"b"}},
	}

	flat, ledger, err := Normalize(batch)
	require.NoError(t, err)
	assert.Equal(t, Batch{"a", "b"}, flat)
	assert.Equal(t, Ledger{1, 0, 1}, ledger)
}

func TestNormalize_EmptyBatch(t *testing.T) {
	flat, ledger, err := Normalize(nil)
	require.NoError(t, err)
	assert.NotNil(t, flat)
	assert.Empty(t, flat)
	assert.Empty(t, ledger)
}

func TestNormalize_MalformedRequest(t *testing.T) {
	tests := []struct {
		name  string
		batch []RawRequest
	}{
		{"missing instances", []RawRequest{{"inputs": []any{1.0}}}},
		{"instances not a list", []RawRequest{{"instances": "nope"}}},
		{"body not an object", []RawRequest{{"body": []any{1.0}}}},
		{"body not json", []RawRequest{{"body": []byte("not json")}}},
		{"body with trailing data", []RawRequest{{"body": []byte(`{"instances":[1]} trailing garbage`)}}},
		{"data text with second document", []RawRequest{{"data": `{"instances":[1]}{"instances":[2]}`}}},
		{"second request bad", []RawRequest{{"instances": []any{1.0}}, {"data": map[string]any{"x": 1.0}}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			flat, ledger, err := Normalize(tt.batch)
			require.Error(t, err)
			assert.Nil(t, flat)
			assert.Nil(t, ledger)

			var malformed *MalformedRequestError
			require.ErrorAs(t, err, &malformed)
			assert.Equal(t, len(tt.batch)-1, malformed.Request)
			assert.ErrorIs(t, err, ErrBadInput)
			assert.Equal(t, "malformed_request", Kind(err))
		})
	}
}

func TestNormalize_DecodeError(t *testing.T) {
	tests := []struct {
		name    string
		payload any
	}{
		{"invalid utf8", []byte{0xff, 0xfe, '{', '}'}},
		{"invalid json", []byte(`{"x":`)},
		{"empty payload", []byte{}},
		{"invalid base64", map[string]any{"b64": "%%%"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			batch := []RawRequest{
				{"instances": []any{1.0}},
				{"instances": []any{2.0, map[string]any{"data": tt.payload}}},
			}

			_, _, err := NormalizeWith(batch, Options{Base64Inline: true})
			var decodeErr *DecodeError
			require.ErrorAs(t, err, &decodeErr)
			assert.Equal(t, 1, decodeErr.Request)
			assert.Equal(t, 1, decodeErr.Instance)
			assert.ErrorIs(t, err, ErrBadInput)
			assert.Equal(t, "decode", Kind(err))
		})
	}
}

func TestNormalize_InvalidUTF8IsNotReplaced(t *testing.T) {
	_, err := InlineEncoded([]byte("\"\xff\"")).Resolve()
	assert.True(t, errors.Is(err, errInvalidUTF8))
}

func TestNormalize_DoesNotMutateInput(t *testing.T) {
	rows := []any{map[string]any{"data": []byte(`{"x":1}`)}}
	batch := []RawRequest{{"instances": rows}}

	_, _, err := Normalize(batch)
	require.NoError(t, err)

	inline, ok := rows[0].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, []byte(`{"x":1}`), inline["data"])
}

func TestParseInstance(t *testing.T) {
	assert.True(t, ParseInstance(map[string]any{"data": []byte("1")}).Inline())
	assert.True(t, ParseInstance(RawRequest{"data": json.RawMessage("1")}).Inline())
	b64 := map[string]any{"data": map[string]any{"b64": "MQ=="}}
	assert.False(t, ParseInstance(b64).Inline())
	assert.True(t, ParseInstanceWith(b64, Options{Base64Inline: true}).Inline())
	assert.False(t, ParseInstance(map[string]any{"data": "1"}).Inline())
	assert.False(t, ParseInstance(map[string]any{"other": []byte("1")}).Inline())
	assert.False(t, ParseInstance(nil).Inline())

	v, err := Direct("x").Resolve()
	require.NoError(t, err)
	assert.Equal(t, "x", v)
}

func TestParseBatch(t *testing.T) {
	batch, err := ParseBatch([]byte(`[{"instances":[{"v":1}]},{"data":{"instances":[]}}]`))
	require.NoError(t, err)
	require.Len(t, batch, 2)

	_, err = ParseBatch([]byte(`{"instances":[]}`))
	assert.Error(t, err)

	_, err = ParseRequest([]byte(`null`))
	assert.Error(t, err)
}
