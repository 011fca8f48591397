// internal/handler/http_test.go
package handler

import (
	"bytes"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/SyedDaiam9101/inference-envelope/internal/envelope"
	"github.com/SyedDaiam9101/inference-envelope/internal/inference"
	"github.com/SyedDaiam9101/inference-envelope/internal/middleware"
	"github.com/SyedDaiam9101/inference-envelope/internal/serving"
)

func newHTTPServer(t *testing.T, mock *inference.MockInference, opts ...serving.Option) *httptest.Server {
	t.Helper()

	pipeline := serving.NewPipeline(mock, zap.NewNop(), opts...)
	batcher := serving.NewBatcher(pipeline, serving.BatcherConfig{MaxDelay: time.Millisecond}, zap.NewNop())
	t.Cleanup(batcher.Close)

	mux := http.NewServeMux()
	New("resnet", pipeline, batcher, zap.NewNop()).Routes(mux)

	srv := httptest.NewServer(middleware.RequestID(mux))
	t.Cleanup(srv.Close)
	return srv
}

func post(t *testing.T, url, body string, header http.Header) (*http.Response, string) {
	t.Helper()

	req, err := http.NewRequest(http.MethodPost, url, strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	for k, vals := range header {
		for _, v := range vals {
			req.Header.Add(k, v)
		}
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var sb bytes.Buffer
	_, err = sb.ReadFrom(resp.Body)
	require.NoError(t, err)
	return resp, sb.String()
}

func TestHTTP_Predict(t *testing.T) {
	srv := newHTTPServer(t, inference.NewMockWithFunc(tenfold))

	resp, body := post(t, srv.URL+"/v1/models/resnet:predict", `{"instances":[{"v":1},{"v":2}]}`, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"predictions":[10,20]}`, body)
	assert.NotEmpty(t, resp.Header.Get(middleware.RequestIDHeader))
}

func TestHTTP_ExplainHeaderOnPredictRoute(t *testing.T) {
	srv := newHTTPServer(t, inference.NewMockWithFunc(tenfold))

	resp, body := post(t, srv.URL+"/v1/models/resnet:predict", `{"instances":[{"v":1}]}`, http.Header{"Explain": {"True"}})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, `"explanations"`)

	resp, body = post(t, srv.URL+"/v1/models/resnet:predict", `{"instances":[{"v":1}]}`, http.Header{"Explain": {"true"}})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"predictions":[10]}`, body)
}

func TestHTTP_ExplainRoute(t *testing.T) {
	srv := newHTTPServer(t, inference.NewMockWithFunc(tenfold))

	resp, body := post(t, srv.URL+"/v1/models/resnet:explain", `{"instances":[{"v":1}]}`, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, `"explanations"`)
}

var base64Inline = serving.WithNormalizeOptions(envelope.Options{Base64Inline: true})

func TestHTTP_InlineBase64Instance(t *testing.T) {
	srv := newHTTPServer(t, inference.NewMockWithFunc(tenfold), base64Inline)

	payload := base64.StdEncoding.EncodeToString([]byte(`{"v":4}`))
	resp, body := post(t, srv.URL+"/v1/models/resnet:predict",
		`{"data":{"instances":[{"data":{"b64":"`+payload+`"}}]}}`, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"predictions":[40]}`, body)
}

func TestHTTP_Base64ShapePassesThroughByDefault(t *testing.T) {
	mock := inference.NewMock()
	srv := newHTTPServer(t, mock)

	resp, body := post(t, srv.URL+"/v1/models/resnet:predict", `{"instances":[{"data":{"b64":"aGVsbG8="}}]}`, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, body)
	require.Len(t, mock.Batches, 1)
	assert.Equal(t, []any{map[string]any{"data": map[string]any{"b64": "aGVsbG8="}}}, mock.Batches[0])
}

func TestHTTP_EmptyInstances(t *testing.T) {
	mock := inference.NewMock()
	srv := newHTTPServer(t, mock)

	resp, body := post(t, srv.URL+"/v1/models/resnet:predict", `{"instances":[]}`, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"predictions":[]}`, body)
	assert.Equal(t, 0, mock.Calls())
}

func TestHTTP_BadRequests(t *testing.T) {
	srv := newHTTPServer(t, inference.NewMock(), base64Inline)

	tests := []struct {
		name string
		body string
	}{
		{"not json", `instances`},
		{"missing instances", `{"inputs":[1]}`},
		{"bad inline payload", `{"instances":[{"data":{"b64":"e3g6"}}]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := post(t, srv.URL+"/v1/models/resnet:predict", tt.body, nil)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
			assert.Contains(t, body, `"error"`)
		})
	}
}

func TestHTTP_EngineFailure(t *testing.T) {
	mock := inference.NewMock()
	mock.SetError("model execution failed")
	srv := newHTTPServer(t, mock)

	resp, _ := post(t, srv.URL+"/v1/models/resnet:predict", `{"instances":[1]}`, nil)
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
}

func TestHTTP_UnknownModelOrVerb(t *testing.T) {
	srv := newHTTPServer(t, inference.NewMock())

	resp, _ := post(t, srv.URL+"/v1/models/other:predict", `{"instances":[1]}`, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = post(t, srv.URL+"/v1/models/resnet:train", `{"instances":[1]}`, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestHTTP_ModelStatus(t *testing.T) {
	srv := newHTTPServer(t, inference.NewMock())

	resp, err := http.Get(srv.URL + "/v1/models/resnet")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/v1/models/other")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
