// internal/handler/http.go
package handler

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/SyedDaiam9101/inference-envelope/internal/envelope"
	"github.com/SyedDaiam9101/inference-envelope/internal/middleware"
)

// maxBodyBytes caps a single HTTP request body.
const maxBodyBytes = 16 << 20

// Routes registers the v1 model routes on mux:
//
//	POST /v1/models/{name}:predict
//	POST /v1/models/{name}:explain
//	GET  /v1/models/{name}
func (h *Handler) Routes(mux *http.ServeMux) {
	mux.Handle("POST /v1/models/{model}", middleware.HTTPMetrics("infer", http.HandlerFunc(h.serveInfer)))
	mux.Handle("GET /v1/models/{model}", middleware.HTTPMetrics("model_status", http.HandlerFunc(h.serveStatus)))
}

func (h *Handler) serveInfer(w http.ResponseWriter, r *http.Request) {
	name, verb, _ := strings.Cut(r.PathValue("model"), ":")
	if name != h.model {
		h.writeError(w, r, errModelNotFound)
		return
	}

	var mode envelope.Mode
	switch verb {
	case "predict":
		mode = envelope.ModeOf(requestHeaders(r.Header))
	case "explain":
		mode = envelope.ModeExplain
	default:
		h.writeError(w, r, fmt.Errorf("%w: unknown verb %q", errModelNotFound, verb))
		return
	}

	if h.batcher == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "inference pipeline not initialized"})
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeJSON(w, http.StatusRequestEntityTooLarge, map[string]string{"error": err.Error()})
		return
	}

	req, err := envelope.ParseRequest(body)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	// Reject malformed requests before they join a shared batch, where one
	// bad member would fail every other member.
	if err := h.admit(req); err != nil {
		h.writeError(w, r, err)
		return
	}

	frame, err := h.batcher.Submit(r.Context(), req, mode)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, frame)
}

// admitter is implemented by runners that normalize with non-default options.
type admitter interface {
	Admit(req envelope.RawRequest) error
}

func (h *Handler) admit(req envelope.RawRequest) error {
	if a, ok := h.pipeline.(admitter); ok {
		return a.Admit(req)
	}
	_, _, err := envelope.Normalize([]envelope.RawRequest{req})
	return err
}

func (h *Handler) serveStatus(w http.ResponseWriter, r *http.Request) {
	if r.PathValue("model") != h.model {
		h.writeError(w, r, errModelNotFound)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"name": h.model, "ready": h.batcher != nil})
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := httpStatus(err)
	logger := middleware.Logger(r.Context(), h.logger)
	if code >= http.StatusInternalServerError {
		logger.Error("request failed", zap.Error(err))
	} else {
		logger.Debug("request rejected", zap.Int("status", code), zap.Error(err))
	}
	writeJSON(w, code, map[string]string{"error": err.Error()})
}

// requestHeaders exposes HTTP headers as call headers. Lookups are
// case-insensitive on the name; the value is compared as sent.
type requestHeaders http.Header

func (h requestHeaders) Header(key string) (any, bool) {
	values := http.Header(h).Values(key)
	if len(values) == 0 {
		return nil, false
	}
	return values[0], true
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
