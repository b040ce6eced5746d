package slogx

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/quillpress/quillctl/pkg/idx"
)

// Transport is an http.RoundTripper that tags every outbound request with a
// ULID request ID and logs method, path, status and duration. Wrap an API
// client's transport with it to get structured request logs.
type Transport struct {
	Base   http.RoundTripper
	Logger *slog.Logger
}

// NewTransport wraps base with request logging. A nil base falls back to
// http.DefaultTransport; a nil logger falls back to slog.Default.
func NewTransport(base http.RoundTripper, logger *slog.Logger) *Transport {
	return &Transport{Base: base, Logger: logger}
}

func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	base := t.Base
	if base == nil {
		base = http.DefaultTransport
	}
	logger := t.Logger
	if logger == nil {
		logger = slog.Default()
	}

	// Respect a caller-provided X-Request-ID, generate one otherwise.
	reqID := req.Header.Get("X-Request-ID")
	if reqID == "" {
		reqID = idx.New().String()
	}

	// RoundTrippers must not mutate the caller's request. The cloned
	// context carries a req_id-scoped logger for anything downstream.
	req = req.Clone(WithRequestID(WithContext(req.Context(), logger), reqID))
	req.Header.Set("X-Request-ID", reqID)

	logger = logger.With(
		"req_id", reqID,
		"method", req.Method,
		"path", req.URL.Path,
	)

	start := time.Now()
	resp, err := base.RoundTrip(req)
	duration := time.Since(start).Milliseconds()

	if err != nil {
		logger.Warn("api_request_failed", "duration_ms", duration, "error", err)
		return nil, err
	}

	logger.Debug("api_request",
		"status", resp.StatusCode,
		"duration_ms", duration,
	)

	return resp, nil
}
