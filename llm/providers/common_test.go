package providers

import (
	"errors"
	"net/http"
	"strings"
	"testing"

	"github.com/behole/institutionalized/llm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestMapHTTPError(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		body      string
		wantCode  llm.ErrorCode
		wantRetry bool
	}{
		{name: "401", status: http.StatusUnauthorized, body: "bad key", wantCode: llm.ErrUnauthorized},
		{name: "403", status: http.StatusForbidden, body: "denied", wantCode: llm.ErrForbidden},
		{name: "429", status: http.StatusTooManyRequests, body: "slow down", wantCode: llm.ErrRateLimited, wantRetry: true},
		{name: "400 quota", status: http.StatusBadRequest, body: "You exceeded your current quota", wantCode: llm.ErrQuotaExceeded},
		{name: "400 credit", status: http.StatusBadRequest, body: "Insufficient credit balance", wantCode: llm.ErrQuotaExceeded},
		{name: "400 invalid", status: http.StatusBadRequest, body: "messages: required", wantCode: llm.ErrInvalidRequest},
		{name: "408", status: http.StatusRequestTimeout, body: "", wantCode: llm.ErrUpstreamTimeout, wantRetry: true},
		{name: "502", status: http.StatusBadGateway, body: "", wantCode: llm.ErrUpstreamError, wantRetry: true},
		{name: "503", status: http.StatusServiceUnavailable, body: "", wantCode: llm.ErrUpstreamError, wantRetry: true},
		{name: "504", status: http.StatusGatewayTimeout, body: "", wantCode: llm.ErrUpstreamError, wantRetry: true},
		{name: "529", status: 529, body: "overloaded", wantCode: llm.ErrModelOverloaded, wantRetry: true},
		{name: "500", status: http.StatusInternalServerError, body: "", wantCode: llm.ErrUpstreamError, wantRetry: true},
		{name: "404", status: http.StatusNotFound, body: "no route", wantCode: llm.ErrUpstreamError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := MapHTTPError(tt.status, tt.body, llm.BackendOpenAI)
			assert.Equal(t, tt.wantCode, err.Code)
			assert.Equal(t, tt.wantRetry, err.Retryable)
			assert.Equal(t, tt.status, err.Status)
			assert.Equal(t, tt.body, err.Body)
			assert.Equal(t, llm.BackendOpenAI, err.Backend)
		})
	}
}

func TestMapHTTPError_Property_StatusPreserved(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		status := rapid.IntRange(400, 599).Draw(rt, "status")
		body := rapid.String().Draw(rt, "body")

		err := MapHTTPError(status, body, llm.BackendAnthropic)

		if err.Status != status || err.Body != body {
			rt.Fatalf("status/body not preserved: %+v", err)
		}
		if status >= 500 && !err.Retryable {
			rt.Fatalf("5xx status %d must be retryable", status)
		}
		if status == http.StatusUnauthorized && err.Retryable {
			rt.Fatalf("401 must not be retryable")
		}
	})
}

func TestReadErrorMessage(t *testing.T) {
	assert.Equal(t, "bad model (type: invalid_request_error)",
		ReadErrorMessage(strings.NewReader(`{"error":{"message":"bad model","type":"invalid_request_error"}}`)))
	assert.Equal(t, "plain", ReadErrorMessage(strings.NewReader(`{"error":{"message":"plain"}}`)))
	assert.Equal(t, "gateway exploded", ReadErrorMessage(strings.NewReader("gateway exploded")))
}

func TestTransportError(t *testing.T) {
	err := TransportError(errors.New("dial tcp: connection refused"), llm.BackendOpenRouter)
	assert.Equal(t, llm.ErrUpstreamError, err.Code)
	assert.True(t, err.Retryable)
	assert.Zero(t, err.Status)

	err = TransportError(errors.New("context deadline exceeded"), llm.BackendOpenRouter)
	assert.Equal(t, llm.ErrUpstreamTimeout, err.Code)
}

func TestFillUsage(t *testing.T) {
	spec := llm.NewAgentSpec("a", llm.BackendAnthropic, "claude-3-haiku-20240307", "abcdefghijklmnop")

	reply := &llm.RawReply{Text: "abcdefgh"}
	FillUsage(reply, spec)
	assert.Positive(t, reply.InputTokens)
	assert.Equal(t, 2, reply.OutputTokens)
	assert.Equal(t, "true", reply.ProviderMetadata[llm.MetaUsageEstimated])

	reported := &llm.RawReply{Text: "x", InputTokens: 7, OutputTokens: 3}
	FillUsage(reported, spec)
	assert.Equal(t, 7, reported.InputTokens)
	assert.Equal(t, 3, reported.OutputTokens)
	assert.Empty(t, reported.ProviderMetadata)
}

func TestRequireAPIKey(t *testing.T) {
	require.NoError(t, RequireAPIKey("sk-1", llm.BackendOpenAI))

	err := RequireAPIKey("  ", llm.BackendOpenAI)
	var cfgErr *llm.ConfigurationError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "openai.api_key", cfgErr.Field)
}
