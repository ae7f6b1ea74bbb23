package middleware

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func newMCPTestLogger() (*zap.Logger, *observer.ObservedLogs) {
	core, logs := observer.New(zapcore.DebugLevel)
	return zap.New(core), logs
}

func TestMCPRequestLoggerSuccess(t *testing.T) {
	logger, logs := newMCPTestLogger()

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"jsonrpc":"2.0","id":1,"result":{"content":[{"type":"text","text":"{}"}]}}`))
	})
	wrapped := MCPRequestLogger(logger)(handler)

	reqBody := `{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"list_tables","arguments":{"datasource_id":"11111111-2222-3333-4444-555555555555"}}}`
	rec := httptest.NewRecorder()
	wrapped.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/mcp", bytes.NewBufferString(reqBody)))

	require.Equal(t, 2, logs.Len())

	requestLog := logs.All()[0]
	assert.Equal(t, "MCP request", requestLog.Message)
	assert.Equal(t, "tools/call", requestLog.ContextMap()["method"])
	assert.Equal(t, "list_tables", requestLog.ContextMap()["tool"])
	assert.Equal(t, "11111111-2222-3333-4444-555555555555", requestLog.ContextMap()["datasource_id"])

	responseLog := logs.All()[1]
	assert.Equal(t, "MCP response success", responseLog.Message)
	assert.Equal(t, "list_tables", responseLog.ContextMap()["tool"])
}

func TestMCPRequestLoggerErrorResponse(t *testing.T) {
	logger, logs := newMCPTestLogger()

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"jsonrpc":"2.0","id":1,"error":{"code":-32602,"message":"invalid datasource_id"}}`))
	})
	wrapped := MCPRequestLogger(logger)(handler)

	reqBody := `{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"execute_query","arguments":{"datasource_id":"nope","query":"SELECT 1"}}}`
	rec := httptest.NewRecorder()
	wrapped.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/mcp", bytes.NewBufferString(reqBody)))

	require.Equal(t, 2, logs.Len())
	errorLog := logs.All()[1]
	assert.Equal(t, "MCP response error", errorLog.Message)
	assert.EqualValues(t, -32602, errorLog.ContextMap()["error_code"])
	assert.Equal(t, "invalid datasource_id", errorLog.ContextMap()["error_message"])
}

func TestMCPRequestLoggerBodyRestored(t *testing.T) {
	logger, _ := newMCPTestLogger()

	var seen string
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body := new(bytes.Buffer)
		_, _ = body.ReadFrom(r.Body)
		seen = body.String()
		_, _ = w.Write([]byte(`{}`))
	})
	wrapped := MCPRequestLogger(logger)(handler)

	reqBody := `{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"list_tables","arguments":{}}}`
	rec := httptest.NewRecorder()
	wrapped.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/mcp", bytes.NewBufferString(reqBody)))

	assert.Equal(t, reqBody, seen, "downstream handler sees the full body")
}

func TestMCPRequestLoggerNilLoggerPassthrough(t *testing.T) {
	called := false
	wrapped := MCPRequestLogger(nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))

	rec := httptest.NewRecorder()
	wrapped.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/mcp", bytes.NewBufferString("{}")))
	assert.True(t, called)
}

func TestSanitizeArguments(t *testing.T) {
	args := map[string]any{
		"datasource_id": "abc",
		"password":      "hunter2",
		"api_key":       "xyz",
		"query":         strings.Repeat("SELECT ", 100),
	}

	out := sanitizeArguments(args)
	assert.Equal(t, "abc", out["datasource_id"])
	assert.Equal(t, "[REDACTED]", out["password"])
	assert.Equal(t, "[REDACTED]", out["api_key"])
	assert.Len(t, out["query"], maxLoggedValueLen+3)

	assert.Nil(t, sanitizeArguments(nil))
}
