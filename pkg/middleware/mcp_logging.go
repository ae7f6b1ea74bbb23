package middleware

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

// maxLoggedValueLen caps argument values in logs; agent-supplied SQL can be
// arbitrarily long.
const maxLoggedValueLen = 200

// MCPRequestLogger returns middleware that logs MCP JSON-RPC tool calls:
// tool name, target datasource, sanitized arguments, and the call outcome.
// A nil logger disables logging.
func MCPRequestLogger(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if logger == nil {
			return next
		}

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			body, err := io.ReadAll(r.Body)
			if err != nil {
				logger.Error("Failed to read MCP request body", zap.Error(err))
				next.ServeHTTP(w, r)
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))

			// Not every frame is a tool call; non-JSON or lifecycle
			// messages still pass through, just without tool fields.
			var call toolCallFrame
			_ = json.Unmarshal(body, &call)

			logger.Debug("MCP request",
				zap.String("method", call.Method),
				zap.String("tool", call.Params.Name),
				zap.String("datasource_id", datasourceArg(call.Params.Arguments)),
				zap.Any("arguments", sanitizeArguments(call.Params.Arguments)),
			)

			recorder := &mcpResponseRecorder{ResponseWriter: w, body: &bytes.Buffer{}}
			start := time.Now()
			next.ServeHTTP(recorder, r)
			duration := time.Since(start)

			var resp rpcResultFrame
			if err := json.Unmarshal(recorder.body.Bytes(), &resp); err != nil {
				logger.Debug("MCP response not parseable", zap.Error(err))
				return
			}

			if resp.Error != nil {
				logger.Debug("MCP response error",
					zap.String("tool", call.Params.Name),
					zap.Int("error_code", resp.Error.Code),
					zap.String("error_message", resp.Error.Message),
					zap.Duration("duration", duration),
				)
				return
			}
			logger.Debug("MCP response success",
				zap.String("tool", call.Params.Name),
				zap.Duration("duration", duration),
			)
		})
	}
}

type toolCallFrame struct {
	Method string `json:"method"`
	Params struct {
		Name      string         `json:"name"`
		Arguments map[string]any `json:"arguments"`
	} `json:"params"`
}

type rpcResultFrame struct {
	Result any       `json:"result"`
	Error  *rpcError `json:"error"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type mcpResponseRecorder struct {
	http.ResponseWriter
	body *bytes.Buffer
}

func (r *mcpResponseRecorder) Write(b []byte) (int, error) {
	r.body.Write(b)
	return r.ResponseWriter.Write(b)
}

// datasourceArg pulls the datasource_id argument every gateway tool carries,
// so tool calls can be correlated with connector and audit logs.
func datasourceArg(args map[string]any) string {
	id, _ := args["datasource_id"].(string)
	return id
}

var sensitiveArgKeywords = []string{"password", "secret", "token", "key", "credential"}

// sanitizeArguments redacts credential-shaped keys and truncates long values.
func sanitizeArguments(args map[string]any) map[string]any {
	if args == nil {
		return nil
	}

	result := make(map[string]any, len(args))
	for k, v := range args {
		lowerKey := strings.ToLower(k)
		redacted := false
		for _, keyword := range sensitiveArgKeywords {
			if strings.Contains(lowerKey, keyword) {
				result[k] = "[REDACTED]"
				redacted = true
				break
			}
		}
		if redacted {
			continue
		}

		if str, ok := v.(string); ok && len(str) > maxLoggedValueLen {
			result[k] = str[:maxLoggedValueLen] + "..."
		} else {
			result[k] = v
		}
	}
	return result
}
