package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/flowgrid-go/internal/domain/workflow"
	"github.com/flowgrid-go/pkg/logger"
	"github.com/flowgrid-go/pkg/resilience"
)

// HTTPNodeExecutor performs an outbound HTTP request. A non-2xx response is
// still a successful node execution: the result carries status, data and
// error:true so downstream condition nodes can branch on it. Only
// transport-level failures (DNS, connection, timeout) fail the node.
type HTTPNodeExecutor struct {
	BaseNodeExecutor
	client  *http.Client
	breaker *resilience.CircuitBreaker
	logger  logger.Logger
}

func NewHTTPNodeExecutor(timeout time.Duration, log logger.Logger) *HTTPNodeExecutor {
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &HTTPNodeExecutor{
		BaseNodeExecutor: BaseNodeExecutor{timeout: timeout},
		client:           &http.Client{Timeout: timeout},
		breaker:          resilience.NewCircuitBreaker(resilience.DefaultCircuitBreakerConfig("http-node")),
		logger:           log,
	}
}

func (e *HTTPNodeExecutor) Execute(ctx context.Context, node workflow.Node, input map[string]interface{}) (map[string]interface{}, error) {
	url := asString(input["url"])
	if url == "" {
		return nil, fmt.Errorf("%w: url is required", workflow.ErrTransport)
	}

	method, _ := node.Config["method"].(string)
	if method == "" {
		method = http.MethodGet
	}
	method = strings.ToUpper(method)

	if timeoutSec, ok := toFloat(node.Config["timeout"]); ok && timeoutSec > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(timeoutSec*float64(time.Second)))
		defer cancel()
	}

	var reqBody io.Reader
	if body, ok := input["body"]; ok && body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("%w: cannot encode body: %v", workflow.ErrTransport, err)
		}
		reqBody = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reqBody)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", workflow.ErrTransport, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if headers, ok := input["headers"].(map[string]interface{}); ok {
		for key, value := range headers {
			if s, ok := value.(string); ok {
				req.Header.Set(key, s)
			}
		}
	}

	result, err := e.breaker.Execute(func() (interface{}, error) {
		return e.client.Do(req)
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", workflow.ErrTransport, err)
	}
	resp := result.(*http.Response)
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", workflow.ErrTransport, err)
	}

	var data interface{}
	if err := json.Unmarshal(respBody, &data); err != nil {
		data = string(respBody)
	}

	return map[string]interface{}{
		"status": resp.StatusCode,
		"data":   data,
		"error":  resp.StatusCode >= 400,
	}, nil
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}
