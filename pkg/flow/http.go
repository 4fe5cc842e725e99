package flow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/dukex/chatflow/pkg/interpolate"
	"github.com/dukex/chatflow/pkg/models"
	"github.com/tidwall/gjson"
)

const (
	HandleSuccess = "success"
	HandleError   = "error"

	// maxResponseBytes caps how much of a response body is read.
	maxResponseBytes = 1 << 20
)

// HTTPError represents a non-2xx response.
type HTTPError struct {
	StatusCode int
	Message    string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Message)
}

// FieldMapping copies a JSON path of the response into a variable.
type FieldMapping struct {
	JSONPath string
	VarName  string
}

// HTTPRequestConfig is the parsed data bag of an httpRequest node.
type HTTPRequestConfig struct {
	Method       string
	URL          string
	Body         string
	Headers      map[string]string
	Timeout      time.Duration
	ResponseType string
	ResponseVar  string
	Mappings     []FieldMapping
}

// ParseHTTPRequestConfig reads node data. A malformed headers value is
// reported as an error alongside the otherwise usable config.
func ParseHTTPRequestConfig(data map[string]any, defaultTimeout time.Duration) (HTTPRequestConfig, error) {
	config := HTTPRequestConfig{
		Method:  http.MethodGet,
		Headers: make(map[string]string),
		Timeout: defaultTimeout,
	}

	if method, ok := data["method"].(string); ok && method != "" {
		config.Method = strings.ToUpper(method)
	}

	config.URL, _ = data["url"].(string)
	config.ResponseType, _ = data["responseType"].(string)
	config.ResponseVar, _ = data["responseVar"].(string)

	switch body := data["body"].(type) {
	case string:
		config.Body = body
	case map[string]any, []any:
		encoded, err := json.Marshal(body)
		if err == nil {
			config.Body = string(encoded)
		}
	}

	if seconds, ok := toFloat(data["timeout"]); ok && seconds > 0 {
		config.Timeout = time.Duration(seconds * float64(time.Second))
	}

	for _, item := range asList(data["mappings"]) {
		fields, ok := item.(map[string]any)
		if !ok {
			continue
		}

		path, _ := fields["jsonPath"].(string)
		name, _ := fields["varName"].(string)

		if path != "" && name != "" {
			config.Mappings = append(config.Mappings, FieldMapping{JSONPath: path, VarName: name})
		}
	}

	var headerErr error

	switch headers := data["headers"].(type) {
	case map[string]any:
		for key, value := range headers {
			config.Headers[key] = stringify(value)
		}
	case string:
		if strings.TrimSpace(headers) != "" {
			parsed := make(map[string]any)
			if err := json.Unmarshal([]byte(headers), &parsed); err != nil {
				headerErr = fmt.Errorf("invalid headers: %w", err)
			}

			for key, value := range parsed {
				config.Headers[key] = stringify(value)
			}
		}
	}

	return config, headerErr
}

func (i *Interpreter) execHTTPRequest(ctx context.Context, r *run, node *models.Node) string {
	config, err := ParseHTTPRequestConfig(node.Data, i.httpTimeout)
	if err != nil {
		i.emit(r, "Erro na configuração da requisição: "+err.Error(), nil)
	}

	body, err := i.request(ctx, node.ID, config, r.session.Vars)
	if err != nil {
		i.logger.WarnContext(ctx, "http request failed",
			"session_id", r.session.ID, "node_id", node.ID, "url", config.URL, "error", err)

		if edge, ok := r.graph.EdgeByHandle(node.ID, HandleError); ok {
			r.session.Vars["http_error"] = err.Error()

			return edge.Target
		}

		return ""
	}

	if config.ResponseVar != "" {
		if parsed, ok := body.(gjson.Result); ok {
			r.session.Vars[config.ResponseVar] = parsed.Value()
		} else {
			r.session.Vars[config.ResponseVar] = body
		}
	}

	if parsed, ok := body.(gjson.Result); ok {
		for _, mapping := range config.Mappings {
			value := parsed.Get(interpolate.ToGJSONPath(mapping.JSONPath))
			if value.Exists() {
				r.session.Vars[mapping.VarName] = value.Value()
			}
		}
	}

	if edge, ok := r.graph.EdgeByHandle(node.ID, HandleSuccess); ok {
		return edge.Target
	}

	if edges := r.graph.OutgoingEdges(node.ID); len(edges) == 1 && edges[0].SourceHandle != HandleError {
		return edges[0].Target
	}

	return ""
}

// request goes through the request memo of ctx, when there is one.
func (i *Interpreter) request(ctx context.Context, nodeID string, config HTTPRequestConfig, vars map[string]any) (any, error) {
	memo := requestMemoFrom(ctx)
	if memo == nil {
		return i.performRequest(ctx, config, vars)
	}

	key := strings.Join([]string{
		nodeID,
		config.Method,
		interpolate.Interpolate(config.URL, vars),
		interpolate.Interpolate(config.Body, vars),
	}, "\x00")

	return memo.do(key, func() (any, error) {
		return i.performRequest(ctx, config, vars)
	})
}

// performRequest issues the call and returns a gjson.Result for JSON
// responses or the raw string otherwise.
func (i *Interpreter) performRequest(ctx context.Context, config HTTPRequestConfig, vars map[string]any) (any, error) {
	url := interpolate.Interpolate(config.URL, vars)
	if url == "" {
		return nil, errors.New("missing url")
	}

	ctx, cancel := context.WithTimeout(ctx, config.Timeout)
	defer cancel()

	var reqBody io.Reader

	body := interpolate.Interpolate(config.Body, vars)
	if body != "" {
		reqBody = strings.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, config.Method, url, reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	for key, value := range config.Headers {
		req.Header.Set(key, interpolate.Interpolate(value, vars))
	}

	// Set default Content-Type if not specified and body is present
	if body != "" && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := i.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}

	defer func() {
		_ = resp.Body.Close()
	}()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &HTTPError{StatusCode: resp.StatusCode, Message: string(respBody)}
	}

	if config.ResponseType != "" && !strings.EqualFold(config.ResponseType, "json") {
		return string(respBody), nil
	}

	if len(strings.TrimSpace(string(respBody))) == 0 {
		return gjson.Parse("{}"), nil
	}

	if !gjson.ValidBytes(respBody) {
		return nil, errors.New("response is not valid JSON")
	}

	return gjson.ParseBytes(respBody), nil
}

func asList(value any) []any {
	list, _ := value.([]any)

	return list
}
