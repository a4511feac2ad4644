package core

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
)

// RequestResult is the outcome of AuthedRequest. Transport and status
// failures are reported through Err, never as a Go error return.
type RequestResult struct {
	OK           bool
	Status       int
	EndpointUsed string
	Attempts     int
	Data         any
	Body         []byte
	Headers      map[string]string
	RetryAfter   time.Duration
	Err          *goerrors.Error
}

// Decode unmarshals the raw response body into v.
func (r RequestResult) Decode(v any) error {
	if len(r.Body) == 0 {
		return fmt.Errorf("core: response body is empty")
	}
	return json.Unmarshal(r.Body, v)
}

type requestAttempt struct {
	endpoint string
	response TransportResponse
	err      error
}

// AuthedRequest issues a bearer-authenticated JSON request. A 404 on the
// primary path falls back to route.Fallback once; a 401 triggers a single
// session recovery and one retry. 429 and 5xx responses are never retried.
func (e *Engine) AuthedRequest(ctx context.Context, route Route, init RequestInit) (result RequestResult) {
	if ctx == nil {
		ctx = context.Background()
	}
	startedAt := e.now()
	defer func() {
		var err error
		if result.Err != nil {
			err = result.Err
		}
		e.observeOperation(ctx, startedAt, "authed_request", err, map[string]any{
			"endpoint": result.EndpointUsed,
			"status":   result.Status,
			"attempts": result.Attempts,
			"method":   requestMethod(init),
		})
	}()

	route.Primary = strings.TrimSpace(route.Primary)
	route.Fallback = strings.TrimSpace(route.Fallback)
	if route.Primary == "" {
		return RequestResult{Err: newEngineError("route primary path is required", goerrors.CategoryBadInput, ErrorBadInput)}
	}
	if e.transport == nil {
		return RequestResult{
			EndpointUsed: route.Primary,
			Err:          wrapEngineError(ErrTransportRequired, goerrors.CategoryInternal, ErrorInternal, "transport adapter unavailable"),
		}
	}

	allowAnonymous := !init.RequireIdentity
	session := e.EnsureSession(ctx, allowAnonymous)
	if !session.OK() {
		return RequestResult{
			EndpointUsed: route.Primary,
			Err: newEngineError("no usable session for authenticated request", goerrors.CategoryAuth, ErrorNotAuthenticated).
				WithMetadata(map[string]any{"reason": string(session.Reason)}),
		}
	}

	body, err := encodeRequestBody(init.Body)
	if err != nil {
		return RequestResult{
			EndpointUsed: route.Primary,
			Err:          wrapEngineError(err, goerrors.CategoryBadInput, ErrorBadInput, "request body encode failed"),
		}
	}

	attempts := 0
	token := session.Token
	attempt := e.sendAttempt(ctx, route.Primary, token, init, body)
	attempts++

	if attempt.err == nil && attempt.response.StatusCode == http.StatusNotFound && route.Fallback != "" {
		e.logInfo(ctx, "primary route not found, using fallback", map[string]any{
			"primary":  route.Primary,
			"fallback": route.Fallback,
		})
		attempt = e.sendAttempt(ctx, route.Fallback, token, init, body)
		attempts++
	}

	// The retry targets the endpoint that answered 401; after a fallback the
	// primary has already said 404.
	if attempt.err == nil && attempt.response.StatusCode == http.StatusUnauthorized {
		recovered := e.recoverToken(ctx, allowAnonymous)
		if recovered == "" {
			result := e.buildRequestResult(attempt, attempts)
			result.Err = newEngineError("session recovery yielded no token", goerrors.CategoryAuth, ErrorAuthRecoveryFailed).
				WithMetadata(map[string]any{"endpoint": attempt.endpoint})
			return result
		}
		attempt = e.sendAttempt(ctx, attempt.endpoint, recovered, init, body)
		attempts++
		if attempt.err == nil && attempt.response.StatusCode == http.StatusUnauthorized {
			result := e.buildRequestResult(attempt, attempts)
			result.Err = newEngineError(
				errorMessageFromBody(attempt.response.Body, "unauthorized after session recovery"),
				goerrors.CategoryAuth,
				ErrorAuthRecoveryFailed,
			).WithMetadata(map[string]any{"endpoint": attempt.endpoint})
			return result
		}
	}

	return e.buildRequestResult(attempt, attempts)
}

// recoverToken refreshes the session once and, when anonymous sessions are
// allowed, falls back to ensuring one.
func (e *Engine) recoverToken(ctx context.Context, allowAnonymous bool) string {
	refreshed, err := e.refreshSession(ctx)
	if err == nil && refreshed.Valid(e.now()) {
		return refreshed.Token
	}
	if err != nil {
		e.logWarn(ctx, "session refresh after unauthorized response failed", map[string]any{"error": err.Error()})
	}
	if !allowAnonymous {
		return ""
	}
	ensured := e.ensureSession(ctx, true)
	if !ensured.OK() {
		return ""
	}
	return ensured.Token
}

func (e *Engine) sendAttempt(ctx context.Context, endpoint string, token string, init RequestInit, body []byte) requestAttempt {
	timeout := init.Timeout
	if timeout <= 0 {
		timeout = e.config.RequestTimeout
	}
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	headers := map[string]string{"Accept": "application/json"}
	if len(body) > 0 {
		headers["Content-Type"] = "application/json"
	}
	for key, value := range init.Headers {
		headers[key] = value
	}
	headers["Authorization"] = "Bearer " + token

	query := make(map[string]string, len(init.Query))
	for key, value := range init.Query {
		query[key] = value
	}

	response, err := e.transport.Do(attemptCtx, TransportRequest{
		Method:   requestMethod(init),
		URL:      e.resolveURL(endpoint),
		Headers:  headers,
		Query:    query,
		Body:     body,
		Timeout:  timeout,
		Metadata: map[string]any{"endpoint": endpoint},
	})
	if err != nil && errors.Is(attemptCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		err = fmt.Errorf("%w: %w", context.DeadlineExceeded, err)
	}
	return requestAttempt{endpoint: endpoint, response: response, err: err}
}

func (e *Engine) buildRequestResult(attempt requestAttempt, attempts int) RequestResult {
	result := RequestResult{
		EndpointUsed: attempt.endpoint,
		Attempts:     attempts,
	}
	if attempt.err != nil {
		result.Err = transportFailure(attempt.err, attempt.endpoint)
		return result
	}

	response := attempt.response
	result.Status = response.StatusCode
	result.Body = response.Body
	result.Headers = response.Headers
	if len(response.Body) > 0 {
		var data any
		if err := json.Unmarshal(response.Body, &data); err == nil {
			result.Data = data
		}
	}

	status := response.StatusCode
	if status >= 200 && status < 300 {
		result.OK = true
		return result
	}

	message := errorMessageFromBody(response.Body, http.StatusText(status))
	metadata := map[string]any{"endpoint": attempt.endpoint, "status": status}
	switch {
	case status == http.StatusUnauthorized:
		result.Err = newEngineError(message, goerrors.CategoryAuth, ErrorAuthRecoveryFailed)
	case status == http.StatusNotFound:
		result.Err = newEngineError(message, goerrors.CategoryNotFound, ErrorRouteNotFound)
	case status == http.StatusTooManyRequests:
		result.RetryAfter = parseRetryAfter(headerValue(response.Headers, "Retry-After"), e.now())
		metadata["retry_after_ms"] = result.RetryAfter.Milliseconds()
		result.Err = newEngineError(message, goerrors.CategoryRateLimit, ErrorRateLimited)
	case status >= 500:
		result.Err = newEngineError(message, goerrors.CategoryExternal, ErrorServerError)
	default:
		result.Err = newEngineError(message, goerrors.CategoryBadInput, ErrorRequestRejected).WithCode(status)
	}
	result.Err = result.Err.WithMetadata(metadata)
	return result
}

func transportFailure(err error, endpoint string) *goerrors.Error {
	metadata := map[string]any{"endpoint": endpoint}
	if errors.Is(err, context.DeadlineExceeded) {
		return wrapEngineError(err, goerrors.CategoryExternal, ErrorTimeout, "request timed out").WithMetadata(metadata)
	}
	return wrapEngineError(err, goerrors.CategoryExternal, ErrorNetworkError, "request failed").WithMetadata(metadata)
}

func (e *Engine) resolveURL(endpoint string) string {
	if strings.HasPrefix(endpoint, "http://") || strings.HasPrefix(endpoint, "https://") {
		return endpoint
	}
	if e.config.BaseURL == "" {
		return endpoint
	}
	return e.config.BaseURL + "/" + strings.TrimLeft(endpoint, "/")
}

func requestMethod(init RequestInit) string {
	method := strings.ToUpper(strings.TrimSpace(init.Method))
	if method == "" {
		return http.MethodGet
	}
	return method
}

func encodeRequestBody(body any) ([]byte, error) {
	switch typed := body.(type) {
	case nil:
		return nil, nil
	case []byte:
		return typed, nil
	case json.RawMessage:
		return typed, nil
	default:
		return json.Marshal(body)
	}
}

// errorMessageFromBody pulls a human readable message out of a JSON error
// payload, falling back when none of the usual fields are present.
func errorMessageFromBody(body []byte, fallback string) string {
	if len(body) > 0 {
		var payload map[string]any
		if err := json.Unmarshal(body, &payload); err == nil {
			for _, key := range []string{"message", "error_description", "error", "detail"} {
				if value, ok := payload[key].(string); ok && strings.TrimSpace(value) != "" {
					return strings.TrimSpace(value)
				}
			}
		}
	}
	if strings.TrimSpace(fallback) == "" {
		return "request failed"
	}
	return fallback
}

func headerValue(headers map[string]string, name string) string {
	for key, value := range headers {
		if strings.EqualFold(key, name) {
			return strings.TrimSpace(value)
		}
	}
	return ""
}

func parseRetryAfter(value string, now time.Time) time.Duration {
	if value == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(value); err == nil {
		if seconds < 0 {
			return 0
		}
		return time.Duration(seconds) * time.Second
	}
	if at, err := http.ParseTime(value); err == nil {
		if delay := at.Sub(now); delay > 0 {
			return delay
		}
	}
	return 0
}
