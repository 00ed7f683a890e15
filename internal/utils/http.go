package utils

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// HTTPClient is a wrapper around the standard http client with added functionality
type HTTPClient struct {
	client         *http.Client
	baseURL        string
	defaultHeaders map[string]string
	maxRetries     int
	retryDelay     time.Duration
}

// HTTPClientOption is a function that configures the HTTPClient
type HTTPClientOption func(*HTTPClient)

// WithTimeout sets the per-request timeout for the HTTP client
func WithTimeout(timeout time.Duration) HTTPClientOption {
	return func(c *HTTPClient) {
		c.client.Timeout = timeout
	}
}

// WithBaseURL sets the base URL for the HTTP client
func WithBaseURL(baseURL string) HTTPClientOption {
	return func(c *HTTPClient) {
		c.baseURL = baseURL
	}
}

// WithDefaultHeaders adds default headers to every request
func WithDefaultHeaders(headers map[string]string) HTTPClientOption {
	return func(c *HTTPClient) {
		for k, v := range headers {
			c.defaultHeaders[k] = v
		}
	}
}

// WithRetries configures retry behavior
func WithRetries(maxRetries int, retryDelay time.Duration) HTTPClientOption {
	return func(c *HTTPClient) {
		c.maxRetries = maxRetries
		c.retryDelay = retryDelay
	}
}

// NewHTTPClient creates a new HTTPClient with the given options
func NewHTTPClient(options ...HTTPClientOption) *HTTPClient {
	client := &HTTPClient{
		client: &http.Client{
			Timeout: 8 * time.Second,
		},
		defaultHeaders: map[string]string{
			"Accept": "application/json",
		},
		maxRetries: 2,
		retryDelay: 500 * time.Millisecond,
	}

	for _, option := range options {
		option(client)
	}

	return client
}

// Request represents an HTTP request
type Request struct {
	Method      string
	Path        string
	QueryParams url.Values
	Headers     map[string]string
	Body        interface{}
	Context     context.Context
}

// Response represents an HTTP response
type Response struct {
	StatusCode int
	Headers    http.Header
	Body       []byte
}

// Error represents an HTTP error
type Error struct {
	StatusCode int
	Message    string
	Response   *Response
}

func (e *Error) Error() string {
	return fmt.Sprintf("HTTP error %d: %s", e.StatusCode, e.Message)
}

// Do executes an HTTP request and returns the response.
// Transport failures, 429 and 5xx answers are retried with a linear backoff.
func (c *HTTPClient) Do(req *Request) (*Response, error) {
	if req.Context == nil {
		req.Context = context.Background()
	}

	target := c.baseURL + req.Path
	if len(req.QueryParams) > 0 {
		target += "?" + req.QueryParams.Encode()
	}

	var bodyBytes []byte
	if req.Body != nil {
		var err error
		bodyBytes, err = json.Marshal(req.Body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request body: %w", err)
		}
	}

	var lastErr error
	var response *Response
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-req.Context.Done():
				return nil, req.Context.Err()
			case <-time.After(c.retryDelay * time.Duration(attempt)):
			}
		}

		response, lastErr = c.once(req, target, bodyBytes)
		if lastErr != nil {
			if req.Context.Err() != nil {
				return nil, req.Context.Err()
			}
			continue
		}

		if response.StatusCode == http.StatusTooManyRequests || response.StatusCode >= 500 {
			lastErr = &Error{
				StatusCode: response.StatusCode,
				Message:    fmt.Sprintf("request failed with status code %d", response.StatusCode),
				Response:   response,
			}
			continue
		}

		break
	}

	if lastErr != nil {
		return response, fmt.Errorf("failed after %d retries: %w", c.maxRetries, lastErr)
	}

	// Check for error status codes
	if response.StatusCode >= 400 {
		return response, &Error{
			StatusCode: response.StatusCode,
			Message:    fmt.Sprintf("request failed with status code %d", response.StatusCode),
			Response:   response,
		}
	}

	return response, nil
}

func (c *HTTPClient) once(req *Request, target string, body []byte) (*Response, error) {
	var bodyReader io.Reader
	if body != nil {
		bodyReader = bytes.NewReader(body)
	}

	httpReq, err := http.NewRequestWithContext(req.Context, req.Method, target, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	for k, v := range c.defaultHeaders {
		httpReq.Header.Set(k, v)
	}
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	return &Response{
		StatusCode: resp.StatusCode,
		Headers:    resp.Header,
		Body:       respBody,
	}, nil
}

// Get performs a GET request
func (c *HTTPClient) Get(ctx context.Context, path string, queryParams url.Values) (*Response, error) {
	return c.Do(&Request{
		Method:      http.MethodGet,
		Path:        path,
		QueryParams: queryParams,
		Context:     ctx,
	})
}

// StatusCode extracts the HTTP status from an error returned by Do, or 0
func StatusCode(err error) int {
	var httpErr *Error
	if errors.As(err, &httpErr) {
		return httpErr.StatusCode
	}
	return 0
}

// DecodeJSON decodes the response body into the target
func (r *Response) DecodeJSON(target interface{}) error {
	if len(r.Body) == 0 {
		return errors.New("empty response body")
	}
	return json.Unmarshal(r.Body, target)
}

// String returns the response body as a string
func (r *Response) String() string {
	return string(r.Body)
}

// IsSuccess returns true if the status code is between 200 and 299
func (r *Response) IsSuccess() bool {
	return r.StatusCode >= 200 && r.StatusCode <= 299
}
