package testutil

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

// HTTPResult captures HTTP response details for test assertions
type HTTPResult struct {
	Code    int
	Error   error
	Headers http.Header
	Body    []byte
}

// Header represents an HTTP header key-value pair
type Header struct {
	Key   string
	Value string
}

// ContentTypeJSON returns a header for JSON content type
func ContentTypeJSON() Header {
	return Header{Key: "Content-Type", Value: "application/json"}
}

// APIKey returns the external-caller credential header
func APIKey(key string) Header {
	return Header{Key: "x-api-key", Value: key}
}

// Internal returns the internal-request flag header
func Internal() Header {
	return Header{Key: "X-Internal-Request", Value: "true"}
}

// Origin returns an Origin header
func Origin(origin string) Header {
	return Header{Key: "Origin", Value: origin}
}

// Referer returns a Referer header
func Referer(referer string) Header {
	return Header{Key: "Referer", Value: referer}
}

// Bearer returns an Authorization header carrying an access token
func Bearer(token string) Header {
	return Header{Key: "Authorization", Value: "Bearer " + token}
}

// ExpectStatus validates the HTTP status code and fails the test if it doesn't match
func ExpectStatus(
	t *testing.T,
	expected int,
	result HTTPResult,
) {
	t.Helper()
	if result.Error != nil {
		t.Fatalf("request error: %v", result.Error)
	}
	if result.Code != expected {
		t.Fatalf("expected status %d, got %d. Body: %s", expected, result.Code, string(result.Body))
	}
}

// ExpectErrorKind validates the machine-readable kind in an error envelope
func ExpectErrorKind(
	t *testing.T,
	expected string,
	result HTTPResult,
) {
	t.Helper()
	var envelope struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(result.Body, &envelope); err != nil {
		t.Fatalf("couldn't decode error envelope: %v\n%s", err, string(result.Body))
	}
	if envelope.Error != expected {
		t.Fatalf("expected error kind %q, got %q", expected, envelope.Error)
	}
}

// Get performs a GET request and optionally decodes JSON response
func Get(
	router http.Handler,
	url string,
	response any,
	headers ...Header,
) HTTPResult {
	req := httptest.NewRequest(http.MethodGet, url, nil)
	res := httptest.NewRecorder()
	for _, h := range headers {
		req.Header.Set(h.Key, h.Value)
	}
	router.ServeHTTP(res, req)
	return decodeResult(res, response)
}

// Post performs a POST request and optionally decodes JSON response
func Post(
	router http.Handler,
	url string,
	body string,
	response any,
	headers ...Header,
) HTTPResult {
	req := httptest.NewRequest(http.MethodPost, url, strings.NewReader(body))
	res := httptest.NewRecorder()
	for _, h := range headers {
		req.Header.Set(h.Key, h.Value)
	}
	router.ServeHTTP(res, req)
	return decodeResult(res, response)
}

// PostJSON performs a POST with JSON body
func PostJSON(
	router http.Handler,
	urlPath string,
	body string,
	response any,
	headers ...Header,
) HTTPResult {
	return Post(router, urlPath, body, response, append(headers, ContentTypeJSON())...)
}

func decodeResult(
	res *httptest.ResponseRecorder,
	response any,
) HTTPResult {
	if response != nil && res.Body.Len() > 0 {
		if err := json.Unmarshal(res.Body.Bytes(), response); err != nil {
			return HTTPResult{
				Code:    res.Code,
				Error:   fmt.Errorf("failed to decode JSON: %v\n%s", err, res.Body.String()),
				Headers: res.Header(),
				Body:    res.Body.Bytes(),
			}
		}
	}
	return HTTPResult{Code: res.Code, Headers: res.Header(), Body: res.Body.Bytes()}
}
