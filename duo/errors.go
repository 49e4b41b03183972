package duo

import "fmt"

// ConfigError reports an invalid client configuration. It is returned by
// New and never after construction succeeds.
type ConfigError struct {
	// Reason is a human readable description of what was wrong.
	Reason string
}

func (e *ConfigError) Error() string {
	return "duo: invalid configuration: " + e.Reason
}

// TransportError wraps a failure of the underlying HTTP call (connect,
// TLS, transport-level timeout). The operation itself was never evaluated
// by the upstream service.
type TransportError struct {
	// Op is the API path the call was targeting.
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("duo: request to %s failed: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// UpstreamError reports a response the upstream service rejected: either
// a non-200 HTTP status, or a 200 whose envelope stat is not "OK". Code
// and Message are the upstream error fields when they could be extracted;
// Body keeps the raw response for diagnostics.
type UpstreamError struct {
	// StatusCode is the HTTP status of the response.
	StatusCode int
	// Code is the upstream API error code, 0 when absent.
	Code int64
	// Message is the upstream API error message, empty when absent.
	Message string
	// Body is the raw response body.
	Body []byte
}

func (e *UpstreamError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("duo: upstream error: status=%d code=%d message=%q", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("duo: upstream error: status=%d", e.StatusCode)
}

// DecodeError reports a response body that is not valid JSON or does not
// match the expected envelope shape.
type DecodeError struct {
	Err error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("duo: decoding response failed: %v", e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// UnexpectedResultError reports an authentication status result outside
// the documented set {waiting, allow, deny}. Result carries the literal
// value so callers never have to string-match the error message.
type UnexpectedResultError struct {
	Result string
}

func (e *UnexpectedResultError) Error() string {
	return fmt.Sprintf("duo: unexpected auth status result %q", e.Result)
}
