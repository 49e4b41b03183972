package duo

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"
)

const (
	testIKey = "DIWJ8X6AEYOR5OMC6TQ1"
	testSKey = "Zh5eGmUq9zpfQnyUIu5OL9iWoMMv5ZNm"
)

// verifySignature recomputes the request signature server-side from the
// received Date header and parameter encoding and checks it against the
// Basic auth credential the client sent.
func verifySignature(t *testing.T, r *http.Request) {
	t.Helper()

	query := r.URL.RawQuery
	if r.Method == http.MethodPost {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			t.Fatalf("reading request body: %v", err)
		}
		query = string(body)
	}

	date := r.Header.Get("Date")
	if date == "" {
		t.Error("missing Date header")
	}
	user, pass, ok := r.BasicAuth()
	if !ok {
		t.Fatal("missing Basic auth header")
	}
	if user != testIKey {
		t.Errorf("Basic auth username = %q, want %q", user, testIKey)
	}
	want := sign(testSKey, canonicalString(date, r.Method, r.Host, r.URL.Path, query))
	if pass != want {
		t.Errorf("signature mismatch: got %q, want %q", pass, want)
	}
}

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c, err := New(srv.URL, testIKey, testSKey, WithPollInterval(time.Millisecond))
	if err != nil {
		t.Fatalf("unexpected error creating client: %v", err)
	}
	return c
}

func TestNewRejectsDomainWithoutHost(t *testing.T) {
	for _, domain := range []string{"/just/a/path", ""} {
		_, err := New(domain, "ikey", "skey")
		var cfgErr *ConfigError
		if !errors.As(err, &cfgErr) {
			t.Errorf("New(%q) error = %v, want *ConfigError", domain, err)
		}
	}
}

func TestCheck(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet || r.URL.Path != "/auth/v2/check" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		verifySignature(t, r)
		fmt.Fprint(w, `{"stat":"OK","response":{"time":1737000000}}`)
	}))

	serverTime, err := c.Check(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if serverTime != 1737000000 {
		t.Fatalf("server time = %d, want 1737000000", serverTime)
	}
}

func TestCheckUpstreamError(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"stat":"FAIL","code":40101,"message":"Missing request credentials"}`)
	}))

	_, err := c.Check(context.Background())
	var upErr *UpstreamError
	if !errors.As(err, &upErr) {
		t.Fatalf("error = %v, want *UpstreamError", err)
	}
	if upErr.StatusCode != http.StatusUnauthorized {
		t.Errorf("StatusCode = %d, want 401", upErr.StatusCode)
	}
	if upErr.Code != 40101 {
		t.Errorf("Code = %d, want 40101", upErr.Code)
	}
	if upErr.Message != "Missing request credentials" {
		t.Errorf("Message = %q", upErr.Message)
	}
}

func TestCheckEnvelopeFailOn200(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"stat":"FAIL","code":40002,"message":"Invalid request parameters","response":{"time":99}}`)
	}))

	_, err := c.Check(context.Background())
	var upErr *UpstreamError
	if !errors.As(err, &upErr) {
		t.Fatalf("error = %v, want *UpstreamError", err)
	}
	if upErr.StatusCode != http.StatusOK {
		t.Errorf("StatusCode = %d, want 200", upErr.StatusCode)
	}
	if upErr.Code != 40002 {
		t.Errorf("Code = %d, want 40002", upErr.Code)
	}
}

func TestCheckDecodeError(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `this is not json`)
	}))

	_, err := c.Check(context.Background())
	var decErr *DecodeError
	if !errors.As(err, &decErr) {
		t.Fatalf("error = %v, want *DecodeError", err)
	}
}

func TestCheckTransportError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	addr := srv.URL
	srv.Close() // nothing is listening anymore

	c, err := New(addr, testIKey, testSKey)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	_, err = c.Check(context.Background())
	var trErr *TransportError
	if !errors.As(err, &trErr) {
		t.Fatalf("error = %v, want *TransportError", err)
	}
	if trErr.Unwrap() == nil {
		t.Error("TransportError must wrap the underlying error")
	}
}

func TestPreauth(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/auth/v2/preauth" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		body, _ := io.ReadAll(r.Body)
		if string(body) != "user_id=alice" {
			t.Errorf("body = %q, want user_id=alice", body)
		}
		fmt.Fprint(w, `{"stat":"OK","response":{"result":"auth","status_msg":"Account is active","devices":[{"device":"DPFZRS9FB0D46QFTM891","type":"phone","name":"work phone","number":"XXX-XXX-0100","capabilities":["push","sms"]}]}}`)
	}))

	result, err := c.Preauth(context.Background(), "alice")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Result != "auth" {
		t.Errorf("Result = %q, want auth", result.Result)
	}
	if result.StatusMsg != "Account is active" {
		t.Errorf("StatusMsg = %q", result.StatusMsg)
	}
	if len(result.Devices) != 1 {
		t.Fatalf("expected 1 device, got %d", len(result.Devices))
	}
	device := result.Devices[0]
	if device.ID != "DPFZRS9FB0D46QFTM891" || device.Type != "phone" || device.Name != "work phone" {
		t.Errorf("unexpected device %+v", device)
	}
	if len(device.Capabilities) != 2 || device.Capabilities[0] != "push" {
		t.Errorf("unexpected capabilities %v", device.Capabilities)
	}
}

// authFlowHandler scripts the start + poll endpoints: the auth endpoint
// always returns the same txid, and each status poll pops the next result
// from the script.
type authFlowHandler struct {
	t      *testing.T
	script []string

	authCalls   int
	statusCalls int
}

func (h *authFlowHandler) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/auth/v2/auth", func(w http.ResponseWriter, r *http.Request) {
		h.authCalls++
		verifySignature(h.t, r)
		fmt.Fprint(w, `{"stat":"OK","response":{"txid":"45f7c92b-f45f-4862-8545-e0f58e78075a"}}`)
	})
	mux.HandleFunc("/auth/v2/auth_status", func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("txid"); got != "45f7c92b-f45f-4862-8545-e0f58e78075a" {
			h.t.Errorf("status poll txid = %q", got)
		}
		if h.statusCalls >= len(h.script) {
			h.t.Errorf("unexpected extra status poll %d", h.statusCalls+1)
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		result := h.script[h.statusCalls]
		h.statusCalls++
		fmt.Fprintf(w, `{"stat":"OK","response":{"result":%q}}`, result)
	})
	return mux
}

func TestAuthAllowedAfterWaiting(t *testing.T) {
	h := &authFlowHandler{t: t, script: []string{"waiting", "waiting", "allow"}}
	c := newTestClient(t, h.handler())

	allowed, err := c.Auth(context.Background(), "alice", 3)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !allowed {
		t.Fatal("expected allowed = true")
	}
	if h.authCalls != 1 {
		t.Errorf("auth endpoint called %d times, want exactly 1", h.authCalls)
	}
	if h.statusCalls != 3 {
		t.Errorf("status endpoint called %d times, want exactly 3", h.statusCalls)
	}
}

func TestAuthDenied(t *testing.T) {
	h := &authFlowHandler{t: t, script: []string{"deny"}}
	c := newTestClient(t, h.handler())

	allowed, err := c.Auth(context.Background(), "alice", 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if allowed {
		t.Fatal("expected allowed = false")
	}
	if h.statusCalls != 1 {
		t.Errorf("status endpoint called %d times, want exactly 1", h.statusCalls)
	}
}

func TestAuthUnexpectedResult(t *testing.T) {
	h := &authFlowHandler{t: t, script: []string{"bogus"}}
	c := newTestClient(t, h.handler())

	_, err := c.Auth(context.Background(), "alice", 1)
	var unexpErr *UnexpectedResultError
	if !errors.As(err, &unexpErr) {
		t.Fatalf("error = %v, want *UnexpectedResultError", err)
	}
	if unexpErr.Result != "bogus" {
		t.Errorf("Result = %q, want bogus", unexpErr.Result)
	}
}

func TestAuthStartFailureNeverPolls(t *testing.T) {
	statusCalls := 0
	mux := http.NewServeMux()
	mux.HandleFunc("/auth/v2/auth", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"stat":"FAIL","code":40002,"message":"Invalid request parameters"}`)
	})
	mux.HandleFunc("/auth/v2/auth_status", func(w http.ResponseWriter, r *http.Request) {
		statusCalls++
	})
	c := newTestClient(t, mux)

	_, err := c.Auth(context.Background(), "alice", 1)
	var upErr *UpstreamError
	if !errors.As(err, &upErr) {
		t.Fatalf("error = %v, want *UpstreamError", err)
	}
	if upErr.StatusCode != http.StatusBadRequest {
		t.Errorf("StatusCode = %d, want 400", upErr.StatusCode)
	}
	if statusCalls != 0 {
		t.Errorf("status endpoint called %d times after failed start, want 0", statusCalls)
	}
}

func TestAuthRequestParameters(t *testing.T) {
	h := &authFlowHandler{t: t, script: []string{"allow"}}
	mux := http.NewServeMux()
	mux.HandleFunc("/auth/v2/auth", func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		values, err := url.ParseQuery(string(body))
		if err != nil {
			t.Fatalf("parsing body: %v", err)
		}
		for key, want := range map[string]string{
			"user_id":          "alice",
			"factor":           "auto",
			"async":            "1",
			"type":             "Authorize share",
			"device":           "auto",
			"display_username": "Share 7",
		} {
			if got := values.Get(key); got != want {
				t.Errorf("parameter %s = %q, want %q", key, got, want)
			}
		}
		fmt.Fprint(w, `{"stat":"OK","response":{"txid":"45f7c92b-f45f-4862-8545-e0f58e78075a"}}`)
	})
	mux.HandleFunc("/auth/v2/auth_status", h.handler().ServeHTTP)
	c := newTestClient(t, mux)

	if _, err := c.Auth(context.Background(), "alice", 7); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestAuthContextCancellation(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/auth/v2/auth", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"stat":"OK","response":{"txid":"tx-slow"}}`)
	})
	mux.HandleFunc("/auth/v2/auth_status", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"stat":"OK","response":{"result":"waiting"}}`)
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	c, err := New(srv.URL, testIKey, testSKey, WithPollInterval(50*time.Millisecond))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	_, err = c.Auth(ctx, "alice", 1)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("error = %v, want context.DeadlineExceeded", err)
	}
}

func TestRequestAuthStatusMapping(t *testing.T) {
	cases := []struct {
		result string
		want   authStatus
	}{
		{"waiting", statusPending},
		{"allow", statusAllowed},
		{"deny", statusDenied},
	}
	for _, tc := range cases {
		c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprintf(w, `{"stat":"OK","response":{"result":%q}}`, tc.result)
		}))
		got, err := c.requestAuthStatus(context.Background(), "tx")
		if err != nil {
			t.Fatalf("requestAuthStatus(%q): unexpected error %v", tc.result, err)
		}
		if got != tc.want {
			t.Errorf("requestAuthStatus(%q) = %v, want %v", tc.result, got, tc.want)
		}
	}
}
