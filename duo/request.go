package duo

import (
	"context"
	"crypto/hmac"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"
)

// Parameters holds the query or body parameters for a single API call.
// Set overwrites on duplicate keys; insertion order is preserved so that
// debug output matches what the caller wrote, while signing always works
// on a sorted copy (see canonQuery). The zero value is ready to use.
type Parameters struct {
	keys   []string
	values map[string]string
}

// Set inserts or overwrites a named parameter value.
func (p *Parameters) Set(name, value string) {
	if p.values == nil {
		p.values = make(map[string]string)
	}
	if _, ok := p.values[name]; !ok {
		p.keys = append(p.keys, name)
	}
	p.values[name] = value
}

// Get returns the value for name and whether it was set.
func (p *Parameters) Get(name string) (string, bool) {
	v, ok := p.values[name]
	return v, ok
}

// Len returns the number of parameters set.
func (p *Parameters) Len() int {
	return len(p.keys)
}

// canonQuery encodes the parameters as a single URL-encoded query string.
// Keys are percent-encoded first and then sorted lexicographically; the
// sort must happen on the encoded form or keys containing reserved
// characters would order differently than the upstream verifier expects.
// The sort is what makes the signature reproducible regardless of
// insertion order; the same encoding is reused verbatim for the request
// query string or body so the bytes that were signed are the bytes that
// travel.
func (p *Parameters) canonQuery() string {
	escapedKeys := make([]string, 0, len(p.keys))
	escapedValues := make(map[string]string, len(p.keys))
	for _, name := range p.keys {
		ek := escape(name)
		escapedKeys = append(escapedKeys, ek)
		escapedValues[ek] = escape(p.values[name])
	}
	sort.Strings(escapedKeys)

	pairs := make([]string, 0, len(escapedKeys))
	for _, ek := range escapedKeys {
		pairs = append(pairs, ek+"="+escapedValues[ek])
	}
	return strings.Join(pairs, "&")
}

// escape percent-encodes s per RFC 3986: only unreserved characters
// (A-Z a-z 0-9 - . _ ~) pass through. Notably a space becomes %20 and
// never "+", which is why url.QueryEscape cannot be used here: the
// upstream verifier rejects form-style encoding in the canonical string.
func escape(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= 'A' && c <= 'Z', c >= 'a' && c <= 'z', c >= '0' && c <= '9':
			b.WriteByte(c)
		case c == '-' || c == '.' || c == '_' || c == '~':
			b.WriteByte(c)
		default:
			fmt.Fprintf(&b, "%%%02X", c)
		}
	}
	return b.String()
}

// canonicalString joins the signing inputs with newlines in the fixed
// order the upstream service expects: date, uppercased method, lowercased
// host, path, sorted query. Any deviation breaks signature verification.
func canonicalString(date, method, host, path, query string) string {
	return strings.Join([]string{
		date,
		strings.ToUpper(method),
		strings.ToLower(host),
		path,
		query,
	}, "\n")
}

// sign computes the hex-encoded HMAC-SHA1 of the canonical string under
// the secret key. The hex digest is then framed as the password half of a
// standard Basic auth credential.
func sign(skey, canonical string) string {
	mac := hmac.New(sha1.New, []byte(skey))
	mac.Write([]byte(canonical))
	return hex.EncodeToString(mac.Sum(nil))
}

// newRequest builds a fully signed HTTP request for the given method,
// path and parameters. GET places the sorted query in the URL; POST sends
// it as a form-encoded body. No I/O happens here.
func (c *Client) newRequest(ctx context.Context, method, path string, params *Parameters) (*http.Request, error) {
	date := c.now().UTC().Format(time.RFC1123Z)
	query := params.canonQuery()
	signature := sign(c.skey, canonicalString(date, method, c.baseURL.Host, path, query))

	u := *c.baseURL
	u.Path = path
	// Any query on the configured base URL is not covered by the
	// signature and must not travel.
	u.RawQuery = ""

	var body io.Reader
	if method == http.MethodGet {
		u.RawQuery = query
	} else {
		body = strings.NewReader(query)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, &TransportError{Op: path, Err: err}
	}
	req.Header.Set("Date", date)
	req.SetBasicAuth(c.ikey, signature)
	if method == http.MethodPost {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	return req, nil
}
