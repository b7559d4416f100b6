package pipeline

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
	"strings"
	"time"
)

// RequestDescriptor describes one outbound HTTP call before dispatch.
// Immutable: created once per call and shared read-only across the
// pre/post pipeline stages.
type RequestDescriptor struct {
	Method    string
	URL       string
	Body      []byte
	Timestamp time.Time
}

// parsedRequest caches the URL parse shared by endpoint key, fingerprint
// and feature extraction.
type parsedRequest struct {
	host       string
	path       string
	queryCount int
}

func parseDescriptor(d *RequestDescriptor) (parsedRequest, error) {
	if d == nil || strings.TrimSpace(d.URL) == "" {
		return parsedRequest{}, fmt.Errorf("%w: descriptor has no URL", ErrInvalidInput)
	}
	u, err := url.Parse(d.URL)
	if err != nil || u.Host == "" {
		return parsedRequest{}, fmt.Errorf("%w: unparsable URL %q", ErrInvalidInput, d.URL)
	}
	path := u.EscapedPath()
	if path == "" {
		path = "/"
	}
	return parsedRequest{
		host:       strings.ToLower(u.Host),
		path:       path,
		queryCount: len(u.Query()),
	}, nil
}

// EndpointKey returns the normalized host+path key that partitions all
// per-endpoint model state. Query strings are excluded; path parameters are
// not generalized, so /users/1 and /users/2 are distinct endpoints.
func (d *RequestDescriptor) EndpointKey() (string, error) {
	p, err := parseDescriptor(d)
	if err != nil {
		return "", err
	}
	return p.host + p.path, nil
}

// Fingerprint returns a stable sha256 hex digest over method, normalized
// URL and canonicalized body. Two descriptors with the same method, URL and
// body always share a fingerprint.
func (d *RequestDescriptor) Fingerprint() string {
	h := sha256.New()
	h.Write([]byte(strings.ToUpper(strings.TrimSpace(d.Method))))
	h.Write([]byte{0})
	h.Write([]byte(normalizeURL(d.URL)))
	h.Write([]byte{0})
	h.Write(bytes.TrimSpace(d.Body))
	return hex.EncodeToString(h.Sum(nil))
}

// normalizeURL lower-cases the host and sorts query parameters so that
// parameter order does not change the fingerprint.
func normalizeURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	u.Host = strings.ToLower(u.Host)
	u.RawQuery = u.Query().Encode() // Encode sorts keys
	return u.String()
}

// Outcome records what actually happened to the external call. Filled by
// the transport collaborator after dispatch; the pipeline never issues the
// call itself.
type Outcome struct {
	StatusCode int
	LatencyMs  float64
	Bytes      int64
	Err        error

	// Response, when set, is cached after DecideAfter under the request
	// fingerprint using the optimizer's recommended TTL.
	Response *CachedResponse
}

// Failed reports whether the outcome counts against the endpoint's error
// rate. Transport errors and HTTP 4xx/5xx both count.
func (o Outcome) Failed() bool {
	return o.Err != nil || o.StatusCode >= 400
}
