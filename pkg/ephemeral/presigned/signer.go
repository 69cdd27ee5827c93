package presigned

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const keyPlaceholder = "{key}"

// Signer generates and validates HMAC-signed URLs for objects held by a
// backend that has no native presigning (filesystem, memory).
type Signer struct {
	secretKey         []byte
	baseURL           string
	defaultExpiration time.Duration
	urlPattern        string
	now               func() time.Time
}

// New creates a new Signer with the given options
func New(opts ...Option) *Signer {
	s := &Signer{
		defaultExpiration: 15 * time.Minute,
		urlPattern:        "/blobs/{key}",
		now:               time.Now,
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// ObjectURL returns a signed URL granting method on key until ttl elapses.
// Extra params are covered by the signature, so a client cannot change them.
//
// Example:
//
//	url, err := signer.ObjectURL("GET", "aB3dE5fG7h/report.pdf", url.Values{"filename": {"report.pdf"}}, 5*time.Minute)
//	// http://localhost:8080/blobs/aB3dE5fG7h/report.pdf?expires=1696789012&filename=report.pdf&signature=...
func (s *Signer) ObjectURL(method, key string, params url.Values, ttl time.Duration) (string, error) {
	if len(s.secretKey) == 0 {
		return "", ErrNoSecretKey
	}
	if ttl <= 0 {
		ttl = s.defaultExpiration
	}

	path := s.objectPath(key)
	expiresAt := s.now().Add(ttl).Unix()

	query := url.Values{}
	for k, v := range params {
		query[k] = v
	}
	signature := s.generateSignature(s.createPayload(method, path, query, expiresAt))
	query.Set("expires", strconv.FormatInt(expiresAt, 10))
	query.Set("signature", signature)

	u := url.URL{Path: path, RawQuery: query.Encode()}
	return s.baseURL + u.String(), nil
}

// ValidateRequest checks the signature and expiry of r and returns the object
// key it grants access to.
func (s *Signer) ValidateRequest(r *http.Request) (string, error) {
	if len(s.secretKey) == 0 {
		return "", ErrNoSecretKey
	}

	query := r.URL.Query()
	signature := query.Get("signature")
	expiresStr := query.Get("expires")

	if signature == "" {
		return "", ErrMissingSignature
	}
	if expiresStr == "" {
		return "", ErrMissingExpiration
	}

	expiresAt, err := strconv.ParseInt(expiresStr, 10, 64)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidExpiration, err)
	}

	params := url.Values{}
	for k, v := range query {
		if k != "signature" && k != "expires" {
			params[k] = v
		}
	}

	if err := s.Validate(r.Method, r.URL.Path, params, signature, expiresAt); err != nil {
		return "", err
	}
	return s.ExtractObjectKey(r.URL.Path)
}

// Validate checks a signature for the given method, path and params
func (s *Signer) Validate(method, path string, params url.Values, signature string, expiresAt int64) error {
	if s.now().Unix() > expiresAt {
		return ErrExpired
	}

	expected := s.generateSignature(s.createPayload(method, path, params, expiresAt))

	// Constant-time comparison
	if !hmac.Equal([]byte(signature), []byte(expected)) {
		return ErrInvalidSignature
	}

	return nil
}

// ExtractObjectKey extracts the object key from a URL path based on the configured URL pattern
func (s *Signer) ExtractObjectKey(path string) (string, error) {
	idx := strings.Index(s.urlPattern, keyPlaceholder)
	if idx == -1 {
		return "", fmt.Errorf("URL pattern does not contain %s placeholder", keyPlaceholder)
	}

	prefix := s.urlPattern[:idx]
	suffix := s.urlPattern[idx+len(keyPlaceholder):]

	if !strings.HasPrefix(path, prefix) || !strings.HasSuffix(path, suffix) {
		return "", ErrKeyOutsidePattern
	}

	key := strings.TrimSuffix(strings.TrimPrefix(path, prefix), suffix)
	if key == "" {
		return "", ErrKeyOutsidePattern
	}
	return key, nil
}

func (s *Signer) objectPath(key string) string {
	return strings.Replace(s.urlPattern, keyPlaceholder, key, 1)
}

// createPayload builds METHOD|PATH|EXPIRES, followed by |QUERY when params are present.
// PATH is the decoded path so the payload matches what the server sees in r.URL.Path.
func (s *Signer) createPayload(method, path string, params url.Values, expiresAt int64) string {
	payload := fmt.Sprintf("%s|%s|%d", method, path, expiresAt)
	if len(params) > 0 {
		payload += "|" + params.Encode()
	}
	return payload
}

// generateSignature generates HMAC-SHA256 signature for the given payload
func (s *Signer) generateSignature(payload string) string {
	h := hmac.New(sha256.New, s.secretKey)
	h.Write([]byte(payload))
	return hex.EncodeToString(h.Sum(nil))
}
