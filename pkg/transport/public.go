package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"k8s.io/klog/v2"

	"github.com/iovation/launchkey-sdk-go/pkg/domain"
	"github.com/iovation/launchkey-sdk-go/pkg/keys"
	"github.com/iovation/launchkey-sdk-go/pkg/lkerror"
	"github.com/iovation/launchkey-sdk-go/pkg/logs"
	"github.com/iovation/launchkey-sdk-go/pkg/version"
)

// HTTPTransport fetches API public keys for its own key store.
var _ keys.Fetcher = (*HTTPTransport)(nil)

// PublicV3PingGet returns the API's current time. The call is neither signed
// nor encrypted.
func (t *HTTPTransport) PublicV3PingGet(ctx context.Context) (*domain.PublicV3PingGetResponse, error) {
	resp := &domain.PublicV3PingGetResponse{}
	body, _, err := t.public(ctx, "PublicV3PingGet", "/public/v3/ping", "application/json")
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(body, resp); err != nil {
		return nil, lkerror.New(lkerror.InvalidResponse, "failed to unmarshal ping response", err)
	}

	return resp, nil
}

// PublicV3PublicKeyGet returns the API public key with the given fingerprint,
// or the current one when fingerprint is empty. The call is neither signed
// nor encrypted.
func (t *HTTPTransport) PublicV3PublicKeyGet(ctx context.Context, fingerprint string) (*domain.PublicV3PublicKeyGetResponse, error) {
	path := "/public/v3/public-key"
	operation := "PublicV3CurrentPublicKeyGet"
	if fingerprint != "" {
		path += "/" + keys.NormalizeFingerprint(fingerprint)
		operation = "PublicV3PublicKeyGet"
	}

	body, header, err := t.public(ctx, operation, path, "text/plain")
	if err != nil {
		return nil, err
	}

	return &domain.PublicV3PublicKeyGetResponse{
		PublicKey:   string(body),
		Fingerprint: header.Get(HeaderKeyID),
	}, nil
}

// PublicV3CurrentPublicKeyGet returns the public key the API currently uses.
func (t *HTTPTransport) PublicV3CurrentPublicKeyGet(ctx context.Context) (*domain.PublicV3PublicKeyGetResponse, error) {
	return t.PublicV3PublicKeyGet(ctx, "")
}

// FetchCurrentPublicKey implements keys.Fetcher.
func (t *HTTPTransport) FetchCurrentPublicKey(ctx context.Context) (keys.PublicKey, error) {
	resp, err := t.PublicV3CurrentPublicKeyGet(ctx)
	if err != nil {
		return keys.PublicKey{}, err
	}
	return parsePublicKey(resp)
}

// FetchPublicKey implements keys.Fetcher.
func (t *HTTPTransport) FetchPublicKey(ctx context.Context, keyID string) (keys.PublicKey, error) {
	resp, err := t.PublicV3PublicKeyGet(ctx, keyID)
	if err != nil {
		return keys.PublicKey{}, err
	}
	return parsePublicKey(resp)
}

// parsePublicKey decodes the PEM body. The fingerprint is computed from the
// key itself, and must agree with the X-IOV-KEY-ID header when present.
func parsePublicKey(resp *domain.PublicV3PublicKeyGetResponse) (keys.PublicKey, error) {
	key, err := keys.LoadPublicKeyFromPEM([]byte(resp.PublicKey))
	if err != nil {
		return keys.PublicKey{}, lkerror.New(lkerror.InvalidResponse, "API returned an invalid public key", err)
	}

	fp, err := keys.Fingerprint(key)
	if err != nil {
		return keys.PublicKey{}, lkerror.New(lkerror.InvalidResponse, "failed to fingerprint API public key", err)
	}

	if resp.Fingerprint != "" && keys.NormalizeFingerprint(resp.Fingerprint) != fp {
		return keys.PublicKey{}, lkerror.Newf(lkerror.InvalidResponse, nil, "API public key has fingerprint %s but %s says %s", fp, HeaderKeyID, resp.Fingerprint)
	}

	return keys.PublicKey{KeyID: fp, Key: key}, nil
}

// public performs an unsigned GET and returns the body and headers of a 2xx
// response.
func (t *HTTPTransport) public(ctx context.Context, operation, path, accept string) ([]byte, http.Header, error) {
	logger := klog.FromContext(ctx).WithName("transport").WithValues("operation", operation)
	start := time.Now()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.url(path), nil)
	if err != nil {
		return nil, nil, lkerror.New(lkerror.Communication, "failed to create request", err)
	}
	req.Header.Set("Accept", accept)
	version.SetUserAgent(req)

	resp, body, err := t.send(req)
	if err != nil {
		t.metrics.observe(operation, 0, time.Since(start))
		logger.V(logs.Debug).Info("API call failed", "err", err)
		return nil, nil, err
	}
	t.metrics.observe(operation, resp.StatusCode, time.Since(start))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		err := publicStatusError(resp, body)
		logger.V(logs.Debug).Info("API call failed", "status", resp.StatusCode, "err", err)
		return nil, nil, err
	}

	logger.V(logs.Trace).Info("API call succeeded", "status", resp.StatusCode)
	return body, resp.Header, nil
}

// publicStatusError maps the status of an unsigned call. There is no
// envelope to decrypt an error body with, so only plain JSON is understood.
func publicStatusError(resp *http.Response, body []byte) error {
	var apiErr domain.APIError
	_ = json.Unmarshal(body, &apiErr)

	kind := statusKind(resp.StatusCode)
	msg := fmt.Sprintf("API responded with status %s", resp.Status)
	if detail := strings.TrimSpace(fmt.Sprint(apiErr.ErrorDetail)); apiErr.ErrorDetail != nil && detail != "" {
		msg = fmt.Sprintf("%s: %s", msg, detail)
	}

	return lkerror.New(kind, msg, nil).WithCode(apiErr.ErrorCode)
}
