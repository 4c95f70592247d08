// Package transport implements the LaunchKey API envelope: every request body
// is JSON encrypted as a JWE for the API's public key and every request is
// authenticated by a JWT signed with the caller's private key. Responses are
// decrypted with the caller's key matching the JWE "kid" header and verified
// against the JWT the API returns in the X-IOV-JWT header.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	k8stransport "k8s.io/client-go/transport"
	"k8s.io/klog/v2"

	"github.com/iovation/launchkey-sdk-go/pkg/crypto/jwe"
	"github.com/iovation/launchkey-sdk-go/pkg/crypto/jwt"
	"github.com/iovation/launchkey-sdk-go/pkg/domain"
	"github.com/iovation/launchkey-sdk-go/pkg/keys"
	"github.com/iovation/launchkey-sdk-go/pkg/lkerror"
	"github.com/iovation/launchkey-sdk-go/pkg/logs"
	"github.com/iovation/launchkey-sdk-go/pkg/version"
)

const (
	// DefaultBaseURL is the production LaunchKey API.
	DefaultBaseURL = "https://api.launchkey.com"

	// DefaultRequestTimeout is the timeout of the HTTP client created when
	// none is supplied.
	DefaultRequestTimeout = 30 * time.Second

	// HeaderJWT carries the API's signed token on responses and callbacks.
	HeaderJWT = "X-IOV-JWT"
	// HeaderKeyID carries the fingerprint of a public key returned by the
	// public key endpoints.
	HeaderKeyID = "X-IOV-KEY-ID"

	// AuthorizationScheme prefixes the request token in the Authorization
	// header.
	AuthorizationScheme = "IOV-JWT"

	// ContentTypeJOSE is the media type of encrypted bodies.
	ContentTypeJOSE = "application/jose"

	// maxResponseBodySize caps how much of a response body is read. Responses
	// from the API are a few kB at most.
	maxResponseBodySize = 2 * 1024 * 1024
)

// Options configure an HTTPTransport.
type Options struct {
	// BaseURL of the API. Defaults to DefaultBaseURL.
	BaseURL string

	// HTTPClient is used for all requests. Defaults to a client with
	// DefaultRequestTimeout which logs requests at high verbosity.
	HTTPClient *http.Client

	// Issuer is the entity whose keys sign requests.
	Issuer domain.EntityIdentifier

	// PrivateKeys are the Issuer's keys. The current key signs requests; any
	// key may be selected to decrypt a response.
	PrivateKeys *keys.PrivateKeyRing

	// PublicKeys holds the API's public keys. When nil, a store with
	// keys.DefaultPublicKeyTTL is created which fetches keys through this
	// transport. A supplied store without a fetcher is given this transport
	// as its fetcher.
	PublicKeys *keys.PublicKeyStore

	// TokenLifetime, ClockSkew and MaxTokenAge control the time claims of
	// signed tokens. Zero values select the jwt package defaults.
	TokenLifetime time.Duration
	ClockSkew     time.Duration
	MaxTokenAge   time.Duration

	// Clock defaults to time.Now.
	Clock func() time.Time

	// Registerer receives the transport metrics. Defaults to
	// prometheus.DefaultRegisterer.
	Registerer prometheus.Registerer
}

// HTTPTransport calls the LaunchKey API. It is safe for concurrent use.
type HTTPTransport struct {
	baseURL     *url.URL
	client      *http.Client
	issuer      domain.EntityIdentifier
	privateKeys *keys.PrivateKeyRing
	publicKeys  *keys.PublicKeyStore
	jwtOptions  []jwt.Option
	now         func() time.Time
	metrics     *metrics
}

// New validates opts and returns a transport.
func New(opts Options) (*HTTPTransport, error) {
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultBaseURL
	}

	baseURL, err := url.Parse(opts.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base URL %q: %w", opts.BaseURL, err)
	}
	if baseURL.Scheme == "" || baseURL.Host == "" {
		return nil, fmt.Errorf("invalid base URL %q: scheme and host are required", opts.BaseURL)
	}

	if opts.Issuer.IsZero() {
		return nil, fmt.Errorf("issuer cannot be empty")
	}

	if opts.PrivateKeys == nil {
		return nil, fmt.Errorf("private keys cannot be nil")
	}

	if opts.Clock == nil {
		opts.Clock = time.Now
	}

	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{
			Timeout:   DefaultRequestTimeout,
			Transport: k8stransport.NewDebuggingRoundTripper(http.DefaultTransport, k8stransport.DebugByContext),
		}
	}

	if opts.Registerer == nil {
		opts.Registerer = prometheus.DefaultRegisterer
	}

	t := &HTTPTransport{
		baseURL:     baseURL,
		client:      opts.HTTPClient,
		issuer:      opts.Issuer,
		privateKeys: opts.PrivateKeys,
		publicKeys:  opts.PublicKeys,
		now:         opts.Clock,
		metrics:     newMetrics(opts.Registerer),
	}

	t.jwtOptions = append(t.jwtOptions, jwt.WithClock(opts.Clock))
	if opts.TokenLifetime > 0 {
		t.jwtOptions = append(t.jwtOptions, jwt.WithTokenLifetime(opts.TokenLifetime))
	}
	if opts.ClockSkew > 0 {
		t.jwtOptions = append(t.jwtOptions, jwt.WithClockSkew(opts.ClockSkew))
	}
	if opts.MaxTokenAge > 0 {
		t.jwtOptions = append(t.jwtOptions, jwt.WithMaxTokenAge(opts.MaxTokenAge))
	}

	if t.publicKeys == nil {
		t.publicKeys = keys.NewPublicKeyStore(keys.DefaultPublicKeyTTL, t)
	} else if !t.publicKeys.HasFetcher() {
		t.publicKeys.SetFetcher(t)
	}

	return t, nil
}

// Issuer returns the entity requests are signed as.
func (t *HTTPTransport) Issuer() domain.EntityIdentifier {
	return t.issuer
}

// PublicKeys returns the store of API public keys.
func (t *HTTPTransport) PublicKeys() *keys.PublicKeyStore {
	return t.publicKeys
}

// call describes one signed request.
type call struct {
	operation string
	method    string
	path      string
	subject   domain.EntityIdentifier

	// request is marshaled to JSON and encrypted. No body is sent when nil.
	request any
	// response receives the decrypted JSON. The body is ignored when nil.
	response any
}

// envelope is the per-call crypto state, built from the key ring's current
// snapshot so a rotation during a call does not mix keys.
type envelope struct {
	jwe    *jwe.Service
	jwt    *jwt.Service
	signer keys.PrivateKey
}

func (t *HTTPTransport) newEnvelope() (*envelope, error) {
	signer := t.privateKeys.Current()

	jweService, err := jwe.NewService(signer.Key)
	if err != nil {
		return nil, lkerror.New(lkerror.Cryptography, "failed to create JWE service", err)
	}

	jwtService, err := jwt.NewService(t.issuer.String(), signer.KeyID, signer.Key, t.jwtOptions...)
	if err != nil {
		return nil, lkerror.New(lkerror.Cryptography, "failed to create JWT service", err)
	}

	return &envelope{jwe: jweService, jwt: jwtService, signer: signer}, nil
}

// do performs a signed call. It returns the HTTP status, which is
// http.StatusNoContent when the API has no body to return.
func (t *HTTPTransport) do(ctx context.Context, c call) (int, error) {
	logger := klog.FromContext(ctx).WithName("transport").WithValues("operation", c.operation)
	ctx = klog.NewContext(ctx, logger)

	start := time.Now()
	status, err := t.signedRoundTrip(ctx, c)
	t.metrics.observe(c.operation, status, time.Since(start))

	if err != nil {
		logger.V(logs.Debug).Info("API call failed", "status", status, "err", err)
		return status, err
	}

	logger.V(logs.Trace).Info("API call succeeded", "status", status)
	return status, nil
}

func (t *HTTPTransport) signedRoundTrip(ctx context.Context, c call) (int, error) {
	var body []byte
	if c.request != nil {
		var err error
		body, err = json.Marshal(c.request)
		if err != nil {
			return 0, lkerror.New(lkerror.Marshalling, "failed to marshal request", err)
		}
	}

	env, err := t.newEnvelope()
	if err != nil {
		return 0, err
	}

	claim := &jwt.RequestClaim{Method: c.method, Path: c.path}
	if body != nil {
		claim.Hash, claim.Func = jwt.HashBody(body)
	}

	token, err := env.jwt.Encode(uuid.NewString(), c.subject.String(), t.now(), claim)
	if err != nil {
		return 0, err
	}

	var payload io.Reader
	if body != nil {
		apiKey, err := t.publicKeys.Current(ctx)
		if err != nil {
			return 0, err
		}

		encrypted, err := env.jwe.Encrypt(string(body), apiKey.Key, apiKey.KeyID, jwe.ContentTypeJSON)
		if err != nil {
			return 0, err
		}
		payload = strings.NewReader(encrypted)
	}

	req, err := http.NewRequestWithContext(ctx, c.method, t.url(c.path), payload)
	if err != nil {
		return 0, lkerror.New(lkerror.Communication, "failed to create request", err)
	}
	req.Header.Set("Authorization", AuthorizationScheme+" "+token)
	req.Header.Set("Accept", ContentTypeJOSE)
	if payload != nil {
		req.Header.Set("Content-Type", ContentTypeJOSE)
	}
	version.SetUserAgent(req)

	resp, respBody, err := t.send(req)
	if err != nil {
		return 0, err
	}

	if err := t.checkStatus(ctx, env, resp, respBody); err != nil {
		return resp.StatusCode, err
	}

	if resp.StatusCode == http.StatusNoContent || len(respBody) == 0 {
		if err := t.verifyResponse(ctx, env, resp, nil); err != nil {
			return resp.StatusCode, err
		}
		if resp.StatusCode != http.StatusNoContent && c.response != nil {
			return resp.StatusCode, lkerror.Newf(lkerror.InvalidResponse, nil, "API responded with status %s and no body", resp.Status)
		}
		return resp.StatusCode, nil
	}

	plaintext, err := t.decrypt(env, string(respBody))
	if err != nil {
		return resp.StatusCode, err
	}

	if err := t.verifyResponse(ctx, env, resp, []byte(plaintext)); err != nil {
		return resp.StatusCode, err
	}

	if c.response == nil {
		return resp.StatusCode, nil
	}

	if err := json.Unmarshal([]byte(plaintext), c.response); err != nil {
		return resp.StatusCode, lkerror.New(lkerror.InvalidResponse, "failed to unmarshal response", err)
	}

	return resp.StatusCode, nil
}

func (t *HTTPTransport) url(path string) string {
	return t.baseURL.JoinPath(path).String()
}

// send performs req and reads the whole response body.
func (t *HTTPTransport) send(req *http.Request) (*http.Response, []byte, error) {
	resp, err := t.client.Do(req)
	if err != nil {
		return nil, nil, lkerror.New(lkerror.Communication, fmt.Sprintf("failed to perform %s %s", req.Method, req.URL.Path), err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBodySize+1))
	if err != nil {
		return nil, nil, lkerror.New(lkerror.Communication, "failed to read response body", err)
	}

	if len(body) > maxResponseBodySize {
		return nil, nil, lkerror.Newf(lkerror.InvalidResponse, nil, "response body exceeds %d bytes", maxResponseBodySize)
	}

	return resp, body, nil
}

// checkStatus maps a non-2xx status to the error taxonomy.
func (t *HTTPTransport) checkStatus(ctx context.Context, env *envelope, resp *http.Response, body []byte) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	apiErr := t.parseAPIError(ctx, env, resp, body)

	msg := fmt.Sprintf("API responded with status %s", resp.Status)
	if apiErr.ErrorDetail != nil {
		msg = fmt.Sprintf("%s: %v", msg, apiErr.ErrorDetail)
	}

	return lkerror.New(statusKind(resp.StatusCode), msg, nil).WithCode(apiErr.ErrorCode)
}

func statusKind(status int) lkerror.Kind {
	switch {
	case status == http.StatusBadRequest:
		return lkerror.InvalidRequest
	case status == http.StatusUnauthorized, status == http.StatusForbidden:
		return lkerror.InvalidCredentials
	case status == http.StatusNotFound:
		return lkerror.EntityNotFound
	case status == http.StatusRequestTimeout:
		return lkerror.AuthorizationRequestTimedOut
	case status == http.StatusTooManyRequests:
		return lkerror.RateLimitExceeded
	case status >= 400 && status < 500:
		return lkerror.InvalidRequest
	default:
		return lkerror.Communication
	}
}

// parseAPIError extracts error_code and error_detail from an error body,
// decrypting it first when it is a JWE. Unreadable bodies yield an empty
// APIError.
func (t *HTTPTransport) parseAPIError(ctx context.Context, env *envelope, resp *http.Response, body []byte) domain.APIError {
	var apiErr domain.APIError

	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return apiErr
	}

	if mediaType, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type")); mediaType == ContentTypeJOSE {
		plaintext, err := t.decrypt(env, string(body))
		if err != nil {
			klog.FromContext(ctx).V(logs.Debug).Info("ignoring undecryptable error body", "err", err)
			return apiErr
		}
		body = []byte(plaintext)
	}

	if err := json.Unmarshal(body, &apiErr); err != nil {
		klog.FromContext(ctx).V(logs.Debug).Info("ignoring unparseable error body", "err", err)
	}

	return apiErr
}

// decrypt selects the private key named by the envelope's "kid" header.
func (t *HTTPTransport) decrypt(env *envelope, payload string) (string, error) {
	headers, err := env.jwe.Headers(payload)
	if err != nil {
		return "", err
	}

	kid := headers["kid"]
	key, ok := t.privateKeys.Get(kid)
	if !ok {
		return "", lkerror.Newf(lkerror.NoKeyFound, nil, "no private key with fingerprint %q", kid)
	}

	return env.jwe.DecryptWithKey(payload, key)
}

// verifyResponse checks the API's token on resp. body is the decrypted
// response body, or nil when there was none.
func (t *HTTPTransport) verifyResponse(ctx context.Context, env *envelope, resp *http.Response, body []byte) error {
	token := resp.Header.Get(HeaderJWT)
	if token == "" {
		return lkerror.Newf(lkerror.InvalidResponse, nil, "response has no %s header", HeaderJWT)
	}

	claims, err := env.jwt.Decode(token, t.publicKeys.Resolver(ctx), jwt.Expectations{
		Audience: t.issuer.String(),
		Issuer:   jwt.APIAudience,
	})
	if err != nil {
		return err
	}

	if claims.Response == nil {
		return lkerror.New(lkerror.InvalidResponse, "response token has no response claim", nil)
	}

	if claims.Response.Status != resp.StatusCode {
		return lkerror.Newf(lkerror.InvalidSignature, nil, "response token is for status %d, got %d", claims.Response.Status, resp.StatusCode)
	}

	return checkHash(claims.Response.Hash, claims.Response.Func, body)
}

func checkHash(hash, fn string, body []byte) error {
	if len(body) == 0 && hash == "" {
		return nil
	}

	if fn != jwt.HashFunctionS256 {
		return lkerror.Newf(lkerror.InvalidSignature, nil, "unsupported body hash function %q", fn)
	}

	if expected, _ := jwt.HashBody(body); hash != expected {
		return lkerror.New(lkerror.InvalidSignature, "body hash does not match the signed hash", nil)
	}

	return nil
}
