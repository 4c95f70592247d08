package transport

import (
	"crypto/rsa"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	k8stransport "k8s.io/client-go/transport"

	"github.com/iovation/launchkey-sdk-go/pkg/crypto/jwe"
	"github.com/iovation/launchkey-sdk-go/pkg/crypto/jwt"
	"github.com/iovation/launchkey-sdk-go/pkg/domain"
	"github.com/iovation/launchkey-sdk-go/pkg/keys"
	"github.com/iovation/launchkey-sdk-go/pkg/lkerror"
	"github.com/iovation/launchkey-sdk-go/pkg/version"
)

// MockRequest is a request received by a MockAPIServer, after verification
// and decryption.
type MockRequest struct {
	Method  string
	Path    string
	Issuer  string
	Subject string
	// KeyID is the fingerprint of the client key which signed the request.
	KeyID string
	// Body is the decrypted request body, nil if there was none.
	Body []byte
}

// MockResponse describes how a MockAPIServer replies to a request.
type MockResponse struct {
	// Status defaults to 200, or 204 when there is no Body.
	Status int

	// Body is marshaled to JSON, encrypted for the requesting client and
	// covered by the signed response token. []byte and string values are
	// sent as they are.
	Body any

	// APIError, when set, is sent as a plain JSON body instead of Body, with
	// no response token.
	APIError *domain.APIError

	// EncryptForKeyID selects the client key the body is encrypted for.
	// Defaults to the key which signed the request.
	EncryptForKeyID string

	// The fields below produce responses which the transport must reject.
	CorruptCiphertext bool
	TamperHash        bool
	OmitToken         bool
	TokenStatus       int
}

// MockHandler produces the response to a verified request.
type MockHandler func(req MockRequest) MockResponse

// MockAPIServer is a TLS test server which behaves like the LaunchKey API.
// It serves the public ping and public key endpoints itself. Signed
// endpoints are verified against the registered client keys, decrypted with
// the server's own key and answered by the handler registered for the
// request's method and path.
type MockAPIServer struct {
	t        testing.TB
	server   *httptest.Server
	apiKey   *rsa.PrivateKey
	apiKeyID string
	jwe      *jwe.Service
	verifier *jwt.Service

	mu         sync.Mutex
	clientKeys map[string]*rsa.PublicKey
	keyOrder   []string
	handlers   map[string]MockHandler
	requests   []MockRequest
}

// NewMockAPIServer starts a mock API which uses apiKey as the API's key pair
// and accepts requests signed by any of clientKeys. The server is closed when
// the test ends.
func NewMockAPIServer(t testing.TB, apiKey *rsa.PrivateKey, clientKeys ...*rsa.PublicKey) *MockAPIServer {
	t.Helper()

	apiKeyID, err := keys.Fingerprint(&apiKey.PublicKey)
	if err != nil {
		t.Fatalf("failed to fingerprint API key: %s", err)
	}

	jweService, err := jwe.NewService(apiKey)
	if err != nil {
		t.Fatalf("failed to create JWE service: %s", err)
	}

	verifier, err := jwt.NewService(jwt.APIAudience, apiKeyID, apiKey)
	if err != nil {
		t.Fatalf("failed to create JWT service: %s", err)
	}

	m := &MockAPIServer{
		t:          t,
		apiKey:     apiKey,
		apiKeyID:   apiKeyID,
		jwe:        jweService,
		verifier:   verifier,
		clientKeys: map[string]*rsa.PublicKey{},
		handlers:   map[string]MockHandler{},
	}

	for _, key := range clientKeys {
		m.AddClientKey(key)
	}

	m.server = httptest.NewTLSServer(m)
	t.Cleanup(m.server.Close)

	return m
}

// URL is the base URL of the server.
func (m *MockAPIServer) URL() string {
	return m.server.URL
}

// Client returns an HTTP client which trusts the server. Its transport logs
// requests and responses depending on the log level of the logger supplied
// in the request context.
func (m *MockAPIServer) Client() *http.Client {
	httpClient := m.server.Client()
	httpClient.Transport = k8stransport.NewDebuggingRoundTripper(httpClient.Transport, k8stransport.DebugByContext)
	return httpClient
}

// APIKeyID is the fingerprint of the server's public key.
func (m *MockAPIServer) APIKeyID() string {
	return m.apiKeyID
}

// AddClientKey allows requests signed by key.
func (m *MockAPIServer) AddClientKey(key *rsa.PublicKey) {
	fp, err := keys.Fingerprint(key)
	if err != nil {
		m.t.Fatalf("failed to fingerprint client key: %s", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.clientKeys[fp]; !ok {
		m.keyOrder = append(m.keyOrder, fp)
	}
	m.clientKeys[fp] = key
}

// Handle registers h for method and path. A path ending in "/" matches every
// path below it.
func (m *MockAPIServer) Handle(method, path string, h MockHandler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[method+" "+path] = h
}

// Respond registers a handler which always replies with resp.
func (m *MockAPIServer) Respond(method, path string, resp MockResponse) {
	m.Handle(method, path, func(MockRequest) MockResponse { return resp })
}

// Requests returns the verified requests received so far.
func (m *MockAPIServer) Requests() []MockRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]MockRequest, len(m.requests))
	copy(out, m.requests)
	return out
}

func (m *MockAPIServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	m.t.Log(r.Method, r.RequestURI)

	if r.Header.Get("User-Agent") != version.UserAgent() {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte("should set user agent on all requests"))
		return
	}

	if r.Method == http.MethodGet && strings.HasPrefix(r.URL.Path, "/public/v3/") {
		m.servePublic(w, r)
		return
	}

	req, ok := m.verifyRequest(w, r)
	if !ok {
		return
	}

	handler, ok := m.handler(r.Method, r.URL.Path)
	if !ok {
		writeAPIError(w, http.StatusNotFound, "SVC-404", "no such endpoint")
		return
	}

	m.writeResponse(w, req, handler(req))
}

func (m *MockAPIServer) servePublic(w http.ResponseWriter, r *http.Request) {
	switch path := r.URL.Path; {
	case path == "/public/v3/ping":
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(domain.PublicV3PingGetResponse{APITime: time.Now().UTC().Truncate(time.Second)})

	case path == "/public/v3/public-key" || path == "/public/v3/public-key/"+m.apiKeyID:
		pemBytes, err := keys.EncodePublicKeyToPEM(&m.apiKey.PublicKey)
		if err != nil {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "text/plain")
		w.Header().Set(HeaderKeyID, m.apiKeyID)
		_, _ = w.Write(pemBytes)

	default:
		writeAPIError(w, http.StatusNotFound, "KEY-001", "unknown public key")
	}
}

func (m *MockAPIServer) verifyRequest(w http.ResponseWriter, r *http.Request) (MockRequest, bool) {
	token, ok := strings.CutPrefix(r.Header.Get("Authorization"), AuthorizationScheme+" ")
	if !ok {
		writeAPIError(w, http.StatusUnauthorized, "AUTH-001", "missing IOV-JWT authorization")
		return MockRequest{}, false
	}

	var kid string
	claims, err := m.verifier.Decode(token, func(keyID string) (*rsa.PublicKey, error) {
		m.mu.Lock()
		defer m.mu.Unlock()
		key, ok := m.clientKeys[keyID]
		if !ok {
			return nil, lkerror.Newf(lkerror.NoKeyFound, nil, "unknown client key %q", keyID)
		}
		kid = keyID
		return key, nil
	}, jwt.Expectations{Audience: jwt.APIAudience})
	if err != nil {
		writeAPIError(w, http.StatusUnauthorized, "AUTH-002", err.Error())
		return MockRequest{}, false
	}

	if claims.Request == nil || claims.Request.Method != r.Method || claims.Request.Path != r.URL.Path {
		writeAPIError(w, http.StatusUnauthorized, "AUTH-003", "request claim does not match the request")
		return MockRequest{}, false
	}

	raw, err := io.ReadAll(r.Body)
	if err != nil {
		writeAPIError(w, http.StatusBadRequest, "ARG-001", "failed to read body")
		return MockRequest{}, false
	}

	req := MockRequest{
		Method:  r.Method,
		Path:    r.URL.Path,
		Issuer:  claims.Issuer,
		Subject: claims.Subject,
		KeyID:   kid,
	}

	if len(raw) > 0 {
		if r.Header.Get("Content-Type") != ContentTypeJOSE {
			writeAPIError(w, http.StatusBadRequest, "ARG-002", "body must be application/jose")
			return MockRequest{}, false
		}

		plaintext, err := m.jwe.Decrypt(string(raw))
		if err != nil {
			writeAPIError(w, http.StatusBadRequest, "ARG-003", err.Error())
			return MockRequest{}, false
		}
		req.Body = []byte(plaintext)

		if hash, _ := jwt.HashBody(req.Body); claims.Request.Hash != hash || claims.Request.Func != jwt.HashFunctionS256 {
			writeAPIError(w, http.StatusUnauthorized, "AUTH-004", "body hash mismatch")
			return MockRequest{}, false
		}
	}

	m.mu.Lock()
	m.requests = append(m.requests, req)
	m.mu.Unlock()

	return req, true
}

func (m *MockAPIServer) handler(method, path string) (MockHandler, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if h, ok := m.handlers[method+" "+path]; ok {
		return h, true
	}

	for pattern, h := range m.handlers {
		prefix, ok := strings.CutPrefix(pattern, method+" ")
		if ok && strings.HasSuffix(prefix, "/") && strings.HasPrefix(path, prefix) {
			return h, true
		}
	}

	return nil, false
}

func (m *MockAPIServer) writeResponse(w http.ResponseWriter, req MockRequest, resp MockResponse) {
	if resp.APIError != nil {
		if resp.Status == 0 {
			resp.Status = http.StatusBadRequest
		}
		writeAPIError(w, resp.Status, resp.APIError.ErrorCode, resp.APIError.ErrorDetail)
		return
	}

	var plaintext []byte
	switch body := resp.Body.(type) {
	case nil:
	case []byte:
		plaintext = body
	case string:
		plaintext = []byte(body)
	default:
		var err error
		plaintext, err = json.Marshal(body)
		if err != nil {
			m.t.Errorf("failed to marshal mock response: %s", err)
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
	}

	if resp.Status == 0 {
		resp.Status = http.StatusOK
		if plaintext == nil {
			resp.Status = http.StatusNoContent
		}
	}

	claim := &jwt.ResponseClaim{Status: resp.Status}
	if resp.TokenStatus != 0 {
		claim.Status = resp.TokenStatus
	}

	var encrypted string
	if plaintext != nil {
		claim.Hash, claim.Func = jwt.HashBody(plaintext)
		if resp.TamperHash {
			claim.Hash, _ = jwt.HashBody(append(plaintext, ' '))
		}

		keyID := req.KeyID
		if resp.EncryptForKeyID != "" {
			keyID = resp.EncryptForKeyID
		}

		m.mu.Lock()
		clientKey := m.clientKeys[keyID]
		m.mu.Unlock()

		var err error
		encrypted, err = m.jwe.Encrypt(string(plaintext), clientKey, keyID, jwe.ContentTypeJSON)
		if err != nil {
			m.t.Errorf("failed to encrypt mock response: %s", err)
			w.WriteHeader(http.StatusInternalServerError)
			return
		}

		if resp.CorruptCiphertext {
			encrypted = corruptCiphertext(encrypted)
		}
	}

	if !resp.OmitToken {
		token, err := m.signer(req.Issuer).EncodeResponse(uuid.NewString(), req.Subject, time.Now(), claim)
		if err != nil {
			m.t.Errorf("failed to sign mock response: %s", err)
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Header().Set(HeaderJWT, token)
	}

	if plaintext != nil {
		w.Header().Set("Content-Type", ContentTypeJOSE)
	}
	w.WriteHeader(resp.Status)
	_, _ = w.Write([]byte(encrypted))
}

// signer returns a JWT service signing as the API for audience.
func (m *MockAPIServer) signer(audience string) *jwt.Service {
	s, err := jwt.NewService(jwt.APIAudience, m.apiKeyID, m.apiKey, jwt.WithAudience(audience))
	if err != nil {
		m.t.Fatalf("failed to create JWT service: %s", err)
	}
	return s
}

// ServerSentEvent builds the headers and body of a callback the API would
// deliver to audience's webhook at method and path, concerning subject. The
// body is encrypted for the first client key registered.
func (m *MockAPIServer) ServerSentEvent(audience, subject domain.EntityIdentifier, method, path string, payload any) (http.Header, string) {
	m.t.Helper()

	plaintext, err := json.Marshal(payload)
	if err != nil {
		m.t.Fatalf("failed to marshal server sent event: %s", err)
	}

	m.mu.Lock()
	if len(m.keyOrder) == 0 {
		m.mu.Unlock()
		m.t.Fatalf("no client key registered")
	}
	keyID := m.keyOrder[0]
	clientKey := m.clientKeys[keyID]
	m.mu.Unlock()

	body, err := m.jwe.Encrypt(string(plaintext), clientKey, keyID, jwe.ContentTypeJSON)
	if err != nil {
		m.t.Fatalf("failed to encrypt server sent event: %s", err)
	}

	hash, fn := jwt.HashBody(plaintext)
	token, err := m.signer(audience.String()).Encode(uuid.NewString(), subject.String(), time.Now(), &jwt.RequestClaim{
		Method: method,
		Path:   path,
		Hash:   hash,
		Func:   fn,
	})
	if err != nil {
		m.t.Fatalf("failed to sign server sent event: %s", err)
	}

	headers := http.Header{}
	headers.Set(HeaderJWT, token)
	headers.Set("Content-Type", ContentTypeJOSE)
	return headers, body
}

// corruptCiphertext flips a character of the ciphertext segment.
func corruptCiphertext(envelope string) string {
	parts := strings.Split(envelope, ".")
	if len(parts) != 5 || len(parts[3]) == 0 {
		return envelope
	}

	c := []byte(parts[3])
	if c[0] == 'A' {
		c[0] = 'B'
	} else {
		c[0] = 'A'
	}
	parts[3] = string(c)
	return strings.Join(parts, ".")
}

func writeAPIError(w http.ResponseWriter, status int, code string, detail any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(domain.APIError{ErrorCode: code, ErrorDetail: detail})
}
