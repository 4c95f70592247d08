package jwt

import (
	"crypto/rsa"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v4"

	"github.com/iovation/launchkey-sdk-go/pkg/keys"
	"github.com/iovation/launchkey-sdk-go/pkg/lkerror"
)

const (
	// APIAudience identifies the API. It is the audience of request tokens
	// and the issuer of response tokens.
	APIAudience = "lka"

	// HashFunctionS256 names SHA-256 in the hash claims.
	HashFunctionS256 = "S256"

	// DefaultTokenLifetime is the lifetime given to tokens this SDK signs.
	DefaultTokenLifetime = 5 * time.Second
	// DefaultClockSkew is the tolerated difference between our clock and the API's.
	DefaultClockSkew = 5 * time.Second
	// DefaultMaxTokenAge is how long after "iat" an inbound token is still accepted.
	DefaultMaxTokenAge = 5 * time.Second
)

// ErrJWTFailure is wrapped by errors for tokens which are malformed or carry
// unexpected claims.
var ErrJWTFailure = errors.New("JWTFailure")

var rsaMethods = []string{
	jwt.SigningMethodRS256.Alg(),
	jwt.SigningMethodRS384.Alg(),
	jwt.SigningMethodRS512.Alg(),
	jwt.SigningMethodPS256.Alg(),
	jwt.SigningMethodPS384.Alg(),
	jwt.SigningMethodPS512.Alg(),
}

// RequestClaim binds a token to one HTTP request.
type RequestClaim struct {
	Method string `json:"meth"`
	Path   string `json:"path"`
	Hash   string `json:"hash,omitempty"`
	Func   string `json:"func,omitempty"`
}

// ResponseClaim binds a token to one HTTP response.
type ResponseClaim struct {
	Status       int    `json:"status"`
	Hash         string `json:"hash,omitempty"`
	Func         string `json:"func,omitempty"`
	Location     string `json:"location,omitempty"`
	CacheControl string `json:"cache,omitempty"`
}

// Claims is the claim set exchanged with the API.
type Claims struct {
	jwt.RegisteredClaims
	Request  *RequestClaim  `json:"request,omitempty"`
	Response *ResponseClaim `json:"response,omitempty"`
}

// KeyResolver maps a key ID presented in a token header to the public key
// which must have signed it. It should return an lkerror.NoKeyFound error
// when the key is unknown.
type KeyResolver func(keyID string) (*rsa.PublicKey, error)

// Expectations are the claims an inbound token must carry. Empty fields are
// not checked.
type Expectations struct {
	Audience string
	Issuer   string
	Subject  string
}

// Service signs tokens with one private key and verifies tokens against
// resolved public keys.
type Service struct {
	issuer        string
	keyID         string
	privateKey    *rsa.PrivateKey
	secret        []byte
	signingMethod jwt.SigningMethod

	audience    string
	lifetime    time.Duration
	clockSkew   time.Duration
	maxTokenAge time.Duration
	now         func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithSigningMethod overrides the signing method chosen from the key size.
func WithSigningMethod(method jwt.SigningMethod) Option {
	return func(s *Service) { s.signingMethod = method }
}

// WithHMACSecret signs and verifies tokens with HS256 and secret instead of
// RSA keys. The private key passed to NewService may then be nil.
func WithHMACSecret(secret []byte) Option {
	return func(s *Service) {
		s.secret = append([]byte{}, secret...)
		s.signingMethod = jwt.SigningMethodHS256
	}
}

// WithAudience sets the audience of signed tokens. Defaults to APIAudience.
func WithAudience(audience string) Option {
	return func(s *Service) { s.audience = audience }
}

// WithTokenLifetime sets the lifetime of signed tokens.
func WithTokenLifetime(d time.Duration) Option {
	return func(s *Service) { s.lifetime = d }
}

// WithClockSkew sets the clock skew tolerated when checking time claims.
func WithClockSkew(d time.Duration) Option {
	return func(s *Service) { s.clockSkew = d }
}

// WithMaxTokenAge sets how old, by "iat", an inbound token may be.
func WithMaxTokenAge(d time.Duration) Option {
	return func(s *Service) { s.maxTokenAge = d }
}

// WithClock sets the clock used for time claims.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService returns a Service signing as issuer with privateKey, whose
// fingerprint keyID is placed in the "kid" header of every token.
func NewService(issuer, keyID string, privateKey *rsa.PrivateKey, opts ...Option) (*Service, error) {
	if issuer == "" {
		return nil, fmt.Errorf("issuer cannot be empty")
	}

	if keyID == "" {
		return nil, fmt.Errorf("keyID cannot be empty")
	}

	s := &Service{
		issuer:      issuer,
		keyID:       keyID,
		privateKey:  privateKey,
		audience:    APIAudience,
		lifetime:    DefaultTokenLifetime,
		clockSkew:   DefaultClockSkew,
		maxTokenAge: DefaultMaxTokenAge,
		now:         time.Now,
	}

	for _, opt := range opts {
		opt(s)
	}

	if s.secret != nil {
		if len(s.secret) == 0 {
			return nil, fmt.Errorf("HMAC secret cannot be empty")
		}
		return s, nil
	}

	if privateKey == nil {
		return nil, fmt.Errorf("RSA private key cannot be nil")
	}

	if size := privateKey.N.BitLen(); size < keys.MinRSAKeySize {
		return nil, fmt.Errorf("RSA key size must be at least %d bits, got %d bits", keys.MinRSAKeySize, size)
	}

	if s.signingMethod == nil {
		s.signingMethod = signingMethodFor(privateKey)
	}

	return s, nil
}

func signingMethodFor(key *rsa.PrivateKey) jwt.SigningMethod {
	switch key.N.BitLen() {
	case 3072:
		return jwt.SigningMethodRS384
	case 4096:
		return jwt.SigningMethodRS512
	default:
		return jwt.SigningMethodRS256
	}
}

// Issuer returns the issuer placed in signed tokens.
func (s *Service) Issuer() string {
	return s.issuer
}

// Encode signs a request token for subject.
func (s *Service) Encode(jti, subject string, issuedAt time.Time, request *RequestClaim) (string, error) {
	return s.Sign(&Claims{
		RegisteredClaims: s.registered(jti, subject, issuedAt),
		Request:          request,
	})
}

// EncodeResponse signs a response token for subject. It is the counterpart of
// Encode used by code playing the API's role, such as test servers.
func (s *Service) EncodeResponse(jti, subject string, issuedAt time.Time, response *ResponseClaim) (string, error) {
	return s.Sign(&Claims{
		RegisteredClaims: s.registered(jti, subject, issuedAt),
		Response:         response,
	})
}

func (s *Service) registered(jti, subject string, issuedAt time.Time) jwt.RegisteredClaims {
	return jwt.RegisteredClaims{
		ID:        jti,
		Issuer:    s.issuer,
		Subject:   subject,
		Audience:  jwt.ClaimStrings{s.audience},
		IssuedAt:  jwt.NewNumericDate(issuedAt),
		NotBefore: jwt.NewNumericDate(issuedAt),
		ExpiresAt: jwt.NewNumericDate(issuedAt.Add(s.lifetime)),
	}
}

// Sign signs claims as they are.
func (s *Service) Sign(claims *Claims) (string, error) {
	token := jwt.NewWithClaims(s.signingMethod, claims)
	token.Header["kid"] = s.keyID

	var key any = s.privateKey
	if s.secret != nil {
		key = s.secret
	}

	signed, err := token.SignedString(key)
	if err != nil {
		return "", lkerror.New(lkerror.Cryptography, "failed to sign JWT", fmt.Errorf("%w: %w", ErrJWTFailure, err))
	}

	return signed, nil
}

// Decode verifies token against the key resolved from its "kid" header, or
// against the HMAC secret when one is configured, in which case resolve is
// not used. It then checks the time claims against the configured skew and
// maximum age, and the claims in expected.
func (s *Service) Decode(token string, resolve KeyResolver, expected Expectations) (*Claims, error) {
	claims := &Claims{}

	validMethods := rsaMethods
	if s.secret != nil {
		validMethods = []string{jwt.SigningMethodHS256.Alg()}
	}

	parser := jwt.NewParser(jwt.WithValidMethods(validMethods), jwt.WithoutClaimsValidation())
	_, err := parser.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		if s.secret != nil {
			return s.secret, nil
		}

		kid, _ := t.Header["kid"].(string)
		if kid == "" {
			return nil, lkerror.New(lkerror.NoKeyFound, "JWT has no key ID", nil)
		}

		key, err := resolve(kid)
		if err != nil {
			return nil, err
		}

		if key == nil {
			return nil, lkerror.Newf(lkerror.NoKeyFound, nil, "no public key for key ID %q", kid)
		}

		return key, nil
	})
	if err != nil {
		return nil, parseError(err)
	}

	if err := s.validateTimes(claims); err != nil {
		return nil, err
	}

	if err := validateExpectations(claims, expected); err != nil {
		return nil, err
	}

	return claims, nil
}

func parseError(err error) error {
	var lkErr *lkerror.Error
	if errors.As(err, &lkErr) {
		return lkErr
	}

	var ve *jwt.ValidationError
	if errors.As(err, &ve) && ve.Errors&jwt.ValidationErrorSignatureInvalid != 0 {
		return lkerror.New(lkerror.InvalidSignature, "JWT signature is invalid", err)
	}

	return claimsFailure("failed to parse JWT", err)
}

func claimsFailure(msg string, err error) *lkerror.Error {
	if err == nil {
		return lkerror.New(lkerror.Cryptography, msg, ErrJWTFailure)
	}
	return lkerror.New(lkerror.Cryptography, msg, fmt.Errorf("%w: %w", ErrJWTFailure, err))
}

func (s *Service) validateTimes(claims *Claims) error {
	now := s.now()

	if !claims.VerifyExpiresAt(now.Add(-s.clockSkew), false) {
		return lkerror.Newf(lkerror.AuthorizationRequestTimedOut, nil, "JWT expired at %s", claims.ExpiresAt.Time.Format(time.RFC3339))
	}

	if !claims.VerifyNotBefore(now.Add(s.clockSkew), false) {
		return claimsFailure(fmt.Sprintf("JWT is not valid before %s", claims.NotBefore.Time.Format(time.RFC3339)), nil)
	}

	if claims.IssuedAt == nil {
		return claimsFailure("JWT has no issued at claim", nil)
	}

	if !claims.VerifyIssuedAt(now.Add(s.clockSkew), true) {
		return claimsFailure(fmt.Sprintf("JWT issued in the future at %s", claims.IssuedAt.Time.Format(time.RFC3339)), nil)
	}

	if age := now.Sub(claims.IssuedAt.Time); age > s.maxTokenAge+s.clockSkew {
		return lkerror.Newf(lkerror.AuthorizationRequestTimedOut, nil, "JWT issued %s ago exceeds the maximum age of %s", age.Round(time.Second), s.maxTokenAge)
	}

	return nil
}

func validateExpectations(claims *Claims, expected Expectations) error {
	if expected.Audience != "" && !claims.VerifyAudience(expected.Audience, true) {
		return claimsFailure(fmt.Sprintf("JWT audience %v does not include %q", claims.Audience, expected.Audience), nil)
	}

	if expected.Issuer != "" && !claims.VerifyIssuer(expected.Issuer, true) {
		return claimsFailure(fmt.Sprintf("JWT issuer %q is not %q", claims.Issuer, expected.Issuer), nil)
	}

	if expected.Subject != "" && claims.Subject != expected.Subject {
		return claimsFailure(fmt.Sprintf("JWT subject %q is not %q", claims.Subject, expected.Subject), nil)
	}

	return nil
}

// HashBody returns the hex encoded SHA-256 of body and the name of the hash
// function, as carried in the request and response claims.
func HashBody(body []byte) (hash string, fn string) {
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:]), HashFunctionS256
}
