package jwe

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/lestrrat-go/jwx/v3/jwa"
	"github.com/lestrrat-go/jwx/v3/jwe"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iovation/launchkey-sdk-go/internal/testkeys"
	"github.com/iovation/launchkey-sdk-go/pkg/keys"
	"github.com/iovation/launchkey-sdk-go/pkg/lkerror"
)

const testKeyID = "a1:b2:c3:d4"

func newTestService(t *testing.T) *Service {
	t.Helper()
	svc, err := NewService(testkeys.Client())
	require.NoError(t, err)
	return svc
}

func requireJWEFailure(t *testing.T, err error) {
	t.Helper()
	require.Error(t, err)
	assert.True(t, lkerror.Is(err, lkerror.Cryptography), "expected a cryptography error, got %v", err)
	assert.True(t, errors.Is(err, ErrJWEFailure), "expected ErrJWEFailure in chain, got %v", err)
}

func TestNewService(t *testing.T) {
	_, err := NewService(nil)
	require.ErrorContains(t, err, "cannot be nil")

	svc, err := NewService(testkeys.Client())
	require.NoError(t, err)
	require.NotNil(t, svc)
}

func TestEncryptDecrypt_RoundTrip(t *testing.T) {
	svc := newTestService(t)
	key := testkeys.Client()

	tests := []struct {
		name      string
		plaintext string
	}{
		{"empty", ""},
		{"json", `{"auth_request":"d4a6c2fe-5b4e-11e7-907b-a6006ad3dba0"}`},
		{"unicode", "héllo wörld ✓"},
		{"one byte", "x"},
		{"large", strings.Repeat("0123456789abcdef", 64*1024)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			envelope, err := svc.Encrypt(tt.plaintext, &key.PublicKey, testKeyID, ContentTypeJSON)
			require.NoError(t, err)

			parts := strings.Split(envelope, ".")
			require.Len(t, parts, 5, "JWE Compact Serialization should have 5 parts")

			got, err := svc.Decrypt(envelope)
			require.NoError(t, err)
			assert.Equal(t, tt.plaintext, got)
		})
	}
}

func TestEncrypt_Algorithms(t *testing.T) {
	svc := newTestService(t)
	key := testkeys.Client()

	envelope, err := svc.Encrypt("payload", &key.PublicKey, testKeyID, ContentTypeJSON)
	require.NoError(t, err)

	msg, err := jwe.Parse([]byte(envelope))
	require.NoError(t, err)

	headers := msg.ProtectedHeaders()

	alg, ok := headers.Algorithm()
	require.True(t, ok)
	assert.Equal(t, jwa.RSA_OAEP_256(), alg)

	enc, ok := headers.ContentEncryption()
	require.True(t, ok)
	assert.Equal(t, jwa.A256CBC_HS512(), enc)
	assert.Equal(t, KeyAlgorithm, alg.String())
	assert.Equal(t, ContentAlgorithm, enc.String())

	kid, ok := headers.KeyID()
	require.True(t, ok)
	assert.Equal(t, testKeyID, kid)

	cty, ok := headers.ContentType()
	require.True(t, ok)
	assert.Equal(t, ContentTypeJSON, cty)
}

func TestDecrypt_EmptyPlaintextIsAuthenticated(t *testing.T) {
	svc := newTestService(t)
	key := testkeys.Client()

	envelope, err := svc.Encrypt("", &key.PublicKey, testKeyID, ContentTypeJSON)
	require.NoError(t, err)

	parts := strings.Split(envelope, ".")
	tag, err := base64.RawURLEncoding.DecodeString(parts[4])
	require.NoError(t, err)
	tag[0] ^= 0xff
	parts[4] = base64.RawURLEncoding.EncodeToString(tag)

	_, err = svc.Decrypt(strings.Join(parts, "."))
	requireJWEFailure(t, err)

	other, err := NewService(testkeys.ClientPrevious())
	require.NoError(t, err)
	_, err = other.Decrypt(envelope)
	requireJWEFailure(t, err)
}

func TestEncrypt_NonDeterministic(t *testing.T) {
	svc := newTestService(t)
	key := testkeys.Client()

	first, err := svc.Encrypt("same data", &key.PublicKey, testKeyID, ContentTypeJSON)
	require.NoError(t, err)
	second, err := svc.Encrypt("same data", &key.PublicKey, testKeyID, ContentTypeJSON)
	require.NoError(t, err)

	assert.NotEqual(t, first, second, "encrypting the same data twice should produce different envelopes")
}

func TestEncrypt_BadKeys(t *testing.T) {
	svc := newTestService(t)

	_, err := svc.Encrypt("payload", nil, testKeyID, ContentTypeJSON)
	requireJWEFailure(t, err)

	small, err := keys.LoadPublicKeyFromPEM([]byte(testkeys.SmallPublicKeyPEM))
	require.NoError(t, err)

	_, err = svc.Encrypt("payload", small, testKeyID, ContentTypeJSON)
	requireJWEFailure(t, err)
	assert.ErrorContains(t, err, "must be at least 2048 bits")
}

func TestDecrypt_WrongKey(t *testing.T) {
	svc := newTestService(t)

	envelope, err := svc.Encrypt("secret", &testkeys.API().PublicKey, testKeyID, ContentTypeJSON)
	require.NoError(t, err)

	got, err := svc.Decrypt(envelope)
	requireJWEFailure(t, err)
	assert.Empty(t, got)

	var lkErr *lkerror.Error
	require.ErrorAs(t, err, &lkErr)
	assert.Equal(t, "An error occurred attempting to decrypt a JWE", lkErr.Message)
}

func TestDecryptWithKey_Override(t *testing.T) {
	svc := newTestService(t)
	previous := testkeys.ClientPrevious()

	envelope, err := svc.Encrypt("rotated", &previous.PublicKey, testKeyID, ContentTypeJSON)
	require.NoError(t, err)

	_, err = svc.Decrypt(envelope)
	requireJWEFailure(t, err)

	got, err := svc.DecryptWithKey(envelope, previous)
	require.NoError(t, err)
	assert.Equal(t, "rotated", got)

	_, err = svc.DecryptWithKey(envelope, nil)
	requireJWEFailure(t, err)
}

func TestDecrypt_Corrupted(t *testing.T) {
	svc := newTestService(t)
	key := testkeys.Client()

	envelope, err := svc.Encrypt("payload", &key.PublicKey, testKeyID, ContentTypeJSON)
	require.NoError(t, err)

	parts := strings.Split(envelope, ".")

	ciphertext, err := base64.RawURLEncoding.DecodeString(parts[3])
	require.NoError(t, err)
	ciphertext[0] ^= 0xff
	parts[3] = base64.RawURLEncoding.EncodeToString(ciphertext)

	tests := map[string]string{
		"flipped ciphertext": strings.Join(parts, "."),
		"not a JWE":          "not.a.jwe",
		"empty":              "",
	}

	for name, input := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := svc.Decrypt(input)
			requireJWEFailure(t, err)
		})
	}
}

func TestHeaders(t *testing.T) {
	svc := newTestService(t)

	// only the public half is needed to build and inspect the envelope
	envelope, err := svc.Encrypt("payload", &testkeys.API().PublicKey, testKeyID, ContentTypeJSON)
	require.NoError(t, err)

	headers, err := svc.Headers(envelope)
	require.NoError(t, err)

	assert.Equal(t, testKeyID, headers["kid"])
	assert.Equal(t, ContentTypeJSON, headers["cty"])
	assert.Equal(t, "RSA-OAEP-256", headers["alg"])
	assert.Equal(t, "A256CBC-HS512", headers["enc"])
}

func TestHeaders_StringifiesValues(t *testing.T) {
	svc := newTestService(t)

	header := map[string]any{
		"alg":    "RSA-OAEP-256",
		"enc":    "A256CBC-HS512",
		"kid":    7,
		"cty":    false,
		"num":    12,
		"float":  1.5,
		"flag":   true,
		"nested": map[string]any{"a": 1},
		"list":   []any{"x", 2},
	}
	rawHeader, err := json.Marshal(header)
	require.NoError(t, err)

	random := make([]byte, 32)
	_, err = rand.Read(random)
	require.NoError(t, err)
	segment := base64.RawURLEncoding.EncodeToString(random)

	envelope := strings.Join([]string{
		base64.RawURLEncoding.EncodeToString(rawHeader),
		segment, segment, segment, segment,
	}, ".")

	headers, err := svc.Headers(envelope)
	require.NoError(t, err)

	assert.Equal(t, map[string]string{
		"alg":    "RSA-OAEP-256",
		"enc":    "A256CBC-HS512",
		"kid":    "7",
		"cty":    "false",
		"num":    "12",
		"float":  "1.5",
		"flag":   "true",
		"nested": `{"a":1}`,
		"list":   `["x",2]`,
	}, headers)
}

func TestHeaders_Invalid(t *testing.T) {
	svc := newTestService(t)

	notJSON := base64.RawURLEncoding.EncodeToString([]byte("{not json"))
	segment := base64.RawURLEncoding.EncodeToString([]byte("x"))

	tests := map[string]string{
		"empty":             "",
		"too few segments":  "a.b.c",
		"header not json":   strings.Join([]string{notJSON, segment, segment, segment, segment}, "."),
		"header not base64": strings.Join([]string{"!!!", segment, segment, segment, segment}, "."),
	}

	for name, input := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := svc.Headers(input)
			requireJWEFailure(t, err)

			var lkErr *lkerror.Error
			require.ErrorAs(t, err, &lkErr)
			assert.Equal(t, "Unable to parse data for JWE Header!", lkErr.Message)
		})
	}
}
