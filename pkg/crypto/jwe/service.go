package jwe

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/lestrrat-go/jwx/v3/jwa"
	"github.com/lestrrat-go/jwx/v3/jwe"

	"github.com/iovation/launchkey-sdk-go/pkg/keys"
	"github.com/iovation/launchkey-sdk-go/pkg/lkerror"
)

const (
	// ContentTypeJSON is the cty used for JSON payloads.
	ContentTypeJSON = "application/json"

	// KeyAlgorithm and ContentAlgorithm name the algorithms of every envelope.
	KeyAlgorithm     = "RSA-OAEP-256"
	ContentAlgorithm = "A256CBC-HS512"

	msgDecryptFailure = "An error occurred attempting to decrypt a JWE"
	msgHeaderFailure  = "Unable to parse data for JWE Header!"
	msgEncryptFailure = "An error occurred attempting to encrypt a JWE"
)

// ErrJWEFailure is wrapped by every error returned from Service.
var ErrJWEFailure = errors.New("JWEFailure")

// Service encrypts payloads for a recipient's public key using RSA-OAEP-256
// key wrapping and A256CBC-HS512 content encryption, and decrypts envelopes
// addressed to its own private key. It has no mutable state and is safe for
// concurrent use.
type Service struct {
	privateKey *rsa.PrivateKey
}

// NewService returns a Service which decrypts with privateKey by default.
// The RSA key must be at least keys.MinRSAKeySize bits.
func NewService(privateKey *rsa.PrivateKey) (*Service, error) {
	if err := checkPrivateKey(privateKey); err != nil {
		return nil, err
	}

	return &Service{privateKey: privateKey}, nil
}

func checkPrivateKey(key *rsa.PrivateKey) error {
	if key == nil {
		return fmt.Errorf("RSA private key cannot be nil")
	}

	if size := key.N.BitLen(); size < keys.MinRSAKeySize {
		return fmt.Errorf("RSA key size must be at least %d bits, got %d bits", keys.MinRSAKeySize, size)
	}

	return nil
}

func failure(msg string, err error) *lkerror.Error {
	if err == nil {
		return lkerror.New(lkerror.Cryptography, msg, ErrJWEFailure)
	}
	return lkerror.New(lkerror.Cryptography, msg, fmt.Errorf("%w: %w", ErrJWEFailure, err))
}

// Encrypt returns plaintext encrypted for publicKey in JWE compact
// serialization. The protected header carries keyID as "kid" and contentType
// as "cty".
func (s *Service) Encrypt(plaintext string, publicKey *rsa.PublicKey, keyID, contentType string) (string, error) {
	if publicKey == nil {
		return "", failure(msgEncryptFailure, fmt.Errorf("RSA public key cannot be nil"))
	}

	if size := publicKey.N.BitLen(); size < keys.MinRSAKeySize {
		return "", failure(msgEncryptFailure, fmt.Errorf("RSA key size must be at least %d bits, got %d bits", keys.MinRSAKeySize, size))
	}

	headers := jwe.NewHeaders()
	if err := headers.Set(jwe.KeyIDKey, keyID); err != nil {
		return "", failure(msgEncryptFailure, fmt.Errorf("failed to set key ID header: %w", err))
	}

	if err := headers.Set(jwe.ContentTypeKey, contentType); err != nil {
		return "", failure(msgEncryptFailure, fmt.Errorf("failed to set content type header: %w", err))
	}

	encrypted, err := jwe.Encrypt(
		[]byte(plaintext),
		jwe.WithKey(jwa.RSA_OAEP_256(), publicKey),
		jwe.WithContentEncryption(jwa.A256CBC_HS512()),
		jwe.WithProtectedHeaders(headers),
		jwe.WithCompact(),
	)
	if err != nil {
		return "", failure(msgEncryptFailure, err)
	}

	return string(encrypted), nil
}

// Decrypt decrypts envelope with the Service's private key.
func (s *Service) Decrypt(envelope string) (string, error) {
	return s.DecryptWithKey(envelope, s.privateKey)
}

// DecryptWithKey decrypts envelope with privateKey instead of the Service's
// own key. It is used when the envelope was encrypted for an older key.
func (s *Service) DecryptWithKey(envelope string, privateKey *rsa.PrivateKey) (string, error) {
	if err := checkPrivateKey(privateKey); err != nil {
		return "", failure(msgDecryptFailure, err)
	}

	plaintext, err := jwe.Decrypt([]byte(envelope), jwe.WithKey(jwa.RSA_OAEP_256(), privateKey))
	if err != nil {
		// jwe.Decrypt reports an empty plaintext as a failure.
		if empty, openErr := openEmpty(envelope, privateKey); openErr == nil && empty {
			return "", nil
		}
		return "", failure(msgDecryptFailure, err)
	}

	return string(plaintext), nil
}

// openEmpty authenticates envelope as RSA-OAEP-256 + A256CBC-HS512 (RFC 7518
// section 5.2.2) and reports whether its plaintext is empty.
func openEmpty(envelope string, privateKey *rsa.PrivateKey) (bool, error) {
	segments, err := compactSegments(envelope)
	if err != nil {
		return false, err
	}

	var header struct {
		Alg string `json:"alg"`
		Enc string `json:"enc"`
	}
	raw, err := base64.RawURLEncoding.DecodeString(segments[0])
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(raw, &header); err != nil {
		return false, err
	}
	if header.Alg != KeyAlgorithm || header.Enc != ContentAlgorithm {
		return false, fmt.Errorf("unsupported algorithms %q/%q", header.Alg, header.Enc)
	}

	var decoded [4][]byte
	for i, segment := range segments[1:] {
		if decoded[i], err = base64.RawURLEncoding.DecodeString(segment); err != nil {
			return false, err
		}
	}
	encryptedKey, iv, ciphertext, tag := decoded[0], decoded[1], decoded[2], decoded[3]

	cek, err := rsa.DecryptOAEP(sha256.New(), rand.Reader, privateKey, encryptedKey, nil)
	if err != nil {
		return false, err
	}
	if len(cek) != 64 {
		return false, fmt.Errorf("content encryption key has %d bytes, want 64", len(cek))
	}
	macKey, encKey := cek[:32], cek[32:]

	aad := []byte(segments[0])
	var al [8]byte
	binary.BigEndian.PutUint64(al[:], uint64(len(aad))*8)

	mac := hmac.New(sha512.New, macKey)
	mac.Write(aad)
	mac.Write(iv)
	mac.Write(ciphertext)
	mac.Write(al[:])
	if !hmac.Equal(mac.Sum(nil)[:32], tag) {
		return false, fmt.Errorf("authentication tag mismatch")
	}

	if len(iv) != aes.BlockSize || len(ciphertext) != aes.BlockSize {
		return false, nil
	}

	block, err := aes.NewCipher(encKey)
	if err != nil {
		return false, err
	}
	padded := make([]byte, aes.BlockSize)
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(padded, ciphertext)

	return bytes.Equal(padded, bytes.Repeat([]byte{aes.BlockSize}, aes.BlockSize)), nil
}

// compactSegments splits a JWE compact serialization into its five segments.
func compactSegments(envelope string) ([]string, error) {
	segments := strings.Split(strings.TrimSpace(envelope), ".")
	if len(segments) != 5 {
		return nil, fmt.Errorf("JWE compact serialization has 5 segments, got %d", len(segments))
	}
	if segments[0] == "" {
		return nil, fmt.Errorf("JWE protected header is empty")
	}
	return segments, nil
}

// Headers returns the protected header of envelope without decrypting it.
// Every value is rendered as a string: strings as-is, numbers and booleans in
// their JSON form, objects and arrays as compact JSON.
func (s *Service) Headers(envelope string) (map[string]string, error) {
	segments, err := compactSegments(envelope)
	if err != nil {
		return nil, failure(msgHeaderFailure, err)
	}

	raw, err := base64.RawURLEncoding.DecodeString(segments[0])
	if err != nil {
		return nil, failure(msgHeaderFailure, err)
	}

	decoder := json.NewDecoder(bytes.NewReader(raw))
	decoder.UseNumber()

	var fields map[string]any
	if err := decoder.Decode(&fields); err != nil {
		return nil, failure(msgHeaderFailure, err)
	}

	headers := make(map[string]string, len(fields))
	for name, value := range fields {
		str, err := stringify(value)
		if err != nil {
			return nil, failure(msgHeaderFailure, err)
		}
		headers[name] = str
	}

	return headers, nil
}

func stringify(value any) (string, error) {
	switch v := value.(type) {
	case string:
		return v, nil
	case json.Number:
		return v.String(), nil
	case bool:
		return fmt.Sprint(v), nil
	case nil:
		return "null", nil
	}

	out, err := json.Marshal(value)
	if err != nil {
		return "", err
	}
	return string(out), nil
}
