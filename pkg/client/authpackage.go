package client

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha1" //nolint:gosec // the API encrypts auth packages with RSA-OAEP SHA-1
	"encoding/base64"
	"encoding/json"
	"strings"

	"github.com/iovation/launchkey-sdk-go/pkg/crypto/jwe"
	"github.com/iovation/launchkey-sdk-go/pkg/domain"
	"github.com/iovation/launchkey-sdk-go/pkg/keys"
	"github.com/iovation/launchkey-sdk-go/pkg/lkerror"
)

// decryptAuthPackage recovers the auth package of an auth response. The JWE
// form is preferred when the API sent one; otherwise the base64 "auth" field
// is decrypted with the private key named by public_key_id.
func decryptAuthPackage(ring *keys.PrivateKeyRing, resp domain.ServiceV3AuthsGetResponse) (domain.AuthPackage, error) {
	var plaintext []byte

	if resp.AuthJWE != "" {
		decrypted, err := decryptAuthJWE(ring, resp.AuthJWE)
		if err != nil {
			return domain.AuthPackage{}, err
		}
		plaintext = []byte(decrypted)
	} else {
		key, ok := ring.Get(resp.PublicKeyID)
		if !ok {
			return domain.AuthPackage{}, lkerror.Newf(lkerror.NoKeyFound, nil, "no private key with fingerprint %q for auth package", resp.PublicKeyID)
		}

		ciphertext, err := base64.StdEncoding.DecodeString(strings.TrimSpace(resp.Auth))
		if err != nil {
			return domain.AuthPackage{}, lkerror.New(lkerror.InvalidResponse, "auth package is not valid base64", err)
		}

		plaintext, err = rsa.DecryptOAEP(sha1.New(), rand.Reader, key, ciphertext, nil) //nolint:gosec
		if err != nil {
			return domain.AuthPackage{}, lkerror.New(lkerror.Cryptography, "failed to decrypt auth package", err)
		}
	}

	var pkg domain.AuthPackage
	if err := json.Unmarshal(plaintext, &pkg); err != nil {
		return domain.AuthPackage{}, lkerror.New(lkerror.InvalidResponse, "failed to unmarshal auth package", err)
	}

	return pkg, nil
}

func decryptAuthJWE(ring *keys.PrivateKeyRing, envelope string) (string, error) {
	svc, err := jwe.NewService(ring.Current().Key)
	if err != nil {
		return "", lkerror.New(lkerror.Cryptography, "failed to create JWE service", err)
	}

	headers, err := svc.Headers(envelope)
	if err != nil {
		return "", err
	}

	key, ok := ring.Get(headers["kid"])
	if !ok {
		return "", lkerror.Newf(lkerror.NoKeyFound, nil, "no private key with fingerprint %q for auth package", headers["kid"])
	}

	return svc.DecryptWithKey(envelope, key)
}
