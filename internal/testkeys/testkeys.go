// Package testkeys provides RSA keys shared by tests across the module. Keys
// are generated once per test binary to save compute.
package testkeys

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"sync"
)

// SmallPublicKeyPEM is a hardcoded 1024-bit RSA public key (PKIX) used for
// testing key size validation. It is hardcoded rather than generated on the
// assumption that future Go releases might restrict the generation of such
// small keys.
const SmallPublicKeyPEM = `-----BEGIN PUBLIC KEY-----
MIGfMA0GCSqGSIb3DQEBAQUAA4GNADCBiQKBgQDCNDoCM0OBt4HFxFxyU50FYsuZ
gK+lgel/Jlzb+ghkWpCL1Vk3Au7aet4KxNxQh5dFRxtMU7pe6fC5eZtdL3+0TCUu
XAUVgMhTRn3ZXlEmJXosuiFQ2y4+3nbWL51OxXRf3jsieSVqr4fbceakuOKXp4vX
wgiguV3/XqaysHs1uwIDAQAB
-----END PUBLIC KEY-----`

const keySize = 2048

var (
	once sync.Once
	keys [3]*rsa.PrivateKey
)

func generate() {
	once.Do(func() {
		for i := range keys {
			key, err := rsa.GenerateKey(rand.Reader, keySize)
			if err != nil {
				panic("failed to generate test RSA key: " + err.Error())
			}
			keys[i] = key
		}
	})
}

// Client returns the key playing the SDK caller's current key.
func Client() *rsa.PrivateKey {
	generate()
	return keys[0]
}

// ClientPrevious returns a second caller key, used for rotation tests.
func ClientPrevious() *rsa.PrivateKey {
	generate()
	return keys[1]
}

// API returns the key playing the remote API's key.
func API() *rsa.PrivateKey {
	generate()
	return keys[2]
}

// PrivateKeyPEM returns the PKCS#1 PEM encoding of key.
func PrivateKeyPEM(key *rsa.PrivateKey) []byte {
	return pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})
}

// PKCS8PrivateKeyPEM returns the PKCS#8 PEM encoding of key.
func PKCS8PrivateKeyPEM(key *rsa.PrivateKey) []byte {
	der, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		panic(err)
	}
	return pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der})
}

// PublicKeyPEM returns the PKIX PEM encoding of key.
func PublicKeyPEM(key *rsa.PublicKey) []byte {
	der, err := x509.MarshalPKIXPublicKey(key)
	if err != nil {
		panic(err)
	}
	return pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der})
}
