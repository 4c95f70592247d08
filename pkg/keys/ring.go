package keys

import (
	"crypto/rsa"
	"fmt"
	"sort"
	"sync/atomic"
)

// PrivateKey is one of the caller's RSA private keys together with the
// fingerprint of its public half.
type PrivateKey struct {
	KeyID string
	Key   *rsa.PrivateKey
}

// PrivateKeyRing holds the caller's private keys, indexed by fingerprint, with
// one designated as current. The current key signs outbound requests and its
// fingerprint is what the API encrypts responses for; older keys stay in the
// ring so that responses encrypted before a rotation can still be decrypted.
//
// Every mutation publishes a new immutable snapshot, so readers always see a
// consistent set without locking.
type PrivateKeyRing struct {
	snapshot atomic.Pointer[ringSnapshot]
}

type ringSnapshot struct {
	current string
	keys    map[string]*rsa.PrivateKey
}

// NewPrivateKeyRing returns a ring whose current key is current. Any others are
// added as non-current keys.
func NewPrivateKeyRing(current *rsa.PrivateKey, others ...*rsa.PrivateKey) (*PrivateKeyRing, error) {
	snap := &ringSnapshot{keys: map[string]*rsa.PrivateKey{}}

	for _, key := range others {
		if _, err := snap.add(key); err != nil {
			return nil, err
		}
	}

	fp, err := snap.add(current)
	if err != nil {
		return nil, err
	}
	snap.current = fp

	r := &PrivateKeyRing{}
	r.snapshot.Store(snap)
	return r, nil
}

func (s *ringSnapshot) add(key *rsa.PrivateKey) (string, error) {
	if key == nil {
		return "", fmt.Errorf("RSA private key cannot be nil")
	}

	if size := key.N.BitLen(); size < MinRSAKeySize {
		return "", fmt.Errorf("RSA key size must be at least %d bits, got %d bits", MinRSAKeySize, size)
	}

	fp, err := Fingerprint(&key.PublicKey)
	if err != nil {
		return "", err
	}

	s.keys[fp] = key
	return fp, nil
}

func (s *ringSnapshot) clone() *ringSnapshot {
	c := &ringSnapshot{current: s.current, keys: make(map[string]*rsa.PrivateKey, len(s.keys)+1)}
	for fp, key := range s.keys {
		c.keys[fp] = key
	}
	return c
}

// Current returns the key used to sign requests.
func (r *PrivateKeyRing) Current() PrivateKey {
	snap := r.snapshot.Load()
	return PrivateKey{KeyID: snap.current, Key: snap.keys[snap.current]}
}

// Get returns the private key whose public half has the given fingerprint.
func (r *PrivateKeyRing) Get(keyID string) (*rsa.PrivateKey, bool) {
	key, ok := r.snapshot.Load().keys[NormalizeFingerprint(keyID)]
	return key, ok
}

// Add stores key without changing the current key.
func (r *PrivateKeyRing) Add(key *rsa.PrivateKey) (string, error) {
	return r.update(func(s *ringSnapshot) (string, error) {
		return s.add(key)
	})
}

// Rotate stores key and makes it current. The previous current key is kept.
func (r *PrivateKeyRing) Rotate(key *rsa.PrivateKey) (string, error) {
	return r.update(func(s *ringSnapshot) (string, error) {
		fp, err := s.add(key)
		if err != nil {
			return "", err
		}
		s.current = fp
		return fp, nil
	})
}

// Remove drops a non-current key from the ring.
func (r *PrivateKeyRing) Remove(keyID string) error {
	keyID = NormalizeFingerprint(keyID)
	_, err := r.update(func(s *ringSnapshot) (string, error) {
		if keyID == s.current {
			return "", fmt.Errorf("cannot remove the current key %s", keyID)
		}
		delete(s.keys, keyID)
		return keyID, nil
	})
	return err
}

// KeyIDs returns the fingerprints of every key in the ring, sorted.
func (r *PrivateKeyRing) KeyIDs() []string {
	snap := r.snapshot.Load()
	ids := make([]string, 0, len(snap.keys))
	for fp := range snap.keys {
		ids = append(ids, fp)
	}
	sort.Strings(ids)
	return ids
}

func (r *PrivateKeyRing) update(mutate func(*ringSnapshot) (string, error)) (string, error) {
	for {
		old := r.snapshot.Load()
		next := old.clone()

		fp, err := mutate(next)
		if err != nil {
			return "", err
		}

		if r.snapshot.CompareAndSwap(old, next) {
			return fp, nil
		}
	}
}
