package keys

import (
	"context"
	"crypto/rsa"
	"fmt"
	"time"

	"github.com/pmylund/go-cache"
	"golang.org/x/sync/singleflight"
	"k8s.io/klog/v2"

	"github.com/iovation/launchkey-sdk-go/pkg/lkerror"
	"github.com/iovation/launchkey-sdk-go/pkg/logs"
)

const (
	// DefaultPublicKeyTTL is how long a fetched API public key is trusted before
	// it is fetched again.
	DefaultPublicKeyTTL = 5 * time.Minute

	currentCacheKey = "current"
	keyCachePrefix  = "kid:"
)

// PublicKey is an API public key and its fingerprint.
type PublicKey struct {
	KeyID string
	Key   *rsa.PublicKey
}

// Fetcher retrieves API public keys which are not yet in the store.
type Fetcher interface {
	// FetchCurrentPublicKey retrieves the key the API currently uses.
	FetchCurrentPublicKey(ctx context.Context) (PublicKey, error)

	// FetchPublicKey retrieves the key with the given fingerprint.
	FetchPublicKey(ctx context.Context, keyID string) (PublicKey, error)
}

// PublicKeyStore maps fingerprints to API public keys and designates one
// entry as current. Entries expire after a TTL; a Fetcher, when set, is used
// to refill the store on a miss. Concurrent misses for the same entry share
// one fetch.
type PublicKeyStore struct {
	cache   *cache.Cache
	fetcher Fetcher
	flight  singleflight.Group
}

// NewPublicKeyStore returns an empty store. fetcher may be nil, in which case
// lookups only ever see keys that were added explicitly.
func NewPublicKeyStore(ttl time.Duration, fetcher Fetcher) *PublicKeyStore {
	if ttl <= 0 {
		ttl = DefaultPublicKeyTTL
	}

	return &PublicKeyStore{
		// purge at the TTL interval, expired items are never returned anyway
		cache:   cache.New(ttl, ttl),
		fetcher: fetcher,
	}
}

// SetFetcher sets the fetcher used on cache misses.
func (s *PublicKeyStore) SetFetcher(fetcher Fetcher) {
	s.fetcher = fetcher
}

// HasFetcher reports whether a fetcher is set.
func (s *PublicKeyStore) HasFetcher() bool {
	return s.fetcher != nil
}

// Add stores key under its fingerprint without changing the current key.
// An empty KeyID is filled in from the key itself.
func (s *PublicKeyStore) Add(key PublicKey) error {
	key, err := normalize(key)
	if err != nil {
		return err
	}

	s.cache.Set(keyCachePrefix+key.KeyID, key, cache.DefaultExpiration)
	return nil
}

// SetCurrent stores key and designates it as current.
func (s *PublicKeyStore) SetCurrent(key PublicKey) error {
	key, err := normalize(key)
	if err != nil {
		return err
	}

	s.cache.Set(keyCachePrefix+key.KeyID, key, cache.DefaultExpiration)
	s.cache.Set(currentCacheKey, key.KeyID, cache.DefaultExpiration)
	return nil
}

func normalize(key PublicKey) (PublicKey, error) {
	if key.Key == nil {
		return key, fmt.Errorf("RSA public key cannot be nil")
	}

	if size := key.Key.N.BitLen(); size < MinRSAKeySize {
		return key, fmt.Errorf("RSA key size must be at least %d bits, got %d bits", MinRSAKeySize, size)
	}

	if key.KeyID == "" {
		fp, err := Fingerprint(key.Key)
		if err != nil {
			return key, err
		}
		key.KeyID = fp
	}

	key.KeyID = NormalizeFingerprint(key.KeyID)
	return key, nil
}

// Lookup returns a cached key by fingerprint without fetching.
func (s *PublicKeyStore) Lookup(keyID string) (PublicKey, bool) {
	v, ok := s.cache.Get(keyCachePrefix + NormalizeFingerprint(keyID))
	if !ok {
		return PublicKey{}, false
	}
	return v.(PublicKey), true
}

// Current returns the current API key, fetching it if the entry is missing or
// expired.
func (s *PublicKeyStore) Current(ctx context.Context) (PublicKey, error) {
	logger := klog.FromContext(ctx).WithName("keys")

	if key, ok := s.cachedCurrent(); ok {
		logger.V(logs.Trace).Info("using cached current public key", "kid", key.KeyID)
		return key, nil
	}

	if s.fetcher == nil {
		return PublicKey{}, lkerror.New(lkerror.NoKeyFound, "no current API public key is known", nil)
	}

	v, err, _ := s.flight.Do(currentCacheKey, func() (any, error) {
		// another caller may have just finished the fetch
		if key, ok := s.cachedCurrent(); ok {
			return key, nil
		}

		key, err := s.fetcher.FetchCurrentPublicKey(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch current API public key: %w", err)
		}

		key, err = normalize(key)
		if err != nil {
			return nil, lkerror.New(lkerror.InvalidResponse, "API returned an unusable public key", err)
		}
		_ = s.SetCurrent(key)

		logger.V(logs.Debug).Info("fetched current public key", "kid", key.KeyID)
		return key, nil
	})
	if err != nil {
		return PublicKey{}, err
	}

	return v.(PublicKey), nil
}

func (s *PublicKeyStore) cachedCurrent() (PublicKey, bool) {
	v, ok := s.cache.Get(currentCacheKey)
	if !ok {
		return PublicKey{}, false
	}
	return s.Lookup(v.(string))
}

// Get returns the key with the given fingerprint, fetching it on a miss.
func (s *PublicKeyStore) Get(ctx context.Context, keyID string) (PublicKey, error) {
	if keyID == "" {
		return PublicKey{}, lkerror.New(lkerror.NoKeyFound, "no key ID was presented", nil)
	}

	if key, ok := s.Lookup(keyID); ok {
		return key, nil
	}

	if s.fetcher == nil {
		return PublicKey{}, lkerror.Newf(lkerror.NoKeyFound, nil, "no API public key with fingerprint %q", keyID)
	}

	v, err, _ := s.flight.Do(keyCachePrefix+NormalizeFingerprint(keyID), func() (any, error) {
		if key, ok := s.Lookup(keyID); ok {
			return key, nil
		}
		return s.fetch(ctx, keyID)
	})
	if err != nil {
		return PublicKey{}, err
	}

	return v.(PublicKey), nil
}

func (s *PublicKeyStore) fetch(ctx context.Context, keyID string) (PublicKey, error) {
	key, err := s.fetcher.FetchPublicKey(ctx, keyID)
	if err != nil {
		if lkerror.Is(err, lkerror.EntityNotFound) {
			return PublicKey{}, lkerror.Newf(lkerror.NoKeyFound, err, "no API public key with fingerprint %q", keyID)
		}
		return PublicKey{}, fmt.Errorf("failed to fetch API public key %s: %w", keyID, err)
	}

	key, err = normalize(key)
	if err != nil {
		return PublicKey{}, lkerror.New(lkerror.InvalidResponse, "API returned an unusable public key", err)
	}

	if key.KeyID != NormalizeFingerprint(keyID) {
		return PublicKey{}, lkerror.Newf(lkerror.NoKeyFound, nil, "API returned key %q when asked for %q", key.KeyID, keyID)
	}
	_ = s.Add(key)

	klog.FromContext(ctx).WithName("keys").V(logs.Debug).Info("fetched public key", "kid", key.KeyID)
	return key, nil
}

// Resolver returns a function which resolves a key ID to a public key, for
// use when verifying signatures.
func (s *PublicKeyStore) Resolver(ctx context.Context) func(keyID string) (*rsa.PublicKey, error) {
	return func(keyID string) (*rsa.PublicKey, error) {
		key, err := s.Get(ctx, keyID)
		if err != nil {
			return nil, err
		}
		return key.Key, nil
	}
}

// Flush removes every entry, including the current designation.
func (s *PublicKeyStore) Flush() {
	s.cache.Flush()
}
