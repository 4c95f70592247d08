package keys

import (
	"context"
	"sync"

	"github.com/iovation/launchkey-sdk-go/pkg/lkerror"
)

// Compile-time check that FakeFetcher implements Fetcher
var _ Fetcher = (*FakeFetcher)(nil)

// FakeFetcher is a fake implementation of Fetcher for testing.
// It can be configured to return specific keys or errors for testing different scenarios.
type FakeFetcher struct {
	mu sync.Mutex

	// Current is returned by FetchCurrentPublicKey.
	Current *PublicKey

	// Keys are returned by FetchPublicKey, indexed by fingerprint. Current is
	// also found by FetchPublicKey.
	Keys map[string]PublicKey

	// Err is returned by every call when set.
	Err error

	// Release, when set, holds every call until it is closed.
	Release chan struct{}

	CurrentCalls int
	KeyCalls     int
}

// NewFakeFetcher returns a fake whose current key is key.
func NewFakeFetcher(key PublicKey) *FakeFetcher {
	return &FakeFetcher{Current: &key}
}

// NewFakeFetcherWithError returns a fake which fails every call with err.
func NewFakeFetcherWithError(err error) *FakeFetcher {
	return &FakeFetcher{Err: err}
}

func (f *FakeFetcher) FetchCurrentPublicKey(ctx context.Context) (PublicKey, error) {
	f.wait()
	f.mu.Lock()
	defer f.mu.Unlock()
	f.CurrentCalls++

	if ctx.Err() != nil {
		return PublicKey{}, ctx.Err()
	}

	if f.Err != nil {
		return PublicKey{}, f.Err
	}

	if f.Current == nil {
		return PublicKey{}, lkerror.New(lkerror.EntityNotFound, "no current key configured", nil)
	}

	return *f.Current, nil
}

func (f *FakeFetcher) FetchPublicKey(ctx context.Context, keyID string) (PublicKey, error) {
	f.wait()
	f.mu.Lock()
	defer f.mu.Unlock()
	f.KeyCalls++

	if ctx.Err() != nil {
		return PublicKey{}, ctx.Err()
	}

	if f.Err != nil {
		return PublicKey{}, f.Err
	}

	keyID = NormalizeFingerprint(keyID)
	if key, ok := f.Keys[keyID]; ok {
		return key, nil
	}

	if f.Current != nil && NormalizeFingerprint(f.Current.KeyID) == keyID {
		return *f.Current, nil
	}

	return PublicKey{}, lkerror.Newf(lkerror.EntityNotFound, nil, "no key %q configured", keyID)
}

func (f *FakeFetcher) wait() {
	if f.Release != nil {
		<-f.Release
	}
}
