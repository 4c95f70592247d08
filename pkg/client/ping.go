package client

import (
	"context"
	"time"

	"github.com/pmylund/go-cache"
	"k8s.io/klog/v2"

	"github.com/iovation/launchkey-sdk-go/pkg/domain"
	"github.com/iovation/launchkey-sdk-go/pkg/logs"
)

// DefaultPingTTL is how long a ping response is reused.
const DefaultPingTTL = time.Minute

const pingCacheKey = "ping"

// Pinger is implemented by the transport.
type Pinger interface {
	PublicV3PingGet(ctx context.Context) (*domain.PublicV3PingGetResponse, error)
}

// PingCache remembers the API time reported by the ping endpoint. The
// returned time is advanced by the time elapsed since the ping, so callers
// get an estimate of the current API time without a round trip.
type PingCache struct {
	pinger Pinger
	cache  *cache.Cache
	now    func() time.Time
}

type pingEntry struct {
	apiTime  time.Time
	pingedAt time.Time
}

// NewPingCache returns a cache which keeps ping responses for ttl.
func NewPingCache(pinger Pinger, ttl time.Duration) *PingCache {
	if ttl <= 0 {
		ttl = DefaultPingTTL
	}
	return &PingCache{
		pinger: pinger,
		cache:  cache.New(ttl, 2*ttl),
		now:    time.Now,
	}
}

// APITime returns the current API time, pinging the API when the cached
// response has expired.
func (p *PingCache) APITime(ctx context.Context) (time.Time, error) {
	if v, ok := p.cache.Get(pingCacheKey); ok {
		entry := v.(pingEntry)
		return entry.apiTime.Add(p.now().Sub(entry.pingedAt)), nil
	}

	resp, err := p.pinger.PublicV3PingGet(ctx)
	if err != nil {
		return time.Time{}, err
	}

	p.cache.Set(pingCacheKey, pingEntry{apiTime: resp.APITime, pingedAt: p.now()}, cache.DefaultExpiration)
	klog.FromContext(ctx).WithName("client").V(logs.Trace).Info("cached API time", "apiTime", resp.APITime)

	return resp.APITime, nil
}

// Flush forgets the cached response.
func (p *PingCache) Flush() {
	p.cache.Flush()
}
