// Package failover picks a replacement master when the current one stops
// answering. Failed masters are parked for a cooldown window so rotation
// does not bounce straight back to an address that just failed.
package failover

import (
	"fmt"
	"math/rand"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"pkt.systems/hyperspace/internal/clock"
	"pkt.systems/hyperspace/internal/svcfields"
	"pkt.systems/pslog"
)

// DefaultCooldown is how long a failed master is skipped by rotation.
const DefaultCooldown = 5 * time.Second

// Config configures a Resolver.
type Config struct {
	Endpoints []string
	Cooldown  time.Duration
	Shuffle   bool
	Insecure  bool
	Clock     clock.Clock
	Logger    pslog.Logger
	// Rand seeds the shuffle; nil uses a time-seeded source.
	Rand *rand.Rand
}

// Resolver rotates through a fixed master list.
type Resolver struct {
	endpoints []string
	cooldown  time.Duration
	clock     clock.Clock
	logger    pslog.Logger

	mu     sync.Mutex
	failed *gocache.Cache
}

// New normalizes the endpoint list and returns a resolver.
func New(cfg Config) (*Resolver, error) {
	endpoints, err := NormalizeEndpoints(cfg.Endpoints, cfg.Insecure)
	if err != nil {
		return nil, err
	}
	if cfg.Cooldown < 0 {
		return nil, fmt.Errorf("failover: cooldown must not be negative")
	}
	cooldown := cfg.Cooldown
	if cooldown == 0 {
		cooldown = DefaultCooldown
	}
	if cfg.Shuffle && len(endpoints) > 1 {
		rnd := cfg.Rand
		if rnd == nil {
			rnd = rand.New(rand.NewSource(time.Now().UnixNano()))
		}
		rnd.Shuffle(len(endpoints), func(i, j int) {
			endpoints[i], endpoints[j] = endpoints[j], endpoints[i]
		})
	}
	clk := cfg.Clock
	if clk == nil {
		clk = clock.Real{}
	}
	return &Resolver{
		endpoints: endpoints,
		cooldown:  cooldown,
		clock:     clk,
		logger:    svcfields.WithSubsystem(cfg.Logger, "session.failover.resolver"),
		failed:    gocache.New(cooldown, 0), // no janitor; bounded by the endpoint list
	}, nil
}

// Initial returns the first master to contact.
func (r *Resolver) Initial() string {
	return r.endpoints[0]
}

// Endpoints returns a copy of the rotation order.
func (r *Resolver) Endpoints() []string {
	return append([]string(nil), r.endpoints...)
}

// ResolveNewMaster marks current as failed and returns the next endpoint in
// rotation that is not cooling down. It reports false when every other
// endpoint failed within the cooldown window.
func (r *Resolver) ResolveNewMaster(current string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.clock.Now()
	if current != "" {
		r.failed.Set(current, now.Add(r.cooldown), r.cooldown)
	}
	start := 0
	for i, ep := range r.endpoints {
		if ep == current {
			start = i + 1
			break
		}
	}
	for i := 0; i < len(r.endpoints); i++ {
		candidate := r.endpoints[(start+i)%len(r.endpoints)]
		if candidate == current || r.coolingLocked(candidate, now) {
			continue
		}
		r.logger.Debug("session.failover.candidate", "from", current, "to", candidate)
		return candidate, true
	}
	r.logger.Warn("session.failover.exhausted", "from", current, "endpoints", len(r.endpoints))
	return "", false
}

// MarkHealthy clears any cooldown recorded for addr.
func (r *Resolver) MarkHealthy(addr string) {
	r.mu.Lock()
	r.failed.Delete(addr)
	r.mu.Unlock()
}

// CoolingDown reports whether addr failed within the cooldown window.
func (r *Resolver) CoolingDown(addr string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.coolingLocked(addr, r.clock.Now())
}

// coolingLocked checks the stored deadline against the session clock; the
// cache's own expiry only reclaims memory.
func (r *Resolver) coolingLocked(addr string, now time.Time) bool {
	v, ok := r.failed.Get(addr)
	if !ok {
		return false
	}
	until, ok := v.(time.Time)
	if !ok || !now.Before(until) {
		r.failed.Delete(addr)
		return false
	}
	return true
}
