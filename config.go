package hyperspace

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/xid"

	"pkt.systems/hyperspace/internal/failover"
	"pkt.systems/hyperspace/internal/transport"
)

const (
	// DefaultLeaseInterval is the lease requested when none is configured.
	DefaultLeaseInterval = 12 * time.Second
	// DefaultGracePeriod is how long a session may stay in jeopardy before it expires.
	DefaultGracePeriod = 45 * time.Second
	// DefaultRequestTimeout bounds each keepalive and open request.
	DefaultRequestTimeout = transport.DefaultRequestTimeout
	// DefaultFailoverCooldown is how long a failed master is skipped by rotation.
	DefaultFailoverCooldown = failover.DefaultCooldown
)

// ErrInvalidConfig wraps configuration validation failures.
var ErrInvalidConfig = errors.New("hyperspace: invalid config")

// Config captures the tunables for a client session.
type Config struct {
	// Masters lists master endpoints (host, host:port or URL). The first
	// reachable one hosts the session; the rest serve failover.
	Masters []string
	// Insecure selects http:// for endpoints given without a scheme.
	Insecure bool
	// ShuffleMasters randomises the rotation order once at Open.
	ShuffleMasters bool
	// SessionID attaches to an existing session instead of opening one.
	SessionID uint64
	// ClientID identifies this process to the master. Empty generates one.
	ClientID string

	// LeaseInterval is how long the session stays healthy after a renewal.
	LeaseInterval time.Duration
	// KeepaliveInterval is the send period. Zero uses a third of the lease.
	KeepaliveInterval time.Duration
	// GracePeriod extends an unrenewed session from jeopardy to expiry.
	GracePeriod time.Duration

	RequestTimeout   time.Duration
	FailoverCooldown time.Duration
}

// Validate applies defaults and verifies the configuration.
func (c *Config) Validate() error {
	if c.LeaseInterval == 0 {
		c.LeaseInterval = DefaultLeaseInterval
	} else if c.LeaseInterval < 0 {
		return fmt.Errorf("%w: lease interval must be > 0", ErrInvalidConfig)
	}
	if c.GracePeriod == 0 {
		c.GracePeriod = DefaultGracePeriod
	} else if c.GracePeriod < 0 {
		return fmt.Errorf("%w: grace period must be > 0", ErrInvalidConfig)
	}
	if c.KeepaliveInterval < 0 || (c.KeepaliveInterval > 0 && c.KeepaliveInterval >= c.LeaseInterval) {
		return fmt.Errorf("%w: keepalive interval %s must be below lease interval %s", ErrInvalidConfig, c.KeepaliveInterval, c.LeaseInterval)
	}
	if c.RequestTimeout == 0 {
		c.RequestTimeout = DefaultRequestTimeout
	} else if c.RequestTimeout < 0 {
		return fmt.Errorf("%w: request timeout must be > 0", ErrInvalidConfig)
	}
	if c.FailoverCooldown == 0 {
		c.FailoverCooldown = DefaultFailoverCooldown
	} else if c.FailoverCooldown < 0 {
		return fmt.Errorf("%w: failover cooldown must be >= 0", ErrInvalidConfig)
	}
	masters, err := failover.NormalizeEndpoints(c.Masters, c.Insecure)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	c.Masters = masters
	c.ClientID = strings.TrimSpace(c.ClientID)
	if c.ClientID == "" {
		c.ClientID = defaultClientID()
	}
	return nil
}

// EffectiveKeepaliveInterval returns the configured send period or its default.
func (c Config) EffectiveKeepaliveInterval() time.Duration {
	if c.KeepaliveInterval > 0 {
		return c.KeepaliveInterval
	}
	return c.LeaseInterval / 3
}

func defaultClientID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "hyperspace"
	}
	return host + "-" + xid.New().String()
}
