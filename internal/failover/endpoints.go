package failover

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
)

// DefaultPort is applied to endpoints given without an explicit port.
const DefaultPort = "7373"

// ErrNoEndpoints is returned when an endpoint list is empty after trimming.
var ErrNoEndpoints = errors.New("failover: no master endpoints provided")

// ParseEndpoints splits a comma-separated master list and normalizes each
// entry, applying the default scheme and port.
func ParseEndpoints(raw string, insecure bool) ([]string, error) {
	return NormalizeEndpoints(strings.Split(raw, ","), insecure)
}

// NormalizeEndpoints normalizes every non-blank entry and drops duplicates
// while keeping the first occurrence's position.
func NormalizeEndpoints(parts []string, insecure bool) ([]string, error) {
	endpoints := make([]string, 0, len(parts))
	seen := make(map[string]struct{}, len(parts))
	for _, part := range parts {
		ep := strings.TrimSpace(part)
		if ep == "" {
			continue
		}
		normalized, err := NormalizeEndpoint(ep, insecure)
		if err != nil {
			return nil, err
		}
		if _, dup := seen[normalized]; dup {
			continue
		}
		seen[normalized] = struct{}{}
		endpoints = append(endpoints, normalized)
	}
	if len(endpoints) == 0 {
		return nil, ErrNoEndpoints
	}
	return endpoints, nil
}

// NormalizeEndpoint turns host, host:port or a full URL into a canonical
// scheme://host:port base URL without a trailing slash.
func NormalizeEndpoint(raw string, insecure bool) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", fmt.Errorf("failover: empty endpoint")
	}
	if !strings.HasPrefix(trimmed, "http://") && !strings.HasPrefix(trimmed, "https://") {
		scheme := "https://"
		if insecure {
			scheme = "http://"
		}
		trimmed = scheme + trimmed
	}
	u, err := url.Parse(trimmed)
	if err != nil {
		return "", fmt.Errorf("failover: parse endpoint %q: %w", raw, err)
	}
	host := u.Hostname()
	if host == "" {
		return "", fmt.Errorf("failover: endpoint %q has no host", raw)
	}
	port := u.Port()
	if port == "" {
		port = DefaultPort
	}
	u.Host = net.JoinHostPort(host, port)
	return strings.TrimRight(u.String(), "/"), nil
}
