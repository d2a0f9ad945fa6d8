package security

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
	"time"

	"github.com/clawinfra/toolgate/internal/decision"
)

// DefaultLookupTimeout bounds DNS resolution for network checks.
const DefaultLookupTimeout = 2 * time.Second

// MaxLookupTimeout caps any configured lookup timeout.
const MaxLookupTimeout = 5 * time.Second

// Resolver resolves host names. *net.Resolver satisfies it.
type Resolver interface {
	LookupIPAddr(ctx context.Context, host string) ([]net.IPAddr, error)
}

// ErrUnparseableTarget is returned when a network argument has no host.
var ErrUnparseableTarget = errors.New("security: cannot parse network target")

// parseHost extracts the host from a URL, host:port or bare host.
func parseHost(arg string) (string, error) {
	arg = strings.TrimSpace(arg)
	var host string
	if strings.Contains(arg, "://") {
		u, err := url.Parse(arg)
		if err != nil {
			return "", fmt.Errorf("%w: %v", ErrUnparseableTarget, err)
		}
		host = u.Hostname()
	} else if h, _, err := net.SplitHostPort(arg); err == nil {
		host = h
	} else {
		host = strings.SplitN(arg, "/", 2)[0]
		host = strings.Trim(host, "[]")
	}
	host = strings.TrimSuffix(strings.ToLower(host), ".")
	if host == "" || strings.ContainsAny(host, " \t\n@") {
		return "", ErrUnparseableTarget
	}
	return host, nil
}

type ipRules struct {
	nets  []*net.IPNet
	ips   []net.IP
	hosts []string
	raw   map[string]string
}

func parseIPRules(entries []string) ipRules {
	r := ipRules{raw: make(map[string]string)}
	for _, e := range entries {
		e = strings.TrimSpace(e)
		switch {
		case e == "":
		case strings.Contains(e, "/"):
			if _, n, err := net.ParseCIDR(e); err == nil {
				r.nets = append(r.nets, n)
				r.raw[n.String()] = e
			}
		case net.ParseIP(e) != nil:
			r.ips = append(r.ips, net.ParseIP(e))
		default:
			r.hosts = append(r.hosts, strings.TrimSuffix(strings.ToLower(e), "."))
		}
	}
	return r
}

func (r ipRules) hasAddressRules() bool {
	return len(r.nets) > 0 || len(r.ips) > 0
}

// deniedBy returns the rule denying ip, or "".
func (r ipRules) deniedBy(ip net.IP) string {
	for _, d := range r.ips {
		if d.Equal(ip) {
			return d.String()
		}
	}
	for _, n := range r.nets {
		if n.Contains(ip) {
			return r.raw[n.String()]
		}
	}
	return ""
}

// checkNetwork validates outbound access to the host named by arg.
func (v *Validator) checkNetwork(ctx context.Context, rules NetworkRules, arg string) decision.Decision {
	host, err := parseHost(arg)
	if err != nil {
		return decision.Denyf("missing required argument: cannot parse network target %q", arg)
	}

	denied := parseIPRules(rules.DeniedIPs)
	for _, h := range denied.hosts {
		if host == h {
			return decision.Denyf("host %q denied by denied_ips entry %q", host, h)
		}
	}

	if ip := net.ParseIP(host); ip != nil {
		if rule := denied.deniedBy(ip); rule != "" {
			return decision.Denyf("address %s denied by denied_ips entry %q", ip, rule)
		}
	} else if denied.hasAddressRules() {
		addrs, err := v.lookup(ctx, host)
		if err != nil {
			return decision.Askf("could not resolve host %q: %v", host, err)
		}
		for _, a := range addrs {
			if rule := denied.deniedBy(a.IP); rule != "" {
				return decision.Denyf("host %q resolves to %s denied by denied_ips entry %q", host, a.IP, rule)
			}
		}
	}

	for _, pattern := range rules.AllowedDomains {
		if domainMatches(strings.ToLower(strings.TrimSpace(pattern)), host) {
			return decision.Allowf("host %q allowed by allowed_domains entry %q", host, pattern)
		}
	}
	return decision.Askf("host %q is not in allowed_domains", host)
}

func (v *Validator) lookup(ctx context.Context, host string) ([]net.IPAddr, error) {
	resolver := v.Resolver
	if resolver == nil {
		resolver = net.DefaultResolver
	}
	timeout := v.LookupTimeout
	if timeout <= 0 {
		timeout = DefaultLookupTimeout
	}
	if timeout > MaxLookupTimeout {
		timeout = MaxLookupTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type result struct {
		addrs []net.IPAddr
		err   error
	}
	ch := make(chan result, 1)
	go func() {
		addrs, err := resolver.LookupIPAddr(ctx, host)
		ch <- result{addrs, err}
	}()
	select {
	case r := <-ch:
		if r.err == nil && len(r.addrs) == 0 {
			return nil, fmt.Errorf("no addresses")
		}
		return r.addrs, r.err
	case <-ctx.Done():
		return nil, fmt.Errorf("lookup timed out after %s", timeout)
	}
}

// domainMatches supports exact names, "*" and "*.suffix" wildcards. A
// "*.suffix" pattern does not match the bare suffix.
func domainMatches(pattern, host string) bool {
	switch {
	case pattern == "":
		return false
	case pattern == "*":
		return true
	case strings.HasPrefix(pattern, "*."):
		return strings.HasSuffix(host, pattern[1:])
	default:
		return host == strings.TrimSuffix(pattern, ".")
	}
}
