package endpoints

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"

	"github.com/connectivity-monitor/internal/types"
)

const defaultTimeoutMs = 5000

var defaultPrimary = []types.Endpoint{
	{Name: "Google", URL: "https://www.google.com/generate_204", AcceptedStatusCodes: []int{204, 200}, TimeoutMs: defaultTimeoutMs},
	{Name: "Cloudflare", URL: "https://cp.cloudflare.com/generate_204", AcceptedStatusCodes: []int{204, 200}, TimeoutMs: defaultTimeoutMs},
	{Name: "Microsoft", URL: "https://www.msftconnecttest.com/connecttest.txt", AcceptedStatusCodes: []int{200}, TimeoutMs: defaultTimeoutMs},
	{Name: "Apple", URL: "https://captive.apple.com/hotspot-detect.html", AcceptedStatusCodes: []int{200}, TimeoutMs: defaultTimeoutMs},
	{Name: "Firefox", URL: "https://detectportal.firefox.com/success.txt", AcceptedStatusCodes: []int{200}, TimeoutMs: defaultTimeoutMs},
}

var defaultFallback = []types.Endpoint{
	{Name: "Google (HTTP)", URL: "http://www.google.com/generate_204", AcceptedStatusCodes: []int{204, 200}, TimeoutMs: defaultTimeoutMs},
	{Name: "Cloudflare (HTTP)", URL: "http://cp.cloudflare.com/generate_204", AcceptedStatusCodes: []int{204, 200}, TimeoutMs: defaultTimeoutMs},
	{Name: "Microsoft (HTTP)", URL: "http://www.msftconnecttest.com/connecttest.txt", AcceptedStatusCodes: []int{200}, TimeoutMs: defaultTimeoutMs},
	{Name: "Apple (HTTP)", URL: "http://captive.apple.com/hotspot-detect.html", AcceptedStatusCodes: []int{200}, TimeoutMs: defaultTimeoutMs},
	{Name: "Firefox (HTTP)", URL: "http://detectportal.firefox.com/success.txt", AcceptedStatusCodes: []int{200}, TimeoutMs: defaultTimeoutMs},
}

// Registry holds the ordered primary endpoint list and its plain-HTTP fallback.
// Both lists are fixed at construction.
type Registry struct {
	primary  []types.Endpoint
	fallback []types.Endpoint
}

// Default returns the compiled-in endpoint registry
func Default() *Registry {
	r, err := New(defaultPrimary, defaultFallback)
	if err != nil {
		panic("invalid built-in endpoints: " + err.Error())
	}
	return r
}

// New validates and copies the given lists. The fallback list may be empty.
func New(primary, fallback []types.Endpoint) (*Registry, error) {
	if len(primary) == 0 {
		return nil, errors.New("primary endpoint list is empty")
	}
	if err := validate(primary); err != nil {
		return nil, fmt.Errorf("primary: %w", err)
	}
	if err := validate(fallback); err != nil {
		return nil, fmt.Errorf("fallback: %w", err)
	}
	return &Registry{
		primary:  copyEndpoints(primary),
		fallback: copyEndpoints(fallback),
	}, nil
}

// Primary returns a copy of the primary list in probe order
func (r *Registry) Primary() []types.Endpoint {
	return copyEndpoints(r.primary)
}

// Fallback returns a copy of the fallback list in probe order
func (r *Registry) Fallback() []types.Endpoint {
	return copyEndpoints(r.fallback)
}

func validate(list []types.Endpoint) error {
	seen := make(map[string]struct{}, len(list))
	for i, ep := range list {
		if ep.Name == "" {
			return fmt.Errorf("endpoint %d has no name", i)
		}
		if _, dup := seen[ep.Name]; dup {
			return fmt.Errorf("duplicate endpoint name %q", ep.Name)
		}
		seen[ep.Name] = struct{}{}

		u, err := url.Parse(ep.URL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("endpoint %q has invalid url %q", ep.Name, ep.URL)
		}
		if ep.TimeoutMs <= 0 {
			return fmt.Errorf("endpoint %q timeout must be positive", ep.Name)
		}
	}
	return nil
}

func copyEndpoints(list []types.Endpoint) []types.Endpoint {
	out := make([]types.Endpoint, len(list))
	for i, ep := range list {
		out[i] = ep
		if ep.AcceptedStatusCodes != nil {
			out[i].AcceptedStatusCodes = append([]int(nil), ep.AcceptedStatusCodes...)
		}
	}
	return out
}

// FallbackPolicy decides whether the fallback list may be tried once the
// primary list is exhausted. Implementations must not touch the network.
type FallbackPolicy func() bool

// Always allows the fallback list
func Always() FallbackPolicy { return func() bool { return true } }

// Never disables the fallback list
func Never() FallbackPolicy { return func() bool { return false } }

// PlainHTTPOrLocalhost allows the fallback when the service itself is served
// over plain HTTP or bound to a localhost address.
func PlainHTTPOrLocalhost(listenAddr string, tlsEnabled bool) FallbackPolicy {
	local := isLocalhost(listenAddr)
	return func() bool {
		return !tlsEnabled || local
	}
}

// PolicyFromMode maps the configured mode ("auto", "always", "never") to a policy
func PolicyFromMode(mode, listenAddr string, tlsEnabled bool) (FallbackPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case "", "auto":
		return PlainHTTPOrLocalhost(listenAddr, tlsEnabled), nil
	case "always":
		return Always(), nil
	case "never":
		return Never(), nil
	default:
		return nil, fmt.Errorf("unknown fallback mode %q", mode)
	}
}

func isLocalhost(addr string) bool {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		host = addr
	}
	host = strings.Trim(host, "[]")
	if strings.EqualFold(host, "localhost") {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
