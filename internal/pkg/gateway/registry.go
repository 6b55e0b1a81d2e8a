package gateway

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrGatewayNotRegistered is wrapped by ConfigError when a name has no client.
var ErrGatewayNotRegistered = errors.New("gateway not registered")

// ConfigError reports a gateway name that the process was not configured for.
type ConfigError struct {
	Gateway string
	Err     error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("payment gateway %q is not configured: %v", e.Gateway, e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }

// Registry maps canonical gateway names to clients. It is built once at
// startup and never mutated, so concurrent reads need no locking.
type Registry struct {
	clients map[string]Client
	names   []string
}

// NewRegistry builds an immutable registry. Names are taken from each
// client's GatewayName and must be unique.
func NewRegistry(clients ...Client) (*Registry, error) {
	r := &Registry{clients: make(map[string]Client, len(clients))}
	for _, c := range clients {
		if c == nil {
			continue
		}
		name := NormalizeName(c.GatewayName())
		if name == "" {
			return nil, errors.New("gateway client reports an empty name")
		}
		if _, exists := r.clients[name]; exists {
			return nil, fmt.Errorf("gateway %q registered twice", name)
		}
		r.clients[name] = c
		r.names = append(r.names, name)
	}
	sort.Strings(r.names)
	return r, nil
}

// Resolve returns the client for name or a *ConfigError.
func (r *Registry) Resolve(name string) (Client, error) {
	key := NormalizeName(name)
	c, ok := r.clients[key]
	if !ok {
		return nil, &ConfigError{Gateway: key, Err: ErrGatewayNotRegistered}
	}
	return c, nil
}

func (r *Registry) Has(name string) bool {
	_, ok := r.clients[NormalizeName(name)]
	return ok
}

// Available lists registered gateway names in sorted order.
func (r *Registry) Available() []string {
	out := make([]string, len(r.names))
	copy(out, r.names)
	return out
}

func NormalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
