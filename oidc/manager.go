package oidckit

import (
	"context"
	"net/http"
	"sync"

	"github.com/sirupsen/logrus"
)

// Manager resolves and remembers discovery results per issuer. A failed lookup is
// not cached, so the next call retries.
type Manager struct {
	hc *http.Client

	mu       sync.Mutex
	resolved map[string]Endpoints
}

func NewManager(hc *http.Client) *Manager {
	return &Manager{hc: hc, resolved: map[string]Endpoints{}}
}

// Endpoints returns the discovery result for issuer, fetching it on first use.
func (m *Manager) Endpoints(ctx context.Context, issuer string) (Endpoints, error) {
	m.mu.Lock()
	ep, ok := m.resolved[issuer]
	m.mu.Unlock()
	if ok {
		return ep, nil
	}
	ep, err := Discover(ctx, issuer, m.hc)
	if err != nil {
		logrus.WithError(err).WithField("issuer", issuer).Error("oidc_discovery_failed")
		return Endpoints{}, err
	}
	m.mu.Lock()
	m.resolved[issuer] = ep
	m.mu.Unlock()
	return ep, nil
}

// JWKSURL is shorthand for Endpoints(ctx, issuer).JWKSURI.
func (m *Manager) JWKSURL(ctx context.Context, issuer string) (string, error) {
	ep, err := m.Endpoints(ctx, issuer)
	return ep.JWKSURI, err
}

// TokenEndpoint is shorthand for Endpoints(ctx, issuer).TokenEndpoint.
func (m *Manager) TokenEndpoint(ctx context.Context, issuer string) (string, error) {
	ep, err := m.Endpoints(ctx, issuer)
	return ep.TokenEndpoint, err
}
