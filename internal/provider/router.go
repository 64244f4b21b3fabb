package provider

import (
	"fmt"
	"sync"

	"github.com/ShayCichocki/swarm/pkg/models"
)

// Account holds account-level routing preferences.
type Account struct {
	// Preferred is tried after the caller's preference.
	Preferred string
	// Allowed restricts routing to these names when non-empty.
	Allowed []string
}

// Router resolves the ordered fallback chain for an instance.
type Router struct {
	mu        sync.RWMutex
	providers map[string]Provider
	order     []string
	account   Account
}

// NewRouter creates a router with a default fallback order.
func NewRouter(order []string, account Account) *Router {
	return &Router{
		providers: make(map[string]Provider),
		order:     append([]string(nil), order...),
		account:   account,
	}
}

// Register adds or replaces a provider. Providers not named in the default
// order are appended to it in registration order.
func (r *Router) Register(p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := p.Name()
	if _, exists := r.providers[name]; !exists && !contains(r.order, name) {
		r.order = append(r.order, name)
	}
	r.providers[name] = p
}

// Get returns a registered provider by name.
func (r *Router) Get(name string) (Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, name)
	}
	return p, nil
}

// Names returns the registered provider names in default order.
func (r *Router) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var names []string
	for _, n := range r.order {
		if _, ok := r.providers[n]; ok {
			names = append(names, n)
		}
	}
	return names
}

// Candidates returns providers in the order they should be tried: the caller's
// preference, the account preference, then the default order. Unknown and
// disallowed names are skipped. A pinned selection yields only the preference.
func (r *Router) Candidates(preferred string, selection models.SelectionMode) ([]Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if selection == models.SelectionPinned {
		if preferred == "" {
			return nil, fmt.Errorf("%w: pinned selection without a preferred provider", ErrNoCandidates)
		}
		p, ok := r.providers[preferred]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, preferred)
		}
		if !r.allowed(preferred) {
			return nil, fmt.Errorf("%w: %s is not allowed for this account", ErrNoCandidates, preferred)
		}
		return []Provider{p}, nil
	}

	names := make([]string, 0, len(r.order)+2)
	names = append(names, preferred, r.account.Preferred)
	names = append(names, r.order...)

	seen := make(map[string]bool, len(names))
	var out []Provider
	for _, n := range names {
		if n == "" || seen[n] {
			continue
		}
		seen[n] = true
		p, ok := r.providers[n]
		if !ok || !r.allowed(n) {
			continue
		}
		out = append(out, p)
	}
	if len(out) == 0 {
		return nil, ErrNoCandidates
	}
	return out, nil
}

func (r *Router) allowed(name string) bool {
	return len(r.account.Allowed) == 0 || contains(r.account.Allowed, name)
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
