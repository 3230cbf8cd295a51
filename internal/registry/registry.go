// Package registry defines the fixed set of data domains the sync engine
// keeps fresh. The same registry drives cache invalidation and diffing, so a
// domain is either covered by both or by neither.
package registry

import (
	"errors"
	"fmt"
	"strings"

	"github.com/storesync/storesync/internal/cache"
)

var (
	// ErrDuplicateType is returned when two descriptors share a Type.
	ErrDuplicateType = errors.New("duplicate data type")

	// ErrUnknownType is returned when looking up a type that isn't registered.
	ErrUnknownType = errors.New("unknown data type")
)

// Data type identifiers.
const (
	TypeOrders         = "orders"
	TypeProducts       = "products"
	TypeDashboardStats = "dashboardStats"
	TypeFinancial      = "financial"
	TypeReturns        = "returns"
	TypeClaims         = "claims"
	TypeQAQuestions    = "qaQuestions"
	TypeExpenses       = "expenses"
)

// Descriptor describes one data domain.
type Descriptor struct {
	// Type is the stable identifier used in sync logs.
	Type string

	// Namespace is the first cache key segment for this domain.
	Namespace string

	// Path is the REST path template the domain is fetched from.
	// "{store}" is replaced with the tenant id.
	Path string
}

// QueryKey returns the cache key holding this domain's data for a tenant.
func (d Descriptor) QueryKey(tenantID string) cache.Key {
	return cache.Key{d.Namespace, tenantID}
}

// Prefix returns the key prefix invalidated for a tenant. It covers the
// query key and any parameterized variants stored beneath it.
func (d Descriptor) Prefix(tenantID string) cache.Key {
	return cache.Key{d.Namespace, tenantID}
}

// ResolvePath expands Path for a tenant.
func (d Descriptor) ResolvePath(tenantID string) string {
	return strings.ReplaceAll(d.Path, "{store}", tenantID)
}

// Registry is an ordered, immutable set of descriptors.
type Registry struct {
	descs  []Descriptor
	byType map[string]int
}

// New builds a registry, preserving order. Types must be unique and non-empty.
func New(descs ...Descriptor) (*Registry, error) {
	r := &Registry{
		descs:  make([]Descriptor, 0, len(descs)),
		byType: make(map[string]int, len(descs)),
	}
	for _, d := range descs {
		if d.Type == "" {
			return nil, fmt.Errorf("descriptor type is required")
		}
		if d.Namespace == "" {
			return nil, fmt.Errorf("descriptor %s: namespace is required", d.Type)
		}
		if _, dup := r.byType[d.Type]; dup {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateType, d.Type)
		}
		r.byType[d.Type] = len(r.descs)
		r.descs = append(r.descs, d)
	}
	return r, nil
}

// MustNew is like New but panics on error. Intended for package-level registries.
func MustNew(descs ...Descriptor) *Registry {
	r, err := New(descs...)
	if err != nil {
		panic(err)
	}
	return r
}

// Default is the registry of every domain the seller dashboard caches.
var Default = MustNew(
	Descriptor{Type: TypeOrders, Namespace: "orders", Path: "/api/stores/{store}/orders"},
	Descriptor{Type: TypeProducts, Namespace: "products", Path: "/api/stores/{store}/products"},
	Descriptor{Type: TypeDashboardStats, Namespace: "dashboard-stats", Path: "/api/stores/{store}/dashboard/stats"},
	Descriptor{Type: TypeFinancial, Namespace: "financial-stats", Path: "/api/stores/{store}/financial/stats"},
	Descriptor{Type: TypeReturns, Namespace: "return-analytics", Path: "/api/stores/{store}/returns/analytics"},
	Descriptor{Type: TypeClaims, Namespace: "claims", Path: "/api/stores/{store}/claims"},
	Descriptor{Type: TypeQAQuestions, Namespace: "qa-questions", Path: "/api/stores/{store}/qa/questions"},
	Descriptor{Type: TypeExpenses, Namespace: "expenses", Path: "/api/stores/{store}/expenses"},
)

// All returns the descriptors in registration order.
func (r *Registry) All() []Descriptor {
	out := make([]Descriptor, len(r.descs))
	copy(out, r.descs)
	return out
}

// Types returns the registered type identifiers in order.
func (r *Registry) Types() []string {
	out := make([]string, len(r.descs))
	for i, d := range r.descs {
		out[i] = d.Type
	}
	return out
}

// Len returns the number of descriptors.
func (r *Registry) Len() int {
	return len(r.descs)
}

// Lookup returns the descriptor for typ.
func (r *Registry) Lookup(typ string) (Descriptor, error) {
	i, ok := r.byType[typ]
	if !ok {
		return Descriptor{}, fmt.Errorf("%w: %s", ErrUnknownType, typ)
	}
	return r.descs[i], nil
}

// Prefixes returns every invalidation prefix for a tenant, in order.
func (r *Registry) Prefixes(tenantID string) []cache.Key {
	out := make([]cache.Key, len(r.descs))
	for i, d := range r.descs {
		out[i] = d.Prefix(tenantID)
	}
	return out
}
