// Package cache provides a small generic TTL cache with bounded capacity.
//
// It exists so that lookup tables with a freshness requirement (for example
// the provider price-ID index in pkg/billing) can be injected through
// constructors instead of living in module-level singletons.
package cache
