// Package redis provides Redis connectivity for the billing service. The
// client backs the distributed per-tenant locks used to serialize
// provider-mutating billing operations across instances.
package redis
