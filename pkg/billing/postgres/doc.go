// Package postgres provides the pgx-backed persistence for the billing
// engine: the tenant subscription store, the append-only usage event log,
// and the sequence-repair maintenance hook run by the startup sweep.
//
// Schema migrations live under migrations/ in goose format and are applied
// through pg.Migrate.
package postgres
