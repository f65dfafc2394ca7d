// Package config loads typed configuration structs from environment
// variables, with per-type caching so the same config can be requested from
// multiple packages without re-parsing the environment.
package config
