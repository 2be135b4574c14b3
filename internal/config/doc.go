// Package config implements configuration loading for the Equilibria
// gateway.
//
// Values merge in fixed precedence: compiled defaults, then an optional YAML
// file, then EQUILIBRIA_* environment overrides, then validation. The loaded
// Config is read-only after Load returns; there is no hot reload.
package config
