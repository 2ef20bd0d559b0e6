// Package secrets matches byte buffers against a named set of secret
// patterns, gates matches on entropy, and filters them through allowlists.
package secrets

import "errors"

var (
	// ErrInvalidRegex indicates a regex pattern failed to compile.
	ErrInvalidRegex = errors.New("invalid regex pattern")

	// ErrInvalidRuleSource indicates a rule source is not a JSON object of rules.
	ErrInvalidRuleSource = errors.New("invalid rule source")

	// ErrInvalidAllowlist indicates an allowlist source could not be decoded.
	ErrInvalidAllowlist = errors.New("invalid allowlist source")

	// ErrInvalidTOML indicates a TOML file could not be parsed.
	ErrInvalidTOML = errors.New("invalid TOML format")

	// ErrAllowlistNotFound indicates an allowlist file was not found.
	ErrAllowlistNotFound = errors.New("allowlist file not found")
)
