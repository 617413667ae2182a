// Package config loads, normalizes, and validates texttools configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and honours environment fallbacks such as
// OPENAI_API_KEY. The Config type centralizes every knob the CLI needs: where
// job state lives, how the provider is reached, how inputs are chunked, and
// which result handlers run.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths, canonical log formats, and clear validation errors.
package config
