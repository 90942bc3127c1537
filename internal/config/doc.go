// Package config loads, normalizes, and validates labelloop configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, loads a working-directory .env file, and
// honours environment fallbacks such as LABEL_STUDIO_API_KEY. The Config type
// centralizes every knob the CLI and pipeline stages need, so Label Studio
// credentials, dataset directories, and conversion policies are discovered in
// one pass.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths, canonical policy names, and clear validation errors.
package config
