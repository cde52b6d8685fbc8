// Package config loads repack settings from TOML and turns them into the
// functional options the library packages accept.
package config
