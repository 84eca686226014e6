// Package config loads head, participant and script TOML files.
//
// Service files are decoded with BurntSushi/toml and applied as overrides
// on top of the Default*Config values: only keys present in the file change
// anything. Scripts are decoded with go-toml.
package config
