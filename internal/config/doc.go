// Package config provides configuration loading for the Aura daemon. It
// parses a JSON file, fills in defaults, and resolves relative paths against
// the configuration directory.
package config
