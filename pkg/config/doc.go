// Package config loads the YAML daemon configuration files with sane
// defaults for single-node development setups.
package config
