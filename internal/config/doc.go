// Package config handles configuration loading for coven-otr.
//
// # Overview
//
// Configuration is loaded from YAML or TOML files with environment variable
// expansion. Missing optional values get defaults; Load validates the result.
//
// # Configuration File
//
// Default locations (in order), resolved by the coven-otr command:
//
//  1. Path from COVEN_OTR_CONFIG environment variable
//  2. $XDG_CONFIG_HOME/coven/otr.yaml
//  3. ~/.config/coven/otr.yaml
//
// A path ending in .toml is decoded as TOML.
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	keys:
//	  passphrase: "${COVEN_OTR_PASSPHRASE}"
//
// Syntax: ${VAR_NAME}. Unset variables expand to the empty string.
//
// # Configuration Sections
//
//	security:
//	  mode: "auto"              # disabled, manual, auto, required
//	  fallback_message: "..."   # shown by clients without encryption support
//	  unreadable_reply: "..."   # sent when a message cannot be decrypted
//
//	database:
//	  path: "~/.local/share/coven/otr.db"
//
//	keys:
//	  passphrase: "${COVEN_OTR_PASSPHRASE}"
//
//	trust:
//	  write_queue_size: 256
//	  write_timeout: "5s"
//
//	logging:
//	  level: "info"   # debug, info, warn, error
//	  format: "text"  # text, json
//
// # Usage
//
//	cfg, err := config.Load("/etc/coven/otr.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	policy := cfg.Security.Policy
package config
