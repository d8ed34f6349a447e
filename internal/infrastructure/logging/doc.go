// Package logging wraps log/slog with fieldcore's conventions: JSON records
// by default (text for development), level filtering from the config file,
// and service/version attributes stamped on every entry.
//
// Configured from the logging section of config.yaml:
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr
//
// Components take a child logger via With so every record names its origin:
//
//	log := logger.With("component", "mlog")
//	log.Info("chunk compressed", "chunk_id", id)
//
// Secrets and credentials must never appear in log attributes.
package logging
