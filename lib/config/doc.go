// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package config loads the camille configuration.
//
// Configuration is loaded from a single YAML file specified by:
//   - the CAMILLE_CONFIG environment variable, or
//   - the --config flag passed to the command
//
// Before the file is read, a .env file (if present) is loaded into the
// process environment with godotenv; variables already set win. String
// values in the file may reference the environment as ${VAR} or
// ${VAR:-default}.
//
// A small set of CAMILLE_* variables override top-level settings, for
// container deployments where editing the file is awkward:
//
//	CAMILLE_WINDOW_SIZE, CAMILLE_STATE_DIR, CAMILLE_LOG_LEVEL,
//	CAMILLE_ADMIN_LISTEN, CAMILLE_DEFAULT_MODEL
//
// Credentials (server tokens, model API keys, the CouchDB password) are
// never kept in the Config as plain strings longer than necessary:
// [ServerConfig.ResolveToken] and friends return them as
// [secret.Buffer] values, read either from the file, from an
// environment variable, or from the file named by the variable's _FILE
// variant.
package config
