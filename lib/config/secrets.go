// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/bureau-foundation/camille/lib/secret"
)

// ResolveToken returns the server's access token. Sources, first match
// wins: CAMILLE_SERVER_<NAME>_TOKEN_FILE, CAMILLE_SERVER_<NAME>_TOKEN,
// token_file, token.
func (s ServerConfig) ResolveToken() (*secret.Buffer, error) {
	prefix := "CAMILLE_SERVER_" + envName(s.Name) + "_TOKEN"
	buffer, err := resolveSecret(os.LookupEnv, prefix, s.TokenFile, s.Token)
	if err != nil {
		return nil, fmt.Errorf("config: server %s token: %w", s.Name, err)
	}
	if buffer == nil {
		return nil, fmt.Errorf("config: server %s has no token (set token_file or %s_FILE)", s.Name, prefix)
	}
	return buffer, nil
}

// ResolveAPIKey returns the profile's API key, or nil when none is
// configured (local OpenAI-compatible servers need none). Sources,
// first match wins: CAMILLE_MODEL_<NAME>_API_KEY_FILE,
// CAMILLE_MODEL_<NAME>_API_KEY, api_key_file, api_key.
func (m ModelConfig) ResolveAPIKey(name string) (*secret.Buffer, error) {
	prefix := "CAMILLE_MODEL_" + envName(name) + "_API_KEY"
	buffer, err := resolveSecret(os.LookupEnv, prefix, m.APIKeyFile, m.APIKey)
	if err != nil {
		return nil, fmt.Errorf("config: model %s api key: %w", name, err)
	}
	return buffer, nil
}

// ResolvePassword returns the CouchDB password, or nil when none is
// configured. Sources: CAMILLE_COUCHDB_PASSWORD_FILE,
// CAMILLE_COUCHDB_PASSWORD, password_file, password.
func (c CouchDBConfig) ResolvePassword() (*secret.Buffer, error) {
	buffer, err := resolveSecret(os.LookupEnv, "CAMILLE_COUCHDB_PASSWORD", c.PasswordFile, c.Password)
	if err != nil {
		return nil, fmt.Errorf("config: couchdb password: %w", err)
	}
	return buffer, nil
}

// resolveSecret reads a credential from the first configured source.
// It returns nil, nil when no source is set.
func resolveSecret(lookup func(string) (string, bool), envVar, file, inline string) (*secret.Buffer, error) {
	if path, ok := lookup(envVar + "_FILE"); ok && path != "" {
		return secret.ReadFile(path)
	}
	if value, ok := lookup(envVar); ok && value != "" {
		return secret.NewFromString(value)
	}
	if file != "" {
		return secret.ReadFile(file)
	}
	if inline != "" {
		slog.Debug("credential read from config file", "variable", envVar)
		return secret.NewFromString(inline)
	}
	return nil, nil
}
