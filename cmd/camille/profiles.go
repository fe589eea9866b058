// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/bureau-foundation/camille/lib/config"
	"github.com/bureau-foundation/camille/lib/generator"
	"github.com/bureau-foundation/camille/lib/llm"
	"github.com/bureau-foundation/camille/lib/turn"
)

// modelHTTPTimeout bounds one model call, streaming included.
const modelHTTPTimeout = 5 * time.Minute

// buildProfiles creates a provider and generator for every configured
// model profile.
func buildProfiles(ctx context.Context, cfg *config.Config, logger *slog.Logger) (map[string]*turn.Profile, error) {
	httpClient := &http.Client{Timeout: modelHTTPTimeout}
	profiles := make(map[string]*turn.Profile, len(cfg.Models))
	for name, model := range cfg.Models {
		provider, err := newProvider(ctx, name, model, httpClient)
		if err != nil {
			return nil, err
		}
		gen, err := generator.New(generator.Config{
			Provider:    provider,
			Model:       model.Model,
			MaxTokens:   model.MaxTokens,
			Temperature: model.Temperature,
			Logger:      logger.With("profile", name),
		})
		if err != nil {
			return nil, fmt.Errorf("model profile %s: %w", name, err)
		}
		profiles[name] = &turn.Profile{
			Name:        name,
			Description: model.Description,
			Personality: model.Personality,
			Generator:   gen,
		}
		logger.Info("model profile ready", "profile", name, "provider", model.Provider, "model", model.Model)
	}
	return profiles, nil
}

func newProvider(ctx context.Context, name string, model config.ModelConfig, httpClient *http.Client) (llm.Provider, error) {
	apiKey, err := model.ResolveAPIKey(name)
	if err != nil {
		return nil, err
	}
	httpConfig := llm.HTTPConfig{BaseURL: model.BaseURL, HTTPClient: httpClient}
	if apiKey != nil {
		// The providers hold the key as a string for the lifetime of
		// the process.
		httpConfig.APIKey = apiKey.String()
		apiKey.Close()
	}

	switch model.Provider {
	case config.ProviderAnthropic:
		return llm.NewAnthropic(httpConfig), nil
	case config.ProviderOpenAI:
		return llm.NewOpenAI(httpConfig), nil
	case config.ProviderGemini:
		return llm.NewGemini(ctx, httpConfig)
	}
	return nil, fmt.Errorf("model profile %s: unknown provider %q", name, model.Provider)
}
