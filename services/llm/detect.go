// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package llm

import (
	"fmt"
	"log/slog"
	"os"
)

// Provider names a supported oracle backend.
type Provider string

const (
	ProviderAzure     Provider = "azure"
	ProviderOpenAI    Provider = "openai"
	ProviderAnthropic Provider = "anthropic"
	ProviderGoogle    Provider = "google"
	ProviderCohere    Provider = "cohere"
	ProviderOllama    Provider = "ollama"

	// ProviderAuto asks DetectProvider to pick from ambient credentials.
	ProviderAuto Provider = "auto"
)

// credentialEnvs maps each hosted provider to the environment variables that
// can carry its API key, in lookup order. NewSecretFromEnv also consults the
// matching /run/secrets entries.
var credentialEnvs = map[Provider][]string{
	ProviderAzure:     {"AZURE_OPENAI_API_KEY"},
	ProviderOpenAI:    {"OPENAI_API_KEY"},
	ProviderAnthropic: {"ANTHROPIC_API_KEY"},
	ProviderGoogle:    {"GOOGLE_API_KEY", "GEMINI_API_KEY"},
	ProviderCohere:    {"COHERE_API_KEY"},
}

// modelEnvs maps each provider to the environment variable that overrides
// its model when the config leaves ModelName empty.
var modelEnvs = map[Provider]string{
	ProviderAzure:     "AZURE_OPENAI_DEPLOYMENT",
	ProviderOpenAI:    "OPENAI_MODEL",
	ProviderAnthropic: "CLAUDE_MODEL",
	ProviderGoogle:    "GEMINI_MODEL",
	ProviderCohere:    "COHERE_MODEL",
	ProviderOllama:    "OLLAMA_MODEL",
}

// detectionOrder fixes which credential wins when several are present.
var detectionOrder = []Provider{
	ProviderAzure,
	ProviderOpenAI,
	ProviderAnthropic,
	ProviderGoogle,
	ProviderCohere,
}

// DetectProvider inspects ambient credentials and returns the first hosted
// provider that has one, falling back to Ollama when none do.
//
// # Description
//
// Hosted providers are checked in a fixed priority order so a machine with
// several keys behaves deterministically. Ollama needs no credential and is
// always available as the final fallback.
//
// # Outputs
//
//   - Provider: The selected backend.
//   - *Secret: The matching credential, nil for Ollama.
func DetectProvider() (Provider, *Secret) {
	for _, p := range detectionOrder {
		if secret := NewSecretFromEnv(credentialEnvs[p]...); secret != nil {
			slog.Info("Detected LLM provider from credentials", "provider", string(p))
			return p, secret
		}
	}
	slog.Warn("No hosted provider credential found, falling back to Ollama")
	return ProviderOllama, nil
}

// NewOracle constructs a TextOracle for the requested provider.
//
// # Description
//
// With ProviderAuto (or the empty string) the backend is chosen by
// DetectProvider. Otherwise the named provider is built directly; its
// credential comes from cfg.Credentials or, when nil, from the provider's
// environment variables and secrets mount. An empty cfg.ModelName falls back
// to the provider's model environment variable before the built-in default.
//
// # Inputs
//
//   - provider: Backend name, or ProviderAuto to detect.
//   - cfg: Connection settings applied to the chosen backend.
//
// # Outputs
//
//   - TextOracle: Ready oracle.
//   - error: ErrUnsupportedProvider for unknown names, or the constructor's
//     error when the backend cannot be built.
func NewOracle(provider Provider, cfg Config) (TextOracle, error) {
	if provider == "" || provider == ProviderAuto {
		detected, secret := DetectProvider()
		provider = detected
		if cfg.Credentials == nil {
			cfg.Credentials = secret
		}
	} else if cfg.Credentials == nil {
		cfg.Credentials = NewSecretFromEnv(credentialEnvs[provider]...)
	}

	if cfg.ModelName == "" {
		if env, ok := modelEnvs[provider]; ok {
			cfg.ModelName = os.Getenv(env)
		}
	}

	switch provider {
	case ProviderAzure:
		if cfg.Endpoint == "" {
			cfg.Endpoint = os.Getenv("AZURE_OPENAI_ENDPOINT")
		}
		return NewAzureOpenAIClient(cfg)
	case ProviderOpenAI:
		return NewOpenAIClient(cfg)
	case ProviderAnthropic:
		return NewAnthropicClient(cfg)
	case ProviderGoogle:
		return NewGoogleClient(cfg)
	case ProviderCohere:
		return NewCohereClient(cfg)
	case ProviderOllama:
		return NewOllamaClient(cfg), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedProvider, string(provider))
	}
}
