// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package llm provides the text-generation oracle used by the audit engine.
//
// The engine depends only on the one-method TextOracle interface; every
// parser of oracle output (code-fence extraction, score lines, numeric
// clamping) lives with the caller, tolerant of malformed replies. This
// package supplies the provider-backed implementations:
//
//   - OpenAI and Azure OpenAI (go-openai)
//   - Anthropic (REST)
//   - Google Gemini (REST)
//   - Cohere (REST)
//   - Ollama (REST, local default)
//
// plus a caching decorator (badger-backed store + singleflight) and a
// scripted stub for deterministic tests. Provider selection from the
// environment lives in Detect.
package llm

import (
	"context"
	"errors"
)

// =============================================================================
// Oracle Interface
// =============================================================================

// TextOracle is the injectable text-generation strategy.
//
// Implementations send one prompt and return the raw reply text. No retry
// or response-schema guarantees: callers own all parsing and must treat
// failures as degradable per the audit error model.
type TextOracle interface {
	// Generate sends one prompt and returns the reply content.
	//
	// Inputs:
	//
	//	ctx - Deadline/cancellation for the request.
	//	prompt - The full prompt text.
	//
	// Outputs:
	//
	//	string - Raw reply content.
	//	error - Non-nil on transport or provider failure.
	Generate(ctx context.Context, prompt string) (string, error)
}

// =============================================================================
// Configuration
// =============================================================================

// Config carries the oracle connection settings. It is an explicit
// constructor parameter for every provider client; nothing in this package
// mutates process environment.
type Config struct {
	// Endpoint overrides the provider's default base URL. Required for
	// Azure and Ollama, optional elsewhere.
	Endpoint string `yaml:"endpoint" json:"endpoint"`

	// Credentials holds the API key in a locked buffer. May be nil for
	// providers that need none (local Ollama).
	Credentials *Secret `yaml:"-" json:"-"`

	// ModelName selects the provider model. Empty uses the provider
	// default.
	ModelName string `yaml:"model" json:"model"`

	// Temperature is passed through to the provider. Zero means the
	// provider default.
	Temperature float32 `yaml:"temperature" json:"temperature"`
}

// Sentinel errors for oracle construction and calls.
var (
	// ErrNilContext indicates a nil context was passed to a call.
	ErrNilContext = errors.New("context must not be nil")

	// ErrMissingCredentials indicates the provider requires an API key
	// and none was supplied.
	ErrMissingCredentials = errors.New("missing API credentials")

	// ErrMissingEndpoint indicates the provider requires an endpoint.
	ErrMissingEndpoint = errors.New("missing endpoint")

	// ErrEmptyResponse indicates the provider replied without usable text.
	ErrEmptyResponse = errors.New("empty response from provider")

	// ErrUnsupportedProvider indicates an unknown provider name.
	ErrUnsupportedProvider = errors.New("unsupported provider")
)

// key returns the credential string or "" when no Secret is attached.
func (c Config) key() string {
	if c.Credentials == nil {
		return ""
	}
	return c.Credentials.Reveal()
}
