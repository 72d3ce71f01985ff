// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package llm

import (
	"errors"
	"testing"
)

// clearProviderEnv blanks every credential variable so detection tests start
// from a clean slate regardless of the host environment.
func clearProviderEnv(t *testing.T) {
	t.Helper()
	for _, keys := range credentialEnvs {
		for _, key := range keys {
			t.Setenv(key, "")
		}
	}
}

func TestDetectProvider_PriorityOrder(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		want Provider
	}{
		{
			name: "azure wins over everything",
			env: map[string]string{
				"AZURE_OPENAI_API_KEY": "az",
				"OPENAI_API_KEY":       "oa",
				"ANTHROPIC_API_KEY":    "an",
			},
			want: ProviderAzure,
		},
		{
			name: "openai beats anthropic",
			env: map[string]string{
				"OPENAI_API_KEY":    "oa",
				"ANTHROPIC_API_KEY": "an",
			},
			want: ProviderOpenAI,
		},
		{
			name: "anthropic beats google",
			env: map[string]string{
				"ANTHROPIC_API_KEY": "an",
				"GOOGLE_API_KEY":    "go",
			},
			want: ProviderAnthropic,
		},
		{
			name: "google beats cohere",
			env: map[string]string{
				"GOOGLE_API_KEY": "go",
				"COHERE_API_KEY": "co",
			},
			want: ProviderGoogle,
		},
		{
			name: "gemini key counts as google",
			env:  map[string]string{"GEMINI_API_KEY": "gm"},
			want: ProviderGoogle,
		},
		{
			name: "cohere alone",
			env:  map[string]string{"COHERE_API_KEY": "co"},
			want: ProviderCohere,
		},
		{
			name: "nothing set falls back to ollama",
			env:  map[string]string{},
			want: ProviderOllama,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearProviderEnv(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			got, secret := DetectProvider()
			if got != tt.want {
				t.Errorf("DetectProvider() = %q, want %q", got, tt.want)
			}
			if tt.want == ProviderOllama && secret != nil {
				t.Error("expected nil secret for ollama fallback")
			}
			if tt.want != ProviderOllama && secret == nil {
				t.Error("expected a secret for hosted provider")
			}
			secret.Destroy()
		})
	}
}

func TestNewOracle_UnsupportedProvider(t *testing.T) {
	clearProviderEnv(t)
	_, err := NewOracle(Provider("watsonx"), Config{})
	if !errors.Is(err, ErrUnsupportedProvider) {
		t.Errorf("NewOracle error = %v, want ErrUnsupportedProvider", err)
	}
}

func TestNewOracle_AutoFallsBackToOllama(t *testing.T) {
	clearProviderEnv(t)
	oracle, err := NewOracle(ProviderAuto, Config{})
	if err != nil {
		t.Fatalf("NewOracle returned error: %v", err)
	}
	if _, ok := oracle.(*OllamaClient); !ok {
		t.Errorf("NewOracle returned %T, want *OllamaClient", oracle)
	}
}

func TestNewOracle_ExplicitProviderUsesEnvCredential(t *testing.T) {
	clearProviderEnv(t)
	t.Setenv("ANTHROPIC_API_KEY", "an-key")

	oracle, err := NewOracle(ProviderAnthropic, Config{})
	if err != nil {
		t.Fatalf("NewOracle returned error: %v", err)
	}
	if _, ok := oracle.(*AnthropicClient); !ok {
		t.Errorf("NewOracle returned %T, want *AnthropicClient", oracle)
	}
}

func TestNewOracle_MissingCredentialFails(t *testing.T) {
	clearProviderEnv(t)
	_, err := NewOracle(ProviderOpenAI, Config{})
	if !errors.Is(err, ErrMissingCredentials) {
		t.Errorf("NewOracle error = %v, want ErrMissingCredentials", err)
	}
}

func TestNewOracle_ModelEnvOverride(t *testing.T) {
	clearProviderEnv(t)
	t.Setenv("OLLAMA_MODEL", "codellama")

	oracle, err := NewOracle(ProviderOllama, Config{})
	if err != nil {
		t.Fatalf("NewOracle returned error: %v", err)
	}
	client, ok := oracle.(*OllamaClient)
	if !ok {
		t.Fatalf("NewOracle returned %T, want *OllamaClient", oracle)
	}
	if client.model != "codellama" {
		t.Errorf("model = %q, want %q", client.model, "codellama")
	}
}

func TestNewOracle_AzureRequiresEndpoint(t *testing.T) {
	clearProviderEnv(t)
	t.Setenv("AZURE_OPENAI_API_KEY", "az-key")
	t.Setenv("AZURE_OPENAI_ENDPOINT", "")

	_, err := NewOracle(ProviderAzure, Config{})
	if !errors.Is(err, ErrMissingEndpoint) {
		t.Errorf("NewOracle error = %v, want ErrMissingEndpoint", err)
	}
}
