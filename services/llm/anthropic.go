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
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

const (
	anthropicAPIVersion   = "2023-06-01"
	anthropicDefaultURL   = "https://api.anthropic.com/v1/messages"
	anthropicDefaultModel = "claude-3-5-sonnet-20240620"
	anthropicMaxTokens    = 4096
)

type anthropicRequest struct {
	Model       string             `json:"model"`
	Messages    []anthropicMessage `json:"messages"`
	System      []systemBlock      `json:"system,omitempty"`
	MaxTokens   int                `json:"max_tokens"`
	Temperature *float32           `json:"temperature,omitempty"`
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type systemBlock struct {
	Type         string        `json:"type"`
	Text         string        `json:"text"`
	CacheControl *cacheControl `json:"cache_control,omitempty"`
}

type cacheControl struct {
	Type string `json:"type"` // Must be "ephemeral"
}

type anthropicResponse struct {
	ID      string             `json:"id"`
	Type    string             `json:"type"`
	Role    string             `json:"role"`
	Content []anthropicContent `json:"content"`
	Error   *anthropicError    `json:"error,omitempty"`
}

type anthropicContent struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type anthropicError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// AnthropicClient generates text through the Anthropic Messages API using
// raw REST calls, so the dependency surface stays a plain http.Client.
type AnthropicClient struct {
	httpClient  *http.Client
	baseURL     string
	apiKey      string
	model       string
	temperature float32
}

// NewAnthropicClient builds an oracle backed by the Anthropic Messages API.
//
// # Inputs
//
//   - cfg: Connection settings. Credentials are required; ModelName defaults
//     to claude-3-5-sonnet-20240620; Endpoint overrides the public API URL.
//
// # Outputs
//
//   - *AnthropicClient: Ready client.
//   - error: ErrMissingCredentials when no API key is available.
func NewAnthropicClient(cfg Config) (*AnthropicClient, error) {
	apiKey := cfg.key()
	if apiKey == "" {
		return nil, fmt.Errorf("%w: Anthropic API key not set", ErrMissingCredentials)
	}
	model := cfg.ModelName
	if model == "" {
		model = anthropicDefaultModel
		slog.Info("Anthropic model not set, defaulting to", "model", model)
	}
	baseURL := cfg.Endpoint
	if baseURL == "" {
		baseURL = anthropicDefaultURL
	}
	return &AnthropicClient{
		httpClient:  &http.Client{Timeout: 60 * time.Second},
		baseURL:     baseURL,
		apiKey:      apiKey,
		model:       model,
		temperature: cfg.Temperature,
	}, nil
}

// Generate implements the TextOracle interface.
func (a *AnthropicClient) Generate(ctx context.Context, prompt string) (string, error) {
	if ctx == nil {
		return "", ErrNilContext
	}

	// System prompts past 1024 characters are worth caching server side.
	system := systemBlock{Type: "text", Text: systemPrompt}
	if len(systemPrompt) > 1024 {
		system.CacheControl = &cacheControl{Type: "ephemeral"}
	}

	reqPayload := anthropicRequest{
		Model:     a.model,
		Messages:  []anthropicMessage{{Role: "user", Content: prompt}},
		System:    []systemBlock{system},
		MaxTokens: anthropicMaxTokens,
	}
	if a.temperature > 0 {
		reqPayload.Temperature = &a.temperature
	}

	reqBodyBytes, err := json.Marshal(reqPayload)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL, bytes.NewBuffer(reqBodyBytes))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("x-api-key", a.apiKey)
	req.Header.Set("anthropic-version", anthropicAPIVersion)
	req.Header.Set("content-type", "application/json")

	slog.Debug("Sending REST request to Anthropic", "model", a.model)

	start := time.Now()
	resp, err := a.httpClient.Do(req)
	recordOracleCall(ctx, "anthropic", time.Since(start), err == nil)
	if err != nil {
		return "", fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	bodyBytes, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("anthropic API returned status %d: %s", resp.StatusCode, string(bodyBytes))
	}

	var apiResp anthropicResponse
	if err := json.Unmarshal(bodyBytes, &apiResp); err != nil {
		return "", fmt.Errorf("failed to decode response: %w", err)
	}
	if apiResp.Error != nil {
		return "", fmt.Errorf("anthropic API error %s: %s", apiResp.Error.Type, apiResp.Error.Message)
	}

	var sb strings.Builder
	for _, block := range apiResp.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	if sb.Len() == 0 {
		return "", fmt.Errorf("%w: no text content blocks", ErrEmptyResponse)
	}
	return sb.String(), nil
}
