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
	cohereDefaultURL   = "https://api.cohere.com/v1/chat"
	cohereDefaultModel = "command-r"
)

type cohereRequest struct {
	Model       string   `json:"model"`
	Message     string   `json:"message"`
	Preamble    string   `json:"preamble,omitempty"`
	Temperature *float32 `json:"temperature,omitempty"`
}

type cohereResponse struct {
	Text    string `json:"text"`
	Message string `json:"message,omitempty"` // Populated on API errors
}

// CohereClient generates text through the Cohere chat REST API.
type CohereClient struct {
	httpClient  *http.Client
	baseURL     string
	apiKey      string
	model       string
	temperature float32
}

// NewCohereClient builds an oracle backed by the Cohere chat API.
//
// # Inputs
//
//   - cfg: Connection settings. Credentials are required; ModelName defaults
//     to command-r; Endpoint overrides the public API URL.
//
// # Outputs
//
//   - *CohereClient: Ready client.
//   - error: ErrMissingCredentials when no API key is available.
func NewCohereClient(cfg Config) (*CohereClient, error) {
	apiKey := cfg.key()
	if apiKey == "" {
		return nil, fmt.Errorf("%w: Cohere API key not set", ErrMissingCredentials)
	}
	model := cfg.ModelName
	if model == "" {
		model = cohereDefaultModel
		slog.Info("Cohere model not set, defaulting to", "model", model)
	}
	baseURL := cfg.Endpoint
	if baseURL == "" {
		baseURL = cohereDefaultURL
	}
	return &CohereClient{
		httpClient:  &http.Client{Timeout: 60 * time.Second},
		baseURL:     baseURL,
		apiKey:      apiKey,
		model:       model,
		temperature: cfg.Temperature,
	}, nil
}

// Generate implements the TextOracle interface.
func (c *CohereClient) Generate(ctx context.Context, prompt string) (string, error) {
	if ctx == nil {
		return "", ErrNilContext
	}
	slog.Debug("Generating text via Cohere", "model", c.model)

	reqPayload := cohereRequest{
		Model:    c.model,
		Message:  prompt,
		Preamble: systemPrompt,
	}
	if c.temperature > 0 {
		reqPayload.Temperature = &c.temperature
	}

	reqBodyBytes, err := json.Marshal(reqPayload)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewBuffer(reqBodyBytes))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	recordOracleCall(ctx, "cohere", time.Since(start), err == nil)
	if err != nil {
		return "", fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	bodyBytes, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("cohere API returned status %d: %s", resp.StatusCode, string(bodyBytes))
	}

	var apiResp cohereResponse
	if err := json.Unmarshal(bodyBytes, &apiResp); err != nil {
		return "", fmt.Errorf("failed to decode response: %w", err)
	}
	if strings.TrimSpace(apiResp.Text) == "" {
		return "", fmt.Errorf("%w: empty completion from Cohere", ErrEmptyResponse)
	}
	return apiResp.Text, nil
}
