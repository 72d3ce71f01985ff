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
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/sashabaranov/go-openai"
)

const (
	defaultOpenAIModel = "gpt-4o-mini"

	// systemPrompt frames every oracle call. Audit prompts carry their own
	// task description, so the persona stays generic.
	systemPrompt = "You are an expert software test engineer."
)

// OpenAIClient generates text through the OpenAI chat completions API. It
// also serves Azure OpenAI deployments when built with an Azure endpoint.
type OpenAIClient struct {
	client   *openai.Client
	model    string
	provider string
}

// NewOpenAIClient builds an oracle backed by api.openai.com.
//
// # Inputs
//
//   - cfg: Connection settings. Credentials are required; ModelName defaults
//     to gpt-4o-mini; Endpoint overrides the default base URL when set.
//
// # Outputs
//
//   - *OpenAIClient: Ready client.
//   - error: ErrMissingCredentials when no API key is available.
func NewOpenAIClient(cfg Config) (*OpenAIClient, error) {
	apiKey := cfg.key()
	if apiKey == "" {
		return nil, fmt.Errorf("%w: OpenAI API key not set", ErrMissingCredentials)
	}
	model := cfg.ModelName
	if model == "" {
		model = defaultOpenAIModel
		slog.Warn("OpenAI model not set, using default", "model", model)
	}
	clientCfg := openai.DefaultConfig(apiKey)
	if cfg.Endpoint != "" {
		clientCfg.BaseURL = cfg.Endpoint
	}
	slog.Info("Initializing OpenAI client", "model", model)
	return &OpenAIClient{
		client:   openai.NewClientWithConfig(clientCfg),
		model:    model,
		provider: "openai",
	}, nil
}

// NewAzureOpenAIClient builds an oracle backed by an Azure OpenAI resource.
//
// # Inputs
//
//   - cfg: Connection settings. Endpoint is the resource URL (required),
//     Credentials the Azure API key (required), ModelName the deployment name.
//
// # Outputs
//
//   - *OpenAIClient: Ready client.
//   - error: ErrMissingEndpoint or ErrMissingCredentials when cfg is
//     incomplete.
func NewAzureOpenAIClient(cfg Config) (*OpenAIClient, error) {
	apiKey := cfg.key()
	if apiKey == "" {
		return nil, fmt.Errorf("%w: Azure OpenAI API key not set", ErrMissingCredentials)
	}
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("%w: Azure OpenAI endpoint not set", ErrMissingEndpoint)
	}
	model := cfg.ModelName
	if model == "" {
		model = defaultOpenAIModel
		slog.Warn("Azure deployment not set, using default", "model", model)
	}
	clientCfg := openai.DefaultAzureConfig(apiKey, cfg.Endpoint)
	slog.Info("Initializing Azure OpenAI client", "endpoint", cfg.Endpoint, "deployment", model)
	return &OpenAIClient{
		client:   openai.NewClientWithConfig(clientCfg),
		model:    model,
		provider: "azure",
	}, nil
}

// Generate implements the TextOracle interface.
func (o *OpenAIClient) Generate(ctx context.Context, prompt string) (string, error) {
	if ctx == nil {
		return "", ErrNilContext
	}
	slog.Debug("Generating text via OpenAI", "model", o.model)
	req := openai.ChatCompletionRequest{
		Model: o.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
	}
	start := time.Now()
	resp, err := o.client.CreateChatCompletion(ctx, req)
	recordOracleCall(ctx, o.provider, time.Since(start), err == nil)
	if err != nil {
		return "", fmt.Errorf("openai completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("%w: no choices returned", ErrEmptyResponse)
	}
	return resp.Choices[0].Message.Content, nil
}
