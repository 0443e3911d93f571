// Copyright 2025 KisanMitra
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package curator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
)

// LLMProvider is the pluggable language-understanding backend behind the
// LLM classifier and the response synthesizer.
type LLMProvider interface {
	Name() string
	Query(ctx context.Context, prompt string, options QueryOptions) (*LLMResponse, error)
	IsHealthy() bool
}

// QueryOptions tunes one LLM call.
type QueryOptions struct {
	Model       string
	MaxTokens   int
	Temperature float64
}

// LLMResponse is the provider-agnostic result of one LLM call.
type LLMResponse struct {
	Content      string
	Model        string
	TokensUsed   int
	ResponseTime time.Duration
}

// OpenAIProvider calls the OpenAI chat completions API.
type OpenAIProvider struct {
	apiKey  string
	baseURL string
	client  *http.Client
}

// NewOpenAIProvider creates an OpenAI provider. baseURL overrides the
// public API endpoint; empty selects the default.
func NewOpenAIProvider(apiKey, baseURL string) *OpenAIProvider {
	if baseURL == "" {
		baseURL = "https://api.openai.com"
	}
	return &OpenAIProvider{
		apiKey:  apiKey,
		baseURL: baseURL,
		client:  &http.Client{Timeout: 60 * time.Second},
	}
}

func (p *OpenAIProvider) Name() string { return "openai" }

func (p *OpenAIProvider) IsHealthy() bool { return p.apiKey != "" }

func (p *OpenAIProvider) Query(ctx context.Context, prompt string, options QueryOptions) (*LLMResponse, error) {
	start := time.Now()

	reqBody, err := json.Marshal(map[string]interface{}{
		"model": options.Model,
		"messages": []map[string]string{
			{"role": "user", "content": prompt},
		},
		"max_tokens":  options.MaxTokens,
		"temperature": options.Temperature,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %v", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", p.baseURL+"/v1/chat/completions", bytes.NewBuffer(reqBody))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != 200 {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("OpenAI API error: %s", string(body))
	}

	var openAIResp struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
		Usage struct {
			TotalTokens int `json:"total_tokens"`
		} `json:"usage"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&openAIResp); err != nil {
		return nil, err
	}

	content := ""
	if len(openAIResp.Choices) > 0 {
		content = openAIResp.Choices[0].Message.Content
	}

	return &LLMResponse{
		Content:      content,
		Model:        options.Model,
		TokensUsed:   openAIResp.Usage.TotalTokens,
		ResponseTime: time.Since(start),
	}, nil
}

// BedrockProvider calls AWS Bedrock (Anthropic model family) through the
// AWS SDK, which handles Signature V4 authentication via IAM roles.
type BedrockProvider struct {
	client *bedrockruntime.Client
	region string
	model  string
}

// NewBedrockProvider creates a Bedrock provider in the given region with a
// default model id.
func NewBedrockProvider(ctx context.Context, region, model string) (*BedrockProvider, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config for Bedrock (region: %s): %w", region, err)
	}
	return &BedrockProvider{
		client: bedrockruntime.NewFromConfig(awsCfg),
		region: region,
		model:  model,
	}, nil
}

func (p *BedrockProvider) Name() string { return "bedrock" }

func (p *BedrockProvider) IsHealthy() bool { return p.client != nil }

func (p *BedrockProvider) Query(ctx context.Context, prompt string, options QueryOptions) (*LLMResponse, error) {
	start := time.Now()

	model := options.Model
	if model == "" {
		model = p.model
	}

	requestJSON, err := json.Marshal(map[string]interface{}{
		"anthropic_version": "bedrock-2023-05-31",
		"max_tokens":        options.MaxTokens,
		"temperature":       options.Temperature,
		"messages": []map[string]string{
			{"role": "user", "content": prompt},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	output, err := p.client.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(model),
		Body:        requestJSON,
		ContentType: aws.String("application/json"),
		Accept:      aws.String("application/json"),
	})
	if err != nil {
		log.Printf("[Bedrock] API call failed: %v", err)
		return nil, fmt.Errorf("bedrock API error: %w", err)
	}

	var bedrockResp struct {
		Content []struct {
			Text string `json:"text"`
		} `json:"content"`
		Usage struct {
			InputTokens  int `json:"input_tokens"`
			OutputTokens int `json:"output_tokens"`
		} `json:"usage"`
	}
	if err := json.Unmarshal(output.Body, &bedrockResp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	content := ""
	if len(bedrockResp.Content) > 0 {
		content = bedrockResp.Content[0].Text
	}

	return &LLMResponse{
		Content:      content,
		Model:        model,
		TokensUsed:   bedrockResp.Usage.InputTokens + bedrockResp.Usage.OutputTokens,
		ResponseTime: time.Since(start),
	}, nil
}
