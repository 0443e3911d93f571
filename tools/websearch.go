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

package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

const defaultSearchResults = 5

// WebSearchTool queries an external web-search API and returns ranked
// results. Network errors surface as upstream_unavailable so the task
// manager can retry them.
type WebSearchTool struct {
	endpoint   string
	apiKey     string
	httpClient *http.Client
}

// SearchHit is one ranked search result.
type SearchHit struct {
	Title   string `json:"title"`
	Snippet string `json:"snippet"`
	URL     string `json:"url"`
}

// NewWebSearchTool creates a web search adapter against the given API
// endpoint.
func NewWebSearchTool(endpoint, apiKey string) *WebSearchTool {
	return &WebSearchTool{
		endpoint: endpoint,
		apiKey:   apiKey,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 100,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
}

func (t *WebSearchTool) Name() string { return "WebSearchTool" }
func (t *WebSearchTool) Kind() Kind   { return KindWebSearch }

// Invoke runs a search. Params: query (required), max_results (optional).
func (t *WebSearchTool) Invoke(ctx context.Context, params Params) (*Result, error) {
	start := time.Now()

	query := params.String("query")
	if query == "" {
		return nil, NewError(KindWebSearch, ErrInvalidInput, "missing 'query' parameter", nil)
	}

	maxResults := params.Int("max_results")
	if maxResults <= 0 {
		maxResults = defaultSearchResults
	}

	reqBody, err := json.Marshal(map[string]interface{}{
		"api_key":     t.apiKey,
		"query":       query,
		"max_results": maxResults,
	})
	if err != nil {
		return nil, NewError(KindWebSearch, ErrInvalidInput, "failed to marshal search request", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", t.endpoint+"/search", bytes.NewBuffer(reqBody))
	if err != nil {
		return nil, NewError(KindWebSearch, ErrInvalidInput, "failed to create HTTP request", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := t.httpClient.Do(httpReq)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, NewError(KindWebSearch, ErrTimeout, "search request timed out", err)
		}
		return nil, NewError(KindWebSearch, ErrUpstreamUnavailable, "search backend unreachable", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, NewError(KindWebSearch, ErrUpstreamUnavailable, "failed to read search response", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, NewError(KindWebSearch, ErrUpstream,
			fmt.Sprintf("search backend returned status %d", resp.StatusCode), nil)
	}

	var searchResp struct {
		Results []struct {
			Title   string `json:"title"`
			Content string `json:"content"`
			URL     string `json:"url"`
		} `json:"results"`
	}
	if err := json.Unmarshal(respBody, &searchResp); err != nil {
		return nil, NewError(KindWebSearch, ErrUpstream, "failed to parse search response", err)
	}

	hits := make([]SearchHit, 0, len(searchResp.Results))
	for _, r := range searchResp.Results {
		hits = append(hits, SearchHit{Title: r.Title, Snippet: r.Content, URL: r.URL})
	}

	return &Result{
		Tool: KindWebSearch,
		Data: map[string]interface{}{
			"query":   query,
			"results": hits,
			"count":   len(hits),
		},
		Summary:  fmt.Sprintf("%d web results for %q", len(hits), query),
		Duration: time.Since(start),
	}, nil
}
