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
	"sort"
	"time"
)

const defaultTopK = 5

// RetrievalTool queries the document index service (advisory and scheme
// documents ingested by the indexer) and returns scored excerpts. Embedding
// and vector mechanics live behind the index service.
type RetrievalTool struct {
	endpoint   string
	httpClient *http.Client
}

// Excerpt is one retrieved document chunk.
type Excerpt struct {
	Text     string  `json:"text"`
	Score    float64 `json:"score"`
	SourceID string  `json:"source_id"`
}

// NewRetrievalTool creates a retrieval adapter against the index service.
func NewRetrievalTool(endpoint string) *RetrievalTool {
	return &RetrievalTool{
		endpoint: endpoint,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

func (t *RetrievalTool) Name() string { return "RetrievalTool" }
func (t *RetrievalTool) Kind() Kind   { return KindRetrieval }

// Invoke retrieves excerpts. Params: query (required), top_k (optional).
// Ordering is deterministic: score descending, ties broken by source id
// ascending. Backends are not trusted to order consistently.
func (t *RetrievalTool) Invoke(ctx context.Context, params Params) (*Result, error) {
	start := time.Now()

	query := params.String("query")
	if query == "" {
		return nil, NewError(KindRetrieval, ErrInvalidInput, "missing 'query' parameter", nil)
	}

	topK := params.Int("top_k")
	if topK <= 0 {
		topK = defaultTopK
	}

	reqBody, err := json.Marshal(map[string]interface{}{
		"query": query,
		"top_k": topK,
	})
	if err != nil {
		return nil, NewError(KindRetrieval, ErrInvalidInput, "failed to marshal retrieval request", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", t.endpoint+"/retrieve", bytes.NewBuffer(reqBody))
	if err != nil {
		return nil, NewError(KindRetrieval, ErrInvalidInput, "failed to create HTTP request", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := t.httpClient.Do(httpReq)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, NewError(KindRetrieval, ErrTimeout, "retrieval request timed out", err)
		}
		return nil, NewError(KindRetrieval, ErrUpstreamUnavailable, "index service unreachable", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, NewError(KindRetrieval, ErrUpstreamUnavailable, "failed to read retrieval response", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, NewError(KindRetrieval, ErrUpstream,
			fmt.Sprintf("index service returned status %d", resp.StatusCode), nil)
	}

	var retrievalResp struct {
		Excerpts []Excerpt `json:"excerpts"`
	}
	if err := json.Unmarshal(respBody, &retrievalResp); err != nil {
		return nil, NewError(KindRetrieval, ErrUpstream, "failed to parse retrieval response", err)
	}

	excerpts := retrievalResp.Excerpts
	sort.SliceStable(excerpts, func(i, j int) bool {
		if excerpts[i].Score != excerpts[j].Score {
			return excerpts[i].Score > excerpts[j].Score
		}
		return excerpts[i].SourceID < excerpts[j].SourceID
	})
	if len(excerpts) > topK {
		excerpts = excerpts[:topK]
	}

	return &Result{
		Tool: KindRetrieval,
		Data: map[string]interface{}{
			"query":    query,
			"excerpts": excerpts,
			"count":    len(excerpts),
		},
		Summary:  fmt.Sprintf("%d document excerpts for %q", len(excerpts), query),
		Duration: time.Since(start),
	}, nil
}
