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
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func retrievalServer(t *testing.T, excerpts []Excerpt) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/retrieve", r.URL.Path)
		json.NewEncoder(w).Encode(map[string]interface{}{"excerpts": excerpts})
	}))
}

func TestRetrievalOrdering(t *testing.T) {
	// Backend returns unordered excerpts with a score tie. The adapter
	// must order score descending, ties by source id ascending.
	server := retrievalServer(t, []Excerpt{
		{Text: "c", Score: 0.5, SourceID: "doc-c"},
		{Text: "b", Score: 0.9, SourceID: "doc-b"},
		{Text: "a", Score: 0.9, SourceID: "doc-a"},
		{Text: "d", Score: 0.2, SourceID: "doc-d"},
	})
	defer server.Close()

	tool := NewRetrievalTool(server.URL)
	result, err := tool.Invoke(context.Background(), Params{"query": "pm-kisan eligibility"})
	require.NoError(t, err)

	excerpts := result.Data["excerpts"].([]Excerpt)
	require.Len(t, excerpts, 4)
	assert.Equal(t, "doc-a", excerpts[0].SourceID)
	assert.Equal(t, "doc-b", excerpts[1].SourceID)
	assert.Equal(t, "doc-c", excerpts[2].SourceID)
	assert.Equal(t, "doc-d", excerpts[3].SourceID)
}

func TestRetrievalTopKTruncation(t *testing.T) {
	server := retrievalServer(t, []Excerpt{
		{Text: "a", Score: 0.9, SourceID: "doc-a"},
		{Text: "b", Score: 0.8, SourceID: "doc-b"},
		{Text: "c", Score: 0.7, SourceID: "doc-c"},
	})
	defer server.Close()

	tool := NewRetrievalTool(server.URL)
	result, err := tool.Invoke(context.Background(), Params{"query": "soil health card", "top_k": 2})
	require.NoError(t, err)

	excerpts := result.Data["excerpts"].([]Excerpt)
	require.Len(t, excerpts, 2)
	assert.Equal(t, "doc-a", excerpts[0].SourceID)
	assert.Equal(t, 2, result.Data["count"])
}

func TestRetrievalMissingQuery(t *testing.T) {
	tool := NewRetrievalTool("http://unused.invalid")
	_, err := tool.Invoke(context.Background(), Params{})
	require.Error(t, err)
	assert.Equal(t, ErrInvalidInput, KindOf(err))
}

func TestRetrievalBackendError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	tool := NewRetrievalTool(server.URL)
	_, err := tool.Invoke(context.Background(), Params{"query": "anything"})
	require.Error(t, err)
	assert.Equal(t, ErrUpstream, KindOf(err))
	assert.False(t, KindOf(err).Transient())
}
