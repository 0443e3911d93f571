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
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"

	"kisanmitra/platform/tools"
)

// LLMClassifier maps a turn to a plan with one language-model call. It is
// the primary classification strategy when a provider is configured; any
// failure makes the router fall back to the rules classifier.
type LLMClassifier struct {
	provider LLMProvider
	model    string
}

// NewLLMClassifier creates an LLM-backed classifier.
func NewLLMClassifier(provider LLMProvider, model string) *LLMClassifier {
	return &LLMClassifier{provider: provider, model: model}
}

func (c *LLMClassifier) Classify(ctx context.Context, turn Turn, history []*HistoryEntry) (*Plan, error) {
	if c.provider == nil || !c.provider.IsHealthy() {
		return nil, fmt.Errorf("no healthy LLM provider")
	}

	prompt := c.buildPrompt(turn, history)
	response, err := c.provider.Query(ctx, prompt, QueryOptions{
		Model:       c.model,
		MaxTokens:   1024,
		Temperature: 0.0, // classification must be repeatable
	})
	if err != nil {
		return nil, fmt.Errorf("LLM classification failed: %w", err)
	}

	plan, err := c.parsePlan(response.Content, turn)
	if err != nil {
		return nil, err
	}

	log.Printf("[LLMClassifier] Turn %s classified into %d request(s) (model=%s, tokens=%d)",
		turn.TurnID, len(plan.Requests), response.Model, response.TokensUsed)
	return plan, nil
}

func (c *LLMClassifier) buildPrompt(turn Turn, history []*HistoryEntry) string {
	var b strings.Builder
	b.WriteString(`You are a query router for a farming assistant. Classify the user's message into zero or more tool invocations and return a JSON object.

Available tools:
- web_search: general agronomy questions. params: {"query": string}
- retrieval: government schemes, subsidies, crop advisories from the knowledge base. params: {"query": string}
- price_lookup: mandi prices. params: {"commodity": string, "location": string}
- weather_analysis: weather for farming decisions. params: {"location": string, "start_date": "YYYY-MM-DD", "end_date": "YYYY-MM-DD"}
- pest_detection: classify a crop photo. params: {"image_ref": string}
- user_data_logger: remember a fact the user stated about their farm. params: {"conversation_id": string, "data": object}

`)

	if len(history) > 0 {
		b.WriteString("Recent conversation (newest first):\n")
		for _, entry := range history {
			fmt.Fprintf(&b, "- user: %q\n", entry.Turn.Text)
			for _, task := range entry.Tasks {
				if task.Status == StatusSucceeded && task.Result != nil {
					fmt.Fprintf(&b, "  %s result: %s\n", task.Request.Tool, task.Result.Summary)
				}
			}
		}
		b.WriteString("\n")
	}

	fmt.Fprintf(&b, "User message: %q\n", turn.Text)
	if turn.ImageRef != "" {
		fmt.Fprintf(&b, "Attached image reference: %q\n", turn.ImageRef)
	}
	fmt.Fprintf(&b, "Conversation id: %q\n", turn.ConversationID)

	b.WriteString(`
Return a JSON object with this structure:
{
  "caption": "one-line description of what the user wants",
  "requests": [
    {
      "request_id": "req_1",
      "tool": "<tool name>",
      "params": {...},
      "depends_on": "<request_id of the request whose result this needs, or omit>",
      "needs_input": ["<param names you could not determine, or omit>"]
    }
  ]
}

Rules:
- A greeting or thanks needs no tools: return an empty requests array.
- Resolve references like "there" or "the same crop" from the recent conversation.
- If a parameter cannot be determined from the message or the conversation, list it in needs_input and leave it out of params.
- Requests with no data dependency must not carry depends_on.

Respond ONLY with valid JSON, no additional text.`)

	return b.String()
}

func (c *LLMClassifier) parsePlan(content string, turn Turn) (*Plan, error) {
	// The model may wrap the JSON in prose or a markdown fence.
	jsonStart := strings.Index(content, "{")
	jsonEnd := strings.LastIndex(content, "}")
	if jsonStart == -1 || jsonEnd == -1 || jsonEnd < jsonStart {
		return nil, fmt.Errorf("no JSON found in classification response")
	}
	jsonStr := content[jsonStart : jsonEnd+1]

	var parsed struct {
		Caption  string `json:"caption"`
		Requests []struct {
			RequestID  string                 `json:"request_id"`
			Tool       string                 `json:"tool"`
			Params     map[string]interface{} `json:"params"`
			DependsOn  string                 `json:"depends_on"`
			NeedsInput []string               `json:"needs_input"`
		} `json:"requests"`
	}
	if err := json.Unmarshal([]byte(jsonStr), &parsed); err != nil {
		return nil, fmt.Errorf("JSON parsing failed: %w", err)
	}

	plan := &Plan{TurnID: turn.TurnID, Caption: parsed.Caption}
	for i, req := range parsed.Requests {
		kind := tools.Kind(req.Tool)
		if !kind.Valid() {
			return nil, fmt.Errorf("classification named unknown tool %q", req.Tool)
		}
		id := req.RequestID
		if id == "" {
			id = fmt.Sprintf("req_%d", i+1)
		}
		params := tools.Params(req.Params)
		if params == nil {
			params = tools.Params{}
		}
		if kind == tools.KindUserDataLogger {
			params["conversation_id"] = turn.ConversationID
		}
		plan.Requests = append(plan.Requests, ToolRequest{
			RequestID:  id,
			Tool:       kind,
			Params:     params,
			DependsOn:  req.DependsOn,
			NeedsInput: req.NeedsInput,
		})
	}
	return plan, nil
}
