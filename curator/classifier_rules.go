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
	"fmt"
	"regexp"
	"strings"

	"kisanmitra/platform/tools"
)

// Classifier maps a turn plus a bounded history window to a plan.
// Implementations must be deterministic given identical inputs.
type Classifier interface {
	Classify(ctx context.Context, turn Turn, history []*HistoryEntry) (*Plan, error)
}

// RulesClassifier is the deterministic keyword classifier. It serves as
// the fallback when no LLM provider is configured or the LLM classifier
// fails, and it is what keeps the dispatch path testable without network
// fixtures.
type RulesClassifier struct{}

// NewRulesClassifier creates the keyword classifier.
func NewRulesClassifier() *RulesClassifier {
	return &RulesClassifier{}
}

var (
	greetingPattern = regexp.MustCompile(`(?i)^\s*(hi|hello|hey|namaste|namaskar|thanks|thank you|dhanyavad|shukriya|ok|okay|bye|good morning|good evening)[.!\s]*$`)

	priceKeywords   = []string{"price", "rate", "bhav", "mandi", "cost", "sell", "market"}
	weatherKeywords = []string{"weather", "rain", "rainfall", "barish", "forecast", "temperature", "humidity", "irrigate", "spray window"}
	schemeKeywords  = []string{"scheme", "yojana", "subsidy", "insurance", "bima", "loan", "kcc", "pm-kisan", "pmkisan", "advisory", "eligib"}
	pestKeywords    = []string{"pest", "insect", "keeda", "disease", "fungus", "blight", "infestation", "leaf spot", "photo", "image"}

	// farmLocationPattern captures statements like "I farm in Punjab" or
	// "my farm is in Nashik".
	farmLocationPattern = regexp.MustCompile(`(?i)(?:i farm in|my farm is in|i am farming in|my village is|my district is)\s+([a-zA-Z][a-zA-Z ]*?)(?:[.,!?]|$)`)

	// inLocationPattern captures "... in <Location>" style phrases. The
	// captured group must be capitalized: lowercase filler after the
	// keyword ("in my village") is not a location.
	inLocationPattern = regexp.MustCompile(`\b(?:[Ii]n|[Aa]t|[Nn]ear)\s+([A-Z][a-zA-Z]+(?:\s[A-Z][a-zA-Z]+)?)\b`)
)

func containsAny(text string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(text, kw) {
			return true
		}
	}
	return false
}

// extractCommodity scans the turn for a commodity alias the price feed
// catalogue knows.
func extractCommodity(lower string) string {
	alias, _ := tools.FindCommodity(lower)
	return alias
}

// extractLocation pulls an explicit location mention out of the turn text.
func extractLocation(text string) string {
	if m := farmLocationPattern.FindStringSubmatch(text); len(m) == 2 {
		return strings.TrimSpace(m[1])
	}
	if m := inLocationPattern.FindStringSubmatch(text); len(m) == 2 {
		return strings.TrimSpace(m[1])
	}
	return ""
}

// Classify builds a plan from keyword routing. The output is fully
// deterministic: request ids are positional, and rule order is fixed.
func (c *RulesClassifier) Classify(ctx context.Context, turn Turn, history []*HistoryEntry) (*Plan, error) {
	plan := &Plan{TurnID: turn.TurnID}
	lower := strings.ToLower(turn.Text)

	if turn.ImageRef == "" && greetingPattern.MatchString(turn.Text) {
		return plan, nil
	}

	location := extractLocation(turn.Text)
	commodity := extractCommodity(lower)

	nextID := func() string {
		return fmt.Sprintf("req_%d", len(plan.Requests)+1)
	}

	if turn.ImageRef != "" {
		plan.Requests = append(plan.Requests, ToolRequest{
			RequestID: nextID(),
			Tool:      tools.KindPestDetection,
			Params:    tools.Params{"image_ref": turn.ImageRef},
		})
	}

	if containsAny(lower, priceKeywords) && (commodity != "" || containsAny(lower, []string{"price", "bhav", "mandi"})) {
		params := tools.Params{}
		var needs []string
		if commodity != "" {
			params["commodity"] = commodity
		} else {
			needs = append(needs, "commodity")
		}
		if location != "" {
			params["location"] = location
		} else {
			needs = append(needs, "location")
		}
		plan.Requests = append(plan.Requests, ToolRequest{
			RequestID:  nextID(),
			Tool:       tools.KindPriceLookup,
			Params:     params,
			NeedsInput: needs,
		})
	}

	if containsAny(lower, weatherKeywords) {
		params := tools.Params{}
		var needs []string
		if location != "" {
			params["location"] = location
		} else {
			needs = append(needs, "location")
		}
		plan.Requests = append(plan.Requests, ToolRequest{
			RequestID:  nextID(),
			Tool:       tools.KindWeatherAnalysis,
			Params:     params,
			NeedsInput: needs,
		})
	}

	if containsAny(lower, schemeKeywords) {
		plan.Requests = append(plan.Requests, ToolRequest{
			RequestID: nextID(),
			Tool:      tools.KindRetrieval,
			Params:    tools.Params{"query": turn.Text},
		})
	}

	// Pest questions without a photo fall back to knowledge retrieval.
	if turn.ImageRef == "" && containsAny(lower, pestKeywords) && len(plan.Requests) == 0 {
		plan.Requests = append(plan.Requests, ToolRequest{
			RequestID: nextID(),
			Tool:      tools.KindRetrieval,
			Params:    tools.Params{"query": turn.Text},
		})
	}

	// A turn that states a farm fact gets logged in the background.
	if m := farmLocationPattern.FindStringSubmatch(turn.Text); len(m) == 2 {
		plan.Requests = append(plan.Requests, ToolRequest{
			RequestID: nextID(),
			Tool:      tools.KindUserDataLogger,
			Params: tools.Params{
				"conversation_id": turn.ConversationID,
				"data":            map[string]interface{}{"location": strings.TrimSpace(m[1])},
			},
		})
	}

	// Anything question-shaped that matched nothing else goes to web
	// search.
	if len(plan.Requests) == 0 && strings.TrimSpace(turn.Text) != "" {
		if strings.Contains(turn.Text, "?") || len(strings.Fields(turn.Text)) >= 4 {
			plan.Requests = append(plan.Requests, ToolRequest{
				RequestID: nextID(),
				Tool:      tools.KindWebSearch,
				Params:    tools.Params{"query": turn.Text},
			})
		}
	}

	return plan, nil
}
