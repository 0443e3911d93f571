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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kisanmitra/platform/tools"
)

// scriptedClassifier returns a fixed plan or error. Stands in for the LLM
// strategy in router tests.
type scriptedClassifier struct {
	plan *Plan
	err  error
}

func (s *scriptedClassifier) Classify(ctx context.Context, turn Turn, history []*HistoryEntry) (*Plan, error) {
	if s.err != nil {
		return nil, s.err
	}
	plan := *s.plan
	plan.TurnID = turn.TurnID
	return &plan, nil
}

// scriptedUserData stands in for the durable fact store.
type scriptedUserData struct {
	data map[string]interface{}
	err  error
}

func (s *scriptedUserData) Fetch(ctx context.Context, conversationID string) (map[string]interface{}, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.data, nil
}

func rulesRouter(history ConversationHistory) *QueryRouter {
	return NewQueryRouter(nil, NewRulesClassifier(), history, 6, nil)
}

func TestRulesClassifierGreetingYieldsEmptyPlan(t *testing.T) {
	classifier := NewRulesClassifier()
	for _, text := range []string{"hi", "Hello!", "namaste", "thank you", "ok"} {
		plan, err := classifier.Classify(context.Background(),
			Turn{ConversationID: "conv_1", TurnID: "turn_1", Text: text}, nil)
		require.NoError(t, err)
		assert.True(t, plan.Empty(), "expected empty plan for %q", text)
	}
}

func TestRulesClassifierPriceQuery(t *testing.T) {
	classifier := NewRulesClassifier()
	plan, err := classifier.Classify(context.Background(), Turn{
		ConversationID: "conv_1",
		TurnID:         "turn_1",
		Text:           "What is the price of wheat in Karnal?",
	}, nil)
	require.NoError(t, err)

	require.Len(t, plan.Requests, 1)
	req := plan.Requests[0]
	assert.Equal(t, tools.KindPriceLookup, req.Tool)
	assert.Equal(t, "wheat", req.Params.String("commodity"))
	assert.Equal(t, "Karnal", req.Params.String("location"))
	assert.Empty(t, req.NeedsInput)
}

func TestRulesClassifierLowercaseFillerIsNotALocation(t *testing.T) {
	classifier := NewRulesClassifier()
	plan, err := classifier.Classify(context.Background(), Turn{
		ConversationID: "conv_1",
		TurnID:         "turn_1",
		Text:           "what is the wheat price in my village",
	}, nil)
	require.NoError(t, err)

	require.Len(t, plan.Requests, 1)
	req := plan.Requests[0]
	assert.Equal(t, tools.KindPriceLookup, req.Tool)
	assert.Empty(t, req.Params.String("location"))
	assert.Equal(t, []string{"location"}, req.NeedsInput)
}

func TestRulesClassifierMultiWordCommodity(t *testing.T) {
	classifier := NewRulesClassifier()
	plan, err := classifier.Classify(context.Background(), Turn{
		ConversationID: "conv_1",
		TurnID:         "turn_1",
		Text:           "what is the dry chilli rate in Guntur",
	}, nil)
	require.NoError(t, err)

	require.Len(t, plan.Requests, 1)
	req := plan.Requests[0]
	assert.Equal(t, tools.KindPriceLookup, req.Tool)
	assert.Equal(t, "dry chilli", req.Params.String("commodity"))
	assert.Equal(t, "Guntur", req.Params.String("location"))
}

func TestRulesClassifierWeatherWithoutLocationNeedsInput(t *testing.T) {
	classifier := NewRulesClassifier()
	plan, err := classifier.Classify(context.Background(), Turn{
		ConversationID: "conv_1",
		TurnID:         "turn_1",
		Text:           "will it rain this week",
	}, nil)
	require.NoError(t, err)

	require.Len(t, plan.Requests, 1)
	assert.Equal(t, tools.KindWeatherAnalysis, plan.Requests[0].Tool)
	assert.Equal(t, []string{"location"}, plan.Requests[0].NeedsInput)
}

func TestRulesClassifierImageGoesToPestDetectionFirst(t *testing.T) {
	classifier := NewRulesClassifier()
	plan, err := classifier.Classify(context.Background(), Turn{
		ConversationID: "conv_1",
		TurnID:         "turn_1",
		Text:           "what is wrong with my crop",
		ImageRef:       "uploads/leaf_42.jpg",
	}, nil)
	require.NoError(t, err)

	require.NotEmpty(t, plan.Requests)
	assert.Equal(t, tools.KindPestDetection, plan.Requests[0].Tool)
	assert.Equal(t, "uploads/leaf_42.jpg", plan.Requests[0].Params.String("image_ref"))
}

func TestRulesClassifierFarmFactLogsUserData(t *testing.T) {
	classifier := NewRulesClassifier()
	plan, err := classifier.Classify(context.Background(), Turn{
		ConversationID: "conv_1",
		TurnID:         "turn_1",
		Text:           "I farm in Punjab.",
	}, nil)
	require.NoError(t, err)

	require.Len(t, plan.Requests, 1)
	req := plan.Requests[0]
	assert.Equal(t, tools.KindUserDataLogger, req.Tool)
	assert.Equal(t, "conv_1", req.Params.String("conversation_id"))
	data, ok := req.Params["data"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "Punjab", data["location"])
}

func TestRulesClassifierSchemeQuestionUsesRetrieval(t *testing.T) {
	classifier := NewRulesClassifier()
	plan, err := classifier.Classify(context.Background(), Turn{
		ConversationID: "conv_1",
		TurnID:         "turn_1",
		Text:           "am I eligible for the PM-KISAN scheme",
	}, nil)
	require.NoError(t, err)

	require.Len(t, plan.Requests, 1)
	assert.Equal(t, tools.KindRetrieval, plan.Requests[0].Tool)
}

func TestRulesClassifierUnmatchedQuestionFallsBackToWebSearch(t *testing.T) {
	classifier := NewRulesClassifier()
	plan, err := classifier.Classify(context.Background(), Turn{
		ConversationID: "conv_1",
		TurnID:         "turn_1",
		Text:           "how deep should I sow maize seeds?",
	}, nil)
	require.NoError(t, err)

	require.Len(t, plan.Requests, 1)
	assert.Equal(t, tools.KindWebSearch, plan.Requests[0].Tool)
}

func TestRulesClassifierDeterministic(t *testing.T) {
	classifier := NewRulesClassifier()
	turn := Turn{
		ConversationID: "conv_1",
		TurnID:         "turn_1",
		Text:           "wheat price in Karnal and will it rain in Karnal",
	}

	first, err := classifier.Classify(context.Background(), turn, nil)
	require.NoError(t, err)
	second, err := classifier.Classify(context.Background(), turn, nil)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	require.Len(t, first.Requests, 2)
	for i, req := range first.Requests {
		assert.Equal(t, fmt.Sprintf("req_%d", i+1), req.RequestID)
	}
}

func TestRouteResolvesLocationFromHistory(t *testing.T) {
	history := NewInMemoryHistory()
	require.NoError(t, history.AppendTurn(context.Background(), &HistoryEntry{
		Turn: Turn{ConversationID: "conv_1", TurnID: "turn_1", Text: "I farm in Punjab."},
		Tasks: []Task{{
			ID:      "task_1",
			Request: ToolRequest{RequestID: "req_1", Tool: tools.KindUserDataLogger},
			Status:  StatusSucceeded,
			Result: &tools.Result{
				Tool: tools.KindUserDataLogger,
				Data: map[string]interface{}{"location": "Punjab"},
			},
		}},
	}))

	router := rulesRouter(history)
	plan := router.Route(context.Background(), Turn{
		ConversationID: "conv_1",
		TurnID:         "turn_2",
		Text:           "what is the wheat price there",
	})

	require.Len(t, plan.Requests, 1)
	req := plan.Requests[0]
	assert.Equal(t, tools.KindPriceLookup, req.Tool)
	assert.Equal(t, "Punjab", req.Params.String("location"))
	assert.Empty(t, req.NeedsInput)
}

func TestRouteResolvesLocationFromUserData(t *testing.T) {
	userData := &scriptedUserData{data: map[string]interface{}{"location": "Punjab"}}
	router := NewQueryRouter(nil, NewRulesClassifier(), NewInMemoryHistory(), 6, userData)

	plan := router.Route(context.Background(), Turn{
		ConversationID: "conv_1",
		TurnID:         "turn_1",
		Text:           "what is the wheat price there",
	})

	require.Len(t, plan.Requests, 1)
	req := plan.Requests[0]
	assert.Equal(t, "Punjab", req.Params.String("location"))
	assert.Empty(t, req.NeedsInput)
}

func TestRouteHistoryWindowWinsOverUserData(t *testing.T) {
	history := NewInMemoryHistory()
	require.NoError(t, history.AppendTurn(context.Background(), &HistoryEntry{
		Turn: Turn{ConversationID: "conv_1", TurnID: "turn_1", Text: "weather in Nashik"},
		Tasks: []Task{{
			ID:      "task_1",
			Request: ToolRequest{RequestID: "req_1", Tool: tools.KindWeatherAnalysis},
			Status:  StatusSucceeded,
			Result: &tools.Result{
				Tool: tools.KindWeatherAnalysis,
				Data: map[string]interface{}{"location": "Nashik"},
			},
		}},
	}))
	userData := &scriptedUserData{data: map[string]interface{}{"location": "Punjab"}}
	router := NewQueryRouter(nil, NewRulesClassifier(), history, 6, userData)

	plan := router.Route(context.Background(), Turn{
		ConversationID: "conv_1",
		TurnID:         "turn_2",
		Text:           "what is the wheat price there",
	})

	require.Len(t, plan.Requests, 1)
	assert.Equal(t, "Nashik", plan.Requests[0].Params.String("location"))
}

func TestRouteUserDataReadFailureLeavesFlagged(t *testing.T) {
	userData := &scriptedUserData{err: fmt.Errorf("mongo unavailable")}
	router := NewQueryRouter(nil, NewRulesClassifier(), NewInMemoryHistory(), 6, userData)

	plan := router.Route(context.Background(), Turn{
		ConversationID: "conv_1",
		TurnID:         "turn_1",
		Text:           "will it rain tomorrow",
	})

	require.Len(t, plan.Requests, 1)
	assert.Equal(t, []string{"location"}, plan.Requests[0].NeedsInput)
}

func TestRouteLeavesUnresolvableParamsFlagged(t *testing.T) {
	router := rulesRouter(NewInMemoryHistory())
	plan := router.Route(context.Background(), Turn{
		ConversationID: "conv_1",
		TurnID:         "turn_1",
		Text:           "will it rain tomorrow",
	})

	require.Len(t, plan.Requests, 1)
	assert.Equal(t, []string{"location"}, plan.Requests[0].NeedsInput)
}

func TestRouteFallsBackWhenPrimaryFails(t *testing.T) {
	primary := &scriptedClassifier{err: fmt.Errorf("model unavailable")}
	router := NewQueryRouter(primary, NewRulesClassifier(), NewInMemoryHistory(), 6, nil)

	plan := router.Route(context.Background(), Turn{
		ConversationID: "conv_1",
		TurnID:         "turn_1",
		Text:           "wheat price in Karnal",
	})

	require.Len(t, plan.Requests, 1)
	assert.Equal(t, tools.KindPriceLookup, plan.Requests[0].Tool)
}

func TestRouteDropsInvalidDependencies(t *testing.T) {
	primary := &scriptedClassifier{plan: &Plan{
		Requests: []ToolRequest{
			{RequestID: "req_1", Tool: tools.KindWeatherAnalysis,
				Params: tools.Params{"location": "Pune"}},
			{RequestID: "req_2", Tool: tools.KindPriceLookup,
				Params:    tools.Params{"commodity": "onion", "location": "Pune"},
				DependsOn: "req_missing"},
			{RequestID: "req_3", Tool: tools.KindWebSearch,
				Params:    tools.Params{"query": "onion storage"},
				DependsOn: "req_3"},
		},
	}}
	router := NewQueryRouter(primary, NewRulesClassifier(), NewInMemoryHistory(), 6, nil)

	plan := router.Route(context.Background(), Turn{
		ConversationID: "conv_1", TurnID: "turn_1", Text: "ignored by script",
	})

	require.Len(t, plan.Requests, 3)
	assert.Empty(t, plan.Requests[1].DependsOn, "unknown dependency must be dropped")
	assert.Empty(t, plan.Requests[2].DependsOn, "self dependency must be dropped")
}

func TestRouteKeepsValidDependencies(t *testing.T) {
	primary := &scriptedClassifier{plan: &Plan{
		Requests: []ToolRequest{
			{RequestID: "req_1", Tool: tools.KindWeatherAnalysis,
				Params: tools.Params{"location": "Pune"}},
			{RequestID: "req_2", Tool: tools.KindPriceLookup,
				Params:    tools.Params{"commodity": "onion", "location": "{{req_1.location}}"},
				DependsOn: "req_1"},
		},
	}}
	router := NewQueryRouter(primary, NewRulesClassifier(), NewInMemoryHistory(), 6, nil)

	plan := router.Route(context.Background(), Turn{
		ConversationID: "conv_1", TurnID: "turn_1", Text: "ignored by script",
	})

	require.Len(t, plan.Requests, 2)
	assert.Equal(t, "req_1", plan.Requests[1].DependsOn)
}
