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

func succeededTask(kind tools.Kind, summary string) *Task {
	return &Task{
		ID:      "task_ok",
		Request: ToolRequest{RequestID: "req_1", Tool: kind},
		Status:  StatusSucceeded,
		Result:  &tools.Result{Tool: kind, Summary: summary},
	}
}

func TestComposeConcatenatesWithoutProvider(t *testing.T) {
	composer := NewResponseComposer(nil, "")

	text := composer.Compose(context.Background(), Turn{Text: "prices please"},
		[]*Task{
			succeededTask(tools.KindPriceLookup, "Wheat is at 2250 INR per quintal in Karnal."),
			succeededTask(tools.KindWeatherAnalysis, "Dry weather for the next three days."),
		}, nil)

	assert.Contains(t, text, "Wheat is at 2250 INR per quintal in Karnal.")
	assert.Contains(t, text, "Dry weather for the next three days.")
	assert.NotContains(t, text, "could not retrieve")
}

func TestComposeSynthesizesWithProvider(t *testing.T) {
	provider := &fakeProvider{content: "Wheat is selling well and the weather is dry."}
	composer := NewResponseComposer(provider, "fake-model")

	text := composer.Compose(context.Background(), Turn{Text: "prices please"},
		[]*Task{succeededTask(tools.KindPriceLookup, "Wheat at 2250 INR.")}, nil)

	assert.Equal(t, "Wheat is selling well and the weather is dry.", text)
	require.Len(t, provider.prompts, 1)
	assert.Contains(t, provider.prompts[0], "Wheat at 2250 INR.")
}

func TestComposeFallsBackWhenSynthesisFails(t *testing.T) {
	provider := &fakeProvider{err: fmt.Errorf("model overloaded")}
	composer := NewResponseComposer(provider, "fake-model")

	text := composer.Compose(context.Background(), Turn{Text: "prices please"},
		[]*Task{succeededTask(tools.KindPriceLookup, "Wheat at 2250 INR.")}, nil)

	assert.Contains(t, text, "Wheat at 2250 INR.")
}

func TestComposePartialFailureItemizesMissing(t *testing.T) {
	composer := NewResponseComposer(nil, "")

	failed := &Task{
		ID:          "task_bad",
		Request:     ToolRequest{RequestID: "req_2", Tool: tools.KindWeatherAnalysis},
		Status:      StatusFailed,
		ErrorKind:   tools.ErrUpstreamUnavailable,
		ErrorDetail: "forecast service unreachable",
	}

	text := composer.Compose(context.Background(), Turn{Text: "price and weather"},
		[]*Task{
			succeededTask(tools.KindPriceLookup, "Wheat at 2250 INR."),
			failed,
		}, nil)

	assert.Contains(t, text, "Wheat at 2250 INR.")
	assert.Contains(t, text, "I could not retrieve everything you asked for:")
	assert.Contains(t, text, "weather analysis: the service is currently unreachable")
}

func TestComposeTimedOutTaskNote(t *testing.T) {
	composer := NewResponseComposer(nil, "")

	timedOut := &Task{
		ID:        "task_slow",
		Request:   ToolRequest{RequestID: "req_1", Tool: tools.KindPestDetection},
		Status:    StatusTimedOut,
		ErrorKind: tools.ErrTimeout,
	}

	text := composer.Compose(context.Background(), Turn{Text: "check my crop photo"},
		[]*Task{timedOut}, nil)

	assert.Contains(t, text, "pest detection: the service took too long to answer")
}

func TestComposeAbandonedTaskNote(t *testing.T) {
	composer := NewResponseComposer(nil, "")

	abandoned := &Task{
		ID:      "task_late",
		Request: ToolRequest{RequestID: "req_2", Tool: tools.KindWebSearch},
		Status:  StatusRunning,
	}

	text := composer.Compose(context.Background(), Turn{Text: "search and price"},
		[]*Task{succeededTask(tools.KindPriceLookup, "Onion at 1800 INR.")},
		[]*Task{abandoned})

	assert.Contains(t, text, "Onion at 1800 INR.")
	assert.Contains(t, text, "web search: still in progress when the time limit was reached")
}

func TestComposeNoTasksGivesConversationalReply(t *testing.T) {
	composer := NewResponseComposer(nil, "")

	text := composer.Compose(context.Background(), Turn{Text: "hello"}, nil, nil)
	assert.Equal(t,
		"Happy to help. Ask me about crop prices, weather, pests, or government schemes.",
		text)
}

func TestPromptListsMissingParameters(t *testing.T) {
	composer := NewResponseComposer(nil, "")

	text := composer.Prompt([]ToolRequest{
		{RequestID: "req_1", Tool: tools.KindPriceLookup,
			NeedsInput: []string{"commodity", "location"}},
		{RequestID: "req_2", Tool: tools.KindWeatherAnalysis,
			NeedsInput: []string{"location"}},
	})

	assert.Contains(t, text, "I need a little more information")
	assert.Contains(t, text, "- Please tell me the commodity for the price lookup request.")
	assert.Contains(t, text, "- Please tell me the location for the price lookup request.")
	assert.Contains(t, text, "- Please tell me the location for the weather analysis request.")
}
