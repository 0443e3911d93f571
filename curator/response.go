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
	"log"
	"strings"

	"kisanmitra/platform/tools"
)

// ResponseComposer assembles the user-visible answer from terminal tasks.
// Successful results always appear; failed or timed-out tasks become an
// itemized note of what could not be retrieved rather than an error. LLM
// synthesis smooths the text when a provider is available, with plain
// concatenation as the fallback.
type ResponseComposer struct {
	provider LLMProvider // nil disables synthesis
	model    string
}

// NewResponseComposer creates a composer. provider may be nil.
func NewResponseComposer(provider LLMProvider, model string) *ResponseComposer {
	return &ResponseComposer{provider: provider, model: model}
}

// Compose builds the response text for one turn from its awaited tasks.
// abandoned lists tasks still running at the global deadline.
func (c *ResponseComposer) Compose(ctx context.Context, turn Turn, tasks []*Task, abandoned []*Task) string {
	var succeeded, failed []*Task
	for _, task := range tasks {
		if task.Status == StatusSucceeded {
			succeeded = append(succeeded, task)
		} else {
			failed = append(failed, task)
		}
	}

	if len(tasks) == 0 && len(abandoned) == 0 {
		return c.conversationalReply(ctx, turn)
	}

	body := c.concatenate(turn, succeeded)
	if c.provider != nil && c.provider.IsHealthy() && len(succeeded) > 0 {
		if synthesized, err := c.synthesize(ctx, turn, succeeded); err == nil && synthesized != "" {
			body = synthesized
		} else if err != nil {
			log.Printf("[Composer] LLM synthesis failed, using concatenation: %v", err)
		}
	}

	notes := failureNotes(failed, abandoned)
	if notes == "" {
		return body
	}
	if body == "" {
		return notes
	}
	return body + "\n\n" + notes
}

// Prompt builds the clarification message for requests the router could
// not fully resolve.
func (c *ResponseComposer) Prompt(unresolved []ToolRequest) string {
	var b strings.Builder
	b.WriteString("I need a little more information before I can help:\n")
	for _, req := range unresolved {
		for _, param := range req.NeedsInput {
			fmt.Fprintf(&b, "- Please tell me the %s for the %s request.\n",
				strings.ReplaceAll(param, "_", " "), describeTool(req.Tool))
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

func (c *ResponseComposer) conversationalReply(ctx context.Context, turn Turn) string {
	if c.provider != nil && c.provider.IsHealthy() {
		response, err := c.provider.Query(ctx,
			fmt.Sprintf("You are a friendly farming assistant. Reply briefly to the user's message: %q", turn.Text),
			QueryOptions{Model: c.model, MaxTokens: 256, Temperature: 0.7})
		if err == nil && strings.TrimSpace(response.Content) != "" {
			return response.Content
		}
		if err != nil {
			log.Printf("[Composer] Conversational reply failed, using canned text: %v", err)
		}
	}
	return "Happy to help. Ask me about crop prices, weather, pests, or government schemes."
}

func (c *ResponseComposer) synthesize(ctx context.Context, turn Turn, succeeded []*Task) (string, error) {
	var b strings.Builder
	b.WriteString("You are a farming assistant. Combine the following tool results into one clear answer for the farmer.\n\n")
	fmt.Fprintf(&b, "Farmer's question: %s\n\nTool results:\n\n", turn.Text)
	for i, task := range succeeded {
		fmt.Fprintf(&b, "%d. %s: %s\n", i+1, describeTool(task.Request.Tool), task.Result.Summary)
	}
	b.WriteString("\nAnswer the question directly using only the data above. Be concise and practical.")

	response, err := c.provider.Query(ctx, b.String(), QueryOptions{
		Model:       c.model,
		MaxTokens:   768,
		Temperature: 0.3,
	})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(response.Content), nil
}

func (c *ResponseComposer) concatenate(turn Turn, succeeded []*Task) string {
	if len(succeeded) == 0 {
		return ""
	}
	var b strings.Builder
	for i, task := range succeeded {
		if i > 0 {
			b.WriteString("\n")
		}
		b.WriteString(task.Result.Summary)
	}
	return b.String()
}

// failureNotes itemizes what could not be retrieved and why.
func failureNotes(failed, abandoned []*Task) string {
	if len(failed) == 0 && len(abandoned) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("I could not retrieve everything you asked for:\n")
	for _, task := range failed {
		fmt.Fprintf(&b, "- %s: %s\n", describeTool(task.Request.Tool), failureReason(task))
	}
	for _, task := range abandoned {
		fmt.Fprintf(&b, "- %s: still in progress when the time limit was reached\n",
			describeTool(task.Request.Tool))
	}
	return strings.TrimRight(b.String(), "\n")
}

func failureReason(task *Task) string {
	switch {
	case task.Status == StatusTimedOut:
		return "the service took too long to answer"
	case task.ErrorKind == tools.ErrInvalidInput:
		return "the request was not valid (" + task.ErrorDetail + ")"
	case task.ErrorKind == tools.ErrUpstreamUnavailable:
		return "the service is currently unreachable"
	default:
		return "the service reported an error"
	}
}

func describeTool(kind tools.Kind) string {
	switch kind {
	case tools.KindWebSearch:
		return "web search"
	case tools.KindRetrieval:
		return "knowledge base lookup"
	case tools.KindPriceLookup:
		return "price lookup"
	case tools.KindWeatherAnalysis:
		return "weather analysis"
	case tools.KindPestDetection:
		return "pest detection"
	case tools.KindUserDataLogger:
		return "note keeping"
	default:
		return string(kind)
	}
}
