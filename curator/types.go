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
	"time"

	"kisanmitra/platform/tools"
)

// Turn is one unit of user input. Immutable once received.
type Turn struct {
	ConversationID string    `json:"conversation_id"`
	TurnID         string    `json:"turn_id"`
	Text           string    `json:"text"`
	ImageRef       string    `json:"image_ref,omitempty"`
	ReceivedAt     time.Time `json:"received_at"`
}

// ToolRequest is a single planned invocation. It owns no mutable state.
type ToolRequest struct {
	RequestID string       `json:"request_id"`
	Tool      tools.Kind   `json:"tool"`
	Params    tools.Params `json:"params"`

	// DependsOn names the RequestID whose result this request consumes.
	// Empty means parallel-eligible.
	DependsOn string `json:"depends_on,omitempty"`

	// NeedsInput lists parameter names the router could not resolve from
	// the turn or the conversation window. A request with unresolved
	// parameters is never dispatched; the orchestrator prompts the user
	// instead.
	NeedsInput []string `json:"needs_input,omitempty"`
}

// Plan is the ordered set of tool requests chosen for a turn.
type Plan struct {
	TurnID     string        `json:"turn_id"`
	Requests   []ToolRequest `json:"requests"`
	Caption    string        `json:"caption,omitempty"`
	Diagnostic string        `json:"diagnostic,omitempty"`
}

// Empty reports whether the plan carries no tool requests.
func (p *Plan) Empty() bool {
	return len(p.Requests) == 0
}

// TaskStatus is the task lifecycle state. Transitions are monotonic:
// Pending -> Running -> {Succeeded, Failed, TimedOut}, and nothing leaves
// a terminal state.
type TaskStatus string

const (
	StatusPending   TaskStatus = "pending"
	StatusRunning   TaskStatus = "running"
	StatusSucceeded TaskStatus = "succeeded"
	StatusFailed    TaskStatus = "failed"
	StatusTimedOut  TaskStatus = "timed_out"
)

// Terminal reports whether the status admits no further transitions.
func (s TaskStatus) Terminal() bool {
	switch s {
	case StatusSucceeded, StatusFailed, StatusTimedOut:
		return true
	}
	return false
}

// rank orders statuses along the allowed transition path. A write that
// would decrease the rank is rejected by the store.
func (s TaskStatus) rank() int {
	switch s {
	case StatusPending:
		return 0
	case StatusRunning:
		return 1
	case StatusSucceeded, StatusFailed, StatusTimedOut:
		return 2
	}
	return -1
}

// CanTransition reports whether moving from s to next is a legal step.
func (s TaskStatus) CanTransition(next TaskStatus) bool {
	if s.Terminal() {
		return false
	}
	return next.rank() > s.rank()
}

// Task is the tracked execution record for one ToolRequest. Created and
// mutated only by the task manager; immutable once terminal.
type Task struct {
	ID             string          `json:"id"`
	ConversationID string          `json:"conversation_id"`
	Request        ToolRequest     `json:"request"`
	Status         TaskStatus      `json:"status"`
	Result         *tools.Result   `json:"result,omitempty"`
	ErrorKind      tools.ErrorKind `json:"error_kind,omitempty"`
	ErrorDetail    string          `json:"error_detail,omitempty"`
	Attempts       int             `json:"attempts"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// TaskSummary is the caller-visible digest of one task in the response.
type TaskSummary struct {
	TaskID    string     `json:"task_id"`
	Tool      tools.Kind `json:"tool"`
	Status    TaskStatus `json:"status"`
	Summary   string     `json:"summary,omitempty"`
	Error     string     `json:"error,omitempty"`
	Abandoned bool       `json:"abandoned,omitempty"`
}

// CuratorRequest is the conversational entry point payload.
type CuratorRequest struct {
	ConversationID string `json:"conversation_id"`
	Text           string `json:"text"`
	ImageRef       string `json:"image_ref,omitempty"`
}

// CuratorResponse is what the entry point returns for one turn.
type CuratorResponse struct {
	ConversationID string        `json:"conversation_id"`
	TurnID         string        `json:"turn_id"`
	ResponseText   string        `json:"response_text"`
	Caption        string        `json:"caption,omitempty"`
	Tasks          []TaskSummary `json:"tasks"`
	Degraded       bool          `json:"degraded,omitempty"`
	ProcessTime    string        `json:"process_time"`
}

// HistoryEntry is one prior turn with its task outcomes, as seen by the
// router's bounded conversation window.
type HistoryEntry struct {
	Turn         Turn   `json:"turn"`
	ResponseText string `json:"response_text"`
	Tasks        []Task `json:"tasks"`
}
