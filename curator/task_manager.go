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
	"time"

	"github.com/google/uuid"

	"kisanmitra/platform/tools"
)

// TaskManager is the exclusive owner of task creation and status mutation.
// Tools never write to the store; every status and result write flows
// through here, which is what keeps transitions monotonic under concurrent
// dispatch.
type TaskManager struct {
	store    TaskStore
	registry map[tools.Kind]tools.Tool
	cfg      DispatchConfig
}

// NewTaskManager creates a task manager over the given store and tool
// registry.
func NewTaskManager(store TaskStore, registry map[tools.Kind]tools.Tool, cfg DispatchConfig) *TaskManager {
	return &TaskManager{
		store:    store,
		registry: registry,
		cfg:      cfg,
	}
}

// Create assigns an identifier, records the task as pending, and appends it
// to the conversation partition.
func (m *TaskManager) Create(ctx context.Context, conversationID string, request ToolRequest) (*Task, error) {
	now := time.Now()
	task := &Task{
		ID:             fmt.Sprintf("task_%s", uuid.New().String()[:8]),
		ConversationID: conversationID,
		Request:        request,
		Status:         StatusPending,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := m.store.SaveTask(ctx, task); err != nil {
		return nil, fmt.Errorf("failed to create task for %s: %w", request.Tool, err)
	}
	log.Printf("[TaskManager] Created task %s (%s) for conversation %s",
		task.ID, request.Tool, conversationID)
	return task, nil
}

// Run drives the task to a terminal state: transitions to running, invokes
// the bound tool with the per-task timeout, retries transient failures with
// exponential backoff, and writes the outcome. Calling Run on a task that
// is already terminal is a no-op that returns the stored record.
func (m *TaskManager) Run(ctx context.Context, task *Task) (*Task, error) {
	current, err := m.store.GetTask(ctx, task.ConversationID, task.ID)
	if err != nil {
		return nil, err
	}
	if current.Status.Terminal() {
		return current, nil
	}

	tool, ok := m.registry[current.Request.Tool]
	if !ok {
		return m.finishFailed(ctx, current, tools.ErrInvalidInput,
			fmt.Sprintf("no adapter registered for tool %q", current.Request.Tool))
	}

	current.Status = StatusRunning
	current.UpdatedAt = time.Now()
	if err := m.store.UpdateTask(ctx, current); err != nil {
		return nil, fmt.Errorf("failed to mark task %s running: %w", current.ID, err)
	}

	var lastErr error
	for attempt := 0; attempt <= m.cfg.RetryBound; attempt++ {
		if attempt > 0 {
			backoff := m.cfg.BackoffBase() * (1 << (attempt - 1))
			log.Printf("[TaskManager] Task %s attempt %d/%d after %s backoff",
				current.ID, attempt+1, m.cfg.RetryBound+1, backoff)
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return m.finishTimedOut(ctx, current, "retry wait interrupted by cancellation")
			}
		}

		result, err := m.invokeOnce(ctx, tool, current.Request.Params)
		current.Attempts++
		if err == nil {
			return m.finishSucceeded(ctx, current, result)
		}

		lastErr = err
		kind := tools.KindOf(err)
		log.Printf("[TaskManager] Task %s attempt %d failed (%s): %v",
			current.ID, current.Attempts, kind, err)
		if !kind.Transient() {
			return m.finishFailed(ctx, current, kind, err.Error())
		}
	}

	kind := tools.KindOf(lastErr)
	if kind == tools.ErrTimeout {
		return m.finishTimedOut(ctx, current, lastErr.Error())
	}
	return m.finishFailed(ctx, current, kind, lastErr.Error())
}

// FailDependent marks a task failed because its upstream dependency did not
// succeed. The bound tool is never invoked.
func (m *TaskManager) FailDependent(ctx context.Context, task *Task) (*Task, error) {
	current, err := m.store.GetTask(ctx, task.ConversationID, task.ID)
	if err != nil {
		return nil, err
	}
	if current.Status.Terminal() {
		return current, nil
	}
	return m.finishFailed(ctx, current, tools.ErrUpstream, "upstream dependency failed")
}

// ResolveDependency rewrites the task's parameters with placeholders
// substituted from the upstream task's result and persists the rewrite.
// Must be called before Run for dependent tasks.
func (m *TaskManager) ResolveDependency(ctx context.Context, task *Task, upstream *Task) (*Task, error) {
	current, err := m.store.GetTask(ctx, task.ConversationID, task.ID)
	if err != nil {
		return nil, err
	}
	if current.Status.Terminal() {
		return current, nil
	}
	current.Request.Params = ResolveParams(current.Request.Params, upstream)
	current.UpdatedAt = time.Now()
	if err := m.store.UpdateTask(ctx, current); err != nil {
		return nil, fmt.Errorf("failed to persist resolved params for task %s: %w", current.ID, err)
	}
	return current, nil
}

// Get reads one task record.
func (m *TaskManager) Get(ctx context.Context, conversationID, taskID string) (*Task, error) {
	return m.store.GetTask(ctx, conversationID, taskID)
}

// List returns a conversation's tasks in creation order.
func (m *TaskManager) List(ctx context.Context, conversationID string) ([]*Task, error) {
	return m.store.ListTasks(ctx, conversationID)
}

// invokeOnce runs one invocation attempt under the per-task timeout. The
// invocation goroutine writes into a buffered channel, so a result arriving
// after the timeout is dropped without anyone observing it.
func (m *TaskManager) invokeOnce(ctx context.Context, tool tools.Tool, params tools.Params) (*tools.Result, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, m.cfg.TaskTimeout())
	defer cancel()

	type outcome struct {
		result *tools.Result
		err    error
	}
	done := make(chan outcome, 1)

	go func() {
		result, err := tool.Invoke(attemptCtx, params)
		done <- outcome{result: result, err: err}
	}()

	select {
	case o := <-done:
		return o.result, o.err
	case <-attemptCtx.Done():
		return nil, tools.NewError(tool.Kind(), tools.ErrTimeout,
			fmt.Sprintf("invocation exceeded %s", m.cfg.TaskTimeout()), attemptCtx.Err())
	}
}

func (m *TaskManager) finishSucceeded(ctx context.Context, task *Task, result *tools.Result) (*Task, error) {
	task.Status = StatusSucceeded
	task.Result = result
	task.UpdatedAt = time.Now()
	if err := m.store.UpdateTask(ctx, task); err != nil {
		return nil, fmt.Errorf("failed to record success for task %s: %w", task.ID, err)
	}
	log.Printf("[TaskManager] Task %s (%s) succeeded after %d attempt(s)",
		task.ID, task.Request.Tool, task.Attempts)
	return task, nil
}

func (m *TaskManager) finishFailed(ctx context.Context, task *Task, kind tools.ErrorKind, detail string) (*Task, error) {
	task.Status = StatusFailed
	task.ErrorKind = kind
	task.ErrorDetail = detail
	task.UpdatedAt = time.Now()
	if err := m.store.UpdateTask(ctx, task); err != nil {
		return nil, fmt.Errorf("failed to record failure for task %s: %w", task.ID, err)
	}
	log.Printf("[TaskManager] Task %s (%s) failed (%s): %s",
		task.ID, task.Request.Tool, kind, detail)
	return task, nil
}

func (m *TaskManager) finishTimedOut(ctx context.Context, task *Task, detail string) (*Task, error) {
	task.Status = StatusTimedOut
	task.ErrorKind = tools.ErrTimeout
	task.ErrorDetail = detail
	task.UpdatedAt = time.Now()
	if err := m.store.UpdateTask(ctx, task); err != nil {
		return nil, fmt.Errorf("failed to record timeout for task %s: %w", task.ID, err)
	}
	log.Printf("[TaskManager] Task %s (%s) timed out: %s", task.ID, task.Request.Tool, detail)
	return task, nil
}

// ResolveParams substitutes {{requestID.field}} placeholders in string
// parameter values with fields from the upstream task's result data.
func ResolveParams(params tools.Params, upstream *Task) tools.Params {
	if upstream == nil || upstream.Result == nil {
		return params
	}

	resolved := make(tools.Params, len(params))
	for key, value := range params {
		str, ok := value.(string)
		if !ok {
			resolved[key] = value
			continue
		}
		for field, data := range upstream.Result.Data {
			placeholder := fmt.Sprintf("{{%s.%s}}", upstream.Request.RequestID, field)
			if dataStr, ok := data.(string); ok {
				str = strings.ReplaceAll(str, placeholder, dataStr)
			} else {
				str = strings.ReplaceAll(str, placeholder, fmt.Sprintf("%v", data))
			}
		}
		resolved[key] = str
	}
	return resolved
}
