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
	"sync"
	"time"

	"github.com/google/uuid"
)

// Orchestrator is the top-level control loop: it receives a turn, consults
// the router, drives the task manager, and composes the response. At most
// one plan dispatches per conversation at a time; turns for the same
// conversation queue in arrival order behind the in-flight one.
type Orchestrator struct {
	router   *QueryRouter
	manager  *TaskManager
	composer *ResponseComposer
	history  ConversationHistory
	cfg      DispatchConfig

	mu        sync.Mutex
	convLocks map[string]*sync.Mutex
}

// NewOrchestrator wires the control loop.
func NewOrchestrator(router *QueryRouter, manager *TaskManager, composer *ResponseComposer,
	history ConversationHistory, cfg DispatchConfig) *Orchestrator {
	return &Orchestrator{
		router:    router,
		manager:   manager,
		composer:  composer,
		history:   history,
		cfg:       cfg,
		convLocks: make(map[string]*sync.Mutex),
	}
}

// conversationLock returns the serialization lock for one conversation.
func (o *Orchestrator) conversationLock(conversationID string) *sync.Mutex {
	o.mu.Lock()
	defer o.mu.Unlock()
	lock, ok := o.convLocks[conversationID]
	if !ok {
		lock = &sync.Mutex{}
		o.convLocks[conversationID] = lock
	}
	return lock
}

// taskSlot tracks one dispatched task. done closes when the task reaches a
// terminal state (or dispatch gives up on it); final is valid after done.
type taskSlot struct {
	task  *Task
	done  chan struct{}
	final *Task
}

// HandleTurn processes one user turn end to end.
func (o *Orchestrator) HandleTurn(ctx context.Context, request CuratorRequest) (*CuratorResponse, error) {
	start := time.Now()

	if request.ConversationID == "" {
		return nil, fmt.Errorf("conversation_id is required")
	}

	turn := Turn{
		ConversationID: request.ConversationID,
		TurnID:         fmt.Sprintf("turn_%s", uuid.New().String()[:8]),
		Text:           request.Text,
		ImageRef:       request.ImageRef,
		ReceivedAt:     start,
	}

	lock := o.conversationLock(turn.ConversationID)
	lock.Lock()
	defer lock.Unlock()

	log.Printf("[Curator] Turn %s received for conversation %s", turn.TurnID, turn.ConversationID)

	plan := o.router.Route(ctx, turn)
	if plan.Diagnostic != "" {
		log.Printf("[Curator] Turn %s routed with diagnostic: %s", turn.TurnID, plan.Diagnostic)
	}

	// Requests with unresolved parameters are never dispatched; the user
	// is asked to supply the missing pieces instead.
	var dispatchable, unresolved []ToolRequest
	for _, req := range plan.Requests {
		if len(req.NeedsInput) > 0 {
			unresolved = append(unresolved, req)
		} else {
			dispatchable = append(dispatchable, req)
		}
	}

	var responseText string
	var summaries []TaskSummary
	var turnTaskIDs []string
	degraded := false

	switch {
	case len(dispatchable) == 0 && len(unresolved) > 0:
		responseText = o.composer.Prompt(unresolved)
	case len(dispatchable) == 0:
		// Empty plan: straight to composition with zero tasks.
		responseText = o.composer.Compose(ctx, turn, nil, nil)
	default:
		result, err := o.dispatch(ctx, turn, dispatchable)
		if err != nil {
			// An unavailable task store is fatal for the turn: task state
			// cannot be tracked without it.
			return nil, fmt.Errorf("dispatch failed for turn %s: %w", turn.TurnID, err)
		}
		degraded = result.degraded
		turnTaskIDs = result.taskIDs
		responseText = o.composer.Compose(ctx, turn, result.terminal, result.abandoned)
		if len(unresolved) > 0 {
			responseText += "\n\n" + o.composer.Prompt(unresolved)
		}
		summaries = buildSummaries(result.terminal, result.abandoned)
	}

	status := "ok"
	if degraded {
		status = "degraded"
	}
	promTurnsTotal.WithLabelValues(status).Inc()
	promTurnDuration.WithLabelValues(fmt.Sprintf("%t", degraded)).
		Observe(float64(time.Since(start).Milliseconds()))
	recordTurnStat(degraded)

	o.recordHistory(turn, responseText, turnTaskIDs)

	return &CuratorResponse{
		ConversationID: turn.ConversationID,
		TurnID:         turn.TurnID,
		ResponseText:   responseText,
		Caption:        plan.Caption,
		Tasks:          summaries,
		Degraded:       degraded,
		ProcessTime:    time.Since(start).String(),
	}, nil
}

// dispatchResult is what one plan's dispatch produced: the awaited tasks
// that reached a terminal state before the global deadline, the ones
// abandoned at the deadline, the ids of every task the plan created, and
// whether the deadline fired.
type dispatchResult struct {
	terminal  []*Task
	abandoned []*Task
	taskIDs   []string
	degraded  bool
}

// dispatch creates one task per request and runs them: parallel-eligible
// tasks concurrently, dependent tasks after their upstream succeeds,
// fire-and-forget tasks excluded from the join. A task store write failure
// is returned as an error rather than folded into the result: without the
// store there is no task state to report.
func (o *Orchestrator) dispatch(ctx context.Context, turn Turn, requests []ToolRequest) (*dispatchResult, error) {
	result := &dispatchResult{}

	slots := make(map[string]*taskSlot, len(requests))
	for _, req := range requests {
		task, err := o.manager.Create(ctx, turn.ConversationID, req)
		if err != nil {
			return nil, err
		}
		result.taskIDs = append(result.taskIDs, task.ID)
		slots[req.RequestID] = &taskSlot{task: task, done: make(chan struct{})}
	}

	// Awaited completions; fire-and-forget tasks never send here.
	awaited := 0
	for _, req := range requests {
		if !req.Tool.FireAndForget() {
			awaited++
		}
	}
	completions := make(chan *Task, len(requests))
	failures := make(chan error, len(requests))
	semaphore := make(chan struct{}, o.cfg.MaxParallelTasks)

	// Tasks keep running past the global deadline for bookkeeping, so the
	// run context is detached from the request.
	runCtx := context.WithoutCancel(ctx)

	for _, req := range requests {
		slot := slots[req.RequestID]
		upstream := slots[req.DependsOn]
		go o.runTask(runCtx, slot, upstream, semaphore, completions, failures)
	}

	deadline := time.NewTimer(o.cfg.GlobalDeadline())
	defer deadline.Stop()

	received := 0
	for received < awaited {
		select {
		case task := <-completions:
			received++
			result.terminal = append(result.terminal, task)
			promTasksTotal.WithLabelValues(string(task.Request.Tool), string(task.Status)).Inc()
			recordTaskStat()
			if task.Attempts > 1 {
				promTaskRetries.WithLabelValues(string(task.Request.Tool)).
					Add(float64(task.Attempts - 1))
			}
		case err := <-failures:
			return nil, fmt.Errorf("task state write failed: %w", err)
		case <-deadline.C:
			result.degraded = true
			result.abandoned = o.collectAbandoned(ctx, slots, result.terminal)
			promAbandonedTasks.Add(float64(len(result.abandoned)))
			log.Printf("[Curator] Global deadline fired for turn %s: %d done, %d abandoned",
				turn.TurnID, len(result.terminal), len(result.abandoned))
			return result, nil
		}
	}
	return result, nil
}

// runTask drives one task to terminal, waiting on its upstream first. The
// final record is published exactly once.
func (o *Orchestrator) runTask(ctx context.Context, slot *taskSlot, upstream *taskSlot,
	semaphore chan struct{}, completions chan<- *Task, failures chan<- error) {
	defer close(slot.done)

	if upstream != nil {
		<-upstream.done
		if upstream.final == nil || upstream.final.Status != StatusSucceeded {
			final, err := o.manager.FailDependent(ctx, slot.task)
			o.publish(slot, final, err, completions, failures)
			return
		}
		resolved, err := o.manager.ResolveDependency(ctx, slot.task, upstream.final)
		if err != nil {
			log.Printf("[Curator] Dependency resolution failed for task %s: %v", slot.task.ID, err)
			final, ferr := o.manager.FailDependent(ctx, slot.task)
			o.publish(slot, final, ferr, completions, failures)
			return
		}
		slot.task = resolved
	}

	semaphore <- struct{}{}
	defer func() { <-semaphore }()

	final, err := o.manager.Run(ctx, slot.task)
	o.publish(slot, final, err, completions, failures)
}

func (o *Orchestrator) publish(slot *taskSlot, final *Task, err error,
	completions chan<- *Task, failures chan<- error) {
	if err != nil {
		log.Printf("[Curator] Task %s dispatch error: %v", slot.task.ID, err)
		// final stays nil so dependents treat the upstream as failed. The
		// joiner must still hear about the error or it would wait out the
		// whole global deadline on a task that can never complete.
		if !slot.task.Request.Tool.FireAndForget() {
			failures <- fmt.Errorf("task %s: %w", slot.task.ID, err)
		}
		return
	}
	slot.final = final
	if !final.Request.Tool.FireAndForget() {
		completions <- final
	}
}

// collectAbandoned re-reads the store for tasks still non-terminal when the
// deadline fired.
func (o *Orchestrator) collectAbandoned(ctx context.Context, slots map[string]*taskSlot, terminal []*Task) []*Task {
	done := make(map[string]bool, len(terminal))
	for _, task := range terminal {
		done[task.ID] = true
	}

	var abandoned []*Task
	for _, slot := range slots {
		if slot.task.Request.Tool.FireAndForget() || done[slot.task.ID] {
			continue
		}
		current, err := o.manager.Get(ctx, slot.task.ConversationID, slot.task.ID)
		if err != nil {
			current = slot.task
		}
		// A task that completed between the deadline and this read still
		// counts as abandoned: its result was not awaited.
		abandoned = append(abandoned, current)
	}
	return abandoned
}

// recordHistory appends the turn and the tasks this turn created to the
// conversation history. Each record is re-read from the store, which picks
// up fire-and-forget outcomes that landed after the join. Failures are
// logged, never surfaced: losing a history row must not fail a served turn.
func (o *Orchestrator) recordHistory(turn Turn, responseText string, taskIDs []string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var recent []Task
	for _, id := range taskIDs {
		task, err := o.manager.Get(ctx, turn.ConversationID, id)
		if err != nil {
			log.Printf("[Curator] History task read failed for %s: %v", id, err)
			continue
		}
		recent = append(recent, *task)
	}

	entry := &HistoryEntry{Turn: turn, ResponseText: responseText, Tasks: recent}
	if err := o.history.AppendTurn(ctx, entry); err != nil {
		log.Printf("[Curator] History append failed for turn %s: %v", turn.TurnID, err)
	}
}

func buildSummaries(terminal, abandoned []*Task) []TaskSummary {
	summaries := make([]TaskSummary, 0, len(terminal)+len(abandoned))
	for _, task := range terminal {
		s := TaskSummary{
			TaskID: task.ID,
			Tool:   task.Request.Tool,
			Status: task.Status,
		}
		if task.Result != nil {
			s.Summary = task.Result.Summary
		}
		if task.ErrorDetail != "" {
			s.Error = task.ErrorDetail
		}
		summaries = append(summaries, s)
	}
	for _, task := range abandoned {
		summaries = append(summaries, TaskSummary{
			TaskID:    task.ID,
			Tool:      task.Request.Tool,
			Status:    task.Status,
			Error:     task.ErrorDetail,
			Abandoned: true,
		})
	}
	return summaries
}

// IsHealthy reports whether the control loop's collaborators are wired.
func (o *Orchestrator) IsHealthy() bool {
	return o.router != nil && o.manager != nil && o.composer != nil
}
