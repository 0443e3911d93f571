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
	"sync"
)

// ErrIllegalTransition is returned when a write would move a task backward
// along its lifecycle or out of a terminal state.
type ErrIllegalTransition struct {
	TaskID string
	From   TaskStatus
	To     TaskStatus
}

func (e *ErrIllegalTransition) Error() string {
	return fmt.Sprintf("illegal transition for task %s: %s -> %s", e.TaskID, e.From, e.To)
}

// TaskStore is the single synchronized resource of the dispatch path. It
// must support concurrent writes to different tasks with no lost updates,
// and readers must observe status transitions monotonically.
type TaskStore interface {
	// SaveTask stores a new task record.
	SaveTask(ctx context.Context, task *Task) error

	// UpdateTask replaces the task record. Implementations reject writes
	// whose status would regress relative to the stored record.
	UpdateTask(ctx context.Context, task *Task) error

	// GetTask fetches one task by conversation and task id.
	GetTask(ctx context.Context, conversationID, taskID string) (*Task, error)

	// ListTasks returns all tasks in a conversation partition in creation
	// order.
	ListTasks(ctx context.Context, conversationID string) ([]*Task, error)
}

// InMemoryTaskStore is a thread-safe task store partitioned by
// conversation. Suitable for single-instance deployments and tests.
type InMemoryTaskStore struct {
	mu    sync.RWMutex
	tasks map[string]map[string]*Task // conversation id -> task id
	order map[string][]string         // conversation id -> task ids in creation order
}

// NewInMemoryTaskStore creates an empty in-memory task store.
func NewInMemoryTaskStore() *InMemoryTaskStore {
	return &InMemoryTaskStore{
		tasks: make(map[string]map[string]*Task),
		order: make(map[string][]string),
	}
}

func (s *InMemoryTaskStore) SaveTask(ctx context.Context, task *Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	partition, ok := s.tasks[task.ConversationID]
	if !ok {
		partition = make(map[string]*Task)
		s.tasks[task.ConversationID] = partition
	}
	if _, exists := partition[task.ID]; exists {
		return fmt.Errorf("task already exists: %s", task.ID)
	}

	copied := *task
	partition[task.ID] = &copied
	s.order[task.ConversationID] = append(s.order[task.ConversationID], task.ID)
	return nil
}

func (s *InMemoryTaskStore) UpdateTask(ctx context.Context, task *Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	partition, ok := s.tasks[task.ConversationID]
	if !ok {
		return fmt.Errorf("task not found: %s", task.ID)
	}
	current, ok := partition[task.ID]
	if !ok {
		return fmt.Errorf("task not found: %s", task.ID)
	}

	if current.Status != task.Status && !current.Status.CanTransition(task.Status) {
		return &ErrIllegalTransition{TaskID: task.ID, From: current.Status, To: task.Status}
	}

	copied := *task
	partition[task.ID] = &copied
	return nil
}

func (s *InMemoryTaskStore) GetTask(ctx context.Context, conversationID, taskID string) (*Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	partition, ok := s.tasks[conversationID]
	if !ok {
		return nil, fmt.Errorf("task not found: %s", taskID)
	}
	task, ok := partition[taskID]
	if !ok {
		return nil, fmt.Errorf("task not found: %s", taskID)
	}
	copied := *task
	return &copied, nil
}

func (s *InMemoryTaskStore) ListTasks(ctx context.Context, conversationID string) ([]*Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := s.order[conversationID]
	result := make([]*Task, 0, len(ids))
	for _, id := range ids {
		if task, ok := s.tasks[conversationID][id]; ok {
			copied := *task
			result = append(result, &copied)
		}
	}
	return result, nil
}
