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
	"time"

	"github.com/go-redis/redis/v8"
)

// redisTxRetries bounds optimistic-lock retries on contended task updates.
const redisTxRetries = 5

// RedisTaskStore persists tasks in Redis hashes, one hash per conversation
// partition plus a list holding creation order. Status monotonicity is
// enforced inside a WATCH transaction so concurrent writers cannot regress
// a terminal task.
type RedisTaskStore struct {
	client *redis.Client
}

// NewRedisTaskStore connects to Redis at the given URL
// (redis://[:password@]host:port/db) and verifies the connection.
func NewRedisTaskStore(ctx context.Context, redisURL string) (*RedisTaskStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}
	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 3 * time.Second
	opts.WriteTimeout = 3 * time.Second

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to ping Redis: %w", err)
	}
	return &RedisTaskStore{client: client}, nil
}

// NewRedisTaskStoreFromClient wraps an existing client. Used by tests.
func NewRedisTaskStoreFromClient(client *redis.Client) *RedisTaskStore {
	return &RedisTaskStore{client: client}
}

// Close releases the underlying connection pool.
func (s *RedisTaskStore) Close() error {
	return s.client.Close()
}

// IsHealthy reports whether Redis answers a ping.
func (s *RedisTaskStore) IsHealthy(ctx context.Context) bool {
	return s.client.Ping(ctx).Err() == nil
}

func taskHashKey(conversationID string) string {
	return "curator:tasks:" + conversationID
}

func taskOrderKey(conversationID string) string {
	return "curator:taskorder:" + conversationID
}

func (s *RedisTaskStore) SaveTask(ctx context.Context, task *Task) error {
	payload, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("failed to marshal task %s: %w", task.ID, err)
	}

	created, err := s.client.HSetNX(ctx, taskHashKey(task.ConversationID), task.ID, payload).Result()
	if err != nil {
		return fmt.Errorf("failed to save task %s: %w", task.ID, err)
	}
	if !created {
		return fmt.Errorf("task already exists: %s", task.ID)
	}
	if err := s.client.RPush(ctx, taskOrderKey(task.ConversationID), task.ID).Err(); err != nil {
		return fmt.Errorf("failed to record task order for %s: %w", task.ID, err)
	}
	return nil
}

func (s *RedisTaskStore) UpdateTask(ctx context.Context, task *Task) error {
	key := taskHashKey(task.ConversationID)

	txn := func(tx *redis.Tx) error {
		raw, err := tx.HGet(ctx, key, task.ID).Result()
		if err == redis.Nil {
			return fmt.Errorf("task not found: %s", task.ID)
		}
		if err != nil {
			return err
		}

		var current Task
		if err := json.Unmarshal([]byte(raw), &current); err != nil {
			return fmt.Errorf("failed to unmarshal task %s: %w", task.ID, err)
		}
		if current.Status != task.Status && !current.Status.CanTransition(task.Status) {
			return &ErrIllegalTransition{TaskID: task.ID, From: current.Status, To: task.Status}
		}

		payload, err := json.Marshal(task)
		if err != nil {
			return fmt.Errorf("failed to marshal task %s: %w", task.ID, err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, key, task.ID, payload)
			return nil
		})
		return err
	}

	for attempt := 0; attempt < redisTxRetries; attempt++ {
		err := s.client.Watch(ctx, txn, key)
		if err == redis.TxFailedErr {
			continue // contended write, re-read and retry
		}
		return err
	}
	return fmt.Errorf("task update contention exceeded %d retries: %s", redisTxRetries, task.ID)
}

func (s *RedisTaskStore) GetTask(ctx context.Context, conversationID, taskID string) (*Task, error) {
	raw, err := s.client.HGet(ctx, taskHashKey(conversationID), taskID).Result()
	if err == redis.Nil {
		return nil, fmt.Errorf("task not found: %s", taskID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch task %s: %w", taskID, err)
	}

	var task Task
	if err := json.Unmarshal([]byte(raw), &task); err != nil {
		return nil, fmt.Errorf("failed to unmarshal task %s: %w", taskID, err)
	}
	return &task, nil
}

func (s *RedisTaskStore) ListTasks(ctx context.Context, conversationID string) ([]*Task, error) {
	ids, err := s.client.LRange(ctx, taskOrderKey(conversationID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list tasks for %s: %w", conversationID, err)
	}
	if len(ids) == 0 {
		return []*Task{}, nil
	}

	raws, err := s.client.HMGet(ctx, taskHashKey(conversationID), ids...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to fetch tasks for %s: %w", conversationID, err)
	}

	result := make([]*Task, 0, len(raws))
	for _, raw := range raws {
		str, ok := raw.(string)
		if !ok {
			continue
		}
		var task Task
		if err := json.Unmarshal([]byte(str), &task); err != nil {
			return nil, fmt.Errorf("failed to unmarshal task record: %w", err)
		}
		result = append(result, &task)
	}
	return result, nil
}
