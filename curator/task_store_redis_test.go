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
	"errors"
	"fmt"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kisanmitra/platform/tools"
)

func newMiniredisStore(t *testing.T) *RedisTaskStore {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisTaskStoreFromClient(client)
}

func TestRedisStoreSaveAndGet(t *testing.T) {
	store := newMiniredisStore(t)
	ctx := context.Background()

	task := &Task{
		ID:             "task_1",
		ConversationID: "conv_1",
		Request: ToolRequest{
			RequestID: "req_1",
			Tool:      tools.KindPriceLookup,
			Params:    tools.Params{"commodity": "wheat", "location": "Karnal"},
		},
		Status: StatusPending,
	}
	require.NoError(t, store.SaveTask(ctx, task))

	got, err := store.GetTask(ctx, "conv_1", "task_1")
	require.NoError(t, err)
	assert.Equal(t, StatusPending, got.Status)
	assert.Equal(t, tools.KindPriceLookup, got.Request.Tool)
	assert.Equal(t, "wheat", got.Request.Params.String("commodity"))

	assert.Error(t, store.SaveTask(ctx, task), "duplicate id must be rejected")

	_, err = store.GetTask(ctx, "conv_1", "task_missing")
	assert.Error(t, err)
}

func TestRedisStoreRejectsRegression(t *testing.T) {
	store := newMiniredisStore(t)
	ctx := context.Background()

	task := &Task{
		ID:             "task_1",
		ConversationID: "conv_1",
		Request:        ToolRequest{RequestID: "req_1", Tool: tools.KindWebSearch},
		Status:         StatusPending,
	}
	require.NoError(t, store.SaveTask(ctx, task))

	task.Status = StatusTimedOut
	require.NoError(t, store.UpdateTask(ctx, task))

	task.Status = StatusSucceeded
	err := store.UpdateTask(ctx, task)
	require.Error(t, err)

	var illegal *ErrIllegalTransition
	require.True(t, errors.As(err, &illegal))
	assert.Equal(t, StatusTimedOut, illegal.From)

	got, err := store.GetTask(ctx, "conv_1", "task_1")
	require.NoError(t, err)
	assert.Equal(t, StatusTimedOut, got.Status)
}

func TestRedisStoreListPreservesCreationOrder(t *testing.T) {
	store := newMiniredisStore(t)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		task := &Task{
			ID:             fmt.Sprintf("task_%d", i),
			ConversationID: "conv_1",
			Request:        ToolRequest{RequestID: fmt.Sprintf("req_%d", i), Tool: tools.KindRetrieval},
			Status:         StatusPending,
		}
		require.NoError(t, store.SaveTask(ctx, task))
	}

	tasks, err := store.ListTasks(ctx, "conv_1")
	require.NoError(t, err)
	require.Len(t, tasks, 4)
	for i, task := range tasks {
		assert.Equal(t, fmt.Sprintf("task_%d", i), task.ID)
	}

	empty, err := store.ListTasks(ctx, "conv_other")
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestRedisStorePartitionsByConversation(t *testing.T) {
	store := newMiniredisStore(t)
	ctx := context.Background()

	for _, conv := range []string{"conv_a", "conv_b"} {
		task := &Task{
			ID:             "task_1",
			ConversationID: conv,
			Request:        ToolRequest{RequestID: "req_1", Tool: tools.KindWeatherAnalysis},
			Status:         StatusPending,
		}
		require.NoError(t, store.SaveTask(ctx, task))
	}

	a, err := store.ListTasks(ctx, "conv_a")
	require.NoError(t, err)
	b, err := store.ListTasks(ctx, "conv_b")
	require.NoError(t, err)
	assert.Len(t, a, 1)
	assert.Len(t, b, 1)
	assert.Equal(t, "conv_a", a[0].ConversationID)
	assert.Equal(t, "conv_b", b[0].ConversationID)
}
