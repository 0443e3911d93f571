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

/*
Package curator provides the KisanMitra Curator service - the conversational
control loop that turns farmer messages into tool work and composes the
final reply.

# Overview

The Curator receives one conversational turn at a time and handles:

  - Query routing: classifying the turn into tool requests with parameters
  - Task management: dispatch, retries, timeouts, and dependency gating
  - Response composition: synthesizing tool results into a single reply
  - Conversation history for follow-up reference resolution

# Architecture

Each turn moves through a pipeline:

	Turn → Query Router → Task Manager → Response Composer → History

Turns for the same conversation are serialized; turns for different
conversations run concurrently.

# Query Router

The QueryRouter produces a Plan for each turn. Classification is attempted
with an LLM first and falls back to deterministic keyword rules when the
LLM is unavailable or returns an unusable plan:

	router := NewQueryRouter(NewLLMClassifier(provider, model),
	    NewRulesClassifier(), history, window, userData)
	plan, err := router.Route(ctx, turn)

The router never fails a turn outward: a classification failure yields an
empty plan carrying a diagnostic, and the composer answers conversationally.
Parameters missing from the turn are resolved from recent history first and
then from the durable user data store when one is configured. Requests with
parameters that cannot be resolved either way are marked NeedsInput and are
never dispatched; the reply asks the farmer for the missing values instead.

# Task Manager

The TaskManager owns the task lifecycle. Task status moves forward only:

	pending → running → succeeded | failed | timed_out

Transient failures (upstream_unavailable, timeout) are retried with
exponential backoff up to the configured retry bound; invalid_input and
upstream_error fail immediately. Every attempt runs under its own timeout,
and exactly one outcome per task is observed regardless of how the attempt
ends. A task whose dependency did not succeed is failed without invoking
its tool.

# Orchestration

The Orchestrator runs the per-turn control loop: it dispatches the plan's
tasks in parallel (bounded by max_parallel_tasks), waits for the awaited
set to reach terminal status, and composes the reply. A global deadline
bounds the wait: when it fires, the turn returns with completed results
only, the response is marked degraded, and still-running tasks are listed
as abandoned while continuing in the background for bookkeeping.
Fire-and-forget tasks (user data logging) are dispatched but never awaited.

# Usage

	// Start the Curator service
	curator.Run()

	// Configuration comes from a YAML file plus environment overrides:
	// CURATOR_CONFIG - path to the YAML config file (optional)
	// CURATOR_PORT   - HTTP server port (default: 8090)
	// REDIS_URL      - Redis task store (optional, in-memory fallback)
	// DATABASE_URL   - PostgreSQL history (optional, in-memory fallback)
	// MONGO_URL      - MongoDB user data store (optional)
	// OPENAI_API_KEY - OpenAI API key for LLM routing (optional)

# Thread Safety

All exported types in this package are safe for concurrent use. Turn
processing within a conversation is serialized with a per-conversation
mutex; task stores guard their state with sync.RWMutex or Redis
transactions.

# Metrics

The Curator exposes Prometheus metrics at /prometheus:

  - kisanmitra_curator_turns_total - Turns processed by status
  - kisanmitra_curator_turn_duration_milliseconds - Turn latency
  - kisanmitra_curator_tasks_total - Tasks by tool and terminal status
  - kisanmitra_curator_task_retries_total - Retries by tool
  - kisanmitra_curator_abandoned_tasks_total - Tasks abandoned at deadline
*/
package curator
