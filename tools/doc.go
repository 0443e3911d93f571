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

// Package tools defines the tool invocation contract and the concrete
// adapters the curator dispatches work to.
//
// Every adapter implements the Tool interface: a single blocking Invoke
// that takes loosely typed parameters and returns either a Result or a
// typed *Error. Adapters normalize upstream failures into the shared
// error taxonomy so the task manager can decide retry behavior from the
// error kind alone:
//
//   - ErrInvalidInput: the request can never succeed as written
//   - ErrUpstreamUnavailable: the backend is unreachable, retryable
//   - ErrTimeout: the invocation exceeded its deadline, retryable
//   - ErrUpstream: the backend answered with a failure
//
// Adapters hold their own HTTP clients and credentials. They do not
// retry internally, log through the shared logger, or track elapsed
// budget. That is the task manager's job.
//
// Available adapters:
//
//   - WebSearchTool: general web search for agronomy questions
//   - RetrievalTool: knowledge base excerpts (schemes, advisories)
//   - PriceLookupTool: latest mandi prices by commodity and market
//   - WeatherAnalysisTool: geocoded forecast summaries
//   - PestDetectionTool: image classification of crop pest photos
//   - UserDataLoggerTool: fire-and-forget persistence of user facts
package tools
