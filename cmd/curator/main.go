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

// Package main is the entry point for the KisanMitra Curator service.
//
// The Curator is the conversational orchestrator that:
// - Routes farmer messages to the right capability tools
// - Dispatches tool tasks with retries, timeouts, and dependency gating
// - Bounds each turn with a global deadline, degrading gracefully
// - Composes tool results into one reply per turn
//
// Usage:
//
//	./curator
//
// Environment Variables:
//
//	CURATOR_CONFIG - path to the YAML config file (optional)
//	CURATOR_PORT - HTTP server port (default: 8090)
//	REDIS_URL - Redis task store URL (optional)
//	DATABASE_URL - PostgreSQL connection string (optional)
//	MONGO_URL - MongoDB connection string (optional)
//	OPENAI_API_KEY - OpenAI API key (optional)
package main

import (
	"kisanmitra/platform/curator"
)

func main() {
	curator.Run()
}
