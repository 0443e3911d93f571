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
Command curator runs the KisanMitra Curator service.

The Curator is the conversational control loop of the KisanMitra platform:
it routes each farmer message into tool invocations, tracks them as tasks
with retries and timeouts, and composes one reply per turn.

# Usage

	curator

# Environment Variables

Optional:
  - CURATOR_CONFIG: path to the YAML config file
  - CURATOR_PORT: HTTP server port (default: 8090)
  - CURATOR_TASK_TIMEOUT_SECONDS: per-invocation timeout (default: 30)
  - CURATOR_GLOBAL_DEADLINE_SECONDS: per-turn deadline (default: 60)
  - CURATOR_RETRY_BOUND: retries per task after the first attempt (default: 2)
  - CURATOR_HISTORY_WINDOW: prior turns consulted by the router (default: 6)
  - REDIS_URL: Redis task store URL (in-memory store without it)
  - DATABASE_URL: PostgreSQL history store (in-memory history without it)
  - MONGO_URL: MongoDB user data store (user data logging disabled without it)
  - OPENAI_API_KEY: OpenAI API key for LLM routing and synthesis
  - SEARCH_API_KEY: web search backend API key
  - AWS_REGION: region for S3 image fetches and Bedrock

# Stores

The Curator runs with zero external stores for development: tasks and
history fall back to in-memory implementations. Production deployments
configure Redis for task state, PostgreSQL for conversation history, and
MongoDB for farmer-provided facts.

# Endpoints

	GET  /health
	GET  /prometheus
	POST /api/v1/turns
	GET  /api/v1/conversations/{conversation_id}/tasks
*/
package main
