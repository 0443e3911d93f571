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
Package logger provides structured JSON logging with per-conversation
context for KisanMitra components.

# Overview

The logger package provides structured logging that outputs JSON to stdout,
making logs easily consumable by CloudWatch, ELK stack, or other log
aggregation systems.

Each log entry includes:
  - Timestamp (RFC3339Nano format)
  - Log level (DEBUG, INFO, WARN, ERROR)
  - Component name (curator, indexer, etc.)
  - Instance ID and container name (for distributed tracing)
  - Conversation ID (for correlating a multi-turn conversation)
  - Turn ID (for correlating one user turn)
  - Custom fields

# Usage

Create a logger for your component:

	log := logger.New("curator")

Log messages with conversation and turn context:

	log.Info("conv-123", "turn-456", "Dispatching plan", map[string]interface{}{
	    "tasks": 3,
	})

Log errors with the error detail attached:

	log.ErrorWithErr("conv-123", "turn-456", "Tool invocation failed", err, nil)

Log with duration tracking:

	start := time.Now()
	// ... do work ...
	log.InfoWithDuration("conv-123", "turn-456", "Turn completed",
	    float64(time.Since(start).Milliseconds()), nil)

# Output Format

Log entries are output as single-line JSON:

	{"timestamp":"2025-01-15T10:30:00.123456789Z","level":"INFO",
	 "component":"curator","instance_id":"i-abc123","container":"curator-xyz",
	 "conversation_id":"conv-123","turn_id":"turn-456",
	 "message":"Dispatching plan","fields":{"tasks":3}}

# Environment Variables

The logger reads these environment variables:

  - INSTANCE_ID: Deployment instance identifier
  - HOSTNAME: Container hostname (auto-detected)

# Thread Safety

Logger instances are safe for concurrent use from multiple goroutines.
*/
package logger
