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
	"log"
	"net/http"
	"os"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"kisanmitra/platform/shared/logger"
	"kisanmitra/platform/tools"
)

// service bundles the wired components behind the HTTP handlers.
type service struct {
	orchestrator *Orchestrator
	taskStore    TaskStore
	history      ConversationHistory
	logger       *logger.Logger
}

// Run is the exported entry point for the curator service.
//
// It wires the task store, tool adapters, router, and orchestrator, sets up
// HTTP routes, and starts the server. The function blocks until the server
// is shut down.
//
// Environment variables used:
//   - CURATOR_CONFIG: path to the YAML config file (optional)
//   - CURATOR_PORT: HTTP server port (default: 8090)
//   - REDIS_URL: Redis task store URL (optional, in-memory fallback)
//   - DATABASE_URL: PostgreSQL history store (optional, in-memory fallback)
//   - MONGO_URL: MongoDB user data store (optional, logger disabled without)
//   - OPENAI_API_KEY: OpenAI API key for LLM routing (optional)
func Run() {
	log.Println("Starting KisanMitra Curator...")

	config, err := LoadConfig(os.Getenv("CURATOR_CONFIG"))
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	svc, err := buildService(context.Background(), config)
	if err != nil {
		log.Fatalf("Failed to initialize components: %v", err)
	}

	r := mux.NewRouter()

	// CORS middleware
	origins := config.Service.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"} // Configure for production
	}
	c := cors.New(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	})

	// Health check
	r.HandleFunc("/health", svc.healthHandler).Methods("GET")

	// Metrics endpoints
	r.HandleFunc("/metrics", svc.metricsHandler).Methods("GET") // JSON metrics (legacy)
	r.Handle("/prometheus", promhttp.Handler()).Methods("GET")  // Prometheus native format

	// Conversational entry point
	r.HandleFunc("/api/v1/turns", svc.turnHandler).Methods("POST")

	// Task inspection
	r.HandleFunc("/api/v1/conversations/{conversation_id}/tasks", svc.tasksHandler).Methods("GET")

	port := config.Service.Port
	handler := c.Handler(r)
	log.Printf("KisanMitra Curator listening on port %d", port)
	log.Fatal(http.ListenAndServe(fmt.Sprintf(":%d", port), handler))
}

// buildService wires every component from configuration.
func buildService(ctx context.Context, config *Config) (*service, error) {
	svcLogger := logger.New("curator")

	// Task store: Redis when configured, in-memory otherwise.
	var taskStore TaskStore
	if config.Stores.RedisURL != "" {
		redisStore, err := NewRedisTaskStore(ctx, config.Stores.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("redis task store: %w", err)
		}
		taskStore = redisStore
		log.Println("Task store: Redis")
	} else {
		taskStore = NewInMemoryTaskStore()
		log.Println("Task store: in-memory (no REDIS_URL configured)")
	}

	// Conversation history: Postgres when configured.
	var history ConversationHistory
	if config.Stores.PostgresURL != "" {
		pgHistory, err := NewPostgresHistory(config.Stores.PostgresURL)
		if err != nil {
			return nil, fmt.Errorf("postgres history: %w", err)
		}
		history = pgHistory
		log.Println("Conversation history: Postgres")
	} else {
		history = NewInMemoryHistory()
		log.Println("Conversation history: in-memory (no DATABASE_URL configured)")
	}

	registry, err := buildToolRegistry(ctx, config)
	if err != nil {
		return nil, err
	}

	// LLM provider for classification and synthesis, optional.
	var provider LLMProvider
	switch config.Router.LLMProvider {
	case "openai":
		provider = NewOpenAIProvider(config.Router.OpenAIAPIKey, config.Router.OpenAIBaseURL)
		log.Println("LLM provider: OpenAI")
	case "bedrock":
		bedrock, err := NewBedrockProvider(ctx, config.Router.AWSRegion, config.Router.LLMModel)
		if err != nil {
			return nil, fmt.Errorf("bedrock provider: %w", err)
		}
		provider = bedrock
		log.Println("LLM provider: Bedrock")
	default:
		log.Println("LLM provider: none (rules-only routing)")
	}

	var primary Classifier
	if provider != nil {
		primary = NewLLMClassifier(provider, config.Router.LLMModel)
	}

	// The user data logger doubles as the router's durable fact source.
	var userData UserDataSource
	if dataLogger, ok := registry[tools.KindUserDataLogger].(*tools.UserDataLoggerTool); ok {
		userData = dataLogger
	}
	router := NewQueryRouter(primary, NewRulesClassifier(), history, config.Router.HistoryWindow, userData)
	manager := NewTaskManager(taskStore, registry, config.Dispatch)
	composer := NewResponseComposer(provider, config.Router.LLMModel)
	orchestrator := NewOrchestrator(router, manager, composer, history, config.Dispatch)

	return &service{
		orchestrator: orchestrator,
		taskStore:    taskStore,
		history:      history,
		logger:       svcLogger,
	}, nil
}

// buildToolRegistry creates the capability adapters from backend config.
func buildToolRegistry(ctx context.Context, config *Config) (map[tools.Kind]tools.Tool, error) {
	registry := make(map[tools.Kind]tools.Tool)
	backends := config.Backends

	if backends.SearchEndpoint != "" {
		registry[tools.KindWebSearch] = tools.NewWebSearchTool(backends.SearchEndpoint, backends.SearchAPIKey)
	}
	if backends.IndexEndpoint != "" {
		registry[tools.KindRetrieval] = tools.NewRetrievalTool(backends.IndexEndpoint)
	}
	if backends.PriceFeedEndpoint != "" {
		registry[tools.KindPriceLookup] = tools.NewPriceLookupTool(backends.PriceFeedEndpoint)
	}
	if backends.GeocodingEndpoint != "" && backends.ForecastEndpoint != "" {
		registry[tools.KindWeatherAnalysis] = tools.NewWeatherAnalysisTool(
			backends.GeocodingEndpoint, backends.ForecastEndpoint)
	}
	if backends.ClassifierEndpoint != "" {
		pest, err := tools.NewPestDetectionTool(ctx, tools.PestDetectionConfig{
			ClassifierEndpoint: backends.ClassifierEndpoint,
			ImageBucket:        backends.ImageBucket,
			Region:             backends.AWSRegion,
			AccessKeyID:        backends.AWSAccessKeyID,
			SecretAccessKey:    backends.AWSSecretAccessKey,
			S3Endpoint:         backends.S3Endpoint,
		})
		if err != nil {
			return nil, fmt.Errorf("pest detection tool: %w", err)
		}
		registry[tools.KindPestDetection] = pest
	}
	if config.Stores.MongoURL != "" {
		client, err := mongo.Connect(ctx, options.Client().ApplyURI(config.Stores.MongoURL))
		if err != nil {
			return nil, fmt.Errorf("mongo connect: %w", err)
		}
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := client.Ping(pingCtx, readpref.Primary()); err != nil {
			return nil, fmt.Errorf("mongo ping: %w", err)
		}
		collection := client.Database(config.Stores.MongoDB).Collection("user_data")
		registry[tools.KindUserDataLogger] = tools.NewUserDataLoggerTool(collection)
	}

	log.Printf("Tool registry: %d adapter(s) configured", len(registry))
	return registry, nil
}

// turnHandler is the conversational entry point.
func (s *service) turnHandler(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	var request CuratorRequest
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if request.ConversationID == "" {
		writeJSONError(w, http.StatusBadRequest, "conversation_id is required")
		return
	}
	if request.Text == "" && request.ImageRef == "" {
		writeJSONError(w, http.StatusBadRequest, "text or image_ref is required")
		return
	}

	response, err := s.orchestrator.HandleTurn(r.Context(), request)
	if err != nil {
		s.logger.ErrorWithErr(request.ConversationID, "", "turn processing failed", err, nil)
		writeJSONError(w, http.StatusInternalServerError, "turn processing failed")
		return
	}

	s.logger.InfoWithDuration(response.ConversationID, response.TurnID,
		"turn processed", float64(time.Since(start).Milliseconds()), map[string]interface{}{
			"tasks":    len(response.Tasks),
			"degraded": response.Degraded,
		})

	writeJSON(w, http.StatusOK, response)
}

// tasksHandler exposes a conversation's task records for inspection.
func (s *service) tasksHandler(w http.ResponseWriter, r *http.Request) {
	conversationID := mux.Vars(r)["conversation_id"]
	tasks, err := s.taskStore.ListTasks(r.Context(), conversationID)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, "failed to list tasks")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"conversation_id": conversationID,
		"tasks":           tasks,
	})
}

// metricsHandler returns simplified metrics for easy consumption.
func (s *service) metricsHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, snapshotMetrics())
}

func (s *service) healthHandler(w http.ResponseWriter, r *http.Request) {
	healthy := s.orchestrator.IsHealthy()
	status := "healthy"
	code := http.StatusOK
	if !healthy {
		status = "unhealthy"
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]interface{}{
		"status":    status,
		"service":   "curator",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func writeJSON(w http.ResponseWriter, code int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("Error encoding response: %v", err)
	}
}

func writeJSONError(w http.ResponseWriter, code int, message string) {
	writeJSON(w, code, map[string]string{"error": message})
}
