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

package tools

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// userDataCollection narrows the Mongo collection to what the logger needs
// so tests can stub writes.
type userDataCollection interface {
	UpdateOne(ctx context.Context, filter interface{}, update interface{},
		opts ...*options.UpdateOptions) (*mongo.UpdateResult, error)
	FindOne(ctx context.Context, filter interface{},
		opts ...*options.FindOneOptions) *mongo.SingleResult
}

// UserDataLoggerTool persists structured user-provided facts (farm
// location, crops grown, land size) keyed by conversation. Writes are
// idempotent upserts, safe to retry at most once.
type UserDataLoggerTool struct {
	collection userDataCollection
}

// NewUserDataLoggerTool creates a user-data logger over the given Mongo
// collection.
func NewUserDataLoggerTool(collection *mongo.Collection) *UserDataLoggerTool {
	return &UserDataLoggerTool{collection: collection}
}

func (t *UserDataLoggerTool) Name() string { return "UserDataLoggerTool" }
func (t *UserDataLoggerTool) Kind() Kind   { return KindUserDataLogger }

// Invoke upserts user data. Params: conversation_id (required), data
// (required map). Merges into the existing document for the conversation.
func (t *UserDataLoggerTool) Invoke(ctx context.Context, params Params) (*Result, error) {
	start := time.Now()

	conversationID := params.String("conversation_id")
	if conversationID == "" {
		return nil, NewError(KindUserDataLogger, ErrInvalidInput, "missing 'conversation_id' parameter", nil)
	}

	data, ok := params["data"].(map[string]interface{})
	if !ok || len(data) == 0 {
		return nil, NewError(KindUserDataLogger, ErrInvalidInput, "missing or empty 'data' payload", nil)
	}

	set := bson.M{"updated_at": time.Now().UTC()}
	for key, value := range data {
		set["data."+key] = value
	}

	result, err := t.collection.UpdateOne(ctx,
		bson.M{"conversation_id": conversationID},
		bson.M{
			"$set":         set,
			"$setOnInsert": bson.M{"conversation_id": conversationID, "created_at": time.Now().UTC()},
		},
		options.Update().SetUpsert(true),
	)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, NewError(KindUserDataLogger, ErrTimeout, "user data write timed out", err)
		}
		return nil, NewError(KindUserDataLogger, ErrUpstreamUnavailable, "user data store unreachable", err)
	}

	return &Result{
		Tool: KindUserDataLogger,
		Data: map[string]interface{}{
			"conversation_id": conversationID,
			"fields_written":  len(data),
			"upserted":        result.UpsertedCount > 0,
		},
		Summary:  fmt.Sprintf("Logged %d user data fields for conversation %s", len(data), conversationID),
		Duration: time.Since(start),
	}, nil
}

// Fetch reads back the stored user data for a conversation. The query
// router consults it when the conversation window cannot resolve a
// parameter.
func (t *UserDataLoggerTool) Fetch(ctx context.Context, conversationID string) (map[string]interface{}, error) {
	var doc struct {
		Data map[string]interface{} `bson:"data"`
	}
	err := t.collection.FindOne(ctx, bson.M{"conversation_id": conversationID}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return map[string]interface{}{}, nil
		}
		return nil, NewError(KindUserDataLogger, ErrUpstreamUnavailable, "user data read failed", err)
	}
	if doc.Data == nil {
		return map[string]interface{}{}, nil
	}
	return doc.Data, nil
}
