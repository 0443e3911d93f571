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
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// fakeUserDataCollection records the last write and serves scripted reads.
type fakeUserDataCollection struct {
	updateErr  error
	upserted   int64
	lastFilter bson.M
	lastUpdate bson.M

	findDoc bson.M
	findErr error
}

func (f *fakeUserDataCollection) UpdateOne(ctx context.Context, filter interface{},
	update interface{}, opts ...*options.UpdateOptions) (*mongo.UpdateResult, error) {
	f.lastFilter = filter.(bson.M)
	f.lastUpdate = update.(bson.M)
	if f.updateErr != nil {
		return nil, f.updateErr
	}
	return &mongo.UpdateResult{MatchedCount: 1, UpsertedCount: f.upserted}, nil
}

func (f *fakeUserDataCollection) FindOne(ctx context.Context, filter interface{},
	opts ...*options.FindOneOptions) *mongo.SingleResult {
	doc := f.findDoc
	if doc == nil {
		doc = bson.M{}
	}
	return mongo.NewSingleResultFromDocument(doc, f.findErr, nil)
}

func TestUserDataLoggerRequiresConversationID(t *testing.T) {
	tool := &UserDataLoggerTool{collection: &fakeUserDataCollection{}}

	_, err := tool.Invoke(context.Background(), Params{
		"data": map[string]interface{}{"location": "Punjab"},
	})
	require.Error(t, err)
	assert.Equal(t, ErrInvalidInput, KindOf(err))
}

func TestUserDataLoggerRequiresData(t *testing.T) {
	tool := &UserDataLoggerTool{collection: &fakeUserDataCollection{}}

	for _, params := range []Params{
		{"conversation_id": "conv_1"},
		{"conversation_id": "conv_1", "data": map[string]interface{}{}},
		{"conversation_id": "conv_1", "data": "not a map"},
	} {
		_, err := tool.Invoke(context.Background(), params)
		require.Error(t, err)
		assert.Equal(t, ErrInvalidInput, KindOf(err))
	}
}

func TestUserDataLoggerUpsertsByConversation(t *testing.T) {
	collection := &fakeUserDataCollection{upserted: 1}
	tool := &UserDataLoggerTool{collection: collection}

	result, err := tool.Invoke(context.Background(), Params{
		"conversation_id": "conv_1",
		"data": map[string]interface{}{
			"location": "Punjab",
			"crop":     "wheat",
		},
	})
	require.NoError(t, err)

	assert.Equal(t, bson.M{"conversation_id": "conv_1"}, collection.lastFilter)

	set, ok := collection.lastUpdate["$set"].(bson.M)
	require.True(t, ok)
	assert.Equal(t, "Punjab", set["data.location"])
	assert.Equal(t, "wheat", set["data.crop"])
	assert.Contains(t, set, "updated_at")

	setOnInsert, ok := collection.lastUpdate["$setOnInsert"].(bson.M)
	require.True(t, ok)
	assert.Equal(t, "conv_1", setOnInsert["conversation_id"])

	assert.Equal(t, 2, result.Data["fields_written"])
	assert.Equal(t, true, result.Data["upserted"])
	assert.Equal(t, KindUserDataLogger, result.Tool)
}

func TestUserDataLoggerErrorMapping(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorKind
	}{
		{"deadline exceeded", context.DeadlineExceeded, ErrTimeout},
		{"connection failure", fmt.Errorf("server selection error"), ErrUpstreamUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tool := &UserDataLoggerTool{collection: &fakeUserDataCollection{updateErr: tt.err}}
			_, err := tool.Invoke(context.Background(), Params{
				"conversation_id": "conv_1",
				"data":            map[string]interface{}{"location": "Punjab"},
			})
			require.Error(t, err)
			assert.Equal(t, tt.want, KindOf(err))
		})
	}
}

func TestUserDataLoggerFetch(t *testing.T) {
	collection := &fakeUserDataCollection{
		findDoc: bson.M{
			"conversation_id": "conv_1",
			"data":            bson.M{"location": "Punjab"},
		},
	}
	tool := &UserDataLoggerTool{collection: collection}

	data, err := tool.Fetch(context.Background(), "conv_1")
	require.NoError(t, err)
	assert.Equal(t, "Punjab", data["location"])
}

func TestUserDataLoggerFetchNoDocument(t *testing.T) {
	collection := &fakeUserDataCollection{findErr: mongo.ErrNoDocuments}
	tool := &UserDataLoggerTool{collection: collection}

	data, err := tool.Fetch(context.Background(), "conv_unknown")
	require.NoError(t, err)
	assert.Empty(t, data)
}
