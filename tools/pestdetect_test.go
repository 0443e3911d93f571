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
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeS3 serves objects from an in-memory map keyed by "bucket/key".
type fakeS3 struct {
	objects map[string][]byte
	gotKeys []string
}

func (f *fakeS3) GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	key := aws.ToString(params.Bucket) + "/" + aws.ToString(params.Key)
	f.gotKeys = append(f.gotKeys, key)
	body, ok := f.objects[key]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(body))}, nil
}

func jpegBytes(payload int) []byte {
	b := append([]byte{0xFF, 0xD8, 0xFF}, bytes.Repeat([]byte{0xAB}, payload)...)
	return b
}

func newTestPestTool(classifierURL string, store *fakeS3) *PestDetectionTool {
	return &PestDetectionTool{
		cfg: PestDetectionConfig{
			ClassifierEndpoint: classifierURL,
			ImageBucket:        "crop-images",
		},
		s3Client:   store,
		httpClient: &http.Client{Timeout: 5 * time.Second},
	}
}

func TestPestDetectionInvoke(t *testing.T) {
	image := jpegBytes(64)
	store := &fakeS3{objects: map[string][]byte{
		"crop-images/conv-1/leaf.jpg": image,
	}}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/classify", r.URL.Path)
		var req struct {
			ImageBase64 string `json:"image_base64"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		decoded, err := base64.StdEncoding.DecodeString(req.ImageBase64)
		require.NoError(t, err)
		assert.Equal(t, image, decoded)

		json.NewEncoder(w).Encode(map[string]interface{}{
			"label":      "aphid",
			"confidence": 0.93,
		})
	}))
	defer server.Close()

	tool := newTestPestTool(server.URL, store)
	result, err := tool.Invoke(context.Background(), Params{"image_ref": "conv-1/leaf.jpg"})
	require.NoError(t, err)

	assert.Equal(t, "aphid", result.Data["label"])
	assert.Equal(t, 0.93, result.Data["confidence"])
	assert.Contains(t, result.Summary, "aphid")
}

func TestPestDetectionS3URI(t *testing.T) {
	store := &fakeS3{objects: map[string][]byte{
		"other-bucket/photos/pest.jpg": jpegBytes(16),
	}}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{"label": "whitefly", "confidence": 0.8})
	}))
	defer server.Close()

	tool := newTestPestTool(server.URL, store)
	_, err := tool.Invoke(context.Background(), Params{"image_ref": "s3://other-bucket/photos/pest.jpg"})
	require.NoError(t, err)
	require.Len(t, store.gotKeys, 1)
	assert.Equal(t, "other-bucket/photos/pest.jpg", store.gotKeys[0])
}

func TestPestDetectionMissingImage(t *testing.T) {
	tool := newTestPestTool("http://unused.invalid", &fakeS3{objects: map[string][]byte{}})
	_, err := tool.Invoke(context.Background(), Params{"image_ref": "conv-1/gone.jpg"})
	require.Error(t, err)
	assert.Equal(t, ErrInvalidInput, KindOf(err))
}

func TestPestDetectionUnreadableImage(t *testing.T) {
	store := &fakeS3{objects: map[string][]byte{
		"crop-images/conv-1/notes.txt": []byte("this is not an image"),
	}}
	tool := newTestPestTool("http://unused.invalid", store)
	_, err := tool.Invoke(context.Background(), Params{"image_ref": "conv-1/notes.txt"})
	require.Error(t, err)
	assert.Equal(t, ErrInvalidInput, KindOf(err))
}

func TestPestDetectionMalformedRef(t *testing.T) {
	tool := newTestPestTool("http://unused.invalid", &fakeS3{})

	_, err := tool.Invoke(context.Background(), Params{})
	require.Error(t, err)
	assert.Equal(t, ErrInvalidInput, KindOf(err))

	_, err = tool.Invoke(context.Background(), Params{"image_ref": "s3://bucket-only"})
	require.Error(t, err)
	assert.Equal(t, ErrInvalidInput, KindOf(err))
}

func TestPestDetectionClassifierError(t *testing.T) {
	store := &fakeS3{objects: map[string][]byte{
		"crop-images/leaf.jpg": jpegBytes(8),
	}}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	tool := newTestPestTool(server.URL, store)
	_, err := tool.Invoke(context.Background(), Params{"image_ref": "leaf.jpg"})
	require.Error(t, err)
	assert.Equal(t, ErrUpstream, KindOf(err))
}
