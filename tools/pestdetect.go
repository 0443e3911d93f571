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
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// maxImageBytes caps the image payload forwarded to the classifier.
const maxImageBytes = 10 << 20

// PestDetectionConfig configures the pest detection adapter.
type PestDetectionConfig struct {
	ClassifierEndpoint string
	ImageBucket        string
	Region             string
	// Optional static credentials and endpoint for S3-compatible object
	// stores used in development.
	AccessKeyID     string
	SecretAccessKey string
	S3Endpoint      string
}

// s3Downloader narrows the S3 client to what the adapter needs so tests can
// stub object fetches.
type s3Downloader interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// PestDetectionTool resolves an image reference from object storage and
// sends it to the pest classifier service.
type PestDetectionTool struct {
	cfg        PestDetectionConfig
	s3Client   s3Downloader
	httpClient *http.Client
}

// NewPestDetectionTool creates a pest detection adapter. The S3 client is
// built from the default AWS config chain, with static credentials and a
// custom endpoint honored when configured.
func NewPestDetectionTool(ctx context.Context, cfg PestDetectionConfig) (*PestDetectionTool, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config for pest detection (region: %s): %w", cfg.Region, err)
	}

	s3Client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.S3Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.S3Endpoint)
			o.UsePathStyle = true
		}
	})

	return &PestDetectionTool{
		cfg:      cfg,
		s3Client: s3Client,
		httpClient: &http.Client{
			Timeout: 60 * time.Second, // model inference can be slow
		},
	}, nil
}

func (t *PestDetectionTool) Name() string { return "PestDetectionTool" }
func (t *PestDetectionTool) Kind() Kind   { return KindPestDetection }

// Invoke classifies a crop image. Params: image_ref (required) — an object
// key in the configured bucket or an "s3://bucket/key" URI. An unreadable
// image fails invalid_input.
func (t *PestDetectionTool) Invoke(ctx context.Context, params Params) (*Result, error) {
	start := time.Now()

	imageRef := params.String("image_ref")
	if imageRef == "" {
		return nil, NewError(KindPestDetection, ErrInvalidInput, "missing 'image_ref' parameter", nil)
	}

	imageBytes, err := t.fetchImage(ctx, imageRef)
	if err != nil {
		return nil, err
	}
	if len(imageBytes) == 0 {
		return nil, NewError(KindPestDetection, ErrInvalidInput,
			fmt.Sprintf("image %q is empty", imageRef), nil)
	}
	if !isSupportedImage(imageBytes) {
		return nil, NewError(KindPestDetection, ErrInvalidInput,
			fmt.Sprintf("image %q is not a readable JPEG or PNG", imageRef), nil)
	}

	reqBody, err := json.Marshal(map[string]interface{}{
		"image_base64": base64.StdEncoding.EncodeToString(imageBytes),
	})
	if err != nil {
		return nil, NewError(KindPestDetection, ErrInvalidInput, "failed to marshal classifier request", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", t.cfg.ClassifierEndpoint+"/classify", bytes.NewBuffer(reqBody))
	if err != nil {
		return nil, NewError(KindPestDetection, ErrInvalidInput, "failed to create HTTP request", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := t.httpClient.Do(httpReq)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, NewError(KindPestDetection, ErrTimeout, "classifier request timed out", err)
		}
		return nil, NewError(KindPestDetection, ErrUpstreamUnavailable, "classifier unreachable", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, NewError(KindPestDetection, ErrUpstreamUnavailable, "failed to read classifier response", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, NewError(KindPestDetection, ErrUpstream,
			fmt.Sprintf("classifier returned status %d", resp.StatusCode), nil)
	}

	var classifyResp struct {
		Label      string  `json:"label"`
		Confidence float64 `json:"confidence"`
	}
	if err := json.Unmarshal(respBody, &classifyResp); err != nil {
		return nil, NewError(KindPestDetection, ErrUpstream, "failed to parse classifier response", err)
	}

	return &Result{
		Tool: KindPestDetection,
		Data: map[string]interface{}{
			"image_ref":  imageRef,
			"label":      classifyResp.Label,
			"confidence": classifyResp.Confidence,
		},
		Summary: fmt.Sprintf("Detected %s (confidence %.2f) in %s",
			classifyResp.Label, classifyResp.Confidence, imageRef),
		Duration: time.Since(start),
	}, nil
}

// fetchImage loads the referenced image from object storage.
func (t *PestDetectionTool) fetchImage(ctx context.Context, imageRef string) ([]byte, error) {
	bucket := t.cfg.ImageBucket
	key := imageRef

	if strings.HasPrefix(imageRef, "s3://") {
		trimmed := strings.TrimPrefix(imageRef, "s3://")
		parts := strings.SplitN(trimmed, "/", 2)
		if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
			return nil, NewError(KindPestDetection, ErrInvalidInput,
				fmt.Sprintf("malformed image reference %q", imageRef), nil)
		}
		bucket, key = parts[0], parts[1]
	}

	output, err := t.s3Client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, NewError(KindPestDetection, ErrTimeout, "image fetch timed out", err)
		}
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, NewError(KindPestDetection, ErrInvalidInput,
				fmt.Sprintf("image %q not found", imageRef), err)
		}
		return nil, NewError(KindPestDetection, ErrUpstreamUnavailable, "object storage unreachable", err)
	}
	defer output.Body.Close()

	imageBytes, err := io.ReadAll(io.LimitReader(output.Body, maxImageBytes+1))
	if err != nil {
		return nil, NewError(KindPestDetection, ErrUpstreamUnavailable, "failed to read image body", err)
	}
	if len(imageBytes) > maxImageBytes {
		return nil, NewError(KindPestDetection, ErrInvalidInput,
			fmt.Sprintf("image %q exceeds the %dMB limit", imageRef, maxImageBytes>>20), nil)
	}
	return imageBytes, nil
}

// isSupportedImage checks the JPEG/PNG magic bytes.
func isSupportedImage(b []byte) bool {
	if len(b) >= 3 && b[0] == 0xFF && b[1] == 0xD8 && b[2] == 0xFF {
		return true // JPEG
	}
	if len(b) >= 8 && bytes.Equal(b[:8], []byte{0x89, 'P', 'N', 'G', 0x0D, 0x0A, 0x1A, 0x0A}) {
		return true // PNG
	}
	return false
}
