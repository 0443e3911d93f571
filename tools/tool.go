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
)

// Kind identifies a capability variant. The set is closed: adding a
// capability means adding a Kind constant plus an adapter, never subclassing
// behavior behind the Tool contract.
type Kind string

const (
	KindWebSearch       Kind = "web_search"
	KindRetrieval       Kind = "retrieval"
	KindPriceLookup     Kind = "price_lookup"
	KindWeatherAnalysis Kind = "weather_analysis"
	KindPestDetection   Kind = "pest_detection"
	KindUserDataLogger  Kind = "user_data_logger"
)

// Kinds lists every registered capability variant.
func Kinds() []Kind {
	return []Kind{
		KindWebSearch,
		KindRetrieval,
		KindPriceLookup,
		KindWeatherAnalysis,
		KindPestDetection,
		KindUserDataLogger,
	}
}

// Valid reports whether k names a known capability variant.
func (k Kind) Valid() bool {
	switch k {
	case KindWebSearch, KindRetrieval, KindPriceLookup,
		KindWeatherAnalysis, KindPestDetection, KindUserDataLogger:
		return true
	}
	return false
}

// FireAndForget reports whether tasks of this kind are dispatched without
// being awaited by the response path. Logger failures never reach the
// conversation.
func (k Kind) FireAndForget() bool {
	return k == KindUserDataLogger
}

// Params is the parameter payload for one invocation.
type Params map[string]interface{}

// String returns the string value for key, or "" if absent or not a string.
func (p Params) String(key string) string {
	if v, ok := p[key].(string); ok {
		return v
	}
	return ""
}

// Int returns the int value for key, tolerating JSON float64 decoding.
func (p Params) Int(key string) int {
	switch v := p[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	}
	return 0
}

// Result is the outcome of a successful invocation.
type Result struct {
	Tool     Kind                   `json:"tool"`
	Data     map[string]interface{} `json:"data"`
	Summary  string                 `json:"summary"`
	Duration time.Duration          `json:"duration"`
}

// Tool is the uniform invocation contract every capability adapter
// implements. Adapters are stateless with respect to the orchestrator: any
// caching or rate limiting they perform is internal and never visible as
// shared state to other tools.
type Tool interface {
	Name() string
	Kind() Kind
	Invoke(ctx context.Context, params Params) (*Result, error)
}

// ErrorKind classifies an invocation failure.
type ErrorKind string

const (
	// ErrInvalidInput is a caller/parameter error. Not retried.
	ErrInvalidInput ErrorKind = "invalid_input"
	// ErrUpstreamUnavailable is a transient network/connectivity failure.
	ErrUpstreamUnavailable ErrorKind = "upstream_unavailable"
	// ErrTimeout is an invocation that ran past its deadline.
	ErrTimeout ErrorKind = "timeout"
	// ErrUpstream is a backend that accepted the call and rejected it.
	ErrUpstream ErrorKind = "upstream_error"
)

// Transient reports whether a failure of this kind is worth retrying.
func (k ErrorKind) Transient() bool {
	return k == ErrUpstreamUnavailable || k == ErrTimeout
}

// Error is the typed failure every adapter returns. It wraps the underlying
// cause so errors.Is/As keep working through the Task boundary.
type Error struct {
	Tool    Kind
	Kind    ErrorKind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (%s): %v", e.Tool, e.Message, e.Kind, e.Cause)
	}
	return fmt.Sprintf("%s: %s (%s)", e.Tool, e.Message, e.Kind)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError builds a typed tool error.
func NewError(tool Kind, kind ErrorKind, message string, cause error) *Error {
	return &Error{Tool: tool, Kind: kind, Message: message, Cause: cause}
}

// KindOf extracts the ErrorKind from err, defaulting to ErrUpstream for
// untyped failures.
func KindOf(err error) ErrorKind {
	var te *Error
	if errors.As(err, &te) {
		return te.Kind
	}
	return ErrUpstream
}
