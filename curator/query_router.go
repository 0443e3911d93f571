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
	"log"

	"kisanmitra/platform/tools"
)

// UserDataSource supplies durable per-conversation facts, consulted for
// reference resolution when the history window has no answer.
type UserDataSource interface {
	Fetch(ctx context.Context, conversationID string) (map[string]interface{}, error)
}

// QueryRouter turns an incoming turn into a plan. It never fails outward:
// any internal error degrades to an empty plan with a diagnostic, and the
// orchestrator answers conversationally.
type QueryRouter struct {
	primary  Classifier // optional LLM strategy
	fallback Classifier // deterministic rules, always present
	history  ConversationHistory
	userData UserDataSource // optional durable fact store
	window   int
}

// NewQueryRouter creates a router. primary may be nil to route with rules
// only; userData may be nil when no durable fact store is configured.
func NewQueryRouter(primary Classifier, fallback Classifier, history ConversationHistory,
	window int, userData UserDataSource) *QueryRouter {
	return &QueryRouter{
		primary:  primary,
		fallback: fallback,
		history:  history,
		userData: userData,
		window:   window,
	}
}

// Route classifies the turn and post-processes the plan: resolves
// references from the conversation window, validates dependencies, and
// flags unresolvable parameters.
func (r *QueryRouter) Route(ctx context.Context, turn Turn) *Plan {
	window, err := r.history.RecentTurns(ctx, turn.ConversationID, r.window)
	if err != nil {
		log.Printf("[Router] History read failed for %s, routing without context: %v",
			turn.ConversationID, err)
		window = nil
	}

	plan := r.classify(ctx, turn, window)
	r.resolveReferences(ctx, turn, plan, window)
	r.validateDependencies(plan)
	return plan
}

func (r *QueryRouter) classify(ctx context.Context, turn Turn, window []*HistoryEntry) *Plan {
	if r.primary != nil {
		plan, err := r.primary.Classify(ctx, turn, window)
		if err == nil {
			return plan
		}
		log.Printf("[Router] Primary classifier failed for turn %s, falling back: %v",
			turn.TurnID, err)
	}

	plan, err := r.fallback.Classify(ctx, turn, window)
	if err != nil {
		log.Printf("[Router] Fallback classifier failed for turn %s: %v", turn.TurnID, err)
		return &Plan{TurnID: turn.TurnID, Diagnostic: "classification unavailable: " + err.Error()}
	}
	return plan
}

// resolveReferences fills unresolved parameters from the most recent
// successful task of a relevant kind in the conversation window, then from
// the durable user data store. History entries arrive newest first.
func (r *QueryRouter) resolveReferences(ctx context.Context, turn Turn, plan *Plan, window []*HistoryEntry) {
	for i := range plan.Requests {
		req := &plan.Requests[i]
		if len(req.NeedsInput) == 0 {
			continue
		}

		var stillNeeded []string
		for _, param := range req.NeedsInput {
			value, ok := resolveFromHistory(param, window)
			if !ok {
				value, ok = r.resolveFromUserData(ctx, turn.ConversationID, param)
			}
			if ok {
				req.Params[param] = value
				log.Printf("[Router] Resolved %q=%q for %s from conversation context",
					param, value, req.Tool)
			} else {
				stillNeeded = append(stillNeeded, param)
			}
		}
		req.NeedsInput = stillNeeded
	}
}

// resolveFromUserData consults the durable fact store for a parameter the
// conversation window could not supply. Read failures resolve nothing: the
// request stays flagged and the user is prompted instead.
func (r *QueryRouter) resolveFromUserData(ctx context.Context, conversationID, param string) (string, bool) {
	if r.userData == nil {
		return "", false
	}
	if kinds, ok := resolverKinds[param]; !ok || kinds == nil {
		return "", false
	}
	data, err := r.userData.Fetch(ctx, conversationID)
	if err != nil {
		log.Printf("[Router] User data read failed for %s: %v", conversationID, err)
		return "", false
	}
	value, ok := data[param].(string)
	return value, ok && value != ""
}

// resolverKinds maps a parameter name to the task kinds whose result data
// can supply it.
var resolverKinds = map[string][]tools.Kind{
	"location":  {tools.KindWeatherAnalysis, tools.KindPriceLookup, tools.KindUserDataLogger},
	"commodity": {tools.KindPriceLookup},
	"query":     nil, // never resolvable from history
}

func resolveFromHistory(param string, window []*HistoryEntry) (string, bool) {
	kinds, ok := resolverKinds[param]
	if !ok || kinds == nil {
		return "", false
	}

	for _, entry := range window {
		for i := len(entry.Tasks) - 1; i >= 0; i-- {
			task := entry.Tasks[i]
			if task.Status != StatusSucceeded || task.Result == nil {
				continue
			}
			for _, kind := range kinds {
				if task.Request.Tool != kind {
					continue
				}
				if value, ok := task.Result.Data[param].(string); ok && value != "" {
					return value, true
				}
			}
		}
	}
	return "", false
}

// validateDependencies drops dependency references that name no request in
// the plan and breaks self-references. The orchestrator relies on every
// DependsOn pointing at a real sibling.
func (r *QueryRouter) validateDependencies(plan *Plan) {
	ids := make(map[string]bool, len(plan.Requests))
	for _, req := range plan.Requests {
		ids[req.RequestID] = true
	}
	for i := range plan.Requests {
		req := &plan.Requests[i]
		if req.DependsOn == "" {
			continue
		}
		if req.DependsOn == req.RequestID || !ids[req.DependsOn] {
			log.Printf("[Router] Dropping invalid dependency %q on request %s",
				req.DependsOn, req.RequestID)
			req.DependsOn = ""
		}
	}
}
