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
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"
)

// commodityAliases normalizes the commodity names the price feed accepts.
// Mirrors the mandi (Agmarknet) commodity catalogue the feed is built on.
var commodityAliases = map[string]string{
	"potato":      "Potato",
	"aloo":        "Potato",
	"onion":       "Onion",
	"pyaz":        "Onion",
	"tomato":      "Tomato",
	"wheat":       "Wheat",
	"gehu":        "Wheat",
	"rice":        "Rice",
	"paddy":       "Paddy(Dhan)(Common)",
	"dhan":        "Paddy(Dhan)(Common)",
	"maize":       "Maize",
	"makka":       "Maize",
	"cotton":      "Cotton",
	"kapas":       "Cotton",
	"sugarcane":   "Sugarcane",
	"mustard":     "Mustard",
	"sarson":      "Mustard",
	"soybean":     "Soyabean",
	"soyabean":    "Soyabean",
	"groundnut":   "Groundnut",
	"chilli":      "Dry Chillies",
	"dry chilli":  "Dry Chillies",
	"turmeric":    "Turmeric",
	"banana":      "Banana",
	"apple":       "Apple",
	"garlic":      "Garlic",
	"ginger":      "Ginger(Green)",
	"gram":        "Bengal Gram(Gram)(Whole)",
	"chana":       "Bengal Gram(Gram)(Whole)",
	"arhar":       "Arhar (Tur/Red Gram)(Whole)",
	"tur":         "Arhar (Tur/Red Gram)(Whole)",
	"jute":        "Jute",
	"cauliflower": "Cauliflower",
	"cabbage":     "Cabbage",
	"brinjal":     "Brinjal",
	"okra":        "Bhindi(Ladies Finger)",
	"bhindi":      "Bhindi(Ladies Finger)",
}

// multiWordAliases holds the catalogue aliases that span more than one
// word, sorted so free-text scans stay deterministic.
var multiWordAliases []string

func init() {
	for alias := range commodityAliases {
		if strings.Contains(alias, " ") {
			multiWordAliases = append(multiWordAliases, alias)
		}
	}
	sort.Strings(multiWordAliases)
}

// NormalizeCommodity resolves a user-supplied commodity name to the feed's
// canonical name. Returns false if the commodity is not in the catalogue.
func NormalizeCommodity(name string) (string, bool) {
	canonical, ok := commodityAliases[strings.ToLower(strings.TrimSpace(name))]
	return canonical, ok
}

// FindCommodity scans free text for a commodity the catalogue knows.
// Multi-word aliases are checked against the whole lowered text first,
// then single words in text order. Returns the matched alias.
func FindCommodity(text string) (string, bool) {
	lower := strings.ToLower(text)
	for _, alias := range multiWordAliases {
		if strings.Contains(lower, alias) {
			return alias, true
		}
	}
	for _, word := range strings.FieldsFunc(lower, func(r rune) bool {
		return !('a' <= r && r <= 'z')
	}) {
		if _, ok := commodityAliases[word]; ok {
			return word, true
		}
	}
	return "", false
}

// PriceLookupTool fetches mandi prices for a commodity at a location from
// the crop-prices feed service.
type PriceLookupTool struct {
	endpoint   string
	httpClient *http.Client
}

// NewPriceLookupTool creates a price lookup adapter against the feed
// endpoint.
func NewPriceLookupTool(endpoint string) *PriceLookupTool {
	return &PriceLookupTool{
		endpoint: endpoint,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

func (t *PriceLookupTool) Name() string { return "PriceLookupTool" }
func (t *PriceLookupTool) Kind() Kind   { return KindPriceLookup }

// Invoke fetches the latest price. Params: commodity (required), location
// (required). An unknown commodity fails invalid_input without touching the
// backend.
func (t *PriceLookupTool) Invoke(ctx context.Context, params Params) (*Result, error) {
	start := time.Now()

	commodity := params.String("commodity")
	if commodity == "" {
		return nil, NewError(KindPriceLookup, ErrInvalidInput, "missing 'commodity' parameter", nil)
	}
	location := params.String("location")
	if location == "" {
		return nil, NewError(KindPriceLookup, ErrInvalidInput, "missing 'location' parameter", nil)
	}

	canonical, ok := NormalizeCommodity(commodity)
	if !ok {
		return nil, NewError(KindPriceLookup, ErrInvalidInput,
			fmt.Sprintf("unknown commodity %q", commodity), nil)
	}

	reqURL := fmt.Sprintf("%s/prices/latest?commodity=%s&location=%s",
		t.endpoint, url.QueryEscape(canonical), url.QueryEscape(location))

	httpReq, err := http.NewRequestWithContext(ctx, "GET", reqURL, nil)
	if err != nil {
		return nil, NewError(KindPriceLookup, ErrInvalidInput, "failed to create HTTP request", err)
	}

	resp, err := t.httpClient.Do(httpReq)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, NewError(KindPriceLookup, ErrTimeout, "price feed request timed out", err)
		}
		return nil, NewError(KindPriceLookup, ErrUpstreamUnavailable, "price feed unreachable", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, NewError(KindPriceLookup, ErrUpstreamUnavailable, "failed to read price response", err)
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, NewError(KindPriceLookup, ErrInvalidInput,
			fmt.Sprintf("no price series for %q at %q", canonical, location), nil)
	case resp.StatusCode != http.StatusOK:
		return nil, NewError(KindPriceLookup, ErrUpstream,
			fmt.Sprintf("price feed returned status %d", resp.StatusCode), nil)
	}

	var priceResp struct {
		Price float64 `json:"price"`
		Unit  string  `json:"unit"`
		AsOf  string  `json:"as_of"`
	}
	if err := json.Unmarshal(respBody, &priceResp); err != nil {
		return nil, NewError(KindPriceLookup, ErrUpstream, "failed to parse price response", err)
	}

	return &Result{
		Tool: KindPriceLookup,
		Data: map[string]interface{}{
			"commodity": canonical,
			"location":  location,
			"price":     priceResp.Price,
			"unit":      priceResp.Unit,
			"as_of":     priceResp.AsOf,
		},
		Summary: fmt.Sprintf("%s at %s: %.2f %s (as of %s)",
			canonical, location, priceResp.Price, priceResp.Unit, priceResp.AsOf),
		Duration: time.Since(start),
	}, nil
}
