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
	"time"
)

// maxForecastWindowDays is the widest date range the weather backend
// supports for a single analysis call.
const maxForecastWindowDays = 16

const weatherDateLayout = "2006-01-02"

// WeatherAnalysisTool geocodes a location and fetches a daily weather
// summary for a date range from the weather API.
type WeatherAnalysisTool struct {
	geocodingEndpoint string
	forecastEndpoint  string
	httpClient        *http.Client
}

// NewWeatherAnalysisTool creates a weather analysis adapter.
func NewWeatherAnalysisTool(geocodingEndpoint, forecastEndpoint string) *WeatherAnalysisTool {
	return &WeatherAnalysisTool{
		geocodingEndpoint: geocodingEndpoint,
		forecastEndpoint:  forecastEndpoint,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

func (t *WeatherAnalysisTool) Name() string { return "WeatherAnalysisTool" }
func (t *WeatherAnalysisTool) Kind() Kind   { return KindWeatherAnalysis }

// Invoke fetches a weather summary. Params: location (required),
// start_date/end_date as YYYY-MM-DD (optional, default today). A range
// wider than the backend's supported window fails invalid_input.
func (t *WeatherAnalysisTool) Invoke(ctx context.Context, params Params) (*Result, error) {
	start := time.Now()

	location := params.String("location")
	if location == "" {
		return nil, NewError(KindWeatherAnalysis, ErrInvalidInput, "missing 'location' parameter", nil)
	}

	startDate, endDate, err := t.parseRange(params)
	if err != nil {
		return nil, err
	}

	lat, lon, resolvedName, err := t.geocode(ctx, location)
	if err != nil {
		return nil, err
	}

	reqURL := fmt.Sprintf("%s?latitude=%.4f&longitude=%.4f&start_date=%s&end_date=%s&daily=temperature_2m_max,temperature_2m_min,precipitation_sum&timezone=auto",
		t.forecastEndpoint, lat, lon,
		startDate.Format(weatherDateLayout), endDate.Format(weatherDateLayout))

	httpReq, err := http.NewRequestWithContext(ctx, "GET", reqURL, nil)
	if err != nil {
		return nil, NewError(KindWeatherAnalysis, ErrInvalidInput, "failed to create HTTP request", err)
	}

	resp, err := t.httpClient.Do(httpReq)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, NewError(KindWeatherAnalysis, ErrTimeout, "weather request timed out", err)
		}
		return nil, NewError(KindWeatherAnalysis, ErrUpstreamUnavailable, "weather backend unreachable", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, NewError(KindWeatherAnalysis, ErrUpstreamUnavailable, "failed to read weather response", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, NewError(KindWeatherAnalysis, ErrUpstream,
			fmt.Sprintf("weather backend returned status %d", resp.StatusCode), nil)
	}

	var forecastResp struct {
		Daily struct {
			Time             []string  `json:"time"`
			TemperatureMax   []float64 `json:"temperature_2m_max"`
			TemperatureMin   []float64 `json:"temperature_2m_min"`
			PrecipitationSum []float64 `json:"precipitation_sum"`
		} `json:"daily"`
	}
	if err := json.Unmarshal(respBody, &forecastResp); err != nil {
		return nil, NewError(KindWeatherAnalysis, ErrUpstream, "failed to parse weather response", err)
	}

	days := make([]map[string]interface{}, 0, len(forecastResp.Daily.Time))
	var totalPrecip float64
	for i, day := range forecastResp.Daily.Time {
		entry := map[string]interface{}{"date": day}
		if i < len(forecastResp.Daily.TemperatureMax) {
			entry["temp_max_c"] = forecastResp.Daily.TemperatureMax[i]
		}
		if i < len(forecastResp.Daily.TemperatureMin) {
			entry["temp_min_c"] = forecastResp.Daily.TemperatureMin[i]
		}
		if i < len(forecastResp.Daily.PrecipitationSum) {
			entry["precipitation_mm"] = forecastResp.Daily.PrecipitationSum[i]
			totalPrecip += forecastResp.Daily.PrecipitationSum[i]
		}
		days = append(days, entry)
	}

	return &Result{
		Tool: KindWeatherAnalysis,
		Data: map[string]interface{}{
			"location":               resolvedName,
			"start_date":             startDate.Format(weatherDateLayout),
			"end_date":               endDate.Format(weatherDateLayout),
			"daily":                  days,
			"total_precipitation_mm": totalPrecip,
		},
		Summary: fmt.Sprintf("Weather for %s %s to %s: %d days, %.1fmm total precipitation",
			resolvedName, startDate.Format(weatherDateLayout), endDate.Format(weatherDateLayout),
			len(days), totalPrecip),
		Duration: time.Since(start),
	}, nil
}

func (t *WeatherAnalysisTool) parseRange(params Params) (time.Time, time.Time, error) {
	now := time.Now().UTC().Truncate(24 * time.Hour)
	startDate, endDate := now, now

	if s := params.String("start_date"); s != "" {
		parsed, err := time.Parse(weatherDateLayout, s)
		if err != nil {
			return time.Time{}, time.Time{}, NewError(KindWeatherAnalysis, ErrInvalidInput,
				fmt.Sprintf("bad start_date %q, want YYYY-MM-DD", s), err)
		}
		startDate = parsed
	}
	if s := params.String("end_date"); s != "" {
		parsed, err := time.Parse(weatherDateLayout, s)
		if err != nil {
			return time.Time{}, time.Time{}, NewError(KindWeatherAnalysis, ErrInvalidInput,
				fmt.Sprintf("bad end_date %q, want YYYY-MM-DD", s), err)
		}
		endDate = parsed
	}

	if endDate.Before(startDate) {
		return time.Time{}, time.Time{}, NewError(KindWeatherAnalysis, ErrInvalidInput,
			"end_date precedes start_date", nil)
	}
	if endDate.Sub(startDate) > maxForecastWindowDays*24*time.Hour {
		return time.Time{}, time.Time{}, NewError(KindWeatherAnalysis, ErrInvalidInput,
			fmt.Sprintf("date range exceeds the supported %d-day window", maxForecastWindowDays), nil)
	}
	return startDate, endDate, nil
}

func (t *WeatherAnalysisTool) geocode(ctx context.Context, location string) (float64, float64, string, error) {
	reqURL := fmt.Sprintf("%s?name=%s&count=1", t.geocodingEndpoint, url.QueryEscape(location))

	httpReq, err := http.NewRequestWithContext(ctx, "GET", reqURL, nil)
	if err != nil {
		return 0, 0, "", NewError(KindWeatherAnalysis, ErrInvalidInput, "failed to create geocoding request", err)
	}

	resp, err := t.httpClient.Do(httpReq)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return 0, 0, "", NewError(KindWeatherAnalysis, ErrTimeout, "geocoding request timed out", err)
		}
		return 0, 0, "", NewError(KindWeatherAnalysis, ErrUpstreamUnavailable, "geocoding backend unreachable", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, 0, "", NewError(KindWeatherAnalysis, ErrUpstream,
			fmt.Sprintf("geocoding backend returned status %d", resp.StatusCode), nil)
	}

	var geoResp struct {
		Results []struct {
			Name      string  `json:"name"`
			Latitude  float64 `json:"latitude"`
			Longitude float64 `json:"longitude"`
			Country   string  `json:"country"`
		} `json:"results"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&geoResp); err != nil {
		return 0, 0, "", NewError(KindWeatherAnalysis, ErrUpstream, "failed to parse geocoding response", err)
	}

	if len(geoResp.Results) == 0 {
		return 0, 0, "", NewError(KindWeatherAnalysis, ErrInvalidInput,
			fmt.Sprintf("location %q not found", location), nil)
	}

	r := geoResp.Results[0]
	name := r.Name
	if r.Country != "" {
		name = fmt.Sprintf("%s, %s", r.Name, r.Country)
	}
	return r.Latitude, r.Longitude, name, nil
}
