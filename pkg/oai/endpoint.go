// Copyright 2026 Teradata
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
package oai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

// IsOpenAICompatible reports whether the endpoint speaks the OpenAI API
// surface rather than the Azure deployment surface. Known public hosts
// are recognized without the explicit flag.
func IsOpenAICompatible(baseEndpoint string, flag bool) bool {
	return flag ||
		strings.Contains(baseEndpoint, "openai.com") ||
		strings.Contains(baseEndpoint, "googleapis.com")
}

// BuildURL returns the full chat completions URL. OpenAI-compatible
// endpoints already point at the chat completions resource and pass
// through unchanged; Azure endpoints are extended with the deployment
// route and API version.
func BuildURL(baseEndpoint, deployment, apiVersion string, openAICompatible bool) string {
	if openAICompatible {
		return baseEndpoint
	}
	return fmt.Sprintf("%s/openai/deployments/%s/chat/completions?api-version=%s",
		strings.TrimRight(baseEndpoint, "/"), url.PathEscape(deployment), url.QueryEscape(apiVersion))
}

// DetectModel probes the deployment with a minimal completion request
// and returns the model name the service reports. Azure deployments
// can be named freely, so the served model must be asked for rather
// than inferred.
func DetectModel(ctx context.Context, httpClient *http.Client, endpoint, apiKey string) (string, error) {
	body := []byte(`{"messages":[{"content":"What is 1+1?","role":"user"}]}`)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create deployment check request: %w", err)
	}
	req.Header.Set("api-key", apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("deployment check failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read deployment check response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("deployment check failed with status code %d: %s",
			resp.StatusCode, strings.TrimSpace(string(data)))
	}

	var parsed struct {
		Model string `json:"model"`
	}
	if err := json.Unmarshal(data, &parsed); err != nil {
		return "", fmt.Errorf("failed to parse deployment check response: %w", err)
	}
	if parsed.Model == "" {
		return "", fmt.Errorf("deployment check response did not include a model name")
	}
	return parsed.Model, nil
}
