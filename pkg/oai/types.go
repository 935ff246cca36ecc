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

// Package oai implements a streaming chat completions client that
// measures per-request latency and token statistics against Azure
// OpenAI and OpenAI-compatible endpoints.
package oai

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Headers and identification used on the Azure OpenAI wire surface.
const (
	// RequestIDHeader carries the service-side request id.
	RequestIDHeader = "apim-request-id"
	// UtilizationHeader reports provisioned deployment utilization.
	UtilizationHeader = "azure-openai-deployment-utilization"
	// RetryAfterMSHeader tells throttled callers how long to wait.
	RetryAfterMSHeader = "retry-after-ms"
	// TelemetryUserAgentHeader identifies the calling tool to the service.
	TelemetryUserAgentHeader = "x-ms-useragent"
	// ClientRequestIDHeader correlates one attempt across client and
	// service logs.
	ClientRequestIDHeader = "x-ms-client-request-id"
	// UserAgent is the telemetry identity sent with every request.
	UserAgent = "aoai-benchmark"
)

// Message is one chat message. Content is either plain text or a list
// of typed parts for multimodal payloads.
type Message struct {
	Role    string  `json:"role"`
	Name    string  `json:"name,omitempty"`
	Content Content `json:"content"`
}

// ContentPart is one element of a multimodal message.
type ContentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *ImageURL `json:"image_url,omitempty"`
}

// ImageURL references image data, usually as a base64 data URL.
type ImageURL struct {
	URL    string `json:"url"`
	Detail string `json:"detail,omitempty"`
}

// Content marshals as a bare JSON string for plain text and as an
// array for part lists, matching the chat completions schema.
type Content struct {
	text    string
	parts   []ContentPart
	isParts bool
}

// TextContent wraps plain text.
func TextContent(text string) Content {
	return Content{text: text}
}

// PartsContent wraps a list of multimodal parts.
func PartsContent(parts ...ContentPart) Content {
	return Content{parts: parts, isParts: true}
}

// IsParts reports whether the content is a part list.
func (c Content) IsParts() bool { return c.isParts }

// Text returns the plain text, or empty for part lists.
func (c Content) Text() string { return c.text }

// Parts returns the part list, or nil for plain text.
func (c Content) Parts() []ContentPart { return c.parts }

// WithPrefix returns content with prefix prepended. For part lists the
// prefix lands on the first text part; a part list without any text
// part gains a leading text part holding the trimmed prefix.
func (c Content) WithPrefix(prefix string) Content {
	if !c.isParts {
		return TextContent(prefix + c.text)
	}
	parts := make([]ContentPart, len(c.parts))
	copy(parts, c.parts)
	for i := range parts {
		if parts[i].Type == "text" {
			parts[i].Text = prefix + parts[i].Text
			return PartsContent(parts...)
		}
	}
	parts = append([]ContentPart{{Type: "text", Text: strings.TrimSpace(prefix)}}, parts...)
	return PartsContent(parts...)
}

// MarshalJSON implements json.Marshaler.
func (c Content) MarshalJSON() ([]byte, error) {
	if c.isParts {
		return json.Marshal(c.parts)
	}
	return json.Marshal(c.text)
}

// UnmarshalJSON implements json.Unmarshaler.
func (c *Content) UnmarshalJSON(data []byte) error {
	var text string
	if err := json.Unmarshal(data, &text); err == nil {
		*c = TextContent(text)
		return nil
	}
	var parts []ContentPart
	if err := json.Unmarshal(data, &parts); err == nil {
		*c = PartsContent(parts...)
		return nil
	}
	return fmt.Errorf("content must be a string or an array of content parts")
}

// ChatRequest is a chat completions request body. Optional sampling
// fields are omitted from the wire form when unset.
type ChatRequest struct {
	Messages         []Message `json:"messages"`
	MaxTokens        *int      `json:"max_tokens,omitempty"`
	N                *int      `json:"n,omitempty"`
	FrequencyPenalty *float64  `json:"frequency_penalty,omitempty"`
	PresencePenalty  *float64  `json:"presence_penalty,omitempty"`
	Temperature      *float64  `json:"temperature,omitempty"`
	TopP             *float64  `json:"top_p,omitempty"`
	Model            string    `json:"model,omitempty"`
	Stream           bool      `json:"stream,omitempty"`
}

// RequestTemplate stamps out request bodies around a message list.
// Model is set only for OpenAI-compatible endpoints; Azure routes by
// deployment instead.
type RequestTemplate struct {
	Model            string
	MaxTokens        *int
	Completions      *int
	FrequencyPenalty *float64
	PresencePenalty  *float64
	Temperature      *float64
	TopP             *float64
}

// Build creates a request body carrying msgs.
func (t *RequestTemplate) Build(msgs []Message) *ChatRequest {
	return &ChatRequest{
		Messages:         msgs,
		MaxTokens:        t.MaxTokens,
		N:                t.Completions,
		FrequencyPenalty: t.FrequencyPenalty,
		PresencePenalty:  t.PresencePenalty,
		Temperature:      t.Temperature,
		TopP:             t.TopP,
		Model:            t.Model,
	}
}

// TokenCounter counts the tokens a message list consumes on the wire.
type TokenCounter interface {
	CountMessages(msgs []Message) (textTokens, imageTokens int, err error)
}

// streamDelta is the incremental payload of one streamed chunk. Pointer
// fields distinguish absent keys from empty values.
type streamDelta struct {
	Role    *string `json:"role"`
	Content *string `json:"content"`
}

type streamChoice struct {
	Delta *streamDelta `json:"delta"`
}

type chatChunk struct {
	Choices []streamChoice `json:"choices"`
}
