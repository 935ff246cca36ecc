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
package stats

import "time"

// RequestStats captures the timeline and token accounting of a single
// chat completion request, including all retries behind it. Zero-value
// timestamps mean the corresponding point was never reached; nil
// pointers mean the value was never observed.
type RequestStats struct {
	// RequestStartTime is stamped immediately before the first HTTP
	// attempt and is not moved by retries.
	RequestStartTime time.Time
	// ResponseStatusCode is the status of the last attempt, or zero if
	// no response was received.
	ResponseStatusCode int
	// ResponseTime marks when response headers arrived on the
	// successful attempt.
	ResponseTime time.Time
	// FirstTokenTime marks the first streamed event.
	FirstTokenTime time.Time
	// ResponseEndTime marks stream completion or terminal failure.
	ResponseEndTime time.Time
	// ContextTextTokens and ContextImageTokens count the tokens sent in
	// the request body, measured after any anti-caching mutation.
	ContextTextTokens  int
	ContextImageTokens int
	// GeneratedTokens counts streamed content deltas. Nil until the
	// stream produced its first event.
	GeneratedTokens *int
	// DeploymentUtilization is the percentage reported by the service,
	// when the response carried the utilization header.
	DeploymentUtilization *float64
	// Calls counts HTTP attempts, including throttled ones.
	Calls int
	// InputMessages holds the request messages for raw-stat output.
	InputMessages any
	// OutputContent holds the streamed assistant messages. Nil when the
	// stream produced no content.
	OutputContent any
	// LastException is the terminal error, if the request failed.
	LastException error
}

// rawRecord is the JSON form of a RequestStats entry in the raw call
// stats dump. Timestamps are epoch seconds; field order is part of the
// output contract.
type rawRecord struct {
	RequestStartTime      *float64 `json:"request_start_time"`
	ResponseStatusCode    int      `json:"response_status_code"`
	ResponseTime          *float64 `json:"response_time"`
	FirstTokenTime        *float64 `json:"first_token_time"`
	ResponseEndTime       *float64 `json:"response_end_time"`
	ContextTextTokens     int      `json:"context_text_tokens"`
	ContextImageTokens    int      `json:"context_image_tokens"`
	GeneratedTokens       *int     `json:"generated_tokens"`
	DeploymentUtilization *float64 `json:"deployment_utilization"`
	Calls                 int      `json:"calls"`
	InputMessages         any      `json:"input_messages,omitempty"`
	OutputContent         any      `json:"output_content,omitempty"`
	LastException         *string  `json:"last_exception"`
}

// raw converts the stats to their dump form. When includeContent is set
// the request and response bodies are carried along, with an explicit
// null for an empty response.
func (s *RequestStats) raw(includeContent bool) rawRecord {
	record := rawRecord{
		RequestStartTime:      epochSeconds(s.RequestStartTime),
		ResponseStatusCode:    s.ResponseStatusCode,
		ResponseTime:          epochSeconds(s.ResponseTime),
		FirstTokenTime:        epochSeconds(s.FirstTokenTime),
		ResponseEndTime:       epochSeconds(s.ResponseEndTime),
		ContextTextTokens:     s.ContextTextTokens,
		ContextImageTokens:    s.ContextImageTokens,
		GeneratedTokens:       s.GeneratedTokens,
		DeploymentUtilization: s.DeploymentUtilization,
		Calls:                 s.Calls,
	}
	if includeContent {
		if s.InputMessages != nil {
			record.InputMessages = s.InputMessages
		} else {
			record.InputMessages = explicitNull{}
		}
		if s.OutputContent != nil {
			record.OutputContent = s.OutputContent
		} else {
			record.OutputContent = explicitNull{}
		}
	}
	if s.LastException != nil {
		msg := s.LastException.Error()
		record.LastException = &msg
	}
	return record
}

// explicitNull marshals to a JSON null even under omitempty.
type explicitNull struct{}

func (explicitNull) MarshalJSON() ([]byte, error) {
	return []byte("null"), nil
}

func epochSeconds(t time.Time) *float64 {
	if t.IsZero() {
		return nil
	}
	seconds := float64(t.UnixNano()) / 1e9
	return &seconds
}
