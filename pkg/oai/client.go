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
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/teradata-labs/surge/pkg/stats"
)

// Config holds the settings for a Client.
type Config struct {
	// URL is the full chat completions endpoint URL.
	URL string
	// APIKey authenticates every request.
	APIKey string
	// OpenAICompatible adds a bearer Authorization header for
	// OpenAI-style endpoints.
	OpenAICompatible bool
	// Retry enables exponential backoff and retry-after handling for
	// throttled requests.
	Retry bool
	// PreventCaching prepends a unique prefix to user messages so the
	// service cannot serve cached completions.
	PreventCaching bool
	// Counter recomputes context token counts after request mutation.
	// Optional; without it context token fields stay zero.
	Counter TokenCounter
	// HTTPClient is the shared HTTP client. Defaults to one tuned for
	// concurrent streaming.
	HTTPClient *http.Client
	// Logger for diagnostics. Defaults to a no-op logger.
	Logger *zap.Logger
}

// Client issues streaming chat completion requests and measures their
// latency and token throughput. Safe for concurrent use.
type Client struct {
	cfg Config
}

// NewClient creates a Client from config.
func NewClient(config Config) (*Client, error) {
	if config.URL == "" {
		return nil, fmt.Errorf("url is required")
	}
	if config.APIKey == "" {
		return nil, fmt.Errorf("api key is required")
	}
	if config.HTTPClient == nil {
		config.HTTPClient = NewHTTPClient(0)
	}
	if config.Logger == nil {
		config.Logger = zap.NewNop()
	}
	return &Client{cfg: config}, nil
}

// NewHTTPClient builds an HTTP client tuned for many concurrent
// streaming requests against a single host. Zero concurrency selects a
// generous default.
func NewHTTPClient(concurrency int) *http.Client {
	if concurrency <= 0 {
		concurrency = 100
	}
	return &http.Client{
		Transport: &http.Transport{
			MaxIdleConnsPerHost: concurrency,
		},
	}
}

// Call sends one chat completion request in streaming mode and returns
// its measurements. Failures never surface as errors; they are recorded
// on the returned stats so every request is accounted for.
func (c *Client) Call(ctx context.Context, body *ChatRequest) *stats.RequestStats {
	st := &stats.RequestStats{}
	var output []Message
	defer func() {
		if len(output) > 0 {
			st.OutputContent = output
		}
	}()

	// Streaming is forced so token timings can be observed.
	body.Stream = true

	if c.cfg.PreventCaching {
		prefix := fmt.Sprintf("ts=%f rand=%f\n", float64(time.Now().UnixNano())/1e9, rand.Float64())
		for i := range body.Messages {
			if body.Messages[i].Role == "user" {
				body.Messages[i].Content = body.Messages[i].Content.WithPrefix(prefix)
			}
		}
	}
	st.InputMessages = body.Messages

	if c.cfg.Counter != nil {
		text, image, err := c.cfg.Counter.CountMessages(body.Messages)
		if err != nil {
			c.cfg.Logger.Warn("failed to count context tokens", zap.Error(err))
		} else {
			st.ContextTextTokens = text
			st.ContextImageTokens = image
		}
	}

	payload, err := json.Marshal(body)
	if err != nil {
		c.record(st, fmt.Errorf("failed to encode request body: %w", err))
		return st
	}

	st.RequestStartTime = time.Now()
	deadline := st.RequestStartTime.Add(MaxRetryTime)
	attempt := 0
	for {
		err := c.execute(ctx, payload, st, &output)
		if err == nil {
			return st
		}
		if c.cfg.Retry && retryable(err) && time.Now().Before(deadline) {
			delay := backoffDelay(attempt)
			if remaining := time.Until(deadline); delay > remaining {
				delay = remaining
			}
			attempt++
			c.cfg.Logger.Warn("request failed, retrying",
				zap.Int("attempt", attempt),
				zap.Duration("delay", delay),
				zap.Error(err))
			select {
			case <-ctx.Done():
				c.record(st, ctx.Err())
				return st
			case <-time.After(delay):
			}
			continue
		}
		var urlErr *url.Error
		if errors.As(err, &urlErr) {
			c.cfg.Logger.Warn("exception while connecting", zap.Error(err))
		}
		c.record(st, err)
		return st
	}
}

// record stores the terminal error and guarantees an end timestamp.
func (c *Client) record(st *stats.RequestStats, err error) {
	st.LastException = err
	if st.ResponseEndTime.IsZero() {
		st.ResponseEndTime = time.Now()
	}
}

// execute performs one request cycle: the POST, the retry-after-ms loop
// for throttled responses, and streaming of a successful response.
func (c *Client) execute(ctx context.Context, payload []byte, st *stats.RequestStats, output *[]Message) error {
	var resp *http.Response
	defer func() {
		if resp != nil {
			_ = resp.Body.Close()
		}
	}()

	for {
		req, err := c.newRequest(ctx, payload)
		if err != nil {
			return err
		}
		resp, err = c.cfg.HTTPClient.Do(req)
		if err != nil {
			return fmt.Errorf("request failed: %w", err)
		}
		st.Calls++
		st.ResponseStatusCode = resp.StatusCode
		// Utilization is captured on every attempt, throttled or not.
		c.readUtilization(resp, st)
		if resp.StatusCode != 429 || !c.cfg.Retry {
			break
		}
		retryAfter := resp.Header.Get(RetryAfterMSHeader)
		if retryAfter == "" {
			break
		}
		ms, err := strconv.ParseFloat(retryAfter, 64)
		if err != nil {
			c.cfg.Logger.Warn("unable to parse retry-after header value",
				zap.String("value", retryAfter), zap.Error(err))
			break
		}
		c.cfg.Logger.Debug("retry-after sleeping", zap.Float64("ms", ms))
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(ms * float64(time.Millisecond))):
		}
		if time.Since(st.RequestStartTime) >= MaxRetryTime {
			break
		}
	}

	if resp.StatusCode != http.StatusOK {
		st.ResponseEndTime = time.Now()
		if resp.StatusCode != 429 {
			c.cfg.Logger.Warn("call failed",
				zap.Int("status", resp.StatusCode),
				zap.String("request_id", resp.Header.Get(RequestIDHeader)),
				zap.String("url", c.cfg.URL))
		}
		if c.cfg.Retry {
			return &StatusError{Code: resp.StatusCode, Status: resp.Status}
		}
		return nil
	}
	return c.readStream(ctx, resp, st, output)
}

func (c *Client) newRequest(ctx context.Context, payload []byte) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.URL, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("api-key", c.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(TelemetryUserAgentHeader, UserAgent)
	req.Header.Set(ClientRequestIDHeader, uuid.NewString())
	if c.cfg.OpenAICompatible {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}
	return req, nil
}

// readStream consumes the SSE response. Every streamed content delta
// counts as one generated token; role deltas open a new output message.
func (c *Client) readStream(ctx context.Context, resp *http.Response, st *stats.RequestStats, output *[]Message) error {
	st.ResponseTime = time.Now()
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		if st.FirstTokenTime.IsZero() {
			st.FirstTokenTime = time.Now()
		}
		if st.GeneratedTokens == nil {
			st.GeneratedTokens = new(int)
		}
		payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if payload == "[DONE]" {
			break
		}

		var chunk chatChunk
		if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
			c.cfg.Logger.Debug("failed to parse response line", zap.String("line", line), zap.Error(err))
			continue
		}
		if len(chunk.Choices) == 0 || chunk.Choices[0].Delta == nil {
			c.cfg.Logger.Debug("unexpected response structure", zap.String("line", line))
			continue
		}
		delta := chunk.Choices[0].Delta
		if delta.Role != nil {
			*output = append(*output, Message{Role: *delta.Role, Content: TextContent("")})
		}
		if delta.Content != nil && *delta.Content != "" {
			if len(*output) == 0 {
				*output = append(*output, Message{Role: "assistant", Content: TextContent("")})
			}
			last := &(*output)[len(*output)-1]
			last.Content = TextContent(last.Content.Text() + *delta.Content)
			*st.GeneratedTokens++
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
	}
	if err := scanner.Err(); err != nil {
		return &streamError{err: err}
	}
	st.ResponseEndTime = time.Now()
	return nil
}

// readUtilization parses the deployment utilization header when
// present. Malformed values are logged and skipped.
func (c *Client) readUtilization(resp *http.Response, st *stats.RequestStats) {
	values, ok := resp.Header[http.CanonicalHeaderKey(UtilizationHeader)]
	if !ok {
		return
	}
	value := ""
	if len(values) > 0 {
		value = values[0]
	}
	if value == "" {
		c.cfg.Logger.Warn("got empty utilization header", zap.String("header", UtilizationHeader))
		return
	}
	if !strings.HasSuffix(value, "%") {
		c.cfg.Logger.Warn("invalid utilization header value",
			zap.String("header", UtilizationHeader), zap.String("value", value))
		return
	}
	util, err := strconv.ParseFloat(strings.TrimSuffix(value, "%"), 64)
	if err != nil {
		c.cfg.Logger.Warn("unable to parse utilization header value",
			zap.String("header", UtilizationHeader), zap.String("value", value), zap.Error(err))
		return
	}
	st.DeploymentUtilization = &util
}
