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

// Package tokenizer counts prompt tokens the way OpenAI chat models
// meter them: tiktoken for text, per-message overhead for the chat
// format, and tile-based costs for images.
package tokenizer

import (
	"fmt"
	"strings"
	"sync"

	"github.com/pkoukk/tiktoken-go"
	"go.uber.org/zap"

	"github.com/teradata-labs/surge/pkg/oai"
)

// fixedOverheadModels are the models with documented chat-format
// overheads of 3 tokens per message and 1 per name.
var fixedOverheadModels = map[string]bool{
	"gpt-35-turbo":           true,
	"gpt-3.5-turbo":          true,
	"gpt-35-turbo-0613":      true,
	"gpt-3.5-turbo-0613":     true,
	"gpt-35-turbo-16k-0613":  true,
	"gpt-3.5-turbo-16k-0613": true,
	"gpt-35-turbo-16k":       true,
	"gpt-3.5-turbo-16k":      true,
	"gpt-4-0314":             true,
	"gpt-4-32k-0314":         true,
	"gpt-4-0613":             true,
	"gpt-4-32k-0613":         true,
	"gpt-4o":                 true,
}

// Counter counts tokens for one model. Safe for concurrent use.
type Counter struct {
	model      string
	perMessage int
	perName    int
	logger     *zap.Logger

	mu      sync.Mutex
	encoder *tiktoken.Tiktoken
}

// NewCounter builds a Counter for the given model name. Models without
// a local tokenizer are rejected, except Gemini models which are
// approximated with cl100k_base.
func NewCounter(model string, logger *zap.Logger) (*Counter, error) {
	if model == "" {
		return nil, fmt.Errorf("model is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	encoding, err := encodingName(model, logger)
	if err != nil {
		return nil, err
	}
	encoder, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		return nil, fmt.Errorf("failed to load %s encoding: %w", encoding, err)
	}
	perMessage, perName := messageOverheads(model, logger)
	return &Counter{
		model:      model,
		perMessage: perMessage,
		perName:    perName,
		logger:     logger,
		encoder:    encoder,
	}, nil
}

// Model returns the model name the counter was built for.
func (c *Counter) Model() string {
	return c.model
}

// CountText returns the number of tokens in free-form text.
func (c *Counter) CountText(text string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.encoder.Encode(text, nil, nil))
}

// CountMessages returns the text and image token counts for a chat
// request, including the per-message overhead and the reply priming
// tokens. Unreadable images are logged and contribute nothing.
func (c *Counter) CountMessages(msgs []oai.Message) (int, int, error) {
	textTokens := 0
	imageTokens := 0
	for _, msg := range msgs {
		textTokens += c.perMessage
		if msg.Name != "" {
			textTokens += c.perName
		}
		if !msg.Content.IsParts() {
			text := msg.Content.Text()
			if strings.TrimSpace(text) == "" {
				c.logger.Warn("empty string content in message")
				continue
			}
			textTokens += c.CountText(text)
			continue
		}
		for _, part := range msg.Content.Parts() {
			switch part.Type {
			case "image_url":
				tokens, err := c.imageTokens(part.ImageURL)
				if err != nil {
					c.logger.Error("failed to process image", zap.Error(err))
					continue
				}
				imageTokens += tokens
			case "text":
				if strings.TrimSpace(part.Text) == "" {
					c.logger.Warn("empty text content in message part")
					continue
				}
				textTokens += c.CountText(part.Text)
			}
		}
	}
	textTokens += 3 // every reply is primed with <|start|>assistant<|message|>
	return textTokens, imageTokens, nil
}

func encodingName(model string, logger *zap.Logger) (string, error) {
	switch {
	case strings.HasPrefix(model, "gpt-4o"):
		return "o200k_base", nil
	case strings.HasPrefix(model, "gpt-4"):
		return "cl100k_base", nil
	case strings.HasPrefix(model, "gpt-35-turbo"), strings.HasPrefix(model, "gpt-3.5-turbo"):
		return "cl100k_base", nil
	case strings.HasPrefix(model, "gemini-"):
		logger.Warn("no local tokenizer for model, approximating with cl100k_base",
			zap.String("model", model))
		return "cl100k_base", nil
	default:
		return "", fmt.Errorf("token counting is not implemented for model %s", model)
	}
}

func messageOverheads(model string, logger *zap.Logger) (perMessage, perName int) {
	if fixedOverheadModels[model] ||
		strings.HasPrefix(model, "gpt-4o-") ||
		strings.HasPrefix(model, "gemini-") {
		return 3, 1
	}
	if model == "gpt-35-turbo-0301" || model == "gpt-3.5-turbo-0301" {
		// every message follows <|start|>{role/name}\n{content}<|end|>\n,
		// and a name replaces the role
		return 4, -1
	}
	logger.Warn("model may update over time, assuming gpt-4-0613 message overheads",
		zap.String("model", model))
	return 3, 1
}
