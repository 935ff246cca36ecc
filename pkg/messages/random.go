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
package messages

import (
	_ "embed"
	"fmt"
	"math/rand"
	"strings"

	"go.uber.org/zap"

	"github.com/teradata-labs/surge/pkg/oai"
)

//go:embed vocab.txt
var rawVocab string

var vocabWords = strings.Fields(rawVocab)

// maxBatchWords caps how many words one fill iteration may add, so the
// loop converges on the token target instead of overshooting it.
var maxBatchWords = len(vocabWords) / 3

// RandomConfig holds the settings for a RandomSource.
type RandomConfig struct {
	// Counter prices candidate prompts while filling the context.
	Counter oai.TokenCounter
	// PreventServerCaching reserves room for the anti-cache prefix the
	// client prepends to each request.
	PreventServerCaching bool
	// ContextTokens is the text token target for the generated context.
	ContextTokens int
	// MaxTokens, when set, adds an essay request sized to the expected
	// completion length so the model keeps generating.
	MaxTokens *int
	// Logger for diagnostics. Defaults to a no-op logger.
	Logger *zap.Logger
}

// RandomSource generates a fixed message list of random English words
// sized to a context token target. The list is built once and cloned
// for every request.
type RandomSource struct {
	preventCaching bool
	messages       []oai.Message
	counts         TokenCounts
}

// NewRandomSource builds the cached message list, filling the first
// user message with random vocabulary until the counted context reaches
// the configured target.
func NewRandomSource(config RandomConfig) (*RandomSource, error) {
	if config.Counter == nil {
		return nil, fmt.Errorf("counter is required")
	}
	if config.ContextTokens < 1 {
		return nil, fmt.Errorf("context tokens must be greater than zero")
	}
	if config.Logger == nil {
		config.Logger = zap.NewNop()
	}
	config.Logger.Info("warming up prompt cache",
		zap.Int("context_tokens", config.ContextTokens))

	msgs := []oai.Message{{Role: "user", Content: oai.TextContent("")}}
	if config.MaxTokens != nil {
		msgs = append(msgs, oai.Message{
			Role: "user",
			Content: oai.TextContent(fmt.Sprintf(
				"write a long essay about life in at least %d tokens", *config.MaxTokens)),
		})
	}

	// The client will prepend its anti-cache prefix after generation,
	// so its estimated cost is reserved up front.
	reserve := 0
	if config.PreventServerCaching {
		reserve = anticachePrefixTokens
	}

	source := &RandomSource{preventCaching: config.PreventServerCaching}
	var prompt strings.Builder
	for {
		text, image, err := config.Counter.CountMessages(msgs)
		if err != nil {
			return nil, fmt.Errorf("failed to count context tokens: %w", err)
		}
		remaining := config.ContextTokens - text - reserve
		if remaining <= 0 {
			source.counts = TokenCounts{Text: text, Image: image}
			break
		}
		batch := (remaining + 3) / 4
		if batch > maxBatchWords {
			batch = maxBatchWords
		}
		for i := 0; i < batch; i++ {
			prompt.WriteString(vocabWords[rand.Intn(len(vocabWords))])
			prompt.WriteByte(' ')
		}
		msgs[0].Content = oai.TextContent(prompt.String())
	}
	source.messages = msgs
	return source, nil
}

// Next returns a copy of the cached message list. The reported text
// count includes the anti-cache prefix reserve when enabled.
func (s *RandomSource) Next() ([]oai.Message, TokenCounts) {
	counts := s.counts
	if s.preventCaching {
		counts.Text += anticachePrefixTokens
	}
	return cloneMessages(s.messages), counts
}
