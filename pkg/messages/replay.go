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
	"encoding/json"
	"fmt"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"strings"

	"github.com/xeipuuv/gojsonschema"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/teradata-labs/surge/pkg/oai"
)

//go:embed replay_schema.json
var replaySchema string

// ReplayConfig holds the settings for a ReplaySource.
type ReplayConfig struct {
	// Counter prices each replayed message list once at load time.
	Counter oai.TokenCounter
	// PreventServerCaching accounts for the anti-cache prefix the
	// client prepends to each request.
	PreventServerCaching bool
	// Path of the replay file, JSON or YAML.
	Path string
	// Logger for diagnostics. Defaults to a no-op logger.
	Logger *zap.Logger
}

type replayEntry struct {
	messages []oai.Message
	counts   TokenCounts
}

// ReplaySource serves message lists sampled uniformly from a recorded
// conversation file.
type ReplaySource struct {
	preventCaching bool
	entries        []replayEntry
}

// NewReplaySource loads, validates and token-counts the replay file.
func NewReplaySource(config ReplayConfig) (*ReplaySource, error) {
	if config.Counter == nil {
		return nil, fmt.Errorf("counter is required")
	}
	if config.Path == "" {
		return nil, fmt.Errorf("replay path is required")
	}
	if config.Logger == nil {
		config.Logger = zap.NewNop()
	}
	config.Logger.Info("loading and validating replay messages", zap.String("path", config.Path))

	data, err := loadReplayDocument(config.Path)
	if err != nil {
		return nil, fmt.Errorf("error loading replay file: %w", err)
	}
	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("error loading replay file: %w", err)
	}
	lists, ok := doc.([]any)
	if !ok {
		return nil, fmt.Errorf("replay file must contain a JSON array of message lists")
	}
	if len(lists) == 0 {
		return nil, fmt.Errorf("replay file must contain at least one list of messages")
	}
	if err := validateReplayDocument(data); err != nil {
		return nil, err
	}

	var allLists [][]oai.Message
	if err := json.Unmarshal(data, &allLists); err != nil {
		return nil, fmt.Errorf("error loading replay file: %w", err)
	}

	source := &ReplaySource{
		preventCaching: config.PreventServerCaching,
		entries:        make([]replayEntry, 0, len(allLists)),
	}
	totalText, totalImage := 0, 0
	for _, msgs := range allLists {
		text, image, err := config.Counter.CountMessages(msgs)
		if err != nil {
			return nil, fmt.Errorf("failed to count replay tokens: %w", err)
		}
		totalText += text
		totalImage += image
		source.entries = append(source.entries, replayEntry{
			messages: msgs,
			counts:   TokenCounts{Text: text, Image: image},
		})
	}
	entryCount := float64(len(source.entries))
	config.Logger.Info("replay messages successfully loaded",
		zap.Int("message_lists", len(source.entries)),
		zap.Int("average_text_tokens", int(math.Round(float64(totalText)/entryCount))),
		zap.Int("average_image_tokens", int(math.Round(float64(totalImage)/entryCount))))
	return source, nil
}

// Next returns a copy of one replayed message list chosen uniformly at
// random. The reported text count includes the anti-cache prefix
// reserve when enabled.
func (s *ReplaySource) Next() ([]oai.Message, TokenCounts) {
	entry := s.entries[rand.Intn(len(s.entries))]
	counts := entry.counts
	if s.preventCaching {
		counts.Text += anticachePrefixTokens
	}
	return cloneMessages(entry.messages), counts
}

// loadReplayDocument reads the replay file, converting YAML input into
// the JSON document model.
func loadReplayDocument(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	ext := strings.ToLower(filepath.Ext(path))
	if ext == ".yaml" || ext == ".yml" {
		var doc any
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("failed to parse YAML: %w", err)
		}
		return json.Marshal(doc)
	}
	return data, nil
}

// validateReplayDocument checks the document against the embedded
// replay schema.
func validateReplayDocument(data []byte) error {
	result, err := gojsonschema.Validate(
		gojsonschema.NewStringLoader(replaySchema),
		gojsonschema.NewBytesLoader(data))
	if err != nil {
		return fmt.Errorf("error validating replay file: %w", err)
	}
	if !result.Valid() {
		details := make([]string, len(result.Errors()))
		for i, violation := range result.Errors() {
			details[i] = violation.String()
		}
		return fmt.Errorf("replay file is not a valid list of message lists: %s",
			strings.Join(details, "; "))
	}
	return nil
}
