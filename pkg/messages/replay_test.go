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
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teradata-labs/surge/pkg/oai"
)

func writeReplayFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestNewReplaySourceValidation(t *testing.T) {
	_, err := NewReplaySource(ReplayConfig{Path: "replay.json"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "counter is required")

	_, err = NewReplaySource(ReplayConfig{Counter: wordCounter{}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "replay path is required")
}

func TestNewReplaySourceLoadsJSON(t *testing.T) {
	path := writeReplayFile(t, "replay.json", `[
		[{"role": "user", "content": "hello world"}],
		[{"role": "system", "content": "terse"}, {"role": "user", "content": "b c"}]
	]`)

	source, err := NewReplaySource(ReplayConfig{Counter: wordCounter{}, Path: path})
	require.NoError(t, err)

	require.Len(t, source.entries, 2)
	assert.Equal(t, TokenCounts{Text: 8}, source.entries[0].counts)
	assert.Equal(t, TokenCounts{Text: 12}, source.entries[1].counts)

	msgs, counts := source.Next()
	assert.NotEmpty(t, msgs)
	assert.Contains(t, []int{8, 12}, counts.Text)
}

func TestNewReplaySourceLoadsYAML(t *testing.T) {
	path := writeReplayFile(t, "replay.yaml", `
- - role: user
    content: hello world
- - role: user
    content: one two three
`)

	source, err := NewReplaySource(ReplayConfig{Counter: wordCounter{}, Path: path})
	require.NoError(t, err)
	require.Len(t, source.entries, 2)
	assert.Equal(t, "hello world", source.entries[0].messages[0].Content.Text())
	assert.Equal(t, TokenCounts{Text: 9}, source.entries[1].counts)
}

func TestNewReplaySourceMultimodal(t *testing.T) {
	path := writeReplayFile(t, "replay.json", `[
		[{"role": "user", "content": [
			{"type": "text", "text": "describe this"},
			{"type": "image_url", "image_url": {"url": "data:image/png;base64,abcd", "detail": "low"}}
		]}]
	]`)

	source, err := NewReplaySource(ReplayConfig{Counter: wordCounter{}, Path: path})
	require.NoError(t, err)

	msgs, counts := source.Next()
	require.Len(t, msgs, 1)
	require.True(t, msgs[0].Content.IsParts())
	assert.Equal(t, 85, counts.Image)
}

func TestNewReplaySourceErrors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		errMsg  string
	}{
		{
			name:    "not an array",
			content: `{"messages": []}`,
			errMsg:  "replay file must contain a JSON array of message lists",
		},
		{
			name:    "empty array",
			content: `[]`,
			errMsg:  "replay file must contain at least one list of messages",
		},
		{
			name:    "empty message list",
			content: `[[]]`,
			errMsg:  "not a valid list of message lists",
		},
		{
			name:    "message without role",
			content: `[[{"content": "hi"}]]`,
			errMsg:  "not a valid list of message lists",
		},
		{
			name:    "numeric content",
			content: `[[{"role": "user", "content": 42}]]`,
			errMsg:  "not a valid list of message lists",
		},
		{
			name:    "malformed json",
			content: `[[{`,
			errMsg:  "error loading replay file",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeReplayFile(t, "replay.json", tt.content)
			_, err := NewReplaySource(ReplayConfig{Counter: wordCounter{}, Path: path})
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestNewReplaySourceMissingFile(t *testing.T) {
	_, err := NewReplaySource(ReplayConfig{
		Counter: wordCounter{},
		Path:    filepath.Join(t.TempDir(), "missing.json"),
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "error loading replay file")
}

func TestReplaySourceAnticacheReserve(t *testing.T) {
	path := writeReplayFile(t, "replay.json", `[[{"role": "user", "content": "hello world"}]]`)

	source, err := NewReplaySource(ReplayConfig{
		Counter:              wordCounter{},
		PreventServerCaching: true,
		Path:                 path,
	})
	require.NoError(t, err)

	_, counts := source.Next()
	assert.Equal(t, 8+anticachePrefixTokens, counts.Text)
}

func TestReplaySourceNextClones(t *testing.T) {
	path := writeReplayFile(t, "replay.json", `[[{"role": "user", "content": "hello world"}]]`)

	source, err := NewReplaySource(ReplayConfig{Counter: wordCounter{}, Path: path})
	require.NoError(t, err)

	first, _ := source.Next()
	first[0].Content = oai.TextContent("mutated")

	second, _ := source.Next()
	assert.Equal(t, "hello world", second[0].Content.Text())
}
