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
package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/teradata-labs/surge/pkg/tokenizer"
	"go.uber.org/zap"
)

func TestValidTokenizeModel(t *testing.T) {
	for _, model := range tokenizeModels {
		assert.True(t, validTokenizeModel(model), model)
	}
	assert.False(t, validTokenizeModel("davinci"))
	assert.False(t, validTokenizeModel(""))
}

func TestQuotedChoices(t *testing.T) {
	assert.Equal(t, "['and', 'or']", quotedChoices([]string{"and", "or"}))
	assert.Equal(t, "['solo']", quotedChoices([]string{"solo"}))
}

func TestCountInputPlainText(t *testing.T) {
	counter, err := tokenizer.NewCounter("gpt-4", zap.NewNop())
	require.NoError(t, err)

	text, image, isMessages := countInput(counter, "hello world, how long is this?")
	assert.False(t, isMessages)
	assert.Zero(t, image)
	assert.Equal(t, counter.CountText("hello world, how long is this?"), text)
}

func TestCountInputMessages(t *testing.T) {
	counter, err := tokenizer.NewCounter("gpt-4", zap.NewNop())
	require.NoError(t, err)

	input := `[{"role": "user", "content": "hello world"}]`
	text, image, isMessages := countInput(counter, input)
	assert.True(t, isMessages)
	assert.Zero(t, image)
	// Content tokens plus the per-message overhead and reply priming.
	assert.Equal(t, counter.CountText("hello world")+6, text)
}

func TestCountInputFallsBackOnNonMessageJSON(t *testing.T) {
	counter, err := tokenizer.NewCounter("gpt-4", zap.NewNop())
	require.NoError(t, err)

	for _, input := range []string{"[]", "[1, 2, 3]", `{"role": "user"}`} {
		_, _, isMessages := countInput(counter, input)
		assert.False(t, isMessages, input)
	}
}
