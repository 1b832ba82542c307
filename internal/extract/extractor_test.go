package extract

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quillmem/synapse/internal/config"
	"github.com/quillmem/synapse/internal/llm"
)

func testExtractor(client llm.Client) *Extractor {
	p := config.DefaultPatterns()
	return New(func() *config.Patterns { return p }, client, nil)
}

func TestTemplateExtraction(t *testing.T) {
	e := testExtractor(nil)

	facts := e.Extract(context.Background(), "My name is Zoe.")
	require.Len(t, facts, 1)
	assert.Equal(t, "user_name", facts[0].Label)
	assert.Equal(t, "Zoe", facts[0].Value)
	assert.Equal(t, "user.name", facts[0].ConceptKey)
	assert.Equal(t, 4, facts[0].Importance)
	assert.InDelta(t, 1.0, facts[0].Confidence, 1e-9)
}

func TestCorrectionPrefix(t *testing.T) {
	e := testExtractor(nil)

	facts := e.Extract(context.Background(), "Actually my name is Alexandra.")
	require.Len(t, facts, 1)
	assert.Equal(t, "user_name", facts[0].Label)
	assert.Equal(t, "Alexandra", facts[0].Value)
}

func TestMultipleSentences(t *testing.T) {
	e := testExtractor(nil)

	facts := e.Extract(context.Background(), "My name is Zoe. I drive a Tesla. I love hiking.")
	require.Len(t, facts, 3)
	assert.Equal(t, "user_name", facts[0].Label)
	assert.Equal(t, "user_car", facts[1].Label)
	assert.Equal(t, "a Tesla", facts[1].Value)
	assert.Equal(t, "user_preference", facts[2].Label)
	assert.Equal(t, "hiking", facts[2].Value)
}

func TestConjunctionBreak(t *testing.T) {
	e := testExtractor(nil)

	facts := e.Extract(context.Background(), "I love hiking, but only in summer")
	require.Len(t, facts, 1)
	assert.Equal(t, "hiking", facts[0].Value)
}

func TestImportanceConfidence(t *testing.T) {
	e := testExtractor(nil)

	facts := e.Extract(context.Background(), "I live in Lisbon.")
	require.Len(t, facts, 1)
	assert.Equal(t, 1, facts[0].Importance)
	assert.InDelta(t, 0.775, facts[0].Confidence, 1e-9)
}

func TestQuestionShortCircuit(t *testing.T) {
	e := testExtractor(nil)

	assert.True(t, e.IsQuestion("What is my name?"))
	assert.True(t, e.IsQuestion("where do I live"))
	assert.False(t, e.IsQuestion("My name is Zoe."))

	assert.Nil(t, e.Extract(context.Background(), "What is my name?"))
	assert.Nil(t, e.Extract(context.Background(), "Is my car a Tesla"))
}

func TestNoMatchReturnsEmpty(t *testing.T) {
	e := testExtractor(nil)

	facts := e.Extract(context.Background(), "The weather is nice today.")
	assert.Empty(t, facts)
}

func TestModelAssisted(t *testing.T) {
	mock := &llm.MockClient{Response: &llm.Response{
		Content:  "user_name|Zoe|4\nuser_dog|a beagle named Max|3\nbad line\nNONE\n",
		Provider: "ollama",
	}}
	e := testExtractor(mock)

	facts := e.Extract(context.Background(), "I have a beagle named Max and my name is Zoe btw")
	require.Len(t, facts, 2)
	assert.Len(t, mock.Calls, 1)

	assert.Equal(t, "user_name", facts[0].Label)
	assert.Equal(t, "user.name", facts[0].ConceptKey)
	assert.True(t, facts[0].FromModel)

	assert.Equal(t, "user_dog", facts[1].Label)
	assert.Equal(t, "a beagle named Max", facts[1].Value)
	assert.Equal(t, "", facts[1].ConceptKey)
}

func TestModelImportanceClamped(t *testing.T) {
	mock := &llm.MockClient{Response: &llm.Response{
		Content: "user_shoe_size|44|9\nuser_mood|cheerful|0\n",
	}}
	e := testExtractor(mock)

	facts := e.Extract(context.Background(), "random chatter worth remembering apparently")
	require.Len(t, facts, 2)
	assert.Equal(t, 4, facts[0].Importance)
	assert.Equal(t, 1, facts[1].Importance)
}

func TestModelErrorKeepsTemplateFacts(t *testing.T) {
	mock := &llm.MockClient{Err: errors.New("connection refused")}
	e := testExtractor(mock)

	facts := e.Extract(context.Background(), "My name is Zoe.")
	require.Len(t, facts, 1)
	assert.Equal(t, "Zoe", facts[0].Value)
}

func TestUnionDedup(t *testing.T) {
	mock := &llm.MockClient{Response: &llm.Response{
		Content: "user_name|Zoe|4",
	}}
	e := testExtractor(mock)

	facts := e.Extract(context.Background(), "My name is Zoe.")
	require.Len(t, facts, 1)
	assert.False(t, facts[0].FromModel)
}

func TestSplitSentences(t *testing.T) {
	got := SplitSentences("One. Two!  Three?\nFour")
	assert.Equal(t, []string{"One", "Two", "Three", "Four"}, got)
}
