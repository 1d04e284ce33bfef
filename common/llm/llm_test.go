package llm_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"scholarpilot.dev/core/common/llm"
)

func TestNew_RequiresAPIKey(t *testing.T) {
	_, err := llm.New(llm.Config{Provider: llm.ProviderOpenAI})
	assert.Error(t, err)

	_, err = llm.New(llm.Config{Provider: llm.ProviderAnthropic})
	assert.Error(t, err)
}

func TestNew_DefaultsToOpenAI(t *testing.T) {
	client, err := llm.New(llm.Config{APIKey: "test-key"})
	require.NoError(t, err)
	assert.NotEmpty(t, client.Model())
}

func TestNew_UnknownProvider(t *testing.T) {
	_, err := llm.New(llm.Config{Provider: "cohere", APIKey: "test-key"})
	assert.Error(t, err)
}

func TestTemp_ReturnsPointerToValue(t *testing.T) {
	p := llm.Temp(0.2)
	require.NotNil(t, p)
	assert.InDelta(t, 0.2, *p, 1e-9)
}

type exampleSchema struct {
	Name string `json:"name"`
}

func TestGenerateSchema_ProducesNonNilSchema(t *testing.T) {
	schema := llm.GenerateSchema[exampleSchema]()
	assert.NotNil(t, schema)
}
