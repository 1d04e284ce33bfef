package graphstore

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDocKeyIsStableAndKeyCharsetSafe(t *testing.T) {
	k1 := docKey("2301.00001#a1b2c3d4")
	k2 := docKey("2301.00001#a1b2c3d4")
	assert.Equal(t, k1, k2)
	assert.NotContains(t, k1, "#")
	assert.NotContains(t, k1, "/")
	assert.Len(t, k1, 20)
}

func TestDocKeyDiffersForDifferentIDs(t *testing.T) {
	assert.NotEqual(t, docKey("paper-a"), docKey("paper-b"))
}

func TestEdgeKeyIsOrderSensitiveAndStable(t *testing.T) {
	a := edgeKey("cluster-1", "paper-1")
	b := edgeKey("cluster-1", "paper-1")
	assert.Equal(t, a, b)
	assert.NotEqual(t, edgeKey("cluster-1", "paper-1"), edgeKey("paper-1", "cluster-1"))
}

func TestConfigValidate(t *testing.T) {
	assert.Error(t, Config{}.Validate())
	assert.Error(t, Config{URL: "http://localhost:8529"}.Validate())
	assert.NoError(t, Config{URL: "http://localhost:8529", Database: "scholarpilot"}.Validate())
}
