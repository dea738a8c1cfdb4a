package credits

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestOperationCost(t *testing.T) {
	c, ok := OperationCost(OpRFXAnalysis)
	assert.True(t, ok)
	assert.Equal(t, int64(5), c)

	c, ok = OperationCost(OpProposalGeneration)
	assert.True(t, ok)
	assert.Equal(t, int64(10), c)

	_, ok = OperationCost("mine_bitcoin")
	assert.False(t, ok)
}
