package plans

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCatalogGet(t *testing.T) {
	p, ok := Get(TierPro)
	require.True(t, ok)
	assert.Equal(t, int64(1500), p.CreditsPerPeriod)
	assert.Equal(t, 10, p.MaxUsers)

	_, ok = Get(Tier("platinum"))
	assert.False(t, ok)
}

func TestCatalogDefault(t *testing.T) {
	p := Default()
	assert.Equal(t, TierFree, p.Tier)
	assert.Equal(t, int64(100), p.CreditsPerPeriod)
}
