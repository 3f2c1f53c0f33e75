package catalog

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mikeboe/deep-research/pkg/clients"
)

func TestDefault(t *testing.T) {
	c := Default()
	for _, family := range Families {
		assert.NotEmpty(t, c.Models[family], family)
	}
	assert.True(t, c.HasModel("gemini-1.5-pro"))
	assert.False(t, c.HasModel("gemini-9"))

	tavily, ok := c.Provider("tavily")
	require.True(t, ok)
	assert.True(t, tavily.RequiresKey)

	searxng, ok := c.Provider("searxng")
	require.True(t, ok)
	assert.False(t, searxng.RequiresKey)
}

func TestDefault_ModelsResolveToTheirFamily(t *testing.T) {
	for family, models := range Default().Models {
		for _, m := range models {
			b, err := clients.ResolveBackend(m)
			require.NoError(t, err, m)
			assert.Equal(t, family, b.String(), m)
		}
	}
}

func TestParse_Rejects(t *testing.T) {
	_, err := Parse([]byte("models: [unterminated"))
	assert.Error(t, err)

	_, err = Parse([]byte("providers: []"))
	assert.Error(t, err)
}
