package secrets

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGitleaksRules(t *testing.T) {
	defs, err := GitleaksRules()
	require.NoError(t, err)
	require.NotEmpty(t, defs)

	for id, def := range defs {
		assert.NotEmpty(t, def.Pattern, "rule %s", id)
		if def.EntropyFilter {
			assert.NotEmpty(t, def.Threshold, "rule %s", id)
		}
	}

	rs := DefaultRuleSet(RuleOptions{}, nil).With(defs)
	assert.Greater(t, rs.Len(), len(DefaultRuleDefs()))
}
