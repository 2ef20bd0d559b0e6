package secrets

import (
	_ "embed"
	"encoding/json"
	"fmt"
)

//go:embed default_rules.json
var defaultRulesJSON []byte

//go:embed default_allowlist.json
var defaultAllowlistJSON []byte

// DefaultRuleDefs returns the built-in rule table, keyed by rule name.
func DefaultRuleDefs() map[string]RuleDef {
	var defs map[string]RuleDef
	if err := json.Unmarshal(defaultRulesJSON, &defs); err != nil {
		panic(fmt.Sprintf("secrets: built-in rule table is not valid JSON: %v", err))
	}
	return defs
}
