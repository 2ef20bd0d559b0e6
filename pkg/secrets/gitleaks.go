package secrets

import (
	"fmt"
	"strconv"

	"github.com/zricethezav/gitleaks/v8/detect"
)

// GitleaksRules returns the gitleaks default rule pack as rule definitions
// keyed by rule id. Rules that only match paths are skipped. A gitleaks
// entropy value becomes an entropy filter on the legacy 0-8 scale.
func GitleaksRules() (map[string]RuleDef, error) {
	detector, err := detect.NewDetectorDefaultConfig()
	if err != nil {
		return nil, fmt.Errorf("loading gitleaks default config: %w", err)
	}

	defs := make(map[string]RuleDef, len(detector.Config.Rules))
	for id, rule := range detector.Config.Rules {
		if rule.Regex == nil {
			continue
		}
		def := RuleDef{Pattern: rule.Regex.String()}
		if rule.Entropy > 0 {
			def.EntropyFilter = true
			def.Threshold = strconv.FormatFloat(rule.Entropy, 'f', -1, 64)
		}
		defs[id] = def
	}
	return defs, nil
}
