package secrets

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"sort"
	"strconv"
	"strings"

	regexp "github.com/wasilibs/go-re2"
	"github.com/wasilibs/go-re2/experimental"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/rootle/internal/logging"
)

const (
	// DefaultEntropyThreshold is used when a rule enables entropy filtering
	// without a usable threshold of its own.
	DefaultEntropyThreshold = 0.6

	// legacyEntropyScale is the upper bound of the old 0-8 threshold scale.
	legacyEntropyScale = 8.0
)

// RuleDef is a rule as written in a rule source, before compilation.
// A rule source entry is either a bare pattern string or an object with
// the pattern and its entropy settings.
type RuleDef struct {
	Pattern            string
	EntropyFilter      bool
	Threshold          string
	Keyspace           string
	MakeASCIILowercase bool
}

// UnmarshalJSON decodes either form of a rule entry.
func (d *RuleDef) UnmarshalJSON(data []byte) error {
	var pattern string
	if err := json.Unmarshal(data, &pattern); err == nil {
		*d = RuleDef{Pattern: pattern}
		return nil
	}

	var obj struct {
		Pattern            *string         `json:"pattern"`
		EntropyFilter      bool            `json:"entropy_filter"`
		Threshold          json.RawMessage `json:"threshold"`
		Keyspace           json.RawMessage `json:"keyspace"`
		MakeASCIILowercase bool            `json:"make_ascii_lowercase"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return fmt.Errorf("rule must be a pattern string or an object: %w", err)
	}
	if obj.Pattern == nil {
		return errors.New(`rule object has no "pattern"`)
	}

	*d = RuleDef{
		Pattern:            *obj.Pattern,
		EntropyFilter:      obj.EntropyFilter,
		Threshold:          scalarText(obj.Threshold),
		Keyspace:           scalarText(obj.Keyspace),
		MakeASCIILowercase: obj.MakeASCIILowercase,
	}
	return nil
}

// scalarText returns a JSON string's contents, or the literal text of any
// other scalar, so "0.7" and 0.7 read the same.
func scalarText(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}

// Rule is a compiled, immutable detection rule.
type Rule struct {
	Name    string
	Pattern *regexp.Regexp

	// EntropyFilter gates matches on EntropyThreshold, which is always
	// on the 0-1 scale.
	EntropyFilter    bool
	EntropyThreshold float64

	// Keyspace is the alphabet size used to normalize entropy. Zero means
	// it is guessed per token.
	Keyspace  int
	FoldCase  bool
	Lowercase bool
}

// RuleOptions controls how rule definitions are compiled.
type RuleOptions struct {
	// CaseInsensitive folds case for every pattern.
	CaseInsensitive bool

	// DefaultThreshold replaces missing or invalid rule thresholds.
	// Zero means DefaultEntropyThreshold.
	DefaultThreshold float64
}

// RuleSet is a name-ordered set of compiled rules. It is read-only after
// construction and safe for concurrent use.
type RuleSet struct {
	rules            []*Rule
	byName           map[string]*Rule
	opts             RuleOptions
	defaultThreshold float64
	logger           *logging.Logger
}

// ParseRuleSet compiles a JSON rule source. A source that is not a JSON
// object of rules returns ErrInvalidRuleSource. Rules whose pattern does not
// compile are dropped with an error log.
func ParseRuleSet(src []byte, opts RuleOptions, logger *logging.Logger) (*RuleSet, error) {
	var defs map[string]RuleDef
	if err := json.Unmarshal(src, &defs); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRuleSource, err)
	}
	if defs == nil {
		return nil, fmt.Errorf("%w: null", ErrInvalidRuleSource)
	}

	rs := newRuleSet(opts, logger)
	rs.add(defs, false)
	return rs, nil
}

// NewRuleSet compiles a JSON rule source, falling back to the built-in
// rules when the source cannot be decoded.
func NewRuleSet(src []byte, opts RuleOptions, logger *logging.Logger) *RuleSet {
	rs, err := ParseRuleSet(src, opts, logger)
	if err != nil {
		orNop(logger).Error(context.Background(), "failed to parse rule source, using default rules", zap.Error(err))
		return DefaultRuleSet(opts, logger)
	}
	return rs
}

// DefaultRuleSet compiles the built-in rule table. It panics if a built-in
// pattern does not compile.
func DefaultRuleSet(opts RuleOptions, logger *logging.Logger) *RuleSet {
	rs := newRuleSet(opts, logger)
	rs.add(DefaultRuleDefs(), true)
	return rs
}

// LoadRuleSet reads a rule file. An empty path selects the built-in rules;
// an unreadable or malformed file falls back to them with an error log.
func LoadRuleSet(path string, opts RuleOptions, logger *logging.Logger) *RuleSet {
	if path == "" {
		return DefaultRuleSet(opts, logger)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		orNop(logger).Error(context.Background(), "failed to read rule file, using default rules",
			zap.String("path", path), zap.Error(err))
		return DefaultRuleSet(opts, logger)
	}
	return NewRuleSet(data, opts, logger)
}

// With returns a copy of the set extended by defs. Names already present
// keep their existing rule.
func (rs *RuleSet) With(defs map[string]RuleDef) *RuleSet {
	out := newRuleSet(rs.opts, rs.logger)
	for _, r := range rs.rules {
		out.byName[r.Name] = r
	}
	extra := make(map[string]RuleDef, len(defs))
	for name, def := range defs {
		if _, ok := out.byName[name]; ok {
			continue
		}
		extra[name] = def
	}
	out.add(extra, false)
	return out
}

func newRuleSet(opts RuleOptions, logger *logging.Logger) *RuleSet {
	logger = orNop(logger)
	fallback := opts.DefaultThreshold
	if fallback == 0 {
		fallback = DefaultEntropyThreshold
	}
	return &RuleSet{
		byName:           make(map[string]*Rule),
		opts:             opts,
		defaultThreshold: normalizeThreshold(logger, "default", fallback, DefaultEntropyThreshold),
		logger:           logger,
	}
}

func (rs *RuleSet) add(defs map[string]RuleDef, builtin bool) {
	for name, def := range defs {
		rule, err := rs.compile(name, def)
		if err != nil {
			if builtin {
				panic(fmt.Sprintf("secrets: built-in rule %q: %v", name, err))
			}
			rs.logger.Error(context.Background(), "dropping rule with invalid pattern",
				zap.String("rule", name), zap.Error(err))
			continue
		}
		rs.byName[name] = rule
	}

	rs.rules = rs.rules[:0]
	for _, r := range rs.byName {
		rs.rules = append(rs.rules, r)
	}
	sort.Slice(rs.rules, func(i, j int) bool { return rs.rules[i].Name < rs.rules[j].Name })
}

func (rs *RuleSet) compile(name string, def RuleDef) (*Rule, error) {
	re, err := compilePattern(def.Pattern, rs.opts.CaseInsensitive)
	if err != nil {
		return nil, err
	}

	rule := &Rule{
		Name:      name,
		Pattern:   re,
		FoldCase:  rs.opts.CaseInsensitive,
		Lowercase: def.MakeASCIILowercase,
		Keyspace:  parseKeyspace(def.Keyspace),
	}
	if def.EntropyFilter {
		rule.EntropyFilter = true
		rule.EntropyThreshold = rs.resolveThreshold(name, def.Threshold)
	}
	return rule, nil
}

func (rs *RuleSet) resolveThreshold(name, raw string) float64 {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return rs.defaultThreshold
	}
	t, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(t) {
		rs.logger.Debug(context.Background(), "unparsable entropy threshold, using default",
			zap.String("rule", name), zap.String("threshold", raw))
		return rs.defaultThreshold
	}
	return normalizeThreshold(rs.logger, name, t, rs.defaultThreshold)
}

// normalizeThreshold maps legacy 0-8 scale values in (1, 8] onto the 0-1
// scale and replaces values above 8 with fallback.
func normalizeThreshold(logger *logging.Logger, name string, t, fallback float64) float64 {
	switch {
	case t > legacyEntropyScale:
		logger.Error(context.Background(), "invalid entropy threshold, using default",
			zap.String("rule", name), zap.Float64("threshold", t), zap.Float64("default", fallback))
		return fallback
	case t > 1:
		logger.Info(context.Background(), "entropy threshold values should be between 0 and 1, rescaling",
			zap.String("rule", name), zap.Float64("threshold", t))
		return t / legacyEntropyScale
	default:
		return t
	}
}

func parseKeyspace(raw string) int {
	n, err := strconv.ParseUint(strings.TrimSpace(raw), 10, 32)
	if err != nil || n < 2 {
		return 0
	}
	return int(n)
}

func compilePattern(pattern string, foldCase bool) (*regexp.Regexp, error) {
	if foldCase {
		pattern = "(?i)" + pattern
	}
	re, err := experimental.CompileLatin1(pattern)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrInvalidRegex, pattern, err)
	}
	return re, nil
}

// Rules returns the rules in name order.
func (rs *RuleSet) Rules() []*Rule {
	out := make([]*Rule, len(rs.rules))
	copy(out, rs.rules)
	return out
}

// Rule returns the rule with the given name.
func (rs *RuleSet) Rule(name string) (*Rule, bool) {
	r, ok := rs.byName[name]
	return r, ok
}

// Names returns the rule names in order.
func (rs *RuleSet) Names() []string {
	names := make([]string, len(rs.rules))
	for i, r := range rs.rules {
		names[i] = r.Name
	}
	return names
}

// Len returns the number of rules.
func (rs *RuleSet) Len() int { return len(rs.rules) }

// DefaultThreshold returns the normalized fallback entropy threshold.
func (rs *RuleSet) DefaultThreshold() float64 { return rs.defaultThreshold }

func orNop(logger *logging.Logger) *logging.Logger {
	if logger == nil {
		return logging.NewNop()
	}
	return logger
}
