package secrets

import (
	"sort"

	"github.com/fyrsmithlabs/rootle/internal/logging"
)

// EntropyReason is the reason reported for standalone entropy findings.
const EntropyReason = "Entropy"

// Match is a byte span within a scanned line.
type Match struct {
	Start int
	End   int
	text  []byte
}

// Bytes returns the matched bytes. They alias the scanned line.
func (m Match) Bytes() []byte {
	return m.text[m.Start:m.End]
}

// String returns the matched bytes decoded as ASCII.
func (m Match) String() string {
	return DecodeASCII(m.Bytes())
}

// ReasonMatches holds the matches of one rule.
type ReasonMatches struct {
	Reason  string
	Matches []Match
}

// Results is a list of per-reason matches sorted by reason.
type Results []ReasonMatches

// Get returns the matches recorded for reason.
func (r Results) Get(reason string) ([]Match, bool) {
	i := sort.Search(len(r), func(i int) bool { return r[i].Reason >= reason })
	if i < len(r) && r[i].Reason == reason {
		return r[i].Matches, true
	}
	return nil, false
}

// Count returns the total number of matches across reasons.
func (r Results) Count() int {
	n := 0
	for _, rm := range r {
		n += len(rm.Matches)
	}
	return n
}

// Finding is the matched strings of one reason within one scanned line.
type Finding struct {
	Reason       string
	StringsFound []string
}

// Findings converts results into findings, skipping reasons without matches.
func (r Results) Findings() []Finding {
	var out []Finding
	for _, rm := range r {
		if len(rm.Matches) == 0 {
			continue
		}
		found := make([]string, len(rm.Matches))
		for i, m := range rm.Matches {
			found[i] = m.String()
		}
		out = append(out, Finding{Reason: rm.Reason, StringsFound: found})
	}
	return out
}

// put inserts or replaces the entry for reason, keeping r sorted.
func (r Results) put(reason string, matches []Match) Results {
	i := sort.Search(len(r), func(i int) bool { return r[i].Reason >= reason })
	if i < len(r) && r[i].Reason == reason {
		r[i].Matches = matches
		return r
	}
	r = append(r, ReasonMatches{})
	copy(r[i+1:], r[i:])
	r[i] = ReasonMatches{Reason: reason, Matches: matches}
	return r
}

// Engine runs a RuleSet and AllowList over byte buffers. It holds no
// mutable state and is safe for concurrent use.
type Engine struct {
	rules           *RuleSet
	allow           *AllowList
	minWordLen      int
	maxWordLen      int
	entropyFindings bool
	logger          *logging.Logger
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithEntropyFindings adds standalone high-entropy tokens to filtered
// results under EntropyReason.
func WithEntropyFindings(enabled bool) EngineOption {
	return func(e *Engine) { e.entropyFindings = enabled }
}

// WithWordLengths sets the token length bounds used by the entropy gate.
// Non-positive values keep the defaults.
func WithWordLengths(minLen, maxLen int) EngineOption {
	return func(e *Engine) {
		if minLen > 0 {
			e.minWordLen = minLen
		}
		if maxLen > 0 {
			e.maxWordLen = maxLen
		}
	}
}

// WithLogger sets the engine's logger.
func WithLogger(logger *logging.Logger) EngineOption {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// NewEngine creates an engine. A nil allowlist allows nothing.
func NewEngine(rules *RuleSet, allow *AllowList, opts ...EngineOption) *Engine {
	if allow == nil {
		allow = EmptyAllowList()
	}
	e := &Engine{
		rules:      rules,
		allow:      allow,
		minWordLen: DefaultMinWordLen,
		maxWordLen: DefaultMaxWordLen,
		logger:     logging.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Rules returns the engine's rule set.
func (e *Engine) Rules() *RuleSet { return e.rules }

// AllowList returns the engine's allowlist.
func (e *Engine) AllowList() *AllowList { return e.allow }

// Matches returns every non-overlapping match of every rule in line,
// ignoring entropy and allowlists. Rules without matches are included.
func (e *Engine) Matches(line []byte) Results {
	out := make(Results, 0, e.rules.Len())
	for _, rule := range e.rules.rules {
		out = append(out, ReasonMatches{Reason: rule.Name, Matches: e.find(rule, line)})
	}
	return out
}

// MatchesFiltered returns the matches that pass their rule's entropy gate
// and are not text-allowlisted. Reasons left without matches are omitted.
func (e *Engine) MatchesFiltered(line []byte) Results {
	var out Results
	for _, rule := range e.rules.rules {
		var kept []Match
		for _, m := range e.find(rule, line) {
			b := m.Bytes()
			if !e.CheckEntropy(rule.Name, b) {
				continue
			}
			if e.allow.IsTextAllowlisted(rule.Name, b) {
				continue
			}
			kept = append(kept, m)
		}
		if len(kept) > 0 {
			out = append(out, ReasonMatches{Reason: rule.Name, Matches: kept})
		}
	}

	if e.entropyFindings {
		if found := e.StandaloneEntropy(line, e.rules.DefaultThreshold()); len(found) > 0 {
			out = out.put(EntropyReason, found)
		}
	}
	return out
}

// IsPathAllowlisted reports whether path is allowlisted for reason.
func (e *Engine) IsPathAllowlisted(reason string, path []byte) bool {
	return e.allow.IsPathAllowlisted(reason, path)
}

func (e *Engine) find(rule *Rule, line []byte) []Match {
	locs := rule.Pattern.FindAllIndex(line, -1)
	if len(locs) == 0 {
		return nil
	}
	matches := make([]Match, len(locs))
	for i, loc := range locs {
		matches[i] = Match{Start: loc[0], End: loc[1], text: line}
	}
	return matches
}
