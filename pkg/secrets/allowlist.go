package secrets

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	regexp "github.com/wasilibs/go-re2"
	"github.com/wasilibs/go-re2/experimental"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/rootle/internal/logging"
)

// GlobalReason names the allowlist entry consulted for every reason.
const GlobalReason = "<GLOBAL>"

// AllowListEntry holds the suppression patterns of one reason.
type AllowListEntry struct {
	Reason        string
	MatchPatterns []*regexp.Regexp
	PathPatterns  []*regexp.Regexp
}

// AllowList suppresses findings by matched text or by path. It is read-only
// after construction and safe for concurrent use.
type AllowList struct {
	entries map[string]*AllowListEntry
}

// allowListDef is an allowlist entry as written in a JSON source: either an
// array of text patterns or an object with patterns and paths.
type allowListDef struct {
	Patterns []string `json:"patterns"`
	Paths    []string `json:"paths"`
}

func (d *allowListDef) UnmarshalJSON(data []byte) error {
	var patterns []string
	if err := json.Unmarshal(data, &patterns); err == nil {
		*d = allowListDef{Patterns: patterns}
		return nil
	}
	type plain allowListDef
	var obj plain
	if err := json.Unmarshal(data, &obj); err != nil {
		return fmt.Errorf("allowlist entry must be an array or an object: %w", err)
	}
	*d = allowListDef(obj)
	return nil
}

// EmptyAllowList returns an allowlist that suppresses nothing.
func EmptyAllowList() *AllowList {
	return &AllowList{entries: map[string]*AllowListEntry{}}
}

// ParseAllowList compiles a JSON allowlist source. Patterns that do not
// compile are dropped with a warning.
func ParseAllowList(src []byte, logger *logging.Logger) (*AllowList, error) {
	var defs map[string]allowListDef
	if err := json.Unmarshal(src, &defs); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidAllowlist, err)
	}

	al := EmptyAllowList()
	for reason, def := range defs {
		al.add(reason, def.Patterns, def.Paths, orNop(logger))
	}
	return al, nil
}

// NewAllowList compiles a JSON allowlist source. An undecodable source
// yields an empty allowlist and an error log.
func NewAllowList(src []byte, logger *logging.Logger) *AllowList {
	al, err := ParseAllowList(src, logger)
	if err != nil {
		orNop(logger).Error(context.Background(), "failed to parse allowlist, allowing nothing", zap.Error(err))
		return EmptyAllowList()
	}
	return al
}

// DefaultAllowList compiles the built-in allowlist.
func DefaultAllowList(logger *logging.Logger) *AllowList {
	al, err := ParseAllowList(defaultAllowlistJSON, logger)
	if err != nil {
		panic(fmt.Sprintf("secrets: built-in allowlist: %v", err))
	}
	return al
}

// tomlAllowlist is a gitleaks-style allowlist table.
type tomlAllowlist struct {
	Description string   `toml:"description"`
	Paths       []string `toml:"paths"`
	Regexes     []string `toml:"regexes"`
}

// ParseTOMLAllowList reads a gitleaks-style TOML allowlist. The [allowlist]
// table and any [[allowlists]] tables apply to every reason; [rules.<reason>]
// tables apply to one reason.
func ParseTOMLAllowList(src []byte, logger *logging.Logger) (*AllowList, error) {
	var doc struct {
		Allowlist  *tomlAllowlist           `toml:"allowlist"`
		Allowlists []tomlAllowlist          `toml:"allowlists"`
		Rules      map[string]tomlAllowlist `toml:"rules"`
	}
	if _, err := toml.Decode(string(src), &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidTOML, err)
	}

	logger = orNop(logger)
	al := EmptyAllowList()
	if doc.Allowlist != nil {
		al.add(GlobalReason, doc.Allowlist.Regexes, doc.Allowlist.Paths, logger)
	}
	for _, t := range doc.Allowlists {
		al.add(GlobalReason, t.Regexes, t.Paths, logger)
	}
	for reason, t := range doc.Rules {
		al.add(reason, t.Regexes, t.Paths, logger)
	}
	return al, nil
}

// LoadAllowList reads an allowlist file, as TOML when the name ends in
// .toml and as JSON otherwise. An empty path or an unreadable file selects
// the built-in allowlist; an unparsable file yields an empty one.
func LoadAllowList(path string, logger *logging.Logger) *AllowList {
	logger = orNop(logger)
	if path == "" {
		return DefaultAllowList(logger)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			err = fmt.Errorf("%w: %s", ErrAllowlistNotFound, path)
		}
		logger.Error(context.Background(), "failed to read allowlist, using default allowlist",
			zap.String("path", path), zap.Error(err))
		return DefaultAllowList(logger)
	}

	if strings.EqualFold(filepath.Ext(path), ".toml") {
		al, err := ParseTOMLAllowList(data, logger)
		if err != nil {
			logger.Error(context.Background(), "failed to parse allowlist, allowing nothing",
				zap.String("path", path), zap.Error(err))
			return EmptyAllowList()
		}
		return al
	}
	return NewAllowList(data, logger)
}

// LoadProjectAllowList reads <dir>/.gitleaks.toml. A missing file returns
// ErrAllowlistNotFound.
func LoadProjectAllowList(dir string, logger *logging.Logger) (*AllowList, error) {
	path := filepath.Join(dir, ".gitleaks.toml")
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrAllowlistNotFound, path)
		}
		return nil, err
	}
	al, err := ParseTOMLAllowList(data, logger)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return al, nil
}

// Merge returns the union of a and others.
func (a *AllowList) Merge(others ...*AllowList) *AllowList {
	out := EmptyAllowList()
	for _, al := range append([]*AllowList{a}, others...) {
		if al == nil {
			continue
		}
		for reason, entry := range al.entries {
			dst := out.entry(reason)
			dst.MatchPatterns = append(dst.MatchPatterns, entry.MatchPatterns...)
			dst.PathPatterns = append(dst.PathPatterns, entry.PathPatterns...)
		}
	}
	return out
}

func (a *AllowList) entry(reason string) *AllowListEntry {
	e, ok := a.entries[reason]
	if !ok {
		e = &AllowListEntry{Reason: reason}
		a.entries[reason] = e
	}
	return e
}

func (a *AllowList) add(reason string, patterns, paths []string, logger *logging.Logger) {
	e := a.entry(reason)
	e.MatchPatterns = append(e.MatchPatterns, compileAll(reason, "pattern", patterns, logger)...)
	e.PathPatterns = append(e.PathPatterns, compileAll(reason, "path", paths, logger)...)
}

func compileAll(reason, kind string, patterns []string, logger *logging.Logger) []*regexp.Regexp {
	out := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		re, err := experimental.CompileLatin1(p)
		if err != nil {
			logger.Warn(context.Background(), "dropping invalid allowlist "+kind,
				zap.String("reason", reason), zap.String("pattern", p), zap.Error(err))
			continue
		}
		out = append(out, re)
	}
	return out
}

// Entry returns the entry for reason.
func (a *AllowList) Entry(reason string) (*AllowListEntry, bool) {
	e, ok := a.entries[reason]
	return e, ok
}

// Len returns the number of entries, including the global one.
func (a *AllowList) Len() int { return len(a.entries) }

// IsTextAllowlisted reports whether token matches a text pattern of the
// reason's entry or of the global entry.
func (a *AllowList) IsTextAllowlisted(reason string, token []byte) bool {
	return a.matchAny(reason, token, func(e *AllowListEntry) []*regexp.Regexp { return e.MatchPatterns })
}

// IsPathAllowlisted reports whether path matches a path pattern of the
// reason's entry or of the global entry.
func (a *AllowList) IsPathAllowlisted(reason string, path []byte) bool {
	return a.matchAny(reason, path, func(e *AllowListEntry) []*regexp.Regexp { return e.PathPatterns })
}

func (a *AllowList) matchAny(reason string, b []byte, patterns func(*AllowListEntry) []*regexp.Regexp) bool {
	for _, name := range [2]string{reason, GlobalReason} {
		e, ok := a.entries[name]
		if !ok {
			continue
		}
		for _, re := range patterns(e) {
			if re.Match(b) {
				return true
			}
		}
	}
	return false
}
