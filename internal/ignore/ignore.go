// Package ignore loads gitignore-style files for the filesystem scanner.
package ignore

import (
	"bufio"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-git/go-git/v5/plumbing/format/gitignore"
)

// DefaultIgnoreFiles are read from every directory the scanner enters.
var DefaultIgnoreFiles = []string{".gitignore", ".rootleignore"}

// Parser reads and parses gitignore-style files.
type Parser struct {
	// IgnoreFiles is the list of ignore file names to look for.
	IgnoreFiles []string
}

// NewParser creates a parser for the given ignore file names. With no names
// it reads DefaultIgnoreFiles.
func NewParser(ignoreFiles ...string) *Parser {
	if len(ignoreFiles) == 0 {
		ignoreFiles = DefaultIgnoreFiles
	}
	return &Parser{IgnoreFiles: ignoreFiles}
}

// ParseDir reads every ignore file in dir and returns its patterns scoped to
// domain, the path components of dir relative to the scan root. Missing
// files are skipped.
func (p *Parser) ParseDir(dir string, domain []string) ([]gitignore.Pattern, error) {
	var patterns []gitignore.Pattern
	for _, name := range p.IgnoreFiles {
		lines, err := parseFile(filepath.Join(dir, name))
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, err
		}
		for _, line := range lines {
			patterns = append(patterns, gitignore.ParsePattern(line, domain))
		}
	}
	return patterns, nil
}

// parseFile reads a single gitignore-style file and returns its pattern lines.
func parseFile(path string) ([]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var lines []string
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		if line, ok := parseLine(scanner.Text()); ok {
			lines = append(lines, line)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return lines, nil
}

// parseLine returns the pattern on a line, skipping comments and blank lines.
func parseLine(line string) (string, bool) {
	line = strings.TrimRight(line, "\r")
	if strings.TrimSpace(line) == "" || strings.HasPrefix(line, "#") {
		return "", false
	}
	return line, true
}

// Matcher accumulates patterns as a walk descends. Patterns added later
// take precedence, so parents must be added before their children.
type Matcher struct {
	patterns []gitignore.Pattern
}

// Add appends patterns.
func (m *Matcher) Add(patterns ...gitignore.Pattern) {
	m.patterns = append(m.patterns, patterns...)
}

// Len returns the number of patterns.
func (m *Matcher) Len() int { return len(m.patterns) }

// Match reports whether the slash-separated relative path is ignored.
func (m *Matcher) Match(rel string, isDir bool) bool {
	if len(m.patterns) == 0 || rel == "" || rel == "." {
		return false
	}
	return gitignore.NewMatcher(m.patterns).Match(strings.Split(rel, "/"), isDir)
}
