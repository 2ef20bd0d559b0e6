package ignore

import (
	"os"
	"path/filepath"
	"testing"
)

func TestParseLine(t *testing.T) {
	tests := []struct {
		name     string
		line     string
		expected string
		ok       bool
	}{
		{"empty line", "", "", false},
		{"whitespace only", "   ", "", false},
		{"comment", "# this is a comment", "", false},
		{"negation kept", "!important.txt", "!important.txt", true},
		{"simple file glob", "*.log", "*.log", true},
		{"directory with slash", "node_modules/", "node_modules/", true},
		{"carriage return", "dist/\r", "dist/", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, ok := parseLine(tt.line)
			if result != tt.expected || ok != tt.ok {
				t.Errorf("parseLine(%q) = %q, %v, want %q, %v", tt.line, result, ok, tt.expected, tt.ok)
			}
		})
	}
}

func TestParseDir(t *testing.T) {
	tmpDir := t.TempDir()

	gitignore := `# Build outputs
dist/

# Fixtures
*.pem
!keep.pem
`
	if err := os.WriteFile(filepath.Join(tmpDir, ".gitignore"), []byte(gitignore), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(tmpDir, ".rootleignore"), []byte("testdata/\n"), 0644); err != nil {
		t.Fatal(err)
	}

	patterns, err := NewParser().ParseDir(tmpDir, nil)
	if err != nil {
		t.Fatalf("ParseDir failed: %v", err)
	}
	if len(patterns) != 4 {
		t.Fatalf("expected 4 patterns, got %d", len(patterns))
	}

	var m Matcher
	m.Add(patterns...)

	tests := []struct {
		path  string
		isDir bool
		want  bool
	}{
		{"dist", true, true},
		{"dist", false, false},
		{"certs/server.pem", false, true},
		{"certs/keep.pem", false, false},
		{"testdata", true, true},
		{"src/main.go", false, false},
	}
	for _, tt := range tests {
		if got := m.Match(tt.path, tt.isDir); got != tt.want {
			t.Errorf("Match(%q, %v) = %v, want %v", tt.path, tt.isDir, got, tt.want)
		}
	}
}

func TestParseDir_Scoped(t *testing.T) {
	tmpDir := t.TempDir()
	if err := os.WriteFile(filepath.Join(tmpDir, ".gitignore"), []byte("*.env\n"), 0644); err != nil {
		t.Fatal(err)
	}

	patterns, err := NewParser().ParseDir(tmpDir, []string{"service"})
	if err != nil {
		t.Fatalf("ParseDir failed: %v", err)
	}

	var m Matcher
	m.Add(patterns...)

	if !m.Match("service/prod.env", false) {
		t.Error("expected service/prod.env to be ignored")
	}
	if m.Match("other/prod.env", false) {
		t.Error("expected other/prod.env outside the domain to be kept")
	}
}

func TestParseDir_NoIgnoreFiles(t *testing.T) {
	patterns, err := NewParser(".gitignore", ".dockerignore").ParseDir(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("ParseDir failed: %v", err)
	}
	if len(patterns) != 0 {
		t.Errorf("expected no patterns, got %d", len(patterns))
	}
}

func TestMatcher_Empty(t *testing.T) {
	var m Matcher
	if m.Match("anything", false) {
		t.Error("empty matcher should match nothing")
	}
	if m.Len() != 0 {
		t.Errorf("Len() = %d, want 0", m.Len())
	}
}
