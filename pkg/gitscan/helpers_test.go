package gitscan

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/rootle/internal/logging"
	"github.com/fyrsmithlabs/rootle/internal/metrics"
	"github.com/fyrsmithlabs/rootle/pkg/secrets"
)

const (
	awsReason = "AWS key"
	key1      = "AKIA2E0A8F3B244C9981"
	key2      = "AKIA2E0A8F3B244C9982"
	key3      = "AKIA2E0A8F3B244C9983"
)

var baseTime = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

// fixture is a throwaway repository with a working tree.
type fixture struct {
	t    *testing.T
	dir  string
	repo *git.Repository
	wt   *git.Worktree
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	return newFixtureAt(t, t.TempDir())
}

func newFixtureAt(t *testing.T, dir string) *fixture {
	t.Helper()
	repo, err := git.PlainInit(dir, false)
	require.NoError(t, err)
	wt, err := repo.Worktree()
	require.NoError(t, err)
	return &fixture{t: t, dir: dir, repo: repo, wt: wt}
}

func (f *fixture) write(name, content string) {
	f.t.Helper()
	path := filepath.Join(f.dir, name)
	require.NoError(f.t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(f.t, os.WriteFile(path, []byte(content), 0o644))
	_, err := f.wt.Add(name)
	require.NoError(f.t, err)
}

func (f *fixture) remove(name string) {
	f.t.Helper()
	_, err := f.wt.Remove(name)
	require.NoError(f.t, err)
}

func (f *fixture) commit(msg string, when time.Time, parents ...plumbing.Hash) plumbing.Hash {
	f.t.Helper()
	sig := &object.Signature{Name: "Test User", Email: "test@corp.io", When: when}
	hash, err := f.wt.Commit(msg, &git.CommitOptions{
		Author:            sig,
		Committer:         sig,
		Parents:           parents,
		AllowEmptyCommits: true,
	})
	require.NoError(f.t, err)
	return hash
}

func (f *fixture) branch(name string, hash plumbing.Hash) {
	f.t.Helper()
	ref := plumbing.NewHashReference(plumbing.NewBranchReferenceName(name), hash)
	require.NoError(f.t, f.repo.Storer.SetReference(ref))
}

func (f *fixture) tree(hash plumbing.Hash) *object.Tree {
	f.t.Helper()
	c, err := f.repo.CommitObject(hash)
	require.NoError(f.t, err)
	tree, err := c.Tree()
	require.NoError(f.t, err)
	return tree
}

func (f *fixture) blob(commit plumbing.Hash, path string) plumbing.Hash {
	f.t.Helper()
	entry, err := f.tree(commit).FindEntry(path)
	require.NoError(f.t, err)
	return entry.Hash
}

func testEngine(t *testing.T, allow *secrets.AllowList) *secrets.Engine {
	t.Helper()
	rules, err := secrets.ParseRuleSet([]byte(`{"AWS key": "AKIA[0-9A-Z]{16}"}`), secrets.RuleOptions{}, nil)
	require.NoError(t, err)
	if allow == nil {
		allow = secrets.EmptyAllowList()
	}
	return secrets.NewEngine(rules, allow)
}

func newTestWalker(t *testing.T, opts ...Option) (*Walker, *metrics.Metrics) {
	t.Helper()
	m := metrics.New(prometheus.NewRegistry())
	opts = append([]Option{WithMetrics(m), WithLogger(logging.NewNop())}, opts...)
	return New(testEngine(t, nil), opts...), m
}

func paths(findings []Finding) []string {
	out := make([]string, 0, len(findings))
	for _, f := range findings {
		out = append(out, f.Path)
	}
	return out
}
