package gitscan

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/transport/http"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/fyrsmithlabs/rootle/internal/logging"
	"github.com/fyrsmithlabs/rootle/internal/metrics"
	"github.com/fyrsmithlabs/rootle/internal/telemetry"
	"github.com/fyrsmithlabs/rootle/pkg/secrets"
)

func scanDir(t *testing.T, dir string, opts ScanOptions, walkerOpts ...Option) *Scanned {
	t.Helper()
	w, _ := newTestWalker(t, walkerOpts...)
	r, err := w.Resolve(context.Background(), dir, Credentials{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.Close() })
	s, err := r.Scan(context.Background(), opts)
	require.NoError(t, err)
	return s
}

func TestScan_AddedAndRemovedSecrets(t *testing.T) {
	f := newFixture(t)
	est := time.FixedZone("EST", -5*60*60)
	f.write("config.txt", "name = demo\naws = "+key1+"\n")
	c1 := f.commit("add config", time.Date(2024, 3, 1, 12, 0, 0, 0, est))
	f.write("config.txt", "name = demo\n")
	c2 := f.commit("drop key", time.Date(2024, 3, 2, 12, 0, 0, 0, est))

	s := scanDir(t, f.dir, ScanOptions{})
	require.Len(t, s.Findings(), 2)
	assert.Equal(t, 2, s.CommitsScanned())

	byCommit := map[string]Finding{}
	for _, fd := range s.Findings() {
		byCommit[fd.CommitHash] = fd
	}

	added := byCommit[c1.String()]
	assert.Equal(t, "add config", added.Commit)
	assert.Equal(t, "2024-03-01 17:00:00", added.Date)
	assert.Equal(t, "aws = "+key1, added.Diff)
	assert.Equal(t, []string{key1}, added.StringsFound)
	assert.Equal(t, "config.txt", added.Path)
	assert.Equal(t, awsReason, added.Reason)
	assert.Equal(t, 2, added.NewLineNum)
	assert.Zero(t, added.OldLineNum)
	assert.Equal(t, NoParent, added.ParentCommitHash)
	assert.Equal(t, "0000000000000000000000000000000000000000", added.OldFileID)
	assert.Equal(t, f.blob(c1, "config.txt").String(), added.NewFileID)

	removed := byCommit[c2.String()]
	assert.Equal(t, 2, removed.OldLineNum)
	assert.Zero(t, removed.NewLineNum)
	assert.Equal(t, c1.String(), removed.ParentCommitHash)
	assert.Equal(t, f.blob(c1, "config.txt").String(), removed.OldFileID)
	assert.Equal(t, f.blob(c2, "config.txt").String(), removed.NewFileID)
}

func TestScan_SkipsMergeCommits(t *testing.T) {
	f := newFixture(t)
	f.write("README.md", "hello\n")
	c1 := f.commit("init", baseTime)
	f.write("a.txt", "clean\n")
	c2 := f.commit("work", baseTime.Add(time.Hour))
	f.write("secret.txt", "key = "+key1+"\n")
	f.commit("merge", baseTime.Add(2*time.Hour), c2, c1)

	w, m := newTestWalker(t)
	r, err := w.Resolve(context.Background(), f.dir, Credentials{})
	require.NoError(t, err)
	s, err := r.Scan(context.Background(), ScanOptions{})
	require.NoError(t, err)

	assert.Empty(t, s.Findings())
	assert.Equal(t, 2, s.CommitsScanned())
	assert.Equal(t, 1, s.MergesSkipped())
	assert.Equal(t, float64(1), testutil.ToFloat64(m.MergeCommitsSkippedTotal))
	assert.Equal(t, float64(2), testutil.ToFloat64(m.CommitsScannedTotal))
}

func TestScan_TimeWindow(t *testing.T) {
	f := newFixture(t)
	f.write("k1.txt", key1+"\n")
	c1 := f.commit("one", baseTime)
	f.write("k2.txt", key2+"\n")
	c2 := f.commit("two", baseTime.Add(24*time.Hour))
	f.write("k3.txt", key3+"\n")
	f.commit("three", baseTime.Add(48*time.Hour))

	clock := func() time.Time { return baseTime.Add(49 * time.Hour) }

	tests := []struct {
		name string
		opts ScanOptions
		want []string
	}{
		{name: "everything", opts: ScanOptions{}, want: []string{"k1.txt", "k2.txt", "k3.txt"}},
		{name: "since inclusive", opts: ScanOptions{SinceCommit: c2.String()}, want: []string{"k2.txt", "k3.txt"}},
		{name: "until inclusive", opts: ScanOptions{UntilCommit: c2.String()}, want: []string{"k1.txt", "k2.txt"}},
		{name: "single commit", opts: ScanOptions{SinceCommit: c2.String(), UntilCommit: c2.String()}, want: []string{"k2.txt"}},
		{name: "recent days", opts: ScanOptions{RecentDays: 1}, want: []string{"k3.txt"}},
		{name: "since overrides recent days", opts: ScanOptions{SinceCommit: c1.String(), RecentDays: 1}, want: []string{"k1.txt", "k2.txt", "k3.txt"}},
		{name: "revision syntax", opts: ScanOptions{SinceCommit: "HEAD~1"}, want: []string{"k2.txt", "k3.txt"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := scanDir(t, f.dir, tt.opts, WithClock(clock))
			assert.ElementsMatch(t, tt.want, paths(s.Findings()))
		})
	}
}

func TestScan_RevisionNotFound(t *testing.T) {
	f := newFixture(t)
	f.write("a.txt", "a\n")
	f.commit("init", baseTime)

	for _, opts := range []ScanOptions{
		{SinceCommit: "deadbeefdeadbeefdeadbeefdeadbeefdeadbeef"},
		{UntilCommit: "no-such-branch"},
	} {
		w, _ := newTestWalker(t)
		r, err := w.Resolve(context.Background(), f.dir, Credentials{})
		require.NoError(t, err)
		_, err = r.Scan(context.Background(), opts)
		assert.ErrorIs(t, err, ErrRevisionNotFound)
	}
}

func TestScan_Glob(t *testing.T) {
	f := newFixture(t)
	f.write("k1.txt", key1+"\n")
	c1 := f.commit("one", baseTime)
	f.branch("feature", c1)
	f.write("k2.txt", key2+"\n")
	f.commit("two", baseTime.Add(time.Hour))

	tests := []struct {
		glob string
		want []string
	}{
		{glob: "", want: []string{"k1.txt", "k2.txt"}},
		{glob: "heads/feat*", want: []string{"k1.txt"}},
		{glob: "refs/heads/master*", want: []string{"k1.txt", "k2.txt"}},
		{glob: "heads", want: []string{"k1.txt", "k2.txt"}},
		{glob: "heads/feature", want: []string{}},
		{glob: "tags/*", want: []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.glob, func(t *testing.T) {
			s := scanDir(t, f.dir, ScanOptions{Glob: tt.glob})
			assert.ElementsMatch(t, tt.want, paths(s.Findings()))
		})
	}
}

func TestRefGlob(t *testing.T) {
	assert.Equal(t, "refs/*", refGlob(""))
	assert.Equal(t, "refs/heads/*", refGlob("heads"))
	assert.Equal(t, "refs/heads/*", refGlob("heads/"))
	assert.Equal(t, "refs/heads/feat*", refGlob("heads/feat*"))
	assert.Equal(t, "refs/tags/v?", refGlob("refs/tags/v?"))
}

func TestScan_PathAllowlist(t *testing.T) {
	f := newFixture(t)
	f.write("fixtures/creds.txt", key1+"\n")
	f.write("src/creds.txt", key2+"\n")
	f.commit("init", baseTime)

	allow, err := secrets.ParseAllowList([]byte(`{"AWS key": {"patterns": [], "paths": ["^fixtures/"]}}`), nil)
	require.NoError(t, err)
	m := metrics.New(prometheus.NewRegistry())
	w := New(testEngine(t, allow), WithMetrics(m))

	r, err := w.Resolve(context.Background(), f.dir, Credentials{})
	require.NoError(t, err)
	s, err := r.Scan(context.Background(), ScanOptions{})
	require.NoError(t, err)

	assert.Equal(t, []string{"src/creds.txt"}, paths(s.Findings()))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.PathAllowlistedTotal.WithLabelValues(awsReason)))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.FindingsTotal.WithLabelValues(scannerName, awsReason)))
}

func TestScan_DeduplicatesIdenticalLines(t *testing.T) {
	f := newFixture(t)
	f.write("a.txt", key1+"\n"+key1+"\n")
	f.commit("init", baseTime)

	s := scanDir(t, f.dir, ScanOptions{})

	// Same content on different lines is two findings.
	assert.Len(t, s.Findings(), 2)
}

func TestScan_States(t *testing.T) {
	f := newFixture(t)
	f.write("a.txt", "a\n")
	f.commit("init", baseTime)

	t.Run("resolve twice", func(t *testing.T) {
		w, _ := newTestWalker(t)
		_, err := w.Resolve(context.Background(), f.dir, Credentials{})
		require.NoError(t, err)
		_, err = w.Resolve(context.Background(), f.dir, Credentials{})
		assert.ErrorIs(t, err, ErrAlreadyResolved)
	})

	t.Run("scan twice", func(t *testing.T) {
		w, _ := newTestWalker(t)
		r, err := w.Resolve(context.Background(), f.dir, Credentials{})
		require.NoError(t, err)
		_, err = r.Scan(context.Background(), ScanOptions{})
		require.NoError(t, err)
		_, err = r.Scan(context.Background(), ScanOptions{})
		assert.ErrorIs(t, err, ErrAlreadyScanned)
	})

	t.Run("scan after close", func(t *testing.T) {
		w, _ := newTestWalker(t)
		r, err := w.Resolve(context.Background(), f.dir, Credentials{})
		require.NoError(t, err)
		require.NoError(t, r.Close())
		require.NoError(t, r.Close())
		_, err = r.Scan(context.Background(), ScanOptions{})
		assert.ErrorIs(t, err, ErrNotResolved)
	})
}

func TestScan_Cancelled(t *testing.T) {
	f := newFixture(t)
	f.write("a.txt", key1+"\n")
	f.commit("init", baseTime)

	w, _ := newTestWalker(t)
	r, err := w.Resolve(context.Background(), f.dir, Credentials{})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = r.Scan(ctx, ScanOptions{})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestResolve_Local(t *testing.T) {
	f := newFixture(t)
	f.write("a.txt", "a\n")
	f.commit("init", baseTime)

	t.Run("subdirectory", func(t *testing.T) {
		w, _ := newTestWalker(t)
		sub := filepath.Join(f.dir, "nested")
		require.NoError(t, os.MkdirAll(sub, 0o755))
		r, err := w.Resolve(context.Background(), sub, Credentials{})
		require.NoError(t, err)
		assert.Equal(t, SchemeLocal, r.Location().Scheme)
		assert.Empty(t, r.CloneDir())
	})

	t.Run("file url", func(t *testing.T) {
		w, _ := newTestWalker(t)
		r, err := w.Resolve(context.Background(), "file://"+f.dir, Credentials{})
		require.NoError(t, err)
		assert.Equal(t, SchemeLocal, r.Location().Scheme)
	})

	t.Run("not a repository", func(t *testing.T) {
		w, _ := newTestWalker(t)
		_, err := w.Resolve(context.Background(), t.TempDir(), Credentials{})
		assert.ErrorIs(t, err, ErrNotGitRepo)
	})
}

func TestResolve_RelativeOpensLocally(t *testing.T) {
	f := newFixtureAt(t, filepath.Join(t.TempDir(), "dev@host"))
	f.write("a.txt", key1+"\n")
	f.commit("init", baseTime)

	cloned := false
	w, _ := newTestWalker(t, WithCloneFunc(func(context.Context, string, *git.CloneOptions) (*git.Repository, error) {
		cloned = true
		return nil, errors.New("unexpected clone")
	}))

	r, err := w.Resolve(context.Background(), f.dir, Credentials{})
	require.NoError(t, err)
	assert.Equal(t, SchemeRelative, r.Location().Scheme)
	assert.False(t, cloned)
}

func TestResolve_RelativeFallsBackToSSH(t *testing.T) {
	t.Setenv("SSH_AUTH_SOCK", "")
	w, _ := newTestWalker(t)

	_, err := w.Resolve(context.Background(), "git@localhost:org/app.git", Credentials{})
	assert.ErrorIs(t, err, ErrMissingCredentials)
}

func TestResolve_HTTPS(t *testing.T) {
	t.Run("missing credentials", func(t *testing.T) {
		called := false
		w, _ := newTestWalker(t, WithCloneFunc(func(context.Context, string, *git.CloneOptions) (*git.Repository, error) {
			called = true
			return nil, nil
		}))
		_, err := w.Resolve(context.Background(), "https://github.com/org/app.git", Credentials{HTTPSUser: "octo"})
		assert.ErrorIs(t, err, ErrMissingCredentials)
		assert.False(t, called)
	})

	t.Run("clones with basic auth", func(t *testing.T) {
		var got *git.CloneOptions
		var cloneDir string
		w, _ := newTestWalker(t,
			WithTempDir(t.TempDir()),
			WithCloneFunc(func(_ context.Context, dir string, opts *git.CloneOptions) (*git.Repository, error) {
				got, cloneDir = opts, dir
				return git.PlainInit(dir, true)
			}))

		r, err := w.Resolve(context.Background(), "https://github.com/org/app.git",
			Credentials{HTTPSUser: "octo", HTTPSPass: "pat"})
		require.NoError(t, err)

		require.NotNil(t, got)
		assert.Equal(t, "https://github.com/org/app.git", got.URL)
		assert.Equal(t, &http.BasicAuth{Username: "octo", Password: "pat"}, got.Auth)
		assert.Equal(t, cloneDir, r.CloneDir())
		assert.DirExists(t, cloneDir)

		s, err := r.Scan(context.Background(), ScanOptions{})
		require.NoError(t, err)
		assert.Empty(t, s.Findings())

		require.NoError(t, r.Close())
		assert.NoDirExists(t, cloneDir)
	})

	t.Run("clone failure removes directory", func(t *testing.T) {
		parent := t.TempDir()
		w, _ := newTestWalker(t,
			WithTempDir(parent),
			WithCloneFunc(func(context.Context, string, *git.CloneOptions) (*git.Repository, error) {
				return nil, errors.New("authentication required")
			}))

		_, err := w.Resolve(context.Background(), "https://github.com/org/app.git",
			Credentials{HTTPSUser: "octo", HTTPSPass: "pat"})
		assert.ErrorIs(t, err, ErrCloneFailed)

		entries, err := os.ReadDir(parent)
		require.NoError(t, err)
		assert.Empty(t, entries)
	})
}

func TestResolve_GitProtocolIsAnonymous(t *testing.T) {
	var got *git.CloneOptions
	w, _ := newTestWalker(t,
		WithTempDir(t.TempDir()),
		WithCloneFunc(func(_ context.Context, dir string, opts *git.CloneOptions) (*git.Repository, error) {
			got = opts
			return git.PlainInit(dir, true)
		}))

	r, err := w.Resolve(context.Background(), "git://git.corp.io/org/app.git", Credentials{})
	require.NoError(t, err)
	defer r.Close()

	require.NotNil(t, got)
	assert.Nil(t, got.Auth)
}

func TestResolve_UnrecognizedScheme(t *testing.T) {
	w, _ := newTestWalker(t)
	_, err := w.Resolve(context.Background(), "svn://svn.corp.io/app", Credentials{})
	assert.ErrorIs(t, err, ErrUnrecognizedScheme)
}

func TestScan_LogsSummary(t *testing.T) {
	f := newFixture(t)
	f.write("a.txt", key1+"\n")
	f.commit("init", baseTime)

	logger := logging.NewTestLogger()
	s := scanDir(t, f.dir, ScanOptions{}, WithLogger(logger.Logger))

	require.Len(t, s.Findings(), 1)
	logger.AssertLogged(t, zapcore.InfoLevel, "git scan complete")
}

func TestScan_Spans(t *testing.T) {
	f := newFixture(t)
	f.write("a.txt", key1+"\n")
	f.commit("init", baseTime)

	tel := telemetry.NewTestTelemetry()
	w, _ := newTestWalker(t, WithTracerProvider(tel.TracerProvider()))

	ctx := logging.WithScanID(context.Background(), "0b5c1e2e-7f4e-4d2c-9d55-0d7c3f3b8a10")
	r, err := w.Resolve(ctx, f.dir, Credentials{})
	require.NoError(t, err)
	_, err = r.Scan(ctx, ScanOptions{})
	require.NoError(t, err)

	tel.AssertSpanAttribute(t, "gitscan.resolve", "repository.scheme", "local")
	tel.AssertSpanAttribute(t, "gitscan.scan", "scan.id", "0b5c1e2e-7f4e-4d2c-9d55-0d7c3f3b8a10")
	tel.AssertSpanAttribute(t, "gitscan.scan", "findings.count", int64(1))
	tel.AssertSpanAttribute(t, "gitscan.scan", "commits.scanned", int64(1))
}
