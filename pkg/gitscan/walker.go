// Package gitscan walks the history of a git repository and reports secrets
// found in the lines each commit adds or removes.
//
// A Walker moves through three states. Resolve opens or clones the
// repository, Resolved.Scan walks its commits once, and the resulting
// Scanned holds the findings. Close removes any temporary clone.
package gitscan

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/plumbing/storer"
	"github.com/go-git/go-git/v5/plumbing/transport"
	"github.com/gobwas/glob"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/rootle/internal/logging"
	"github.com/fyrsmithlabs/rootle/internal/metrics"
	"github.com/fyrsmithlabs/rootle/pkg/secrets"
)

const (
	scannerName = "git"
	tracerName  = "github.com/fyrsmithlabs/rootle/pkg/gitscan"

	// DefaultGlob selects every reference.
	DefaultGlob = "*"
)

// CloneFunc clones url into dir as a bare repository.
type CloneFunc func(ctx context.Context, dir string, opts *git.CloneOptions) (*git.Repository, error)

func defaultClone(ctx context.Context, dir string, opts *git.CloneOptions) (*git.Repository, error) {
	return git.PlainCloneContext(ctx, dir, true, opts)
}

// Walker resolves one repository location and scans it once.
type Walker struct {
	engine  *secrets.Engine
	logger  *logging.Logger
	metrics *metrics.Metrics
	clone   CloneFunc
	now     func() time.Time
	tempDir string
	tracer  trace.Tracer

	mu       sync.Mutex
	resolved bool
}

// Option configures a Walker.
type Option func(*Walker)

// WithLogger sets the logger. The default discards everything.
func WithLogger(logger *logging.Logger) Option {
	return func(w *Walker) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// WithMetrics sets the metrics sink. The default registers on the default
// Prometheus registerer.
func WithMetrics(m *metrics.Metrics) Option {
	return func(w *Walker) {
		if m != nil {
			w.metrics = m
		}
	}
}

// WithCloneFunc replaces the function used to clone remote repositories.
func WithCloneFunc(fn CloneFunc) Option {
	return func(w *Walker) {
		if fn != nil {
			w.clone = fn
		}
	}
}

// WithClock sets the clock used for the recent-days window.
func WithClock(now func() time.Time) Option {
	return func(w *Walker) {
		if now != nil {
			w.now = now
		}
	}
}

// WithTempDir sets the parent directory for temporary clones.
func WithTempDir(dir string) Option {
	return func(w *Walker) {
		w.tempDir = dir
	}
}

// WithTracerProvider sets the provider for resolve and scan spans. The
// default is the global provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(w *Walker) {
		if tp != nil {
			w.tracer = tp.Tracer(tracerName)
		}
	}
}

// New creates a Walker that matches diff lines with engine.
func New(engine *secrets.Engine, opts ...Option) *Walker {
	w := &Walker{
		engine: engine,
		logger: logging.NewNop(),
		clone:  defaultClone,
		now:    time.Now,
		tracer: otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.metrics == nil {
		w.metrics = metrics.Default()
	}
	return w
}

// Resolve opens or clones the repository at location. It may be called once.
func (w *Walker) Resolve(ctx context.Context, location string, creds Credentials) (*Resolved, error) {
	w.mu.Lock()
	if w.resolved {
		w.mu.Unlock()
		return nil, ErrAlreadyResolved
	}
	w.resolved = true
	w.mu.Unlock()

	ctx, span := w.tracer.Start(ctx, "gitscan.resolve")
	defer span.End()

	r, err := w.resolve(ctx, location, creds)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.String("repository.scheme", r.location.Scheme.String()))
	return r, nil
}

func (w *Walker) resolve(ctx context.Context, location string, creds Credentials) (*Resolved, error) {
	loc, err := ParseLocation(location)
	if err != nil {
		return nil, err
	}
	w.logger.Debug(ctx, "resolving repository",
		zap.String("location", location),
		zap.Stringer("scheme", loc.Scheme))

	switch loc.Scheme {
	case SchemeLocal:
		repo, err := openLocal(loc.Path)
		if err != nil {
			return nil, err
		}
		return w.newResolved(loc, repo, ""), nil

	case SchemeHTTP:
		auth, err := creds.httpAuth()
		if err != nil {
			return nil, err
		}
		return w.cloneRemote(ctx, loc, auth)

	case SchemeSSH:
		auth, err := creds.sshAuth(loc.User)
		if err != nil {
			return nil, err
		}
		return w.cloneRemote(ctx, loc, auth)

	case SchemeGit:
		// The git protocol carries no authentication.
		return w.cloneRemote(ctx, loc, nil)

	case SchemeRelative:
		if repo, err := openLocal(loc.Path); err == nil {
			return w.newResolved(loc, repo, ""), nil
		}
		w.logger.Debug(ctx, "location is not a local repository, cloning over SSH",
			zap.String("location", location),
			zap.String("user", loc.User))
		auth, err := creds.sshAuth(loc.User)
		if err != nil {
			return nil, err
		}
		return w.cloneRemote(ctx, loc, auth)
	}
	return nil, fmt.Errorf("%w: %s", ErrUnrecognizedScheme, loc.Scheme)
}

func openLocal(path string) (*git.Repository, error) {
	repo, err := git.PlainOpenWithOptions(path, &git.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrNotGitRepo, path, err)
	}
	return repo, nil
}

func (w *Walker) cloneRemote(ctx context.Context, loc Location, auth transport.AuthMethod) (*Resolved, error) {
	dir, err := os.MkdirTemp(w.tempDir, "rootle-clone-*")
	if err != nil {
		return nil, fmt.Errorf("%w: creating clone directory: %v", ErrCloneFailed, err)
	}

	start := time.Now()
	repo, err := w.clone(ctx, dir, &git.CloneOptions{
		URL:  loc.Raw,
		Auth: auth,
		Tags: git.AllTags,
	})
	if err != nil {
		_ = os.RemoveAll(dir)
		return nil, fmt.Errorf("%w: %s: %v", ErrCloneFailed, loc.Raw, err)
	}
	w.logger.Info(ctx, "cloned repository",
		zap.String("location", loc.Raw),
		zap.String("dir", dir),
		zap.Duration("duration", time.Since(start)))
	return w.newResolved(loc, repo, dir), nil
}

func (w *Walker) newResolved(loc Location, repo *git.Repository, cloneDir string) *Resolved {
	return &Resolved{walker: w, location: loc, repo: repo, cloneDir: cloneDir}
}

// ScanOptions bound which commits a scan visits.
type ScanOptions struct {
	// Glob selects references relative to refs/. A glob without
	// wildcards matches everything beneath it. Empty means "*".
	Glob string
	// SinceCommit and UntilCommit are revisions whose committer times
	// bound the scan, inclusive.
	SinceCommit string
	UntilCommit string
	// RecentDays sets the lower bound to now minus this many days.
	// It is ignored when SinceCommit is set.
	RecentDays int
}

// Resolved is an opened repository that has not been scanned yet.
type Resolved struct {
	walker   *Walker
	location Location
	repo     *git.Repository
	cloneDir string

	mu      sync.Mutex
	scanned bool
	closed  bool
}

// Location returns the classified location the repository came from.
func (r *Resolved) Location() Location { return r.location }

// Repository returns the underlying go-git repository.
func (r *Resolved) Repository() *git.Repository { return r.repo }

// CloneDir returns the temporary clone directory, or "" for local repositories.
func (r *Resolved) CloneDir() string { return r.cloneDir }

// Close removes the temporary clone, if any. It is safe to call twice.
func (r *Resolved) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	if r.cloneDir == "" {
		return nil
	}
	return os.RemoveAll(r.cloneDir)
}

// Scanned holds the findings of a completed scan.
type Scanned struct {
	findings       []Finding
	commitsScanned int
	mergesSkipped  int
}

// Findings returns the deduplicated findings, ordered by key.
func (s *Scanned) Findings() []Finding { return s.findings }

// CommitsScanned returns the number of commits diffed.
func (s *Scanned) CommitsScanned() int { return s.commitsScanned }

// MergesSkipped returns the number of merge commits in the window that were not diffed.
func (s *Scanned) MergesSkipped() int { return s.mergesSkipped }

// Scan walks every commit reachable from the references matching
// opts.Glob within the time window, diffs each non-merge commit against its
// parent, and matches every added and removed line. It may be called once.
func (r *Resolved) Scan(ctx context.Context, opts ScanOptions) (*Scanned, error) {
	r.mu.Lock()
	switch {
	case r.closed:
		r.mu.Unlock()
		return nil, ErrNotResolved
	case r.scanned:
		r.mu.Unlock()
		return nil, ErrAlreadyScanned
	}
	r.scanned = true
	r.mu.Unlock()

	w := r.walker
	ctx, span := w.tracer.Start(ctx, "gitscan.scan", trace.WithAttributes(
		attribute.String("scan.id", logging.ScanIDFromContext(ctx)),
		attribute.String("repository.location", r.location.Raw),
	))
	defer span.End()

	start := time.Now()
	out, err := r.scan(ctx, opts)
	w.metrics.ObserveScan(scannerName, time.Since(start).Seconds())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(
		attribute.Int("commits.scanned", out.commitsScanned),
		attribute.Int("findings.count", len(out.findings)),
	)
	w.logger.Info(ctx, "git scan complete",
		zap.Int("commits", out.commitsScanned),
		zap.Int("merges_skipped", out.mergesSkipped),
		zap.Int("findings", len(out.findings)),
		zap.Duration("duration", time.Since(start)))
	return out, nil
}

func (r *Resolved) scan(ctx context.Context, opts ScanOptions) (*Scanned, error) {
	w := r.walker
	window, err := r.window(opts)
	if err != nil {
		return nil, err
	}

	commits, err := r.commits(ctx, opts.Glob)
	if err != nil {
		return nil, err
	}

	set := secrets.NewFindingSet[Finding]()
	out := &Scanned{}
	for _, c := range commits {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("git scan interrupted: %w", err)
		}
		if !window.contains(c.Committer.When) {
			continue
		}
		if c.NumParents() > 1 {
			out.mergesSkipped++
			w.metrics.MergeCommitsSkippedTotal.Inc()
			w.logger.Trace(ctx, "skipping merge commit", zap.Stringer("commit", c.Hash))
			continue
		}
		if err := r.scanCommit(ctx, c, set); err != nil {
			w.logger.Error(ctx, "failed to diff commit, skipping",
				zap.Stringer("commit", c.Hash),
				zap.Error(err))
			continue
		}
		out.commitsScanned++
		w.metrics.CommitsScannedTotal.Inc()
	}
	out.findings = set.Sorted()
	return out, nil
}

func (r *Resolved) scanCommit(ctx context.Context, c *object.Commit, set *secrets.FindingSet[Finding]) error {
	w := r.walker

	from := &object.Tree{}
	parentHash := NoParent
	if c.NumParents() == 1 {
		parent, err := c.Parent(0)
		if err != nil {
			return fmt.Errorf("loading parent: %w", err)
		}
		if from, err = parent.Tree(); err != nil {
			return fmt.Errorf("loading parent tree: %w", err)
		}
		parentHash = parent.Hash.String()
	}
	to, err := c.Tree()
	if err != nil {
		return fmt.Errorf("loading tree: %w", err)
	}

	hash := c.Hash.String()
	date := c.Committer.When.UTC().Format(dateLayout)
	lines := 0
	for line, err := range DiffLines(from, to) {
		if err != nil {
			return err
		}
		if !line.Origin.IsContent() {
			continue
		}
		lines++
		for _, f := range w.engine.MatchesFiltered(line.Content).Findings() {
			if w.engine.IsPathAllowlisted(f.Reason, []byte(line.Path)) {
				w.metrics.RecordPathAllowlisted(f.Reason)
				w.logger.Trace(ctx, "finding suppressed by path allowlist",
					zap.String("reason", f.Reason),
					zap.String("path", line.Path))
				continue
			}
			added := set.Add(Finding{
				Commit:           c.Message,
				CommitHash:       hash,
				Date:             date,
				Diff:             secrets.DecodeASCII(line.Content),
				StringsFound:     f.StringsFound,
				Path:             line.Path,
				Reason:           f.Reason,
				OldFileID:        line.OldFileID.String(),
				NewFileID:        line.NewFileID.String(),
				OldLineNum:       line.OldLineNo,
				NewLineNum:       line.NewLineNo,
				ParentCommitHash: parentHash,
			})
			if added {
				w.metrics.RecordFinding(scannerName, f.Reason)
			}
		}
	}
	w.metrics.RecordLines(scannerName, lines)
	return nil
}

// window is an inclusive committer-time range; zero bounds are open.
type window struct {
	since time.Time
	until time.Time
}

func (w window) contains(t time.Time) bool {
	if !w.since.IsZero() && t.Before(w.since) {
		return false
	}
	if !w.until.IsZero() && t.After(w.until) {
		return false
	}
	return true
}

func (r *Resolved) window(opts ScanOptions) (window, error) {
	var win window
	if opts.SinceCommit != "" {
		t, err := r.commitTime(opts.SinceCommit)
		if err != nil {
			return window{}, err
		}
		win.since = t
	} else if opts.RecentDays > 0 {
		win.since = r.walker.now().Add(-time.Duration(opts.RecentDays) * 24 * time.Hour)
	}
	if opts.UntilCommit != "" {
		t, err := r.commitTime(opts.UntilCommit)
		if err != nil {
			return window{}, err
		}
		win.until = t
	}
	return win, nil
}

func (r *Resolved) commitTime(rev string) (time.Time, error) {
	hash, err := r.repo.ResolveRevision(plumbing.Revision(rev))
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %s: %v", ErrRevisionNotFound, rev, err)
	}
	c, err := r.repo.CommitObject(*hash)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %s: %v", ErrRevisionNotFound, rev, err)
	}
	return c.Committer.When, nil
}

// refGlob expands a user glob into a pattern over full reference names.
func refGlob(pattern string) string {
	if pattern == "" {
		pattern = DefaultGlob
	}
	if !strings.HasPrefix(pattern, "refs/") {
		pattern = "refs/" + pattern
	}
	if !strings.ContainsAny(pattern, "?*[") {
		pattern = strings.TrimSuffix(pattern, "/") + "/*"
	}
	return pattern
}

// commits returns every commit reachable from the matching references,
// newest first by committer time.
func (r *Resolved) commits(ctx context.Context, pattern string) ([]*object.Commit, error) {
	expanded := refGlob(pattern)
	g, err := glob.Compile(expanded)
	if err != nil {
		return nil, fmt.Errorf("compiling reference glob %q: %w", pattern, err)
	}

	refs, err := r.repo.References()
	if err != nil {
		return nil, fmt.Errorf("listing references: %w", err)
	}
	var tips []*object.Commit
	err = refs.ForEach(func(ref *plumbing.Reference) error {
		if ref.Type() != plumbing.HashReference || !g.Match(ref.Name().String()) {
			return nil
		}
		c, err := r.peel(ref.Hash())
		if err != nil {
			r.walker.logger.Debug(ctx, "reference does not point at a commit, skipping",
				zap.String("ref", ref.Name().String()),
				zap.Error(err))
			return nil
		}
		tips = append(tips, c)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("listing references: %w", err)
	}
	r.walker.logger.Debug(ctx, "selected references",
		zap.String("glob", expanded),
		zap.Int("count", len(tips)))

	seen := make(map[plumbing.Hash]bool)
	var out []*object.Commit
	for _, tip := range tips {
		if seen[tip.Hash] {
			continue
		}
		iter := object.NewCommitPreorderIter(tip, seen, nil)
		err := iter.ForEach(func(c *object.Commit) error {
			seen[c.Hash] = true
			out = append(out, c)
			return nil
		})
		iter.Close()
		if err != nil && !errors.Is(err, storer.ErrStop) {
			return nil, fmt.Errorf("walking history: %w", err)
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		ti, tj := out[i].Committer.When, out[j].Committer.When
		if !ti.Equal(tj) {
			return ti.After(tj)
		}
		return out[i].Hash.String() < out[j].Hash.String()
	})
	return out, nil
}

// peel resolves a reference target to a commit, following annotated tags.
func (r *Resolved) peel(hash plumbing.Hash) (*object.Commit, error) {
	if c, err := r.repo.CommitObject(hash); err == nil {
		return c, nil
	}
	tag, err := r.repo.TagObject(hash)
	if err != nil {
		return nil, err
	}
	return tag.Commit()
}
