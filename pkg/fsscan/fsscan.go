// Package fsscan scans files on disk line by line for secrets.
package fsscan

import (
	"bytes"
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/fyrsmithlabs/rootle/internal/ignore"
	"github.com/fyrsmithlabs/rootle/internal/logging"
	"github.com/fyrsmithlabs/rootle/internal/metrics"
	"github.com/fyrsmithlabs/rootle/pkg/secrets"
)

const (
	scannerName = "fs"
	tracerName  = "github.com/fyrsmithlabs/rootle/pkg/fsscan"
)

// Finding is one reason matched on one line of one file.
type Finding struct {
	StringsFound []string `json:"stringsFound"`
	Path         string   `json:"path"`
	Reason       string   `json:"reason"`
	LineNum      int      `json:"linenum"`
	Diff         string   `json:"diff"`
}

// Key identifies a finding by every field.
func (f Finding) Key() string {
	return strings.Join(append([]string{f.Path, strconv.Itoa(f.LineNum), f.Reason, f.Diff}, f.StringsFound...), "\x00")
}

// ScanOptions select which files a scan reads.
type ScanOptions struct {
	// NoRecursive limits the scan to the files directly inside the root.
	NoRecursive bool
	// Exclude holds doublestar patterns matched against slash-separated
	// paths relative to the root.
	Exclude []string
	// SkipPaths are never read, typically the output file.
	SkipPaths []string
	// NoIgnoreFiles disables .gitignore and .rootleignore handling.
	NoIgnoreFiles bool
}

// Scanner matches the lines of files against an engine.
type Scanner struct {
	engine  *secrets.Engine
	logger  *logging.Logger
	metrics *metrics.Metrics
	workers int
	ignore  *ignore.Parser
	tracer  trace.Tracer
}

// Option configures a Scanner.
type Option func(*Scanner)

// WithLogger sets the logger. The default discards everything.
func WithLogger(logger *logging.Logger) Option {
	return func(s *Scanner) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMetrics sets the metrics sink. The default registers on the default
// Prometheus registerer.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Scanner) {
		if m != nil {
			s.metrics = m
		}
	}
}

// WithWorkers sets how many files are read concurrently. Values below one
// mean GOMAXPROCS.
func WithWorkers(n int) Option {
	return func(s *Scanner) {
		s.workers = n
	}
}

// WithIgnoreFiles replaces the ignore file names read in each directory.
func WithIgnoreFiles(names ...string) Option {
	return func(s *Scanner) {
		s.ignore = ignore.NewParser(names...)
	}
}

// WithTracerProvider sets the provider for scan spans. The default is the
// global provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(s *Scanner) {
		if tp != nil {
			s.tracer = tp.Tracer(tracerName)
		}
	}
}

// New creates a Scanner that matches lines with engine.
func New(engine *secrets.Engine, opts ...Option) *Scanner {
	s := &Scanner{
		engine: engine,
		logger: logging.NewNop(),
		ignore: ignore.NewParser(),
		tracer: otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.workers < 1 {
		s.workers = runtime.GOMAXPROCS(0)
	}
	if s.metrics == nil {
		s.metrics = metrics.Default()
	}
	return s
}

// Result holds the findings of a completed scan.
type Result struct {
	findings []Finding
	files    int
}

// Findings returns the deduplicated findings, ordered by key.
func (r *Result) Findings() []Finding { return r.findings }

// FilesScanned returns the number of files read.
func (r *Result) FilesScanned() int { return r.files }

// Scan reads every selected file under root, which may also be a single
// file, and matches each line. Unreadable files are logged and skipped.
func (s *Scanner) Scan(ctx context.Context, root string, opts ScanOptions) (*Result, error) {
	ctx, span := s.tracer.Start(ctx, "fsscan.scan", trace.WithAttributes(
		attribute.String("scan.id", logging.ScanIDFromContext(ctx)),
		attribute.String("scan.root", root),
	))
	defer span.End()

	start := time.Now()
	res, err := s.scan(ctx, root, opts)
	s.metrics.ObserveScan(scannerName, time.Since(start).Seconds())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(
		attribute.Int("files.scanned", res.files),
		attribute.Int("findings.count", len(res.findings)),
	)
	s.logger.Info(ctx, "filesystem scan complete",
		zap.Int("files", res.files),
		zap.Int("findings", len(res.findings)),
		zap.Duration("duration", time.Since(start)))
	return res, nil
}

func (s *Scanner) scan(ctx context.Context, root string, opts ScanOptions) (*Result, error) {
	for _, pattern := range opts.Exclude {
		if !doublestar.ValidatePattern(pattern) {
			return nil, fmt.Errorf("invalid exclude pattern %q", pattern)
		}
	}

	files, err := s.collect(ctx, root, opts)
	if err != nil {
		return nil, err
	}
	s.logger.Debug(ctx, "collected files",
		zap.String("root", root),
		zap.Int("count", len(files)),
		zap.Int("workers", s.workers))

	sets := make([]*secrets.FindingSet[Finding], s.workers)
	read := make([]int, s.workers)
	g, gctx := errgroup.WithContext(ctx)
	for w := range s.workers {
		sets[w] = secrets.NewFindingSet[Finding]()
		g.Go(func() error {
			for i := w; i < len(files); i += s.workers {
				if err := gctx.Err(); err != nil {
					return err
				}
				if s.scanFile(gctx, files[i], sets[w]) {
					read[w]++
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("filesystem scan interrupted: %w", err)
	}

	merged := secrets.NewFindingSet[Finding]()
	res := &Result{}
	for w := range s.workers {
		merged.Merge(sets[w])
		res.files += read[w]
	}
	res.findings = merged.Sorted()
	return res, nil
}

// collect walks root and returns the files to read in walk order.
func (s *Scanner) collect(ctx context.Context, root string, opts ScanOptions) ([]string, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("scanning %s: %w", root, err)
	}
	if !info.IsDir() {
		return []string{root}, nil
	}

	skip := make(map[string]bool, len(opts.SkipPaths))
	for _, p := range opts.SkipPaths {
		if abs, err := filepath.Abs(p); err == nil {
			skip[abs] = true
		}
	}

	var matcher ignore.Matcher
	var files []string
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if walkErr != nil {
			s.logger.Warn(ctx, "failed to read path, skipping", zap.String("path", path), zap.Error(walkErr))
			if d != nil && d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)

		if d.IsDir() {
			if rel == "." {
				s.loadIgnoreFiles(ctx, &matcher, path, nil, opts)
				return nil
			}
			if opts.NoRecursive || d.Name() == ".git" || s.excluded(rel, true, &matcher, opts) {
				return fs.SkipDir
			}
			s.loadIgnoreFiles(ctx, &matcher, path, strings.Split(rel, "/"), opts)
			return nil
		}

		if !d.Type().IsRegular() || s.excluded(rel, false, &matcher, opts) {
			return nil
		}
		if abs, err := filepath.Abs(path); err == nil && skip[abs] {
			s.logger.Debug(ctx, "skipping output file", zap.String("path", path))
			return nil
		}
		files = append(files, path)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walking %s: %w", root, err)
	}
	return files, nil
}

func (s *Scanner) loadIgnoreFiles(ctx context.Context, m *ignore.Matcher, dir string, domain []string, opts ScanOptions) {
	if opts.NoIgnoreFiles {
		return
	}
	patterns, err := s.ignore.ParseDir(dir, domain)
	if err != nil {
		s.logger.Warn(ctx, "failed to read ignore file", zap.String("dir", dir), zap.Error(err))
		return
	}
	m.Add(patterns...)
}

func (s *Scanner) excluded(rel string, isDir bool, m *ignore.Matcher, opts ScanOptions) bool {
	for _, pattern := range opts.Exclude {
		if ok, _ := doublestar.Match(pattern, rel); ok {
			return true
		}
	}
	return m.Match(rel, isDir)
}

// scanFile matches every line of path into set. It reports whether the
// file was read.
func (s *Scanner) scanFile(ctx context.Context, path string, set *secrets.FindingSet[Finding]) bool {
	data, err := os.ReadFile(path)
	if err != nil {
		s.logger.Warn(ctx, "failed to read file, skipping", zap.String("path", path), zap.Error(err))
		return false
	}
	s.metrics.FilesScannedTotal.Inc()

	lines := bytes.Split(data, []byte("\n"))
	s.metrics.RecordLines(scannerName, len(lines))
	for i, line := range lines {
		for _, f := range s.engine.MatchesFiltered(line).Findings() {
			if s.engine.IsPathAllowlisted(f.Reason, []byte(path)) {
				s.metrics.RecordPathAllowlisted(f.Reason)
				s.logger.Trace(ctx, "finding suppressed by path allowlist",
					zap.String("reason", f.Reason),
					zap.String("path", path))
				continue
			}
			added := set.Add(Finding{
				StringsFound: f.StringsFound,
				Path:         path,
				Reason:       f.Reason,
				LineNum:      i + 1,
				Diff:         secrets.DecodeASCII(line),
			})
			if added {
				s.metrics.RecordFinding(scannerName, f.Reason)
			}
		}
	}
	return true
}
