package main

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/rootle/internal/config"
	"github.com/fyrsmithlabs/rootle/internal/logging"
	"github.com/fyrsmithlabs/rootle/internal/metrics"
	"github.com/fyrsmithlabs/rootle/internal/report"
	"github.com/fyrsmithlabs/rootle/internal/telemetry"
	"github.com/fyrsmithlabs/rootle/pkg/secrets"
)

// app carries what every scan command needs for one run.
type app struct {
	cfg       *config.Config
	logger    *logging.Logger
	telemetry *telemetry.Telemetry
	registry  *prometheus.Registry
	metrics   *metrics.Metrics
	started   time.Time
}

func newApp(cmd *cobra.Command, o *options) (*app, error) {
	ctx := cmd.Context()

	cfg, err := config.Load(o.configPath)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	o.apply(cmd, cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	tel, err := telemetry.New(ctx, telemetry.FromAppConfig(cfg.Telemetry, version))
	if err != nil {
		return nil, err
	}

	logger, err := newLogger(cfg, o.verbose, tel)
	if err != nil {
		_ = tel.Shutdown(ctx)
		return nil, err
	}
	for _, p := range tel.Health().Problems {
		logger.Warn(ctx, "telemetry degraded", zap.Error(p))
	}

	reg := prometheus.NewRegistry()
	return &app{
		cfg:       cfg,
		logger:    logger,
		telemetry: tel,
		registry:  reg,
		metrics:   metrics.New(reg),
		started:   time.Now(),
	}, nil
}

func newLogger(cfg *config.Config, verbose int, tel *telemetry.Telemetry) (*logging.Logger, error) {
	lc := logging.NewDefaultConfig()
	lc.Level = logging.VerbosityLevel(verbose)
	if cfg.Log.Level != "" {
		level, err := logging.LevelFromString(cfg.Log.Level)
		if err != nil {
			return nil, fmt.Errorf("%w: log level %q", config.ErrInvalidConfig, cfg.Log.Level)
		}
		lc.Level = level
	}
	if cfg.Log.Format != "" {
		lc.Format = cfg.Log.Format
	}
	lc.Output.OTEL = tel.IsEnabled()
	return logging.NewLogger(lc, tel.LoggerProvider())
}

// scanContext tags ctx with a fresh scan ID and the scanned target.
func (a *app) scanContext(ctx context.Context, target string) context.Context {
	ctx = logging.WithScanID(ctx, uuid.NewString())
	return logging.WithScanTarget(ctx, redactLocation(target))
}

// engine builds the match engine from the configured rules and allowlist.
// projectDir, when set, is searched for a .gitleaks.toml whose allowlist is
// merged in.
func (a *app) engine(ctx context.Context, projectDir string) (*secrets.Engine, error) {
	opts := secrets.RuleOptions{
		CaseInsensitive:  a.cfg.Rules.CaseInsensitive,
		DefaultThreshold: a.cfg.Entropy.DefaultThreshold,
	}
	rules := secrets.LoadRuleSet(a.cfg.Rules.Path, opts, a.logger)
	if a.cfg.Rules.Gitleaks {
		defs, err := secrets.GitleaksRules()
		if err != nil {
			return nil, fmt.Errorf("loading gitleaks rules: %w", err)
		}
		rules = rules.With(defs)
	}

	allow := secrets.LoadAllowList(a.cfg.Allowlist.Path, a.logger)
	if projectDir != "" {
		project, err := secrets.LoadProjectAllowList(projectDir, a.logger)
		switch {
		case err == nil:
			allow = allow.Merge(project)
			a.logger.Info(ctx, "merged project allowlist", zap.String("dir", projectDir))
		case errors.Is(err, secrets.ErrAllowlistNotFound):
		default:
			a.logger.Warn(ctx, "ignoring project allowlist", zap.Error(err))
		}
	}

	a.logger.Debug(ctx, "engine ready",
		zap.Int("rules", rules.Len()),
		zap.Int("allowlist_entries", allow.Len()),
		zap.Bool("entropy", a.cfg.Entropy.Enabled))

	return secrets.NewEngine(rules, allow,
		secrets.WithEntropyFindings(a.cfg.Entropy.Enabled),
		secrets.WithWordLengths(a.cfg.Entropy.MinWordLen, a.cfg.Entropy.MaxWordLen),
		secrets.WithLogger(a.logger),
	), nil
}

func (a *app) reportOptions() report.Options {
	return report.Options{
		Path:   a.cfg.Output.Path,
		Pretty: a.cfg.Output.Pretty,
		Redact: a.cfg.Output.Redact,
	}
}

// finish logs the summary, dumps metrics and shuts telemetry down.
func (a *app) finish(ctx context.Context, reasons []string) {
	report.Summarize(reasons).Log(ctx, a.logger)

	if path := a.cfg.Metrics.Textfile; path != "" {
		if err := metrics.WriteTextfile(path, a.registry); err != nil {
			a.logger.Error(ctx, "failed to write metrics textfile", zap.String("path", path), zap.Error(err))
		}
	}
	a.close(ctx)
}

func (a *app) close(ctx context.Context) {
	a.logger.Debug(ctx, "run finished", zap.Duration("elapsed", time.Since(a.started)))
	if err := a.telemetry.Shutdown(context.WithoutCancel(ctx)); err != nil {
		a.logger.Warn(ctx, "telemetry shutdown failed", zap.Error(err))
	}
	_ = a.logger.Sync()
}

// redactLocation drops any password from a URL so it can be logged.
func redactLocation(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.User == nil {
		return raw
	}
	return u.Redacted()
}
