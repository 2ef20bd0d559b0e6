package main

import (
	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/rootle/internal/config"
)

// options holds flag values. Flags only override the loaded configuration
// when they were set on the command line.
type options struct {
	configPath string
	verbose    int
	logLevel   string
	logFormat  string

	rulesPath        string
	allowlistPath    string
	caseInsensitive  bool
	gitleaks         bool
	entropy          bool
	defaultThreshold float64
	minWordLen       int
	maxWordLen       int

	outputFile      string
	pretty          bool
	redact          bool
	metricsTextfile string

	glob         string
	sinceCommit  string
	untilCommit  string
	recentDays   int
	sshKeyPath   string
	sshKeyPhrase string
	httpsUser    string
	httpsPass    string

	noRecursive bool
	workers     int
	exclude     []string
}

func (o *options) addGlobalFlags(cmd *cobra.Command) {
	f := cmd.PersistentFlags()
	f.StringVar(&o.configPath, "config", "", "config file (default ~/.config/rootle/config.yaml)")
	f.CountVarP(&o.verbose, "verbose", "v", "increase log verbosity (-v info, -vv debug, -vvv trace)")
	f.StringVar(&o.logLevel, "log-level", "", "log level, overrides -v (trace, debug, info, warn, error)")
	f.StringVar(&o.logFormat, "log-format", "console", "log format (console or json)")

	f.StringVarP(&o.rulesPath, "regex", "r", "", "JSON file of custom rules (default: built-in rules)")
	f.StringVarP(&o.allowlistPath, "allowlist", "a", "", "JSON or .toml allowlist file (default: built-in allowlist)")
	f.BoolVar(&o.caseInsensitive, "caseinsensitive", false, "match every rule case-insensitively")
	f.BoolVar(&o.gitleaks, "gitleaks", false, "add the gitleaks default rule pack")
	f.BoolVar(&o.entropy, "entropy", false, "report standalone high-entropy tokens")
	f.Float64Var(&o.defaultThreshold, "default-entropy-threshold", 0.6, "entropy threshold for rules without one and for standalone tokens")
	f.IntVar(&o.minWordLen, "entropy-min-word-len", 5, "shortest token considered by the entropy filter")
	f.IntVar(&o.maxWordLen, "entropy-max-word-len", 40, "longest token considered by the entropy filter")

	f.StringVarP(&o.outputFile, "outputfile", "o", "", "write findings to this file instead of stdout")
	f.BoolVar(&o.pretty, "prettyprint", false, "indent the JSON output")
	f.BoolVar(&o.redact, "redact", false, "mask matched strings in the output")
	f.StringVar(&o.metricsTextfile, "metrics-textfile", "", "write Prometheus metrics to this file on exit")
}

// apply copies the flags set on cmd into cfg.
func (o *options) apply(cmd *cobra.Command, cfg *config.Config) {
	changed := cmd.Flags().Changed
	set := func(name string, fn func()) {
		if changed(name) {
			fn()
		}
	}

	set("log-level", func() { cfg.Log.Level = o.logLevel })
	set("log-format", func() { cfg.Log.Format = o.logFormat })

	set("regex", func() { cfg.Rules.Path = o.rulesPath })
	set("allowlist", func() { cfg.Allowlist.Path = o.allowlistPath })
	set("caseinsensitive", func() { cfg.Rules.CaseInsensitive = o.caseInsensitive })
	set("gitleaks", func() { cfg.Rules.Gitleaks = o.gitleaks })
	set("entropy", func() { cfg.Entropy.Enabled = o.entropy })
	set("default-entropy-threshold", func() { cfg.Entropy.DefaultThreshold = o.defaultThreshold })
	set("entropy-min-word-len", func() { cfg.Entropy.MinWordLen = o.minWordLen })
	set("entropy-max-word-len", func() { cfg.Entropy.MaxWordLen = o.maxWordLen })

	set("outputfile", func() { cfg.Output.Path = o.outputFile })
	set("prettyprint", func() { cfg.Output.Pretty = o.pretty })
	set("redact", func() { cfg.Output.Redact = o.redact })
	set("metrics-textfile", func() { cfg.Metrics.Textfile = o.metricsTextfile })

	set("glob", func() { cfg.Git.Glob = o.glob })
	set("since-commit", func() { cfg.Git.SinceCommit = o.sinceCommit })
	set("until-commit", func() { cfg.Git.UntilCommit = o.untilCommit })
	set("recent-days", func() { cfg.Git.RecentDays = o.recentDays })
	set("sshkeypath", func() { cfg.Git.SSHKeyPath = o.sshKeyPath })
	set("sshkeyphrase", func() { cfg.Git.SSHKeyPhrase = config.Secret(o.sshKeyPhrase) })
	set("https-user", func() { cfg.Git.HTTPSUser = o.httpsUser })
	set("https-pass", func() { cfg.Git.HTTPSPass = config.Secret(o.httpsPass) })

	set("norecursive", func() { cfg.FS.NoRecursive = o.noRecursive })
	set("workers", func() { cfg.FS.Workers = o.workers })
	set("exclude", func() { cfg.FS.Exclude = o.exclude })
}
