package main

import (
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/rootle/internal/report"
	"github.com/fyrsmithlabs/rootle/pkg/gitscan"
)

func newGitCmd(o *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "git <location>",
		Short: "Scan the history of a git repository",
		Long: `Scan every non-merge commit reachable from the repository's references
and report secrets found on added or removed diff lines.

The location may be a local path, a file://, http(s)://, ssh:// or git://
URL, or an scp-style address such as git@github.com:org/app.git. Remote
repositories are cloned into a temporary directory that is removed when
the scan ends.

Examples:
  rootle git ./my-repo
  rootle git --glob 'heads/main' --recent-days 30 ./my-repo
  rootle git --sshkeypath ~/.ssh/id_ed25519 git@github.com:org/app.git`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGit(cmd, o, args[0])
		},
	}

	f := cmd.Flags()
	f.StringVar(&o.glob, "glob", "", "only walk references matching this glob, relative to refs/")
	f.StringVar(&o.sinceCommit, "since-commit", "", "skip commits older than this revision")
	f.StringVar(&o.untilCommit, "until-commit", "", "skip commits newer than this revision")
	f.IntVar(&o.recentDays, "recent-days", 0, "skip commits older than this many days (ignored with --since-commit)")
	f.StringVar(&o.sshKeyPath, "sshkeypath", "", "private key for ssh remotes (default: ssh agent)")
	f.StringVar(&o.sshKeyPhrase, "sshkeyphrase", "", "passphrase of the ssh private key")
	f.StringVar(&o.httpsUser, "https-user", "", "username for https remotes")
	f.StringVar(&o.httpsPass, "https-pass", "", "password or token for https remotes")
	return cmd
}

func runGit(cmd *cobra.Command, o *options, location string) error {
	a, err := newApp(cmd, o)
	if err != nil {
		return err
	}
	ctx := a.scanContext(cmd.Context(), location)

	projectDir := ""
	if info, err := os.Stat(location); err == nil && info.IsDir() {
		projectDir = location
	}
	engine, err := a.engine(ctx, projectDir)
	if err != nil {
		a.close(ctx)
		return err
	}

	walker := gitscan.New(engine,
		gitscan.WithLogger(a.logger),
		gitscan.WithMetrics(a.metrics),
		gitscan.WithTracerProvider(a.telemetry.TracerProvider()),
	)

	g := a.cfg.Git
	resolved, err := walker.Resolve(ctx, location, gitscan.Credentials{
		SSHKeyPath:   g.SSHKeyPath,
		SSHKeyPhrase: g.SSHKeyPhrase.Value(),
		HTTPSUser:    g.HTTPSUser,
		HTTPSPass:    g.HTTPSPass.Value(),
	})
	if err != nil {
		a.close(ctx)
		return err
	}
	defer func() {
		if err := resolved.Close(); err != nil {
			a.logger.Warn(ctx, "failed to remove clone", zap.String("dir", resolved.CloneDir()), zap.Error(err))
		}
	}()

	scanned, err := resolved.Scan(ctx, gitscan.ScanOptions{
		Glob:        g.Glob,
		SinceCommit: g.SinceCommit,
		UntilCommit: g.UntilCommit,
		RecentDays:  g.RecentDays,
	})
	if err != nil {
		a.close(ctx)
		return err
	}

	findings := scanned.Findings()
	if err := report.Emit(a.reportOptions(), cmd.OutOrStdout(), findings, redactGitFinding); err != nil {
		a.close(ctx)
		return err
	}

	reasons := make([]string, len(findings))
	for i, f := range findings {
		reasons[i] = f.Reason
	}
	a.finish(ctx, reasons)
	return nil
}

func redactGitFinding(f gitscan.Finding) gitscan.Finding {
	f.Diff = report.MaskLine(f.Diff, f.Reason, f.StringsFound)
	f.StringsFound = report.MaskAll(f.Reason, f.StringsFound)
	return f
}
