package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/rootle/internal/report"
	"github.com/fyrsmithlabs/rootle/pkg/fsscan"
)

func newFSCmd(o *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "fs <path>",
		Short: "Scan the files under a directory",
		Long: `Scan every line of every file under a directory, or a single file, and
report secrets with their line numbers. The .git directory is skipped and
.gitignore and .rootleignore files are honoured.

Examples:
  rootle fs .
  rootle fs --norecursive ./config
  rootle fs --exclude 'vendor/**' --exclude '**/*.min.js' .`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runFS(cmd, o, args[0])
		},
	}

	f := cmd.Flags()
	f.BoolVar(&o.noRecursive, "norecursive", false, "only scan files directly inside the path")
	f.IntVar(&o.workers, "workers", 0, "files scanned in parallel (default: number of CPUs)")
	f.StringArrayVar(&o.exclude, "exclude", nil, "skip paths matching this doublestar glob (repeatable)")
	return cmd
}

func runFS(cmd *cobra.Command, o *options, root string) error {
	a, err := newApp(cmd, o)
	if err != nil {
		return err
	}
	ctx := a.scanContext(cmd.Context(), root)

	projectDir := ""
	if info, err := os.Stat(root); err == nil && info.IsDir() {
		projectDir = root
	}
	engine, err := a.engine(ctx, projectDir)
	if err != nil {
		a.close(ctx)
		return err
	}

	scanner := fsscan.New(engine,
		fsscan.WithLogger(a.logger),
		fsscan.WithMetrics(a.metrics),
		fsscan.WithWorkers(a.cfg.FS.Workers),
		fsscan.WithTracerProvider(a.telemetry.TracerProvider()),
	)

	opts := fsscan.ScanOptions{
		NoRecursive: a.cfg.FS.NoRecursive,
		Exclude:     a.cfg.FS.Exclude,
	}
	if a.cfg.Output.Path != "" {
		opts.SkipPaths = []string{a.cfg.Output.Path}
	}

	result, err := scanner.Scan(ctx, root, opts)
	if err != nil {
		a.close(ctx)
		return err
	}

	findings := result.Findings()
	if err := report.Emit(a.reportOptions(), cmd.OutOrStdout(), findings, redactFSFinding); err != nil {
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

func redactFSFinding(f fsscan.Finding) fsscan.Finding {
	f.Diff = report.MaskLine(f.Diff, f.Reason, f.StringsFound)
	f.StringsFound = report.MaskAll(f.Reason, f.StringsFound)
	return f
}
