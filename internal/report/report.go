// Package report writes scan findings as JSON and summarizes them.
package report

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/rootle/internal/logging"
)

// previewLen is how many leading bytes of a secret survive masking.
const previewLen = 4

// Options controls where and how findings are written.
type Options struct {
	// Path of the output file. Empty writes to the fallback writer.
	Path   string
	Pretty bool
	Redact bool
}

// Emit writes findings as a JSON array to opts.Path, or to stdout when no
// path is set. With opts.Redact, each finding passes through redact first.
// An empty slice is written as [].
func Emit[T any](opts Options, stdout io.Writer, findings []T, redact func(T) T) error {
	out := findings
	if opts.Redact && redact != nil {
		out = make([]T, len(findings))
		for i, f := range findings {
			out[i] = redact(f)
		}
	}
	if out == nil {
		out = []T{}
	}

	if opts.Path == "" {
		return Write(stdout, out, opts.Pretty)
	}

	f, err := os.OpenFile(opts.Path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("opening output file: %w", err)
	}
	if err := Write(f, out, opts.Pretty); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("closing output file: %w", err)
	}
	return nil
}

// Write encodes v as JSON followed by a newline.
func Write(w io.Writer, v any, pretty bool) error {
	var (
		data []byte
		err  error
	)
	if pretty {
		data, err = json.MarshalIndent(v, "", "  ")
	} else {
		data, err = json.Marshal(v)
	}
	if err != nil {
		return fmt.Errorf("encoding findings: %w", err)
	}
	data = append(data, '\n')
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("writing findings: %w", err)
	}
	return nil
}

// Mask replaces a matched secret with a marker that keeps the reason and
// a short prefix.
func Mask(reason, secret string) string {
	preview := secret
	if len(preview) > previewLen {
		preview = preview[:previewLen]
	}
	return fmt.Sprintf("[REDACTED:%s:%s]", reason, preview)
}

// MaskAll masks every string in found.
func MaskAll(reason string, found []string) []string {
	out := make([]string, len(found))
	for i, s := range found {
		out[i] = Mask(reason, s)
	}
	return out
}

// MaskLine masks every occurrence of the found strings in line. Longer
// strings are replaced first so a secret that contains another is masked
// whole.
func MaskLine(line, reason string, found []string) string {
	sorted := append([]string(nil), found...)
	sort.SliceStable(sorted, func(i, j int) bool { return len(sorted[i]) > len(sorted[j]) })

	pairs := make([]string, 0, 2*len(sorted))
	for _, s := range sorted {
		if s == "" {
			continue
		}
		pairs = append(pairs, s, Mask(reason, s))
	}
	if len(pairs) == 0 {
		return line
	}
	return strings.NewReplacer(pairs...).Replace(line)
}

// Summary aggregates findings per reason.
type Summary struct {
	TotalFindings int            `json:"total_findings"`
	UniqueReasons int            `json:"unique_reasons"`
	ReasonCounts  map[string]int `json:"reason_counts"`
}

// Summarize counts reasons.
func Summarize(reasons []string) Summary {
	counts := make(map[string]int)
	for _, r := range reasons {
		counts[r]++
	}
	return Summary{
		TotalFindings: len(reasons),
		UniqueReasons: len(counts),
		ReasonCounts:  counts,
	}
}

// Reasons returns the sorted reason names in the summary.
func (s Summary) Reasons() []string {
	names := make([]string, 0, len(s.ReasonCounts))
	for name := range s.ReasonCounts {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Log writes the summary at info level, one field per reason.
func (s Summary) Log(ctx context.Context, logger *logging.Logger) {
	fields := make([]zap.Field, 0, len(s.ReasonCounts)+2)
	fields = append(fields,
		zap.Int("total_findings", s.TotalFindings),
		zap.Int("unique_reasons", s.UniqueReasons))
	for _, name := range s.Reasons() {
		fields = append(fields, zap.Int("reason."+name, s.ReasonCounts[name]))
	}
	logger.Info(ctx, "scan summary", fields...)
}
