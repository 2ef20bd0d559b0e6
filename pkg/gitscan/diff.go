package gitscan

import (
	"fmt"
	"iter"
	"strings"

	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/filemode"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/utils/diff"
	"github.com/sergi/go-diff/diffmatchpatch"
)

// Origin identifies what a DiffLine represents.
type Origin byte

const (
	OriginFileHeader Origin = 'F'
	OriginHunkHeader Origin = 'H'
	OriginAdded      Origin = '+'
	OriginRemoved    Origin = '-'
)

// IsContent reports whether the line carries file content rather than a header.
func (o Origin) IsContent() bool {
	return o == OriginAdded || o == OriginRemoved
}

// DiffLine is one line of a tree-to-tree diff. Line numbers are 1-based and
// zero when the line does not exist on that side.
type DiffLine struct {
	Path      string
	OldFileID plumbing.Hash
	NewFileID plumbing.Hash
	OldLineNo int
	NewLineNo int
	Origin    Origin
	// Content has no trailing newline.
	Content []byte
}

// DiffLines yields every line of the diff from one tree to another: a file
// header per changed file, a hunk header per run of changes, then the
// removed and added lines of that run. Submodule entries are skipped.
// Pass an empty &object.Tree{} as from to diff a root commit.
func DiffLines(from, to *object.Tree) iter.Seq2[DiffLine, error] {
	return func(yield func(DiffLine, error) bool) {
		changes, err := from.Diff(to)
		if err != nil {
			yield(DiffLine{}, fmt.Errorf("diffing trees: %w", err))
			return
		}
		for _, change := range changes {
			if !changeLines(change, yield) {
				return
			}
		}
	}
}

func changeLines(change *object.Change, yield func(DiffLine, error) bool) bool {
	if change.From.TreeEntry.Mode == filemode.Submodule || change.To.TreeEntry.Mode == filemode.Submodule {
		return true
	}

	base := DiffLine{
		Path:      change.To.Name,
		OldFileID: change.From.TreeEntry.Hash,
		NewFileID: change.To.TreeEntry.Hash,
	}
	if base.Path == "" {
		base.Path = change.From.Name
	}

	from, to, err := change.Files()
	if err != nil {
		return yield(DiffLine{}, fmt.Errorf("reading blobs for %s: %w", base.Path, err))
	}
	oldText, err := fileContents(from)
	if err != nil {
		return yield(DiffLine{}, fmt.Errorf("reading old contents of %s: %w", base.Path, err))
	}
	newText, err := fileContents(to)
	if err != nil {
		return yield(DiffLine{}, fmt.Errorf("reading new contents of %s: %w", base.Path, err))
	}

	header := base
	header.Origin = OriginFileHeader
	header.Content = []byte(fmt.Sprintf("diff --git a/%s b/%s", orPath(change.From.Name, base.Path), base.Path))
	if !yield(header, nil) {
		return false
	}

	diffs := diff.Do(oldText, newText)
	oldLine, newLine := 1, 1
	for i := 0; i < len(diffs); {
		if diffs[i].Type == diffmatchpatch.DiffEqual {
			n := len(splitLines(diffs[i].Text))
			oldLine += n
			newLine += n
			i++
			continue
		}

		var removed, added []string
		for ; i < len(diffs) && diffs[i].Type != diffmatchpatch.DiffEqual; i++ {
			switch diffs[i].Type {
			case diffmatchpatch.DiffDelete:
				removed = append(removed, splitLines(diffs[i].Text)...)
			case diffmatchpatch.DiffInsert:
				added = append(added, splitLines(diffs[i].Text)...)
			}
		}

		hunk := base
		hunk.Origin = OriginHunkHeader
		hunk.Content = []byte(hunkHeader(oldLine, len(removed), newLine, len(added)))
		if !yield(hunk, nil) {
			return false
		}
		for _, text := range removed {
			line := base
			line.Origin = OriginRemoved
			line.OldLineNo = oldLine
			line.Content = []byte(text)
			oldLine++
			if !yield(line, nil) {
				return false
			}
		}
		for _, text := range added {
			line := base
			line.Origin = OriginAdded
			line.NewLineNo = newLine
			line.Content = []byte(text)
			newLine++
			if !yield(line, nil) {
				return false
			}
		}
	}
	return true
}

func fileContents(f *object.File) (string, error) {
	if f == nil {
		return "", nil
	}
	return f.Contents()
}

func orPath(path, fallback string) string {
	if path == "" {
		return fallback
	}
	return path
}

// splitLines splits text into lines without their trailing newlines.
func splitLines(text string) []string {
	if text == "" {
		return nil
	}
	lines := strings.SplitAfter(text, "\n")
	if lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	for i, l := range lines {
		lines[i] = strings.TrimSuffix(l, "\n")
	}
	return lines
}

func hunkHeader(oldStart, oldCount, newStart, newCount int) string {
	return fmt.Sprintf("@@ -%s +%s @@", hunkRange(oldStart, oldCount), hunkRange(newStart, newCount))
}

// hunkRange renders one side of a hunk header the way git does: an empty
// side points at the line before the change.
func hunkRange(start, count int) string {
	switch count {
	case 0:
		return fmt.Sprintf("%d,0", start-1)
	case 1:
		return fmt.Sprintf("%d", start)
	default:
		return fmt.Sprintf("%d,%d", start, count)
	}
}
