package gitscan

import (
	"strconv"
	"strings"
)

// NoParent is the parent hash reported for root commits.
const NoParent = "None"

// dateLayout renders committer times in UTC.
const dateLayout = "2006-01-02 15:04:05"

// Finding is one reason matched on one diff line of one commit.
type Finding struct {
	Commit           string   `json:"commit"`
	CommitHash       string   `json:"commitHash"`
	Date             string   `json:"date"`
	Diff             string   `json:"diff"`
	StringsFound     []string `json:"stringsFound"`
	Path             string   `json:"path"`
	Reason           string   `json:"reason"`
	OldFileID        string   `json:"old_file_id"`
	NewFileID        string   `json:"new_file_id"`
	OldLineNum       int      `json:"old_line_num"`
	NewLineNum       int      `json:"new_line_num"`
	ParentCommitHash string   `json:"parent_commit_hash"`
}

// Key identifies a finding by every field, so structurally equal findings
// collapse into one.
func (f Finding) Key() string {
	var b strings.Builder
	for _, s := range []string{
		f.CommitHash, f.Path, strconv.Itoa(f.NewLineNum), strconv.Itoa(f.OldLineNum),
		f.Reason, f.Diff, f.ParentCommitHash, f.OldFileID, f.NewFileID, f.Date, f.Commit,
	} {
		b.WriteString(s)
		b.WriteByte(0)
	}
	for _, s := range f.StringsFound {
		b.WriteString(s)
		b.WriteByte(0)
	}
	return b.String()
}
