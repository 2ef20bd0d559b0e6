// Package main implements the rootle CLI, which scans git history and
// directory trees for secrets.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	o := &options{}
	root := &cobra.Command{
		Use:   "rootle",
		Short: "Find secrets in git history and files",
		Long: `rootle scans the added and removed lines of every commit in a git
repository, or the lines of files under a directory, for secrets matched by
regular expressions and high-entropy tokens. Findings are written as JSON.

Examples:
  # Scan a local clone
  rootle git ./my-repo

  # Scan a remote repository over HTTPS
  rootle git --https-user octo --https-pass $TOKEN https://github.com/org/app.git

  # Scan a directory with entropy findings, pretty printed
  rootle fs --entropy --prettyprint ./src`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	o.addGlobalFlags(root)

	root.AddCommand(newGitCmd(o), newFSCmd(o), newRulesCmd(o), newVersionCmd())
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the rootle version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			cmd.Printf("rootle %s\n", version)
		},
	}
}
