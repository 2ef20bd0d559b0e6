package gitscan

import "errors"

var (
	// ErrUnrecognizedScheme indicates a repository location with an unsupported URL scheme.
	ErrUnrecognizedScheme = errors.New("unrecognized repository scheme")

	// ErrMissingCredentials indicates the credentials a location needs were not supplied.
	ErrMissingCredentials = errors.New("missing repository credentials")

	// ErrCloneFailed indicates a remote repository could not be cloned.
	ErrCloneFailed = errors.New("clone failed")

	// ErrNotGitRepo indicates a local path is not a git repository.
	ErrNotGitRepo = errors.New("not a git repository")

	// ErrRevisionNotFound indicates a since or until revision did not resolve to a commit.
	ErrRevisionNotFound = errors.New("revision not found")

	// ErrAlreadyResolved indicates Resolve was called twice on one Walker.
	ErrAlreadyResolved = errors.New("walker already resolved")

	// ErrNotResolved indicates Scan was called on a closed repository.
	ErrNotResolved = errors.New("repository not resolved")

	// ErrAlreadyScanned indicates Scan was called twice on one repository.
	ErrAlreadyScanned = errors.New("repository already scanned")
)
