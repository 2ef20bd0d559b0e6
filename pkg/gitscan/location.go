package gitscan

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/go-git/go-git/v5/plumbing/transport"
	"github.com/go-git/go-git/v5/plumbing/transport/http"
	"github.com/go-git/go-git/v5/plumbing/transport/ssh"
)

// Scheme classifies a repository location.
type Scheme int

const (
	// SchemeLocal is a filesystem path or file:// URL, opened in place.
	SchemeLocal Scheme = iota
	// SchemeHTTP is an http:// or https:// URL, cloned with basic auth.
	SchemeHTTP
	// SchemeSSH is an ssh:// URL, cloned with a key file or the SSH agent.
	SchemeSSH
	// SchemeGit is a git:// URL.
	SchemeGit
	// SchemeRelative is a path containing '@', such as git@host:org/repo.git.
	// It is opened locally when possible and cloned over SSH otherwise.
	SchemeRelative
)

func (s Scheme) String() string {
	switch s {
	case SchemeLocal:
		return "local"
	case SchemeHTTP:
		return "http"
	case SchemeSSH:
		return "ssh"
	case SchemeGit:
		return "git"
	case SchemeRelative:
		return "relative"
	default:
		return fmt.Sprintf("Scheme(%d)", int(s))
	}
}

// defaultSSHUser is used when an SSH location names no user.
const defaultSSHUser = "git"

// Location is a classified repository location.
type Location struct {
	Raw    string
	Scheme Scheme
	// Path is the filesystem path for local locations.
	Path string
	// User is the SSH user for SSH-capable locations.
	User string
}

// ParseLocation classifies a repository location by its URL scheme.
func ParseLocation(raw string) (Location, error) {
	loc := Location{Raw: raw}

	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" {
		if i := strings.Index(raw, "@"); i >= 0 {
			loc.Scheme = SchemeRelative
			loc.Path = raw
			loc.User = raw[:i]
			if loc.User == "" {
				loc.User = defaultSSHUser
			}
			return loc, nil
		}
		loc.Scheme = SchemeLocal
		loc.Path = raw
		return loc, nil
	}

	switch strings.ToLower(u.Scheme) {
	case "http", "https":
		loc.Scheme = SchemeHTTP
	case "file":
		loc.Scheme = SchemeLocal
		loc.Path = u.Path
	case "ssh":
		loc.Scheme = SchemeSSH
		loc.User = sshUser(u)
	case "git":
		loc.Scheme = SchemeGit
		loc.User = sshUser(u)
	default:
		return Location{}, fmt.Errorf("%w: %q (include the user for SSH locations, e.g. git@host:org/repo.git)",
			ErrUnrecognizedScheme, u.Scheme)
	}
	return loc, nil
}

func sshUser(u *url.URL) string {
	if u.User != nil && u.User.Username() != "" {
		return u.User.Username()
	}
	return defaultSSHUser
}

// Credentials holds the secrets a location may need. Only the ones matching
// the location's scheme are used.
type Credentials struct {
	SSHKeyPath   string
	SSHKeyPhrase string
	HTTPSUser    string
	HTTPSPass    string
}

func (c Credentials) httpAuth() (transport.AuthMethod, error) {
	if c.HTTPSUser == "" {
		return nil, fmt.Errorf("%w: HTTPS location needs a username", ErrMissingCredentials)
	}
	if c.HTTPSPass == "" {
		return nil, fmt.Errorf("%w: HTTPS location needs a password (use a personal access token with 2FA)", ErrMissingCredentials)
	}
	return &http.BasicAuth{Username: c.HTTPSUser, Password: c.HTTPSPass}, nil
}

func (c Credentials) sshAuth(user string) (transport.AuthMethod, error) {
	if c.SSHKeyPath != "" {
		keys, err := ssh.NewPublicKeysFromFile(user, c.SSHKeyPath, c.SSHKeyPhrase)
		if err != nil {
			return nil, fmt.Errorf("%w: loading SSH key %s: %v", ErrMissingCredentials, c.SSHKeyPath, err)
		}
		return keys, nil
	}
	agent, err := ssh.NewSSHAgentAuth(user)
	if err != nil {
		return nil, fmt.Errorf("%w: no SSH key path given and the SSH agent is unavailable: %v", ErrMissingCredentials, err)
	}
	return agent, nil
}
