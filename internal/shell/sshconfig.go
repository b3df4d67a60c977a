package shell

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/kevinburke/ssh_config"
)

// HostSpec is everything needed to dial a cluster login node.
type HostSpec struct {
	Alias        string
	HostName     string
	User         string
	Port         string
	IdentityFile string
}

// Addr is the host:port dial address.
func (h HostSpec) Addr() string {
	port := h.Port
	if port == "" {
		port = "22"
	}
	return h.HostName + ":" + port
}

// ResolveHost builds a HostSpec for the given target. Targets of the form
// ssh://user@host:port are taken literally; anything else is looked up as
// an alias in the user's ssh config, falling back to treating the target
// as a bare hostname.
func ResolveHost(target string) (HostSpec, error) {
	if strings.HasPrefix(target, "ssh://") {
		return parseURL(target)
	}
	spec, err := lookupSSHConfig(target)
	if err != nil {
		return HostSpec{}, err
	}
	return spec, nil
}

func parseURL(target string) (HostSpec, error) {
	rest := strings.TrimPrefix(target, "ssh://")
	spec := HostSpec{Alias: target}
	if user, hostPart, ok := strings.Cut(rest, "@"); ok {
		spec.User = user
		rest = hostPart
	}
	if host, port, ok := strings.Cut(rest, ":"); ok {
		spec.HostName = host
		spec.Port = port
	} else {
		spec.HostName = rest
	}
	if spec.HostName == "" {
		return HostSpec{}, fmt.Errorf("no hostname in %q", target)
	}
	return spec, nil
}

// lookupSSHConfig resolves the alias against the user's ssh config (or
// $SSH_CONFIG).
func lookupSSHConfig(alias string) (HostSpec, error) {
	path := os.Getenv("SSH_CONFIG")
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return HostSpec{Alias: alias, HostName: alias}, nil
		}
		path = filepath.Join(home, ".ssh", "config")
	}
	f, err := os.Open(path)
	if err != nil {
		// No config: the alias is the hostname.
		return HostSpec{Alias: alias, HostName: alias}, nil
	}
	defer f.Close()

	cfg, err := ssh_config.Decode(f)
	if err != nil {
		return HostSpec{}, fmt.Errorf("parse %s: %w", path, err)
	}
	get := func(key string) string {
		value, err := cfg.Get(alias, key)
		if err != nil {
			return ""
		}
		return value
	}

	spec := HostSpec{Alias: alias, HostName: alias}
	if v := get("HostName"); v != "" {
		spec.HostName = v
	}
	spec.User = get("User")
	spec.Port = get("Port")
	if v := get("IdentityFile"); v != "" {
		spec.IdentityFile = expandHome(v)
	}
	return spec, nil
}

func expandHome(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}
