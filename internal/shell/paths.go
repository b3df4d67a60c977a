package shell

import (
	"fmt"
	"os"
	"path/filepath"
)

// Environment variables that relocate the well-known paths.
const (
	ProgEnv       = "SCHEDTOOLS_PROG"
	TrackingDBEnv = "JOB_TRACKING_DB"
	SystemdEnv    = "SYSTEMD_SERVICE"
	UserEnv       = "SCHEDTOOLS_USER"
)

// MirrorFile is the remote mirror of the tracked-job set, relative to the
// remote user's home directory.
const MirrorFile = ".rerun-tracked.json"

// ProgName is the invocation name used to key log files and cache
// directories, so concurrently running tools don't fight over them.
func ProgName() string {
	if prog := os.Getenv(ProgEnv); prog != "" {
		return prog
	}
	return "schedtools"
}

// DBPath is the local tracking database location. JOB_TRACKING_DB
// overrides the default of ~/.tracking/jobs.db.
func DBPath() string {
	if path := os.Getenv(TrackingDBEnv); path != "" {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return filepath.Join(home, ".tracking", "jobs.db")
}

// MirrorPath is the mirror file location on the remote host, expressed so
// the remote shell expands $HOME itself.
func MirrorPath() string {
	return "$HOME/" + MirrorFile
}

// CacheDir is where fallback copies of remote state are kept when the
// remote host is unreachable. Under systemd the home directory may not be
// the invoking user's, so a world-writable location is used instead.
func CacheDir() string {
	if os.Getenv(SystemdEnv) != "" {
		return filepath.Join("/var/tmp", ProgName())
	}
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return filepath.Join(home, "."+ProgName())
}

// FallbackMirrorPath is the local cache copy of the remote mirror file.
func FallbackMirrorPath() string {
	return filepath.Join(CacheDir(), MirrorFile)
}

// LogPath is the log file for the current invocation name.
func LogPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return filepath.Join(home, fmt.Sprintf(".%s.log", ProgName()))
}

// ConfigPath is the user configuration file location.
func ConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return filepath.Join(home, ".config", "schedtools", "config.yaml")
}
