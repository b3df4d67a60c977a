package cmd

import (
	"database/sql"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/schedtools/schedtools/internal/job"
	"github.com/schedtools/schedtools/internal/logging"
	"github.com/schedtools/schedtools/internal/shell"
	"github.com/schedtools/schedtools/internal/store"
	"github.com/schedtools/schedtools/internal/sweep"
	"github.com/schedtools/schedtools/internal/wm"
)

func defaultLogger() zerolog.Logger {
	return logging.Default()
}

func hoursToDuration(hours float64) time.Duration {
	return time.Duration(hours * float64(time.Hour))
}

// progLogger names the invocation so its log file and cache directory
// don't collide with other schedtools programs running concurrently.
func progLogger(name string) zerolog.Logger {
	os.Setenv(shell.ProgEnv, name)
	return logging.Get(name)
}

// hostTarget picks the cluster to talk to: positional argument, then the
// --host flag, then the config file.
func hostTarget(args []string) (string, error) {
	if len(args) > 0 && args[0] != "" {
		return args[0], nil
	}
	if rootHost != "" {
		return rootHost, nil
	}
	if cfg != nil && cfg.Host != "" {
		return cfg.Host, nil
	}
	return "", fmt.Errorf("no host given: pass one as an argument, with --host, or set it in the config file")
}

// dialChannel opens a remote channel to the target cluster.
func dialChannel(target string, log zerolog.Logger) (shell.CommandChannel, error) {
	return shell.Dial(target, shell.DialOptions{PasswordPrompt: rootPassword}, log)
}

// openDB opens the local tracking database.
func openDB() (*sql.DB, error) {
	return store.Open(cfg.DBPath())
}

// dbUpdater implements shell.StateUpdater against the local tracking
// database, for channels running on the cluster head node.
type dbUpdater struct {
	db  *sql.DB
	log zerolog.Logger
}

func (u *dbUpdater) UpdateState(jobID string, state job.State, comment string) error {
	return store.UpdateState(u.db, jobID, state, comment)
}

func (u *dbUpdater) SetMissingAlerts() error {
	ch := shell.NewLocalChannel(u, u.log)
	adapter, err := wm.Detect(ch, u.log)
	if err != nil {
		return err
	}
	return sweep.MissingAlerts(u.db, adapter, u.log)
}

// localChannel builds a head-node channel wired to the tracking database.
func localChannel(db *sql.DB, log zerolog.Logger) *shell.LocalChannel {
	return shell.NewLocalChannel(&dbUpdater{db: db, log: log}, log)
}
