package store

import (
	"database/sql"
	"fmt"
	"io"
	"os"

	"github.com/schedtools/schedtools/internal/shell"
)

// RemoteDBFile is the tracking database location relative to the remote
// user's home directory, where exec sessions start.
const RemoteDBFile = ".tracking/jobs.db"

// RemoteDB is a local working copy of a cluster-side tracking database.
// Reads operate on the copy; pushing changes back is explicit, so two
// writers never interleave on the remote file. Callers accept stale reads
// in exchange.
type RemoteDB struct {
	DB *sql.DB

	ch         shell.CommandChannel
	remotePath string
	localPath  string
}

// PullRemote copies the remote tracking database to a temporary file and
// opens it.
func PullRemote(ch shell.CommandChannel, remotePath string) (*RemoteDB, error) {
	if remotePath == "" {
		remotePath = RemoteDBFile
	}

	src, err := ch.OpenFileRead(remotePath)
	if err != nil {
		return nil, fmt.Errorf("pull tracking db: %w", err)
	}
	defer src.Close()

	tmp, err := os.CreateTemp("", "schedtools-jobs-*.db")
	if err != nil {
		return nil, err
	}
	if _, err := io.Copy(tmp, src); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return nil, fmt.Errorf("copy tracking db: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return nil, err
	}

	db, err := Open(tmp.Name())
	if err != nil {
		os.Remove(tmp.Name())
		return nil, err
	}
	return &RemoteDB{DB: db, ch: ch, remotePath: remotePath, localPath: tmp.Name()}, nil
}

// WriteBack pushes the working copy to the remote path. The database is
// closed first so the file on disk is complete.
func (r *RemoteDB) WriteBack() error {
	if err := r.DB.Close(); err != nil {
		return err
	}
	data, err := os.ReadFile(r.localPath)
	if err != nil {
		return err
	}

	dst, err := r.ch.OpenFileWrite(r.remotePath)
	if err != nil {
		return fmt.Errorf("push tracking db: %w", err)
	}
	if _, err := dst.Write(data); err != nil {
		dst.Close()
		return fmt.Errorf("push tracking db: %w", err)
	}
	return dst.Close()
}

// Close discards the working copy.
func (r *RemoteDB) Close() error {
	err := r.DB.Close()
	os.Remove(r.localPath)
	return err
}
