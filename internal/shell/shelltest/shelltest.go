// Package shelltest provides a canned CommandChannel for tests.
package shelltest

import (
	"bytes"
	"fmt"
	"io"

	"github.com/schedtools/schedtools/internal/job"
	"github.com/schedtools/schedtools/internal/shell"
)

// Channel is a CommandChannel that answers commands from a canned table and
// records everything asked of it.
type Channel struct {
	// Results maps exact command strings to their outcomes.
	Results map[string]shell.Result
	// Files maps paths to file contents for OpenFileRead.
	Files map[string]string
	// Banner is returned from LoginMessage.
	Banner string
	// Hostname is returned from Host; defaults to "testhost".
	Hostname string

	// Executed records every command run, in order.
	Executed []string
	// Written records the content written through OpenFileWrite, by path.
	Written map[string]string
	// StateUpdates records UpdateJobState calls as "id:state:comment".
	StateUpdates []string
	// AlertScans counts SetMissingAlerts invocations.
	AlertScans int

	// ReadErr, if set, fails every OpenFileRead.
	ReadErr error
	// WriteErr, if set, fails every OpenFileWrite.
	WriteErr error
}

var _ shell.CommandChannel = (*Channel)(nil)

// Execute answers from the Results table. Unknown commands succeed with
// empty output, so tests only declare the commands they care about.
func (c *Channel) Execute(command string) (shell.Result, error) {
	c.Executed = append(c.Executed, command)
	if result, ok := c.Results[command]; ok {
		return result, nil
	}
	return shell.Result{}, nil
}

func (c *Channel) OpenFileRead(path string) (io.ReadCloser, error) {
	if c.ReadErr != nil {
		return nil, c.ReadErr
	}
	content, ok := c.Files[path]
	if !ok {
		return nil, fmt.Errorf("open %s: no such file", path)
	}
	return io.NopCloser(bytes.NewReader([]byte(content))), nil
}

func (c *Channel) OpenFileWrite(path string) (io.WriteCloser, error) {
	if c.WriteErr != nil {
		return nil, c.WriteErr
	}
	if c.Written == nil {
		c.Written = map[string]string{}
	}
	return &fileWriter{ch: c, path: path}, nil
}

type fileWriter struct {
	ch   *Channel
	path string
	buf  bytes.Buffer
}

func (w *fileWriter) Write(p []byte) (int, error) { return w.buf.Write(p) }

func (w *fileWriter) Close() error {
	w.ch.Written[w.path] = w.buf.String()
	return nil
}

func (c *Channel) UpdateJobState(jobID string, state job.State, comment string, onFail shell.OnFail) error {
	c.StateUpdates = append(c.StateUpdates, fmt.Sprintf("%s:%s:%s", jobID, state, comment))
	return nil
}

func (c *Channel) SetMissingAlerts(onFail shell.OnFail) error {
	c.AlertScans++
	return nil
}

func (c *Channel) LoginMessage() string { return c.Banner }

func (c *Channel) Host() string {
	if c.Hostname != "" {
		return c.Hostname
	}
	return "testhost"
}

func (c *Channel) Close() error { return nil }
