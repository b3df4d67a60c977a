package shell

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
	"golang.org/x/term"

	"github.com/schedtools/schedtools/internal/job"
)

const (
	// MaxRetries is the number of connection attempts before giving up.
	MaxRetries = 5
	// RetryDelay is the pause between connection attempts.
	RetryDelay = 30 * time.Second

	dialTimeout = 30 * time.Second
)

// RemoteChannel is a CommandChannel backed by one long-lived interactive
// shell on an SSH connection. Commands run inside the login environment,
// so module loads and PATH additions from the user's profile apply.
type RemoteChannel struct {
	spec   HostSpec
	client *ssh.Client
	shell  *ssh.Session
	stdin  io.WriteCloser
	stdout *bufio.Reader
	fence  fence
	banner string
	log    zerolog.Logger

	mu sync.Mutex
}

// DialOptions tunes how a RemoteChannel connects.
type DialOptions struct {
	// PasswordPrompt enables an interactive password prompt when key
	// authentication is unavailable or fails.
	PasswordPrompt bool
	// Retries overrides MaxRetries when positive.
	Retries int
	// RetryDelay overrides the default delay when positive.
	RetryDelay time.Duration
}

// Dial opens a channel to the target, which may be an ssh config alias or
// an ssh://user@host:port URL. Transient connection failures are retried.
func Dial(target string, opts DialOptions, log zerolog.Logger) (*RemoteChannel, error) {
	spec, err := ResolveHost(target)
	if err != nil {
		return nil, err
	}

	config, err := clientConfig(spec, opts, log)
	if err != nil {
		return nil, err
	}

	retries := opts.Retries
	if retries <= 0 {
		retries = MaxRetries
	}
	delay := opts.RetryDelay
	if delay <= 0 {
		delay = RetryDelay
	}

	var client *ssh.Client
	for attempt := 1; ; attempt++ {
		client, err = ssh.Dial("tcp", spec.Addr(), config)
		if err == nil {
			break
		}
		if !IsConnectionError(err.Error()) || attempt >= retries {
			return nil, fmt.Errorf("dial %s: %w", spec.Addr(), err)
		}
		log.Warn().Err(err).Int("attempt", attempt).Int("max", retries).
			Msg("connection failed, retrying")
		time.Sleep(delay)
	}

	ch := &RemoteChannel{spec: spec, client: client, fence: newFence(), log: log}
	if err := ch.openShell(); err != nil {
		client.Close()
		return nil, err
	}
	return ch, nil
}

func clientConfig(spec HostSpec, opts DialOptions, log zerolog.Logger) (*ssh.ClientConfig, error) {
	var auth []ssh.AuthMethod
	if spec.IdentityFile != "" {
		key, err := os.ReadFile(spec.IdentityFile)
		if err != nil {
			return nil, fmt.Errorf("read identity file: %w", err)
		}
		signer, err := ssh.ParsePrivateKey(key)
		if err != nil {
			return nil, fmt.Errorf("parse identity file: %w", err)
		}
		auth = append(auth, ssh.PublicKeys(signer))
	}
	if opts.PasswordPrompt {
		auth = append(auth, ssh.PasswordCallback(func() (string, error) {
			fmt.Fprintf(os.Stderr, "%s@%s password: ", spec.User, spec.HostName)
			password, err := term.ReadPassword(int(syscall.Stdin))
			fmt.Fprintln(os.Stderr)
			return string(password), err
		}))
	}
	if len(auth) == 0 {
		return nil, fmt.Errorf("no authentication available for %s", spec.HostName)
	}

	hostKeys, err := hostKeyCallback(log)
	if err != nil {
		return nil, err
	}
	return &ssh.ClientConfig{
		User:            spec.User,
		Auth:            auth,
		HostKeyCallback: hostKeys,
		Timeout:         dialTimeout,
	}, nil
}

func hostKeyCallback(log zerolog.Logger) (ssh.HostKeyCallback, error) {
	home, err := os.UserHomeDir()
	if err == nil {
		path := filepath.Join(home, ".ssh", "known_hosts")
		if _, statErr := os.Stat(path); statErr == nil {
			return knownhosts.New(path)
		}
	}
	log.Warn().Msg("no known_hosts file, skipping host key verification")
	return ssh.InsecureIgnoreHostKey(), nil
}

// openShell starts the interactive shell and captures the login banner by
// running an empty fenced command.
func (c *RemoteChannel) openShell() error {
	session, err := c.client.NewSession()
	if err != nil {
		return fmt.Errorf("open shell session: %w", err)
	}

	modes := ssh.TerminalModes{
		ssh.ECHO:          0,
		ssh.TTY_OP_ISPEED: 14400,
		ssh.TTY_OP_OSPEED: 14400,
	}
	if err := session.RequestPty("xterm", 80, 200, modes); err != nil {
		session.Close()
		return fmt.Errorf("request pty: %w", err)
	}

	stdin, err := session.StdinPipe()
	if err != nil {
		session.Close()
		return err
	}
	stdout, err := session.StdoutPipe()
	if err != nil {
		session.Close()
		return err
	}
	if err := session.Shell(); err != nil {
		session.Close()
		return fmt.Errorf("start shell: %w", err)
	}

	c.shell = session
	c.stdin = stdin
	c.stdout = bufio.NewReader(stdout)

	// The first fenced no-op flushes the login banner, which arrives as
	// the preamble before the opening sentinel.
	_, banner, err := c.execute("true")
	if err != nil {
		return fmt.Errorf("read login banner: %w", err)
	}
	c.banner = banner
	return nil
}

// Execute runs a command in the interactive shell. Output from failed
// commands is reported on Stderr.
func (c *RemoteChannel) Execute(command string) (Result, error) {
	result, _, err := c.execute(command)
	return result, err
}

func (c *RemoteChannel) execute(command string) (Result, string, error) {
	if strings.TrimSpace(command) == "" {
		return Result{}, "", fmt.Errorf("empty command")
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, err := fmt.Fprintln(c.stdin, c.fence.wrap(command)); err != nil {
		return Result{}, "", fmt.Errorf("write command: %w", err)
	}
	output, preamble, exit, err := c.fence.collect(c.stdout)
	if err != nil {
		return Result{}, preamble, err
	}
	if exit != 0 {
		// The PTY merges the command's stderr into the stream, so on
		// failure the whole capture is diagnostics.
		return Result{Stderr: output, Exit: exit}, preamble, nil
	}
	return Result{Stdout: output, Exit: 0}, preamble, nil
}

// OpenFileRead streams a remote file through a one-off exec session. The
// content is fetched eagerly so the interactive shell stays usable.
func (c *RemoteChannel) OpenFileRead(path string) (io.ReadCloser, error) {
	session, err := c.client.NewSession()
	if err != nil {
		return nil, err
	}
	defer session.Close()

	var stderr bytes.Buffer
	session.Stderr = &stderr
	data, err := session.Output(fmt.Sprintf("cat '%s'", EscapeForSingleQuotes(path)))
	if err != nil {
		return nil, fmt.Errorf("read %s: %s: %w", path, bytes.TrimSpace(stderr.Bytes()), err)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

// OpenFileWrite writes a remote file through a one-off exec session. The
// file is replaced when the returned writer is closed.
func (c *RemoteChannel) OpenFileWrite(path string) (io.WriteCloser, error) {
	session, err := c.client.NewSession()
	if err != nil {
		return nil, err
	}
	stdin, err := session.StdinPipe()
	if err != nil {
		session.Close()
		return nil, err
	}
	if err := session.Start(fmt.Sprintf("cat > '%s'", EscapeForSingleQuotes(path))); err != nil {
		session.Close()
		return nil, err
	}
	return &remoteWriter{session: session, stdin: stdin}, nil
}

type remoteWriter struct {
	session *ssh.Session
	stdin   io.WriteCloser
}

func (w *remoteWriter) Write(p []byte) (int, error) { return w.stdin.Write(p) }

func (w *remoteWriter) Close() error {
	if err := w.stdin.Close(); err != nil {
		w.session.Close()
		return err
	}
	err := w.session.Wait()
	w.session.Close()
	return err
}

// UpdateJobState invokes the tracking CLI on the remote host so the state
// change lands in the cluster-side database. The failure policy is
// forwarded so the remote end applies it to the database write; the local
// copy governs failures of the invocation itself.
func (c *RemoteChannel) UpdateJobState(jobID string, state job.State, comment string, onFail OnFail) error {
	return handleFailure(c.run(updateJobStateCommand(jobID, state, comment, onFail)),
		onFail, c.log, "update job state")
}

func updateJobStateCommand(jobID string, state job.State, comment string, onFail OnFail) string {
	command := fmt.Sprintf("schedtools update-job-state --job-id '%s' --state '%s' --on-fail %s",
		EscapeForSingleQuotes(jobID), EscapeForSingleQuotes(string(state)), onFail)
	if comment != "" {
		command += fmt.Sprintf(" --comment '%s'", EscapeForSingleQuotes(comment))
	}
	return command
}

// SetMissingAlerts runs the missing-job scan through the remote tracking
// CLI, flagging tracked jobs that have fallen off the live queue.
func (c *RemoteChannel) SetMissingAlerts(onFail OnFail) error {
	return handleFailure(c.run("schedtools set-missing-alerts"), onFail, c.log, "set missing alerts")
}

func (c *RemoteChannel) run(command string) error {
	result, err := c.Execute(command)
	if err != nil {
		return err
	}
	if !result.Succeeded() {
		return fmt.Errorf("exit %d: %s", result.Exit, result.Stderr)
	}
	return nil
}

// LoginMessage is the banner captured when the shell opened.
func (c *RemoteChannel) LoginMessage() string { return c.banner }

// Host is the resolved hostname.
func (c *RemoteChannel) Host() string { return c.spec.HostName }

// Close shuts the shell and the connection.
func (c *RemoteChannel) Close() error {
	if c.stdin != nil {
		fmt.Fprintln(c.stdin, "exit")
		c.stdin.Close()
	}
	if c.shell != nil {
		c.shell.Close()
	}
	return c.client.Close()
}
