// Package channel spawns helper processes wired to pipes for a single
// request/response exchange.
package channel

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
)

// ErrSpawn is wrapped by every error returned when a helper cannot be started.
var ErrSpawn = errors.New("failed to spawn helper")

// Channel is one running helper invocation. The caller writes the event
// to Writer, calls CloseWrite, optionally reads the reply from Reader,
// and must always call Close.
type Channel struct {
	path   string
	cmd    *exec.Cmd
	stdin  *os.File // write end, child reads
	stdout *os.File // read end, nil in write-only mode
	writer *bufio.Writer

	mu          sync.Mutex
	writeClosed bool
	closed      bool
	closeErr    error
}

// Open starts the helper at path with both stdin and stdout connected
// to the returned channel.
func Open(path string) (*Channel, error) {
	return open(path, true)
}

// OpenWriteOnly starts the helper at path with only stdin connected.
// The helper's stdout goes wherever ours does.
func OpenWriteOnly(path string) (*Channel, error) {
	return open(path, false)
}

func open(path string, duplex bool) (*Channel, error) {
	if path == "" {
		return nil, fmt.Errorf("%w: empty helper path", ErrSpawn)
	}

	inR, inW, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("%w: stdin pipe: %w", ErrSpawn, err)
	}

	// The helper gets its own path as argv[0] and nothing else. Event
	// data only travels over stdin.
	cmd := exec.Command(path)
	cmd.Stdin = inR
	cmd.Stderr = os.Stderr

	var outR, outW *os.File
	if duplex {
		outR, outW, err = os.Pipe()
		if err != nil {
			closeFiles(inR, inW)
			return nil, fmt.Errorf("%w: stdout pipe: %w", ErrSpawn, err)
		}
		cmd.Stdout = outW
	} else {
		cmd.Stdout = os.Stdout
	}

	if err := cmd.Start(); err != nil {
		closeFiles(inR, inW, outR, outW)
		return nil, fmt.Errorf("%w %s: %w", ErrSpawn, path, err)
	}

	// The child holds its own copies of these now.
	closeFiles(inR, outW)

	return &Channel{
		path:   path,
		cmd:    cmd,
		stdin:  inW,
		stdout: outR,
		writer: bufio.NewWriter(inW),
	}, nil
}

func closeFiles(files ...*os.File) {
	for _, f := range files {
		if f != nil {
			f.Close()
		}
	}
}

// Path returns the helper executable path
func (c *Channel) Path() string {
	return c.path
}

// Pid returns the helper's process id.
func (c *Channel) Pid() int {
	return c.cmd.Process.Pid
}

// Writer returns the buffered writer feeding the helper's stdin.
func (c *Channel) Writer() io.Writer {
	return c.writer
}

// Reader returns the helper's stdout, or nil for a write-only channel.
func (c *Channel) Reader() io.Reader {
	if c.stdout == nil {
		return nil
	}
	return c.stdout
}

// CloseWrite flushes buffered input and closes the helper's stdin so it
// sees end of input. It is safe to call more than once.
func (c *Channel) CloseWrite() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeWriteLocked()
}

func (c *Channel) closeWriteLocked() error {
	if c.writeClosed {
		return nil
	}
	c.writeClosed = true

	flushErr := c.writer.Flush()
	closeErr := c.stdin.Close()
	if flushErr != nil {
		return fmt.Errorf("failed to flush helper input: %w", flushErr)
	}
	if closeErr != nil {
		return fmt.Errorf("failed to close helper input: %w", closeErr)
	}
	return nil
}

// Close releases both pipe ends and reaps the helper. It blocks until
// the helper exits. A non-zero exit status is not an error; the exit
// code carries no meaning in the protocol.
func (c *Channel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return c.closeErr
	}
	c.closed = true

	// A helper that stopped reading early makes the flush fail with
	// EPIPE. That is its business, not ours.
	_ = c.closeWriteLocked()

	if c.stdout != nil {
		c.stdout.Close()
	}

	if err := c.cmd.Wait(); err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			c.closeErr = fmt.Errorf("failed to wait for helper %s: %w", c.path, err)
		}
	}
	return c.closeErr
}

// ExitCode returns the helper's exit code after Close, or -1.
func (c *Channel) ExitCode() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed || c.cmd.ProcessState == nil {
		return -1
	}
	return c.cmd.ProcessState.ExitCode()
}
