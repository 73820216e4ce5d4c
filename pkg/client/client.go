// Package client implements the filedrop client driver: the initiating
// side of the wire protocol. It sends one command per call and interprets
// the response; the interactive shell and one-shot subcommands in
// cmd/filedropctl are thin callers of this package.
package client

import (
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/filedrop-dev/filedrop/internal/bufpool"
	"github.com/filedrop-dev/filedrop/pkg/protocol"
)

// ErrEmptyFilename is returned for commands invoked without a filename;
// nothing is sent to the server.
var ErrEmptyFilename = errors.New("client: empty filename")

// ServerError is an ERR response from the server. The session remains
// usable after one, unlike a transport error.
type ServerError struct {
	Message string
}

func (e *ServerError) Error() string {
	return "server error: " + e.Message
}

// Config holds client connection settings.
type Config struct {
	Host        string
	Port        int
	DialTimeout time.Duration

	// ChunkSize is the payload copy chunk size. 0 uses a sane default.
	ChunkSize int
}

// Client drives one connection to a filedrop server. Commands are strictly
// sequential; a Client must not be used concurrently.
type Client struct {
	conn      net.Conn
	framer    *protocol.Framer
	chunkSize int
}

// Dial connects to the configured server.
func Dial(cfg Config) (*Client, error) {
	addr := net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))

	conn, err := net.DialTimeout("tcp", addr, cfg.DialTimeout)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", addr, err)
	}

	return NewClient(conn, cfg.ChunkSize), nil
}

// NewClient wraps an established connection. Used by Dial and by tests
// that supply their own conn.
func NewClient(conn net.Conn, chunkSize int) *Client {
	if chunkSize <= 0 {
		chunkSize = bufpool.MediumSize
	}
	return &Client{
		conn:      conn,
		framer:    protocol.NewFramer(conn),
		chunkSize: chunkSize,
	}
}

// RemoteAddr returns the server's address.
func (c *Client) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}

// Close closes the connection without sending QUIT.
func (c *Client) Close() error {
	return c.conn.Close()
}

// List requests the server directory listing and returns the raw body:
// one "<name>\t<kind>" line per entry, in server enumeration order.
func (c *Client) List() (string, error) {
	if err := c.framer.WriteLine(protocol.CmdList); err != nil {
		return "", err
	}

	size, err := c.readOKSize()
	if err != nil {
		return "", err
	}

	body := make([]byte, size)
	if err := c.framer.ReadFull(body); err != nil {
		return "", fmt.Errorf("listing truncated: %w", err)
	}
	return string(body), nil
}

// Get downloads the named file into localPath (or into name itself when
// localPath is empty), creating or overwriting it. Returns the number of
// bytes written. A stream that ends before the declared size is a
// transfer failure and leaves the connection unreliable.
func (c *Client) Get(name, localPath string) (uint64, error) {
	if name == "" {
		return 0, ErrEmptyFilename
	}
	if localPath == "" {
		localPath = name
	}

	if err := c.framer.WriteLine(protocol.CmdGet + " " + name); err != nil {
		return 0, err
	}

	size, err := c.readOKSize()
	if err != nil {
		return 0, err
	}

	f, err := os.Create(localPath)
	if err != nil {
		// Keep the control channel aligned: the announced bytes are
		// in flight regardless, so they must be consumed.
		if drainErr := c.framer.Drain(size); drainErr != nil {
			return 0, fmt.Errorf("failed to open %s locally, and drain failed: %w", localPath, drainErr)
		}
		return 0, fmt.Errorf("failed to open %s locally: %w", localPath, err)
	}

	written, copyErr := c.framer.CopyPayloadTo(f, size, c.chunkSize)
	closeErr := f.Close()

	if copyErr != nil {
		return written, fmt.Errorf("download of %s failed: %w", name, copyErr)
	}
	if closeErr != nil {
		return written, fmt.Errorf("download of %s failed: %w", name, closeErr)
	}
	return written, nil
}

// Put uploads the local file at localPath under the remote name. The file
// must exist and be regular; otherwise nothing is sent. The final status
// line is read after streaming the full payload.
func (c *Client) Put(name, localPath string) error {
	if name == "" {
		return ErrEmptyFilename
	}
	if localPath == "" {
		localPath = name
	}

	info, err := os.Stat(localPath)
	if err != nil || !info.Mode().IsRegular() {
		return fmt.Errorf("local file not found: %s", localPath)
	}

	f, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("failed to open %s locally: %w", localPath, err)
	}
	defer f.Close()

	size := info.Size()
	if err := c.framer.WriteLine(protocol.CmdPut + " " + name); err != nil {
		return err
	}
	if err := c.framer.WriteLine(strconv.FormatInt(size, 10)); err != nil {
		return err
	}

	if _, err := c.framer.CopyPayloadFrom(io.LimitReader(f, size), c.chunkSize); err != nil {
		return fmt.Errorf("upload of %s failed: %w", name, err)
	}

	return c.readStatus()
}

// Quit sends QUIT and closes the connection without waiting for a
// response (the server sends none).
func (c *Client) Quit() error {
	_ = c.framer.WriteLine(protocol.CmdQuit)
	return c.conn.Close()
}

// readStatus reads one status line, converting ERR into a *ServerError.
func (c *Client) readStatus() error {
	status, err := c.framer.ReadLine()
	if err != nil {
		return fmt.Errorf("no response from server: %w", err)
	}

	switch status {
	case protocol.StatusOK:
		return nil
	case protocol.StatusErr:
		msg, err := c.framer.ReadLine()
		if err != nil {
			return fmt.Errorf("truncated error response: %w", err)
		}
		return &ServerError{Message: msg}
	default:
		return fmt.Errorf("unexpected server response: %q", status)
	}
}

// readOKSize reads an OK status followed by a decimal byte-count line.
func (c *Client) readOKSize() (uint64, error) {
	if err := c.readStatus(); err != nil {
		return 0, err
	}

	sizeLine, err := c.framer.ReadLine()
	if err != nil {
		return 0, fmt.Errorf("truncated response: %w", err)
	}

	size, err := strconv.ParseUint(sizeLine, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("bad size header %q: %w", sizeLine, err)
	}
	return size, nil
}
