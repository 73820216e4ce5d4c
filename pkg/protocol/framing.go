package protocol

import (
	"bufio"
	"errors"
	"fmt"
	"io"

	"github.com/filedrop-dev/filedrop/internal/bufpool"
)

// MaxLineLength bounds a single control line. Command lines carry at most a
// verb plus a filename; anything longer is a misbehaving peer.
const MaxLineLength = 4096

// ErrLineTooLong is returned when a control line exceeds MaxLineLength
// before a newline is seen.
var ErrLineTooLong = errors.New("protocol: line too long")

// Framer frames control lines and binary payloads over one byte stream.
//
// Reads go through an internal buffered reader, so all payload reads must
// also go through the Framer: reading from the underlying stream directly
// after the first ReadLine would lose buffered bytes. Writes pass straight
// through to the stream.
//
// A Framer is owned by a single session worker and is not safe for
// concurrent use.
type Framer struct {
	rw io.ReadWriter
	r  *bufio.Reader
}

// NewFramer wraps a byte stream for line and payload framing.
func NewFramer(rw io.ReadWriter) *Framer {
	return &Framer{
		rw: rw,
		r:  bufio.NewReader(rw),
	}
}

// ReadLine reads bytes until '\n' and returns the line without the
// terminator, stripping one trailing '\r' if present. A stream that ends
// before the newline is a transport failure, not protocol input: the error
// is io.EOF on a clean immediate close and the underlying read error
// otherwise. Callers must treat any error as "peer disconnected".
func (f *Framer) ReadLine() (string, error) {
	var line []byte
	for {
		b, err := f.r.ReadByte()
		if err != nil {
			return "", err
		}
		if b == '\n' {
			break
		}
		if len(line) >= MaxLineLength {
			return "", ErrLineTooLong
		}
		line = append(line, b)
	}

	if n := len(line); n > 0 && line[n-1] == '\r' {
		line = line[:n-1]
	}
	return string(line), nil
}

// WriteLine writes text followed by a single '\n'. The write either
// transfers every byte or fails; net.Conn write semantics retry short
// writes internally.
func (f *Framer) WriteLine(text string) error {
	buf := make([]byte, 0, len(text)+1)
	buf = append(buf, text...)
	buf = append(buf, '\n')

	if _, err := f.rw.Write(buf); err != nil {
		return fmt.Errorf("write line: %w", err)
	}
	return nil
}

// ReadFull reads exactly len(p) bytes, looping over short reads. A stream
// that ends early returns an error.
func (f *Framer) ReadFull(p []byte) error {
	if _, err := io.ReadFull(f.r, p); err != nil {
		return fmt.Errorf("read %d bytes: %w", len(p), err)
	}
	return nil
}

// WriteFull writes all of p or fails.
func (f *Framer) WriteFull(p []byte) error {
	if _, err := f.rw.Write(p); err != nil {
		return fmt.Errorf("write %d bytes: %w", len(p), err)
	}
	return nil
}

// CopyPayloadTo copies exactly n bytes from the stream to dst in chunks of
// chunkSize. It fails if the stream ends before n bytes arrive or if dst
// rejects a write. The number of bytes successfully written to dst is
// returned either way.
func (f *Framer) CopyPayloadTo(dst io.Writer, n uint64, chunkSize int) (uint64, error) {
	buf := bufpool.Get(chunkSize)
	defer bufpool.Put(buf)

	var written uint64
	for written < n {
		chunk := uint64(len(buf))
		if remaining := n - written; remaining < chunk {
			chunk = remaining
		}

		if _, err := io.ReadFull(f.r, buf[:chunk]); err != nil {
			return written, fmt.Errorf("payload read at offset %d: %w", written, err)
		}
		if _, err := dst.Write(buf[:chunk]); err != nil {
			return written, fmt.Errorf("payload write at offset %d: %w", written, err)
		}
		written += chunk
	}
	return written, nil
}

// CopyPayloadFrom streams src to the connection in chunks of chunkSize
// until src is exhausted, returning the number of bytes sent. The caller
// announces the payload length beforehand; src must yield exactly that
// many bytes.
func (f *Framer) CopyPayloadFrom(src io.Reader, chunkSize int) (uint64, error) {
	buf := bufpool.Get(chunkSize)
	defer bufpool.Put(buf)

	var sent uint64
	for {
		n, err := src.Read(buf)
		if n > 0 {
			if _, werr := f.rw.Write(buf[:n]); werr != nil {
				return sent, fmt.Errorf("payload write at offset %d: %w", sent, werr)
			}
			sent += uint64(n)
		}
		if err == io.EOF {
			return sent, nil
		}
		if err != nil {
			return sent, fmt.Errorf("payload source read at offset %d: %w", sent, err)
		}
	}
}

// Drain reads and discards exactly n bytes, keeping subsequent line framing
// aligned after a rejected transfer.
func (f *Framer) Drain(n uint64) error {
	if _, err := io.CopyN(io.Discard, f.r, int64(n)); err != nil {
		return fmt.Errorf("drain %d bytes: %w", n, err)
	}
	return nil
}
