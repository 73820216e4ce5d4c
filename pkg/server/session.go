package server

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"runtime/debug"
	"strconv"
	"strings"

	"github.com/filedrop-dev/filedrop/internal/logger"
	"github.com/filedrop-dev/filedrop/pkg/protocol"
)

// Error messages sent to the peer. The exact strings are part of the wire
// contract: clients display them verbatim.
const (
	msgInvalidFilename = "Invalid filename"
	msgFileNotFound    = "File not found"
	msgFailedToOpen    = "Failed to open file"
	msgInvalidSize     = "Invalid size header"
	msgFailedToCreate  = "Failed to create file"
	msgTransferError   = "Transfer error"
	msgUnknownCommand  = "Unknown command"
)

// verbUnknown is the metrics label recorded for unrecognized commands.
// Client-supplied verbs must never reach the metrics layer verbatim.
const verbUnknown = "UNKNOWN"

// Session owns one client connection for its whole lifetime: it reads a
// command line, dispatches it, writes the full response, and loops until
// the peer disconnects or sends QUIT. Commands are strictly sequential on
// the wire; the next line is not read until the previous command's payload
// and status have been fully sent or drained.
type Session struct {
	server *Server
	conn   net.Conn
	framer *protocol.Framer
}

// newSession wraps an accepted connection.
func newSession(server *Server, conn net.Conn) *Session {
	return &Session{
		server: server,
		conn:   conn,
		framer: protocol.NewFramer(conn),
	}
}

// Serve runs the command loop until the connection dies, the client sends
// QUIT, or the context is cancelled. The connection is closed on every exit
// path. A panic in a handler is recovered so one misbehaving session cannot
// take down the server.
func (s *Session) Serve(ctx context.Context) {
	defer s.handleClose()

	clientAddr := s.conn.RemoteAddr().String()
	log := logger.With("address", clientAddr)
	log.Debug("session started")

	for {
		select {
		case <-ctx.Done():
			log.Debug("session closed by server shutdown")
			return
		default:
		}

		line, err := s.framer.ReadLine()
		if err != nil {
			// Peer disconnect, not protocol input.
			if errors.Is(err, io.EOF) {
				log.Debug("session closed by client")
			} else {
				log.Debug("session read failed", "error", err)
			}
			return
		}

		verb, arg := parseCommand(line)

		var cmdErr error
		switch verb {
		case protocol.CmdList:
			cmdErr = s.handleList()
		case protocol.CmdGet:
			cmdErr = s.handleGet(arg)
		case protocol.CmdPut:
			cmdErr = s.handlePut(arg)
		case protocol.CmdQuit:
			// QUIT gets no response.
			log.Debug("session closed by QUIT")
			return
		default:
			// The raw verb is attacker-controlled and becomes a metrics
			// label; collapse it to a sentinel to keep cardinality bounded.
			cmdErr = s.sendError(verbUnknown, msgUnknownCommand)
		}

		if cmdErr != nil {
			// Transport-level breakage; no final response is attempted.
			log.Debug("session aborted", "command", verb, "error", cmdErr)
			return
		}
	}
}

// parseCommand splits a command line into its verb and argument. LIST and
// QUIT take no argument; GET and PUT carry a filename after one space.
// Anything else dispatches as an unknown verb.
func parseCommand(line string) (verb, arg string) {
	verb, arg, found := strings.Cut(line, " ")
	if !found {
		return verb, ""
	}
	return verb, arg
}

// handleList sends the served directory's immediate entries as
// "<name>\t<kind>" lines framed by OK and a byte count. Enumeration order
// is whatever the filesystem yields.
func (s *Session) handleList() error {
	entries, err := os.ReadDir(s.server.config.Directory)
	if err != nil {
		return s.sendError(protocol.CmdList, msgFailedToOpen)
	}

	var body bytes.Buffer
	for _, entry := range entries {
		kind := protocol.KindOther
		switch {
		case entry.Type().IsRegular():
			kind = protocol.KindFile
		case entry.IsDir():
			kind = protocol.KindDir
		}
		body.WriteString(entry.Name())
		body.WriteByte('\t')
		body.WriteString(kind)
		body.WriteByte('\n')
	}

	// The length line is sent even for an empty directory.
	if err := s.framer.WriteLine(protocol.StatusOK); err != nil {
		return err
	}
	if err := s.framer.WriteLine(strconv.Itoa(body.Len())); err != nil {
		return err
	}
	if err := s.framer.WriteFull(body.Bytes()); err != nil {
		return err
	}

	s.server.metrics().RecordCommand(protocol.CmdList, protocol.StatusOK)
	s.server.metrics().RecordBytesSent(uint64(body.Len()))
	return nil
}

// handleGet streams a file to the client. Protocol errors (bad name,
// missing file) leave the session usable; a payload write failure after
// the size header is committed tears the connection down with no abort
// marker, which the client observes as a short read.
func (s *Session) handleGet(name string) error {
	if !protocol.SafeFilename(name) {
		return s.sendError(protocol.CmdGet, msgInvalidFilename)
	}

	path := filepath.Join(s.server.config.Directory, name)

	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() {
		return s.sendError(protocol.CmdGet, msgFileNotFound)
	}

	f, err := os.Open(path)
	if err != nil {
		return s.sendError(protocol.CmdGet, msgFailedToOpen)
	}
	defer f.Close()

	size := info.Size()
	if err := s.framer.WriteLine(protocol.StatusOK); err != nil {
		return err
	}
	if err := s.framer.WriteLine(strconv.FormatInt(size, 10)); err != nil {
		return err
	}

	// The size header is committed; stream exactly that many bytes.
	// LimitReader pins the count even if the file grows mid-transfer.
	sent, err := s.framer.CopyPayloadFrom(io.LimitReader(f, size), s.server.config.ChunkSize)
	s.server.metrics().RecordBytesSent(sent)
	if err != nil {
		return err
	}
	if sent != uint64(size) {
		// File shrank under us; the client will see a short stream.
		return fmt.Errorf("get %s: file truncated during transfer (%d of %d bytes)", name, sent, size)
	}

	s.server.metrics().RecordCommand(protocol.CmdGet, protocol.StatusOK)
	return nil
}

// handlePut receives a file from the client. When the upload is rejected
// (bad name, unwritable destination) the declared payload is drained so the
// next command's framing stays aligned. An unparsable size line cannot be
// drained; the session stays up but the stream must be considered
// desynchronized by the peer.
func (s *Session) handlePut(name string) error {
	sizeLine, err := s.framer.ReadLine()
	if err != nil {
		return fmt.Errorf("put %s: read size header: %w", name, err)
	}

	size, parseErr := strconv.ParseUint(sizeLine, 10, 64)
	if parseErr != nil {
		// True byte count unknown: no drain is possible.
		return s.sendError(protocol.CmdPut, msgInvalidSize)
	}

	if !protocol.SafeFilename(name) {
		if err := s.sendError(protocol.CmdPut, msgInvalidFilename); err != nil {
			return err
		}
		return s.framer.Drain(size)
	}

	path := filepath.Join(s.server.config.Directory, name)

	f, err := os.Create(path)
	if err != nil {
		if err := s.sendError(protocol.CmdPut, msgFailedToCreate); err != nil {
			return err
		}
		return s.framer.Drain(size)
	}

	received, copyErr := s.framer.CopyPayloadTo(f, size, s.server.config.ChunkSize)
	closeErr := f.Close()
	s.server.metrics().RecordBytesReceived(received)

	if copyErr != nil || closeErr != nil {
		// Short read or local write failure: the partial file stays, the
		// peer gets a transfer error. If the transport itself died the
		// error response fails too and the loop exits on the next read.
		s.server.metrics().RecordCommand(protocol.CmdPut, protocol.StatusErr)
		_ = s.framer.WriteLine(protocol.StatusErr)
		_ = s.framer.WriteLine(msgTransferError)
		return nil
	}

	if err := s.framer.WriteLine(protocol.StatusOK); err != nil {
		return err
	}
	s.server.metrics().RecordCommand(protocol.CmdPut, protocol.StatusOK)
	return nil
}

// sendError reports a protocol error to the peer and keeps the session
// open. The returned error is non-nil only for transport failures.
func (s *Session) sendError(verb, msg string) error {
	s.server.metrics().RecordCommand(verb, protocol.StatusErr)
	if err := s.framer.WriteLine(protocol.StatusErr); err != nil {
		return err
	}
	return s.framer.WriteLine(msg)
}

// handleClose recovers panics and closes the connection on every exit path.
func (s *Session) handleClose() {
	if r := recover(); r != nil {
		logger.Error("panic in session handler",
			"address", s.conn.RemoteAddr().String(),
			"error", r,
			"stack", string(debug.Stack()))
	}
	_ = s.conn.Close()
}
