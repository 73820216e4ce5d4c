package server

import (
	"bytes"
	"context"
	"crypto/rand"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/filedrop-dev/filedrop/pkg/protocol"
)

// startTestServer runs a server on an ephemeral loopback port backed by a
// fresh temp directory and tears it down when the test finishes.
func startTestServer(t *testing.T) (*Server, string) {
	t.Helper()

	dir := t.TempDir()
	srv := New(Config{
		BindAddress:     "127.0.0.1",
		Port:            0,
		Directory:       dir,
		ShutdownTimeout: 5 * time.Second,
	})

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe(ctx)
	}()
	<-srv.ListenerReady

	t.Cleanup(func() {
		cancel()
		select {
		case err := <-errCh:
			assert.NoError(t, err)
		case <-time.After(10 * time.Second):
			t.Error("server did not shut down")
		}
	})

	return srv, dir
}

// dialTestServer opens a raw client connection speaking the wire protocol
// directly, so tests exercise the server without going through pkg/client.
func dialTestServer(t *testing.T, srv *Server) *protocol.Framer {
	t.Helper()

	conn, err := net.Dial("tcp", srv.Addr().String())
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	return protocol.NewFramer(conn)
}

// expectError reads an ERR response and asserts its message.
func expectError(t *testing.T, fr *protocol.Framer, want string) {
	t.Helper()

	status, err := fr.ReadLine()
	require.NoError(t, err)
	require.Equal(t, protocol.StatusErr, status)

	msg, err := fr.ReadLine()
	require.NoError(t, err)
	assert.Equal(t, want, msg)
}

// readSizedBody reads an OK status, the byte-count line, and the body.
func readSizedBody(t *testing.T, fr *protocol.Framer) []byte {
	t.Helper()

	status, err := fr.ReadLine()
	require.NoError(t, err)
	require.Equal(t, protocol.StatusOK, status)

	sizeLine, err := fr.ReadLine()
	require.NoError(t, err)
	size, err := strconv.ParseUint(sizeLine, 10, 64)
	require.NoError(t, err)

	body := make([]byte, size)
	require.NoError(t, fr.ReadFull(body))
	return body
}

// doPut uploads data under name and returns the server's status line and,
// for ERR, the message.
func doPut(t *testing.T, fr *protocol.Framer, name string, data []byte) (status, msg string) {
	t.Helper()

	require.NoError(t, fr.WriteLine(protocol.CmdPut+" "+name))
	require.NoError(t, fr.WriteLine(strconv.Itoa(len(data))))
	require.NoError(t, fr.WriteFull(data))

	status, err := fr.ReadLine()
	require.NoError(t, err)
	if status == protocol.StatusErr {
		msg, err = fr.ReadLine()
		require.NoError(t, err)
	}
	return status, msg
}

// listNames runs LIST and returns the entry names, sorted. Enumeration
// order is filesystem-dependent, so tests compare listings as sets.
func listNames(t *testing.T, fr *protocol.Framer) []string {
	t.Helper()

	require.NoError(t, fr.WriteLine(protocol.CmdList))
	body := readSizedBody(t, fr)

	var names []string
	for _, line := range strings.Split(strings.TrimSuffix(string(body), "\n"), "\n") {
		if line == "" {
			continue
		}
		name, _, found := strings.Cut(line, "\t")
		require.True(t, found, "listing line %q missing kind column", line)
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func TestSessionPutGetRoundTrip(t *testing.T) {
	srv, dir := startTestServer(t)
	fr := dialTestServer(t, srv)

	payload := make([]byte, 128*1024)
	_, err := rand.Read(payload)
	require.NoError(t, err)

	status, msg := doPut(t, fr, "blob.bin", payload)
	require.Equal(t, protocol.StatusOK, status, "put failed: %s", msg)

	onDisk, err := os.ReadFile(filepath.Join(dir, "blob.bin"))
	require.NoError(t, err)
	assert.Equal(t, payload, onDisk)

	require.NoError(t, fr.WriteLine(protocol.CmdGet+" blob.bin"))
	got := readSizedBody(t, fr)
	assert.Equal(t, payload, got)
}

func TestSessionGetEmptyFile(t *testing.T) {
	srv, dir := startTestServer(t)
	fr := dialTestServer(t, srv)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "empty.txt"), nil, 0644))

	require.NoError(t, fr.WriteLine(protocol.CmdGet+" empty.txt"))
	body := readSizedBody(t, fr)
	assert.Empty(t, body)

	// The session is still aligned after a zero-byte payload.
	assert.Equal(t, []string{"empty.txt"}, listNames(t, fr))
}

func TestSessionGetErrors(t *testing.T) {
	srv, dir := startTestServer(t)
	fr := dialTestServer(t, srv)

	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub"), 0755))

	t.Run("missing file", func(t *testing.T) {
		require.NoError(t, fr.WriteLine(protocol.CmdGet+" nope.txt"))
		expectError(t, fr, msgFileNotFound)
	})

	t.Run("directory is not a file", func(t *testing.T) {
		require.NoError(t, fr.WriteLine(protocol.CmdGet+" sub"))
		expectError(t, fr, msgFileNotFound)
	})

	t.Run("path traversal rejected", func(t *testing.T) {
		for _, name := range []string{"../etc/passwd", "a/b.txt", `a\b.txt`, "..", ""} {
			require.NoError(t, fr.WriteLine(protocol.CmdGet+" "+name))
			expectError(t, fr, msgInvalidFilename)
		}
	})

	t.Run("session survives rejections", func(t *testing.T) {
		assert.Equal(t, []string{"sub"}, listNames(t, fr))
	})
}

func TestSessionPutRejections(t *testing.T) {
	srv, dir := startTestServer(t)
	fr := dialTestServer(t, srv)

	t.Run("traversal name with empty payload", func(t *testing.T) {
		status, msg := doPut(t, fr, "../etc/passwd", nil)
		assert.Equal(t, protocol.StatusErr, status)
		assert.Equal(t, msgInvalidFilename, msg)

		_, err := os.Stat(filepath.Join(dir, "..", "etc", "passwd"))
		assert.True(t, os.IsNotExist(err), "rejected put must not create a file")
	})

	t.Run("rejected payload is drained", func(t *testing.T) {
		status, msg := doPut(t, fr, "bad/name.txt", []byte("payload that must be consumed"))
		assert.Equal(t, protocol.StatusErr, status)
		assert.Equal(t, msgInvalidFilename, msg)

		// A dangling payload would desynchronize this next command.
		status, _ = doPut(t, fr, "good.txt", []byte("hello"))
		assert.Equal(t, protocol.StatusOK, status)
	})

	t.Run("unparsable size header", func(t *testing.T) {
		fr := dialTestServer(t, srv)
		require.NoError(t, fr.WriteLine(protocol.CmdPut+" x.txt"))
		require.NoError(t, fr.WriteLine("not-a-number"))
		expectError(t, fr, msgInvalidSize)
	})
}

func TestSessionPutShortPayload(t *testing.T) {
	srv, dir := startTestServer(t)

	conn, err := net.Dial("tcp", srv.Addr().String())
	require.NoError(t, err)
	fr := protocol.NewFramer(conn)

	// Declare 100 bytes, send 5, then close the write side.
	require.NoError(t, fr.WriteLine(protocol.CmdPut+" short.bin"))
	require.NoError(t, fr.WriteLine("100"))
	require.NoError(t, fr.WriteFull([]byte("hello")))
	require.NoError(t, conn.(*net.TCPConn).CloseWrite())

	expectError(t, fr, msgTransferError)
	require.NoError(t, conn.Close())

	// The partial file is kept, not rolled back.
	require.Eventually(t, func() bool {
		data, err := os.ReadFile(filepath.Join(dir, "short.bin"))
		return err == nil && bytes.Equal(data, []byte("hello"))
	}, 2*time.Second, 10*time.Millisecond)
}

func TestSessionPutEmptyFile(t *testing.T) {
	srv, dir := startTestServer(t)
	fr := dialTestServer(t, srv)

	status, msg := doPut(t, fr, "empty.bin", nil)
	require.Equal(t, protocol.StatusOK, status, "put failed: %s", msg)

	info, err := os.Stat(filepath.Join(dir, "empty.bin"))
	require.NoError(t, err)
	assert.True(t, info.Mode().IsRegular())
	assert.Zero(t, info.Size())

	// Round-trip: the empty upload comes back as OK with a zero count.
	require.NoError(t, fr.WriteLine(protocol.CmdGet+" empty.bin"))
	assert.Empty(t, readSizedBody(t, fr))
}

func TestSessionPutOverwrite(t *testing.T) {
	srv, dir := startTestServer(t)
	fr := dialTestServer(t, srv)

	status, _ := doPut(t, fr, "doc.txt", []byte("first version, quite long"))
	require.Equal(t, protocol.StatusOK, status)
	status, _ = doPut(t, fr, "doc.txt", []byte("second"))
	require.Equal(t, protocol.StatusOK, status)

	onDisk, err := os.ReadFile(filepath.Join(dir, "doc.txt"))
	require.NoError(t, err)
	assert.Equal(t, "second", string(onDisk), "overwrite must truncate the old content")
}

func TestSessionList(t *testing.T) {
	srv, dir := startTestServer(t)
	fr := dialTestServer(t, srv)

	t.Run("empty directory", func(t *testing.T) {
		assert.Empty(t, listNames(t, fr))
	})

	t.Run("entries with kinds", func(t *testing.T) {
		require.NoError(t, os.WriteFile(filepath.Join(dir, "a.txt"), []byte("a"), 0644))
		require.NoError(t, os.Mkdir(filepath.Join(dir, "nested"), 0755))

		require.NoError(t, fr.WriteLine(protocol.CmdList))
		body := string(readSizedBody(t, fr))

		assert.Contains(t, body, "a.txt\t"+protocol.KindFile+"\n")
		assert.Contains(t, body, "nested\t"+protocol.KindDir+"\n")
	})

	t.Run("idempotent", func(t *testing.T) {
		first := listNames(t, fr)
		second := listNames(t, fr)
		assert.Equal(t, first, second)
	})
}

func TestSessionUnknownCommand(t *testing.T) {
	srv, _ := startTestServer(t)
	fr := dialTestServer(t, srv)

	require.NoError(t, fr.WriteLine("DELETE file.txt"))
	expectError(t, fr, msgUnknownCommand)

	// One bad verb does not end the session.
	assert.Empty(t, listNames(t, fr))
}

func TestSessionQuit(t *testing.T) {
	srv, _ := startTestServer(t)

	conn, err := net.Dial("tcp", srv.Addr().String())
	require.NoError(t, err)
	defer conn.Close()
	fr := protocol.NewFramer(conn)

	require.NoError(t, fr.WriteLine(protocol.CmdQuit))

	// QUIT gets no response; the server just closes the connection.
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, err = fr.ReadLine()
	assert.ErrorIs(t, err, io.EOF)
}

func TestConcurrentUploads(t *testing.T) {
	srv, dir := startTestServer(t)

	const size = 1 << 20
	payloads := make(map[string][]byte, 2)
	for i := 0; i < 2; i++ {
		data := make([]byte, size)
		_, err := rand.Read(data)
		require.NoError(t, err)
		payloads[fmt.Sprintf("large-%d.bin", i)] = data
	}

	var wg sync.WaitGroup
	for name, data := range payloads {
		wg.Add(1)
		go func(name string, data []byte) {
			defer wg.Done()

			conn, err := net.Dial("tcp", srv.Addr().String())
			if !assert.NoError(t, err) {
				return
			}
			defer conn.Close()
			fr := protocol.NewFramer(conn)

			if !assert.NoError(t, fr.WriteLine(protocol.CmdPut+" "+name)) {
				return
			}
			if !assert.NoError(t, fr.WriteLine(strconv.Itoa(len(data)))) {
				return
			}
			if !assert.NoError(t, fr.WriteFull(data)) {
				return
			}

			status, err := fr.ReadLine()
			assert.NoError(t, err)
			assert.Equal(t, protocol.StatusOK, status)
		}(name, data)
	}
	wg.Wait()

	// Both files landed intact despite interleaved sessions.
	for name, data := range payloads {
		onDisk, err := os.ReadFile(filepath.Join(dir, name))
		require.NoError(t, err)
		require.Equal(t, data, onDisk, "content mismatch for %s", name)
	}
}
