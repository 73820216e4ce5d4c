package client

import (
	"context"
	"crypto/rand"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/filedrop-dev/filedrop/pkg/server"
)

// startServer runs a real server on a loopback ephemeral port and returns
// a connected client plus the served directory.
func startServer(t *testing.T) (*Client, string) {
	t.Helper()

	dir := t.TempDir()
	srv := server.New(server.Config{
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

	addr, ok := srv.Addr().(*net.TCPAddr)
	require.True(t, ok)

	c, err := Dial(Config{Host: "127.0.0.1", Port: addr.Port, DialTimeout: 2 * time.Second})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })

	return c, dir
}

func TestClientPutListGetRoundTrip(t *testing.T) {
	c, _ := startServer(t)

	local := t.TempDir()
	payload := make([]byte, 64*1024)
	_, err := rand.Read(payload)
	require.NoError(t, err)

	src := filepath.Join(local, "upload.bin")
	require.NoError(t, os.WriteFile(src, payload, 0644))

	require.NoError(t, c.Put("upload.bin", src))

	listing, err := c.List()
	require.NoError(t, err)
	assert.Contains(t, listing, "upload.bin\tfile\n")

	dst := filepath.Join(local, "download.bin")
	n, err := c.Get("upload.bin", dst)
	require.NoError(t, err)
	assert.EqualValues(t, len(payload), n)

	got, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, payload, got)
}

func TestClientEmptyFile(t *testing.T) {
	c, dir := startServer(t)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "empty.txt"), nil, 0644))

	dst := filepath.Join(t.TempDir(), "empty.txt")
	n, err := c.Get("empty.txt", dst)
	require.NoError(t, err)
	assert.Zero(t, n)

	got, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestClientServerErrors(t *testing.T) {
	c, _ := startServer(t)

	t.Run("missing remote file", func(t *testing.T) {
		_, err := c.Get("nope.txt", filepath.Join(t.TempDir(), "nope.txt"))
		var srvErr *ServerError
		require.ErrorAs(t, err, &srvErr)
		assert.Equal(t, "File not found", srvErr.Message)
	})

	t.Run("rejected upload name", func(t *testing.T) {
		src := filepath.Join(t.TempDir(), "f.txt")
		require.NoError(t, os.WriteFile(src, []byte("data"), 0644))

		err := c.Put("../escape.txt", src)
		var srvErr *ServerError
		require.ErrorAs(t, err, &srvErr)
		assert.Equal(t, "Invalid filename", srvErr.Message)
	})

	t.Run("session survives server errors", func(t *testing.T) {
		_, err := c.List()
		assert.NoError(t, err)
	})
}

func TestClientLocalRejects(t *testing.T) {
	c, _ := startServer(t)

	t.Run("empty get name", func(t *testing.T) {
		_, err := c.Get("", "")
		assert.ErrorIs(t, err, ErrEmptyFilename)
	})

	t.Run("empty put name", func(t *testing.T) {
		assert.ErrorIs(t, c.Put("", ""), ErrEmptyFilename)
	})

	t.Run("missing local file", func(t *testing.T) {
		err := c.Put("x.txt", filepath.Join(t.TempDir(), "does-not-exist"))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "local file not found")
	})

	t.Run("directory as local file", func(t *testing.T) {
		err := c.Put("x.txt", t.TempDir())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "local file not found")
	})

	t.Run("nothing was sent to the server", func(t *testing.T) {
		listing, err := c.List()
		require.NoError(t, err)
		assert.NotContains(t, listing, "x.txt")
	})
}

func TestClientGetDrainsOnLocalCreateFailure(t *testing.T) {
	c, dir := startServer(t)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "big.bin"), make([]byte, 8192), 0644))

	// The destination directory does not exist, so the local create fails
	// after the server has already committed the payload.
	_, err := c.Get("big.bin", filepath.Join(t.TempDir(), "missing", "big.bin"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to open")

	// The payload was drained, so the control channel is still aligned.
	listing, err := c.List()
	require.NoError(t, err)
	assert.True(t, strings.Contains(listing, "big.bin"))
}

func TestClientQuit(t *testing.T) {
	c, _ := startServer(t)

	require.NoError(t, c.Quit())

	// The connection is gone; further commands fail at the transport.
	_, err := c.List()
	assert.Error(t, err)
}
