package main

import (
	"errors"
	"net"
	"net/http"
	"os"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWaitForShutdown_Signal(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	server := &http.Server{Handler: http.NotFoundHandler()}
	served := make(chan error, 1)
	go func() { served <- server.Serve(ln) }()

	quit := make(chan os.Signal, 1)
	quit <- syscall.SIGTERM
	assert.NoError(t, waitForShutdown(server, quit, make(chan error)))

	select {
	case err := <-served:
		assert.ErrorIs(t, err, http.ErrServerClosed)
	case <-time.After(5 * time.Second):
		t.Fatal("server still serving after shutdown")
	}
}

func TestWaitForShutdown_ServeError(t *testing.T) {
	server := &http.Server{Addr: "127.0.0.1:0"}
	serveErr := make(chan error, 1)
	bindErr := errors.New("address already in use")
	serveErr <- bindErr

	err := waitForShutdown(server, make(chan os.Signal), serveErr)
	assert.ErrorIs(t, err, bindErr)
}
