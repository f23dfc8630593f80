// Package app defines what golem needs from the network application it
// supervises, and ships an HTTP adapter for net/http handlers.
package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/golemteam/golem/internal/config"
)

// Hooks are the events an adapter raises while serving.
type Hooks struct {
	Listening  func()            // accepting has begun; fired once
	Connection func(addr string) // a connection was accepted
	Closed     func()            // a connection accepted earlier has closed
}

func (h Hooks) listening() {
	if h.Listening != nil {
		h.Listening()
	}
}

func (h Hooks) connection(addr string) {
	if h.Connection != nil {
		h.Connection(addr)
	}
}

func (h Hooks) closed() {
	if h.Closed != nil {
		h.Closed()
	}
}

// Adapter serves an application on a listener it did not create.
type Adapter interface {
	// Serve blocks until the adapter is shut down or fails. It returns nil
	// after a graceful Shutdown.
	Serve(ln net.Listener, hooks Hooks) error
	// Shutdown stops accepting and waits for open connections to finish.
	Shutdown(ctx context.Context) error
}

// Factory builds the adapter for a settled configuration. The master calls
// it on startup and reload to validate the application; each worker calls
// it to build the adapter it serves.
type Factory func(cfg *config.Config) (Adapter, error)

// HTTP adapts an http.Handler.
type HTTP struct {
	handler http.Handler

	mu       sync.Mutex
	srv      *http.Server
	shutdown bool
}

// NewHTTP returns an adapter serving h.
func NewHTTP(h http.Handler) *HTTP {
	return &HTTP{handler: h}
}

// Serve implements Adapter.
func (a *HTTP) Serve(ln net.Listener, hooks Hooks) error {
	srv := &http.Server{
		Handler:           a.handler,
		ReadHeaderTimeout: 10 * time.Second,
		ConnState: func(c net.Conn, st http.ConnState) {
			switch st {
			case http.StateNew:
				hooks.connection(c.RemoteAddr().String())
			case http.StateHijacked, http.StateClosed:
				hooks.closed()
			}
		},
	}

	a.mu.Lock()
	if a.shutdown {
		a.mu.Unlock()
		return nil
	}
	a.srv = srv
	a.mu.Unlock()

	hooks.listening()
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown implements Adapter.
func (a *HTTP) Shutdown(ctx context.Context) error {
	a.mu.Lock()
	a.shutdown = true
	srv := a.srv
	a.mu.Unlock()

	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}

// DefaultFactory serves the static file tree at [app] root, or a short
// greeting naming the serving process when no root is configured.
func DefaultFactory(cfg *config.Config) (Adapter, error) {
	root := cfg.App.Root
	if root == "" {
		return NewHTTP(http.HandlerFunc(hello)), nil
	}
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("app root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("app root: %s is not a directory", root)
	}
	return NewHTTP(http.FileServer(http.Dir(root))), nil
}

func hello(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	fmt.Fprintf(w, "hello from golem pid %d\n", os.Getpid())
}
