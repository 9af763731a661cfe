// Package shutdown coordinates draining the HTTP server and closing backing
// connections when the service is stopped.
package shutdown

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"
)

type hook struct {
	name string
	fn   func(ctx context.Context) error
}

// Manager runs server shutdown and cleanup hooks within one overall timeout
type Manager struct {
	logger  *zap.Logger
	timeout time.Duration

	mu      sync.Mutex
	hooks   []hook
	servers map[string]*http.Server
}

// NewManager creates a Manager with the given logger and overall timeout
func NewManager(logger *zap.Logger, timeout time.Duration) *Manager {
	return &Manager{
		logger:  logger.With(zap.String("component", "shutdown")),
		timeout: timeout,
		servers: make(map[string]*http.Server),
	}
}

// RegisterHook adds a cleanup hook. Hooks run in reverse registration order,
// so register pools before the components that use them.
func (m *Manager) RegisterHook(name string, fn func(ctx context.Context) error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hooks = append(m.hooks, hook{name: name, fn: fn})
}

// ListenFunc starts a server and blocks until it stops
type ListenFunc func(server *http.Server) error

// Serve starts server with plain HTTP in the background and registers it for shutdown
func (m *Manager) Serve(name string, server *http.Server) error {
	return m.ServeWith(name, server, (*http.Server).ListenAndServe)
}

// ServeWith is Serve with a custom listener, e.g. one that enables TLS.
// It returns an error if the listener fails right away, e.g. port in use.
func (m *Manager) ServeWith(name string, server *http.Server, listen ListenFunc) error {
	m.mu.Lock()
	m.servers[name] = server
	m.mu.Unlock()

	errCh := make(chan error, 1)
	go func() {
		m.logger.Info("Starting server", zap.String("server", name), zap.String("addr", server.Addr))
		if err := listen(server); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("server %s failed: %w", name, err)
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-time.After(100 * time.Millisecond):
		return nil
	}
}

// Wait blocks until SIGINT/SIGTERM or ctx is done, then calls Shutdown
func (m *Manager) Wait(ctx context.Context) {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	<-ctx.Done()
	m.logger.Info("Shutdown signal received")
	m.Shutdown()
}

// Shutdown drains all servers concurrently, then runs hooks LIFO. Hooks left
// when the timeout expires are skipped.
func (m *Manager) Shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
	defer cancel()

	m.mu.Lock()
	servers := make(map[string]*http.Server, len(m.servers))
	for k, v := range m.servers {
		servers[k] = v
	}
	hooks := append([]hook(nil), m.hooks...)
	m.mu.Unlock()

	var wg sync.WaitGroup
	for name, srv := range servers {
		wg.Add(1)
		go func(name string, srv *http.Server) {
			defer wg.Done()
			if err := srv.Shutdown(ctx); err != nil {
				m.logger.Error("Server shutdown error", zap.String("server", name), zap.Error(err))
				return
			}
			m.logger.Info("Server shut down", zap.String("server", name))
		}(name, srv)
	}
	wg.Wait()

	for i := len(hooks) - 1; i >= 0; i-- {
		h := hooks[i]
		if ctx.Err() != nil {
			m.logger.Warn("Shutdown timeout reached, skipping remaining hooks",
				zap.String("skipped_hook", h.name), zap.Int("remaining", i+1))
			return
		}

		start := time.Now()
		if err := h.fn(ctx); err != nil {
			m.logger.Error("Shutdown hook failed", zap.String("hook", h.name), zap.Error(err))
			continue
		}
		m.logger.Info("Shutdown hook completed", zap.String("hook", h.name), zap.Duration("duration", time.Since(start)))
	}

	m.logger.Info("Graceful shutdown complete")
}
