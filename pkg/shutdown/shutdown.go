package shutdown

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"
)

// Manager runs registered cleanup hooks exactly once at program exit.
// The gym adapter registers the simulator process-group killer here so
// that no spawned server outlives the hosting program.
type Manager struct {
	hooks   []func(context.Context) error
	mu      sync.Mutex
	timeout time.Duration
	done    chan struct{}
	once    sync.Once
	ranOnce sync.Once
}

// New creates a new shutdown manager
func New(timeout time.Duration) *Manager {
	return &Manager{
		hooks:   make([]func(context.Context) error, 0),
		timeout: timeout,
		done:    make(chan struct{}),
	}
}

// Register adds a cleanup hook.
// Hooks are called in reverse order (LIFO).
func (m *Manager) Register(fn func(context.Context) error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hooks = append(m.hooks, fn)
}

// Wait blocks until SIGTERM or SIGINT is received
func (m *Manager) Wait() {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGTERM, syscall.SIGINT)

	sig := <-sigChan
	fmt.Printf("\nReceived signal: %v\n", sig)

	m.once.Do(func() {
		close(m.done)
	})
}

// Done returns a channel that is closed when shutdown is initiated
func (m *Manager) Done() <-chan struct{} {
	return m.done
}

// Shutdown executes all registered hooks in LIFO order. Safe to call more
// than once; hooks run only on the first call. Hook errors are reported and
// do not stop the remaining hooks, so a dead simulator process cannot abort
// cleanup of the live ones.
func (m *Manager) Shutdown() {
	m.ranOnce.Do(func() {
		m.mu.Lock()
		defer m.mu.Unlock()

		ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
		defer cancel()

		for i := len(m.hooks) - 1; i >= 0; i-- {
			if err := m.hooks[i](ctx); err != nil {
				fmt.Fprintf(os.Stderr, "shutdown hook %d error: %v\n", i, err)
			}
		}
	})
}

// WaitWithContext blocks until a shutdown signal or context cancellation,
// then runs the hooks.
func (m *Manager) WaitWithContext(ctx context.Context) error {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigChan:
		fmt.Printf("\nReceived signal: %v\n", sig)
		m.Shutdown()
		return nil
	case <-ctx.Done():
		m.Shutdown()
		return ctx.Err()
	}
}

// CloseResource wraps an io.Closer as a shutdown hook
func CloseResource(closer interface{ Close() error }, name string) func(context.Context) error {
	return func(ctx context.Context) error {
		if err := closer.Close(); err != nil {
			return fmt.Errorf("failed to close %s: %w", name, err)
		}
		return nil
	}
}
