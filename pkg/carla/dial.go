package carla

import (
	"context"
	"fmt"
	"time"

	"github.com/RodrigoGonzalez/Hands-On-Intelligent-Agents-with-OpenAI-Gym/pkg/logging"
	"github.com/RodrigoGonzalez/Hands-On-Intelligent-Agents-with-OpenAI-Gym/pkg/retry"
)

const (
	// DefaultConnectAttempts is how many times Dial tries before giving up
	DefaultConnectAttempts = 5

	// DefaultConnectDelay is the fixed pause between attempts; the
	// simulator finishes booting within a small constant time budget.
	DefaultConnectDelay = 2 * time.Second
)

// Dialer builds the client for one connection attempt. Injectable so tests
// can count attempts without a simulator.
type Dialer func() Client

// NewTCPDialer returns a Dialer producing TCP clients for host:port
func NewTCPDialer(host string, port int, opts ...TCPClientOption) Dialer {
	return func() Client {
		return NewTCPClient(host, port, opts...)
	}
}

// Dial connects to a freshly spawned simulator, retrying with a fixed delay
// up to maxAttempts times. It returns the connected client on the first
// success. Exhaustion is an explicit terminal error wrapping the last
// connect error, never a silent nil.
func Dial(ctx context.Context, dialer Dialer, maxAttempts int, delay time.Duration, log *logging.Logger) (Client, error) {
	var client Client

	err := retry.Do(ctx, retry.FixedDelay(maxAttempts, delay), func() error {
		c := dialer()
		if err := c.Connect(ctx); err != nil {
			return err
		}
		client = c
		return nil
	}, func(attempt int, err error) {
		if log != nil {
			log.Warn("Error connecting to simulator", map[string]interface{}{
				"attempt": attempt,
				"error":   err.Error(),
			})
		}
	})
	if err != nil {
		return nil, fmt.Errorf("could not connect to simulator: %w", err)
	}
	return client, nil
}
