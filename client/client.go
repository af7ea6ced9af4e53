// Package client opens sessions to hosts found through discovery.
//
// Open resolves a host name to its registered instances, lets a balancer pick
// one, and dials it with exponential backoff when the connection fails.
package client

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"simlink/discovery"
	"simlink/loadbalance"
	"simlink/message"
	"simlink/protocol"
	"simlink/session"
)

// RetryPolicy is exponential backoff: attempt n (from 0) waits
// BaseDelay * 2^n, capped at MaxDelay, before the next try.
type RetryPolicy struct {
	Attempts  int
	BaseDelay time.Duration
	MaxDelay  time.Duration
}

// DefaultRetryPolicy tries three times.
var DefaultRetryPolicy = RetryPolicy{Attempts: 3, BaseDelay: 100 * time.Millisecond, MaxDelay: 2 * time.Second}

// Backoff is the wait after the failed attempt n.
func (p RetryPolicy) Backoff(n int) time.Duration {
	d := p.BaseDelay
	for i := 0; i < n && (p.MaxDelay <= 0 || d < p.MaxDelay); i++ {
		d *= 2
	}
	if p.MaxDelay > 0 && d > p.MaxDelay {
		d = p.MaxDelay
	}
	return d
}

// Retryable reports whether err is worth another attempt: the host could not
// be reached, or did not answer in time.
func Retryable(err error) bool {
	var connErr *protocol.ConnectionError
	return errors.As(err, &connErr) || errors.Is(err, protocol.ErrTimeout)
}

type Options struct {
	Session session.Options
	Retry   RetryPolicy
	Logger  *zap.Logger
}

type Client struct {
	discovery discovery.Discovery
	balancer  loadbalance.Balancer
	opts      Options
	logger    *zap.Logger

	mu       sync.Mutex
	sessions map[*session.Session]struct{}
}

// New creates a client. A nil balancer means round robin.
func New(disc discovery.Discovery, bal loadbalance.Balancer, opts Options) *Client {
	if bal == nil {
		bal = &loadbalance.RoundRobinBalancer{}
	}
	if opts.Retry.Attempts <= 0 {
		opts.Retry = DefaultRetryPolicy
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Session.Logger == nil {
		opts.Session.Logger = opts.Logger
	}
	return &Client{
		discovery: disc,
		balancer:  bal,
		opts:      opts,
		logger:    opts.Logger,
		sessions:  make(map[*session.Session]struct{}),
	}
}

// Open returns a handshaken session to one instance of hostName. Instances
// that failed earlier in this call are skipped while others remain.
func (c *Client) Open(ctx context.Context, hostName, appName string) (*session.Session, error) {
	opts := c.opts.Session
	if appName != "" {
		opts.AppName = appName
	}

	failed := make(map[string]bool)
	var lastErr error
	for attempt := 0; attempt < c.opts.Retry.Attempts; attempt++ {
		if attempt > 0 {
			wait := c.opts.Retry.Backoff(attempt - 1)
			c.logger.Info("retrying host",
				zap.String("host", hostName),
				zap.Int("attempt", attempt+1),
				zap.Duration("backoff", wait),
				zap.Error(lastErr),
			)
			select {
			case <-time.After(wait):
			case <-ctx.Done():
				return nil, fmt.Errorf("client: open %s: %w (last error: %v)", hostName, ctx.Err(), lastErr)
			}
		}

		instance, err := c.pick(ctx, hostName, opts.AppName, failed)
		if err != nil {
			// Discovery errors are not retried; nothing will change by waiting.
			return nil, err
		}

		s, err := session.Open(ctx, instance.Addr, opts)
		if err == nil {
			c.track(s)
			c.logger.Info("host selected",
				zap.String("host", hostName),
				zap.String("addr", instance.Addr),
				zap.String("balancer", c.balancer.Name()),
			)
			return s, nil
		}
		lastErr = err
		if !Retryable(err) {
			return nil, err
		}
		failed[instance.Addr] = true
	}
	return nil, fmt.Errorf("client: open %s: %d attempts failed: %w", hostName, c.opts.Retry.Attempts, lastErr)
}

// pick discovers hostName and lets the balancer choose among the instances
// that speak our protocol version and have not failed yet.
func (c *Client) pick(ctx context.Context, hostName, key string, failed map[string]bool) (*discovery.HostInstance, error) {
	instances, err := c.discovery.Discover(ctx, hostName)
	if err != nil {
		return nil, fmt.Errorf("client: discover %s: %w", hostName, err)
	}

	compatible := instances[:0:0]
	for _, inst := range instances {
		if inst.ProtocolVersion == 0 || inst.ProtocolVersion == message.ProtocolVersion {
			compatible = append(compatible, inst)
		}
	}
	if len(compatible) == 0 {
		return nil, fmt.Errorf("client: %s: no instance speaks protocol %d: %w", hostName, message.ProtocolVersion, loadbalance.ErrNoInstances)
	}

	candidates := compatible[:0:0]
	for _, inst := range compatible {
		if !failed[inst.Addr] {
			candidates = append(candidates, inst)
		}
	}
	if len(candidates) == 0 {
		candidates = compatible
	}
	return c.balancer.Pick(key, candidates)
}

func (c *Client) track(s *session.Session) {
	c.mu.Lock()
	c.sessions[s] = struct{}{}
	c.mu.Unlock()

	go func() {
		<-s.Done()
		c.mu.Lock()
		delete(c.sessions, s)
		c.mu.Unlock()
	}()
}

// Sessions returns the number of sessions opened by this client that are
// still open.
func (c *Client) Sessions() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sessions)
}

// Close closes every session this client opened.
func (c *Client) Close() error {
	c.mu.Lock()
	open := make([]*session.Session, 0, len(c.sessions))
	for s := range c.sessions {
		open = append(open, s)
	}
	c.mu.Unlock()

	var errs []error
	for _, s := range open {
		errs = append(errs, s.Close())
	}
	return errors.Join(errs...)
}
