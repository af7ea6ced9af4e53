package client

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"simlink/discovery"
	"simlink/loadbalance"
	"simlink/message"
	"simlink/protocol"
	"simlink/simhost"
)

func startHost(t *testing.T, disc discovery.Discovery, name string) *simhost.Server {
	t.Helper()
	srv := simhost.New(simhost.Options{Logger: zaptest.NewLogger(t).Named("host"), Discovery: disc, HostName: name})
	_, err := srv.Start("127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	})
	return srv
}

// deadAddr returns a loopback address nothing listens on.
func deadAddr(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())
	return addr
}

func fastRetry() RetryPolicy {
	return RetryPolicy{Attempts: 3, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}
}

func TestRetryPolicy_Backoff(t *testing.T) {
	p := RetryPolicy{BaseDelay: 100 * time.Millisecond, MaxDelay: time.Second}
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 100 * time.Millisecond},
		{1, 200 * time.Millisecond},
		{2, 400 * time.Millisecond},
		{3, 800 * time.Millisecond},
		{4, time.Second},
		{40, time.Second},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, p.Backoff(tt.attempt), "attempt %d", tt.attempt)
	}
}

func TestRetryable(t *testing.T) {
	assert.True(t, Retryable(&protocol.ConnectionError{Endpoint: "x", Err: assert.AnError}))
	assert.True(t, Retryable(protocol.ErrTimeout))
	assert.False(t, Retryable(&protocol.ProtocolException{Code: protocol.ExceptionVersionMismatch}))
	assert.False(t, Retryable(assert.AnError))
}

func TestClient_Open(t *testing.T) {
	disc := discovery.NewStatic(nil)
	srv := startHost(t, disc, "rig")

	c := New(disc, loadbalance.New("round_robin"), Options{Logger: zaptest.NewLogger(t), Retry: fastRetry()})
	defer c.Close()

	s, err := c.Open(context.Background(), "rig", "client-test")
	require.NoError(t, err)
	assert.Equal(t, simhost.DefaultApplicationName, s.Info().ApplicationName)
	assert.Equal(t, 1, c.Sessions())
	require.Eventually(t, func() bool { return srv.Conns() == 1 }, time.Second, 5*time.Millisecond)
}

func TestClient_SkipsDeadInstance(t *testing.T) {
	disc := discovery.NewStatic(map[string][]discovery.HostInstance{
		"rig": {{Addr: deadAddr(t), Weight: 1}},
	})
	startHost(t, disc, "rig")

	c := New(disc, loadbalance.New("round_robin"), Options{Logger: zaptest.NewLogger(t), Retry: fastRetry()})
	defer c.Close()

	// Whichever instance round robin picks first, the live one is reached.
	for i := 0; i < 3; i++ {
		s, err := c.Open(context.Background(), "rig", "client-test")
		require.NoError(t, err)
		require.NoError(t, s.Close())
	}
}

func TestClient_AllInstancesDead(t *testing.T) {
	disc := discovery.NewStatic(map[string][]discovery.HostInstance{
		"rig": {{Addr: deadAddr(t)}, {Addr: deadAddr(t)}},
	})
	c := New(disc, nil, Options{Logger: zaptest.NewLogger(t), Retry: fastRetry()})

	_, err := c.Open(context.Background(), "rig", "client-test")
	var connErr *protocol.ConnectionError
	require.ErrorAs(t, err, &connErr)
	assert.Contains(t, err.Error(), "3 attempts failed")
}

func TestClient_UnknownHost(t *testing.T) {
	c := New(discovery.NewStatic(nil), nil, Options{Retry: fastRetry()})
	_, err := c.Open(context.Background(), "nowhere", "client-test")
	assert.ErrorIs(t, err, discovery.ErrNoHosts)
}

func TestClient_SkipsIncompatibleProtocol(t *testing.T) {
	disc := discovery.NewStatic(map[string][]discovery.HostInstance{
		"rig": {{Addr: deadAddr(t), ProtocolVersion: message.ProtocolVersion + 1}},
	})
	c := New(disc, nil, Options{Retry: fastRetry()})
	_, err := c.Open(context.Background(), "rig", "client-test")
	assert.ErrorIs(t, err, loadbalance.ErrNoInstances)
}

func TestClient_ContextCancelledDuringBackoff(t *testing.T) {
	disc := discovery.NewStatic(map[string][]discovery.HostInstance{
		"rig": {{Addr: deadAddr(t)}},
	})
	c := New(disc, nil, Options{Retry: RetryPolicy{Attempts: 5, BaseDelay: time.Second}})

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	start := time.Now()
	_, err := c.Open(ctx, "rig", "client-test")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), time.Second)
}

func TestClient_CloseEndsSessions(t *testing.T) {
	disc := discovery.NewStatic(nil)
	startHost(t, disc, "rig")
	c := New(disc, nil, Options{Logger: zaptest.NewLogger(t), Retry: fastRetry()})

	s1, err := c.Open(context.Background(), "rig", "a")
	require.NoError(t, err)
	s2, err := c.Open(context.Background(), "rig", "b")
	require.NoError(t, err)

	require.NoError(t, c.Close())
	for _, s := range []interface{ Done() <-chan struct{} }{s1, s2} {
		select {
		case <-s.Done():
		case <-time.After(time.Second):
			t.Fatal("session still open after client close")
		}
	}
	require.Eventually(t, func() bool { return c.Sessions() == 0 }, time.Second, 5*time.Millisecond)
}
