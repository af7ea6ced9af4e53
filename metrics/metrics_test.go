package metrics

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"simlink/protocol"
)

func TestCollectorRecords(t *testing.T) {
	c, err := New(nil)
	require.NoError(t, err)

	c.RecordFrameSent(protocol.OpOpen)
	c.RecordFrameSent(protocol.OpOpen)
	c.RecordFrameReceived(protocol.OpRecvException)
	c.AddPending(1)
	c.AddPending(1)
	c.RecordFailure(fmt.Errorf("wait: %w", protocol.ErrTimeout))
	c.RecordException(protocol.ExceptionNameUnrecognized)
	c.AddSubscriptions(2)
	c.AddSubscriptions(-1)
	c.RecordRequest("data", 20*time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(c.FramesSent.WithLabelValues(protocol.OpOpen.String())))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.FramesReceived.WithLabelValues(protocol.OpRecvException.String())))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.PendingRequests))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.RequestFailures.WithLabelValues("timeout")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.Exceptions.WithLabelValues("NAME_UNRECOGNIZED")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.Subscriptions))
	assert.Equal(t, 1, testutil.CollectAndCount(c.RequestDuration))
}

func TestPendingSharedAcrossSessions(t *testing.T) {
	c, err := New(nil)
	require.NoError(t, err)

	// Two sessions with two and one requests in flight.
	c.AddPending(1)
	c.AddPending(1)
	c.AddPending(1)
	// The first session closes and drains its two.
	c.AddPending(-2)

	assert.Equal(t, 1.0, testutil.ToFloat64(c.PendingRequests), "the other session's request still counts")
}

func TestNilCollector(t *testing.T) {
	var c *Collector
	assert.NotPanics(t, func() {
		c.RecordFrameSent(protocol.OpOpen)
		c.RecordFrameReceived(protocol.OpRecvOpen)
		c.AddPending(1)
		c.RecordRequest("data", time.Second)
		c.RecordFailure(protocol.ErrTimeout)
		c.RecordException(protocol.ExceptionError)
		c.AddSubscriptions(1)
	})
}

func TestRegister(t *testing.T) {
	reg := prometheus.NewRegistry()
	_, err := New(reg)
	require.NoError(t, err)

	// A second set of the same collectors cannot register twice.
	_, err = New(reg)
	assert.Error(t, err)
}

func TestFailureReason(t *testing.T) {
	cases := []struct {
		err  error
		want string
	}{
		{protocol.ErrTimeout, "timeout"},
		{protocol.ErrConnectionClosed, "closed"},
		{protocol.ErrDuplicateIdentifier, "duplicate"},
		{protocol.ErrRateLimited, "rate_limited"},
		{protocol.ErrUnknownIdentifier, "unknown_id"},
		{&protocol.ConnectionError{Endpoint: "h:1", Err: errors.New("refused")}, "connection"},
		{errors.New("boom"), "other"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, FailureReason(tc.err), tc.err.Error())
	}
}
