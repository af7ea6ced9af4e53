package session

import (
	"context"
	"errors"
	"sync"

	"simlink/message"
)

// ErrCancelled is returned by Next after Cancel.
var ErrCancelled = errors.New("subscription cancelled")

// Subscription is an ordered stream of inbound payloads.
//
// The queue is unbounded: the dispatcher appends and never waits, so a slow
// reader cannot stall other callers or reorder its own payloads.
//
// Payload types by kind:
//
//	KindOpen             *message.RecvOpen
//	KindSimObjectData    *message.RecvSimObjectData (codec.Record for RequestData streams)
//	KindAssignedObjectID *message.RecvAssignedObjectID
//	KindException        *protocol.ProtocolException
//	KindEvent            *message.RecvEvent
//	KindQuit             *message.RecvQuit
type Subscription struct {
	kind      message.Kind
	requestID uint32

	mu    sync.Mutex
	queue []any
	err   error
	ready chan struct{}
	done  chan struct{} // closed once err is set

	cancelOnce sync.Once
	onCancel   func()
}

func newSubscription(kind message.Kind) *Subscription {
	return &Subscription{
		kind:  kind,
		ready: make(chan struct{}, 1),
		done:  make(chan struct{}),
	}
}

func (sub *Subscription) Kind() message.Kind {
	return sub.kind
}

// RequestID is the data request a RequestData stream answers; zero for kind
// subscriptions.
func (sub *Subscription) RequestID() uint32 {
	return sub.requestID
}

// Next returns the next payload, waiting until one arrives or ctx ends. After
// the session closes, queued payloads are still returned; then Next fails with
// protocol.ErrConnectionClosed.
func (sub *Subscription) Next(ctx context.Context) (any, error) {
	for {
		sub.mu.Lock()
		if len(sub.queue) > 0 {
			v := sub.queue[0]
			sub.queue[0] = nil
			sub.queue = sub.queue[1:]
			sub.mu.Unlock()
			return v, nil
		}
		err := sub.err
		sub.mu.Unlock()
		if err != nil {
			return nil, err
		}

		select {
		case <-sub.ready:
		case <-sub.done:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Cancel stops delivery and discards anything still queued. Safe to call
// more than once.
func (sub *Subscription) Cancel() {
	sub.cancelOnce.Do(func() {
		if sub.onCancel != nil {
			sub.onCancel()
		}
		sub.mu.Lock()
		sub.queue = nil
		sub.finishLocked(ErrCancelled)
		sub.mu.Unlock()
	})
}

// Done is closed once the subscription has ended, by Cancel or by session
// close. Queued payloads may still be readable.
func (sub *Subscription) Done() <-chan struct{} {
	return sub.done
}

// Pending returns the number of queued payloads.
func (sub *Subscription) Pending() int {
	sub.mu.Lock()
	defer sub.mu.Unlock()
	return len(sub.queue)
}

// push appends v unless the subscription has ended.
func (sub *Subscription) push(v any) bool {
	sub.mu.Lock()
	if sub.err != nil {
		sub.mu.Unlock()
		return false
	}
	sub.queue = append(sub.queue, v)
	sub.mu.Unlock()
	sub.signal()
	return true
}

// end marks the subscription finished; queued payloads stay readable.
func (sub *Subscription) end(err error) {
	sub.mu.Lock()
	sub.finishLocked(err)
	sub.mu.Unlock()
}

func (sub *Subscription) finishLocked(err error) {
	if sub.err == nil {
		sub.err = err
		close(sub.done)
	}
}

func (sub *Subscription) signal() {
	select {
	case sub.ready <- struct{}{}:
	default:
	}
}
